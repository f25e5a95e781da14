// Package log provides the engine's process-wide logger. Grounded on
// the teacher's internal/util/logger.go: a single package-level
// *log.Logger, a colored prefix via lipgloss, level gated on a debug
// flag, reset whenever the engine is reconfigured.
package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	charmlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
)

var (
	mu     sync.Mutex
	logger *charmlog.Logger
)

func coloredPrefix() string {
	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#4F46E5")).
		Bold(true).
		Padding(0, 1).
		MarginRight(1)
	return style.Render("hlsfalcon")
}

// Init (re)initializes the package-level logger. Safe to call more
// than once: each call replaces the previous logger, matching the
// engine's "reconfigure resets singleton services" contract (spec §9).
func Init(verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportCaller:    verbose,
		ReportTimestamp: verbose,
		TimeFormat:      "15:04:05",
		Prefix:          coloredPrefix(),
	})
	if verbose {
		logger.SetLevel(charmlog.DebugLevel)
	} else {
		logger.SetLevel(charmlog.InfoLevel)
	}
	logger.SetColorProfile(termenv.TrueColor)
}

func get() *charmlog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		Init(false)
	}
	return logger
}

func Debug(msg interface{}, keyvals ...interface{}) { get().Debug(fmt.Sprintf("%v", msg), keyvals...) }
func Info(msg interface{}, keyvals ...interface{})  { get().Info(fmt.Sprintf("%v", msg), keyvals...) }
func Warn(msg interface{}, keyvals ...interface{})  { get().Warn(fmt.Sprintf("%v", msg), keyvals...) }
func Error(msg interface{}, keyvals ...interface{}) { get().Error(fmt.Sprintf("%v", msg), keyvals...) }

func Debugf(format string, args ...interface{}) { get().Debug(fmt.Sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { get().Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { get().Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { get().Error(fmt.Sprintf(format, args...)) }

// Stage logs a per-job trace line only when verbose is true, mirroring
// the teacher's IsDebug-gated Debug/Debugf call sites — except the gate
// here is a single job's own flag rather than one process-wide switch,
// so one verbose job can trace its pipeline without raising the log
// level for every other job sharing this logger.
func Stage(verbose bool, format string, args ...interface{}) {
	if !verbose {
		return
	}
	get().Info(fmt.Sprintf(format, args...))
}
