// Command hlsfalcon is a thin CLI over the engine package: it parses
// flags, submits one job, polls status to completion, and maps the
// outcome to a process exit code. It carries no orchestration logic of
// its own.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvarorichard/hlsfalcon/internal/engine"
	"github.com/alvarorichard/hlsfalcon/internal/m3u8"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

const (
	exitOK             = 0
	exitUsage          = 2
	exitDownloadFailed = 3
	exitCanceled       = 4
)

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	switch args[0] {
	case "download":
		return runDownload(args[1:])
	case "extract":
		return runExtract(args[1:])
	case "info":
		return runInfo(args[1:])
	default:
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `hlsfalcon - HLS acquisition engine

Usage:
  hlsfalcon download <url> [--name NAME] [--key HEX] [--iv HEX] [-v]
  hlsfalcon extract <url>
  hlsfalcon info`)
}

func runDownload(args []string) int {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	name := fs.String("name", "output", "output file base name, without extension")
	keyHex := fs.String("key", "", "override decryption key as hex")
	ivHex := fs.String("iv", "", "override IV as hex")
	verbose := fs.Bool("v", false, "verbose logging")
	outDir := fs.String("out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		printUsage()
		return exitUsage
	}
	source := fs.Arg(0)
	if err := validateSource(source); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	eng := engine.Configure(engine.Config{Verbose: *verbose})

	jobID, err := eng.Submit(engine.Request{
		Source:     source,
		OutputDir:  *outDir,
		OutputName: *name,
		KeyHex:     *keyHex,
		IVHex:      *ivHex,
		Verbose:    *verbose,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "hlsfalcon:", err)
		return exitDownloadFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return awaitCompletion(ctx, eng, jobID)
}

func awaitCompletion(ctx context.Context, eng *engine.Engine, jobID string) int {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = eng.Cancel(jobID)
			continue
		case <-ticker.C:
			state, ok := eng.Status(jobID)
			if !ok {
				fmt.Fprintln(os.Stderr, "hlsfalcon: job disappeared unexpectedly")
				return exitDownloadFailed
			}
			switch state {
			case engine.Succeeded:
				fmt.Println("done")
				return exitOK
			case engine.Failed:
				fmt.Fprintln(os.Stderr, "hlsfalcon: download failed")
				return exitDownloadFailed
			case engine.Cancelled:
				fmt.Fprintln(os.Stderr, "hlsfalcon: cancelled")
				return exitCanceled
			}
		}
	}
}

func runExtract(args []string) int {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		printUsage()
		return exitUsage
	}
	source := fs.Arg(0)
	if err := validateSource(source); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	eng := engine.Configure(engine.Default())
	result, err := eng.Parse(source, m3u8.Master)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hlsfalcon:", err)
		return exitDownloadFailed
	}
	master, ok := result.(*m3u8.MasterPlaylist)
	if !ok {
		fmt.Fprintln(os.Stderr, "hlsfalcon: not a master playlist")
		return exitDownloadFailed
	}
	for _, s := range master.Streams {
		fmt.Printf("%8d  %-12s %s\n", s.Bandwidth, s.Resolution, s.URI)
	}
	return exitOK
}

func runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		printUsage()
		return exitUsage
	}
	source := fs.Arg(0)
	if err := validateSource(source); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	eng := engine.Configure(engine.Default())
	result, err := eng.Parse(source, m3u8.Media)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hlsfalcon:", err)
		return exitDownloadFailed
	}
	playlist, ok := result.(*m3u8.MediaPlaylist)
	if !ok {
		fmt.Fprintln(os.Stderr, "hlsfalcon: not a media playlist")
		return exitDownloadFailed
	}
	fmt.Printf("segments: %d\n", len(playlist.Segments))
	fmt.Printf("target_duration: %d\n", playlist.TargetDuration)
	fmt.Printf("media_sequence: %d\n", playlist.MediaSequence)
	fmt.Printf("endlist: %t\n", playlist.EndList)
	return exitOK
}

func validateSource(source string) error {
	u, err := url.Parse(source)
	if err != nil {
		return fmt.Errorf("hlsfalcon: invalid source: %w", err)
	}
	if u.Scheme == "" {
		return nil // local file path
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("hlsfalcon: remote source must use http or https")
	}
	return nil
}
