package engine

import "fmt"

// ErrorKind classifies orchestrator-level failures (OrchestratorError
// in spec §7).
type ErrorKind int

const (
	MaxConcurrentTasksReached ErrorKind = iota
	JobNotFound
	JobCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case MaxConcurrentTasksReached:
		return "MaxConcurrentTasksReached"
	case JobNotFound:
		return "JobNotFound"
	case JobCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the error type raised directly by the orchestrator's own
// surface (Submit, Cancel) — as opposed to ProcessingError, which
// wraps a failure from a downstream stage.
type Error struct {
	Kind ErrorKind
	JobID string
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("engine: %s (job %s)", e.Kind, e.JobID)
	}
	return fmt.Sprintf("engine: %s", e.Kind)
}

// ProcessingError wraps a failure raised by any pipeline stage
// (parser, network client, fetcher, decryptor, muxer, filesystem
// service) with the originating job id and a stable numeric code
// (spec §7). Cancellation is never wrapped this way; it transitions
// the job straight to Cancelled.
type ProcessingError struct {
	JobID   string
	Code    int
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("engine: job %s failed (code %d): %s: %v", e.JobID, e.Code, e.Message, e.Cause)
}

func (e *ProcessingError) Unwrap() error { return e.Cause }

// Numeric codes for ProcessingError.Code, stable across releases (spec
// §7: "every surfaced error carries a stable numeric code").
const (
	CodeParse     = 1000
	CodeNetwork   = 2000
	CodeCrypto    = 3000
	CodeFileSystem = 4000
	CodeMuxer     = 5000
	CodeUnknown   = 9000
)
