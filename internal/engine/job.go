package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is a job's position in the state machine described in spec
// §4.7: Queued -> Running -> (Succeeded | Failed | Cancelled).
// Terminal states are sticky.
type State int

const (
	Queued State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Request is the caller-supplied description of work to submit.
type Request struct {
	Source       string // remote URL (http/https) or local file path
	OutputDir    string
	OutputName   string // optional; defaults to "output"
	KeyHex       string // optional override, supersedes playlist + engine default
	IVHex        string // optional override
	Headers      map[string]string
	Verbose      bool
}

// Job is one submission's full lifecycle record (spec §3). It is
// created by Submit and run by the worker goroutine bound to it; Cancel
// may also move it to Cancelled. State and error are guarded by the
// job's own mutex, which Status reads through snapshot.
type Job struct {
	ID        string
	Request   Request
	TempDir   string

	mu       sync.Mutex
	state    State
	err      error
	canceled int32 // atomic cancellation flag, polled at every suspension point (spec §5)
	cancelFn context.CancelFunc
}

func newJob(req Request) *Job {
	return &Job{
		ID:      uuid.New().String(),
		Request: req,
		state:   Queued,
	}
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return // terminal states are sticky
	}
	j.state = s
}

func (j *Job) setFailed(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = Failed
	j.err = err
}

func (j *Job) snapshot() (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.err
}

// requestCancel sets the cooperative cancellation flag, cancels the
// job's in-flight context (if the worker has started one) so
// suspended network requests and downloads unblock at their next
// suspension point, and — if the job has not yet reached a terminal
// state — marks it Cancelled immediately so a concurrent Status call
// observes the transition without waiting for the worker to notice
// (spec §3 "state transitions are totally ordered and visible to
// status callers after the transition commits"). Actual teardown
// (temp directory removal) still happens asynchronously in the
// worker.
func (j *Job) requestCancel() {
	atomic.StoreInt32(&j.canceled, 1)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelFn != nil {
		j.cancelFn()
	}
	if !j.state.Terminal() {
		j.state = Cancelled
	}
}

func (j *Job) setCancelFn(fn context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelFn = fn
}

func (j *Job) isCanceled() bool {
	return atomic.LoadInt32(&j.canceled) != 0
}
