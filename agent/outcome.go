package agent

import "time"

// Outcome is how an invocation ended. The set of implementations is closed:
// Completed, CompletedEmpty, Failed, TimedOut and Cancelled.
type Outcome interface {
	Kind() string
	outcome()
}

// Completed means the process produced non-empty stdout.
type Completed struct {
	Stdout   string
	ExitCode int
}

// CompletedEmpty means the process exited 0 without usable output.
type CompletedEmpty struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Failed means a non-zero exit (or a signal) with no usable stdout.
type Failed struct {
	ExitCode int
	Stderr   string
	// Killed is set when the process died from a signal rather than exiting.
	Killed bool
}

// TimedOut means the hard timeout fired and the process was terminated.
type TimedOut struct {
	Partial string
	After   time.Duration
}

// Cancelled means the invocation was terminated on request.
type Cancelled struct{}

func (Completed) Kind() string      { return "completed" }
func (CompletedEmpty) Kind() string { return "completed_empty" }
func (Failed) Kind() string         { return "failed" }
func (TimedOut) Kind() string       { return "timed_out" }
func (Cancelled) Kind() string      { return "cancelled" }

func (Completed) outcome()      {}
func (CompletedEmpty) outcome() {}
func (Failed) outcome()         {}
func (TimedOut) outcome()       {}
func (Cancelled) outcome()      {}
