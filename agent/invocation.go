package agent

import (
	"context"
	"time"
)

// Invocation owns one running subprocess. The process is released on every path:
// normal exit, timeout, Terminate, or cancellation of the context given to Start.
type Invocation struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
	started time.Time
	pid     int
}

// Wait blocks until the process has exited and returns its outcome.
func (i *Invocation) Wait() Outcome {
	<-i.done
	return i.outcome
}

// Done is closed once the outcome is available.
func (i *Invocation) Done() <-chan struct{} {
	return i.done
}

// Terminate stops the process and waits for it to be reaped. It is safe to call
// more than once, on a finished invocation, or on nil, and blocks at most for the
// runner's kill grace.
func (i *Invocation) Terminate() {
	if i == nil {
		return
	}
	i.cancel()
	<-i.done
}

// PID returns the process id.
func (i *Invocation) PID() int {
	return i.pid
}

// Elapsed returns the time since the process was started.
func (i *Invocation) Elapsed() time.Duration {
	return time.Since(i.started)
}
