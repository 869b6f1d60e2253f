// Package agent runs one external assistant invocation per turn and classifies
// how it ended.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultTimeout   = 15 * time.Minute
	DefaultKillGrace = 5 * time.Second
)

// Request is the input of one invocation.
type Request struct {
	Prompt  string
	WorkDir string
}

// Observer receives one call per finished invocation. metrics.Metrics implements it.
type Observer interface {
	ObserveInvocation(outcome string, elapsed time.Duration)
}

// Runner spawns the assistant CLI. A Runner is stateless and safe for concurrent
// use; each Start supervises exactly one subprocess.
type Runner struct {
	Command   string
	Args      []string
	Timeout   time.Duration
	KillGrace time.Duration
	// Env is appended to the server's environment.
	Env      []string
	Observer Observer
}

// New returns a Runner for the default backend.
func New() *Runner {
	preset := Presets[Default]
	return &Runner{
		Command:   preset.Command,
		Args:      append([]string(nil), preset.Args...),
		Timeout:   DefaultTimeout,
		KillGrace: DefaultKillGrace,
	}
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

func (r *Runner) killGrace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

// Start launches the process and returns immediately. The prompt is delivered on
// stdin; stdout and stderr are captured in full and surfaced by Wait.
//
// Cancelling ctx has the same effect as Invocation.Terminate.
func (r *Runner) Start(ctx context.Context, req Request) (*Invocation, error) {
	if r.Command == "" {
		return nil, errors.New("agent command not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	timeout := r.timeout()
	timeoutCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)

	cmd := exec.CommandContext(timeoutCtx, r.Command, r.Args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = colorlessEnv(os.Environ(), r.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// SIGTERM first; exec force-kills once WaitDelay has passed.
	configureTermination(cmd)
	cmd.WaitDelay = r.killGrace()

	if err := cmd.Start(); err != nil {
		cancelTimeout()
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", r.Command, err)
	}

	inv := &Invocation{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
		pid:     cmd.Process.Pid,
	}

	go func() {
		defer close(inv.done)
		defer cancel()
		defer cancelTimeout()

		waitErr := cmd.Wait()
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}

		inv.outcome = classify(result{
			cancelled: runCtx.Err() != nil,
			timedOut:  errors.Is(timeoutCtx.Err(), context.DeadlineExceeded),
			timeout:   timeout,
			waitErr:   waitErr,
			exitCode:  exitCode,
			stdout:    stdout.String(),
			stderr:    stderr.String(),
		})
		if r.Observer != nil {
			r.Observer.ObserveInvocation(inv.outcome.Kind(), time.Since(inv.started))
		}
	}()

	return inv, nil
}

type result struct {
	cancelled bool
	timedOut  bool
	timeout   time.Duration
	waitErr   error
	exitCode  int
	stdout    string
	stderr    string
}

func classify(res result) Outcome {
	switch {
	case res.cancelled:
		return Cancelled{}
	case res.timedOut:
		return TimedOut{Partial: res.stdout, After: res.timeout}
	case strings.TrimSpace(res.stdout) != "":
		// Non-empty output wins even over a non-zero exit.
		return Completed{Stdout: res.stdout, ExitCode: res.exitCode}
	case res.waitErr == nil:
		return CompletedEmpty{Stdout: res.stdout, Stderr: res.stderr, ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(res.waitErr, &exitErr) {
		return Failed{ExitCode: res.exitCode, Stderr: res.stderr, Killed: res.exitCode == -1}
	}

	stderr := res.stderr
	if stderr == "" {
		stderr = res.waitErr.Error()
	}
	return Failed{ExitCode: res.exitCode, Stderr: stderr}
}

// colorlessEnv keeps ANSI escapes out of captured output.
func colorlessEnv(base, extra []string) []string {
	env := make([]string, 0, len(base)+len(extra)+2)
	for _, list := range [][]string{base, extra} {
		for _, kv := range list {
			key, _, _ := strings.Cut(kv, "=")
			if key == "FORCE_COLOR" || key == "NO_COLOR" {
				continue
			}
			env = append(env, kv)
		}
	}
	return append(env, "FORCE_COLOR=0", "NO_COLOR=1")
}
