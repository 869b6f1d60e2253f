// Package agentfactory builds the assistant runner chosen at server startup.
package agentfactory

import (
	"errors"
	"fmt"
	"time"

	"github.com/aioschat/server/agent"
)

var errUnknownAgent = errors.New("unknown agent type")

// Options override parts of a backend preset. Zero values keep the preset.
type Options struct {
	Command   string
	Args      []string
	Timeout   time.Duration
	KillGrace time.Duration
	Env       []string
	Observer  agent.Observer
}

// New returns a Runner for the given type. Returns error if type is not supported.
func New(t agent.AgentType, opts Options) (*agent.Runner, error) {
	if t == "" {
		t = agent.Default
	}
	preset, ok := agent.Presets[t]
	if !ok || !t.IsValid() {
		return nil, fmt.Errorf("%w: %q", errUnknownAgent, t)
	}

	r := &agent.Runner{
		Command:   preset.Command,
		Args:      append([]string(nil), preset.Args...),
		Timeout:   agent.DefaultTimeout,
		KillGrace: agent.DefaultKillGrace,
		Env:       opts.Env,
		Observer:  opts.Observer,
	}
	if opts.Command != "" {
		r.Command = opts.Command
	}
	if opts.Args != nil {
		r.Args = append([]string(nil), opts.Args...)
	}
	if opts.Timeout > 0 {
		r.Timeout = opts.Timeout
	}
	if opts.KillGrace > 0 {
		r.KillGrace = opts.KillGrace
	}
	return r, nil
}
