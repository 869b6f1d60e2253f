package agentfactory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aioschat/server/agent"
)

func TestNew_claude_returns_preset(t *testing.T) {
	r, err := New(agent.TypeClaude, Options{})
	require.NoError(t, err)

	assert.Equal(t, "claude", r.Command)
	assert.Contains(t, r.Args, "--dangerously-skip-permissions")
	assert.Equal(t, agent.DefaultTimeout, r.Timeout)
	assert.Equal(t, agent.DefaultKillGrace, r.KillGrace)
}

func TestNew_cursor_agent_returns_preset(t *testing.T) {
	r, err := New(agent.TypeCursorAgent, Options{})
	require.NoError(t, err)

	assert.Equal(t, "cursor-agent", r.Command)
}

func TestNew_empty_type_uses_default(t *testing.T) {
	r, err := New("", Options{})
	require.NoError(t, err)

	assert.Equal(t, agent.Presets[agent.Default].Command, r.Command)
}

func TestNew_overrides(t *testing.T) {
	r, err := New(agent.TypeClaude, Options{
		Command:   "/usr/local/bin/claude",
		Args:      []string{"-p"},
		Timeout:   time.Minute,
		KillGrace: time.Second,
		Env:       []string{"A=1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/claude", r.Command)
	assert.Equal(t, []string{"-p"}, r.Args)
	assert.Equal(t, time.Minute, r.Timeout)
	assert.Equal(t, time.Second, r.KillGrace)
	assert.Equal(t, []string{"A=1"}, r.Env)
}

func TestNew_unknown_returns_error(t *testing.T) {
	r, err := New("invalid", Options{})

	assert.ErrorIs(t, err, errUnknownAgent)
	assert.Nil(t, r)
}
