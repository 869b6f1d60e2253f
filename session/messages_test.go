package session

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/aioschat/server/agent"
)

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("", 4))
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 4))
	assert.Equal(t, []string{"abcd", "ef"}, splitChunks("abcdef", 4))

	// "é" is two bytes and must not be split across chunks.
	chunks := splitChunks("aaaé", 4)
	assert.Equal(t, []string{"aaa", "é"}, chunks)

	s := strings.Repeat("日本語", 1000)
	chunks = splitChunks(s, 100)
	assert.Equal(t, s, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, len(c), 100)
	}
}

func TestContextualPrompt(t *testing.T) {
	assert.Equal(t, "hi", contextualPrompt("", "hi"))
	assert.Equal(t,
		"[Context: you are working in the directory \"/srv/app\". Use the Read, Glob, Grep and Edit tools to inspect and modify files in this project.]\n\nhi",
		contextualPrompt("/srv/app", "hi"))
}

func TestTimeoutMessage(t *testing.T) {
	assert.Equal(t,
		"The operation exceeded the time limit (15 minutes). Try splitting the task into smaller parts.",
		timeoutMessage(15*time.Minute))
	assert.Contains(t, timeoutMessage(time.Second), "(1 second)")
	assert.Contains(t, timeoutMessage(1500*time.Millisecond), "(1.5s)")
}

func TestFailedMessage(t *testing.T) {
	assert.Equal(t, "no auth", failedMessage(agent.Failed{ExitCode: 1, Stderr: "no auth\n"}))
	assert.Equal(t, "The assistant exited with code 2.", failedMessage(agent.Failed{ExitCode: 2}))
	assert.Equal(t, "The assistant process was terminated.", failedMessage(agent.Failed{ExitCode: -1, Killed: true}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting_reply", StateAwaitingReply.String())
}
