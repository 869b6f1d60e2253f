package session

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aioschat/server/agent"
	"github.com/aioschat/server/conversation"
	"github.com/aioschat/server/rpc"
)

var ctx = context.Background()

type recorder struct {
	mu     sync.Mutex
	events []rpc.Event
}

func (r *recorder) Emit(_ context.Context, event rpc.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) snapshot() []rpc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]rpc.Event(nil), r.events...)
}

func (r *recorder) methods() []string {
	var methods []string
	for _, ev := range r.snapshot() {
		methods = append(methods, ev.Method())
	}
	return methods
}

// waitFor blocks until an event with the given method has been emitted and
// returns the last one.
func (r *recorder) waitFor(t *testing.T, method string) rpc.Event {
	t.Helper()
	var found rpc.Event
	require.Eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if ev.Method() == method {
				found = ev
			}
		}
		return found != nil
	}, 10*time.Second, 10*time.Millisecond, "no %s event, got %v", method, r.methods())
	return found
}

type harness struct {
	store      *conversation.FileStore
	runner     *agent.Runner
	events     *recorder
	controller *Controller
}

func newHarness(t *testing.T, script string) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts stand in for the assistant CLI")
	}
	store, err := conversation.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &agent.Runner{
		Command:   "/bin/sh",
		Args:      []string{"-c", script},
		Timeout:   10 * time.Second,
		KillGrace: 300 * time.Millisecond,
	}
	events := &recorder{}
	c := NewController("conn-1", Config{
		Store:          store,
		Runner:         runner,
		DefaultWorkDir: t.TempDir(),
	}, events)
	t.Cleanup(c.Teardown)

	return &harness{store: store, runner: runner, events: events, controller: c}
}

func (h *harness) messages(t *testing.T, id string) []conversation.Message {
	t.Helper()
	conv, found, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return conv.Messages
}

func roles(msgs []conversation.Message) []conversation.Role {
	var out []conversation.Role
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestController_StartConversation(t *testing.T) {
	h := newHarness(t, "cat")

	err := h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, []rpc.Event{rpc.NewConversationStarted("c1")}, h.events.snapshot())
	assert.Equal(t, "c1", h.controller.ConversationID())
	_, found, err := h.store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestController_StartConversationIsIdempotent(t *testing.T) {
	h := newHarness(t, "cat")
	require.NoError(t, h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c1"}))
	_, err := h.store.Append(ctx, "c1", conversation.NewMessage{Role: conversation.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c1"}))

	assert.Len(t, h.messages(t, "c1"), 1)
}

func TestController_StartConversationFailureEmitsError(t *testing.T) {
	h := newHarness(t, "cat")

	err := h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "../escape"})

	assert.Error(t, err)
	assert.Equal(t, []string{rpc.MethodError}, h.events.methods())
}

func TestController_CompletedTurn(t *testing.T) {
	h := newHarness(t, "cat")
	require.NoError(t, h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c1"}))

	err := h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "Fix the bug", ConversationID: "c1"})
	require.NoError(t, err)

	complete := h.events.waitFor(t, rpc.MethodResponseComplete)
	assert.Equal(t, rpc.NewResponseComplete("c1", 0, "Fix the bug"), complete)
	assert.Equal(t, []rpc.Event{
		rpc.NewConversationStarted("c1"),
		rpc.NewMessageReceived(conversation.RoleUser, "Fix the bug"),
		rpc.NewResponseStart("c1"),
		rpc.NewResponseChunk("c1", "Fix the bug"),
		rpc.NewMessageReceived(conversation.RoleAssistant, "Fix the bug"),
		rpc.NewResponseComplete("c1", 0, "Fix the bug"),
	}, h.events.snapshot())

	msgs := h.messages(t, "c1")
	assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleAssistant}, roles(msgs))
	assert.Equal(t, "Fix the bug", msgs[1].Content)

	conv, _, err := h.store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Fix the bug", conv.Title)
	assert.Eventually(t, func() bool { return h.controller.State() == StateIdle }, time.Second, 10*time.Millisecond)
}

func TestController_LazyStart(t *testing.T) {
	h := newHarness(t, "cat")

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "hello"}))
	h.events.waitFor(t, rpc.MethodResponseComplete)

	id := h.controller.ConversationID()
	require.NotEmpty(t, id)
	assert.Equal(t, rpc.NewConversationStarted(id), h.events.snapshot()[0])
	assert.Len(t, h.messages(t, id), 2)
}

func TestController_SendMessageCreatesNamedConversation(t *testing.T) {
	h := newHarness(t, "cat")

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "hello", ConversationID: "named"}))
	h.events.waitFor(t, rpc.MethodResponseComplete)

	assert.Equal(t, "named", h.controller.ConversationID())
	assert.Len(t, h.messages(t, "named"), 2)
}

func TestController_RecreatesDeletedConversation(t *testing.T) {
	h := newHarness(t, "cat")
	require.NoError(t, h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c1"}))
	removed, err := h.store.Delete(ctx, "c1")
	require.NoError(t, err)
	require.True(t, removed)

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "hi", ConversationID: "c1"}))

	complete := h.events.waitFor(t, rpc.MethodResponseComplete)
	assert.Equal(t, rpc.NewResponseComplete("c1", 0, "hi"), complete)
	assert.NotContains(t, h.events.methods(), rpc.MethodResponseError)
	assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleAssistant}, roles(h.messages(t, "c1")))
}

func TestController_RelativeWorkingDirectoryRejected(t *testing.T) {
	h := newHarness(t, "cat")

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{
		Message:          "hello",
		ConversationID:   "c1",
		WorkingDirectory: ".",
	}))

	errEvent := h.events.waitFor(t, rpc.MethodResponseError).(rpc.ResponseError)
	assert.Contains(t, errEvent.Error, "Directory not found")
	assert.NotContains(t, h.events.methods(), rpc.MethodResponseStart)
	assert.Equal(t, StateIdle, h.controller.State())
}

func TestController_DirectoryNotFound(t *testing.T) {
	h := newHarness(t, "cat")

	err := h.controller.SendMessage(ctx, rpc.SendMessageParams{
		Message:          "hello",
		ConversationID:   "c1",
		WorkingDirectory: "/definitely/not/here",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		rpc.MethodConversationStarted,
		rpc.MethodMessageReceived,
		rpc.MethodResponseError,
	}, h.events.methods())
	errEvent := h.events.snapshot()[2].(rpc.ResponseError)
	assert.Contains(t, errEvent.Error, "Directory not found")
	assert.Contains(t, errEvent.Error, "/definitely/not/here")
	assert.Equal(t, StateIdle, h.controller.State())
	assert.Equal(t, []conversation.Role{conversation.RoleUser}, roles(h.messages(t, "c1")))
}

func TestController_WorkingDirectoryContext(t *testing.T) {
	h := newHarness(t, "pwd -P; cat")
	dir := t.TempDir()

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{
		Message:          "list files",
		ConversationID:   "c1",
		WorkingDirectory: dir,
	}))

	complete := h.events.waitFor(t, rpc.MethodResponseComplete).(rpc.ResponseComplete)
	assert.Contains(t, complete.Response, "[Context: you are working in the directory")
	assert.Contains(t, complete.Response, dir)
	assert.True(t, strings.HasSuffix(complete.Response, "\n\nlist files"))
}

func TestController_Timeout(t *testing.T) {
	h := newHarness(t, "exec sleep 30")
	h.runner.Timeout = 200 * time.Millisecond
	h.controller.timeout = 200 * time.Millisecond

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "slow", ConversationID: "c1"}))

	errEvent := h.events.waitFor(t, rpc.MethodResponseError).(rpc.ResponseError)
	assert.Contains(t, errEvent.Error, "time limit")
	assert.NotContains(t, h.events.methods(), rpc.MethodResponseComplete)
	assert.Equal(t, []conversation.Role{conversation.RoleUser}, roles(h.messages(t, "c1")))
}

func TestController_TimeoutWithPartialOutputCompletes(t *testing.T) {
	h := newHarness(t, "echo partial answer; exec sleep 30")
	h.runner.Timeout = 300 * time.Millisecond

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "slow", ConversationID: "c1"}))

	complete := h.events.waitFor(t, rpc.MethodResponseComplete).(rpc.ResponseComplete)
	assert.Equal(t, "partial answer", complete.Response)
	assert.NotContains(t, h.events.methods(), rpc.MethodResponseError)
	assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleAssistant}, roles(h.messages(t, "c1")))
}

func TestController_CancelMidFlight(t *testing.T) {
	h := newHarness(t, "exec sleep 30")

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "work", ConversationID: "c1"}))
	assert.Equal(t, StateAwaitingReply, h.controller.State())

	h.controller.Cancel()

	assert.Equal(t, StateIdle, h.controller.State())
	assert.Equal(t, []string{
		rpc.MethodConversationStarted,
		rpc.MethodMessageReceived,
		rpc.MethodResponseStart,
		rpc.MethodRequestCancelled,
	}, h.events.methods())
	assert.Equal(t, []conversation.Role{conversation.RoleUser}, roles(h.messages(t, "c1")))
}

func TestController_CancelIdleIsNoop(t *testing.T) {
	h := newHarness(t, "cat")

	h.controller.Cancel()

	assert.Empty(t, h.events.snapshot())
	assert.Equal(t, StateIdle, h.controller.State())
}

func TestController_NewTurnTerminatesPrevious(t *testing.T) {
	h := newHarness(t, `read line; case "$line" in slow*) exec sleep 30;; *) echo "$line";; esac`)

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "slow", ConversationID: "c1"}))
	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "fast", ConversationID: "c1"}))

	complete := h.events.waitFor(t, rpc.MethodResponseComplete).(rpc.ResponseComplete)
	assert.Equal(t, "fast", complete.Response)

	methods := h.events.methods()
	cancelled := indexOf(methods, rpc.MethodRequestCancelled)
	require.NotEqual(t, -1, cancelled)
	assert.Less(t, cancelled, lastIndexOf(methods, rpc.MethodResponseStart), "previous turn must end before the next one starts")

	msgs := h.messages(t, "c1")
	assert.Equal(t, []conversation.Role{conversation.RoleUser, conversation.RoleUser, conversation.RoleAssistant}, roles(msgs))
	assert.Equal(t, "fast", msgs[2].Content)
}

func TestController_Failed(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"stderr is reported", "echo boom >&2; exit 3", "boom"},
		{"exit code without stderr", "exit 4", "exited with code 4"},
		{"empty output", "true", "without producing a response"},
		{"killed", "kill -9 $$", "terminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.script)

			require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "go", ConversationID: "c1"}))

			errEvent := h.events.waitFor(t, rpc.MethodResponseError).(rpc.ResponseError)
			assert.Contains(t, errEvent.Error, tt.want)
			assert.Equal(t, "c1", errEvent.ConversationID)
			assert.Equal(t, []conversation.Role{conversation.RoleUser}, roles(h.messages(t, "c1")))
		})
	}
}

func TestController_StartFailure(t *testing.T) {
	h := newHarness(t, "cat")
	h.runner.Command = "definitely-not-an-assistant-binary"

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "go", ConversationID: "c1"}))

	assert.Equal(t, rpc.MethodResponseError, h.events.methods()[len(h.events.methods())-1])
	assert.Equal(t, StateIdle, h.controller.State())
}

func TestController_Teardown(t *testing.T) {
	h := newHarness(t, "exec sleep 30")
	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "work", ConversationID: "c1"}))

	start := time.Now()
	h.controller.Teardown()
	h.controller.Teardown()

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, StateIdle, h.controller.State())
	assert.ErrorIs(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "again"}), ErrClosed)
	assert.ErrorIs(t, h.controller.StartConversation(ctx, rpc.StartConversationParams{ConversationID: "c2"}), ErrClosed)
	assert.Equal(t, []conversation.Role{conversation.RoleUser}, roles(h.messages(t, "c1")))
}

func TestController_LargeReplyIsChunked(t *testing.T) {
	h := newHarness(t, "head -c 40000 /dev/zero | tr '\\0' 'a'")

	require.NoError(t, h.controller.SendMessage(ctx, rpc.SendMessageParams{Message: "big", ConversationID: "c1"}))
	complete := h.events.waitFor(t, rpc.MethodResponseComplete).(rpc.ResponseComplete)

	var joined strings.Builder
	chunks := 0
	for _, ev := range h.events.snapshot() {
		if chunk, ok := ev.(rpc.ResponseChunk); ok {
			chunks++
			joined.WriteString(chunk.Chunk)
		}
	}
	assert.Equal(t, 3, chunks)
	assert.Equal(t, complete.Response, joined.String())
	assert.Len(t, complete.Response, 40000)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

func lastIndexOf(list []string, s string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == s {
			return i
		}
	}
	return -1
}
