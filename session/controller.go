// Package session coordinates one client connection's turns with the assistant
// and tracks every live connection in a Registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aioschat/server/agent"
	"github.com/aioschat/server/conversation"
	"github.com/aioschat/server/logger"
	"github.com/aioschat/server/rpc"
)

// ErrClosed is returned by operations on a controller after Teardown.
var ErrClosed = errors.New("session closed")

// Emitter delivers server events to the connection that owns a controller.
type Emitter interface {
	Emit(ctx context.Context, event rpc.Event) error
}

// Runner starts one assistant invocation. *agent.Runner implements it.
type Runner interface {
	Start(ctx context.Context, req agent.Request) (*agent.Invocation, error)
}

// State is the turn state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReply:
		return "awaiting_reply"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the collaborators shared by every controller.
type Config struct {
	Store  conversation.Store
	Runner Runner
	// DefaultWorkDir is used when neither the request nor the bound
	// conversation names a working directory.
	DefaultWorkDir string
	// Timeout is only used to describe timeouts to the user; the runner enforces it.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Controller is the per-connection state machine: Idle → AwaitingReply → Idle.
// Client events must be delivered one at a time; each turn's invocation runs in
// its own goroutine so cancel-request can be handled while a reply is pending.
type Controller struct {
	id      string
	store   conversation.Store
	runner  Runner
	emitter Emitter
	workDir string
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	conversationID string
	convWorkDir    string
	active         *turn
	closed         bool

	turns        sync.WaitGroup
	teardownOnce sync.Once
}

// turn is one in-flight invocation. done is closed after its terminal event.
type turn struct {
	conversationID string
	inv            *agent.Invocation
	done           chan struct{}
}

// NewController creates a controller for the connection identified by id.
func NewController(id string, cfg Config, emitter Emitter) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = agent.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		id:      id,
		store:   cfg.Store,
		runner:  cfg.Runner,
		emitter: emitter,
		workDir: cfg.DefaultWorkDir,
		timeout: timeout,
		log:     log.With("connId", id),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the connection id.
func (c *Controller) ID() string {
	return c.id
}

// ConversationID returns the bound conversation id, or "" before the first start.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// State reports whether a reply is pending.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return StateAwaitingReply
	}
	return StateIdle
}

// Emit sends an event to this controller's connection. Delivery failures are
// logged; the connection layer notices a dead peer on its own.
func (c *Controller) Emit(ctx context.Context, event rpc.Event) error {
	if err := c.emitter.Emit(ctx, event); err != nil {
		c.log.Debug("emit failed", "method", event.Method(), "error", err)
		return err
	}
	return nil
}

// StartConversation binds the session to a conversation, creating it if needed.
func (c *Controller) StartConversation(ctx context.Context, params rpc.StartConversationParams) error {
	if c.isClosed() {
		return ErrClosed
	}
	if params.ConversationID == "" {
		err := errors.New("conversationId is required")
		c.Emit(ctx, rpc.NewError(err.Error()))
		return err
	}

	conv, err := c.store.Create(ctx, params.ConversationID, params.WorkingDirectory)
	if err != nil {
		c.log.Error("failed to start conversation", "conversationId", params.ConversationID, "error", err)
		c.Emit(ctx, rpc.NewError(err.Error()))
		return err
	}

	c.bind(conv.ID, conv.WorkingDirectory)
	c.log.Info("conversation started", "conversationId", conv.ID)
	c.Emit(ctx, rpc.NewConversationStarted(conv.ID))
	return nil
}

// SendMessage records the user's message and starts the assistant turn. It
// returns once the invocation has been launched (or the turn has already
// failed); the reply is delivered asynchronously through the emitter.
func (c *Controller) SendMessage(ctx context.Context, params rpc.SendMessageParams) error {
	if c.isClosed() {
		return ErrClosed
	}

	conversationID, err := c.ensureConversation(ctx, params)
	if err != nil {
		c.log.Error("failed to prepare conversation", "error", err)
		c.Emit(ctx, rpc.NewResponseError(conversationID, err.Error()))
		return err
	}
	log := c.log.With("conversationId", conversationID)

	if _, err := c.store.Append(ctx, conversationID, conversation.NewMessage{
		Role:    conversation.RoleUser,
		Content: params.Message,
	}); err != nil {
		log.Error("failed to record user message", "error", err)
		c.Emit(ctx, rpc.NewResponseError(conversationID, err.Error()))
		return err
	}
	c.Emit(ctx, rpc.NewMessageReceived(conversation.RoleUser, params.Message))

	c.stopActive()

	workDir, explicit := c.resolveWorkDir(params.WorkingDirectory)
	if explicit && !dirExists(workDir) {
		log.Warn("working directory not found", "dir", workDir)
		c.Emit(ctx, rpc.NewResponseError(conversationID, directoryNotFound(workDir)))
		return nil
	}

	log.Info("running assistant", "dir", workDir, "message", logger.Truncate(params.Message, 100))
	c.Emit(ctx, rpc.NewResponseStart(conversationID))

	inv, err := c.runner.Start(c.ctx, agent.Request{
		Prompt:  contextualPrompt(params.WorkingDirectory, params.Message),
		WorkDir: workDir,
	})
	if err != nil {
		log.Error("failed to start assistant", "error", err)
		c.Emit(ctx, rpc.NewResponseError(conversationID, err.Error()))
		return nil
	}

	t := &turn{conversationID: conversationID, inv: inv, done: make(chan struct{})}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		inv.Terminate()
		return ErrClosed
	}
	c.active = t
	c.turns.Add(1)
	c.mu.Unlock()

	go c.finishTurn(t, log)
	return nil
}

// Cancel terminates the pending invocation. The turn then reports
// request-cancelled. Cancelling an idle session does nothing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return
	}
	c.log.Info("cancelling request", "conversationId", t.conversationID)
	t.inv.Terminate()
	<-t.done
}

// Teardown terminates any pending invocation and makes the controller unusable.
// Only the first call has an effect.
func (c *Controller) Teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		t := c.active
		c.mu.Unlock()

		if t != nil {
			t.inv.Terminate()
		}
		c.turns.Wait()
		c.cancel()
		c.log.Debug("session torn down")
	})
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) bind(conversationID, workDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = conversationID
	c.convWorkDir = workDir
}

// ensureConversation resolves the conversation for a message, starting one
// lazily when the session has none bound yet. Create runs on every message so
// a conversation deleted behind the session's back is recreated.
func (c *Controller) ensureConversation(ctx context.Context, params rpc.SendMessageParams) (string, error) {
	c.mu.Lock()
	bound := c.conversationID
	c.mu.Unlock()

	id := params.ConversationID
	if id == "" {
		id = bound
	}
	lazy := id == ""
	if lazy {
		id = uuid.Must(uuid.NewV7()).String()
	}

	conv, err := c.store.Create(ctx, id, params.WorkingDirectory)
	if err != nil {
		return id, err
	}
	if conv.ID == bound {
		return conv.ID, nil
	}
	c.bind(conv.ID, conv.WorkingDirectory)
	c.log.Info("conversation started on the fly", "conversationId", conv.ID, "generated", lazy)
	c.Emit(ctx, rpc.NewConversationStarted(conv.ID))
	return conv.ID, nil
}

// resolveWorkDir picks the request's directory, then the conversation's, then
// the server default. explicit is false only for the default.
func (c *Controller) resolveWorkDir(requested string) (dir string, explicit bool) {
	if requested != "" {
		return requested, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.convWorkDir != "" {
		return c.convWorkDir, true
	}
	return c.workDir, false
}

// stopActive terminates the previous turn's invocation and waits until that
// turn has emitted its terminal event.
func (c *Controller) stopActive() {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return
	}
	c.log.Info("terminating previous invocation", "conversationId", t.conversationID)
	t.inv.Terminate()
	<-t.done
}

func (c *Controller) finishTurn(t *turn, log *slog.Logger) {
	defer c.turns.Done()
	defer close(t.done)

	outcome := t.inv.Wait()

	// Leave AwaitingReply before the terminal event goes out.
	c.mu.Lock()
	if c.active == t {
		c.active = nil
	}
	c.mu.Unlock()

	log = log.With("outcome", outcome.Kind(), "elapsed", t.inv.Elapsed())

	switch o := outcome.(type) {
	case agent.Completed:
		c.complete(t.conversationID, o.Stdout, log)
	case agent.TimedOut:
		if strings.TrimSpace(o.Partial) != "" {
			log.Warn("assistant timed out with partial output")
			c.complete(t.conversationID, o.Partial, log)
			return
		}
		log.Warn("assistant timed out")
		c.Emit(c.ctx, rpc.NewResponseError(t.conversationID, timeoutMessage(o.After)))
	case agent.CompletedEmpty:
		log.Warn("assistant produced no output", "stderr", logger.Truncate(o.Stderr, 500))
		c.Emit(c.ctx, rpc.NewResponseError(t.conversationID, emptyMessage(o)))
	case agent.Failed:
		log.Warn("assistant failed", "exitCode", o.ExitCode, "killed", o.Killed, "stderr", logger.Truncate(o.Stderr, 500))
		c.Emit(c.ctx, rpc.NewResponseError(t.conversationID, failedMessage(o)))
	case agent.Cancelled:
		log.Info("request cancelled")
		c.Emit(c.ctx, rpc.RequestCancelled{})
	default:
		log.Error("unknown outcome")
		c.Emit(c.ctx, rpc.NewResponseError(t.conversationID, "unknown assistant outcome"))
	}
}

// complete relays the reply, records it, then signals turn completion.
func (c *Controller) complete(conversationID, output string, log *slog.Logger) {
	response := strings.TrimSpace(output)
	for _, chunk := range splitChunks(response, maxChunkSize) {
		c.Emit(c.ctx, rpc.NewResponseChunk(conversationID, chunk))
	}

	if _, err := c.store.Append(c.ctx, conversationID, conversation.NewMessage{
		Role:    conversation.RoleAssistant,
		Content: response,
	}); err != nil {
		log.Error("failed to record assistant message", "error", err)
		c.Emit(c.ctx, rpc.NewResponseError(conversationID, err.Error()))
		return
	}
	c.Emit(c.ctx, rpc.NewMessageReceived(conversation.RoleAssistant, response))

	log.Info("assistant replied", "chars", len(response))
	c.Emit(c.ctx, rpc.NewResponseComplete(conversationID, 0, response))
}

// dirExists accepts only absolute paths, so a relative one never resolves
// against the server's own working directory.
func dirExists(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
