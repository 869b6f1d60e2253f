package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/aioschat/server/rpc"
	"github.com/aioschat/server/session"
)

// RPCHandler handles JSON-RPC 2.0 over WebSocket. Each connection gets its own
// session.Controller, registered for the lifetime of the socket.
type RPCHandler struct {
	registry       *session.Registry
	sessionConfig  session.Config
	allowedOrigins []string
	devMode        bool
}

// NewRPCHandler creates a new JSON-RPC handler.
func NewRPCHandler(registry *session.Registry, cfg session.Config, allowedOrigins []string, devMode bool) *RPCHandler {
	return &RPCHandler{
		registry:       registry,
		sessionConfig:  cfg,
		allowedOrigins: allowedOrigins,
		devMode:        devMode,
	}
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
		OriginPatterns:     h.allowedOrigins,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	connID := uuid.Must(uuid.NewV7()).String()
	log := slog.With("connId", connID)
	log.Info("new websocket connection")

	// Create ObjectStream adapter for coder/websocket
	stream := newWebSocketStream(wsConn)

	emitter := newConnEmitter()
	controller := session.NewController(connID, h.sessionConfig, emitter)
	h.registry.Register(controller)

	handler := &rpcMethodHandler{
		controller: controller,
		log:        log,
	}

	// Events are handled one at a time, in arrival order.
	rpcConn := jsonrpc2.NewConn(ctx, stream, handler)
	emitter.setConn(rpcConn)

	// Wait for connection to close
	<-rpcConn.DisconnectNotify()

	h.registry.Remove(connID)
	log.Info("connection closed")
}

// connEmitter sends controller events as JSON-RPC notifications. Emit waits
// until the JSON-RPC connection exists.
type connEmitter struct {
	ready chan struct{}
	conn  *jsonrpc2.Conn
}

func newConnEmitter() *connEmitter {
	return &connEmitter{ready: make(chan struct{})}
}

// setConn must be called exactly once.
func (e *connEmitter) setConn(conn *jsonrpc2.Conn) {
	e.conn = conn
	close(e.ready)
}

func (e *connEmitter) Emit(ctx context.Context, event rpc.Event) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.conn.Notify(ctx, event.Method(), event)
}

// rpcMethodHandler handles JSON-RPC method calls.
type rpcMethodHandler struct {
	controller *session.Controller
	log        *slog.Logger
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.log.Debug("received request", "method", req.Method, "id", req.ID, "notif", req.Notif)

	switch req.Method {
	case rpc.MethodStartConversation:
		h.handleStartConversation(ctx, conn, req)
	case rpc.MethodSendMessage:
		h.handleSendMessage(ctx, conn, req)
	case rpc.MethodCancelRequest:
		h.controller.Cancel()
		h.reply(ctx, conn, req)
	default:
		h.fail(ctx, conn, req, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) handleStartConversation(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.StartConversationParams
	if !h.decode(ctx, conn, req, &params) {
		return
	}

	// Failures have already been reported to the client as an error event.
	if err := h.controller.StartConversation(ctx, params); err != nil {
		h.replyError(ctx, conn, req, jsonrpc2.CodeInternalError, err.Error())
		return
	}
	h.reply(ctx, conn, req)
}

func (h *rpcMethodHandler) handleSendMessage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SendMessageParams
	if !h.decode(ctx, conn, req, &params) {
		return
	}
	if params.Message == "" {
		h.fail(ctx, conn, req, jsonrpc2.CodeInvalidParams, "message is required")
		return
	}

	if err := h.controller.SendMessage(ctx, params); err != nil {
		h.replyError(ctx, conn, req, jsonrpc2.CodeInternalError, err.Error())
		return
	}
	h.reply(ctx, conn, req)
}

func (h *rpcMethodHandler) decode(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, v any) bool {
	if req.Params == nil {
		h.fail(ctx, conn, req, jsonrpc2.CodeInvalidParams, "missing params")
		return false
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		h.fail(ctx, conn, req, jsonrpc2.CodeInvalidParams, "invalid params")
		return false
	}
	return true
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		return
	}
	if err := conn.Reply(ctx, req.ID, struct{}{}); err != nil {
		h.log.Error("failed to send response", "method", req.Method, "error", err)
	}
}

// fail rejects a malformed request. Notifications have no reply, so the
// client is told through an error event instead.
func (h *rpcMethodHandler) fail(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, code int64, message string) {
	h.log.Warn("rejected request", "method", req.Method, "reason", message)
	if req.Notif {
		h.controller.Emit(ctx, rpc.NewError(message))
		return
	}
	h.replyError(ctx, conn, req, code, message)
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, code int64, message string) {
	if req.Notif {
		return
	}
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, req.ID, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v interface{}) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
