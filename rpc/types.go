// Package rpc defines the JSON-RPC 2.0 wire format of the chat session protocol.
// Client methods and server notifications share the protocol's event names.
package rpc

import "github.com/aioschat/server/conversation"

// Client → Server methods.
const (
	MethodStartConversation = "start-conversation"
	MethodSendMessage       = "send-message"
	MethodCancelRequest     = "cancel-request"
)

// Server → Client notifications.
const (
	MethodConversationStarted  = "conversation-started"
	MethodMessageReceived      = "message-received"
	MethodResponseStart        = "response-start"
	MethodResponseChunk        = "response-chunk"
	MethodResponseComplete     = "response-complete"
	MethodResponseError        = "response-error"
	MethodRequestCancelled     = "request-cancelled"
	MethodError                = "error"
	MethodConversationsChanged = "conversations-changed"
)

// Client → Server

type StartConversationParams struct {
	ConversationID   string `json:"conversationId"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

type SendMessageParams struct {
	Message          string `json:"message"`
	ConversationID   string `json:"conversationId,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// Server → Client

// Event is a server notification. The set of implementations is closed.
type Event interface {
	Method() string
	event()
}

type ConversationStarted struct {
	ConversationID string `json:"conversationId"`
}

type MessageReceived struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

type ResponseStart struct {
	ConversationID string `json:"conversationId"`
}

type ResponseChunk struct {
	Chunk          string `json:"chunk"`
	ConversationID string `json:"conversationId"`
}

type ResponseComplete struct {
	ConversationID string `json:"conversationId"`
	ExitCode       int    `json:"exitCode"`
	Response       string `json:"response"`
}

type ResponseError struct {
	Error          string `json:"error"`
	ConversationID string `json:"conversationId"`
}

type RequestCancelled struct{}

// Error reports a failure outside of a turn, such as a failed start-conversation.
type Error struct {
	Message string `json:"message"`
}

// ConversationsChanged tells clients to refresh their conversation list.
type ConversationsChanged struct{}

func (ConversationStarted) Method() string  { return MethodConversationStarted }
func (MessageReceived) Method() string      { return MethodMessageReceived }
func (ResponseStart) Method() string        { return MethodResponseStart }
func (ResponseChunk) Method() string        { return MethodResponseChunk }
func (ResponseComplete) Method() string     { return MethodResponseComplete }
func (ResponseError) Method() string        { return MethodResponseError }
func (RequestCancelled) Method() string     { return MethodRequestCancelled }
func (Error) Method() string                { return MethodError }
func (ConversationsChanged) Method() string { return MethodConversationsChanged }

func (ConversationStarted) event()  {}
func (MessageReceived) event()      {}
func (ResponseStart) event()        {}
func (ResponseChunk) event()        {}
func (ResponseComplete) event()     {}
func (ResponseError) event()        {}
func (RequestCancelled) event()     {}
func (Error) event()                {}
func (ConversationsChanged) event() {}

func NewConversationStarted(conversationID string) ConversationStarted {
	return ConversationStarted{ConversationID: conversationID}
}

func NewMessageReceived(role conversation.Role, content string) MessageReceived {
	return MessageReceived{Role: role, Content: content}
}

func NewResponseStart(conversationID string) ResponseStart {
	return ResponseStart{ConversationID: conversationID}
}

func NewResponseChunk(conversationID, chunk string) ResponseChunk {
	return ResponseChunk{Chunk: chunk, ConversationID: conversationID}
}

func NewResponseComplete(conversationID string, exitCode int, response string) ResponseComplete {
	return ResponseComplete{ConversationID: conversationID, ExitCode: exitCode, Response: response}
}

func NewResponseError(conversationID, message string) ResponseError {
	return ResponseError{Error: message, ConversationID: conversationID}
}

func NewError(message string) Error {
	return Error{Message: message}
}
