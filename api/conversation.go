// Package api serves the stateless administrative HTTP endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aioschat/server/conversation"
)

// ConversationHandler handles health and conversation REST endpoints.
type ConversationHandler struct {
	store conversation.Store
	now   func() time.Time
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(store conversation.Store) *ConversationHandler {
	return &ConversationHandler{store: store, now: time.Now}
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type deleteResponse struct {
	Success bool `json:"success"`
	Deleted bool `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleHealth handles GET /health
func (h *ConversationHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: h.now().UTC()})
}

// HandleList handles GET /conversations
func (h *ConversationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List(r.Context())
	if err != nil {
		slog.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// HandleGet handles GET /conversations/{id}
func (h *ConversationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := conversation.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, found, err := h.store.Get(r.Context(), id)
	if err != nil {
		slog.Error("failed to get conversation", "conversationId", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// HandleDelete handles DELETE /conversations/{id}. Deleting an absent
// conversation succeeds.
func (h *ConversationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := conversation.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		slog.Error("failed to delete conversation", "conversationId", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("conversation deleted", "conversationId", id, "existed", deleted)
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, Deleted: deleted})
}

// Register registers the handlers at the root and under /api.
func (h *ConversationHandler) Register(mux *http.ServeMux) {
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
		mux.HandleFunc("GET "+prefix+"/conversations", h.HandleList)
		mux.HandleFunc("GET "+prefix+"/conversations/{id}", h.HandleGet)
		mux.HandleFunc("DELETE "+prefix+"/conversations/{id}", h.HandleDelete)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
