// Package conversation stores chat transcripts, one record per conversation id.
package conversation

import (
	"strings"
	"time"
)

// DefaultTitle is the title of a conversation that has no user message yet.
const DefaultTitle = "New Conversation"

const titleMaxRunes = 50

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one entry of a transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage is the caller-supplied part of a message; the store assigns the rest.
type NewMessage struct {
	Role    Role
	Content string
}

// Conversation is the persisted record. Messages are append-only.
type Conversation struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	WorkingDirectory string    `json:"workingDirectory"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Messages         []Message `json:"messages"`
}

// Summary is the list view of a conversation.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Summary returns the list view of c.
func (c Conversation) Summary() Summary {
	return Summary{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
}

func newConversation(id, workDir string, now time.Time) Conversation {
	return Conversation{
		ID:               id,
		Title:            DefaultTitle,
		WorkingDirectory: workDir,
		CreatedAt:        now,
		UpdatedAt:        now,
		Messages:         []Message{},
	}
}

// appendMessage applies an append to c in place. It is shared by every backend so
// title derivation and timestamp rules cannot diverge between them.
func appendMessage(c *Conversation, msg Message) {
	if msg.Role == RoleUser && !hasUserMessage(c.Messages) {
		c.Title = DeriveTitle(msg.Content)
	}
	c.Messages = append(c.Messages, msg)

	updated := msg.Timestamp
	if updated.Before(c.CreatedAt) {
		updated = c.CreatedAt
	}
	c.UpdatedAt = updated
}

// hasUserMessage reports whether the title has already been derived. The title
// text cannot tell, since a first message may read exactly like DefaultTitle.
func hasUserMessage(msgs []Message) bool {
	for _, m := range msgs {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// DeriveTitle builds a short title from the first user message.
func DeriveTitle(content string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))

	runes := []rune(cleaned)
	if len(runes) <= titleMaxRunes {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:titleMaxRunes])) + "..."
}
