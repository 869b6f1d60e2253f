package conversation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the durable transcript repository shared by all sessions.
type Store interface {
	// Create returns the existing record for id unchanged, or creates an empty one.
	Create(ctx context.Context, id string, workDir string) (Conversation, error)
	// Get reports found=false for a missing id; that is not an error.
	Get(ctx context.Context, id string) (Conversation, bool, error)
	// Append is the only mutation. It fails with ErrNotFound for a missing id.
	Append(ctx context.Context, id string, msg NewMessage) (Conversation, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) (bool, error)
	ClearAll(ctx context.Context) error
	Close() error
}

// Observer receives one call per store operation. metrics.Metrics implements it.
type Observer interface {
	ObserveStoreOp(op string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveStoreOp(string, error, time.Duration) {}

// ValidateID rejects ids that cannot be used as a storage key.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." {
		return ErrInvalidID
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return ErrInvalidID
	}
	return nil
}

func newMessage(msg NewMessage, now time.Time) (Message, error) {
	if !msg.Role.IsValid() {
		return Message{}, ErrBadRole
	}
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: now,
	}, nil
}

func sortSummaries(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
}
