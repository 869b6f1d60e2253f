package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var conversationsBucket = []byte("conversations")

// BoltStore keeps every conversation as one key in a single bbolt file.
// bbolt serializes write transactions, so appends to one id never interleave.
type BoltStore struct {
	db   *bolt.DB
	opts options
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ioError("create db dir", "", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, ioError("open db", "", errors.Wrapf(err, "open %s", path))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(conversationsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, ioError("init db", "", err)
	}
	return &BoltStore{db: db, opts: buildOptions(opts)}, nil
}

func (s *BoltStore) observe(op string, start time.Time, err error) {
	s.opts.observer.ObserveStoreOp(op, err, time.Since(start))
}

func getRecord(b *bolt.Bucket, id string) (Conversation, bool, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return Conversation{}, false, nil
	}
	var conv Conversation
	if err := json.Unmarshal(v, &conv); err != nil {
		return Conversation{}, false, ioError("decode", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return conv, true, nil
}

func putRecord(b *bolt.Bucket, conv Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return ioError("encode", conv.ID, err)
	}
	if err := b.Put([]byte(conv.ID), data); err != nil {
		return ioError("write", conv.ID, err)
	}
	return nil
}

// txError keeps store errors intact and wraps raw bbolt failures.
func txError(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRole) {
		return err
	}
	return ioError(op, id, err)
}

func (s *BoltStore) Create(ctx context.Context, id string, workDir string) (conv Conversation, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if err := ValidateID(id); err != nil {
		return Conversation{}, err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		existing, found, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if found {
			conv = existing
			return nil
		}
		conv = newConversation(id, workDir, s.opts.now())
		return putRecord(b, conv)
	})
	if err != nil {
		return Conversation{}, txError("create", id, err)
	}
	return conv, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (conv Conversation, found bool, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if ValidateID(id) != nil {
		return Conversation{}, false, nil
	}

	err = s.db.View(func(tx *bolt.Tx) error {
		var err error
		conv, found, err = getRecord(tx.Bucket(conversationsBucket), id)
		return err
	})
	if err != nil {
		return Conversation{}, false, txError("get", id, err)
	}
	return conv, found, nil
}

func (s *BoltStore) Append(ctx context.Context, id string, msg NewMessage) (conv Conversation, err error) {
	defer func(start time.Time) { s.observe("append", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if ValidateID(id) != nil {
		return Conversation{}, ErrNotFound
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		current, found, err := getRecord(b, id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		m, err := newMessage(msg, s.opts.now())
		if err != nil {
			return err
		}
		appendMessage(&current, m)
		conv = current
		return putRecord(b, current)
	})
	if err != nil {
		return Conversation{}, txError("append", id, err)
	}
	return conv, nil
}

func (s *BoltStore) List(ctx context.Context) (summaries []Summary, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summaries = []Summary{}
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(conversationsBucket).ForEach(func(k, v []byte) error {
			var conv Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				slog.Warn("skipping unreadable conversation", "conversationId", string(k), "error", err)
				return nil
			}
			summaries = append(summaries, conv.Summary())
			return nil
		})
	})
	if err != nil {
		return nil, txError("list", "", err)
	}

	sortSummaries(summaries)
	return summaries, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) (removed bool, err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ValidateID(id) != nil {
		return false, nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(conversationsBucket)
		if b.Get([]byte(id)) == nil {
			return nil
		}
		removed = true
		return b.Delete([]byte(id))
	})
	if err != nil {
		return false, txError("delete", id, err)
	}
	return removed, nil
}

func (s *BoltStore) ClearAll(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("clear", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(conversationsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(conversationsBucket)
		return err
	})
	return txError("clear", "", err)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
