package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const recordExt = ".json"

// FileStore keeps each conversation in its own JSON file, so an append never
// rewrites unrelated conversations and one corrupt file cannot block the rest.
//
// FileStore is NOT safe for multiple instances sharing the same directory.
type FileStore struct {
	dir  string
	opts options

	// mu is held for reading by per-record operations and for writing by ClearAll.
	mu    sync.RWMutex
	locks sync.Map // id -> *sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the history directory if needed.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("create history dir", "", err)
	}
	return &FileStore{dir: dir, opts: buildOptions(opts)}, nil
}

// Dir returns the history directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// lock takes the store read lock before looking up the id's mutex, so ClearAll
// can drop every mutex while it holds the write lock.
func (s *FileStore) lock(id string) func() {
	s.mu.RLock()
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return func() {
		m.Unlock()
		s.mu.RUnlock()
	}
}

func (s *FileStore) read(id string) (Conversation, bool, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, ioError("read", id, err)
	}

	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return Conversation{}, false, ioError("decode", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return conv, true, nil
}

// write replaces the record atomically: a crash leaves either the old or the new file.
func (s *FileStore) write(conv Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return ioError("encode", conv.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, conv.ID+".*.tmp")
	if err != nil {
		return ioError("write", conv.ID, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioError("write", conv.ID, errors.Wrap(err, "write temp file"))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioError("write", conv.ID, errors.Wrap(err, "sync temp file"))
	}
	if err := tmp.Close(); err != nil {
		return ioError("write", conv.ID, errors.Wrap(err, "close temp file"))
	}
	if err := os.Rename(tmpName, s.path(conv.ID)); err != nil {
		return ioError("write", conv.ID, errors.Wrap(err, "rename temp file"))
	}
	return nil
}

func (s *FileStore) observe(op string, start time.Time, err error) {
	s.opts.observer.ObserveStoreOp(op, err, time.Since(start))
}

func (s *FileStore) Create(ctx context.Context, id string, workDir string) (conv Conversation, err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if err := ValidateID(id); err != nil {
		return Conversation{}, err
	}

	unlock := s.lock(id)
	defer unlock()

	existing, found, err := s.read(id)
	if err != nil {
		return Conversation{}, err
	}
	if found {
		return existing, nil
	}

	conv = newConversation(id, workDir, s.opts.now())
	if err := s.write(conv); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *FileStore) Get(ctx context.Context, id string) (conv Conversation, found bool, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, false, err
	}
	if ValidateID(id) != nil {
		return Conversation{}, false, nil
	}

	unlock := s.lock(id)
	defer unlock()
	return s.read(id)
}

func (s *FileStore) Append(ctx context.Context, id string, msg NewMessage) (conv Conversation, err error) {
	defer func(start time.Time) { s.observe("append", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	if ValidateID(id) != nil {
		return Conversation{}, ErrNotFound
	}

	unlock := s.lock(id)
	defer unlock()

	conv, found, err := s.read(id)
	if err != nil {
		return Conversation{}, err
	}
	if !found {
		return Conversation{}, ErrNotFound
	}

	m, err := newMessage(msg, s.opts.now())
	if err != nil {
		return Conversation{}, err
	}
	appendMessage(&conv, m)

	if err := s.write(conv); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (s *FileStore) List(ctx context.Context) (summaries []Summary, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, ioError("list", "", err)
	}

	summaries = make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)
		conv, found, err := s.read(id)
		if err != nil {
			slog.Warn("skipping unreadable conversation", "conversationId", id, "error", err)
			continue
		}
		if !found {
			continue
		}
		summaries = append(summaries, conv.Summary())
	}

	sortSummaries(summaries)
	return summaries, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) (removed bool, err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ValidateID(id) != nil {
		return false, nil
	}

	unlock := s.lock(id)
	defer unlock()

	err = os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ioError("delete", id, err)
	}
	return true, nil
}

func (s *FileStore) ClearAll(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("clear", start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ioError("clear", "", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return ioError("clear", "", err)
		}
	}
	s.locks.Clear()
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
