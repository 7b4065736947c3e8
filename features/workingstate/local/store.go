// Package local stores working-state documents as one JSON file per task.
// Saves are atomic: the document is written to a temp file in the same
// directory and renamed over the target, so concurrent readers always see a
// complete document. Archived tasks move to an archive/ subdirectory.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// DefaultMaxMessages caps the transcript; oldest turns drop first.
const DefaultMaxMessages = 50

const archiveDirName = "archive"

type (
	// Options configures the store.
	Options struct {
		// Dir is the documents directory. Required; created if missing.
		Dir string
		// MaxMessages caps the transcript length. Defaults to 50.
		MaxMessages int
		// Logger receives store diagnostics. Defaults to no-op.
		Logger telemetry.Logger
		// Now overrides the clock. Used in tests.
		Now func() time.Time
	}

	// Store is the filesystem-backed working-state store.
	Store struct {
		dir         string
		maxMessages int
		logger      telemetry.Logger
		now         func() time.Time

		mu sync.Mutex // serializes read-modify-write cycles
	}
)

var _ memory.Working = (*Store)(nil)

// New constructs a Store rooted at opts.Dir.
func New(opts *Options) (*Store, error) {
	if opts == nil || opts.Dir == "" {
		return nil, errors.New("workingstate: dir is required")
	}
	if err := os.MkdirAll(filepath.Join(opts.Dir, archiveDirName), 0o755); err != nil {
		return nil, fmt.Errorf("workingstate: create dir: %w", err)
	}
	s := &Store{
		dir:         opts.Dir,
		maxMessages: opts.MaxMessages,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.maxMessages <= 0 {
		s.maxMessages = DefaultMaxMessages
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Load returns the task document, or a fresh empty one when none exists.
func (s *Store) Load(ctx context.Context, taskID string) (*memory.WorkingState, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: empty task id", memory.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(taskID)
}

// Save persists doc atomically.
func (s *Store) Save(ctx context.Context, doc *memory.WorkingState) error {
	if doc == nil || doc.TaskID == "" {
		return fmt.Errorf("%w: document needs a task id", memory.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(doc)
}

// AppendMessage appends one transcript turn, dropping the oldest when the
// cap is exceeded.
func (s *Store) AppendMessage(ctx context.Context, taskID, role, content string) error {
	if taskID == "" || role == "" {
		return fmt.Errorf("%w: task id and role are required", memory.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(taskID)
	if err != nil {
		return err
	}
	doc.Messages = append(doc.Messages, memory.Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
	})
	if len(doc.Messages) > s.maxMessages {
		doc.Messages = doc.Messages[len(doc.Messages)-s.maxMessages:]
	}
	return s.save(doc)
}

// ListRecentMessages returns the newest n turns in chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, taskID string, n int) ([]memory.Message, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: empty task id", memory.ErrInvalidArgument)
	}
	if n <= 0 {
		return []memory.Message{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(taskID)
	if err != nil {
		return nil, err
	}
	msgs := doc.Messages
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]memory.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Archive moves the task document into the archive directory.
func (s *Store) Archive(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: empty task id", memory.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := sanitizeTaskID(taskID) + ".json"
	src := filepath.Join(s.dir, name)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("workingstate: stat %s: %w", taskID, err)
	}
	dst := filepath.Join(s.dir, archiveDirName, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("workingstate: archive %s: %w", taskID, err)
	}
	s.logger.Debug(ctx, "task archived", "task_id", taskID)
	return nil
}

// Close is a no-op; the store holds no open handles between calls.
func (s *Store) Close() error { return nil }

func (s *Store) load(taskID string) (*memory.WorkingState, error) {
	path := filepath.Join(s.dir, sanitizeTaskID(taskID)+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &memory.WorkingState{TaskID: taskID, Messages: []memory.Message{}}, nil
		}
		return nil, fmt.Errorf("workingstate: read %s: %w", taskID, err)
	}
	var doc memory.WorkingState
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("workingstate: decode %s: %w", taskID, err)
	}
	return &doc, nil
}

func (s *Store) save(doc *memory.WorkingState) error {
	doc.UpdatedAt = s.now().UTC()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("workingstate: encode %s: %w", doc.TaskID, err)
	}
	path := filepath.Join(s.dir, sanitizeTaskID(doc.TaskID)+".json")
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("workingstate: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("workingstate: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("workingstate: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workingstate: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("workingstate: rename %s: %w", doc.TaskID, err)
	}
	return nil
}

// sanitizeTaskID maps a task id to a safe file name. Anything outside
// [A-Za-z0-9_-] becomes an underscore.
func sanitizeTaskID(taskID string) string {
	var b strings.Builder
	b.Grow(len(taskID))
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
