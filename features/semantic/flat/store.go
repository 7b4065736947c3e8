// Package flat implements the semantic store with an exact (flat) L2 index
// held in memory and persisted beside a goleveldb metadata table. The
// metadata rows carry the vectors, so a missing, corrupt, or stale index
// file is rebuilt from metadata on open; metadata is the source of truth.
package flat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Key layout.
//
//	v|{id}      row (JSON: id, text, metadata, vector)
//	seq|vectors next vector id
const (
	prefixVector  = "v|"
	keySeqVectors = "seq|vectors"
)

const (
	indexFileName = "vectors.idx"
	defaultTopK   = 5
)

var syncWrites = &opt.WriteOptions{Sync: true}

type (
	// Options configures the store.
	Options struct {
		// Dir holds the metadata database and index file. Required.
		Dir string
		// Embedder maps text to vectors. Required.
		Embedder model.Embedder
		// Logger receives diagnostics. Defaults to no-op.
		Logger telemetry.Logger
		// Now overrides the clock. Used in tests.
		Now func() time.Time
	}

	// Store is the flat-index semantic store.
	Store struct {
		db       *leveldb.DB
		embedder model.Embedder
		logger   telemetry.Logger
		now      func() time.Time
		indexPath string

		mu      sync.RWMutex
		entries []indexEntry
		dim     int
	}

	row struct {
		ID       int64          `json:"id"`
		Text     string         `json:"text"`
		Metadata map[string]any `json:"metadata"`
		Vector   []float32      `json:"vector"`
	}

	indexEntry struct {
		ID     int64     `json:"id"`
		Vector []float32 `json:"vector"`
	}

	indexFile struct {
		Dim     int          `json:"dim"`
		Entries []indexEntry `json:"entries"`
	}
)

var _ memory.Semantic = (*Store)(nil)

// New opens the store, loading the index file or rebuilding it from
// metadata when the file is missing, corrupt, or out of sync.
func New(opts *Options) (*Store, error) {
	if opts == nil || opts.Dir == "" {
		return nil, errors.New("semantic: dir is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("semantic: embedder is required")
	}
	db, err := leveldb.OpenFile(filepath.Join(opts.Dir, "meta"), nil)
	if err != nil {
		return nil, fmt.Errorf("semantic: open metadata: %w", err)
	}
	s := &Store{
		db:        db,
		embedder:  opts.Embedder,
		logger:    opts.Logger,
		now:       opts.Now,
		indexPath: filepath.Join(opts.Dir, indexFileName),
	}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.loadIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Add embeds text and inserts the vector plus metadata. A timestamp is
// stamped into the metadata when the caller did not provide one.
func (s *Store) Add(ctx context.Context, text string, metadata map[string]any) (int64, error) {
	if text == "" {
		return 0, fmt.Errorf("%w: empty text", memory.ErrInvalidArgument)
	}
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("semantic: embed: %w", err)
	}
	if len(vector) == 0 {
		return 0, errors.New("semantic: embedder returned empty vector")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim != 0 && len(vector) != s.dim {
		return 0, fmt.Errorf("%w: vector dimension %d, store dimension %d", memory.ErrInvalidArgument, len(vector), s.dim)
	}

	id, err := s.nextID()
	if err != nil {
		return 0, err
	}
	meta := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta["timestamp"]; !ok {
		meta["timestamp"] = s.now().UTC().Format(time.RFC3339)
	}
	value, err := json.Marshal(row{ID: id, Text: text, Metadata: meta, Vector: vector})
	if err != nil {
		return 0, fmt.Errorf("semantic: encode row: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixVector+padID(id)), value)
	batch.Put([]byte(keySeqVectors), []byte(padID(id)))
	if err := s.db.Write(batch, syncWrites); err != nil {
		return 0, fmt.Errorf("semantic: write row: %w", err)
	}

	s.entries = append(s.entries, indexEntry{ID: id, Vector: vector})
	s.dim = len(vector)
	if err := s.saveIndex(); err != nil {
		// The index rebuilds from metadata on next open.
		s.logger.Warn(ctx, "semantic index save failed", "err", err.Error())
	}
	return id, nil
}

// SearchText embeds query and returns the topK nearest entries ordered by
// (-similarity, vector_id). An empty store returns an empty slice.
func (s *Store) SearchText(ctx context.Context, query string, topK int) ([]memory.SemanticHit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", memory.ErrInvalidArgument)
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()
	if count == 0 {
		return []memory.SemanticHit{}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		id         int64
		similarity float64
	}
	all := make([]scored, 0, len(s.entries))
	for _, entry := range s.entries {
		if len(entry.Vector) != len(queryVec) {
			continue
		}
		// Canonical mapping: similarity = 1/(1+L2), always in (0,1].
		similarity := 1.0 / (1.0 + l2Distance(queryVec, entry.Vector))
		all = append(all, scored{id: entry.ID, similarity: similarity})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].similarity != all[j].similarity {
			return all[i].similarity > all[j].similarity
		}
		return all[i].id < all[j].id
	})
	if len(all) > topK {
		all = all[:topK]
	}

	out := make([]memory.SemanticHit, 0, len(all))
	for _, sc := range all {
		raw, err := s.db.Get([]byte(prefixVector+padID(sc.id)), nil)
		if err != nil {
			s.logger.Warn(ctx, "semantic row missing for indexed vector", "id", sc.id)
			continue
		}
		var r row
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("semantic: decode row %d: %w", sc.id, err)
		}
		out = append(out, memory.SemanticHit{
			VectorID:   r.ID,
			Text:       r.Text,
			Similarity: sc.similarity,
			Metadata:   r.Metadata,
		})
	}
	return out, nil
}

// Count returns the number of indexed vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close persists the index and closes the metadata database.
func (s *Store) Close() error {
	s.mu.Lock()
	if err := s.saveIndex(); err != nil {
		s.logger.Warn(context.Background(), "semantic index save failed on close", "err", err.Error())
	}
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) nextID() (int64, error) {
	raw, err := s.db.Get([]byte(keySeqVectors), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return 0, fmt.Errorf("semantic: read sequence: %w", err)
	}
	var last int64
	if len(raw) > 0 {
		if _, err := fmt.Sscanf(string(raw), "%d", &last); err != nil {
			return 0, fmt.Errorf("semantic: corrupt sequence: %w", err)
		}
	}
	return last + 1, nil
}

// loadIndex reads the index file, falling back to a metadata rebuild when
// the file is missing, unreadable, or disagrees with the metadata count.
func (s *Store) loadIndex() error {
	metaCount, err := s.metadataCount()
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(s.indexPath)
	if err == nil {
		var f indexFile
		if json.Unmarshal(raw, &f) == nil && len(f.Entries) == metaCount {
			s.entries = f.Entries
			s.dim = f.Dim
			return nil
		}
	}
	return s.rebuildIndex()
}

// rebuildIndex reconstructs the in-memory index from metadata rows.
func (s *Store) rebuildIndex() error {
	s.entries = nil
	s.dim = 0
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixVector)), nil)
	defer iter.Release()
	for iter.Next() {
		var r row
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return fmt.Errorf("semantic: rebuild: decode row: %w", err)
		}
		s.entries = append(s.entries, indexEntry{ID: r.ID, Vector: r.Vector})
		s.dim = len(r.Vector)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("semantic: rebuild: %w", err)
	}
	return s.saveIndex()
}

func (s *Store) saveIndex() error {
	raw, err := json.Marshal(indexFile{Dim: s.dim, Entries: s.entries})
	if err != nil {
		return err
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func (s *Store) metadataCount() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixVector)), nil)
	defer iter.Release()
	count := 0
	for iter.Next() {
		count++
	}
	return count, iter.Error()
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

func padID(id int64) string {
	return fmt.Sprintf("%020d", id)
}
