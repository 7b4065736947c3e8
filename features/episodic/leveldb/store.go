// Package leveldb implements the episodic log on goleveldb. Rows are JSON
// values under zero-padded id keys so iteration order equals insertion
// order; secondary index keys exist per task, action type, decision, and
// tool name. The log is append-only: nothing here updates or deletes.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/bentman/jarvis/runtime/memory"
	"github.com/bentman/jarvis/runtime/telemetry"
)

// Key layout. Ids are zero-padded to 20 digits so lexicographic order is
// numeric order.
//
//	d|{id}                decision row (JSON)
//	dt|{task_id}|{id}     decision index by task
//	da|{action}|{id}      decision index by action type
//	t|{id}                tool-call row (JSON)
//	td|{decision_id}|{id} tool-call index by owning decision
//	tn|{tool_name}|{id}   tool-call index by tool name
//	v|{id}                validation row (JSON)
//	vd|{decision_id}|{id} validation index by owning decision
//	seq|decisions         next decision id
//	seq|toolcalls         next tool-call id
//	seq|validations       next validation id
const (
	prefixDecision        = "d|"
	prefixDecisionTask    = "dt|"
	prefixDecisionAction  = "da|"
	prefixToolCall        = "t|"
	prefixToolCallOwner   = "td|"
	prefixToolCallName    = "tn|"
	prefixValidation      = "v|"
	prefixValidationOwner = "vd|"
	keySeqDecisions       = "seq|decisions"
	keySeqToolCalls       = "seq|toolcalls"
	keySeqValidations     = "seq|validations"
)

const defaultSearchLimit = 20

var syncWrites = &opt.WriteOptions{Sync: true}

type (
	// Options configures the episodic store.
	Options struct {
		// Path is the database directory. Required.
		Path string
		// Logger receives store diagnostics. Defaults to no-op.
		Logger telemetry.Logger
		// Now overrides the clock. Used in tests.
		Now func() time.Time
	}

	// Store is the goleveldb-backed episodic log.
	Store struct {
		db     *leveldb.DB
		logger telemetry.Logger
		now    func() time.Time

		mu sync.Mutex // serializes id allocation + batch write
	}
)

var _ memory.Episodic = (*Store)(nil)

// New opens (or creates) the episodic database at opts.Path.
func New(opts *Options) (*Store, error) {
	if opts == nil || opts.Path == "" {
		return nil, errors.New("episodic: path is required")
	}
	db, err := leveldb.OpenFile(opts.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("episodic: open %s: %w", opts.Path, err)
	}
	s := &Store{db: db, logger: opts.Logger, now: opts.Now}
	if s.logger == nil {
		s.logger = telemetry.NewNoopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// AppendDecision appends one decision row and returns its id.
func (s *Store) AppendDecision(ctx context.Context, taskID, actionType, content, status string) (int64, error) {
	if taskID == "" {
		return 0, fmt.Errorf("%w: empty task id", memory.ErrInvalidArgument)
	}
	if !memory.ValidActionType(actionType) {
		return 0, fmt.Errorf("%w: unknown action type %q", memory.ErrInvalidArgument, actionType)
	}
	if status != memory.StatusOK && status != memory.StatusErr {
		return 0, fmt.Errorf("%w: unknown status %q", memory.ErrInvalidArgument, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID(keySeqDecisions)
	if err != nil {
		return 0, err
	}
	row := memory.Decision{
		ID:         id,
		TaskID:     taskID,
		ActionType: actionType,
		Content:    content,
		Status:     status,
		Timestamp:  s.now().UTC(),
	}
	value, err := json.Marshal(row)
	if err != nil {
		return 0, fmt.Errorf("episodic: encode decision: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixDecision+padID(id)), value)
	batch.Put([]byte(prefixDecisionTask+taskID+"|"+padID(id)), nil)
	batch.Put([]byte(prefixDecisionAction+actionType+"|"+padID(id)), nil)
	batch.Put([]byte(keySeqDecisions), []byte(padID(id)))
	if err := s.db.Write(batch, syncWrites); err != nil {
		return 0, fmt.Errorf("episodic: write decision: %w", err)
	}
	s.logger.Debug(ctx, "decision appended", "id", id, "task_id", taskID, "action", actionType)
	return id, nil
}

// AppendToolCall appends one tool-call row under its owning decision.
func (s *Store) AppendToolCall(ctx context.Context, decisionID int64, toolName, paramsJSON, resultJSON string) (int64, error) {
	if decisionID <= 0 {
		return 0, fmt.Errorf("%w: decision id must be positive", memory.ErrInvalidArgument)
	}
	if toolName == "" {
		return 0, fmt.Errorf("%w: empty tool name", memory.ErrInvalidArgument)
	}
	owner, err := s.decision(decisionID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID(keySeqToolCalls)
	if err != nil {
		return 0, err
	}
	row := memory.ToolCall{
		ID:         id,
		DecisionID: decisionID,
		TaskID:     owner.TaskID,
		ToolName:   toolName,
		Params:     paramsJSON,
		Result:     resultJSON,
		Timestamp:  s.now().UTC(),
	}
	value, err := json.Marshal(row)
	if err != nil {
		return 0, fmt.Errorf("episodic: encode tool call: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixToolCall+padID(id)), value)
	batch.Put([]byte(fmt.Sprintf("%s%s|%s", prefixToolCallOwner, padID(decisionID), padID(id))), nil)
	batch.Put([]byte(prefixToolCallName+toolName+"|"+padID(id)), nil)
	batch.Put([]byte(keySeqToolCalls), []byte(padID(id)))
	if err := s.db.Write(batch, syncWrites); err != nil {
		return 0, fmt.Errorf("episodic: write tool call: %w", err)
	}
	s.logger.Debug(ctx, "tool call appended", "id", id, "decision_id", decisionID, "tool", toolName)
	return id, nil
}

// AppendValidation appends one validator verdict under its owning decision.
func (s *Store) AppendValidation(ctx context.Context, decisionID int64, validatorType, result, notes string) (int64, error) {
	if decisionID <= 0 {
		return 0, fmt.Errorf("%w: decision id must be positive", memory.ErrInvalidArgument)
	}
	if validatorType == "" || result == "" {
		return 0, fmt.Errorf("%w: empty validator type or result", memory.ErrInvalidArgument)
	}
	if _, err := s.decision(decisionID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextID(keySeqValidations)
	if err != nil {
		return 0, err
	}
	row := memory.Validation{
		ID:            id,
		DecisionID:    decisionID,
		ValidatorType: validatorType,
		Result:        result,
		Notes:         notes,
		Timestamp:     s.now().UTC(),
	}
	value, err := json.Marshal(row)
	if err != nil {
		return 0, fmt.Errorf("episodic: encode validation: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixValidation+padID(id)), value)
	batch.Put([]byte(fmt.Sprintf("%s%s|%s", prefixValidationOwner, padID(decisionID), padID(id))), nil)
	batch.Put([]byte(keySeqValidations), []byte(padID(id)))
	if err := s.db.Write(batch, syncWrites); err != nil {
		return 0, fmt.Errorf("episodic: write validation: %w", err)
	}
	s.logger.Debug(ctx, "validation appended", "id", id, "decision_id", decisionID, "validator", validatorType)
	return id, nil
}

// ListValidations returns the validations under decisionID, oldest first.
func (s *Store) ListValidations(ctx context.Context, decisionID int64) ([]memory.Validation, error) {
	if decisionID <= 0 {
		return nil, fmt.Errorf("%w: decision id must be positive", memory.ErrInvalidArgument)
	}
	out := []memory.Validation{}
	prefix := prefixValidationOwner + padID(decisionID) + "|"
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		id := strings.TrimPrefix(string(iter.Key()), prefix)
		value, err := s.db.Get([]byte(prefixValidation+id), nil)
		if err != nil {
			return nil, fmt.Errorf("episodic: read validation %s: %w", id, err)
		}
		var row memory.Validation
		if err := json.Unmarshal(value, &row); err != nil {
			return nil, fmt.Errorf("episodic: decode validation: %w", err)
		}
		out = append(out, row)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchDecisions scans decisions newest-first for a case-insensitive
// substring match on content.
func (s *Store) SearchDecisions(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Decision, error) {
	needle, limit, err := searchArgs(query, opts)
	if err != nil {
		return nil, err
	}
	out := []memory.Decision{}
	err = s.scanNewestFirst(prefixDecision, func(value []byte) (bool, error) {
		var row memory.Decision
		if err := json.Unmarshal(value, &row); err != nil {
			return false, fmt.Errorf("episodic: decode decision: %w", err)
		}
		if opts.TaskID != "" && row.TaskID != opts.TaskID {
			return true, nil
		}
		if !strings.Contains(strings.ToLower(row.Content), needle) {
			return true, nil
		}
		out = append(out, row)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SearchToolCalls scans tool calls newest-first matching tool name or
// params.
func (s *Store) SearchToolCalls(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.ToolCall, error) {
	needle, limit, err := searchArgs(query, opts)
	if err != nil {
		return nil, err
	}
	out := []memory.ToolCall{}
	err = s.scanNewestFirst(prefixToolCall, func(value []byte) (bool, error) {
		var row memory.ToolCall
		if err := json.Unmarshal(value, &row); err != nil {
			return false, fmt.Errorf("episodic: decode tool call: %w", err)
		}
		if opts.TaskID != "" && row.TaskID != opts.TaskID {
			return true, nil
		}
		if !strings.Contains(strings.ToLower(row.ToolName), needle) &&
			!strings.Contains(strings.ToLower(row.Params), needle) {
			return true, nil
		}
		out = append(out, row)
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// decision loads the decision row for id, or invalid_argument when absent.
func (s *Store) decision(id int64) (*memory.Decision, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: decision id must be positive", memory.ErrInvalidArgument)
	}
	value, err := s.db.Get([]byte(prefixDecision+padID(id)), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: decision %d not found", memory.ErrInvalidArgument, id)
	}
	if err != nil {
		return nil, fmt.Errorf("episodic: lookup decision: %w", err)
	}
	var row memory.Decision
	if err := json.Unmarshal(value, &row); err != nil {
		return nil, fmt.Errorf("episodic: decode decision: %w", err)
	}
	return &row, nil
}

// nextID allocates the next id for seqKey. Caller holds s.mu.
func (s *Store) nextID(seqKey string) (int64, error) {
	raw, err := s.db.Get([]byte(seqKey), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		return 0, fmt.Errorf("episodic: read sequence: %w", err)
	}
	var last int64
	if len(raw) > 0 {
		if _, err := fmt.Sscanf(string(raw), "%d", &last); err != nil {
			return 0, fmt.Errorf("episodic: corrupt sequence %s: %w", seqKey, err)
		}
	}
	return last + 1, nil
}

// scanNewestFirst iterates rows under prefix from the highest id down,
// invoking visit until it returns false or the prefix is exhausted.
func (s *Store) scanNewestFirst(prefix string, visit func(value []byte) (bool, error)) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for ok := iter.Last(); ok; ok = iter.Prev() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		more, err := visit(value)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func searchArgs(query string, opts memory.SearchOptions) (string, int, error) {
	if strings.TrimSpace(query) == "" {
		return "", 0, fmt.Errorf("%w: empty query", memory.ErrInvalidArgument)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return strings.ToLower(query), limit, nil
}

func padID(id int64) string {
	return fmt.Sprintf("%020d", id)
}
