package memory

import (
	"context"
	"errors"
)

type (
	// ManagerOptions configures a Manager.
	ManagerOptions struct {
		// Episodic is the append-only log. Required.
		Episodic Episodic
		// Working is the per-task document store. Required.
		Working Working
		// Semantic is the vector store. Optional; retrieval degrades
		// without it.
		Semantic Semantic
	}

	// Manager is the single owner of the store handles. It holds no state
	// of its own.
	Manager struct {
		episodic Episodic
		working  Working
		semantic Semantic
	}
)

// NewManager constructs a Manager.
func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts == nil || opts.Episodic == nil {
		return nil, errors.New("memory: episodic store is required")
	}
	if opts.Working == nil {
		return nil, errors.New("memory: working store is required")
	}
	return &Manager{
		episodic: opts.Episodic,
		working:  opts.Working,
		semantic: opts.Semantic,
	}, nil
}

// Episodic returns the episodic log handle.
func (m *Manager) Episodic() Episodic { return m.episodic }

// Working returns the working-state store handle.
func (m *Manager) Working() Working { return m.working }

// Semantic returns the semantic store handle, which may be nil.
func (m *Manager) Semantic() Semantic { return m.semantic }

// RecordDecision appends a decision row.
func (m *Manager) RecordDecision(ctx context.Context, taskID, actionType, content, status string) (int64, error) {
	return m.episodic.AppendDecision(ctx, taskID, actionType, content, status)
}

// RecordToolCall appends a tool-call row under its owning decision.
func (m *Manager) RecordToolCall(ctx context.Context, decisionID int64, toolName, paramsJSON, resultJSON string) (int64, error) {
	return m.episodic.AppendToolCall(ctx, decisionID, toolName, paramsJSON, resultJSON)
}

// RecordValidation appends a validator verdict under its owning decision.
func (m *Manager) RecordValidation(ctx context.Context, decisionID int64, validatorType, result, notes string) (int64, error) {
	return m.episodic.AppendValidation(ctx, decisionID, validatorType, result, notes)
}

// AppendMessage appends a transcript turn to the task's working state.
func (m *Manager) AppendMessage(ctx context.Context, taskID, role, content string) error {
	return m.working.AppendMessage(ctx, taskID, role, content)
}

// Close closes every store, returning the first error.
func (m *Manager) Close() error {
	err := m.episodic.Close()
	if werr := m.working.Close(); err == nil {
		err = werr
	}
	if m.semantic != nil {
		if serr := m.semantic.Close(); err == nil {
			err = serr
		}
	}
	return err
}
