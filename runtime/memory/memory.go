// Package memory defines the contracts for the three layered stores
// (episodic log, working state, semantic vectors) and the Manager façade
// that hands all callers one consistent view of them.
package memory

import (
	"context"
	"errors"
	"time"
)

// Decision action types.
const (
	ActionPlan     = "plan"
	ActionNode     = "node"
	ActionTool     = "tool"
	ActionValidate = "validate"
	ActionArchive  = "archive"
	ActionError    = "error"
)

// Decision statuses.
const (
	StatusOK  = "ok"
	StatusErr = "err"
)

// ErrInvalidArgument reports a caller error: empty query, unknown action
// type, out-of-range value.
var ErrInvalidArgument = errors.New("memory: invalid argument")

type (
	// Decision is one append-only episodic record. Rows are never edited
	// or deleted.
	Decision struct {
		ID         int64     `json:"id"`
		TaskID     string    `json:"task_id"`
		ActionType string    `json:"action_type"`
		Content    string    `json:"content"`
		Status     string    `json:"status"`
		Timestamp  time.Time `json:"timestamp"`
	}

	// ToolCall is one tool invocation, owned by a decision row. TaskID is
	// copied from the owning decision so task-scoped searches need no join.
	ToolCall struct {
		ID         int64     `json:"id"`
		DecisionID int64     `json:"decision_id"`
		TaskID     string    `json:"task_id"`
		ToolName   string    `json:"tool_name"`
		Params     string    `json:"params"`
		Result     string    `json:"result"`
		Timestamp  time.Time `json:"timestamp"`
	}

	// Validation is one validator verdict, owned by a decision row.
	Validation struct {
		ID            int64     `json:"id"`
		DecisionID    int64     `json:"decision_id"`
		ValidatorType string    `json:"validator_type"`
		Result        string    `json:"result"`
		Notes         string    `json:"notes"`
		Timestamp     time.Time `json:"timestamp"`
	}

	// Message is one transcript turn, ordered oldest-first.
	Message struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}

	// WorkingState is the mutable per-task scratchpad document.
	WorkingState struct {
		TaskID         string    `json:"task_id"`
		Goal           string    `json:"goal"`
		Status         string    `json:"status"`
		CurrentStep    string    `json:"current_step"`
		CompletedSteps []string  `json:"completed_steps"`
		NextSteps      []string  `json:"next_steps"`
		Messages       []Message `json:"messages"`
		UpdatedAt      time.Time `json:"updated_at"`
	}

	// SemanticHit is one vector search result. Similarity maps L2
	// distance through 1/(1+distance), so it lies in (0,1] with higher
	// meaning closer.
	SemanticHit struct {
		VectorID   int64          `json:"vector_id"`
		Text       string         `json:"text"`
		Similarity float64        `json:"similarity"`
		Metadata   map[string]any `json:"metadata"`
	}

	// SearchOptions filters episodic searches.
	SearchOptions struct {
		// TaskID restricts results to one task when non-empty.
		TaskID string
		// Limit caps results. Defaults to 20.
		Limit int
	}

	// Episodic is the append-only decision and tool-call log. No update
	// or delete operations exist.
	Episodic interface {
		AppendDecision(ctx context.Context, taskID, actionType, content, status string) (int64, error)
		AppendToolCall(ctx context.Context, decisionID int64, toolName, paramsJSON, resultJSON string) (int64, error)
		AppendValidation(ctx context.Context, decisionID int64, validatorType, result, notes string) (int64, error)
		// ListValidations returns the validations recorded under one
		// decision, oldest first.
		ListValidations(ctx context.Context, decisionID int64) ([]Validation, error)
		// SearchDecisions matches query case-insensitively against
		// decision content, newest first.
		SearchDecisions(ctx context.Context, query string, opts SearchOptions) ([]Decision, error)
		// SearchToolCalls matches query against tool name and params,
		// newest first.
		SearchToolCalls(ctx context.Context, query string, opts SearchOptions) ([]ToolCall, error)
		Close() error
	}

	// Working stores one document per task with atomic saves.
	Working interface {
		// Load returns the task document, or a fresh empty document
		// when none exists yet.
		Load(ctx context.Context, taskID string) (*WorkingState, error)
		Save(ctx context.Context, doc *WorkingState) error
		AppendMessage(ctx context.Context, taskID, role, content string) error
		// ListRecentMessages returns the newest n messages in
		// chronological order. Unknown task → empty slice.
		ListRecentMessages(ctx context.Context, taskID string, n int) ([]Message, error)
		// Archive moves the document out of the active set.
		Archive(ctx context.Context, taskID string) error
		Close() error
	}

	// Semantic embeds text and answers nearest-neighbor queries. An empty
	// store returns no hits, never an error.
	Semantic interface {
		Add(ctx context.Context, text string, metadata map[string]any) (int64, error)
		SearchText(ctx context.Context, query string, topK int) ([]SemanticHit, error)
		Close() error
	}
)

// ValidActionType reports whether t is a known decision action type.
func ValidActionType(t string) bool {
	switch t {
	case ActionPlan, ActionNode, ActionTool, ActionValidate, ActionArchive, ActionError:
		return true
	}
	return false
}
