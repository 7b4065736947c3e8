// Package nodes implements the workflow node set: router, context builder,
// tool call, LLM worker, and validator. Nodes communicate through a shared
// State and never return Go errors; a failing node records a stable error
// code on the state and the executor halts the run.
package nodes

import (
	"context"

	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/tools"
)

// Node error codes.
const (
	CodeLLMUnavailable   = "llm_unavailable"
	CodeLLMError         = "llm_error"
	CodeValidationFailed = "validation_failed"
)

// Intents produced by the router.
const (
	IntentChat     = "chat"
	IntentCode     = "code"
	IntentFileOps  = "file_ops"
	IntentResearch = "research"
)

type (
	// NodeError is an in-band node failure. Code values are stable and
	// machine-readable.
	NodeError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	// State is the shared document a workflow run threads through its
	// nodes. Nodes read what upstream nodes wrote and add their own
	// fields; a set Err halts the run.
	State struct {
		TaskID    string          `json:"task_id"`
		Turn      int             `json:"turn"`
		UserInput string          `json:"user_input"`
		Intent    string          `json:"intent,omitempty"`
		Messages  []model.Message `json:"messages,omitempty"`

		// ToolRequest, when set, is executed by the tool_call node.
		ToolRequest *tools.Request `json:"tool_request,omitempty"`
		ToolResult  *tools.Result  `json:"tool_result,omitempty"`

		// Per-run policy flags, default-deny.
		AllowWriteSafe bool `json:"allow_write_safe"`
		AllowExternal  bool `json:"allow_external"`

		Output       string     `json:"output,omitempty"`
		FinishReason string     `json:"finish_reason,omitempty"`
		Err          *NodeError `json:"error,omitempty"`
	}

	// Node is one executable workflow step.
	Node interface {
		ID() string
		Type() string
		Run(ctx context.Context, s *State)
	}
)

// Fail records a node failure on the state. The first failure wins.
func (s *State) Fail(code, message string) {
	if s.Err != nil {
		return
	}
	s.Err = &NodeError{Code: code, Message: message}
}

// Failed reports whether a node has failed the run.
func (s *State) Failed() bool { return s.Err != nil }
