package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/bentman/jarvis/runtime/canonjson"
	"github.com/bentman/jarvis/runtime/model"
	"github.com/bentman/jarvis/runtime/tools"
)

const toolResultMax = 2000

type (
	// ToolCallOptions configures a ToolCall node.
	ToolCallOptions struct {
		// Executor runs the requested tool. Required.
		Executor *tools.Executor
	}

	// ToolCall executes the run's tool request, if any, and folds the
	// result into the prompt so the model can see it. A run without a
	// tool request passes through untouched.
	ToolCall struct {
		executor *tools.Executor
	}
)

// NewToolCall constructs a ToolCall node.
func NewToolCall(opts *ToolCallOptions) (*ToolCall, error) {
	if opts == nil || opts.Executor == nil {
		return nil, errors.New("nodes: tool call needs an executor")
	}
	return &ToolCall{executor: opts.Executor}, nil
}

func (t *ToolCall) ID() string   { return "tool_call" }
func (t *ToolCall) Type() string { return "tool_call" }

// Run executes s.ToolRequest and sets s.ToolResult. A failed tool fails the
// run with the tool's own stable error code.
func (t *ToolCall) Run(ctx context.Context, s *State) {
	if s.ToolRequest == nil {
		return
	}
	req := *s.ToolRequest
	if req.TaskID == "" {
		req.TaskID = s.TaskID
	}
	result := t.executor.Execute(ctx, &req, tools.ExecuteOptions{
		AllowWriteSafe: s.AllowWriteSafe,
		AllowExternal:  s.AllowExternal,
	})
	s.ToolResult = result
	if !result.OK {
		s.Fail(result.Error, result.Message)
		return
	}
	s.Messages = append(s.Messages, model.Message{
		Role:    model.RoleSystem,
		Content: fmt.Sprintf("Tool %s result:\n%s", req.Tool, toolResultText(result)),
	})
}

// toolResultText prefers the privacy-redacted rendering when one exists.
func toolResultText(result *tools.Result) string {
	text := result.RedactedResultText
	if text == "" {
		if s, ok := result.Value.(string); ok {
			text = s
		} else if raw, err := canonjson.MarshalString(result.Value); err == nil {
			text = raw
		} else {
			text = fmt.Sprint(result.Value)
		}
	}
	if len(text) > toolResultMax {
		text = text[:toolResultMax] + "..."
	}
	return text
}
