package nodes

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bentman/jarvis/runtime/tools"
)

func newEchoExecutor(t *testing.T, tier tools.Tier) *tools.Executor {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Definition{
		Name:   "echo",
		Tier:   tier,
		Schema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Handler: func(_ context.Context, payload map[string]any) (any, error) {
			return payload["text"], nil
		},
	}))
	executor, err := tools.NewExecutor(&tools.Options{Registry: registry})
	require.NoError(t, err)
	return executor
}

func TestToolCallPassesThroughWithoutRequest(t *testing.T) {
	node, err := NewToolCall(&ToolCallOptions{Executor: newEchoExecutor(t, tools.TierReadOnly)})
	require.NoError(t, err)

	s := &State{TaskID: "task-1", UserInput: "hi"}
	node.Run(context.Background(), s)
	require.False(t, s.Failed())
	require.Nil(t, s.ToolResult)
	require.Empty(t, s.Messages)
}

func TestToolCallExecutesAndRecordsResult(t *testing.T) {
	node, err := NewToolCall(&ToolCallOptions{Executor: newEchoExecutor(t, tools.TierReadOnly)})
	require.NoError(t, err)

	s := &State{
		TaskID:      "task-1",
		ToolRequest: &tools.Request{Tool: "echo", Payload: map[string]any{"text": "hello"}},
	}
	node.Run(context.Background(), s)
	require.False(t, s.Failed())
	require.NotNil(t, s.ToolResult)
	require.True(t, s.ToolResult.OK)
	require.Equal(t, "hello", s.ToolResult.Value)

	require.Len(t, s.Messages, 1)
	require.Contains(t, s.Messages[0].Content, "Tool echo result:")
	require.Contains(t, s.Messages[0].Content, "hello")
}

func TestToolCallDeniedWriteFailsRun(t *testing.T) {
	node, err := NewToolCall(&ToolCallOptions{Executor: newEchoExecutor(t, tools.TierWriteSafe)})
	require.NoError(t, err)

	s := &State{
		TaskID:      "task-1",
		ToolRequest: &tools.Request{Tool: "echo", Payload: map[string]any{"text": "hello"}},
	}
	node.Run(context.Background(), s)
	require.True(t, s.Failed())
	require.Equal(t, tools.ErrCodePermissionDenied, s.Err.Code)

	// Allowed explicitly, the same request succeeds.
	s = &State{
		TaskID:         "task-1",
		AllowWriteSafe: true,
		ToolRequest:    &tools.Request{Tool: "echo", Payload: map[string]any{"text": "hello"}},
	}
	node.Run(context.Background(), s)
	require.False(t, s.Failed())
}

func TestToolCallUnknownToolFailsRun(t *testing.T) {
	node, err := NewToolCall(&ToolCallOptions{Executor: newEchoExecutor(t, tools.TierReadOnly)})
	require.NoError(t, err)

	s := &State{ToolRequest: &tools.Request{Tool: "missing"}}
	node.Run(context.Background(), s)
	require.True(t, s.Failed())
	require.Equal(t, tools.ErrCodeToolNotFound, s.Err.Code)
}
