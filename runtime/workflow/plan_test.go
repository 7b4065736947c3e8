package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompilePlanLinear(t *testing.T) {
	g, err := CompilePlan(PlanInput{Intent: "chat"})
	require.NoError(t, err)

	order, err := TopologicalOrder(g)
	require.NoError(t, err)
	require.Equal(t, []string{"router", "context_builder", "llm_worker", "validator"}, order)
	require.Equal(t, "router", g.Entry)
}

func TestCompilePlanWithToolCall(t *testing.T) {
	g, err := CompilePlan(PlanInput{Intent: "file_ops", HasToolCall: true})
	require.NoError(t, err)

	order, err := TopologicalOrder(g)
	require.NoError(t, err)
	require.Equal(t, []string{"router", "context_builder", "tool_call", "llm_worker", "validator"}, order)
}

func TestCompilePlanIsDeterministic(t *testing.T) {
	g1, err := CompilePlan(PlanInput{Intent: "code", HasToolCall: true})
	require.NoError(t, err)
	g2, err := CompilePlan(PlanInput{Intent: "code", HasToolCall: true})
	require.NoError(t, err)

	c1, err := g1.Canonical()
	require.NoError(t, err)
	c2, err := g2.Canonical()
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}
