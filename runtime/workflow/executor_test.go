package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bentman/jarvis/runtime/workflow/nodes"
)

type fakeNode struct {
	id  string
	typ string
	run func(s *nodes.State)
}

func (f *fakeNode) ID() string   { return f.id }
func (f *fakeNode) Type() string { return f.typ }
func (f *fakeNode) Run(_ context.Context, s *nodes.State) {
	if f.run != nil {
		f.run(s)
	}
}

func linearGraph(t *testing.T, ids ...string) *Graph {
	t.Helper()
	var nodeList []Node
	var edges []Edge
	for i, id := range ids {
		nodeList = append(nodeList, Node{ID: id, Type: "fake"})
		if i > 0 {
			edges = append(edges, Edge{From: ids[i-1], To: id})
		}
	}
	g, err := NewGraph(nodeList, edges, ids[0])
	require.NoError(t, err)
	return g
}

func TestExecutorRunsInOrderAndEmitsEvents(t *testing.T) {
	g := linearGraph(t, "a", "b")
	var ran []string
	impls := map[string]nodes.Node{
		"a": &fakeNode{id: "a", typ: "fake", run: func(*nodes.State) { ran = append(ran, "a") }},
		"b": &fakeNode{id: "b", typ: "fake", run: func(*nodes.State) { ran = append(ran, "b") }},
	}

	var events []NodeEvent
	state := &nodes.State{}
	err := NewExecutor(nil).Run(context.Background(), g, impls, state, func(ev NodeEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ran)

	require.Len(t, events, 4)
	require.Equal(t, "a", events[0].NodeID)
	require.Equal(t, EventStart, events[0].Event)
	require.Equal(t, EventEnd, events[1].Event)
	require.Equal(t, "b", events[2].NodeID)
	require.Equal(t, EventEnd, events[3].Event)
	// Offsets never decrease along the run.
	require.GreaterOrEqual(t, events[2].StartOffsetNS, events[0].StartOffsetNS)
}

func TestExecutorHaltsOnNodeFailure(t *testing.T) {
	g := linearGraph(t, "a", "b", "c")
	var ran []string
	impls := map[string]nodes.Node{
		"a": &fakeNode{id: "a", typ: "fake", run: func(*nodes.State) { ran = append(ran, "a") }},
		"b": &fakeNode{id: "b", typ: "fake", run: func(s *nodes.State) {
			ran = append(ran, "b")
			s.Fail("boom_code", "boom")
		}},
		"c": &fakeNode{id: "c", typ: "fake", run: func(*nodes.State) { ran = append(ran, "c") }},
	}

	var events []NodeEvent
	state := &nodes.State{}
	err := NewExecutor(nil).Run(context.Background(), g, impls, state, func(ev NodeEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ran)
	require.True(t, state.Failed())

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Event)
	require.Equal(t, "b", last.NodeID)
	require.Equal(t, "boom_code", last.ErrorCode)
}

func TestExecutorCycleRunsNothing(t *testing.T) {
	g, err := NewGraph(
		[]Node{{ID: "a"}, {ID: "b"}},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
		"a",
	)
	require.NoError(t, err)

	ran := false
	impls := map[string]nodes.Node{
		"a": &fakeNode{id: "a", run: func(*nodes.State) { ran = true }},
		"b": &fakeNode{id: "b", run: func(*nodes.State) { ran = true }},
	}
	var events []NodeEvent
	err = NewExecutor(nil).Run(context.Background(), g, impls, &nodes.State{}, func(ev NodeEvent) {
		events = append(events, ev)
	})
	require.ErrorIs(t, err, ErrCycleDetected)
	require.False(t, ran)
	require.Empty(t, events)
}

func TestExecutorMissingImplementation(t *testing.T) {
	g := linearGraph(t, "a", "b")
	impls := map[string]nodes.Node{"a": &fakeNode{id: "a"}}
	err := NewExecutor(nil).Run(context.Background(), g, impls, &nodes.State{}, nil)
	require.Error(t, err)
}

func TestExecutorExpiredDeadline(t *testing.T) {
	g := linearGraph(t, "a")
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	ran := false
	impls := map[string]nodes.Node{"a": &fakeNode{id: "a", run: func(*nodes.State) { ran = true }}}
	err := NewExecutor(nil).Run(ctx, g, impls, &nodes.State{}, nil)
	require.ErrorIs(t, err, ErrDeadlineExceeded)
	require.False(t, ran)
}
