package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bentman/jarvis/runtime/telemetry"
	"github.com/bentman/jarvis/runtime/workflow/nodes"
)

// Node event kinds.
const (
	EventStart = "start"
	EventEnd   = "end"
	EventError = "error"
)

// Graph-level failure codes.
const (
	CodeCycleDetected    = "cycle_detected"
	CodeDeadlineExceeded = "deadline_exceeded"
)

// ErrCycleDetected reports that the graph has no valid topological order.
// No node runs when it is returned.
var ErrCycleDetected = errors.New("workflow: " + CodeCycleDetected)

// ErrDeadlineExceeded reports that the run deadline expired between nodes.
var ErrDeadlineExceeded = errors.New("workflow: " + CodeDeadlineExceeded)

type (
	// NodeEvent is one entry of the run trace. StartOffsetNS is measured
	// from the start of the run, ElapsedNS from the start of the node.
	NodeEvent struct {
		NodeID        string `json:"node_id"`
		NodeType      string `json:"node_type"`
		Event         string `json:"event"`
		ElapsedNS     int64  `json:"elapsed_ns"`
		StartOffsetNS int64  `json:"start_offset_ns"`
		ErrorCode     string `json:"error_code,omitempty"`
	}

	// Sink receives node events in execution order. A nil sink drops them.
	Sink func(NodeEvent)

	// ExecutorOptions configures an Executor.
	ExecutorOptions struct {
		// Now overrides the clock. Used in tests.
		Now func() time.Time
		// Logger defaults to no-op.
		Logger telemetry.Logger
	}

	// Executor runs a graph's nodes sequentially in deterministic
	// topological order.
	Executor struct {
		now    func() time.Time
		logger telemetry.Logger
	}
)

// NewExecutor constructs an Executor.
func NewExecutor(opts *ExecutorOptions) *Executor {
	e := &Executor{}
	if opts != nil {
		e.now = opts.Now
		e.logger = opts.Logger
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	return e
}

// Run executes the graph over the shared state. Node failures surface on
// state.Err and halt the run without returning an error; only graph-level
// failures (cycle, missing implementation, expired deadline) return one.
func (e *Executor) Run(ctx context.Context, g *Graph, impls map[string]nodes.Node, state *nodes.State, sink Sink) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	for _, id := range order {
		if _, ok := impls[id]; !ok {
			return fmt.Errorf("workflow: node %q has no implementation", id)
		}
	}

	runStart := e.now()
	for _, id := range order {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrDeadlineExceeded, ctx.Err())
		}
		impl := impls[id]
		node, _ := g.NodeByID(id)

		nodeStart := e.now()
		offset := nodeStart.Sub(runStart).Nanoseconds()
		emit(sink, NodeEvent{NodeID: id, NodeType: node.Type, Event: EventStart, StartOffsetNS: offset})

		impl.Run(ctx, state)

		elapsed := e.now().Sub(nodeStart).Nanoseconds()
		if state.Failed() {
			e.logger.Warn(ctx, "workflow: node failed", "node_id", id, "code", state.Err.Code)
			emit(sink, NodeEvent{
				NodeID: id, NodeType: node.Type, Event: EventError,
				ElapsedNS: elapsed, StartOffsetNS: offset, ErrorCode: state.Err.Code,
			})
			return nil
		}
		emit(sink, NodeEvent{
			NodeID: id, NodeType: node.Type, Event: EventEnd,
			ElapsedNS: elapsed, StartOffsetNS: offset,
		})
	}
	return nil
}

// TopologicalOrder returns the graph's deterministic execution order: Kahn's
// algorithm with ready nodes taken in ascending id order. A cyclic graph
// yields ErrCycleDetected.
func TopologicalOrder(g *Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	successors := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		successors[e.From] = append(successors[e.From], e.To)
		indegree[e.To]++
	}

	var ready []string
	for _, n := range g.Nodes {
		if indegree[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		changed := false
		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

func emit(sink Sink, ev NodeEvent) {
	if sink != nil {
		sink(ev)
	}
}
