// Package workflow models the task DAG: a small graph of typed nodes
// compiled per intent, executed sequentially in deterministic topological
// order, with per-node events streamed to the caller's trace sink.
package workflow

import (
	"fmt"
	"sort"

	"github.com/bentman/jarvis/runtime/canonjson"
)

// Node types.
const (
	TypeRouter         = "router"
	TypeContextBuilder = "context_builder"
	TypeToolCall       = "tool_call"
	TypeLLMWorker      = "llm_worker"
	TypeValidator      = "validator"
)

type (
	// Node is one vertex of the workflow graph.
	Node struct {
		ID     string         `json:"id"`
		Type   string         `json:"type"`
		Params map[string]any `json:"params,omitempty"`
	}

	// Edge is a directed dependency from one node to another.
	Edge struct {
		From string `json:"from"`
		To   string `json:"to"`
	}

	// Graph is an immutable workflow DAG. Construct with NewGraph, which
	// canonicalizes node and edge order.
	Graph struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
		Entry string `json:"entry"`
	}
)

// NewGraph builds a canonical graph: nodes sorted by id, edges sorted
// lexicographically with duplicates removed. Edges referencing unknown nodes
// are rejected.
func NewGraph(nodes []Node, edges []Edge, entry string) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("workflow: graph needs at least one node")
	}
	byID := make(map[string]struct{}, len(nodes))
	sortedNodes := make([]Node, len(nodes))
	copy(sortedNodes, nodes)
	sort.Slice(sortedNodes, func(i, j int) bool { return sortedNodes[i].ID < sortedNodes[j].ID })
	for i, n := range sortedNodes {
		if n.ID == "" {
			return nil, fmt.Errorf("workflow: node %d has no id", i)
		}
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("workflow: duplicate node id %q", n.ID)
		}
		byID[n.ID] = struct{}{}
	}
	if _, ok := byID[entry]; !ok {
		return nil, fmt.Errorf("workflow: entry %q is not a node", entry)
	}

	seen := make(map[Edge]struct{}, len(edges))
	var sortedEdges []Edge
	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			return nil, fmt.Errorf("workflow: edge from unknown node %q", e.From)
		}
		if _, ok := byID[e.To]; !ok {
			return nil, fmt.Errorf("workflow: edge to unknown node %q", e.To)
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		sortedEdges = append(sortedEdges, e)
	}
	sort.Slice(sortedEdges, func(i, j int) bool {
		if sortedEdges[i].From != sortedEdges[j].From {
			return sortedEdges[i].From < sortedEdges[j].From
		}
		return sortedEdges[i].To < sortedEdges[j].To
	})

	return &Graph{Nodes: sortedNodes, Edges: sortedEdges, Entry: entry}, nil
}

// Canonical returns the byte-stable canonical JSON form of the graph. Two
// graphs with the same nodes and edges encode identically regardless of
// construction order.
func (g *Graph) Canonical() (string, error) {
	return canonjson.MarshalString(g)
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
