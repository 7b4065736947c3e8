package workflow

// PlanInput describes what the compiled plan must cover.
type PlanInput struct {
	// Intent is the router classification for the turn.
	Intent string
	// HasToolCall inserts the tool_call node between the context builder
	// and the model worker.
	HasToolCall bool
}

// CompilePlan produces the fixed workflow graph for a turn. The topology is
// the same for every intent today; the intent is recorded on the router node
// so traces show what was classified. Compilation is deterministic: equal
// inputs compile to byte-identical canonical graphs.
func CompilePlan(in PlanInput) (*Graph, error) {
	nodeList := []Node{
		{ID: "router", Type: TypeRouter},
		{ID: "context_builder", Type: TypeContextBuilder},
		{ID: "llm_worker", Type: TypeLLMWorker},
		{ID: "validator", Type: TypeValidator},
	}
	if in.Intent != "" {
		nodeList[0].Params = map[string]any{"intent": in.Intent}
	}
	edges := []Edge{
		{From: "router", To: "context_builder"},
		{From: "llm_worker", To: "validator"},
	}
	if in.HasToolCall {
		nodeList = append(nodeList, Node{ID: "tool_call", Type: TypeToolCall})
		edges = append(edges,
			Edge{From: "context_builder", To: "tool_call"},
			Edge{From: "tool_call", To: "llm_worker"},
		)
	} else {
		edges = append(edges, Edge{From: "context_builder", To: "llm_worker"})
	}
	return NewGraph(nodeList, edges, "router")
}
