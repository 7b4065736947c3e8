package controller

import (
	"github.com/bentman/jarvis/runtime/canonjson"
)

// Trace event types beyond the workflow node events.
const (
	// EventTransition marks one FSM transition.
	EventTransition = "transition"
	// EventLatencyBaseline is the final trace entry carrying the total run
	// latency in ElapsedNS.
	EventLatencyBaseline = "controller_latency_baseline_total_elapsed_ns"
)

type (
	// TraceEntry is one replayable trace event: an FSM transition, a node
	// event, or the closing latency baseline.
	TraceEntry struct {
		TaskID          string `json:"task_id,omitempty"`
		ControllerState State  `json:"controller_state"`
		EventType       string `json:"event_type"`
		NodeID          string `json:"node_id,omitempty"`
		NodeType        string `json:"node_type,omitempty"`
		Success         bool   `json:"success"`
		ElapsedNS       int64  `json:"elapsed_ns"`
		StartOffsetNS   int64  `json:"start_offset_ns"`
		ErrorCode       string `json:"error_code,omitempty"`
	}

	// canonicalEntry is the replay-stable projection of a TraceEntry:
	// identity and timing are dropped, everything semantic is kept.
	canonicalEntry struct {
		ControllerState State  `json:"controller_state"`
		EventType       string `json:"event_type"`
		NodeID          string `json:"node_id"`
		NodeType        string `json:"node_type"`
		Success         bool   `json:"success"`
		ErrorPresent    bool   `json:"error_present"`
		ErrorCode       string `json:"error_code"`
	}
)

// CanonicalTrace renders the trace in its canonical byte-stable form. Two
// runs of the same input with the same stubbed model produce identical
// canonical traces even though their timings differ.
func CanonicalTrace(entries []TraceEntry) (string, error) {
	canon := make([]canonicalEntry, len(entries))
	for i, e := range entries {
		canon[i] = canonicalEntry{
			ControllerState: e.ControllerState,
			EventType:       e.EventType,
			NodeID:          e.NodeID,
			NodeType:        e.NodeType,
			Success:         e.Success,
			ErrorPresent:    e.ErrorCode != "",
			ErrorCode:       e.ErrorCode,
		}
	}
	return canonjson.MarshalString(canon)
}
