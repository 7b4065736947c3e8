// Package controller drives a task through its fixed lifecycle: compile a
// plan, execute the workflow graph, validate the output, commit memory, and
// archive. Every transition and node event lands on the replayable trace.
package controller

import (
	"errors"
	"fmt"
)

// State is one FSM state of a task run.
type State string

// Task lifecycle states.
const (
	StateInit     State = "INIT"
	StatePlan     State = "PLAN"
	StateExecute  State = "EXECUTE"
	StateValidate State = "VALIDATE"
	StateCommit   State = "COMMIT"
	StateArchive  State = "ARCHIVE"
	StateFailed   State = "FAILED"
)

// ErrInvalidTransition reports a transition outside the legal set. It is a
// programmer error; user input cannot reach it.
var ErrInvalidTransition = errors.New("controller: invalid_transition")

// transitions is the legal successor set. FAILED is additionally reachable
// from every non-terminal state.
var transitions = map[State][]State{
	StateInit:     {StatePlan},
	StatePlan:     {StateExecute},
	StateExecute:  {StateValidate},
	StateValidate: {StateCommit},
	StateCommit:   {StateArchive},
}

// Terminal reports whether s admits no further transitions.
func Terminal(s State) bool {
	return s == StateArchive || s == StateFailed
}

// Machine is one task's FSM instance. It starts at INIT.
type Machine struct {
	current State
}

// NewMachine constructs a Machine at INIT.
func NewMachine() *Machine {
	return &Machine{current: StateInit}
}

// Current returns the machine's state.
func (m *Machine) Current() State { return m.current }

// Advance moves the machine to next, or returns ErrInvalidTransition.
func (m *Machine) Advance(next State) error {
	if Terminal(m.current) {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, m.current)
	}
	if next == StateFailed {
		m.current = next
		return nil
	}
	for _, legal := range transitions[m.current] {
		if legal == next {
			m.current = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, next)
}
