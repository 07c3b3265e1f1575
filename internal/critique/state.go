// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package critique

import "fmt"

// State is a position in the Critic/Reviser state machine.
type State string

const (
	StateDrafted   State = "drafted"
	StateCritiqued State = "critiqued"
	StateRevised   State = "revised"
	StateEvaluated State = "evaluated"
	StateConverged State = "converged"
)

// transitions lists the legal successors of each state. A round that fails
// after critique returns to drafted without a candidate.
var transitions = map[State][]State{
	StateDrafted:   {StateCritiqued, StateConverged},
	StateCritiqued: {StateRevised, StateDrafted, StateConverged},
	StateRevised:   {StateEvaluated, StateDrafted, StateConverged},
	StateEvaluated: {StateDrafted, StateConverged},
}

// Step records one transition.
type Step struct {
	Round int   `json:"round" yaml:"round"`
	From  State `json:"from" yaml:"from"`
	To    State `json:"to" yaml:"to"`
}

// machine tracks the current state and the transition history.
type machine struct {
	current State
	round   int
	steps   []Step
}

func newMachine() *machine {
	return &machine{current: StateDrafted}
}

// advance moves to next. An illegal transition is a programming error.
func (m *machine) advance(next State) error {
	for _, ok := range transitions[m.current] {
		if ok == next {
			m.steps = append(m.steps, Step{Round: m.round, From: m.current, To: next})
			m.current = next
			return nil
		}
	}
	return fmt.Errorf("critique: illegal transition %s -> %s", m.current, next)
}
