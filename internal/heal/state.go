package heal

import (
	"fmt"
	"time"
)

// State is a node of the repair state machine.
type State string

const (
	StateIdle       State = "idle"
	StateDiagnosing State = "diagnosing"
	StatePatching   State = "patching"
	StateVerifying  State = "verifying"
	StateHealed     State = "healed"
	StateExhausted  State = "exhausted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateHealed || s == StateExhausted
}

var transitions = map[State][]State{
	StateIdle:       {StateDiagnosing},
	StateDiagnosing: {StatePatching, StateExhausted},
	StatePatching:   {StateVerifying, StateExhausted},
	StateVerifying:  {StateHealed, StateDiagnosing, StateExhausted},
}

// CanTransition reports whether from -> to is an edge of the machine.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded edge.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// machine tracks the current state and refuses illegal edges.
type machine struct {
	state   State
	history []Transition
	now     func() time.Time
	onEnter func(Transition)
}

func newMachine(now func() time.Time, onEnter func(Transition)) *machine {
	return &machine{state: StateIdle, now: now, onEnter: onEnter}
}

func (m *machine) to(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, next)
	}
	t := Transition{From: m.state, To: next, At: m.now()}
	m.state = next
	m.history = append(m.history, t)
	if m.onEnter != nil {
		m.onEnter(t)
	}
	return nil
}
