package exchange

import (
	"fmt"
	"slices"
)

// State is a step of one generation run.
type State string

const (
	StateIdle          State = "idle"
	StateFetching      State = "fetching"
	StateScoring       State = "scoring"
	StateParsingOutput State = "parsing_output"
	StatePersisting    State = "persisting"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

var transitions = map[State][]State{
	StateIdle:          {StateFetching},
	StateFetching:      {StateScoring, StateFailed},
	StateScoring:       {StateParsingOutput, StateFailed},
	StateParsingOutput: {StatePersisting, StateFailed},
	StatePersisting:    {StateDone, StateFailed},
}

// Observer is notified of every state change of a run.
type Observer func(from, to State)

// machine tracks the state of a single run.
type machine struct {
	state    State
	observer Observer
}

func newMachine(observer Observer) *machine {
	return &machine{state: StateIdle, observer: observer}
}

func (m *machine) to(next State) {
	if !slices.Contains(transitions[m.state], next) {
		panic(fmt.Sprintf("exchange: illegal transition %s -> %s", m.state, next))
	}
	prev := m.state
	m.state = next
	if m.observer != nil {
		m.observer(prev, next)
	}
}
