package state

import (
	"errors"
	"fmt"
)

// Status is the lifecycle stage of a room.
type Status string

const (
	Waiting  Status = "waiting"
	Playing  Status = "playing"
	Finished Status = "finished"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// 房间状态转换表
var defaultTransitions = map[Status]map[Status]bool{
	Waiting: {
		Playing: true, // second player joined
		Waiting: true, // restart before anyone joined
	},
	Playing: {
		Finished: true,
		Playing:  true, // restart mid-game
	},
	Finished: {
		Playing: true,
	},
}

// Machine tracks a room's status. It is not safe for concurrent use; the
// owning room serializes access.
type Machine struct {
	current     Status
	transitions map[Status]map[Status]bool
}

// NewMachine starts in Waiting with the default transition table.
func NewMachine() *Machine {
	return &Machine{
		current:     Waiting,
		transitions: defaultTransitions,
	}
}

func (m *Machine) Current() Status {
	return m.current
}

// Can reports whether moving to the given status is allowed.
func (m *Machine) Can(to Status) bool {
	return m.transitions[m.current][to]
}

// Transition moves to the given status or returns ErrTransitionNotAllowed.
func (m *Machine) Transition(to Status) error {
	if !m.Can(to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, m.current, to)
	}
	m.current = to
	return nil
}
