package notify

import (
	"fmt"
)

var transitions = map[State][]State{
	StatePending:   {StateSending},
	StateSending:   {StateDelivered, StateRetryWait, StateFailed},
	StateRetryWait: {StateSending},
	// manual replay
	StateFailed: {StatePending},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned for transitions outside the state machine.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("notify: invalid transition %s -> %s", e.From, e.To)
}

// checkTransition returns ErrInvalidTransition when from -> to is not allowed.
func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition{From: from, To: to}
	}
	return nil
}
