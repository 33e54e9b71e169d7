// Package domain holds the submission lifecycle: states, results and the
// privacy tradeoff offered to protected relays.
package domain

import (
	"fmt"
	"slices"

	"github.com/fd1az/mev-arbitrage/internal/apperror"
)

// State is a position in the submission lifecycle.
type State string

const (
	StateBuilt     State = "built"
	StateSimulated State = "simulated"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateReverted  State = "reverted"
	StateExpired   State = "expired"
	StateDiscarded State = "discarded"
)

// transitions lists the legal successors of each state. A plan that fails
// simulation leaves through Discarded and never reaches Submitted.
var transitions = map[State][]State{
	StateBuilt:     {StateSimulated, StateDiscarded},
	StateSimulated: {StateSubmitted},
	StateSubmitted: {StateSubmitted, StateConfirmed, StateReverted, StateExpired},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s State) String() string { return string(s) }

func invalidTransition(from, to State) error {
	return apperror.New(apperror.CodeInvalidTransition,
		apperror.WithContext(fmt.Sprintf("%s -> %s", from, to)))
}
