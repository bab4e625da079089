// ABOUTME: Sentinel errors and typed error structs for gate transitions.
// ABOUTME: Maps the error taxonomy: stale events, terminal states, bad selectors.
package gate

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrMissingPhrases indicates phrases_sent was requested with no candidates.
	ErrMissingPhrases = errors.New("at least one phrase is required")

	// ErrMissingArtifact indicates an artifact attach with an empty ref.
	ErrMissingArtifact = errors.New("artifact ref must not be empty")
)

// StaleEventError indicates an event no longer matches the open gate: wrong
// gate kind, or an expiry for a gate instance that already closed. Stale
// events are dropped without mutating the card.
type StaleEventError struct {
	CardID ulid.ULID
	Got    GateKind
	State  State
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("stale event for card %s: gate kind %q does not match state %q", e.CardID, e.Got, e.State)
}

// TerminalStateError indicates an event arrived for a published card.
// Surfaced to the caller as a no-op acknowledgment.
type TerminalStateError struct {
	CardID ulid.ULID
	State  State
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("card %s is terminal in state %q", e.CardID, e.State)
}

// InvalidSelectorError indicates a phrase approval with an out-of-range index.
type InvalidSelectorError struct {
	CardID   ulid.ULID
	Selector int
	Count    int
}

func (e *InvalidSelectorError) Error() string {
	return fmt.Sprintf("card %s: phrase index %d out of range (have %d phrases)", e.CardID, e.Selector, e.Count)
}

// InvalidStateError indicates a generator-driven advance from the wrong state.
type InvalidStateError struct {
	CardID ulid.ULID
	State  State
	Want   State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("card %s is in state %q, want %q", e.CardID, e.State, e.Want)
}
