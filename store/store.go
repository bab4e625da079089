// ABOUTME: CardStore contract and its error types: not-found and version conflict.
// ABOUTME: All card mutation flows through Commit with an expected version.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
)

// ErrNotFound indicates the card id does not exist in the store.
var ErrNotFound = errors.New("card not found")

// VersionConflictError indicates a Commit lost a race: another transition
// already committed against the expected version. The caller must re-read
// and retry with the event it holds, not invent a new decision.
type VersionConflictError struct {
	CardID   ulid.ULID
	Expected uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on card %s: expected version %d is stale", e.CardID, e.Expected)
}

// OpenDeadline is one armed gate deadline, read back during scheduler rehydration.
type OpenDeadline struct {
	CardID ulid.ULID
	Gate   gate.OpenGate
}

// CardStore is the single source of truth for card state.
//
// Commit is atomic: it replaces the whole card row only if the stored version
// still equals expectedVersion, and writes version = expectedVersion + 1.
// Exactly one of two concurrent Commits with the same expectedVersion
// succeeds; the loser gets *VersionConflictError.
type CardStore interface {
	Create(ctx context.Context, card gate.Card) error
	Get(ctx context.Context, id ulid.ULID) (gate.Card, error)
	Commit(ctx context.Context, expectedVersion uint64, card gate.Card) (gate.Card, error)
	ListPending(ctx context.Context) ([]gate.Card, error)
	OpenDeadlines(ctx context.Context) ([]OpenDeadline, error)
	Close() error
}
