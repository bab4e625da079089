// ABOUTME: Ingestor drives webhook commands through get -> transition -> commit.
// ABOUTME: Retries version conflicts a bounded number of times, then surfaces Conflict.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/store"
)

// Outcome classifies what one ingested payload did.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeUnknownCard Outcome = "unknown_card"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeStale       Outcome = "stale"
	OutcomeTerminal    Outcome = "terminal"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeConflict    Outcome = "conflict"
)

// commitRetries bounds how often a lost optimistic-concurrency race is
// replayed with the same event before surfacing Conflict. Concurrent human
// double-clicks are expected, not pathological.
const commitRetries = 3

// Receipt reports the result of one ingested payload back to the webhook
// handler. Action mirrors the original bot's response shape.
type Receipt struct {
	Outcome Outcome    `json:"outcome"`
	Action  string     `json:"action,omitempty"`
	CardID  *ulid.ULID `json:"card_id,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// Ingestor is the sole ingestion path for approval decisions and expiry
// signals. It owns no card state: every read and write goes through the store.
type Ingestor struct {
	store      store.CardStore
	dispatcher *Dispatcher
	allowChat  string
	now        func() time.Time
}

// NewIngestor creates an Ingestor. allowChat restricts webhook commands to
// one approver chat id; empty allows any chat.
func NewIngestor(st store.CardStore, dispatcher *Dispatcher, allowChat string) *Ingestor {
	return &Ingestor{
		store:      st,
		dispatcher: dispatcher,
		allowChat:  allowChat,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest parses one raw webhook body and applies it. Malformed payloads and
// unknown cards never mutate state; both are acknowledged to the provider so
// it stops redelivering them.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) (Receipt, error) {
	cmd, err := ParseUpdate(raw, in.allowChat)
	switch {
	case errors.Is(err, ErrNoText):
		return Receipt{Outcome: OutcomeIgnored, Reason: "no_text"}, nil
	case errors.Is(err, ErrUnknownChat):
		return Receipt{Outcome: OutcomeIgnored, Reason: "unknown_chat"}, nil
	case errors.Is(err, ErrUnknownCommand):
		return Receipt{Outcome: OutcomeIgnored, Reason: "unknown_command"}, nil
	case err != nil:
		return Receipt{Outcome: OutcomeMalformed, Reason: err.Error()}, nil
	}

	if cmd.Regenerate {
		return in.applyRegenerate(ctx, cmd)
	}

	ev := gate.Event{
		EventID:  cmd.EventID,
		CardID:   cmd.CardID,
		Kind:     cmd.Kind,
		Decision: cmd.Decision,
		Selector: cmd.Selector,
	}
	return in.applyEvent(ctx, ev, actionName(cmd))
}

// SubmitExpiry feeds a scheduler expiry through the same transition and
// staleness checks as human decisions. The event id is deterministic per gate
// instance, so a duplicate timer firing dedups like any replayed event.
func (in *Ingestor) SubmitExpiry(ctx context.Context, cardID ulid.ULID, kind gate.GateKind, openedAt time.Time) (Receipt, error) {
	ev := gate.Event{
		EventID:      fmt.Sprintf("expiry-%s-%s-%d", cardID, kind, openedAt.UnixNano()),
		CardID:       cardID,
		Kind:         kind,
		Decision:     gate.DecisionExpire,
		GateOpenedAt: openedAt,
	}
	return in.applyEvent(ctx, ev, string(kind)+"_expired")
}

// applyEvent runs the read-transition-commit loop. On VersionConflict the
// same event is replayed against a fresh read; it is an idempotent replay,
// not a new decision, so the staleness guards decide its fate.
func (in *Ingestor) applyEvent(ctx context.Context, ev gate.Event, action string) (Receipt, error) {
	id := ev.CardID
	for attempt := 0; attempt < commitRetries; attempt++ {
		card, err := in.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return Receipt{Outcome: OutcomeUnknownCard, CardID: &id}, nil
		}
		if err != nil {
			return Receipt{}, fmt.Errorf("read card %s: %w", id, err)
		}

		result, err := gate.Transition(card, ev, in.now())
		if err != nil {
			return receiptForTransitionError(id, err)
		}
		if result.Duplicate {
			return Receipt{Outcome: OutcomeDuplicate, CardID: &id}, nil
		}

		committed, err := in.store.Commit(ctx, card.Version, result.Card)
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			log.Printf("component=ingest action=commit_conflict card=%s event=%s attempt=%d", id, ev.EventID, attempt+1)
			continue
		}
		if errors.Is(err, store.ErrNotFound) {
			return Receipt{Outcome: OutcomeUnknownCard, CardID: &id}, nil
		}
		if err != nil {
			return Receipt{}, fmt.Errorf("commit card %s: %w", id, err)
		}

		in.dispatcher.Dispatch(committed, result.Effects)
		return Receipt{Outcome: OutcomeAccepted, Action: action, CardID: &id}, nil
	}

	return Receipt{Outcome: OutcomeConflict, CardID: &id},
		fmt.Errorf("card %s: gave up after %d version conflicts", id, commitRetries)
}

// AdvanceFunc is a generator-driven mutation: SendPhrases, AttachImage, and
// friends from the gate package, partially applied by the caller.
type AdvanceFunc func(card gate.Card, now time.Time) (gate.Card, []gate.SideEffect, error)

// Advance applies a generator-driven mutation through the same
// read-commit-dispatch path as webhook events: effects run only after the
// commit succeeds, and version conflicts are retried a bounded number of
// times.
func (in *Ingestor) Advance(ctx context.Context, id ulid.ULID, fn AdvanceFunc) (gate.Card, error) {
	var lastErr error
	for attempt := 0; attempt < commitRetries; attempt++ {
		card, err := in.store.Get(ctx, id)
		if err != nil {
			return gate.Card{}, err
		}

		next, effects, err := fn(card, in.now())
		if err != nil {
			return gate.Card{}, err
		}

		committed, err := in.store.Commit(ctx, card.Version, next)
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return gate.Card{}, err
		}

		in.dispatcher.Dispatch(committed, effects)
		return committed, nil
	}
	return gate.Card{}, lastErr
}

// applyRegenerate handles /regenerate commands, which reset a rejected card
// instead of resolving a gate.
func (in *Ingestor) applyRegenerate(ctx context.Context, cmd Command) (Receipt, error) {
	id := cmd.CardID
	_, err := in.Advance(ctx, id, func(card gate.Card, now time.Time) (gate.Card, []gate.SideEffect, error) {
		return gate.Regenerate(card, now)
	})
	if errors.Is(err, store.ErrNotFound) {
		return Receipt{Outcome: OutcomeUnknownCard, CardID: &id}, nil
	}
	if err != nil {
		receipt, rerr := receiptForTransitionError(id, err)
		if rerr == nil {
			return receipt, nil
		}
		var conflict *store.VersionConflictError
		if errors.As(err, &conflict) {
			return Receipt{Outcome: OutcomeConflict, CardID: &id}, err
		}
		return Receipt{}, fmt.Errorf("regenerate card %s: %w", id, err)
	}
	return Receipt{Outcome: OutcomeAccepted, Action: "regenerate_requested", CardID: &id}, nil
}

// receiptForTransitionError maps transition errors to outcomes. Stale events
// are dropped silently; terminal and validation failures are acknowledged as
// no-ops so the provider stops redelivering.
func receiptForTransitionError(id ulid.ULID, err error) (Receipt, error) {
	var stale *gate.StaleEventError
	if errors.As(err, &stale) {
		return Receipt{Outcome: OutcomeStale, CardID: &id, Reason: stale.Error()}, nil
	}
	var terminal *gate.TerminalStateError
	if errors.As(err, &terminal) {
		return Receipt{Outcome: OutcomeTerminal, CardID: &id, Reason: terminal.Error()}, nil
	}
	var selector *gate.InvalidSelectorError
	if errors.As(err, &selector) {
		return Receipt{Outcome: OutcomeInvalid, CardID: &id, Reason: selector.Error()}, nil
	}
	var badState *gate.InvalidStateError
	if errors.As(err, &badState) {
		return Receipt{Outcome: OutcomeInvalid, CardID: &id, Reason: badState.Error()}, nil
	}
	return Receipt{}, err
}

func actionName(cmd Command) string {
	verb := "approved"
	if cmd.Decision == gate.DecisionReject {
		verb = "rejected"
	}
	switch cmd.Kind {
	case gate.GatePhrase:
		return "phrase_" + verb
	case gate.GateImage:
		return "image_" + verb
	case gate.GatePreview:
		return "final_" + verb
	}
	return verb
}
