// ABOUTME: Pure transition functions for the approval-gate state machine.
// ABOUTME: Maps (card, event) to (new card, side effects) without touching storage.
package gate

import (
	"fmt"
	"time"
)

// Result is the outcome of applying an Event to a Card.
//
// When Duplicate is true the event id was already applied: Card is the input
// unchanged, Effects is empty, and the caller must not commit or dispatch.
type Result struct {
	Card      Card
	Effects   []SideEffect
	Duplicate bool
}

// Transition applies one decision event to a card and returns the new card
// plus the side effects to dispatch after commit. It never mutates its input
// and never performs I/O.
//
// Guards, in order: already-applied event ids are no-ops; terminal cards
// reject everything; events that do not match the open gate are stale.
func Transition(card Card, ev Event, now time.Time) (Result, error) {
	if card.LastEventID != "" && card.LastEventID == ev.EventID {
		return Result{Card: card, Duplicate: true}, nil
	}
	if card.OpenGate != nil && card.OpenGate.Seen(ev.EventID) {
		return Result{Card: card, Duplicate: true}, nil
	}
	if card.State.Terminal() {
		return Result{}, &TerminalStateError{CardID: card.CardID, State: card.State}
	}
	if card.OpenGate == nil || card.OpenGate.Kind != ev.Kind {
		return Result{}, &StaleEventError{CardID: card.CardID, Got: ev.Kind, State: card.State}
	}
	if card.State != sentStateFor(ev.Kind) {
		return Result{}, &StaleEventError{CardID: card.CardID, Got: ev.Kind, State: card.State}
	}

	switch ev.Decision {
	case DecisionApprove:
		return applyApprove(card, ev, now)
	case DecisionReject:
		return applyReject(card, ev, now)
	case DecisionExpire:
		return applyExpire(card, ev, now)
	default:
		return Result{}, fmt.Errorf("unknown decision %q", ev.Decision)
	}
}

func applyApprove(card Card, ev Event, now time.Time) (Result, error) {
	if ev.Kind == GatePhrase {
		if ev.Selector < 0 || ev.Selector >= len(card.Phrases) {
			return Result{}, &InvalidSelectorError{CardID: card.CardID, Selector: ev.Selector, Count: len(card.Phrases)}
		}
		idx := ev.Selector
		card.SelectedPhraseIndex = &idx
	}

	gateKind := card.OpenGate.Kind
	card.State = approvedStateFor(ev.Kind)
	card.OpenGate = nil
	card.LastEventID = ev.EventID
	card.UpdatedAt = now

	effects := []SideEffect{
		CancelTimerEffect{CardID: card.CardID, Kind: gateKind},
		NotifyDecisionEffect{CardID: card.CardID, Message: approveMessage(card, gateKind)},
	}
	return Result{Card: card, Effects: effects}, nil
}

func applyReject(card Card, ev Event, now time.Time) (Result, error) {
	gateKind := card.OpenGate.Kind
	card.State = StateRejected
	card.OpenGate = nil
	card.LastEventID = ev.EventID
	card.UpdatedAt = now

	effects := []SideEffect{
		CancelTimerEffect{CardID: card.CardID, Kind: gateKind},
		RequestRegenerationEffect{CardID: card.CardID, Kind: gateKind},
		NotifyDecisionEffect{
			CardID:  card.CardID,
			Message: fmt.Sprintf("%s rejected for card %s. Send /regenerate_%s to retry.", gateLabel(gateKind), card.CardID, card.CardID),
		},
	}
	return Result{Card: card, Effects: effects}, nil
}

// applyExpire fires only if the event identifies the gate instance that is
// still open. An expiry armed for a gate that has since closed and reopened
// carries the old opened_at and is dropped as stale.
func applyExpire(card Card, ev Event, now time.Time) (Result, error) {
	if !ev.GateOpenedAt.Equal(card.OpenGate.OpenedAt) {
		return Result{}, &StaleEventError{CardID: card.CardID, Got: ev.Kind, State: card.State}
	}

	gateKind := card.OpenGate.Kind
	card.State = StateExpired
	card.OpenGate = nil
	card.LastEventID = ev.EventID
	card.UpdatedAt = now

	effects := []SideEffect{
		NotifyDecisionEffect{
			CardID:  card.CardID,
			Message: fmt.Sprintf("%s approval for card %s expired with no response.", gateLabel(gateKind), card.CardID),
		},
	}
	return Result{Card: card, Effects: effects}, nil
}

// SendPhrases records generated phrase candidates and opens the phrase gate.
func SendPhrases(card Card, phrases []Phrase, now time.Time, ttl time.Duration) (Card, []SideEffect, error) {
	if card.State != StatePhrasesPending {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StatePhrasesPending}
	}
	if len(phrases) == 0 {
		return card, nil, ErrMissingPhrases
	}

	card.Phrases = phrases
	card.SelectedPhraseIndex = nil
	return openGate(card, GatePhrase, StatePhrasesSent, "", now, ttl)
}

// BeginImage acknowledges that image generation started for an approved phrase.
func BeginImage(card Card, now time.Time) (Card, []SideEffect, error) {
	if card.State != StatePhraseApproved {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StatePhraseApproved}
	}
	card.State = StateImagePending
	card.UpdatedAt = now
	return card, nil, nil
}

// AttachImage records the generated image ref and opens the image gate.
func AttachImage(card Card, imageRef string, now time.Time, ttl time.Duration) (Card, []SideEffect, error) {
	if card.State != StateImagePending {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StateImagePending}
	}
	if imageRef == "" {
		return card, nil, ErrMissingArtifact
	}
	card.ImageRef = imageRef
	return openGate(card, GateImage, StateImageSent, imageRef, now, ttl)
}

// BeginPreview acknowledges that preview assembly started for an approved image.
func BeginPreview(card Card, now time.Time) (Card, []SideEffect, error) {
	if card.State != StateImageApproved {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StateImageApproved}
	}
	card.State = StatePreviewPending
	card.UpdatedAt = now
	return card, nil, nil
}

// AttachPreview records the assembled preview (and optional final asset) and
// opens the preview gate. Approving it publishes the card.
func AttachPreview(card Card, previewRef, finalRef string, now time.Time, ttl time.Duration) (Card, []SideEffect, error) {
	if card.State != StatePreviewPending {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StatePreviewPending}
	}
	if previewRef == "" {
		return card, nil, ErrMissingArtifact
	}
	card.PreviewRef = previewRef
	if finalRef != "" {
		card.FinalRef = finalRef
	}
	return openGate(card, GatePreview, StatePreviewSent, previewRef, now, ttl)
}

// Regenerate resets a rejected card to phrases_pending so the pipeline can
// produce fresh content. The next SendPhrases opens a fresh gate with an
// empty dedup window.
func Regenerate(card Card, now time.Time) (Card, []SideEffect, error) {
	if card.State != StateRejected {
		return card, nil, &InvalidStateError{CardID: card.CardID, State: card.State, Want: StateRejected}
	}
	card.State = StatePhrasesPending
	card.OpenGate = nil
	card.SelectedPhraseIndex = nil
	card.UpdatedAt = now

	effects := []SideEffect{
		NotifyDecisionEffect{
			CardID:  card.CardID,
			Message: fmt.Sprintf("Regeneration requested for card %s.", card.CardID),
		},
	}
	return card, effects, nil
}

// openGate moves the card into a *_sent state with a fresh gate instance and
// requests the approval prompt plus an expiry timer.
func openGate(card Card, kind GateKind, state State, artifactRef string, now time.Time, ttl time.Duration) (Card, []SideEffect, error) {
	card.State = state
	card.OpenGate = &OpenGate{
		Kind:         kind,
		OpenedAt:     now,
		Deadline:     now.Add(ttl),
		SeenEventIDs: []string{},
	}
	card.UpdatedAt = now

	effects := []SideEffect{
		ArmTimerEffect{CardID: card.CardID, Kind: kind, OpenedAt: now, Deadline: now.Add(ttl)},
		RequestApprovalEffect{CardID: card.CardID, Kind: kind, ArtifactRef: artifactRef},
	}
	return card, effects, nil
}

func approveMessage(card Card, kind GateKind) string {
	switch kind {
	case GatePhrase:
		return fmt.Sprintf("Phrase approved for card %s.", card.CardID)
	case GateImage:
		return fmt.Sprintf("Image approved for card %s.", card.CardID)
	case GatePreview:
		return fmt.Sprintf("Final card approved and published for card %s.", card.CardID)
	}
	return fmt.Sprintf("Approved card %s.", card.CardID)
}

func gateLabel(kind GateKind) string {
	switch kind {
	case GatePhrase:
		return "Phrase"
	case GateImage:
		return "Image"
	case GatePreview:
		return "Final card"
	}
	return string(kind)
}
