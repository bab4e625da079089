// ABOUTME: Card is the unit of generated content tracked through the approval lifecycle.
// ABOUTME: Holds lifecycle state, phrase candidates, artifact refs, and the open gate.
package gate

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// State is a card's lifecycle state. Transitions are monotonic along the
// lifecycle graph; the only backward edge is rejected -> phrases_pending
// via regeneration.
type State string

const (
	StatePhrasesPending State = "phrases_pending"
	StatePhrasesSent    State = "phrases_sent"
	StatePhraseApproved State = "phrase_approved"
	StateImagePending   State = "image_pending"
	StateImageSent      State = "image_sent"
	StateImageApproved  State = "image_approved"
	StatePreviewPending State = "preview_pending"
	StatePreviewSent    State = "preview_sent"
	StatePublished      State = "published"
	StateRejected       State = "rejected"
	StateExpired        State = "expired"
)

// Terminal reports whether no further events are accepted in this state.
// Only published is terminal for event handling: a late decision against an
// expired or rejected card is a stale event (the gate is gone), and rejected
// cards can still be reopened by a regeneration call.
func (s State) Terminal() bool {
	return s == StatePublished
}

// GateKind identifies which approval gate a card is waiting on.
type GateKind string

const (
	GatePhrase  GateKind = "phrase"
	GateImage   GateKind = "image"
	GatePreview GateKind = "preview"
)

// sentStateFor maps a gate kind to the *_sent state in which that gate is open.
func sentStateFor(kind GateKind) State {
	switch kind {
	case GatePhrase:
		return StatePhrasesSent
	case GateImage:
		return StateImageSent
	case GatePreview:
		return StatePreviewSent
	}
	return ""
}

// approvedStateFor maps a gate kind to the state an approval moves the card into.
func approvedStateFor(kind GateKind) State {
	switch kind {
	case GatePhrase:
		return StatePhraseApproved
	case GateImage:
		return StateImageApproved
	case GatePreview:
		return StatePublished
	}
	return ""
}

// Phrase is one candidate phrase generated for a card.
type Phrase struct {
	Text string `json:"text"`
	Tone string `json:"tone,omitempty"`
	Best bool   `json:"best,omitempty"`
}

// OpenGate is the single gate a card may be waiting on. SeenEventIDs is the
// dedup window: event ids already applied against this gate instance.
type OpenGate struct {
	Kind         GateKind  `json:"kind"`
	OpenedAt     time.Time `json:"opened_at"`
	Deadline     time.Time `json:"deadline"`
	SeenEventIDs []string  `json:"seen_event_ids"`
}

// Seen reports whether eventID was already applied against this gate.
func (g *OpenGate) Seen(eventID string) bool {
	for _, id := range g.SeenEventIDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// Card is the durable record of one generated card.
type Card struct {
	CardID              ulid.ULID `json:"card_id"`
	State               State     `json:"state"`
	ThemeName           string    `json:"theme_name"`
	PlanDate            string    `json:"plan_date,omitempty"`
	Phrases             []Phrase  `json:"phrases"`
	SelectedPhraseIndex *int      `json:"selected_phrase_index,omitempty"`
	ImageRef            string    `json:"image_ref,omitempty"`
	PreviewRef          string    `json:"preview_ref,omitempty"`
	FinalRef            string    `json:"final_ref,omitempty"`
	OpenGate            *OpenGate `json:"open_gate,omitempty"`
	LastEventID         string    `json:"last_event_id,omitempty"`
	Version             uint64    `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewCard creates a Card in phrases_pending with version 1 and no open gate.
func NewCard(themeName, planDate string) Card {
	now := time.Now().UTC()
	return Card{
		CardID:    NewULID(),
		State:     StatePhrasesPending,
		ThemeName: themeName,
		PlanDate:  planDate,
		Phrases:   []Phrase{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SelectedPhrase returns the approved phrase text, or "" if none is selected.
func (c *Card) SelectedPhrase() string {
	if c.SelectedPhraseIndex == nil {
		return ""
	}
	i := *c.SelectedPhraseIndex
	if i < 0 || i >= len(c.Phrases) {
		return ""
	}
	return c.Phrases[i].Text
}
