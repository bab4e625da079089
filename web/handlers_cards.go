// ABOUTME: Card endpoints for the generation pipeline: create, advance, and status polling.
// ABOUTME: Status reads go straight through the store so pollers never see stale state.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/store"
)

// cardCreateRequest seeds a new card for the approval flow.
type cardCreateRequest struct {
	ThemeName string `json:"theme_name"`
	PlanDate  string `json:"plan_date"`
}

// statusResponse is the polling contract: state, version, and artifact refs.
type statusResponse struct {
	CardID              string        `json:"card_id"`
	State               gate.State    `json:"state"`
	Version             uint64        `json:"version"`
	ThemeName           string        `json:"theme_name"`
	PlanDate            string        `json:"plan_date,omitempty"`
	Phrases             []gate.Phrase `json:"phrases"`
	SelectedPhraseIndex *int          `json:"selected_phrase_index,omitempty"`
	ImageRef            string        `json:"image_ref,omitempty"`
	PreviewRef          string        `json:"preview_ref,omitempty"`
	FinalRef            string        `json:"final_ref,omitempty"`
	GateDeadline        *time.Time    `json:"gate_deadline,omitempty"`
}

func statusFromCard(card gate.Card) statusResponse {
	resp := statusResponse{
		CardID:              card.CardID.String(),
		State:               card.State,
		Version:             card.Version,
		ThemeName:           card.ThemeName,
		PlanDate:            card.PlanDate,
		Phrases:             card.Phrases,
		SelectedPhraseIndex: card.SelectedPhraseIndex,
		ImageRef:            card.ImageRef,
		PreviewRef:          card.PreviewRef,
		FinalRef:            card.FinalRef,
	}
	if card.OpenGate != nil {
		deadline := card.OpenGate.Deadline
		resp.GateDeadline = &deadline
	}
	return resp
}

func (s *Server) handleCardCreate(w http.ResponseWriter, r *http.Request) {
	var req cardCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ThemeName == "" {
		writeError(w, http.StatusBadRequest, "theme_name is required")
		return
	}

	card := gate.NewCard(req.ThemeName, req.PlanDate)
	if err := s.store.Create(r.Context(), card); err != nil {
		log.Printf("component=web action=card_create err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to create card")
		return
	}
	writeJSON(w, http.StatusCreated, statusFromCard(card))
}

func (s *Server) handleCardStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	card, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "card not found")
		return
	}
	if err != nil {
		log.Printf("component=web action=card_status card=%s err=%v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read card")
		return
	}
	writeJSON(w, http.StatusOK, statusFromCard(card))
}

func (s *Server) handleCardsPending(w http.ResponseWriter, r *http.Request) {
	cards, err := s.store.ListPending(r.Context())
	if err != nil {
		log.Printf("component=web action=cards_pending err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to list cards")
		return
	}
	resp := make([]statusResponse, 0, len(cards))
	for _, card := range cards {
		resp = append(resp, statusFromCard(card))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCardPhrases(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Phrases []gate.Phrase `json:"phrases"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ttl := s.scheduler.TTLFor(gate.GatePhrase)
	s.advance(w, r, id, func(card gate.Card, now time.Time) (gate.Card, []gate.SideEffect, error) {
		return gate.SendPhrases(card, req.Phrases, now, ttl)
	})
}

func (s *Server) handleImageStart(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	s.advance(w, r, id, gate.BeginImage)
}

func (s *Server) handleImageAttach(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ImageRef string `json:"image_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ttl := s.scheduler.TTLFor(gate.GateImage)
	s.advance(w, r, id, func(card gate.Card, now time.Time) (gate.Card, []gate.SideEffect, error) {
		return gate.AttachImage(card, req.ImageRef, now, ttl)
	})
}

func (s *Server) handlePreviewStart(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	s.advance(w, r, id, gate.BeginPreview)
}

func (s *Server) handlePreviewAttach(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		PreviewRef string `json:"preview_ref"`
		FinalRef   string `json:"final_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ttl := s.scheduler.TTLFor(gate.GatePreview)
	s.advance(w, r, id, func(card gate.Card, now time.Time) (gate.Card, []gate.SideEffect, error) {
		return gate.AttachPreview(card, req.PreviewRef, req.FinalRef, now, ttl)
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := cardIDParam(w, r)
	if !ok {
		return
	}
	s.advance(w, r, id, gate.Regenerate)
}

// advance runs one generator-driven mutation and maps gate errors onto
// HTTP status codes.
func (s *Server) advance(w http.ResponseWriter, r *http.Request, id ulid.ULID, fn func(gate.Card, time.Time) (gate.Card, []gate.SideEffect, error)) {
	card, err := s.ingestor.Advance(r.Context(), id, fn)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "card not found")
		case errors.Is(err, gate.ErrMissingPhrases), errors.Is(err, gate.ErrMissingArtifact):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case isInvalidState(err):
			writeError(w, http.StatusConflict, err.Error())
		case isVersionConflict(err):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("component=web action=advance card=%s err=%v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to advance card")
		}
		return
	}
	writeJSON(w, http.StatusOK, statusFromCard(card))
}

func cardIDParam(w http.ResponseWriter, r *http.Request) (ulid.ULID, bool) {
	id, err := ulid.Parse(chi.URLParam(r, "cardID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return ulid.ULID{}, false
	}
	return id, true
}

func isInvalidState(err error) bool {
	var e *gate.InvalidStateError
	return errors.As(err, &e)
}

func isVersionConflict(err error) bool {
	var e *store.VersionConflictError
	return errors.As(err, &e)
}
