// ABOUTME: Telegram webhook endpoint feeding raw updates into the ingestor.
// ABOUTME: Always acknowledges with 200 so the provider stops redelivering handled updates.
package web

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
)

// handleWebhook ingests one Telegram update. Everything short of an internal
// failure is acknowledged with 200: malformed payloads, unknown cards, and
// stale events are dropped by design, and a non-2xx would only make the
// provider redeliver them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	receipt, err := s.ingestor.Ingest(r.Context(), raw)
	if err != nil {
		log.Printf("component=web action=webhook outcome=%s err=%v", receipt.Outcome, err)
		writeError(w, http.StatusInternalServerError, "failed to process update")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleSetupWebhook registers the public base URL with the Telegram Bot
// API. One-time administrative operation.
func (s *Server) handleSetupWebhook(w http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		writeError(w, http.StatusServiceUnavailable, "telegram notifier is not configured")
		return
	}

	var req struct {
		PublicBaseURL string `json:"public_base_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicBaseURL == "" {
		writeError(w, http.StatusBadRequest, "public_base_url is required")
		return
	}

	webhookURL, err := s.telegram.SetupWebhook(r.Context(), req.PublicBaseURL)
	if err != nil {
		log.Printf("component=web action=setup_webhook err=%v", err)
		writeError(w, http.StatusServiceUnavailable, "telegram webhook registration failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"webhook_url": webhookURL})
}
