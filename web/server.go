// ABOUTME: HTTP server wiring the card endpoints and Telegram webhook behind a chi router.
// ABOUTME: Generators drive card advancement; the orchestrator polls card status.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389-research/cardgate/ingest"
	"github.com/2389-research/cardgate/notify"
	"github.com/2389-research/cardgate/sched"
	"github.com/2389-research/cardgate/store"
)

// Server is the cardgate HTTP surface.
type Server struct {
	store     store.CardStore
	ingestor  *ingest.Ingestor
	scheduler *sched.Scheduler
	telegram  *notify.Telegram
	router    chi.Router
	addr      string
}

// ServerConfig holds the dependencies and listen address for the server.
type ServerConfig struct {
	Addr      string
	Store     store.CardStore
	Ingestor  *ingest.Ingestor
	Scheduler *sched.Scheduler
	Telegram  *notify.Telegram // nil disables webhook registration
}

// NewServer creates a Server and sets up routing.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		store:     cfg.Store,
		ingestor:  cfg.Ingestor,
		scheduler: cfg.Scheduler,
		telegram:  cfg.Telegram,
		addr:      cfg.Addr,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server with timeouts to prevent resource
// exhaustion from slow clients.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return srv.ListenAndServe()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/cards", func(r chi.Router) {
		r.Post("/", s.handleCardCreate)
		r.Get("/pending", s.handleCardsPending)

		r.Route("/{cardID}", func(r chi.Router) {
			r.Get("/", s.handleCardStatus)
			r.Post("/phrases", s.handleCardPhrases)
			r.Post("/image/start", s.handleImageStart)
			r.Post("/image", s.handleImageAttach)
			r.Post("/preview/start", s.handlePreviewStart)
			r.Post("/preview", s.handlePreviewAttach)
			r.Post("/regenerate", s.handleRegenerate)
		})
	})

	r.Route("/telegram", func(r chi.Router) {
		r.Post("/webhook", s.handleWebhook)
		r.Post("/setup-webhook", s.handleSetupWebhook)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
