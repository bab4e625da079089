// ABOUTME: Deadline scheduler for open approval gates, one timer per card.
// ABOUTME: Rehydrates armed deadlines from the card store after a restart.
package sched

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/ingest"
	"github.com/2389-research/cardgate/store"
)

// ExpirySink receives fired deadlines. The ingestor implements it, so expiry
// events travel the same transition path as human decisions and the state
// machine's staleness checks apply uniformly.
type ExpirySink interface {
	SubmitExpiry(ctx context.Context, cardID ulid.ULID, kind gate.GateKind, openedAt time.Time) (ingest.Receipt, error)
}

// retryDelay is how long a fired-but-failed expiry waits before refiring.
// Firing is at-least-once; the gate identity check makes refires idempotent.
const retryDelay = 30 * time.Second

// TTLs holds the per-gate-kind response deadline.
type TTLs struct {
	Phrase  time.Duration
	Image   time.Duration
	Preview time.Duration
}

// DefaultTTL is the documented default deadline for every gate kind.
const DefaultTTL = 24 * time.Hour

// DefaultTTLs returns 24-hour deadlines for all gate kinds.
func DefaultTTLs() TTLs {
	return TTLs{Phrase: DefaultTTL, Image: DefaultTTL, Preview: DefaultTTL}
}

// For returns the TTL for a gate kind, falling back to the default.
func (t TTLs) For(kind gate.GateKind) time.Duration {
	var d time.Duration
	switch kind {
	case gate.GatePhrase:
		d = t.Phrase
	case gate.GateImage:
		d = t.Image
	case gate.GatePreview:
		d = t.Preview
	}
	if d <= 0 {
		d = DefaultTTL
	}
	return d
}

type entry struct {
	kind     gate.GateKind
	openedAt time.Time
	timer    *time.Timer
}

// Scheduler owns one expiry timer per card with an open gate. In-memory
// timers are an optimization only: the persisted open_gate.deadline on the
// card store is the source of truth, re-armed by Rehydrate on startup.
type Scheduler struct {
	ttls TTLs

	mu     sync.Mutex
	timers map[ulid.ULID]*entry
	sink   ExpirySink
	closed bool
}

// New creates a Scheduler. Start must be called before timers can fire.
func New(ttls TTLs) *Scheduler {
	return &Scheduler{
		ttls:   ttls,
		timers: make(map[ulid.ULID]*entry),
	}
}

// TTLFor exposes the configured deadline per gate kind.
func (s *Scheduler) TTLFor(kind gate.GateKind) time.Duration {
	return s.ttls.For(kind)
}

// Start wires the sink that fired deadlines are submitted to.
func (s *Scheduler) Start(sink ExpirySink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Arm schedules an expiry for the given gate instance, replacing any timer
// already armed for the card. A deadline in the past fires immediately.
func (s *Scheduler) Arm(cardID ulid.ULID, kind gate.GateKind, openedAt, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if prev, ok := s.timers[cardID]; ok {
		prev.timer.Stop()
	}

	e := &entry{kind: kind, openedAt: openedAt}
	e.timer = time.AfterFunc(time.Until(deadline), func() {
		s.fire(cardID, kind, openedAt)
	})
	s.timers[cardID] = e
}

// Cancel drops the armed timer for a card. Safe to call for cards with no
// timer; a timer that already fired is resolved by the staleness check
// downstream, not here.
func (s *Scheduler) Cancel(cardID ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[cardID]; ok {
		e.timer.Stop()
		delete(s.timers, cardID)
	}
}

// Rehydrate re-arms timers from the persisted gate deadlines. Called once on
// startup so a missed in-memory timer survives at most one restart cycle.
func (s *Scheduler) Rehydrate(ctx context.Context, st store.CardStore) error {
	deadlines, err := st.OpenDeadlines(ctx)
	if err != nil {
		return err
	}
	for _, d := range deadlines {
		s.Arm(d.CardID, d.Gate.Kind, d.Gate.OpenedAt, d.Gate.Deadline)
	}
	log.Printf("component=sched action=rehydrate gates=%d", len(deadlines))
	return nil
}

// Stop cancels all timers and refuses further arming.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) fire(cardID ulid.ULID, kind gate.GateKind, openedAt time.Time) {
	s.mu.Lock()
	sink := s.sink
	closed := s.closed
	if e, ok := s.timers[cardID]; ok && e.openedAt.Equal(openedAt) {
		delete(s.timers, cardID)
	}
	s.mu.Unlock()

	if closed {
		return
	}
	if sink == nil {
		log.Printf("component=sched action=fire_without_sink card=%s gate=%s", cardID, kind)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	receipt, err := sink.SubmitExpiry(ctx, cardID, kind, openedAt)
	cancel()
	if err != nil {
		// At-least-once: keep the deadline alive until the store answers.
		log.Printf("component=sched action=expiry_failed card=%s gate=%s err=%v", cardID, kind, err)
		s.mu.Lock()
		if !s.closed {
			s.timers[cardID] = &entry{
				kind:     kind,
				openedAt: openedAt,
				timer: time.AfterFunc(retryDelay, func() {
					s.fire(cardID, kind, openedAt)
				}),
			}
		}
		s.mu.Unlock()
		return
	}
	log.Printf("component=sched action=expiry_fired card=%s gate=%s outcome=%s", cardID, kind, receipt.Outcome)
}
