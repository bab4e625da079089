// ABOUTME: Tests for the gate deadline scheduler.
// ABOUTME: Covers firing, cancellation, re-arming, and rehydration from the store.
package sched_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/ingest"
	"github.com/2389-research/cardgate/sched"
	"github.com/2389-research/cardgate/store"
)

type fired struct {
	cardID   ulid.ULID
	kind     gate.GateKind
	openedAt time.Time
}

// recordingSink collects fired expiries and signals each arrival.
type recordingSink struct {
	mu    sync.Mutex
	fires []fired
	ch    chan fired
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan fired, 16)}
}

func (r *recordingSink) SubmitExpiry(ctx context.Context, cardID ulid.ULID, kind gate.GateKind, openedAt time.Time) (ingest.Receipt, error) {
	r.mu.Lock()
	f := fired{cardID: cardID, kind: kind, openedAt: openedAt}
	r.fires = append(r.fires, f)
	r.mu.Unlock()
	r.ch <- f
	return ingest.Receipt{Outcome: ingest.OutcomeAccepted, CardID: &cardID}, nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func waitForFire(t *testing.T, sink *recordingSink) fired {
	t.Helper()
	select {
	case f := <-sink.ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for expiry to fire")
		return fired{}
	}
}

func TestTTLsFallBackToDefault(t *testing.T) {
	ttls := sched.TTLs{Phrase: time.Hour}
	if got := ttls.For(gate.GatePhrase); got != time.Hour {
		t.Errorf("phrase ttl: got %v, want %v", got, time.Hour)
	}
	if got := ttls.For(gate.GateImage); got != sched.DefaultTTL {
		t.Errorf("image ttl: got %v, want default %v", got, sched.DefaultTTL)
	}
}

func TestArmFiresPastDeadline(t *testing.T) {
	sink := newRecordingSink()
	s := sched.New(sched.DefaultTTLs())
	t.Cleanup(s.Stop)
	s.Start(sink)

	cardID := gate.NewULID()
	openedAt := time.Now().UTC()
	s.Arm(cardID, gate.GateImage, openedAt, openedAt.Add(10*time.Millisecond))

	f := waitForFire(t, sink)
	if f.cardID != cardID {
		t.Errorf("fired card: got %s, want %s", f.cardID, cardID)
	}
	if f.kind != gate.GateImage {
		t.Errorf("fired kind: got %q, want %q", f.kind, gate.GateImage)
	}
	if !f.openedAt.Equal(openedAt) {
		t.Errorf("fired openedAt: got %v, want %v", f.openedAt, openedAt)
	}
}

func TestCancelStopsTimer(t *testing.T) {
	sink := newRecordingSink()
	s := sched.New(sched.DefaultTTLs())
	t.Cleanup(s.Stop)
	s.Start(sink)

	cardID := gate.NewULID()
	now := time.Now().UTC()
	s.Arm(cardID, gate.GatePhrase, now, now.Add(50*time.Millisecond))
	s.Cancel(cardID)

	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("cancelled timer fired %d times", sink.count())
	}
}

func TestRearmReplacesTimer(t *testing.T) {
	sink := newRecordingSink()
	s := sched.New(sched.DefaultTTLs())
	t.Cleanup(s.Stop)
	s.Start(sink)

	cardID := gate.NewULID()
	now := time.Now().UTC()
	// First gate instance, then a fresh one for the same card.
	s.Arm(cardID, gate.GatePhrase, now, now.Add(time.Hour))
	second := now.Add(time.Minute)
	s.Arm(cardID, gate.GateImage, second, now.Add(20*time.Millisecond))

	f := waitForFire(t, sink)
	if f.kind != gate.GateImage || !f.openedAt.Equal(second) {
		t.Errorf("fired %q@%v, want the replacing gate instance", f.kind, f.openedAt)
	}

	time.Sleep(100 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("fires: got %d, want 1", sink.count())
	}
}

func TestStopPreventsFiring(t *testing.T) {
	sink := newRecordingSink()
	s := sched.New(sched.DefaultTTLs())
	s.Start(sink)

	cardID := gate.NewULID()
	now := time.Now().UTC()
	s.Arm(cardID, gate.GatePhrase, now, now.Add(50*time.Millisecond))
	s.Stop()

	time.Sleep(150 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("stopped scheduler fired %d times", sink.count())
	}

	// Arming after Stop is a no-op.
	s.Arm(cardID, gate.GatePhrase, now, now.Add(10*time.Millisecond))
	time.Sleep(100 * time.Millisecond)
	if sink.count() != 0 {
		t.Errorf("armed after stop fired %d times", sink.count())
	}
}

func TestRehydrateArmsPersistedDeadlines(t *testing.T) {
	st, err := store.OpenSqlite(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("OpenSqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	now := time.Now().UTC()
	overdue := gate.NewCard("Theme", "2026-08-31")
	overdue.State = gate.StateImageSent
	overdue.OpenGate = &gate.OpenGate{
		Kind:         gate.GateImage,
		OpenedAt:     now.Add(-25 * time.Hour),
		Deadline:     now.Add(-time.Hour),
		SeenEventIDs: []string{},
	}
	if err := st.Create(ctx, overdue); err != nil {
		t.Fatalf("Create overdue: %v", err)
	}

	idle := gate.NewCard("Theme", "2026-08-31")
	if err := st.Create(ctx, idle); err != nil {
		t.Fatalf("Create idle: %v", err)
	}

	sink := newRecordingSink()
	s := sched.New(sched.DefaultTTLs())
	t.Cleanup(s.Stop)
	s.Start(sink)
	if err := s.Rehydrate(ctx, st); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}

	// The overdue deadline fires immediately; the idle card never does.
	f := waitForFire(t, sink)
	if f.cardID != overdue.CardID {
		t.Errorf("fired card: got %s, want %s", f.cardID, overdue.CardID)
	}
	if !f.openedAt.Equal(overdue.OpenGate.OpenedAt) {
		t.Errorf("fired openedAt: got %v, want %v", f.openedAt, overdue.OpenGate.OpenedAt)
	}

	time.Sleep(100 * time.Millisecond)
	if sink.count() != 1 {
		t.Errorf("fires: got %d, want 1", sink.count())
	}
}
