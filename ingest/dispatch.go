// ABOUTME: Dispatcher executes side effects after a transition has committed.
// ABOUTME: Notification failures are retried with backoff and never roll back state.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
)

// Notifier sends approval prompts and decision notices to the approver.
// Implementations must tolerate being called twice for the same effect.
type Notifier interface {
	RequestApproval(ctx context.Context, card gate.Card, kind gate.GateKind, artifactRef string) error
	NotifyDecision(ctx context.Context, cardID ulid.ULID, message string) error
}

// TimerControl arms and cancels gate expiry timers.
type TimerControl interface {
	Arm(cardID ulid.ULID, kind gate.GateKind, openedAt, deadline time.Time)
	Cancel(cardID ulid.ULID)
}

// Dispatcher fans committed side effects out to the scheduler and notifier.
// Timer effects apply synchronously; notification effects run in the
// background with bounded retries, because a committed transition must never
// wait on (or be undone by) the messaging provider.
type Dispatcher struct {
	notifier Notifier
	timers   TimerControl

	retries int
	backoff time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with 3 notification attempts and a
// 2-second initial backoff, doubling per attempt.
func NewDispatcher(notifier Notifier, timers TimerControl) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		timers:   timers,
		retries:  3,
		backoff:  2 * time.Second,
	}
}

// Dispatch executes the side effects of one committed transition.
func (d *Dispatcher) Dispatch(card gate.Card, effects []gate.SideEffect) {
	for _, effect := range effects {
		switch e := effect.(type) {
		case gate.ArmTimerEffect:
			d.timers.Arm(e.CardID, e.Kind, e.OpenedAt, e.Deadline)

		case gate.CancelTimerEffect:
			d.timers.Cancel(e.CardID)

		case gate.RequestApprovalEffect:
			d.async(func(ctx context.Context) error {
				return d.notifier.RequestApproval(ctx, card, e.Kind, e.ArtifactRef)
			}, "request_approval", e.CardID)

		case gate.NotifyDecisionEffect:
			d.async(func(ctx context.Context) error {
				return d.notifier.NotifyDecision(ctx, e.CardID, e.Message)
			}, "notify_decision", e.CardID)

		case gate.RequestRegenerationEffect:
			// The orchestrator discovers regeneration needs by polling card
			// state; nothing to push, but log it for operators.
			log.Printf("component=dispatch action=regeneration_needed card=%s gate=%s", e.CardID, e.Kind)
		}
	}
}

// Wait blocks until all in-flight notification sends finish. Used by tests
// and graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) async(send func(context.Context) error, action string, cardID ulid.ULID) {
	// Correlation id ties retry log lines for one send together.
	dispatchID := uuid.NewString()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		delay := d.backoff
		for attempt := 1; attempt <= d.retries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			err := send(ctx)
			cancel()
			if err == nil {
				return
			}
			log.Printf("component=dispatch action=%s card=%s dispatch=%s attempt=%d err=%v", action, cardID, dispatchID, attempt, err)
			if attempt < d.retries {
				time.Sleep(delay)
				delay *= 2
			}
		}
		log.Printf("component=dispatch action=%s card=%s dispatch=%s result=gave_up", action, cardID, dispatchID)
	}()
}
