// ABOUTME: Event is a parsed inbound decision (approve/reject) or a scheduler expiry.
// ABOUTME: SideEffect is the tagged union of actions a committed transition requests.
package gate

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Decision is the human (or scheduler) verdict carried by an Event.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionExpire  Decision = "expire"
)

// Event is one decision delivered against a card's open gate.
//
// EventID is the dedup key: the messaging provider delivers at-least-once,
// so the same EventID may arrive multiple times and must apply exactly once.
// For expiry events GateOpenedAt identifies the gate instance the scheduler
// armed for, so a timer computed against a since-closed gate cannot fire.
type Event struct {
	EventID      string
	CardID       ulid.ULID
	Kind         GateKind
	Decision     Decision
	Selector     int // 0-based phrase index; only meaningful for phrase approvals
	GateOpenedAt time.Time
}

// SideEffect is an action requested by a successful transition. Effects are
// executed only after the transition commits, and must be safe to run twice.
type SideEffect interface {
	SideEffectType() string
	sideEffectSeal()
}

// ArmTimerEffect asks the scheduler to arm an expiry timer for the open gate.
type ArmTimerEffect struct {
	CardID   ulid.ULID
	Kind     GateKind
	OpenedAt time.Time
	Deadline time.Time
}

func (e ArmTimerEffect) SideEffectType() string { return "ArmTimer" }
func (e ArmTimerEffect) sideEffectSeal()        {}

// CancelTimerEffect asks the scheduler to cancel the timer for a closed gate.
type CancelTimerEffect struct {
	CardID ulid.ULID
	Kind   GateKind
}

func (e CancelTimerEffect) SideEffectType() string { return "CancelTimer" }
func (e CancelTimerEffect) sideEffectSeal()        {}

// RequestApprovalEffect asks the notifier to prompt the approver for the
// newly opened gate, with the relevant artifact ref.
type RequestApprovalEffect struct {
	CardID      ulid.ULID
	Kind        GateKind
	ArtifactRef string
}

func (e RequestApprovalEffect) SideEffectType() string { return "RequestApproval" }
func (e RequestApprovalEffect) sideEffectSeal()        {}

// NotifyDecisionEffect asks the notifier to tell the approver chat what
// happened (approved, rejected, expired, published).
type NotifyDecisionEffect struct {
	CardID  ulid.ULID
	Message string
}

func (e NotifyDecisionEffect) SideEffectType() string { return "NotifyDecision" }
func (e NotifyDecisionEffect) sideEffectSeal()        {}

// RequestRegenerationEffect signals upstream that the card needs fresh
// content. The orchestrator observes it via polling; the effect exists so
// the decision is logged and notified uniformly.
type RequestRegenerationEffect struct {
	CardID ulid.ULID
	Kind   GateKind
}

func (e RequestRegenerationEffect) SideEffectType() string { return "RequestRegeneration" }
func (e RequestRegenerationEffect) sideEffectSeal()        {}
