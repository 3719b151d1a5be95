package authority

import (
	"context"
	"fmt"

	"github.com/vaultline/treasury-backend/pkg/config"
)

// ActionKind classifies the operation a decision is being asked about.
type ActionKind string

const (
	ActionDeposit      ActionKind = "deposit"
	ActionWithdrawal   ActionKind = "withdrawal"
	ActionTransfer     ActionKind = "transfer"
	ActionTrade        ActionKind = "trade"
	ActionJobRun       ActionKind = "job_run"
	ActionTargetSet    ActionKind = "target_set"
	ActionApprovalStep ActionKind = "approval_step"
)

// Verdict is the outcome of a policy evaluation.
type Verdict string

const (
	VerdictAutoApproved       Verdict = "auto_approved"
	VerdictRequiresEscalation Verdict = "requires_escalation"
	VerdictDenied             Verdict = "denied"
)

// Decision pairs a verdict with the rule that produced it. Callers persist
// every decision to the audit trail.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Subject carries everything the policy may look at. The policy itself does
// no I/O; whoever builds the Subject resolves identity and amounts first.
type Subject struct {
	Action           ActionKind
	AmountCents      int64
	Confidence       int
	ActorID          string
	ActorIsAuthority bool
}

// Policy holds the decision thresholds. Ceilings are per action; an action
// with no entry has no ceiling.
type Policy struct {
	confidenceThreshold int
	ceilingCents        map[ActionKind]int64
}

// NewPolicy builds the default policy from config: the trade confidence
// threshold plus one auto-approve ceiling shared by the money-moving kinds.
func NewPolicy(trading config.TradingConfig, treasury config.TreasuryConfig) *Policy {
	ceilings := map[ActionKind]int64{}
	if treasury.AutoApproveCeilingCents > 0 {
		ceilings[ActionDeposit] = treasury.AutoApproveCeilingCents
		ceilings[ActionWithdrawal] = treasury.AutoApproveCeilingCents
		ceilings[ActionTransfer] = treasury.AutoApproveCeilingCents
		ceilings[ActionTrade] = treasury.AutoApproveCeilingCents
	}
	return &Policy{
		confidenceThreshold: trading.AutoApproveConfidence,
		ceilingCents:        ceilings,
	}
}

// WithCeiling overrides the ceiling for one action kind.
func (p *Policy) WithCeiling(action ActionKind, cents int64) *Policy {
	p.ceilingCents[action] = cents
	return p
}

// Decide evaluates the subject against the policy. The authority's own
// requests never escalate back to the authority; everything it asks for
// within a known action kind is approved outright.
func (p *Policy) Decide(ctx context.Context, subject Subject) Decision {
	switch subject.Action {
	case ActionDeposit:
		if subject.ActorIsAuthority {
			return Decision{Verdict: VerdictAutoApproved, Reason: "authority actor"}
		}
		if p.aboveCeiling(subject) {
			return p.escalateCeiling(subject)
		}
		return Decision{Verdict: VerdictAutoApproved, Reason: "deposit within ceiling"}

	case ActionWithdrawal, ActionTransfer:
		if subject.ActorIsAuthority {
			return Decision{Verdict: VerdictAutoApproved, Reason: "authority actor"}
		}
		return Decision{Verdict: VerdictRequiresEscalation, Reason: "outbound movement requires review"}

	case ActionTrade:
		if subject.ActorIsAuthority {
			return Decision{Verdict: VerdictAutoApproved, Reason: "authority actor"}
		}
		if p.aboveCeiling(subject) {
			return p.escalateCeiling(subject)
		}
		if subject.Confidence > p.confidenceThreshold {
			return Decision{
				Verdict: VerdictAutoApproved,
				Reason:  fmt.Sprintf("confidence %d above threshold %d", subject.Confidence, p.confidenceThreshold),
			}
		}
		return Decision{
			Verdict: VerdictRequiresEscalation,
			Reason:  fmt.Sprintf("confidence %d at or below threshold %d", subject.Confidence, p.confidenceThreshold),
		}

	case ActionJobRun, ActionTargetSet:
		if subject.ActorIsAuthority {
			return Decision{Verdict: VerdictAutoApproved, Reason: "authority actor"}
		}
		return Decision{Verdict: VerdictDenied, Reason: "restricted to the authority"}

	case ActionApprovalStep:
		return Decision{Verdict: VerdictRequiresEscalation, Reason: "step decisions need a named approver"}

	default:
		return Decision{Verdict: VerdictDenied, Reason: fmt.Sprintf("unknown action kind %q", subject.Action)}
	}
}

func (p *Policy) aboveCeiling(subject Subject) bool {
	ceiling, ok := p.ceilingCents[subject.Action]
	if !ok || ceiling <= 0 {
		return false
	}
	return subject.AmountCents > ceiling
}

func (p *Policy) escalateCeiling(subject Subject) Decision {
	return Decision{
		Verdict: VerdictRequiresEscalation,
		Reason:  fmt.Sprintf("amount %d above %s ceiling %d", subject.AmountCents, subject.Action, p.ceilingCents[subject.Action]),
	}
}
