package enums

import "fmt"

// AuthorityDecision is the outcome of an authorization check.
type AuthorityDecision string

const (
	DecisionAutoApproved       AuthorityDecision = "auto_approved"
	DecisionRequiresEscalation AuthorityDecision = "requires_escalation"
	DecisionDenied             AuthorityDecision = "denied"
)

var validAuthorityDecisions = []AuthorityDecision{
	DecisionAutoApproved,
	DecisionRequiresEscalation,
	DecisionDenied,
}

// IsValid reports whether the decision is recognized.
func (d AuthorityDecision) IsValid() bool {
	for _, candidate := range validAuthorityDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ActionKind names the operations the authority rules on.
type ActionKind string

const (
	ActionDeposit      ActionKind = "deposit"
	ActionWithdrawal   ActionKind = "withdrawal"
	ActionTrade        ActionKind = "trade"
	ActionApprovalStep ActionKind = "approval_step"
	ActionJobRun       ActionKind = "job_run"
	ActionTargetSet    ActionKind = "target_set"
	ActionBalanceRead  ActionKind = "balance_read"
	ActionReconcile    ActionKind = "reconcile"
)

var validActionKinds = []ActionKind{
	ActionDeposit,
	ActionWithdrawal,
	ActionTrade,
	ActionApprovalStep,
	ActionJobRun,
	ActionTargetSet,
	ActionBalanceRead,
	ActionReconcile,
}

// IsValid reports whether the action kind is recognized.
func (a ActionKind) IsValid() bool {
	for _, candidate := range validActionKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsMasterOnly reports whether only the authority itself may invoke the action.
func (a ActionKind) IsMasterOnly() bool {
	return a == ActionJobRun || a == ActionTargetSet
}

// ParseActionKind converts raw input into ActionKind.
func ParseActionKind(value string) (ActionKind, error) {
	for _, candidate := range validActionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid action kind %q", value)
}
