package authority

import (
	"context"
	"testing"

	"github.com/vaultline/treasury-backend/pkg/config"
)

func testPolicy() *Policy {
	return NewPolicy(
		config.TradingConfig{AutoApproveConfidence: 80},
		config.TreasuryConfig{AutoApproveCeilingCents: 5_000_000},
	)
}

func TestDecideTradeConfidence(t *testing.T) {
	policy := testPolicy()
	ctx := context.Background()

	cases := []struct {
		name       string
		confidence int
		want       Verdict
	}{
		{"above threshold approves", 81, VerdictAutoApproved},
		{"at threshold escalates", 80, VerdictRequiresEscalation},
		{"below threshold escalates", 40, VerdictRequiresEscalation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := policy.Decide(ctx, Subject{
				Action:      ActionTrade,
				AmountCents: 10_000,
				Confidence:  tc.confidence,
				ActorID:     "bot-1",
			})
			if decision.Verdict != tc.want {
				t.Fatalf("expected %s got %s (%s)", tc.want, decision.Verdict, decision.Reason)
			}
		})
	}
}

func TestDecideCeilingOverridesConfidence(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(context.Background(), Subject{
		Action:      ActionTrade,
		AmountCents: 6_000_000,
		Confidence:  99,
		ActorID:     "bot-1",
	})
	if decision.Verdict != VerdictRequiresEscalation {
		t.Fatalf("expected escalation got %s (%s)", decision.Verdict, decision.Reason)
	}
}

func TestDecideWithdrawalAlwaysEscalates(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(context.Background(), Subject{
		Action:      ActionWithdrawal,
		AmountCents: 100,
		ActorID:     "org-1",
	})
	if decision.Verdict != VerdictRequiresEscalation {
		t.Fatalf("expected escalation got %s", decision.Verdict)
	}
}

func TestDecideAuthorityActorBypasses(t *testing.T) {
	policy := testPolicy()
	ctx := context.Background()

	for _, action := range []ActionKind{ActionWithdrawal, ActionTransfer, ActionTrade, ActionJobRun, ActionTargetSet} {
		decision := policy.Decide(ctx, Subject{
			Action:           action,
			AmountCents:      100,
			ActorID:          "authority",
			ActorIsAuthority: true,
		})
		if decision.Verdict != VerdictAutoApproved {
			t.Fatalf("expected auto approval for %s got %s", action, decision.Verdict)
		}
	}
}

func TestDecideDepositWithinCeiling(t *testing.T) {
	policy := testPolicy()
	ctx := context.Background()

	decision := policy.Decide(ctx, Subject{Action: ActionDeposit, AmountCents: 1_000, ActorID: "org-1"})
	if decision.Verdict != VerdictAutoApproved {
		t.Fatalf("expected auto approval got %s", decision.Verdict)
	}

	decision = policy.Decide(ctx, Subject{Action: ActionDeposit, AmountCents: 6_000_000, ActorID: "org-1"})
	if decision.Verdict != VerdictRequiresEscalation {
		t.Fatalf("expected escalation got %s", decision.Verdict)
	}
}

func TestDecideRestrictedActionsDenyNonAuthority(t *testing.T) {
	policy := testPolicy()
	ctx := context.Background()

	for _, action := range []ActionKind{ActionJobRun, ActionTargetSet} {
		decision := policy.Decide(ctx, Subject{Action: action, ActorID: "org-1"})
		if decision.Verdict != VerdictDenied {
			t.Fatalf("expected denial for %s got %s", action, decision.Verdict)
		}
	}
}

func TestDecideUnknownActionDenied(t *testing.T) {
	policy := testPolicy()

	decision := policy.Decide(context.Background(), Subject{Action: "reboot", ActorID: "org-1"})
	if decision.Verdict != VerdictDenied {
		t.Fatalf("expected denial got %s", decision.Verdict)
	}
}

func TestWithCeilingOverride(t *testing.T) {
	policy := testPolicy().WithCeiling(ActionDeposit, 500)

	decision := policy.Decide(context.Background(), Subject{Action: ActionDeposit, AmountCents: 600, ActorID: "org-1"})
	if decision.Verdict != VerdictRequiresEscalation {
		t.Fatalf("expected escalation got %s", decision.Verdict)
	}
}
