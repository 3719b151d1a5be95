package gateway

import "context"

// Status is the rail's view of a movement.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// CollectRequest asks the rail to pull funds from an external source.
type CollectRequest struct {
	Source      string `json:"source"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

// PayoutRequest asks the rail to push funds to an external destination.
type PayoutRequest struct {
	Destination string `json:"destination"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

// Result is the rail's synchronous answer to a collect or payout.
type Result struct {
	ProviderRef string `json:"provider_ref"`
	Status      Status `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// Gateway is the payment rail port. Implementations translate these calls
// into whatever protocol the rail speaks; callers only see typed errors.
type Gateway interface {
	Collect(ctx context.Context, req CollectRequest) (*Result, error)
	Payout(ctx context.Context, req PayoutRequest) (*Result, error)
	Lookup(ctx context.Context, providerRef string) (*Result, error)
}
