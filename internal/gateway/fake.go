package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Fake is an in-memory Gateway for tests and local development. Every call
// succeeds unless an error or failure status is programmed in.
type Fake struct {
	mu       sync.Mutex
	movement map[string]*Result

	CollectErr error
	PayoutErr  error
	LookupErr  error

	// NextStatus overrides the status returned by the next Collect/Payout.
	NextStatus Status
	// NextReason accompanies a programmed failed status.
	NextReason string

	Collects []CollectRequest
	Payouts  []PayoutRequest
}

// NewFake builds an empty fake rail.
func NewFake() *Fake {
	return &Fake{movement: make(map[string]*Result)}
}

func (f *Fake) Collect(ctx context.Context, req CollectRequest) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CollectErr != nil {
		return nil, f.CollectErr
	}
	f.Collects = append(f.Collects, req)
	return f.record("col", req.Reference), nil
}

func (f *Fake) Payout(ctx context.Context, req PayoutRequest) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PayoutErr != nil {
		return nil, f.PayoutErr
	}
	f.Payouts = append(f.Payouts, req)
	return f.record("pay", req.Reference), nil
}

func (f *Fake) Lookup(ctx context.Context, providerRef string) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	if result, ok := f.movement[providerRef]; ok {
		copied := *result
		return &copied, nil
	}
	return &Result{ProviderRef: providerRef, Status: StatusFailed, Reason: "unknown movement"}, nil
}

// SetLookup programs what Lookup returns for a provider ref.
func (f *Fake) SetLookup(providerRef string, status Status, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movement[providerRef] = &Result{ProviderRef: providerRef, Status: status, Reason: reason}
}

func (f *Fake) record(prefix, callerRef string) *Result {
	status := StatusSettled
	reason := ""
	if f.NextStatus != "" {
		status = f.NextStatus
		reason = f.NextReason
		f.NextStatus = ""
		f.NextReason = ""
	}
	result := &Result{
		ProviderRef: fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:8]),
		Status:      status,
		Reason:      reason,
	}
	f.movement[result.ProviderRef] = result
	if callerRef != "" {
		f.movement[callerRef] = result
	}
	return result
}
