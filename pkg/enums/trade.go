package enums

import "fmt"

// TradeStatus maps to the trade_status enum in Postgres.
// pending -> approved -> executed is the happy path; pending -> rejected and
// approved -> failed are the exits.
type TradeStatus string

const (
	TradeStatusPending  TradeStatus = "pending"
	TradeStatusApproved TradeStatus = "approved"
	TradeStatusRejected TradeStatus = "rejected"
	TradeStatusExecuted TradeStatus = "executed"
	TradeStatusFailed   TradeStatus = "failed"
)

var validTradeStatuses = []TradeStatus{
	TradeStatusPending,
	TradeStatusApproved,
	TradeStatusRejected,
	TradeStatusExecuted,
	TradeStatusFailed,
}

// IsValid reports whether the value matches the canonical trade_status enum.
func (s TradeStatus) IsValid() bool {
	for _, candidate := range validTradeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the request can no longer transition.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusRejected, TradeStatusExecuted, TradeStatusFailed:
		return true
	}
	return false
}

// ParseTradeStatus converts raw input into TradeStatus.
func ParseTradeStatus(value string) (TradeStatus, error) {
	for _, candidate := range validTradeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trade status %q", value)
}

// TradeSide distinguishes buys from sells.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

var validTradeSides = []TradeSide{
	TradeSideBuy,
	TradeSideSell,
}

// IsValid reports whether the side is recognized.
func (s TradeSide) IsValid() bool {
	for _, candidate := range validTradeSides {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTradeSide converts raw input into TradeSide.
func ParseTradeSide(value string) (TradeSide, error) {
	for _, candidate := range validTradeSides {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trade side %q", value)
}
