package enums

import "fmt"

// TargetKind names a configurable treasury threshold.
type TargetKind string

const (
	TargetKindProfitTransfer TargetKind = "profit_transfer"
	TargetKindDailyTrade     TargetKind = "daily_trade"
	TargetKindReserveFloor   TargetKind = "reserve_floor"
)

var validTargetKinds = []TargetKind{
	TargetKindProfitTransfer,
	TargetKindDailyTrade,
	TargetKindReserveFloor,
}

// IsValid reports whether the target kind is recognized.
func (k TargetKind) IsValid() bool {
	for _, candidate := range validTargetKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTargetKind converts raw input into TargetKind.
func ParseTargetKind(value string) (TargetKind, error) {
	for _, candidate := range validTargetKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid target kind %q", value)
}
