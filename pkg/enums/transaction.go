package enums

import "fmt"

// TransactionKind maps to the transaction_kind enum in Postgres.
type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindTrade      TransactionKind = "trade"
	TransactionKindTransfer   TransactionKind = "transfer"
	TransactionKindAdjustment TransactionKind = "adjustment"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindDeposit,
	TransactionKindWithdrawal,
	TransactionKindTrade,
	TransactionKindTransfer,
	TransactionKindAdjustment,
}

// IsValid reports whether the value matches the canonical transaction_kind enum.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}

// TransactionDirection records which way money moves relative to the account.
type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "credit"
	DirectionDebit  TransactionDirection = "debit"
)

var validTransactionDirections = []TransactionDirection{
	DirectionCredit,
	DirectionDebit,
}

// IsValid reports whether the value matches the canonical direction enum.
func (d TransactionDirection) IsValid() bool {
	for _, candidate := range validTransactionDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// Sign returns +1 for credits and -1 for debits.
func (d TransactionDirection) Sign() int64 {
	if d == DirectionDebit {
		return -1
	}
	return 1
}

// ParseTransactionDirection converts raw input into TransactionDirection.
func ParseTransactionDirection(value string) (TransactionDirection, error) {
	for _, candidate := range validTransactionDirections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction direction %q", value)
}

// TransactionStatus maps to the transaction_status enum in Postgres.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSettled TransactionStatus = "settled"
	TransactionStatusFailed  TransactionStatus = "failed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusSettled,
	TransactionStatusFailed,
}

// IsValid reports whether the value matches the canonical transaction_status enum.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further settlement may touch the transaction.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSettled || s == TransactionStatusFailed
}

// ParseTransactionStatus converts raw input into TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
