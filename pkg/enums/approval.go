package enums

import "fmt"

// ApprovalKind maps to the approval_kind enum in Postgres.
type ApprovalKind string

const (
	ApprovalKindAsset        ApprovalKind = "asset_creation"
	ApprovalKindDeal         ApprovalKind = "deal_purchase"
	ApprovalKindDistribution ApprovalKind = "distribution"
	ApprovalKindPlatform     ApprovalKind = "platform_change"
)

var validApprovalKinds = []ApprovalKind{
	ApprovalKindAsset,
	ApprovalKindDeal,
	ApprovalKindDistribution,
	ApprovalKindPlatform,
}

// IsValid reports whether the value matches the canonical approval_kind enum.
func (k ApprovalKind) IsValid() bool {
	for _, candidate := range validApprovalKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseApprovalKind converts raw input into ApprovalKind.
func ParseApprovalKind(value string) (ApprovalKind, error) {
	for _, candidate := range validApprovalKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid approval kind %q", value)
}

// ApprovalStatus maps to the approval_status enum in Postgres.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

var validApprovalStatuses = []ApprovalStatus{
	ApprovalStatusPending,
	ApprovalStatusApproved,
	ApprovalStatusRejected,
}

// IsValid reports whether the value matches the canonical approval_status enum.
func (s ApprovalStatus) IsValid() bool {
	for _, candidate := range validApprovalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsDecided reports whether the request reached a terminal status.
func (s ApprovalStatus) IsDecided() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected
}

// ParseApprovalStatus converts raw input into ApprovalStatus.
func ParseApprovalStatus(value string) (ApprovalStatus, error) {
	for _, candidate := range validApprovalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid approval status %q", value)
}

// StepStatus tracks one named step inside an approval request.
type StepStatus string

const (
	StepStatusPending  StepStatus = "pending"
	StepStatusApproved StepStatus = "approved"
	StepStatusRejected StepStatus = "rejected"
)

var validStepStatuses = []StepStatus{
	StepStatusPending,
	StepStatusApproved,
	StepStatusRejected,
}

// IsValid reports whether the value matches the canonical step_status enum.
func (s StepStatus) IsValid() bool {
	for _, candidate := range validStepStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
