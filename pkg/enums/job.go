package enums

import "fmt"

// JobAction maps to the job_action enum in Postgres.
type JobAction string

const (
	JobActionProfitTransfer   JobAction = "profit_transfer"
	JobActionTradeExpiry      JobAction = "trade_expiry"
	JobActionGatewayReconcile JobAction = "gateway_reconcile"
)

var validJobActions = []JobAction{
	JobActionProfitTransfer,
	JobActionTradeExpiry,
	JobActionGatewayReconcile,
}

// IsValid reports whether the value matches the canonical job_action enum.
func (a JobAction) IsValid() bool {
	for _, candidate := range validJobActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseJobAction converts raw input into JobAction.
func ParseJobAction(value string) (JobAction, error) {
	for _, candidate := range validJobActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job action %q", value)
}

// JobRunStatus maps to the job_run_status enum in Postgres.
type JobRunStatus string

const (
	JobRunStatusSucceeded JobRunStatus = "succeeded"
	JobRunStatusFailed    JobRunStatus = "failed"
	JobRunStatusSkipped   JobRunStatus = "skipped"
	JobRunStatusTimedOut  JobRunStatus = "timed_out"
)

var validJobRunStatuses = []JobRunStatus{
	JobRunStatusSucceeded,
	JobRunStatusFailed,
	JobRunStatusSkipped,
	JobRunStatusTimedOut,
}

// IsValid reports whether the value matches the canonical job_run_status enum.
func (s JobRunStatus) IsValid() bool {
	for _, candidate := range validJobRunStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseJobRunStatus converts raw input into JobRunStatus.
func ParseJobRunStatus(value string) (JobRunStatus, error) {
	for _, candidate := range validJobRunStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job run status %q", value)
}
