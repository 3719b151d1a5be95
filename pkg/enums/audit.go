package enums

// AuditOutcome classifies how an audited action ended.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

var validAuditOutcomes = []AuditOutcome{
	AuditOutcomeSuccess,
	AuditOutcomeFailure,
	AuditOutcomeDenied,
}

// IsValid reports whether the outcome is recognized.
func (o AuditOutcome) IsValid() bool {
	for _, candidate := range validAuditOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
