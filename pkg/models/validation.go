package models

// RiskLevel is the validator-computed severity of a command batch.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the numeric weight of the risk level.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// IssueSeverity classifies a security rule finding.
type IssueSeverity string

const (
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

// SecurityIssue is one finding raised by a security rule.
type SecurityIssue struct {
	Rule      string        `json:"rule"`
	Severity  IssueSeverity `json:"severity"`
	Message   string        `json:"message"`
	CommandID string        `json:"command_id,omitempty"`
}

// ValidationResult is produced fresh per validation call and never mutated
// afterward. Sanitized is a copy of the accepted input, not a rewrite.
type ValidationResult struct {
	Valid                bool                 `json:"valid"`
	Errors               []string             `json:"errors,omitempty"`
	Warnings             []string             `json:"warnings,omitempty"`
	SecurityIssues       []SecurityIssue      `json:"security_issues,omitempty"`
	Sanitized            []*StructuredCommand `json:"sanitized,omitempty"`
	Risk                 RiskLevel            `json:"risk"`
	RequiresConfirmation bool                 `json:"requires_confirmation"`
}
