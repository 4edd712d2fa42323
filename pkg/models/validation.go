package models

// Severity indicates how serious a validation issue is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid returns true if the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// ValidationIssue is a single problem found by a rule, check or cross-check.
type ValidationIssue struct {
	RuleID          string   `json:"rule_id"`
	Severity        Severity `json:"severity"`
	Message         string   `json:"message"`
	Location        string   `json:"location,omitempty"`
	ConflictingData []any    `json:"conflicting_data,omitempty"`
}

// ValidationResult is the folded outcome of validating a set of hop results.
type ValidationResult struct {
	IsValid    bool              `json:"is_valid"`
	Confidence float64           `json:"confidence"`
	Issues     []ValidationIssue `json:"issues,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// Pass returns a passing result with full confidence.
func Pass() ValidationResult {
	return ValidationResult{IsValid: true, Confidence: 1.0}
}

// HasBlockingIssue returns true if any issue is high or critical.
func (v ValidationResult) HasBlockingIssue() bool {
	for _, issue := range v.Issues {
		if issue.Severity.Rank() >= SeverityHigh.Rank() {
			return true
		}
	}
	return false
}
