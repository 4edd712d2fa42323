package validation

import (
	"context"
	"fmt"
	"math"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// Rule evaluates the whole set of hop results. A result with IsValid false
// means the rule triggered; its Confidence is the factor applied to the
// overall confidence and its Issues are reported.
type Rule interface {
	ID() string
	Severity() models.Severity
	Evaluate(ctx context.Context, results []models.HopResult) models.ValidationResult
}

// RuleFunc is the evaluation function of a rule built with NewRule.
type RuleFunc func(ctx context.Context, results []models.HopResult) models.ValidationResult

type funcRule struct {
	id       string
	severity models.Severity
	fn       RuleFunc
}

// NewRule builds a Rule from an ID, a default severity and a function.
func NewRule(id string, severity models.Severity, fn RuleFunc) Rule {
	return funcRule{id: id, severity: severity, fn: fn}
}

func (r funcRule) ID() string                { return r.id }
func (r funcRule) Severity() models.Severity { return r.severity }
func (r funcRule) Evaluate(ctx context.Context, results []models.HopResult) models.ValidationResult {
	return r.fn(ctx, results)
}

// triggered builds a failing rule result with one issue per message.
func triggered(factor float64, ruleID string, severity models.Severity, issues []models.ValidationIssue) models.ValidationResult {
	for i := range issues {
		issues[i].RuleID = ruleID
		issues[i].Severity = severity
	}
	return models.ValidationResult{IsValid: false, Confidence: factor, Issues: issues}
}

// Default rule IDs.
const (
	RuleConfidenceRange    = "confidence_range"
	RuleNonEmptyContent    = "non_empty_content"
	RuleMinConfidence      = "min_confidence"
	RuleCitationConfidence = "citation_confidence"
	RuleDuplicateHop       = "duplicate_hop"
)

// DefaultRules returns the built-in rules. minConfidence is the threshold
// below which a result is flagged as weak.
func DefaultRules(minConfidence float64) []Rule {
	return []Rule{
		NewRule(RuleConfidenceRange, models.SeverityCritical, func(ctx context.Context, results []models.HopResult) models.ValidationResult {
			var issues []models.ValidationIssue
			for _, r := range results {
				if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
					issues = append(issues, models.ValidationIssue{
						Message:         fmt.Sprintf("confidence %v of hop %s is outside [0,1]", r.Confidence, r.HopID),
						Location:        r.HopID,
						ConflictingData: []any{r.Confidence},
					})
				}
			}
			if len(issues) == 0 {
				return models.Pass()
			}
			return triggered(0.0, RuleConfidenceRange, models.SeverityCritical, issues)
		}),
		NewRule(RuleNonEmptyContent, models.SeverityMedium, func(ctx context.Context, results []models.HopResult) models.ValidationResult {
			var issues []models.ValidationIssue
			for _, r := range results {
				if r.Empty() {
					issues = append(issues, models.ValidationIssue{
						Message:  fmt.Sprintf("hop %s returned no content", r.HopID),
						Location: r.HopID,
					})
				}
			}
			if len(issues) == 0 {
				return models.Pass()
			}
			return triggered(0.8, RuleNonEmptyContent, models.SeverityMedium, issues)
		}),
		NewRule(RuleMinConfidence, models.SeverityLow, func(ctx context.Context, results []models.HopResult) models.ValidationResult {
			var issues []models.ValidationIssue
			for _, r := range results {
				if r.Confidence >= 0 && r.Confidence < minConfidence {
					issues = append(issues, models.ValidationIssue{
						Message:         fmt.Sprintf("hop %s confidence %.2f is below %.2f", r.HopID, r.Confidence, minConfidence),
						Location:        r.HopID,
						ConflictingData: []any{r.Confidence},
					})
				}
			}
			if len(issues) == 0 {
				return models.Pass()
			}
			return triggered(0.9, RuleMinConfidence, models.SeverityLow, issues)
		}),
		NewRule(RuleCitationConfidence, models.SeverityLow, func(ctx context.Context, results []models.HopResult) models.ValidationResult {
			var issues []models.ValidationIssue
			for _, r := range results {
				for _, c := range r.Metadata.Citations {
					if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
						issues = append(issues, models.ValidationIssue{
							Message:  fmt.Sprintf("citation %s of hop %s has confidence %v", c.ID, r.HopID, c.Confidence),
							Location: r.HopID + "/" + c.ID,
						})
					}
				}
			}
			if len(issues) == 0 {
				return models.Pass()
			}
			return triggered(0.95, RuleCitationConfidence, models.SeverityLow, issues)
		}),
		NewRule(RuleDuplicateHop, models.SeverityMedium, func(ctx context.Context, results []models.HopResult) models.ValidationResult {
			seen := make(map[string]bool, len(results))
			var issues []models.ValidationIssue
			for _, r := range results {
				if seen[r.HopID] {
					issues = append(issues, models.ValidationIssue{
						Message:  fmt.Sprintf("hop %s appears more than once", r.HopID),
						Location: r.HopID,
					})
				}
				seen[r.HopID] = true
			}
			if len(issues) == 0 {
				return models.Pass()
			}
			return triggered(0.9, RuleDuplicateHop, models.SeverityMedium, issues)
		}),
	}
}
