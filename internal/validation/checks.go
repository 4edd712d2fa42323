package validation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// Category groups consistency checks.
type Category string

const (
	CategoryLogical  Category = "logical"
	CategoryTemporal Category = "temporal"
	CategorySemantic Category = "semantic"
)

// CheckOutcome is the result of one consistency check.
type CheckOutcome struct {
	Passed   bool
	Message  string
	Location string
	Data     []any
}

// ConsistencyCheck inspects a set of hop results. Checks run concurrently
// and must be safe for concurrent use. A failing check, or one that returns
// an error, multiplies the overall confidence by (1 - ErrorThreshold).
type ConsistencyCheck interface {
	ID() string
	Category() Category
	ErrorThreshold() float64
	Check(ctx context.Context, results []models.HopResult) (CheckOutcome, error)
}

// CheckFunc is the function of a check built with NewCheck.
type CheckFunc func(ctx context.Context, results []models.HopResult) (CheckOutcome, error)

type funcCheck struct {
	id        string
	category  Category
	threshold float64
	fn        CheckFunc
}

// NewCheck builds a ConsistencyCheck. threshold is clamped to [0,1].
func NewCheck(id string, category Category, threshold float64, fn CheckFunc) ConsistencyCheck {
	return funcCheck{id: id, category: category, threshold: clamp01(threshold), fn: fn}
}

func (c funcCheck) ID() string              { return c.id }
func (c funcCheck) Category() Category      { return c.category }
func (c funcCheck) ErrorThreshold() float64 { return c.threshold }
func (c funcCheck) Check(ctx context.Context, results []models.HopResult) (CheckOutcome, error) {
	return c.fn(ctx, results)
}

// Default check IDs.
const (
	CheckLogicalAgreement = "logical_agreement"
	CheckTemporalOrder    = "temporal_order"
	CheckNumericTolerance = "numeric_tolerance"
)

// DefaultNumericTolerance is the relative difference the numeric check accepts.
const DefaultNumericTolerance = 0.1

func contents(results []models.HopResult) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}

func conflictOutcome(results []models.HopResult, ruleID string) CheckOutcome {
	var found []models.ValidationIssue
	for _, issue := range findConflicts(contents(results)) {
		if issue.RuleID == ruleID {
			found = append(found, issue)
		}
	}
	if len(found) == 0 {
		return CheckOutcome{Passed: true}
	}
	locations := make([]string, len(found))
	data := make([]any, 0, len(found))
	for i, issue := range found {
		locations[i] = issue.Location
		data = append(data, issue.ConflictingData)
	}
	return CheckOutcome{
		Message:  fmt.Sprintf("%d %s issue(s): %s", len(found), ruleID, found[0].Message),
		Location: fmt.Sprint(locations),
		Data:     data,
	}
}

// DefaultChecks returns the built-in consistency checks, one per category.
func DefaultChecks() []ConsistencyCheck {
	return []ConsistencyCheck{
		NewCheck(CheckLogicalAgreement, CategoryLogical, 0.3, func(ctx context.Context, results []models.HopResult) (CheckOutcome, error) {
			return conflictOutcome(results, RuleLogicalInconsistency), nil
		}),
		NewCheck(CheckTemporalOrder, CategoryTemporal, 0.2, func(ctx context.Context, results []models.HopResult) (CheckOutcome, error) {
			return conflictOutcome(results, RuleTemporalConflict), nil
		}),
		NewCheck(CheckNumericTolerance, CategorySemantic, 0.1, func(ctx context.Context, results []models.HopResult) (CheckOutcome, error) {
			return numericOutcome(results, DefaultNumericTolerance), nil
		}),
	}
}

// numericOutcome fails when two results give numbers for the same key that
// differ by more than tolerance relative to the larger magnitude.
func numericOutcome(results []models.HopResult, tolerance float64) CheckOutcome {
	var keys []string
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			for k, a := range results[i].Content {
				b, ok := results[j].Content[k]
				if !ok {
					continue
				}
				fa, okA := models.ToFloat(a)
				fb, okB := models.ToFloat(b)
				if !okA || !okB {
					continue
				}
				scale := math.Max(math.Abs(fa), math.Abs(fb))
				if scale > 0 && math.Abs(fa-fb)/scale > tolerance {
					keys = append(keys, fmt.Sprintf("%s<->%s:%s", results[i].HopID, results[j].HopID, k))
				}
			}
		}
	}
	if len(keys) == 0 {
		return CheckOutcome{Passed: true}
	}
	sort.Strings(keys)
	return CheckOutcome{
		Message:  fmt.Sprintf("numeric values differ by more than %.0f%%", tolerance*100),
		Location: keys[0],
		Data:     []any{keys},
	}
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
