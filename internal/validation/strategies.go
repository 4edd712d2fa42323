package validation

import (
	"sort"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// Strategy is a resolution approach matched to validation issues. When
// several strategies apply, the highest priority wins; ties go to the one
// registered first.
type Strategy interface {
	ID() string
	Priority() int
	Applies(issue models.ValidationIssue) bool
}

type funcStrategy struct {
	id       string
	priority int
	match    func(models.ValidationIssue) bool
}

// NewStrategy builds a Strategy from a match function.
func NewStrategy(id string, priority int, match func(models.ValidationIssue) bool) Strategy {
	return funcStrategy{id: id, priority: priority, match: match}
}

func (s funcStrategy) ID() string                                { return s.id }
func (s funcStrategy) Priority() int                             { return s.priority }
func (s funcStrategy) Applies(issue models.ValidationIssue) bool { return s.match(issue) }

// Default strategy IDs.
const (
	StrategyPreferHigherConfidence = "prefer_higher_confidence"
	StrategyPreferMostRecent       = "prefer_most_recent"
	StrategyFlagForReview          = "flag_for_review"
)

// DefaultStrategies returns the built-in strategies.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NewStrategy(StrategyPreferMostRecent, 20, func(issue models.ValidationIssue) bool {
			return issue.RuleID == RuleTemporalConflict
		}),
		NewStrategy(StrategyPreferHigherConfidence, 10, func(issue models.ValidationIssue) bool {
			return issue.RuleID == RuleCrossHopConsistency || issue.RuleID == RuleDirectContradiction
		}),
		NewStrategy(StrategyFlagForReview, 0, func(models.ValidationIssue) bool {
			return true
		}),
	}
}

// ResolutionKey identifies an issue in the resolutions map.
func ResolutionKey(issue models.ValidationIssue) string {
	if issue.Location == "" {
		return issue.RuleID
	}
	return issue.RuleID + "@" + issue.Location
}

// AssignResolutions maps each issue's ResolutionKey to the ID of the
// strategy chosen for it. Issues no strategy applies to are left out.
func (v *CrossValidator) AssignResolutions(issues []models.ValidationIssue) map[string]string {
	strategies := v.strategies.snapshot()
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})

	out := make(map[string]string, len(issues))
	for _, issue := range issues {
		for _, s := range strategies {
			if s.Applies(issue) {
				out[ResolutionKey(issue)] = s.ID()
				break
			}
		}
	}
	return out
}
