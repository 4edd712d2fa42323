package validation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

func result(id string, conf float64, content map[string]any) models.HopResult {
	return models.HopResult{HopID: id, Confidence: conf, Content: content, Summary: "answer for " + id}
}

func TestValidateHopResults_CleanSetPasses(t *testing.T) {
	rec := &events.Recorder{}
	v := New(WithSink(rec))

	res := v.ValidateHopResults(context.Background(), []models.HopResult{
		result("sq1", 0.9, map[string]any{"director": "Ridley Scott"}),
		result("sq2", 0.8, map[string]any{"director": "Ridley Scott", "born": 1937}),
	})

	assert.True(t, res.IsValid)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Empty(t, res.Issues)
	assert.Equal(t, 1, res.Metadata["pairs_compared"])
	assert.Equal(t, 1, rec.Count(events.ValidationComplete))
}

func TestValidateHopResults_CrossHopMismatch(t *testing.T) {
	v := New()

	res := v.ValidateHopResults(context.Background(), []models.HopResult{
		result("sq1", 0.9, map[string]any{"year": 1979, "place": "London"}),
		result("sq2", 0.9, map[string]any{"year": 1980.0, "place": "London"}),
		result("sq3", 0.9, map[string]any{"year": 1979.0}),
	})

	// sq1/sq2 and sq2/sq3 disagree on year; sq1/sq3 agree numerically.
	var cross []models.ValidationIssue
	for _, issue := range res.Issues {
		if issue.RuleID == RuleCrossHopConsistency {
			cross = append(cross, issue)
		}
	}
	require.Len(t, cross, 2)
	assert.Equal(t, models.SeverityHigh, cross[0].Severity)
	assert.Equal(t, "sq1<->sq2:year", cross[0].Location)
	assert.Equal(t, []any{1979, 1980.0}, cross[0].ConflictingData)
	assert.False(t, res.IsValid)
	assert.InDelta(t, 0.81, res.Confidence, 1e-9)

	resolutions, ok := res.Metadata["resolutions"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, StrategyPreferHigherConfidence, resolutions["cross_hop_consistency@sq1<->sq2:year"])
}

func TestValidateHopResults_RuleFactorsMultiply(t *testing.T) {
	v := New()

	res := v.ValidateHopResults(context.Background(), []models.HopResult{
		result("sq1", 0.1, map[string]any{"a": 1}), // min_confidence: 0.9
		{HopID: "sq2", Confidence: 0.5},            // non_empty_content: 0.8
	})

	assert.InDelta(t, 0.72, res.Confidence, 1e-9)
	assert.True(t, res.IsValid, "low and medium issues do not block")
	ids := map[string]bool{}
	for _, issue := range res.Issues {
		ids[issue.RuleID] = true
	}
	assert.True(t, ids[RuleMinConfidence])
	assert.True(t, ids[RuleNonEmptyContent])
}

func TestValidateHopResults_CriticalRule(t *testing.T) {
	v := New()
	res := v.ValidateHopResults(context.Background(), []models.HopResult{result("sq1", 1.5, map[string]any{"a": 1})})
	assert.False(t, res.IsValid)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestRuleRegistry(t *testing.T) {
	v := New(WithoutDefaults())
	assert.Empty(t, v.Rules())

	custom := NewRule("needs_source", models.SeverityHigh, func(ctx context.Context, rs []models.HopResult) models.ValidationResult {
		for _, r := range rs {
			if r.Metadata.Source == "" {
				return models.ValidationResult{Confidence: 0.5, Issues: []models.ValidationIssue{{Message: "missing source", Location: r.HopID}}}
			}
		}
		return models.Pass()
	})
	v.AddRule(custom)
	assert.Equal(t, []string{"needs_source"}, v.Rules())

	res := v.ValidateHopResults(context.Background(), []models.HopResult{result("sq1", 0.9, nil)})
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "needs_source", res.Issues[0].RuleID, "rule ID is filled in")
	assert.Equal(t, models.SeverityHigh, res.Issues[0].Severity, "rule severity is the default")
	assert.False(t, res.IsValid)
	assert.Equal(t, 0.5, res.Confidence)

	assert.True(t, v.RemoveRule("needs_source"))
	assert.False(t, v.RemoveRule("needs_source"))
	res = v.ValidateHopResults(context.Background(), []models.HopResult{result("sq1", 0.9, nil)})
	assert.True(t, res.IsValid)
}

func TestPanickingRuleIsContained(t *testing.T) {
	v := New(WithoutDefaults())
	v.AddRule(NewRule("boom", models.SeverityCritical, func(ctx context.Context, rs []models.HopResult) models.ValidationResult {
		panic("bad rule")
	}))

	res := v.ValidateHopResults(context.Background(), nil)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.SeverityLow, res.Issues[0].Severity)
	assert.True(t, res.IsValid)
}

func TestCheckConsistency(t *testing.T) {
	v := New()

	res := v.CheckConsistency(context.Background(), []models.HopResult{
		result("sq1", 0.9, map[string]any{"alive": true, "height": 100.0, "start": "2020-01-01", "end": "2019-01-01"}),
		result("sq2", 0.9, map[string]any{"alive": "no", "height": 104.0}),
	})

	// logical (0.3) and temporal (0.2) fail; 4% height difference is within tolerance.
	require.Len(t, res.Issues, 2)
	assert.Equal(t, CheckLogicalAgreement, res.Issues[0].RuleID)
	assert.Equal(t, CheckTemporalOrder, res.Issues[1].RuleID)
	assert.InDelta(t, 0.7*0.8, res.Confidence, 1e-9)
	assert.True(t, res.IsValid)
	assert.Equal(t, 3, res.Metadata["checks_run"])
}

func TestCheckConsistency_NumericTolerance(t *testing.T) {
	v := New()
	res := v.CheckConsistency(context.Background(), []models.HopResult{
		result("sq1", 0.9, map[string]any{"population": 1000}),
		result("sq2", 0.9, map[string]any{"population": 1500}),
	})
	require.Len(t, res.Issues, 1)
	assert.Equal(t, CheckNumericTolerance, res.Issues[0].RuleID)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestCheckConsistency_RunsConcurrentlyAndFoldsErrors(t *testing.T) {
	v := New(WithoutDefaults())

	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	blocking := func(id string, err error) ConsistencyCheck {
		return NewCheck(id, CategorySemantic, 0.5, func(ctx context.Context, rs []models.HopResult) (CheckOutcome, error) {
			started.Done()
			<-release
			return CheckOutcome{Passed: err == nil}, err
		})
	}
	v.AddCheck(blocking("a", nil))
	v.AddCheck(blocking("b", errors.New("backend down")))

	go func() {
		// Both checks must be running at once for this to unblock.
		started.Wait()
		close(release)
	}()

	res := v.CheckConsistency(context.Background(), nil)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "b", res.Issues[0].RuleID)
	assert.Contains(t, res.Issues[0].Message, "backend down")
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)

	assert.True(t, v.RemoveCheck("a"))
	assert.Equal(t, []string{"b"}, v.Checks())
}

func TestIdentifyConflicts(t *testing.T) {
	rec := &events.Recorder{}
	v := New(WithSink(rec))

	issues := v.IdentifyConflicts(context.Background(), []map[string]any{
		{"capital": "Paris", "member": true, "founded": "1958-03-25", "reign_start": "1800-01-01", "reign_end": "1700-01-01"},
		{"capital": "Lyon", "member": "yes", "founded": "1957-03-25"},
		{"capital": "Paris", "member": "false"},
	})

	byRule := map[string][]models.ValidationIssue{}
	for _, issue := range issues {
		byRule[issue.RuleID] = append(byRule[issue.RuleID], issue)
	}

	require.Len(t, byRule[RuleDirectContradiction], 1)
	assert.Equal(t, "capital", byRule[RuleDirectContradiction][0].Location)
	assert.Equal(t, []any{"Paris", "Lyon", "Paris"}, byRule[RuleDirectContradiction][0].ConflictingData)

	require.Len(t, byRule[RuleLogicalInconsistency], 1)
	assert.Equal(t, "member", byRule[RuleLogicalInconsistency][0].Location)

	require.Len(t, byRule[RuleTemporalConflict], 2)
	locations := []string{byRule[RuleTemporalConflict][0].Location, byRule[RuleTemporalConflict][1].Location}
	assert.Contains(t, locations, "founded")
	assert.Contains(t, locations, "dataset[0]:reign_start/reign_end")

	assert.Equal(t, 1, rec.Count(events.ConflictsIdentified))
}

func TestIdentifyConflicts_NoneWhenConsistent(t *testing.T) {
	v := New()
	issues := v.IdentifyConflicts(context.Background(), []map[string]any{
		{"a": 1, "b": true, "startDate": "2020-01-01", "endDate": "2021-01-01"},
		{"a": 1.0, "b": "yes"},
		{},
	})
	assert.Empty(t, issues)
}

func TestAssignResolutions(t *testing.T) {
	v := New()
	issues := []models.ValidationIssue{
		{RuleID: RuleTemporalConflict, Location: "founded"},
		{RuleID: RuleDirectContradiction, Location: "capital"},
		{RuleID: RuleLogicalInconsistency, Location: "member"},
	}

	got := v.AssignResolutions(issues)
	assert.Equal(t, map[string]string{
		"temporal_conflict@founded":    StrategyPreferMostRecent,
		"direct_contradiction@capital": StrategyPreferHigherConfidence,
		"logical_inconsistency@member": StrategyFlagForReview,
	}, got)

	v.AddStrategy(NewStrategy("escalate", 100, func(issue models.ValidationIssue) bool {
		return issue.RuleID == RuleDirectContradiction
	}))
	assert.Equal(t, "escalate", v.AssignResolutions(issues)["direct_contradiction@capital"])

	assert.True(t, v.RemoveStrategy(StrategyFlagForReview))
	_, ok := v.AssignResolutions(issues)["logical_inconsistency@member"]
	assert.False(t, ok)
}
