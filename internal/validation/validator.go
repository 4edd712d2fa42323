package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// RuleCrossHopConsistency is raised per mismatching shared content key.
const RuleCrossHopConsistency = "cross_hop_consistency"

const (
	// DefaultCrossHopPenalty multiplies confidence per cross-hop mismatch.
	DefaultCrossHopPenalty = 0.9
	// DefaultMinConfidence is the threshold of the min_confidence rule.
	DefaultMinConfidence = 0.3
)

// CrossValidator validates hop results against its registered rules,
// consistency checks and strategies. It is safe for concurrent use.
type CrossValidator struct {
	rules      registry[Rule]
	checks     registry[ConsistencyCheck]
	strategies registry[Strategy]

	crossHopPenalty float64
	minConfidence   float64
	defaults        bool
	logger          *zap.Logger
	sink            events.Sink
}

// Option configures a CrossValidator.
type Option func(*CrossValidator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *CrossValidator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithSink sets the event sink.
func WithSink(s events.Sink) Option {
	return func(v *CrossValidator) { v.sink = events.OrNop(s) }
}

// WithCrossHopPenalty sets the factor applied per cross-hop mismatch.
func WithCrossHopPenalty(p float64) Option {
	return func(v *CrossValidator) { v.crossHopPenalty = clamp01(p) }
}

// WithMinConfidence sets the threshold of the built-in min_confidence rule.
func WithMinConfidence(c float64) Option {
	return func(v *CrossValidator) { v.minConfidence = clamp01(c) }
}

// WithoutDefaults starts with empty registries.
func WithoutDefaults() Option {
	return func(v *CrossValidator) { v.defaults = false }
}

// New creates a CrossValidator with the built-in rules, checks and strategies.
func New(opts ...Option) *CrossValidator {
	v := &CrossValidator{
		crossHopPenalty: DefaultCrossHopPenalty,
		minConfidence:   DefaultMinConfidence,
		defaults:        true,
		logger:          zap.NewNop(),
		sink:            events.Nop,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.defaults {
		for _, r := range DefaultRules(v.minConfidence) {
			v.rules.add(r)
		}
		for _, c := range DefaultChecks() {
			v.checks.add(c)
		}
		for _, s := range DefaultStrategies() {
			v.strategies.add(s)
		}
	}
	return v
}

// AddRule registers r, replacing any rule with the same ID.
func (v *CrossValidator) AddRule(r Rule) { v.rules.add(r) }

// RemoveRule unregisters the rule with id.
func (v *CrossValidator) RemoveRule(id string) bool { return v.rules.remove(id) }

// Rules returns the registered rule IDs in order.
func (v *CrossValidator) Rules() []string { return v.rules.ids() }

// AddCheck registers c, replacing any check with the same ID.
func (v *CrossValidator) AddCheck(c ConsistencyCheck) { v.checks.add(c) }

// RemoveCheck unregisters the check with id.
func (v *CrossValidator) RemoveCheck(id string) bool { return v.checks.remove(id) }

// Checks returns the registered check IDs in order.
func (v *CrossValidator) Checks() []string { return v.checks.ids() }

// AddStrategy registers s, replacing any strategy with the same ID.
func (v *CrossValidator) AddStrategy(s Strategy) { v.strategies.add(s) }

// RemoveStrategy unregisters the strategy with id.
func (v *CrossValidator) RemoveStrategy(id string) bool { return v.strategies.remove(id) }

// Strategies returns the registered strategy IDs in order.
func (v *CrossValidator) Strategies() []string { return v.strategies.ids() }

// ValidateHopResults runs every rule, then compares every pair of results on
// their shared content keys, and emits validationComplete.
func (v *CrossValidator) ValidateHopResults(ctx context.Context, results []models.HopResult) models.ValidationResult {
	out := models.Pass()
	rules := v.rules.snapshot()

	for _, rule := range rules {
		r := v.evaluate(ctx, rule, results)
		if r.IsValid {
			continue
		}
		out.Confidence *= clamp01(r.Confidence)
		for _, issue := range r.Issues {
			if issue.RuleID == "" {
				issue.RuleID = rule.ID()
			}
			if !issue.Severity.Valid() {
				issue.Severity = rule.Severity()
			}
			out.Issues = append(out.Issues, issue)
		}
	}

	pairs := 0
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			pairs++
			for _, issue := range crossCheck(results[i], results[j]) {
				out.Issues = append(out.Issues, issue)
				out.Confidence *= v.crossHopPenalty
			}
		}
	}

	out.IsValid = !out.HasBlockingIssue()
	out.Metadata = map[string]any{
		"rules_evaluated": len(rules),
		"pairs_compared":  pairs,
		"resolutions":     v.AssignResolutions(out.Issues),
	}

	v.logger.Debug("hop results validated",
		zap.Int("results", len(results)),
		zap.Int("issues", len(out.Issues)),
		zap.Float64("confidence", out.Confidence),
		zap.Bool("valid", out.IsValid))
	v.sink.Emit(events.Event{Type: events.ValidationComplete, Count: len(out.Issues), Message: "hop_results", Timestamp: time.Now()})
	return out
}

// evaluate runs a rule, converting a panic into a low-severity issue.
func (v *CrossValidator) evaluate(ctx context.Context, rule Rule, results []models.HopResult) (res models.ValidationResult) {
	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("validation rule panicked", zap.String("rule", rule.ID()), zap.Any("panic", p))
			res = models.ValidationResult{
				Confidence: 1.0,
				Issues: []models.ValidationIssue{{
					RuleID:   rule.ID(),
					Severity: models.SeverityLow,
					Message:  fmt.Sprintf("rule panicked: %v", p),
				}},
			}
		}
	}()
	return rule.Evaluate(ctx, results)
}

// crossCheck compares the shared content keys of a and b.
func crossCheck(a, b models.HopResult) []models.ValidationIssue {
	var keys []string
	for k := range a.Content {
		if _, ok := b.Content[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var issues []models.ValidationIssue
	for _, k := range keys {
		if models.ValuesEqual(a.Content[k], b.Content[k]) {
			continue
		}
		issues = append(issues, models.ValidationIssue{
			RuleID:          RuleCrossHopConsistency,
			Severity:        models.SeverityHigh,
			Message:         fmt.Sprintf("hops %s and %s disagree on %q", a.HopID, b.HopID, k),
			Location:        fmt.Sprintf("%s<->%s:%s", a.HopID, b.HopID, k),
			ConflictingData: []any{a.Content[k], b.Content[k]},
		})
	}
	return issues
}

// CheckConsistency runs every registered consistency check concurrently.
// Each failing check adds one issue and multiplies the confidence by
// (1 - its ErrorThreshold). Issues are reported in registration order.
func (v *CrossValidator) CheckConsistency(ctx context.Context, results []models.HopResult) models.ValidationResult {
	checks := v.checks.snapshot()
	type outcome struct {
		CheckOutcome
		err error
	}
	outcomes := make([]outcome, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					outcomes[i] = outcome{err: fmt.Errorf("check panicked: %v", p)}
				}
			}()
			o, err := check.Check(gctx, results)
			outcomes[i] = outcome{CheckOutcome: o, err: err}
			// Failures are folded into the result, never returned.
			return nil
		})
	}
	_ = g.Wait()

	out := models.Pass()
	for i, check := range checks {
		o := outcomes[i]
		if o.err == nil && o.Passed {
			continue
		}
		msg := o.Message
		if o.err != nil {
			msg = fmt.Sprintf("check could not complete: %v", o.err)
		}
		out.Confidence *= 1 - check.ErrorThreshold()
		out.Issues = append(out.Issues, models.ValidationIssue{
			RuleID:          check.ID(),
			Severity:        models.SeverityMedium,
			Message:         fmt.Sprintf("[%s] %s", check.Category(), msg),
			Location:        o.Location,
			ConflictingData: o.Data,
		})
	}

	out.IsValid = !out.HasBlockingIssue()
	out.Metadata = map[string]any{
		"checks_run":  len(checks),
		"resolutions": v.AssignResolutions(out.Issues),
	}
	v.sink.Emit(events.Event{Type: events.ValidationComplete, Count: len(out.Issues), Message: "consistency", Timestamp: time.Now()})
	return out
}
