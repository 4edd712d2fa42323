// Package synthesis merges hop results into one cited, quality-scored answer.
package synthesis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// DefaultConflictMargin is the confidence lead a result needs to win a
// conflict group outright instead of being merged with the runner-up.
const DefaultConflictMargin = 0.3

// Synthesizer combines hop results. Its citation index spans every
// CombineResults call on the same instance.
type Synthesizer struct {
	mu            sync.Mutex
	citations     map[string]models.Citation
	citationOrder []string

	margin     float64
	merge      MergeFunc
	evaluators Evaluators
	logger     *zap.Logger
	sink       events.Sink
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSink sets the event sink.
func WithSink(sink events.Sink) Option {
	return func(s *Synthesizer) { s.sink = events.OrNop(sink) }
}

// WithConflictMargin sets the outright-win margin.
func WithConflictMargin(m float64) Option {
	return func(s *Synthesizer) {
		if m >= 0 {
			s.margin = m
		}
	}
}

// WithMergeFunc replaces ConfidenceWeightedMerge.
func WithMergeFunc(fn MergeFunc) Option {
	return func(s *Synthesizer) {
		if fn != nil {
			s.merge = fn
		}
	}
}

// WithEvaluators replaces the quality evaluators. Nil fields keep the default.
func WithEvaluators(e Evaluators) Option {
	return func(s *Synthesizer) {
		if e.Consistency != nil {
			s.evaluators.Consistency = e.Consistency
		}
		if e.Completeness != nil {
			s.evaluators.Completeness = e.Completeness
		}
		if e.Reliability != nil {
			s.evaluators.Reliability = e.Reliability
		}
		if e.Coherence != nil {
			s.evaluators.Coherence = e.Coherence
		}
	}
}

// New creates a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{
		citations:  make(map[string]models.Citation),
		margin:     DefaultConflictMargin,
		merge:      ConfidenceWeightedMerge,
		evaluators: DefaultEvaluators(),
		logger:     zap.NewNop(),
		sink:       events.Nop,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type combineOptions struct {
	expectedHops int
}

// CombineOption configures a single CombineResults call.
type CombineOption func(*combineOptions)

// WithExpectedHops sets how many hops were planned, so missing hops lower
// completeness. It defaults to the number of results.
func WithExpectedHops(n int) CombineOption {
	return func(o *combineOptions) { o.expectedHops = n }
}

// CombineResults indexes citations, resolves conflict groups, merges what
// remains, scores quality, and emits synthesisDone.
func (s *Synthesizer) CombineResults(ctx context.Context, results []models.HopResult, opts ...CombineOption) (*models.SynthesisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var o combineOptions
	for _, opt := range opts {
		opt(&o)
	}

	inputs := make([]models.HopResult, len(results))
	for i, r := range results {
		inputs[i] = r.Clone()
		for j := range inputs[i].Metadata.Citations {
			c := &inputs[i].Metadata.Citations[j]
			if c.ID == "" {
				c.ID = c.Source + "#" + c.Reference
			}
		}
	}
	s.indexCitations(inputs)

	groups := GroupConflicts(inputs)
	var resolved []models.HopResult
	var discarded []string
	conflictGroups, merged := 0, 0
	for _, g := range groups {
		r, dropped, didMerge := s.resolve(g)
		resolved = append(resolved, r)
		discarded = append(discarded, dropped...)
		if len(g) > 1 {
			conflictGroups++
		}
		if didMerge {
			merged++
		}
	}

	out := &models.SynthesisResult{
		Content:   make(map[string]any),
		Citations: s.citationsFor(resolved),
	}
	var summaries []string
	for _, r := range resolved {
		for k, v := range r.Content {
			out.Content[k] = v
		}
		if text := strings.TrimSpace(r.Summary); text != "" {
			summaries = append(summaries, text)
			seg := models.Segment{HopID: r.HopID, Text: text}
			for _, c := range r.Metadata.Citations {
				seg.CitationIDs = append(seg.CitationIDs, c.ID)
			}
			out.Segments = append(out.Segments, seg)
		}
	}
	out.Summary = strings.Join(summaries, "\n")

	in := EvaluationInput{Inputs: inputs, Resolved: resolved, ExpectedHops: o.expectedHops}
	components := models.QualityComponents{
		Consistency:  clamp01(s.evaluators.Consistency(in)),
		Completeness: clamp01(s.evaluators.Completeness(in)),
		Reliability:  clamp01(s.evaluators.Reliability(in)),
		Coherence:    clamp01(s.evaluators.Coherence(in)),
	}
	out.QualityScore = models.QualityScore{
		Overall:    components.Mean(),
		Components: components,
		Metadata: map[string]any{
			"groups":          len(groups),
			"conflict_groups": conflictGroups,
			"merged_groups":   merged,
			"discarded":       discarded,
			"expected_hops":   o.expectedHops,
		},
	}

	meanConfidence := 0.0
	for _, r := range resolved {
		meanConfidence += clamp01(r.Confidence)
	}
	if len(resolved) > 0 {
		meanConfidence /= float64(len(resolved))
	}
	out.Metadata = models.SynthesisMetadata{
		SynthesizedAt:   time.Now(),
		HopCount:        len(inputs),
		ConfidenceScore: meanConfidence * components.Completeness,
	}

	s.logger.Debug("results combined",
		zap.Int("hops", len(inputs)),
		zap.Int("groups", len(groups)),
		zap.Int("conflict_groups", conflictGroups),
		zap.Float64("overall", out.QualityScore.Overall))
	s.sink.Emit(events.Event{Type: events.SynthesisDone, Count: len(inputs), Timestamp: out.Metadata.SynthesizedAt})
	return out, nil
}

// resolve picks the representative of a conflict group. It returns the
// result, the hop IDs that were dropped, and whether a merge happened.
func (s *Synthesizer) resolve(group []models.HopResult) (models.HopResult, []string, bool) {
	if len(group) == 1 {
		return group[0], nil, false
	}
	ranked := append([]models.HopResult(nil), group...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })

	var dropped []string
	for _, r := range ranked[2:] {
		dropped = append(dropped, r.HopID)
	}

	top, second := ranked[0], ranked[1]
	if top.Confidence-second.Confidence > s.margin {
		return top, append([]string{second.HopID}, dropped...), false
	}
	return s.merge(top, second), dropped, true
}

// indexCitations adds unseen citations to the index. The first occurrence
// of an ID wins; later duplicates are dropped.
func (s *Synthesizer) indexCitations(results []models.HopResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		for _, c := range r.Metadata.Citations {
			if _, ok := s.citations[c.ID]; ok {
				continue
			}
			s.citations[c.ID] = c
			s.citationOrder = append(s.citationOrder, c.ID)
		}
	}
}

// citationsFor returns the indexed citations referenced by results, once each.
func (s *Synthesizer) citationsFor(results []models.HopResult) []models.Citation {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []models.Citation
	for _, r := range results {
		for _, c := range r.Metadata.Citations {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			out = append(out, s.citations[c.ID])
		}
	}
	return out
}

// Citation returns the indexed citation with id.
func (s *Synthesizer) Citation(id string) (models.Citation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.citations[id]
	return c, ok
}

// Citations returns every indexed citation in discovery order.
func (s *Synthesizer) Citations() []models.Citation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Citation, len(s.citationOrder))
	for i, id := range s.citationOrder {
		out[i] = s.citations[id]
	}
	return out
}
