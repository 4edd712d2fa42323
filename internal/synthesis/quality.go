package synthesis

import (
	"strings"
	"unicode"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// EvaluationInput is what quality evaluators see.
type EvaluationInput struct {
	// Inputs are the hop results handed to CombineResults.
	Inputs []models.HopResult
	// Resolved are the results left after conflict resolution.
	Resolved []models.HopResult
	// ExpectedHops is how many hops the query planned.
	ExpectedHops int
}

// Evaluator computes one quality component in [0,1].
type Evaluator func(in EvaluationInput) float64

// Evaluators holds one Evaluator per quality component.
type Evaluators struct {
	Consistency  Evaluator
	Completeness Evaluator
	Reliability  Evaluator
	Coherence    Evaluator
}

// DefaultEvaluators returns the built-in evaluators.
func DefaultEvaluators() Evaluators {
	return Evaluators{
		Consistency:  EvaluateConsistency,
		Completeness: EvaluateCompleteness,
		Reliability:  EvaluateReliability,
		Coherence:    EvaluateCoherence,
	}
}

// EvaluateConsistency is the fraction of shared-key comparisons across all
// input pairs whose values agree. It is 1.0 when no pair shares a key.
func EvaluateConsistency(in EvaluationInput) float64 {
	comparisons, agreeing := 0, 0
	for i := 0; i < len(in.Inputs); i++ {
		for j := i + 1; j < len(in.Inputs); j++ {
			for k, va := range in.Inputs[i].Content {
				vb, ok := in.Inputs[j].Content[k]
				if !ok {
					continue
				}
				comparisons++
				if models.ValuesEqual(va, vb) {
					agreeing++
				}
			}
		}
	}
	if comparisons == 0 {
		return 1.0
	}
	return float64(agreeing) / float64(comparisons)
}

// EvaluateCompleteness is the number of inputs with content or a summary
// divided by the expected hop count, clamped to [0,1].
func EvaluateCompleteness(in EvaluationInput) float64 {
	expected := in.ExpectedHops
	if expected <= 0 {
		expected = len(in.Inputs)
	}
	if expected == 0 {
		return 0
	}
	filled := 0
	for _, r := range in.Inputs {
		if !r.Empty() {
			filled++
		}
	}
	return clamp01(float64(filled) / float64(expected))
}

// uncitedFactor discounts the confidence of results without citations.
const uncitedFactor = 0.8

// EvaluateReliability is the mean over resolved results of confidence,
// discounted when the result carries no citations.
func EvaluateReliability(in EvaluationInput) float64 {
	if len(in.Resolved) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range in.Resolved {
		factor := 1.0
		if len(r.Metadata.Citations) == 0 {
			factor = uncitedFactor
		}
		total += clamp01(r.Confidence) * factor
	}
	return total / float64(len(in.Resolved))
}

// EvaluateCoherence is the fraction of resolved summaries that share at
// least one significant term with another resolved summary. One or zero
// results are trivially coherent.
func EvaluateCoherence(in EvaluationInput) float64 {
	if len(in.Resolved) <= 1 {
		return 1.0
	}
	terms := make([]map[string]bool, len(in.Resolved))
	for i, r := range in.Resolved {
		terms[i] = significantTerms(r.Summary)
	}

	linked := 0
	for i := range terms {
		for j := range terms {
			if i != j && overlaps(terms[i], terms[j]) {
				linked++
				break
			}
		}
	}
	return float64(linked) / float64(len(terms))
}

func overlaps(a, b map[string]bool) bool {
	for t := range a {
		if b[t] {
			return true
		}
	}
	return false
}

// minTermLength is the shortest word counted as significant.
const minTermLength = 4

var stopWords = map[string]bool{
	"about": true, "after": true, "also": true, "been": true, "before": true,
	"being": true, "between": true, "both": true, "could": true, "does": true,
	"each": true, "from": true, "have": true, "into": true, "more": true,
	"most": true, "only": true, "other": true, "over": true, "same": true,
	"some": true, "such": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "those": true, "very": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true,
}

func significantTerms(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= minTermLength && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f != f || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
