package models

import "time"

// QualityComponents are the four independently computed quality scores.
type QualityComponents struct {
	Consistency  float64 `json:"consistency"`
	Completeness float64 `json:"completeness"`
	Reliability  float64 `json:"reliability"`
	Coherence    float64 `json:"coherence"`
}

// Mean returns the unweighted arithmetic mean of the components.
func (c QualityComponents) Mean() float64 {
	return (c.Consistency + c.Completeness + c.Reliability + c.Coherence) / 4
}

// QualityScore is the multi-factor assessment of a synthesized answer.
type QualityScore struct {
	Overall    float64           `json:"overall"`
	Components QualityComponents `json:"components"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// SynthesisMetadata describes how a synthesis result was produced.
type SynthesisMetadata struct {
	SynthesizedAt   time.Time `json:"synthesized_at"`
	HopCount        int       `json:"hop_count"`
	ConfidenceScore float64   `json:"confidence_score"`
}

// Segment is one piece of the synthesized narrative and the citations backing it.
type Segment struct {
	HopID       string   `json:"hop_id"`
	Text        string   `json:"text"`
	CitationIDs []string `json:"citation_ids,omitempty"`
}

// SynthesisResult is the merged answer built from hop results.
type SynthesisResult struct {
	Content      map[string]any    `json:"content"`
	Summary      string            `json:"summary,omitempty"`
	Segments     []Segment         `json:"segments,omitempty"`
	QualityScore QualityScore      `json:"quality_score"`
	Citations    []Citation        `json:"citations,omitempty"`
	Metadata     SynthesisMetadata `json:"metadata"`
}
