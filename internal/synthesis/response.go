package synthesis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// QualityLabel describes an overall quality score in words.
func QualityLabel(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "moderate"
	default:
		return "low"
	}
}

// GenerateResponse renders result as text: the narrative with inline [n]
// citation markers, the key facts, the numbered sources, and a quality
// block. It emits responseGenerated and has no other side effects.
func (s *Synthesizer) GenerateResponse(result *models.SynthesisResult) string {
	if result == nil {
		return ""
	}

	number := make(map[string]int, len(result.Citations))
	for i, c := range result.Citations {
		number[c.ID] = i + 1
	}

	var b strings.Builder
	if len(result.Segments) > 0 {
		for _, seg := range result.Segments {
			b.WriteString(seg.Text)
			for _, id := range seg.CitationIDs {
				if n, ok := number[id]; ok {
					fmt.Fprintf(&b, " [%d]", n)
				}
			}
			b.WriteString("\n")
		}
	} else if result.Summary != "" {
		b.WriteString(result.Summary)
		b.WriteString("\n")
	}

	if len(result.Content) > 0 {
		keys := make([]string, 0, len(result.Content))
		for k := range result.Content {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nKey facts:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %v\n", k, result.Content[k])
		}
	}

	if len(result.Citations) > 0 {
		b.WriteString("\nSources:\n")
		for i, c := range result.Citations {
			fmt.Fprintf(&b, "  [%d] %s", i+1, c.Source)
			if c.Reference != "" {
				fmt.Fprintf(&b, " (%s)", c.Reference)
			}
			b.WriteString("\n")
		}
	}

	q := result.QualityScore
	fmt.Fprintf(&b, "\nQuality: %.0f%% (%s)\n", q.Overall*100, QualityLabel(q.Overall))
	fmt.Fprintf(&b, "  %-13s %3.0f%%\n", "consistency", q.Components.Consistency*100)
	fmt.Fprintf(&b, "  %-13s %3.0f%%\n", "completeness", q.Components.Completeness*100)
	fmt.Fprintf(&b, "  %-13s %3.0f%%\n", "reliability", q.Components.Reliability*100)
	fmt.Fprintf(&b, "  %-13s %3.0f%%\n", "coherence", q.Components.Coherence*100)
	fmt.Fprintf(&b, "Confidence: %.0f%% across %d hop(s)\n", result.Metadata.ConfidenceScore*100, result.Metadata.HopCount)

	s.sink.Emit(events.Event{Type: events.ResponseGenerated, Count: len(result.Citations), Timestamp: time.Now()})
	return b.String()
}
