package synthesis

import (
	"strings"

	"github.com/ShayCichocki/hopper/pkg/models"
)

// MergeFunc combines two results whose content overlaps. b is the
// later-seen result.
type MergeFunc func(a, b models.HopResult) models.HopResult

// ConfidenceWeightedMerge is the default MergeFunc:
//   - content is the union of both key sets;
//   - on a shared key the higher-confidence value wins, and b wins ties;
//   - confidence is the mean of the two;
//   - summaries are joined, citations are unioned by ID (a's first).
func ConfidenceWeightedMerge(a, b models.HopResult) models.HopResult {
	out := models.HopResult{
		HopID:      a.HopID + "+" + b.HopID,
		Content:    make(map[string]any, len(a.Content)+len(b.Content)),
		Confidence: (a.Confidence + b.Confidence) / 2,
	}

	for k, v := range a.Content {
		out.Content[k] = models.CloneValue(v)
	}
	for k, v := range b.Content {
		if _, shared := a.Content[k]; shared && a.Confidence > b.Confidence {
			continue
		}
		out.Content[k] = models.CloneValue(v)
	}

	var summaries []string
	for _, s := range []string{a.Summary, b.Summary} {
		if s = strings.TrimSpace(s); s != "" {
			summaries = append(summaries, s)
		}
	}
	out.Summary = strings.Join(summaries, " ")

	seen := make(map[string]bool)
	for _, c := range append(append([]models.Citation(nil), a.Metadata.Citations...), b.Metadata.Citations...) {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out.Metadata.Citations = append(out.Metadata.Citations, c)
	}

	switch {
	case a.Metadata.Source == "" || a.Metadata.Source == b.Metadata.Source:
		out.Metadata.Source = b.Metadata.Source
	case b.Metadata.Source == "":
		out.Metadata.Source = a.Metadata.Source
	default:
		out.Metadata.Source = a.Metadata.Source + ", " + b.Metadata.Source
	}
	out.Metadata.Timestamp = a.Metadata.Timestamp
	if b.Metadata.Timestamp.After(out.Metadata.Timestamp) {
		out.Metadata.Timestamp = b.Metadata.Timestamp
	}
	return out
}
