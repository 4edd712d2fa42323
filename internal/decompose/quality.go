package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/hopper/internal/graph"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// Severity indicates the severity of a quality issue.
type Severity int

const (
	// SeverityInfo indicates informational feedback.
	SeverityInfo Severity = iota
	// SeverityWarning indicates a potential problem.
	SeverityWarning
	// SeverityCritical indicates the sub-query will likely fail to dispatch.
	SeverityCritical
)

// String returns a human-readable severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QualityIssue is one concern about a sub-query or the decomposition.
type QualityIssue struct {
	SubQueryID string
	Severity   Severity
	Message    string
}

// DecompositionQuality summarizes how well a decomposition is likely to run.
type DecompositionQuality struct {
	// Confidence is in [0,1]; 1 means no issues were found.
	Confidence float64
	Issues     []QualityIssue
	// Parallelism is the width of the widest layer.
	Parallelism int
	// Depth is the number of layers.
	Depth          int
	CriticalIssues int
}

// maxComfortableDepth is the layer count beyond which each extra layer is penalized.
const maxComfortableDepth = 3

// ScoreDecomposition checks sub-queries against the offered capabilities
// and the shape of plan. An empty offered list skips the capability check.
func ScoreDecomposition(subs []*models.SubQuery, plan graph.Plan, offered []string) DecompositionQuality {
	q := DecompositionQuality{Confidence: 1.0, Depth: len(plan)}
	for _, layer := range plan {
		if len(layer) > q.Parallelism {
			q.Parallelism = len(layer)
		}
	}
	if len(subs) == 0 {
		return q
	}

	have := make(map[string]bool, len(offered))
	for _, c := range models.NormalizeCapabilities(offered) {
		have[c] = true
	}
	seenText := make(map[string]string, len(subs))

	total := 0.0
	for _, sq := range subs {
		score := 1.0
		add := func(sev Severity, penalty float64, format string, args ...any) {
			score -= penalty
			q.Issues = append(q.Issues, QualityIssue{SubQueryID: sq.ID, Severity: sev, Message: fmt.Sprintf(format, args...)})
			if sev == SeverityCritical {
				q.CriticalIssues++
			}
		}

		if len(have) > 0 {
			var missing []string
			for _, c := range models.NormalizeCapabilities(sq.RequiredCapabilities) {
				if !have[c] {
					missing = append(missing, c)
				}
			}
			if len(missing) > 0 {
				add(SeverityCritical, 0.5, "no worker offers %s", strings.Join(missing, ", "))
			}
		}

		key := strings.ToLower(strings.Join(strings.Fields(sq.Text), " "))
		if other, dup := seenText[key]; dup {
			add(SeverityWarning, 0.3, "duplicates %s", other)
		} else {
			seenText[key] = sq.ID
		}
		if len(strings.Fields(sq.Text)) < 3 {
			add(SeverityWarning, 0.2, "text is too short to answer on its own")
		}

		if score < 0 {
			score = 0
		}
		total += score
	}
	q.Confidence = total / float64(len(subs))

	if q.Depth > maxComfortableDepth {
		q.Confidence -= float64(q.Depth-maxComfortableDepth) * 0.05
		q.Issues = append(q.Issues, QualityIssue{
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("deep dependency chain (%d layers)", q.Depth),
		})
	}
	if len(subs) > 2 && q.Parallelism == 1 {
		q.Issues = append(q.Issues, QualityIssue{
			Severity: SeverityInfo,
			Message:  "fully sequential: no sub-queries can run in parallel",
		})
	}
	if q.Confidence < 0 {
		q.Confidence = 0
	}
	return q
}
