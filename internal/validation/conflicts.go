package validation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/hopper/internal/events"
	"github.com/ShayCichocki/hopper/pkg/models"
)

// Conflict rule IDs reported by IdentifyConflicts.
const (
	RuleDirectContradiction  = "direct_contradiction"
	RuleLogicalInconsistency = "logical_inconsistency"
	RuleTemporalConflict     = "temporal_conflict"
)

// timeLayouts are tried in order when a string value might be a time.
var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// IdentifyConflicts scans datasets for direct contradictions, logical
// inconsistencies and temporal conflicts and emits conflictsIdentified.
func (v *CrossValidator) IdentifyConflicts(ctx context.Context, datasets []map[string]any) []models.ValidationIssue {
	issues := findConflicts(datasets)
	v.logger.Sugar().Debugf("identified %d conflicts across %d datasets", len(issues), len(datasets))
	v.sink.Emit(events.Event{Type: events.ConflictsIdentified, Count: len(issues), Timestamp: time.Now()})
	return issues
}

// findConflicts is the pure part of IdentifyConflicts. Issues are ordered by
// key, then by kind, so output is deterministic.
func findConflicts(datasets []map[string]any) []models.ValidationIssue {
	type occurrence struct {
		dataset int
		value   any
	}
	byKey := make(map[string][]occurrence)
	for i, ds := range datasets {
		for k, val := range ds {
			byKey[k] = append(byKey[k], occurrence{dataset: i, value: val})
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []models.ValidationIssue
	for _, key := range keys {
		occs := byKey[key]
		if len(occs) < 2 {
			continue
		}
		sort.Slice(occs, func(i, j int) bool { return occs[i].dataset < occs[j].dataset })

		values := make([]any, len(occs))
		where := make([]string, len(occs))
		for i, o := range occs {
			values[i] = o.value
			where[i] = fmt.Sprintf("%d", o.dataset)
		}

		switch {
		case allBoolLike(values):
			if !allEqual(values, func(a, b any) bool { x, _ := asBool(a); y, _ := asBool(b); return x == y }) {
				issues = append(issues, models.ValidationIssue{
					RuleID:          RuleLogicalInconsistency,
					Severity:        models.SeverityHigh,
					Message:         fmt.Sprintf("datasets %s disagree on whether %q holds", strings.Join(where, ","), key),
					Location:        key,
					ConflictingData: values,
				})
			}
		case allTimeLike(values):
			if !allEqual(values, func(a, b any) bool { x, _ := asTime(a); y, _ := asTime(b); return x.Equal(y) }) {
				issues = append(issues, models.ValidationIssue{
					RuleID:          RuleTemporalConflict,
					Severity:        models.SeverityMedium,
					Message:         fmt.Sprintf("datasets %s report different times for %q", strings.Join(where, ","), key),
					Location:        key,
					ConflictingData: values,
				})
			}
		default:
			if !allEqual(values, models.ValuesEqual) {
				issues = append(issues, models.ValidationIssue{
					RuleID:          RuleDirectContradiction,
					Severity:        models.SeverityHigh,
					Message:         fmt.Sprintf("datasets %s contradict each other on %q", strings.Join(where, ","), key),
					Location:        key,
					ConflictingData: values,
				})
			}
		}
	}

	for i, ds := range datasets {
		issues = append(issues, intervalIssues(i, ds)...)
	}
	return issues
}

// intervalIssues reports start/end pairs in ds whose start is after the end.
// "start" pairs with "end", "reign_start" with "reign_end", "startDate" with "endDate".
func intervalIssues(index int, ds map[string]any) []models.ValidationIssue {
	keys := make([]string, 0, len(ds))
	for k := range ds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []models.ValidationIssue
	for _, startKey := range keys {
		pos := strings.LastIndex(strings.ToLower(startKey), "start")
		if pos < 0 {
			continue
		}
		endKey := startKey[:pos] + matchCase(startKey[pos:pos+5], "end") + startKey[pos+5:]
		endVal, ok := ds[endKey]
		if !ok {
			continue
		}
		start, ok1 := asTime(ds[startKey])
		end, ok2 := asTime(endVal)
		if !ok1 || !ok2 {
			continue
		}
		if start.After(end) {
			issues = append(issues, models.ValidationIssue{
				RuleID:          RuleTemporalConflict,
				Severity:        models.SeverityHigh,
				Message:         fmt.Sprintf("dataset %d: %s is after %s", index, startKey, endKey),
				Location:        fmt.Sprintf("dataset[%d]:%s/%s", index, startKey, endKey),
				ConflictingData: []any{ds[startKey], endVal},
			})
		}
	}
	return issues
}

// matchCase returns word with the capitalization of the first letter of like.
func matchCase(like, word string) string {
	if like != "" && like[0] >= 'A' && like[0] <= 'Z' {
		return strings.ToUpper(word[:1]) + word[1:]
	}
	return word
}

func allEqual(values []any, eq func(a, b any) bool) bool {
	for _, val := range values[1:] {
		if !eq(values[0], val) {
			return false
		}
	}
	return true
}

func allBoolLike(values []any) bool {
	for _, val := range values {
		if _, ok := asBool(val); !ok {
			return false
		}
	}
	return true
}

func allTimeLike(values []any) bool {
	for _, val := range values {
		if _, ok := asTime(val); !ok {
			return false
		}
	}
	return true
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
