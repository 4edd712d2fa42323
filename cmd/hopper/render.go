package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/hopper/internal/orchestrator"
	"github.com/ShayCichocki/hopper/internal/state"
	"github.com/ShayCichocki/hopper/pkg/models"
)

var (
	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dim   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	box   = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1)
)

// renderResult prints the answer followed by a per-hop breakdown.
func renderResult(w io.Writer, agg *orchestrator.AggregatedResult) {
	if agg.Response != "" {
		fmt.Fprintln(w, box.Render(agg.Response))
	} else {
		fmt.Fprintln(w, color.RedString("No answer: every hop failed."))
	}

	fmt.Fprintf(w, "\n%s\n", title.Render("Hops"))
	for _, sq := range agg.SubQueries {
		fmt.Fprintf(w, "  %s %-8s %s\n", statusMark(sq.Status), sq.ID, sq.Text)
		switch {
		case sq.Status == models.SubQueryFailed:
			fmt.Fprintf(w, "    %s\n", color.RedString(sq.Error))
		case sq.Result != nil:
			fmt.Fprintf(w, "    %s\n", dim.Render(fmt.Sprintf("worker %s, confidence %.0f%%", sq.WorkerID, sq.Result.Confidence*100)))
		}
	}

	issues := append(append([]models.ValidationIssue{}, agg.Validation.Issues...), agg.Consistency.Issues...)
	if len(issues) > 0 {
		fmt.Fprintf(w, "\n%s\n", title.Render("Validation"))
		for _, is := range issues {
			fmt.Fprintf(w, "  %s %s\n", severityLabel(is.Severity), is.Message)
		}
	}
}

func statusMark(s models.SubQueryStatus) string {
	switch s {
	case models.SubQueryCompleted:
		return color.GreenString("✓")
	case models.SubQueryFailed:
		return color.RedString("✗")
	case models.SubQueryInProgress:
		return color.CyanString("…")
	default:
		return color.HiBlackString("·")
	}
}

func severityLabel(s models.Severity) string {
	label := fmt.Sprintf("[%s]", s)
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return color.RedString(label)
	case models.SeverityMedium:
		return color.YellowString(label)
	default:
		return color.HiBlackString(label)
	}
}

func reasoningStatus(s models.ReasoningStatus) string {
	switch s {
	case models.ReasoningCompleted:
		return color.GreenString(string(s))
	case models.ReasoningFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

// renderStoredQueries prints one row per stored query.
func renderStoredQueries(w io.Writer, queries []state.StoredQuery) {
	header := fmt.Sprintf("%-36s  %-12s  %-7s  %-20s  %s", "QUERY", "STATUS", "STEP", "UPDATED", "QUERY TEXT")
	fmt.Fprintln(w, title.Render(header))
	for _, q := range queries {
		text, _ := q.Snapshot.State.Context["query"].(string)
		status := fmt.Sprintf("%-12s", q.Status)
		fmt.Fprintf(w, "%-36s  %s  %-7s  %-20s  %s\n",
			q.QueryID,
			strings.Replace(status, string(q.Status), reasoningStatus(q.Status), 1),
			fmt.Sprintf("%d/%d", q.CurrentStep, q.TotalSteps),
			formatAge(q.Snapshot.Timestamp),
			truncate(text, 60),
		)
	}
}

// renderState prints a recovered reasoning state.
func renderState(w io.Writer, st *models.ReasoningState, checkpoint string) {
	fmt.Fprintf(w, "%s %s\n", title.Render("Query"), st.QueryID)
	if text, ok := st.Context["query"].(string); ok {
		fmt.Fprintf(w, "  %s\n", text)
	}
	fmt.Fprintf(w, "  Status:     %s\n", reasoningStatus(st.Status))
	fmt.Fprintf(w, "  Step:       %d/%d\n", st.CurrentStep, st.TotalSteps)
	fmt.Fprintf(w, "  Started:    %s\n", st.StartTime.Format(time.RFC3339))
	if checkpoint != "" {
		fmt.Fprintf(w, "  Checkpoint: %s\n", checkpoint)
	}
	if len(st.PartialResults) == 0 {
		fmt.Fprintln(w, dim.Render("  No hop results stored."))
		return
	}
	fmt.Fprintf(w, "\n%s\n", title.Render("Hop results"))
	for _, id := range slices.Sorted(maps.Keys(st.PartialResults)) {
		r := st.PartialResults[id]
		summary := r.Summary
		if summary == "" {
			summary = fmt.Sprintf("%d claim(s)", len(r.Content))
		}
		fmt.Fprintf(w, "  %-8s %3.0f%%  %s\n", id, r.Confidence*100, truncate(summary, 70))
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
