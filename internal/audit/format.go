package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	scope := describeFilter(result.Filter)
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Journal: %s | No entries found.\n", scope)
	}

	var b strings.Builder

	first := formatDateTime(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Journal: %s | %s–%s UTC\n", scope, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		detail := strings.ToUpper(e.Event)
		if e.Reason != "" {
			detail += " " + e.Reason
		}
		b.WriteString(fmt.Sprintf("%-10s %-12s %-28s %-12s %-9s %s\n",
			formatTimeOnly(e.Timestamp),
			truncate(e.UserID, 12),
			detail,
			"$"+e.AmountUSD,
			truncate(e.ToToken, 9),
			shortID(e.ReservationID)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func describeFilter(f ReplayFilter) string {
	var parts []string
	if f.UserID != "" {
		parts = append(parts, "user "+f.UserID)
	}
	if f.ReservationID != "" {
		parts = append(parts, "reservation "+shortID(f.ReservationID))
	}
	if len(parts) == 0 {
		return "all users"
	}
	return strings.Join(parts, ", ")
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	counts := []struct {
		n     int
		label string
	}{
		{s.Approved, "approved"},
		{s.Denied, "denied"},
		{s.Committed, "committed"},
		{s.CommitFailed, "commit failed"},
		{s.RolledBack, "rolled back"},
		{s.Expired, "expired"},
	}
	parts := []string{}
	for _, c := range counts {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}

	out := fmt.Sprintf("Summary: %s | Committed: $%s\n", strings.Join(parts, ", "), s.CommittedUSD)
	if len(s.DenialReasons) > 0 {
		reasons := make([]string, 0, len(s.DenialReasons))
		for r, n := range s.DenialReasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		out += "Denials: " + strings.Join(reasons, ", ") + "\n"
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
