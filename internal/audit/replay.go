package audit

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// ReplayFilter selects journal entries. Empty fields match everything.
type ReplayFilter struct {
	UserID        string
	ReservationID string
	From          time.Time // zero value = no lower bound
	To            time.Time // zero value = no upper bound
}

// ReplaySummary counts events in a replayed journal slice.
type ReplaySummary struct {
	Total          int             `json:"total"`
	Approved       int             `json:"approved"`
	Denied         int             `json:"denied"`
	Committed      int             `json:"committed"`
	CommitFailed   int             `json:"commit_failed"`
	RolledBack     int             `json:"rolled_back"`
	Expired        int             `json:"expired"`
	CommittedUSD   decimal.Decimal `json:"committed_usd"`
	DenialReasons  map[string]int  `json:"denial_reasons,omitempty"`
	FirstTimestamp string          `json:"first_timestamp"`
	LastTimestamp  string          `json:"last_timestamp"`
}

// ReplayResult holds filtered entries and their summary.
type ReplayResult struct {
	Filter  ReplayFilter  `json:"-"`
	Entries []Entry       `json:"entries"`
	Summary ReplaySummary `json:"summary"`
}

// Replay reads the journal and returns entries matching the filter.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{Filter: filter}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}
		if !filter.matches(entry) {
			continue
		}
		result.Entries = append(result.Entries, entry)
		updateSummary(&result.Summary, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return result, nil
}

// Tail keeps the last n entries and recomputes the summary over them.
// n <= 0 keeps everything.
func (r *ReplayResult) Tail(n int) *ReplayResult {
	if n <= 0 || n >= len(r.Entries) {
		return r
	}
	out := &ReplayResult{Filter: r.Filter, Entries: r.Entries[len(r.Entries)-n:]}
	for _, e := range out.Entries {
		updateSummary(&out.Summary, e)
	}
	return out
}

func (f ReplayFilter) matches(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.ReservationID != "" && e.ReservationID != f.ReservationID {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func updateSummary(s *ReplaySummary, e Entry) {
	s.Total++

	switch e.Event {
	case "approved":
		s.Approved++
	case "denied":
		s.Denied++
		if s.DenialReasons == nil {
			s.DenialReasons = make(map[string]int)
		}
		s.DenialReasons[e.Reason]++
	case "committed":
		s.Committed++
		if amount, err := decimal.NewFromString(e.AmountUSD); err == nil {
			s.CommittedUSD = s.CommittedUSD.Add(amount)
		}
	case "commit_failed":
		s.CommitFailed++
	case "rolled_back":
		s.RolledBack++
	case "expired":
		s.Expired++
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}
