package audit

// Entry is one line in the hash-chained JSONL decision journal.
// All fields are plain values so marshaling is deterministic and the
// hash of a line is reproducible.
type Entry struct {
	Timestamp     string `json:"ts"`
	Event         string `json:"event"`
	ReservationID string `json:"reservation_id,omitempty"`
	UserID        string `json:"user_id"`
	FromToken     string `json:"from_token,omitempty"`
	ToToken       string `json:"to_token,omitempty"`
	AmountUSD     string `json:"amount_usd"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
	PrevHash      string `json:"prev_hash"`
}
