// Package audit keeps a tamper-evident journal of every trade decision.
//
// The journal is a JSONL file in which each entry's prev_hash is the
// SHA-256 of the previous line. It is owned by a durable.Store, so appends
// never block on disk and a crash leaves either the previous or the new
// version of the file.
package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/durable"
	"github.com/ppiankov/tradeguard/internal/risk"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GenesisHash is the prev_hash of the first entry in a new journal.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used in entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// chain is the journal payload: raw lines plus the hash of the last one.
type chain struct {
	lines    [][]byte
	prevHash string
}

type lineCodec struct{}

func (lineCodec) New() *chain {
	return &chain{prevHash: GenesisHash}
}

func (lineCodec) Encode(c *chain) ([]byte, error) {
	var buf bytes.Buffer
	for _, line := range c.lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode rejects a file whose last line is unterminated or unparsable so
// the store falls back to the backup.
func (lineCodec) Decode(data []byte, into *chain) (*chain, error) {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		return into, fmt.Errorf("audit: truncated journal")
	}
	var lines [][]byte
	for i, raw := range bytes.Split(bytes.TrimSuffix(data, []byte("\n")), []byte("\n")) {
		if len(raw) == 0 {
			if len(data) == 0 {
				break
			}
			return into, fmt.Errorf("audit: empty line %d", i+1)
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return into, fmt.Errorf("audit: line %d: %w", i+1, err)
		}
		lines = append(lines, append([]byte(nil), raw...))
	}

	into.lines = lines
	into.prevHash = GenesisHash
	if n := len(lines); n > 0 {
		into.prevHash = HashLine(lines[n-1])
	}
	return into, nil
}

// Journal appends entries to a hash-chained JSONL file.
type Journal struct {
	store *durable.Store[*chain]
	now   func() time.Time
}

// Option configures a Journal.
type Option func(*journalOptions)

type journalOptions struct {
	store durable.Options[*chain]
	now   func() time.Time
}

func WithLogger(log *zap.Logger) Option {
	return func(o *journalOptions) { o.store.Logger = log }
}

// WithDebounce sets how long appends are batched before the file is rewritten.
func WithDebounce(d time.Duration) Option {
	return func(o *journalOptions) { o.store.Debounce = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *journalOptions) { o.now = now }
}

// Open loads the journal at path, or starts an empty one.
func Open(ctx context.Context, path string, opts ...Option) (*Journal, error) {
	o := journalOptions{
		store: durable.Options[*chain]{Path: path, Codec: lineCodec{}},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store.Logger != nil {
		o.store.Logger = o.store.Logger.Named("journal")
	}

	store, err := durable.Open(ctx, o.store)
	if err != nil {
		return nil, fmt.Errorf("audit: open journal: %w", err)
	}
	return &Journal{store: store, now: o.now}, nil
}

// Append chains e onto the journal. It sets PrevHash and, when empty,
// Timestamp. The write to disk is debounced.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	return j.store.Mutate(ctx, func(c *chain) (bool, error) {
		if e.Timestamp == "" {
			e.Timestamp = j.now().UTC().Format(TimestampFormat)
		}
		e.PrevHash = c.prevHash

		line, err := json.Marshal(e)
		if err != nil {
			return false, fmt.Errorf("audit: marshal entry: %w", err)
		}
		c.lines = append(c.lines, line)
		c.prevHash = HashLine(line)
		return true, nil
	})
}

// Record journals one risk manager event.
func (j *Journal) Record(ctx context.Context, ev risk.Event) error {
	e := Entry{
		Event:         string(ev.Kind),
		ReservationID: ev.ReservationID,
		UserID:        ev.Trade.UserID,
		FromToken:     ev.Trade.FromToken,
		ToToken:       ev.Trade.ToToken,
		AmountUSD:     ev.Trade.AmountUSD.String(),
		Reason:        string(ev.Reason),
		Message:       ev.Message,
	}
	if !ev.At.IsZero() {
		e.Timestamp = ev.At.UTC().Format(TimestampFormat)
	}
	return j.Append(ctx, e)
}

// Len returns the number of entries, including ones not yet on disk.
func (j *Journal) Len(ctx context.Context) (int, error) {
	var n int
	err := j.store.Read(ctx, func(c *chain) error {
		n = len(c.lines)
		return nil
	})
	return n, err
}

// Head returns the hash of the last entry, or GenesisHash.
func (j *Journal) Head(ctx context.Context) (string, error) {
	var head string
	err := j.store.Read(ctx, func(c *chain) error {
		head = c.prevHash
		return nil
	})
	return head, err
}

// Flush writes pending entries now.
func (j *Journal) Flush(ctx context.Context) error {
	return j.store.Snapshot(ctx)
}

// Close flushes pending entries and closes the journal.
func (j *Journal) Close(ctx context.Context) error {
	return j.store.Shutdown(ctx)
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
