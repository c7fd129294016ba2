// Package durable implements a single-writer store for one disk-backed
// resource. All reads and mutations are serialized through one command
// channel drained by one goroutine, which also performs every disk write.
// Callers never take a lock and never block on disk I/O directly; they only
// wait for their command's reply.
package durable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned for commands submitted after Shutdown.
	ErrClosed = errors.New("durable: store is closed")
	// ErrStoreUnavailable is returned when a snapshot write exhausted its retries.
	// The mutation that triggered the write has been reverted.
	ErrStoreUnavailable = errors.New("durable: store unavailable")
)

const (
	DefaultDebounce   = 250 * time.Millisecond
	DefaultRetries    = 3
	DefaultRetryDelay = 20 * time.Millisecond
	DefaultQueueSize  = 64
)

// Options configures a Store.
type Options[T any] struct {
	Path       string
	Codec      Codec[T]
	Logger     *zap.Logger
	Debounce   time.Duration
	Retries    int
	RetryDelay time.Duration
	QueueSize  int

	// WriteFile persists one snapshot. Defaults to WriteAtomic.
	WriteFile func(path string, data []byte) error
}

// MutateFunc changes the payload in place. It reports whether the durable
// part changed. A MutateFunc that returns an error must leave the payload
// untouched.
type MutateFunc[T any] func(v T) (changed bool, err error)

type opKind int

const (
	opLoad opKind = iota
	opRead
	opMutate
	opMutateSync
	opSnapshot
	opShutdown
)

type command[T any] struct {
	op    opKind
	read  func(v T) error
	fn    MutateFunc[T]
	reply chan error
}

// Store owns one payload of type T and its snapshot file.
type Store[T any] struct {
	opts   Options[T]
	log    *zap.Logger
	cmds   chan command[T]
	done   chan struct{}
	closed atomic.Bool

	// owned by the run loop
	state   T
	durable []byte
	dirty   bool
	flush   *time.Timer
}

// Open starts the store loop and loads the last snapshot before any other
// command is accepted. A missing or unreadable snapshot falls back to the
// backup, then to Codec.New().
func Open[T any](ctx context.Context, opts Options[T]) (*Store[T], error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("durable: path is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("durable: codec is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Retries <= 0 {
		opts.Retries = DefaultRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteFile == nil {
		opts.WriteFile = WriteAtomic
	}

	s := &Store[T]{
		opts:  opts,
		log:   opts.Logger.With(zap.String("store", opts.Path)),
		cmds:  make(chan command[T], opts.QueueSize),
		done:  make(chan struct{}),
		state: opts.Codec.New(),
	}
	go s.run()

	if err := s.Load(ctx); err != nil {
		s.Shutdown(context.Background())
		return nil, err
	}
	return s, nil
}

// Path returns the snapshot path.
func (s *Store[T]) Path() string {
	return s.opts.Path
}

// Load replaces the durable payload with the snapshot on disk, discarding
// mutations that were not yet persisted.
func (s *Store[T]) Load(ctx context.Context) error {
	return s.submit(ctx, command[T]{op: opLoad})
}

// Read runs fn against the payload inside the store loop. fn must not
// retain or modify v.
func (s *Store[T]) Read(ctx context.Context, fn func(v T) error) error {
	return s.submit(ctx, command[T]{op: opRead, read: fn})
}

// Mutate applies fn and, when it reports a durable change, schedules a
// debounced snapshot. If that write later fails, the payload reverts to the
// last persisted snapshot.
func (s *Store[T]) Mutate(ctx context.Context, fn MutateFunc[T]) error {
	return s.submit(ctx, command[T]{op: opMutate, fn: fn})
}

// MutateSync applies fn and persists the result before replying. On write
// failure the payload is restored to its pre-mutation value and the error
// wraps ErrStoreUnavailable.
func (s *Store[T]) MutateSync(ctx context.Context, fn MutateFunc[T]) error {
	return s.submit(ctx, command[T]{op: opMutateSync, fn: fn})
}

// Snapshot forces an immediate write of the current payload.
func (s *Store[T]) Snapshot(ctx context.Context) error {
	return s.submit(ctx, command[T]{op: opSnapshot})
}

// Shutdown lets queued commands finish, writes a final snapshot and closes
// the store. Later commands fail with ErrClosed.
func (s *Store[T]) Shutdown(ctx context.Context) error {
	return s.submit(ctx, command[T]{op: opShutdown})
}

// Done is closed once the store loop has exited.
func (s *Store[T]) Done() <-chan struct{} {
	return s.done
}

// submit enqueues c and waits for its reply. Cancelling ctx stops the wait,
// not the command: once enqueued it always runs.
func (s *Store[T]) submit(ctx context.Context, c command[T]) error {
	if s.closed.Load() {
		return ErrClosed
	}
	c.reply = make(chan error, 1)

	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store[T]) run() {
	defer close(s.done)

	var flushC <-chan time.Time
	for {
		select {
		case c := <-s.cmds:
			if c.op == opShutdown {
				s.shutdown(c)
				return
			}
			c.reply <- s.handle(c)
			if s.dirty && s.flush == nil {
				s.flush = time.NewTimer(s.opts.Debounce)
				flushC = s.flush.C
			}
			if !s.dirty && s.flush != nil {
				s.flush.Stop()
				s.flush = nil
				flushC = nil
			}

		case <-flushC:
			s.flush = nil
			flushC = nil
			if s.dirty {
				if err := s.writeDebounced(); err != nil {
					s.log.Error("debounced snapshot failed, reverted to last snapshot", zap.Error(err))
				}
			}
		}
	}
}

func (s *Store[T]) handle(c command[T]) error {
	switch c.op {
	case opLoad:
		return s.load()
	case opRead:
		return c.read(s.state)
	case opMutate:
		changed, err := c.fn(s.state)
		if err != nil {
			return err
		}
		if changed {
			s.dirty = true
		}
		return nil
	case opMutateSync:
		return s.mutateSync(c.fn)
	case opSnapshot:
		return s.writeDebounced()
	default:
		return fmt.Errorf("durable: unknown command %d", c.op)
	}
}

func (s *Store[T]) mutateSync(fn MutateFunc[T]) error {
	pre, err := s.opts.Codec.Encode(s.state)
	if err != nil {
		return err
	}
	changed, err := fn(s.state)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	data, err := s.opts.Codec.Encode(s.state)
	if err == nil {
		err = s.persist(data)
	}
	if err != nil {
		s.revert(pre)
		return err
	}
	s.durable = data
	s.dirty = false
	return nil
}

// writeDebounced persists the current payload. On failure every mutation
// since the last successful write is reverted.
func (s *Store[T]) writeDebounced() error {
	data, err := s.opts.Codec.Encode(s.state)
	if err == nil {
		err = s.persist(data)
	}
	if err != nil {
		s.revert(s.durable)
		s.dirty = false
		return err
	}
	s.durable = data
	s.dirty = false
	return nil
}

func (s *Store[T]) revert(data []byte) {
	state, err := s.opts.Codec.Decode(data, s.state)
	if err != nil {
		// data was produced by Encode; failing here means the codec is broken
		s.log.Error("revert failed", zap.Error(err))
		return
	}
	s.state = state
}

func (s *Store[T]) persist(data []byte) error {
	delay := s.opts.RetryDelay
	var err error
	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		if err = s.opts.WriteFile(s.opts.Path, data); err == nil {
			return nil
		}
		s.log.Warn("snapshot write failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.Retries),
			zap.Error(err))
		if attempt < s.opts.Retries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (s *Store[T]) load() error {
	for _, path := range []string{s.opts.Path, BackupPath(s.opts.Path)} {
		data, err := s.readSnapshot(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("snapshot unreadable", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		state, err := s.opts.Codec.Decode(data, s.state)
		if err != nil {
			return err
		}
		s.state = state
		s.durable = data
		s.dirty = false
		if path != s.opts.Path {
			s.log.Warn("loaded previous snapshot from backup", zap.String("path", path))
		}
		return nil
	}

	s.log.Info("no usable snapshot, starting from defaults")
	fresh := s.opts.Codec.New()
	data, err := s.opts.Codec.Encode(fresh)
	if err != nil {
		return err
	}
	state, err := s.opts.Codec.Decode(data, s.state)
	if err != nil {
		return err
	}
	s.state = state
	s.durable = data
	s.dirty = false
	return nil
}

// readSnapshot returns the file contents only if they decode cleanly.
func (s *Store[T]) readSnapshot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	if _, err := s.opts.Codec.Decode(data, s.opts.Codec.New()); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store[T]) shutdown(c command[T]) {
	if s.flush != nil {
		s.flush.Stop()
		s.flush = nil
	}
	err := s.writeDebounced()
	s.closed.Store(true)
	c.reply <- err

	for {
		select {
		case late := <-s.cmds:
			late.reply <- ErrClosed
		default:
			return
		}
	}
}
