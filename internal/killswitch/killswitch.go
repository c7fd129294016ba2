// Package killswitch denies every trade while a stop file exists.
//
// Creating the file (by hand, over SFTP, from a dashboard) halts trading
// without touching the process. An fsnotify watcher on the file's directory
// keeps an in-memory flag current, so Check never touches the disk.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/risk"
)

// Switch is a risk.RiskCheck backed by the presence of a file.
type Switch struct {
	path    string
	engaged atomic.Bool
	watcher *fsnotify.Watcher
	log     *zap.Logger
}

// New watches path. The parent directory is created if needed.
func New(path string, log *zap.Logger) (*Switch, error) {
	if path == "" {
		return nil, fmt.Errorf("killswitch: path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("killswitch: create directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// watch the directory: the file itself comes and goes
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	s := &Switch{path: path, watcher: watcher, log: log.Named("killswitch")}
	s.Refresh()
	return s, nil
}

// Path returns the stop file path.
func (s *Switch) Path() string {
	return s.path
}

// Engaged reports whether the stop file was present at the last event.
func (s *Switch) Engaged() bool {
	return s.engaged.Load()
}

// Refresh re-reads the stop file's presence and returns it.
func (s *Switch) Refresh() bool {
	_, err := os.Stat(s.path)
	engaged := err == nil
	if prev := s.engaged.Swap(engaged); prev != engaged {
		if engaged {
			s.log.Warn("kill switch engaged, denying all trades", zap.String("path", s.path))
		} else {
			s.log.Info("kill switch released", zap.String("path", s.path))
		}
	}
	return engaged
}

// Run tracks the stop file until ctx is cancelled.
func (s *Switch) Run(ctx context.Context) error {
	defer s.watcher.Close()

	// catch anything that happened between New and Run
	s.Refresh()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == s.path {
				s.Refresh()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("file watcher error", zap.Error(err))
			s.Refresh()
		}
	}
}

func (s *Switch) Name() string { return "dead_man_switch" }

// Check denies with EmergencyStop while the switch is engaged.
func (s *Switch) Check(risk.TradeContext) *risk.Denial {
	if s.engaged.Load() {
		return risk.Deny(risk.EmergencyStop, s.Name(), "emergency stop: %s detected", s.path)
	}
	return nil
}

func (s *Switch) Commit(risk.TradeContext)   {}
func (s *Switch) Rollback(risk.TradeContext) {}

// Engage creates the stop file with a short note.
func Engage(path, reason string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("killswitch: create directory: %w", err)
	}
	note := fmt.Sprintf("engaged %s: %s\n", time.Now().UTC().Format(time.RFC3339), reason)
	if err := os.WriteFile(path, []byte(note), 0600); err != nil {
		return fmt.Errorf("killswitch: engage: %w", err)
	}
	return nil
}

// Release removes the stop file. Releasing a released switch is not an error.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("killswitch: release: %w", err)
	}
	return nil
}

// IsEngaged reports whether the stop file exists right now.
func IsEngaged(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
