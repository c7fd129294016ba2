package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/alert"
	"github.com/ppiankov/tradeguard/internal/audit"
	"github.com/ppiankov/tradeguard/internal/killswitch"
	"github.com/ppiankov/tradeguard/internal/logging"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// guard is a risk manager wired to its kill switch and decision journal.
type guard struct {
	cfg     *risk.RiskConfig
	log     *zap.Logger
	manager *risk.Manager
	stop    *killswitch.Switch
	journal *audit.Journal
	alerts  *alert.Dispatcher
	cancel  context.CancelFunc
}

func newLogger() (*zap.Logger, error) {
	return logging.New(logLevel, logJSON)
}

// openGuard loads the config named by --config and starts a manager.
// Only one process may own a state file at a time.
func openGuard(ctx context.Context, log *zap.Logger, opts ...risk.Option) (*guard, error) {
	cfg, err := risk.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	g := &guard{cfg: cfg, log: log, cancel: cancel}

	if cfg.KillSwitchPath != "" {
		sw, err := killswitch.New(cfg.KillSwitchPath, log)
		if err != nil {
			g.close(ctx)
			return nil, err
		}
		go sw.Run(ctx)
		g.stop = sw
		opts = append(opts, risk.WithChecks(sw))
	}

	if cfg.JournalPath != "" {
		j, err := audit.Open(ctx, cfg.JournalPath, audit.WithLogger(log))
		if err != nil {
			g.close(ctx)
			return nil, err
		}
		g.journal = j
		opts = append(opts, risk.WithRecorder(j))
	}

	hooks, err := alert.LoadConfig(resolvedConfigPath())
	if err != nil {
		g.close(ctx)
		return nil, err
	}
	if d := alert.NewDispatcher(hooks, log); d != nil {
		g.alerts = d
		opts = append(opts, risk.WithRecorder(d))
	}

	opts = append([]risk.Option{risk.WithLogger(log)}, opts...)
	m, err := risk.NewManager(ctx, cfg, opts...)
	if err != nil {
		g.close(ctx)
		return nil, err
	}
	g.manager = m
	return g, nil
}

// close flushes the manager before the journal so resolution events
// recorded during shutdown are persisted.
func (g *guard) close(ctx context.Context) error {
	var errs []error
	if g.manager != nil {
		if err := g.manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close risk state: %w", err))
		}
	}
	if g.journal != nil {
		if err := g.journal.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	g.alerts.Wait()
	g.cancel()
	return errors.Join(errs...)
}

func (g *guard) emergencyStop() bool {
	return g.stop != nil && g.stop.Engaged()
}
