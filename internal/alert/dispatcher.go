// Package alert posts risk events to webhooks.
package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/risk"
)

// Dispatcher fans out risk events to matching webhook configurations.
// It implements risk.Recorder.
type Dispatcher struct {
	configs []AlertConfig
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []AlertConfig, log *zap.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{configs: configs, log: log.Named("alert")}
}

// Record converts ev and dispatches it. It never blocks on the network.
func (d *Dispatcher) Record(_ context.Context, ev risk.Event) error {
	if d == nil {
		return nil
	}
	d.Dispatch(eventFor(ev))
	return nil
}

// Dispatch sends the event to all webhooks whose Events list names the
// event kind or the denial reason.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg AlertConfig) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := Send(ctx, cfg, event); err != nil {
				d.log.Warn("alert not delivered",
					zap.String("url", cfg.URL),
					zap.String("event", event.Event),
					zap.Error(err))
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery finishes.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

func matches(events []string, event AlertEvent) bool {
	for _, e := range events {
		if e == event.Event {
			return true
		}
		if event.Reason != "" && e == event.Reason {
			return true
		}
	}
	return false
}

func eventFor(ev risk.Event) AlertEvent {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return AlertEvent{
		Timestamp:     at.UTC().Format(time.RFC3339),
		Event:         string(ev.Kind),
		ReservationID: ev.ReservationID,
		UserID:        ev.Trade.UserID,
		FromToken:     ev.Trade.FromToken,
		ToToken:       ev.Trade.ToToken,
		AmountUSD:     ev.Trade.AmountUSD.String(),
		Reason:        string(ev.Reason),
		Message:       ev.Message,
	}
}
