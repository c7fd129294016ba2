package risk

import (
	"errors"
	"fmt"

	"github.com/ppiankov/tradeguard/internal/durable"
)

var (
	// ErrStoreUnavailable means risk state could not be persisted. The
	// mutation that needed the write has been reverted.
	ErrStoreUnavailable = durable.ErrStoreUnavailable
	// ErrReservationExpired is returned when a reservation was auto-released
	// before it was committed or rolled back.
	ErrReservationExpired = errors.New("risk: reservation expired")
	// ErrUnknownReservation is returned for ids that were never issued or
	// have already been resolved.
	ErrUnknownReservation = errors.New("risk: unknown reservation")
	// ErrInvalidTrade is returned for malformed proposals.
	ErrInvalidTrade = errors.New("risk: invalid trade")
)

// ConfigError reports a malformed RiskConfig field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("risk config: %s: %s", e.Field, e.Reason)
}
