package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["commit_failed", "EmergencyStop", "denied"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp     string `json:"timestamp"`
	Event         string `json:"event"`
	ReservationID string `json:"reservation_id,omitempty"`
	UserID        string `json:"user_id"`
	FromToken     string `json:"from_token,omitempty"`
	ToToken       string `json:"to_token,omitempty"`
	AmountUSD     string `json:"amount_usd"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
}

// LoadConfig reads the alerts list from a risk config YAML file.
// A missing file or a file without an alerts key yields no webhooks.
func LoadConfig(path string) ([]AlertConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read alert config: %w", err)
	}

	var doc struct {
		Alerts []AlertConfig `yaml:"alerts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse alert config: %w", err)
	}
	for i, a := range doc.Alerts {
		if a.URL == "" {
			return nil, fmt.Errorf("alerts[%d]: url is required", i)
		}
		if len(a.Events) == 0 {
			return nil, fmt.Errorf("alerts[%d]: events must not be empty", i)
		}
	}
	return doc.Alerts, nil
}
