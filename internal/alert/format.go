package alert

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	reason := event.Reason
	if reason == "" {
		reason = "-"
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("tradeguard: %s", event.Event),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*User:* %s", event.UserID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Trade:* $%s %s → %s", event.AmountUSD, event.FromToken, event.ToToken)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", severityFor(event))},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("tradeguard %s: %s $%s", event.Event, event.UserID, event.AmountUSD),
			"severity": severityFor(event),
			"source":   "tradeguard",
			"custom_details": map[string]any{
				"reservation_id": event.ReservationID,
				"to_token":       event.ToToken,
				"reason":         event.Reason,
				"message":        event.Message,
			},
		},
	}
	return json.Marshal(payload)
}

// severityFor uses PagerDuty severity names.
func severityFor(event AlertEvent) string {
	switch {
	case event.Event == "commit_failed":
		return "critical"
	case event.Reason == "EmergencyStop":
		return "error"
	case event.Event == "denied", event.Event == "expired":
		return "warning"
	default:
		return "info"
	}
}
