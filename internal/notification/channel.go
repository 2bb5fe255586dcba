// Package notification delivers matched events to outbound webhooks.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// Channel defines the interface for event notification delivery.
type Channel interface {
	Send(ctx context.Context, event *models.Event) error
	Type() string
}

// Source badge colors.
var sourceColors = map[models.Source]string{
	models.SourceAccess:  "#238636", // green
	models.SourceProtect: "#d29922", // amber
}

var sourceColorInts = map[models.Source]int{
	models.SourceAccess:  0x238636,
	models.SourceProtect: 0xd29922,
}

var actionEmoji = map[string]string{
	models.ActionAccessGranted:   "✅",
	models.ActionAccessDenied:    "🚫",
	models.ActionDoorUnlocked:    "🔓",
	models.ActionDoorOpened:      "🚪",
	models.ActionDoorClosed:      "🚪",
	models.ActionDoorHeldOpen:    "⚠️",
	models.ActionDoorbellRing:    "🔔",
	models.ActionMotion:          "👁️",
	models.ActionPersonDetected:  "🧍",
	models.ActionVehicleDetected: "🚗",
	models.ActionRecording:       "🎥",
}

// actionTitle renders a normalized action tag for display,
// e.g. "access_granted" becomes "Access Granted".
func actionTitle(action string) string {
	words := strings.Split(action, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func emojiFor(action string) string {
	if e, ok := actionEmoji[action]; ok {
		return e
	}
	return "📋"
}

// NewChannel builds the delivery channel for a rule's target type.
func NewChannel(rule *models.NotificationRule, timeout time.Duration) (Channel, error) {
	switch rule.Target {
	case models.TargetSlack:
		return NewSlackChannel(rule.TargetURL, timeout), nil
	case models.TargetDiscord:
		return NewDiscordChannel(rule.TargetURL, timeout), nil
	case models.TargetGeneric:
		return NewGenericChannel(rule.TargetURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown notification target %q", rule.Target)
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "GateHawk/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel sends event notifications to a Slack incoming webhook.
type SlackChannel struct {
	WebhookURL string
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *SlackChannel) Type() string {
	return models.TargetSlack
}

func (s *SlackChannel) Send(ctx context.Context, event *models.Event) error {
	color, ok := sourceColors[event.Source]
	if !ok {
		color = "#8b949e"
	}

	text := fmt.Sprintf("%s *%s*\n>*Who:* %s\n>*Where:* %s\n>*Source:* %s\n>*When:* %s",
		emojiFor(event.Action),
		actionTitle(event.Action),
		event.ActorLabel(),
		locationLabel(event),
		actionTitle(string(event.Source)),
		event.OccurredAt.UTC().Format(time.RFC3339),
	)

	payload := map[string]any{
		"attachments": []map[string]any{
			{
				"color": color,
				"blocks": []map[string]any{
					{
						"type": "section",
						"text": map[string]any{
							"type": "mrkdwn",
							"text": text,
						},
					},
				},
			},
		},
	}

	return postJSON(ctx, s.client, s.WebhookURL, payload)
}

// DiscordChannel sends event notifications to a Discord webhook.
type DiscordChannel struct {
	WebhookURL string
	client     *http.Client
}

// NewDiscordChannel creates a Discord notification channel.
func NewDiscordChannel(webhookURL string, timeout time.Duration) *DiscordChannel {
	return &DiscordChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (d *DiscordChannel) Type() string {
	return models.TargetDiscord
}

func (d *DiscordChannel) Send(ctx context.Context, event *models.Event) error {
	color, ok := sourceColorInts[event.Source]
	if !ok {
		color = 0x8b949e
	}

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title": fmt.Sprintf("%s %s", emojiFor(event.Action), actionTitle(event.Action)),
				"color": color,
				"fields": []map[string]any{
					{"name": "Who", "value": event.ActorLabel(), "inline": true},
					{"name": "Where", "value": locationLabel(event), "inline": true},
					{"name": "Source", "value": actionTitle(string(event.Source)), "inline": true},
				},
				"timestamp": event.OccurredAt.UTC().Format(time.RFC3339),
			},
		},
	}

	return postJSON(ctx, d.client, d.WebhookURL, payload)
}

// GenericChannel posts the canonical event fields as plain JSON.
type GenericChannel struct {
	WebhookURL string
	client     *http.Client
}

// NewGenericChannel creates a generic webhook notification channel.
func NewGenericChannel(webhookURL string, timeout time.Duration) *GenericChannel {
	return &GenericChannel{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (g *GenericChannel) Type() string {
	return models.TargetGeneric
}

func (g *GenericChannel) Send(ctx context.Context, event *models.Event) error {
	payload := map[string]any{
		"event_id":    event.ID,
		"source":      event.Source,
		"action":      event.Action,
		"actor_id":    event.ActorID,
		"actor_name":  event.ActorName,
		"location":    event.Location,
		"occurred_at": event.OccurredAt.UTC().Format(time.RFC3339),
	}

	return postJSON(ctx, g.client, g.WebhookURL, payload)
}

// LogChannel writes notifications to logs, for testing and dry runs.
type LogChannel struct {
	logf func(format string, v ...any)
}

// NewLogChannel creates a log-based notification channel.
func NewLogChannel(logf func(format string, v ...any)) *LogChannel {
	return &LogChannel{logf: logf}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Send(_ context.Context, event *models.Event) error {
	l.logf("NOTIFY: %s %s at %s by %s (id=%s)",
		event.Source, event.Action, locationLabel(event), event.ActorLabel(), event.ID)
	return nil
}

func locationLabel(event *models.Event) string {
	if event.Location != "" {
		return event.Location
	}
	return "Unknown"
}
