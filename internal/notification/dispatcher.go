package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/metrics"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/repository"
)

// Delivery defaults.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Config holds dispatcher delivery settings.
type Config struct {
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// MaxAttempts is the total number of delivery attempts per rule.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt; it doubles on
	// each subsequent retry.
	InitialBackoff time.Duration
}

// DefaultConfig returns the default delivery settings.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	return c
}

// Dispatcher matches stored events against notification rules and delivers
// to each matching rule's target. Delivery is at-least-once: transient
// failures retry with exponential backoff, and exhausted deliveries are
// logged and counted but never surface to the ingestion path.
type Dispatcher struct {
	repo   repository.Repository
	cfg    Config
	logger *logging.Logger

	// newChannel is replaced in tests to observe channel construction.
	newChannel func(rule *models.NotificationRule, timeout time.Duration) (Channel, error)
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(repo repository.Repository, cfg Config, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		repo:       repo,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		newChannel: NewChannel,
	}
}

// Dispatch delivers the event to every enabled rule that matches it.
// Ignored events are skipped. The only error returned is a rule-lookup
// failure; delivery outcomes are reported through logs and metrics.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.Event) error {
	if event.Ignored {
		return nil
	}

	rules, err := d.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to list notification rules: %w", err)
	}

	for _, rule := range rules {
		if !rule.Matches(event) {
			continue
		}
		d.deliver(ctx, rule, event)
	}
	return nil
}

// deliver runs the retry loop for one rule. It never returns an error;
// exhaustion is terminal for this event and rule.
func (d *Dispatcher) deliver(ctx context.Context, rule *models.NotificationRule, event *models.Event) {
	ch, err := d.newChannel(rule, d.cfg.Timeout)
	if err != nil {
		metrics.NotificationFailures.WithLabelValues(rule.Target).Inc()
		d.logger.ErrorContext(ctx, "notification rule has invalid target",
			logging.RuleID(rule.ID), logging.Target(rule.Target), logging.Error(err))
		return
	}

	backoff := d.cfg.InitialBackoff
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		start := time.Now()
		err := d.send(ctx, ch, event)
		metrics.DeliveryDuration.WithLabelValues(ch.Type()).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.NotificationsSent.WithLabelValues(ch.Type()).Inc()
			d.logger.InfoContext(ctx, "notification delivered",
				logging.RuleID(rule.ID), logging.Target(ch.Type()),
				logging.EventID(event.ID), logging.Attempt(attempt))
			return
		}

		d.logger.WarnContext(ctx, "notification delivery failed",
			logging.RuleID(rule.ID), logging.Target(ch.Type()),
			logging.EventID(event.ID), logging.Attempt(attempt), logging.Error(err))

		if attempt == d.cfg.MaxAttempts {
			break
		}
		if !sleep(ctx, backoff) {
			break
		}
		backoff *= 2
	}

	metrics.NotificationFailures.WithLabelValues(ch.Type()).Inc()
	d.logger.ErrorContext(ctx, "notification delivery exhausted",
		logging.RuleID(rule.ID), logging.Target(ch.Type()), logging.EventID(event.ID))
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, event *models.Event) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return ch.Send(attemptCtx, event)
}

// sleep waits for the backoff duration, returning false when the context
// ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
