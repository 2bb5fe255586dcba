package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gatehawk-security/gatehawk/internal/logging"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL string
	// Name identifies this client on the server.
	Name string
	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns a NATSConfig with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "gatehawk",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements Bus over a NATS connection, for deployments where the
// correlation and notification consumers run out of process.
type NATSBus struct {
	conn   *nats.Conn
	logger *logging.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewNATSBus connects to NATS with the given configuration.
func NewNATSBus(cfg NATSConfig, logger *logging.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = logging.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSBus{conn: conn, logger: logger}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, func(m *nats.Msg) {
		msg := &Message{Subject: m.Subject, Data: m.Data, Timestamp: time.Now().UTC()}
		if err := handler(context.Background(), msg); err != nil {
			b.logger.Error("message handler failed",
				"subject", subject, "queue", queue, logging.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return &natsSub{sub: sub}, nil
}

// Close drains the connection, allowing in-flight messages to complete.
func (b *NATSBus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSub) Subject() string {
	return s.sub.Subject
}
