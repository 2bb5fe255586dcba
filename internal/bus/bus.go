// Package bus decouples event ingestion from its async consumers. The
// webhook path publishes "event inserted" messages; the correlation engine
// and the notification dispatcher consume them independently, so a failure
// in one consumer cannot block the other or the ingesting request.
package bus

import (
	"context"
	"time"
)

// Subject and queue group names.
// Subjects follow the pattern {domain}.{action}.
const (
	// SubjectEventInserted carries newly stored canonical events.
	// Duplicates never reach this subject.
	SubjectEventInserted = "events.inserted"

	// QueueCorrelators load-balances correlation work.
	QueueCorrelators = "correlators"
	// QueueNotifiers load-balances notification dispatch.
	QueueNotifiers = "notifiers"
)

// Message is a message received from or sent to the bus.
type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// Handler processes a received message. Returning an error indicates
// processing failure; implementations log it, they do not redeliver.
type Handler func(ctx context.Context, msg *Message) error

// Subscription represents an active queue subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages on this subscription.
	Unsubscribe() error

	// Subject returns the subject this subscription is listening to.
	Subject() string
}

// Bus publishes and consumes messages. Queue subscriptions in the same
// queue group share messages, so each message is processed once per group.
type Bus interface {
	// Publish sends a message to the subject. Publish never blocks on slow
	// consumers; an implementation may drop when a consumer queue is full.
	Publish(ctx context.Context, subject string, data []byte) error

	// QueueSubscribe creates a queue subscription on the subject.
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)

	// Close releases resources and stops all subscriptions.
	Close() error
}
