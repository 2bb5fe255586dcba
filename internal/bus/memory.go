package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/metrics"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus is closed")

// DefaultQueueDepth bounds each in-process consumer queue.
const DefaultQueueDepth = 256

// InProcessBus is a bounded-channel bus for single-process deployments and
// tests. Each (subject, queue) pair gets one buffered channel drained by one
// worker goroutine; a full channel drops the message with a warning rather
// than blocking the publisher.
type InProcessBus struct {
	mu     sync.RWMutex
	queues map[string]map[string]*memorySub
	depth  int
	closed bool
	logger *logging.Logger
	wg     sync.WaitGroup
}

type memorySub struct {
	bus     *InProcessBus
	subject string
	queue   string
	ch      chan *Message
	once    sync.Once
}

// NewInProcessBus creates an in-process bus. depth <= 0 uses
// DefaultQueueDepth.
func NewInProcessBus(depth int, logger *logging.Logger) *InProcessBus {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InProcessBus{
		queues: make(map[string]map[string]*memorySub),
		depth:  depth,
		logger: logger,
	}
}

func (b *InProcessBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := &Message{Subject: subject, Data: data, Timestamp: time.Now().UTC()}
	for _, sub := range b.queues[subject] {
		select {
		case sub.ch <- msg:
		default:
			metrics.BusDropped.WithLabelValues(subject).Inc()
			b.logger.Warn("consumer queue full, dropping message",
				"subject", subject, "queue", sub.queue)
		}
	}
	return nil
}

func (b *InProcessBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if b.queues[subject] == nil {
		b.queues[subject] = make(map[string]*memorySub)
	}
	if _, exists := b.queues[subject][queue]; exists {
		return nil, errors.New("queue group already subscribed: " + subject + "/" + queue)
	}

	sub := &memorySub{
		bus:     b,
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, b.depth),
	}
	b.queues[subject][queue] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range sub.ch {
			if err := handler(context.Background(), msg); err != nil {
				b.logger.Error("message handler failed",
					"subject", subject, "queue", queue, logging.Error(err))
			}
		}
	}()

	return sub, nil
}

// Close stops all subscriptions and waits for in-flight handlers.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*memorySub, 0)
	for _, byQueue := range b.queues {
		for _, sub := range byQueue {
			subs = append(subs, sub)
		}
	}
	b.queues = make(map[string]map[string]*memorySub)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.ch) })
	}
	b.wg.Wait()
	return nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	if byQueue, ok := s.bus.queues[s.subject]; ok {
		delete(byQueue, s.queue)
	}
	s.bus.mu.Unlock()

	s.once.Do(func() { close(s.ch) })
	return nil
}

func (s *memorySub) Subject() string {
	return s.subject
}
