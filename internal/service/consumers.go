package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehawk-security/gatehawk/internal/bus"
	"github.com/gatehawk-security/gatehawk/internal/correlation"
	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/notification"
)

// RegisterConsumers subscribes the correlation engine and the notification
// dispatcher to stored-event messages. Each runs in its own queue group so
// one consumer's failure or backlog never stalls the other.
func RegisterConsumers(b bus.Bus, engine *correlation.Engine, dispatcher *notification.Dispatcher, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}

	_, err := b.QueueSubscribe(bus.SubjectEventInserted, bus.QueueCorrelators, func(ctx context.Context, msg *bus.Message) error {
		event, err := decodeEvent(msg.Data)
		if err != nil {
			return err
		}
		return engine.Correlate(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe correlator: %w", err)
	}

	_, err = b.QueueSubscribe(bus.SubjectEventInserted, bus.QueueNotifiers, func(ctx context.Context, msg *bus.Message) error {
		event, err := decodeEvent(msg.Data)
		if err != nil {
			return err
		}
		return dispatcher.Dispatch(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe notifier: %w", err)
	}

	return nil
}

func decodeEvent(data []byte) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event message: %w", err)
	}
	return &event, nil
}
