// Package service orchestrates webhook ingestion: signature verification,
// normalization, idempotent storage, and fan-out to async consumers.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehawk-security/gatehawk/internal/bus"
	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/metrics"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/normalizer"
	"github.com/gatehawk-security/gatehawk/internal/repository"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

// IngestResult reports what happened to one webhook request's payloads.
type IngestResult struct {
	Received   int `json:"received"`
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
}

// IngestService runs the ingestion pipeline for inbound webhooks.
type IngestService struct {
	repo        repository.Repository
	normalizers *normalizer.Registry
	verifiers   map[models.Source]*signature.Verifier
	bus         bus.Bus
	logger      *logging.Logger
}

// NewIngestService creates the ingestion pipeline. A source whose verifier
// carries no secret accepts unsigned requests; that is logged once here so
// the operator knows verification is off.
func NewIngestService(
	repo repository.Repository,
	normalizers *normalizer.Registry,
	verifiers map[models.Source]*signature.Verifier,
	b bus.Bus,
	logger *logging.Logger,
) *IngestService {
	if logger == nil {
		logger = logging.Default()
	}
	for source, v := range verifiers {
		if !v.Enabled() {
			logger.Warn("webhook signature verification disabled, no secret configured",
				logging.Source(string(source)))
		}
	}
	return &IngestService{
		repo:        repo,
		normalizers: normalizers,
		verifiers:   verifiers,
		bus:         b,
		logger:      logger,
	}
}

// Ingest verifies, normalizes, and stores one webhook request body. The
// body may be a single payload object or a JSON array of them. All payloads
// are normalized before any is stored, so a malformed item rejects the
// whole request without partial writes.
//
// Error returns wrap signature.ErrInvalidSignature for authentication
// failures and normalizer.ErrMalformedPayload for payloads the handler
// should reject as unprocessable.
func (s *IngestService) Ingest(ctx context.Context, source models.Source, body []byte, sigHeader string) (*IngestResult, error) {
	if v, ok := s.verifiers[source]; ok {
		if err := v.Verify(body, sigHeader); err != nil {
			metrics.SignatureFailures.WithLabelValues(string(source)).Inc()
			metrics.EventsReceived.WithLabelValues(string(source), "rejected").Inc()
			return nil, err
		}
	}

	norm, err := s.normalizers.Find(source)
	if err != nil {
		return nil, err
	}

	payloads, err := splitPayloads(body)
	if err != nil {
		metrics.NormalizationErrors.WithLabelValues(string(source)).Inc()
		metrics.EventsReceived.WithLabelValues(string(source), "malformed").Inc()
		return nil, fmt.Errorf("%w: %v", normalizer.ErrMalformedPayload, err)
	}

	events := make([]*models.Event, 0, len(payloads))
	for _, raw := range payloads {
		event, err := norm.Normalize(raw)
		if err != nil {
			metrics.NormalizationErrors.WithLabelValues(string(source)).Inc()
			metrics.EventsReceived.WithLabelValues(string(source), "malformed").Inc()
			return nil, err
		}
		events = append(events, event)
	}

	result := &IngestResult{Received: len(events)}
	for _, event := range events {
		inserted, err := s.repo.InsertEventIfAbsent(ctx, event)
		if err != nil {
			metrics.EventsReceived.WithLabelValues(string(source), "error").Inc()
			return nil, fmt.Errorf("failed to store event: %w", err)
		}
		if !inserted {
			metrics.DuplicateEvents.WithLabelValues(string(source)).Inc()
			metrics.EventsReceived.WithLabelValues(string(source), "duplicate").Inc()
			result.Duplicates++
			s.logger.DebugContext(ctx, "duplicate event skipped",
				logging.Source(string(source)), logging.ExternalID(event.ExternalID))
			continue
		}

		metrics.EventsReceived.WithLabelValues(string(source), "stored").Inc()
		result.Stored++
		s.logger.InfoContext(ctx, "event stored",
			logging.Source(string(source)), logging.EventID(event.ID),
			logging.Action(event.Action), logging.Location(event.Location))

		s.publish(ctx, event)
	}

	return result, nil
}

// publish hands the stored event to async consumers. A publish failure is
// logged but never fails the webhook request; the event is already durable.
func (s *IngestService) publish(ctx context.Context, event *models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode event for publish",
			logging.EventID(event.ID), logging.Error(err))
		return
	}
	if err := s.bus.Publish(ctx, bus.SubjectEventInserted, data); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stored event",
			logging.EventID(event.ID), logging.Error(err))
	}
}

// splitPayloads returns the individual payload objects in a request body,
// accepting either one object or an array of objects.
func splitPayloads(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("empty payload array")
		}
		return items, nil
	}

	var obj json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return []json.RawMessage{obj}, nil
}
