package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehawk-security/gatehawk/internal/bus"
	"github.com/gatehawk-security/gatehawk/internal/correlation"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/normalizer"
	"github.com/gatehawk-security/gatehawk/internal/notification"
	"github.com/gatehawk-security/gatehawk/internal/repository"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

const testSecret = "test-webhook-secret"

func newTestService(t *testing.T, secret string) (*IngestService, *repository.InMemoryRepository, *bus.InProcessBus) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	b := bus.NewInProcessBus(16, nil)
	t.Cleanup(func() { _ = b.Close() })

	svc := NewIngestService(
		repo,
		normalizer.NewRegistry(normalizer.NewAccess(), normalizer.NewProtect()),
		map[models.Source]*signature.Verifier{
			models.SourceAccess:  signature.NewVerifier(secret),
			models.SourceProtect: signature.NewVerifier(secret),
		},
		b,
		nil,
	)
	return svc, repo, b
}

func accessPayload(externalID string, tsMillis int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"access.logs.add","data":{"id":%q,"timestamp":%d,"actor":{"display_name":"Jordan Pike"},"door":{"name":"Front"}}}`,
		externalID, tsMillis))
}

func sign(secret string, body []byte) string {
	return signature.NewVerifier(secret).Sign(body)
}

func TestIngestStoresAndCountsEvent(t *testing.T) {
	svc, repo, _ := newTestService(t, testSecret)
	body := accessPayload("ext-1", 1700000000000)

	res, err := svc.Ingest(context.Background(), models.SourceAccess, body, sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)
	assert.Equal(t, 1, res.Stored)
	assert.Zero(t, res.Duplicates)

	events, total, err := repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, models.ActionAccessGranted, events[0].Action)
	assert.Equal(t, "Front", events[0].Location)
	assert.False(t, events[0].ReceivedAt.IsZero())
}

func TestIngestDuplicateIsAcceptedNotStored(t *testing.T) {
	svc, repo, _ := newTestService(t, testSecret)
	body := accessPayload("ext-1", 1700000000000)
	sig := sign(testSecret, body)

	_, err := svc.Ingest(context.Background(), models.SourceAccess, body, sig)
	require.NoError(t, err)

	res, err := svc.Ingest(context.Background(), models.SourceAccess, body, sig)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)
	assert.Zero(t, res.Stored)
	assert.Equal(t, 1, res.Duplicates)

	_, total, err := repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestIngestArrayBody(t *testing.T) {
	svc, repo, _ := newTestService(t, testSecret)
	body := []byte(fmt.Sprintf("[%s,%s]",
		accessPayload("ext-1", 1700000000000),
		accessPayload("ext-2", 1700000005000)))

	res, err := svc.Ingest(context.Background(), models.SourceAccess, body, sign(testSecret, body))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 2, res.Stored)

	_, total, err := repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	svc, repo, _ := newTestService(t, testSecret)
	body := accessPayload("ext-1", 1700000000000)

	_, err := svc.Ingest(context.Background(), models.SourceAccess, body, "sha256=deadbeef")
	assert.ErrorIs(t, err, signature.ErrInvalidSignature)

	_, total, err := repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIngestWithoutSecretSkipsVerification(t *testing.T) {
	svc, _, _ := newTestService(t, "")
	body := accessPayload("ext-1", 1700000000000)

	res, err := svc.Ingest(context.Background(), models.SourceAccess, body, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stored)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	svc, repo, _ := newTestService(t, testSecret)

	cases := map[string][]byte{
		"invalid json":      []byte(`{not json`),
		"empty body":        []byte(``),
		"missing id":        []byte(`{"event":"access.logs.add","data":{"timestamp":1700000000000}}`),
		"missing timestamp": []byte(`{"event":"access.logs.add","data":{"id":"ext-1"}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), models.SourceAccess, body, sign(testSecret, body))
			assert.ErrorIs(t, err, normalizer.ErrMalformedPayload)
		})
	}

	// A malformed item in an array rejects the whole request.
	body := []byte(fmt.Sprintf("[%s,%s]",
		accessPayload("ext-1", 1700000000000),
		`{"event":"access.logs.add","data":{"timestamp":1}}`))
	_, err := svc.Ingest(context.Background(), models.SourceAccess, body, sign(testSecret, body))
	assert.ErrorIs(t, err, normalizer.ErrMalformedPayload)

	_, total, err := repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "malformed requests leave no partial writes")
}

func TestIngestPublishesOnlyStoredEvents(t *testing.T) {
	svc, _, b := newTestService(t, testSecret)

	var published atomic.Int64
	_, err := b.QueueSubscribe(bus.SubjectEventInserted, "observers", func(_ context.Context, msg *bus.Message) error {
		var e models.Event
		require.NoError(t, json.Unmarshal(msg.Data, &e))
		assert.NotEmpty(t, e.ID)
		published.Add(1)
		return nil
	})
	require.NoError(t, err)

	body := accessPayload("ext-1", 1700000000000)
	sig := sign(testSecret, body)
	_, err = svc.Ingest(context.Background(), models.SourceAccess, body, sig)
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), models.SourceAccess, body, sig)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return published.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "duplicates are never published")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), published.Load())
}

func TestIngestEndToEndConsumers(t *testing.T) {
	svc, repo, b := newTestService(t, testSecret)

	var notified atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rule := &models.NotificationRule{
		Name:      "denied alerts",
		Action:    models.ActionAccessGranted,
		Target:    models.TargetGeneric,
		TargetURL: srv.URL,
		Enabled:   true,
	}
	require.NoError(t, repo.CreateRule(context.Background(), rule))

	engine := correlation.New(repo, 60*time.Second, nil)
	dispatcher := notification.NewDispatcher(repo, notification.Config{
		Timeout:        time.Second,
		MaxAttempts:    2,
		InitialBackoff: 5 * time.Millisecond,
	}, nil)
	require.NoError(t, RegisterConsumers(b, engine, dispatcher, nil))

	now := time.Now().UTC()
	body := accessPayload("ext-1", now.UnixMilli())
	_, err := svc.Ingest(context.Background(), models.SourceAccess, body, sign(testSecret, body))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		groups, err := repo.ListGroups(context.Background(), nil, nil, 10)
		return err == nil && len(groups) == 1 && notified.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "event is correlated and notified")
}
