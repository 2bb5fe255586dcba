package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehawk-security/gatehawk/internal/bus"
	"github.com/gatehawk-security/gatehawk/internal/handlers"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/normalizer"
	"github.com/gatehawk-security/gatehawk/internal/ratelimit"
	"github.com/gatehawk-security/gatehawk/internal/repository"
	"github.com/gatehawk-security/gatehawk/internal/server"
	"github.com/gatehawk-security/gatehawk/internal/service"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

const webhookSecret = "handler-test-secret"

type fixture struct {
	srv  *httptest.Server
	repo *repository.InMemoryRepository
}

// denyAllLimiter rejects everything, for testing 429 responses.
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(context.Context, string) (bool, error) { return false, nil }
func (denyAllLimiter) Close() error                                { return nil }

func newFixture(t *testing.T, limiter ratelimit.RateLimiter) *fixture {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	b := bus.NewInProcessBus(64, nil)
	t.Cleanup(func() { _ = b.Close() })

	svc := service.NewIngestService(
		repo,
		normalizer.NewRegistry(normalizer.NewAccess(), normalizer.NewProtect()),
		map[models.Source]*signature.Verifier{
			models.SourceAccess:  signature.NewVerifier(webhookSecret),
			models.SourceProtect: signature.NewVerifier(webhookSecret),
		},
		b,
		nil,
	)

	srv := httptest.NewServer(server.NewRouter(handlers.New(svc, repo, limiter, nil)))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, repo: repo}
}

func (f *fixture) postWebhook(t *testing.T, source string, body []byte, signed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhooks/"+source, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set(signature.HeaderSignature, signature.NewVerifier(webhookSecret).Sign(body))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func accessBody(externalID string, tsMillis int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"access.logs.denied","data":{"id":%q,"timestamp":%d,"actor":{"display_name":"Dana Reyes"},"door":{"name":"Lobby"}}}`,
		externalID, tsMillis))
}

func TestWebhookAccepted(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.postWebhook(t, "access", accessBody("ext-1", time.Now().UnixMilli()), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeBody[service.IngestResult](t, resp)
	assert.Equal(t, 1, result.Stored)
}

func TestWebhookDuplicateReturns200(t *testing.T) {
	f := newFixture(t, nil)
	body := accessBody("ext-1", time.Now().UnixMilli())

	resp := f.postWebhook(t, "access", body, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.postWebhook(t, "access", body, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[service.IngestResult](t, resp)
	assert.Zero(t, result.Stored)
	assert.Equal(t, 1, result.Duplicates)
}

func TestWebhookBadSignatureReturns401(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.postWebhook(t, "access", accessBody("ext-1", time.Now().UnixMilli()), false)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookMalformedReturns422(t *testing.T) {
	f := newFixture(t, nil)

	body := []byte(`{"event":"access.logs.add","data":{"timestamp":1700000000000}}`)
	resp := f.postWebhook(t, "access", body, true)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestWebhookRateLimited(t *testing.T) {
	f := newFixture(t, denyAllLimiter{})

	resp := f.postWebhook(t, "access", accessBody("ext-1", time.Now().UnixMilli()), true)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/webhooks/access")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func seedEvents(t *testing.T, f *fixture, n int) {
	t.Helper()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		body := accessBody(fmt.Sprintf("ext-%d", i), base.Add(time.Duration(i)*time.Minute).UnixMilli())
		resp := f.postWebhook(t, "access", body, true)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestEventsListAndPagination(t *testing.T) {
	f := newFixture(t, nil)
	seedEvents(t, f, 5)

	resp, err := http.Get(f.srv.URL + "/api/v1/events?limit=2&offset=0")
	require.NoError(t, err)
	list := decodeBody[models.EventListResponse](t, resp)
	assert.Equal(t, 5, list.Total)
	assert.Len(t, list.Events, 2)
	// Newest first.
	assert.True(t, list.Events[0].OccurredAt.After(list.Events[1].OccurredAt))
}

func TestEventsFilterBySourceValidation(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/api/v1/events?source=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventByIDAndNotFound(t *testing.T) {
	f := newFixture(t, nil)
	seedEvents(t, f, 1)

	events, _, err := f.repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)

	resp, err := http.Get(f.srv.URL + "/api/v1/events/" + events[0].ID)
	require.NoError(t, err)
	got := decodeBody[models.Event](t, resp)
	assert.Equal(t, events[0].ID, got.ID)

	resp, err = http.Get(f.srv.URL + "/api/v1/events/no-such-id")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSetEventIgnored(t *testing.T) {
	f := newFixture(t, nil)
	seedEvents(t, f, 1)

	events, _, err := f.repo.QueryEvents(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	id := events[0].ID

	req, err := http.NewRequest(http.MethodPatch,
		f.srv.URL+"/api/v1/events/"+id+"/ignored",
		bytes.NewReader([]byte(`{"ignored":true}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[models.Event](t, resp)
	assert.True(t, got.Ignored)

	// Missing body field is a 400.
	req, err = http.NewRequest(http.MethodPatch,
		f.srv.URL+"/api/v1/events/"+id+"/ignored",
		bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSummaryEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	seedEvents(t, f, 3)

	resp, err := http.Get(f.srv.URL + "/api/v1/summary")
	require.NoError(t, err)
	summary := decodeBody[models.Summary](t, resp)
	assert.Equal(t, 3, summary.Totals[models.SourceAccess])
	assert.NotEmpty(t, summary.Breakdown)
}

func TestCorrelationsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	group := &models.CorrelationGroup{
		Location:    "Lobby",
		WindowStart: time.Now().Add(-time.Minute),
		WindowEnd:   time.Now().Add(time.Minute),
	}
	e := &models.Event{
		Source: models.SourceAccess, ExternalID: "ext-1",
		Action: models.ActionAccessGranted, OccurredAt: time.Now(), Location: "Lobby",
	}
	_, err := f.repo.InsertEventIfAbsent(context.Background(), e)
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateGroup(context.Background(), group, e.ID))

	resp, err := http.Get(f.srv.URL + "/api/v1/correlations")
	require.NoError(t, err)
	body := decodeBody[struct {
		Total        int                        `json:"total"`
		Correlations []*models.CorrelationGroup `json:"correlations"`
	}](t, resp)
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "Lobby", body.Correlations[0].Location)
	require.Len(t, body.Correlations[0].Events, 1)

	resp, err = http.Get(f.srv.URL + "/api/v1/correlations?since=not-a-time")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRulesCRUD(t *testing.T) {
	f := newFixture(t, nil)

	create := `{"name":"denied alerts","source":"access","action":"access_denied","target":"slack","target_url":"https://hooks.slack.test/abc"}`
	resp, err := http.Post(f.srv.URL+"/api/v1/rules", "application/json", bytes.NewReader([]byte(create)))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rule := decodeBody[models.NotificationRule](t, resp)
	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Enabled)

	// List
	resp, err = http.Get(f.srv.URL + "/api/v1/rules")
	require.NoError(t, err)
	listing := decodeBody[struct {
		Total int                        `json:"total"`
		Rules []*models.NotificationRule `json:"rules"`
	}](t, resp)
	assert.Equal(t, 1, listing.Total)

	// Update
	update := `{"enabled":false,"target":"discord"}`
	req, err := http.NewRequest(http.MethodPut, f.srv.URL+"/api/v1/rules/"+rule.ID, bytes.NewReader([]byte(update)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[models.NotificationRule](t, resp)
	assert.False(t, updated.Enabled)
	assert.Equal(t, models.TargetDiscord, updated.Target)

	// Delete
	req, err = http.NewRequest(http.MethodDelete, f.srv.URL+"/api/v1/rules/"+rule.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/api/v1/rules/" + rule.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRuleValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]string{
		"missing name":        `{"source":"access","target":"slack","target_url":"https://x.test/a"}`,
		"no source or action": `{"name":"r","target":"slack","target_url":"https://x.test/a"}`,
		"bad target":          `{"name":"r","source":"access","target":"sms","target_url":"https://x.test/a"}`,
		"bad url":             `{"name":"r","source":"access","target":"slack","target_url":"ftp://x"}`,
		"bad source":          `{"name":"r","source":"badge","target":"slack","target_url":"https://x.test/a"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Post(f.srv.URL+"/api/v1/rules", "application/json", bytes.NewReader([]byte(body)))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(f.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
