package seeder

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

// Result tallies one seeding run.
type Result struct {
	Sent     int
	Accepted int
	Rejected int
}

// Runner sends generated webhook traffic to a gatehawk server.
type Runner struct {
	scenario Scenario
	gen      *Generator
	client   *http.Client
	signers  map[models.Source]*signature.Verifier
}

// NewRunner creates a seeding runner for the scenario.
func NewRunner(s Scenario) *Runner {
	return &Runner{
		scenario: s,
		gen:      NewGenerator(s.Seed, s.Locations, s.Actors),
		client:   &http.Client{Timeout: 10 * time.Second},
		signers: map[models.Source]*signature.Verifier{
			models.SourceAccess:  signature.NewVerifier(s.Secrets.Access),
			models.SourceProtect: signature.NewVerifier(s.Secrets.Protect),
		},
	}
}

// Run sends the scenario's events. It keeps going on per-event rejections
// and stops only on transport-level failure or context cancellation.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	for i := 0; i < r.scenario.Count; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		source := models.SourceProtect
		body := []byte(nil)
		if r.gen.rng.Float64() < r.scenario.AccessRatio {
			source = models.SourceAccess
			body = r.gen.AccessPayload(i, r.scenario.Count, time.Duration(r.scenario.TimeSpread))
		} else {
			body = r.gen.ProtectPayload(i, r.scenario.Count, time.Duration(r.scenario.TimeSpread))
		}

		status, err := r.post(ctx, source, body)
		if err != nil {
			return result, fmt.Errorf("failed to send event %d: %w", i, err)
		}
		result.Sent++
		if status >= 200 && status < 300 {
			result.Accepted++
		} else {
			result.Rejected++
		}
	}

	return result, nil
}

func (r *Runner) post(ctx context.Context, source models.Source, body []byte) (int, error) {
	url := fmt.Sprintf("%s/webhooks/%s", r.scenario.BaseURL, source)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signer := r.signers[source]; signer.Enabled() {
		req.Header.Set(signature.HeaderSignature, signer.Sign(body))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
