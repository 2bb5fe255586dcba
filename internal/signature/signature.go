// Package signature verifies the authenticity of inbound webhook bodies.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a configured secret does not match
// the provided signature header.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Header names checked for the inbound signature, in order.
const (
	HeaderSignature = "X-Signature"
	HeaderHubSig256 = "X-Hub-Signature-256"
)

const prefix = "sha256="

// Verifier validates webhook bodies against a per-source shared secret.
// An empty secret disables verification; that is a deliberate configuration
// choice for sources that cannot sign their deliveries, not a failure.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign computes the expected signature value ("sha256=<hex>") over body.
func (v *Verifier) Sign(body []byte) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	return prefix + hex.EncodeToString(h.Sum(nil))
}

// Verify checks header against the HMAC of the exact raw body bytes as
// received, before any JSON parsing; re-serialization would change the hash.
// The comparison is constant-time. Returns nil when no secret is configured.
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		return nil
	}

	header = strings.TrimSpace(header)
	expected := v.Sign(body)
	if hmac.Equal([]byte(expected), []byte(header)) {
		return nil
	}
	return ErrInvalidSignature
}
