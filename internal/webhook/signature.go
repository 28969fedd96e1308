// Package webhook verifies and processes inbound email provider webhooks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/sitecore/internal/domain"
)

const secretPrefix = "whsec_"

// Header names carried by a signed delivery.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

// DefaultTolerance is the replay window for delivery timestamps.
const DefaultTolerance = 300 * time.Second

// Verification errors. None of them are retried.
var (
	ErrMissingHeaders      = errors.New("missing signature headers")
	ErrInvalidTimestamp    = errors.New("invalid signature timestamp")
	ErrTimestampOutOfRange = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch   = errors.New("no matching signature")
)

// Headers are the three signature headers of a delivery.
type Headers struct {
	ID        string
	Timestamp string
	Signature string
}

// HeadersFrom extracts signature headers from an HTTP header set.
func HeadersFrom(h http.Header) Headers {
	return Headers{
		ID:        h.Get(HeaderID),
		Timestamp: h.Get(HeaderTimestamp),
		Signature: h.Get(HeaderSignature),
	}
}

// Verifier checks HMAC-SHA256 delivery signatures.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	clock     domain.Clock
}

// NewVerifier decodes secret (with or without the whsec_ prefix).
func NewVerifier(secret string, tolerance time.Duration, clock domain.Clock) (*Verifier, error) {
	secret = strings.TrimPrefix(strings.TrimSpace(secret), secretPrefix)
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{key: key, tolerance: tolerance, clock: clock}, nil
}

// Verify returns nil when at least one v1 signature matches and the timestamp is fresh.
func (v *Verifier) Verify(body []byte, h Headers) error {
	if h.ID == "" || h.Timestamp == "" || h.Signature == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	skew := v.clock.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return ErrTimestampOutOfRange
	}

	expected := []byte(v.sign(h.ID, h.Timestamp, body))
	for _, entry := range strings.Fields(h.Signature) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Valid is the boolean form of Verify.
func (v *Verifier) Valid(body []byte, h Headers) bool {
	return v.Verify(body, h) == nil
}

// Sign produces a v1 signature header value for the given delivery.
func (v *Verifier) Sign(id string, at time.Time, body []byte) Headers {
	ts := strconv.FormatInt(at.Unix(), 10)
	return Headers{ID: id, Timestamp: ts, Signature: "v1," + v.sign(id, ts, body)}
}

func (v *Verifier) sign(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
