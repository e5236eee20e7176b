package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Verification errors. A failed verification never touches session state;
// callers log and discard the payload.
var (
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrStaleTimestamp     = errors.New("signature timestamp outside tolerance")
	ErrInvalidSignature   = errors.New("signature mismatch")
)

// DefaultTolerance is the replay window for signed webhooks.
const DefaultTolerance = 30 * time.Minute

// Authenticator verifies HMAC-signed webhook deliveries. The header format
// is "t=<unix>,v0=<hex>" where the digest is HMAC-SHA256 over
// "<timestamp>.<raw body>". The clock is injectable for tests.
type Authenticator struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithTolerance overrides the replay window.
func WithTolerance(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.tolerance = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator creates an authenticator for the shared secret.
func NewAuthenticator(secret string, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:    []byte(secret),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify checks the signature header against the raw request body.
func (a *Authenticator) Verify(payload []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return ErrMissingSignature
	}

	var tsPart, sigPart string
	for _, part := range strings.Split(signatureHeader, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			tsPart = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v0="):
			sigPart = strings.TrimPrefix(part, "v0=")
		}
	}
	if tsPart == "" || sigPart == "" {
		return ErrMalformedSignature
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}

	age := a.now().Unix() - ts
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > a.tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(a.secret, tsPart, payload)
	if !hmac.Equal([]byte(expected), []byte(sigPart)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex digest for a timestamp and body. Exported so tests
// and outbound webhook emitters can produce valid headers.
func Sign(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
