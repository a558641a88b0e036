// Package webhook turns a signed provider notification into exactly one
// application of its side effects. It verifies the signature, claims the
// event in the ledger, routes it to a billing mutator, classifies failures
// and maps the outcome to the response the provider sees.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum accepted age of a signature timestamp.
const DefaultTolerance = 300 * time.Second

// SignatureHeader is the request header carrying the provider signature.
const SignatureHeader = "Stripe-Signature"

// ErrInvalidSignature covers every verification failure. The specific reason
// is wrapped for logs but never returned to the caller.
var ErrInvalidSignature = errors.New("webhook: invalid signature")

// Verifier checks provider signatures of the form t=<unix>,v1=<hex>[,v1=<hex>].
// The signed content is "<t>.<body>" under HMAC-SHA256. More than one v1 is
// accepted so a rotated secret and its predecessor can overlap.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier returns a Verifier. A non-positive tolerance falls back to
// DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		secret:    []byte(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// WithClock replaces the clock. Tests only.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify returns nil when header carries a fresh signature over payload.
func (v *Verifier) Verify(payload []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}

	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || len(parts.v1) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(parts.timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: non-numeric timestamp", ErrInvalidSignature)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age > v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	if -age > v.tolerance {
		return fmt.Errorf("%w: timestamp too far in the future", ErrInvalidSignature)
	}

	expected := []byte(computeHMAC(parts.timestamp, payload, v.secret))
	for _, candidate := range parts.v1 {
		if hmac.Equal(expected, []byte(candidate)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrInvalidSignature)
}

// Sign produces a header value accepted by a Verifier holding the same
// secret. Used by tests and local tooling that posts signed fixtures.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, computeHMAC(ts, payload, []byte(secret)))
}

type signatureParts struct {
	timestamp string
	v1        []string
}

// parseSignatureHeader splits "t=...,v1=...,v0=..." into its parts. Unknown
// schemes are skipped.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			parts.timestamp = value
		case "v1":
			if value != "" {
				parts.v1 = append(parts.v1, value)
			}
		}
	}
	return parts
}

// computeHMAC returns the lowercase hex HMAC-SHA256 of "<timestamp>.<payload>".
func computeHMAC(timestamp string, payload, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
