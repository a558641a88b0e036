package webhook

import (
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret_123"

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier() *Verifier {
	return NewVerifier(testSecret, DefaultTolerance).WithClock(func() time.Time { return testNow })
}

func TestVerify_AcceptsProviderComputedSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.deleted"}`)
	sig := hex.EncodeToString(stripewebhook.ComputeSignature(testNow, payload, testSecret))
	header := fmt.Sprintf("t=%d,v1=%s", testNow.Unix(), sig)

	require.NoError(t, newTestVerifier().Verify(payload, header))
}

func TestVerify_SignMatchesProviderScheme(t *testing.T) {
	payload := []byte(`{"id":"evt_2"}`)
	want := hex.EncodeToString(stripewebhook.ComputeSignature(testNow, payload, testSecret))

	header := Sign(payload, testSecret, testNow)
	parts := parseSignatureHeader(header)

	require.Len(t, parts.v1, 1)
	assert.Equal(t, want, parts.v1[0])
	assert.Equal(t, fmt.Sprintf("%d", testNow.Unix()), parts.timestamp)
}

func TestVerify_Rejections(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	valid := Sign(payload, testSecret, testNow)

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{"empty header", payload, ""},
		{"missing timestamp", payload, "v1=abcdef"},
		{"missing v1", payload, fmt.Sprintf("t=%d", testNow.Unix())},
		{"non-numeric timestamp", payload, "t=yesterday,v1=abcdef"},
		{"wrong secret", payload, Sign(payload, "whsec_other", testNow)},
		{"tampered body", []byte(`{"id":"evt_2"}`), valid},
		{"stale", payload, Sign(payload, testSecret, testNow.Add(-301*time.Second))},
		{"far future", payload, Sign(payload, testSecret, testNow.Add(301*time.Second))},
		{"only v0 scheme", payload, fmt.Sprintf("t=%d,v0=%s", testNow.Unix(), parseSignatureHeader(valid).v1[0])},
	}

	v := newTestVerifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.payload, tt.header)
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
}

func TestVerify_ToleranceBoundary(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	v := newTestVerifier()

	assert.NoError(t, v.Verify(payload, Sign(payload, testSecret, testNow.Add(-300*time.Second))))
	assert.NoError(t, v.Verify(payload, Sign(payload, testSecret, testNow.Add(30*time.Second))))
}

func TestVerify_MultipleV1Entries(t *testing.T) {
	payload := []byte(`{"id":"evt_rotate"}`)
	good := parseSignatureHeader(Sign(payload, testSecret, testNow)).v1[0]
	old := parseSignatureHeader(Sign(payload, "whsec_previous", testNow)).v1[0]

	header := fmt.Sprintf("t=%d,v1=%s,v1=%s", testNow.Unix(), old, good)
	assert.NoError(t, newTestVerifier().Verify(payload, header))
}

func TestNewVerifier_DefaultTolerance(t *testing.T) {
	v := NewVerifier(testSecret, 0)
	assert.Equal(t, DefaultTolerance, v.tolerance)
}
