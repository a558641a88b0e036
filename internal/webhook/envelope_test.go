package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":"evt_1","type":"customer.subscription.deleted","created":1714564800,"data":{"object":{"id":"sub_A"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "customer.subscription.deleted", ev.Type)
	assert.Equal(t, int64(1714564800), ev.CreatedAt().Unix())
	assert.JSONEq(t, `{"id":"sub_A"}`, string(ev.Data.Object))
}

func TestDecodeEvent_Malformed(t *testing.T) {
	bodies := map[string]string{
		"not json":       `{"id":`,
		"missing id":     `{"type":"invoice.payment_failed","data":{"object":{}}}`,
		"missing type":   `{"id":"evt_1","data":{"object":{}}}`,
		"missing object": `{"id":"evt_1","type":"invoice.payment_failed","data":{}}`,
		"null object":    `{"id":"evt_1","type":"invoice.payment_failed","data":{"object":null}}`,
		"array body":     `[1,2,3]`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
