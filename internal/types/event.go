package types

import (
	"encoding/json"
	"time"
)

// ProviderEvent is the decoded envelope of an inbound payment-provider
// notification. ID is the idempotency key. Data.Object stays raw; each
// mutator decodes the shape it needs.
type ProviderEvent struct {
	ID         string    `json:"id" validate:"required"`
	Type       string    `json:"type" validate:"required"`
	Created    int64     `json:"created"`
	Livemode   bool      `json:"livemode"`
	APIVersion string    `json:"api_version,omitempty"`
	Data       EventData `json:"data"`

	// LedgerID is the ledger record id assigned once the event is claimed.
	LedgerID string `json:"-"`
}

// EventData carries the provider object the event refers to.
type EventData struct {
	Object json.RawMessage `json:"object" validate:"required"`
}

// CreatedAt returns the provider's creation timestamp, zero when absent.
func (e *ProviderEvent) CreatedAt() time.Time {
	if e.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(e.Created, 0).UTC()
}
