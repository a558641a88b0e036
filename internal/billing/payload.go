package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"payhook/internal/types"
	"payhook/internal/webhook"
)

// subscriptionObject is the subset of the provider subscription object the
// mutators read. Newer API versions carry the billing period on the items
// rather than the subscription; both are accepted.
type subscriptionObject struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	Items              struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`
}

// subscriptionItem.Quantity is nil when the provider omits it (metered
// prices). An explicit 0 is a real quantity.
type subscriptionItem struct {
	ID                 string  `json:"id"`
	Quantity           *int64  `json:"quantity"`
	Price              *idOnly `json:"price"`
	Plan               *idOnly `json:"plan"`
	CurrentPeriodStart int64   `json:"current_period_start"`
	CurrentPeriodEnd   int64   `json:"current_period_end"`
}

type idOnly struct {
	ID string `json:"id"`
}

func (i subscriptionItem) priceID() string {
	if i.Price != nil && i.Price.ID != "" {
		return i.Price.ID
	}
	if i.Plan != nil {
		return i.Plan.ID
	}
	return ""
}

func (i subscriptionItem) quantity() int64 {
	if i.Quantity == nil {
		return 1
	}
	return *i.Quantity
}

// periodBounds returns the current period, nil where the payload has none.
func (s subscriptionObject) periodBounds() (*time.Time, *time.Time) {
	start, end := s.CurrentPeriodStart, s.CurrentPeriodEnd
	if start == 0 && end == 0 && len(s.Items.Data) > 0 {
		start, end = s.Items.Data[0].CurrentPeriodStart, s.Items.Data[0].CurrentPeriodEnd
	}
	return unixPtr(start), unixPtr(end)
}

// invoiceObject is the subset of the provider invoice object the mutators
// read.
type invoiceObject struct {
	ID           string       `json:"id"`
	Currency     string       `json:"currency"`
	AmountDue    int64        `json:"amount_due"`
	AmountPaid   int64        `json:"amount_paid"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionID returns the referenced provider subscription, "" for a
// one-time charge.
func (inv invoiceObject) subscriptionID() string {
	if inv.Subscription != "" {
		return string(inv.Subscription)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return string(inv.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// expandableID accepts either an id string or an expanded object with an id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj idOnly
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// decodeObject unmarshals ev.Data.Object. A body that cannot be decoded will
// never decode, so the failure is permanent.
func decodeObject(ev *types.ProviderEvent, into any) error {
	if err := json.Unmarshal(ev.Data.Object, into); err != nil {
		return webhook.Permanent(fmt.Errorf("decode %s object: %w", ev.Type, err))
	}
	return nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
