package billing

import (
	"context"
	"errors"
	"fmt"

	"payhook/internal/types"
)

// ErrSubscriptionUnmapped matches errors returned when an event references a
// provider subscription that no tenant owns.
var ErrSubscriptionUnmapped = errors.New("billing: subscription not mapped to a tenant")

// UnmappedError identifies the unknown provider subscription.
type UnmappedError struct {
	ProviderSubscriptionID string
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("provider subscription %s is not mapped to a tenant", e.ProviderSubscriptionID)
}

func (e *UnmappedError) Is(target error) bool { return target == ErrSubscriptionUnmapped }

// Unmapped lets the event processor record the event as handled.
func (e *UnmappedError) Unmapped() bool { return true }

// Store runs fn inside one transaction. If fn returns an error nothing it
// wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes a mutator performs. Implementations must make
// UpsertAddon, InsertPayment and InsertAudit idempotent for a repeated event.
type Tx interface {
	// SubscriptionByProviderID returns nil, nil when no subscription exists.
	// The row stays locked until the transaction ends.
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*types.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *types.Subscription) error
	SetSubscriptionStatus(ctx context.Context, subscriptionID string, status types.SubscriptionStatus) error
	// UpsertAddon sets quantity and status for (subscription, code).
	UpsertAddon(ctx context.Context, addon types.SubscriptionAddon) error
	// CancelAddons cancels every active addon and reports how many changed.
	CancelAddons(ctx context.Context, subscriptionID string) (int64, error)
	// InsertPayment is a no-op when (invoice, event) was already recorded.
	InsertPayment(ctx context.Context, p types.Payment) error
	// InsertAudit is a no-op when (event, action) was already recorded.
	InsertAudit(ctx context.Context, e types.AuditEntry) error
}
