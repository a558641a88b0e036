package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payhook/internal/types"
	"payhook/internal/webhook"
)

func newTestMutators(t *testing.T) (*Mutators, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	m := NewMutators(store, testCatalog(t), nil)
	m.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m, store
}

func seedSubscription(store *MemoryStore, status types.SubscriptionStatus) types.Subscription {
	sub := types.Subscription{
		ID:                     "sub-internal-1",
		TenantID:               "tenant_42",
		ProviderSubscriptionID: "sub_A",
		PlanID:                 "starter",
		Status:                 status,
	}
	store.Seed(sub)
	return sub
}

func event(t *testing.T, id, eventType string, object any) *types.ProviderEvent {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &types.ProviderEvent{ID: id, Type: eventType, Data: types.EventData{Object: raw}}
}

func TestSubscriptionDeleted_CancelsSubscriptionAndAddons(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionActive)
	store.SeedAddon(types.SubscriptionAddon{SubscriptionID: sub.ID, AddonCode: "extra_seats", Quantity: 3, Status: types.AddonActive})
	store.SeedAddon(types.SubscriptionAddon{SubscriptionID: sub.ID, AddonCode: "storage_pack", Quantity: 1, Status: types.AddonActive})

	ev := event(t, "evt_1", "customer.subscription.deleted", map[string]any{"id": "sub_A", "status": "canceled"})
	require.NoError(t, m.SubscriptionDeleted(context.Background(), ev))

	got, _ := store.Subscription(sub.ID)
	assert.Equal(t, types.SubscriptionCanceled, got.Status)
	for _, a := range store.Addons(sub.ID) {
		assert.Equal(t, types.AddonCanceled, a.Status, a.AddonCode)
	}

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, types.AuditSubscriptionDeleted, audit[0].Action)
	assert.Equal(t, "tenant_42", audit[0].TenantID)
	assert.Equal(t, "evt_1", audit[0].EventID)
	assert.Equal(t, int64(2), audit[0].Metadata["addons_canceled"])

	// Replaying the same event converges to the same state.
	require.NoError(t, m.SubscriptionDeleted(context.Background(), ev))
	assert.Len(t, store.AuditEntries(), 1)
}

func TestInvoicePaymentFailed_RecordsPaymentAndPastDue(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionActive)

	ev := event(t, "evt_2", "invoice.payment_failed", map[string]any{
		"id":           "in_1",
		"subscription": "sub_A",
		"amount_due":   5000,
		"currency":     "eur",
	})
	require.NoError(t, m.InvoicePaymentFailed(context.Background(), ev))

	got, _ := store.Subscription(sub.ID)
	assert.Equal(t, types.SubscriptionPastDue, got.Status)

	payments := store.Payments()
	require.Len(t, payments, 1)
	p := payments[0]
	assert.True(t, decimal.RequireFromString("50.00").Equal(p.Amount), "amount = %s", p.Amount)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, types.PaymentFailed, p.Status)
	assert.Equal(t, "tenant_42", p.TenantID)
	assert.Equal(t, "in_1", p.ProviderInvoiceID)
	assert.Equal(t, "evt_2", p.EventID)

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, types.AuditInvoicePaymentFailure, audit[0].Action)

	require.NoError(t, m.InvoicePaymentFailed(context.Background(), ev))
	assert.Len(t, store.Payments(), 1, "repeat delivery must not duplicate the payment")
}

func TestInvoicePaymentSucceeded_ExpandedAndParentReferences(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionPastDue)

	ev := event(t, "evt_3", "invoice.payment_succeeded", map[string]any{
		"id":          "in_2",
		"amount_paid": 1999,
		"currency":    "usd",
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": map[string]any{"id": "sub_A"}},
		},
	})
	require.NoError(t, m.InvoicePaymentSucceeded(context.Background(), ev))

	got, _ := store.Subscription(sub.ID)
	assert.Equal(t, types.SubscriptionActive, got.Status)
	payments := store.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, types.PaymentSucceeded, payments[0].Status)
	assert.Equal(t, "19.99", payments[0].Amount.StringFixed(2))
}

func TestInvoice_WithoutSubscriptionIsNoop(t *testing.T) {
	m, store := newTestMutators(t)
	ev := event(t, "evt_4", "invoice.payment_succeeded", map[string]any{"id": "in_3", "amount_paid": 100, "currency": "usd"})

	require.NoError(t, m.InvoicePaymentSucceeded(context.Background(), ev))
	assert.Empty(t, store.Payments())
	assert.Empty(t, store.AuditEntries())
}

func TestSubscriptionUpserted_UpdatesPlanAddonsAndPeriod(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionTrialing)
	store.SeedAddon(types.SubscriptionAddon{SubscriptionID: sub.ID, AddonCode: "storage_pack", Quantity: 4, Status: types.AddonActive})

	ev := event(t, "evt_5", "customer.subscription.updated", map[string]any{
		"id":                   "sub_A",
		"status":               "past_due",
		"cancel_at_period_end": true,
		"items": map[string]any{"data": []map[string]any{
			{"price": map[string]any{"id": "price_pro_monthly"}, "quantity": 1, "current_period_start": 1714521600, "current_period_end": 1717200000},
			{"price": map[string]any{"id": "price_seat"}, "quantity": 3},
		}},
	})
	require.NoError(t, m.SubscriptionUpserted(context.Background(), ev))

	got, _ := store.Subscription(sub.ID)
	assert.Equal(t, "pro", got.PlanID)
	assert.Equal(t, types.SubscriptionPastDue, got.Status)
	assert.True(t, got.CancelAtPeriodEnd)
	require.NotNil(t, got.CurrentPeriodStart)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.Equal(t, int64(1714521600), got.CurrentPeriodStart.Unix())
	assert.Equal(t, int64(1717200000), got.CurrentPeriodEnd.Unix())

	addons := store.Addons(sub.ID)
	require.Len(t, addons, 2)
	assert.Equal(t, "extra_seats", addons[0].AddonCode)
	assert.Equal(t, int64(3), addons[0].Quantity)
	assert.Equal(t, "storage_pack", addons[1].AddonCode, "addons absent from the payload are kept")
	assert.Equal(t, int64(4), addons[1].Quantity)

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, types.AuditSubscriptionUpdated, audit[0].Action)

	// Redelivery sets, not adds, addon quantities.
	require.NoError(t, m.SubscriptionUpserted(context.Background(), ev))
	assert.Equal(t, int64(3), store.Addons(sub.ID)[0].Quantity)
}

func TestSubscriptionUpserted_ZeroQuantityIsWritten(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionActive)
	store.SeedAddon(types.SubscriptionAddon{SubscriptionID: sub.ID, AddonCode: "extra_seats", Quantity: 5, Status: types.AddonActive})

	ev := event(t, "evt_6", "customer.subscription.updated", map[string]any{
		"id":     "sub_A",
		"status": "active",
		"items": map[string]any{"data": []map[string]any{
			{"price": map[string]any{"id": "price_seat"}, "quantity": 0},
		}},
	})
	require.NoError(t, m.SubscriptionUpserted(context.Background(), ev))

	addons := store.Addons(sub.ID)
	require.Len(t, addons, 1)
	assert.Equal(t, int64(0), addons[0].Quantity)
}

func TestSubscriptionUpserted_MissingQuantityDefaultsToOne(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionActive)

	ev := event(t, "evt_7", "customer.subscription.updated", map[string]any{
		"id":     "sub_A",
		"status": "active",
		"items": map[string]any{"data": []map[string]any{
			{"price": map[string]any{"id": "price_storage"}},
		}},
	})
	require.NoError(t, m.SubscriptionUpserted(context.Background(), ev))

	addons := store.Addons(sub.ID)
	require.Len(t, addons, 1)
	assert.Equal(t, "storage_pack", addons[0].AddonCode)
	assert.Equal(t, int64(1), addons[0].Quantity)
}

func TestSubscriptionUpserted_CreatedAuditAction(t *testing.T) {
	m, store := newTestMutators(t)
	seedSubscription(store, types.SubscriptionActive)

	ev := event(t, "evt_6", "customer.subscription.created", map[string]any{"id": "sub_A", "status": "active"})
	require.NoError(t, m.SubscriptionUpserted(context.Background(), ev))

	audit := store.AuditEntries()
	require.Len(t, audit, 1)
	assert.Equal(t, types.AuditSubscriptionCreated, audit[0].Action)
	got, _ := store.Subscription("sub-internal-1")
	assert.Equal(t, "starter", got.PlanID, "plan kept when no item maps to a plan")
}

func TestMutators_UnknownSubscriptionIsUnmapped(t *testing.T) {
	m, store := newTestMutators(t)

	ev := event(t, "evt_7", "customer.subscription.deleted", map[string]any{"id": "sub_missing"})
	err := m.SubscriptionDeleted(context.Background(), ev)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubscriptionUnmapped)
	var unmapped *UnmappedError
	require.True(t, errors.As(err, &unmapped))
	assert.Equal(t, "sub_missing", unmapped.ProviderSubscriptionID)
	assert.Empty(t, store.AuditEntries())
}

func TestMutators_FailureLeavesNoPartialWrites(t *testing.T) {
	m, store := newTestMutators(t)
	sub := seedSubscription(store, types.SubscriptionActive)
	store.InjectFault("InsertAudit", errors.New("connection timeout"))

	ev := event(t, "evt_8", "invoice.payment_failed", map[string]any{
		"id": "in_9", "subscription": "sub_A", "amount_due": 5000, "currency": "eur",
	})
	err := m.InvoicePaymentFailed(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, webhook.IsRecoverable(err))

	got, _ := store.Subscription(sub.ID)
	assert.Equal(t, types.SubscriptionActive, got.Status, "status change rolled back")
	assert.Empty(t, store.Payments(), "payment rolled back")

	store.InjectFault("InsertAudit", nil)
	require.NoError(t, m.InvoicePaymentFailed(context.Background(), ev))
	assert.Len(t, store.Payments(), 1)
}

func TestMutators_UndecodablePayloadIsPermanent(t *testing.T) {
	m, _ := newTestMutators(t)

	ev := &types.ProviderEvent{ID: "evt_9", Type: "invoice.payment_failed", Data: types.EventData{Object: []byte(`"just a string"`)}}
	err := m.InvoicePaymentFailed(context.Background(), ev)
	require.Error(t, err)
	assert.False(t, webhook.IsRecoverable(err))

	ev = event(t, "evt_10", "invoice.payment_failed", map[string]any{"id": "in_1", "subscription": "sub_A", "amount_due": 10})
	err = m.InvoicePaymentFailed(context.Background(), ev)
	require.Error(t, err, "missing currency")
	assert.False(t, webhook.IsRecoverable(err))
}
