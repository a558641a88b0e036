package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"payhook/internal/billing"
	"payhook/internal/types"
)

var _ billing.Store = (*BillingRepo)(nil)

// BillingRepo runs billing mutations in a single pgx transaction.
type BillingRepo struct {
	pool TxBeginner
}

func NewBillingRepo(pool TxBeginner) *BillingRepo {
	return &BillingRepo{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (r *BillingRepo) InTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin billing transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&billingTx{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit billing transaction", err)
	}
	return nil
}

type billingTx struct {
	db DBTX
}

func (t *billingTx) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*types.Subscription, error) {
	var (
		sub    types.Subscription
		status string
	)
	err := t.db.QueryRow(ctx,
		`SELECT id, tenant_id, provider_subscription_id, plan_id, status,
		        current_period_start, current_period_end, cancel_at_period_end
		 FROM subscriptions
		 WHERE provider_subscription_id = $1
		 FOR UPDATE`,
		providerSubscriptionID,
	).Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.ProviderSubscriptionID,
		&sub.PlanID,
		&status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	sub.Status = types.SubscriptionStatus(status)
	return &sub, nil
}

func (t *billingTx) UpdateSubscription(ctx context.Context, sub *types.Subscription) error {
	tag, err := t.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan_id = $2, status = $3, current_period_start = $4, current_period_end = $5,
		     cancel_at_period_end = $6, updated_at = NOW()
		 WHERE id = $1`,
		sub.ID, sub.PlanID, string(sub.Status), sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, fmt.Sprintf("subscription %s not found", sub.ID), nil)
	}
	return nil
}

func (t *billingTx) SetSubscriptionStatus(ctx context.Context, subscriptionID string, status types.SubscriptionStatus) error {
	tag, err := t.db.Exec(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1`,
		subscriptionID, string(status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set subscription status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, fmt.Sprintf("subscription %s not found", subscriptionID), nil)
	}
	return nil
}

func (t *billingTx) UpsertAddon(ctx context.Context, addon types.SubscriptionAddon) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO subscription_addons (subscription_id, addon_code, quantity, status, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (subscription_id, addon_code)
		 DO UPDATE SET quantity = EXCLUDED.quantity, status = EXCLUDED.status, updated_at = NOW()`,
		addon.SubscriptionID, addon.AddonCode, addon.Quantity, string(addon.Status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription addon", err)
	}
	return nil
}

func (t *billingTx) CancelAddons(ctx context.Context, subscriptionID string) (int64, error) {
	tag, err := t.db.Exec(ctx,
		`UPDATE subscription_addons
		 SET status = $2, updated_at = NOW()
		 WHERE subscription_id = $1 AND status <> $2`,
		subscriptionID, string(types.AddonCanceled),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription addons", err)
	}
	return tag.RowsAffected(), nil
}

func (t *billingTx) InsertPayment(ctx context.Context, p types.Payment) error {
	_, err := t.db.Exec(ctx,
		`INSERT INTO payments (id, tenant_id, subscription_id, provider_invoice_id, event_id,
		                       amount, currency, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
		 ON CONFLICT (provider_invoice_id, event_id) DO NOTHING`,
		p.ID, p.TenantID, p.SubscriptionID, p.ProviderInvoiceID, p.EventID,
		p.Amount.String(), p.Currency, string(p.Status), p.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment", err)
	}
	return nil
}

func (t *billingTx) InsertAudit(ctx context.Context, e types.AuditEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode audit metadata", err)
	}
	_, err = t.db.Exec(ctx,
		`INSERT INTO audit_log (id, tenant_id, action, target_type, target_id, event_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id, action) DO NOTHING`,
		e.ID, e.TenantID, e.Action, e.TargetType, e.TargetID, e.EventID, meta, e.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert audit entry", err)
	}
	return nil
}
