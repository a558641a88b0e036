package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"payhook/internal/types"
	"payhook/internal/webhook"
)

const auditTargetSubscription = "subscription"

// Mutators applies one provider event to billing state per call. Every
// mutator runs a single Store transaction and is safe to repeat for the same
// event.
type Mutators struct {
	store   Store
	catalog *PriceCatalog
	logger  *slog.Logger
	now     func() time.Time
}

var _ webhook.Mutators = (*Mutators)(nil)

func NewMutators(store Store, catalog *PriceCatalog, logger *slog.Logger) *Mutators {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutators{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     time.Now,
	}
}

// SubscriptionUpserted handles subscription created and updated events.
// Addons missing from the payload are left untouched.
func (m *Mutators) SubscriptionUpserted(ctx context.Context, ev *types.ProviderEvent) error {
	var obj subscriptionObject
	if err := decodeObject(ev, &obj); err != nil {
		return err
	}
	if obj.ID == "" {
		return webhook.Permanent(errors.New("subscription object has no id"))
	}

	plan, addons := m.catalog.Resolve(obj.Items.Data)
	status := MapProviderStatus(obj.Status)
	start, end := obj.periodBounds()

	action := types.AuditSubscriptionUpdated
	if ev.Type == string(stripe.EventTypeCustomerSubscriptionCreated) {
		action = types.AuditSubscriptionCreated
	}

	return m.store.InTx(ctx, func(tx Tx) error {
		sub, err := m.locate(ctx, tx, obj.ID)
		if err != nil {
			return err
		}

		previousPlan, previousStatus := sub.PlanID, sub.Status
		if plan != "" {
			sub.PlanID = plan
		} else {
			m.logger.WarnContext(ctx, "no line item maps to a plan, keeping current plan",
				"event_id", ev.ID, "subscription_id", sub.ID, "plan_id", sub.PlanID)
		}
		sub.Status = status
		sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
		if start != nil {
			sub.CurrentPeriodStart = start
		}
		if end != nil {
			sub.CurrentPeriodEnd = end
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		addonMeta := make(map[string]int64, len(addons))
		for _, a := range addons {
			err := tx.UpsertAddon(ctx, types.SubscriptionAddon{
				SubscriptionID: sub.ID,
				AddonCode:      a.Code,
				Quantity:       a.Quantity,
				Status:         types.AddonActive,
			})
			if err != nil {
				return err
			}
			addonMeta[a.Code] = a.Quantity
		}

		return tx.InsertAudit(ctx, m.auditEntry(ev, sub, action, map[string]any{
			"plan_id":              sub.PlanID,
			"previous_plan_id":     previousPlan,
			"status":               sub.Status,
			"previous_status":      previousStatus,
			"provider_status":      obj.Status,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"addons":               addonMeta,
		}))
	})
}

// SubscriptionDeleted cancels the subscription and all of its addons.
func (m *Mutators) SubscriptionDeleted(ctx context.Context, ev *types.ProviderEvent) error {
	var obj subscriptionObject
	if err := decodeObject(ev, &obj); err != nil {
		return err
	}
	if obj.ID == "" {
		return webhook.Permanent(errors.New("subscription object has no id"))
	}

	return m.store.InTx(ctx, func(tx Tx) error {
		sub, err := m.locate(ctx, tx, obj.ID)
		if err != nil {
			return err
		}
		if err := tx.SetSubscriptionStatus(ctx, sub.ID, types.SubscriptionCanceled); err != nil {
			return err
		}
		canceled, err := tx.CancelAddons(ctx, sub.ID)
		if err != nil {
			return err
		}
		return tx.InsertAudit(ctx, m.auditEntry(ev, sub, types.AuditSubscriptionDeleted, map[string]any{
			"previous_status": sub.Status,
			"addons_canceled": canceled,
		}))
	})
}

// InvoicePaymentSucceeded reactivates the subscription and records the payment.
func (m *Mutators) InvoicePaymentSucceeded(ctx context.Context, ev *types.ProviderEvent) error {
	return m.applyInvoice(ctx, ev, invoiceOutcome{
		subscriptionStatus: types.SubscriptionActive,
		paymentStatus:      types.PaymentSucceeded,
		action:             types.AuditInvoicePaymentSuccess,
		amount: func(inv invoiceObject) int64 {
			if inv.AmountPaid == 0 {
				return inv.AmountDue
			}
			return inv.AmountPaid
		},
	})
}

// InvoicePaymentFailed marks the subscription past due and records the
// failed payment for the amount that was due.
func (m *Mutators) InvoicePaymentFailed(ctx context.Context, ev *types.ProviderEvent) error {
	return m.applyInvoice(ctx, ev, invoiceOutcome{
		subscriptionStatus: types.SubscriptionPastDue,
		paymentStatus:      types.PaymentFailed,
		action:             types.AuditInvoicePaymentFailure,
		amount:             func(inv invoiceObject) int64 { return inv.AmountDue },
	})
}

type invoiceOutcome struct {
	subscriptionStatus types.SubscriptionStatus
	paymentStatus      types.PaymentStatus
	action             string
	amount             func(invoiceObject) int64
}

func (m *Mutators) applyInvoice(ctx context.Context, ev *types.ProviderEvent, o invoiceOutcome) error {
	var inv invoiceObject
	if err := decodeObject(ev, &inv); err != nil {
		return err
	}

	providerSubID := inv.subscriptionID()
	if providerSubID == "" {
		m.logger.InfoContext(ctx, "invoice has no subscription, nothing to apply",
			"event_id", ev.ID, "invoice_id", inv.ID)
		return nil
	}
	if inv.ID == "" {
		return webhook.Permanent(errors.New("invoice object has no id"))
	}
	if inv.Currency == "" {
		return webhook.Permanent(fmt.Errorf("invoice %s has no currency", inv.ID))
	}

	currency := NormalizeCurrency(inv.Currency)
	amount := FromMinorUnits(o.amount(inv), currency)

	return m.store.InTx(ctx, func(tx Tx) error {
		sub, err := m.locate(ctx, tx, providerSubID)
		if err != nil {
			return err
		}
		if err := tx.SetSubscriptionStatus(ctx, sub.ID, o.subscriptionStatus); err != nil {
			return err
		}
		err = tx.InsertPayment(ctx, types.Payment{
			ID:                uuid.NewString(),
			TenantID:          sub.TenantID,
			SubscriptionID:    sub.ID,
			ProviderInvoiceID: inv.ID,
			EventID:           ev.ID,
			Amount:            amount,
			Currency:          currency,
			Status:            o.paymentStatus,
			CreatedAt:         m.now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.InsertAudit(ctx, m.auditEntry(ev, sub, o.action, map[string]any{
			"invoice_id":      inv.ID,
			"amount":          amount.StringFixed(CurrencyExponent(currency)),
			"currency":        currency,
			"previous_status": sub.Status,
			"status":          o.subscriptionStatus,
		}))
	})
}

// locate loads the subscription for a provider id, or returns an
// *UnmappedError when none exists.
func (m *Mutators) locate(ctx context.Context, tx Tx, providerSubID string) (*types.Subscription, error) {
	sub, err := tx.SubscriptionByProviderID(ctx, providerSubID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		m.logger.WarnContext(ctx, "subscription not mapped to any tenant",
			"provider_subscription_id", providerSubID)
		return nil, &UnmappedError{ProviderSubscriptionID: providerSubID}
	}
	return sub, nil
}

func (m *Mutators) auditEntry(ev *types.ProviderEvent, sub *types.Subscription, action string, meta map[string]any) types.AuditEntry {
	return types.AuditEntry{
		ID:         uuid.NewString(),
		TenantID:   sub.TenantID,
		Action:     action,
		TargetType: auditTargetSubscription,
		TargetID:   sub.ID,
		EventID:    ev.ID,
		Metadata:   meta,
		CreatedAt:  m.now().UTC(),
	}
}
