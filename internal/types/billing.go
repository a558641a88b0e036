package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the internal lifecycle state of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionCanceled SubscriptionStatus = "CANCELED"
	SubscriptionUnpaid   SubscriptionStatus = "UNPAID"
	SubscriptionTrialing SubscriptionStatus = "TRIALING"
	SubscriptionPaused   SubscriptionStatus = "PAUSED"
)

type AddonStatus string

const (
	AddonActive   AddonStatus = "ACTIVE"
	AddonCanceled AddonStatus = "CANCELED"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Audit actions written by the billing mutators.
const (
	AuditSubscriptionCreated   = "subscription.created"
	AuditSubscriptionUpdated   = "subscription.updated"
	AuditSubscriptionDeleted   = "subscription.deleted"
	AuditInvoicePaymentSuccess = "invoice.payment_succeeded"
	AuditInvoicePaymentFailure = "invoice.payment_failed"
)

// Subscription is a tenant's subscription, located by the provider's
// subscription id.
type Subscription struct {
	ID                     string
	TenantID               string
	ProviderSubscriptionID string
	PlanID                 string
	Status                 SubscriptionStatus
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool
}

// SubscriptionAddon is unique per (SubscriptionID, AddonCode).
type SubscriptionAddon struct {
	SubscriptionID string
	AddonCode      string
	Quantity       int64
	Status         AddonStatus
}

// Payment is an append-only record of one invoice outcome. Amount is in
// major units; Currency is upper-case ISO 4217.
type Payment struct {
	ID                string
	TenantID          string
	SubscriptionID    string
	ProviderInvoiceID string
	EventID           string
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	CreatedAt         time.Time
}

// AuditEntry is an append-only record of a state change caused by an event.
type AuditEntry struct {
	ID         string
	TenantID   string
	Action     string
	TargetType string
	TargetID   string
	EventID    string
	Metadata   map[string]any
	CreatedAt  time.Time
}
