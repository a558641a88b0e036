package webhook

import (
	"context"

	"github.com/stripe/stripe-go/v82"

	"payhook/internal/types"
)

// Handler applies the side effects of one event.
type Handler func(ctx context.Context, ev *types.ProviderEvent) error

// Mutators is the set of domain operations the router dispatches to.
type Mutators interface {
	SubscriptionUpserted(ctx context.Context, ev *types.ProviderEvent) error
	SubscriptionDeleted(ctx context.Context, ev *types.ProviderEvent) error
	InvoicePaymentSucceeded(ctx context.Context, ev *types.ProviderEvent) error
	InvoicePaymentFailed(ctx context.Context, ev *types.ProviderEvent) error
}

// Router maps the handled event types to mutators. Everything else is
// ignored.
type Router struct {
	handlers map[string]Handler
}

func NewRouter(m Mutators) *Router {
	return &Router{handlers: map[string]Handler{
		string(stripe.EventTypeCustomerSubscriptionCreated): m.SubscriptionUpserted,
		string(stripe.EventTypeCustomerSubscriptionUpdated): m.SubscriptionUpserted,
		string(stripe.EventTypeCustomerSubscriptionDeleted): m.SubscriptionDeleted,
		string(stripe.EventTypeInvoicePaymentSucceeded):     m.InvoicePaymentSucceeded,
		string(stripe.EventTypeInvoicePaymentFailed):        m.InvoicePaymentFailed,
	}}
}

// Route returns the handler for eventType, or false when the type is not
// handled.
func (r *Router) Route(eventType string) (Handler, bool) {
	h, ok := r.handlers[eventType]
	return h, ok
}

// HandledTypes lists the event types with a registered handler.
func (r *Router) HandledTypes() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
