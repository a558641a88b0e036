package billing

import (
	"github.com/stripe/stripe-go/v82"

	"payhook/internal/types"
)

// MapProviderStatus converts a provider subscription status to the internal
// status. Unknown values map to ACTIVE.
func MapProviderStatus(status string) types.SubscriptionStatus {
	switch stripe.SubscriptionStatus(status) {
	case stripe.SubscriptionStatusActive:
		return types.SubscriptionActive
	case stripe.SubscriptionStatusPastDue:
		return types.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return types.SubscriptionCanceled
	case stripe.SubscriptionStatusUnpaid:
		return types.SubscriptionUnpaid
	case stripe.SubscriptionStatusTrialing:
		return types.SubscriptionTrialing
	case stripe.SubscriptionStatusPaused:
		return types.SubscriptionPaused
	case stripe.SubscriptionStatusIncomplete:
		return types.SubscriptionUnpaid
	case stripe.SubscriptionStatusIncompleteExpired:
		return types.SubscriptionCanceled
	default:
		return types.SubscriptionActive
	}
}
