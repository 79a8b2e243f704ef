package stripe

import (
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

// MapSubscriptionStatus converts a Stripe subscription status string to the
// local status. Unknown statuses fail closed to past_due so an
// unrecognized state never extends entitlements.
func MapSubscriptionStatus(status string) store.Status {
	switch status {
	case "active", "trialing":
		return store.StatusActive
	case "incomplete", "incomplete_expired":
		return store.StatusPending
	case "canceled", "unpaid":
		return store.StatusCanceled
	default:
		return store.StatusPastDue
	}
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_..., price_...)
// contains only the characters Stripe actually emits. Keeps the check
// strict so IDs are safe to log and key on.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
