package stripe

import (
	"testing"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

func TestMapSubscriptionStatus(t *testing.T) {
	cases := map[string]store.Status{
		"active":              store.StatusActive,
		"trialing":            store.StatusActive,
		"incomplete":          store.StatusPending,
		"incomplete_expired":  store.StatusPending,
		"canceled":            store.StatusCanceled,
		"unpaid":              store.StatusCanceled,
		"past_due":            store.StatusPastDue,
		"paused":              store.StatusPastDue,
		"something_brand_new": store.StatusPastDue,
		"":                    store.StatusPastDue,
	}
	for in, want := range cases {
		if got := MapSubscriptionStatus(in); got != want {
			t.Errorf("MapSubscriptionStatus(%q)=%q, want=%q", in, got, want)
		}
	}
}

func TestIsSafeStripeID(t *testing.T) {
	for _, ok := range []string{"cus_ABC123", "sub_x9-Y_z12", "price_1NxyzAB"} {
		if !IsSafeStripeID(ok) {
			t.Errorf("IsSafeStripeID(%q)=false, want true", ok)
		}
	}
	for _, bad := range []string{"", "cus", "cus_../etc", "cus ABC", "cus_%24"} {
		if IsSafeStripeID(bad) {
			t.Errorf("IsSafeStripeID(%q)=true, want false", bad)
		}
	}
}
