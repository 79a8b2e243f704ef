package stripe

import (
	"context"
	"testing"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

func stubSubscription(lookupKey string, periodEnd int64) *stripelib.Subscription {
	return &stripelib.Subscription{
		ID: "sub_1",
		Items: &stripelib.SubscriptionItemList{
			Data: []*stripelib.SubscriptionItem{
				{
					CurrentPeriodEnd: periodEnd,
					Price:            &stripelib.Price{ID: "price_1", LookupKey: lookupKey},
				},
			},
		},
	}
}

func TestCheckoutTierFromLookupKeyBeatsMetadata(t *testing.T) {
	st := newTestStore(t)
	rc := &Reconciler{
		store: st,
		fetchSubscription: func(id string) (*stripelib.Subscription, error) {
			return stubSubscription("entityguardian:enterprise:yearly", 1900000000), nil
		},
	}

	err := rc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID:           "cs_1",
		Mode:         "subscription",
		Customer:     "cus_1",
		Subscription: "sub_1",
		CustomerDetails: struct {
			Email string `json:"email"`
		}{Email: "alice@example.com"},
		// Stale metadata must lose to the price the customer actually paid for.
		Metadata: map[string]string{"user_id": "u_1", "tier_id": "starter"},
	})
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}

	sub, err := st.GetByUserID("u_1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if sub.TierID != plan.TierEnterprise {
		t.Fatalf("tier=%q, want enterprise", sub.TierID)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1900000000 {
		t.Fatalf("period end=%v", sub.CurrentPeriodEnd)
	}
}

func TestCheckoutForeignLookupKeyFallsBackToMetadata(t *testing.T) {
	st := newTestStore(t)
	rc := &Reconciler{
		store: st,
		fetchSubscription: func(id string) (*stripelib.Subscription, error) {
			return stubSubscription("otherapp:mega:monthly", 0), nil
		},
	}

	err := rc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID:           "cs_2",
		Customer:     "cus_2",
		Subscription: "sub_1",
		CustomerDetails: struct {
			Email string `json:"email"`
		}{Email: "bob@example.com"},
		Metadata: map[string]string{"user_id": "u_2", "tier_id": "growth"},
	})
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}

	sub, err := st.GetByUserID("u_2")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if sub.TierID != plan.TierGrowth {
		t.Fatalf("tier=%q, want growth", sub.TierID)
	}
}

func TestCheckoutEmailResolvedFromCustomer(t *testing.T) {
	st := newTestStore(t)
	rc := &Reconciler{
		store: st,
		fetchSubscription: func(id string) (*stripelib.Subscription, error) {
			return nil, nil
		},
		fetchCustomer: func(id string) (*stripelib.Customer, error) {
			return &stripelib.Customer{ID: id, Email: "carol@example.com"}, nil
		},
	}

	err := rc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID:       "cs_3",
		Customer: "cus_3",
		Metadata: map[string]string{"user_id": "u_3", "tier_id": "starter"},
	})
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}
	if _, err := st.GetByEmail("carol@example.com"); err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
}

func TestCheckoutNonSubscriptionModeIgnored(t *testing.T) {
	st := newTestStore(t)
	rc := newTestReconciler(st)

	err := rc.HandleCheckoutCompleted(context.Background(), CheckoutSession{
		ID:   "cs_4",
		Mode: "payment",
	})
	if err != nil {
		t.Fatalf("HandleCheckoutCompleted: %v", err)
	}
}

func TestInvoicePaidNeverDowngradesTier(t *testing.T) {
	st := newTestStore(t)
	if err := st.ApplyCheckoutCompleted(store.CheckoutCompleted{
		UserID: "u_5", Email: "dave@example.com", TierID: plan.TierEnterprise,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rc := newTestReconciler(st)
	err := rc.HandleInvoicePaid(context.Background(), Invoice{
		ID:            "in_2",
		CustomerEmail: "dave@example.com",
	})
	if err != nil {
		t.Fatalf("HandleInvoicePaid: %v", err)
	}

	sub, err := st.GetByUserID("u_5")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if sub.TierID != plan.TierEnterprise {
		t.Fatalf("tier=%q, want enterprise", sub.TierID)
	}
}

func TestInvoicePaidWithoutEmailSkips(t *testing.T) {
	st := newTestStore(t)
	rc := &Reconciler{
		store: st,
		fetchCustomer: func(id string) (*stripelib.Customer, error) {
			return &stripelib.Customer{ID: id}, nil
		},
	}
	if err := rc.HandleInvoicePaid(context.Background(), Invoice{ID: "in_3", Customer: "cus_9"}); err != nil {
		t.Fatalf("HandleInvoicePaid: %v", err)
	}
}
