package stripe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"
	stripesub "github.com/stripe/stripe-go/v82/subscription"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

// Reconciler folds verified Stripe events into the local subscription
// store. Handlers are idempotent: replaying any event sequence converges
// on the same rows.
type Reconciler struct {
	store *store.Store

	// Stripe API calls are function fields so tests can stub them.
	fetchSubscription func(id string) (*stripelib.Subscription, error)
	fetchCustomer     func(id string) (*stripelib.Customer, error)
}

// NewReconciler creates a Reconciler backed by the live Stripe API.
func NewReconciler(st *store.Store) *Reconciler {
	return &Reconciler{
		store: st,
		fetchSubscription: func(id string) (*stripelib.Subscription, error) {
			return stripesub.Get(id, nil)
		},
		fetchCustomer: func(id string) (*stripelib.Customer, error) {
			return stripecustomer.Get(id, nil)
		},
	}
}

// HandleCheckoutCompleted activates the subscription a completed checkout
// session paid for. The tier comes from the subscription's price lookup
// key; session metadata is the fallback when the subscription fetch fails
// or names a price outside our namespace.
func (rc *Reconciler) HandleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	if session.Mode != "" && session.Mode != "subscription" {
		log.Info().Str("session_id", session.ID).Str("mode", session.Mode).
			Msg("checkout session ignored (not a subscription)")
		return nil
	}

	email := session.Email()
	if email == "" && IsSafeStripeID(session.Customer) {
		cust, err := rc.fetchCustomer(session.Customer)
		if err != nil {
			return fmt.Errorf("fetch customer %s: %w", session.Customer, err)
		}
		email = strings.TrimSpace(cust.Email)
	}
	if email == "" {
		return fmt.Errorf("checkout session %s has no billing email", session.ID)
	}

	tierID, periodEnd := rc.resolveSubscription(session.Subscription)
	if tierID == "" {
		// Metadata was stamped by our own checkout initiator, so it is a
		// trustworthy fallback rather than a user-supplied value.
		if meta := plan.TierID(session.Metadata["tier_id"]); plan.Valid(meta) {
			tierID = plan.Get(meta).ID
		}
	}
	if tierID == "" {
		return fmt.Errorf("checkout session %s: cannot determine tier", session.ID)
	}

	if err := rc.store.ApplyCheckoutCompleted(store.CheckoutCompleted{
		UserID:             session.Metadata["user_id"],
		Email:              email,
		TierID:             tierID,
		StripeCustomerID:   session.Customer,
		StripeSubscription: session.Subscription,
		CurrentPeriodEnd:   periodEnd,
	}); err != nil {
		return err
	}

	log.Info().Str("email", email).Str("tier", string(tierID)).
		Str("session_id", session.ID).Msg("checkout completed reconciled")
	return nil
}

// HandleInvoicePaid confirms an active subscription and extends its period
// end. It never changes the tier: a renewal invoice replayed ahead of the
// checkout event must not guess entitlements.
func (rc *Reconciler) HandleInvoicePaid(ctx context.Context, inv Invoice) error {
	email := strings.TrimSpace(inv.CustomerEmail)
	if email == "" && IsSafeStripeID(inv.Customer) {
		cust, err := rc.fetchCustomer(inv.Customer)
		if err != nil {
			return fmt.Errorf("fetch customer %s: %w", inv.Customer, err)
		}
		email = strings.TrimSpace(cust.Email)
	}
	if email == "" {
		log.Warn().Str("invoice_id", inv.ID).Msg("invoice has no billing email, skipping")
		return nil
	}

	var periodEnd *time.Time
	if end := inv.PeriodEnd(); end > 0 {
		t := time.Unix(end, 0).UTC()
		periodEnd = &t
	}

	if err := rc.store.ApplyInvoicePaid(store.InvoicePaid{
		Email:              email,
		StripeCustomerID:   inv.Customer,
		StripeSubscription: inv.Subscription,
		CurrentPeriodEnd:   periodEnd,
	}); err != nil {
		return err
	}

	log.Info().Str("email", email).Str("invoice_id", inv.ID).
		Msg("invoice payment reconciled")
	return nil
}

// resolveSubscription fetches the subscription and derives (tier, period
// end) from its first item's price lookup key. Failures degrade to empty
// values so the caller can fall back to metadata.
func (rc *Reconciler) resolveSubscription(subID string) (plan.TierID, *time.Time) {
	if !IsSafeStripeID(subID) {
		return "", nil
	}
	sub, err := rc.fetchSubscription(subID)
	if err != nil {
		log.Warn().Err(err).Str("subscription_id", subID).
			Msg("subscription fetch failed, falling back to session metadata")
		return "", nil
	}
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", nil
	}
	if mapped := MapSubscriptionStatus(string(sub.Status)); mapped != store.StatusActive {
		log.Warn().Str("subscription_id", subID).Str("stripe_status", string(sub.Status)).
			Str("mapped", string(mapped)).Msg("checkout completed for non-active subscription")
	}

	item := sub.Items.Data[0]
	var periodEnd *time.Time
	if item.CurrentPeriodEnd > 0 {
		t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	if item.Price == nil {
		return "", periodEnd
	}
	tierID, _, ok := plan.ParseLookupKey(item.Price.LookupKey)
	if !ok {
		return "", periodEnd
	}
	return tierID, periodEnd
}
