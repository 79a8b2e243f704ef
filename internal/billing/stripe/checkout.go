package stripe

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"
	stripeprice "github.com/stripe/stripe-go/v82/price"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

// CheckoutRequest carries everything needed to start a hosted checkout.
type CheckoutRequest struct {
	UserID   string
	Email    string
	Tier     plan.TierID
	Interval plan.Interval
}

// Initiator starts hosted checkout sessions. Prices are resolved by lookup
// key at session time so a catalog sync that replaced a price is picked up
// without redeploying.
type Initiator struct {
	store   *store.Store
	baseURL string

	findCustomerByEmail   func(email string) (*stripelib.Customer, error)
	createCustomer        func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	findPriceByLookupKey  func(key string) (*stripelib.Price, error)
	createCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewInitiator creates an Initiator backed by the live Stripe API.
func NewInitiator(st *store.Store, baseURL string) *Initiator {
	return &Initiator{
		store:                 st,
		baseURL:               strings.TrimRight(baseURL, "/"),
		findCustomerByEmail:   searchCustomerByEmail,
		createCustomer:        stripecustomer.New,
		findPriceByLookupKey:  findActivePriceByLookupKey,
		createCheckoutSession: stripesession.New,
	}
}

// StartCheckout validates the request, records pending intent, and returns
// the hosted checkout URL.
func (in *Initiator) StartCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	outcome := "error"
	defer func() {
		bmetrics.CheckoutSessionsTotal.WithLabelValues(outcome).Inc()
	}()

	tier := plan.TierID(strings.ToLower(strings.TrimSpace(string(req.Tier))))
	if !plan.Valid(tier) || !plan.Get(tier).Sellable {
		outcome = "invalid_request"
		return "", ErrInvalidTier
	}
	interval, ok := plan.ParseInterval(string(req.Interval))
	if !ok {
		outcome = "invalid_request"
		return "", ErrInvalidInterval
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		outcome = "invalid_request"
		return "", ErrMissingEmail
	}
	if strings.TrimSpace(req.UserID) == "" {
		outcome = "invalid_request"
		return "", ErrMissingUserID
	}

	customer, err := in.findCustomerByEmail(email)
	if err != nil {
		return "", fmt.Errorf("search customer: %w", err)
	}
	if customer == nil {
		customer, err = in.createCustomer(&stripelib.CustomerParams{
			Email: stripelib.String(email),
			Metadata: map[string]string{
				"user_id": req.UserID,
			},
		})
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
	}

	if err := in.store.UpsertPending(req.UserID, email, tier, customer.ID); err != nil {
		return "", err
	}

	lookupKey := plan.BuildLookupKey(tier, interval)
	price, err := in.findPriceByLookupKey(lookupKey)
	if err != nil {
		return "", fmt.Errorf("resolve price %q: %w", lookupKey, err)
	}
	if price == nil {
		outcome = "price_not_synced"
		return "", ErrPriceNotSynced
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(customer.ID),
		SuccessURL: stripelib.String(in.baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripelib.String(in.baseURL + "/billing/cancel"),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(price.ID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"user_id":          req.UserID,
			"tier_id":          string(tier),
			"billing_interval": string(interval),
		},
	}
	session, err := in.createCheckoutSession(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("stripe returned empty checkout URL")
	}

	outcome = "started"
	log.Info().Str("user_id", req.UserID).Str("tier", string(tier)).
		Str("interval", string(interval)).Msg("checkout session created")
	return strings.TrimSpace(session.URL), nil
}

func searchCustomerByEmail(email string) (*stripelib.Customer, error) {
	iter := stripecustomer.Search(&stripelib.CustomerSearchParams{
		SearchParams: stripelib.SearchParams{
			Query: fmt.Sprintf("email:%q", email),
		},
	})
	for iter.Next() {
		return iter.Customer(), nil
	}
	return nil, iter.Err()
}

func findActivePriceByLookupKey(key string) (*stripelib.Price, error) {
	iter := stripeprice.List(&stripelib.PriceListParams{
		LookupKeys: stripelib.StringSlice([]string{key}),
		Active:     stripelib.Bool(true),
	})
	for iter.Next() {
		return iter.Price(), nil
	}
	return nil, iter.Err()
}
