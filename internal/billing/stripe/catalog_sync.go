package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	stripeprice "github.com/stripe/stripe-go/v82/price"
	stripeproduct "github.com/stripe/stripe-go/v82/product"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
)

// TierPrices holds the live Stripe object IDs for one tier after a sync.
type TierPrices struct {
	ProductID      string `json:"product_id"`
	MonthlyPriceID string `json:"monthly_price_id"`
	YearlyPriceID  string `json:"yearly_price_id"`
}

// Synchronizer reconciles the Stripe product and price catalog with the
// local plan definitions. Prices are immutable in Stripe, so a drifted
// price is archived and re-keyed before its replacement is created; the
// lookup key always points at exactly one live price.
type Synchronizer struct {
	findProductByTier func(tier plan.TierID) (*stripelib.Product, error)
	createProduct     func(params *stripelib.ProductParams) (*stripelib.Product, error)
	updateProduct     func(id string, params *stripelib.ProductParams) (*stripelib.Product, error)
	listPricesByKey   func(key string) ([]*stripelib.Price, error)
	createPrice       func(params *stripelib.PriceParams) (*stripelib.Price, error)
	updatePrice       func(id string, params *stripelib.PriceParams) (*stripelib.Price, error)

	now func() time.Time
}

// NewSynchronizer creates a Synchronizer backed by the live Stripe API.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		findProductByTier: searchProductByTier,
		createProduct:     stripeproduct.New,
		updateProduct:     stripeproduct.Update,
		listPricesByKey:   listPricesByLookupKey,
		createPrice:       stripeprice.New,
		updatePrice:       stripeprice.Update,
		now:               time.Now,
	}
}

// Sync makes the remote catalog match the plan definitions for every
// sellable tier. Idempotent: a second run against a converged catalog
// performs no writes. The first error aborts the run so a partial sync is
// visible and retryable.
func (sy *Synchronizer) Sync(ctx context.Context) (map[plan.TierID]TierPrices, error) {
	out := make(map[plan.TierID]TierPrices)
	for _, tier := range plan.Sellable() {
		if err := ctx.Err(); err != nil {
			bmetrics.CatalogSyncTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		product, err := sy.ensureProduct(tier)
		if err != nil {
			bmetrics.CatalogSyncTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("tier %s: %w", tier.ID, err)
		}

		monthly, err := sy.ensurePrice(tier, plan.IntervalMonthly, product.ID)
		if err != nil {
			bmetrics.CatalogSyncTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("tier %s monthly: %w", tier.ID, err)
		}
		yearly, err := sy.ensurePrice(tier, plan.IntervalYearly, product.ID)
		if err != nil {
			bmetrics.CatalogSyncTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("tier %s yearly: %w", tier.ID, err)
		}

		out[tier.ID] = TierPrices{
			ProductID:      product.ID,
			MonthlyPriceID: monthly,
			YearlyPriceID:  yearly,
		}
	}

	bmetrics.CatalogSyncTotal.WithLabelValues("success").Inc()
	log.Info().Int("tiers", len(out)).Msg("price catalog sync completed")
	return out, nil
}

func (sy *Synchronizer) ensureProduct(tier plan.Tier) (*stripelib.Product, error) {
	product, err := sy.findProductByTier(tier.ID)
	if err != nil {
		return nil, fmt.Errorf("search product: %w", err)
	}
	if product != nil {
		wantName := "EntityGuardian " + tier.Name
		if product.Name == wantName && product.Description == tier.Description &&
			product.Metadata["tier_id"] == string(tier.ID) {
			return product, nil
		}
		// Products are mutable, so drift heals in place.
		product, err = sy.updateProduct(product.ID, &stripelib.ProductParams{
			Name:        stripelib.String(wantName),
			Description: stripelib.String(tier.Description),
			Metadata: map[string]string{
				"tier_id": string(tier.ID),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("update product: %w", err)
		}
		log.Warn().Str("tier", string(tier.ID)).Str("product_id", product.ID).
			Msg("catalog sync healed drifted product")
		return product, nil
	}

	product, err = sy.createProduct(&stripelib.ProductParams{
		Name:        stripelib.String("EntityGuardian " + tier.Name),
		Description: stripelib.String(tier.Description),
		Metadata: map[string]string{
			"tier_id": string(tier.ID),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	log.Info().Str("tier", string(tier.ID)).Str("product_id", product.ID).
		Msg("catalog sync created product")
	return product, nil
}

// ensurePrice returns the live price ID for (tier, interval), creating or
// replacing as needed.
func (sy *Synchronizer) ensurePrice(tier plan.Tier, interval plan.Interval, productID string) (string, error) {
	key := plan.BuildLookupKey(tier.ID, interval)
	wantAmount := plan.PriceCents(tier.ID, interval)

	existing, err := sy.listPricesByKey(key)
	if err != nil {
		return "", fmt.Errorf("list prices: %w", err)
	}

	for _, p := range existing {
		if p == nil || !p.Active {
			continue
		}
		if priceMatches(p, productID, wantAmount, interval) {
			return p.ID, nil
		}
		// Prices are immutable: archive the drifted one and move its
		// lookup key out of the way before creating the replacement.
		archivedKey := fmt.Sprintf("%s:archived:%d", key, sy.now().Unix())
		if _, err := sy.updatePrice(p.ID, &stripelib.PriceParams{
			Active:    stripelib.Bool(false),
			LookupKey: stripelib.String(archivedKey),
		}); err != nil {
			return "", fmt.Errorf("archive price %s: %w", p.ID, err)
		}
		log.Warn().Str("price_id", p.ID).Str("lookup_key", key).
			Int64("amount", p.UnitAmount).Int64("want", wantAmount).
			Msg("catalog sync archived drifted price")
	}

	created, err := sy.createPrice(&stripelib.PriceParams{
		Product:    stripelib.String(productID),
		Currency:   stripelib.String(string(stripelib.CurrencyUSD)),
		UnitAmount: stripelib.Int64(wantAmount),
		LookupKey:  stripelib.String(key),
		// Steals the key from any price still holding it, so the swap
		// cannot leave the key dangling.
		TransferLookupKey: stripelib.Bool(true),
		Recurring: &stripelib.PriceRecurringParams{
			Interval: stripelib.String(string(recurringInterval(interval))),
		},
		Metadata: map[string]string{
			"tier_id":          string(tier.ID),
			"billing_interval": string(interval),
		},
	})
	if err != nil {
		return "", fmt.Errorf("create price: %w", err)
	}
	log.Info().Str("tier", string(tier.ID)).Str("interval", string(interval)).
		Str("price_id", created.ID).Msg("catalog sync created price")
	return created.ID, nil
}

func priceMatches(p *stripelib.Price, productID string, wantAmount int64, interval plan.Interval) bool {
	if p.UnitAmount != wantAmount || p.Currency != stripelib.CurrencyUSD {
		return false
	}
	// A price pointing at a foreign product is drift even when the amount
	// agrees.
	if p.Product == nil || p.Product.ID != productID {
		return false
	}
	if p.Recurring == nil {
		return false
	}
	return p.Recurring.Interval == recurringInterval(interval)
}

func recurringInterval(interval plan.Interval) stripelib.PriceRecurringInterval {
	if interval == plan.IntervalYearly {
		return stripelib.PriceRecurringIntervalYear
	}
	return stripelib.PriceRecurringIntervalMonth
}

func searchProductByTier(tier plan.TierID) (*stripelib.Product, error) {
	iter := stripeproduct.Search(&stripelib.ProductSearchParams{
		SearchParams: stripelib.SearchParams{
			Query: fmt.Sprintf("active:'true' AND metadata['tier_id']:%q", string(tier)),
		},
	})
	for iter.Next() {
		return iter.Product(), nil
	}
	return nil, iter.Err()
}

func listPricesByLookupKey(key string) ([]*stripelib.Price, error) {
	iter := stripeprice.List(&stripelib.PriceListParams{
		LookupKeys: stripelib.StringSlice([]string{key}),
	})
	var out []*stripelib.Price
	for iter.Next() {
		out = append(out, iter.Price())
	}
	return out, iter.Err()
}
