package stripe

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
)

// fakeCatalog is an in-memory stand-in for the Stripe product/price API.
type fakeCatalog struct {
	products map[string]*stripelib.Product // by tier id
	prices   map[string]*stripelib.Price   // by price id
	nextID   int

	productCreates int
	productUpdates int
	priceCreates   int
	priceUpdates   int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products: make(map[string]*stripelib.Product),
		prices:   make(map[string]*stripelib.Price),
	}
}

func (f *fakeCatalog) synchronizer() *Synchronizer {
	return &Synchronizer{
		findProductByTier: func(tier plan.TierID) (*stripelib.Product, error) {
			return f.products[string(tier)], nil
		},
		createProduct: func(params *stripelib.ProductParams) (*stripelib.Product, error) {
			f.productCreates++
			f.nextID++
			p := &stripelib.Product{
				ID:          fmt.Sprintf("prod_%d", f.nextID),
				Name:        *params.Name,
				Description: *params.Description,
				Metadata:    params.Metadata,
			}
			f.products[params.Metadata["tier_id"]] = p
			return p, nil
		},
		updateProduct: func(id string, params *stripelib.ProductParams) (*stripelib.Product, error) {
			f.productUpdates++
			for _, p := range f.products {
				if p.ID != id {
					continue
				}
				if params.Name != nil {
					p.Name = *params.Name
				}
				if params.Description != nil {
					p.Description = *params.Description
				}
				if params.Metadata != nil {
					p.Metadata = params.Metadata
				}
				return p, nil
			}
			return nil, fmt.Errorf("no such product %s", id)
		},
		listPricesByKey: func(key string) ([]*stripelib.Price, error) {
			var out []*stripelib.Price
			for _, p := range f.prices {
				if p.LookupKey == key {
					out = append(out, p)
				}
			}
			return out, nil
		},
		createPrice: func(params *stripelib.PriceParams) (*stripelib.Price, error) {
			f.priceCreates++
			f.nextID++
			p := &stripelib.Price{
				ID:         fmt.Sprintf("price_%d", f.nextID),
				LookupKey:  *params.LookupKey,
				UnitAmount: *params.UnitAmount,
				Currency:   stripelib.CurrencyUSD,
				Active:     true,
				Product:    &stripelib.Product{ID: *params.Product},
				Recurring: &stripelib.PriceRecurring{
					Interval: stripelib.PriceRecurringInterval(*params.Recurring.Interval),
				},
			}
			f.prices[p.ID] = p
			return p, nil
		},
		updatePrice: func(id string, params *stripelib.PriceParams) (*stripelib.Price, error) {
			f.priceUpdates++
			p, ok := f.prices[id]
			if !ok {
				return nil, fmt.Errorf("no such price %s", id)
			}
			if params.Active != nil {
				p.Active = *params.Active
			}
			if params.LookupKey != nil {
				p.LookupKey = *params.LookupKey
			}
			return p, nil
		},
		now: func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestSyncCreatesFullCatalog(t *testing.T) {
	f := newFakeCatalog()
	sy := f.synchronizer()

	out, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("synced %d tiers, want 4", len(out))
	}
	if _, ok := out[plan.TierUnlimited]; ok {
		t.Fatal("unlimited tier must not be synced")
	}
	if f.productCreates != 4 || f.priceCreates != 8 {
		t.Fatalf("creates: products=%d prices=%d", f.productCreates, f.priceCreates)
	}
	for id, tp := range out {
		if tp.ProductID == "" || tp.MonthlyPriceID == "" || tp.YearlyPriceID == "" {
			t.Fatalf("tier %s has empty ids: %+v", id, tp)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFakeCatalog()
	sy := f.synchronizer()

	first, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	second, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}

	if f.productCreates != 4 || f.priceCreates != 8 || f.priceUpdates != 0 || f.productUpdates != 0 {
		t.Fatalf("second run wrote: products=%d/%d prices=%d updates=%d",
			f.productCreates, f.productUpdates, f.priceCreates, f.priceUpdates)
	}
	for id := range first {
		if first[id] != second[id] {
			t.Fatalf("tier %s ids changed between runs: %+v vs %+v", id, first[id], second[id])
		}
	}
}

func TestSyncArchivesDriftedPrice(t *testing.T) {
	f := newFakeCatalog()
	sy := f.synchronizer()

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	// Someone edited the growth monthly price in the dashboard.
	key := plan.BuildLookupKey(plan.TierGrowth, plan.IntervalMonthly)
	var driftedID string
	for id, p := range f.prices {
		if p.LookupKey == key {
			p.UnitAmount = 1234
			driftedID = id
		}
	}
	if driftedID == "" {
		t.Fatal("no price to drift")
	}

	out, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync after drift: %v", err)
	}

	old := f.prices[driftedID]
	if old.Active {
		t.Fatal("drifted price still active")
	}
	if !strings.HasPrefix(old.LookupKey, key+":archived:") {
		t.Fatalf("archived lookup key=%q", old.LookupKey)
	}

	replacement := f.prices[out[plan.TierGrowth].MonthlyPriceID]
	if replacement == nil || replacement.LookupKey != key || replacement.UnitAmount != plan.PriceCents(plan.TierGrowth, plan.IntervalMonthly) {
		t.Fatalf("replacement price: %+v", replacement)
	}
}

func TestSyncHealsDriftedProduct(t *testing.T) {
	f := newFakeCatalog()
	sy := f.synchronizer()

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	// Someone renamed the professional product in the dashboard.
	drifted := f.products[string(plan.TierProfessional)]
	drifted.Name = "Renamed Plan"
	drifted.Description = "stale copy"

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("Sync after drift: %v", err)
	}

	if f.productUpdates != 1 {
		t.Fatalf("product updates=%d, want 1", f.productUpdates)
	}
	want := "EntityGuardian " + plan.Get(plan.TierProfessional).Name
	if drifted.Name != want {
		t.Fatalf("product name=%q, want %q", drifted.Name, want)
	}
	if f.priceCreates != 8 || f.priceUpdates != 0 {
		t.Fatalf("prices touched: creates=%d updates=%d", f.priceCreates, f.priceUpdates)
	}
}

func TestSyncReplacesPriceOnForeignProduct(t *testing.T) {
	f := newFakeCatalog()
	sy := f.synchronizer()

	if _, err := sy.Sync(context.Background()); err != nil {
		t.Fatalf("seed Sync: %v", err)
	}

	// Amount still agrees but the price was re-pointed at another product.
	key := plan.BuildLookupKey(plan.TierStarter, plan.IntervalYearly)
	var driftedID string
	for id, p := range f.prices {
		if p.LookupKey == key {
			p.Product = &stripelib.Product{ID: "prod_foreign"}
			driftedID = id
		}
	}
	if driftedID == "" {
		t.Fatal("no price to drift")
	}

	out, err := sy.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync after drift: %v", err)
	}

	if f.prices[driftedID].Active {
		t.Fatal("drifted price still active")
	}
	replacement := f.prices[out[plan.TierStarter].YearlyPriceID]
	if replacement == nil || replacement.LookupKey != key || replacement.Product.ID != out[plan.TierStarter].ProductID {
		t.Fatalf("replacement price: %+v", replacement)
	}
}
