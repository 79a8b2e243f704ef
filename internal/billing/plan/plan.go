// Package plan defines the static pricing-tier catalog and the pure
// entitlement lookups derived from it. It is the single source of truth for
// quotas and feature gates; every other package resolves tiers through it
// and never hardcodes limits.
package plan

import (
	"fmt"
	"strings"
)

// TierID identifies a pricing tier.
type TierID string

const (
	TierStarter      TierID = "starter"
	TierGrowth       TierID = "growth"
	TierProfessional TierID = "professional"
	TierEnterprise   TierID = "enterprise"
	// TierUnlimited is a legacy/comped tier. It is never sold through
	// checkout and sits outside the upgrade ladder.
	TierUnlimited TierID = "unlimited"
)

// Interval is a billing interval for a subscription price.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Feature is a tier-gated capability.
type Feature string

const (
	FeatureDocumentStorage Feature = "document_storage"
	FeatureBulkOperations  Feature = "bulk_operations"
	FeatureAPIAccess       Feature = "api_access"
	FeatureMultiState      Feature = "multi_state"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureWhiteLabel      Feature = "white_label"
)

// Unlimited marks a quota with no limit (-1 chosen for SQL compatibility).
const Unlimited int64 = -1

// LookupKeyNamespace prefixes every Stripe price lookup key owned by this
// service so catalog sync never touches foreign prices.
const LookupKeyNamespace = "entityguardian"

// Tier describes one pricing tier. Immutable at runtime.
type Tier struct {
	ID                TierID
	Name              string
	Description       string
	EntityQuota       int64
	StorageQuotaMB    int64
	MonthlyPriceCents int64
	YearlyPriceCents  int64
	Features          []Feature
	// Sellable tiers are synced to the Stripe catalog and accepted by
	// checkout. Non-sellable tiers are granted manually.
	Sellable bool
}

// upgradeOrder is the fixed ladder used for upgrade prompts. TierUnlimited
// is deliberately absent.
var upgradeOrder = []TierID{TierStarter, TierGrowth, TierProfessional, TierEnterprise}

var tiers = map[TierID]Tier{
	TierStarter: {
		ID:                TierStarter,
		Name:              "Starter",
		Description:       "Track up to 4 business entities with core compliance reminders.",
		EntityQuota:       4,
		StorageQuotaMB:    100,
		MonthlyPriceCents: 900,
		YearlyPriceCents:  9000,
		Features:          []Feature{FeatureDocumentStorage},
		Sellable:          true,
	},
	TierGrowth: {
		ID:                TierGrowth,
		Name:              "Growth",
		Description:       "Up to 20 entities, bulk operations, and renewal tracking.",
		EntityQuota:       20,
		StorageQuotaMB:    1024,
		MonthlyPriceCents: 2900,
		YearlyPriceCents:  29000,
		Features:          []Feature{FeatureDocumentStorage, FeatureBulkOperations},
		Sellable:          true,
	},
	TierProfessional: {
		ID:                TierProfessional,
		Name:              "Professional",
		Description:       "Up to 75 entities, API access, and multi-state filings.",
		EntityQuota:       75,
		StorageQuotaMB:    5 * 1024,
		MonthlyPriceCents: 5900,
		YearlyPriceCents:  59000,
		Features:          []Feature{FeatureDocumentStorage, FeatureBulkOperations, FeatureAPIAccess, FeatureMultiState},
		Sellable:          true,
	},
	TierEnterprise: {
		ID:                TierEnterprise,
		Name:              "Enterprise",
		Description:       "Up to 150 entities, white-label portal, and priority support.",
		EntityQuota:       150,
		StorageQuotaMB:    20 * 1024,
		MonthlyPriceCents: 9900,
		YearlyPriceCents:  99000,
		Features: []Feature{
			FeatureDocumentStorage, FeatureBulkOperations, FeatureAPIAccess,
			FeatureMultiState, FeaturePrioritySupport, FeatureWhiteLabel,
		},
		Sellable: true,
	},
	TierUnlimited: {
		ID:             TierUnlimited,
		Name:           "Unlimited",
		Description:    "Grandfathered unlimited plan.",
		EntityQuota:    Unlimited,
		StorageQuotaMB: Unlimited,
		Features: []Feature{
			FeatureDocumentStorage, FeatureBulkOperations, FeatureAPIAccess,
			FeatureMultiState, FeaturePrioritySupport, FeatureWhiteLabel,
		},
		Sellable: false,
	},
}

// Get resolves a tier ID to its definition. Unknown or empty IDs fail closed
// to the starter tier so a corrupt subscription row can never grant more
// than the lowest entitlement.
func Get(id TierID) Tier {
	if t, ok := tiers[TierID(strings.ToLower(strings.TrimSpace(string(id))))]; ok {
		return t
	}
	return tiers[TierStarter]
}

// Valid reports whether id names a defined tier.
func Valid(id TierID) bool {
	_, ok := tiers[TierID(strings.ToLower(strings.TrimSpace(string(id))))]
	return ok
}

// Sellable returns the tiers synced to the external catalog, in ladder order.
func Sellable() []Tier {
	out := make([]Tier, 0, len(upgradeOrder))
	for _, id := range upgradeOrder {
		if t := tiers[id]; t.Sellable {
			out = append(out, t)
		}
	}
	return out
}

// Next returns the tier one rung above id on the upgrade ladder, clamped at
// the top. Unknown IDs resolve like Get (fail closed to starter).
func Next(id TierID) TierID {
	resolved := Get(id).ID
	for i, t := range upgradeOrder {
		if t == resolved {
			if i+1 < len(upgradeOrder) {
				return upgradeOrder[i+1]
			}
			return t
		}
	}
	// Off-ladder tiers (unlimited) have nothing to upgrade to.
	return resolved
}

// ParseInterval validates a billing interval string.
func ParseInterval(s string) (Interval, bool) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case IntervalMonthly:
		return IntervalMonthly, true
	case IntervalYearly:
		return IntervalYearly, true
	default:
		return "", false
	}
}

// BuildLookupKey derives the canonical Stripe price lookup key for a
// (tier, interval) pair.
func BuildLookupKey(id TierID, interval Interval) string {
	return fmt.Sprintf("%s:%s:%s", LookupKeyNamespace, id, interval)
}

// ParseLookupKey is the inverse of BuildLookupKey. It rejects keys from
// other namespaces and keys naming unknown tiers or intervals, so webhook
// processing never trusts a foreign price.
func ParseLookupKey(key string) (TierID, Interval, bool) {
	parts := strings.Split(strings.TrimSpace(key), ":")
	if len(parts) != 3 || parts[0] != LookupKeyNamespace {
		return "", "", false
	}
	id := TierID(parts[1])
	if !Valid(id) {
		return "", "", false
	}
	interval, ok := ParseInterval(parts[2])
	if !ok {
		return "", "", false
	}
	return Get(id).ID, interval, true
}
