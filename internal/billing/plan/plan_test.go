package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFailsClosed(t *testing.T) {
	assert.Equal(t, TierStarter, Get("").ID)
	assert.Equal(t, TierStarter, Get("platinum").ID)
	assert.Equal(t, TierGrowth, Get("  Growth ").ID)
}

func TestQuotas(t *testing.T) {
	cases := map[TierID]int64{
		TierStarter:      4,
		TierGrowth:       20,
		TierProfessional: 75,
		TierEnterprise:   150,
		TierUnlimited:    Unlimited,
	}
	for id, want := range cases {
		assert.Equal(t, want, Get(id).EntityQuota, "tier %s", id)
	}
}

func TestNextClampsAndSkipsUnlimited(t *testing.T) {
	assert.Equal(t, TierGrowth, Next(TierStarter))
	assert.Equal(t, TierProfessional, Next(TierGrowth))
	assert.Equal(t, TierEnterprise, Next(TierProfessional))
	assert.Equal(t, TierEnterprise, Next(TierEnterprise))
	assert.Equal(t, TierUnlimited, Next(TierUnlimited))
	// Unknown tiers resolve to starter first.
	assert.Equal(t, TierGrowth, Next("bogus"))
}

func TestSellableExcludesUnlimited(t *testing.T) {
	ids := []TierID{}
	for _, tier := range Sellable() {
		ids = append(ids, tier.ID)
	}
	assert.Equal(t, []TierID{TierStarter, TierGrowth, TierProfessional, TierEnterprise}, ids)
}

func TestLookupKeyRoundTrip(t *testing.T) {
	for _, tier := range Sellable() {
		for _, interval := range []Interval{IntervalMonthly, IntervalYearly} {
			key := BuildLookupKey(tier.ID, interval)
			gotTier, gotInterval, ok := ParseLookupKey(key)
			require.True(t, ok, "key %q", key)
			assert.Equal(t, tier.ID, gotTier)
			assert.Equal(t, interval, gotInterval)
		}
	}
}

func TestParseLookupKeyRejectsForeign(t *testing.T) {
	for _, key := range []string{
		"",
		"entityguardian:growth",
		"otherapp:growth:monthly",
		"entityguardian:platinum:monthly",
		"entityguardian:growth:weekly",
		"entityguardian:growth:monthly:extra",
	} {
		_, _, ok := ParseLookupKey(key)
		assert.False(t, ok, "key %q", key)
	}
}

func TestFeatureGates(t *testing.T) {
	assert.True(t, HasFeature(TierStarter, FeatureDocumentStorage))
	assert.False(t, HasFeature(TierStarter, FeatureBulkOperations))
	assert.True(t, HasFeature(TierGrowth, FeatureBulkOperations))
	assert.False(t, HasFeature(TierGrowth, FeatureAPIAccess))
	assert.True(t, HasFeature(TierProfessional, FeatureMultiState))
	assert.True(t, HasFeature(TierEnterprise, FeatureWhiteLabel))
	assert.True(t, HasFeature(TierUnlimited, FeatureWhiteLabel))
	// Fail closed: unknown tier only has starter features.
	assert.False(t, HasFeature("bogus", FeatureAPIAccess))
}

func TestMinimumTierFor(t *testing.T) {
	id, ok := MinimumTierFor(FeatureBulkOperations)
	require.True(t, ok)
	assert.Equal(t, TierGrowth, id)

	id, ok = MinimumTierFor(FeaturePrioritySupport)
	require.True(t, ok)
	assert.Equal(t, TierEnterprise, id)

	_, ok = MinimumTierFor("time_travel")
	assert.False(t, ok)
}

func TestPriceCents(t *testing.T) {
	assert.Equal(t, int64(2900), PriceCents(TierGrowth, IntervalMonthly))
	assert.Equal(t, int64(29000), PriceCents(TierGrowth, IntervalYearly))
	assert.Equal(t, int64(900), PriceCents("bogus", IntervalMonthly))
}
