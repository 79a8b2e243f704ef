package plan

// HasFeature reports whether the tier includes the feature. Unknown tier
// IDs resolve through Get and therefore fail closed to starter.
func HasFeature(id TierID, f Feature) bool {
	for _, have := range Get(id).Features {
		if have == f {
			return true
		}
	}
	return false
}

// MinimumTierFor returns the cheapest sellable tier that includes the
// feature, or false when no tier offers it.
func MinimumTierFor(f Feature) (TierID, bool) {
	for _, id := range upgradeOrder {
		for _, have := range tiers[id].Features {
			if have == f {
				return id, true
			}
		}
	}
	return "", false
}

// PriceCents returns the catalog price for a tier and interval.
func PriceCents(id TierID, interval Interval) int64 {
	t := Get(id)
	if interval == IntervalYearly {
		return t.YearlyPriceCents
	}
	return t.MonthlyPriceCents
}
