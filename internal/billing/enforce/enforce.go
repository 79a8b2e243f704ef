// Package enforce answers entitlement questions from the local subscription
// mirror. All checks are read-only and fail closed: a missing, pending, or
// corrupt subscription row resolves to the starter tier.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

// Decision is the outcome of an entitlement check. A denial is a normal
// result, not an error: callers render it as HTTP 200 with allowed=false.
type Decision struct {
	Allowed      bool        `json:"allowed"`
	Reason       string      `json:"reason,omitempty"`
	Tier         plan.TierID `json:"tier"`
	RequiredTier plan.TierID `json:"required_tier,omitempty"`
	Used         int64       `json:"used,omitempty"`
	Limit        int64       `json:"limit,omitempty"`
}

// Enforcer evaluates quota and feature entitlements.
type Enforcer struct {
	store *store.Store
}

// New creates an Enforcer.
func New(st *store.Store) *Enforcer {
	return &Enforcer{store: st}
}

// EffectiveTier resolves the tier a user's entitlements derive from. Only a
// subscribed row with a known tier grants anything above starter.
func (e *Enforcer) EffectiveTier(userID string) plan.Tier {
	sub, err := e.store.GetByUserID(userID)
	if errors.Is(err, store.ErrNotFound) {
		return plan.Get(plan.TierStarter)
	}
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("tier lookup failed, failing closed")
		return plan.Get(plan.TierStarter)
	}
	if !sub.Subscribed || sub.Status != store.StatusActive {
		return plan.Get(plan.TierStarter)
	}
	return plan.Get(sub.TierID)
}

// CanCreateEntity decides whether the user may create one more entity.
//
// The count and the later insert are not atomic; two concurrent creates at
// the boundary can both pass. The quota is a product limit, not a security
// boundary, so an overshoot of one is acceptable.
func (e *Enforcer) CanCreateEntity(ctx context.Context, userID string) (Decision, error) {
	tier := e.EffectiveTier(userID)

	used, err := e.store.CountEntities(userID)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Tier:  tier.ID,
		Used:  used,
		Limit: tier.EntityQuota,
	}
	if tier.EntityQuota == plan.Unlimited || used < tier.EntityQuota {
		d.Allowed = true
	} else {
		d.Reason = fmt.Sprintf("entity limit reached (%d of %d used)", used, tier.EntityQuota)
		d.RequiredTier = plan.Next(tier.ID)
	}
	bmetrics.EntitlementChecksTotal.WithLabelValues("create_entity", strconv.FormatBool(d.Allowed)).Inc()
	return d, nil
}

// CanUseFeature decides whether the user's tier includes the feature.
func (e *Enforcer) CanUseFeature(ctx context.Context, userID string, f plan.Feature) (Decision, error) {
	tier := e.EffectiveTier(userID)

	d := Decision{Tier: tier.ID}
	if plan.HasFeature(tier.ID, f) {
		d.Allowed = true
	} else {
		d.Reason = "feature not included in tier"
		if required, ok := plan.MinimumTierFor(f); ok {
			d.RequiredTier = required
		}
	}
	bmetrics.EntitlementChecksTotal.WithLabelValues("use_feature", strconv.FormatBool(d.Allowed)).Inc()
	return d, nil
}

// Usage summarizes a user's consumption against their tier's quotas.
type Usage struct {
	Tier           plan.TierID `json:"tier"`
	Entities       int64       `json:"entities"`
	EntityQuota    int64       `json:"entity_quota"`
	StorageMB      int64       `json:"storage_mb"`
	StorageQuotaMB int64       `json:"storage_quota_mb"`
}

// CurrentUsage reports the user's consumption and quotas.
func (e *Enforcer) CurrentUsage(ctx context.Context, userID string) (Usage, error) {
	tier := e.EffectiveTier(userID)

	entities, err := e.store.CountEntities(userID)
	if err != nil {
		return Usage{}, err
	}
	storageMB, err := e.store.StorageUsedMB(userID)
	if err != nil {
		return Usage{}, err
	}

	return Usage{
		Tier:           tier.ID,
		Entities:       entities,
		EntityQuota:    tier.EntityQuota,
		StorageMB:      storageMB,
		StorageQuotaMB: tier.StorageQuotaMB,
	}, nil
}
