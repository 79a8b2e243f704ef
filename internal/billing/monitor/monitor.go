// Package monitor periodically sweeps subscribed users and warns the ones
// approaching their tier quotas.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/notify"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

const (
	// Warn when usage reaches 90% of the quota.
	defaultThresholdPct = 90
	// At most one alert per user+metric per day.
	alertCooldown = 24 * time.Hour
	// Per-sweep fan-out bound.
	sweepConcurrency = 4
)

// Monitor owns the usage threshold sweep.
type Monitor struct {
	store        *store.Store
	notifier     *notify.Notifier
	interval     time.Duration
	thresholdPct int64
}

// New creates a Monitor. interval <= 0 defaults to one hour; thresholdPct
// <= 0 defaults to 90.
func New(st *store.Store, notifier *notify.Notifier, interval time.Duration, thresholdPct int64) *Monitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if thresholdPct <= 0 {
		thresholdPct = defaultThresholdPct
	}
	return &Monitor{
		store:        st,
		notifier:     notifier,
		interval:     interval,
		thresholdPct: thresholdPct,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Dur("interval", m.interval).Msg("usage threshold monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("usage threshold monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep checks every subscribed user once. Per-user failures are logged
// and skipped so one bad row cannot stall the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	subs, err := m.store.ListSubscribed()
	if err != nil {
		log.Error().Err(err).Msg("usage sweep: list subscribed failed")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, sub := range subs {
		if ctx.Err() != nil {
			break
		}
		sub := sub
		g.Go(func() error {
			if err := m.checkUser(gctx, sub); err != nil {
				log.Warn().Err(err).Str("user_id", sub.UserID).Msg("usage sweep: user check failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) checkUser(ctx context.Context, sub *store.Subscription) error {
	tier := plan.Get(sub.TierID)

	if tier.EntityQuota != plan.Unlimited {
		used, err := m.store.CountEntities(sub.UserID)
		if err != nil {
			return err
		}
		if err := m.maybeAlert(ctx, sub, "entities", used, tier.EntityQuota); err != nil {
			return err
		}
	}

	if tier.StorageQuotaMB != plan.Unlimited {
		used, err := m.store.StorageUsedMB(sub.UserID)
		if err != nil {
			return err
		}
		if err := m.maybeAlert(ctx, sub, "storage_mb", used, tier.StorageQuotaMB); err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) maybeAlert(ctx context.Context, sub *store.Subscription, metric string, used, limit int64) error {
	if limit <= 0 || used*100 < limit*m.thresholdPct {
		return nil
	}

	recent, err := m.store.RecentAlertExists(sub.UserID, metric, time.Now().Add(-alertCooldown))
	if err != nil {
		return err
	}
	if recent {
		return nil
	}

	if err := m.store.InsertAlert(&store.UsageAlert{
		UserID: sub.UserID,
		Metric: metric,
		Used:   used,
		Limit:  limit,
	}); err != nil {
		return err
	}
	bmetrics.UsageAlertsTotal.WithLabelValues(metric).Inc()

	log.Info().Str("user_id", sub.UserID).Str("metric", metric).
		Int64("used", used).Int64("limit", limit).Msg("usage threshold alert")

	if m.notifier != nil {
		return m.notifier.UsageThreshold(ctx, sub, metric, used, limit)
	}
	return nil
}
