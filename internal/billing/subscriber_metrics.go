package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/bmetrics"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

const subscriberMetricsInterval = 60 * time.Second

// runSubscriberMetrics keeps the subscribers-by-status gauge current.
func runSubscriberMetrics(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(subscriberMetricsInterval)
	defer ticker.Stop()

	// Prime once at startup so /metrics isn't empty for this gauge.
	updateSubscriberGauges(st)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSubscriberGauges(st)
		}
	}
}

func updateSubscriberGauges(st *store.Store) {
	counts, err := st.CountByStatus()
	if err != nil {
		log.Error().Err(err).Msg("failed to update subscriber metrics")
		return
	}

	known := []store.Status{
		store.StatusPending,
		store.StatusActive,
		store.StatusPastDue,
		store.StatusCanceled,
	}
	for _, status := range known {
		bmetrics.SubscribersByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
