// Package notify delivers usage and billing notices to users: a
// notification row is always written, and an email goes out when a sender
// is configured.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/store"
)

// Notifier records notifications and sends best-effort emails.
type Notifier struct {
	store  *store.Store
	sender Sender
	from   string
}

// New creates a Notifier. sender may be nil; email delivery is then skipped.
func New(st *store.Store, sender Sender, from string) *Notifier {
	return &Notifier{store: st, sender: sender, from: from}
}

// UsageThreshold notifies a user that a metric crossed its warning
// threshold. The notification row is the durable record; email failure is
// logged but does not fail the caller.
func (n *Notifier) UsageThreshold(ctx context.Context, sub *store.Subscription, metric string, used, limit int64) error {
	title := fmt.Sprintf("You're approaching your %s limit", metricLabel(metric))
	upgrade := plan.Next(sub.TierID)
	body := fmt.Sprintf(
		"You have used %d of %d %s on your %s plan. Upgrade to %s to raise the limit.",
		used, limit, metricLabel(metric), plan.Get(sub.TierID).Name, plan.Get(upgrade).Name,
	)

	if err := n.store.InsertNotification(&store.Notification{
		UserID: sub.UserID,
		Kind:   "usage_threshold",
		Title:  title,
		Body:   body,
	}); err != nil {
		return err
	}

	if n.sender == nil || sub.Email == "" {
		return nil
	}
	if err := n.sender.Send(ctx, Message{
		From:    n.from,
		To:      sub.Email,
		Subject: title,
		Text:    body,
	}); err != nil {
		log.Warn().Err(err).Str("user_id", sub.UserID).Str("metric", metric).
			Msg("usage threshold email failed")
	}
	return nil
}

func metricLabel(metric string) string {
	switch metric {
	case "entities":
		return "tracked entities"
	case "storage_mb":
		return "document storage (MB)"
	default:
		return metric
	}
}
