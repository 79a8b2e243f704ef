package store

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
)

// Status represents the lifecycle state of a subscription row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Subscription is the local mirror of a user's billing state. It is written
// only by checkout initiation and webhook reconciliation; reads always go
// through the entitlement evaluator which fails closed on anything odd.
type Subscription struct {
	UserID             string      `json:"user_id"`
	Email              string      `json:"email"`
	TierID             plan.TierID `json:"tier_id"`
	Status             Status      `json:"status"`
	Subscribed         bool        `json:"subscribed"`
	StripeCustomerID   string      `json:"stripe_customer_id,omitempty"`
	StripeSubscription string      `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd   *time.Time  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool        `json:"cancel_at_period_end"`
	EntitiesLimit      int64       `json:"entities_limit"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// Entity is a tracked business entity (LLC, corporation, etc.).
type Entity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a compliance document attached to an entity.
type Document struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageAlert records that a user was warned about approaching a quota.
// Deduplicated per (user, metric, day) by a unique index.
type UsageAlert struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Metric    string    `json:"metric"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is an outbound message queued for a user.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GenerateUserID returns a user ID of the form "u_" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateUserID() (string, error) { return generateID("u_") }

// GenerateEntityID returns an entity ID with an "e_" prefix.
func GenerateEntityID() (string, error) { return generateID("e_") }

// GenerateDocumentID returns a document ID with a "d_" prefix.
func GenerateDocumentID() (string, error) { return generateID("d_") }
