// Package store persists subscriptions, entities, documents, and usage
// alerts in a single SQLite database. Webhook writes are commutative
// upserts so replayed or reordered events converge on the same row; the
// subscriptions table carries two unique keys (user_id and email) and
// every write reconciles both before landing.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store provides CRUD operations for billing state backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the billing database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create billing dir: %w", err)
	}

	dbPath := filepath.Join(dir, "billing.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open billing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id                TEXT PRIMARY KEY,
		email                  TEXT NOT NULL UNIQUE,
		tier_id                TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL DEFAULT 'pending',
		subscribed             INTEGER NOT NULL DEFAULT 0,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		current_period_end     INTEGER,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		entities_limit         INTEGER NOT NULL DEFAULT 0,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);

	CREATE TABLE IF NOT EXISTS entities (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		kind       TEXT NOT NULL DEFAULT '',
		state      TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_user ON entities(user_id);

	CREATE TABLE IF NOT EXISTS documents (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id);
	CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity_id);

	CREATE TABLE IF NOT EXISTS usage_alerts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		metric     TEXT NOT NULL,
		used       INTEGER NOT NULL,
		quota      INTEGER NOT NULL,
		day        TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_alerts_dedup ON usage_alerts(user_id, metric, day);

	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		kind       TEXT NOT NULL,
		title      TEXT NOT NULL,
		body       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init billing schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeEmail lowercases and trims an email so upsert keys match across
// checkout and webhook paths.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertPending records checkout intent before the hosted session is
// created. It never downgrades an already-subscribed row; the webhook is
// the sole authority for tier changes after activation.
func (s *Store) UpsertPending(userID, email string, tier plan.TierID, stripeCustomerID string) error {
	addr := normalizeEmail(email)
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert pending: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := rehomeEmailRow(tx, userID, addr); err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO subscriptions
		(user_id, email, tier_id, status, subscribed, stripe_customer_id, entities_limit, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			stripe_customer_id = CASE WHEN excluded.stripe_customer_id != '' THEN excluded.stripe_customer_id ELSE subscriptions.stripe_customer_id END,
			tier_id = CASE WHEN subscriptions.subscribed = 0 THEN excluded.tier_id ELSE subscriptions.tier_id END,
			status = CASE WHEN subscriptions.subscribed = 0 THEN 'pending' ELSE subscriptions.status END,
			updated_at = excluded.updated_at`,
		userID, addr, string(tier), stripeCustomerID, plan.Get(tier).EntityQuota, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert pending subscription: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert pending: %w", err)
	}
	return nil
}

// CheckoutCompleted carries the fields reconciled from a completed checkout
// session.
type CheckoutCompleted struct {
	UserID             string
	Email              string
	TierID             plan.TierID
	StripeCustomerID   string
	StripeSubscription string
	CurrentPeriodEnd   *time.Time
}

// ApplyCheckoutCompleted activates a subscription. When the event carries
// the user ID stamped in checkout metadata the write lands on that row and
// the email key is reconciled first, so a billing email typed differently
// on the hosted page, or a row created early by an out-of-order invoice
// event, converges onto the real user. Without a user ID the email key
// resolves the row, generating an ID only when no row exists at all.
// Replays converge: every field is set to the event's values.
func (s *Store) ApplyCheckoutCompleted(c CheckoutCompleted) error {
	addr := normalizeEmail(c.Email)
	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin checkout completed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	userID := c.UserID
	if userID == "" {
		var existing string
		err := tx.QueryRow(`SELECT user_id FROM subscriptions WHERE email = ?`, addr).Scan(&existing)
		switch {
		case err == nil:
			userID = existing
		case errors.Is(err, sql.ErrNoRows):
			if userID, err = GenerateUserID(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("lookup subscription by email: %w", err)
		}
	} else if err := rehomeEmailRow(tx, userID, addr); err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO subscriptions
		(user_id, email, tier_id, status, subscribed, stripe_customer_id, stripe_subscription_id, current_period_end, entities_limit, created_at, updated_at)
		VALUES (?, ?, ?, 'active', 1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			tier_id = excluded.tier_id,
			status = 'active',
			subscribed = 1,
			stripe_customer_id = CASE WHEN excluded.stripe_customer_id != '' THEN excluded.stripe_customer_id ELSE subscriptions.stripe_customer_id END,
			stripe_subscription_id = CASE WHEN excluded.stripe_subscription_id != '' THEN excluded.stripe_subscription_id ELSE subscriptions.stripe_subscription_id END,
			current_period_end = COALESCE(excluded.current_period_end, subscriptions.current_period_end),
			entities_limit = excluded.entities_limit,
			updated_at = excluded.updated_at`,
		userID, addr, string(c.TierID),
		c.StripeCustomerID, c.StripeSubscription, nullableTimeUnix(c.CurrentPeriodEnd),
		plan.Get(c.TierID).EntityQuota, now, now,
	)
	if err != nil {
		return fmt.Errorf("apply checkout completed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkout completed: %w", err)
	}
	return nil
}

// rehomeEmailRow reconciles the email unique key with the caller's user ID
// ahead of a user-keyed upsert. A row holding the email under a different
// ID (generated when an invoice event landed before any local row) is
// adopted onto userID; when a row for userID also exists, the stray email
// row's billing state is folded into it and the stray removed, so both
// keys resolve to one row.
func rehomeEmailRow(tx *sql.Tx, userID, email string) error {
	var emailOwner string
	err := tx.QueryRow(`SELECT user_id FROM subscriptions WHERE email = ?`, email).Scan(&emailOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup subscription by email: %w", err)
	}
	if emailOwner == userID {
		return nil
	}

	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return fmt.Errorf("lookup subscription by user: %w", err)
	}
	if n == 0 {
		if _, err := tx.Exec(`UPDATE subscriptions SET user_id = ? WHERE email = ?`, userID, email); err != nil {
			return fmt.Errorf("rehome subscription: %w", err)
		}
		return nil
	}

	_, err = tx.Exec(`UPDATE subscriptions SET
			current_period_end = COALESCE(current_period_end, (SELECT current_period_end FROM subscriptions WHERE email = ?1)),
			stripe_customer_id = CASE WHEN stripe_customer_id != '' THEN stripe_customer_id ELSE (SELECT stripe_customer_id FROM subscriptions WHERE email = ?1) END,
			stripe_subscription_id = CASE WHEN stripe_subscription_id != '' THEN stripe_subscription_id ELSE (SELECT stripe_subscription_id FROM subscriptions WHERE email = ?1) END
		WHERE user_id = ?2`, email, userID)
	if err != nil {
		return fmt.Errorf("merge subscription rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM subscriptions WHERE email = ?`, email); err != nil {
		return fmt.Errorf("drop merged subscription row: %w", err)
	}
	return nil
}

// InvoicePaid carries the fields reconciled from a successful invoice
// payment.
type InvoicePaid struct {
	Email              string
	StripeCustomerID   string
	StripeSubscription string
	CurrentPeriodEnd   *time.Time
}

// ApplyInvoicePaid confirms an active subscription and extends the period
// end. It never writes tier_id, so a renewal replayed before the checkout
// event cannot clobber the tier; a fresh insert leaves tier_id empty and
// the evaluator fails closed until checkout reconciliation fills it in.
func (s *Store) ApplyInvoicePaid(p InvoicePaid) error {
	userID, err := GenerateUserID()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	_, err = s.db.Exec(`INSERT INTO subscriptions
		(user_id, email, tier_id, status, subscribed, stripe_customer_id, stripe_subscription_id, current_period_end, entities_limit, created_at, updated_at)
		VALUES (?, ?, '', 'active', 1, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			status = 'active',
			subscribed = 1,
			stripe_customer_id = CASE WHEN excluded.stripe_customer_id != '' THEN excluded.stripe_customer_id ELSE subscriptions.stripe_customer_id END,
			stripe_subscription_id = CASE WHEN excluded.stripe_subscription_id != '' THEN excluded.stripe_subscription_id ELSE subscriptions.stripe_subscription_id END,
			current_period_end = COALESCE(excluded.current_period_end, subscriptions.current_period_end),
			updated_at = excluded.updated_at`,
		userID, normalizeEmail(p.Email),
		p.StripeCustomerID, p.StripeSubscription, nullableTimeUnix(p.CurrentPeriodEnd),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("apply invoice paid: %w", err)
	}
	return nil
}

// SetCancelAtPeriodEnd flags a subscription for non-renewal.
func (s *Store) SetCancelAtPeriodEnd(userID string, cancel bool) error {
	res, err := s.db.Exec(`UPDATE subscriptions SET cancel_at_period_end = ?, updated_at = ? WHERE user_id = ?`,
		boolToInt(cancel), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("set cancel at period end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCanceled transitions a subscription to canceled and drops the
// subscribed flag. Entitlements revert to starter via the evaluator.
func (s *Store) MarkCanceled(userID string) error {
	res, err := s.db.Exec(`UPDATE subscriptions SET status = 'canceled', subscribed = 0, updated_at = ? WHERE user_id = ?`,
		time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByUserID retrieves a subscription by user ID.
func (s *Store) GetByUserID(userID string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRow(subscriptionColumns+` WHERE user_id = ?`, userID))
}

// GetByEmail retrieves a subscription by (normalized) email.
func (s *Store) GetByEmail(email string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRow(subscriptionColumns+` WHERE email = ?`, normalizeEmail(email)))
}

// ListSubscribed returns every row with an active paid subscription,
// ordered by creation time. Used by the usage monitor sweep.
func (s *Store) ListSubscribed() ([]*Subscription, error) {
	rows, err := s.db.Query(subscriptionColumns + ` WHERE subscribed = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ListAll returns every subscription row, newest first. Admin surface only.
func (s *Store) ListAll() ([]*Subscription, error) {
	rows, err := s.db.Query(subscriptionColumns + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CountByStatus returns subscription counts grouped by status.
func (s *Store) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// InsertEntity stores a new tracked entity.
func (s *Store) InsertEntity(e *Entity) error {
	_, err := s.db.Exec(`INSERT INTO entities (id, user_id, name, kind, state, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Name, e.Kind, e.State, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// ListEntities returns the user's entities, oldest first.
func (s *Store) ListEntities(userID string) ([]*Entity, error) {
	rows, err := s.db.Query(`SELECT id, user_id, name, kind, state, created_at FROM entities WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		var e Entity
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Kind, &e.State, &createdAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity and its documents. Scoped to the owning
// user so a forged ID cannot delete another user's entity.
func (s *Store) DeleteEntity(userID, entityID string) error {
	res, err := s.db.Exec(`DELETE FROM entities WHERE id = ? AND user_id = ?`, entityID, userID)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.Exec(`DELETE FROM documents WHERE entity_id = ? AND user_id = ?`, entityID, userID); err != nil {
		return fmt.Errorf("delete entity documents: %w", err)
	}
	return nil
}

// CountEntities returns the number of entities a user currently tracks.
func (s *Store) CountEntities(userID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

// InsertDocument stores a document record. The entity must belong to the
// user.
func (s *Store) InsertDocument(d *Document) error {
	var owner string
	err := s.db.QueryRow(`SELECT user_id FROM entities WHERE id = ?`, d.EntityID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup entity owner: %w", err)
	}
	if owner != d.UserID {
		return ErrNotFound
	}
	_, err = s.db.Exec(`INSERT INTO documents (id, entity_id, user_id, name, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.EntityID, d.UserID, d.Name, d.SizeBytes, d.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// StorageUsedMB returns the user's total document storage in whole
// megabytes, rounded up.
func (s *Store) StorageUsedMB(userID string) (int64, error) {
	var bytes sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(size_bytes) FROM documents WHERE user_id = ?`, userID).Scan(&bytes)
	if err != nil {
		return 0, fmt.Errorf("sum document storage: %w", err)
	}
	if !bytes.Valid || bytes.Int64 == 0 {
		return 0, nil
	}
	return (bytes.Int64 + (1 << 20) - 1) / (1 << 20), nil
}

// RecentAlertExists reports whether an alert for (user, metric) was recorded
// since the given time.
func (s *Store) RecentAlertExists(userID, metric string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM usage_alerts WHERE user_id = ? AND metric = ? AND created_at >= ?`,
		userID, metric, since.Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check recent alert: %w", err)
	}
	return n > 0, nil
}

// InsertAlert records a usage alert. A duplicate for the same day is
// swallowed: the unique day index makes concurrent sweeps converge on a
// single row.
func (s *Store) InsertAlert(a *UsageAlert) error {
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO usage_alerts (id, user_id, metric, used, quota, day, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, metric, day) DO NOTHING`,
		a.ID, a.UserID, a.Metric, a.Used, a.Limit, a.CreatedAt.Format("2006-01-02"), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert usage alert: %w", err)
	}
	return nil
}

// InsertNotification queues a notification for a user.
func (s *Store) InsertNotification(n *Notification) error {
	if n.ID == "" {
		n.ID = ulid.Make().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO notifications (id, user_id, kind, title, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, n.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

const subscriptionColumns = `SELECT
	user_id, email, tier_id, status, subscribed,
	stripe_customer_id, stripe_subscription_id,
	current_period_end, cancel_at_period_end, entities_limit,
	created_at, updated_at
	FROM subscriptions`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(sc scanner) (*Subscription, error) {
	var sub Subscription
	var tierID, status string
	var subscribed, cancelAtEnd int
	var periodEnd sql.NullInt64
	var createdAt, updatedAt int64

	err := sc.Scan(
		&sub.UserID, &sub.Email, &tierID, &status, &subscribed,
		&sub.StripeCustomerID, &sub.StripeSubscription,
		&periodEnd, &cancelAtEnd, &sub.EntitiesLimit,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}

	sub.TierID = plan.TierID(tierID)
	sub.Status = Status(status)
	sub.Subscribed = subscribed != 0
	sub.CancelAtPeriodEnd = cancelAtEnd != 0
	if periodEnd.Valid {
		t := time.Unix(periodEnd.Int64, 0).UTC()
		sub.CurrentPeriodEnd = &t
	}
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
