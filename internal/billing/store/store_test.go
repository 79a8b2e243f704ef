package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nardo758/entity-guardian-pro-sub004/internal/billing/plan"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertPendingThenCheckoutCompleted(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertPending("u_1", "Alice@Example.com", plan.TierGrowth, "cus_1"))

	sub, err := s.GetByUserID("u_1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sub.Email)
	assert.Equal(t, plan.TierGrowth, sub.TierID)
	assert.Equal(t, StatusPending, sub.Status)
	assert.False(t, sub.Subscribed)
	assert.Equal(t, int64(20), sub.EntitiesLimit)

	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		Email:              "alice@example.com",
		TierID:             plan.TierGrowth,
		StripeCustomerID:   "cus_1",
		StripeSubscription: "sub_1",
		CurrentPeriodEnd:   &end,
	}))

	sub, err = s.GetByUserID("u_1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, sub.Subscribed)
	assert.Equal(t, "sub_1", sub.StripeSubscription)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
}

func TestCheckoutCompletedReplayConverges(t *testing.T) {
	s := newTestStore(t)

	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	ev := CheckoutCompleted{
		Email:              "bob@example.com",
		TierID:             plan.TierProfessional,
		StripeCustomerID:   "cus_2",
		StripeSubscription: "sub_2",
		CurrentPeriodEnd:   &end,
	}
	require.NoError(t, s.ApplyCheckoutCompleted(ev))
	first, err := s.GetByEmail("bob@example.com")
	require.NoError(t, err)

	require.NoError(t, s.ApplyCheckoutCompleted(ev))
	second, err := s.GetByEmail("bob@example.com")
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.TierID, second.TierID)
	assert.Equal(t, first.StripeSubscription, second.StripeSubscription)
}

func TestInvoicePaidBeforeCheckoutLeavesTierEmpty(t *testing.T) {
	s := newTestStore(t)

	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.ApplyInvoicePaid(InvoicePaid{
		Email:              "carol@example.com",
		StripeCustomerID:   "cus_3",
		StripeSubscription: "sub_3",
		CurrentPeriodEnd:   &end,
	}))

	sub, err := s.GetByEmail("carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, plan.TierID(""), sub.TierID)
	assert.True(t, sub.Subscribed)

	// Checkout arrives late and fills in the tier; a replayed invoice
	// event afterwards must not clear it again.
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		Email:  "carol@example.com",
		TierID: plan.TierEnterprise,
	}))
	require.NoError(t, s.ApplyInvoicePaid(InvoicePaid{Email: "carol@example.com"}))

	sub, err = s.GetByEmail("carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, plan.TierEnterprise, sub.TierID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
}

func TestCheckoutCompletedDivergentBillingEmail(t *testing.T) {
	s := newTestStore(t)

	// The customer typed a different email on the hosted checkout page
	// than the one on the pending row.
	require.NoError(t, s.UpsertPending("u_1", "account@example.com", plan.TierGrowth, "cus_1"))
	ev := CheckoutCompleted{
		UserID:             "u_1",
		Email:              "billing@example.com",
		TierID:             plan.TierGrowth,
		StripeSubscription: "sub_1",
	}
	require.NoError(t, s.ApplyCheckoutCompleted(ev))

	sub, err := s.GetByUserID("u_1")
	require.NoError(t, err)
	assert.Equal(t, "billing@example.com", sub.Email)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, sub.Subscribed)

	// Stripe retries deliver the same event again.
	require.NoError(t, s.ApplyCheckoutCompleted(ev))
	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckoutCompletedAdoptsInvoiceCreatedRow(t *testing.T) {
	s := newTestStore(t)

	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.ApplyInvoicePaid(InvoicePaid{
		Email:            "pay@example.com",
		CurrentPeriodEnd: &end,
	}))
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		UserID: "u_real",
		Email:  "pay@example.com",
		TierID: plan.TierEnterprise,
	}))

	// The row created by the early invoice event now answers to the real
	// user ID, keeping the period end the invoice recorded.
	sub, err := s.GetByUserID("u_real")
	require.NoError(t, err)
	assert.Equal(t, plan.TierEnterprise, sub.TierID)
	assert.Equal(t, StatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)

	byEmail, err := s.GetByEmail("pay@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u_real", byEmail.UserID)

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertPendingAdoptsInvoiceCreatedRow(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ApplyInvoicePaid(InvoicePaid{
		Email:              "frank@example.com",
		StripeSubscription: "sub_7",
	}))
	require.NoError(t, s.UpsertPending("u_7", "frank@example.com", plan.TierStarter, ""))

	sub, err := s.GetByUserID("u_7")
	require.NoError(t, err)
	assert.True(t, sub.Subscribed)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, "sub_7", sub.StripeSubscription)

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCheckoutCompletedMergesStrayEmailRow(t *testing.T) {
	s := newTestStore(t)

	// A pending row under the account email and a stray row an invoice
	// event created under the billing email must collapse into one.
	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.UpsertPending("u_1", "account@example.com", plan.TierGrowth, ""))
	require.NoError(t, s.ApplyInvoicePaid(InvoicePaid{
		Email:            "billing@example.com",
		CurrentPeriodEnd: &end,
	}))
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		UserID: "u_1",
		Email:  "billing@example.com",
		TierID: plan.TierGrowth,
	}))

	sub, err := s.GetByUserID("u_1")
	require.NoError(t, err)
	assert.Equal(t, "billing@example.com", sub.Email)
	assert.Equal(t, plan.TierGrowth, sub.TierID)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)

	all, err := s.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPendingDoesNotDowngradeActive(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		UserID: "u_9",
		Email:  "dan@example.com",
		TierID: plan.TierEnterprise,
	}))
	require.NoError(t, s.UpsertPending("u_9", "dan@example.com", plan.TierStarter, ""))

	sub, err := s.GetByUserID("u_9")
	require.NoError(t, err)
	assert.Equal(t, plan.TierEnterprise, sub.TierID)
	assert.Equal(t, StatusActive, sub.Status)
}

func TestCancellation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{
		UserID: "u_5", Email: "eve@example.com", TierID: plan.TierGrowth,
	}))
	require.NoError(t, s.SetCancelAtPeriodEnd("u_5", true))
	require.NoError(t, s.MarkCanceled("u_5"))

	sub, err := s.GetByUserID("u_5")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, sub.Status)
	assert.False(t, sub.Subscribed)
	assert.True(t, sub.CancelAtPeriodEnd)

	assert.ErrorIs(t, s.MarkCanceled("u_missing"), ErrNotFound)
}

func TestCountByStatusAndListSubscribed(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertPending("u_1", "a@example.com", plan.TierStarter, ""))
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{UserID: "u_2", Email: "b@example.com", TierID: plan.TierGrowth}))
	require.NoError(t, s.ApplyCheckoutCompleted(CheckoutCompleted{UserID: "u_3", Email: "c@example.com", TierID: plan.TierGrowth}))

	counts, err := s.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusPending])
	assert.Equal(t, 2, counts[StatusActive])

	subs, err := s.ListSubscribed()
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestEntitiesAndDocuments(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.InsertEntity(&Entity{ID: "e_1", UserID: "u_1", Name: "Acme LLC", Kind: "llc", State: "DE", CreatedAt: now}))
	require.NoError(t, s.InsertEntity(&Entity{ID: "e_2", UserID: "u_1", Name: "Beta Corp", Kind: "corp", State: "CA", CreatedAt: now}))

	n, err := s.CountEntities("u_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.InsertDocument(&Document{ID: "d_1", EntityID: "e_1", UserID: "u_1", Name: "articles.pdf", SizeBytes: 3 << 20, CreatedAt: now}))

	// The document path is scoped to the owner.
	err = s.InsertDocument(&Document{ID: "d_2", EntityID: "e_1", UserID: "u_other", Name: "x.pdf", CreatedAt: now})
	assert.ErrorIs(t, err, ErrNotFound)

	used, err := s.StorageUsedMB("u_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)

	used, err = s.StorageUsedMB("u_none")
	require.NoError(t, err)
	assert.Zero(t, used)

	require.NoError(t, s.DeleteEntity("u_1", "e_1"))
	assert.ErrorIs(t, s.DeleteEntity("u_other", "e_2"), ErrNotFound)

	ents, err := s.ListEntities("u_1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "e_2", ents[0].ID)
}

func TestStorageRoundsUp(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.InsertEntity(&Entity{ID: "e_1", UserID: "u_1", Name: "Acme", CreatedAt: now}))
	require.NoError(t, s.InsertDocument(&Document{ID: "d_1", EntityID: "e_1", UserID: "u_1", Name: "tiny.txt", SizeBytes: 1, CreatedAt: now}))

	used, err := s.StorageUsedMB("u_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestAlertDayDedup(t *testing.T) {
	s := newTestStore(t)

	a := &UsageAlert{UserID: "u_1", Metric: "entities", Used: 18, Limit: 20}
	require.NoError(t, s.InsertAlert(a))
	require.NoError(t, s.InsertAlert(&UsageAlert{UserID: "u_1", Metric: "entities", Used: 19, Limit: 20}))

	exists, err := s.RecentAlertExists("u_1", "entities", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.RecentAlertExists("u_1", "storage_mb", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByUserID("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByEmail("nope@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateIDs(t *testing.T) {
	u, err := GenerateUserID()
	require.NoError(t, err)
	assert.Regexp(t, `^u_[0-9A-HJKMNP-TV-Z]{10}$`, u)

	e, err := GenerateEntityID()
	require.NoError(t, err)
	assert.Regexp(t, `^e_`, e)

	d, err := GenerateDocumentID()
	require.NoError(t, err)
	assert.Regexp(t, `^d_`, d)
}
