package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/leasing/store"
	"github.com/warp/lease-engine/money"
)

func seed(t *testing.T, st leasing.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateProperty(ctx, leasing.Property{ID: "p1", Title: "Loft", MonthlyRent: money.FromInt(1500)}))
	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{
		ID:          "t1",
		FullName:    "Ada Lovelace",
		Email:       "Ada@Example.com",
		PropertyID:  "p1",
		LeaseStart:  calendar.MustDate("2025-01-01"),
		LeaseEnd:    calendar.MustDate("2025-12-31"),
		MonthlyRent: money.FromInt(1500),
		PaymentDay:  1,
	}))
	require.NoError(t, st.CreatePayment(ctx, leasing.Payment{
		ID: "pay1", TenantID: "t1", PropertyID: "p1",
		Date: calendar.MustDate("2025-01-01"), Amount: money.FromInt(1500), Method: leasing.MethodCash,
	}))
	require.NoError(t, st.UpsertOutstandingBalance(ctx, leasing.OutstandingBalance{
		ID: "t1:2025-02-01", TenantID: "t1", PropertyID: "p1",
		DueDate: calendar.MustDate("2025-02-01"), DueAmount: money.FromInt(1500), Status: leasing.StatusUnpaid,
	}))
}

func TestMemory_NewPropertyDefaultsToAvailable(t *testing.T) {
	st := store.NewMemory()
	seed(t, st)

	p, err := st.GetProperty(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, leasing.PropertyAvailable, p.Status)
}

func TestMemory_EmailUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)

	err := st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "Imposter", Email: " ada@example.COM "})
	assert.ErrorIs(t, err, leasing.ErrDuplicateEmail)

	got, err := st.FindTenantByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, leasing.TenantID("t1"), got.ID)

	// Tenants without email never collide.
	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "No Mail"}))
	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t3", FullName: "No Mail Either"}))
}

func TestMemory_UpdateTenantReleasesOldEmail(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)

	ten, err := st.GetTenant(ctx, "t1")
	require.NoError(t, err)
	ten.Email = "ada@newmail.com"
	require.NoError(t, st.UpdateTenant(ctx, ten))

	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "New Ada", Email: "ada@example.com"}))
}

func TestMemory_ReferentialChecks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)

	err := st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "Ghost", PropertyID: "nope"})
	assert.ErrorIs(t, err, leasing.ErrNotFound)

	err = st.CreatePayment(ctx, leasing.Payment{ID: "pay2", TenantID: "nobody", Amount: money.FromInt(1)})
	assert.ErrorIs(t, err, leasing.ErrNotFound)

	err = st.CreateProperty(ctx, leasing.Property{ID: "p1", Title: "Dup"})
	assert.ErrorIs(t, err, leasing.ErrAlreadyExists)
}

func TestMemory_DeletePropertyWithDependents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)

	err := st.DeleteProperty(ctx, "p1")
	assert.ErrorIs(t, err, leasing.ErrHasDependents)
	assert.Equal(t, leasing.KindConflict, leasing.KindOf(err))

	require.NoError(t, st.DeleteTenant(ctx, "t1"))
	require.NoError(t, st.DeleteProperty(ctx, "p1"))

	_, err = st.GetProperty(ctx, "p1")
	assert.ErrorIs(t, err, leasing.ErrNotFound)
}

func TestMemory_DeleteTenantCascades(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)

	require.NoError(t, st.DeleteTenant(ctx, "t1"))

	payments, err := st.ListPayments(ctx, leasing.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)

	balances, err := st.ListOutstandingBalances(ctx, leasing.BalanceFilter{IncludeResolved: true})
	require.NoError(t, err)
	assert.Empty(t, balances)

	_, err = st.FindTenantByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, leasing.ErrNotFound)
}

func TestMemory_UpdatePropertyKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)
	on := calendar.MustDate("2025-01-01")

	require.NoError(t, st.SetPropertyStatus(ctx, "p1", leasing.PropertyOccupied, "tenant moved in", on))
	require.NoError(t, st.UpdateProperty(ctx, leasing.Property{ID: "p1", Title: "Renamed", MonthlyRent: money.FromInt(1600)}))

	p, err := st.GetProperty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Title)
	assert.Equal(t, leasing.PropertyOccupied, p.Status)

	// Setting the same status again is not logged.
	require.NoError(t, st.SetPropertyStatus(ctx, "p1", leasing.PropertyOccupied, "again", on))
	log, err := st.ListPropertyStatusChanges(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestMemory_ListPaymentsFilter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st)
	require.NoError(t, st.CreatePayment(ctx, leasing.Payment{
		ID: "pay0", TenantID: "t1", PropertyID: "p1",
		Date: calendar.MustDate("2024-12-20"), Amount: money.FromInt(100), Method: leasing.MethodCash,
	}))

	all, err := st.ListPaymentsForTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, leasing.PaymentID("pay0"), all[0].ID)

	jan, err := st.ListPayments(ctx, leasing.PaymentFilter{From: calendar.MustDate("2025-01-01")})
	require.NoError(t, err)
	require.Len(t, jan, 1)
	assert.Equal(t, leasing.PaymentID("pay1"), jan[0].ID)
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.NewMemory().ListTenants(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, leasing.KindTimeout, leasing.KindOf(err))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestTxMemory_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := store.NewTxMemory()
	seed(t, st)

	err := st.WithTx(ctx, func(tx leasing.Store) error {
		return tx.SetPropertyStatus(ctx, "p1", leasing.PropertyOccupied, "tenant moved in", calendar.MustDate("2025-01-01"))
	})
	require.NoError(t, err)

	p, err := st.GetProperty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, leasing.PropertyOccupied, p.Status)
}

func TestTxMemory_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that deletes a tenant and then fails
	// WHEN: The transaction returns an error
	// THEN: The tenant and its payments are still present

	ctx := context.Background()
	st := store.NewTxMemory()
	seed(t, st)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx leasing.Store) error {
		if err := tx.DeleteTenant(ctx, "t1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetTenant(ctx, "t1")
	require.NoError(t, err)
	payments, err := st.ListPaymentsForTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestTxMemory_Reset(t *testing.T) {
	ctx := context.Background()
	st := store.NewTxMemory()
	seed(t, st)

	require.NoError(t, st.Reset(ctx))

	props, err := st.ListProperties(ctx)
	require.NoError(t, err)
	assert.Empty(t, props)
}
