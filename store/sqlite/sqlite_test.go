package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
	"github.com/warp/lease-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st leasing.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateProperty(ctx, leasing.Property{
		ID:          "p1",
		Title:       "Loft",
		Address:     leasing.Address{Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62701"},
		MonthlyRent: money.MustParse("1500.00"),
	}))
	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{
		ID:          "t1",
		FullName:    "Ada Lovelace",
		Email:       "Ada@Example.com",
		PropertyID:  "p1",
		LeaseStart:  calendar.MustDate("2025-01-01"),
		LeaseEnd:    calendar.MustDate("2025-12-31"),
		MonthlyRent: money.MustParse("1500.00"),
		PaymentDay:  1,
		Status:      leasing.LeaseActive,
	}))
	require.NoError(t, st.CreatePayment(ctx, leasing.Payment{
		ID: "pay1", TenantID: "t1", PropertyID: "p1",
		Date: calendar.MustDate("2025-01-01"), Amount: money.MustParse("1500.00"), Method: leasing.MethodCheck,
	}))
	require.NoError(t, st.UpsertOutstandingBalance(ctx, leasing.OutstandingBalance{
		ID: "t1:2025-02-01", TenantID: "t1", PropertyID: "p1", DueDate: calendar.MustDate("2025-02-01"),
		AmountDue: money.MustParse("1500.00"), DueAmount: money.MustParse("1500.00"), Status: leasing.StatusUnpaid,
	}))
}

func TestSQLite_TenantPersistsLeaseAndPolicy(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	pol := policy.Default()
	pol.LateFeeAmount = money.MustParse("75.00")
	ten, err := st.GetTenant(ctx, "t1")
	require.NoError(t, err)
	ten.Policy = &pol
	require.NoError(t, st.UpdateTenant(ctx, ten))

	got, err := st.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, calendar.MustDate("2025-12-31"), got.LeaseEnd)
	assert.Equal(t, "1500.00", got.MonthlyRent.String())
	require.NotNil(t, got.Policy)
	assert.Equal(t, "75.00", got.Policy.LateFeeAmount.String())
	assert.Equal(t, leasing.LeaseActive, got.Status)
}

func TestSQLite_DetachedTenantHasNullColumns(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t9", FullName: "Drifter", MonthlyRent: money.Zero}))

	got, err := st.GetTenant(ctx, "t9")
	require.NoError(t, err)
	assert.False(t, got.HasProperty())
	assert.True(t, got.LeaseStart.IsZero())
	assert.True(t, got.LeaseEnd.IsZero())
	assert.Nil(t, got.Policy)
}

func TestSQLite_EmailUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	err := st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "Imposter", Email: "ada@EXAMPLE.com", MonthlyRent: money.Zero})
	assert.ErrorIs(t, err, leasing.ErrDuplicateEmail)

	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t3", FullName: "No Mail", MonthlyRent: money.Zero}))
	require.NoError(t, st.CreateTenant(ctx, leasing.Tenant{ID: "t4", FullName: "No Mail Either", MonthlyRent: money.Zero}))

	got, err := st.FindTenantByEmail(ctx, " ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, leasing.TenantID("t1"), got.ID)
}

func TestSQLite_ReferentialChecks(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	err := st.CreateTenant(ctx, leasing.Tenant{ID: "t2", FullName: "Ghost", PropertyID: "nope", MonthlyRent: money.Zero})
	assert.ErrorIs(t, err, leasing.ErrNotFound)

	err = st.CreatePayment(ctx, leasing.Payment{ID: "pay2", TenantID: "nobody", Date: calendar.MustDate("2025-01-01"), Amount: money.FromInt(1)})
	assert.ErrorIs(t, err, leasing.ErrNotFound)

	err = st.CreatePayment(ctx, leasing.Payment{ID: "pay1", TenantID: "t1", Date: calendar.MustDate("2025-01-01"), Amount: money.FromInt(1), Method: leasing.MethodCash})
	assert.ErrorIs(t, err, leasing.ErrAlreadyExists)

	err = st.UpdateProperty(ctx, leasing.Property{ID: "nope", Title: "x", MonthlyRent: money.Zero})
	assert.ErrorIs(t, err, leasing.ErrNotFound)
}

func TestSQLite_DeletePropertyWithDependents(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	err := st.DeleteProperty(ctx, "p1")
	assert.ErrorIs(t, err, leasing.ErrHasDependents)

	require.NoError(t, st.DeleteTenant(ctx, "t1"))
	require.NoError(t, st.DeleteProperty(ctx, "p1"))

	_, err = st.GetProperty(ctx, "p1")
	assert.ErrorIs(t, err, leasing.ErrNotFound)
}

func TestSQLite_DeleteTenantCascades(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	require.NoError(t, st.DeleteTenant(ctx, "t1"))

	payments, err := st.ListPayments(ctx, leasing.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, payments)

	balances, err := st.ListOutstandingBalances(ctx, leasing.BalanceFilter{IncludeResolved: true})
	require.NoError(t, err)
	assert.Empty(t, balances)

	err = st.DeleteTenant(ctx, "t1")
	assert.ErrorIs(t, err, leasing.ErrNotFound)
}

func TestSQLite_StatusLogAndUpdateKeepsStatus(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)
	on := calendar.MustDate("2025-01-01")

	require.NoError(t, st.SetPropertyStatus(ctx, "p1", leasing.PropertyOccupied, "tenant moved in", on))
	require.NoError(t, st.SetPropertyStatus(ctx, "p1", leasing.PropertyOccupied, "no-op", on))
	require.NoError(t, st.UpdateProperty(ctx, leasing.Property{ID: "p1", Title: "Loft B", MonthlyRent: money.MustParse("1600")}))

	p, err := st.GetProperty(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, leasing.PropertyOccupied, p.Status)
	assert.Equal(t, "1600.00", p.MonthlyRent.String())

	log, err := st.ListPropertyStatusChanges(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, leasing.PropertyAvailable, log[0].From)
	assert.Equal(t, leasing.PropertyOccupied, log[0].To)
	assert.Equal(t, on, log[0].On)
}

func TestSQLite_BalanceUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	resolved := leasing.OutstandingBalance{
		ID: "t1:2025-02-01", TenantID: "t1", PropertyID: "p1", DueDate: calendar.MustDate("2025-02-01"),
		AmountDue: money.MustParse("1500.00"), DueAmount: money.Zero, Status: leasing.StatusPaid, Resolved: true,
	}
	require.NoError(t, st.UpsertOutstandingBalance(ctx, resolved))
	require.NoError(t, st.UpsertOutstandingBalance(ctx, resolved))

	open, err := st.ListOutstandingBalances(ctx, leasing.BalanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := st.ListOutstandingBalances(ctx, leasing.BalanceFilter{TenantID: "t1", IncludeResolved: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Resolved)
	assert.Equal(t, leasing.StatusPaid, all[0].Status)
}

func TestSQLite_PaymentFilterByDate(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)
	applied := leasing.Payment{
		ID: "pay2", TenantID: "t1", PropertyID: "p1", Date: calendar.MustDate("2025-02-03"),
		Amount: money.MustParse("200.50"), Method: leasing.MethodCard, AppliesTo: calendar.MustDate("2025-02-01"),
	}
	require.NoError(t, st.CreatePayment(ctx, applied))

	feb, err := st.ListPayments(ctx, leasing.PaymentFilter{From: calendar.MustDate("2025-02-01"), To: calendar.MustDate("2025-02-28")})
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, "200.50", feb[0].Amount.String())
	assert.Equal(t, calendar.MustDate("2025-02-01"), feb[0].AppliesTo)

	got, err := st.GetPayment(ctx, "pay1")
	require.NoError(t, err)
	assert.True(t, got.AppliesTo.IsZero())
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that deletes the tenant and then fails
	// WHEN: WithTx returns the error
	// THEN: The tenant and its payments survive

	ctx := context.Background()
	st := newStore(t)
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

func TestSQLite_WithTxCommits(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	err := st.WithTx(ctx, func(tx leasing.Store) error {
		ten, err := tx.GetTenant(ctx, "t1")
		if err != nil {
			return err
		}
		ten.Status = leasing.LeaseExpired
		if err := tx.UpdateTenant(ctx, ten); err != nil {
			return err
		}
		return tx.SetPropertyStatus(ctx, "p1", leasing.PropertyMaintenance, "repairs", calendar.MustDate("2025-03-01"))
	})
	require.NoError(t, err)

	ten, err := st.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, leasing.LeaseExpired, ten.Status)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	seed(t, st)

	require.NoError(t, st.Reset(ctx))

	props, err := st.ListProperties(ctx)
	require.NoError(t, err)
	assert.Empty(t, props)
}
