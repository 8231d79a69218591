/*
store.go - Persistence contract for the leasing core

PURPOSE:
  Defines the interface between the domain logic and the database. Every
  persisted record is owned by the Store; other components read values and
  write through these methods.

WRITE-TIME INVARIANTS (enforced by implementations, not callers):
  - Tenant email uniqueness (normalized, when set)       -> ErrDuplicateEmail
  - A tenant's PropertyID must reference a property      -> ErrNotFound
  - Property status changes only via SetPropertyStatus, which appends an
    audit entry with the reason
  - DeleteProperty fails with ErrHasDependents while any tenant, payment or
    unresolved outstanding balance references the property
  - DeleteTenant removes the tenant's payments and balances with it

ATOMICITY:
  TxStore.WithTx runs fn in one transaction. If fn returns an error (including
  ctx expiry) nothing is committed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - leasing/store/memory.go: in-memory, for tests and demos

SEE ALSO:
  - errors.go: error kinds returned here
*/
package leasing

import (
	"context"

	"github.com/warp/lease-engine/calendar"
)

// =============================================================================
// STORE
// =============================================================================

type PropertyStore interface {
	CreateProperty(ctx context.Context, p Property) error
	// UpdateProperty writes every field except Status.
	UpdateProperty(ctx context.Context, p Property) error
	DeleteProperty(ctx context.Context, id PropertyID) error
	GetProperty(ctx context.Context, id PropertyID) (Property, error)
	// ListProperties is ordered by id.
	ListProperties(ctx context.Context) ([]Property, error)

	// SetPropertyStatus is the only way to change Property.Status.
	// A no-op (same status) writes nothing.
	SetPropertyStatus(ctx context.Context, id PropertyID, status PropertyStatus, reason string, on calendar.Date) error
	ListPropertyStatusChanges(ctx context.Context, id PropertyID) ([]PropertyStatusChange, error)
}

type TenantStore interface {
	CreateTenant(ctx context.Context, t Tenant) error
	UpdateTenant(ctx context.Context, t Tenant) error
	// DeleteTenant removes the tenant together with its payments and balances.
	DeleteTenant(ctx context.Context, id TenantID) error
	GetTenant(ctx context.Context, id TenantID) (Tenant, error)
	// ListTenants is ordered by id.
	ListTenants(ctx context.Context) ([]Tenant, error)
	FindTenantByEmail(ctx context.Context, email string) (Tenant, error)
	ListTenantsForProperty(ctx context.Context, id PropertyID) ([]Tenant, error)
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p Payment) error
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id PaymentID) error
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
	// ListPaymentsForTenant is ordered by (date, id).
	ListPaymentsForTenant(ctx context.Context, id TenantID) ([]Payment, error)
	// ListPayments is ordered by (date, id).
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)
}

type BalanceStore interface {
	// UpsertOutstandingBalance inserts or replaces the row with the same ID.
	UpsertOutstandingBalance(ctx context.Context, b OutstandingBalance) error
	DeleteOutstandingBalance(ctx context.Context, id BalanceID) error
	// ListOutstandingBalances is ordered by (due date, tenant id).
	ListOutstandingBalances(ctx context.Context, f BalanceFilter) ([]OutstandingBalance, error)
}

// Store is the full entity store.
type Store interface {
	PropertyStore
	TenantStore
	PaymentStore
	BalanceStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
