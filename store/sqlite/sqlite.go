/*
Package sqlite provides a SQLite-backed implementation of leasing.TxStore.

PURPOSE:
  Durable storage for properties, tenants, payments and outstanding balances.
  The same query code runs against the connection pool and inside a database
  transaction, so WithTx gives callers all-or-nothing multi-record writes.

KEY TABLES:
  properties:           Rental units; status is only written via SetPropertyStatus
  property_status_log:  Audit trail of availability changes
  tenants:              Renters; email_norm carries the uniqueness constraint
  payments:             Money received; cascades with its tenant
  outstanding_balances: Materialized unpaid obligations, one row per (tenant, due)

CONSTRAINTS:
  - idx_tenants_email_norm: unique normalized email, NULLs allowed
  - Foreign keys: tenant -> property, payment -> tenant (cascade),
    balance -> tenant (cascade), status log -> property (cascade)
  - Property deletion is refused while tenants, payments or unresolved
    balances reference it

CONCURRENCY:
  Uses sync.RWMutex around top-level calls. WithTx holds the write lock for the
  whole transaction; the Store passed to fn talks to the sql.Tx directly and
  never touches the mutex.

WAL MODE:
  Files are opened with WAL and foreign keys on. ":memory:" is pinned to a
  single connection so every query sees the same database.

USAGE:
  st, err := sqlite.New("./data/leases.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - leasing/store.go: interface definitions
  - leasing/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/policy"
)

// Store implements leasing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		apt TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		monthly_rent TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'available',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_properties_status
		ON properties(status);

	CREATE TABLE IF NOT EXISTS property_status_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		property_id TEXT NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		on_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_log_property
		ON property_status_log(property_id, id);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		email TEXT,
		email_norm TEXT,
		phone TEXT NOT NULL DEFAULT '',
		property_id TEXT REFERENCES properties(id),
		lease_start TEXT,
		lease_end TEXT,
		monthly_rent TEXT NOT NULL,
		payment_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'future',
		policy_json TEXT,
		created_at TEXT NOT NULL
	);

	-- Email uniqueness is case-insensitive; tenants without email never collide.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_email_norm
		ON tenants(email_norm) WHERE email_norm IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_tenants_property
		ON tenants(property_id) WHERE property_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		property_id TEXT REFERENCES properties(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		applies_to TEXT,
		unapplied INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_tenant_date
		ON payments(tenant_id, date);
	CREATE INDEX IF NOT EXISTS idx_payments_date
		ON payments(date);

	CREATE TABLE IF NOT EXISTS outstanding_balances (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		property_id TEXT NOT NULL DEFAULT '',
		due_date TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		late_fee TEXT NOT NULL DEFAULT '0',
		due_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		UNIQUE(tenant_id, due_date)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_open
		ON outstanding_balances(resolved, due_date);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset deletes all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"outstanding_balances", "payments", "tenants", "property_status_log", "properties"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (leasing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(st leasing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dbtx is the subset shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) pool() *queries { return &queries{db: s.db} }

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) CreateProperty(ctx context.Context, p leasing.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().CreateProperty(ctx, p)
}

func (s *Store) UpdateProperty(ctx context.Context, p leasing.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().UpdateProperty(ctx, p)
}

func (s *Store) DeleteProperty(ctx context.Context, id leasing.PropertyID) error {
	return s.WithTx(ctx, func(st leasing.Store) error { return st.DeleteProperty(ctx, id) })
}

func (s *Store) GetProperty(ctx context.Context, id leasing.PropertyID) (leasing.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().GetProperty(ctx, id)
}

func (s *Store) ListProperties(ctx context.Context) ([]leasing.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListProperties(ctx)
}

func (s *Store) SetPropertyStatus(ctx context.Context, id leasing.PropertyID, status leasing.PropertyStatus, reason string, on calendar.Date) error {
	return s.WithTx(ctx, func(st leasing.Store) error { return st.SetPropertyStatus(ctx, id, status, reason, on) })
}

func (s *Store) ListPropertyStatusChanges(ctx context.Context, id leasing.PropertyID) ([]leasing.PropertyStatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListPropertyStatusChanges(ctx, id)
}

func (s *Store) CreateTenant(ctx context.Context, t leasing.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().CreateTenant(ctx, t)
}

func (s *Store) UpdateTenant(ctx context.Context, t leasing.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().UpdateTenant(ctx, t)
}

func (s *Store) DeleteTenant(ctx context.Context, id leasing.TenantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().DeleteTenant(ctx, id)
}

func (s *Store) GetTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().GetTenant(ctx, id)
}

func (s *Store) ListTenants(ctx context.Context) ([]leasing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListTenants(ctx)
}

func (s *Store) FindTenantByEmail(ctx context.Context, email string) (leasing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().FindTenantByEmail(ctx, email)
}

func (s *Store) ListTenantsForProperty(ctx context.Context, id leasing.PropertyID) ([]leasing.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListTenantsForProperty(ctx, id)
}

func (s *Store) CreatePayment(ctx context.Context, p leasing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().CreatePayment(ctx, p)
}

func (s *Store) UpdatePayment(ctx context.Context, p leasing.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().UpdatePayment(ctx, p)
}

func (s *Store) DeletePayment(ctx context.Context, id leasing.PaymentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().DeletePayment(ctx, id)
}

func (s *Store) GetPayment(ctx context.Context, id leasing.PaymentID) (leasing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().GetPayment(ctx, id)
}

func (s *Store) ListPaymentsForTenant(ctx context.Context, id leasing.TenantID) ([]leasing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListPaymentsForTenant(ctx, id)
}

func (s *Store) ListPayments(ctx context.Context, f leasing.PaymentFilter) ([]leasing.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListPayments(ctx, f)
}

func (s *Store) UpsertOutstandingBalance(ctx context.Context, b leasing.OutstandingBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().UpsertOutstandingBalance(ctx, b)
}

func (s *Store) DeleteOutstandingBalance(ctx context.Context, id leasing.BalanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool().DeleteOutstandingBalance(ctx, id)
}

func (s *Store) ListOutstandingBalances(ctx context.Context, f leasing.BalanceFilter) ([]leasing.OutstandingBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool().ListOutstandingBalances(ctx, f)
}

// =============================================================================
// QUERIES - leasing.Store over a pool or a transaction
// =============================================================================

type queries struct {
	db dbtx
}

// ---- properties ------------------------------------------------------------

const propertyColumns = `id, title, street, city, state, zip, apt, owner_id, monthly_rent, status`

func (q *queries) CreateProperty(ctx context.Context, p leasing.Property) error {
	if p.Status == "" {
		p.Status = leasing.PropertyAvailable
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Address.Street, p.Address.City, p.Address.State, p.Address.Zip, p.Address.Apt,
		p.OwnerID, p.MonthlyRent, p.Status, now(),
	)
	if isUniqueConstraintError(err) {
		return leasing.Errorf(leasing.ErrAlreadyExists, "property %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert property: %w", err)
	}
	return nil
}

func (q *queries) UpdateProperty(ctx context.Context, p leasing.Property) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE properties
		SET title = ?, street = ?, city = ?, state = ?, zip = ?, apt = ?, owner_id = ?, monthly_rent = ?
		WHERE id = ?`,
		p.Title, p.Address.Street, p.Address.City, p.Address.State, p.Address.Zip, p.Address.Apt,
		p.OwnerID, p.MonthlyRent, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update property: %w", err)
	}
	return expectRow(res, "property", string(p.ID))
}

func (q *queries) DeleteProperty(ctx context.Context, id leasing.PropertyID) error {
	if _, err := q.GetProperty(ctx, id); err != nil {
		return err
	}

	checks := []struct {
		what  string
		query string
	}{
		{"tenant", `SELECT id FROM tenants WHERE property_id = ? LIMIT 1`},
		{"payment", `SELECT id FROM payments WHERE property_id = ? LIMIT 1`},
		{"unresolved balance", `SELECT id FROM outstanding_balances WHERE property_id = ? AND resolved = 0 LIMIT 1`},
	}
	for _, c := range checks {
		var dep string
		err := q.db.QueryRowContext(ctx, c.query, id).Scan(&dep)
		if err == nil {
			return leasing.Errorf(leasing.ErrHasDependents, "property %s has %s %s", id, c.what, dep)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check property dependents: %w", err)
		}
	}

	if _, err := q.db.ExecContext(ctx, `DELETE FROM outstanding_balances WHERE property_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete resolved balances: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete property: %w", err)
	}
	return nil
}

func (q *queries) GetProperty(ctx context.Context, id leasing.PropertyID) (leasing.Property, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leasing.Property{}, leasing.Errorf(leasing.ErrNotFound, "property %s", id)
	}
	return p, err
}

func (q *queries) ListProperties(ctx context.Context) ([]leasing.Property, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var out []leasing.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) SetPropertyStatus(ctx context.Context, id leasing.PropertyID, status leasing.PropertyStatus, reason string, on calendar.Date) error {
	if !status.Valid() {
		return leasing.Errorf(leasing.ErrInvalidInput, "property status %q", status)
	}
	p, err := q.GetProperty(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == status {
		return nil
	}
	if _, err := q.db.ExecContext(ctx, `UPDATE properties SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("failed to update property status: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO property_status_log (property_id, from_status, to_status, reason, on_date)
		VALUES (?, ?, ?, ?, ?)`,
		id, p.Status, status, reason, on,
	)
	if err != nil {
		return fmt.Errorf("failed to log property status: %w", err)
	}
	return nil
}

func (q *queries) ListPropertyStatusChanges(ctx context.Context, id leasing.PropertyID) ([]leasing.PropertyStatusChange, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, property_id, from_status, to_status, reason, on_date
		FROM property_status_log WHERE property_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query status log: %w", err)
	}
	defer rows.Close()

	var out []leasing.PropertyStatusChange
	for rows.Next() {
		var c leasing.PropertyStatusChange
		if err := rows.Scan(&c.ID, &c.PropertyID, &c.From, &c.To, &c.Reason, &c.On); err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- tenants ---------------------------------------------------------------

const tenantColumns = `id, full_name, email, phone, property_id, lease_start, lease_end,
	monthly_rent, payment_day, status, policy_json`

func (q *queries) checkTenantRefs(ctx context.Context, t leasing.Tenant) error {
	if t.PropertyID == "" {
		return nil
	}
	_, err := q.GetProperty(ctx, t.PropertyID)
	return err
}

func (q *queries) CreateTenant(ctx context.Context, t leasing.Tenant) error {
	if err := q.checkTenantRefs(ctx, t); err != nil {
		return err
	}
	pol, err := encodePolicy(t.Policy)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`, email_norm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FullName, nullString(t.Email), t.Phone, nullString(string(t.PropertyID)),
		t.LeaseStart, t.LeaseEnd, t.MonthlyRent, t.PaymentDay, t.Status, pol,
		nullString(leasing.NormalizeEmail(t.Email)), now(),
	)
	return q.tenantWriteError(ctx, t, err)
}

func (q *queries) UpdateTenant(ctx context.Context, t leasing.Tenant) error {
	if err := q.checkTenantRefs(ctx, t); err != nil {
		return err
	}
	pol, err := encodePolicy(t.Policy)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE tenants
		SET full_name = ?, email = ?, email_norm = ?, phone = ?, property_id = ?, lease_start = ?,
		    lease_end = ?, monthly_rent = ?, payment_day = ?, status = ?, policy_json = ?
		WHERE id = ?`,
		t.FullName, nullString(t.Email), nullString(leasing.NormalizeEmail(t.Email)), t.Phone,
		nullString(string(t.PropertyID)), t.LeaseStart, t.LeaseEnd, t.MonthlyRent, t.PaymentDay,
		t.Status, pol, t.ID,
	)
	if err := q.tenantWriteError(ctx, t, err); err != nil {
		return err
	}
	return expectRow(res, "tenant", string(t.ID))
}

func (q *queries) tenantWriteError(ctx context.Context, t leasing.Tenant, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		if strings.Contains(err.Error(), "email_norm") {
			owner, _ := q.FindTenantByEmail(ctx, t.Email)
			return leasing.Errorf(leasing.ErrDuplicateEmail, "email %s is used by tenant %s", t.Email, owner.ID)
		}
		return leasing.Errorf(leasing.ErrAlreadyExists, "tenant %s", t.ID)
	}
	if isForeignKeyError(err) {
		return leasing.Errorf(leasing.ErrNotFound, "property %s", t.PropertyID)
	}
	return fmt.Errorf("failed to write tenant: %w", err)
}

// DeleteTenant removes the tenant; payments and balances follow via ON DELETE CASCADE.
func (q *queries) DeleteTenant(ctx context.Context, id leasing.TenantID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	return expectRow(res, "tenant", string(id))
}

func (q *queries) GetTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leasing.Tenant{}, leasing.Errorf(leasing.ErrNotFound, "tenant %s", id)
	}
	return t, err
}

func (q *queries) ListTenants(ctx context.Context) ([]leasing.Tenant, error) {
	return q.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
}

func (q *queries) FindTenantByEmail(ctx context.Context, email string) (leasing.Tenant, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE email_norm = ?`,
		leasing.NormalizeEmail(email))
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leasing.Tenant{}, leasing.Errorf(leasing.ErrNotFound, "tenant with email %s", email)
	}
	return t, err
}

func (q *queries) ListTenantsForProperty(ctx context.Context, id leasing.PropertyID) ([]leasing.Tenant, error) {
	return q.queryTenants(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE property_id = ? ORDER BY id`, id)
}

func (q *queries) queryTenants(ctx context.Context, query string, args ...any) ([]leasing.Tenant, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var out []leasing.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- payments --------------------------------------------------------------

const paymentColumns = `id, tenant_id, property_id, date, amount, method, memo, applies_to, unapplied`

func (q *queries) CreatePayment(ctx context.Context, p leasing.Payment) error {
	if _, err := q.GetTenant(ctx, p.TenantID); err != nil {
		return err
	}
	if p.PropertyID != "" {
		if _, err := q.GetProperty(ctx, p.PropertyID); err != nil {
			return err
		}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, nullString(string(p.PropertyID)), p.Date, p.Amount, p.Method, p.Memo,
		p.AppliesTo, p.Unapplied, now(),
	)
	if isUniqueConstraintError(err) {
		return leasing.Errorf(leasing.ErrAlreadyExists, "payment %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (q *queries) UpdatePayment(ctx context.Context, p leasing.Payment) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments
		SET property_id = ?, date = ?, amount = ?, method = ?, memo = ?, applies_to = ?, unapplied = ?
		WHERE id = ?`,
		nullString(string(p.PropertyID)), p.Date, p.Amount, p.Method, p.Memo, p.AppliesTo, p.Unapplied, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectRow(res, "payment", string(p.ID))
}

func (q *queries) DeletePayment(ctx context.Context, id leasing.PaymentID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return expectRow(res, "payment", string(id))
}

func (q *queries) GetPayment(ctx context.Context, id leasing.PaymentID) (leasing.Payment, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leasing.Payment{}, leasing.Errorf(leasing.ErrNotFound, "payment %s", id)
	}
	return p, err
}

func (q *queries) ListPaymentsForTenant(ctx context.Context, id leasing.TenantID) ([]leasing.Payment, error) {
	return q.ListPayments(ctx, leasing.PaymentFilter{TenantID: id})
}

func (q *queries) ListPayments(ctx context.Context, f leasing.PaymentFilter) ([]leasing.Payment, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.PropertyID != "" {
		where = append(where, "property_id = ?")
		args = append(args, f.PropertyID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []leasing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- outstanding balances --------------------------------------------------

const balanceColumns = `id, tenant_id, property_id, due_date, amount_due, late_fee, due_amount, status, resolved`

func (q *queries) UpsertOutstandingBalance(ctx context.Context, b leasing.OutstandingBalance) error {
	if _, err := q.GetTenant(ctx, b.TenantID); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO outstanding_balances (`+balanceColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			amount_due = excluded.amount_due,
			late_fee = excluded.late_fee,
			due_amount = excluded.due_amount,
			status = excluded.status,
			resolved = excluded.resolved,
			updated_at = excluded.updated_at`,
		b.ID, b.TenantID, b.PropertyID, b.DueDate, b.AmountDue, b.LateFee, b.DueAmount, b.Status, b.Resolved, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

func (q *queries) DeleteOutstandingBalance(ctx context.Context, id leasing.BalanceID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM outstanding_balances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete balance: %w", err)
	}
	return nil
}

func (q *queries) ListOutstandingBalances(ctx context.Context, f leasing.BalanceFilter) ([]leasing.OutstandingBalance, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.PropertyID != "" {
		where = append(where, "property_id = ?")
		args = append(args, f.PropertyID)
	}
	if !f.IncludeResolved {
		where = append(where, "resolved = 0")
	}

	query := `SELECT ` + balanceColumns + ` FROM outstanding_balances`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_date ASC, tenant_id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var out []leasing.OutstandingBalance
	for rows.Next() {
		var b leasing.OutstandingBalance
		if err := rows.Scan(&b.ID, &b.TenantID, &b.PropertyID, &b.DueDate, &b.AmountDue,
			&b.LateFee, &b.DueAmount, &b.Status, &b.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(row scanner) (leasing.Property, error) {
	var p leasing.Property
	err := row.Scan(&p.ID, &p.Title, &p.Address.Street, &p.Address.City, &p.Address.State,
		&p.Address.Zip, &p.Address.Apt, &p.OwnerID, &p.MonthlyRent, &p.Status)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("failed to scan property: %w", err)
	}
	return p, err
}

func scanTenant(row scanner) (leasing.Tenant, error) {
	var (
		t          leasing.Tenant
		email      sql.NullString
		propertyID sql.NullString
		policyJSON sql.NullString
	)
	err := row.Scan(&t.ID, &t.FullName, &email, &t.Phone, &propertyID, &t.LeaseStart, &t.LeaseEnd,
		&t.MonthlyRent, &t.PaymentDay, &t.Status, &policyJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan tenant: %w", err)
	}
	t.Email = email.String
	t.PropertyID = leasing.PropertyID(propertyID.String)
	if policyJSON.Valid && policyJSON.String != "" {
		var p policy.Policy
		if err := json.Unmarshal([]byte(policyJSON.String), &p); err != nil {
			return t, fmt.Errorf("failed to decode policy for tenant %s: %w", t.ID, err)
		}
		t.Policy = &p
	}
	return t, nil
}

func scanPayment(row scanner) (leasing.Payment, error) {
	var (
		p          leasing.Payment
		propertyID sql.NullString
	)
	err := row.Scan(&p.ID, &p.TenantID, &propertyID, &p.Date, &p.Amount, &p.Method, &p.Memo,
		&p.AppliesTo, &p.Unapplied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.PropertyID = leasing.PropertyID(propertyID.String)
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodePolicy(p *policy.Policy) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode policy: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return leasing.Errorf(leasing.ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
