/*
Package leasing is the leasing and rent computation core.

PURPOSE:
  Turns a tenant's occupancy of a property into a sequence of due-dated rent
  obligations, reconciles recorded payments against them, and derives the
  rent roll, outstanding balances and portfolio statistics.

KEY CONCEPTS IN THIS FILE (types.go):
  - Property:           a rentable unit with a monthly rent and availability status
  - Tenant:             a person, optionally attached to a property for a lease interval
  - Payment:            an immutable ledger entry of money received
  - OutstandingBalance: materialized view of an obligation that is not yet paid
  - PropertyStatusChange: audit trail of availability changes

OWNERSHIP:
  Records reference each other by identifier only. All persistence goes through
  Store (store.go); nothing in this package holds back-pointers between records.

SEE ALSO:
  - lifecycle.go:  tenant states and property-status coupling
  - schedule.go:   obligation generation and next-payment projection
  - reconcile.go:  payment application and outstanding balances
  - aggregate.go:  rent roll and statistics
*/
package leasing

import (
	"strings"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PropertyID string
type TenantID string
type PaymentID string
type BalanceID string

// =============================================================================
// PROPERTY
// =============================================================================

type PropertyStatus string

const (
	PropertyAvailable   PropertyStatus = "available"
	PropertyOccupied    PropertyStatus = "occupied"
	PropertyMaintenance PropertyStatus = "maintenance"
)

func (s PropertyStatus) Valid() bool {
	switch s {
	case PropertyAvailable, PropertyOccupied, PropertyMaintenance:
		return true
	}
	return false
}

type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
	Apt    string `json:"apt,omitempty"`
}

// String renders a single-line mailing address.
func (a Address) String() string {
	street := a.Street
	if a.Apt != "" {
		street += " Apt " + a.Apt
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{street, a.City, strings.TrimSpace(a.State + " " + a.Zip)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type Property struct {
	ID          PropertyID     `json:"id"`
	Title       string         `json:"title"`
	Address     Address        `json:"address"`
	OwnerID     string         `json:"owner_id"`
	MonthlyRent money.Money    `json:"monthly_rent"`
	Status      PropertyStatus `json:"status"`
}

// PropertyStatusChange is one entry of a property's availability audit trail.
type PropertyStatusChange struct {
	ID         int64          `json:"id"`
	PropertyID PropertyID     `json:"property_id"`
	From       PropertyStatus `json:"from"`
	To         PropertyStatus `json:"to"`
	Reason     string         `json:"reason"`
	On         calendar.Date  `json:"on"`
}

// =============================================================================
// TENANT
// =============================================================================

// LeaseStatus is the tenant's payment-status tag.
type LeaseStatus string

const (
	LeaseFuture   LeaseStatus = "future"
	LeaseActive   LeaseStatus = "active"
	LeaseExpired  LeaseStatus = "expired"
	LeaseInactive LeaseStatus = "inactive"
)

// Tenant is a renter. A zero PropertyID means "not attached"; zero dates mean "unset".
// An unset LeaseEnd is an open-ended lease.
type Tenant struct {
	ID          TenantID       `json:"id"`
	FullName    string         `json:"full_name"`
	Email       string         `json:"email,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	PropertyID  PropertyID     `json:"property_id,omitempty"`
	LeaseStart  calendar.Date  `json:"lease_start"`
	LeaseEnd    calendar.Date  `json:"lease_end"`
	MonthlyRent money.Money    `json:"monthly_rent"`
	PaymentDay  int            `json:"rent_payment_day"`
	Status      LeaseStatus    `json:"payment_status"`
	Policy      *policy.Policy `json:"policy,omitempty"`
}

func (t Tenant) HasProperty() bool { return t.PropertyID != "" }

// Lease returns the lease interval. For open-ended leases End is zero.
func (t Tenant) Lease() calendar.Period {
	return calendar.Period{Start: t.LeaseStart, End: t.LeaseEnd}
}

// PolicyOr returns the tenant's policy snapshot, or fallback if none was taken.
func (t Tenant) PolicyOr(fallback policy.Policy) policy.Policy {
	if t.Policy != nil {
		return *t.Policy
	}
	return fallback
}

// NormalizeEmail lowercases and trims; uniqueness is checked on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodCheck PaymentMethod = "check"
	MethodACH   PaymentMethod = "ach"
	MethodCard  PaymentMethod = "card"
	MethodOther PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodACH, MethodCard, MethodOther:
		return true
	}
	return false
}

// Payment is money received from a tenant. AppliesTo, when set, names the due
// date of the obligation the payment was explicitly applied to; otherwise the
// payment is applied oldest-obligation-first.
type Payment struct {
	ID         PaymentID     `json:"id"`
	TenantID   TenantID      `json:"tenant_id"`
	PropertyID PropertyID    `json:"property_id,omitempty"`
	Date       calendar.Date `json:"date"`
	Amount     money.Money   `json:"amount"`
	Method     PaymentMethod `json:"method"`
	Memo       string        `json:"memo,omitempty"`
	AppliesTo  calendar.Date `json:"applies_to,omitempty"`
	Unapplied  bool          `json:"unapplied"`
}

// PaymentFilter narrows ListPayments. Zero fields match everything.
type PaymentFilter struct {
	TenantID   TenantID
	PropertyID PropertyID
	From       calendar.Date
	To         calendar.Date
}

func (f PaymentFilter) Match(p Payment) bool {
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.PropertyID != "" && p.PropertyID != f.PropertyID {
		return false
	}
	if !f.From.IsZero() && p.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && p.Date.After(f.To) {
		return false
	}
	return true
}

// =============================================================================
// OUTSTANDING BALANCE
// =============================================================================

// OutstandingBalance is keyed by (TenantID, DueDate). DueAmount is what was still
// owed when the row was last materialized.
type OutstandingBalance struct {
	ID         BalanceID        `json:"id"`
	TenantID   TenantID         `json:"tenant_id"`
	PropertyID PropertyID       `json:"property_id"`
	DueDate    calendar.Date    `json:"due_date"`
	AmountDue  money.Money      `json:"amount_due"`
	LateFee    money.Money      `json:"late_fee"`
	DueAmount  money.Money      `json:"due_amount"`
	Status     ObligationStatus `json:"status"`
	Resolved   bool             `json:"resolved"`
}

// BalanceIDFor derives the stable row identifier.
func BalanceIDFor(tenant TenantID, due calendar.Date) BalanceID {
	return BalanceID(string(tenant) + ":" + due.String())
}

// BalanceFilter narrows ListOutstandingBalances.
type BalanceFilter struct {
	TenantID        TenantID
	PropertyID      PropertyID
	IncludeResolved bool
}

func (f BalanceFilter) Match(b OutstandingBalance) bool {
	if f.TenantID != "" && b.TenantID != f.TenantID {
		return false
	}
	if f.PropertyID != "" && b.PropertyID != f.PropertyID {
		return false
	}
	return f.IncludeResolved || !b.Resolved
}
