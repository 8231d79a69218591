/*
aggregate.go - Rent roll, outstanding balance view, portfolio statistics

PURPOSE:
  Read-side views composed from store records plus schedule and reconciliation
  derivations. Every function here is pure: callers load the records once and
  pass them in together with today.

ROUNDING:
  Money totals are rounded only when presented. Rates are percentages rounded
  to one decimal.

SEE ALSO:
  - service/reports.go: loads records and calls these builders
*/
package leasing

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// =============================================================================
// RENT ROLL
// =============================================================================

type RentRollEntry struct {
	TenantID      TenantID        `json:"tenant_id"`
	TenantName    string          `json:"tenant_name"`
	Email         string          `json:"email,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	PropertyID    PropertyID      `json:"property_id"`
	PropertyTitle string          `json:"property_title"`
	Address       string          `json:"address"`
	Lease         calendar.Period `json:"lease"`
	LeaseStatus   LeaseStatus     `json:"lease_status"`
	MonthlyRent   money.Money     `json:"monthly_rent"`
	NextPayment   NextPayment     `json:"next_payment"`
}

// BuildRentRoll emits one entry per tenant with a property, ordered by tenant id.
func BuildRentRoll(tenants []Tenant, properties []Property, pol policy.Policy, today calendar.Date) ([]RentRollEntry, error) {
	props := indexProperties(properties)
	entries := make([]RentRollEntry, 0, len(tenants))
	for _, t := range tenants {
		if !t.HasProperty() {
			continue
		}
		prop := props[t.PropertyID]
		entry := RentRollEntry{
			TenantID:      t.ID,
			TenantName:    t.FullName,
			Email:         t.Email,
			Phone:         t.Phone,
			PropertyID:    t.PropertyID,
			PropertyTitle: prop.Title,
			Address:       prop.Address.String(),
			Lease:         t.Lease(),
			LeaseStatus:   DeriveStatus(t, today),
			MonthlyRent:   t.MonthlyRent,
		}
		sched, err := NewSchedule(ScheduleInputFor(t, pol))
		if err != nil {
			return nil, err
		}
		entry.NextPayment = sched.NextPayment(today)
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TenantID < entries[j].TenantID })
	return entries, nil
}

// =============================================================================
// OUTSTANDING BALANCES VIEW
// =============================================================================

type OutstandingView struct {
	OutstandingBalance
	TenantName    string      `json:"tenant_name"`
	PropertyTitle string      `json:"property_title"`
	DaysOverdue   int         `json:"days_overdue"`
	LeaseStatus   LeaseStatus `json:"lease_status"`
}

// BuildOutstandingView joins balances with their tenant and property.
func BuildOutstandingView(balances []OutstandingBalance, tenants []Tenant, properties []Property, includeResolved bool, today calendar.Date) []OutstandingView {
	props := indexProperties(properties)
	byTenant := make(map[TenantID]Tenant, len(tenants))
	for _, t := range tenants {
		byTenant[t.ID] = t
	}

	out := make([]OutstandingView, 0, len(balances))
	for _, b := range balances {
		if b.Resolved && !includeResolved {
			continue
		}
		t := byTenant[b.TenantID]
		overdue := b.DueDate.DaysUntil(today)
		if overdue < 0 {
			overdue = 0
		}
		out = append(out, OutstandingView{
			OutstandingBalance: b,
			TenantName:         t.FullName,
			PropertyTitle:      props[b.PropertyID].Title,
			DaysOverdue:        overdue,
			LeaseStatus:        DeriveStatus(t, today),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].DueDate.Compare(out[j].DueDate); c != 0 {
			return c < 0
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

// =============================================================================
// STATISTICS
// =============================================================================

// StatisticsInput is everything the statistics builder reads.
type StatisticsInput struct {
	PeriodStart calendar.Date
	PeriodEnd   calendar.Date
	Today       calendar.Date
	Months      int

	Properties  []Property
	Tenants     []Tenant
	Payments    []Payment
	Obligations []Obligation
	Balances    []OutstandingBalance
}

type MonthlyRevenue struct {
	Month          string      `json:"month"`
	Collected      money.Money `json:"collected"`
	Scheduled      money.Money `json:"scheduled"`
	Revenue        money.Money `json:"revenue"`
	Source         string      `json:"source"`
	CollectionRate float64     `json:"collection_rate"`
}

type Statistics struct {
	PeriodStart        calendar.Date    `json:"period_start"`
	PeriodEnd          calendar.Date    `json:"period_end"`
	PropertyCount      int              `json:"property_count"`
	OccupiedProperties int              `json:"occupied_properties"`
	ActiveTenants      int              `json:"active_tenants"`
	TotalMonthlyRent   money.Money      `json:"total_monthly_rent"`
	OccupancyRate      float64          `json:"occupancy_rate"`
	TotalCollected     money.Money      `json:"total_collected"`
	TotalScheduled     money.Money      `json:"total_scheduled"`
	CollectionRate     float64          `json:"collection_rate"`
	TotalOutstanding   money.Money      `json:"total_outstanding"`
	MonthlyRevenue     []MonthlyRevenue `json:"monthly_revenue"`
}

// DefaultRevenueMonths is the series length when none is requested.
const DefaultRevenueMonths = 6

// BuildStatistics computes portfolio statistics for [PeriodStart, PeriodEnd].
// Occupancy and total rent are measured as of Today.
func BuildStatistics(in StatisticsInput) Statistics {
	st := Statistics{
		PeriodStart:      in.PeriodStart,
		PeriodEnd:        in.PeriodEnd,
		PropertyCount:    len(in.Properties),
		TotalMonthlyRent: money.Zero,
		TotalCollected:   money.Zero,
		TotalScheduled:   money.Zero,
		TotalOutstanding: money.Zero,
	}

	occupied := make(map[PropertyID]bool)
	for _, t := range in.Tenants {
		if DeriveStatus(t, in.Today) != LeaseActive {
			continue
		}
		st.ActiveTenants++
		st.TotalMonthlyRent = st.TotalMonthlyRent.Add(t.MonthlyRent)
		occupied[t.PropertyID] = true
	}
	st.OccupiedProperties = len(occupied)
	st.OccupancyRate = Percent(int64(st.ActiveTenants), int64(st.PropertyCount))

	window := calendar.Period{Start: in.PeriodStart, End: in.PeriodEnd}
	for _, p := range in.Payments {
		if window.Contains(p.Date) {
			st.TotalCollected = st.TotalCollected.Add(p.Amount)
		}
	}
	for _, ob := range in.Obligations {
		if window.Contains(ob.DueDate) {
			st.TotalScheduled = st.TotalScheduled.Add(ob.AmountDue)
		}
	}
	st.CollectionRate = PercentMoney(st.TotalCollected, st.TotalScheduled)

	for _, b := range in.Balances {
		if !b.Resolved {
			st.TotalOutstanding = st.TotalOutstanding.Add(b.DueAmount)
		}
	}

	months := in.Months
	if months <= 0 {
		months = DefaultRevenueMonths
	}
	last := in.PeriodEnd.YearMonth()
	for i := months - 1; i >= 0; i-- {
		st.MonthlyRevenue = append(st.MonthlyRevenue, monthlyRevenue(last.Add(-i), in.Payments, in.Obligations))
	}

	st.TotalMonthlyRent = st.TotalMonthlyRent.Round()
	st.TotalCollected = st.TotalCollected.Round()
	st.TotalScheduled = st.TotalScheduled.Round()
	st.TotalOutstanding = st.TotalOutstanding.Round()
	return st
}

func monthlyRevenue(ym calendar.YearMonth, payments []Payment, obligations []Obligation) MonthlyRevenue {
	window := ym.Period()
	collected, scheduled := money.Zero, money.Zero
	paid := false
	for _, p := range payments {
		if window.Contains(p.Date) {
			collected = collected.Add(p.Amount)
			paid = true
		}
	}
	for _, ob := range obligations {
		if window.Contains(ob.DueDate) {
			scheduled = scheduled.Add(ob.AmountDue)
		}
	}
	mr := MonthlyRevenue{
		Month:          ym.String(),
		Collected:      collected.Round(),
		Scheduled:      scheduled.Round(),
		Revenue:        collected.Round(),
		Source:         "payments",
		CollectionRate: PercentMoney(collected, scheduled),
	}
	if !paid {
		mr.Revenue = scheduled.Round()
		mr.Source = "scheduled"
	}
	return mr
}

// Percent returns num/den*100 rounded to one decimal, 0 when den is 0.
func Percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(num).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(den)).Round(1).Float64()
	return f
}

// PercentMoney is Percent over money amounts.
func PercentMoney(num, den money.Money) float64 {
	if den.IsZero() {
		return 0
	}
	f, _ := num.Decimal().Mul(decimal.NewFromInt(100)).Div(den.Decimal()).Round(1).Float64()
	return f
}

func indexProperties(ps []Property) map[PropertyID]Property {
	m := make(map[PropertyID]Property, len(ps))
	for _, p := range ps {
		m[p.ID] = p
	}
	return m
}
