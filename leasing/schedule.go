/*
schedule.go - Rent schedule generation and next-payment projection

PURPOSE:
  From a tenant's lease terms and a policy snapshot, produce the ordered
  obligations the tenant owes: a prorated first period, then one full month per
  cycle, with the last period prorated down if the lease ends mid-cycle.

PERIODS:
  Each obligation's period ends on its due date. Consecutive periods are
  contiguous, so together they cover [lease start, lease end] exactly:

    start 2025-03-10, P = 1
      #0  2025-03-10..2025-04-01  due 04-01  prorated (23 days)
      #1  2025-04-02..2025-05-01  due 05-01  1500.00
      #2  2025-05-02..2025-06-01  due 06-01  1500.00
      ...

  The final period is clipped at lease end, due on lease end, and charged
  rent * days / days_in_month(lease end month).

RESTARTABLE:
  Next(prev) derives the following obligation from the previous one alone, so a
  caller may resume iteration from any persisted obligation.

DETERMINISM:
  No clock reads. The same ScheduleInput always yields the same obligations.

SEE ALSO:
  - calendar/proration.go: first period
  - reconcile.go: consumes obligations
*/
package leasing

import (
	"fmt"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// =============================================================================
// OBLIGATION
// =============================================================================

// Obligation is one scheduled rent payment. Its billing cycle is the month of
// DueDate.
type Obligation struct {
	TenantID   TenantID        `json:"tenant_id"`
	PropertyID PropertyID      `json:"property_id"`
	Seq        int             `json:"seq"`
	Period     calendar.Period `json:"period"`
	DueDate    calendar.Date   `json:"due_date"`
	AmountDue  money.Money     `json:"amount_due"`
	IsProrated bool            `json:"is_prorated"`
	Memo       string          `json:"memo"`
}

// =============================================================================
// SCHEDULE
// =============================================================================

// ScheduleInput is the tenant snapshot the generator reads.
type ScheduleInput struct {
	TenantID    TenantID
	PropertyID  PropertyID
	LeaseStart  calendar.Date
	LeaseEnd    calendar.Date // zero: open-ended
	MonthlyRent money.Money
	PaymentDay  int
	Policy      policy.Policy
}

// ScheduleInputFor snapshots a tenant. fallback is used when the tenant carries
// no policy snapshot of its own.
func ScheduleInputFor(t Tenant, fallback policy.Policy) ScheduleInput {
	pol := t.PolicyOr(fallback)
	return ScheduleInput{
		TenantID:    t.ID,
		PropertyID:  t.PropertyID,
		LeaseStart:  t.LeaseStart,
		LeaseEnd:    t.LeaseEnd,
		MonthlyRent: t.MonthlyRent,
		PaymentDay:  pol.PaymentDayOr(t.PaymentDay),
		Policy:      pol,
	}
}

// Schedule generates obligations for one lease.
type Schedule struct {
	in    ScheduleInput
	first calendar.ProrationResult
}

// NewSchedule validates the input and computes the first period.
func NewSchedule(in ScheduleInput) (*Schedule, error) {
	if in.PropertyID == "" {
		return nil, Errorf(ErrInvalidInput, "tenant %s has no property", in.TenantID)
	}
	if in.LeaseStart.IsZero() {
		return nil, Errorf(ErrInvalidLeaseDates, "tenant %s has no lease start", in.TenantID)
	}
	if !in.LeaseEnd.IsZero() && in.LeaseEnd.Before(in.LeaseStart) {
		return nil, Errorf(ErrInvalidLeaseDates, "lease_start %s is after lease_end %s", in.LeaseStart, in.LeaseEnd)
	}
	if in.MonthlyRent.IsNegative() {
		return nil, Errorf(ErrInvalidAmount, "monthly rent %s is negative", in.MonthlyRent)
	}
	first, err := calendar.ComputeProratedFirstPeriod(in.MonthlyRent, in.LeaseStart, in.PaymentDay, in.Policy.ProrationRule)
	if err != nil {
		return nil, Normalize(err)
	}
	return &Schedule{in: in, first: first}, nil
}

// Input returns the snapshot the schedule was built from.
func (s *Schedule) Input() ScheduleInput { return s.in }

// Proration returns the first-period computation.
func (s *Schedule) Proration() calendar.ProrationResult { return s.first }

// Policy returns the policy snapshot attached to this schedule.
func (s *Schedule) Policy() policy.Policy { return s.in.Policy }

// First returns the first obligation.
func (s *Schedule) First() Obligation {
	ob := Obligation{
		TenantID:   s.in.TenantID,
		PropertyID: s.in.PropertyID,
		Seq:        0,
		Period:     s.first.Period,
		DueDate:    s.first.DueDate,
		AmountDue:  s.first.ProratedAmount,
		IsProrated: true,
		Memo:       s.first.Memo,
	}
	if !s.in.LeaseEnd.IsZero() && s.in.LeaseEnd.Before(ob.Period.End) {
		ob.Period.End = s.in.LeaseEnd
		ob.DueDate = s.in.LeaseEnd
		days := ob.Period.Days()
		ob.AmountDue = s.first.DailyRate.MulInt(days).Round()
		ob.Memo = fmt.Sprintf("Prorated rent for %d days (%s), lease ends before the first payment day", days, ob.Period)
	}
	return ob
}

// Next returns the obligation after prev, or false when the lease is exhausted.
func (s *Schedule) Next(prev Obligation) (Obligation, bool) {
	if !s.in.LeaseEnd.IsZero() && !prev.Period.End.Before(s.in.LeaseEnd) {
		return Obligation{}, false
	}

	cycle := prev.DueDate.YearMonth().Add(1)
	due := calendar.DueDateIn(cycle, s.in.PaymentDay)
	ob := Obligation{
		TenantID:   s.in.TenantID,
		PropertyID: s.in.PropertyID,
		Seq:        prev.Seq + 1,
		Period:     calendar.Period{Start: prev.Period.End.AddDays(1), End: due},
		DueDate:    due,
		AmountDue:  s.in.MonthlyRent.Round(),
		Memo:       fmt.Sprintf("Rent for %s", cycle),
	}

	if !s.in.LeaseEnd.IsZero() && s.in.LeaseEnd.Before(due) {
		end := s.in.LeaseEnd
		ob.Period.End = end
		ob.DueDate = end
		ob.IsProrated = true
		days := ob.Period.Days()
		ob.AmountDue = calendar.DailyAmount(s.in.MonthlyRent, end.YearMonth(), days)
		ob.Memo = fmt.Sprintf("Final prorated rent for %d days (%s)", days, ob.Period)
	}
	return ob, true
}

// Through returns every obligation whose period starts on or before end.
func (s *Schedule) Through(end calendar.Date) []Obligation {
	var out []Obligation
	ob := s.First()
	for ob.Period.Start.BeforeOrEqual(end) {
		out = append(out, ob)
		next, ok := s.Next(ob)
		if !ok {
			break
		}
		ob = next
	}
	return out
}

// All returns the full schedule. Open-ended leases have no end; use Through.
func (s *Schedule) All() ([]Obligation, error) {
	if s.in.LeaseEnd.IsZero() {
		return nil, Errorf(ErrInvalidInput, "lease for tenant %s is open-ended", s.in.TenantID)
	}
	return s.Through(s.in.LeaseEnd), nil
}

// =============================================================================
// PROJECTION
// =============================================================================

const (
	LabelDueToday     = "DUE TODAY"
	LabelDueTomorrow  = "DUE TOMORROW"
	LabelLeaseExpired = "LEASE EXPIRED"
)

// NextPayment is the rent-roll projection for one tenant.
type NextPayment struct {
	DueDate    calendar.Date `json:"due_date"`
	Amount     money.Money   `json:"amount"`
	IsProrated bool          `json:"is_prorated"`
	Label      string        `json:"label"`
	DaysUntil  int           `json:"days_until"`
}

// DueLabel renders the human label for a due date relative to today.
func DueLabel(due, today calendar.Date) string {
	switch n := today.DaysUntil(due); n {
	case 0:
		return LabelDueToday
	case 1:
		return LabelDueTomorrow
	default:
		return fmt.Sprintf("DUE IN %d DAYS", n)
	}
}

// NextPayment returns the first obligation due on or after today.
func (s *Schedule) NextPayment(today calendar.Date) NextPayment {
	if !s.in.LeaseEnd.IsZero() && today.After(s.in.LeaseEnd) {
		return NextPayment{Label: LabelLeaseExpired}
	}
	ob := s.First()
	for ob.DueDate.Before(today) {
		next, ok := s.Next(ob)
		if !ok {
			return NextPayment{Label: LabelLeaseExpired}
		}
		ob = next
	}
	return NextPayment{
		DueDate:    ob.DueDate,
		Amount:     ob.AmountDue,
		IsProrated: ob.IsProrated,
		Label:      DueLabel(ob.DueDate, today),
		DaysUntil:  today.DaysUntil(ob.DueDate),
	}
}
