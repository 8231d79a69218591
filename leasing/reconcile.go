/*
reconcile.go - Payment application and outstanding balances

PURPOSE:
  Applies a tenant's recorded payments to the obligations of their schedule and
  derives each obligation's status. The result is a pure function of
  (schedule, payments, today): running it twice gives identical output.

APPLICATION ORDER:
  1. Explicit payments (Payment.AppliesTo set) go to the named obligation's rent,
     capped at what it still owes. The payment named by Reconciler.Check is
     applied last and is rejected with ErrOverApplication when it exceeds the
     remainder by more than 0.01.
  2. Remaining payments and the excess of capped explicit ones, by (date, id),
     fill obligation rent oldest-first. Overflow cascades to the next
     obligation, including future ones.
  3. Late fees are assessed on obligations whose rent was not covered by
     payments dated on or before due + grace, once today is past that cutoff.
  4. Whatever is left over pays late fees oldest-first, then stays as credit.

STATUS (ε = 0.01):
  paid     applied >= rent + fee - ε
  late     not paid and today > due + grace
  partial  0 < applied
  unpaid   otherwise

EXAMPLE:
  Obligations (06-01, 1500), (07-01, 1500); one payment of 2200
    06-01: applied 1500  paid
    07-01: applied  700  partial, 800 outstanding

SEE ALSO:
  - schedule.go: obligation source
  - service/payments.go: recording payments, recomputing balances
*/
package leasing

import (
	"sort"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/money"
)

// maxExtension bounds schedule growth while distributing prepayments.
const maxExtension = 1200

type ObligationStatus string

const (
	StatusPaid    ObligationStatus = "paid"
	StatusPartial ObligationStatus = "partial"
	StatusUnpaid  ObligationStatus = "unpaid"
	StatusLate    ObligationStatus = "late"
)

// Application is the part of one payment applied to one obligation.
type Application struct {
	PaymentID PaymentID     `json:"payment_id"`
	Date      calendar.Date `json:"date"`
	Amount    money.Money   `json:"amount"`
	Explicit  bool          `json:"explicit"`
}

// ObligationState is an obligation with its reconciliation outcome.
type ObligationState struct {
	Obligation
	LateFee      money.Money      `json:"late_fee"`
	Applied      money.Money      `json:"applied"`
	Remaining    money.Money      `json:"remaining"`
	Status       ObligationStatus `json:"status"`
	Applications []Application    `json:"applications"`

	rentApplied money.Money
	feeApplied  money.Money
}

func (s *ObligationState) rentRemaining() money.Money {
	return s.AmountDue.Sub(s.rentApplied).Max(money.Zero)
}

func (s *ObligationState) feeRemaining() money.Money {
	return s.LateFee.Sub(s.feeApplied).Max(money.Zero)
}

// Owed is rent plus any assessed late fee.
func (s *ObligationState) Owed() money.Money { return s.AmountDue.Add(s.LateFee) }

// Reconciliation is the outcome for one tenant.
type Reconciliation struct {
	TenantID    TenantID          `json:"tenant_id"`
	Obligations []ObligationState `json:"obligations"`
	Credit      money.Money       `json:"credit"`
}

// Find returns the state of the obligation due on d.
func (r *Reconciliation) Find(d calendar.Date) (ObligationState, bool) {
	for _, s := range r.Obligations {
		if s.DueDate.Equal(d) {
			return s, true
		}
	}
	return ObligationState{}, false
}

// DueThrough returns obligations due on or before d.
func (r *Reconciliation) DueThrough(d calendar.Date) []ObligationState {
	var out []ObligationState
	for _, s := range r.Obligations {
		if s.DueDate.BeforeOrEqual(d) {
			out = append(out, s)
		}
	}
	return out
}

// Outstanding sums what is still owed on obligations due on or before d.
func (r *Reconciliation) Outstanding(d calendar.Date) money.Money {
	total := money.Zero
	for _, s := range r.DueThrough(d) {
		total = total.Add(s.Remaining)
	}
	return total
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler applies payments to one schedule as of Today.
type Reconciler struct {
	Schedule *Schedule
	Today    calendar.Date
	// Check is the payment whose explicit application is being created.
	// Other explicit applications were accepted earlier and are only capped.
	Check PaymentID
}

// Reconcile runs the application passes described above.
func (rc *Reconciler) Reconcile(payments []Payment) (*Reconciliation, error) {
	sorted := append([]Payment(nil), payments...)
	sortPayments(sorted)

	horizon := rc.Today
	for _, p := range sorted {
		horizon = calendar.MaxDate(horizon, p.Date)
		horizon = calendar.MaxDate(horizon, p.AppliesTo)
	}

	states := make([]*ObligationState, 0)
	for _, ob := range rc.Schedule.Through(horizon) {
		states = append(states, &ObligationState{Obligation: ob})
	}
	extend := func() bool {
		if len(states) == 0 {
			states = append(states, &ObligationState{Obligation: rc.Schedule.First()})
			return true
		}
		if len(states) >= maxExtension {
			return false
		}
		next, ok := rc.Schedule.Next(states[len(states)-1].Obligation)
		if !ok || next.AmountDue.IsZero() {
			return false
		}
		states = append(states, &ObligationState{Obligation: next})
		return true
	}

	// Pass 1: explicit applications.
	excess := make(map[PaymentID]money.Money)
	var checked *Payment
	for i := range sorted {
		p := sorted[i]
		if p.AppliesTo.IsZero() {
			continue
		}
		if rc.Check != "" && p.ID == rc.Check {
			checked = &sorted[i]
			continue
		}
		target := findState(states, p.AppliesTo)
		if target == nil {
			excess[p.ID] = p.Amount
			continue
		}
		take := p.Amount.Min(target.rentRemaining())
		if take.IsPositive() {
			target.apply(p, take, true, false)
		}
		excess[p.ID] = p.Amount.Sub(take)
	}
	if checked != nil {
		target := findState(states, checked.AppliesTo)
		if target == nil {
			return nil, Errorf(ErrNotFound, "no obligation due %s for tenant %s", checked.AppliesTo, rc.Schedule.in.TenantID)
		}
		remaining := target.rentRemaining()
		if checked.Amount.Sub(remaining).GreaterThan(money.Epsilon) {
			return nil, Errorf(ErrOverApplication, "payment %s of %s exceeds %s owed on obligation due %s",
				checked.ID, checked.Amount, remaining, target.DueDate)
		}
		take := checked.Amount.Min(remaining)
		target.apply(*checked, take, true, false)
		excess[checked.ID] = checked.Amount.Sub(take)
	}

	// Pass 2: oldest-first for everything else.
	type leftover struct {
		payment Payment
		amount  money.Money
	}
	var credits []leftover
	for _, p := range sorted {
		left := p.Amount
		if !p.AppliesTo.IsZero() {
			left = excess[p.ID]
		}
		for i := 0; left.IsPositive(); i++ {
			if i == len(states) && !extend() {
				break
			}
			s := states[i]
			take := left.Min(s.rentRemaining())
			if !take.IsPositive() {
				continue
			}
			s.apply(p, take, false, false)
			left = left.Sub(take)
		}
		if left.IsPositive() {
			credits = append(credits, leftover{payment: p, amount: left})
		}
	}

	// Pass 3: late fees.
	pol := rc.Schedule.in.Policy
	if pol.LateFeeAmount.IsPositive() {
		for _, s := range states {
			cutoff := s.DueDate.AddDays(pol.GraceDays)
			if !rc.Today.After(cutoff) {
				continue
			}
			if s.rentPaidBy(cutoff).Add(money.Epsilon).LessThan(s.AmountDue) {
				s.LateFee = pol.LateFeeAmount
			}
		}
	}

	// Pass 4: leftovers pay fees, the rest is credit.
	credit := money.Zero
	for _, c := range credits {
		left := c.amount
		for _, s := range states {
			if !left.IsPositive() {
				break
			}
			take := left.Min(s.feeRemaining())
			if !take.IsPositive() {
				continue
			}
			s.apply(c.payment, take, false, true)
			left = left.Sub(take)
		}
		credit = credit.Add(left)
	}

	rec := &Reconciliation{TenantID: rc.Schedule.in.TenantID, Credit: credit}
	for _, s := range states {
		s.finish(rc.Today, pol.GraceDays)
		rec.Obligations = append(rec.Obligations, *s)
	}
	return rec, nil
}

func (s *ObligationState) apply(p Payment, amount money.Money, explicit, fee bool) {
	if fee {
		s.feeApplied = s.feeApplied.Add(amount)
	} else {
		s.rentApplied = s.rentApplied.Add(amount)
	}
	s.Applications = append(s.Applications, Application{
		PaymentID: p.ID,
		Date:      p.Date,
		Amount:    amount,
		Explicit:  explicit,
	})
}

func (s *ObligationState) rentPaidBy(d calendar.Date) money.Money {
	total := money.Zero
	for _, a := range s.Applications {
		if a.Date.BeforeOrEqual(d) {
			total = total.Add(a.Amount)
		}
	}
	return total.Min(s.AmountDue)
}

func (s *ObligationState) finish(today calendar.Date, graceDays int) {
	s.Applied = s.rentApplied.Add(s.feeApplied)
	s.Remaining = s.Owed().Sub(s.Applied).Max(money.Zero)
	switch {
	case s.Applied.Add(money.Epsilon).GreaterThanOrEqual(s.Owed()):
		s.Status = StatusPaid
		s.Remaining = money.Zero
	case today.After(s.DueDate.AddDays(graceDays)):
		s.Status = StatusLate
	case s.Applied.IsPositive():
		s.Status = StatusPartial
	default:
		s.Status = StatusUnpaid
	}
	if s.Applications == nil {
		s.Applications = []Application{}
	}
}

func findState(states []*ObligationState, due calendar.Date) *ObligationState {
	for _, s := range states {
		if s.DueDate.Equal(due) {
			return s
		}
	}
	return nil
}

func sortPayments(ps []Payment) {
	sort.SliceStable(ps, func(i, j int) bool {
		if c := ps[i].Date.Compare(ps[j].Date); c != 0 {
			return c < 0
		}
		return ps[i].ID < ps[j].ID
	})
}

// =============================================================================
// OUTSTANDING BALANCES
// =============================================================================

// OutstandingRows materializes balances for obligations due on or before today.
// Unpaid, partial and late obligations get an unresolved row carrying what is
// still owed. Paid obligations resolve an existing row and never create one.
// Rows for obligations no longer in the reconciliation are returned unchanged.
func OutstandingRows(rec *Reconciliation, existing []OutstandingBalance, today calendar.Date) []OutstandingBalance {
	byID := make(map[BalanceID]OutstandingBalance, len(existing))
	for _, b := range existing {
		byID[b.ID] = b
	}

	var rows []OutstandingBalance
	for _, s := range rec.DueThrough(today) {
		id := BalanceIDFor(rec.TenantID, s.DueDate)
		prev, had := byID[id]
		delete(byID, id)

		if s.Status == StatusPaid {
			if !had {
				continue
			}
			prev.Status = StatusPaid
			prev.Resolved = true
			prev.AmountDue = s.AmountDue
			prev.LateFee = s.LateFee
			rows = append(rows, prev)
			continue
		}
		rows = append(rows, OutstandingBalance{
			ID:         id,
			TenantID:   rec.TenantID,
			PropertyID: s.PropertyID,
			DueDate:    s.DueDate,
			AmountDue:  s.AmountDue,
			LateFee:    s.LateFee,
			DueAmount:  s.Remaining,
			Status:     s.Status,
			Resolved:   false,
		})
	}
	for _, b := range byID {
		rows = append(rows, b)
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].DueDate.Compare(rows[j].DueDate); c != 0 {
			return c < 0
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}
