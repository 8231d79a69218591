/*
proration.go - First-period proration for mid-cycle move-ins

PURPOSE:
  A tenant rarely moves in on their payment day. The first obligation covers the
  days from lease start up to a payment day and is charged at a daily rate.

RULES:
  Let M be the lease-start month, D its day, P the payment day.

  span-to-next-payday (default):
    D <= P: period [start, due(M)], billed P-D+1 days, daily = rent / days(M),
            next full due = due(M+1)
    D >  P: period [start, due(M+1)], billed (days(M)-D+1) + due(M+1).day,
            daily = rent / ((days(M) + days(M+1)) / 2), next full due = due(M+2)

  same-month-to-payday:
    Identical periods, but the daily rate always uses days(M) alone.

  due(X) is the clamped due date: P, or the last day of X when X is shorter.

ROUNDING:
  The daily rate is kept unrounded. Only the prorated amount is rounded, once.

EXAMPLE:
  rent 1500, start 2025-03-10, P = 1 (span rule)
    D > P -> period 2025-03-10..2025-04-01, 22 + 1 = 23 days
    daily = 1500 / 30.5 = 49.1803...
    amount = 1131.15, next full due 2025-05-01

SEE ALSO:
  - leasing/schedule.go: uses the result as the first obligation
*/
package calendar

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/money"
)

// ProrationRule selects how the first-period daily rate is derived.
type ProrationRule string

const (
	RuleSpanToNextPayday  ProrationRule = "span-to-next-payday"
	RuleSameMonthToPayday ProrationRule = "same-month-to-payday"
)

// Valid reports whether r names a known rule. The empty rule means the default.
func (r ProrationRule) Valid() bool {
	switch r {
	case "", RuleSpanToNextPayday, RuleSameMonthToPayday:
		return true
	}
	return false
}

var (
	// ErrInvalidPaymentDay is returned when a payment day is outside 1..31.
	ErrInvalidPaymentDay = errors.New("payment day must be between 1 and 31")

	// ErrNegativeRent is returned when the monthly rent is below zero.
	ErrNegativeRent = errors.New("monthly rent must not be negative")

	// ErrUnknownRule is returned for an unrecognized proration rule.
	ErrUnknownRule = errors.New("unknown proration rule")
)

// ValidatePaymentDay checks the 1..31 range.
func ValidatePaymentDay(day int) error {
	if day < 1 || day > 31 {
		return fmt.Errorf("%w: got %d", ErrInvalidPaymentDay, day)
	}
	return nil
}

// ProrationResult describes the first billing period of a lease.
type ProrationResult struct {
	Rule            ProrationRule   `json:"rule"`
	Period          Period          `json:"period"`
	DueDate         Date            `json:"due_date"`
	ProratedAmount  money.Money     `json:"prorated_amount"`
	DaysInMonth     int             `json:"days_in_month"`
	RateBasisDays   decimal.Decimal `json:"rate_basis_days"`
	DaysBilled      int             `json:"days_billed"`
	DailyRate       money.Money     `json:"daily_rate"`
	NextFullDueDate Date            `json:"next_full_due_date"`
	Memo            string          `json:"memo"`
}

// ComputeProratedFirstPeriod applies the proration rule to a lease start.
func ComputeProratedFirstPeriod(rent money.Money, leaseStart Date, paymentDay int, rule ProrationRule) (ProrationResult, error) {
	if err := ValidatePaymentDay(paymentDay); err != nil {
		return ProrationResult{}, err
	}
	if rent.IsNegative() {
		return ProrationResult{}, fmt.Errorf("%w: %s", ErrNegativeRent, rent)
	}
	if !rule.Valid() {
		return ProrationResult{}, fmt.Errorf("%w: %q", ErrUnknownRule, rule)
	}
	if rule == "" {
		rule = RuleSpanToNextPayday
	}

	month := leaseStart.YearMonth()
	dim := month.Days()
	dueThisMonth := DueDateIn(month, paymentDay)

	res := ProrationResult{Rule: rule, DaysInMonth: dim}

	if leaseStart.Day() <= dueThisMonth.Day() {
		res.DueDate = dueThisMonth
		res.DaysBilled = dueThisMonth.Day() - leaseStart.Day() + 1
		res.RateBasisDays = decimal.NewFromInt(int64(dim))
		res.NextFullDueDate = DueDateIn(month.Add(1), paymentDay)
	} else {
		next := month.Add(1)
		dueNext := DueDateIn(next, paymentDay)
		res.DueDate = dueNext
		res.DaysBilled = (dim - leaseStart.Day() + 1) + dueNext.Day()
		res.NextFullDueDate = DueDateIn(month.Add(2), paymentDay)
		switch rule {
		case RuleSameMonthToPayday:
			res.RateBasisDays = decimal.NewFromInt(int64(dim))
		default:
			res.RateBasisDays = decimal.NewFromInt(int64(dim + next.Days())).Div(decimal.NewFromInt(2))
		}
	}

	res.Period = Period{Start: leaseStart, End: res.DueDate}
	res.DailyRate = rent.Div(res.RateBasisDays)
	res.ProratedAmount = res.DailyRate.MulInt(res.DaysBilled).Round()
	res.Memo = fmt.Sprintf("Prorated rent for %d days (%s) at %s/day",
		res.DaysBilled, res.Period, res.DailyRate.Round())
	return res, nil
}

// DailyAmount prices a number of days at rent / days(month), rounded once.
func DailyAmount(rent money.Money, month YearMonth, days int) money.Money {
	return rent.DivInt(month.Days()).MulInt(days).Round()
}
