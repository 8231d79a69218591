package leasing_test

import (
	"testing"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func scheduleInput(start, end string, rent string, paymentDay int) leasing.ScheduleInput {
	in := leasing.ScheduleInput{
		TenantID:    "ten_1",
		PropertyID:  "prop_1",
		LeaseStart:  calendar.MustDate(start),
		MonthlyRent: money.MustParse(rent),
		PaymentDay:  paymentDay,
		Policy:      policy.Default(),
	}
	if end != "" {
		in.LeaseEnd = calendar.MustDate(end)
	}
	return in
}

func mustSchedule(t *testing.T, in leasing.ScheduleInput) *leasing.Schedule {
	t.Helper()
	s, err := leasing.NewSchedule(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func mustAll(t *testing.T, s *leasing.Schedule) []leasing.Obligation {
	t.Helper()
	obs, err := s.All()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return obs
}

// =============================================================================
// FIRST PERIOD
// =============================================================================

func TestSchedule_MidMonthMoveIn(t *testing.T) {
	// GIVEN: rent 1500, payment day 1, lease 2025-03-10..2026-03-09
	// WHEN: Generating the schedule
	// THEN: First obligation is the 23-day prorated span to 04-01, then full months

	s := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))
	obs := mustAll(t, s)

	first := obs[0]
	if first.Period.String() != "2025-03-10..2025-04-01" {
		t.Errorf("expected first period 2025-03-10..2025-04-01, got %s", first.Period)
	}
	if first.AmountDue.String() != "1131.15" {
		t.Errorf("expected 1131.15, got %s", first.AmountDue)
	}
	if !first.IsProrated {
		t.Error("first obligation should be prorated")
	}

	second := obs[1]
	if second.DueDate != calendar.MustDate("2025-05-01") {
		t.Errorf("expected next full due 2025-05-01, got %s", second.DueDate)
	}
	if second.AmountDue.String() != "1500.00" || second.IsProrated {
		t.Errorf("expected full 1500.00, got %s (prorated=%v)", second.AmountDue, second.IsProrated)
	}
}

func TestSchedule_MoveInOnPaymentDay(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-07-15", "", "2000", 15))

	first := s.First()
	if first.Period.Days() != 1 {
		t.Errorf("expected 1 day billed, got %d", first.Period.Days())
	}
	if first.AmountDue.String() != "64.52" {
		t.Errorf("expected 64.52, got %s", first.AmountDue)
	}

	next, ok := s.Next(first)
	if !ok {
		t.Fatal("open-ended lease should continue")
	}
	if next.DueDate != calendar.MustDate("2025-08-15") || next.AmountDue.String() != "2000.00" {
		t.Errorf("expected 2000.00 due 2025-08-15, got %s due %s", next.AmountDue, next.DueDate)
	}
}

func TestSchedule_FebruaryClamping(t *testing.T) {
	// GIVEN: payment day 31 and a lease starting 2025-01-31
	// THEN: February is due on the 28th, March on the 31st

	s := mustSchedule(t, scheduleInput("2025-01-31", "2025-12-31", "1000", 31))
	obs := mustAll(t, s)

	if obs[1].DueDate != calendar.MustDate("2025-02-28") {
		t.Errorf("expected 2025-02-28, got %s", obs[1].DueDate)
	}
	if obs[2].DueDate != calendar.MustDate("2025-03-31") {
		t.Errorf("expected 2025-03-31, got %s", obs[2].DueDate)
	}
	if obs[1].Period.String() != "2025-02-01..2025-02-28" {
		t.Errorf("unexpected february period %s", obs[1].Period)
	}
}

// =============================================================================
// COVERAGE
// =============================================================================

func TestSchedule_PeriodsCoverLeaseExactly(t *testing.T) {
	cases := []struct {
		start, end string
		day        int
	}{
		{"2025-03-10", "2026-03-09", 1},
		{"2025-01-31", "2025-12-31", 31},
		{"2024-02-29", "2025-02-28", 30},
		{"2025-06-05", "2025-09-17", 20},
		{"2025-11-20", "2026-01-10", 15},
	}

	for _, tc := range cases {
		t.Run(tc.start+"_"+tc.end, func(t *testing.T) {
			s := mustSchedule(t, scheduleInput(tc.start, tc.end, "1500", tc.day))
			obs := mustAll(t, s)
			lease := calendar.Period{Start: calendar.MustDate(tc.start), End: calendar.MustDate(tc.end)}

			if obs[0].Period.Start != lease.Start {
				t.Errorf("first period starts %s, lease starts %s", obs[0].Period.Start, lease.Start)
			}
			last := obs[len(obs)-1]
			if last.Period.End != lease.End {
				t.Errorf("last period ends %s, lease ends %s", last.Period.End, lease.End)
			}

			total := 0
			for i, ob := range obs {
				total += ob.Period.Days()
				if ob.Seq != i {
					t.Errorf("obligation %d has seq %d", i, ob.Seq)
				}
				if ob.AmountDue.IsNegative() {
					t.Errorf("obligation %d has negative amount %s", i, ob.AmountDue)
				}
				if i > 0 && obs[i-1].Period.End.AddDays(1) != ob.Period.Start {
					t.Errorf("gap or overlap between %s and %s", obs[i-1].Period, ob.Period)
				}
			}
			if total != lease.Days() {
				t.Errorf("periods cover %d days, lease has %d", total, lease.Days())
			}
		})
	}
}

func TestSchedule_FinalPeriodProratedAtLeaseEnd(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))
	obs := mustAll(t, s)

	if len(obs) != 13 {
		t.Fatalf("expected 13 obligations, got %d", len(obs))
	}
	last := obs[12]
	if last.Period.String() != "2026-03-02..2026-03-09" {
		t.Errorf("unexpected final period %s", last.Period)
	}
	if last.DueDate != calendar.MustDate("2026-03-09") {
		t.Errorf("final obligation should be due on lease end, got %s", last.DueDate)
	}
	// 1500 / 31 * 8
	if last.AmountDue.String() != "387.10" {
		t.Errorf("expected 387.10, got %s", last.AmountDue)
	}
}

func TestSchedule_LeaseEndsBeforeFirstPayday(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2025-03-20", "1500", 1))
	obs := mustAll(t, s)

	if len(obs) != 1 {
		t.Fatalf("expected 1 obligation, got %d", len(obs))
	}
	if obs[0].Period.String() != "2025-03-10..2025-03-20" {
		t.Errorf("unexpected period %s", obs[0].Period)
	}
	// 1500 / 30.5 * 11, daily rate unrounded
	if obs[0].AmountDue.String() != "540.98" {
		t.Errorf("expected 540.98, got %s", obs[0].AmountDue)
	}
}

func TestSchedule_OneDayLease(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2025-03-10", "1500", 1))
	obs := mustAll(t, s)

	if len(obs) != 1 || obs[0].Period.Days() != 1 {
		t.Fatalf("expected a single one-day obligation, got %+v", obs)
	}
	if obs[0].AmountDue.String() != "49.18" {
		t.Errorf("expected 49.18, got %s", obs[0].AmountDue)
	}
}

func TestSchedule_RestartFromPersistedObligation(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))
	obs := mustAll(t, s)

	resumed := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))
	next, ok := resumed.Next(obs[5])
	if !ok {
		t.Fatal("expected an obligation after #5")
	}
	want := obs[6]
	if next.Seq != want.Seq || next.Period != want.Period || next.DueDate != want.DueDate || !next.AmountDue.Equal(want.AmountDue) {
		t.Errorf("resumed obligation %+v differs from %+v", next, want)
	}
}

func TestSchedule_OpenEndedRequiresThrough(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "", "1500", 1))

	if _, err := s.All(); err == nil {
		t.Error("expected error for open-ended All()")
	}
	obs := s.Through(calendar.MustDate("2025-12-31"))
	if len(obs) != 10 {
		t.Errorf("expected 10 obligations through 2025-12-31, got %d", len(obs))
	}
}

func TestSchedule_RejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		in   leasing.ScheduleInput
		kind leasing.Kind
	}{
		"end before start": {scheduleInput("2025-03-10", "2025-03-01", "1500", 1), leasing.KindInvalidLeaseDates},
		"bad payment day":  {scheduleInput("2025-03-10", "", "1500", 32), leasing.KindInvalidPolicy},
		"negative rent":    {scheduleInput("2025-03-10", "", "-1", 1), leasing.KindInvalidInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := leasing.NewSchedule(tc.in)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := leasing.KindOf(err); got != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, got)
			}
		})
	}
}

// =============================================================================
// NEXT PAYMENT
// =============================================================================

func TestNextPayment_Labels(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))

	cases := []struct {
		today    string
		due      string
		amount   string
		label    string
		prorated bool
	}{
		{"2025-03-15", "2025-04-01", "1131.15", "DUE IN 17 DAYS", true},
		{"2025-03-31", "2025-04-01", "1131.15", leasing.LabelDueTomorrow, true},
		{"2025-04-01", "2025-04-01", "1131.15", leasing.LabelDueToday, true},
		{"2025-04-02", "2025-05-01", "1500.00", "DUE IN 29 DAYS", false},
	}
	for _, tc := range cases {
		t.Run(tc.today, func(t *testing.T) {
			np := s.NextPayment(calendar.MustDate(tc.today))
			if np.DueDate != calendar.MustDate(tc.due) {
				t.Errorf("expected due %s, got %s", tc.due, np.DueDate)
			}
			if np.Amount.String() != tc.amount {
				t.Errorf("expected %s, got %s", tc.amount, np.Amount)
			}
			if np.Label != tc.label {
				t.Errorf("expected label %q, got %q", tc.label, np.Label)
			}
			if np.IsProrated != tc.prorated {
				t.Errorf("expected prorated=%v", tc.prorated)
			}
		})
	}
}

func TestNextPayment_AfterLeaseEnd(t *testing.T) {
	s := mustSchedule(t, scheduleInput("2025-03-10", "2026-03-09", "1500", 1))

	np := s.NextPayment(calendar.MustDate("2026-03-10"))
	if np.Label != leasing.LabelLeaseExpired {
		t.Errorf("expected %q, got %q", leasing.LabelLeaseExpired, np.Label)
	}
}
