package service

import (
	"context"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
)

// GetRentRoll lists attached tenants with their next payment as of AsOf
// (default today), ordered by tenant id.
func (s *Service) GetRentRoll(ctx context.Context, in RentRollInput) ([]leasing.RentRollEntry, error) {
	const op = "get_rent_roll"
	if err := check(in); err != nil {
		return nil, s.fail(op, err)
	}

	var out []leasing.RentRollEntry
	err := s.run(ctx, op, nil, func(oc *opContext) error {
		asOf, err := dateOr(in.AsOf, oc.today)
		if err != nil {
			return err
		}
		tenants, err := oc.st.ListTenants(oc.ctx)
		if err != nil {
			return err
		}
		props, err := oc.st.ListProperties(oc.ctx)
		if err != nil {
			return err
		}
		out, err = leasing.BuildRentRoll(tenants, props, oc.policy, asOf)
		return err
	})
	return out, err
}

// GetOutstandingBalances lists the balances of unpaid, partial and late
// obligations due on or before AsOf (default today), joined with tenant and
// property details. Rows are derived from schedules and the payment ledger at
// read time, so obligations that fell due since the last write are included.
func (s *Service) GetOutstandingBalances(ctx context.Context, in OutstandingInput) ([]leasing.OutstandingView, error) {
	const op = "get_outstanding_balances"
	if err := check(in); err != nil {
		return nil, s.fail(op, err)
	}

	var out []leasing.OutstandingView
	err := s.run(ctx, op, nil, func(oc *opContext) error {
		asOf, err := dateOr(in.AsOf, oc.today)
		if err != nil {
			return err
		}
		tenants, err := oc.st.ListTenants(oc.ctx)
		if err != nil {
			return err
		}
		props, err := oc.st.ListProperties(oc.ctx)
		if err != nil {
			return err
		}
		balances, err := oc.balancesAsOf(tenants, leasing.BalanceFilter{
			TenantID:        leasing.TenantID(in.TenantID),
			PropertyID:      leasing.PropertyID(in.PropertyID),
			IncludeResolved: in.IncludeResolved,
		}, asOf)
		if err != nil {
			return err
		}
		out = leasing.BuildOutstandingView(balances, tenants, props, in.IncludeResolved, asOf)
		return nil
	})
	return out, err
}

// balancesAsOf derives the balance rows of the tenants matching f as of asOf.
// Stored rows resolve obligations paid since and stand in for tenants without
// a schedule. Nothing is written.
func (oc *opContext) balancesAsOf(tenants []leasing.Tenant, f leasing.BalanceFilter, asOf calendar.Date) ([]leasing.OutstandingBalance, error) {
	stored, err := oc.st.ListOutstandingBalances(oc.ctx, leasing.BalanceFilter{TenantID: f.TenantID, IncludeResolved: true})
	if err != nil {
		return nil, err
	}
	byTenant := make(map[leasing.TenantID][]leasing.OutstandingBalance)
	for _, b := range stored {
		byTenant[b.TenantID] = append(byTenant[b.TenantID], b)
	}

	var out []leasing.OutstandingBalance
	for _, t := range tenants {
		if f.TenantID != "" && t.ID != f.TenantID {
			continue
		}
		rows := byTenant[t.ID]
		sched, err := oc.scheduleFor(t)
		if err != nil {
			return nil, err
		}
		if sched != nil {
			payments, err := oc.st.ListPaymentsForTenant(oc.ctx, t.ID)
			if err != nil {
				return nil, err
			}
			rc := leasing.Reconciler{Schedule: sched, Today: asOf}
			rec, err := rc.Reconcile(paidBy(payments, asOf))
			if err != nil {
				return nil, err
			}
			rows = leasing.OutstandingRows(rec, rows, asOf)
		}
		for _, b := range rows {
			if b.DueDate.After(asOf) || !f.Match(b) {
				continue
			}
			out = append(out, b)
		}
	}
	return out, nil
}

// paidBy keeps the payments dated on or before d.
func paidBy(payments []leasing.Payment, d calendar.Date) []leasing.Payment {
	out := make([]leasing.Payment, 0, len(payments))
	for _, p := range payments {
		if p.Date.BeforeOrEqual(d) {
			out = append(out, p)
		}
	}
	return out
}

// GetStatistics computes portfolio statistics for [PeriodStart, PeriodEnd].
func (s *Service) GetStatistics(ctx context.Context, in StatisticsInput) (leasing.Statistics, error) {
	const op = "get_statistics"
	if err := check(in); err != nil {
		return leasing.Statistics{}, s.fail(op, err)
	}
	start, err := optionalDate(in.PeriodStart)
	if err != nil {
		return leasing.Statistics{}, s.fail(op, err)
	}
	end, err := optionalDate(in.PeriodEnd)
	if err != nil {
		return leasing.Statistics{}, s.fail(op, err)
	}
	if start.After(end) {
		return leasing.Statistics{}, s.fail(op, leasing.Errorf(leasing.ErrInvalidInput, "period_start %s is after period_end %s", start, end))
	}

	var out leasing.Statistics
	err = s.run(ctx, op, nil, func(oc *opContext) error {
		props, err := oc.st.ListProperties(oc.ctx)
		if err != nil {
			return err
		}
		tenants, err := oc.st.ListTenants(oc.ctx)
		if err != nil {
			return err
		}
		payments, err := oc.st.ListPayments(oc.ctx, leasing.PaymentFilter{})
		if err != nil {
			return err
		}
		balances, err := oc.balancesAsOf(tenants, leasing.BalanceFilter{}, oc.today)
		if err != nil {
			return err
		}
		var obligations []leasing.Obligation
		for _, t := range tenants {
			sched, err := oc.scheduleFor(t)
			if err != nil {
				return err
			}
			if sched != nil {
				obligations = append(obligations, sched.Through(end)...)
			}
		}
		out = leasing.BuildStatistics(leasing.StatisticsInput{
			PeriodStart: start,
			PeriodEnd:   end,
			Today:       oc.today,
			Months:      in.Months,
			Properties:  props,
			Tenants:     tenants,
			Payments:    payments,
			Obligations: obligations,
			Balances:    balances,
		})
		return nil
	})
	return out, err
}

