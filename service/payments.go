package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/money"
	"github.com/warp/lease-engine/policy"
)

// RecordPayment appends a payment to the ledger and rematerializes the
// tenant's balances. Tenants without a schedule get the payment flagged
// Unapplied until they are assigned a property.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (leasing.Payment, error) {
	const op = "record_payment"
	if err := check(in); err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	date, err := optionalDate(in.Date)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	appliesTo, err := optionalDate(in.AppliesTo)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	amount := parseMoney(in.Amount).Round()
	if !amount.IsPositive() {
		return leasing.Payment{}, s.fail(op, leasing.Errorf(leasing.ErrInvalidAmount, "amount %s rounds to zero", in.Amount))
	}
	tenantID := leasing.TenantID(in.TenantID)

	ctx, cancel := s.deadline(ctx)
	defer cancel()
	snap, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}

	var out leasing.Payment
	keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{tenantID})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(tenantID, snap.PropertyID)
		if err != nil {
			return err
		}
		propID := leasing.PropertyID(in.PropertyID)
		switch {
		case t.HasProperty() && propID != "" && propID != t.PropertyID:
			return leasing.Errorf(leasing.ErrInvalidInput, "payment property %s does not match tenant property %s", propID, t.PropertyID)
		case !t.HasProperty() && propID != "":
			return leasing.Errorf(leasing.ErrInvalidInput, "tenant %s is not attached to property %s", tenantID, propID)
		}
		if !t.LeaseStart.IsZero() && date.Before(t.LeaseStart) {
			return leasing.Errorf(leasing.ErrInvalidInput, "payment date %s is before lease start %s", date, t.LeaseStart)
		}

		sched, err := oc.scheduleFor(t)
		if err != nil {
			return err
		}
		if sched == nil && !appliesTo.IsZero() {
			return leasing.Errorf(leasing.ErrInvalidInput, "tenant %s has no rent schedule to apply the payment to", tenantID)
		}

		p := leasing.Payment{
			ID:         leasing.NewPaymentID(),
			TenantID:   tenantID,
			PropertyID: t.PropertyID,
			Date:       date,
			Amount:     amount,
			Method:     leasing.PaymentMethod(in.Method),
			Memo:       in.Memo,
			AppliesTo:  appliesTo,
			Unapplied:  sched == nil,
		}
		if err := oc.st.CreatePayment(oc.ctx, p); err != nil {
			return err
		}
		if sched != nil {
			if _, err := oc.recomputeChecking(t, p.ID); err != nil {
				return err
			}
		}
		oc.fx.paymentAmounts = append(oc.fx.paymentAmounts, amount.Float64())
		out = p
		return nil
	})
	if err != nil {
		return leasing.Payment{}, err
	}
	s.log.Info("payment recorded",
		zap.String("payment_id", string(out.ID)),
		zap.String("tenant_id", string(tenantID)),
		zap.String("amount", out.Amount.String()),
		zap.Bool("unapplied", out.Unapplied),
	)
	return out, nil
}

// ApplyPayment directs a recorded payment at the obligation due on DueDate.
func (s *Service) ApplyPayment(ctx context.Context, in ApplyPaymentInput) (leasing.Payment, error) {
	const op = "apply_payment"
	if err := check(in); err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	due, err := optionalDate(in.DueDate)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	id := leasing.PaymentID(in.PaymentID)

	ctx, cancel := s.deadline(ctx)
	defer cancel()
	pay, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}
	snap, err := s.store.GetTenant(ctx, pay.TenantID)
	if err != nil {
		return leasing.Payment{}, s.fail(op, err)
	}

	var out leasing.Payment
	keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{snap.ID})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(snap.ID, snap.PropertyID)
		if err != nil {
			return err
		}
		p, err := oc.st.GetPayment(oc.ctx, id)
		if err != nil {
			return err
		}
		sched, err := oc.scheduleFor(t)
		if err != nil {
			return err
		}
		if sched == nil || p.Unapplied {
			return leasing.Errorf(leasing.ErrConflict, "payment %s is unapplied; tenant %s has no rent schedule", id, t.ID)
		}
		p.AppliesTo = due
		if err := oc.st.UpdatePayment(oc.ctx, p); err != nil {
			return err
		}
		if _, err := oc.recomputeChecking(t, p.ID); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return leasing.Payment{}, err
	}
	s.log.Info("payment applied", zap.String("payment_id", string(id)), zap.String("due_date", due.String()))
	return out, nil
}

// ListPayments is ordered by (date, id).
func (s *Service) ListPayments(ctx context.Context, f leasing.PaymentFilter) ([]leasing.Payment, error) {
	var out []leasing.Payment
	err := s.run(ctx, "list_payments", nil, func(oc *opContext) error {
		var err error
		out, err = oc.st.ListPayments(oc.ctx, f)
		return err
	})
	return out, err
}

// RecomputeOutstandingBalances rematerializes one tenant's balances from the
// ledger and schedule. Running it twice leaves the same rows.
func (s *Service) RecomputeOutstandingBalances(ctx context.Context, id leasing.TenantID) ([]leasing.OutstandingBalance, error) {
	const op = "recompute_outstanding_balances"
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	snap, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, s.fail(op, err)
	}

	var out []leasing.OutstandingBalance
	keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{id})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(id, snap.PropertyID)
		if err != nil {
			return err
		}
		out, err = oc.recompute(t)
		return err
	})
	return out, err
}

// =============================================================================
// READ VIEWS
// =============================================================================

// ObligationsView is a tenant's schedule with each obligation's reconciliation.
type ObligationsView struct {
	TenantID    leasing.TenantID          `json:"tenant_id"`
	AsOf        calendar.Date             `json:"as_of"`
	Policy      policy.Policy             `json:"policy"`
	Proration   *calendar.ProrationResult `json:"proration,omitempty"`
	Obligations []leasing.ObligationState `json:"obligations"`
	Outstanding money.Money               `json:"outstanding"`
	Credit      money.Money               `json:"credit"`
}

// openEndedHorizon is how far ahead open-ended leases are listed.
const openEndedHorizon = 12

// ListObligations returns every obligation of a bounded lease, or the next
// twelve months of an open-ended one.
func (s *Service) ListObligations(ctx context.Context, id leasing.TenantID) (ObligationsView, error) {
	var out ObligationsView
	err := s.run(ctx, "list_obligations", nil, func(oc *opContext) error {
		t, err := oc.st.GetTenant(oc.ctx, id)
		if err != nil {
			return err
		}
		out = ObligationsView{
			TenantID:    id,
			AsOf:        oc.today,
			Policy:      t.PolicyOr(oc.policy),
			Obligations: []leasing.ObligationState{},
			Outstanding: money.Zero,
			Credit:      money.Zero,
		}
		sched, err := oc.scheduleFor(t)
		if err != nil || sched == nil {
			return err
		}
		proration := sched.Proration()
		out.Proration = &proration

		payments, err := oc.st.ListPaymentsForTenant(oc.ctx, id)
		if err != nil {
			return err
		}
		rc := leasing.Reconciler{Schedule: sched, Today: oc.today}
		rec, err := rc.Reconcile(payments)
		if err != nil {
			return err
		}
		out.Obligations = append(out.Obligations, rec.Obligations...)
		out.Outstanding = rec.Outstanding(oc.today)
		out.Credit = rec.Credit

		var rest []leasing.Obligation
		if t.LeaseEnd.IsZero() {
			rest = sched.Through(oc.today.YearMonth().Add(openEndedHorizon).Last())
		} else if rest, err = sched.All(); err != nil {
			return err
		}
		for _, ob := range rest {
			if len(rec.Obligations) > 0 && ob.Seq <= rec.Obligations[len(rec.Obligations)-1].Seq {
				continue
			}
			out.Obligations = append(out.Obligations, leasing.ObligationState{
				Obligation:   ob,
				LateFee:      money.Zero,
				Applied:      money.Zero,
				Remaining:    ob.AmountDue,
				Status:       leasing.StatusUnpaid,
				Applications: []leasing.Application{},
			})
		}
		return nil
	})
	return out, err
}

// PreviewProration computes the first period for a prospective lease on the
// property without writing anything.
func (s *Service) PreviewProration(ctx context.Context, in PreviewProrationInput) (calendar.ProrationResult, error) {
	const op = "preview_proration"
	if err := check(in); err != nil {
		return calendar.ProrationResult{}, s.fail(op, err)
	}
	start, err := optionalDate(in.LeaseStart)
	if err != nil {
		return calendar.ProrationResult{}, s.fail(op, err)
	}

	var out calendar.ProrationResult
	err = s.run(ctx, op, nil, func(oc *opContext) error {
		prop, err := oc.st.GetProperty(oc.ctx, leasing.PropertyID(in.PropertyID))
		if err != nil {
			return err
		}
		out, err = calendar.ComputeProratedFirstPeriod(prop.MonthlyRent, start,
			oc.policy.PaymentDayOr(in.RentPaymentDay), oc.policy.ProrationRule)
		if err != nil {
			return leasing.Normalize(err)
		}
		return nil
	})
	return out, err
}
