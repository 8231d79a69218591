package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/money"
)

// CreateTenant adds a tenant, optionally attached to a property. A lease that
// covers today makes the tenant active and the property occupied in the same
// transaction.
func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput) (leasing.Tenant, error) {
	const op = "create_tenant"
	if err := check(in); err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	start, err := optionalDate(in.LeaseStart)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	end, err := optionalDate(in.LeaseEnd)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	id := leasing.TenantID(in.ID)
	if id == "" {
		id = leasing.NewTenantID()
	}
	propID := leasing.PropertyID(in.PropertyID)

	var out leasing.Tenant
	err = s.run(ctx, op, keysFor([]leasing.PropertyID{propID}, []leasing.TenantID{id}), func(oc *opContext) error {
		t := leasing.Tenant{
			ID:          id,
			FullName:    in.FullName,
			Email:       in.Email,
			Phone:       in.Phone,
			PropertyID:  propID,
			LeaseStart:  start,
			LeaseEnd:    end,
			MonthlyRent: money.Zero,
			PaymentDay:  oc.policy.PaymentDayOr(in.RentPaymentDay),
		}
		if in.RentAmount != "" {
			t.MonthlyRent = parseMoney(in.RentAmount).Round()
		}
		if err := leasing.ValidateLease(t); err != nil {
			return err
		}
		if t.HasProperty() {
			if err := oc.admit(&t, in.RentAmount == ""); err != nil {
				return err
			}
		}
		t.Status = leasing.DeriveStatus(t, oc.today)
		if err := oc.st.CreateTenant(oc.ctx, t); err != nil {
			return err
		}
		oc.fx.transitions = append(oc.fx.transitions, leasing.Transition{TenantID: id, To: t.Status})

		if err := oc.syncProperty(propID, "tenant "+string(id)+" moved in"); err != nil {
			return err
		}
		if err := oc.verifyProperty(propID); err != nil {
			return err
		}
		if _, err := oc.recompute(t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return leasing.Tenant{}, err
	}
	s.log.Info("tenant created",
		zap.String("tenant_id", string(id)),
		zap.String("property_id", string(propID)),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// admit prepares t to take its property: the property must exist, its stale
// occupancy is refreshed, and no other lease may overlap. The current policy is
// snapshotted onto the tenant.
func (oc *opContext) admit(t *leasing.Tenant, rentFromProperty bool) error {
	if err := oc.syncProperty(t.PropertyID, "lease ended"); err != nil {
		return err
	}
	prop, err := oc.st.GetProperty(oc.ctx, t.PropertyID)
	if err != nil {
		return err
	}
	others, err := oc.st.ListTenantsForProperty(oc.ctx, t.PropertyID)
	if err != nil {
		return err
	}
	if err := leasing.CheckAvailability(prop, others, *t, oc.today); err != nil {
		return err
	}
	if rentFromProperty {
		t.MonthlyRent = prop.MonthlyRent
	}
	pol := oc.policy
	t.Policy = &pol
	return nil
}

// AssignTenantToProperty attaches a tenant to a property with new lease terms.
// A tenant attached elsewhere moves out of the old property first. Payments
// recorded while the tenant had no schedule are applied from here on.
func (s *Service) AssignTenantToProperty(ctx context.Context, in AssignTenantInput) (leasing.Tenant, error) {
	const op = "assign_tenant_to_property"
	if err := check(in); err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	start, err := optionalDate(in.LeaseStart)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	end, err := optionalDate(in.LeaseEnd)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}
	id, propID := leasing.TenantID(in.TenantID), leasing.PropertyID(in.PropertyID)

	ctx, cancel := s.deadline(ctx)
	defer cancel()
	snap, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}

	var out leasing.Tenant
	keys := keysFor([]leasing.PropertyID{snap.PropertyID, propID}, []leasing.TenantID{id})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(id, snap.PropertyID)
		if err != nil {
			return err
		}
		if t.PropertyID == propID {
			return leasing.Errorf(leasing.ErrConflict, "tenant %s is already assigned to property %s", id, propID)
		}
		old := t.PropertyID
		prev := t.Status

		t.PropertyID = propID
		t.LeaseStart, t.LeaseEnd = start, end
		t.PaymentDay = oc.policy.PaymentDayOr(in.RentPaymentDay)
		if in.RentAmount != "" {
			t.MonthlyRent = parseMoney(in.RentAmount).Round()
		}
		if err := leasing.ValidateLease(t); err != nil {
			return err
		}
		if err := oc.admit(&t, in.RentAmount == ""); err != nil {
			return err
		}
		if t, err = oc.writeTenant(t, prev); err != nil {
			return err
		}

		if err := oc.syncProperty(old, "tenant "+string(id)+" moved out"); err != nil {
			return err
		}
		if err := oc.syncProperty(propID, "tenant "+string(id)+" moved in"); err != nil {
			return err
		}
		if err := oc.claimUnapplied(t); err != nil {
			return err
		}
		if _, err := oc.recompute(t); err != nil {
			return err
		}
		if err := oc.verifyProperty(old); err != nil {
			return err
		}
		if err := oc.verifyProperty(propID); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return leasing.Tenant{}, err
	}
	s.log.Info("tenant assigned",
		zap.String("tenant_id", string(id)),
		zap.String("property_id", string(propID)),
		zap.String("status", string(out.Status)),
	)
	return out, nil
}

// claimUnapplied attaches payments recorded before the tenant had a schedule.
func (oc *opContext) claimUnapplied(t leasing.Tenant) error {
	payments, err := oc.st.ListPaymentsForTenant(oc.ctx, t.ID)
	if err != nil {
		return err
	}
	for _, p := range payments {
		if !p.Unapplied {
			continue
		}
		p.Unapplied = false
		if p.PropertyID == "" {
			p.PropertyID = t.PropertyID
		}
		if err := oc.st.UpdatePayment(oc.ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// DetachTenant ends the tenant's attachment. The tenant becomes inactive and
// the property is freed unless another tenant is active there.
func (s *Service) DetachTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	const op = "detach_tenant"
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	snap, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return leasing.Tenant{}, s.fail(op, err)
	}

	var out leasing.Tenant
	keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{id})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(id, snap.PropertyID)
		if err != nil {
			return err
		}
		if !t.HasProperty() {
			return leasing.Errorf(leasing.ErrConflict, "tenant %s is not attached to a property", id)
		}
		old, prev := t.PropertyID, t.Status
		t.PropertyID = ""
		t.Status = leasing.LeaseInactive
		if t, err = oc.writeTenant(t, prev); err != nil {
			return err
		}
		if err := oc.syncProperty(old, "tenant "+string(id)+" detached"); err != nil {
			return err
		}
		if err := oc.verifyProperty(old); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return leasing.Tenant{}, err
	}
	s.log.Info("tenant detached", zap.String("tenant_id", string(id)), zap.String("property_id", string(snap.PropertyID)))
	return out, nil
}

// DeleteTenant removes the tenant with its payments and balances.
func (s *Service) DeleteTenant(ctx context.Context, id leasing.TenantID) error {
	const op = "delete_tenant"
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	snap, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return s.fail(op, err)
	}

	keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{id})
	err = s.run(ctx, op, keys, func(oc *opContext) error {
		t, err := oc.lockedTenant(id, snap.PropertyID)
		if err != nil {
			return err
		}
		if err := oc.st.DeleteTenant(oc.ctx, id); err != nil {
			return err
		}
		if err := oc.syncProperty(t.PropertyID, "tenant "+string(id)+" deleted"); err != nil {
			return err
		}
		return oc.verifyProperty(t.PropertyID)
	})
	if err != nil {
		return err
	}
	s.log.Info("tenant deleted", zap.String("tenant_id", string(id)), zap.String("property_id", string(snap.PropertyID)))
	return nil
}

// lockedTenant re-reads the tenant inside the transaction and fails if its
// property changed since the locks were chosen.
func (oc *opContext) lockedTenant(id leasing.TenantID, lockedProperty leasing.PropertyID) (leasing.Tenant, error) {
	t, err := oc.st.GetTenant(oc.ctx, id)
	if err != nil {
		return leasing.Tenant{}, err
	}
	if t.PropertyID != lockedProperty {
		return leasing.Tenant{}, leasing.Errorf(leasing.ErrConflict, "tenant %s changed property concurrently; retry", id)
	}
	return t, nil
}

// writeTenant stores t with its derived status and records the transition.
func (oc *opContext) writeTenant(t leasing.Tenant, prev leasing.LeaseStatus) (leasing.Tenant, error) {
	t.Status = leasing.DeriveStatus(t, oc.today)
	if err := oc.st.UpdateTenant(oc.ctx, t); err != nil {
		return leasing.Tenant{}, err
	}
	if t.Status != prev {
		oc.fx.transitions = append(oc.fx.transitions, leasing.Transition{TenantID: t.ID, From: prev, To: t.Status})
	}
	return t, nil
}

// GetTenant returns the tenant with its status derived for today. The stored
// tag is brought in line by the next write or sweep.
func (s *Service) GetTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	var out leasing.Tenant
	err := s.run(ctx, "get_tenant", nil, func(oc *opContext) error {
		t, err := oc.st.GetTenant(oc.ctx, id)
		if err != nil {
			return err
		}
		t.Status = leasing.DeriveStatus(t, oc.today)
		out = t
		return nil
	})
	return out, err
}

// ListTenants is ordered by id, statuses derived for today.
func (s *Service) ListTenants(ctx context.Context) ([]leasing.Tenant, error) {
	var out []leasing.Tenant
	err := s.run(ctx, "list_tenants", nil, func(oc *opContext) error {
		ts, err := oc.st.ListTenants(oc.ctx)
		if err != nil {
			return err
		}
		for i := range ts {
			ts[i].Status = leasing.DeriveStatus(ts[i], oc.today)
		}
		out = ts
		return nil
	})
	return out, err
}
