package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/leasing"
)

// CreateProperty adds a property. It starts available unless created under
// maintenance.
func (s *Service) CreateProperty(ctx context.Context, in CreatePropertyInput) (leasing.Property, error) {
	if err := check(in); err != nil {
		return leasing.Property{}, s.fail("create_property", err)
	}
	id := leasing.PropertyID(in.ID)
	if id == "" {
		id = leasing.NewPropertyID()
	}

	var out leasing.Property
	err := s.run(ctx, "create_property", keysFor([]leasing.PropertyID{id}, nil), func(oc *opContext) error {
		p := leasing.Property{
			ID:          id,
			Title:       in.Title,
			Address:     in.Address,
			OwnerID:     in.OwnerID,
			MonthlyRent: parseMoney(in.MonthlyRent).Round(),
			Status:      leasing.PropertyAvailable,
		}
		if err := oc.st.CreateProperty(oc.ctx, p); err != nil {
			return err
		}
		if in.Status == string(leasing.PropertyMaintenance) {
			if err := oc.setStatus(id, leasing.PropertyMaintenance, "created under maintenance"); err != nil {
				return err
			}
		}
		var err error
		out, err = oc.st.GetProperty(oc.ctx, id)
		return err
	})
	if err != nil {
		return leasing.Property{}, err
	}
	s.log.Info("property created", zap.String("property_id", string(id)), zap.String("rent", out.MonthlyRent.String()))
	return out, nil
}

// UpdateProperty changes the fields set in the input. A rent change is copied
// to the property's active and future tenants and their balances recomputed.
func (s *Service) UpdateProperty(ctx context.Context, in UpdatePropertyInput) (leasing.Property, error) {
	if err := check(in); err != nil {
		return leasing.Property{}, s.fail("update_property", err)
	}
	id := leasing.PropertyID(in.ID)

	var (
		out    leasing.Property
		synced int
	)
	err := s.run(ctx, "update_property", keysFor([]leasing.PropertyID{id}, nil), func(oc *opContext) error {
		p, err := oc.st.GetProperty(oc.ctx, id)
		if err != nil {
			return err
		}
		rentChanged := false
		if in.Title != nil {
			p.Title = *in.Title
		}
		if in.Address != nil {
			p.Address = *in.Address
		}
		if in.OwnerID != nil {
			p.OwnerID = *in.OwnerID
		}
		if in.MonthlyRent != nil {
			rent := parseMoney(*in.MonthlyRent).Round()
			rentChanged = !rent.Equal(p.MonthlyRent)
			p.MonthlyRent = rent
		}
		if err := oc.st.UpdateProperty(oc.ctx, p); err != nil {
			return err
		}

		if rentChanged {
			if synced, err = oc.syncTenantRent(p); err != nil {
				return err
			}
		}
		if in.Status != nil {
			if err := oc.setStatus(id, leasing.PropertyStatus(*in.Status), "property updated"); err != nil {
				return err
			}
		}
		out, err = oc.st.GetProperty(oc.ctx, id)
		return err
	})
	if err != nil {
		return leasing.Property{}, err
	}
	s.log.Info("property updated", zap.String("property_id", string(id)), zap.Int("tenants_resynced", synced))
	return out, nil
}

// syncTenantRent copies the property rent onto tenants that are still billed.
func (oc *opContext) syncTenantRent(p leasing.Property) (int, error) {
	tenants, err := oc.st.ListTenantsForProperty(oc.ctx, p.ID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tenants {
		switch leasing.DeriveStatus(t, oc.today) {
		case leasing.LeaseActive, leasing.LeaseFuture:
		default:
			continue
		}
		if t.MonthlyRent.Equal(p.MonthlyRent) {
			continue
		}
		t.MonthlyRent = p.MonthlyRent
		if err := oc.st.UpdateTenant(oc.ctx, t); err != nil {
			return 0, err
		}
		if _, err := oc.recompute(t); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// DeleteProperty removes a property with no tenants, payments or unresolved
// balances referencing it.
func (s *Service) DeleteProperty(ctx context.Context, id leasing.PropertyID) error {
	err := s.run(ctx, "delete_property", keysFor([]leasing.PropertyID{id}, nil), func(oc *opContext) error {
		return oc.st.DeleteProperty(oc.ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("property deleted", zap.String("property_id", string(id)))
	return nil
}

// SetPropertyStatus moves a property between available and maintenance.
// Occupied is derived from tenants and cannot be set or cleared by hand.
func (s *Service) SetPropertyStatus(ctx context.Context, in SetPropertyStatusInput) (leasing.Property, error) {
	if err := check(in); err != nil {
		return leasing.Property{}, s.fail("set_property_status", err)
	}
	id := leasing.PropertyID(in.PropertyID)

	var out leasing.Property
	err := s.run(ctx, "set_property_status", keysFor([]leasing.PropertyID{id}, nil), func(oc *opContext) error {
		if err := oc.setStatus(id, leasing.PropertyStatus(in.Status), in.Reason); err != nil {
			return err
		}
		var err error
		out, err = oc.st.GetProperty(oc.ctx, id)
		return err
	})
	if err != nil {
		return leasing.Property{}, err
	}
	return out, nil
}

func (oc *opContext) setStatus(id leasing.PropertyID, want leasing.PropertyStatus, reason string) error {
	// Bring stale occupancy up to date before judging the request.
	if err := oc.syncProperty(id, "lease ended"); err != nil {
		return err
	}
	p, err := oc.st.GetProperty(oc.ctx, id)
	if err != nil {
		return err
	}
	if tenant, active, err := leasing.FindActiveTenantForProperty(oc.ctx, oc.st, id, oc.today); err != nil {
		return err
	} else if active {
		return leasing.Errorf(leasing.ErrConflict, "property %s is occupied by tenant %s", id, tenant.ID)
	}
	if p.Status == want {
		return nil
	}
	if err := oc.st.SetPropertyStatus(oc.ctx, id, want, reason, oc.today); err != nil {
		return err
	}
	oc.fx.statusChanges = append(oc.fx.statusChanges, statusChange{property: id, from: p.Status, to: want})
	return nil
}

func (s *Service) GetProperty(ctx context.Context, id leasing.PropertyID) (leasing.Property, error) {
	var out leasing.Property
	err := s.run(ctx, "get_property", nil, func(oc *opContext) error {
		var err error
		out, err = oc.st.GetProperty(oc.ctx, id)
		return err
	})
	return out, err
}

func (s *Service) ListProperties(ctx context.Context) ([]leasing.Property, error) {
	var out []leasing.Property
	err := s.run(ctx, "list_properties", nil, func(oc *opContext) error {
		var err error
		out, err = oc.st.ListProperties(oc.ctx)
		return err
	})
	return out, err
}

// ListPropertyStatusChanges returns the property's audit trail, oldest first.
func (s *Service) ListPropertyStatusChanges(ctx context.Context, id leasing.PropertyID) ([]leasing.PropertyStatusChange, error) {
	var out []leasing.PropertyStatusChange
	err := s.run(ctx, "list_property_status_changes", nil, func(oc *opContext) error {
		if _, err := oc.st.GetProperty(oc.ctx, id); err != nil {
			return err
		}
		var err error
		out, err = oc.st.ListPropertyStatusChanges(oc.ctx, id)
		return err
	})
	return out, err
}
