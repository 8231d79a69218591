package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
)

// SweepResult summarizes one pass of time-driven materialization.
type SweepResult struct {
	AsOf             calendar.Date        `json:"as_of"`
	Tenants          int                  `json:"tenants"`
	Transitions      []leasing.Transition `json:"transitions"`
	PropertiesSynced int                  `json:"properties_synced"`
	BalanceRows      int                  `json:"balance_rows"`
	Failures         int                  `json:"failures"`
}

// Sweep re-derives every tenant's stored status for today, frees properties
// whose leases ended, and rematerializes balances. Each tenant and property is
// handled in its own transaction; one failure does not stop the pass.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	res := SweepResult{AsOf: s.clock.Today(), Transitions: []leasing.Transition{}}

	var (
		tenants []leasing.Tenant
		props   []leasing.Property
	)
	err := s.run(ctx, "sweep_list", nil, func(oc *opContext) error {
		var err error
		if tenants, err = oc.st.ListTenants(oc.ctx); err != nil {
			return err
		}
		props, err = oc.st.ListProperties(oc.ctx)
		return err
	})
	if err != nil {
		s.metrics.SweepRun("error")
		return res, err
	}

	var errs []error
	for _, snap := range tenants {
		keys := keysFor([]leasing.PropertyID{snap.PropertyID}, []leasing.TenantID{snap.ID})
		err := s.run(ctx, "sweep_tenant", keys, func(oc *opContext) error {
			t, err := oc.lockedTenant(snap.ID, snap.PropertyID)
			if err != nil {
				return err
			}
			before := len(oc.fx.transitions)
			if t, err = oc.materialize(t); err != nil {
				return err
			}
			if err := oc.syncProperty(t.PropertyID, "lease ended"); err != nil {
				return err
			}
			rows, err := oc.recompute(t)
			if err != nil {
				return err
			}
			res.Transitions = append(res.Transitions, oc.fx.transitions[before:]...)
			res.BalanceRows += len(rows)
			return nil
		})
		if err != nil {
			if errors.Is(err, leasing.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		res.Tenants++
	}

	for _, p := range props {
		err := s.run(ctx, "sweep_property", keysFor([]leasing.PropertyID{p.ID}, nil), func(oc *opContext) error {
			before := len(oc.fx.statusChanges)
			if err := oc.syncProperty(p.ID, "lease ended"); err != nil {
				return err
			}
			res.PropertiesSynced += len(oc.fx.statusChanges) - before
			return oc.verifyProperty(p.ID)
		})
		if err != nil && !errors.Is(err, leasing.ErrNotFound) {
			errs = append(errs, err)
		}
	}

	res.Failures = len(errs)
	if len(errs) > 0 {
		s.metrics.SweepRun("error")
		s.log.Warn("sweep finished with failures", zap.Int("failures", len(errs)), zap.Int("tenants", res.Tenants))
		return res, errors.Join(errs...)
	}
	s.metrics.SweepRun("ok")
	s.log.Info("sweep finished",
		zap.String("as_of", res.AsOf.String()),
		zap.Int("tenants", res.Tenants),
		zap.Int("transitions", len(res.Transitions)),
		zap.Int("properties_synced", res.PropertiesSynced),
		zap.Int("balance_rows", res.BalanceRows),
	)
	return res, nil
}
