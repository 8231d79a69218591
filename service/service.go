/*
Package service is the operation surface of the leasing core.

PURPOSE:
  Each exported method is one named operation the HTTP layer (or the CLI)
  calls. Methods take a typed input record, validate it, and run against the
  entity store inside one transaction.

OPERATION SHAPE:
  ┌──────────┐   ┌──────────┐   ┌──────────────┐   ┌─────────────┐
  │ validate │──▶│ deadline │──▶│ lock entity  │──▶│ store tx    │──▶ log + metrics
  └──────────┘   └──────────┘   │ keys, sorted │   │ (all or     │
                                └──────────────┘   │  nothing)   │
                                                   └─────────────┘

  - Inputs that fail validation never reach the store (InvalidInput).
  - Every operation runs under OperationTimeout; a deadline that elapses
    mid-transaction rolls back and surfaces as Timeout.
  - Writes hold "property:<id>" and "tenant:<id>" locks so a property's status
    and the tenants referencing it change in a total order.
  - Today is read from the clock once per operation and passed down.

ERRORS:
  Everything returned is a *leasing.Error. Domain errors are logged at Warn,
  Internal errors at Error with the full cause.

SEE ALSO:
  - tenants.go, properties.go, payments.go, reports.go, sweep.go
  - leasing/: the rules applied here
*/
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/clock"
	"github.com/warp/lease-engine/leasing"
	"github.com/warp/lease-engine/locking"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/policy"
)

// DefaultOperationTimeout applies when Config leaves it unset.
const DefaultOperationTimeout = 5 * time.Second

// Config wires a Service. Store, Policy and Clock are required.
type Config struct {
	Store            leasing.TxStore
	Policy           *policy.Holder
	Clock            clock.Clock
	Locker           locking.Locker
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	OperationTimeout time.Duration
}

type Service struct {
	store   leasing.TxStore
	policy  *policy.Holder
	clock   clock.Clock
	locks   locking.Locker
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("service: policy holder is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("service: clock is required")
	}
	s := &Service{
		store:   cfg.Store,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		locks:   cfg.Locker,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		timeout: cfg.OperationTimeout,
	}
	if s.locks == nil {
		s.locks = locking.NewKeyedMutex()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.timeout <= 0 {
		s.timeout = DefaultOperationTimeout
	}
	return s, nil
}

// CurrentPolicy returns the policy new schedules will snapshot.
func (s *Service) CurrentPolicy() policy.Policy { return s.policy.Current() }

// Today is the clock's current date.
func (s *Service) Today() calendar.Date { return s.clock.Today() }

// =============================================================================
// OPERATION RUNNER
// =============================================================================

// opContext is what one operation's body sees.
type opContext struct {
	ctx    context.Context
	st     leasing.Store
	today  calendar.Date
	policy policy.Policy
	fx     *effects
}

// effects are collected during the transaction and reported only after commit.
type effects struct {
	transitions    []leasing.Transition
	statusChanges  []statusChange
	paymentAmounts []float64
}

type statusChange struct {
	property leasing.PropertyID
	from, to leasing.PropertyStatus
}

// deadline bounds the lookups an operation makes before run to choose its lock
// keys. run's timeout nests inside it, so the whole operation shares one budget.
func (s *Service) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// run executes fn in one transaction holding keys. Read-only operations pass no keys.
func (s *Service) run(ctx context.Context, op string, keys []string, fn func(oc *opContext) error) error {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.execute(ctx, op, keys, fn)
	s.metrics.ObserveOperation(op, outcome(err), started)
	return err
}

func (s *Service) execute(ctx context.Context, op string, keys []string, fn func(oc *opContext) error) error {
	if len(keys) > 0 {
		waitStart := time.Now()
		unlock, err := locking.LockAll(ctx, s.locks, keys...)
		s.metrics.ObserveLockWait(time.Since(waitStart))
		if err != nil {
			return s.fail(op, leasing.Wrap(leasing.ErrTimeout, err, "waiting for %v", keys))
		}
		defer unlock()
	}

	oc := &opContext{
		today:  s.clock.Today(),
		policy: s.policy.Current(),
		fx:     &effects{},
	}
	err := s.store.WithTx(ctx, func(st leasing.Store) error {
		oc.ctx, oc.st = ctx, st
		if err := fn(oc); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		if ctx.Err() != nil && leasing.KindOf(err) != leasing.KindTimeout {
			err = leasing.Wrap(leasing.ErrTimeout, err, "%s exceeded its deadline", op)
		}
		return s.fail(op, err)
	}
	s.report(oc.fx)
	return nil
}

// fail normalizes err and logs it by severity.
func (s *Service) fail(op string, err error) error {
	le := leasing.Normalize(err)
	fields := []zap.Field{zap.String("op", op), zap.String("kind", string(le.Kind))}
	if le.Code != "" {
		fields = append(fields, zap.String("code", le.Code))
	}
	if le.Kind == leasing.KindInternal {
		s.log.Error("operation failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Warn("operation rejected", append(fields, zap.String("error", le.Error()))...)
	}
	return le
}

func (s *Service) report(fx *effects) {
	for _, tr := range fx.transitions {
		s.metrics.TenantTransition(string(tr.From), string(tr.To))
		s.log.Info("tenant status changed",
			zap.String("tenant_id", string(tr.TenantID)),
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
		)
	}
	for _, ch := range fx.statusChanges {
		s.metrics.PropertyStatusChanged(string(ch.from), string(ch.to))
		s.log.Info("property status changed",
			zap.String("property_id", string(ch.property)),
			zap.String("from", string(ch.from)),
			zap.String("to", string(ch.to)),
		)
	}
	for _, amt := range fx.paymentAmounts {
		s.metrics.PaymentRecorded(amt)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(leasing.KindOf(err))
}

// =============================================================================
// SHARED STEPS
// =============================================================================

// syncProperty brings the property's stored status in line with its tenants.
func (oc *opContext) syncProperty(id leasing.PropertyID, reason string) error {
	if id == "" {
		return nil
	}
	before, err := oc.st.GetProperty(oc.ctx, id)
	if err != nil {
		return err
	}
	after, changed, err := leasing.SyncPropertyStatus(oc.ctx, oc.st, id, oc.today, reason)
	if err != nil {
		return err
	}
	if changed {
		oc.fx.statusChanges = append(oc.fx.statusChanges, statusChange{property: id, from: before.Status, to: after})
	}
	return nil
}

// materialize stores the tenant's derived status.
func (oc *opContext) materialize(t leasing.Tenant) (leasing.Tenant, error) {
	t, tr, err := leasing.MaterializeTenant(oc.ctx, oc.st, t, oc.today)
	if err != nil {
		return leasing.Tenant{}, err
	}
	if tr != nil {
		oc.fx.transitions = append(oc.fx.transitions, *tr)
	}
	return t, nil
}

// verifyProperty re-checks the occupancy invariant after a write.
func (oc *opContext) verifyProperty(id leasing.PropertyID) error {
	if id == "" {
		return nil
	}
	prop, err := oc.st.GetProperty(oc.ctx, id)
	if err != nil {
		return err
	}
	_, active, err := leasing.FindActiveTenantForProperty(oc.ctx, oc.st, id, oc.today)
	if err != nil {
		return err
	}
	if active != (prop.Status == leasing.PropertyOccupied) {
		return leasing.Errorf(leasing.ErrInternal, "property %s is %s but active tenant present = %t", id, prop.Status, active)
	}
	return nil
}

// scheduleFor builds the tenant's schedule, or nil when the tenant has none yet.
func (oc *opContext) scheduleFor(t leasing.Tenant) (*leasing.Schedule, error) {
	if !t.HasProperty() || t.LeaseStart.IsZero() {
		return nil, nil
	}
	return leasing.NewSchedule(leasing.ScheduleInputFor(t, oc.policy))
}

// recompute rematerializes the tenant's outstanding balances.
func (oc *opContext) recompute(t leasing.Tenant) ([]leasing.OutstandingBalance, error) {
	return oc.recomputeChecking(t, "")
}

// recomputeChecking is recompute while the explicit application of payment
// check is being created; only that application can fail as OverApplication.
func (oc *opContext) recomputeChecking(t leasing.Tenant, check leasing.PaymentID) ([]leasing.OutstandingBalance, error) {
	existing, err := oc.st.ListOutstandingBalances(oc.ctx, leasing.BalanceFilter{TenantID: t.ID, IncludeResolved: true})
	if err != nil {
		return nil, err
	}
	sched, err := oc.scheduleFor(t)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return existing, nil
	}
	payments, err := oc.st.ListPaymentsForTenant(oc.ctx, t.ID)
	if err != nil {
		return nil, err
	}
	rc := leasing.Reconciler{Schedule: sched, Today: oc.today, Check: check}
	rec, err := rc.Reconcile(payments)
	if err != nil {
		return nil, err
	}
	rows := leasing.OutstandingRows(rec, existing, oc.today)
	for _, b := range rows {
		if err := oc.st.UpsertOutstandingBalance(oc.ctx, b); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// =============================================================================
// INPUT PARSING
// =============================================================================

// dateOr parses an optional date, falling back to def when empty.
func dateOr(s string, def calendar.Date) (calendar.Date, error) {
	if s == "" {
		return def, nil
	}
	d, err := calendar.ParseDate(s)
	if err != nil {
		return calendar.Date{}, leasing.Wrap(leasing.ErrInvalidInput, err, "bad date")
	}
	return d, nil
}

func optionalDate(s string) (calendar.Date, error) { return dateOr(s, calendar.Date{}) }

func keysFor(props []leasing.PropertyID, tenants []leasing.TenantID) []string {
	keys := make([]string, 0, len(props)+len(tenants))
	for _, p := range props {
		if p != "" {
			keys = append(keys, locking.PropertyKey(string(p)))
		}
	}
	for _, t := range tenants {
		if t != "" {
			keys = append(keys, locking.TenantKey(string(t)))
		}
	}
	return keys
}
