// Package store provides the in-memory leasing.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/lease-engine/calendar"
	"github.com/warp/lease-engine/leasing"
)

// =============================================================================
// STATE - plain maps, no locking
// =============================================================================

type state struct {
	properties map[leasing.PropertyID]leasing.Property
	statusLog  []leasing.PropertyStatusChange
	nextLogID  int64
	tenants    map[leasing.TenantID]leasing.Tenant
	emails     map[string]leasing.TenantID
	payments   map[leasing.PaymentID]leasing.Payment
	balances   map[leasing.BalanceID]leasing.OutstandingBalance
}

func newState() *state {
	return &state{
		properties: make(map[leasing.PropertyID]leasing.Property),
		tenants:    make(map[leasing.TenantID]leasing.Tenant),
		emails:     make(map[string]leasing.TenantID),
		payments:   make(map[leasing.PaymentID]leasing.Payment),
		balances:   make(map[leasing.BalanceID]leasing.OutstandingBalance),
	}
}

func (s *state) clone() *state {
	c := &state{
		properties: make(map[leasing.PropertyID]leasing.Property, len(s.properties)),
		statusLog:  append([]leasing.PropertyStatusChange(nil), s.statusLog...),
		nextLogID:  s.nextLogID,
		tenants:    make(map[leasing.TenantID]leasing.Tenant, len(s.tenants)),
		emails:     make(map[string]leasing.TenantID, len(s.emails)),
		payments:   make(map[leasing.PaymentID]leasing.Payment, len(s.payments)),
		balances:   make(map[leasing.BalanceID]leasing.OutstandingBalance, len(s.balances)),
	}
	for k, v := range s.properties {
		c.properties[k] = v
	}
	for k, v := range s.tenants {
		c.tenants[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) read() *view  { return &view{st: m.st} }
func (m *Memory) write() *view { return &view{st: m.st} }

func (m *Memory) CreateProperty(ctx context.Context, p leasing.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().CreateProperty(ctx, p)
}

func (m *Memory) UpdateProperty(ctx context.Context, p leasing.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().UpdateProperty(ctx, p)
}

func (m *Memory) DeleteProperty(ctx context.Context, id leasing.PropertyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeleteProperty(ctx, id)
}

func (m *Memory) GetProperty(ctx context.Context, id leasing.PropertyID) (leasing.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetProperty(ctx, id)
}

func (m *Memory) ListProperties(ctx context.Context) ([]leasing.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListProperties(ctx)
}

func (m *Memory) SetPropertyStatus(ctx context.Context, id leasing.PropertyID, status leasing.PropertyStatus, reason string, on calendar.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().SetPropertyStatus(ctx, id, status, reason, on)
}

func (m *Memory) ListPropertyStatusChanges(ctx context.Context, id leasing.PropertyID) ([]leasing.PropertyStatusChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPropertyStatusChanges(ctx, id)
}

func (m *Memory) CreateTenant(ctx context.Context, t leasing.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().CreateTenant(ctx, t)
}

func (m *Memory) UpdateTenant(ctx context.Context, t leasing.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().UpdateTenant(ctx, t)
}

func (m *Memory) DeleteTenant(ctx context.Context, id leasing.TenantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeleteTenant(ctx, id)
}

func (m *Memory) GetTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetTenant(ctx, id)
}

func (m *Memory) ListTenants(ctx context.Context) ([]leasing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTenants(ctx)
}

func (m *Memory) FindTenantByEmail(ctx context.Context, email string) (leasing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindTenantByEmail(ctx, email)
}

func (m *Memory) ListTenantsForProperty(ctx context.Context, id leasing.PropertyID) ([]leasing.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListTenantsForProperty(ctx, id)
}

func (m *Memory) CreatePayment(ctx context.Context, p leasing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().CreatePayment(ctx, p)
}

func (m *Memory) UpdatePayment(ctx context.Context, p leasing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().UpdatePayment(ctx, p)
}

func (m *Memory) DeletePayment(ctx context.Context, id leasing.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeletePayment(ctx, id)
}

func (m *Memory) GetPayment(ctx context.Context, id leasing.PaymentID) (leasing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().GetPayment(ctx, id)
}

func (m *Memory) ListPaymentsForTenant(ctx context.Context, id leasing.TenantID) ([]leasing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPaymentsForTenant(ctx, id)
}

func (m *Memory) ListPayments(ctx context.Context, f leasing.PaymentFilter) ([]leasing.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListPayments(ctx, f)
}

func (m *Memory) UpsertOutstandingBalance(ctx context.Context, b leasing.OutstandingBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().UpsertOutstandingBalance(ctx, b)
}

func (m *Memory) DeleteOutstandingBalance(ctx context.Context, id leasing.BalanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write().DeleteOutstandingBalance(ctx, id)
}

func (m *Memory) ListOutstandingBalances(ctx context.Context, f leasing.BalanceFilter) ([]leasing.OutstandingBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().ListOutstandingBalances(ctx, f)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx runs fn against a private copy of the state and publishes the copy only
// if fn succeeds and ctx is still live. Transactions are serialized.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(leasing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := tm.st.clone()
	if err := fn(&view{st: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tm.st = draft
	return nil
}

// Reset clears all data (for testing/demo).
func (tm *TxMemory) Reset(_ context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.st = newState()
	return nil
}

// =============================================================================
// VIEW - leasing.Store over one state, used directly and inside WithTx
// =============================================================================

type view struct {
	st *state
}

func (v *view) CreateProperty(ctx context.Context, p leasing.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.properties[p.ID]; ok {
		return leasing.Errorf(leasing.ErrAlreadyExists, "property %s", p.ID)
	}
	if p.Status == "" {
		p.Status = leasing.PropertyAvailable
	}
	v.st.properties[p.ID] = p
	return nil
}

func (v *view) UpdateProperty(ctx context.Context, p leasing.Property) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := v.st.properties[p.ID]
	if !ok {
		return leasing.Errorf(leasing.ErrNotFound, "property %s", p.ID)
	}
	p.Status = cur.Status
	v.st.properties[p.ID] = p
	return nil
}

func (v *view) DeleteProperty(ctx context.Context, id leasing.PropertyID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.properties[id]; !ok {
		return leasing.Errorf(leasing.ErrNotFound, "property %s", id)
	}
	for _, t := range v.st.tenants {
		if t.PropertyID == id {
			return leasing.Errorf(leasing.ErrHasDependents, "property %s has tenant %s", id, t.ID)
		}
	}
	for _, p := range v.st.payments {
		if p.PropertyID == id {
			return leasing.Errorf(leasing.ErrHasDependents, "property %s has payment %s", id, p.ID)
		}
	}
	for _, b := range v.st.balances {
		if b.PropertyID == id && !b.Resolved {
			return leasing.Errorf(leasing.ErrHasDependents, "property %s has unresolved balance %s", id, b.ID)
		}
	}
	for bid, b := range v.st.balances {
		if b.PropertyID == id {
			delete(v.st.balances, bid)
		}
	}
	kept := v.st.statusLog[:0:0]
	for _, c := range v.st.statusLog {
		if c.PropertyID != id {
			kept = append(kept, c)
		}
	}
	v.st.statusLog = kept
	delete(v.st.properties, id)
	return nil
}

func (v *view) GetProperty(ctx context.Context, id leasing.PropertyID) (leasing.Property, error) {
	if err := ctx.Err(); err != nil {
		return leasing.Property{}, err
	}
	p, ok := v.st.properties[id]
	if !ok {
		return leasing.Property{}, leasing.Errorf(leasing.ErrNotFound, "property %s", id)
	}
	return p, nil
}

func (v *view) ListProperties(ctx context.Context) ([]leasing.Property, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]leasing.Property, 0, len(v.st.properties))
	for _, p := range v.st.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) SetPropertyStatus(ctx context.Context, id leasing.PropertyID, status leasing.PropertyStatus, reason string, on calendar.Date) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return leasing.Errorf(leasing.ErrInvalidInput, "property status %q", status)
	}
	p, ok := v.st.properties[id]
	if !ok {
		return leasing.Errorf(leasing.ErrNotFound, "property %s", id)
	}
	if p.Status == status {
		return nil
	}
	v.st.nextLogID++
	v.st.statusLog = append(v.st.statusLog, leasing.PropertyStatusChange{
		ID:         v.st.nextLogID,
		PropertyID: id,
		From:       p.Status,
		To:         status,
		Reason:     reason,
		On:         on,
	})
	p.Status = status
	v.st.properties[id] = p
	return nil
}

func (v *view) ListPropertyStatusChanges(ctx context.Context, id leasing.PropertyID) ([]leasing.PropertyStatusChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []leasing.PropertyStatusChange
	for _, c := range v.st.statusLog {
		if c.PropertyID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *view) checkTenantRefs(t leasing.Tenant) error {
	if t.PropertyID != "" {
		if _, ok := v.st.properties[t.PropertyID]; !ok {
			return leasing.Errorf(leasing.ErrNotFound, "property %s", t.PropertyID)
		}
	}
	if email := leasing.NormalizeEmail(t.Email); email != "" {
		if owner, ok := v.st.emails[email]; ok && owner != t.ID {
			return leasing.Errorf(leasing.ErrDuplicateEmail, "email %s is used by tenant %s", t.Email, owner)
		}
	}
	return nil
}

func (v *view) CreateTenant(ctx context.Context, t leasing.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.tenants[t.ID]; ok {
		return leasing.Errorf(leasing.ErrAlreadyExists, "tenant %s", t.ID)
	}
	if err := v.checkTenantRefs(t); err != nil {
		return err
	}
	v.st.tenants[t.ID] = t
	if email := leasing.NormalizeEmail(t.Email); email != "" {
		v.st.emails[email] = t.ID
	}
	return nil
}

func (v *view) UpdateTenant(ctx context.Context, t leasing.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, ok := v.st.tenants[t.ID]
	if !ok {
		return leasing.Errorf(leasing.ErrNotFound, "tenant %s", t.ID)
	}
	if err := v.checkTenantRefs(t); err != nil {
		return err
	}
	delete(v.st.emails, leasing.NormalizeEmail(cur.Email))
	if email := leasing.NormalizeEmail(t.Email); email != "" {
		v.st.emails[email] = t.ID
	}
	v.st.tenants[t.ID] = t
	return nil
}

func (v *view) DeleteTenant(ctx context.Context, id leasing.TenantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, ok := v.st.tenants[id]
	if !ok {
		return leasing.Errorf(leasing.ErrNotFound, "tenant %s", id)
	}
	for pid, p := range v.st.payments {
		if p.TenantID == id {
			delete(v.st.payments, pid)
		}
	}
	for bid, b := range v.st.balances {
		if b.TenantID == id {
			delete(v.st.balances, bid)
		}
	}
	delete(v.st.emails, leasing.NormalizeEmail(t.Email))
	delete(v.st.tenants, id)
	return nil
}

func (v *view) GetTenant(ctx context.Context, id leasing.TenantID) (leasing.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return leasing.Tenant{}, err
	}
	t, ok := v.st.tenants[id]
	if !ok {
		return leasing.Tenant{}, leasing.Errorf(leasing.ErrNotFound, "tenant %s", id)
	}
	return t, nil
}

func (v *view) ListTenants(ctx context.Context) ([]leasing.Tenant, error) {
	return v.tenantsWhere(ctx, func(leasing.Tenant) bool { return true })
}

func (v *view) FindTenantByEmail(ctx context.Context, email string) (leasing.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return leasing.Tenant{}, err
	}
	id, ok := v.st.emails[leasing.NormalizeEmail(email)]
	if !ok {
		return leasing.Tenant{}, leasing.Errorf(leasing.ErrNotFound, "tenant with email %s", email)
	}
	return v.st.tenants[id], nil
}

func (v *view) ListTenantsForProperty(ctx context.Context, id leasing.PropertyID) ([]leasing.Tenant, error) {
	return v.tenantsWhere(ctx, func(t leasing.Tenant) bool { return t.PropertyID == id })
}

func (v *view) tenantsWhere(ctx context.Context, keep func(leasing.Tenant) bool) ([]leasing.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []leasing.Tenant
	for _, t := range v.st.tenants {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CreatePayment(ctx context.Context, p leasing.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.payments[p.ID]; ok {
		return leasing.Errorf(leasing.ErrAlreadyExists, "payment %s", p.ID)
	}
	if _, ok := v.st.tenants[p.TenantID]; !ok {
		return leasing.Errorf(leasing.ErrNotFound, "tenant %s", p.TenantID)
	}
	if p.PropertyID != "" {
		if _, ok := v.st.properties[p.PropertyID]; !ok {
			return leasing.Errorf(leasing.ErrNotFound, "property %s", p.PropertyID)
		}
	}
	v.st.payments[p.ID] = p
	return nil
}

func (v *view) UpdatePayment(ctx context.Context, p leasing.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.payments[p.ID]; !ok {
		return leasing.Errorf(leasing.ErrNotFound, "payment %s", p.ID)
	}
	v.st.payments[p.ID] = p
	return nil
}

func (v *view) DeletePayment(ctx context.Context, id leasing.PaymentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.payments[id]; !ok {
		return leasing.Errorf(leasing.ErrNotFound, "payment %s", id)
	}
	delete(v.st.payments, id)
	return nil
}

func (v *view) GetPayment(ctx context.Context, id leasing.PaymentID) (leasing.Payment, error) {
	if err := ctx.Err(); err != nil {
		return leasing.Payment{}, err
	}
	p, ok := v.st.payments[id]
	if !ok {
		return leasing.Payment{}, leasing.Errorf(leasing.ErrNotFound, "payment %s", id)
	}
	return p, nil
}

func (v *view) ListPaymentsForTenant(ctx context.Context, id leasing.TenantID) ([]leasing.Payment, error) {
	return v.ListPayments(ctx, leasing.PaymentFilter{TenantID: id})
}

func (v *view) ListPayments(ctx context.Context, f leasing.PaymentFilter) ([]leasing.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []leasing.Payment
	for _, p := range v.st.payments {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Date.Compare(out[j].Date); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) UpsertOutstandingBalance(ctx context.Context, b leasing.OutstandingBalance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := v.st.tenants[b.TenantID]; !ok {
		return leasing.Errorf(leasing.ErrNotFound, "tenant %s", b.TenantID)
	}
	v.st.balances[b.ID] = b
	return nil
}

func (v *view) DeleteOutstandingBalance(ctx context.Context, id leasing.BalanceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(v.st.balances, id)
	return nil
}

func (v *view) ListOutstandingBalances(ctx context.Context, f leasing.BalanceFilter) ([]leasing.OutstandingBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []leasing.OutstandingBalance
	for _, b := range v.st.balances {
		if f.Match(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].DueDate.Compare(out[j].DueDate); c != 0 {
			return c < 0
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out, nil
}
