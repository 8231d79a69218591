/*
lifecycle.go - Tenant lease states and their coupling to property availability

STATES:
  future    no property, or lease start still ahead
  active    today within [lease start, lease end] (open end = no end)
  expired   today after lease end
  inactive  deliberately detached from the property

TRANSITIONS:
  (new)  --create with property, lease covers today-->  active    property -> occupied
  (new)  --create without property / future start--->  future
  future --assign property, lease covers today------>  active    property -> occupied
  active --today passes lease end (lazy)------------>  expired   property -> available*
  active --detach----------------------------------->  inactive  property -> available*
  any    --delete tenant---------------------------->  (gone)    property -> available*

  * only if no other tenant is active on the property

LAZY MATERIALIZATION:
  Time-driven transitions are computed by DeriveStatus on read. The stored tag and
  the property status are brought in line by the next write touching either
  record (SyncPropertyStatus, MaterializeTenant), or by the periodic sweep.

SEE ALSO:
  - service/tenants.go: applies these rules inside store transactions
*/
package leasing

import (
	"context"

	"github.com/warp/lease-engine/calendar"
)

// openEnd stands in for an unset lease end when comparing intervals.
var openEnd = calendar.NewDate(9999, 12, 31)

// Transition records a change of a tenant's stored status.
type Transition struct {
	TenantID TenantID
	From     LeaseStatus
	To       LeaseStatus
}

// DeriveStatus computes the tenant's status for today.
func DeriveStatus(t Tenant, today calendar.Date) LeaseStatus {
	if !t.HasProperty() {
		if t.Status == LeaseInactive {
			return LeaseInactive
		}
		return LeaseFuture
	}
	if t.LeaseStart.IsZero() || today.Before(t.LeaseStart) {
		return LeaseFuture
	}
	if !t.LeaseEnd.IsZero() && today.After(t.LeaseEnd) {
		return LeaseExpired
	}
	return LeaseActive
}

// Occupies reports whether t holds its property on day.
func Occupies(t Tenant, day calendar.Date) bool {
	return DeriveStatus(t, day) == LeaseActive
}

// leaseWindow returns the lease as a closed period with open ends filled in.
func leaseWindow(t Tenant) calendar.Period {
	end := t.LeaseEnd
	if end.IsZero() {
		end = openEnd
	}
	return calendar.Period{Start: t.LeaseStart, End: end}
}

// ValidateLease checks date ordering and that an attached tenant has a start date.
func ValidateLease(t Tenant) error {
	if !t.LeaseEnd.IsZero() && t.LeaseStart.IsZero() {
		return Errorf(ErrInvalidLeaseDates, "lease_end %s set without lease_start", t.LeaseEnd)
	}
	if !t.LeaseStart.IsZero() && !t.LeaseEnd.IsZero() && t.LeaseStart.After(t.LeaseEnd) {
		return Errorf(ErrInvalidLeaseDates, "lease_start %s is after lease_end %s", t.LeaseStart, t.LeaseEnd)
	}
	if t.HasProperty() && t.LeaseStart.IsZero() {
		return Errorf(ErrInvalidLeaseDates, "lease_start is required when a property is attached")
	}
	return nil
}

// CheckAvailability decides whether candidate may hold prop. others are the
// property's current tenants; the candidate itself is skipped if present.
// prop.Status must already reflect today (see SyncPropertyStatus).
func CheckAvailability(prop Property, others []Tenant, candidate Tenant, today calendar.Date) error {
	window := leaseWindow(candidate)
	for _, o := range others {
		if o.ID == candidate.ID || o.PropertyID != prop.ID {
			continue
		}
		switch DeriveStatus(o, today) {
		case LeaseActive, LeaseFuture:
		default:
			continue
		}
		if leaseWindow(o).Overlaps(window) {
			return Errorf(ErrPropertyNotAvailable, "property %s is leased to tenant %s for %s", prop.ID, o.ID, o.Lease())
		}
	}

	if DeriveStatus(candidate, today) == LeaseActive && prop.Status != PropertyAvailable {
		return Errorf(ErrPropertyNotAvailable, "property %s is %s", prop.ID, prop.Status)
	}
	return nil
}

// PropertyStatusFor returns the status prop should have today given its tenants.
// Maintenance is left alone unless a tenant is active.
func PropertyStatusFor(prop Property, tenants []Tenant, today calendar.Date) PropertyStatus {
	for _, t := range tenants {
		if t.PropertyID == prop.ID && Occupies(t, today) {
			return PropertyOccupied
		}
	}
	if prop.Status == PropertyOccupied {
		return PropertyAvailable
	}
	return prop.Status
}

// FindActiveTenantForProperty returns the tenant holding the property today.
func FindActiveTenantForProperty(ctx context.Context, st Store, id PropertyID, today calendar.Date) (Tenant, bool, error) {
	tenants, err := st.ListTenantsForProperty(ctx, id)
	if err != nil {
		return Tenant{}, false, err
	}
	for _, t := range tenants {
		if Occupies(t, today) {
			return t, true, nil
		}
	}
	return Tenant{}, false, nil
}

// SyncPropertyStatus writes the derived status for the property if it differs.
func SyncPropertyStatus(ctx context.Context, st Store, id PropertyID, today calendar.Date, reason string) (PropertyStatus, bool, error) {
	prop, err := st.GetProperty(ctx, id)
	if err != nil {
		return "", false, err
	}
	tenants, err := st.ListTenantsForProperty(ctx, id)
	if err != nil {
		return "", false, err
	}
	want := PropertyStatusFor(prop, tenants, today)
	if want == prop.Status {
		return want, false, nil
	}
	if err := st.SetPropertyStatus(ctx, id, want, reason, today); err != nil {
		return "", false, err
	}
	return want, true, nil
}

// MaterializeTenant stores the derived status if it differs from the stored tag.
func MaterializeTenant(ctx context.Context, st Store, t Tenant, today calendar.Date) (Tenant, *Transition, error) {
	derived := DeriveStatus(t, today)
	if derived == t.Status {
		return t, nil, nil
	}
	tr := &Transition{TenantID: t.ID, From: t.Status, To: derived}
	t.Status = derived
	if err := st.UpdateTenant(ctx, t); err != nil {
		return Tenant{}, nil, err
	}
	return t, tr, nil
}
