package calendar

// =============================================================================
// PERIOD - Inclusive range of calendar days
// =============================================================================

// Period is [Start, End], both days included. A one-day period has Start == End.
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days is the number of days in the period, counting both ends.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Valid reports Start <= End with both set.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

// Overlaps reports whether the two inclusive ranges share at least one day.
func (p Period) Overlaps(o Period) bool {
	return p.Start.BeforeOrEqual(o.End) && o.Start.BeforeOrEqual(p.End)
}

// Clip truncates p to end no later than end. ok is false if nothing remains.
func (p Period) Clip(end Date) (Period, bool) {
	if end.Before(p.Start) {
		return Period{}, false
	}
	if end.Before(p.End) {
		return Period{Start: p.Start, End: end}, true
	}
	return p, true
}

func (p Period) String() string {
	return p.Start.String() + ".." + p.End.String()
}
