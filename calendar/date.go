/*
Package calendar provides the day-granular date arithmetic and the proration kernel.

PURPOSE:
  Rent is billed by calendar day. Dates carry no time of day and no timezone: a
  lease starting "2025-03-10" starts on that calendar day everywhere. Date wraps a
  UTC-midnight time.Time so standard library arithmetic stays correct across DST.

KEY CONCEPTS:
  - Date:      a calendar day (year, month, day)
  - YearMonth: a calendar month, used to walk billing cycles
  - Period:    an inclusive [Start, End] range of days

DETERMINISM:
  Nothing in this package reads the wall clock. "Today" always arrives as a
  parameter (see package clock for the injectable source).

SEE ALSO:
  - proration.go: first-period proration
  - period.go: inclusive day ranges
*/
package calendar

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the canonical wire and storage format for dates.
const Layout = "2006-01-02"

// =============================================================================
// DATE
// =============================================================================

// Date is a calendar day. The zero value is "no date".
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime drops the time-of-day, keeping the calendar day as seen in t's location.
func FromTime(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate reads YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

// MustDate panics on malformed input. Fixtures only.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) Year() int          { return d.t.Year() }
func (d Date) Month() time.Month  { return d.t.Month() }
func (d Date) Day() int           { return d.t.Day() }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) YearMonth() YearMonth { return YearMonth{Year: d.Year(), Month: d.Month()} }

func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// DaysUntil returns o - d in whole days (negative when o is earlier).
func (d Date) DaysUntil(o Date) int { return DaysBetween(d, o) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// DaysBetween returns to - from in days.
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// MinDate returns the earlier of a and b.
func MinDate(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// MaxDate returns the later of a and b.
func MaxDate(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// =============================================================================
// YEAR-MONTH
// =============================================================================

// YearMonth identifies one calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// Add moves n months forward (or back when n < 0).
func (ym YearMonth) Add(n int) YearMonth {
	t := time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

func (ym YearMonth) Days() int      { return DaysInMonth(ym.Year, ym.Month) }
func (ym YearMonth) First() Date    { return NewDate(ym.Year, ym.Month, 1) }
func (ym YearMonth) Last() Date     { return NewDate(ym.Year, ym.Month, ym.Days()) }
func (ym YearMonth) String() string { return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month)) }

func (ym YearMonth) Before(o YearMonth) bool {
	return ym.Year < o.Year || (ym.Year == o.Year && ym.Month < o.Month)
}

// Period returns the whole month as an inclusive period.
func (ym YearMonth) Period() Period { return Period{Start: ym.First(), End: ym.Last()} }

// DaysInMonth is the Gregorian month length.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampedDueDate returns paymentDay in the given month, or the month's last day when
// the month is shorter. Days below 1 clamp to the 1st.
func ClampedDueDate(year int, month time.Month, paymentDay int) Date {
	dim := DaysInMonth(year, month)
	day := paymentDay
	if day > dim {
		day = dim
	}
	if day < 1 {
		day = 1
	}
	return NewDate(year, month, day)
}

// DueDateIn is ClampedDueDate over a YearMonth.
func DueDateIn(ym YearMonth, paymentDay int) Date {
	return ClampedDueDate(ym.Year, ym.Month, paymentDay)
}

// =============================================================================
// ENCODING
// =============================================================================

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores dates as YYYY-MM-DD text, NULL for the zero date.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	case time.Time:
		*d = FromTime(v.UTC())
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(Layout) {
		s = s[:len(Layout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
