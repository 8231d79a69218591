// Package clock supplies "today" to the service layer. Deterministic code never
// calls it directly; the current date is read once per operation and passed down.
package clock

import (
	"sync"
	"time"

	"github.com/warp/lease-engine/calendar"
)

// Clock reports the current calendar day.
type Clock interface {
	Today() calendar.Date
}

// System reads the wall clock in a fixed location.
type System struct {
	Location *time.Location
}

// NewSystem uses UTC when loc is nil.
func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.UTC
	}
	return System{Location: loc}
}

func (s System) Today() calendar.Date {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return calendar.FromTime(time.Now().In(loc))
}

// Fake is a settable clock for tests and demo scenarios.
type Fake struct {
	mu    sync.Mutex
	today calendar.Date
}

func NewFake(today calendar.Date) *Fake {
	return &Fake{today: today}
}

func (f *Fake) Today() calendar.Date {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.today
}

// Set moves the clock to d.
func (f *Fake) Set(d calendar.Date) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.today = d
}

// Advance moves the clock n days forward.
func (f *Fake) Advance(days int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.today = f.today.AddDays(days)
}
