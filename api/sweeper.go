/*
sweeper.go - Background status sweep

PURPOSE:
  Leases expire by the calendar, not by a request. Reads already derive the
  right status for today, but stored tenant tags, property occupancy and the
  outstanding-balance rows only move when something writes them. The sweeper
  runs Service.Sweep on an interval so they catch up without traffic.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - A failed sweep is logged and retried on the next tick
  - Each run gets its own timeout so a stuck store cannot pile up runs

USAGE:
  sweeper := NewSweeper(svc, log, time.Hour)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - service/sweep.go: What one sweep does
  - handlers.go: RunSweep (manual trigger)
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/lease-engine/service"
)

// DefaultSweepInterval applies when none is configured.
const DefaultSweepInterval = time.Hour

// Sweeper runs the status sweep periodically.
type Sweeper struct {
	Service  *service.Service
	Log      *zap.Logger
	Interval time.Duration
	// RunTimeout bounds one sweep. Zero means Interval.
	RunTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastRun time.Time
	lastRes service.SweepResult
}

// NewSweeper creates a new sweeper.
func NewSweeper(svc *service.Service, log *zap.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{Service: svc, Log: log, Interval: interval}
}

// Start begins the sweeper. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.Log.Info("sweeper started", zap.Duration("interval", s.Interval))
}

// Stop stops the sweeper and waits for an in-flight run.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.Log.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one sweep synchronously.
func (s *Sweeper) RunNow(ctx context.Context) (service.SweepResult, error) {
	timeout := s.RunTimeout
	if timeout <= 0 {
		timeout = s.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := s.Service.Sweep(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastRes = res
	s.mu.Unlock()

	if err != nil {
		s.Log.Error("sweep failed", zap.Error(err), zap.Int("failures", res.Failures))
	}
	return res, err
}

// LastRun returns when the last sweep finished and what it did.
func (s *Sweeper) LastRun() (time.Time, service.SweepResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastRes
}
