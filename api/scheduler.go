/*
scheduler.go - Automated expiry sweeper

PURPOSE:
  Periodically moves active redemptions whose code has expired to the
  expired state, so stored status, events and partner-facing views catch
  up with the lazy expiry reads already apply.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Each run is bounded by the check interval via context timeout
  - Per-redemption failures are logged by the sweeper and retried next run

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewExpirationScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - rewards/expiry.go: Sweeper
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper is the part of rewards.Service the scheduler drives.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpirationScheduler runs the expiry sweep on a timer.
type ExpirationScheduler struct {
	Sweeper       Sweeper
	Logger        *slog.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewExpirationScheduler creates a new scheduler.
func NewExpirationScheduler(sweeper Sweeper, logger *slog.Logger) *ExpirationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirationScheduler{
		Sweeper:       sweeper,
		Logger:        logger.With("component", "scheduler"),
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *ExpirationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (s *ExpirationScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.Logger.Info("stopped")
}

func (s *ExpirationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns how many redemptions expired.
func (s *ExpirationScheduler) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	started := time.Now()
	n, err := s.Sweeper.SweepExpired(ctx)

	s.mu.Lock()
	s.lastRun = started
	s.mu.Unlock()

	if err != nil {
		s.Logger.Error("sweep failed", "expired", n, "error", err)
		return n
	}
	if n > 0 {
		s.Logger.Info("sweep completed", "expired", n, "took", time.Since(started))
	}
	return n
}

// LastRun returns when the last sweep started.
func (s *ExpirationScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *ExpirationScheduler) GetNextRunTime() time.Time {
	return s.LastRun().Add(s.CheckInterval)
}
