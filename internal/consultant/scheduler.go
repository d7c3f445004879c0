package consultant

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// EVALUATION SCHEDULER
// =============================================================================

// SchedulerConfig controls the randomized evaluation loop.
type SchedulerConfig struct {
	MinHours float64 // lower bound of the random wait
	MaxHours float64 // upper bound of the random wait
	DueHours float64 // agents evaluated longer ago than this are due
}

// DefaultSchedulerConfig returns the documented defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{MinHours: 1.0, MaxHours: 3.0, DueHours: 1.0}
}

// Scheduler runs evaluation passes on an unpredictable schedule: each cycle
// sleeps a uniformly random duration within the configured range, then
// evaluates every due agent. The interval is fixed when the cycle starts;
// nothing recomputes it, so observing the remaining time cannot move it.
type Scheduler struct {
	consultant *Consultant
	cfg        SchedulerConfig
	log        *zap.Logger

	// interval is swappable for tests.
	interval func() time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	nextAt  time.Time
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(c *Consultant, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{consultant: c, cfg: cfg, log: log}
	s.interval = func() time.Duration {
		hours := cfg.MinHours + rand.Float64()*(cfg.MaxHours-cfg.MinHours)
		return time.Duration(hours * float64(time.Hour))
	}
	return s
}

// Start launches the background loop. Idempotent: a second call while the
// loop is running is a no-op and reports false.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("evaluation loop started",
		zap.Float64("min_hours", s.cfg.MinHours),
		zap.Float64("max_hours", s.cfg.MaxHours))
	return true
}

// Stop interrupts the random wait and blocks until the loop exits. An
// evaluation pass already in progress runs to completion; stopping only
// prevents the next cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TimeUntilNext returns the remaining wait before the next evaluation
// cycle. Observability only: the wake-up instant was fixed at cycle start.
func (s *Scheduler) TimeUntilNext() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0, false
	}
	rem := time.Until(s.nextAt)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		wait := s.interval()
		s.mu.Lock()
		s.nextAt = time.Now().Add(wait)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// The pass itself is not cancellable by Stop; per-call timeouts in
		// the judgment client bound each evaluation.
		s.runPass(context.Background())

		if ctx.Err() != nil {
			return
		}
	}
}

// runPass evaluates every due agent sequentially.
func (s *Scheduler) runPass(ctx context.Context) {
	now := time.Now()
	due := time.Duration(s.cfg.DueHours * float64(time.Hour))

	for _, rec := range s.consultant.Ledger().All() {
		if rec.LastEvaluatedAt != nil && now.Sub(*rec.LastEvaluatedAt) < due {
			continue
		}
		if _, err := s.consultant.EvaluateAgent(ctx, rec.AgentID); err != nil {
			s.log.Warn("scheduled evaluation failed",
				zap.String("agent", rec.AgentID),
				zap.Error(err))
		}
	}
}
