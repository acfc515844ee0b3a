// Package scheduler runs the background sync worker: a periodic drain when
// online, plus the immediate and online-transition triggers, all funnelled
// into the engine's single-flight drain.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	syncpkg "github.com/tsengko/pulsefeed-sync/internal/sync"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
)

// Config holds scheduler tuning.
type Config struct {
	// SyncInterval is the periodic drain cadence when the last pass
	// succeeded (default 15 minutes).
	SyncInterval time.Duration
	// BackoffFloor is the smallest delay after a failed pass; subsequent
	// failures double it up to SyncInterval.
	BackoffFloor time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 15 * time.Minute,
		BackoffFloor: 30 * time.Second,
	}
}

// Scheduler owns the worker goroutine. Draining itself is serialized by the
// engine; the scheduler only decides when to ask for a pass.
type Scheduler struct {
	engine *syncpkg.Engine
	queue  *queue.Manager
	oracle connectivity.Oracle

	interval     time.Duration
	backoffFloor time.Duration

	mu           sync.RWMutex
	isRunning    bool
	failures     int
	lastSyncTime time.Time

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(engine *syncpkg.Engine, q *queue.Manager, oracle connectivity.Oracle, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		engine:       engine,
		queue:        q,
		oracle:       oracle,
		interval:     cfg.SyncInterval,
		backoffFloor: cfg.BackoffFloor,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the periodic worker.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicLoop(ctx)

	logging.Info("Sync scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop cancels the periodic recurrence. An in-flight drain is allowed to
// finish rather than being aborted. This is the cancelSync operation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// periodicLoop fires drains on the interval, stretched to the backoff delay
// while passes are failing. Offline ticks are skipped without counting as
// failures.
func (s *Scheduler) periodicLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
			if s.oracle.IsOnline() {
				s.runDrain(ctx)
			} else {
				logging.Debug("Skipping periodic sync while offline", nil)
			}
			timer.Reset(s.nextDelay())
		}
	}
}

// nextDelay computes the wait before the next periodic pass: the configured
// interval normally, exponential backoff from the floor while failing.
func (s *Scheduler) nextDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failures == 0 {
		return s.interval
	}
	delay := s.backoffFloor << uint(s.failures-1)
	if delay > s.interval || delay <= 0 {
		delay = s.interval
	}
	return delay
}

// runDrain executes one pass and records the outcome for backoff.
func (s *Scheduler) runDrain(ctx context.Context) {
	result, err := s.engine.Drain(ctx)
	if stderrors.Is(err, syncpkg.ErrDrainInProgress) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failures++
		logging.Warn("Drain pass failed", map[string]interface{}{
			"consecutive_failures": s.failures,
			"error":                err.Error(),
		})
		return
	}
	s.failures = 0
	s.lastSyncTime = time.Now()
	_ = result
}

// TriggerSync requests an immediate background drain. Returns false when the
// worker is stopped or a pass is already running. This is the immediate and
// online-transition path.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if s.engine.Draining() {
		return false
	}
	// The Add must not race a Stop that has reached wg.Wait; taking it under
	// the same lock as the isRunning flip serializes the two.
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.runDrain(ctx)
	}()
	return true
}

// SyncNow drains synchronously, first resetting exhausted items so
// persistently failed writes get another chance. This is the manual
// triggerImmediateSync operation.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.DrainResult, error) {
	if _, err := s.queue.RetryFailed(); err != nil {
		return nil, err
	}
	result, err := s.engine.Drain(ctx)
	if err != nil {
		return result, err
	}
	s.mu.Lock()
	s.failures = 0
	s.lastSyncTime = time.Now()
	s.mu.Unlock()
	return result, nil
}

// HandleOnlineTransition is wired to the connectivity monitor; coming back
// online triggers an opportunistic drain.
func (s *Scheduler) HandleOnlineTransition(online bool) {
	if !online {
		return
	}
	s.mu.RLock()
	running := s.isRunning
	s.mu.RUnlock()
	if !running {
		return
	}
	logging.Info("Back online, triggering sync", nil)
	s.TriggerSync(context.Background())
}

// Status is a point-in-time snapshot of the worker.
type Status struct {
	IsRunning           bool           `json:"is_running"`
	IsOnline            bool           `json:"is_online"`
	Draining            bool           `json:"draining"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastSyncTime        *time.Time     `json:"last_sync_time,omitempty"`
	QueueStats          map[string]int `json:"queue_stats,omitempty"`
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	status := Status{
		IsRunning:           s.isRunning,
		IsOnline:            s.oracle.IsOnline(),
		Draining:            s.engine.Draining(),
		ConsecutiveFailures: s.failures,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	if stats, err := s.queue.Stats(); err == nil {
		status.QueueStats = stats
	}
	return status
}

// IsRunning reports whether the periodic worker is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
