// Package worker runs the automation sweeps on their cron schedules.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gigmarket/backend/internal/services"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// Scheduler fires each sweep on its schedule. A sweep whose previous run is
// still going is skipped rather than stacked.
type Scheduler struct {
	cron    *cron.Cron
	sweeps  []services.Sweep
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	stopped bool
	running map[string]*atomic.Bool
	wg      sync.WaitGroup
}

func NewScheduler(sweeps []services.Sweep, timeout time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		sweeps:  sweeps,
		timeout: timeout,
		log:     log,
		ctx:     context.Background(),
		running: make(map[string]*atomic.Bool, len(sweeps)),
	}
}

// Register adds every sweep to the cron table. It fails on the first invalid
// schedule so a typo in the environment stops the worker at boot.
func (s *Scheduler) Register() error {
	for _, sw := range s.sweeps {
		sw := sw
		s.running[sw.Name] = &atomic.Bool{}
		if err := s.cron.AddFunc(sw.Schedule, func() { s.RunOnce(sw) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", sw.Name, sw.Schedule, err)
		}
		s.log.Info("sweep scheduled", zap.String("sweep", sw.Name), zap.String("schedule", sw.Schedule))
	}
	return nil
}

// Start begins firing sweeps. Runs derive from ctx, so cancelling it aborts
// in-flight sweeps.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop prevents new runs and waits for in-flight ones to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

// RunOnce executes one sweep with the configured timeout and logs its report.
// It reports false when the sweep was already running or the scheduler stopped.
func (s *Scheduler) RunOnce(sw services.Sweep) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug("scheduler stopped, skipping tick", zap.String("sweep", sw.Name))
		return false
	}
	flag, ok := s.running[sw.Name]
	if !ok {
		flag = &atomic.Bool{}
		s.running[sw.Name] = flag
	}
	if !flag.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.log.Warn("sweep still running, skipping tick", zap.String("sweep", sw.Name))
		return false
	}
	s.wg.Add(1)
	parent := s.ctx
	s.mu.Unlock()
	defer func() {
		flag.Store(false)
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	rep, err := sw.Run(ctx)
	if err != nil {
		s.log.Error("sweep failed", zap.String("sweep", sw.Name), zap.Error(err))
		return true
	}
	fields := []zap.Field{
		zap.String("sweep", sw.Name),
		zap.Int("processed", rep.Processed),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.Duration("took", rep.Duration),
	}
	switch {
	case rep.Failed > 0:
		s.log.Warn("sweep finished with failures", fields...)
	case rep.Processed > 0:
		s.log.Info("sweep finished", fields...)
	default:
		s.log.Debug("sweep finished", fields...)
	}
	return true
}
