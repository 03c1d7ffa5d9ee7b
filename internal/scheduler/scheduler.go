// Package scheduler runs consolidation on cron schedules for a fixed set of
// agent namespaces.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/metrics"
	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Engine is the part of memory.Engine the scheduler drives.
type Engine interface {
	Consolidate(ctx context.Context, agentID string, mode memory.Mode) (*memory.ConsolidationStats, error)
	RecordMetrics(ctx context.Context, agentID string) (*metrics.Snapshot, error)
}

// Schedules holds one cron expression per consolidation level. An empty
// expression disables that level.
type Schedules struct {
	Quick   string
	Daily   string
	Monthly string
}

// Scheduler triggers consolidation runs.
type Scheduler struct {
	engine    Engine
	schedules Schedules
	agents    []string
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc
}

// New creates a scheduler for agents.
func New(engine Engine, schedules Schedules, agents []string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		engine:    engine,
		schedules: schedules,
		agents:    agents,
		timeout:   5 * time.Minute,
		logger:    logger,
	}
}

// Start registers the schedules and starts the cron runner. Cancelling
// ctx stops it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := rcron.New()
	jobs := []struct {
		expr string
		mode memory.Mode
	}{
		{s.schedules.Quick, memory.ModeQuick},
		{s.schedules.Daily, memory.ModeDaily},
		{s.schedules.Monthly, memory.ModeMonthly},
	}
	runCtx, cancel := context.WithCancel(ctx)
	for _, j := range jobs {
		if j.expr == "" {
			continue
		}
		mode := j.mode
		if _, err := c.AddFunc(j.expr, func() { s.RunAll(runCtx, mode) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s consolidation %q: %w", mode, j.expr, err)
		}
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("consolidation scheduler started",
		zap.Int("entries", len(c.Entries())),
		zap.Strings("agents", s.agents))

	go func() {
		<-runCtx.Done()
		s.stop(c)
	}()
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	s.stop(c)
}

// stop halts c if it is still the active runner.
func (s *Scheduler) stop(c *rcron.Cron) {
	s.mu.Lock()
	if c == nil || s.cron != c {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn("consolidation jobs still running after stop")
	}
	s.logger.Info("consolidation scheduler stopped")
}

// RunAll consolidates every configured agent at mode, then records a
// metrics sample for each. One agent's failure does not stop the others.
func (s *Scheduler) RunAll(ctx context.Context, mode memory.Mode) {
	for _, agent := range s.agents {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		stats, err := s.engine.Consolidate(runCtx, agent, mode)
		if err != nil {
			cancel()
			s.logger.Error("scheduled consolidation failed",
				zap.String("agent", agent), zap.String("mode", string(mode)), zap.Error(err))
			continue
		}
		if _, err := s.engine.RecordMetrics(runCtx, agent); err != nil {
			s.logger.Warn("record metrics sample", zap.String("agent", agent), zap.Error(err))
		}
		cancel()
		s.logger.Debug("scheduled consolidation done",
			zap.String("agent", agent),
			zap.String("mode", string(mode)),
			zap.Int("evicted", stats.EvictedWarm))
	}
}
