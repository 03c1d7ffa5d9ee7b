package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/metrics"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu       sync.Mutex
	runs     []string
	recorded int
	failFor  string
}

func (f *fakeEngine) Consolidate(_ context.Context, agentID string, mode memory.Mode) (*memory.ConsolidationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if agentID == f.failFor {
		return nil, errors.New("boom")
	}
	f.runs = append(f.runs, agentID+":"+string(mode))
	return &memory.ConsolidationStats{Mode: mode, AgentID: agentID}, nil
}

func (f *fakeEngine) RecordMetrics(context.Context, string) (*metrics.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded++
	return &metrics.Snapshot{}, nil
}

func TestRunAllContinuesPastFailures(t *testing.T) {
	eng := &fakeEngine{failFor: "broken"}
	s := New(eng, Schedules{}, []string{"default", "broken", "scout"}, zap.NewNop())

	s.RunAll(context.Background(), memory.ModeDaily)

	if len(eng.runs) != 2 || eng.runs[0] != "default:daily" || eng.runs[1] != "scout:daily" {
		t.Errorf("runs %v", eng.runs)
	}
	if eng.recorded != 2 {
		t.Errorf("recorded %d samples, want 2", eng.recorded)
	}
}

func TestRunAllStopsOnCancel(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, Schedules{}, []string{"a", "b"}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunAll(ctx, memory.ModeQuick)
	if len(eng.runs) != 0 {
		t.Errorf("ran after cancel: %v", eng.runs)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&fakeEngine{}, Schedules{Quick: "not a cron"}, []string{"default"}, zap.NewNop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop()
		t.Fatal("expected schedule error")
	}
}

func TestStartStop(t *testing.T) {
	s := New(&fakeEngine{}, Schedules{Quick: "@hourly", Daily: "@daily", Monthly: "@monthly"}, []string{"default"}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second start should fail")
	}
	s.Stop()
	s.Stop()
	if err := s.Start(ctx); err != nil {
		t.Errorf("restart after stop: %v", err)
	}
	s.Stop()
}
