package hot

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(limits Limits) *Store {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}
	return New(nil, limits, clock, zap.NewNop())
}

func TestUpdateIdentityMerges(t *testing.T) {
	s := newTestStore(DefaultLimits())
	if err := s.Update(KeyIdentity, map[string]any{"name": "Nuka", "role": "assistant"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Update(KeyIdentity, map[string]any{"role": "archivist"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	id := s.State().Identity
	if id["name"] != "Nuka" || id["role"] != "archivist" {
		t.Errorf("unexpected identity: %v", id)
	}
}

func TestUpdateUnknownKey(t *testing.T) {
	s := newTestStore(DefaultLimits())
	err := s.Update("mood", map[string]any{"text": "x"})
	if !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("got %v, want ErrUnknownKey", err)
	}
}

func TestUpdateLessonDefaults(t *testing.T) {
	s := newTestStore(DefaultLimits())
	if err := s.Update(KeyLesson, map[string]any{"text": "always back up"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	l := s.State().CriticalLessons[0]
	if l.Category != "general" || l.Importance != 0.7 || l.Timestamp == 0 {
		t.Errorf("unexpected lesson: %+v", l)
	}
}

func TestProjectUpsertByName(t *testing.T) {
	s := newTestStore(DefaultLimits())
	_ = s.Update(KeyProject, map[string]any{"name": "garden", "status": "planning"})
	_ = s.Update(KeyProject, map[string]any{"name": "garden", "status": "active"})
	_ = s.Update(KeyProject, map[string]any{"name": "hackathon"})

	projects := s.State().ActiveContext.Projects
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if projects[0].Status != "active" {
		t.Errorf("got status %q, want active", projects[0].Status)
	}
}

func TestEventsAndTasksKeepMostRecent(t *testing.T) {
	s := newTestStore(DefaultLimits())
	for i := 0; i < 15; i++ {
		_ = s.Update(KeyEvent, map[string]any{"text": fmt.Sprintf("event %d", i)})
		_ = s.Update(KeyTask, map[string]any{"text": fmt.Sprintf("task %d", i)})
	}
	ctx := s.State().ActiveContext
	if len(ctx.Events) != 10 || len(ctx.Tasks) != 10 {
		t.Fatalf("got %d events / %d tasks, want 10/10", len(ctx.Events), len(ctx.Tasks))
	}
	if ctx.Events[0].Text != "event 5" || ctx.Tasks[9].Text != "task 14" {
		t.Errorf("wrong window kept: first event %q, last task %q", ctx.Events[0].Text, ctx.Tasks[9].Text)
	}
	if ctx.Tasks[0].Status != "pending" {
		t.Errorf("got task status %q, want pending", ctx.Tasks[0].Status)
	}
}

func TestLessonCapKeepsHighestImportance(t *testing.T) {
	s := newTestStore(DefaultLimits())
	for i := 0; i < 25; i++ {
		imp := float64(i) * 0.04
		if err := s.Update(KeyLesson, map[string]any{
			"text":       fmt.Sprintf("lesson %02d", i),
			"importance": imp,
		}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		lessons := s.State().CriticalLessons
		if len(lessons) > 20 {
			t.Fatalf("after %d updates got %d lessons", i+1, len(lessons))
		}
		if i == 20 && len(lessons) != 20 {
			t.Fatalf("after 21st update got %d lessons, want 20", len(lessons))
		}
	}

	kept := map[string]bool{}
	for _, l := range s.State().CriticalLessons {
		kept[l.Text] = true
	}
	for i := 0; i < 5; i++ {
		if kept[fmt.Sprintf("lesson %02d", i)] {
			t.Errorf("lesson %02d (low importance) should have been dropped", i)
		}
	}
	for i := 5; i < 25; i++ {
		if !kept[fmt.Sprintf("lesson %02d", i)] {
			t.Errorf("lesson %02d should have been kept", i)
		}
	}
}

func TestByteBudgetDropsWeakestLesson(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBytes = 600
	s := newTestStore(limits)

	_ = s.Update(KeyLesson, map[string]any{"text": strings.Repeat("a", 150), "importance": 0.9})
	_ = s.Update(KeyLesson, map[string]any{"text": strings.Repeat("b", 150), "importance": 0.2})
	_ = s.Update(KeyLesson, map[string]any{"text": strings.Repeat("c", 150), "importance": 0.5})
	_ = s.Update(KeyLesson, map[string]any{"text": strings.Repeat("d", 150), "importance": 0.6})

	if s.Size() > limits.MaxBytes {
		t.Fatalf("size %d exceeds %d", s.Size(), limits.MaxBytes)
	}
	lessons := s.State().CriticalLessons
	if len(lessons) == 0 || lessons[0].Importance != 0.9 {
		t.Fatalf("highest-importance lesson must survive, got %+v", lessons)
	}
	for _, l := range lessons {
		if l.Importance == 0.2 {
			t.Errorf("lowest-importance lesson should be dropped first")
		}
	}
}

func TestWeakestLessonPrefersOldestTie(t *testing.T) {
	lessons := []Lesson{
		{Text: "new", Importance: 0.1, Timestamp: 20},
		{Text: "old", Importance: 0.1, Timestamp: 10},
		{Text: "strong", Importance: 0.9, Timestamp: 5},
	}
	if got := lessons[weakestLesson(lessons)].Text; got != "old" {
		t.Errorf("got %q, want old", got)
	}
}

func TestRenderSummarySections(t *testing.T) {
	s := newTestStore(DefaultLimits())
	_ = s.Update(KeyIdentity, map[string]any{"agent_name": "Nuka"})
	_ = s.Update(KeyOwnerProfile, map[string]any{"interests": []any{"gardening", "go"}})
	_ = s.Update(KeyProject, map[string]any{"name": "garden", "description": "raised beds", "status": "active"})
	_ = s.Update(KeyTask, map[string]any{"text": "order soil"})
	_ = s.Update(KeyEvent, map[string]any{"text": "met the neighbour"})
	_ = s.Update(KeyLesson, map[string]any{"text": "water early", "category": "garden"})

	out := s.RenderSummary()
	for _, want := range []string{
		"## Agent Identity",
		"- **Agent Name:** Nuka",
		"- **Interests:** gardening, go",
		"### garden",
		"**Status:** active",
		"- [PENDING] order soil",
		"met the neighbour",
		"- **[garden]** water early",
		"*Generated: 2025-03-14",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}

func TestRenderSummaryOversizeIsNotFatal(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBytes = 50
	s := New(nil, Limits{MaxLessons: 20, MaxEvents: 10, MaxTasks: 10}, nil, zap.NewNop())
	_ = s.Update(KeyIdentity, map[string]any{"name": strings.Repeat("x", 100)})
	s.limits = limits

	if out := s.RenderSummary(); len(out) <= limits.MaxBytes {
		t.Fatalf("expected oversized render, got %d bytes", len(out))
	}
}
