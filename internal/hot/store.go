package hot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nidhogg/tiermem/internal/scoring"
	"go.uber.org/zap"
)

// Update keys accepted by Store.Update.
const (
	KeyIdentity     = "identity"
	KeyOwnerProfile = "owner_profile"
	KeyLesson       = "lesson"
	KeyEvent        = "event"
	KeyTask         = "task"
	KeyProject      = "project"
)

// ErrUnknownKey is returned by Update for keys outside the accepted set.
var ErrUnknownKey = errors.New("hot: unknown update key")

const (
	defaultLessonCategory   = "general"
	defaultLessonImportance = 0.7
	defaultTaskStatus       = "pending"
)

// Limits bounds the hot state.
type Limits struct {
	MaxBytes   int
	MaxLessons int
	MaxEvents  int
	MaxTasks   int
}

// DefaultLimits returns the standard hot memory bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:   5120,
		MaxLessons: 20,
		MaxEvents:  10,
		MaxTasks:   10,
	}
}

// Store applies merges to a hot State and keeps it within its Limits.
type Store struct {
	state  *State
	limits Limits
	now    func() time.Time
	logger *zap.Logger
}

// New wraps state. A nil state starts empty; a nil clock means time.Now.
func New(state *State, limits Limits, now func() time.Time, logger *zap.Logger) *Store {
	if state == nil {
		state = NewState()
	}
	state.normalize()
	if now == nil {
		now = time.Now
	}
	return &Store{state: state, limits: limits, now: now, logger: logger}
}

// State returns the underlying state document.
func (s *Store) State() *State { return s.state }

// Update merges data into the section named by key, then re-applies limits.
func (s *Store) Update(key string, data map[string]any) error {
	ts := scoring.Unix(s.now())
	switch key {
	case KeyIdentity:
		for k, v := range data {
			s.state.Identity[k] = v
		}
	case KeyOwnerProfile:
		for k, v := range data {
			s.state.OwnerProfile[k] = v
		}
	case KeyLesson:
		s.state.CriticalLessons = append(s.state.CriticalLessons, Lesson{
			Text:       stringField(data, "text", ""),
			Category:   stringField(data, "category", defaultLessonCategory),
			Importance: floatField(data, "importance", defaultLessonImportance),
			Timestamp:  ts,
		})
	case KeyEvent:
		s.state.ActiveContext.Events = append(s.state.ActiveContext.Events, Event{
			Text:      stringField(data, "text", ""),
			Timestamp: ts,
		})
	case KeyTask:
		s.state.ActiveContext.Tasks = append(s.state.ActiveContext.Tasks, Task{
			Text:      stringField(data, "text", ""),
			Status:    stringField(data, "status", defaultTaskStatus),
			Timestamp: ts,
		})
	case KeyProject:
		s.upsertProject(data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	s.EnforceLimits()
	return nil
}

func (s *Store) upsertProject(data map[string]any) {
	name := stringField(data, "name", "")
	projects := s.state.ActiveContext.Projects
	for i := range projects {
		if projects[i].Name != name {
			continue
		}
		if v, ok := data["description"]; ok {
			projects[i].Description = fmt.Sprint(v)
		}
		if v, ok := data["status"]; ok {
			projects[i].Status = fmt.Sprint(v)
		}
		return
	}
	s.state.ActiveContext.Projects = append(projects, Project{
		Name:        name,
		Description: stringField(data, "description", ""),
		Status:      stringField(data, "status", ""),
	})
}

// EnforceLimits prunes lessons, events and tasks until the state fits.
func (s *Store) EnforceLimits() {
	lessons := s.state.CriticalLessons
	sort.SliceStable(lessons, func(i, j int) bool {
		return lessons[i].Importance > lessons[j].Importance
	})
	if s.limits.MaxLessons > 0 && len(lessons) > s.limits.MaxLessons {
		lessons = lessons[:s.limits.MaxLessons]
	}
	s.state.CriticalLessons = lessons

	ctx := &s.state.ActiveContext
	ctx.Events = keepLast(ctx.Events, s.limits.MaxEvents)
	ctx.Tasks = keepLast(ctx.Tasks, s.limits.MaxTasks)

	if s.limits.MaxBytes <= 0 {
		return
	}
	dropped := 0
	for s.Size() > s.limits.MaxBytes && len(s.state.CriticalLessons) > 0 {
		i := weakestLesson(s.state.CriticalLessons)
		s.state.CriticalLessons = append(s.state.CriticalLessons[:i], s.state.CriticalLessons[i+1:]...)
		dropped++
	}
	if dropped > 0 {
		s.logger.Debug("hot state over budget, dropped lessons",
			zap.Int("dropped", dropped),
			zap.Int("max_bytes", s.limits.MaxBytes))
	}
}

// weakestLesson picks the lowest-importance lesson, oldest among ties.
func weakestLesson(lessons []Lesson) int {
	idx := 0
	for i := 1; i < len(lessons); i++ {
		l, w := lessons[i], lessons[idx]
		if l.Importance < w.Importance || (l.Importance == w.Importance && l.Timestamp < w.Timestamp) {
			idx = i
		}
	}
	return idx
}

func keepLast[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return append([]T(nil), items[len(items)-n:]...)
}

// Size is the serialized byte size of the state.
func (s *Store) Size() int {
	return Size(s.state)
}

// Size is the compact JSON byte size of a state document.
func Size(state *State) int {
	b, err := json.Marshal(state)
	if err != nil {
		return 0
	}
	return len(b)
}

func stringField(data map[string]any, key, def string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func floatField(data map[string]any, key string, def float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}
