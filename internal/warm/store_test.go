package warm

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/tiermem/internal/scoring"
	"go.uber.org/zap"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestStore(cfg Config) (*Store, *fakeClock) {
	clock := &fakeClock{t: testNow}
	scorer := scoring.NewScorer(scoring.DefaultConfig(), clock.now)
	return New(nil, cfg, scorer, zap.NewNop()), clock
}

func TestAddSetsInitialFields(t *testing.T) {
	s, _ := newTestStore(DefaultConfig())
	f, evicted := s.Add("Alice prefers tea", "people/alice", 0.8)
	if len(evicted) != 0 {
		t.Fatalf("unexpected eviction: %v", evicted)
	}
	if f.ID == "" || f.Score != 0.8 || f.Tier != scoring.TierHot {
		t.Errorf("unexpected fact: %+v", f)
	}
	if f.CreatedAt != scoring.Unix(testNow) {
		t.Errorf("got created_at %v", f.CreatedAt)
	}
}

func TestBudgetInvariant(t *testing.T) {
	s, clock := newTestStore(Config{MaxKB: 1, RetentionDays: 30, EvictionThreshold: 0.3})
	for i := 0; i < 30; i++ {
		clock.t = clock.t.Add(time.Minute)
		s.Add(fmt.Sprintf("fact %d %s", i, strings.Repeat("x", 120)), "misc", float64(i%10)/10)
		if len(s.Facts()) > 1 && s.Size() > s.MaxBytes() {
			t.Fatalf("after add %d size %d exceeds %d", i, s.Size(), s.MaxBytes())
		}
	}
}

func TestBudgetNeverEvictsLastFact(t *testing.T) {
	s, _ := newTestStore(Config{MaxKB: 1})
	s.Add(strings.Repeat("y", 2000), "misc", 0.5)
	if len(s.Facts()) != 1 {
		t.Fatalf("got %d facts, want 1", len(s.Facts()))
	}
}

func TestEvictionSelectsLowestScore(t *testing.T) {
	s, _ := newTestStore(Config{MaxKB: 1})
	s.Add(strings.Repeat("a", 300), "misc", 0.9)
	s.Add(strings.Repeat("b", 300), "misc", 0.1)
	_, evicted := s.Add(strings.Repeat("c", 300), "misc", 0.5)

	if len(evicted) != 1 {
		t.Fatalf("got %d evictions, want 1", len(evicted))
	}
	if evicted[0].Importance != 0.1 {
		t.Errorf("evicted importance %v, want 0.1", evicted[0].Importance)
	}
	for _, f := range s.Facts() {
		if f.Importance == 0.1 {
			t.Errorf("0.1 fact still present")
		}
	}
}

func TestEvictExpired(t *testing.T) {
	s, clock := newTestStore(DefaultConfig())
	s.Add("old and weak", "misc", 0.4)
	s.Add("old but strong", "misc", 1.0)
	clock.t = clock.t.Add(31 * 24 * time.Hour)
	s.Add("young and weak", "misc", 0.1)

	evicted := s.EvictExpired()
	if len(evicted) != 1 || evicted[0].Text != "old and weak" {
		t.Fatalf("unexpected eviction set: %+v", evicted)
	}
	if len(s.Facts()) != 2 {
		t.Errorf("got %d facts left, want 2", len(s.Facts()))
	}
}

func TestSearchRanksAndCountsAccess(t *testing.T) {
	s, _ := newTestStore(DefaultConfig())
	s.Add("Alice likes green tea", "people/alice", 0.9)
	s.Add("green house project", "projects/garden", 0.5)
	s.Add("unrelated note", "misc", 1.0)

	hits := s.Search("green tea", 10)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Text != "Alice likes green tea" {
		t.Errorf("top hit %q", hits[0].Text)
	}
	if hits[0].Relevance <= hits[1].Relevance {
		t.Errorf("hits not sorted by relevance")
	}
	for _, f := range s.Facts() {
		want := 1
		if f.Text == "unrelated note" {
			want = 0
		}
		if f.AccessCount != want {
			t.Errorf("%q access_count %d, want %d", f.Text, f.AccessCount, want)
		}
	}
}

func TestSearchMatchesCategorySegments(t *testing.T) {
	s, _ := newTestStore(DefaultConfig())
	s.Add("planted tomatoes", "projects/home-garden", 0.6)

	if hits := s.Search("garden", 5); len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
}

func TestSearchLimitOnlyCountsReturned(t *testing.T) {
	s, _ := newTestStore(DefaultConfig())
	s.Add("tea one", "misc", 0.9)
	s.Add("tea two", "misc", 0.2)

	hits := s.Search("tea", 1)
	if len(hits) != 1 || hits[0].Text != "tea one" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	for _, f := range s.Facts() {
		if f.Text == "tea two" && f.AccessCount != 0 {
			t.Errorf("unreturned fact had its access counted")
		}
	}
}

func TestByCategoryPrefix(t *testing.T) {
	s, _ := newTestStore(DefaultConfig())
	s.Add("a", "people/alice", 0.3)
	s.Add("b", "people/bob", 0.8)
	s.Add("c", "projects/garden", 0.9)

	got := s.ByCategory("people", 0)
	if len(got) != 2 || got[0].Text != "b" {
		t.Fatalf("unexpected prefix result: %+v", got)
	}
	if got := s.ByCategory("people", 1); len(got) != 1 {
		t.Errorf("limit ignored: %d", len(got))
	}
}

func TestNewFactIDDeterministic(t *testing.T) {
	if NewFactID("x", 1.5) != NewFactID("x", 1.5) {
		t.Error("same input must give same id")
	}
	if NewFactID("x", 1.5) == NewFactID("x", 1.6) {
		t.Error("different timestamps must give different ids")
	}
}
