package scoring

import (
	"math"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScoreDecay(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultConfig(), fixedClock(now))

	created := Unix(now.Add(-30 * 24 * time.Hour))
	got := s.Score(1.0, created, 0)
	want := math.Exp(-1)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %f, want %f", got, want)
	}
}

func TestDecayedFactDropsBelowWarm(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultConfig(), fixedClock(now))

	got := s.Score(0.8, Unix(now.Add(-30*24*time.Hour)), 0)
	if math.Abs(got-0.2943) > 1e-4 {
		t.Errorf("got %f, want ~0.2943", got)
	}
	if tier := ClassifyTier(got); tier != TierCold {
		t.Errorf("tier %q, want cold", tier)
	}
}

func TestScoreFresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultConfig(), fixedClock(now))

	if got := s.Score(0.8, Unix(now), 0); math.Abs(got-0.8) > 1e-9 {
		t.Errorf("got %f, want 0.8", got)
	}
}

func TestScoreReinforcement(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorer(DefaultConfig(), fixedClock(now))

	got := s.Score(0.5, Unix(now), 5)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("got %f, want 0.75", got)
	}
}

func TestNewScorerDefaultsHalfLife(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewScorer(Config{ReinforcementBoost: 0.1}, fixedClock(now))

	got := s.Score(1.0, Unix(now.Add(-30*24*time.Hour)), 0)
	if math.Abs(got-math.Exp(-1)) > 1e-9 {
		t.Errorf("zero half-life should fall back to default, got %f", got)
	}
}

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		score float64
		want  DisplayTier
	}{
		{1.0, TierHot},
		{0.7, TierHot},
		{0.69, TierWarm},
		{0.3, TierWarm},
		{0.29, TierCold},
		{0.05, TierCold},
		{0.049, TierFrozen},
		{0, TierFrozen},
	}
	for _, tt := range tests {
		if got := ClassifyTier(tt.score); got != tt.want {
			t.Errorf("ClassifyTier(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestRecencyDecay(t *testing.T) {
	if got := RecencyDecay(14, 7); math.Abs(got-math.Exp(-2)) > 1e-9 {
		t.Errorf("age 2x half-life: got %f, want %f", got, math.Exp(-2))
	}
	if got := RecencyDecay(10, 0); got != 1 {
		t.Errorf("non-positive half-life should not decay, got %f", got)
	}
}
