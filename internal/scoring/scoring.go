package scoring

import (
	"math"
	"time"
)

// Config controls relevance decay and reinforcement.
type Config struct {
	HalfLifeDays       float64 // decay constant in days: recency = exp(-age/HalfLifeDays) (default 30)
	ReinforcementBoost float64 // score multiplier added per access (default 0.1)
}

// DefaultConfig returns the standard scoring constants.
func DefaultConfig() Config {
	return Config{
		HalfLifeDays:       30,
		ReinforcementBoost: 0.1,
	}
}

// DisplayTier is a descriptive score bucket. It never decides where a
// record is stored; see StorageLocation for that.
type DisplayTier string

const (
	TierHot    DisplayTier = "hot"
	TierWarm   DisplayTier = "warm"
	TierCold   DisplayTier = "cold"
	TierFrozen DisplayTier = "frozen"
)

// StorageLocation names the physical store currently holding a record.
type StorageLocation string

const (
	LocationHot  StorageLocation = "hot"
	LocationWarm StorageLocation = "warm"
	LocationCold StorageLocation = "cold"
)

const secondsPerDay = 86400

// Scorer computes relevance scores against an injectable clock.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// NewScorer creates a scorer. A nil clock means time.Now.
func NewScorer(cfg Config, now func() time.Time) *Scorer {
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = DefaultConfig().HalfLifeDays
	}
	if now == nil {
		now = time.Now
	}
	return &Scorer{cfg: cfg, now: now}
}

// Now returns the scorer's current time.
func (s *Scorer) Now() time.Time { return s.now() }

// Score returns importance × recency decay × reinforcement.
func (s *Scorer) Score(importance, createdAt float64, accessCount int) float64 {
	ageDays := AgeDays(s.now(), createdAt)
	return importance * RecencyDecay(ageDays, s.cfg.HalfLifeDays) * (1 + s.cfg.ReinforcementBoost*float64(accessCount))
}

// RecencyDecay is exp(-age/halfLife). One halfLife leaves about 0.37.
func RecencyDecay(ageDays, halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Exp(-ageDays / halfLife)
}

// AgeDays converts a unix timestamp into fractional days elapsed since then.
func AgeDays(now time.Time, unix float64) float64 {
	return (Unix(now) - unix) / secondsPerDay
}

// Unix returns t as fractional unix seconds.
func Unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ClassifyTier buckets a score into a display tier.
func ClassifyTier(score float64) DisplayTier {
	switch {
	case score >= 0.7:
		return TierHot
	case score >= 0.3:
		return TierWarm
	case score >= 0.05:
		return TierCold
	default:
		return TierFrozen
	}
}
