package config

import (
	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/distill"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/lock"
	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/provider"
	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/tree"
	"github.com/nidhogg/tiermem/internal/warm"
)

// Memory gathers the per-tier engine settings.
func (c *Config) Memory() memory.Config {
	return memory.Config{
		Scoring:     c.Scoring.Scorer(),
		Hot:         c.Hot.Limits(),
		Warm:        c.Warm.Store(),
		Tree:        c.Tree.Index(),
		ColdTimeout: c.Cold.Timeout.Duration,
		ActorIdle:   c.Storage.ActorIdle.Duration,
	}
}

func (c HotConfig) Limits() hot.Limits {
	return hot.Limits{
		MaxBytes:   c.MaxBytes,
		MaxLessons: c.MaxLessons,
		MaxEvents:  c.MaxEvents,
		MaxTasks:   c.MaxTasks,
	}
}

func (c WarmConfig) Store() warm.Config {
	return warm.Config{
		MaxKB:             c.MaxKB,
		RetentionDays:     c.RetentionDays,
		EvictionThreshold: c.EvictionThreshold,
	}
}

func (c ScoringConfig) Scorer() scoring.Config {
	return scoring.Config{
		HalfLifeDays:       c.HalfLifeDays,
		ReinforcementBoost: c.ReinforcementBoost,
	}
}

func (c TreeConfig) Index() tree.Config {
	return tree.Config{
		MaxNodes:          c.MaxNodes,
		MaxDepth:          c.MaxDepth,
		MaxSizeBytes:      c.MaxSizeBytes,
		PruneHalfLifeDays: c.PruneHalfLifeDays,
		DeadNodeAgeDays:   c.DeadNodeAgeDays,
	}
}

func (c ColdConfig) Store() cold.Config {
	return cold.Config{
		Backend:   c.Backend,
		URL:       c.URL,
		AuthToken: c.AuthToken,
		Timeout:   c.Timeout.Duration,
		CacheTTL:  c.CacheTTL.Duration,
	}
}

func (c LockConfig) Locker() lock.Config {
	return lock.Config{
		RedisURL: c.RedisURL,
		TTL:      c.TTL.Duration,
		Wait:     c.Wait.Duration,
	}
}

func (c DistillationConfig) Distiller() distill.Config {
	return distill.Config{
		Mode:             c.Mode,
		MaxBytes:         c.MaxDistilledBytes,
		CoreSummaryBytes: c.CoreSummaryBytes,
		Timeout:          c.Timeout.Duration,
	}
}

func (c ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:       c.ID,
		Type:     c.Type,
		Name:     c.Name,
		Endpoint: c.Endpoint,
		APIKey:   c.APIKey,
		Model:    c.Model,
		Extra:    c.Extra,
		Timeout:  c.Timeout.Duration,
	}
}
