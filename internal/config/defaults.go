package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "10s"-style strings or a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch t := v.(type) {
	case nil:
		d.Duration = 0
	case float64:
		d.Duration = time.Duration(t * float64(time.Second))
	case int:
		d.Duration = time.Duration(t) * time.Second
	case string:
		parsed, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Default returns the full default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	orDefault(&c.Server.Port, 8080)
	orDefault(&c.Server.LogLevel, "development")

	orDefault(&c.Storage.Root, "memory")
	orDefault(&c.Storage.Lock.TTL.Duration, 30*time.Second)
	orDefault(&c.Storage.Lock.Wait.Duration, 5*time.Second)
	orDefault(&c.Storage.ActorIdle.Duration, 5*time.Minute)

	orDefault(&c.Hot.MaxBytes, 5120)
	orDefault(&c.Hot.MaxLessons, 20)
	orDefault(&c.Hot.MaxEvents, 10)
	orDefault(&c.Hot.MaxTasks, 10)

	orDefault(&c.Warm.MaxKB, 50)
	orDefault(&c.Warm.RetentionDays, 30)
	orDefault(&c.Warm.EvictionThreshold, 0.3)

	orDefault(&c.Scoring.HalfLifeDays, 30)
	orDefault(&c.Scoring.ReinforcementBoost, 0.1)

	orDefault(&c.Tree.MaxNodes, 50)
	orDefault(&c.Tree.MaxDepth, 4)
	orDefault(&c.Tree.MaxSizeBytes, 2048)
	orDefault(&c.Tree.PruneHalfLifeDays, 7)
	orDefault(&c.Tree.DeadNodeAgeDays, 60)

	orDefault(&c.Cold.Timeout.Duration, 10*time.Second)
	orDefault(&c.Cold.CacheTTL.Duration, time.Minute)

	orDefault(&c.LLM.SearchTimeout.Duration, 20*time.Second)

	orDefault(&c.Distillation.Mode, "rule")
	orDefault(&c.Distillation.MaxDistilledBytes, 100)
	orDefault(&c.Distillation.CoreSummaryBytes, 30)
	orDefault(&c.Distillation.Timeout.Duration, 10*time.Second)

	orDefault(&c.Consolidation.Quick, "@hourly")
	orDefault(&c.Consolidation.Daily, "@daily")
	orDefault(&c.Consolidation.Monthly, "@monthly")
	if len(c.Consolidation.Agents) == 0 {
		c.Consolidation.Agents = []string{"default"}
	}
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}
