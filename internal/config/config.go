package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Hot           HotConfig           `json:"hot" yaml:"hot"`
	Warm          WarmConfig          `json:"warm" yaml:"warm"`
	Scoring       ScoringConfig       `json:"scoring" yaml:"scoring"`
	Tree          TreeConfig          `json:"tree" yaml:"tree"`
	Cold          ColdConfig          `json:"cold" yaml:"cold"`
	LLM           LLMConfig           `json:"llm" yaml:"llm"`
	Distillation  DistillationConfig  `json:"distillation" yaml:"distillation"`
	Consolidation ConsolidationConfig `json:"consolidation" yaml:"consolidation"`
}

type ServerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

type StorageConfig struct {
	Root      string     `json:"root" yaml:"root"`
	Lock      LockConfig `json:"lock" yaml:"lock"`
	ActorIdle Duration   `json:"actor_idle" yaml:"actor_idle"`
}

type LockConfig struct {
	RedisURL string   `json:"redis_url" yaml:"redis_url"`
	TTL      Duration `json:"ttl" yaml:"ttl"`
	Wait     Duration `json:"wait" yaml:"wait"`
}

type HotConfig struct {
	MaxBytes   int `json:"max_bytes" yaml:"max_bytes"`
	MaxLessons int `json:"max_lessons" yaml:"max_lessons"`
	MaxEvents  int `json:"max_events" yaml:"max_events"`
	MaxTasks   int `json:"max_tasks" yaml:"max_tasks"`
}

type WarmConfig struct {
	MaxKB             int     `json:"max_kb" yaml:"max_kb"`
	RetentionDays     float64 `json:"retention_days" yaml:"retention_days"`
	EvictionThreshold float64 `json:"eviction_threshold" yaml:"eviction_threshold"`
}

type ScoringConfig struct {
	HalfLifeDays       float64 `json:"half_life_days" yaml:"half_life_days"`
	ReinforcementBoost float64 `json:"reinforcement_boost" yaml:"reinforcement_boost"`
}

type TreeConfig struct {
	MaxNodes          int     `json:"max_nodes" yaml:"max_nodes"`
	MaxDepth          int     `json:"max_depth" yaml:"max_depth"`
	MaxSizeBytes      int     `json:"max_size_bytes" yaml:"max_size_bytes"`
	PruneHalfLifeDays float64 `json:"prune_half_life_days" yaml:"prune_half_life_days"`
	DeadNodeAgeDays   float64 `json:"dead_node_age_days" yaml:"dead_node_age_days"`
}

type ColdConfig struct {
	Backend   string   `json:"backend" yaml:"backend"` // turso|postgres|sqlite, empty disables
	URL       string   `json:"url" yaml:"url"`
	AuthToken string   `json:"auth_token" yaml:"auth_token"`
	Timeout   Duration `json:"timeout" yaml:"timeout"`
	CacheTTL  Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

type LLMConfig struct {
	Providers     []ProviderConfig  `json:"providers" yaml:"providers"`
	Default       string            `json:"default" yaml:"default"`
	Bindings      map[string]string `json:"bindings,omitempty" yaml:"bindings,omitempty"`
	UseForSearch  bool              `json:"use_for_search" yaml:"use_for_search"`
	SearchTimeout Duration          `json:"search_timeout" yaml:"search_timeout"`

	// Fallbacks maps an agent id, or "*" for all agents, to the providers
	// tried in order when its primary provider fails.
	Fallbacks map[string][]string `json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

type ProviderConfig struct {
	ID       string            `json:"id" yaml:"id"`
	Type     string            `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	APIKey   string            `json:"api_key" yaml:"api_key"`
	Model    string            `json:"model" yaml:"model"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
	Timeout  Duration          `json:"timeout" yaml:"timeout"`
}

type DistillationConfig struct {
	Mode              string   `json:"mode" yaml:"mode"` // rule|llm
	MaxDistilledBytes int      `json:"max_distilled_bytes" yaml:"max_distilled_bytes"`
	CoreSummaryBytes  int      `json:"core_summary_bytes" yaml:"core_summary_bytes"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
}

// ConsolidationConfig holds cron specs for scheduled consolidation in
// serve mode. An empty spec disables that level.
type ConsolidationConfig struct {
	Quick   string   `json:"quick" yaml:"quick"`
	Daily   string   `json:"daily" yaml:"daily"`
	Monthly string   `json:"monthly" yaml:"monthly"`
	Agents  []string `json:"agents" yaml:"agents"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// expandEnv substitutes ${VAR} and ${VAR:default} with environment values.
func expandEnv(data string) string {
	return envVarRe.ReplaceAllStringFunc(data, func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
}

// Load reads a JSON or YAML config file, substitutes environment variable
// references and fills unset fields from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	resolved := []byte(expandEnv(string(data)))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(resolved, &cfg)
	default:
		err = json.Unmarshal(resolved, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault never fails: a missing or malformed file yields Default.
// An empty path means no file.
func LoadOrDefault(path string, logger *zap.Logger) *Config {
	if path == "" {
		return Default()
	}
	cfg, err := Load(path)
	if err != nil {
		logger.Warn("config unusable, using defaults", zap.String("path", path), zap.Error(err))
		return Default()
	}
	return cfg
}
