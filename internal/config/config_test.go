package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("TIERMEM_TEST_ROOT", "/var/lib/tiermem")
	path := writeFile(t, "tiermem.yaml", `
storage:
  root: ${TIERMEM_TEST_ROOT}
  lock:
    redis_url: ${TIERMEM_TEST_REDIS:redis://localhost:6379/0}
    wait: 2s
warm:
  max_kb: 80
cold:
  backend: postgres
  url: postgres://localhost/tiermem
  timeout: 3
consolidation:
  agents: [scout, default]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Root != "/var/lib/tiermem" {
		t.Errorf("root = %q", cfg.Storage.Root)
	}
	if cfg.Storage.Lock.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("redis url default not applied: %q", cfg.Storage.Lock.RedisURL)
	}
	if cfg.Storage.Lock.Wait.Duration != 2*time.Second {
		t.Errorf("wait = %v", cfg.Storage.Lock.Wait)
	}
	if cfg.Cold.Timeout.Duration != 3*time.Second {
		t.Errorf("numeric timeout = %v", cfg.Cold.Timeout)
	}
	if cfg.Warm.MaxKB != 80 || cfg.Warm.RetentionDays != 30 {
		t.Errorf("warm = %+v", cfg.Warm)
	}
	if len(cfg.Consolidation.Agents) != 2 || cfg.Consolidation.Daily != "@daily" {
		t.Errorf("consolidation = %+v", cfg.Consolidation)
	}
	if got := cfg.Cold.Store(); got.Backend != "postgres" || got.CacheTTL != time.Minute {
		t.Errorf("cold store config = %+v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "tiermem.json", `{
  "scoring": {"half_life_days": 14},
  "llm": {
    "providers": [{"id": "local", "type": "openai", "endpoint": "http://localhost:11434/v1", "timeout": "45s"}],
    "default": "local",
    "use_for_search": true,
    "fallbacks": {"*": ["local"]}
  }
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scoring.HalfLifeDays != 14 || cfg.Scoring.ReinforcementBoost != 0.1 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if len(cfg.LLM.Providers) != 1 {
		t.Fatalf("providers = %+v", cfg.LLM.Providers)
	}
	if got := cfg.LLM.Fallbacks["*"]; len(got) != 1 || got[0] != "local" {
		t.Errorf("fallbacks = %v", cfg.LLM.Fallbacks)
	}
	pc := cfg.LLM.Providers[0].Provider()
	if pc.Timeout != 45*time.Second || pc.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("provider = %+v", pc)
	}
	mem := cfg.Memory()
	if mem.Scoring.HalfLifeDays != 14 || mem.Tree.MaxNodes != 50 || mem.ActorIdle != 5*time.Minute {
		t.Errorf("memory config = %+v", mem)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := writeFile(t, "bad.yaml", "cold:\n  timeout: soon\n")
	if _, err := Load(bad); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadOrDefault(t *testing.T) {
	logger := zap.NewNop()
	if cfg := LoadOrDefault("", logger); cfg.Server.Port != 8080 {
		t.Errorf("empty path port = %d", cfg.Server.Port)
	}
	bad := writeFile(t, "broken.json", "{")
	cfg := LoadOrDefault(bad, logger)
	if cfg.Storage.Root != "memory" || cfg.Distillation.Mode != "rule" {
		t.Errorf("fallback config = %+v", cfg)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "tiermem.yaml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.Tree.MaxNodes != 50 || cfg.Consolidation.Daily != "0 3 * * *" {
		t.Errorf("example config = %+v", cfg)
	}
}
