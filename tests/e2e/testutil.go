//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/nidhogg/tiermem/internal/provider"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// Package-level shared state, set by TestMain and used by all tests.
var (
	testLogger    *zap.Logger
	testPGDSN     string
	testRedisURL  string
	testLLMConfig *provider.ProviderConfig
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("tiermem_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// llmConfigFromEnv reads an optional live provider for LLM ranking tests.
func llmConfigFromEnv() *provider.ProviderConfig {
	endpoint := os.Getenv("TIERMEM_TEST_PROVIDER_ENDPOINT")
	apiKey := os.Getenv("TIERMEM_TEST_PROVIDER_API_KEY")
	model := os.Getenv("TIERMEM_TEST_PROVIDER_MODEL")
	if endpoint == "" || apiKey == "" || model == "" {
		return nil
	}
	typ := os.Getenv("TIERMEM_TEST_PROVIDER_TYPE")
	if typ == "" {
		typ = "openai"
	}
	return &provider.ProviderConfig{ID: "e2e", Type: typ, Endpoint: endpoint, APIKey: apiKey, Model: model}
}

// skipIfNoLLM skips the test if LLM env vars are not configured.
func skipIfNoLLM(t *testing.T) {
	t.Helper()
	if testLLMConfig == nil {
		t.Skip("LLM provider not configured (set TIERMEM_TEST_PROVIDER_ENDPOINT, TIERMEM_TEST_PROVIDER_API_KEY, TIERMEM_TEST_PROVIDER_MODEL)")
	}
}
