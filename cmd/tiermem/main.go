package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/config"
	"github.com/nidhogg/tiermem/internal/distill"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/lock"
	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/provider"
	"github.com/nidhogg/tiermem/internal/ranker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	agentID    string
	useLLM     bool
}

// app is what a subcommand runs against.
type app struct {
	cfg    *config.Config
	engine *memory.Engine
	logger *zap.Logger
	out    io.Writer
}

func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("close engine", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newApp loads configuration and wires the engine. Collaborators that fail
// to come up are logged and left out, except a configured redis lock, which
// is fatal. Without redis, namespaces are locked with flock files.
func newApp(ctx context.Context, cmd *cobra.Command, opts *options) (*app, error) {
	bootstrap := newLogger(os.Getenv("TIERMEM_LOG_LEVEL"))
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("TIERMEM_CONFIG")
	}
	cfg := config.LoadOrDefault(cfgPath, bootstrap)
	logger := newLogger(cfg.Server.LogLevel)

	var coldStore cold.Store
	if cfg.Cold.Store().Enabled() {
		s, err := cold.New(ctx, cfg.Cold.Store(), logger)
		switch {
		case errors.Is(err, cold.ErrNotConfigured):
			logger.Warn("cold tier incomplete, running without it", zap.String("backend", cfg.Cold.Backend))
		case err != nil:
			logger.Warn("cold tier unavailable, running without it", zap.Error(err))
		default:
			coldStore = s
		}
	}

	docs := docstore.New(cfg.Storage.Root, logger)
	var locker lock.Locker = lock.NewFile(docs.Dir, cfg.Storage.Lock.Wait.Duration, logger)
	if cfg.Storage.Lock.RedisURL != "" {
		l, err := lock.NewRedis(cfg.Storage.Lock.Locker(), logger)
		if err != nil {
			if coldStore != nil {
				_ = coldStore.Close()
			}
			return nil, fmt.Errorf("namespace lock: %w", err)
		}
		locker = l
	}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.LLM.Providers {
		p, err := provider.New(pc.Provider(), logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}
	if cfg.LLM.Default != "" {
		router.SetDefault(cfg.LLM.Default)
	}
	for agent, id := range cfg.LLM.Bindings {
		router.Bind(agent, id)
	}
	for agent, chain := range cfg.LLM.Fallbacks {
		router.SetFallbacks(agent, chain)
	}

	var rk ranker.Ranker
	if (opts.useLLM || cfg.LLM.UseForSearch) && router.Available() {
		rk = ranker.NewLLM(router, ranker.NewKeyword(time.Now), cfg.LLM.SearchTimeout.Duration, logger)
	}

	engine := memory.NewEngine(cfg.Memory(), memory.Deps{
		Docs:      docs,
		Cold:      coldStore,
		Locker:    locker,
		Ranker:    rk,
		Distiller: distill.New(cfg.Distillation.Distiller(), router, time.Now, logger),
	}, logger)

	return &app{cfg: cfg, engine: engine, logger: logger, out: cmd.OutOrStdout()}, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tiermem",
		Short:         "tiermem - tiered agent memory (hot, warm, cold)",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (.json, .yaml); defaults to $TIERMEM_CONFIG")
	root.PersistentFlags().StringVar(&opts.agentID, "agent-id", docstore.DefaultAgent, "agent namespace")
	root.PersistentFlags().BoolVar(&opts.useLLM, "llm", false, "rank categories with the configured LLM")

	root.AddCommand(
		storeCmd(opts),
		retrieveCmd(opts),
		distillCmd(opts),
		consolidateCmd(opts),
		syncCriticalCmd(opts),
		metricsCmd(opts),
		hotCmd(opts),
		treeCmd(opts),
		coldCmd(opts),
		restoreCmd(opts),
		resetCmd(opts),
		serveCmd(opts),
	)
	return root
}

// withApp wraps a subcommand body with app setup and teardown.
func withApp(opts *options, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := newApp(ctx, cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}
