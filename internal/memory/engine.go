// Package memory is the tiered memory engine. Every agent namespace is owned
// by one actor goroutine that serializes its load-mutate-save cycles.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/distill"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/lock"
	"github.com/nidhogg/tiermem/internal/metrics"
	"github.com/nidhogg/tiermem/internal/ranker"
	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/tree"
	"github.com/nidhogg/tiermem/internal/warm"
	"go.uber.org/zap"
)

var (
	// ErrNamespaceCorrupt is returned for every operation on a namespace
	// holding an undecodable document, until Restore or Reset repairs it.
	ErrNamespaceCorrupt = errors.New("memory: namespace corrupt")
	// ErrUnknownMode rejects an unrecognized consolidation mode.
	ErrUnknownMode = errors.New("memory: unknown consolidation mode")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("memory: engine closed")
)

// Config gathers the per-tier settings.
type Config struct {
	Scoring     scoring.Config
	Hot         hot.Limits
	Warm        warm.Config
	Tree        tree.Config
	ColdTimeout time.Duration
	SearchTopK  int           // candidate categories per retrieval (default 3)
	ActorIdle   time.Duration // an idle namespace actor exits after this (default 5m)
}

// DefaultConfig returns the standard settings for every tier.
func DefaultConfig() Config {
	return Config{
		Scoring:     scoring.DefaultConfig(),
		Hot:         hot.DefaultLimits(),
		Warm:        warm.DefaultConfig(),
		Tree:        tree.DefaultConfig(),
		ColdTimeout: 10 * time.Second,
		SearchTopK:  3,
		ActorIdle:   5 * time.Minute,
	}
}

// Deps are the engine's collaborators. Only Docs is required.
type Deps struct {
	Docs      *docstore.FileStore
	Cold      cold.Store         // nil disables the cold tier
	Locker    lock.Locker        // nil means a flock file per namespace directory
	Ranker    ranker.Ranker      // nil means keyword ranking
	Distiller *distill.Distiller // nil means rule-based distillation
	Now       func() time.Time
}

// Engine runs memory operations against per-agent namespaces.
type Engine struct {
	cfg       Config
	docs      *docstore.FileStore
	cold      cold.Store
	locker    lock.Locker
	ranker    ranker.Ranker
	distiller *distill.Distiller
	history   *metrics.History
	now       func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

type actor struct {
	ops     chan func()
	pending int // callers holding this actor; guarded by Engine.mu
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	if cfg.ColdTimeout <= 0 {
		cfg.ColdTimeout = 10 * time.Second
	}
	if cfg.SearchTopK <= 0 {
		cfg.SearchTopK = 3
	}
	if cfg.ActorIdle <= 0 {
		cfg.ActorIdle = 5 * time.Minute
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewFile(deps.Docs.Dir, 0, logger)
	}
	if deps.Ranker == nil {
		deps.Ranker = ranker.NewKeyword(deps.Now)
	}
	if deps.Distiller == nil {
		deps.Distiller = distill.New(distill.DefaultConfig(), nil, deps.Now, logger)
	}
	return &Engine{
		cfg:       cfg,
		docs:      deps.Docs,
		cold:      deps.Cold,
		locker:    deps.Locker,
		ranker:    deps.Ranker,
		distiller: deps.Distiller,
		history:   metrics.NewHistory(deps.Docs, docstore.HistoryLog),
		now:       deps.Now,
		actors:    make(map[string]*actor),
		quit:      make(chan struct{}),
		logger:    logger,
	}
}

// ColdEnabled reports whether a cold backend is attached.
func (e *Engine) ColdEnabled() bool { return e.cold != nil }

// Now is the engine clock.
func (e *Engine) Now() time.Time { return e.now() }

// Close stops every namespace actor and closes the cold backend and lock.
// Operations already handed to an actor finish first.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.mu.Lock()
		close(e.quit)
		e.mu.Unlock()
	})
	e.wg.Wait()
	var errs []error
	if e.cold != nil {
		errs = append(errs, e.cold.Close())
	}
	errs = append(errs, e.locker.Close())
	return errors.Join(errs...)
}

func (e *Engine) actorFor(agentID string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.quit:
		return nil, ErrClosed
	default:
	}
	a, ok := e.actors[agentID]
	if !ok {
		a = &actor{ops: make(chan func())}
		e.actors[agentID] = a
		e.wg.Add(1)
		go e.run(agentID, a)
		e.logger.Debug("namespace actor started", zap.String("agent", agentID))
	}
	a.pending++
	return a, nil
}

func (e *Engine) releaseActor(a *actor) {
	e.mu.Lock()
	a.pending--
	e.mu.Unlock()
}

// run serves a's operations until the engine closes, or until it has been
// idle for cfg.ActorIdle with no caller holding it.
func (e *Engine) run(agentID string, a *actor) {
	defer e.wg.Done()
	idle := time.NewTimer(e.cfg.ActorIdle)
	defer idle.Stop()
	for {
		select {
		case op := <-a.ops:
			op()
			idle.Reset(e.cfg.ActorIdle)
		case <-idle.C:
			e.mu.Lock()
			if a.pending == 0 {
				delete(e.actors, agentID)
				e.mu.Unlock()
				e.logger.Debug("namespace actor stopped", zap.String("agent", agentID))
				return
			}
			e.mu.Unlock()
			idle.Reset(e.cfg.ActorIdle)
		case <-e.quit:
			return
		}
	}
}

// loadMode says how a cycle treats undecodable documents.
type loadMode int

const (
	strict   loadMode = iota // fail with ErrNamespaceCorrupt
	tolerant                 // record them in namespace.corrupt and start empty
)

// do runs fn inside agentID's actor as one locked load-mutate-save cycle.
// Nothing is saved when fn fails.
func (e *Engine) do(ctx context.Context, agentID string, mode loadMode, fn func(ns *namespace) error) error {
	if err := docstore.ValidateNamespace(agentID); err != nil {
		return err
	}
	a, err := e.actorFor(agentID)
	if err != nil {
		return err
	}
	defer e.releaseActor(a)

	done := make(chan error, 1)
	op := func() { done <- e.cycle(ctx, agentID, mode, fn) }
	select {
	case a.ops <- op:
	case <-e.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

func (e *Engine) cycle(ctx context.Context, agentID string, mode loadMode, fn func(ns *namespace) error) error {
	release, err := e.locker.Acquire(ctx, agentID)
	if err != nil {
		return fmt.Errorf("lock namespace %s: %w", agentID, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("release namespace lock", zap.String("agent", agentID), zap.Error(err))
		}
	}()

	ns, err := e.load(agentID, mode)
	if err != nil {
		return err
	}
	if err := fn(ns); err != nil {
		return err
	}
	return e.save(ns)
}

// coldCtx bounds a cold backend call.
func (e *Engine) coldCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.ColdTimeout)
}
