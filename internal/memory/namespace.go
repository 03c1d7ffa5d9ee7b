package memory

import (
	"errors"
	"fmt"

	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/metrics"
	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/tree"
	"github.com/nidhogg/tiermem/internal/warm"
)

// namespace is one agent's loaded state for the length of a cycle.
type namespace struct {
	agentID  string
	hot      *hot.Store
	warm     *warm.Store
	tree     *tree.Index
	counters metrics.Counters

	corrupt map[string]error // tolerant loads only
	dirty   map[string]bool
}

func (ns *namespace) touch(docs ...string) {
	for _, d := range docs {
		ns.dirty[d] = true
	}
}

func (e *Engine) load(agentID string, mode loadMode) (*namespace, error) {
	ns := &namespace{
		agentID: agentID,
		corrupt: map[string]error{},
		dirty:   map[string]bool{},
	}

	var (
		state  hot.State
		facts  []warm.Fact
		nodes  map[string]*tree.Node
		counts metrics.Counters
	)
	docs := []struct {
		name  string
		v     any
		reset func()
	}{
		{docstore.HotDoc, &state, func() { state = hot.State{} }},
		{docstore.WarmDoc, &facts, func() { facts = nil }},
		{docstore.TreeDoc, &nodes, func() { nodes = nil }},
		{docstore.MetricsDoc, &counts, func() { counts = metrics.Counters{} }},
	}
	for _, d := range docs {
		_, err := e.docs.Load(agentID, d.name, d.v)
		if err == nil {
			continue
		}
		if !errors.Is(err, docstore.ErrCorrupt) {
			return nil, err
		}
		if mode == strict {
			return nil, fmt.Errorf("%w: %w", ErrNamespaceCorrupt, err)
		}
		d.reset()
		ns.corrupt[d.name] = err
	}

	ns.hot = hot.New(&state, e.cfg.Hot, e.now, e.logger)
	ns.warm = warm.New(facts, e.cfg.Warm, scoring.NewScorer(e.cfg.Scoring, e.now), e.logger)
	ns.tree = tree.New(nodes, e.cfg.Tree, e.now, e.logger)
	ns.counters = counts
	return ns, nil
}

// save writes every dirty document. The tree is fitted to its byte budget
// first.
func (e *Engine) save(ns *namespace) error {
	if ns.dirty[docstore.WarmDoc] {
		if err := e.docs.Save(ns.agentID, docstore.WarmDoc, ns.warm.Facts()); err != nil {
			return fmt.Errorf("save warm memory: %w", err)
		}
	}
	if ns.dirty[docstore.TreeDoc] {
		ns.tree.FitToSize()
		if err := e.docs.Save(ns.agentID, docstore.TreeDoc, ns.tree.Nodes()); err != nil {
			return fmt.Errorf("save tree index: %w", err)
		}
	}
	if ns.dirty[docstore.HotDoc] {
		if err := e.docs.Save(ns.agentID, docstore.HotDoc, ns.hot.State()); err != nil {
			return fmt.Errorf("save hot state: %w", err)
		}
	}
	if ns.dirty[docstore.MetricsDoc] {
		if err := e.docs.Save(ns.agentID, docstore.MetricsDoc, ns.counters); err != nil {
			return fmt.Errorf("save metrics: %w", err)
		}
	}
	return nil
}
