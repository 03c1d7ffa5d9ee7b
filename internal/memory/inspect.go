package memory

import (
	"context"
	"math"
	"time"

	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/metrics"
	"github.com/nidhogg/tiermem/internal/tree"
	"go.uber.org/zap"
)

// HotUpdateResult acknowledges a hot update.
type HotUpdateResult struct {
	Updated string `json:"updated"`
	Synced  bool   `json:"synced"`
}

// HotUpdate merges data into one hot section. With a cold tier attached
// the new state is also snapshotted for recovery.
func (e *Engine) HotUpdate(ctx context.Context, agentID, key string, data map[string]any) (*HotUpdateResult, error) {
	res := &HotUpdateResult{Updated: key}
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		if err := ns.hot.Update(key, data); err != nil {
			return err
		}
		ns.touch(docstore.HotDoc)
		if e.cold != nil {
			res.Synced = e.upsertSnapshot(ctx, ns) == nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// HotState returns agentID's hot state as last saved.
func (e *Engine) HotState(ctx context.Context, agentID string) (*hot.State, error) {
	var state *hot.State
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		state = ns.hot.State()
		return nil
	})
	return state, err
}

// RebuildResult describes a re-rendered hot summary.
type RebuildResult struct {
	Output    string `json:"output"`
	SizeBytes int    `json:"size_bytes"`
	MaxBytes  int    `json:"max_bytes"`
}

// HotRebuild re-renders and writes agentID's hot summary document.
func (e *Engine) HotRebuild(ctx context.Context, agentID string) (*RebuildResult, error) {
	var res *RebuildResult
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		content := ns.hot.RenderSummary()
		path, err := e.docs.WriteSummary(agentID, content)
		if err != nil {
			return err
		}
		res = &RebuildResult{Output: path, SizeBytes: len(content), MaxBytes: e.cfg.Hot.MaxBytes}
		return nil
	})
	return res, err
}

// TreeShow renders agentID's category index as an outline.
func (e *Engine) TreeShow(ctx context.Context, agentID string) (string, error) {
	var out string
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		out = ns.tree.Show()
		return nil
	})
	return out, err
}

// TreeNodes returns agentID's category nodes keyed by path.
func (e *Engine) TreeNodes(ctx context.Context, agentID string) (map[string]*tree.Node, error) {
	var nodes map[string]*tree.Node
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		nodes = ns.tree.Nodes()
		return nil
	})
	return nodes, err
}

// TreeAdd creates a category node and any missing ancestors. It reports
// false when the index bounds forbid the node.
func (e *Engine) TreeAdd(ctx context.Context, agentID, path, desc string) (bool, error) {
	var ok bool
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		ok = ns.tree.AddNode(NormalizeCategory(path), desc)
		ns.touch(docstore.TreeDoc)
		return nil
	})
	return ok, err
}

// TreeRemove deletes an empty category node.
func (e *Engine) TreeRemove(ctx context.Context, agentID, path string) (bool, error) {
	var ok bool
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		ok = ns.tree.RemoveNode(path)
		if ok {
			ns.touch(docstore.TreeDoc)
		}
		return nil
	})
	return ok, err
}

// TreePrune removes dead category nodes and returns how many went.
func (e *Engine) TreePrune(ctx context.Context, agentID string) (int, error) {
	var n int
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		n = ns.tree.PruneDeadNodes(e.cfg.Tree.DeadNodeAgeDays)
		ns.touch(docstore.TreeDoc)
		return nil
	})
	return n, err
}

// TreeMatch lists the category paths matching a glob.
func (e *Engine) TreeMatch(ctx context.Context, agentID, pattern string) ([]string, error) {
	var paths []string
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		var err error
		paths, err = ns.tree.Match(pattern)
		return err
	})
	return paths, err
}

// Metrics returns agentID's counters plus current tier sizes.
func (e *Engine) Metrics(ctx context.Context, agentID string) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		snap = e.snapshot(ns)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// RecordMetrics appends the current snapshot to agentID's history log.
func (e *Engine) RecordMetrics(ctx context.Context, agentID string) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		snap = e.snapshot(ns)
		return e.history.Record(agentID, metrics.SampleOf(snap, e.now()))
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// MetricsHistory returns the history samples of the last days days.
func (e *Engine) MetricsHistory(ctx context.Context, agentID string, days int) ([]metrics.Sample, error) {
	if err := docstore.ValidateNamespace(agentID); err != nil {
		return nil, err
	}
	return e.history.Since(agentID, e.now().AddDate(0, 0, -days))
}

func (e *Engine) snapshot(ns *namespace) metrics.Snapshot {
	snap := metrics.Snapshot{
		Counters:           ns.counters,
		TreeIndexSizeBytes: ns.tree.Size(),
		TreeNodeCount:      ns.tree.Len(),
		TreeMaxNodes:       e.cfg.Tree.MaxNodes,
		HotMemorySizeBytes: ns.hot.Size(),
		HotMaxBytes:        e.cfg.Hot.MaxBytes,
		WarmMemoryCount:    len(ns.warm.Facts()),
		WarmMemorySizeKB:   math.Round(float64(ns.warm.Size())/1024*10) / 10,
		WarmMaxKB:          e.cfg.Warm.MaxKB,
		Timestamp:          e.now().Format(time.RFC3339),
	}
	ns.warm.Rescore()
	for i, f := range ns.warm.Facts() {
		if i == 0 || f.Score < snap.WarmScoreMin {
			snap.WarmScoreMin = f.Score
		}
		if i == 0 || f.Score > snap.WarmScoreMax {
			snap.WarmScoreMax = f.Score
		}
	}
	for _, n := range ns.tree.Nodes() {
		snap.ColdCount += n.ColdCount
	}
	e.logger.Debug("metrics snapshot", zap.String("agent", ns.agentID), zap.Int("warm", snap.WarmMemoryCount))
	return snap
}
