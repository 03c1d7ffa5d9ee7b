package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/distill"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/tree"
	"go.uber.org/zap"
)

// Snapshot is the recovery blob kept in the cold tier.
type Snapshot struct {
	HotState  *hot.State            `json:"hot_state"`
	TreeNodes map[string]*tree.Node `json:"tree_nodes"`
	Timestamp string                `json:"timestamp"`
}

// SyncResult reports a critical-state sync.
type SyncResult struct {
	Synced    bool   `json:"synced"`
	Timestamp string `json:"timestamp"`
}

func (e *Engine) upsertSnapshot(ctx context.Context, ns *namespace) error {
	payload, err := json.Marshal(Snapshot{
		HotState:  ns.hot.State(),
		TreeNodes: ns.tree.Nodes(),
		Timestamp: e.now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	cctx, cancel := e.coldCtx(ctx)
	defer cancel()
	if err := e.cold.UpsertBlob(cctx, ns.agentID, payload); err != nil {
		e.logger.Warn("critical state sync failed", zap.String("agent", ns.agentID), zap.Error(err))
		return err
	}
	return nil
}

// SyncCritical snapshots agentID's hot state and tree into the cold tier.
// It fails with cold.ErrNotConfigured when no cold tier is attached; a
// backend failure is reported as Synced false.
func (e *Engine) SyncCritical(ctx context.Context, agentID string) (*SyncResult, error) {
	if e.cold == nil {
		return nil, cold.ErrNotConfigured
	}
	res := &SyncResult{}
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		res.Synced = e.upsertSnapshot(ctx, ns) == nil
		res.Timestamp = e.now().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RestoreResult reports what Restore repaired.
type RestoreResult struct {
	Quarantined  []string `json:"quarantined,omitempty"`
	FromSnapshot bool     `json:"from_snapshot"`
	Snapshot     string   `json:"snapshot_timestamp,omitempty"`
	TreeNodes    int      `json:"tree_nodes"`
}

// Restore repairs a namespace. Corrupt documents are moved aside, and hot
// state and tree are replaced from the cold snapshot when one exists.
// Tree warm counts are then recounted from the surviving warm facts.
func (e *Engine) Restore(ctx context.Context, agentID string) (*RestoreResult, error) {
	res := &RestoreResult{}
	err := e.do(ctx, agentID, tolerant, func(ns *namespace) error {
		var snap *Snapshot
		if e.cold != nil {
			cctx, cancel := e.coldCtx(ctx)
			payload, err := e.cold.FetchBlob(cctx, agentID)
			cancel()
			switch {
			case errors.Is(err, cold.ErrNoSnapshot):
			case err != nil:
				return fmt.Errorf("fetch snapshot: %w", err)
			default:
				snap = &Snapshot{}
				if err := json.Unmarshal(payload, snap); err != nil {
					return fmt.Errorf("decode snapshot: %w", err)
				}
			}
		}

		for doc := range ns.corrupt {
			dest, err := e.docs.Quarantine(agentID, doc, e.now())
			if err != nil {
				return err
			}
			res.Quarantined = append(res.Quarantined, dest)
		}

		if snap != nil {
			ns.hot = hot.New(snap.HotState, e.cfg.Hot, e.now, e.logger)
			ns.tree = tree.New(snap.TreeNodes, e.cfg.Tree, e.now, e.logger)
			res.FromSnapshot = true
			res.Snapshot = snap.Timestamp
		}
		ns.tree.RebuildCounts(func(path string) int {
			return len(ns.warm.ByCategory(path, 0))
		})
		res.TreeNodes = ns.tree.Len()
		ns.touch(docstore.HotDoc, docstore.WarmDoc, docstore.TreeDoc, docstore.MetricsDoc)

		e.logger.Info("namespace restored",
			zap.String("agent", agentID),
			zap.Int("quarantined", len(res.Quarantined)),
			zap.Bool("from_snapshot", res.FromSnapshot))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Reset moves every corrupt document aside and starts those documents
// empty. Healthy documents are kept.
func (e *Engine) Reset(ctx context.Context, agentID string) ([]string, error) {
	var moved []string
	err := e.do(ctx, agentID, tolerant, func(ns *namespace) error {
		for doc := range ns.corrupt {
			dest, err := e.docs.Quarantine(agentID, doc, e.now())
			if err != nil {
				return err
			}
			moved = append(moved, dest)
			ns.touch(doc)
		}
		return nil
	})
	return moved, err
}

// ColdInit creates the cold schema.
func (e *Engine) ColdInit(ctx context.Context) error {
	if e.cold == nil {
		return cold.ErrNotConfigured
	}
	cctx, cancel := e.coldCtx(ctx)
	defer cancel()
	return e.cold.InitSchema(cctx)
}

// ColdQuery searches agentID's cold records by the leading query words.
// Backend failures yield no results.
func (e *Engine) ColdQuery(ctx context.Context, agentID, query string, limit int) ([]cold.Record, error) {
	if e.cold == nil {
		return nil, cold.ErrNotConfigured
	}
	if err := docstore.ValidateNamespace(agentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	cctx, cancel := e.coldCtx(ctx)
	defer cancel()
	recs, err := e.cold.QueryByKeyword(cctx, agentID, cold.KeywordTerms(query), limit)
	if err != nil {
		e.logger.Warn("cold query failed", zap.String("agent", agentID), zap.Error(err))
		return []cold.Record{}, nil
	}
	return recs, nil
}

// Distill condenses text into a structured fact without touching any tier.
func (e *Engine) Distill(ctx context.Context, agentID, text, mode string, withCore bool) (*distill.Result, error) {
	return e.distiller.Distill(ctx, agentID, text, mode, withCore)
}
