package memory

import (
	"context"
	"errors"
	"strings"

	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/tree"
	"github.com/nidhogg/tiermem/internal/warm"
	"go.uber.org/zap"
)

// ErrEmptyText rejects storing a fact without text.
var ErrEmptyText = errors.New("memory: fact text is empty")

// DefaultCategory files facts stored without a category.
const DefaultCategory = "uncategorized"

// StoreResult describes a stored fact.
type StoreResult struct {
	ID         string              `json:"id"`
	Category   string              `json:"category"`
	Tier       scoring.DisplayTier `json:"tier"`
	ColdSynced bool                `json:"cold_synced"`
	Evicted    int                 `json:"evicted,omitempty"`
}

// Store adds a fact to the warm tier, indexes its category and, when a
// cold backend is attached, copies it to the cold tier as well. Facts
// pushed out of warm by the byte budget are archived on the way out.
func (e *Engine) Store(ctx context.Context, agentID, text, category string, importance float64) (*StoreResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	category = NormalizeCategory(category)
	importance = min(max(importance, 0), 1)

	var res *StoreResult
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		fact, evicted := ns.warm.Add(text, category, importance)
		ns.touch(docstore.WarmDoc, docstore.TreeDoc)

		segments := strings.Split(category, "/")
		if !ns.tree.AddNode(category, tree.TitleFromSegment(segments[len(segments)-1])) {
			e.logger.Debug("category not indexed, tree bound reached",
				zap.String("agent", agentID), zap.String("category", category))
		}
		ns.tree.UpdateCounts(category, 1, 0)

		res = &StoreResult{
			ID:       fact.ID,
			Category: category,
			Tier:     scoring.ClassifyTier(importance),
			Evicted:  len(evicted),
		}
		if e.archive(ctx, ns, fact) {
			ns.warm.MarkArchived(fact.ID)
			res.ColdSynced = true
		}
		for _, f := range evicted {
			e.archive(ctx, ns, f)
		}
		if len(evicted) > 0 {
			ns.counters.RecordEvictions(e.now(), len(evicted))
			ns.touch(docstore.MetricsDoc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// archive copies f into the cold tier and bumps its node's cold count. A
// fact archived earlier counts without a second insert. Backend failures
// are logged and reported as not archived.
func (e *Engine) archive(ctx context.Context, ns *namespace, f warm.Fact) bool {
	if e.cold == nil {
		return false
	}
	if f.Archived {
		return true
	}
	cctx, cancel := e.coldCtx(ctx)
	defer cancel()
	err := e.cold.Insert(cctx, cold.Record{
		ID:         f.ID,
		AgentID:    ns.agentID,
		Text:       f.Text,
		Category:   f.Category,
		Importance: f.Importance,
		CreatedAt:  int64(f.CreatedAt),
	})
	if err != nil {
		e.logger.Warn("cold archive failed",
			zap.String("agent", ns.agentID), zap.String("fact", f.ID), zap.Error(err))
		return false
	}
	ns.tree.UpdateCounts(f.Category, 0, 1)
	ns.touch(docstore.TreeDoc)
	return true
}

// NormalizeCategory trims surrounding slashes and whitespace from a
// category path. An empty path becomes DefaultCategory.
func NormalizeCategory(category string) string {
	parts := strings.Split(strings.TrimSpace(category), "/")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return DefaultCategory
	}
	return strings.Join(kept, "/")
}
