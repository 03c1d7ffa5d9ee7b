package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/tiermem/internal/docstore"
	"go.uber.org/zap"
)

// Mode is a consolidation level. Each level does everything the previous
// one does.
type Mode string

const (
	ModeQuick   Mode = "quick"   // expire warm facts, archive them, re-render hot summary
	ModeDaily   Mode = "daily"   // + prune dead tree nodes
	ModeMonthly Mode = "monthly" // + recount tree nodes from warm membership
	ModeFull    Mode = "full"
)

// ParseMode validates a consolidation mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeQuick, ModeDaily, ModeMonthly, ModeFull:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) atLeast(level Mode) bool {
	rank := map[Mode]int{ModeQuick: 0, ModeDaily: 1, ModeMonthly: 2, ModeFull: 3}
	return rank[m] >= rank[level]
}

// ConsolidationStats reports what a consolidation run did. PrunedNodes and
// TreeRebuilt are only set by the levels that perform those steps.
type ConsolidationStats struct {
	Mode         Mode   `json:"mode"`
	AgentID      string `json:"agent_id"`
	Timestamp    string `json:"timestamp"`
	EvictedWarm  int    `json:"evicted_warm"`
	ArchivedCold int    `json:"archived_cold"`
	PrunedNodes  *int   `json:"pruned_nodes,omitempty"`
	TreeRebuilt  bool   `json:"tree_rebuilt,omitempty"`
	HotSizeBytes int    `json:"hot_size_bytes"`
	SummaryPath  string `json:"summary_path"`
}

// Consolidate runs one maintenance pass over agentID's namespace.
func (e *Engine) Consolidate(ctx context.Context, agentID string, mode Mode) (*ConsolidationStats, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	var stats *ConsolidationStats
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		now := e.now()
		stats = &ConsolidationStats{
			Mode:      mode,
			AgentID:   agentID,
			Timestamp: now.Format(time.RFC3339),
		}

		evicted := ns.warm.EvictExpired()
		stats.EvictedWarm = len(evicted)
		for _, f := range evicted {
			if e.archive(ctx, ns, f) {
				stats.ArchivedCold++
			}
		}
		ns.touch(docstore.WarmDoc)

		if mode.atLeast(ModeDaily) {
			pruned := ns.tree.PruneDeadNodes(e.cfg.Tree.DeadNodeAgeDays)
			stats.PrunedNodes = &pruned
			ns.touch(docstore.TreeDoc)
		}
		if mode.atLeast(ModeMonthly) {
			ns.tree.RebuildCounts(func(path string) int {
				return len(ns.warm.ByCategory(path, 0))
			})
			stats.TreeRebuilt = true
			ns.touch(docstore.TreeDoc)
		}

		summary := ns.hot.RenderSummary()
		path, err := e.docs.WriteSummary(agentID, summary)
		if err != nil {
			return fmt.Errorf("write hot summary: %w", err)
		}
		stats.SummaryPath = path
		stats.HotSizeBytes = len(summary)

		ns.counters.RecordConsolidation(now, stats.EvictedWarm)
		ns.touch(docstore.MetricsDoc)

		e.logger.Info("consolidated namespace",
			zap.String("agent", agentID),
			zap.String("mode", string(mode)),
			zap.Int("evicted", stats.EvictedWarm),
			zap.Int("archived", stats.ArchivedCold))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
