package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/warm"
	"go.uber.org/zap"
)

// DefaultLimit is the retrieval result count when the caller gives none.
const DefaultLimit = 5

// Result is one retrieved memory. Score is absent for cold records and
// Relevance is only set on general-search hits.
type Result struct {
	ID          string                  `json:"id"`
	Text        string                  `json:"text"`
	Category    string                  `json:"category"`
	Importance  float64                 `json:"importance"`
	CreatedAt   float64                 `json:"created_at"`
	AccessCount int                     `json:"access_count,omitempty"`
	Score       *float64                `json:"score,omitempty"`
	Relevance   *float64                `json:"relevance,omitempty"`
	Tier        scoring.DisplayTier     `json:"tier"`
	Location    scoring.StorageLocation `json:"location"`
}

// sortKey is relevance when present, else score, else importance.
func (r Result) sortKey() float64 {
	switch {
	case r.Relevance != nil:
		return *r.Relevance
	case r.Score != nil:
		return *r.Score
	}
	return r.Importance
}

func fromFact(f warm.Fact) Result {
	score := f.Score
	return Result{
		ID:          f.ID,
		Text:        f.Text,
		Category:    f.Category,
		Importance:  f.Importance,
		CreatedAt:   f.CreatedAt,
		AccessCount: f.AccessCount,
		Score:       &score,
		Tier:        f.Tier,
		Location:    scoring.LocationWarm,
	}
}

func fromHit(h warm.Hit) Result {
	r := fromFact(h.Fact)
	rel := h.Relevance
	r.Relevance = &rel
	return r
}

func fromRecord(rec cold.Record) Result {
	return Result{
		ID:         rec.ID,
		Text:       rec.Text,
		Category:   rec.Category,
		Importance: rec.Importance,
		CreatedAt:  float64(rec.CreatedAt),
		Tier:       scoring.ClassifyTier(rec.Importance),
		Location:   scoring.LocationCold,
	}
}

// Retrieve searches across tiers: ranked categories first, then a general
// warm search, then the cold tier for whatever the limit still allows.
func (e *Engine) Retrieve(ctx context.Context, agentID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var results []Result
	err := e.do(ctx, agentID, strict, func(ns *namespace) error {
		seen := make(map[string]bool)
		add := func(r Result) {
			if seen[r.ID] {
				return
			}
			seen[r.ID] = true
			results = append(results, r)
		}

		candidates := e.ranker.Rank(ctx, agentID, ns.tree.Nodes(), query, e.cfg.SearchTopK)
		for _, c := range candidates {
			for _, f := range ns.warm.ByCategory(c.Path, limit) {
				add(fromFact(f))
			}
		}
		for _, h := range ns.warm.Search(query, limit) {
			add(fromHit(h))
		}
		ns.touch(docstore.WarmDoc)

		if len(results) < limit && e.cold != nil {
			cctx, cancel := e.coldCtx(ctx)
			recs, err := e.cold.QueryByKeyword(cctx, agentID, cold.KeywordTerms(query), limit-len(results))
			cancel()
			if err != nil {
				e.logger.Warn("cold lookup failed", zap.String("agent", agentID), zap.Error(err))
			}
			for _, rec := range recs {
				add(fromRecord(rec))
			}
		}

		sort.SliceStable(results, func(i, j int) bool {
			return results[i].sortKey() > results[j].sortKey()
		})
		if len(results) > limit {
			results = results[:limit]
		}

		var returned strings.Builder
		for _, r := range results {
			returned.WriteString(r.Text)
		}
		saved := max(ns.warm.Size()/4, 1) - estimateTokens(returned.String())
		ns.counters.RecordRetrieval(e.now(), len(results), max(saved, 0))
		ns.touch(docstore.MetricsDoc)

		e.logger.Debug("retrieved memories",
			zap.String("agent", agentID),
			zap.Int("candidates", len(candidates)),
			zap.Int("results", len(results)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FormatContext renders retrieved memories as a prompt section, dropping
// results once maxTokens is spent. A non-positive maxTokens means no cap.
func FormatContext(results []Result, maxTokens int) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Memory Context]\n")
	used := 0
	for _, r := range results {
		est := estimateTokens(r.Text)
		if maxTokens > 0 && used+est > maxTokens {
			continue
		}
		used += est
		fmt.Fprintf(&b, "- %s (%s, %.2f): %s\n", r.Category, r.Location, r.sortKey(), r.Text)
	}
	return b.String()
}

// estimateTokens gives a rough token count (~4 chars per token).
func estimateTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		return 1
	}
	return n
}
