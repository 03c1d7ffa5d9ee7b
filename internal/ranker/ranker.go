// Package ranker orders tree categories by their relevance to a query so
// retrieval can look in the most promising warm categories first.
package ranker

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/tiermem/internal/scoring"
	"github.com/nidhogg/tiermem/internal/tree"
)

// Candidate is a ranked category path.
type Candidate struct {
	Path      string  `json:"path"`
	Relevance float64 `json:"relevance"`
	Reason    string  `json:"reason,omitempty"`
	WarmCount int     `json:"warm_count"`
	ColdCount int     `json:"cold_count"`
}

// Ranker ranks tree nodes against a query.
type Ranker interface {
	Rank(ctx context.Context, agentID string, nodes map[string]*tree.Node, query string, topK int) []Candidate
}

var pathSplit = regexp.MustCompile(`[/_\-\s]+`)

// Keyword ranks nodes by word overlap with their path and description,
// boosted by how many memories they hold and how recently they were used.
type Keyword struct {
	now func() time.Time
}

// NewKeyword creates a keyword ranker. A nil clock means time.Now.
func NewKeyword(now func() time.Time) *Keyword {
	if now == nil {
		now = time.Now
	}
	return &Keyword{now: now}
}

// Rank implements Ranker.
func (k *Keyword) Rank(_ context.Context, _ string, nodes map[string]*tree.Node, query string, topK int) []Candidate {
	queryWords := uniqueWords(strings.Fields(strings.ToLower(query)))
	if len(queryWords) == 0 {
		return nil
	}
	now := k.now()

	var out []Candidate
	for path, n := range nodes {
		if path == tree.RootPath {
			continue
		}
		words := map[string]struct{}{}
		for _, w := range pathSplit.Split(strings.ToLower(path), -1) {
			if w != "" {
				words[w] = struct{}{}
			}
		}
		for _, w := range strings.Fields(strings.ToLower(n.Desc)) {
			words[w] = struct{}{}
		}

		var matched []string
		for _, w := range queryWords {
			if _, ok := words[w]; ok {
				matched = append(matched, w)
			}
		}
		if len(matched) == 0 {
			continue
		}

		score := float64(len(matched)) / float64(len(queryWords))
		score *= min(1.0+0.1*float64(n.WarmCount)+0.01*float64(n.ColdCount), 2.0)
		if n.LastAccess > 0 {
			switch age := scoring.AgeDays(now, n.LastAccess); {
			case age < 7:
				score *= 1.5
			case age < 30:
				score *= 1.2
			}
		}
		out = append(out, Candidate{
			Path:      path,
			Relevance: score,
			Reason:    "Keywords: " + strings.Join(matched, ", "),
			WarmCount: n.WarmCount,
			ColdCount: n.ColdCount,
		})
	}

	sortCandidates(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

func sortCandidates(c []Candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].Relevance != c[j].Relevance {
			return c[i].Relevance > c[j].Relevance
		}
		return c[i].Path < c[j].Path
	})
}

// uniqueWords dedupes while keeping first-seen order.
func uniqueWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0:0]
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
