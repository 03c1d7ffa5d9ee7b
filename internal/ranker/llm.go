package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/tiermem/internal/provider"
	"github.com/nidhogg/tiermem/internal/tree"
	"go.uber.org/zap"
)

const (
	maxPromptNodes    = 50
	llmMaxTokens      = 500
	llmTemperature    = 0.3
	defaultLLMTimeout = 20 * time.Second
)

// LLM asks a language model which categories matter for a query. Any
// failure falls back to the keyword ranker.
type LLM struct {
	router   *provider.Router
	fallback Ranker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLLM creates an LLM-backed ranker.
func NewLLM(router *provider.Router, fallback Ranker, timeout time.Duration, logger *zap.Logger) *LLM {
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	return &LLM{router: router, fallback: fallback, timeout: timeout, logger: logger}
}

// Rank implements Ranker.
func (l *LLM) Rank(ctx context.Context, agentID string, nodes map[string]*tree.Node, query string, topK int) []Candidate {
	if !l.router.Available() {
		return l.fallback.Rank(ctx, agentID, nodes, query, topK)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	reply, err := l.router.Complete(ctx, agentID, BuildPrompt(nodes, query), llmMaxTokens, llmTemperature)
	if err != nil {
		l.logger.Warn("llm category search failed, falling back to keyword search", zap.Error(err))
		return l.fallback.Rank(ctx, agentID, nodes, query, topK)
	}

	out, err := ParseReply(reply, nodes)
	if err != nil {
		l.logger.Warn("llm category search returned malformed output, falling back to keyword search",
			zap.Error(err))
		return l.fallback.Rank(ctx, agentID, nodes, query, topK)
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// BuildPrompt lists the most populated categories and asks for a JSON
// array of relevant paths.
func BuildPrompt(nodes map[string]*tree.Node, query string) string {
	type entry struct {
		path string
		n    *tree.Node
	}
	entries := make([]entry, 0, len(nodes))
	for path, n := range nodes {
		if path != tree.RootPath {
			entries = append(entries, entry{path, n})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a := entries[i].n.WarmCount + entries[i].n.ColdCount
		b := entries[j].n.WarmCount + entries[j].n.ColdCount
		if a != b {
			return a > b
		}
		return entries[i].path < entries[j].path
	})
	if len(entries) > maxPromptNodes {
		entries = entries[:maxPromptNodes]
	}

	var lines strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&lines, "  %s: %s (warm:%d, cold:%d)\n", e.path, e.n.Desc, e.n.WarmCount, e.n.ColdCount)
	}

	return `You are a memory retrieval system. Given a memory tree index and a user query, identify which categories are relevant.

Memory Tree Index:
` + lines.String() + `
User Query: ` + query + `

Task: Which category paths are relevant to this query? Consider:
- Direct topic match (query mentions the category)
- Semantic relevance (query is about something the category covers)
- Multi-hop connections (query needs info from multiple categories)

Output Format (JSON array):
[
  {"path": "category/path", "relevance": 0.9, "reason": "why relevant"},
  {"path": "another/path", "relevance": 0.6, "reason": "secondary relevance"}
]

Rules:
- relevance: 0.0-1.0 (1.0 = perfect match, 0.5 = somewhat related)
- Return 1-5 categories, sorted by relevance
- If nothing is relevant, return empty array []
- Only return paths that exist in the tree above

Output (JSON only, no explanation):`
}

// ParseReply extracts the JSON array from a model reply, tolerating code
// fences and surrounding prose, and drops paths not present in nodes.
func ParseReply(reply string, nodes map[string]*tree.Node) ([]Candidate, error) {
	text := reply
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("no JSON array in reply")
		}
		text = text[start : end+1]
	}

	var raw []Candidate
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	out := raw[:0]
	for _, c := range raw {
		n, ok := nodes[c.Path]
		if !ok || c.Path == tree.RootPath {
			continue
		}
		c.WarmCount, c.ColdCount = n.WarmCount, n.ColdCount
		out = append(out, c)
	}
	return out, nil
}
