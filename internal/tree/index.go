package tree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/gobwas/glob"
	"github.com/nidhogg/tiermem/internal/scoring"
	"go.uber.org/zap"
)

// RootPath is the synthetic root node key.
const RootPath = "root"

const maxDescLen = 100

// Node is one category in the index.
type Node struct {
	Desc       string   `json:"desc"`
	WarmCount  int      `json:"warm_count"`
	ColdCount  int      `json:"cold_count"`
	LastAccess float64  `json:"last_access"`
	Children   []string `json:"children"`
}

// Config bounds the index.
type Config struct {
	MaxNodes          int
	MaxDepth          int
	MaxSizeBytes      int
	PruneHalfLifeDays float64 // recency half-life used when pruning to fit
	DeadNodeAgeDays   float64 // inactivity threshold for PruneDeadNodes
}

// DefaultConfig returns the standard tree bounds.
func DefaultConfig() Config {
	return Config{
		MaxNodes:          50,
		MaxDepth:          4,
		MaxSizeBytes:      2048,
		PruneHalfLifeDays: 7,
		DeadNodeAgeDays:   60,
	}
}

// Index is a hierarchical category index keyed by slash-delimited path.
type Index struct {
	nodes  map[string]*Node
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New wraps a persisted node map. The root node is created when missing.
func New(nodes map[string]*Node, cfg Config, now func() time.Time, logger *zap.Logger) *Index {
	if nodes == nil {
		nodes = map[string]*Node{}
	}
	if _, ok := nodes[RootPath]; !ok {
		nodes[RootPath] = &Node{Desc: "Memory root", Children: []string{}}
	}
	for _, n := range nodes {
		if n.Children == nil {
			n.Children = []string{}
		}
	}
	if now == nil {
		now = time.Now
	}
	return &Index{nodes: nodes, cfg: cfg, now: now, logger: logger}
}

// Nodes returns the node map for persistence and ranking.
func (x *Index) Nodes() map[string]*Node { return x.nodes }

// Get returns the node at path.
func (x *Index) Get(path string) (*Node, bool) {
	n, ok := x.nodes[path]
	return n, ok
}

// Len is the number of nodes including root.
func (x *Index) Len() int { return len(x.nodes) }

// Depth is the number of segments in path.
func Depth(path string) int { return strings.Count(path, "/") + 1 }

func parentOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return RootPath
}

// AddNode creates path and any missing ancestors. It reports false without
// mutating the index when the node or depth bound would be exceeded.
func (x *Index) AddNode(path, desc string) bool {
	if path == "" || path == RootPath {
		return false
	}
	if Depth(path) > x.cfg.MaxDepth {
		return false
	}
	if _, ok := x.nodes[path]; ok {
		return true
	}

	var missing []string
	for p := path; p != RootPath; p = parentOf(p) {
		if _, ok := x.nodes[p]; ok {
			break
		}
		missing = append(missing, p)
	}
	if len(x.nodes)+len(missing) > x.cfg.MaxNodes {
		return false
	}

	// Create top-down so each parent exists before its child links in.
	for i := len(missing) - 1; i >= 0; i-- {
		p := missing[i]
		d := desc
		if p != path {
			d = TitleFromSegment(p[strings.LastIndex(p, "/")+1:])
		}
		if r := []rune(d); len(r) > maxDescLen {
			d = string(r[:maxDescLen])
		}
		x.nodes[p] = &Node{Desc: d, Children: []string{}}
		parent := x.nodes[parentOf(p)]
		parent.Children = append(parent.Children, p)
	}
	return true
}

// RemoveNode deletes path and its subtree. Root and nodes still holding
// memories are never removed.
func (x *Index) RemoveNode(path string) bool {
	n, ok := x.nodes[path]
	if !ok || path == RootPath {
		return false
	}
	if n.WarmCount > 0 || n.ColdCount > 0 {
		return false
	}
	x.remove(path)
	return true
}

func (x *Index) remove(path string) {
	n, ok := x.nodes[path]
	if !ok {
		return
	}
	if parent, ok := x.nodes[parentOf(path)]; ok {
		for i, c := range parent.Children {
			if c == path {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	for _, c := range append([]string(nil), n.Children...) {
		x.remove(c)
	}
	delete(x.nodes, path)
}

// UpdateCounts applies deltas clamped at zero and refreshes last access.
// Unknown paths are ignored.
func (x *Index) UpdateCounts(path string, warmDelta, coldDelta int) {
	n, ok := x.nodes[path]
	if !ok {
		return
	}
	n.WarmCount = max(0, n.WarmCount+warmDelta)
	n.ColdCount = max(0, n.ColdCount+coldDelta)
	n.LastAccess = scoring.Unix(x.now())
}

// PruneDeadNodes removes empty non-root nodes that were never accessed or
// not accessed within maxAgeDays. It returns how many nodes were removed.
func (x *Index) PruneDeadNodes(maxAgeDays float64) int {
	cutoff := scoring.Unix(x.now()) - maxAgeDays*86400
	var dead []string
	for path, n := range x.nodes {
		if path == RootPath {
			continue
		}
		if n.WarmCount > 0 || n.ColdCount > 0 {
			continue
		}
		if n.LastAccess == 0 || n.LastAccess < cutoff {
			dead = append(dead, path)
		}
	}
	sort.Strings(dead)

	removed := 0
	for _, path := range dead {
		if _, ok := x.nodes[path]; !ok {
			continue // already gone with an ancestor
		}
		before := len(x.nodes)
		x.remove(path)
		removed += before - len(x.nodes)
	}
	return removed
}

// Size is the compact serialized size of the index.
func (x *Index) Size() int {
	b, err := json.Marshal(x.nodes)
	if err != nil {
		return 0
	}
	return len(b)
}

// FitToSize removes the lowest-value subtrees until the index fits its byte
// budget. Value is warm_count + 0.1×cold_count decayed by last access.
// It runs before every save and returns the number of nodes removed.
func (x *Index) FitToSize() int {
	if x.cfg.MaxSizeBytes <= 0 || x.Size() <= x.cfg.MaxSizeBytes {
		return 0
	}
	before := x.Size()

	type scored struct {
		path  string
		value float64
	}
	now := x.now()
	var candidates []scored
	for path, n := range x.nodes {
		if path == RootPath {
			continue
		}
		v := float64(n.WarmCount) + 0.1*float64(n.ColdCount)
		if n.LastAccess > 0 {
			v *= scoring.RecencyDecay(scoring.AgeDays(now, n.LastAccess), x.cfg.PruneHalfLifeDays)
		}
		candidates = append(candidates, scored{path, v})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].value != candidates[j].value {
			return candidates[i].value < candidates[j].value
		}
		return candidates[i].path > candidates[j].path
	})

	count := len(x.nodes)
	for _, c := range candidates {
		if x.Size() <= x.cfg.MaxSizeBytes {
			break
		}
		x.remove(c.path)
	}
	removed := count - len(x.nodes)
	x.logger.Info("tree index over budget, pruned nodes",
		zap.Int("size_bytes", before),
		zap.Int("max_bytes", x.cfg.MaxSizeBytes),
		zap.Int("removed", removed))
	return removed
}

// RebuildCounts recomputes every non-root node's warm count from live
// category membership.
func (x *Index) RebuildCounts(warmCount func(path string) int) {
	for path, n := range x.nodes {
		if path == RootPath {
			continue
		}
		n.WarmCount = warmCount(path)
	}
}

// Match returns the non-root paths matching a glob pattern, sorted.
// '*' stays within one path segment; '**' crosses segments.
func (x *Index) Match(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	var out []string
	for path := range x.nodes {
		if path != RootPath && g.Match(path) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Show renders the index as an indented outline.
func (x *Index) Show() string {
	lines := []string{"Memory Tree Index", strings.Repeat("=", 50)}
	var walk func(path string, indent int)
	walk = func(path string, indent int) {
		n, ok := x.nodes[path]
		if !ok {
			return
		}
		prefix := strings.Repeat("  ", indent)
		if path == RootPath {
			lines = append(lines, fmt.Sprintf("%sRoot (warm:%d, cold:%d)", prefix, n.WarmCount, n.ColdCount))
		} else {
			lines = append(lines,
				fmt.Sprintf("%s%s: %s", prefix, path, n.Desc),
				fmt.Sprintf("%s   Memories: warm=%d, cold=%d", prefix, n.WarmCount, n.ColdCount))
		}
		children := append([]string(nil), n.Children...)
		sort.Strings(children)
		for _, c := range children {
			walk(c, indent+1)
		}
	}
	walk(RootPath, 0)
	lines = append(lines, "", fmt.Sprintf("Nodes: %d/%d", len(x.nodes), x.cfg.MaxNodes),
		fmt.Sprintf("Size: %d/%d bytes", x.Size(), x.cfg.MaxSizeBytes))
	return strings.Join(lines, "\n")
}

// TitleFromSegment turns "home_garden" into "Home Garden".
func TitleFromSegment(seg string) string {
	words := strings.Fields(strings.ReplaceAll(seg, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
