package tree

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestIndex(cfg Config) (*Index, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)}
	return New(nil, cfg, clock.now, zap.NewNop()), clock
}

func TestNewCreatesRoot(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	if _, ok := x.Get(RootPath); !ok {
		t.Fatal("root missing")
	}
}

func TestAddNodeMaterializesAncestors(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	if !x.AddNode("projects/home_garden/beds", "Raised beds") {
		t.Fatal("add failed")
	}
	n, ok := x.Get("projects/home_garden")
	if !ok || n.Desc != "Home Garden" {
		t.Fatalf("ancestor not titled: %+v", n)
	}
	if p, _ := x.Get("projects"); len(p.Children) != 1 || p.Children[0] != "projects/home_garden" {
		t.Errorf("parent link missing: %+v", p)
	}
	root, _ := x.Get(RootPath)
	if len(root.Children) != 1 || root.Children[0] != "projects" {
		t.Errorf("root children %v", root.Children)
	}
	if leaf, _ := x.Get("projects/home_garden/beds"); leaf.Desc != "Raised beds" {
		t.Errorf("leaf desc %q", leaf.Desc)
	}
}

func TestAddNodeTruncatesDesc(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("misc", strings.Repeat("d", 150))
	if n, _ := x.Get("misc"); len(n.Desc) != 100 {
		t.Errorf("desc length %d, want 100", len(n.Desc))
	}
}

func TestAddNodeDepthBound(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	if x.AddNode("a/b/c/d/e", "too deep") {
		t.Fatal("expected failure beyond max depth")
	}
	if x.Len() != 1 {
		t.Errorf("failed add mutated index: %d nodes", x.Len())
	}
	if !x.AddNode("a/b/c/d", "deep enough") {
		t.Error("depth 4 should be allowed")
	}
}

func TestAddNodeNodeBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 3
	x, _ := newTestIndex(cfg)

	if !x.AddNode("x", "X") {
		t.Fatal("first add failed")
	}
	if x.AddNode("y/z", "needs two slots") {
		t.Fatal("expected failure when ancestors overflow max_nodes")
	}
	if x.Len() != 2 {
		t.Fatalf("got %d nodes, want 2", x.Len())
	}
	if !x.AddNode("y", "Y") {
		t.Fatal("third node should fit")
	}
	if x.AddNode("w", "W") {
		t.Error("fourth node should not fit")
	}
	if x.Len() > cfg.MaxNodes {
		t.Errorf("node bound exceeded: %d", x.Len())
	}
}

func TestRemoveNode(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("people/alice", "Alice")
	x.AddNode("people/bob", "Bob")
	x.UpdateCounts("people/bob", 1, 0)

	if x.RemoveNode(RootPath) {
		t.Error("root must never be removed")
	}
	if x.RemoveNode("people/bob") {
		t.Error("node with memories must not be removed")
	}
	if !x.RemoveNode("people/alice") {
		t.Fatal("empty node should be removable")
	}
	if p, _ := x.Get("people"); len(p.Children) != 1 {
		t.Errorf("parent still links removed child: %v", p.Children)
	}
}

func TestRemoveNodeDropsSubtree(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("a/b/c", "C")
	x.RemoveNode("a")
	if x.Len() != 1 {
		t.Errorf("subtree survived: %d nodes", x.Len())
	}
}

func TestUpdateCountsClampsAtZero(t *testing.T) {
	x, clock := newTestIndex(DefaultConfig())
	x.AddNode("misc", "Misc")
	x.UpdateCounts("misc", -5, 2)

	n, _ := x.Get("misc")
	if n.WarmCount != 0 || n.ColdCount != 2 {
		t.Errorf("counts %d/%d", n.WarmCount, n.ColdCount)
	}
	if n.LastAccess != float64(clock.t.Unix()) {
		t.Errorf("last_access %v", n.LastAccess)
	}
	x.UpdateCounts("missing", 1, 1)
	if _, ok := x.Get("missing"); ok {
		t.Error("UpdateCounts must not create nodes")
	}
}

func TestPruneDeadNodes(t *testing.T) {
	x, clock := newTestIndex(DefaultConfig())
	x.AddNode("never", "never accessed")
	x.AddNode("stale", "accessed long ago")
	x.AddNode("recent", "accessed recently")
	x.AddNode("busy", "holds memories")

	x.UpdateCounts("stale", 0, 0)
	x.UpdateCounts("busy", 3, 0)
	clock.t = clock.t.Add(90 * 24 * time.Hour)
	x.UpdateCounts("recent", 0, 0)

	if got := x.PruneDeadNodes(60); got != 2 {
		t.Fatalf("pruned %d, want 2", got)
	}
	for _, p := range []string{"recent", "busy", RootPath} {
		if _, ok := x.Get(p); !ok {
			t.Errorf("%s should survive", p)
		}
	}
}

func TestFitToSizeKeepsValuableNodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSizeBytes = 600
	x, _ := newTestIndex(cfg)

	x.AddNode("important", "Important")
	x.UpdateCounts("important", 10, 0)
	for i := 0; i < 10; i++ {
		x.AddNode(fmt.Sprintf("filler%d", i), "filler description")
	}
	if x.Size() <= cfg.MaxSizeBytes {
		t.Fatalf("setup too small: %d", x.Size())
	}

	if removed := x.FitToSize(); removed == 0 {
		t.Fatal("expected pruning")
	}
	if x.Size() > cfg.MaxSizeBytes {
		t.Errorf("size %d still exceeds %d", x.Size(), cfg.MaxSizeBytes)
	}
	if _, ok := x.Get("important"); !ok {
		t.Error("highest-value node was pruned")
	}
}

func TestRebuildCounts(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("people/alice", "Alice")
	x.UpdateCounts("people/alice", 9, 0)

	x.RebuildCounts(func(path string) int {
		if path == "people" {
			return 2
		}
		return 1
	})
	if n, _ := x.Get("people/alice"); n.WarmCount != 1 {
		t.Errorf("alice warm_count %d, want 1", n.WarmCount)
	}
	if n, _ := x.Get("people"); n.WarmCount != 2 {
		t.Errorf("people warm_count %d, want 2", n.WarmCount)
	}
}

func TestMatch(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("people/alice", "Alice")
	x.AddNode("people/bob/work", "Bob at work")
	x.AddNode("projects/garden", "Garden")

	got, err := x.Match("people/*")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if strings.Join(got, ",") != "people/alice,people/bob" {
		t.Errorf("single-segment glob got %v", got)
	}
	got, _ = x.Match("people/**")
	if len(got) != 3 {
		t.Errorf("super-glob got %v", got)
	}
}

func TestShow(t *testing.T) {
	x, _ := newTestIndex(DefaultConfig())
	x.AddNode("people/alice", "Alice")
	out := x.Show()
	for _, want := range []string{"Memory Tree Index", "Root (warm:0, cold:0)", "people/alice: Alice", "Nodes: 3/50"} {
		if !strings.Contains(out, want) {
			t.Errorf("show missing %q\n%s", want, out)
		}
	}
}

func TestTitleFromSegment(t *testing.T) {
	for in, want := range map[string]string{
		"garden":       "Garden",
		"home_garden":  "Home Garden",
		"OWNER_name":   "Owner Name",
		"__spaced__  ": "Spaced",
	} {
		if got := TitleFromSegment(in); got != want {
			t.Errorf("TitleFromSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
