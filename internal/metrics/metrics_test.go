package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/tiermem/internal/docstore"
	"go.uber.org/zap"
)

var day0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestCountersRollDay(t *testing.T) {
	var c Counters
	c.RecordConsolidation(day0, 3)
	c.RecordRetrieval(day0, 2, 100)
	if c.EvictionsToday != 3 || c.ReinforcementsToday != 2 || c.ConsolidationCount != 1 {
		t.Fatalf("counters %+v", c)
	}
	if c.LastConsolidation != float64(day0.Unix()) {
		t.Errorf("last consolidation %v", c.LastConsolidation)
	}

	next := day0.Add(24 * time.Hour)
	c.RecordEvictions(next, 1)
	if c.EvictionsToday != 1 || c.ReinforcementsToday != 0 {
		t.Errorf("daily counters not reset: %+v", c)
	}
	if c.RetrievalCount != 1 || c.ContextTokensSaved != 100 || c.ConsolidationCount != 1 {
		t.Errorf("cumulative counters reset: %+v", c)
	}
}

func TestTrend(t *testing.T) {
	samples := []Sample{
		{Timestamp: day0.Add(-10 * 24 * time.Hour).Unix(), HotBytes: 9999},
		{Timestamp: day0.Add(-24 * time.Hour).Unix(), HotBytes: 100, WarmCount: 4, TreeNodes: 3},
		{Timestamp: day0.Unix(), HotBytes: 200, WarmCount: 6, TreeNodes: 5},
		{Timestamp: day0.Add(time.Hour).Unix(), HotBytes: 400, WarmCount: 8, TreeNodes: 5},
	}
	got := Trend(samples, day0.Add(2*time.Hour), 7)
	if len(got) != 2 {
		t.Fatalf("got %d days: %+v", len(got), got)
	}
	if got[0].Date != "2025-05-31" || got[0].HotBytes != 100 {
		t.Errorf("first day %+v", got[0])
	}
	if got[1].Samples != 2 || got[1].HotBytes != 300 || got[1].WarmCount != 7 {
		t.Errorf("second day %+v", got[1])
	}

	out := RenderTrend(samples, day0.Add(2*time.Hour), 7)
	if !strings.Contains(out, "3 samples") || !strings.Contains(out, "Warm: +4 entries") {
		t.Errorf("render:\n%s", out)
	}
	if out := RenderTrend(nil, day0, 7); !strings.HasPrefix(out, "No metrics data") {
		t.Errorf("empty render %q", out)
	}
}

func TestReport(t *testing.T) {
	s := Snapshot{
		Counters:           Counters{LastConsolidation: float64(day0.Add(-time.Hour).Unix())},
		HotMemorySizeBytes: 2560,
		HotMaxBytes:        5120,
		WarmMemoryCount:    2,
		WarmMemorySizeKB:   5,
		WarmMaxKB:          50,
		WarmScoreMin:       0.25,
		WarmScoreMax:       0.9,
		TreeNodeCount:      4,
		TreeMaxNodes:       50,
	}
	out := Report(s, day0)
	for _, want := range []string{
		"Memory Health Report (2025-06-01)",
		"(50%)  █████░░░░░",
		"Tree: 4/50 nodes",
		"Score range: 0.25 - 0.90",
		"Last consolidation: 1 hour ago",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if out := Report(Snapshot{}, day0); !strings.Contains(out, "Last consolidation: never") {
		t.Errorf("empty report:\n%s", out)
	}
}

func TestHistory(t *testing.T) {
	fs := docstore.New(t.TempDir(), zap.NewNop())
	h := NewHistory(fs, docstore.HistoryLog)
	for i, ts := range []time.Time{day0.Add(-48 * time.Hour), day0, day0.Add(time.Hour)} {
		if err := h.Record("scout", Sample{Timestamp: ts.Unix(), WarmCount: i}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := h.Since("scout", day0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != 2 || got[0].WarmCount != 1 || got[1].WarmCount != 2 {
		t.Errorf("got %+v", got)
	}
}
