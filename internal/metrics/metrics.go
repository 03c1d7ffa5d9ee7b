// Package metrics keeps advisory per-agent counters and a JSONL history of
// tier sizes. Nothing here is used to enforce capacity.
package metrics

import "time"

// Counters is the persisted metrics document.
type Counters struct {
	RetrievalCount      int     `json:"retrieval_count"`
	EvictionsToday      int     `json:"evictions_today"`
	ReinforcementsToday int     `json:"reinforcements_today"`
	ConsolidationCount  int     `json:"consolidation_count"`
	LastConsolidation   float64 `json:"last_consolidation"`
	ContextTokensSaved  int     `json:"context_tokens_saved"`
	// Day is the local date the *_today counters belong to.
	Day string `json:"day,omitempty"`
}

const dayLayout = "2006-01-02"

// rollDay zeroes the daily counters when now falls on a new day.
func (c *Counters) rollDay(now time.Time) {
	day := now.Format(dayLayout)
	if c.Day != day {
		c.Day = day
		c.EvictionsToday = 0
		c.ReinforcementsToday = 0
	}
}

// RecordRetrieval counts one retrieval that returned hits facts, each of
// which got its access count reinforced. tokensSaved estimates the context
// the caller did not have to load.
func (c *Counters) RecordRetrieval(now time.Time, hits, tokensSaved int) {
	c.rollDay(now)
	c.RetrievalCount++
	c.ReinforcementsToday += hits
	c.ContextTokensSaved += tokensSaved
}

// RecordConsolidation counts one consolidation run.
func (c *Counters) RecordConsolidation(now time.Time, evicted int) {
	c.rollDay(now)
	c.ConsolidationCount++
	c.LastConsolidation = float64(now.UnixNano()) / 1e9
	c.EvictionsToday += evicted
}

// RecordEvictions counts facts pushed out of warm by the byte budget.
func (c *Counters) RecordEvictions(now time.Time, n int) {
	c.rollDay(now)
	c.EvictionsToday += n
}

// Snapshot is the counters plus the current tier sizes.
type Snapshot struct {
	Counters
	TreeIndexSizeBytes int     `json:"tree_index_size_bytes"`
	TreeNodeCount      int     `json:"tree_node_count"`
	TreeMaxNodes       int     `json:"tree_max_nodes"`
	HotMemorySizeBytes int     `json:"hot_memory_size_bytes"`
	HotMaxBytes        int     `json:"hot_max_bytes"`
	WarmMemoryCount    int     `json:"warm_memory_count"`
	WarmMemorySizeKB   float64 `json:"warm_memory_size_kb"`
	WarmMaxKB          int     `json:"warm_max_kb"`
	WarmScoreMin       float64 `json:"warm_score_min"`
	WarmScoreMax       float64 `json:"warm_score_max"`
	ColdCount          int     `json:"cold_count"`
	Timestamp          string  `json:"timestamp"`
}

// Sample is one line of the metrics history log.
type Sample struct {
	Timestamp int64 `json:"timestamp"`
	HotBytes  int   `json:"hot_bytes"`
	WarmCount int   `json:"warm_count"`
	WarmBytes int   `json:"warm_bytes"`
	TreeNodes int   `json:"tree_nodes"`
	Evicted   int   `json:"evicted"`
	ColdCount int   `json:"cold_count"`
}

// SampleOf condenses a snapshot into a history sample.
func SampleOf(s Snapshot, now time.Time) Sample {
	return Sample{
		Timestamp: now.Unix(),
		HotBytes:  s.HotMemorySizeBytes,
		WarmCount: s.WarmMemoryCount,
		WarmBytes: int(s.WarmMemorySizeKB * 1024),
		TreeNodes: s.TreeNodeCount,
		Evicted:   s.EvictionsToday,
		ColdCount: s.ColdCount,
	}
}
