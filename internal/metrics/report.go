package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// DayTrend averages one day of samples.
type DayTrend struct {
	Date      string `json:"date"`
	Samples   int    `json:"samples"`
	HotBytes  int    `json:"hot_bytes"`
	WarmCount int    `json:"warm_count"`
	TreeNodes int    `json:"tree_nodes"`
	ColdCount int    `json:"cold_count"`
}

// Trend groups samples newer than days ago by local date and averages them.
// Samples must be in append order.
func Trend(samples []Sample, now time.Time, days int) []DayTrend {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour).Unix()
	byDay := map[string]*DayTrend{}
	for _, s := range samples {
		if s.Timestamp < cutoff {
			continue
		}
		date := time.Unix(s.Timestamp, 0).In(now.Location()).Format(dayLayout)
		d, ok := byDay[date]
		if !ok {
			d = &DayTrend{Date: date}
			byDay[date] = d
		}
		d.Samples++
		d.HotBytes += s.HotBytes
		d.WarmCount += s.WarmCount
		d.TreeNodes += s.TreeNodes
		d.ColdCount += s.ColdCount
	}

	out := make([]DayTrend, 0, len(byDay))
	for _, d := range byDay {
		d.HotBytes /= d.Samples
		d.WarmCount /= d.Samples
		d.TreeNodes /= d.Samples
		d.ColdCount /= d.Samples
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// RenderTrend prints the daily table followed by first-to-last deltas.
func RenderTrend(samples []Sample, now time.Time, days int) string {
	var recent []Sample
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour).Unix()
	for _, s := range samples {
		if s.Timestamp >= cutoff {
			recent = append(recent, s)
		}
	}
	if len(recent) == 0 {
		return fmt.Sprintf("No metrics data available for the last %d days\n", days)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Memory Trend (last %d days, %d samples) ===\n\n", days, len(recent))
	fmt.Fprintf(&b, "%-12s %-10s %-15s %-10s %-10s\n", "Date", "Hot", "Warm", "Tree", "Cold")
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, d := range Trend(recent, now, days) {
		fmt.Fprintf(&b, "%-12s %-10s %-15s %-10s %-10d\n",
			d.Date, FormatBytes(d.HotBytes),
			fmt.Sprintf("%d entries", d.WarmCount),
			fmt.Sprintf("%d nodes", d.TreeNodes),
			d.ColdCount)
	}

	if len(recent) >= 2 {
		first, last := recent[0], recent[len(recent)-1]
		b.WriteString("\nTrends:\n")
		fmt.Fprintf(&b, "  Hot:  %s%s\n", sign(last.HotBytes-first.HotBytes), FormatBytes(abs(last.HotBytes-first.HotBytes)))
		fmt.Fprintf(&b, "  Warm: %s%d entries\n", sign(last.WarmCount-first.WarmCount), abs(last.WarmCount-first.WarmCount))
		fmt.Fprintf(&b, "  Tree: %s%d nodes\n", sign(last.TreeNodes-first.TreeNodes), abs(last.TreeNodes-first.TreeNodes))
	}
	return b.String()
}

// Report renders a text health report for one snapshot.
func Report(s Snapshot, now time.Time) string {
	hotPct := percent(s.HotMemorySizeBytes, s.HotMaxBytes)
	warmBytes := int(s.WarmMemorySizeKB * 1024)
	warmPct := percent(warmBytes, s.WarmMaxKB*1024)

	scoreRange := "N/A"
	if s.WarmMemoryCount > 0 {
		scoreRange = fmt.Sprintf("%.2f - %.2f", s.WarmScoreMin, s.WarmScoreMax)
	}
	last := "never"
	if s.LastConsolidation > 0 {
		last = humanize.RelTime(time.Unix(int64(s.LastConsolidation), 0), now, "ago", "from now")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Memory Health Report (%s) ===\n\n", now.Format(dayLayout))
	fmt.Fprintf(&b, "Hot:  %s / %s (%.0f%%)  %s\n", FormatBytes(s.HotMemorySizeBytes), FormatBytes(s.HotMaxBytes), hotPct, progressBar(hotPct))
	fmt.Fprintf(&b, "Warm: %s / %dKB  (%.0f%%)   %s\n", FormatBytes(warmBytes), s.WarmMaxKB, warmPct, progressBar(warmPct))
	fmt.Fprintf(&b, "Tree: %d/%d nodes\n", s.TreeNodeCount, s.TreeMaxNodes)
	fmt.Fprintf(&b, "Cold: %d entries\n\n", s.ColdCount)
	fmt.Fprintf(&b, "Warm entry count: %d\n", s.WarmMemoryCount)
	fmt.Fprintf(&b, "Score range: %s\n", scoreRange)
	fmt.Fprintf(&b, "Last consolidation: %s\n", last)
	return b.String()
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func percent(n, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(n) / float64(limit) * 100
}

func progressBar(pct float64) string {
	const width = 10
	filled := min(max(int(pct/10), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func sign(n int) string {
	if n >= 0 {
		return "+"
	}
	return "-"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
