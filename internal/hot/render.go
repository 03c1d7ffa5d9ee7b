package hot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/tiermem/internal/tree"
	"go.uber.org/zap"
)

// RenderSummary renders the state as the human-readable core memory
// document. The output is not guaranteed to fit MaxBytes even when the
// state does; an oversized render is logged, not rejected.
func (s *Store) RenderSummary() string {
	st := s.state
	lines := []string{
		"# MEMORY.md - Long-Term Context",
		"",
		"*Core memory - auto-generated from tiered memory system*",
		"",
		"---",
		"",
	}

	if len(st.Identity) > 0 {
		lines = append(lines, "## Agent Identity", "")
		lines = append(lines, renderFields(st.Identity)...)
		lines = append(lines, "")
	}

	if len(st.OwnerProfile) > 0 {
		lines = append(lines, "## Owner Profile", "")
		lines = append(lines, renderFields(st.OwnerProfile)...)
		lines = append(lines, "")
	}

	ctx := st.ActiveContext
	if len(ctx.Projects) > 0 {
		lines = append(lines, "## Active Projects", "")
		for _, p := range ctx.Projects {
			name := p.Name
			if name == "" {
				name = "Unnamed"
			}
			lines = append(lines, "### "+name)
			if p.Description != "" {
				lines = append(lines, p.Description)
			}
			if p.Status != "" {
				lines = append(lines, "**Status:** "+p.Status)
			}
			lines = append(lines, "")
		}
	}

	if len(ctx.Tasks) > 0 {
		lines = append(lines, "## Pending Tasks", "")
		for _, t := range ctx.Tasks {
			status := t.Status
			if status == "" {
				status = defaultTaskStatus
			}
			lines = append(lines, fmt.Sprintf("- [%s] %s", strings.ToUpper(status), t.Text))
		}
		lines = append(lines, "")
	}

	if len(ctx.Events) > 0 {
		lines = append(lines, "## Recent Events", "")
		for _, e := range ctx.Events {
			date := ""
			if e.Timestamp > 0 {
				date = time.Unix(int64(e.Timestamp), 0).Format("Jan 02")
			}
			lines = append(lines, fmt.Sprintf("- [%s] %s", date, e.Text))
		}
		lines = append(lines, "")
	}

	if len(st.CriticalLessons) > 0 {
		lines = append(lines, "## Critical Lessons", "")
		for _, l := range st.CriticalLessons {
			if l.Category != "" {
				lines = append(lines, fmt.Sprintf("- **[%s]** %s", l.Category, l.Text))
			} else {
				lines = append(lines, "- "+l.Text)
			}
		}
		lines = append(lines, "")
	}

	lines = append(lines, "---", "*Generated: "+s.now().Format("2006-01-02 15:04")+"*")
	content := strings.Join(lines, "\n")

	if s.limits.MaxBytes > 0 && len(content) > s.limits.MaxBytes {
		s.logger.Warn("rendered hot memory exceeds budget",
			zap.Int("size_bytes", len(content)),
			zap.Int("max_bytes", s.limits.MaxBytes))
	}
	return content
}

func renderFields(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("- **%s:** %s", tree.TitleFromSegment(k), renderValue(fields[k])))
	}
	return out
}

func renderValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprint(v)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ", ")
}
