package metrics

import (
	"encoding/json"
	"fmt"
	"time"
)

// LogStore appends and replays JSON lines in an agent namespace.
type LogStore interface {
	Append(agentID, doc string, v any) error
	ReadLines(agentID, doc string, fn func(line []byte) error) error
}

// History is the metrics-history log of one store.
type History struct {
	store LogStore
	doc   string
}

// NewHistory keeps samples in doc within each agent namespace.
func NewHistory(store LogStore, doc string) *History {
	return &History{store: store, doc: doc}
}

// Record appends a sample.
func (h *History) Record(agentID string, s Sample) error {
	if err := h.store.Append(agentID, h.doc, s); err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}
	return nil
}

// Since returns the samples recorded at or after t, in append order.
// Malformed lines are skipped.
func (h *History) Since(agentID string, t time.Time) ([]Sample, error) {
	cutoff := t.Unix()
	var out []Sample
	err := h.store.ReadLines(agentID, h.doc, func(line []byte) error {
		var s Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return err
		}
		if s.Timestamp >= cutoff {
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read metrics history: %w", err)
	}
	return out, nil
}
