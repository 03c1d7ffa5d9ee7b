package docstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNamespaceLayout(t *testing.T) {
	root := t.TempDir()
	s := New(root, zap.NewNop())

	if dir, _ := s.Dir(DefaultAgent); dir != root {
		t.Errorf("default dir %q, want root", dir)
	}
	if dir, _ := s.Dir("scout"); dir != filepath.Join(root, "scout") {
		t.Errorf("agent dir %q", dir)
	}
	if p, _ := s.SummaryPath(DefaultAgent); p != filepath.Join(root, "MEMORY.md") {
		t.Errorf("default summary %q", p)
	}
	if p, _ := s.SummaryPath("scout"); p != filepath.Join(root, "MEMORY-scout.md") {
		t.Errorf("agent summary %q", p)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "x..y", ".lock"} {
		if _, err := s.Dir(bad); !errors.Is(err, ErrInvalidNamespace) {
			t.Errorf("Dir(%q) = %v, want ErrInvalidNamespace", bad, err)
		}
	}
}

func TestSaveLoad(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())

	var got doc
	found, err := s.Load("scout", WarmDoc, &got)
	if err != nil || found {
		t.Fatalf("missing doc: found=%v err=%v", found, err)
	}

	if err := s.Save("scout", WarmDoc, doc{Name: "a", Count: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	found, err = s.Load("scout", WarmDoc, &got)
	if err != nil || !found || got.Count != 2 {
		t.Fatalf("load: found=%v err=%v got=%+v", found, err, got)
	}

	entries, _ := os.ReadDir(filepath.Join(s.Root(), "scout"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestLoadCorrupt(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	if err := os.WriteFile(filepath.Join(s.Root(), TreeDoc), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if _, err := s.Load(DefaultAgent, TreeDoc, &got); !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}

func TestAppendReadLines(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	for i := 1; i <= 3; i++ {
		if err := s.Append(DefaultAgent, HistoryLog, doc{Count: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	path := filepath.Join(s.Root(), HistoryLog)
	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	_, _ = f.WriteString("garbage\n")
	_ = f.Close()

	var sum int
	err := s.ReadLines(DefaultAgent, HistoryLog, func(line []byte) error {
		var d doc
		if err := json.Unmarshal(line, &d); err != nil {
			return err
		}
		sum += d.Count
		return nil
	})
	if err != nil || sum != 6 {
		t.Errorf("sum=%d err=%v", sum, err)
	}
}

func TestWriteSummaryAndRemove(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	path, err := s.WriteSummary("scout", "# Memory\n")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "# Memory\n" {
		t.Errorf("summary %q", data)
	}

	_ = s.Save("scout", HotDoc, doc{})
	if err := s.Remove("scout", HotDoc); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove("scout", HotDoc); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestQuarantine(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	now := time.Unix(1700000000, 0)
	if dest, err := s.Quarantine(DefaultAgent, WarmDoc, now); err != nil || dest != "" {
		t.Fatalf("missing doc: dest=%q err=%v", dest, err)
	}

	path := filepath.Join(s.Root(), WarmDoc)
	_ = os.WriteFile(path, []byte("[{"), 0o644)
	dest, err := s.Quarantine(DefaultAgent, WarmDoc, now)
	if err != nil || dest != path+".corrupt-1700000000" {
		t.Fatalf("dest=%q err=%v", dest, err)
	}
	var facts []any
	if found, err := s.Load(DefaultAgent, WarmDoc, &facts); found || err != nil {
		t.Errorf("after quarantine: found=%v err=%v", found, err)
	}
}
