// Package docstore persists the per-agent memory documents as flat JSON
// files. Every write replaces the target atomically so a crash mid-save
// leaves the previous version intact.
package docstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAgent is stored directly under the root directory.
const DefaultAgent = "default"

// Document names within an agent namespace.
const (
	WarmDoc    = "warm-memory.json"
	TreeDoc    = "memory-tree.json"
	HotDoc     = "hot-memory-state.json"
	MetricsDoc = "metrics.json"
	HistoryLog = "metrics-history.jsonl"
)

var (
	// ErrCorrupt marks a persisted document that exists but cannot be decoded.
	ErrCorrupt = errors.New("docstore: corrupt document")
	// ErrInvalidNamespace rejects agent ids that would escape the root.
	ErrInvalidNamespace = errors.New("docstore: invalid agent id")
)

// FileStore lays out agent namespaces under a root directory.
type FileStore struct {
	root   string
	logger *zap.Logger
}

// New creates a FileStore rooted at root.
func New(root string, logger *zap.Logger) *FileStore {
	return &FileStore{root: root, logger: logger}
}

// Root returns the root directory.
func (s *FileStore) Root() string { return s.root }

// ValidateNamespace checks that agentID is usable as a directory name.
func ValidateNamespace(agentID string) error {
	switch {
	case agentID == "", strings.HasPrefix(agentID, "."), strings.Contains(agentID, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, agentID)
	case strings.ContainsAny(agentID, `/\`):
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, agentID)
	}
	return nil
}

// Dir returns the directory holding agentID's documents.
func (s *FileStore) Dir(agentID string) (string, error) {
	if err := ValidateNamespace(agentID); err != nil {
		return "", err
	}
	if agentID == DefaultAgent {
		return s.root, nil
	}
	return filepath.Join(s.root, agentID), nil
}

// SummaryPath returns where agentID's rendered hot summary is written.
func (s *FileStore) SummaryPath(agentID string) (string, error) {
	if err := ValidateNamespace(agentID); err != nil {
		return "", err
	}
	if agentID == DefaultAgent {
		return filepath.Join(s.root, "MEMORY.md"), nil
	}
	return filepath.Join(s.root, "MEMORY-"+agentID+".md"), nil
}

func (s *FileStore) path(agentID, doc string) (string, error) {
	dir, err := s.Dir(agentID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, doc), nil
}

// Load decodes a document into v. It reports false when the document does
// not exist yet and wraps ErrCorrupt when it cannot be decoded.
func (s *FileStore) Load(agentID, doc string, v any) (bool, error) {
	path, err := s.path(agentID, doc)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return true, nil
}

// Save encodes v as indented JSON and atomically replaces the document.
func (s *FileStore) Save(agentID, doc string, v any) error {
	path, err := s.path(agentID, doc)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", doc, err)
	}
	return writeAtomic(path, data)
}

// WriteSummary atomically replaces agentID's rendered summary and returns
// its path.
func (s *FileStore) WriteSummary(agentID, content string) (string, error) {
	path, err := s.SummaryPath(agentID)
	if err != nil {
		return "", err
	}
	return path, writeAtomic(path, []byte(content))
}

// Remove deletes a document. A missing document is not an error.
func (s *FileStore) Remove(agentID, doc string) error {
	path, err := s.path(agentID, doc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Quarantine moves a document aside as <doc>.corrupt-<unix> so a fresh one
// can take its place, and returns the new path. A missing document is left
// alone and yields "".
func (s *FileStore) Quarantine(agentID, doc string, now time.Time) (string, error) {
	path, err := s.path(agentID, doc)
	if err != nil {
		return "", err
	}
	dest := fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	s.logger.Warn("quarantined corrupt document", zap.String("file", path), zap.String("moved_to", dest))
	return dest, nil
}

// Append writes v as one JSON line at the end of a log document.
func (s *FileStore) Append(agentID, doc string, v any) error {
	path, err := s.path(agentID, doc)
	if err != nil {
		return err
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", doc, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// ReadLines calls fn with every non-empty line of a log document. Lines fn
// rejects are logged and skipped.
func (s *FileStore) ReadLines(agentID, doc string, fn func(line []byte) error) error {
	path, err := s.path(agentID, doc)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			s.logger.Debug("skipping log line", zap.String("file", path), zap.Error(err))
		}
	}
	return sc.Err()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
