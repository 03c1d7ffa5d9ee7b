package cold

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite keeps the cold tier in a local database file, for single-host
// deployments without a remote store.
type SQLite struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLite opens (creating if needed) the database at path. ":memory:"
// gives a throwaway in-process store.
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend: %w: path is empty", ErrNotConfigured)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return &SQLite{db: db, logger: logger}, nil
}

// InitSchema creates the tables and indexes.
func (s *SQLite) InitSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Insert archives a fact. Re-inserting an archived id is a no-op.
func (s *SQLite) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, sqliteInsert,
		r.ID, r.AgentID, r.Text, r.Category, r.Importance, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}
	return nil
}

// QueryByKeyword returns the agent's archived facts containing any term.
func (s *SQLite) QueryByKeyword(ctx context.Context, agentID string, terms []string, limit int) ([]Record, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	query, args := keywordQuery(questionMark, "LIKE", agentID, terms, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cold memories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r := Record{AgentID: agentID}
		if err := rows.Scan(&r.ID, &r.Text, &r.Category, &r.Importance, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cold memory: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertBlob stores the agent's recovery snapshot.
func (s *SQLite) UpsertBlob(ctx context.Context, agentID string, payload []byte) error {
	if _, err := s.db.ExecContext(ctx, sqliteUpsertBlob, agentID, string(payload), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", agentID, err)
	}
	return nil
}

// FetchBlob loads the agent's recovery snapshot.
func (s *SQLite) FetchBlob(ctx context.Context, agentID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, sqliteFetchBlob, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", agentID, err)
	}
	return []byte(data), nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
