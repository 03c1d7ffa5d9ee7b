// Package cold archives evicted facts and disaster-recovery snapshots in an
// unbounded queryable store. Three backends share one schema: a libsql/Turso
// HTTP pipeline, PostgreSQL and a local SQLite file.
package cold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotConfigured is returned when no cold backend is set up.
	ErrNotConfigured = errors.New("cold: backend not configured")
	// ErrNoSnapshot is returned by FetchBlob when an agent has no snapshot.
	ErrNoSnapshot = errors.New("cold: no snapshot for agent")
)

// Backend names.
const (
	BackendTurso    = "turso"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// MaxKeywordTerms is how many query words a keyword lookup matches on.
const MaxKeywordTerms = 3

// Record is an archived fact.
type Record struct {
	ID         string  `json:"id"`
	AgentID    string  `json:"agent_id,omitempty"`
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
	CreatedAt  int64   `json:"created_at"`
}

// Store is the cold tier contract.
type Store interface {
	InitSchema(ctx context.Context) error
	Insert(ctx context.Context, r Record) error
	QueryByKeyword(ctx context.Context, agentID string, terms []string, limit int) ([]Record, error)
	UpsertBlob(ctx context.Context, agentID string, payload []byte) error
	FetchBlob(ctx context.Context, agentID string) ([]byte, error)
	Close() error
}

// Config selects and addresses a backend.
type Config struct {
	Backend   string        `json:"backend" yaml:"backend"`
	URL       string        `json:"url" yaml:"url"`
	AuthToken string        `json:"auth_token" yaml:"auth_token"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Enabled reports whether a backend is selected.
func (c Config) Enabled() bool { return c.Backend != "" }

// New opens the configured backend. Remote backends get a query cache
// when CacheTTL is positive.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	var s Store
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, ErrNotConfigured
	case BackendTurso:
		if cfg.URL == "" {
			return nil, fmt.Errorf("turso backend: %w: url is empty", ErrNotConfigured)
		}
		s = NewTurso(cfg.URL, cfg.AuthToken, cfg.Timeout, logger)
	case BackendPostgres:
		pg, err := NewPostgres(ctx, cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		s = pg
	case BackendSQLite:
		return NewSQLite(ctx, cfg.URL, logger)
	default:
		return nil, fmt.Errorf("unknown cold backend %q", cfg.Backend)
	}
	return NewCached(s, cfg.CacheTTL, logger)
}

// KeywordTerms picks the words a cold keyword query matches on.
func KeywordTerms(query string) []string {
	words := strings.Fields(query)
	if len(words) > MaxKeywordTerms {
		words = words[:MaxKeywordTerms]
	}
	return words
}

// keywordQuery builds the shared keyword lookup. ph renders the n-th
// (1-based) bind placeholder; op is the pattern operator.
func keywordQuery(ph func(int) string, op string, agentID string, terms []string, limit int) (string, []any) {
	args := []any{agentID}
	conds := make([]string, len(terms))
	for i, t := range terms {
		args = append(args, "%"+t+"%")
		conds[i] = "text " + op + " " + ph(i+2)
	}
	args = append(args, limit)
	query := `SELECT id, text, category, importance, created_at
		FROM cold_memories
		WHERE agent_id = ` + ph(1) + ` AND (` + strings.Join(conds, " OR ") + `)
		ORDER BY importance DESC, created_at DESC
		LIMIT ` + ph(len(terms)+2)
	return query, args
}

func questionMark(int) string { return "?" }

func dollar(i int) string { return fmt.Sprintf("$%d", i) }

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS cold_memories (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		importance REAL DEFAULT 0.5,
		created_at INTEGER NOT NULL,
		access_count INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cold_agent_category ON cold_memories(agent_id, category)`,
	`CREATE INDEX IF NOT EXISTS idx_cold_agent_created ON cold_memories(agent_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS critical_state (
		agent_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

const (
	sqliteInsert = `INSERT OR IGNORE INTO cold_memories
		(id, agent_id, text, category, importance, created_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`
	sqliteUpsertBlob = `INSERT OR REPLACE INTO critical_state (agent_id, data, updated_at) VALUES (?, ?, ?)`
	sqliteFetchBlob  = `SELECT data FROM critical_state WHERE agent_id = ?`
)
