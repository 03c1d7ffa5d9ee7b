package cold

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Postgres keeps the cold tier in PostgreSQL.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres connects a pgx pool and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL cold store connected")
	return &Postgres{db: pool, logger: logger}, nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS cold_memories (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		importance DOUBLE PRECISION DEFAULT 0.5,
		created_at BIGINT NOT NULL,
		access_count INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cold_agent_category ON cold_memories(agent_id, category)`,
	`CREATE INDEX IF NOT EXISTS idx_cold_agent_created ON cold_memories(agent_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS critical_state (
		agent_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

// InitSchema creates the tables and indexes.
func (p *Postgres) InitSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	p.logger.Info("cold schema ready")
	return nil
}

// Insert archives a fact. Re-inserting an archived id is a no-op.
func (p *Postgres) Insert(ctx context.Context, r Record) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO cold_memories (id, agent_id, text, category, importance, created_at, access_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.AgentID, r.Text, r.Category, r.Importance, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}
	return nil
}

// QueryByKeyword returns the agent's archived facts containing any term,
// case-insensitively.
func (p *Postgres) QueryByKeyword(ctx context.Context, agentID string, terms []string, limit int) ([]Record, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	query, args := keywordQuery(dollar, "ILIKE", agentID, terms, limit)
	rows, err := p.db.Query(ctx, query, args...)
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
func (p *Postgres) UpsertBlob(ctx context.Context, agentID string, payload []byte) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO critical_state (agent_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		agentID, string(payload), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", agentID, err)
	}
	return nil
}

// FetchBlob loads the agent's recovery snapshot.
func (p *Postgres) FetchBlob(ctx context.Context, agentID string) ([]byte, error) {
	var data string
	err := p.db.QueryRow(ctx, `SELECT data FROM critical_state WHERE agent_id = $1`, agentID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot %s: %w", agentID, err)
	}
	return []byte(data), nil
}

// Close shuts down the connection pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
