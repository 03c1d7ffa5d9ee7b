package cold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Turso talks to a libsql server over its HTTP pipeline API.
type Turso struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewTurso creates a Turso client. libsql:// URLs are rewritten to https://.
func NewTurso(url, token string, timeout time.Duration, logger *zap.Logger) *Turso {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Turso{
		baseURL: strings.TrimRight(NormalizeURL(url), "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// NormalizeURL converts a libsql:// database URL into its HTTPS endpoint.
func NormalizeURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "libsql://"); ok {
		return "https://" + rest
	}
	return url
}

type pipelineRequest struct {
	Requests []pipelineStep `json:"requests"`
}

type pipelineStep struct {
	Type string     `json:"type"`
	Stmt *statement `json:"stmt,omitempty"`
}

type statement struct {
	SQL  string  `json:"sql"`
	Args []value `json:"args,omitempty"`
}

// value is a typed libsql cell. Integers travel as decimal strings.
type value struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

type pipelineResponse struct {
	Results []struct {
		Type     string `json:"type"`
		Response struct {
			Type   string `json:"type"`
			Result struct {
				Rows [][]value `json:"rows"`
			} `json:"result"`
		} `json:"response"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"results"`
}

func textArg(s string) value {
	return value{Type: "text", Value: s}
}

func floatArg(f float64) value {
	return value{Type: "float", Value: f}
}

func intArg(i int64) value {
	return value{Type: "integer", Value: strconv.FormatInt(i, 10)}
}

func bindArg(v any) value {
	switch t := v.(type) {
	case string:
		return textArg(t)
	case float64:
		return floatArg(t)
	case int:
		return intArg(int64(t))
	case int64:
		return intArg(t)
	default:
		return textArg(fmt.Sprint(t))
	}
}

func (t *Turso) execute(ctx context.Context, stmts ...statement) (*pipelineResponse, error) {
	req := pipelineRequest{}
	for i := range stmts {
		req.Requests = append(req.Requests, pipelineStep{Type: "execute", Stmt: &stmts[i]})
	}
	req.Requests = append(req.Requests, pipelineStep{Type: "close"})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/pipeline", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send pipeline: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("turso error %d: %s", resp.StatusCode, string(respBody))
	}

	var out pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	for _, r := range out.Results {
		if r.Type == "error" && r.Error != nil {
			return nil, fmt.Errorf("turso statement: %s", r.Error.Message)
		}
	}
	return &out, nil
}

// InitSchema creates the tables and indexes.
func (t *Turso) InitSchema(ctx context.Context) error {
	stmts := make([]statement, len(sqliteSchema))
	for i, s := range sqliteSchema {
		stmts[i] = statement{SQL: s}
	}
	if _, err := t.execute(ctx, stmts...); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Insert archives a fact. Re-inserting an archived id is a no-op.
func (t *Turso) Insert(ctx context.Context, r Record) error {
	_, err := t.execute(ctx, statement{SQL: sqliteInsert, Args: []value{
		textArg(r.ID), textArg(r.AgentID), textArg(r.Text), textArg(r.Category),
		floatArg(r.Importance), intArg(r.CreatedAt),
	}})
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.ID, err)
	}
	return nil
}

// QueryByKeyword returns the agent's archived facts containing any term.
func (t *Turso) QueryByKeyword(ctx context.Context, agentID string, terms []string, limit int) ([]Record, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	query, args := keywordQuery(questionMark, "LIKE", agentID, terms, limit)
	stmt := statement{SQL: query}
	for _, a := range args {
		stmt.Args = append(stmt.Args, bindArg(a))
	}

	out, err := t.execute(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("query cold memories: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}

	var records []Record
	for _, row := range out.Results[0].Response.Result.Rows {
		if len(row) < 5 {
			continue
		}
		records = append(records, Record{
			ID:         cellString(row[0]),
			AgentID:    agentID,
			Text:       cellString(row[1]),
			Category:   cellString(row[2]),
			Importance: cellFloat(row[3]),
			CreatedAt:  int64(cellFloat(row[4])),
		})
	}
	return records, nil
}

// UpsertBlob stores the agent's recovery snapshot.
func (t *Turso) UpsertBlob(ctx context.Context, agentID string, payload []byte) error {
	_, err := t.execute(ctx, statement{SQL: sqliteUpsertBlob, Args: []value{
		textArg(agentID), textArg(string(payload)), intArg(time.Now().Unix()),
	}})
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// FetchBlob loads the agent's recovery snapshot.
func (t *Turso) FetchBlob(ctx context.Context, agentID string) ([]byte, error) {
	out, err := t.execute(ctx, statement{SQL: sqliteFetchBlob, Args: []value{textArg(agentID)}})
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	if len(out.Results) == 0 || len(out.Results[0].Response.Result.Rows) == 0 {
		return nil, ErrNoSnapshot
	}
	row := out.Results[0].Response.Result.Rows[0]
	if len(row) == 0 {
		return nil, ErrNoSnapshot
	}
	return []byte(cellString(row[0])), nil
}

// Close is a no-op; the HTTP client holds no session.
func (t *Turso) Close() error { return nil }

func cellString(v value) string {
	switch s := v.Value.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func cellFloat(v value) float64 {
	switch n := v.Value.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
