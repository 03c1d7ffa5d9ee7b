package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/tiermem/internal/cold"
	"github.com/nidhogg/tiermem/internal/distill"
	"github.com/nidhogg/tiermem/internal/docstore"
	"github.com/nidhogg/tiermem/internal/hot"
	"github.com/nidhogg/tiermem/internal/lock"
	"github.com/nidhogg/tiermem/internal/memory"
	"github.com/nidhogg/tiermem/internal/metrics"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine *memory.Engine
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *memory.Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Route("/agents/{agent}", func(r chi.Router) {
			r.Post("/facts", h.storeFact)
			r.Get("/retrieve", h.retrieve)
			r.Post("/consolidate", h.consolidate)
			r.Post("/distill", h.distill)

			r.Get("/hot", h.hotState)
			r.Post("/hot", h.hotUpdate)
			r.Post("/hot/rebuild", h.hotRebuild)

			r.Get("/tree", h.tree)
			r.Post("/tree/nodes", h.addNode)
			r.Delete("/tree/nodes", h.removeNode)
			r.Post("/tree/prune", h.pruneTree)

			r.Get("/metrics", h.metrics)
			r.Get("/cold", h.coldQuery)
			r.Post("/sync", h.syncCritical)
			r.Post("/restore", h.restore)
			r.Post("/reset", h.reset)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cold": h.engine.ColdEnabled()})
}

type storeRequest struct {
	Text       string   `json:"text"`
	Category   string   `json:"category"`
	Importance *float64 `json:"importance"`
}

func (h *Handler) storeFact(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !decode(w, r, &req) {
		return
	}
	importance := 0.5
	if req.Importance != nil {
		importance = *req.Importance
	}
	res, err := h.engine.Store(r.Context(), agentID(r), req.Text, req.Category, importance)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	limit := intParam(r, "limit", memory.DefaultLimit)
	results, err := h.engine.Retrieve(r.Context(), agentID(r), query, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if r.URL.Query().Get("format") == "context" {
		writeText(w, memory.FormatContext(results, intParam(r, "max_tokens", 0)))
		return
	}
	if results == nil {
		results = []memory.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) consolidate(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = string(memory.ModeQuick)
	}
	m, err := memory.ParseMode(mode)
	if err != nil {
		h.fail(w, err)
		return
	}
	stats, err := h.engine.Consolidate(r.Context(), agentID(r), m)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type distillRequest struct {
	Text        string `json:"text"`
	Mode        string `json:"mode"`
	CoreSummary bool   `json:"core_summary"`
}

func (h *Handler) distill(w http.ResponseWriter, r *http.Request) {
	var req distillRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.Distill(r.Context(), agentID(r), req.Text, req.Mode, req.CoreSummary)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) hotState(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.HotState(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type hotUpdateRequest struct {
	Key  string         `json:"key"`
	Data map[string]any `json:"data"`
}

func (h *Handler) hotUpdate(w http.ResponseWriter, r *http.Request) {
	var req hotUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.HotUpdate(r.Context(), agentID(r), req.Key, req.Data)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) hotRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.HotRebuild(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// tree serves the node map, an outline with format=text, or the paths
// matching a glob with match=PATTERN.
func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("match") != "":
		paths, err := h.engine.TreeMatch(r.Context(), agentID(r), q.Get("match"))
		if err != nil {
			h.fail(w, err)
			return
		}
		if paths == nil {
			paths = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"pattern": q.Get("match"), "paths": paths})
	case q.Get("format") == "text":
		out, err := h.engine.TreeShow(r.Context(), agentID(r))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeText(w, out)
	default:
		nodes, err := h.engine.TreeNodes(r.Context(), agentID(r))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, nodes)
	}
}

type nodeRequest struct {
	Path string `json:"path"`
	Desc string `json:"desc"`
}

func (h *Handler) addNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := h.engine.TreeAdd(r.Context(), agentID(r), req.Path, req.Desc)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "added": ok})
}

func (h *Handler) removeNode(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	ok, err := h.engine.TreeRemove(r.Context(), agentID(r), path)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "removed": ok})
}

func (h *Handler) pruneTree(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.TreePrune(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

// metrics serves the snapshot. record=true also appends it to the history
// log; format=report renders the health report; trend=N renders N days.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agent := agentID(r)
	if days := intParam(r, "trend", 0); days > 0 {
		samples, err := h.engine.MetricsHistory(r.Context(), agent, days)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeText(w, metrics.RenderTrend(samples, h.engine.Now(), days))
		return
	}

	var (
		snap *metrics.Snapshot
		err  error
	)
	if q.Get("record") == "true" {
		snap, err = h.engine.RecordMetrics(r.Context(), agent)
	} else {
		snap, err = h.engine.Metrics(r.Context(), agent)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if q.Get("format") == "report" {
		writeText(w, metrics.Report(*snap, h.engine.Now()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) coldQuery(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.ColdQuery(r.Context(), agentID(r), r.URL.Query().Get("q"), intParam(r, "limit", memory.DefaultLimit))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) syncCritical(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.SyncCritical(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Restore(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	moved, err := h.engine.Reset(r.Context(), agentID(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if moved == nil {
		moved = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarantined": moved})
}

// fail maps engine errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, docstore.ErrInvalidNamespace),
		errors.Is(err, memory.ErrEmptyText),
		errors.Is(err, memory.ErrUnknownMode),
		errors.Is(err, distill.ErrUnknownMode),
		errors.Is(err, hot.ErrUnknownKey):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrNamespaceCorrupt):
		status = http.StatusConflict
	case errors.Is(err, lock.ErrNotAcquired):
		status = http.StatusLocked
	case errors.Is(err, cold.ErrNotConfigured), errors.Is(err, memory.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func agentID(r *http.Request) string { return chi.URLParam(r, "agent") }

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s))
}
