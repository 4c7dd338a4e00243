// Package gateway exposes the position monitor over HTTP: REST endpoints for
// the ledger and history, and a WebSocket event stream for UI clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"posmon/internal/logger"
	"posmon/internal/model"
	"posmon/internal/monitor"
)

// Monitor is the engine surface the API drives.
type Monitor interface {
	AddPosition(ctx context.Context, p model.Position) error
	RemovePosition(ctx context.Context, id string) (bool, error)
	ClosePosition(ctx context.Context, id string, reason model.CloseReason, exit float64) (bool, error)
	SyncPositions(ctx context.Context, external []model.Position) (monitor.SyncResult, error)
	Positions(ctx context.Context) ([]model.Position, error)
	ClosedHistory(since time.Time) []model.ClosedRecord
	ClearOldHistory(olderThan time.Time) int
}

// APIConfig holds REST settings.
type APIConfig struct {
	// DefaultAmount is applied when a position arrives without an amount.
	DefaultAmount float64

	// AdminOTPSecret guards destructive history endpoints when set.
	AdminOTPSecret string
}

// API serves the REST endpoints.
type API struct {
	mon   Monitor
	cfg   APIConfig
	guard *OTPGuard
	log   *slog.Logger
}

// NewAPI creates the REST handlers for mon.
func NewAPI(mon Monitor, cfg APIConfig, logger *slog.Logger) *API {
	if cfg.DefaultAmount <= 0 {
		cfg.DefaultAmount = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		mon:   mon,
		cfg:   cfg,
		guard: NewOTPGuard(cfg.AdminOTPSecret),
		log:   logger.With(slog.String("component", "api")),
	}
}

// Routes registers every endpoint, including the WebSocket stream, on mux.
func (a *API) Routes(mux *http.ServeMux, ws http.Handler) {
	mux.HandleFunc("POST /api/positions", a.handleAdd)
	mux.HandleFunc("GET /api/positions", a.handleList)
	mux.HandleFunc("DELETE /api/positions/{id}", a.handleRemove)
	mux.HandleFunc("POST /api/positions/{id}/close", a.handleClose)
	mux.HandleFunc("POST /api/positions/sync", a.handleSync)
	mux.HandleFunc("GET /api/history", a.handleHistory)
	mux.Handle("DELETE /api/history", a.guard.Wrap(http.HandlerFunc(a.handleClearHistory)))
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}
}

// Handler returns a mux with every route behind the tracing middleware.
func (a *API) Handler(ws http.Handler) http.Handler {
	mux := http.NewServeMux()
	a.Routes(mux, ws)
	return a.trace(mux)
}

func (a *API) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := req.toPosition(a.cfg.DefaultAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.mon.AddPosition(r.Context(), p); err != nil {
		a.fail(w, r, "add position", err)
		return
	}
	a.log.Info("position accepted", append(logger.LogWithTrace(r.Context()), slog.String("id", p.ID))...)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "id": p.ID})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	ps, err := a.mon.Positions(r.Context())
	if err != nil {
		a.fail(w, r, "list positions", err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (a *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := a.mon.RemovePosition(r.Context(), id)
	if err != nil {
		a.fail(w, r, "remove position", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed": removed})
}

// handleClose records a TP or SL close at a price the caller observed,
// e.g. an exchange fill, and produces the same history and alerts as a
// threshold hit.
func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req closeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason, exit, err := req.validate()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	closed, err := a.mon.ClosePosition(r.Context(), id, reason, exit)
	if err != nil {
		a.fail(w, r, "close position", err)
		return
	}
	a.log.Info("manual close", append(logger.LogWithTrace(r.Context()),
		slog.String("id", id), slog.String("reason", string(reason)), slog.Bool("closed", closed))...)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "closed": closed})
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ext := make([]model.Position, 0, len(req.Positions))
	for i, pr := range req.Positions {
		p, err := pr.toPosition(a.cfg.DefaultAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("positions[%d]: %v", i, err))
			return
		}
		ext = append(ext, p)
	}
	res, err := a.mon.SyncPositions(r.Context(), ext)
	if err != nil {
		a.fail(w, r, "sync positions", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	since, err := parseTime(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "since: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.mon.ClosedHistory(since))
}

func (a *API) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("olderThan")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "olderThan is required")
		return
	}
	olderThan, err := parseTime(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "olderThan: "+err.Error())
		return
	}
	n := a.mon.ClearOldHistory(olderThan)
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// fail maps engine errors to HTTP responses.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, monitor.ErrStopped) || errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	a.log.Error(op+" failed", append(logger.LogWithTrace(r.Context()), slog.Any("error", err))...)
	writeError(w, status, op+" failed")
}

// trace tags each request with a trace ID, echoed in X-Trace-ID.
func (a *API) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Trace-ID")
		if tid == "" {
			tid = logger.NewTraceID()
		}
		w.Header().Set("X-Trace-ID", tid)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logger.WithTraceID(r.Context(), tid)))
		a.log.Debug("request",
			slog.String("trace_id", tid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)))
	})
}

// parseTime accepts RFC3339 or unix milliseconds. Empty means zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or unix ms, got %q", s)
	}
	return t, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
