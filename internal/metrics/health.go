package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Probes are the dependencies the liveness checker polls. Nil fields are
// skipped and reported as not configured.
type Probes struct {
	Redis  *goredis.Client
	SQLite *sql.DB

	// Feed reports open upstream connections and subscribed keys.
	Feed func() (open, keys int)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnections int       `json:"feed_connections"`
	FeedKeys        int       `json:"feed_keys"`
	LastTickTime    time.Time `json:"last_tick_time"`

	RedisConfigured  bool    `json:"redis_configured"`
	RedisConnected   bool    `json:"redis_connected"`
	RedisLatencyMs   float64 `json:"redis_latency_ms"`
	SQLiteConfigured bool    `json:"sqlite_configured"`
	SQLiteOK         bool    `json:"sqlite_ok"`
	SQLiteLatencyMs  float64 `json:"sqlite_latency_ms"`

	LastCheckAt time.Time `json:"last_check_at"`
	StartedAt   time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeed(open, keys int) {
	h.mu.Lock()
	h.FeedConnections = open
	h.FeedKeys = keys
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConfigured = true
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteConfigured = true
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// Check runs every configured probe once.
func (h *HealthStatus) Check(ctx context.Context, p Probes) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if p.Redis != nil {
		h.CheckRedis(probeCtx, p.Redis)
	}
	if p.SQLite != nil {
		h.CheckSQLite(probeCtx, p.SQLite)
	}
	if p.Feed != nil {
		h.SetFeed(p.Feed())
	}
}

// RunLivenessChecker checks immediately and then every interval until ctx
// is done.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, p Probes, interval time.Duration) {
	h.Check(ctx, p)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx, p)
		}
	}
}

// status computes the overall verdict: a configured store that fails, or
// subscribed keys with no live upstream, degrade the service.
func (h *HealthStatus) status() (string, int) {
	redisDown := h.RedisConfigured && !h.RedisConnected
	sqliteDown := h.SQLiteConfigured && !h.SQLiteOK
	feedDown := h.FeedKeys > 0 && h.FeedConnections == 0

	switch {
	case redisDown && sqliteDown:
		return "unhealthy", http.StatusServiceUnavailable
	case redisDown || sqliteDown || feedDown:
		return "degraded", http.StatusServiceUnavailable
	}
	return "healthy", http.StatusOK
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall, code := h.status()

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnections int     `json:"feed_connections"`
		FeedKeys        int     `json:"feed_keys"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  *bool   `json:"redis_connected,omitempty"`
		RedisLatencyMs  float64 `json:"redis_latency_ms,omitempty"`
		SQLiteOK        *bool   `json:"sqlite_ok,omitempty"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms,omitempty"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnections: h.FeedConnections,
		FeedKeys:        h.FeedKeys,
		TickAge:         tickAge,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}
	if h.RedisConfigured {
		v := h.RedisConnected
		status.RedisConnected = &v
	}
	if h.SQLiteConfigured {
		v := h.SQLiteOK
		status.SQLiteOK = &v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
