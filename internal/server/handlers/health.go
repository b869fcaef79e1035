package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/queue"
	"github.com/watzon/docwebhooks/internal/realtime"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is one line of the health report. A critical component
// that is not healthy makes the whole service unhealthy; any other problem
// only degrades it.
type ComponentHealth struct {
	Status   HealthStatus `json:"status"`
	Critical bool         `json:"critical"`
	Message  string       `json:"message,omitempty"`
	Latency  string       `json:"latency,omitempty"`
	Details  any          `json:"details,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// QueueHealth is the dispatch queue section of the report.
type QueueHealth struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Backlog int `json:"backlog_limit"`
}

type RealtimeHealth struct {
	Enabled bool `json:"enabled"`
	realtime.HubStats
}

type HealthHandlers struct {
	db           *database.DB
	queue        *queue.Queue
	hub          *realtime.Hub
	backlogLimit int
	version      string
}

// NewHealthHandlers creates the health handlers. hub is nil when realtime
// is disabled. The queue is reported degraded once more than backlogLimit
// jobs wait; a non-positive limit disables that check.
func NewHealthHandlers(db *database.DB, q *queue.Queue, hub *realtime.Hub, backlogLimit int, version string) *HealthHandlers {
	return &HealthHandlers{
		db:           db,
		queue:        q,
		hub:          hub,
		backlogLimit: backlogLimit,
		version:      version,
	}
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

// Health handles GET /health. It answers 503 only when a critical
// component is down; a degraded dispatcher still accepts events.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]ComponentHealth{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(ctx),
		"realtime": h.checkRealtime(),
	}
	overall := summarize(components)

	status := http.StatusOK
	if overall == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, HealthResponse{
		Status:     overall,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	})
}

func summarize(components map[string]ComponentHealth) HealthStatus {
	overall := HealthStatusHealthy
	for _, c := range components {
		switch {
		case c.Status == HealthStatusHealthy:
		case c.Critical:
			return HealthStatusUnhealthy
		default:
			overall = HealthStatusDegraded
		}
	}
	return overall
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	c := ComponentHealth{
		Status:   HealthStatusHealthy,
		Critical: true,
		Latency:  time.Since(start).String(),
	}
	if err != nil {
		c.Status = HealthStatusUnhealthy
		c.Message = "database ping failed"
	}
	return c
}

// checkQueue reads job counts. The queue lives in the same database, so a
// read failure is already covered by the database check.
func (h *HealthHandlers) checkQueue(ctx context.Context) ComponentHealth {
	counts, err := h.queue.Stats(ctx)
	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "job counts unavailable",
		}
	}

	q := QueueHealth{
		Queued:  counts[string(queue.StatusQueued)],
		Running: counts[string(queue.StatusRunning)],
		Sent:    counts[string(queue.StatusSent)],
		Failed:  counts[string(queue.StatusFailed)],
		Backlog: h.backlogLimit,
	}
	c := ComponentHealth{Status: HealthStatusHealthy, Details: q}
	if h.backlogLimit > 0 && q.Queued > h.backlogLimit {
		c.Status = HealthStatusDegraded
		c.Message = "dispatch backlog above limit"
	}
	return c
}

func (h *HealthHandlers) checkRealtime() ComponentHealth {
	if h.hub == nil {
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: RealtimeHealth{},
		}
	}

	c := ComponentHealth{
		Status:  HealthStatusHealthy,
		Details: RealtimeHealth{Enabled: true, HubStats: h.hub.Stats()},
	}
	if h.hub.Full() {
		c.Status = HealthStatusDegraded
		c.Message = "no realtime capacity left"
	}
	return c
}

// Liveness handles GET /health/live.
func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness handles GET /health/ready. Events are accepted as soon as jobs
// can be persisted, so only the database gates readiness.
func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if c := h.checkDatabase(ctx); c.Status != HealthStatusHealthy {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": c.Message,
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Stats handles GET /health/stats.
func (h *HealthHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStats := h.db.Stats()
	resp := map[string]any{
		"uptime":     time.Since(startTime).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": m.HeapAlloc,
		"database": map[string]int{
			"open_connections": dbStats.OpenConnections,
			"in_use":           dbStats.InUse,
			"idle":             dbStats.Idle,
		},
		"queue":    h.checkQueue(r.Context()).Details,
		"realtime": h.checkRealtime().Details,
	}

	JSON(w, http.StatusOK, resp)
}
