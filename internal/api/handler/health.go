package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/vidfetch/internal/counter"
	"github.com/iconidentify/vidfetch/internal/worker"
)

var startTime = time.Now()

// PoolStatser reports worker pool counters.
type PoolStatser interface {
	Stats() worker.Stats
}

// ToolChecker verifies external binaries the downloads depend on.
type ToolChecker interface {
	Check(ctx context.Context) error
}

// ToolCheckFunc adapts a function to ToolChecker.
type ToolCheckFunc func(ctx context.Context) error

// Check calls f(ctx).
func (f ToolCheckFunc) Check(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store   counter.Store
	pool    PoolStatser
	tools   ToolChecker
	tempDir string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(store counter.Store, pool PoolStatser, tempDir string) *HealthHandler {
	if store == nil {
		store = counter.Noop{}
	}
	return &HealthHandler{
		store:   store,
		pool:    pool,
		tempDir: tempDir,
	}
}

// SetToolChecker makes readiness depend on tools. Nil disables the check.
func (h *HealthHandler) SetToolChecker(tools ToolChecker) {
	h.tools = tools
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
	Pool      *worker.Stats `json:"pool,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.notReady(w, err)
		return
	}
	if h.tools != nil {
		if err := h.tools.Check(ctx); err != nil {
			h.notReady(w, err)
			return
		}
	}

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Pool = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) notReady(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
		Status:    "error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     err.Error(),
	})
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime         int64   `json:"uptime_seconds"`
	UptimeHuman    string  `json:"uptime_human"`
	MemAllocMB     int64   `json:"mem_alloc_mb"`
	MemSysMB       int64   `json:"mem_sys_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
	NumCPU         int     `json:"num_cpu"`
	CPUPercent     float64 `json:"cpu_percent"`
	DiskUsedBytes  int64   `json:"disk_used_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	TempPath       string  `json:"temp_path"`
}

// System handles GET /system - process and temp volume statistics.
func (h *HealthHandler) System(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    getCPUUsage(),
		TempPath:      h.tempDir,
	}
	stats.DiskTotalBytes, stats.DiskFreeBytes, stats.DiskUsedBytes, stats.DiskUsedPct = getDiskStats(h.tempDir)

	writeJSON(w, http.StatusOK, stats)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
