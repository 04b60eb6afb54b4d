package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const healthTimeout = 2 * time.Second

// Pinger checks one backing dependency.
type Pinger func(ctx context.Context) error

// HealthHandler reports dependency reachability and session counts.
type HealthHandler struct {
	sessionService *service.ExamSessionService
	checks         map[string]Pinger
	startTime      time.Time
}

type runtimeMetrics struct {
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
	GoVersion  string `json:"go_version"`
}

// NewHealthHandler creates a new HealthHandler. checks maps a dependency
// name ("postgres", "redis") to its ping.
func NewHealthHandler(sessionService *service.ExamSessionService, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{sessionService: sessionService, checks: checks, startTime: time.Now()}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	healthy := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			deps[name] = err.Error()
			healthy = false
			continue
		}
		deps[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	response.Success(c, code, gin.H{
		"status":       status,
		"dependencies": deps,
		"sessions":     h.sessionService.Stats(),
		"runtime":      h.collectRuntime(),
	})
}

func (h *HealthHandler) collectRuntime() runtimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return runtimeMetrics{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		NumGC:      mem.NumGC,
		GoVersion:  runtime.Version(),
	}
}
