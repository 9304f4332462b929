package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Pinger is satisfied by *pgxpool.Pool and the health probe of a redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports dependency reachability and engine load.
type HealthHandler struct {
	deps      map[string]Pinger
	registry  *service.SessionRegistry
	startTime time.Time
	log       zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. deps maps a dependency name
// to its probe.
func NewHealthHandler(deps map[string]Pinger, registry *service.SessionRegistry, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		deps:      deps,
		registry:  registry,
		startTime: time.Now(),
		log:       log.With().Str("component", "health_handler").Logger(),
	}
}

type healthReport struct {
	Status         string            `json:"status"`
	Uptime         string            `json:"uptime"`
	Dependencies   map[string]string `json:"dependencies"`
	OpenSessions   int               `json:"open_sessions"`
	RunningTimers  int               `json:"running_timers"`
	Goroutines     int               `json:"goroutines"`
	HeapAllocBytes uint64            `json:"heap_alloc_bytes"`
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Dependencies: make(map[string]string, len(h.deps)),
		Goroutines:   runtime.NumGoroutine(),
	}

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health probe failed")
			report.Dependencies[name] = "down"
			report.Status = "degraded"
			continue
		}
		report.Dependencies[name] = "up"
	}

	if h.registry != nil {
		report.OpenSessions = h.registry.Len()
		report.RunningTimers = len(h.registry.Running())
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAllocBytes = ms.HeapAlloc

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}
