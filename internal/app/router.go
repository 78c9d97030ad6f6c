package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the ops HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	JobsHandler       *jobs.Handler
	Checks            map[string]HealthCheck
	RequestsPerMinute int
}

// NewRouter builds the ops router serving /healthz, /metrics and /jobs.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:            params.Logger,
		Config:            params.Config,
		Metrics:           params.Metrics,
		RequestsPerMinute: params.RequestsPerMinute,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.Checks, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				resp.Checks[name] = "down"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httpx.JSON(w, status, resp)
	}
}
