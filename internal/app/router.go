package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	audithttp "github.com/odyssey-erp/odyssey-workforce/internal/audit/http"
	"github.com/odyssey-erp/odyssey-workforce/internal/dedup"
	"github.com/odyssey-erp/odyssey-workforce/internal/leave"
	"github.com/odyssey-erp/odyssey-workforce/internal/notify"
	"github.com/odyssey-erp/odyssey-workforce/internal/observability"
	"github.com/odyssey-erp/odyssey-workforce/internal/payroll"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/users"
	"github.com/odyssey-erp/odyssey-workforce/jobs"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Actors ActorResolver
	DB     Pinger

	AttendanceHandler  *attendance.Handler
	LeaveHandler       *leave.Handler
	PayrollHandler     *payroll.Handler
	AuditHandler       *audithttp.Handler
	UsersHandler       *users.Handler
	ImportsHandler     *dedup.Handler
	NotifyHandler      *notify.Handler
	JobHandler         *jobs.Handler
	PermissionsHandler *rbac.PermissionsHandler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with workforce defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Actors:  params.Actors,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				logger.Warn("healthz database ping", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AttendanceHandler != nil {
		r.Route("/attendance", params.AttendanceHandler.MountRoutes)
	}
	if params.LeaveHandler != nil {
		r.Route("/leave", params.LeaveHandler.MountRoutes)
	}
	if params.PayrollHandler != nil {
		r.Route("/payroll", params.PayrollHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.ImportsHandler != nil {
		r.Route("/imports", params.ImportsHandler.MountRoutes)
	}
	if params.NotifyHandler != nil {
		r.Route("/me/notifications", params.NotifyHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/me/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
