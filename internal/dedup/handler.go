package dedup

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// BulkObserver counts per-item outcomes of bulk operations.
type BulkObserver interface {
	BulkItem(operation, outcome string)
}

// Handler wires import and deduplication endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	metrics BulkObserver
}

// NewHandler builds the handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, metrics BulkObserver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, metrics: metrics}
}

// MountRoutes registers import routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.Require(rbac.ResourceImports, rbac.ActionView)).Get("/", h.list)
	r.With(h.rbac.Require(rbac.ResourceImports, rbac.ActionWrite)).Post("/", h.importRecords)
	r.With(h.rbac.Require(rbac.ResourceImports, rbac.ActionDedup)).Post("/dedup", h.run)
}

type importRequest struct {
	Records []ImportInput `json:"records"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list imported records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) importRecords(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.Import(r.Context(), req.Records)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"records": records})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	report, err := h.service.Run(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("dedup run", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		for _, d := range report.Deletions {
			h.metrics.BulkItem("dedup", string(d.Pass))
		}
	}
	httpx.JSON(w, http.StatusOK, report)
}
