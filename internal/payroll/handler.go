package payroll

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const (
	clearRateLimit  = 5
	clearRateWindow = time.Minute
)

// BulkObserver counts per-item outcomes of bulk operations.
type BulkObserver interface {
	BulkItem(operation, outcome string)
}

// Handler wires payroll lock endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	metrics BulkObserver
}

// NewHandler builds payroll handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, metrics BulkObserver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, metrics: metrics}
}

// MountRoutes registers payroll routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourcePayroll, rbac.ActionView))
		r.Get("/records", h.listRecords)
		r.Get("/records/{employeeID}/{period}", h.getRecord)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourcePayroll, rbac.ActionLock))
		r.Post("/lock", h.lock)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourcePayroll, rbac.ActionUnlock))
		r.Post("/unlock", h.unlock)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourcePayroll, rbac.ActionClear))
		r.Use(httprate.Limit(clearRateLimit, clearRateWindow, httprate.WithKeyFuncs(actorKey)))
		r.Post("/clear", h.clear)
	})
}

type lockRequest struct {
	EmployeeIDs []int64       `json:"employee_ids"`
	Period      shared.Period `json:"period"`
}

type unlockRequest struct {
	EmployeeID int64         `json:"employee_id"`
	Period     shared.Period `json:"period"`
	Reason     string        `json:"reason"`
}

type clearRequest struct {
	EmployeeID        int64         `json:"employee_id"`
	Period            shared.Period `json:"period"`
	ConfirmationToken string        `json:"confirmation_token"`
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	period, err := shared.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.List(r.Context(), period)
	if err != nil {
		h.logger.Error("list salary records", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	employeeID, err := httpx.IDParam(r, "employeeID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := shared.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), employeeID, period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req lockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.LockPeriod(r.Context(), LockInput{EmployeeIDs: req.EmployeeIDs, Period: req.Period}, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		for _, item := range result.Items {
			h.metrics.BulkItem("payroll_lock", item.Outcome)
		}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req unlockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.Unlock(r.Context(), req.EmployeeID, req.Period, actor.ID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req clearRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ClearPeriodData(r.Context(), req.EmployeeID, req.Period, req.ConfirmationToken, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actor.ID, 10), nil
	}
	return httprate.KeyByIP(r)
}
