package leave

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// BulkObserver counts per-item outcomes of bulk operations.
type BulkObserver interface {
	BulkItem(operation, outcome string)
}

// Handler wires leave HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	ledger   *Ledger
	workflow *Workflow
	rbac     rbac.Middleware
	metrics  BulkObserver
}

// NewHandler builds leave handler. metrics may be nil.
func NewHandler(logger *slog.Logger, ledger *Ledger, workflow *Workflow, rbac rbac.Middleware, metrics BulkObserver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, ledger: ledger, workflow: workflow, rbac: rbac, metrics: metrics}
}

// MountRoutes registers leave routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceLeave, rbac.ActionView))
		r.Get("/types", h.listTypes)
		r.Get("/requests", h.listRequests)
		r.Get("/requests/{requestID}", h.getRequest)
		r.Get("/balances", h.listBalances)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceLeave, rbac.ActionWrite))
		r.Post("/requests", h.submit)
		r.Post("/requests/{requestID}/approve", h.approve)
		r.Post("/requests/{requestID}/reject", h.reject)
		r.Post("/requests/{requestID}/cancel", h.cancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceLeave, rbac.ActionReopen))
		r.Post("/requests/{requestID}/reopen", h.reopen)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceLeave, rbac.ActionAllocate))
		r.Post("/types", h.createType)
		r.Post("/balances/recompute", h.recompute)
		r.Post("/allocations", h.bulkAllocate)
	})
}

type submitRequest struct {
	LeaveTypeID    int64  `json:"leave_type_id"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Reason         string `json:"reason"`
	OverrideReason string `json:"override_reason"`
}

type reviewRequest struct {
	Comments       string `json:"comments"`
	Reason         string `json:"reason"`
	OverrideReason string `json:"override_reason"`
}

type typeRequest struct {
	Code                    string          `json:"code"`
	Name                    string          `json:"name"`
	DefaultAnnualAllocation decimal.Decimal `json:"default_annual_allocation"`
	HalfDay                 bool            `json:"half_day"`
}

type recomputeRequest struct {
	UserID      int64         `json:"user_id"`
	LeaveTypeID int64         `json:"leave_type_id"`
	Period      shared.Period `json:"period"`
}

type allocationRequest struct {
	UserIDs        []int64         `json:"user_ids"`
	LeaveTypeID    int64           `json:"leave_type_id"`
	Period         shared.Period   `json:"period"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	CarriedForward decimal.Decimal `json:"carried_forward"`
	OverrideReason string          `json:"override_reason"`
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.workflow.ListLeaveTypes(r.Context())
	if err != nil {
		h.serverError(w, "list leave types", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"leave_types": types})
}

func (h *Handler) createType(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req typeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lt, err := h.workflow.CreateLeaveType(r.Context(), CreateLeaveTypeInput{
		Code:                    req.Code,
		Name:                    req.Name,
		DefaultAnnualAllocation: req.DefaultAnnualAllocation,
		HalfDay:                 req.HalfDay,
	}, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lt)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RequestFilter{Status: RequestStatus(q.Get("status"))}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.RespondError(w, fmt.Errorf("%w: unknown status", shared.ErrValidation))
		return
	}
	userID, err := h.subject(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.UserID = userID
	if raw := q.Get("period"); raw != "" {
		if filter.Period, err = shared.ParsePeriod(raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	requests, err := h.workflow.ListRequests(r.Context(), filter)
	if err != nil {
		h.serverError(w, "list leave requests", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "requestID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.workflow.GetRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if req.UserID != actor.ID && !h.rbac.Policy.Allowed(rbac.Role(actor.Role), rbac.ResourceLeave, rbac.ActionApprove) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subject(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := shared.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.ledger.Balances(r.Context(), userID, period)
	if err != nil {
		h.serverError(w, "list balances", err)
		return
	}
	type view struct {
		Balance
		Available decimal.Decimal `json:"available"`
	}
	out := make([]view, 0, len(balances))
	for _, b := range balances {
		out = append(out, view{Balance: b, Available: clamp(b.Available())})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": out})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, err := shared.ParseDay(req.StartDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	end, err := shared.ParseDay(req.EndDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.workflow.Submit(r.Context(), SubmitInput{
		UserID:      actor.ID,
		LeaveTypeID: req.LeaveTypeID,
		StartDate:   start,
		EndDate:     end,
		Reason:      req.Reason,
		Override:    overrideFor(actor, req.OverrideReason),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64, actor shared.Actor, req reviewRequest) (Request, error) {
		return h.workflow.Approve(r.Context(), id, actor.ID, req.Comments, overrideFor(actor, req.OverrideReason))
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64, actor shared.Actor, req reviewRequest) (Request, error) {
		return h.workflow.Reject(r.Context(), id, actor.ID, req.Comments, overrideFor(actor, req.OverrideReason))
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64, actor shared.Actor, req reviewRequest) (Request, error) {
		return h.workflow.Cancel(r.Context(), id, actor.ID, overrideFor(actor, req.OverrideReason))
	})
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64, actor shared.Actor, req reviewRequest) (Request, error) {
		return h.workflow.Reopen(r.Context(), id, actor.ID, req.Reason, overrideFor(actor, req.OverrideReason))
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, run func(int64, shared.Actor, reviewRequest) (Request, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "requestID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req reviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	saved, err := run(id, actor, req)
	if err != nil {
		h.logger.Warn("leave transition rejected",
			slog.Int64("request_id", id),
			slog.Int64("actor_id", actor.ID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.ledger.RecomputeBalance(r.Context(), req.UserID, req.LeaveTypeID, req.Period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) bulkAllocate(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req allocationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.ledger.BulkAssignAllocation(r.Context(), BulkAllocationInput{
		UserIDs:        req.UserIDs,
		LeaveTypeID:    req.LeaveTypeID,
		Period:         req.Period,
		TotalAllocated: req.TotalAllocated,
		CarriedForward: req.CarriedForward,
		Override:       overrideFor(actor, req.OverrideReason),
	}, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		for _, item := range results {
			outcome := "allocated"
			if item.Err != nil {
				outcome = "failed"
			}
			h.metrics.BulkItem("leave_allocation", outcome)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

// subject returns the user_id query parameter, defaulting to the actor. Reading
// another user's data requires the leave approval permission.
func (h *Handler) subject(r *http.Request) (int64, error) {
	actor, _ := shared.ActorFromContext(r.Context())
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return actor.ID, nil
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: invalid user_id", shared.ErrValidation)
	}
	if userID != actor.ID {
		if err := h.rbac.Policy.Authorize(rbac.Role(actor.Role), rbac.ResourceLeave, rbac.ActionApprove); err != nil {
			return 0, err
		}
	}
	return userID, nil
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func overrideFor(actor shared.Actor, reason string) *shared.Override {
	if reason == "" {
		return nil
	}
	return &shared.Override{ActorID: actor.ID, Reason: reason}
}
