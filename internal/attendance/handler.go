package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// BulkObserver counts per-item outcomes of bulk operations.
type BulkObserver interface {
	BulkItem(operation, outcome string)
}

// Handler wires attendance HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	metrics BulkObserver
}

// NewHandler builds attendance handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, metrics BulkObserver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, metrics: metrics}
}

// MountRoutes registers attendance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceAttendance, rbac.ActionWrite))
		r.Post("/check-in", h.checkIn)
		r.Post("/check-out", h.checkOut)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceAttendance, rbac.ActionView))
		r.Get("/records", h.listRecords)
		r.Get("/summary", h.summary)
		r.Get("/events", h.events)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(rbac.ResourceAttendance, rbac.ActionBulk))
		r.Post("/weekoff", h.bulkWeekoff)
		r.Post("/holiday", h.bulkHoliday)
		r.Patch("/records/{recordID}", h.adminEdit)
	})
}

type eventRequest struct {
	Day            string `json:"day"`
	Source         string `json:"source"`
	OverrideReason string `json:"override_reason"`
}

type bulkRequest struct {
	UserIDs        []int64  `json:"user_ids"`
	Days           []string `json:"days"`
	Notes          string   `json:"notes"`
	OverrideReason string   `json:"override_reason"`
}

type editRequest struct {
	ExpectedVersion int64      `json:"expected_version"`
	Status          Status     `json:"status"`
	CheckInTime     *time.Time `json:"check_in_time"`
	CheckOutTime    *time.Time `json:"check_out_time"`
	Notes           string     `json:"notes"`
	OverrideReason  string     `json:"override_reason"`
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := optionalDay(req.Day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.RecordCheckIn(r.Context(), CheckInInput{
		UserID:   actor.ID,
		Day:      day,
		Source:   req.Source,
		Override: overrideFor(actor, req.OverrideReason),
	})
	if err != nil {
		h.logger.Warn("check-in rejected", slog.Int64("user_id", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := optionalDay(req.Day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.RecordCheckOut(r.Context(), CheckOutInput{
		UserID:   actor.ID,
		Day:      day,
		Source:   req.Source,
		Override: overrideFor(actor, req.OverrideReason),
	})
	if err != nil {
		h.logger.Warn("check-out rejected", slog.Int64("user_id", actor.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	userID, period, err := h.scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.ListByPeriod(r.Context(), userID, period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	userID, period, err := h.scope(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sum, err := h.service.Summarize(r.Context(), userID, period)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	userID, err := h.subject(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := shared.ParseDay(r.URL.Query().Get("day"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	events, err := h.service.Events(r.Context(), userID, day)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) bulkWeekoff(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "weekoff", h.service.BulkMarkWeekoff)
}

func (h *Handler) bulkHoliday(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, "holiday", h.service.BulkMarkHoliday)
}

func (h *Handler) bulk(w http.ResponseWriter, r *http.Request, operation string, run func(ctx context.Context, input BulkMarkInput, actor int64) ([]ItemResult, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	days := make([]time.Time, 0, len(req.Days))
	for _, raw := range req.Days {
		day, err := shared.ParseDay(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		days = append(days, day)
	}
	results, err := run(r.Context(), BulkMarkInput{
		UserIDs:  req.UserIDs,
		Days:     days,
		Notes:    req.Notes,
		Override: overrideFor(actor, req.OverrideReason),
	}, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.metrics != nil {
		for _, item := range results {
			h.metrics.BulkItem("attendance_"+operation, item.Outcome)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) adminEdit(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "recordID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.AdminEdit(r.Context(), AdminEditInput{
		RecordID:        id,
		ExpectedVersion: req.ExpectedVersion,
		Status:          req.Status,
		CheckInTime:     req.CheckInTime,
		CheckOutTime:    req.CheckOutTime,
		Notes:           req.Notes,
		Override:        overrideFor(actor, req.OverrideReason),
	}, actor.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// subject resolves whose data is requested. Only actors with bulk rights may
// read other users.
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
		if err := h.rbac.Policy.Authorize(rbac.Role(actor.Role), rbac.ResourceAttendance, rbac.ActionBulk); err != nil {
			return 0, err
		}
	}
	return userID, nil
}

func (h *Handler) scope(r *http.Request) (int64, shared.Period, error) {
	userID, err := h.subject(r)
	if err != nil {
		return 0, shared.Period{}, err
	}
	period, err := shared.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		return 0, shared.Period{}, err
	}
	return userID, period, nil
}

func optionalDay(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return shared.ParseDay(raw)
}

func overrideFor(actor shared.Actor, reason string) *shared.Override {
	if reason == "" {
		return nil
	}
	return &shared.Override{ActorID: actor.ID, Reason: reason}
}
