package leave

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
	"github.com/odyssey-erp/odyssey-workforce/internal/users"
)

// Directory resolves actors and reporting lines.
type Directory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
	GetActiveUser(ctx context.Context, id int64) (users.User, error)
}

// Notifier delivers best-effort notifications. Implementations swallow failures.
type Notifier interface {
	Notify(ctx context.Context, userID int64, kind, message, link string)
}

// Notification kinds emitted by the workflow.
const (
	NotifySubmitted = "leave_submitted"
	NotifyApproved  = "leave_approved"
	NotifyRejected  = "leave_rejected"
	NotifyCancelled = "leave_cancelled"
	NotifyReopened  = "leave_reopened"
)

// Workflow drives leave requests through pending -> approved|rejected|cancelled.
type Workflow struct {
	repo     RepositoryPort
	ledger   *Ledger
	users    Directory
	policy   *rbac.Policy
	locks    LockGuard
	audit    AuditPort
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// WorkflowConfig groups Workflow dependencies.
type WorkflowConfig struct {
	Repo     RepositoryPort
	Ledger   *Ledger
	Users    Directory
	Policy   *rbac.Policy
	Locks    LockGuard
	Audit    AuditPort
	Notifier Notifier
	Logger   *slog.Logger
}

// NewWorkflow constructs the approval workflow.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		repo:     cfg.Repo,
		ledger:   cfg.Ledger,
		users:    cfg.Users,
		policy:   cfg.Policy,
		locks:    cfg.Locks,
		audit:    cfg.Audit,
		notifier: cfg.Notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock.
func (w *Workflow) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// SubmitInput describes a new leave request.
type SubmitInput struct {
	UserID      int64     `validate:"required,gt=0"`
	LeaveTypeID int64     `validate:"required,gt=0"`
	StartDate   time.Time `validate:"required"`
	EndDate     time.Time `validate:"required"`
	Reason      string    `validate:"max=500"`
	Override    *shared.Override
}

// CreateLeaveTypeInput describes a leave type.
type CreateLeaveTypeInput struct {
	Code                    string `validate:"required,max=32"`
	Name                    string `validate:"required,max=120"`
	DefaultAnnualAllocation decimal.Decimal
	HalfDay                 bool
}

// CreateLeaveType stores a new immutable leave type. A duplicate code is an error.
func (w *Workflow) CreateLeaveType(ctx context.Context, input CreateLeaveTypeInput, actor int64) (LeaveType, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.ValidateStruct(input); err != nil {
		return LeaveType{}, err
	}
	if input.DefaultAnnualAllocation.IsNegative() || !halfDays(input.DefaultAnnualAllocation) {
		return LeaveType{}, fmt.Errorf("%w: allocation must be a non-negative number of half days", shared.ErrValidation)
	}
	var created LeaveType
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertLeaveType(ctx, LeaveType{
			Code:                    input.Code,
			Name:                    input.Name,
			DefaultAnnualAllocation: input.DefaultAnnualAllocation,
			HalfDay:                 input.HalfDay,
		})
		return err
	})
	if err != nil {
		return LeaveType{}, fmt.Errorf("leave: create type %s: %w", input.Code, err)
	}
	w.record(ctx, audit.Entry{
		EntityType: "leave_type",
		EntityID:   strconv.FormatInt(created.ID, 10),
		Action:     audit.ActionCreate,
		ActorID:    actor,
		AfterValue: created.Code,
	})
	return created, nil
}

// ListLeaveTypes returns every leave type.
func (w *Workflow) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	return w.repo.ListLeaveTypes(ctx)
}

// ListRequests returns requests matching filter.
func (w *Workflow) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	return w.repo.ListRequests(ctx, filter)
}

// GetRequest returns one request.
func (w *Workflow) GetRequest(ctx context.Context, id int64) (Request, error) {
	return w.repo.GetRequest(ctx, id)
}

// Submit stores a pending request and reserves its days in every touched period.
func (w *Workflow) Submit(ctx context.Context, input SubmitInput) (Request, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Request{}, err
	}
	start, end := shared.Day(input.StartDate), shared.Day(input.EndDate)
	if end.Before(start) {
		return Request{}, fmt.Errorf("%w: end date before start date", shared.ErrValidation)
	}
	requester, err := w.users.GetActiveUser(ctx, input.UserID)
	if err != nil {
		return Request{}, err
	}
	lt, err := w.repo.GetLeaveType(ctx, input.LeaveTypeID)
	if err != nil {
		return Request{}, fmt.Errorf("leave: leave type %d: %w", input.LeaveTypeID, err)
	}
	draft := Request{
		UserID:      input.UserID,
		LeaveTypeID: input.LeaveTypeID,
		StartDate:   start,
		EndDate:     end,
		TotalDays:   TotalDays(start, end, lt),
		Status:      StatusPending,
		Reason:      strings.TrimSpace(input.Reason),
	}
	if err := w.ensureWritable(ctx, draft, input.Override); err != nil {
		return Request{}, err
	}

	var created Request
	var balances []Balance
	err = w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := w.ensureAvailable(ctx, tx, draft, lt, false); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertRequest(ctx, draft)
		if err != nil {
			return err
		}
		balances, err = w.recomputeAll(ctx, tx, created)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	w.afterTransition(ctx, audit.ActionSubmit, nil, created, balances, input.UserID, input.Override)
	if requester.ManagerID != nil {
		w.notify(ctx, *requester.ManagerID, NotifySubmitted,
			fmt.Sprintf("%s requested %s day(s) of leave from %s", requester.Name, created.TotalDays, start.Format(time.DateOnly)),
			requestLink(created.ID))
	}
	return created, nil
}

// Approve moves a pending request to approved when every touched period has
// enough days available, not counting the request's own reservation.
func (w *Workflow) Approve(ctx context.Context, requestID, reviewerID int64, comments string, override *shared.Override) (Request, error) {
	return w.review(ctx, requestID, reviewerID, comments, override, StatusApproved)
}

// Reject moves a pending request to rejected and releases its reservation.
func (w *Workflow) Reject(ctx context.Context, requestID, reviewerID int64, comments string, override *shared.Override) (Request, error) {
	return w.review(ctx, requestID, reviewerID, comments, override, StatusRejected)
}

func (w *Workflow) review(ctx context.Context, requestID, reviewerID int64, comments string, override *shared.Override, target RequestStatus) (Request, error) {
	req, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("leave: request %d is %s: %w", requestID, req.Status, shared.ErrInvalidState)
	}
	if err := w.authorizeReviewer(ctx, reviewerID, req.UserID); err != nil {
		return Request{}, err
	}
	if err := w.ensureWritable(ctx, req, override); err != nil {
		return Request{}, err
	}

	var before, saved Request
	var balances []Balance
	err = w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return fmt.Errorf("leave: request %d is %s: %w", requestID, current.Status, shared.ErrInvalidState)
		}
		if target == StatusApproved {
			lt, err := tx.GetLeaveType(ctx, current.LeaveTypeID)
			if err != nil {
				return err
			}
			if err := w.ensureAvailable(ctx, tx, current, lt, true); err != nil {
				return err
			}
		}
		before = current
		reviewedAt := w.now().UTC()
		current.Status = target
		current.ReviewedBy = &reviewerID
		current.ReviewedAt = &reviewedAt
		current.ReviewComments = strings.TrimSpace(comments)
		saved, err = tx.UpdateRequest(ctx, current, req.Version)
		if err != nil {
			return err
		}
		balances, err = w.recomputeAll(ctx, tx, saved)
		return err
	})
	if err != nil {
		return Request{}, err
	}

	action, kind := audit.ActionApprove, NotifyApproved
	if target == StatusRejected {
		action, kind = audit.ActionReject, NotifyRejected
	}
	w.afterTransition(ctx, action, &before, saved, balances, reviewerID, override)
	w.notify(ctx, saved.UserID, kind,
		fmt.Sprintf("Your leave request from %s was %s", saved.StartDate.Format(time.DateOnly), saved.Status),
		requestLink(saved.ID))
	return saved, nil
}

// Cancel withdraws a pending request. Only the requester or a leave approver may cancel.
func (w *Workflow) Cancel(ctx context.Context, requestID, actorID int64, override *shared.Override) (Request, error) {
	req, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return Request{}, fmt.Errorf("leave: request %d is %s: %w", requestID, req.Status, shared.ErrInvalidState)
	}
	if actorID != req.UserID {
		actor, err := w.users.GetActiveUser(ctx, actorID)
		if err != nil {
			return Request{}, err
		}
		if err := w.policy.Authorize(actor.Role, rbac.ResourceLeave, rbac.ActionApprove); err != nil {
			return Request{}, err
		}
	}
	if err := w.ensureWritable(ctx, req, override); err != nil {
		return Request{}, err
	}

	var saved Request
	var balances []Balance
	err = w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if current.Status != StatusPending {
			return fmt.Errorf("leave: request %d is %s: %w", requestID, current.Status, shared.ErrInvalidState)
		}
		current.Status = StatusCancelled
		saved, err = tx.UpdateRequest(ctx, current, req.Version)
		if err != nil {
			return err
		}
		balances, err = w.recomputeAll(ctx, tx, saved)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	w.afterTransition(ctx, audit.ActionCancel, &req, saved, balances, actorID, override)
	w.notify(ctx, saved.UserID, NotifyCancelled,
		fmt.Sprintf("Your leave request from %s was cancelled", saved.StartDate.Format(time.DateOnly)),
		requestLink(saved.ID))
	return saved, nil
}

// Reopen copies a terminal request into a new pending request. The original
// stays untouched; while the copy is pending or approved it supersedes the
// original in the ledger.
func (w *Workflow) Reopen(ctx context.Context, requestID, actorID int64, reason string, override *shared.Override) (Request, error) {
	actor, err := w.users.GetActiveUser(ctx, actorID)
	if err != nil {
		return Request{}, err
	}
	if err := w.policy.Authorize(actor.Role, rbac.ResourceLeave, rbac.ActionReopen); err != nil {
		return Request{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return Request{}, fmt.Errorf("%w: reopen reason required", shared.ErrValidation)
	}
	original, err := w.repo.GetRequest(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if !original.Status.Terminal() {
		return Request{}, fmt.Errorf("leave: request %d is %s: %w", requestID, original.Status, shared.ErrInvalidState)
	}
	if err := w.ensureWritable(ctx, original, override); err != nil {
		return Request{}, err
	}

	var created Request
	var balances []Balance
	err = w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lt, err := tx.GetLeaveType(ctx, original.LeaveTypeID)
		if err != nil {
			return err
		}
		if err := ensureNotSuperseded(ctx, tx, original); err != nil {
			return err
		}
		origID := original.ID
		copyReq := Request{
			UserID:       original.UserID,
			LeaveTypeID:  original.LeaveTypeID,
			StartDate:    original.StartDate,
			EndDate:      original.EndDate,
			TotalDays:    original.TotalDays,
			Status:       StatusPending,
			Reason:       original.Reason,
			ReopenedFrom: &origID,
		}
		created, err = tx.InsertRequest(ctx, copyReq)
		if err != nil {
			return err
		}
		if err := w.ensureAvailable(ctx, tx, created, lt, true); err != nil {
			return err
		}
		balances, err = w.recomputeAll(ctx, tx, created)
		return err
	})
	if err != nil {
		return Request{}, err
	}
	w.record(ctx, audit.Entry{
		EntityType:   EntityRequest,
		EntityID:     strconv.FormatInt(original.ID, 10),
		Action:       audit.ActionReopen,
		ActorID:      actorID,
		FieldChanged: "status",
		BeforeValue:  string(original.Status),
		AfterValue:   string(StatusPending),
		Metadata: map[string]any{
			"reason":         reason,
			"new_request_id": created.ID,
		},
	})
	w.afterTransition(ctx, audit.ActionCreate, nil, created, balances, actorID, override)
	w.notify(ctx, created.UserID, NotifyReopened,
		fmt.Sprintf("Your leave request from %s was reopened for review", created.StartDate.Format(time.DateOnly)),
		requestLink(created.ID))
	return created, nil
}

// ensureNotSuperseded refuses a reopen while a live request already stands in
// for original, either a copy of it or a request it was reopened from.
func ensureNotSuperseded(ctx context.Context, tx TxRepository, original Request) error {
	for cur := original; cur.ReopenedFrom != nil; {
		parent, err := tx.GetRequest(ctx, *cur.ReopenedFrom)
		if err != nil {
			return err
		}
		if parent.Status.Live() {
			return fmt.Errorf("leave: request %d still stands for %d: %w", parent.ID, original.ID, shared.ErrInvalidState)
		}
		cur = parent
	}
	overlapping, err := tx.ListOverlapping(ctx, original.UserID, original.LeaveTypeID, original.StartDate, original.EndDate)
	if err != nil {
		return err
	}
	for _, req := range overlapping {
		if req.ReopenedFrom != nil && *req.ReopenedFrom == original.ID && req.Status.Live() {
			return fmt.Errorf("leave: request %d already reopened as %d: %w", original.ID, req.ID, shared.ErrInvalidState)
		}
	}
	return nil
}

// authorizeReviewer requires an active reviewer other than the requester who is
// either the requester's manager or holds the leave approval permission.
func (w *Workflow) authorizeReviewer(ctx context.Context, reviewerID, requesterID int64) error {
	if reviewerID == requesterID {
		return fmt.Errorf("leave: self review: %w", shared.ErrForbidden)
	}
	reviewer, err := w.users.GetActiveUser(ctx, reviewerID)
	if err != nil {
		return err
	}
	requester, err := w.users.GetUser(ctx, requesterID)
	if err != nil {
		return err
	}
	if requester.ReportsTo(reviewer.ID) {
		return nil
	}
	return w.policy.Authorize(reviewer.Role, rbac.ResourceLeave, rbac.ActionApprove)
}

func (w *Workflow) ensureWritable(ctx context.Context, req Request, override *shared.Override) error {
	for _, p := range req.Periods() {
		day := p.Start()
		if req.StartDate.After(day) {
			day = req.StartDate
		}
		if err := w.locks.EnsureWritable(ctx, req.UserID, day, override); err != nil {
			return err
		}
	}
	return nil
}

// ensureAvailable checks every touched period. When reserved is true the
// request is already counted as pending and its own days are added back.
func (w *Workflow) ensureAvailable(ctx context.Context, tx TxRepository, req Request, lt LeaveType, reserved bool) error {
	for _, p := range req.Periods() {
		bal, _, err := w.ledger.recompute(ctx, tx, req.UserID, req.LeaveTypeID, p)
		if err != nil {
			return err
		}
		days := DaysInPeriod(req, lt, p)
		available := bal.Available()
		if reserved {
			available = available.Add(days)
		}
		if available.LessThan(days) {
			return fmt.Errorf("leave: %s needs %s day(s), %s available: %w", p, days, clamp(available), shared.ErrInsufficientBalance)
		}
	}
	return nil
}

func (w *Workflow) recomputeAll(ctx context.Context, tx TxRepository, req Request) ([]Balance, error) {
	var out []Balance
	for _, p := range req.Periods() {
		bal, _, err := w.ledger.recompute(ctx, tx, req.UserID, req.LeaveTypeID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, nil
}

func (w *Workflow) afterTransition(ctx context.Context, action audit.Action, before *Request, after Request, balances []Balance, actor int64, override *shared.Override) {
	entry := audit.Entry{
		EntityType:   EntityRequest,
		EntityID:     strconv.FormatInt(after.ID, 10),
		Action:       action,
		ActorID:      actor,
		FieldChanged: "status",
		AfterValue:   string(after.Status),
		Metadata: map[string]any{
			"user_id":    after.UserID,
			"total_days": after.TotalDays.String(),
		},
	}
	if before != nil {
		entry.BeforeValue = string(before.Status)
	}
	if override != nil {
		entry.Metadata["override_reason"] = override.Reason
	}
	w.record(ctx, entry)
	if w.audit != nil {
		w.audit.Snapshot(ctx, EntityRequest, entry.EntityID, requestStateOf(after), actor)
	}
	for _, b := range balances {
		w.ledger.snapshot(ctx, b, actor)
	}
}

func (w *Workflow) record(ctx context.Context, entry audit.Entry) {
	if w.audit != nil {
		w.audit.Record(ctx, entry)
	}
}

func (w *Workflow) notify(ctx context.Context, userID int64, kind, message, link string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, userID, kind, message, link)
}

func requestLink(id int64) string {
	return "/leave/requests/" + strconv.FormatInt(id, 10)
}
