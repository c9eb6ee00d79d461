package payroll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/leave"
	"github.com/odyssey-erp/odyssey-workforce/internal/rbac"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
	"github.com/odyssey-erp/odyssey-workforce/internal/users"
)

// RepositoryPort describes repository operations used by the lock manager.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, employeeID int64, period shared.Period) (SalaryRecord, error)
	ListByPeriod(ctx context.Context, period shared.Period) ([]SalaryRecord, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetRecord(ctx context.Context, employeeID int64, period shared.Period) (SalaryRecord, error)
	InsertRecord(ctx context.Context, rec SalaryRecord) (SalaryRecord, error)
	UpdateRecord(ctx context.Context, rec SalaryRecord, expectedVersion int64) (SalaryRecord, error)
	DeleteAttendance(ctx context.Context, employeeID int64, period shared.Period) (int64, error)
	DeleteSalary(ctx context.Context, employeeID int64, period shared.Period) (int64, error)
}

// AttendanceSource reads the attendance state captured at lock time.
type AttendanceSource interface {
	ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]attendance.Record, error)
	Summarize(ctx context.Context, userID int64, period shared.Period) (attendance.Summary, error)
}

// LeaveRequests finds leave still awaiting review.
type LeaveRequests interface {
	ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error)
}

// LeaveBalances reads the balances captured at lock time.
type LeaveBalances interface {
	Balances(ctx context.Context, userID int64, period shared.Period) ([]leave.Balance, error)
}

// Directory resolves actors.
type Directory interface {
	GetActiveUser(ctx context.Context, id int64) (users.User, error)
}

// AuditPort receives best-effort audit entries and snapshots.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry)
	Snapshot(ctx context.Context, entityType, entityID string, state any, changedBy int64)
}

// Config groups Service dependencies.
type Config struct {
	Repo       RepositoryPort
	Attendance AttendanceSource
	Requests   LeaveRequests
	Balances   LeaveBalances
	Users      Directory
	Policy     *rbac.Policy
	Cache      *LockCache
	Audit      AuditPort
	Logger     *slog.Logger
}

// Service is the salary lock manager. It owns SalaryRecord.locked and acts as
// the lock guard for attendance and leave writes.
type Service struct {
	repo       RepositoryPort
	attendance AttendanceSource
	requests   LeaveRequests
	balances   LeaveBalances
	users      Directory
	policy     *rbac.Policy
	cache      *LockCache
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the lock manager.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:       cfg.Repo,
		attendance: cfg.Attendance,
		requests:   cfg.Requests,
		balances:   cfg.Balances,
		users:      cfg.Users,
		policy:     cfg.Policy,
		cache:      cfg.Cache,
		audit:      cfg.Audit,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetSources binds the attendance and leave readers. The readers are built
// with this service as their lock guard, so they are attached after construction.
func (s *Service) SetSources(att AttendanceSource, requests LeaveRequests, balances LeaveBalances) {
	s.attendance = att
	s.requests = requests
	s.balances = balances
}

// LockInput selects the employees to lock for one period.
type LockInput struct {
	EmployeeIDs []int64 `validate:"required,min=1,dive,gt=0"`
	Period      shared.Period
}

// IsLocked reports whether the employee period is locked.
func (s *Service) IsLocked(ctx context.Context, employeeID int64, period shared.Period) (bool, error) {
	return s.cache.Locked(ctx, employeeID, period, func(ctx context.Context) (bool, error) {
		rec, err := s.repo.GetRecord(ctx, employeeID, period)
		if errors.Is(err, shared.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec.Locked, nil
	})
}

// EnsureWritable rejects mutations of a locked period unless override names an
// actor allowed to override payroll locks and a reason. Override use is audited.
func (s *Service) EnsureWritable(ctx context.Context, employeeID int64, day time.Time, override *shared.Override) error {
	period := shared.PeriodOf(day)
	locked, err := s.IsLocked(ctx, employeeID, period)
	if err != nil {
		return fmt.Errorf("payroll: lock status: %w", err)
	}
	if !locked {
		return nil
	}
	if override == nil {
		return fmt.Errorf("payroll: employee %d period %s: %w", employeeID, period, shared.ErrLockedPeriod)
	}
	if strings.TrimSpace(override.Reason) == "" {
		return fmt.Errorf("%w: override reason required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, override.ActorID, rbac.ActionOverride); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{
		EntityType:   EntityType,
		EntityID:     RecordKey(employeeID, period),
		Action:       audit.ActionLockOverride,
		ActorID:      override.ActorID,
		FieldChanged: "locked",
		BeforeValue:  "true",
		AfterValue:   "true",
		Metadata: map[string]any{
			"reason": override.Reason,
			"day":    shared.Day(day).Format(time.DateOnly),
		},
	})
	return nil
}

// LockPeriod locks each employee independently. Already-locked periods are
// skipped; unstable ones fail without affecting the rest.
func (s *Service) LockPeriod(ctx context.Context, input LockInput, actor int64) (LockResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return LockResult{}, err
	}
	if input.Period.IsZero() {
		return LockResult{}, fmt.Errorf("%w: period required", shared.ErrValidation)
	}
	result := LockResult{Items: make([]LockItem, 0, len(input.EmployeeIDs))}
	for _, employeeID := range input.EmployeeIDs {
		outcome, err := s.lockOne(ctx, employeeID, input.Period, actor)
		item := LockItem{EmployeeID: employeeID, Outcome: outcome}
		switch {
		case err != nil:
			item.Outcome = OutcomeFailed
			item.Err = err
			item.Error = shared.UserSafeMessage(err)
			result.Failed++
		case outcome == OutcomeSkipped:
			result.Skipped++
		default:
			result.Locked++
		}
		result.Items = append(result.Items, item)
	}
	s.logger.Info("payroll lock period",
		slog.String("period", input.Period.String()),
		slog.Int("locked", result.Locked),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) lockOne(ctx context.Context, employeeID int64, period shared.Period, actor int64) (string, error) {
	current, err := s.repo.GetRecord(ctx, employeeID, period)
	if err == nil && current.Locked {
		return OutcomeSkipped, nil
	}
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return "", err
	}
	if err := s.ensureStable(ctx, employeeID, period); err != nil {
		return "", err
	}
	snap, err := s.capture(ctx, employeeID, period)
	if err != nil {
		return "", err
	}

	var saved SalaryRecord
	outcome := OutcomeLocked
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecord(ctx, employeeID, period)
		if errors.Is(err, shared.ErrNotFound) {
			rec, err = tx.InsertRecord(ctx, SalaryRecord{EmployeeID: employeeID, Period: period, Status: StatusDraft})
		}
		if err != nil {
			return err
		}
		if rec.Locked {
			outcome = OutcomeSkipped
			return nil
		}
		lockedAt := s.now().UTC()
		rec.Status = StatusLocked
		rec.Locked = true
		rec.LockedBy = &actor
		rec.LockedAt = &lockedAt
		rec.Snapshot = snap
		saved, err = tx.UpdateRecord(ctx, rec, rec.Version)
		return err
	})
	if err != nil || outcome == OutcomeSkipped {
		return outcome, err
	}
	s.cache.Store(ctx, employeeID, period, true)
	s.record(ctx, audit.Entry{
		EntityType:   EntityType,
		EntityID:     saved.Key(),
		Action:       audit.ActionLock,
		ActorID:      actor,
		FieldChanged: "status",
		BeforeValue:  string(StatusDraft),
		AfterValue:   string(StatusLocked),
	})
	s.snapshot(ctx, saved, actor)
	return outcome, nil
}

// ensureStable refuses to lock while leave is pending or an attendance day is still open.
func (s *Service) ensureStable(ctx context.Context, employeeID int64, period shared.Period) error {
	pending, err := s.requests.ListRequests(ctx, leave.RequestFilter{UserID: employeeID, Status: leave.StatusPending, Period: period})
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("payroll: employee %d has %d pending leave request(s) in %s: %w", employeeID, len(pending), period, shared.ErrInvalidState)
	}
	records, err := s.attendance.ListByPeriod(ctx, employeeID, period)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Status == attendance.StatusCheckedIn {
			return fmt.Errorf("payroll: employee %d still checked in on %s: %w", employeeID, rec.Day.Format(time.DateOnly), shared.ErrInvalidState)
		}
	}
	return nil
}

func (s *Service) capture(ctx context.Context, employeeID int64, period shared.Period) (json.RawMessage, error) {
	summary, err := s.attendance.Summarize(ctx, employeeID, period)
	if err != nil {
		return nil, err
	}
	balances, err := s.balances.Balances(ctx, employeeID, period)
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []leave.Balance{}
	}
	raw, err := json.Marshal(PeriodSnapshot{Attendance: summary, LeaveBalances: balances, CapturedAt: s.now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("payroll: encode snapshot: %w", err)
	}
	return raw, nil
}

// Unlock returns a locked period to draft. Only actors allowed to unlock may do
// so, and a reason is required.
func (s *Service) Unlock(ctx context.Context, employeeID int64, period shared.Period, actor int64, reason string) (SalaryRecord, error) {
	reason = strings.TrimSpace(reason)
	if employeeID <= 0 || period.IsZero() {
		return SalaryRecord{}, fmt.Errorf("%w: employee and period required", shared.ErrValidation)
	}
	if reason == "" {
		return SalaryRecord{}, fmt.Errorf("%w: unlock reason required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, actor, rbac.ActionUnlock); err != nil {
		return SalaryRecord{}, err
	}
	var saved SalaryRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecord(ctx, employeeID, period)
		if err != nil {
			return err
		}
		if !rec.Locked {
			return fmt.Errorf("payroll: employee %d period %s not locked: %w", employeeID, period, shared.ErrInvalidState)
		}
		rec.Status = StatusDraft
		rec.Locked = false
		rec.LockedBy = nil
		rec.LockedAt = nil
		saved, err = tx.UpdateRecord(ctx, rec, rec.Version)
		return err
	})
	if err != nil {
		return SalaryRecord{}, err
	}
	s.cache.Store(ctx, employeeID, period, false)
	s.record(ctx, audit.Entry{
		EntityType:   EntityType,
		EntityID:     saved.Key(),
		Action:       audit.ActionUnlock,
		ActorID:      actor,
		FieldChanged: "status",
		BeforeValue:  string(StatusLocked),
		AfterValue:   string(StatusDraft),
		Metadata:     map[string]any{"reason": reason},
	})
	s.snapshot(ctx, saved, actor)
	return saved, nil
}

// ClearPeriodData deletes an unlocked period's attendance and salary rows. The
// confirmation token must equal ClearConfirmation exactly.
func (s *Service) ClearPeriodData(ctx context.Context, employeeID int64, period shared.Period, token string, actor int64) (ClearResult, error) {
	if token != ClearConfirmation {
		return ClearResult{}, fmt.Errorf("%w: confirmation token must be %q", shared.ErrValidation, ClearConfirmation)
	}
	if employeeID <= 0 || period.IsZero() {
		return ClearResult{}, fmt.Errorf("%w: employee and period required", shared.ErrValidation)
	}
	if err := s.authorize(ctx, actor, rbac.ActionClear); err != nil {
		return ClearResult{}, err
	}
	var result ClearResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetRecord(ctx, employeeID, period)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && rec.Locked {
			return fmt.Errorf("payroll: employee %d period %s: %w", employeeID, period, shared.ErrLockedPeriod)
		}
		if result.AttendanceDeleted, err = tx.DeleteAttendance(ctx, employeeID, period); err != nil {
			return err
		}
		result.SalaryDeleted, err = tx.DeleteSalary(ctx, employeeID, period)
		return err
	})
	if err != nil {
		return ClearResult{}, err
	}
	s.cache.Store(ctx, employeeID, period, false)
	s.record(ctx, audit.Entry{
		EntityType: EntityType,
		EntityID:   RecordKey(employeeID, period),
		Action:     audit.ActionClearPeriod,
		ActorID:    actor,
		Metadata: map[string]any{
			"attendance_deleted": result.AttendanceDeleted,
			"salary_deleted":     result.SalaryDeleted,
		},
	})
	s.logger.Warn("payroll period cleared",
		slog.Int64("employee_id", employeeID),
		slog.String("period", period.String()),
		slog.Int64("attendance_deleted", result.AttendanceDeleted),
		slog.Int64("salary_deleted", result.SalaryDeleted))
	return result, nil
}

// Get returns one salary record.
func (s *Service) Get(ctx context.Context, employeeID int64, period shared.Period) (SalaryRecord, error) {
	return s.repo.GetRecord(ctx, employeeID, period)
}

// List returns the salary records of a period.
func (s *Service) List(ctx context.Context, period shared.Period) ([]SalaryRecord, error) {
	if period.IsZero() {
		return nil, fmt.Errorf("%w: period required", shared.ErrValidation)
	}
	return s.repo.ListByPeriod(ctx, period)
}

func (s *Service) authorize(ctx context.Context, actorID int64, action rbac.Action) error {
	actor, err := s.users.GetActiveUser(ctx, actorID)
	if err != nil {
		return err
	}
	return s.policy.Authorize(actor.Role, rbac.ResourcePayroll, action)
}

func (s *Service) snapshot(ctx context.Context, rec SalaryRecord, actor int64) {
	if s.audit != nil {
		s.audit.Snapshot(ctx, EntityType, rec.Key(), stateOf(rec), actor)
	}
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.audit != nil {
		s.audit.Record(ctx, entry)
	}
}
