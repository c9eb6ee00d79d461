package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, userID int64, day time.Time) (Record, error)
	GetRecordByID(ctx context.Context, id int64) (Record, error)
	ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]Record, error)
	ListEvents(ctx context.Context, userID int64, day time.Time) ([]Event, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetRecord(ctx context.Context, userID int64, day time.Time) (Record, error)
	GetRecordByID(ctx context.Context, id int64) (Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	UpdateRecord(ctx context.Context, rec Record, expectedVersion int64) (Record, error)
	InsertEvent(ctx context.Context, ev Event) error
}

// LockGuard rejects writes into locked payroll periods.
type LockGuard interface {
	EnsureWritable(ctx context.Context, employeeID int64, day time.Time, override *shared.Override) error
}

// AuditPort receives best-effort audit entries and snapshots.
type AuditPort interface {
	Record(ctx context.Context, entry audit.Entry)
	Snapshot(ctx context.Context, entityType, entityID string, state any, changedBy int64)
}

// Service classifies and stores daily attendance.
type Service struct {
	repo   RepositoryPort
	locks  LockGuard
	audit  AuditPort
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the attendance service.
func NewService(repo RepositoryPort, locks LockGuard, audit AuditPort, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locks: locks, audit: audit, policy: policy, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Policy returns the default shift policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// CheckInInput captures a check-in event. Zero At means now; zero Day means the
// local day of At.
type CheckInInput struct {
	UserID   int64 `validate:"required,gt=0"`
	Day      time.Time
	At       time.Time
	Source   string `validate:"max=32"`
	Policy   *Policy
	Override *shared.Override
}

// CheckOutInput captures a check-out event.
type CheckOutInput struct {
	UserID   int64 `validate:"required,gt=0"`
	Day      time.Time
	At       time.Time
	Source   string `validate:"max=32"`
	Policy   *Policy
	Override *shared.Override
}

// AdminEditInput corrects one record under optimistic concurrency.
type AdminEditInput struct {
	RecordID        int64  `validate:"required,gt=0"`
	ExpectedVersion int64  `validate:"required,gt=0"`
	Status          Status `validate:"required"`
	CheckInTime     *time.Time
	CheckOutTime    *time.Time
	Notes           string `validate:"max=500"`
	Override        *shared.Override
}

// BulkMarkInput lists the (user, day) grid for weekoff or holiday marking.
type BulkMarkInput struct {
	UserIDs  []int64     `validate:"required,min=1,dive,gt=0"`
	Days     []time.Time `validate:"required,min=1"`
	Notes    string      `validate:"max=500"`
	Override *shared.Override
}

func (s *Service) resolve(p *Policy, day, at time.Time) (Policy, time.Time, time.Time) {
	policy := s.policy
	if p != nil {
		policy = *p
	}
	if at.IsZero() {
		at = s.now()
	}
	if day.IsZero() {
		day = policy.LocalDay(at)
	} else {
		day = shared.Day(day)
	}
	return policy, day, at
}

// RecordCheckIn opens the day for the user.
func (s *Service) RecordCheckIn(ctx context.Context, input CheckInInput) (Record, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Record{}, err
	}
	policy, day, at := s.resolve(input.Policy, input.Day, input.At)
	if !policy.LocalDay(at).Equal(day) {
		return Record{}, fmt.Errorf("%w: check-in at %s does not fall on %s", shared.ErrValidation,
			at.Format(time.RFC3339), day.Format(time.DateOnly))
	}
	if err := s.locks.EnsureWritable(ctx, input.UserID, day, input.Override); err != nil {
		return Record{}, err
	}

	var before *Record
	var saved Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecord(ctx, input.UserID, day)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			saved, err = tx.InsertRecord(ctx, Record{
				UserID:      input.UserID,
				Day:         day,
				Status:      StatusCheckedIn,
				CheckInTime: &at,
				TotalHours:  decimal.Zero,
				IsLate:      at.After(policy.LateAfter(day)),
			})
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if existing.CheckInTime != nil || existing.Status == StatusCheckedIn || existing.Status == StatusCheckedOut {
				return fmt.Errorf("attendance: user %d already checked in on %s: %w", input.UserID, day.Format(time.DateOnly), shared.ErrInvalidState)
			}
			prev := existing
			before = &prev
			existing.Status = StatusCheckedIn
			existing.CheckInTime = &at
			existing.CheckOutTime = nil
			existing.TotalHours = decimal.Zero
			existing.IsLate = at.After(policy.LateAfter(day))
			existing.IsEarlyCheckout = false
			saved, err = tx.UpdateRecord(ctx, existing, existing.Version)
			if err != nil {
				return err
			}
		}
		return tx.InsertEvent(ctx, Event{UserID: input.UserID, Day: day, Kind: EventCheckIn, At: at, Source: sourceOr(input.Source)})
	})
	if err != nil {
		return Record{}, err
	}
	s.recordChange(ctx, audit.ActionCheckIn, before, saved, input.UserID, input.Override)
	return saved, nil
}

// RecordCheckOut closes the user's open day and derives hours.
func (s *Service) RecordCheckOut(ctx context.Context, input CheckOutInput) (Record, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Record{}, err
	}
	policy, day, at := s.resolve(input.Policy, input.Day, input.At)
	if at.Before(policy.midnight(day)) || at.After(policy.CheckOutDeadline(day)) {
		return Record{}, fmt.Errorf("%w: check-out at %s is outside %s", shared.ErrValidation,
			at.Format(time.RFC3339), day.Format(time.DateOnly))
	}
	if err := s.locks.EnsureWritable(ctx, input.UserID, day, input.Override); err != nil {
		return Record{}, err
	}

	var before, saved Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecord(ctx, input.UserID, day)
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("attendance: no check-in for user %d on %s: %w", input.UserID, day.Format(time.DateOnly), shared.ErrInvalidState)
		}
		if err != nil {
			return err
		}
		if existing.Status != StatusCheckedIn || existing.CheckInTime == nil {
			return fmt.Errorf("attendance: record %d is %s: %w", existing.ID, existing.Status, shared.ErrInvalidState)
		}
		if at.Before(*existing.CheckInTime) {
			return fmt.Errorf("%w: check-out precedes check-in", shared.ErrValidation)
		}
		before = existing
		existing.Status = StatusCheckedOut
		existing.CheckOutTime = &at
		existing.TotalHours = WorkedHours(*existing.CheckInTime, at)
		existing.IsEarlyCheckout = at.Before(policy.EarlyBefore(day))
		saved, err = tx.UpdateRecord(ctx, existing, existing.Version)
		if err != nil {
			return err
		}
		return tx.InsertEvent(ctx, Event{UserID: input.UserID, Day: day, Kind: EventCheckOut, At: at, Source: sourceOr(input.Source)})
	})
	if err != nil {
		return Record{}, err
	}
	s.recordChange(ctx, audit.ActionCheckOut, &before, saved, input.UserID, input.Override)
	return saved, nil
}

// BulkMarkWeekoff marks every (user, day) pair as a weekly off day.
func (s *Service) BulkMarkWeekoff(ctx context.Context, input BulkMarkInput, actor int64) ([]ItemResult, error) {
	return s.bulkMark(ctx, input, StatusWeekoff, audit.ActionWeekoff, actor)
}

// BulkMarkHoliday marks every (user, day) pair as a holiday.
func (s *Service) BulkMarkHoliday(ctx context.Context, input BulkMarkInput, actor int64) ([]ItemResult, error) {
	return s.bulkMark(ctx, input, StatusHoliday, audit.ActionHoliday, actor)
}

func (s *Service) bulkMark(ctx context.Context, input BulkMarkInput, status Status, action audit.Action, actor int64) ([]ItemResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}
	results := make([]ItemResult, 0, len(input.UserIDs)*len(input.Days))
	for _, userID := range input.UserIDs {
		for _, d := range input.Days {
			day := shared.Day(d)
			outcome, err := s.markOne(ctx, userID, day, status, input.Notes, input.Override, action, actor)
			item := ItemResult{UserID: userID, Day: day, Outcome: outcome}
			if err != nil {
				item.Outcome = OutcomeFailed
				item.Err = err
				item.Error = shared.UserSafeMessage(err)
			}
			results = append(results, item)
		}
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.logger.Info("attendance bulk mark",
		slog.String("status", string(status)),
		slog.Int("items", len(results)),
		slog.Int("failed", failed))
	return results, nil
}

func (s *Service) markOne(ctx context.Context, userID int64, day time.Time, status Status, notes string, override *shared.Override, action audit.Action, actor int64) (string, error) {
	if err := s.locks.EnsureWritable(ctx, userID, day, override); err != nil {
		return "", err
	}
	outcome := OutcomeUnchanged
	var before *Record
	var saved Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecord(ctx, userID, day)
		if errors.Is(err, shared.ErrNotFound) {
			saved, err = tx.InsertRecord(ctx, Record{UserID: userID, Day: day, Status: status, TotalHours: decimal.Zero, Notes: notes})
			outcome = OutcomeCreated
			return err
		}
		if err != nil {
			return err
		}
		if isMarked(existing, status, notes) {
			return nil
		}
		prev := existing
		before = &prev
		existing.Status = status
		existing.CheckInTime = nil
		existing.CheckOutTime = nil
		existing.TotalHours = decimal.Zero
		existing.IsLate = false
		existing.IsEarlyCheckout = false
		existing.Notes = notes
		saved, err = tx.UpdateRecord(ctx, existing, existing.Version)
		outcome = OutcomeUpdated
		return err
	})
	if err != nil {
		return "", err
	}
	if outcome != OutcomeUnchanged {
		s.recordChange(ctx, action, before, saved, actor, override)
	}
	return outcome, nil
}

func isMarked(rec Record, status Status, notes string) bool {
	return rec.Status == status && rec.CheckInTime == nil && rec.CheckOutTime == nil &&
		rec.TotalHours.IsZero() && !rec.IsLate && !rec.IsEarlyCheckout && rec.Notes == notes
}

// AdminEdit applies a manual correction, failing on a stale version.
func (s *Service) AdminEdit(ctx context.Context, input AdminEditInput, actor int64) (Record, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Record{}, err
	}
	if !input.Status.Valid() {
		return Record{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, input.Status)
	}
	if input.CheckInTime != nil && input.CheckOutTime != nil && input.CheckOutTime.Before(*input.CheckInTime) {
		return Record{}, fmt.Errorf("%w: check-out precedes check-in", shared.ErrValidation)
	}
	current, err := s.repo.GetRecordByID(ctx, input.RecordID)
	if err != nil {
		return Record{}, err
	}
	if err := s.locks.EnsureWritable(ctx, current.UserID, current.Day, input.Override); err != nil {
		return Record{}, err
	}

	var before, saved Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecordByID(ctx, input.RecordID)
		if err != nil {
			return err
		}
		before = existing
		existing.Status = input.Status
		existing.CheckInTime = input.CheckInTime
		existing.CheckOutTime = input.CheckOutTime
		existing.Notes = input.Notes
		s.derive(&existing)
		saved, err = tx.UpdateRecord(ctx, existing, input.ExpectedVersion)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	s.recordChange(ctx, audit.ActionUpdate, &before, saved, actor, input.Override)
	return saved, nil
}

// derive recomputes hours and flags from the stored check times.
func (s *Service) derive(rec *Record) {
	rec.TotalHours = decimal.Zero
	rec.IsLate = false
	rec.IsEarlyCheckout = false
	if rec.CheckInTime != nil {
		rec.IsLate = rec.CheckInTime.After(s.policy.LateAfter(rec.Day))
	}
	if rec.CheckInTime != nil && rec.CheckOutTime != nil {
		rec.TotalHours = WorkedHours(*rec.CheckInTime, *rec.CheckOutTime)
		rec.IsEarlyCheckout = rec.CheckOutTime.Before(s.policy.EarlyBefore(rec.Day))
	}
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetRecordByID(ctx, id)
}

// ListByPeriod returns a user's records for the month ordered by day.
func (s *Service) ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]Record, error) {
	if userID <= 0 || period.IsZero() {
		return nil, fmt.Errorf("%w: user and period required", shared.ErrValidation)
	}
	return s.repo.ListByPeriod(ctx, userID, period)
}

// Summarize classifies a user's month with the default policy.
func (s *Service) Summarize(ctx context.Context, userID int64, period shared.Period) (Summary, error) {
	records, err := s.ListByPeriod(ctx, userID, period)
	if err != nil {
		return Summary{}, err
	}
	return Classify(records, s.policy), nil
}

// Events returns the raw check-in/out trail for a day.
func (s *Service) Events(ctx context.Context, userID int64, day time.Time) ([]Event, error) {
	return s.repo.ListEvents(ctx, userID, shared.Day(day))
}

// Restore makes a snapshotted state current again. It is registered with the
// audit store for rollbacks and respects payroll locks.
func (s *Service) Restore(ctx context.Context, entityID string, raw json.RawMessage, actorID int64) (json.RawMessage, error) {
	id, err := strconv.ParseInt(entityID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: attendance record id %q", shared.ErrValidation, entityID)
	}
	var target state
	if err := json.Unmarshal(raw, &target); err != nil {
		return nil, fmt.Errorf("attendance: decode snapshot: %w", err)
	}
	if !target.Status.Valid() {
		return nil, fmt.Errorf("%w: snapshot status %q", shared.ErrValidation, target.Status)
	}
	current, err := s.repo.GetRecordByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.locks.EnsureWritable(ctx, current.UserID, current.Day, nil); err != nil {
		return nil, err
	}
	var saved Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetRecordByID(ctx, id)
		if err != nil {
			return err
		}
		existing.Status = target.Status
		existing.CheckInTime = target.CheckInTime
		existing.CheckOutTime = target.CheckOutTime
		existing.TotalHours = target.TotalHours
		existing.IsLate = target.IsLate
		existing.IsEarlyCheckout = target.IsEarlyCheckout
		existing.Notes = target.Notes
		saved, err = tx.UpdateRecord(ctx, existing, existing.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateOf(saved))
}

func (s *Service) recordChange(ctx context.Context, action audit.Action, before *Record, after Record, actor int64, override *shared.Override) {
	if s.audit == nil {
		return
	}
	entityID := strconv.FormatInt(after.ID, 10)
	entry := audit.Entry{
		EntityType:   EntityType,
		EntityID:     entityID,
		Action:       action,
		ActorID:      actor,
		FieldChanged: "status",
		AfterValue:   string(after.Status),
		Metadata: map[string]any{
			"user_id": after.UserID,
			"day":     after.Day.Format(time.DateOnly),
			"version": after.Version,
		},
	}
	if before != nil {
		entry.BeforeValue = string(before.Status)
	}
	if override != nil {
		entry.Metadata["override_reason"] = override.Reason
	}
	s.audit.Record(ctx, entry)
	s.audit.Snapshot(ctx, EntityType, entityID, stateOf(after), actor)
}

func sourceOr(src string) string {
	if src == "" {
		return "api"
	}
	return src
}
