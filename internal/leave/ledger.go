package leave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// RepositoryPort describes repository operations used by the ledger and the workflow.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLeaveType(ctx context.Context, id int64) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
	GetBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error)
	ListBalances(ctx context.Context, userID int64, period shared.Period) ([]Balance, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetLeaveType(ctx context.Context, id int64) (LeaveType, error)
	InsertLeaveType(ctx context.Context, lt LeaveType) (LeaveType, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	InsertRequest(ctx context.Context, req Request) (Request, error)
	UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error)
	ListOverlapping(ctx context.Context, userID, leaveTypeID int64, from, to time.Time) ([]Request, error)
	GetBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error)
	InsertBalance(ctx context.Context, b Balance) (Balance, error)
	UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) (Balance, error)
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

// Ledger exclusively owns leave balances. Used and pending are always
// recomputed from the stored requests, never patched incrementally.
type Ledger struct {
	repo   RepositoryPort
	locks  LockGuard
	audit  AuditPort
	logger *slog.Logger
}

// NewLedger constructs the ledger.
func NewLedger(repo RepositoryPort, locks LockGuard, audit AuditPort, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, locks: locks, audit: audit, logger: logger}
}

// AllocationInput sets the allocation and carry-forward of one balance.
type AllocationInput struct {
	UserID         int64           `validate:"required,gt=0"`
	LeaveTypeID    int64           `validate:"required,gt=0"`
	Period         shared.Period
	TotalAllocated decimal.Decimal
	CarriedForward decimal.Decimal
	Override       *shared.Override
}

// BulkAllocationInput assigns the same allocation to many users.
type BulkAllocationInput struct {
	UserIDs        []int64 `validate:"required,min=1,dive,gt=0"`
	LeaveTypeID    int64   `validate:"required,gt=0"`
	Period         shared.Period
	TotalAllocated decimal.Decimal
	CarriedForward decimal.Decimal
	Override       *shared.Override
}

// RecomputeBalance rebuilds used and pending from the requests overlapping period.
func (l *Ledger) RecomputeBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	if userID <= 0 || leaveTypeID <= 0 || period.IsZero() {
		return Balance{}, fmt.Errorf("%w: user, leave type and period required", shared.ErrValidation)
	}
	var (
		bal     Balance
		changed bool
	)
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bal, changed, err = l.recompute(ctx, tx, userID, leaveTypeID, period)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	if changed {
		l.snapshot(ctx, bal, 0)
	}
	return bal, nil
}

// recompute must run inside tx. It reports whether the stored row changed.
func (l *Ledger) recompute(ctx context.Context, tx TxRepository, userID, leaveTypeID int64, period shared.Period) (Balance, bool, error) {
	lt, err := tx.GetLeaveType(ctx, leaveTypeID)
	if err != nil {
		return Balance{}, false, fmt.Errorf("leave: leave type %d: %w", leaveTypeID, err)
	}
	requests, err := tx.ListOverlapping(ctx, userID, leaveTypeID, period.Start(), period.End())
	if err != nil {
		return Balance{}, false, err
	}
	superseded := make(map[int64]bool)
	for _, req := range requests {
		if req.ReopenedFrom != nil && req.Status.Live() {
			superseded[*req.ReopenedFrom] = true
		}
	}
	used, pending := decimal.Zero, decimal.Zero
	for _, req := range requests {
		if superseded[req.ID] {
			continue
		}
		switch req.Status {
		case StatusApproved:
			used = used.Add(DaysInPeriod(req, lt, period))
		case StatusPending:
			pending = pending.Add(DaysInPeriod(req, lt, period))
		}
	}

	existing, err := tx.GetBalance(ctx, userID, leaveTypeID, period)
	if errors.Is(err, shared.ErrNotFound) {
		created, err := tx.InsertBalance(ctx, Balance{
			UserID:         userID,
			LeaveTypeID:    leaveTypeID,
			Period:         period,
			TotalAllocated: lt.MonthlyAllocation(),
			CarriedForward: decimal.Zero,
			Used:           used,
			Pending:        pending,
		})
		return created, err == nil, err
	}
	if err != nil {
		return Balance{}, false, err
	}
	if existing.Used.Equal(used) && existing.Pending.Equal(pending) {
		return existing, false, nil
	}
	existing.Used = used
	existing.Pending = pending
	updated, err := tx.UpdateBalance(ctx, existing, existing.Version)
	return updated, err == nil, err
}

// AvailableDays returns the days still available in period, clamped at zero.
func (l *Ledger) AvailableDays(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (decimal.Decimal, error) {
	bal, err := l.Balance(ctx, userID, leaveTypeID, period)
	if err != nil {
		return decimal.Zero, err
	}
	return clamp(bal.Available()), nil
}

// Balance returns the stored balance, materializing it when missing.
func (l *Ledger) Balance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	bal, err := l.repo.GetBalance(ctx, userID, leaveTypeID, period)
	if errors.Is(err, shared.ErrNotFound) {
		return l.RecomputeBalance(ctx, userID, leaveTypeID, period)
	}
	return bal, err
}

// Balances lists every balance a user holds for period.
func (l *Ledger) Balances(ctx context.Context, userID int64, period shared.Period) ([]Balance, error) {
	return l.repo.ListBalances(ctx, userID, period)
}

// AssignAllocation sets allocation and carry-forward. It refuses values that
// would leave fewer days than already used or reserved.
func (l *Ledger) AssignAllocation(ctx context.Context, input AllocationInput, actor int64) (Balance, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Balance{}, err
	}
	if input.Period.IsZero() || input.TotalAllocated.IsNegative() || input.CarriedForward.IsNegative() {
		return Balance{}, fmt.Errorf("%w: period and non-negative allocation required", shared.ErrValidation)
	}
	if !halfDays(input.TotalAllocated) || !halfDays(input.CarriedForward) {
		return Balance{}, fmt.Errorf("%w: allocation must be in half days", shared.ErrValidation)
	}
	if err := l.locks.EnsureWritable(ctx, input.UserID, input.Period.Start(), input.Override); err != nil {
		return Balance{}, err
	}
	var before, saved Balance
	err := l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, _, err := l.recompute(ctx, tx, input.UserID, input.LeaveTypeID, input.Period)
		if err != nil {
			return err
		}
		before = current
		current.TotalAllocated = input.TotalAllocated
		current.CarriedForward = input.CarriedForward
		if current.Available().IsNegative() {
			return fmt.Errorf("leave: allocation %s below committed %s days: %w",
				input.TotalAllocated.Add(input.CarriedForward), current.Used.Add(current.Pending), shared.ErrInsufficientBalance)
		}
		saved, err = tx.UpdateBalance(ctx, current, current.Version)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	l.record(ctx, audit.Entry{
		EntityType:   EntityBalance,
		EntityID:     saved.Key(),
		Action:       audit.ActionAllocate,
		ActorID:      actor,
		FieldChanged: "total_allocated",
		BeforeValue:  before.TotalAllocated.String(),
		AfterValue:   saved.TotalAllocated.String(),
		Metadata: map[string]any{
			"carried_forward": saved.CarriedForward.String(),
			"period":          saved.Period.String(),
		},
	})
	l.snapshot(ctx, saved, actor)
	return saved, nil
}

// BulkAssignAllocation assigns the allocation per user in independent transactions.
func (l *Ledger) BulkAssignAllocation(ctx context.Context, input BulkAllocationInput, actor int64) ([]AllocationResult, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return nil, err
	}
	results := make([]AllocationResult, 0, len(input.UserIDs))
	failed := 0
	for _, userID := range input.UserIDs {
		bal, err := l.AssignAllocation(ctx, AllocationInput{
			UserID:         userID,
			LeaveTypeID:    input.LeaveTypeID,
			Period:         input.Period,
			TotalAllocated: input.TotalAllocated,
			CarriedForward: input.CarriedForward,
			Override:       input.Override,
		}, actor)
		item := AllocationResult{UserID: userID, Balance: bal}
		if err != nil {
			failed++
			item.Err = err
			item.Error = shared.UserSafeMessage(err)
		}
		results = append(results, item)
	}
	l.logger.Info("leave bulk allocation",
		slog.Int64("leave_type_id", input.LeaveTypeID),
		slog.String("period", input.Period.String()),
		slog.Int("users", len(results)),
		slog.Int("failed", failed))
	return results, nil
}

// Restore applies a snapshotted allocation and carry-forward, then recomputes
// used and pending from the current requests.
func (l *Ledger) Restore(ctx context.Context, entityID string, raw json.RawMessage, actorID int64) (json.RawMessage, error) {
	userID, typeID, period, err := ParseBalanceKey(entityID)
	if err != nil {
		return nil, err
	}
	var target balanceState
	if err := json.Unmarshal(raw, &target); err != nil {
		return nil, fmt.Errorf("leave: decode snapshot: %w", err)
	}
	if err := l.locks.EnsureWritable(ctx, userID, period.Start(), nil); err != nil {
		return nil, err
	}
	var saved Balance
	err = l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, _, err := l.recompute(ctx, tx, userID, typeID, period)
		if err != nil {
			return err
		}
		current.TotalAllocated = target.TotalAllocated
		current.CarriedForward = target.CarriedForward
		if current.Available().IsNegative() {
			return fmt.Errorf("leave: restored allocation below committed days: %w", shared.ErrInsufficientBalance)
		}
		saved, err = tx.UpdateBalance(ctx, current, current.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(balanceStateOf(saved))
}

func (l *Ledger) snapshot(ctx context.Context, b Balance, actor int64) {
	if l.audit == nil {
		return
	}
	l.audit.Snapshot(ctx, EntityBalance, b.Key(), balanceStateOf(b), actor)
}

func (l *Ledger) record(ctx context.Context, entry audit.Entry) {
	if l.audit == nil {
		return
	}
	l.audit.Record(ctx, entry)
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
