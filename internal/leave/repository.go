package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const (
	typeColumns    = `id, code, name, default_annual_allocation, half_day, created_at`
	requestColumns = `id, user_id, leave_type_id, start_date, end_date, total_days, status, reason,
		reviewed_by, review_comments, reviewed_at, reopened_from, version, created_at`
	balanceColumns = `user_id, leave_type_id, period, total_allocated, used, pending, carried_forward, version, updated_at`
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q db.Querier
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

// GetLeaveType returns a leave type.
func (r *Repository) GetLeaveType(ctx context.Context, id int64) (LeaveType, error) {
	return getLeaveType(ctx, r.pool, id)
}

// ListLeaveTypes returns every leave type ordered by code.
func (r *Repository) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+typeColumns+` FROM leave_types ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("leave: list types: %w", err)
	}
	defer rows.Close()
	var out []LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// GetRequest returns one request.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, r.pool, id)
}

// ListRequests returns requests matching filter, newest first.
func (r *Repository) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg ...any) {
		for _, a := range arg {
			args = append(args, a)
			cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(args)), 1)
		}
		conds = append(conds, cond)
	}
	if filter.UserID > 0 {
		add("user_id = ?", filter.UserID)
	}
	if filter.LeaveTypeID > 0 {
		add("leave_type_id = ?", filter.LeaveTypeID)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if !filter.Period.IsZero() {
		add("start_date <= ? AND end_date >= ?", filter.Period.End(), filter.Period.Start())
	}
	query := `SELECT ` + requestColumns + ` FROM leave_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return listRequests(ctx, r.pool, query, args...)
}

// GetBalance returns a stored balance.
func (r *Repository) GetBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	return getBalance(ctx, r.pool, userID, leaveTypeID, period)
}

// ListBalances returns a user's balances for period.
func (r *Repository) ListBalances(ctx context.Context, userID int64, period shared.Period) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM leave_balances
		WHERE user_id = $1 AND period = $2 ORDER BY leave_type_id`, userID, period.String())
	if err != nil {
		return nil, fmt.Errorf("leave: list balances: %w", err)
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *txRepo) GetLeaveType(ctx context.Context, id int64) (LeaveType, error) {
	return getLeaveType(ctx, t.q, id)
}

func (t *txRepo) InsertLeaveType(ctx context.Context, lt LeaveType) (LeaveType, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO leave_types (code, name, default_annual_allocation, half_day)
		VALUES ($1, $2, $3, $4) RETURNING `+typeColumns, lt.Code, lt.Name, lt.DefaultAnnualAllocation, lt.HalfDay)
	saved, err := scanLeaveType(row)
	if err != nil {
		return LeaveType{}, db.MapError(err)
	}
	return saved, nil
}

func (t *txRepo) GetRequest(ctx context.Context, id int64) (Request, error) {
	return getRequest(ctx, t.q, id)
}

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (Request, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO leave_requests
		(user_id, leave_type_id, start_date, end_date, total_days, status, reason, reopened_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+requestColumns,
		req.UserID, req.LeaveTypeID, req.StartDate, req.EndDate, req.TotalDays, string(req.Status), req.Reason, req.ReopenedFrom)
	saved, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("leave: insert request: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error) {
	row := t.q.QueryRow(ctx, `UPDATE leave_requests SET
		status = $3, reviewed_by = $4, review_comments = $5, reviewed_at = $6, version = version + 1
		WHERE id = $1 AND version = $2 RETURNING `+requestColumns,
		req.ID, expectedVersion, string(req.Status), req.ReviewedBy, req.ReviewComments, req.ReviewedAt)
	saved, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("leave: request %d version %d: %w", req.ID, expectedVersion, shared.ErrConcurrencyConflict)
	}
	if err != nil {
		return Request{}, fmt.Errorf("leave: update request: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) ListOverlapping(ctx context.Context, userID, leaveTypeID int64, from, to time.Time) ([]Request, error) {
	return listRequests(ctx, t.q, `SELECT `+requestColumns+` FROM leave_requests
		WHERE user_id = $1 AND leave_type_id = $2 AND start_date <= $4 AND end_date >= $3
		ORDER BY id`, userID, leaveTypeID, from, to)
}

func (t *txRepo) GetBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	return getBalance(ctx, t.q, userID, leaveTypeID, period)
}

func (t *txRepo) InsertBalance(ctx context.Context, b Balance) (Balance, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO leave_balances
		(user_id, leave_type_id, period, total_allocated, used, pending, carried_forward)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+balanceColumns,
		b.UserID, b.LeaveTypeID, b.Period.String(), b.TotalAllocated, b.Used, b.Pending, b.CarriedForward)
	saved, err := scanBalance(row)
	if err != nil {
		return Balance{}, fmt.Errorf("leave: insert balance: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) (Balance, error) {
	row := t.q.QueryRow(ctx, `UPDATE leave_balances SET
		total_allocated = $5, used = $6, pending = $7, carried_forward = $8,
		version = version + 1, updated_at = NOW()
		WHERE user_id = $1 AND leave_type_id = $2 AND period = $3 AND version = $4
		RETURNING `+balanceColumns,
		b.UserID, b.LeaveTypeID, b.Period.String(), expectedVersion, b.TotalAllocated, b.Used, b.Pending, b.CarriedForward)
	saved, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, fmt.Errorf("leave: balance %s version %d: %w", b.Key(), expectedVersion, shared.ErrConcurrencyConflict)
	}
	if err != nil {
		return Balance{}, fmt.Errorf("leave: update balance: %w", db.MapError(err))
	}
	return saved, nil
}

func getLeaveType(ctx context.Context, q db.Querier, id int64) (LeaveType, error) {
	lt, err := scanLeaveType(q.QueryRow(ctx, `SELECT `+typeColumns+` FROM leave_types WHERE id = $1`, id))
	if err != nil {
		return LeaveType{}, db.MapError(err)
	}
	return lt, nil
}

func getRequest(ctx context.Context, q db.Querier, id int64) (Request, error) {
	req, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = $1`, id))
	if err != nil {
		return Request{}, fmt.Errorf("leave: request %d: %w", id, db.MapError(err))
	}
	return req, nil
}

func getBalance(ctx context.Context, q db.Querier, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	b, err := scanBalance(q.QueryRow(ctx, `SELECT `+balanceColumns+` FROM leave_balances
		WHERE user_id = $1 AND leave_type_id = $2 AND period = $3`, userID, leaveTypeID, period.String()))
	if err != nil {
		return Balance{}, db.MapError(err)
	}
	return b, nil
}

func listRequests(ctx context.Context, q db.Querier, query string, args ...any) ([]Request, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leave: list requests: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanLeaveType(row pgx.Row) (LeaveType, error) {
	var lt LeaveType
	err := row.Scan(&lt.ID, &lt.Code, &lt.Name, &lt.DefaultAnnualAllocation, &lt.HalfDay, &lt.CreatedAt)
	return lt, err
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var status string
	if err := row.Scan(&req.ID, &req.UserID, &req.LeaveTypeID, &req.StartDate, &req.EndDate, &req.TotalDays,
		&status, &req.Reason, &req.ReviewedBy, &req.ReviewComments, &req.ReviewedAt, &req.ReopenedFrom,
		&req.Version, &req.CreatedAt); err != nil {
		return Request{}, err
	}
	req.Status = RequestStatus(status)
	return req, nil
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var period string
	if err := row.Scan(&b.UserID, &b.LeaveTypeID, &period, &b.TotalAllocated, &b.Used, &b.Pending,
		&b.CarriedForward, &b.Version, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	p, err := shared.ParsePeriod(period)
	if err != nil {
		return Balance{}, err
	}
	b.Period = p
	return b, nil
}
