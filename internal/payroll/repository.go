package payroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const recordColumns = `id, employee_id, period, status, locked, locked_by, locked_at, snapshot, version, updated_at`

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

// GetRecord returns the salary record of an employee period.
func (r *Repository) GetRecord(ctx context.Context, employeeID int64, period shared.Period) (SalaryRecord, error) {
	return getRecord(ctx, r.pool, employeeID, period, false)
}

// ListByPeriod returns every salary record of a period.
func (r *Repository) ListByPeriod(ctx context.Context, period shared.Period) ([]SalaryRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM salary_records WHERE period = $1 ORDER BY employee_id`, period.String())
	if err != nil {
		return nil, fmt.Errorf("payroll: list records: %w", err)
	}
	defer rows.Close()
	var out []SalaryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *txRepo) GetRecord(ctx context.Context, employeeID int64, period shared.Period) (SalaryRecord, error) {
	return getRecord(ctx, t.q, employeeID, period, true)
}

func (t *txRepo) InsertRecord(ctx context.Context, rec SalaryRecord) (SalaryRecord, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO salary_records (employee_id, period, status)
		VALUES ($1, $2, $3) RETURNING `+recordColumns, rec.EmployeeID, rec.Period.String(), string(rec.Status))
	saved, err := scanRecord(row)
	if err != nil {
		return SalaryRecord{}, fmt.Errorf("payroll: insert record: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) UpdateRecord(ctx context.Context, rec SalaryRecord, expectedVersion int64) (SalaryRecord, error) {
	row := t.q.QueryRow(ctx, `UPDATE salary_records SET
		status = $3, locked = $4, locked_by = $5, locked_at = $6, snapshot = $7,
		version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 RETURNING `+recordColumns,
		rec.ID, expectedVersion, string(rec.Status), rec.Locked, rec.LockedBy, rec.LockedAt, []byte(rec.Snapshot))
	saved, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalaryRecord{}, fmt.Errorf("payroll: record %d version %d: %w", rec.ID, expectedVersion, shared.ErrConcurrencyConflict)
	}
	if err != nil {
		return SalaryRecord{}, fmt.Errorf("payroll: update record: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) DeleteAttendance(ctx context.Context, employeeID int64, period shared.Period) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM attendance_records WHERE user_id = $1 AND day BETWEEN $2 AND $3`,
		employeeID, period.Start(), period.End())
	if err != nil {
		return 0, fmt.Errorf("payroll: delete attendance: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) DeleteSalary(ctx context.Context, employeeID int64, period shared.Period) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM salary_records WHERE employee_id = $1 AND period = $2`, employeeID, period.String())
	if err != nil {
		return 0, fmt.Errorf("payroll: delete salary: %w", err)
	}
	return tag.RowsAffected(), nil
}

func getRecord(ctx context.Context, q db.Querier, employeeID int64, period shared.Period, forUpdate bool) (SalaryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM salary_records WHERE employee_id = $1 AND period = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rec, err := scanRecord(q.QueryRow(ctx, query, employeeID, period.String()))
	if err != nil {
		return SalaryRecord{}, db.MapError(err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (SalaryRecord, error) {
	var (
		rec      SalaryRecord
		period   string
		status   string
		snapshot []byte
	)
	if err := row.Scan(&rec.ID, &rec.EmployeeID, &period, &status, &rec.Locked, &rec.LockedBy, &rec.LockedAt,
		&snapshot, &rec.Version, &rec.UpdatedAt); err != nil {
		return SalaryRecord{}, err
	}
	p, err := shared.ParsePeriod(period)
	if err != nil {
		return SalaryRecord{}, err
	}
	rec.Period = p
	rec.Status = Status(status)
	rec.Snapshot = snapshot
	return rec, nil
}
