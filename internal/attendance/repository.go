package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const recordColumns = `id, user_id, day, status, check_in_time, check_out_time, total_hours,
	is_late, is_early_checkout, notes, version, created_at, updated_at`

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

// GetRecord returns the record for (user, day).
func (r *Repository) GetRecord(ctx context.Context, userID int64, day time.Time) (Record, error) {
	return getRecord(ctx, r.pool, userID, day)
}

// GetRecordByID returns a record by id.
func (r *Repository) GetRecordByID(ctx context.Context, id int64) (Record, error) {
	return getRecordByID(ctx, r.pool, id)
}

// ListByPeriod lists a user's records within the month.
func (r *Repository) ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM attendance_records
		WHERE user_id = $1 AND day BETWEEN $2 AND $3 ORDER BY day`, userID, period.Start(), period.End())
	if err != nil {
		return nil, fmt.Errorf("attendance: list period: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListEvents returns the raw events for a day in arrival order.
func (r *Repository) ListEvents(ctx context.Context, userID int64, day time.Time) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, day, kind, at, source FROM attendance_events
		WHERE user_id = $1 AND day = $2 ORDER BY at, id`, userID, day)
	if err != nil {
		return nil, fmt.Errorf("attendance: list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Day, &kind, &ev.At, &ev.Source); err != nil {
			return nil, err
		}
		ev.Kind = EventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *txRepo) GetRecord(ctx context.Context, userID int64, day time.Time) (Record, error) {
	return getRecord(ctx, t.q, userID, day)
}

func (t *txRepo) GetRecordByID(ctx context.Context, id int64) (Record, error) {
	return getRecordByID(ctx, t.q, id)
}

func (t *txRepo) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO attendance_records
		(user_id, day, status, check_in_time, check_out_time, total_hours, is_late, is_early_checkout, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+recordColumns,
		rec.UserID, rec.Day, string(rec.Status), rec.CheckInTime, rec.CheckOutTime, rec.TotalHours,
		rec.IsLate, rec.IsEarlyCheckout, rec.Notes)
	saved, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("attendance: insert: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) UpdateRecord(ctx context.Context, rec Record, expectedVersion int64) (Record, error) {
	row := t.q.QueryRow(ctx, `UPDATE attendance_records SET
		status = $3, check_in_time = $4, check_out_time = $5, total_hours = $6,
		is_late = $7, is_early_checkout = $8, notes = $9,
		version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+recordColumns,
		rec.ID, expectedVersion, string(rec.Status), rec.CheckInTime, rec.CheckOutTime, rec.TotalHours,
		rec.IsLate, rec.IsEarlyCheckout, rec.Notes)
	saved, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("attendance: record %d version %d: %w", rec.ID, expectedVersion, shared.ErrConcurrencyConflict)
		}
		return Record{}, fmt.Errorf("attendance: update: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) InsertEvent(ctx context.Context, ev Event) error {
	_, err := t.q.Exec(ctx, `INSERT INTO attendance_events (user_id, day, kind, at, source)
		VALUES ($1, $2, $3, $4, $5)`, ev.UserID, ev.Day, string(ev.Kind), ev.At, ev.Source)
	if err != nil {
		return fmt.Errorf("attendance: insert event: %w", err)
	}
	return nil
}

func getRecord(ctx context.Context, q db.Querier, userID int64, day time.Time) (Record, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE user_id = $1 AND day = $2`, userID, day)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, db.MapError(err)
	}
	return rec, nil
}

func getRecordByID(ctx context.Context, q db.Querier, id int64) (Record, error) {
	row := q.QueryRow(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("attendance: record %d: %w", id, db.MapError(err))
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var status string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Day, &status, &rec.CheckInTime, &rec.CheckOutTime, &rec.TotalHours,
		&rec.IsLate, &rec.IsEarlyCheckout, &rec.Notes, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}
