package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
)

const recordColumns = `id, external_id, name, phone, email, source, created_at`

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

// ListRecords returns every imported record ordered by id.
func (r *Repository) ListRecords(ctx context.Context) ([]ImportedRecord, error) {
	return listRecords(ctx, r.pool, false)
}

func (t *txRepo) ListRecords(ctx context.Context) ([]ImportedRecord, error) {
	return listRecords(ctx, t.q, true)
}

func (t *txRepo) InsertRecord(ctx context.Context, rec ImportedRecord) (ImportedRecord, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO imported_records (external_id, name, phone, email, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+recordColumns,
		rec.ExternalID, rec.Name, rec.Phone, rec.Email, rec.Source, rec.CreatedAt)
	saved, err := scanRecord(row)
	if err != nil {
		return ImportedRecord{}, fmt.Errorf("dedup: insert record: %w", db.MapError(err))
	}
	return saved, nil
}

func (t *txRepo) DeleteRecords(ctx context.Context, ids []int64) (int64, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM imported_records WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("dedup: delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func listRecords(ctx context.Context, q db.Querier, forUpdate bool) ([]ImportedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM imported_records ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dedup: list records: %w", err)
	}
	defer rows.Close()
	var out []ImportedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (ImportedRecord, error) {
	var rec ImportedRecord
	if err := row.Scan(&rec.ID, &rec.ExternalID, &rec.Name, &rec.Phone, &rec.Email, &rec.Source, &rec.CreatedAt); err != nil {
		return ImportedRecord{}, err
	}
	return rec, nil
}
