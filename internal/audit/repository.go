package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/platform/db"
)

// PGRepository persists audit data in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// InsertEntry appends one audit_log row.
func (r *PGRepository) InsertEntry(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_log
(id, entity_type, entity_id, action, actor_id, field_changed, before_value, after_value, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EntityType, e.EntityID, string(e.Action), e.ActorID, e.FieldChanged, e.BeforeValue, e.AfterValue, meta, e.Timestamp)
	return db.MapError(err)
}

// ListEntries returns entries newest first. A zero limit returns every match.
func (r *PGRepository) ListEntries(ctx context.Context, f TimelineFilters, limit, offset int) ([]Entry, error) {
	query := `SELECT id, entity_type, entity_id, action, actor_id, field_changed, before_value, after_value, metadata, occurred_at
FROM audit_log WHERE 1=1`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		query += " AND " + clause + " $" + strconv.Itoa(len(args))
	}
	if !f.From.IsZero() {
		add("occurred_at >=", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <", f.To.AddDate(0, 0, 1))
	}
	if f.ActorID != 0 {
		add("actor_id =", f.ActorID)
	}
	if f.EntityType != "" {
		add("entity_type =", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id =", f.EntityID)
	}
	if f.Action != "" {
		add("action =", f.Action)
	}
	query += " ORDER BY occurred_at DESC, id"
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var action string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &e.ActorID, &e.FieldChanged, &e.BeforeValue, &e.AfterValue, &meta, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertSnapshot appends a version row; a taken version number maps to ErrDuplicate.
func (r *PGRepository) InsertSnapshot(ctx context.Context, s Snapshot) error {
	diff, err := json.Marshal(s.Diff)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO version_snapshots
(entity_type, entity_id, version_number, full_snapshot, diff, changed_by, changed_at, restored_from)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.EntityType, s.EntityID, s.VersionNumber, []byte(s.FullSnapshot), diff, s.ChangedBy, s.ChangedAt, s.RestoredFrom)
	return db.MapError(err)
}

const snapshotColumns = `entity_type, entity_id, version_number, full_snapshot, diff, changed_by, changed_at, restored_from`

// LatestSnapshot returns the highest version of the entity.
func (r *PGRepository) LatestSnapshot(ctx context.Context, entityType, entityID string) (Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM version_snapshots
WHERE entity_type=$1 AND entity_id=$2 ORDER BY version_number DESC LIMIT 1`, entityType, entityID)
	return scanSnapshot(row)
}

// GetSnapshot returns one version of the entity.
func (r *PGRepository) GetSnapshot(ctx context.Context, entityType, entityID string, version int64) (Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+` FROM version_snapshots
WHERE entity_type=$1 AND entity_id=$2 AND version_number=$3`, entityType, entityID, version)
	return scanSnapshot(row)
}

// ListSnapshots returns all versions in ascending order.
func (r *PGRepository) ListSnapshots(ctx context.Context, entityType, entityID string) ([]Snapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+` FROM version_snapshots
WHERE entity_type=$1 AND entity_id=$2 ORDER BY version_number`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var s Snapshot
	var full, diff []byte
	if err := row.Scan(&s.EntityType, &s.EntityID, &s.VersionNumber, &full, &diff, &s.ChangedBy, &s.ChangedAt, &s.RestoredFrom); err != nil {
		return Snapshot{}, db.MapError(err)
	}
	s.FullSnapshot = json.RawMessage(full)
	if len(diff) > 0 {
		_ = json.Unmarshal(diff, &s.Diff)
	}
	return s, nil
}
