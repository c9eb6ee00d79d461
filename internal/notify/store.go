package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// Notification is a persisted in-app message.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    int64      `json:"user_id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	Link      string     `json:"link,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Store persists notifications.
type Store interface {
	Insert(ctx context.Context, n Notification) (bool, error)
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error
}

const notificationColumns = `id, user_id, kind, message, link, created_at, read_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores n unless a row with its id exists. It reports whether a row was written.
func (r *Repository) Insert(ctx context.Context, n Notification) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO notifications (id, user_id, kind, message, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		n.ID, n.UserID, n.Kind, n.Message, n.Link, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("notify: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListForUser returns the newest notifications of a user.
func (r *Repository) ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps a user's notification as read.
func (r *Repository) MarkRead(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET read_at = COALESCE(read_at, $3) WHERE id = $1 AND user_id = $2`, id, userID, at)
	if err != nil {
		return fmt.Errorf("notify: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	if err := row.Scan(&n.ID, &n.UserID, &n.Kind, &n.Message, &n.Link, &n.CreatedAt, &n.ReadAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}
