package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

const snapshotInsertAttempts = 3

// Repository provides persistence for audit_log and version_snapshots.
type Repository interface {
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
	InsertSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context, entityType, entityID string) (Snapshot, error)
	GetSnapshot(ctx context.Context, entityType, entityID string, version int64) (Snapshot, error)
	ListSnapshots(ctx context.Context, entityType, entityID string) ([]Snapshot, error)
}

// Restorer makes a stored snapshot the current state of an entity and returns the
// state that is now current.
type Restorer interface {
	Restore(ctx context.Context, entityID string, state json.RawMessage, actorID int64) (json.RawMessage, error)
}

// Store is the append-only audit log and version store.
type Store struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	restorers map[string]Restorer
}

// NewStore constructs a Store.
func NewStore(repo Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		restorers: make(map[string]Restorer),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Store) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RegisterRestorer binds an entity type to the component owning its state.
func (s *Store) RegisterRestorer(entityType string, r Restorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorers[entityType] = r
}

// Append inserts an audit entry. Entries are never updated or deleted.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: store not initialised")
	}
	if entry.Action == "" || entry.EntityType == "" || entry.EntityID == "" {
		return fmt.Errorf("%w: audit entry requires action/entity_type/entity_id", shared.ErrValidation)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if err := s.repo.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("audit: append %s/%s: %w", entry.EntityType, entry.EntityID, err)
	}
	return nil
}

// Snapshot stores state as the next version of the entity.
func (s *Store) Snapshot(ctx context.Context, entityType, entityID string, state any, changedBy int64) (Snapshot, error) {
	raw, err := marshalState(state)
	if err != nil {
		return Snapshot{}, err
	}
	return s.appendSnapshot(ctx, entityType, entityID, raw, changedBy, nil)
}

// Rollback restores the target version as current and records it as a new version.
func (s *Store) Rollback(ctx context.Context, entityType, entityID string, target int64, actorID int64) (Snapshot, error) {
	if target <= 0 {
		return Snapshot{}, fmt.Errorf("%w: target version must be positive", shared.ErrValidation)
	}
	s.mu.RLock()
	restorer, ok := s.restorers[entityType]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: entity type %q does not support rollback", shared.ErrValidation, entityType)
	}
	targetSnap, err := s.repo.GetSnapshot(ctx, entityType, entityID, target)
	if err != nil {
		return Snapshot{}, fmt.Errorf("audit: load version %d: %w", target, err)
	}
	latest, err := s.repo.LatestSnapshot(ctx, entityType, entityID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("audit: load latest version: %w", err)
	}
	current, err := restorer.Restore(ctx, entityID, targetSnap.FullSnapshot, actorID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("audit: restore %s/%s: %w", entityType, entityID, err)
	}
	if current == nil {
		current = targetSnap.FullSnapshot
	}
	snap, err := s.appendSnapshot(ctx, entityType, entityID, current, actorID, &target)
	if err != nil {
		return Snapshot{}, err
	}
	entry := Entry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     ActionRollback,
		ActorID:    actorID,
		Metadata: map[string]any{
			"from_version":   latest.VersionNumber,
			"target_version": target,
			"new_version":    snap.VersionNumber,
		},
	}
	if err := s.Append(ctx, entry); err != nil {
		s.logger.Error("audit rollback entry", slog.String("entity_type", entityType), slog.String("entity_id", entityID), slog.Any("error", err))
	}
	return snap, nil
}

// History returns every snapshot and audit entry for one entity.
func (s *Store) History(ctx context.Context, entityType, entityID string) (History, error) {
	snaps, err := s.repo.ListSnapshots(ctx, entityType, entityID)
	if err != nil {
		return History{}, err
	}
	entries, err := s.repo.ListEntries(ctx, TimelineFilters{EntityType: entityType, EntityID: entityID}, 0, 0)
	if err != nil {
		return History{}, err
	}
	return History{Entries: entries, Snapshots: snaps}, nil
}

// Timeline returns audit entries with paging.
func (s *Store) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.ListEntries(ctx, filters, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every entry matching filters without paging.
func (s *Store) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.ListEntries(ctx, filters, 0, 0)
}

func (s *Store) appendSnapshot(ctx context.Context, entityType, entityID string, raw json.RawMessage, changedBy int64, restoredFrom *int64) (Snapshot, error) {
	if s == nil || s.repo == nil {
		return Snapshot{}, errors.New("audit: store not initialised")
	}
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(entityID) == "" {
		return Snapshot{}, fmt.Errorf("%w: snapshot requires entity_type/entity_id", shared.ErrValidation)
	}
	for attempt := 0; attempt < snapshotInsertAttempts; attempt++ {
		var prevState json.RawMessage
		next := int64(1)
		latest, err := s.repo.LatestSnapshot(ctx, entityType, entityID)
		switch {
		case err == nil:
			prevState = latest.FullSnapshot
			next = latest.VersionNumber + 1
		case errors.Is(err, shared.ErrNotFound):
		default:
			return Snapshot{}, fmt.Errorf("audit: latest snapshot: %w", err)
		}
		diff, err := Diff(prevState, raw)
		if err != nil {
			return Snapshot{}, err
		}
		snap := Snapshot{
			EntityType:    entityType,
			EntityID:      entityID,
			VersionNumber: next,
			FullSnapshot:  raw,
			ChangedBy:     changedBy,
			ChangedAt:     s.now().UTC(),
			Diff:          diff,
			RestoredFrom:  restoredFrom,
		}
		err = s.repo.InsertSnapshot(ctx, snap)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, shared.ErrDuplicate) {
			return Snapshot{}, fmt.Errorf("audit: insert snapshot: %w", err)
		}
	}
	return Snapshot{}, fmt.Errorf("audit: insert snapshot after retries: %w", shared.ErrConcurrencyConflict)
}

func marshalState(state any) (json.RawMessage, error) {
	if raw, ok := state.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("audit: encode snapshot: %w", err)
	}
	return raw, nil
}
