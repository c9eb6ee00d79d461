// Package audittest provides an in-memory audit repository for tests.
package audittest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// Repository is a goroutine-safe in-memory audit.Repository.
type Repository struct {
	mu        sync.Mutex
	entries   []audit.Entry
	snapshots map[string][]audit.Snapshot

	// FailEntries makes InsertEntry fail, simulating an unavailable audit table.
	FailEntries bool
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{snapshots: make(map[string][]audit.Snapshot)}
}

func key(entityType, entityID string) string {
	return entityType + "/" + entityID
}

func (r *Repository) InsertEntry(ctx context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailEntries {
		return errors.New("audit table unavailable")
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *Repository) ListEntries(ctx context.Context, f audit.TimelineFilters, limit, offset int) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Action != "" && string(e.Action) != f.Action {
			continue
		}
		if f.ActorID != 0 && e.ActorID != f.ActorID {
			continue
		}
		out = append(out, e)
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) InsertSnapshot(ctx context.Context, s audit.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(s.EntityType, s.EntityID)
	for _, existing := range r.snapshots[k] {
		if existing.VersionNumber == s.VersionNumber {
			return shared.ErrDuplicate
		}
	}
	r.snapshots[k] = append(r.snapshots[k], s)
	sort.Slice(r.snapshots[k], func(i, j int) bool {
		return r.snapshots[k][i].VersionNumber < r.snapshots[k][j].VersionNumber
	})
	return nil
}

func (r *Repository) LatestSnapshot(ctx context.Context, entityType, entityID string) (audit.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.snapshots[key(entityType, entityID)]
	if len(list) == 0 {
		return audit.Snapshot{}, shared.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (r *Repository) GetSnapshot(ctx context.Context, entityType, entityID string, version int64) (audit.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots[key(entityType, entityID)] {
		if s.VersionNumber == version {
			return s, nil
		}
	}
	return audit.Snapshot{}, shared.ErrNotFound
}

func (r *Repository) ListSnapshots(ctx context.Context, entityType, entityID string) ([]audit.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Snapshot(nil), r.snapshots[key(entityType, entityID)]...), nil
}

// Entries returns a copy of every stored entry in insertion order.
func (r *Repository) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

// EntriesFor returns stored entries for one entity type and action.
func (r *Repository) EntriesFor(entityType string, action audit.Action) []audit.Entry {
	var out []audit.Entry
	for _, e := range r.Entries() {
		if e.EntityType == entityType && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
