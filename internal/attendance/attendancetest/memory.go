// Package attendancetest provides an in-memory attendance repository for tests
// of packages that build on attendance.Service.
package attendancetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

type dayKey struct {
	userID int64
	day    string
}

func keyOf(userID int64, day time.Time) dayKey {
	return dayKey{userID: userID, day: day.Format(time.DateOnly)}
}

// Repository implements attendance.RepositoryPort and attendance.TxRepository.
// Transactions are serialized and roll back on error.
type Repository struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	records map[int64]attendance.Record
	byKey   map[dayKey]int64
	events  []attendance.Event
	nextID  int64
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{
		records: make(map[int64]attendance.Record),
		byKey:   make(map[dayKey]int64),
	}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, attendance.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	records := make(map[int64]attendance.Record, len(r.records))
	for k, v := range r.records {
		records[k] = v
	}
	keys := make(map[dayKey]int64, len(r.byKey))
	for k, v := range r.byKey {
		keys[k] = v
	}
	events := len(r.events)
	r.mu.Unlock()

	if err := fn(ctx, txView{r}); err != nil {
		r.mu.Lock()
		r.records, r.byKey, r.events = records, keys, r.events[:events]
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Repository) GetRecord(ctx context.Context, userID int64, day time.Time) (attendance.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[keyOf(userID, day)]
	if !ok {
		return attendance.Record{}, shared.ErrNotFound
	}
	return r.records[id], nil
}

func (r *Repository) GetRecordByID(ctx context.Context, id int64) (attendance.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return attendance.Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (r *Repository) ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]attendance.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []attendance.Record
	for _, rec := range r.records {
		if rec.UserID == userID && period.Contains(rec.Day) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (r *Repository) ListEvents(ctx context.Context, userID int64, day time.Time) ([]attendance.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []attendance.Event
	for _, ev := range r.events {
		if ev.UserID == userID && ev.Day.Equal(day) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// DeleteByPeriod removes a user's records in period and returns the count.
func (r *Repository) DeleteByPeriod(userID int64, period shared.Period) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.UserID == userID && period.Contains(rec.Day) {
			delete(r.records, id)
			delete(r.byKey, keyOf(rec.UserID, rec.Day))
			n++
		}
	}
	return n
}

// Len returns the number of stored records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// txView exposes the write methods to the transaction callback.
type txView struct {
	r *Repository
}

func (t txView) GetRecord(ctx context.Context, userID int64, day time.Time) (attendance.Record, error) {
	return t.r.GetRecord(ctx, userID, day)
}

func (t txView) GetRecordByID(ctx context.Context, id int64) (attendance.Record, error) {
	return t.r.GetRecordByID(ctx, id)
}

func (t txView) InsertRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, exists := t.r.byKey[keyOf(rec.UserID, rec.Day)]; exists {
		return attendance.Record{}, shared.ErrDuplicate
	}
	t.r.nextID++
	rec.ID = t.r.nextID
	rec.Version = 1
	t.r.records[rec.ID] = rec
	t.r.byKey[keyOf(rec.UserID, rec.Day)] = rec.ID
	return rec, nil
}

func (t txView) UpdateRecord(ctx context.Context, rec attendance.Record, expectedVersion int64) (attendance.Record, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	stored, ok := t.r.records[rec.ID]
	if !ok {
		return attendance.Record{}, shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return attendance.Record{}, shared.ErrConcurrencyConflict
	}
	rec.Version = stored.Version + 1
	t.r.records[rec.ID] = rec
	return rec, nil
}

func (t txView) InsertEvent(ctx context.Context, ev attendance.Event) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	t.r.events = append(t.r.events, ev)
	return nil
}
