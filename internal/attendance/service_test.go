package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/audit/audittest"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

type recordKey struct {
	userID int64
	day    string
}

type memoryAttendanceRepo struct {
	records map[int64]Record
	byKey   map[recordKey]int64
	events  []Event
	nextID  int64
	failOn  map[int64]error
}

func newMemoryAttendanceRepo() *memoryAttendanceRepo {
	return &memoryAttendanceRepo{
		records: make(map[int64]Record),
		byKey:   make(map[recordKey]int64),
		failOn:  make(map[int64]error),
	}
}

func keyOf(userID int64, day time.Time) recordKey {
	return recordKey{userID: userID, day: day.Format(time.DateOnly)}
}

func (r *memoryAttendanceRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Record, len(r.records))
	for k, v := range r.records {
		snapshot[k] = v
	}
	keys := make(map[recordKey]int64, len(r.byKey))
	for k, v := range r.byKey {
		keys[k] = v
	}
	events := len(r.events)
	if err := fn(ctx, r); err != nil {
		r.records, r.byKey, r.events = snapshot, keys, r.events[:events]
		return err
	}
	return nil
}

func (r *memoryAttendanceRepo) GetRecord(ctx context.Context, userID int64, day time.Time) (Record, error) {
	id, ok := r.byKey[keyOf(userID, day)]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return r.records[id], nil
}

func (r *memoryAttendanceRepo) GetRecordByID(ctx context.Context, id int64) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (r *memoryAttendanceRepo) ListByPeriod(ctx context.Context, userID int64, period shared.Period) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if rec.UserID == userID && period.Contains(rec.Day) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (r *memoryAttendanceRepo) ListEvents(ctx context.Context, userID int64, day time.Time) ([]Event, error) {
	var out []Event
	for _, ev := range r.events {
		if ev.UserID == userID && ev.Day.Equal(day) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memoryAttendanceRepo) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if err := r.failOn[rec.UserID]; err != nil {
		return Record{}, err
	}
	if _, exists := r.byKey[keyOf(rec.UserID, rec.Day)]; exists {
		return Record{}, shared.ErrDuplicate
	}
	r.nextID++
	rec.ID = r.nextID
	rec.Version = 1
	r.records[rec.ID] = rec
	r.byKey[keyOf(rec.UserID, rec.Day)] = rec.ID
	return rec, nil
}

func (r *memoryAttendanceRepo) UpdateRecord(ctx context.Context, rec Record, expectedVersion int64) (Record, error) {
	stored, ok := r.records[rec.ID]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return Record{}, shared.ErrConcurrencyConflict
	}
	rec.Version = stored.Version + 1
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *memoryAttendanceRepo) InsertEvent(ctx context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

type stubGuard struct {
	locked map[recordKey]bool
}

func (g *stubGuard) EnsureWritable(ctx context.Context, employeeID int64, day time.Time, override *shared.Override) error {
	period := shared.PeriodOf(day)
	if g.locked[recordKey{userID: employeeID, day: period.String()}] && override == nil {
		return fmt.Errorf("payroll: %d %s: %w", employeeID, period, shared.ErrLockedPeriod)
	}
	return nil
}

func (g *stubGuard) lock(employeeID int64, period string) {
	g.locked[recordKey{userID: employeeID, day: period}] = true
}

type fixture struct {
	repo   *memoryAttendanceRepo
	guard  *stubGuard
	audits *audittest.Repository
	store  *audit.Store
	svc    *Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := newMemoryAttendanceRepo()
	guard := &stubGuard{locked: make(map[recordKey]bool)}
	audits := audittest.NewRepository()
	store := audit.NewStore(audits, nil)
	svc := NewService(repo, guard, audit.NewRecorder(store, nil, nil), DefaultPolicy(), nil)
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC) })
	store.RegisterRestorer(EntityType, svc)
	return fixture{repo: repo, guard: guard, audits: audits, store: store, svc: svc}
}

func at(day time.Time, hh, mm int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, time.UTC)
}

func TestCheckInOutComputesHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	rec, err := f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: day, At: at(day, 9, 5)})
	require.NoError(t, err)
	require.Equal(t, StatusCheckedIn, rec.Status)
	require.False(t, rec.IsLate)

	rec, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 17, 0)})
	require.NoError(t, err)
	require.Equal(t, StatusCheckedOut, rec.Status)
	require.True(t, rec.TotalHours.Equal(decimal.RequireFromString("7.92")), rec.TotalHours.String())
	require.False(t, rec.IsEarlyCheckout)
	require.EqualValues(t, 2, rec.Version)

	events, err := f.svc.Events(ctx, 7, day)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, EventCheckIn, events[0].Kind)

	require.Len(t, f.audits.EntriesFor(EntityType, audit.ActionCheckOut), 1)
	history, err := f.store.History(ctx, EntityType, strconv.FormatInt(rec.ID, 10))
	require.NoError(t, err)
	require.Len(t, history.Snapshots, 2)
}

func TestCheckInFlagsLateAfterGrace(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	rec, err := f.svc.RecordCheckIn(context.Background(), CheckInInput{UserID: 7, Day: day, At: at(day, 9, 11)})
	require.NoError(t, err)
	require.True(t, rec.IsLate)
}

func TestCheckInDefaultsToClock(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.RecordCheckIn(context.Background(), CheckInInput{UserID: 3})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), rec.Day)
	require.True(t, rec.IsLate)
}

func TestCheckOutRequiresCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 17, 0)})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: day, At: at(day, 9, 0)})
	require.NoError(t, err)
	_, err = f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: day, At: at(day, 9, 30)})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 8, 0)})
	require.ErrorIs(t, err, shared.ErrValidation)

	rec, err := f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 15, 0)})
	require.NoError(t, err)
	require.True(t, rec.IsEarlyCheckout)

	_, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 17, 0)})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestEventsMustFallOnRecordedDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: past})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: past, At: at(past, 23, 30).Add(time.Hour)})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.repo.records)

	jakarta := DefaultPolicy()
	jakarta.Location = time.FixedZone("WIB", 7*3600)
	_, err = f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: past, At: at(past, 20, 0), Policy: &jakarta})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: past, At: at(past, 21, 0)})
	require.NoError(t, err)
	_, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: past})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: past, At: at(past, 9, 1).AddDate(0, 0, 1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	rec, err := f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: past, At: at(past, 5, 30).AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.True(t, rec.TotalHours.Equal(decimal.RequireFromString("8.5")), rec.TotalHours.String())
	require.Equal(t, past, rec.Day)
}

func TestLockedPeriodRejectsCheckIn(t *testing.T) {
	f := newFixture(t)
	f.guard.lock(7, "2024-03")
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordCheckIn(context.Background(), CheckInInput{UserID: 7, Day: day, At: at(day, 9, 0)})
	require.ErrorIs(t, err, shared.ErrLockedPeriod)
	require.Empty(t, f.repo.records)

	_, err = f.svc.RecordCheckIn(context.Background(), CheckInInput{
		UserID: 7, Day: day, At: at(day, 9, 0),
		Override: &shared.Override{ActorID: 1, Reason: "payroll correction"},
	})
	require.NoError(t, err)
}

func TestBulkMarkWeekoffIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d1 := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 1, Day: d1, At: at(d1, 9, 0)})
	require.NoError(t, err)

	input := BulkMarkInput{UserIDs: []int64{1, 2}, Days: []time.Time{d1, d2}}
	first, err := f.svc.BulkMarkWeekoff(ctx, input, 99)
	require.NoError(t, err)
	require.Len(t, first, 4)
	require.Equal(t, OutcomeUpdated, first[0].Outcome)
	require.Equal(t, OutcomeCreated, first[1].Outcome)

	after := make(map[int64]Record, len(f.repo.records))
	for id, rec := range f.repo.records {
		after[id] = rec
	}

	second, err := f.svc.BulkMarkWeekoff(ctx, input, 99)
	require.NoError(t, err)
	for _, item := range second {
		require.Equal(t, OutcomeUnchanged, item.Outcome)
	}
	require.Equal(t, after, f.repo.records)

	rec, err := f.repo.GetRecord(ctx, 1, d1)
	require.NoError(t, err)
	require.Equal(t, StatusWeekoff, rec.Status)
	require.Nil(t, rec.CheckInTime)
	require.True(t, rec.TotalHours.IsZero())
}

func TestBulkMarkReportsPerItemFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.guard.lock(2, "2024-03")
	f.repo.failOn[3] = fmt.Errorf("disk full")
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	results, err := f.svc.BulkMarkHoliday(ctx, BulkMarkInput{UserIDs: []int64{1, 2, 3, 4}, Days: []time.Time{day}}, 99)
	require.NoError(t, err)
	require.Len(t, results, 4)
	require.Equal(t, OutcomeCreated, results[0].Outcome)
	require.ErrorIs(t, results[1].Err, shared.ErrLockedPeriod)
	require.Equal(t, OutcomeFailed, results[2].Outcome)
	require.Equal(t, "internal error", results[2].Error)
	require.Equal(t, OutcomeCreated, results[3].Outcome)
	require.Len(t, f.repo.records, 2)
}

func TestBulkMarkValidatesInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.BulkMarkWeekoff(context.Background(), BulkMarkInput{UserIDs: []int64{0}, Days: []time.Time{time.Now()}}, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdminEditDetectsStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	rec, err := f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: day, At: at(day, 9, 0)})
	require.NoError(t, err)

	in, out := at(day, 8, 30), at(day, 12, 0)
	edited, err := f.svc.AdminEdit(ctx, AdminEditInput{
		RecordID: rec.ID, ExpectedVersion: rec.Version, Status: StatusCheckedOut,
		CheckInTime: &in, CheckOutTime: &out, Notes: "forgot badge",
	}, 1)
	require.NoError(t, err)
	require.True(t, edited.TotalHours.Equal(decimal.RequireFromString("3.5")))
	require.True(t, edited.IsEarlyCheckout)

	_, err = f.svc.AdminEdit(ctx, AdminEditInput{
		RecordID: rec.ID, ExpectedVersion: rec.Version, Status: StatusAbsent,
	}, 2)
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)

	_, err = f.svc.AdminEdit(ctx, AdminEditInput{RecordID: rec.ID, ExpectedVersion: edited.Version, Status: "sleeping"}, 2)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRollbackRestoresSnapshotState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	rec, err := f.svc.RecordCheckIn(ctx, CheckInInput{UserID: 7, Day: day, At: at(day, 9, 0)})
	require.NoError(t, err)
	_, err = f.svc.RecordCheckOut(ctx, CheckOutInput{UserID: 7, Day: day, At: at(day, 17, 30)})
	require.NoError(t, err)

	entityID := strconv.FormatInt(rec.ID, 10)
	snap, err := f.store.Rollback(ctx, EntityType, entityID, 1, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, snap.VersionNumber)

	v1, err := f.audits.GetSnapshot(ctx, EntityType, entityID, 1)
	require.NoError(t, err)
	current, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	raw, err := json.Marshal(stateOf(current))
	require.NoError(t, err)
	require.JSONEq(t, string(v1.FullSnapshot), string(raw))
	require.Equal(t, StatusCheckedIn, current.Status)

	f.guard.lock(7, "2024-03")
	_, err = f.store.Rollback(ctx, EntityType, entityID, 2, 1)
	require.ErrorIs(t, err, shared.ErrLockedPeriod)
}

func TestClassifySummarizesMonth(t *testing.T) {
	policy := DefaultPolicy()
	records := []Record{
		{Status: StatusCheckedOut, TotalHours: decimal.RequireFromString("8"), IsLate: true},
		{Status: StatusCheckedOut, TotalHours: decimal.RequireFromString("3.5"), IsEarlyCheckout: true},
		{Status: StatusAbsent},
		{Status: StatusWeekoff},
		{Status: StatusHoliday},
		{Status: StatusLeave},
		{Status: StatusWorkFromHome},
		{Status: StatusCheckedIn},
	}
	sum := Classify(records, policy)
	require.Equal(t, 1, sum.Present)
	require.Equal(t, 1, sum.HalfDay)
	require.Equal(t, 2, sum.CheckedOut)
	require.Equal(t, 1, sum.CheckedIn)
	require.Equal(t, 1, sum.Late)
	require.Equal(t, 1, sum.EarlyCheckout)
	require.Equal(t, 3, sum.WorkingDays)
	require.True(t, sum.TotalHours.Equal(decimal.RequireFromString("11.5")))
	require.True(t, sum.PayableDays.Equal(decimal.RequireFromString("5.5")), sum.PayableDays.String())

	empty := Classify(nil, policy)
	require.True(t, empty.TotalHours.IsZero())
}

func TestWorkedHoursRoundsHalfUp(t *testing.T) {
	in := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	require.Equal(t, "0.01", WorkedHours(in, in.Add(18*time.Second)).String())
	require.Equal(t, "0", WorkedHours(in, in.Add(17*time.Second)).String())
}
