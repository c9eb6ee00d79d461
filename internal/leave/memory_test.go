package leave

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

type memoryLeaveRepo struct {
	types    map[int64]LeaveType
	requests map[int64]Request
	balances map[string]Balance
	nextID   int64
}

func newMemoryLeaveRepo() *memoryLeaveRepo {
	return &memoryLeaveRepo{
		types:    make(map[int64]LeaveType),
		requests: make(map[int64]Request),
		balances: make(map[string]Balance),
	}
}

func (r *memoryLeaveRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	types := make(map[int64]LeaveType, len(r.types))
	for k, v := range r.types {
		types[k] = v
	}
	requests := make(map[int64]Request, len(r.requests))
	for k, v := range r.requests {
		requests[k] = v
	}
	balances := make(map[string]Balance, len(r.balances))
	for k, v := range r.balances {
		balances[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, r); err != nil {
		r.types, r.requests, r.balances, r.nextID = types, requests, balances, nextID
		return err
	}
	return nil
}

func (r *memoryLeaveRepo) GetLeaveType(ctx context.Context, id int64) (LeaveType, error) {
	lt, ok := r.types[id]
	if !ok {
		return LeaveType{}, shared.ErrNotFound
	}
	return lt, nil
}

func (r *memoryLeaveRepo) ListLeaveTypes(ctx context.Context) ([]LeaveType, error) {
	out := make([]LeaveType, 0, len(r.types))
	for _, lt := range r.types {
		out = append(out, lt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *memoryLeaveRepo) InsertLeaveType(ctx context.Context, lt LeaveType) (LeaveType, error) {
	for _, existing := range r.types {
		if existing.Code == lt.Code {
			return LeaveType{}, shared.ErrDuplicate
		}
	}
	r.nextID++
	lt.ID = r.nextID
	r.types[lt.ID] = lt
	return lt, nil
}

func (r *memoryLeaveRepo) GetRequest(ctx context.Context, id int64) (Request, error) {
	req, ok := r.requests[id]
	if !ok {
		return Request{}, fmt.Errorf("request %d: %w", id, shared.ErrNotFound)
	}
	return req, nil
}

func (r *memoryLeaveRepo) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	var out []Request
	for _, req := range r.requests {
		if filter.UserID > 0 && req.UserID != filter.UserID {
			continue
		}
		if filter.LeaveTypeID > 0 && req.LeaveTypeID != filter.LeaveTypeID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !filter.Period.IsZero() && (req.StartDate.After(filter.Period.End()) || req.EndDate.Before(filter.Period.Start())) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryLeaveRepo) InsertRequest(ctx context.Context, req Request) (Request, error) {
	r.nextID++
	req.ID = r.nextID
	req.Version = 1
	r.requests[req.ID] = req
	return req, nil
}

func (r *memoryLeaveRepo) UpdateRequest(ctx context.Context, req Request, expectedVersion int64) (Request, error) {
	stored, ok := r.requests[req.ID]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return Request{}, shared.ErrConcurrencyConflict
	}
	req.Version = stored.Version + 1
	r.requests[req.ID] = req
	return req, nil
}

func (r *memoryLeaveRepo) ListOverlapping(ctx context.Context, userID, leaveTypeID int64, from, to time.Time) ([]Request, error) {
	var out []Request
	for _, req := range r.requests {
		if req.UserID != userID || req.LeaveTypeID != leaveTypeID {
			continue
		}
		if req.StartDate.After(to) || req.EndDate.Before(from) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryLeaveRepo) GetBalance(ctx context.Context, userID, leaveTypeID int64, period shared.Period) (Balance, error) {
	b, ok := r.balances[BalanceKey(userID, leaveTypeID, period)]
	if !ok {
		return Balance{}, shared.ErrNotFound
	}
	return b, nil
}

func (r *memoryLeaveRepo) ListBalances(ctx context.Context, userID int64, period shared.Period) ([]Balance, error) {
	var out []Balance
	for _, b := range r.balances {
		if b.UserID == userID && b.Period == period {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveTypeID < out[j].LeaveTypeID })
	return out, nil
}

func (r *memoryLeaveRepo) InsertBalance(ctx context.Context, b Balance) (Balance, error) {
	if _, exists := r.balances[b.Key()]; exists {
		return Balance{}, shared.ErrDuplicate
	}
	b.Version = 1
	r.balances[b.Key()] = b
	return b, nil
}

func (r *memoryLeaveRepo) UpdateBalance(ctx context.Context, b Balance, expectedVersion int64) (Balance, error) {
	stored, ok := r.balances[b.Key()]
	if !ok {
		return Balance{}, shared.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return Balance{}, shared.ErrConcurrencyConflict
	}
	b.Version = stored.Version + 1
	r.balances[b.Key()] = b
	return b, nil
}

// put seeds a request without going through the workflow.
func (r *memoryLeaveRepo) put(req Request) Request {
	r.nextID++
	req.ID = r.nextID
	req.Version = 1
	r.requests[req.ID] = req
	return req
}

type lockKey struct {
	userID int64
	period string
}

type stubGuard struct {
	locked map[lockKey]bool
}

func (g *stubGuard) EnsureWritable(ctx context.Context, employeeID int64, day time.Time, override *shared.Override) error {
	period := shared.PeriodOf(day)
	if g.locked[lockKey{employeeID, period.String()}] && override == nil {
		return fmt.Errorf("payroll: %d %s: %w", employeeID, period, shared.ErrLockedPeriod)
	}
	return nil
}

type sentNotification struct {
	userID int64
	kind   string
	link   string
}

type captureNotifier struct {
	sent []sentNotification
}

func (n *captureNotifier) Notify(ctx context.Context, userID int64, kind, message, link string) {
	n.sent = append(n.sent, sentNotification{userID: userID, kind: kind, link: link})
}
