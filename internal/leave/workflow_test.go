package leave

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workforce/internal/audit"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (f fixture) submit(t *testing.T, userID int64, lt LeaveType, from, to int) Request {
	t.Helper()
	req, err := f.workflow.Submit(context.Background(), SubmitInput{
		UserID: userID, LeaveTypeID: lt.ID, StartDate: day(2024, 3, from), EndDate: day(2024, 3, to),
	})
	require.NoError(t, err)
	return req
}

func (f fixture) balance(t *testing.T, userID int64, lt LeaveType) Balance {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), userID, lt.ID, march)
	require.NoError(t, err)
	return bal
}

func TestSubmitReservesPendingDays(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, employeeID, f.annual, 4, 5)

	require.Equal(t, StatusPending, req.Status)
	requireDecimal(t, "2", req.TotalDays)
	bal := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "2", bal.Pending)
	requireDecimal(t, "0", bal.Available())

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, managerID, f.notifier.sent[0].userID)
	require.Equal(t, NotifySubmitted, f.notifier.sent[0].kind)
	require.Len(t, f.audits.EntriesFor(EntityRequest, audit.ActionSubmit), 1)
}

func TestSubmitRejectsMoreThanAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Submit(ctx, SubmitInput{UserID: employeeID, LeaveTypeID: f.annual.ID,
		StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 6)})
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)

	requests, err := f.workflow.ListRequests(ctx, RequestFilter{UserID: employeeID})
	require.NoError(t, err)
	require.Empty(t, requests)
}

func TestSubmitValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.workflow.Submit(ctx, SubmitInput{UserID: employeeID, LeaveTypeID: f.annual.ID,
		StartDate: day(2024, 3, 6), EndDate: day(2024, 3, 4)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.workflow.Submit(ctx, SubmitInput{UserID: employeeID, LeaveTypeID: 999,
		StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 4)})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSubmitHalfDayType(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, employeeID, f.sick, 4, 5)

	requireDecimal(t, "1", req.TotalDays)
	bal := f.balance(t, employeeID, f.sick)
	requireDecimal(t, "1", bal.TotalAllocated)
	requireDecimal(t, "1", bal.Pending)
}

func TestSubmitIntoLockedPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.guard.locked[lockKey{employeeID, march.String()}] = true

	input := SubmitInput{UserID: employeeID, LeaveTypeID: f.annual.ID, StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 4)}
	_, err := f.workflow.Submit(ctx, input)
	require.ErrorIs(t, err, shared.ErrLockedPeriod)

	input.Override = &shared.Override{ActorID: adminID, Reason: "late entry"}
	req, err := f.workflow.Submit(ctx, input)
	require.NoError(t, err)

	entries := f.audits.EntriesFor(EntityRequest, audit.ActionSubmit)
	require.Len(t, entries, 1)
	require.Equal(t, "late entry", entries[0].Metadata["override_reason"])
	require.Equal(t, StatusPending, req.Status)
}

func TestManagerApprovalMovesPendingToUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 5)
	before := f.balance(t, employeeID, f.annual)

	approved, err := f.workflow.Approve(ctx, req.ID, managerID, " enjoy ", nil)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, "enjoy", approved.ReviewComments)
	require.NotNil(t, approved.ReviewedBy)
	require.Equal(t, managerID, *approved.ReviewedBy)
	require.EqualValues(t, 2, approved.Version)

	after := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "2", after.Used.Sub(before.Used))
	requireDecimal(t, "0", after.Pending)

	last := f.notifier.sent[len(f.notifier.sent)-1]
	require.Equal(t, employeeID, last.userID)
	require.Equal(t, NotifyApproved, last.kind)
	require.Equal(t, "/leave/requests/"+itoa(req.ID), last.link)

	_, err = f.workflow.Approve(ctx, req.ID, managerID, "", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestApproveFailsWhenBalanceShrank(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stored := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "2", stored.Available())
	req := f.repo.put(Request{UserID: employeeID, LeaveTypeID: f.annual.ID, StartDate: day(2024, 3, 4), EndDate: day(2024, 3, 6),
		TotalDays: decimal.NewFromInt(3), Status: StatusPending})

	_, err := f.workflow.Approve(ctx, req.ID, hrID, "", nil)
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)

	unchanged := f.repo.balances[stored.Key()]
	require.Equal(t, stored.Version, unchanged.Version)
	requireDecimal(t, "0", unchanged.Used)
	require.Equal(t, StatusPending, f.repo.requests[req.ID].Status)
}

func TestReviewerAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 4)

	_, err := f.workflow.Approve(ctx, req.ID, employeeID, "", nil)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.workflow.Approve(ctx, req.ID, colleagueID, "", nil)
	require.ErrorIs(t, err, shared.ErrForbidden)

	own := f.submit(t, hrID, f.annual, 4, 4)
	_, err = f.workflow.Approve(ctx, own.ID, hrID, "", nil)
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.workflow.Reject(ctx, req.ID, hrID, "", nil)
	require.NoError(t, err)
}

func TestRejectAndCancelReleaseReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submit(t, employeeID, f.annual, 4, 4)
	second := f.submit(t, employeeID, f.annual, 11, 11)
	requireDecimal(t, "0", f.balance(t, employeeID, f.annual).Available())

	rejected, err := f.workflow.Reject(ctx, first.ID, managerID, "busy week", nil)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	requireDecimal(t, "1", f.balance(t, employeeID, f.annual).Available())

	_, err = f.workflow.Cancel(ctx, second.ID, colleagueID, nil)
	require.ErrorIs(t, err, shared.ErrForbidden)

	cancelled, err := f.workflow.Cancel(ctx, second.ID, employeeID, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	bal := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "0", bal.Pending)
	requireDecimal(t, "2", bal.Available())

	_, err = f.workflow.Cancel(ctx, second.ID, employeeID, nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReopenRejectedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 5)
	_, err := f.workflow.Reject(ctx, req.ID, managerID, "", nil)
	require.NoError(t, err)

	_, err = f.workflow.Reopen(ctx, req.ID, hrID, "appeal", nil)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.workflow.Reopen(ctx, req.ID, adminID, " ", nil)
	require.ErrorIs(t, err, shared.ErrValidation)

	reopened, err := f.workflow.Reopen(ctx, req.ID, adminID, "appeal", nil)
	require.NoError(t, err)
	require.Equal(t, StatusPending, reopened.Status)
	require.NotNil(t, reopened.ReopenedFrom)
	require.Equal(t, req.ID, *reopened.ReopenedFrom)
	require.Equal(t, StatusRejected, f.repo.requests[req.ID].Status)
	requireDecimal(t, "2", f.balance(t, employeeID, f.annual).Pending)

	entries := f.audits.EntriesFor(EntityRequest, audit.ActionReopen)
	require.Len(t, entries, 1)
	require.Equal(t, itoa(req.ID), entries[0].EntityID)

	_, err = f.workflow.Reopen(ctx, reopened.ID, adminID, "again", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReopenAllowsOneLiveCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 4)
	_, err := f.workflow.Reject(ctx, req.ID, managerID, "", nil)
	require.NoError(t, err)

	first, err := f.workflow.Reopen(ctx, req.ID, adminID, "appeal", nil)
	require.NoError(t, err)
	_, err = f.workflow.Reopen(ctx, req.ID, adminID, "appeal again", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.workflow.Approve(ctx, first.ID, managerID, "", nil)
	require.NoError(t, err)
	_, err = f.workflow.Reopen(ctx, req.ID, adminID, "after approval", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	requests, err := f.workflow.ListRequests(ctx, RequestFilter{UserID: employeeID})
	require.NoError(t, err)
	require.Len(t, requests, 2)
	bal := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "1", bal.Used)
	requireDecimal(t, "0", bal.Pending)
}

func TestReopenRefusesCopyOfLiveOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 5)
	_, err := f.workflow.Approve(ctx, req.ID, managerID, "", nil)
	require.NoError(t, err)

	copyReq, err := f.workflow.Reopen(ctx, req.ID, adminID, "dates changed", nil)
	require.NoError(t, err)
	_, err = f.workflow.Reject(ctx, copyReq.ID, managerID, "", nil)
	require.NoError(t, err)

	_, err = f.workflow.Reopen(ctx, copyReq.ID, adminID, "second look", nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	requireDecimal(t, "2", f.balance(t, employeeID, f.annual).Used)

	again, err := f.workflow.Reopen(ctx, req.ID, adminID, "second look", nil)
	require.NoError(t, err)
	bal := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "0", bal.Used)
	requireDecimal(t, "2", bal.Pending)
	require.Equal(t, req.ID, *again.ReopenedFrom)
}

func TestReopenApprovedRequestSupersedesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.submit(t, employeeID, f.annual, 4, 5)
	_, err := f.workflow.Approve(ctx, req.ID, managerID, "", nil)
	require.NoError(t, err)
	requireDecimal(t, "2", f.balance(t, employeeID, f.annual).Used)

	reopened, err := f.workflow.Reopen(ctx, req.ID, adminID, "dates changed", nil)
	require.NoError(t, err)
	bal := f.balance(t, employeeID, f.annual)
	requireDecimal(t, "0", bal.Used)
	requireDecimal(t, "2", bal.Pending)

	_, err = f.workflow.Reject(ctx, reopened.ID, managerID, "", nil)
	require.NoError(t, err)
	bal = f.balance(t, employeeID, f.annual)
	requireDecimal(t, "2", bal.Used)
	requireDecimal(t, "0", bal.Pending)
}

func TestCreateLeaveTypeRejectsDuplicateCode(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.CreateLeaveType(context.Background(), CreateLeaveTypeInput{
		Code: " Annual ", Name: "Again", DefaultAnnualAllocation: decimal.NewFromInt(10),
	}, adminID)
	require.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = f.workflow.CreateLeaveType(context.Background(), CreateLeaveTypeInput{
		Code: "NEG", Name: "Negative", DefaultAnnualAllocation: decimal.NewFromInt(-1),
	}, adminID)
	require.ErrorIs(t, err, shared.ErrValidation)

	types, err := f.workflow.ListLeaveTypes(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 2)
	require.Equal(t, "ANNUAL", types[0].Code)
}

func TestSubmitAcrossMonthsReservesEachPeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.workflow.Submit(ctx, SubmitInput{UserID: employeeID, LeaveTypeID: f.annual.ID,
		StartDate: day(2024, 2, 28), EndDate: day(2024, 3, 1)})
	require.NoError(t, err)
	requireDecimal(t, "3", req.TotalDays)

	feb, err := f.ledger.Balance(ctx, employeeID, f.annual.ID, shared.Period{Year: 2024, Month: 2})
	require.NoError(t, err)
	requireDecimal(t, "2", feb.Pending)
	requireDecimal(t, "1", f.balance(t, employeeID, f.annual).Pending)
}
