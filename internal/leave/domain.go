package leave

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// Audit entity types owned by this package.
const (
	EntityBalance = "leave_balance"
	EntityRequest = "leave_request"
)

// RequestStatus enumerates the approval states of a leave request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Live reports whether the request counts against a balance.
func (s RequestStatus) Live() bool {
	return s == StatusPending || s == StatusApproved
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// LeaveType is immutable reference data.
type LeaveType struct {
	ID                      int64           `json:"id"`
	Code                    string          `json:"code"`
	Name                    string          `json:"name"`
	DefaultAnnualAllocation decimal.Decimal `json:"default_annual_allocation"`
	HalfDay                 bool            `json:"half_day"`
	CreatedAt               time.Time       `json:"created_at"`
}

// halfDays reports whether d is a whole number of half days, the precision
// leave amounts are stored with.
func halfDays(d decimal.Decimal) bool {
	return d.Mul(decimal.NewFromInt(2)).IsInteger()
}

// MonthlyAllocation is the annual default spread over twelve months, rounded
// down to a half day.
func (t LeaveType) MonthlyAllocation() decimal.Decimal {
	two := decimal.NewFromInt(2)
	return t.DefaultAnnualAllocation.Div(decimal.NewFromInt(12)).Mul(two).Floor().Div(two)
}

// Request is an employee's application for leave.
type Request struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	LeaveTypeID    int64           `json:"leave_type_id"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	TotalDays      decimal.Decimal `json:"total_days"`
	Status         RequestStatus   `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	ReviewedBy     *int64          `json:"reviewed_by,omitempty"`
	ReviewComments string          `json:"review_comments,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReopenedFrom   *int64          `json:"reopened_from,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Periods lists every month the request touches.
func (r Request) Periods() []shared.Period {
	return shared.PeriodsBetween(r.StartDate, r.EndDate)
}

// Balance is the ledger row for one (user, leave type, period).
type Balance struct {
	UserID         int64           `json:"user_id"`
	LeaveTypeID    int64           `json:"leave_type_id"`
	Period         shared.Period   `json:"period"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Used           decimal.Decimal `json:"used"`
	Pending        decimal.Decimal `json:"pending"`
	CarriedForward decimal.Decimal `json:"carried_forward"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Available is allocation plus carry-forward minus used and pending days. The
// raw value may be negative; callers outside the ledger see AvailableDays.
func (b Balance) Available() decimal.Decimal {
	return b.TotalAllocated.Add(b.CarriedForward).Sub(b.Used).Sub(b.Pending)
}

// Key is the audit entity id of the balance.
func (b Balance) Key() string {
	return BalanceKey(b.UserID, b.LeaveTypeID, b.Period)
}

// BalanceKey formats user:type:period.
func BalanceKey(userID, leaveTypeID int64, period shared.Period) string {
	return fmt.Sprintf("%d:%d:%s", userID, leaveTypeID, period)
}

// ParseBalanceKey reverses BalanceKey.
func ParseBalanceKey(key string) (int64, int64, shared.Period, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return 0, 0, shared.Period{}, fmt.Errorf("%w: balance key %q", shared.ErrValidation, key)
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, shared.Period{}, fmt.Errorf("%w: balance key %q", shared.ErrValidation, key)
	}
	typeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, shared.Period{}, fmt.Errorf("%w: balance key %q", shared.ErrValidation, key)
	}
	period, err := shared.ParsePeriod(parts[2])
	if err != nil {
		return 0, 0, shared.Period{}, err
	}
	return userID, typeID, period, nil
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	UserID      int64
	LeaveTypeID int64
	Status      RequestStatus
	Period      shared.Period
}

// AllocationResult reports one user's outcome in a bulk allocation.
type AllocationResult struct {
	UserID  int64   `json:"user_id"`
	Balance Balance `json:"balance"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
}

type balanceState struct {
	UserID         int64           `json:"user_id"`
	LeaveTypeID    int64           `json:"leave_type_id"`
	Period         shared.Period   `json:"period"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	CarriedForward decimal.Decimal `json:"carried_forward"`
	Used           decimal.Decimal `json:"used"`
	Pending        decimal.Decimal `json:"pending"`
}

func balanceStateOf(b Balance) balanceState {
	return balanceState{
		UserID:         b.UserID,
		LeaveTypeID:    b.LeaveTypeID,
		Period:         b.Period,
		TotalAllocated: b.TotalAllocated,
		CarriedForward: b.CarriedForward,
		Used:           b.Used,
		Pending:        b.Pending,
	}
}

type requestState struct {
	UserID         int64           `json:"user_id"`
	LeaveTypeID    int64           `json:"leave_type_id"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	TotalDays      decimal.Decimal `json:"total_days"`
	Status         RequestStatus   `json:"status"`
	ReviewedBy     *int64          `json:"reviewed_by"`
	ReviewComments string          `json:"review_comments"`
	ReopenedFrom   *int64          `json:"reopened_from"`
}

func requestStateOf(r Request) requestState {
	return requestState{
		UserID:         r.UserID,
		LeaveTypeID:    r.LeaveTypeID,
		StartDate:      r.StartDate.Format(time.DateOnly),
		EndDate:        r.EndDate.Format(time.DateOnly),
		TotalDays:      r.TotalDays,
		Status:         r.Status,
		ReviewedBy:     r.ReviewedBy,
		ReviewComments: r.ReviewComments,
		ReopenedFrom:   r.ReopenedFrom,
	}
}
