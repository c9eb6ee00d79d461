package attendance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// EntityType identifies attendance records in the audit store.
const EntityType = "attendance_record"

// ErrNotFound is returned when a record is missing.
var ErrNotFound = shared.ErrNotFound

// Status enumerates the daily attendance states.
type Status string

const (
	StatusPresent      Status = "present"
	StatusAbsent       Status = "absent"
	StatusHalfDay      Status = "half_day"
	StatusLeave        Status = "leave"
	StatusWorkFromHome Status = "work_from_home"
	StatusWeekoff      Status = "weekoff"
	StatusHoliday      Status = "holiday"
	StatusCheckedIn    Status = "checked_in"
	StatusCheckedOut   Status = "checked_out"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusHalfDay, StatusLeave, StatusWorkFromHome,
		StatusWeekoff, StatusHoliday, StatusCheckedIn, StatusCheckedOut:
		return true
	}
	return false
}

// EventKind enumerates raw time-tracking events.
type EventKind string

const (
	EventCheckIn  EventKind = "check_in"
	EventCheckOut EventKind = "check_out"
)

// Record is one employee's attendance for one calendar day.
type Record struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Day             time.Time       `json:"day"`
	Status          Status          `json:"status"`
	CheckInTime     *time.Time      `json:"check_in_time,omitempty"`
	CheckOutTime    *time.Time      `json:"check_out_time,omitempty"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	IsLate          bool            `json:"is_late"`
	IsEarlyCheckout bool            `json:"is_early_checkout"`
	Notes           string          `json:"notes,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Event is an append-only check-in or check-out fact.
type Event struct {
	ID     int64     `json:"id"`
	UserID int64     `json:"user_id"`
	Day    time.Time `json:"day"`
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Source string    `json:"source"`
}

// Policy holds the shift rules used to flag late arrivals and early departures.
// ShiftStart and ShiftEnd are offsets from local midnight.
type Policy struct {
	ShiftStart   time.Duration
	ShiftEnd     time.Duration
	Grace        time.Duration
	HalfDayHours decimal.Decimal
	Location     *time.Location
}

// DefaultPolicy is a 09:00-17:00 shift with ten minutes of grace.
func DefaultPolicy() Policy {
	return Policy{
		ShiftStart:   9 * time.Hour,
		ShiftEnd:     17 * time.Hour,
		Grace:        10 * time.Minute,
		HalfDayHours: decimal.NewFromInt(4),
		Location:     time.UTC,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.ShiftStart < 0 || p.ShiftEnd <= p.ShiftStart || p.ShiftEnd > 24*time.Hour {
		return errors.New("attendance: shift window invalid")
	}
	if p.Grace < 0 {
		return errors.New("attendance: grace must not be negative")
	}
	if p.HalfDayHours.IsNegative() {
		return errors.New("attendance: half day hours must not be negative")
	}
	return nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p Policy) midnight(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, p.location())
}

// LateAfter is the last instant of day that still counts as on time.
func (p Policy) LateAfter(day time.Time) time.Time {
	return p.midnight(day).Add(p.ShiftStart + p.Grace)
}

// EarlyBefore is the instant before which a check-out is early.
func (p Policy) EarlyBefore(day time.Time) time.Time {
	return p.midnight(day).Add(p.ShiftEnd)
}

// CheckOutDeadline is the last instant a check-out still closes day. An
// overnight check-out is accepted until the next day's shift starts.
func (p Policy) CheckOutDeadline(day time.Time) time.Time {
	return p.midnight(day).AddDate(0, 0, 1).Add(p.ShiftStart)
}

// LocalDay returns the civil day of instant at in the policy location.
func (p Policy) LocalDay(at time.Time) time.Time {
	return shared.Day(at.In(p.location()))
}

// WorkedHours is the duration between in and out in hours, rounded half-up to
// two decimals.
func WorkedHours(in, out time.Time) decimal.Decimal {
	seconds := int64(out.Sub(in) / time.Second)
	return decimal.NewFromInt(seconds).Div(decimal.NewFromInt(3600)).Round(2)
}

// ItemResult reports the outcome of one (user, day) pair in a bulk action.
type ItemResult struct {
	UserID  int64     `json:"user_id"`
	Day     time.Time `json:"day"`
	Outcome string    `json:"outcome"`
	Err     error     `json:"-"`
	Error   string    `json:"error,omitempty"`
}

// Bulk outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// state is the versioned business view of a record.
type state struct {
	UserID          int64           `json:"user_id"`
	Day             string          `json:"day"`
	Status          Status          `json:"status"`
	CheckInTime     *time.Time      `json:"check_in_time"`
	CheckOutTime    *time.Time      `json:"check_out_time"`
	TotalHours      decimal.Decimal `json:"total_hours"`
	IsLate          bool            `json:"is_late"`
	IsEarlyCheckout bool            `json:"is_early_checkout"`
	Notes           string          `json:"notes"`
}

func stateOf(r Record) state {
	return state{
		UserID:          r.UserID,
		Day:             r.Day.Format(time.DateOnly),
		Status:          r.Status,
		CheckInTime:     r.CheckInTime,
		CheckOutTime:    r.CheckOutTime,
		TotalHours:      r.TotalHours,
		IsLate:          r.IsLate,
		IsEarlyCheckout: r.IsEarlyCheckout,
		Notes:           r.Notes,
	}
}
