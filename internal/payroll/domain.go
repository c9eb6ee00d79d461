package payroll

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-workforce/internal/attendance"
	"github.com/odyssey-erp/odyssey-workforce/internal/leave"
	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

// EntityType is the audit entity type of salary records.
const EntityType = "salary_record"

// ClearConfirmation is the literal token required to clear a period.
const ClearConfirmation = "DELETE"

// Status enumerates salary record states.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusLocked Status = "locked"
)

// SalaryRecord freezes one employee's payroll period.
type SalaryRecord struct {
	ID         int64           `json:"id"`
	EmployeeID int64           `json:"employee_id"`
	Period     shared.Period   `json:"period"`
	Status     Status          `json:"status"`
	Locked     bool            `json:"locked"`
	LockedBy   *int64          `json:"locked_by,omitempty"`
	LockedAt   *time.Time      `json:"locked_at,omitempty"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Key is the audit entity id of the record.
func (r SalaryRecord) Key() string {
	return RecordKey(r.EmployeeID, r.Period)
}

// RecordKey formats employee:period.
func RecordKey(employeeID int64, period shared.Period) string {
	return fmt.Sprintf("%d:%s", employeeID, period)
}

// ParseRecordKey reverses RecordKey.
func ParseRecordKey(key string) (int64, shared.Period, error) {
	id, raw, ok := strings.Cut(key, ":")
	if !ok {
		return 0, shared.Period{}, fmt.Errorf("%w: salary key %q", shared.ErrValidation, key)
	}
	employeeID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, shared.Period{}, fmt.Errorf("%w: salary key %q", shared.ErrValidation, key)
	}
	period, err := shared.ParsePeriod(raw)
	if err != nil {
		return 0, shared.Period{}, err
	}
	return employeeID, period, nil
}

// PeriodSnapshot is the attendance and leave state captured at lock time.
type PeriodSnapshot struct {
	Attendance    attendance.Summary `json:"attendance"`
	LeaveBalances []leave.Balance    `json:"leave_balances"`
	CapturedAt    time.Time          `json:"captured_at"`
}

// Lock outcomes reported per employee.
const (
	OutcomeLocked  = "locked"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// LockItem is one employee's result in a bulk lock.
type LockItem struct {
	EmployeeID int64  `json:"employee_id"`
	Outcome    string `json:"outcome"`
	Err        error  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// LockResult summarises LockPeriod.
type LockResult struct {
	Locked  int        `json:"locked"`
	Skipped int        `json:"skipped"`
	Failed  int        `json:"failed"`
	Items   []LockItem `json:"items"`
}

// ClearResult reports the rows removed by ClearPeriodData.
type ClearResult struct {
	AttendanceDeleted int64 `json:"attendance_deleted"`
	SalaryDeleted     int64 `json:"salary_deleted"`
}

type recordState struct {
	EmployeeID int64           `json:"employee_id"`
	Period     shared.Period   `json:"period"`
	Status     Status          `json:"status"`
	Locked     bool            `json:"locked"`
	LockedBy   *int64          `json:"locked_by"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
}

func stateOf(r SalaryRecord) recordState {
	return recordState{
		EmployeeID: r.EmployeeID,
		Period:     r.Period,
		Status:     r.Status,
		Locked:     r.Locked,
		LockedBy:   r.LockedBy,
		Snapshot:   r.Snapshot,
	}
}
