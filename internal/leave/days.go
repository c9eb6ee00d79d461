package leave

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workforce/internal/shared"
)

var halfDay = decimal.NewFromFloat(0.5)

// DaysInPeriod counts the calendar days of the request that fall inside period,
// both endpoints inclusive. Half-day leave types count 0.5 per day.
func DaysInPeriod(req Request, lt LeaveType, period shared.Period) decimal.Decimal {
	start := shared.Day(req.StartDate)
	end := shared.Day(req.EndDate)
	if ps := period.Start(); start.Before(ps) {
		start = ps
	}
	if pe := period.End(); end.After(pe) {
		end = pe
	}
	if end.Before(start) {
		return decimal.Zero
	}
	days := int64(end.Sub(start)/(24*time.Hour)) + 1
	return unit(lt).Mul(decimal.NewFromInt(days))
}

// TotalDays counts the request across all periods.
func TotalDays(start, end time.Time, lt LeaveType) decimal.Decimal {
	start, end = shared.Day(start), shared.Day(end)
	if end.Before(start) {
		return decimal.Zero
	}
	days := int64(end.Sub(start)/(24*time.Hour)) + 1
	return unit(lt).Mul(decimal.NewFromInt(days))
}

func unit(lt LeaveType) decimal.Decimal {
	if lt.HalfDay {
		return halfDay
	}
	return decimal.NewFromInt(1)
}
