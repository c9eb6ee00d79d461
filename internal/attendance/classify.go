package attendance

import "github.com/shopspring/decimal"

// Summary aggregates a set of daily records for reporting and payroll.
type Summary struct {
	Present       int             `json:"present"`
	Absent        int             `json:"absent"`
	HalfDay       int             `json:"half_day"`
	Leave         int             `json:"leave"`
	WorkFromHome  int             `json:"work_from_home"`
	Weekoff       int             `json:"weekoff"`
	Holiday       int             `json:"holiday"`
	CheckedIn     int             `json:"checked_in"`
	CheckedOut    int             `json:"checked_out"`
	Late          int             `json:"late"`
	EarlyCheckout int             `json:"early_checkout"`
	TotalHours    decimal.Decimal `json:"total_hours"`
	WorkingDays   int             `json:"working_days"`
	PayableDays   decimal.Decimal `json:"payable_days"`
}

var half = decimal.NewFromFloat(0.5)

// Classify counts records by status. A checked_out day counts as half_day when
// its hours fall below the policy threshold and as present otherwise. Open
// checked_in days are counted but are neither working nor payable.
func Classify(records []Record, policy Policy) Summary {
	sum := Summary{TotalHours: decimal.Zero, PayableDays: decimal.Zero}
	for _, rec := range records {
		if rec.IsLate {
			sum.Late++
		}
		if rec.IsEarlyCheckout {
			sum.EarlyCheckout++
		}
		sum.TotalHours = sum.TotalHours.Add(rec.TotalHours)

		status := rec.Status
		if status == StatusCheckedOut {
			sum.CheckedOut++
			if rec.TotalHours.LessThan(policy.HalfDayHours) {
				status = StatusHalfDay
			} else {
				status = StatusPresent
			}
		}
		switch status {
		case StatusPresent:
			sum.Present++
		case StatusAbsent:
			sum.Absent++
		case StatusHalfDay:
			sum.HalfDay++
		case StatusLeave:
			sum.Leave++
		case StatusWorkFromHome:
			sum.WorkFromHome++
		case StatusWeekoff:
			sum.Weekoff++
		case StatusHoliday:
			sum.Holiday++
		case StatusCheckedIn:
			sum.CheckedIn++
		}
	}
	sum.WorkingDays = sum.Present + sum.HalfDay + sum.WorkFromHome
	full := sum.Present + sum.WorkFromHome + sum.Leave + sum.Weekoff + sum.Holiday
	sum.PayableDays = decimal.NewFromInt(int64(full)).Add(half.Mul(decimal.NewFromInt(int64(sum.HalfDay))))
	return sum
}
