package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// WorkingPeriod is one entry of a staff member's weekly schedule as the
// remote ERP stores it: Monday=0..Sunday=6 weekday numbering and decimal
// hours (9.5 is 09:30).
type WorkingPeriod struct {
	Weekday  int     `json:"dayofweek"`
	HourFrom float64 `json:"hour_from"`
	HourTo   float64 `json:"hour_to"`
	Label    string  `json:"name,omitempty"`
}

// Schedule is a staff member's weekly working-hours schedule.
type Schedule []WorkingPeriod

// ParseSchedule decodes a raw working-hours payload. Malformed data is an
// error, never a panic; callers decide the fail-open policy.
func ParseSchedule(raw []byte) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse working hours: %w", err)
	}
	for _, p := range s {
		if p.Weekday < 0 || p.Weekday > 6 {
			return nil, fmt.Errorf("parse working hours: weekday %d out of range", p.Weekday)
		}
		if p.HourFrom < 0 || p.HourTo > 24 || p.HourFrom > p.HourTo {
			return nil, fmt.Errorf("parse working hours: invalid period %.2f-%.2f", p.HourFrom, p.HourTo)
		}
	}
	return s, nil
}

// isoWeekday converts Go's Sunday=0..Saturday=6 weekday into the remote
// schedule's Monday=0..Sunday=6 numbering. This is the only place the
// conversion lives.
func isoWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Covers reports whether t falls inside any working period. The comparison
// is half-open: a period covers [HourFrom, HourTo).
func (s Schedule) Covers(t time.Time) bool {
	day := isoWeekday(t.Weekday())
	hour := float64(t.Hour()) + float64(t.Minute())/60
	for _, p := range s {
		if p.Weekday == day && p.HourFrom <= hour && hour < p.HourTo {
			return true
		}
	}
	return false
}

// StaffAvailableAt decides whether staff is working at t. A missing or
// unparseable schedule fails open: the staff member is treated as always
// available rather than blocking booking on bad data. Parse failures are
// logged as recoverable data-quality problems.
func StaffAvailableAt(staff StaffMember, t time.Time, log *slog.Logger) bool {
	if len(staff.WorkingHours) == 0 {
		return true
	}
	schedule, err := ParseSchedule(staff.WorkingHours)
	if err != nil {
		if log != nil {
			log.Warn("malformed working hours; treating staff as available",
				slog.String("staff_id", staff.ID.String()),
				slog.Int64("remote_id", staff.RemoteID),
				slog.Any("err", err),
			)
		}
		return true
	}
	return schedule.Covers(t)
}
