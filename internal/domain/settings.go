package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// SettingsID is the primary key of the singleton calendar_settings row.
const SettingsID int64 = 1

// CalendarSettings is a singleton configuration record. LastSync is the
// sync watermark: the instant the last successful sync cycle finished.
type CalendarSettings struct {
	bun.BaseModel `bun:"table:calendar_settings"`

	ID          int64 `bun:"id,pk"`
	SlotMinutes int   `bun:"slot_minutes,notnull"`
	// InactiveWeekdays uses the remote Monday=0..Sunday=6 numbering.
	InactiveWeekdays []int16    `bun:"inactive_weekdays,array"`
	HorizonMonths    int        `bun:"horizon_months,notnull"`
	DayStartHour     float64    `bun:"day_start_hour,notnull"`
	DayEndHour       float64    `bun:"day_end_hour,notnull"`
	LastSync         *time.Time `bun:"last_sync"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
}

func DefaultCalendarSettings() CalendarSettings {
	return CalendarSettings{
		ID:            SettingsID,
		SlotMinutes:   30,
		HorizonMonths: 3,
		DayStartHour:  8,
		DayEndHour:    18,
	}
}

// ValidSlotMinutes reports whether m is one of the supported slot
// granularities.
func ValidSlotMinutes(m int) bool {
	switch m {
	case 10, 15, 30:
		return true
	}
	return false
}

func (s *CalendarSettings) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery, *bun.UpdateQuery:
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}
