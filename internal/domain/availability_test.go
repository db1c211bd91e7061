package domain

import (
	"testing"
	"time"
)

func TestIsoWeekday_MappingTable(t *testing.T) {
	cases := []struct {
		native time.Weekday
		want   int
	}{
		{time.Monday, 0},
		{time.Tuesday, 1},
		{time.Wednesday, 2},
		{time.Thursday, 3},
		{time.Friday, 4},
		{time.Saturday, 5},
		{time.Sunday, 6},
	}
	for _, c := range cases {
		if got := isoWeekday(c.native); got != c.want {
			t.Fatalf("isoWeekday(%v) = %d, want %d", c.native, got, c.want)
		}
	}
}

func TestScheduleCovers_MondayEntryMatchesNativeMonday(t *testing.T) {
	// Remote convention: dayofweek 0 is Monday.
	schedule := Schedule{{Weekday: 0, HourFrom: 9, HourTo: 17}}

	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // a Monday
	if monday.Weekday() != time.Monday {
		t.Fatalf("fixture is %v, want Monday", monday.Weekday())
	}
	if !schedule.Covers(monday) {
		t.Fatalf("expected Monday 10:00 to be covered by dayofweek 0 entry")
	}

	tuesday := monday.AddDate(0, 0, 1)
	if schedule.Covers(tuesday) {
		t.Fatalf("expected Tuesday 10:00 to be outside dayofweek 0 entry")
	}
}

func TestScheduleCovers_DecimalHourBoundaries(t *testing.T) {
	schedule := Schedule{{Weekday: 0, HourFrom: 9.5, HourTo: 17}}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // Monday
	cases := []struct {
		hour, minute int
		want         bool
	}{
		{9, 0, false},
		{9, 29, false},
		{9, 30, true}, // start is inclusive
		{16, 59, true},
		{17, 0, false}, // end is exclusive
	}
	for _, c := range cases {
		at := day.Add(time.Duration(c.hour)*time.Hour + time.Duration(c.minute)*time.Minute)
		if got := schedule.Covers(at); got != c.want {
			t.Fatalf("Covers(%02d:%02d) = %v, want %v", c.hour, c.minute, got, c.want)
		}
	}
}

func TestParseSchedule_RejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "{{nope"},
		{"weekday out of range", `[{"dayofweek":7,"hour_from":9,"hour_to":17}]`},
		{"inverted period", `[{"dayofweek":0,"hour_from":17,"hour_to":9}]`},
		{"hour past midnight", `[{"dayofweek":0,"hour_from":9,"hour_to":25}]`},
	}
	for _, c := range cases {
		if _, err := ParseSchedule([]byte(c.raw)); err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
	}
}

func TestStaffAvailableAt_FailsOpen(t *testing.T) {
	monday := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)

	// No schedule at all.
	if !StaffAvailableAt(StaffMember{}, monday, nil) {
		t.Fatalf("staff without schedule must be available")
	}

	// Unparseable schedule.
	broken := StaffMember{WorkingHours: []byte("{{nope")}
	if !StaffAvailableAt(broken, monday, nil) {
		t.Fatalf("staff with malformed schedule must be available")
	}

	// A valid schedule that does not cover the instant is authoritative.
	working := StaffMember{WorkingHours: []byte(`[{"dayofweek":0,"hour_from":9,"hour_to":17}]`)}
	if StaffAvailableAt(working, monday, nil) {
		t.Fatalf("03:00 is outside 9-17, expected unavailable")
	}
	if !StaffAvailableAt(working, monday.Add(7*time.Hour), nil) {
		t.Fatalf("10:00 is inside 9-17, expected available")
	}
}
