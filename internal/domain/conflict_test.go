package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustV7(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid.NewV7: %v", err)
	}
	return id
}

func apptAt(t *testing.T, staffID uuid.UUID, startHour, endHour int) Appointment {
	t.Helper()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	a := Appointment{
		ID:        mustV7(t),
		StaffID:   &staffID,
		StartTime: day.Add(time.Duration(startHour) * time.Hour),
		EndTime:   day.Add(time.Duration(endHour) * time.Hour),
		Status:    AppointmentStatusConfirmed,
	}
	a.Normalize()
	return a
}

func TestHasConflict_TouchingBoundaryDoesNotConflict(t *testing.T) {
	staff := mustV7(t)
	existing := []Appointment{apptAt(t, staff, 10, 11)}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	// [11:00,12:00) touches [10:00,11:00) and must not conflict.
	if HasConflict(existing, uuid.Nil, staff, day.Add(11*time.Hour), day.Add(12*time.Hour)) {
		t.Fatalf("touching boundary reported as conflict")
	}
	// [10:30,11:30) overlaps and must conflict.
	if !HasConflict(existing, uuid.Nil, staff, day.Add(10*time.Hour+30*time.Minute), day.Add(11*time.Hour+30*time.Minute)) {
		t.Fatalf("overlapping interval not reported as conflict")
	}
}

func TestHasConflict_ZeroDurationCandidateNeverConflicts(t *testing.T) {
	staff := mustV7(t)
	existing := []Appointment{apptAt(t, staff, 9, 17)}

	// Half-open semantics: start == end overlaps nothing, even inside an
	// existing appointment.
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if HasConflict(existing, uuid.Nil, staff, at, at) {
		t.Fatalf("zero-duration candidate reported as conflict")
	}
}

func TestHasConflict_ExcludesAppointmentBeingMoved(t *testing.T) {
	staff := mustV7(t)
	moved := apptAt(t, staff, 10, 11)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if HasConflict([]Appointment{moved}, moved.ID, staff, day.Add(10*time.Hour), day.Add(11*time.Hour)) {
		t.Fatalf("appointment conflicted with itself")
	}
}

func TestHasConflict_IgnoresOtherStaffCancelledAndUnassigned(t *testing.T) {
	staff := mustV7(t)
	other := mustV7(t)

	otherStaff := apptAt(t, other, 10, 11)

	cancelled := apptAt(t, staff, 10, 11)
	cancelled.Status = AppointmentStatusCancelled

	unassigned := apptAt(t, staff, 10, 11)
	unassigned.StaffID = nil

	existing := []Appointment{otherStaff, cancelled, unassigned}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if HasConflict(existing, uuid.Nil, staff, day.Add(10*time.Hour), day.Add(11*time.Hour)) {
		t.Fatalf("conflict reported against other-staff, cancelled or unassigned appointments")
	}
}

func TestAppointmentNormalize_KeepsDurationConsistent(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation error: %v", err)
	}

	a := Appointment{
		StartTime: time.Date(2026, 3, 2, 9, 0, 0, 0, loc),
		EndTime:   time.Date(2026, 3, 2, 10, 30, 0, 0, loc),
	}
	a.Normalize()

	if a.StartTime.Location() != time.UTC || a.EndTime.Location() != time.UTC {
		t.Fatalf("expected UTC times, got start=%v end=%v", a.StartTime, a.EndTime)
	}
	if a.DurationMinutes != 90 {
		t.Fatalf("duration = %d, want 90", a.DurationMinutes)
	}
}
