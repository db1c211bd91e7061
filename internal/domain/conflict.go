package domain

import (
	"time"

	"github.com/google/uuid"
)

// HasConflict reports whether the half-open interval [start, end) overlaps
// any non-cancelled appointment of staffID, ignoring the appointment with
// excludeID (the one being moved). Touching endpoints do not conflict, and
// a zero-duration candidate never conflicts. Appointments without an
// assigned staff member are never considered.
func HasConflict(appts []Appointment, excludeID uuid.UUID, staffID uuid.UUID, start, end time.Time) bool {
	for _, a := range appts {
		if a.ID == excludeID {
			continue
		}
		if a.StaffID == nil || *a.StaffID != staffID {
			continue
		}
		if a.Status == AppointmentStatusCancelled {
			continue
		}
		if start.Before(a.EndTime) && end.After(a.StartTime) {
			return true
		}
	}
	return false
}
