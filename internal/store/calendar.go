package store

import (
	"context"

	"github.com/google/uuid"

	"calbridge/internal/domain"
)

// CalendarTx is the slice of appointment operations available while the
// per-staff calendar lock is held.
type CalendarTx interface {
	ListForStaff(ctx context.Context, staffID uuid.UUID) ([]domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
}
