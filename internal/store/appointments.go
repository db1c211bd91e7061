package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"calbridge/internal/domain"
)

type AppointmentRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	GetByRemoteID(ctx context.Context, remoteID int64) (domain.Appointment, error)
	List(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListForStaff(ctx context.Context, staffID uuid.UUID) ([]domain.Appointment, error)
	Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// InStaffTransaction runs fn while holding the staff member's calendar
	// lock, serializing concurrent mutations of one staff calendar.
	InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx CalendarTx) error) error
}
