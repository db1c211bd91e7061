// Package remote defines the semantic contract the sync and scheduling
// services need from the external ERP. The wire protocol lives in the
// implementing subpackage; nothing outside it may construct remote
// datetime strings.
package remote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"calbridge/internal/domain"
)

// Appointment is one appointment record as the ERP reports it.
type Appointment struct {
	ID            int64
	Label         string
	Start         time.Time
	End           time.Time
	ResourceID    *int64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	CategoryID    *int64
	Price         decimal.NullDecimal
	Notes         string
}

// Resource is the ERP's term for a bookable staff member.
type Resource struct {
	ID         int64
	Name       string
	Email      string
	Phone      string
	Active     bool
	Color      string
	CalendarID *int64
}

// AppointmentFields carries the writable fields of a remote appointment.
type AppointmentFields struct {
	Label      string
	Start      time.Time
	End        time.Time
	ResourceID *int64
	CustomerID *int64
	CategoryID *int64
	Price      decimal.NullDecimal
	Notes      string
}

// CustomerIdentity identifies a customer for find-or-create resolution:
// an existing remote id wins, then exact email, then exact phone.
type CustomerIdentity struct {
	Name       string
	Email      string
	Phone      string
	ExistingID *int64
}

// Gateway is the remote-procedure contract against the ERP. Every method
// suspends on network I/O and honors ctx cancellation; transport failures
// come back as *UnavailableError and credential rejections as *AuthError.
type Gateway interface {
	// Authenticate establishes (or reuses) a session. Idempotent; the
	// session is cached for the client lifetime.
	Authenticate(ctx context.Context) error

	// FetchAppointments reads appointments whose start falls in
	// [start, end], inclusive.
	FetchAppointments(ctx context.Context, start, end time.Time) ([]Appointment, error)

	FetchResources(ctx context.Context) ([]Resource, error)
	FetchResourceCalendar(ctx context.Context, calendarID int64) (domain.Schedule, error)

	// FetchCategoryColors resolves category ids to color tokens in one
	// batch call.
	FetchCategoryColors(ctx context.Context, ids []int64) (map[int64]string, error)

	CreateAppointment(ctx context.Context, f AppointmentFields) (int64, error)
	UpdateAppointment(ctx context.Context, remoteID int64, f AppointmentFields) error
	DeleteAppointment(ctx context.Context, remoteID int64) error

	FindOrCreateCustomer(ctx context.Context, c CustomerIdentity) (int64, error)
}
