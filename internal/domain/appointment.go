package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
)

// Appointment is the local cache row for one remote appointment. RemoteID
// is nil only between local creation and remote propagation; the booking
// flow creates the remote record first, so the window is not observable
// through the API.
type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID            uuid.UUID `bun:"id,pk,type:uuid"`
	RemoteID      *int64    `bun:"remote_id,unique"`
	CustomerName  string    `bun:"customer_name,notnull"`
	CustomerEmail string    `bun:"customer_email"`
	CustomerPhone string    `bun:"customer_phone"`
	Service       string    `bun:"service"`
	StartTime     time.Time `bun:"start_time,notnull"`
	EndTime       time.Time `bun:"end_time,notnull"`
	// DurationMinutes must always equal EndTime-StartTime in minutes.
	// Normalize enforces it; every write path calls Normalize.
	DurationMinutes int                 `bun:"duration_minutes,notnull"`
	StaffID         *uuid.UUID          `bun:"staff_id,type:uuid"`
	Status          AppointmentStatus   `bun:"status,notnull"`
	Price           decimal.NullDecimal `bun:"price,type:numeric"`
	Notes           string              `bun:"notes"`
	Color           string              `bun:"color"`
	LastSynced      *time.Time          `bun:"last_synced"`
	CreatedAt       time.Time           `bun:"created_at,notnull"`
	UpdatedAt       time.Time           `bun:"updated_at,notnull"`
}

// Normalize forces both time representations into agreement: times in UTC
// and DurationMinutes recomputed from the interval.
func (a *Appointment) Normalize() {
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.DurationMinutes = int(a.EndTime.Sub(a.StartTime) / time.Minute)
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.Status == "" {
			a.Status = AppointmentStatusConfirmed
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}
