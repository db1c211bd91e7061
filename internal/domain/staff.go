package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// StaffMember mirrors a bookable resource of the remote ERP. RemoteID is
// assigned by the ERP and never changes once observed; sync never deletes
// rows, it only clears Active.
type StaffMember struct {
	bun.BaseModel `bun:"table:staff_members"`

	ID               uuid.UUID `bun:"id,pk,type:uuid"`
	RemoteID         int64     `bun:"remote_id,notnull,unique"`
	Name             string    `bun:"name,notnull"`
	Email            string    `bun:"email"`
	Phone            string    `bun:"phone"`
	Color            string    `bun:"color"`
	Active           bool      `bun:"active,notnull"`
	RemoteCalendarID *int64    `bun:"remote_calendar_id"`
	// WorkingHours holds the raw schedule payload as pulled from the remote
	// calendar. Parsed lazily and fail-open; see availability.go.
	WorkingHours json.RawMessage `bun:"working_hours,type:jsonb"`
	CreatedAt    time.Time       `bun:"created_at,notnull"`
	UpdatedAt    time.Time       `bun:"updated_at,notnull"`
}

func (s *StaffMember) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			s.ID = id
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}
