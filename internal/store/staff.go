package store

import (
	"context"

	"github.com/google/uuid"

	"calbridge/internal/domain"
)

type StaffRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.StaffMember, error)
	GetByRemoteID(ctx context.Context, remoteID int64) (domain.StaffMember, error)
	List(ctx context.Context) ([]domain.StaffMember, error)
	Create(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error)
	Update(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error)
}
