package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"calbridge/internal/domain"
	"calbridge/internal/store"
)

type StaffRepo struct {
	db *bun.DB
}

func NewStaffRepo(db *bun.DB) *StaffRepo {
	return &StaffRepo{db: db}
}

var _ store.StaffRepository = (*StaffRepo)(nil)

func (r *StaffRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.StaffMember, error) {
	var staff domain.StaffMember
	err := r.db.NewSelect().
		Model(&staff).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StaffMember{}, store.ErrNotFound
		}
		return domain.StaffMember{}, err
	}
	return staff, nil
}

func (r *StaffRepo) GetByRemoteID(ctx context.Context, remoteID int64) (domain.StaffMember, error) {
	var staff domain.StaffMember
	err := r.db.NewSelect().
		Model(&staff).
		Where("remote_id = ?", remoteID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StaffMember{}, store.ErrNotFound
		}
		return domain.StaffMember{}, err
	}
	return staff, nil
}

func (r *StaffRepo) List(ctx context.Context) ([]domain.StaffMember, error) {
	var rows []domain.StaffMember
	err := r.db.NewSelect().
		Model(&rows).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *StaffRepo) Create(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error) {
	_, err := r.db.NewInsert().Model(&staff).Exec(ctx)
	if err != nil {
		return domain.StaffMember{}, err
	}
	return staff, nil
}

func (r *StaffRepo) Update(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error) {
	res, err := r.db.NewUpdate().
		Model(&staff).
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.StaffMember{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.StaffMember{}, err
	}
	if affected == 0 {
		return domain.StaffMember{}, store.ErrNotFound
	}
	return staff, nil
}
