package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"calbridge/internal/domain"
	"calbridge/internal/store"
)

type SettingsRepo struct {
	db *bun.DB
}

func NewSettingsRepo(db *bun.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

var _ store.SettingsRepository = (*SettingsRepo)(nil)

func (r *SettingsRepo) Get(ctx context.Context) (domain.CalendarSettings, error) {
	var settings domain.CalendarSettings
	err := r.db.NewSelect().
		Model(&settings).
		Where("id = ?", domain.SettingsID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultCalendarSettings(), nil
		}
		return domain.CalendarSettings{}, err
	}
	return settings, nil
}

func (r *SettingsRepo) Update(ctx context.Context, settings domain.CalendarSettings) (domain.CalendarSettings, error) {
	settings.ID = domain.SettingsID
	_, err := r.db.NewInsert().
		Model(&settings).
		On("CONFLICT (id) DO UPDATE").
		Set("slot_minutes = EXCLUDED.slot_minutes").
		Set("inactive_weekdays = EXCLUDED.inactive_weekdays").
		Set("horizon_months = EXCLUDED.horizon_months").
		Set("day_start_hour = EXCLUDED.day_start_hour").
		Set("day_end_hour = EXCLUDED.day_end_hour").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return domain.CalendarSettings{}, err
	}
	return settings, nil
}

func (r *SettingsRepo) TouchLastSync(ctx context.Context, at time.Time) error {
	settings, err := r.Get(ctx)
	if err != nil {
		return err
	}
	at = at.UTC()
	settings.LastSync = &at
	settings.ID = domain.SettingsID

	_, err = r.db.NewInsert().
		Model(&settings).
		On("CONFLICT (id) DO UPDATE").
		Set("last_sync = EXCLUDED.last_sync").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
