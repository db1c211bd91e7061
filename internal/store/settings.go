package store

import (
	"context"
	"time"

	"calbridge/internal/domain"
)

type SettingsRepository interface {
	// Get returns the singleton settings record, or the defaults when the
	// row has never been written.
	Get(ctx context.Context) (domain.CalendarSettings, error)
	Update(ctx context.Context, settings domain.CalendarSettings) (domain.CalendarSettings, error)

	// TouchLastSync advances the sync watermark.
	TouchLastSync(ctx context.Context, at time.Time) error
}
