// Package sync pulls appointments and resources from the remote ERP into
// the local cache. One sync runs at a time process-wide; a second request
// is rejected outright, never queued.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"calbridge/internal/domain"
	"calbridge/internal/remote"
	"calbridge/internal/store"
)

var (
	// ErrSyncRunning signals that a sync is already in flight. It is a
	// try-again-later signal, not a failure.
	ErrSyncRunning = errors.New("sync already running")

	// ErrSyncFresh signals that RunIfStale skipped the cycle because the
	// watermark is recent.
	ErrSyncFresh = errors.New("last sync is recent")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// DefaultFreshness is how young the watermark must be for RunIfStale to
// skip a cycle. A heuristic, not a correctness guarantee.
const DefaultFreshness = 5 * time.Minute

// defaultStaffColors is the palette cycled through when the remote
// resource carries no color of its own.
var defaultStaffColors = []string{"#4f83cc", "#66a182", "#c98747", "#a1668c", "#7a7d82"}

type Config struct {
	Gateway      remote.Gateway
	Staff        store.StaffRepository
	Appointments store.AppointmentRepository
	Settings     store.SettingsRepository
	Logger       *slog.Logger

	// Freshness overrides DefaultFreshness; Now overrides time.Now.
	Freshness time.Duration
	Now       func() time.Time
}

type Service struct {
	gw       remote.Gateway
	staff    store.StaffRepository
	appts    store.AppointmentRepository
	settings store.SettingsRepository
	log      *slog.Logger

	freshness time.Duration
	now       func() time.Time

	running atomic.Bool
}

func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		gw:        cfg.Gateway,
		staff:     cfg.Staff,
		appts:     cfg.Appointments,
		settings:  cfg.Settings,
		log:       log.With(slog.String("component", "sync")),
		freshness: freshness,
		now:       now,
	}
}

// Result counts what one sync cycle touched.
type Result struct {
	StaffCreated        int
	StaffUpdated        int
	AppointmentsCreated int
	AppointmentsUpdated int
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Run executes one sync cycle over [windowStart, windowEnd]. Only one
// cycle runs at a time; a concurrent call returns ErrSyncRunning without
// touching the in-flight cycle. Pull failures abort the cycle and surface;
// rows upserted before the failure stay committed.
func (s *Service) Run(ctx context.Context, windowStart, windowEnd time.Time) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrSyncRunning
	}
	defer s.running.Store(false)

	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()
	if !windowEnd.After(windowStart) {
		return Result{}, validationError("window_end must be after window_start")
	}

	result := Result{StartedAt: s.now().UTC()}
	log := s.log.With(
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
	)
	log.Info("sync started")

	if err := s.gw.Authenticate(ctx); err != nil {
		log.Error("sync authentication failed", slog.Any("err", err))
		return result, err
	}

	staffByRemote, err := s.syncStaff(ctx, log, &result)
	if err != nil {
		return result, err
	}

	if err := s.syncAppointments(ctx, log, windowStart, windowEnd, staffByRemote, &result); err != nil {
		return result, err
	}

	finishedAt := s.now().UTC()
	if err := s.settings.TouchLastSync(ctx, finishedAt); err != nil {
		log.Error("sync watermark update failed", slog.Any("err", err))
		return result, err
	}
	result.FinishedAt = finishedAt

	log.Info("sync finished",
		slog.Int("staff_created", result.StaffCreated),
		slog.Int("staff_updated", result.StaffUpdated),
		slog.Int("appointments_created", result.AppointmentsCreated),
		slog.Int("appointments_updated", result.AppointmentsUpdated),
	)
	return result, nil
}

// RunIfStale runs a sync unless the watermark is younger than the
// configured freshness interval, in which case it returns ErrSyncFresh.
func (s *Service) RunIfStale(ctx context.Context, windowStart, windowEnd time.Time) (Result, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	if settings.LastSync != nil && s.now().UTC().Sub(settings.LastSync.UTC()) < s.freshness {
		return Result{}, ErrSyncFresh
	}
	return s.Run(ctx, windowStart, windowEnd)
}

// syncStaff upserts remote resources into the staff set, keyed by remote
// id. Policy: name, contact info, active flag and working hours refresh on
// every pass; display color is set at creation and preserved afterwards.
// A working-hours calendar fetch failure is best-effort: logged, previous
// schedule kept, sync continues.
func (s *Service) syncStaff(ctx context.Context, log *slog.Logger, result *Result) (map[int64]domain.StaffMember, error) {
	resources, err := s.gw.FetchResources(ctx)
	if err != nil {
		log.Error("resource pull failed", slog.Any("err", err))
		return nil, err
	}

	byRemote := make(map[int64]domain.StaffMember, len(resources))
	for i, res := range resources {
		var schedule json.RawMessage
		scheduleKnown := false
		if res.CalendarID != nil {
			entries, err := s.gw.FetchResourceCalendar(ctx, *res.CalendarID)
			if err != nil {
				log.Warn("working hours fetch failed; keeping stored schedule",
					slog.Int64("resource_id", res.ID),
					slog.Int64("calendar_id", *res.CalendarID),
					slog.Any("err", err),
				)
			} else {
				raw, err := json.Marshal(entries)
				if err != nil {
					return nil, err
				}
				schedule = raw
				scheduleKnown = true
			}
		}

		existing, err := s.staff.GetByRemoteID(ctx, res.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			color := res.Color
			if color == "" {
				color = defaultStaffColors[i%len(defaultStaffColors)]
			}
			created, err := s.staff.Create(ctx, domain.StaffMember{
				RemoteID:         res.ID,
				Name:             res.Name,
				Email:            res.Email,
				Phone:            res.Phone,
				Color:            color,
				Active:           res.Active,
				RemoteCalendarID: res.CalendarID,
				WorkingHours:     schedule,
			})
			if err != nil {
				return nil, err
			}
			byRemote[res.ID] = created
			result.StaffCreated++
		case err != nil:
			return nil, err
		default:
			existing.Name = res.Name
			existing.Email = res.Email
			existing.Phone = res.Phone
			existing.Active = res.Active
			existing.RemoteCalendarID = res.CalendarID
			if scheduleKnown {
				existing.WorkingHours = schedule
			}
			updated, err := s.staff.Update(ctx, existing)
			if err != nil {
				return nil, err
			}
			byRemote[res.ID] = updated
			result.StaffUpdated++
		}
	}
	return byRemote, nil
}

func (s *Service) syncAppointments(ctx context.Context, log *slog.Logger, windowStart, windowEnd time.Time, staffByRemote map[int64]domain.StaffMember, result *Result) error {
	remoteAppts, err := s.gw.FetchAppointments(ctx, windowStart, windowEnd)
	if err != nil {
		log.Error("appointment pull failed", slog.Any("err", err))
		return err
	}

	colors := s.resolveCategoryColors(ctx, log, remoteAppts)
	syncedAt := s.now().UTC()

	for _, ra := range remoteAppts {
		var staffID *uuid.UUID
		if ra.ResourceID != nil {
			if staff, ok := staffByRemote[*ra.ResourceID]; ok {
				id := staff.ID
				staffID = &id
			}
		}

		var color string
		if ra.CategoryID != nil {
			color = colors[*ra.CategoryID]
		}

		existing, err := s.appts.GetByRemoteID(ctx, ra.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			remoteID := ra.ID
			lastSynced := syncedAt
			appt := domain.Appointment{
				RemoteID:      &remoteID,
				CustomerName:  ra.CustomerName,
				CustomerEmail: ra.CustomerEmail,
				CustomerPhone: ra.CustomerPhone,
				Service:       ra.Label,
				StartTime:     ra.Start,
				EndTime:       ra.End,
				StaffID:       staffID,
				Status:        domain.AppointmentStatusConfirmed,
				Price:         ra.Price,
				Notes:         ra.Notes,
				Color:         color,
				LastSynced:    &lastSynced,
			}
			appt.Normalize()
			if _, err := s.appts.Create(ctx, appt); err != nil {
				return err
			}
			result.AppointmentsCreated++
		case err != nil:
			return err
		default:
			lastSynced := syncedAt
			existing.CustomerName = ra.CustomerName
			existing.CustomerEmail = ra.CustomerEmail
			existing.CustomerPhone = ra.CustomerPhone
			existing.Service = ra.Label
			existing.StartTime = ra.Start
			existing.EndTime = ra.End
			existing.StaffID = staffID
			existing.Price = ra.Price
			existing.Notes = ra.Notes
			existing.Color = color
			existing.LastSynced = &lastSynced
			existing.Normalize()
			if _, err := s.appts.Update(ctx, existing); err != nil {
				return err
			}
			result.AppointmentsUpdated++
		}
	}
	return nil
}

// resolveCategoryColors batches the category lookup (one call, not N+1).
// Failure is best-effort: colors are cosmetic and must not abort a pull.
func (s *Service) resolveCategoryColors(ctx context.Context, log *slog.Logger, appts []remote.Appointment) map[int64]string {
	seen := map[int64]struct{}{}
	ids := make([]int64, 0)
	for _, a := range appts {
		if a.CategoryID == nil {
			continue
		}
		if _, ok := seen[*a.CategoryID]; ok {
			continue
		}
		seen[*a.CategoryID] = struct{}{}
		ids = append(ids, *a.CategoryID)
	}
	if len(ids) == 0 {
		return map[int64]string{}
	}

	colors, err := s.gw.FetchCategoryColors(ctx, ids)
	if err != nil {
		log.Warn("category color lookup failed", slog.Int("categories", len(ids)), slog.Any("err", err))
		return map[int64]string{}
	}
	return colors
}

// GetSettings returns the singleton calendar settings.
func (s *Service) GetSettings(ctx context.Context) (domain.CalendarSettings, error) {
	return s.settings.Get(ctx)
}

type SettingsInput struct {
	SlotMinutes      int
	InactiveWeekdays []int16
	HorizonMonths    int
	DayStartHour     float64
	DayEndHour       float64
}

func (s *Service) UpdateSettings(ctx context.Context, in SettingsInput) (domain.CalendarSettings, error) {
	if !domain.ValidSlotMinutes(in.SlotMinutes) {
		return domain.CalendarSettings{}, validationError("slot_minutes must be 10, 15 or 30")
	}
	if in.HorizonMonths < 1 {
		return domain.CalendarSettings{}, validationError("horizon_months must be at least 1")
	}
	if in.DayStartHour < 0 || in.DayEndHour > 24 || in.DayStartHour >= in.DayEndHour {
		return domain.CalendarSettings{}, validationError("invalid default working-hours window")
	}
	for _, wd := range in.InactiveWeekdays {
		if wd < 0 || wd > 6 {
			return domain.CalendarSettings{}, validationError("invalid weekday")
		}
	}

	current, err := s.settings.Get(ctx)
	if err != nil {
		return domain.CalendarSettings{}, err
	}
	current.SlotMinutes = in.SlotMinutes
	current.InactiveWeekdays = in.InactiveWeekdays
	current.HorizonMonths = in.HorizonMonths
	current.DayStartHour = in.DayStartHour
	current.DayEndHour = in.DayEndHour

	return s.settings.Update(ctx, current)
}
