package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"calbridge/internal/domain"
	"calbridge/internal/remote"
	"calbridge/internal/store"
)

type fakeGateway struct {
	authenticateFn          func(ctx context.Context) error
	fetchAppointmentsFn     func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error)
	fetchResourcesFn        func(ctx context.Context) ([]remote.Resource, error)
	fetchResourceCalendarFn func(ctx context.Context, calendarID int64) (domain.Schedule, error)
	fetchCategoryColorsFn   func(ctx context.Context, ids []int64) (map[int64]string, error)
}

func (f *fakeGateway) Authenticate(ctx context.Context) error {
	if f.authenticateFn == nil {
		return nil
	}
	return f.authenticateFn(ctx)
}

func (f *fakeGateway) FetchAppointments(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
	if f.fetchAppointmentsFn == nil {
		panic("FetchAppointments not configured")
	}
	return f.fetchAppointmentsFn(ctx, start, end)
}

func (f *fakeGateway) FetchResources(ctx context.Context) ([]remote.Resource, error) {
	if f.fetchResourcesFn == nil {
		panic("FetchResources not configured")
	}
	return f.fetchResourcesFn(ctx)
}

func (f *fakeGateway) FetchResourceCalendar(ctx context.Context, calendarID int64) (domain.Schedule, error) {
	if f.fetchResourceCalendarFn == nil {
		panic("FetchResourceCalendar not configured")
	}
	return f.fetchResourceCalendarFn(ctx, calendarID)
}

func (f *fakeGateway) FetchCategoryColors(ctx context.Context, ids []int64) (map[int64]string, error) {
	if f.fetchCategoryColorsFn == nil {
		return map[int64]string{}, nil
	}
	return f.fetchCategoryColorsFn(ctx, ids)
}

func (f *fakeGateway) CreateAppointment(ctx context.Context, fields remote.AppointmentFields) (int64, error) {
	panic("CreateAppointment not expected during sync")
}

func (f *fakeGateway) UpdateAppointment(ctx context.Context, remoteID int64, fields remote.AppointmentFields) error {
	panic("UpdateAppointment not expected during sync")
}

func (f *fakeGateway) DeleteAppointment(ctx context.Context, remoteID int64) error {
	panic("DeleteAppointment not expected during sync")
}

func (f *fakeGateway) FindOrCreateCustomer(ctx context.Context, c remote.CustomerIdentity) (int64, error) {
	panic("FindOrCreateCustomer not expected during sync")
}

type memStaffRepo struct {
	rows map[uuid.UUID]domain.StaffMember
}

func newMemStaffRepo() *memStaffRepo {
	return &memStaffRepo{rows: map[uuid.UUID]domain.StaffMember{}}
}

func (r *memStaffRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.StaffMember, error) {
	s, ok := r.rows[id]
	if !ok {
		return domain.StaffMember{}, store.ErrNotFound
	}
	return s, nil
}

func (r *memStaffRepo) GetByRemoteID(ctx context.Context, remoteID int64) (domain.StaffMember, error) {
	for _, s := range r.rows {
		if s.RemoteID == remoteID {
			return s, nil
		}
	}
	return domain.StaffMember{}, store.ErrNotFound
}

func (r *memStaffRepo) List(ctx context.Context) ([]domain.StaffMember, error) {
	out := make([]domain.StaffMember, 0, len(r.rows))
	for _, s := range r.rows {
		out = append(out, s)
	}
	return out, nil
}

func (r *memStaffRepo) Create(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error) {
	if staff.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.StaffMember{}, err
		}
		staff.ID = id
	}
	r.rows[staff.ID] = staff
	return staff, nil
}

func (r *memStaffRepo) Update(ctx context.Context, staff domain.StaffMember) (domain.StaffMember, error) {
	if _, ok := r.rows[staff.ID]; !ok {
		return domain.StaffMember{}, store.ErrNotFound
	}
	r.rows[staff.ID] = staff
	return staff, nil
}

type memApptRepo struct {
	rows map[uuid.UUID]domain.Appointment
}

func newMemApptRepo() *memApptRepo {
	return &memApptRepo{rows: map[uuid.UUID]domain.Appointment{}}
}

func (r *memApptRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	a, ok := r.rows[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (r *memApptRepo) GetByRemoteID(ctx context.Context, remoteID int64) (domain.Appointment, error) {
	for _, a := range r.rows {
		if a.RemoteID != nil && *a.RemoteID == remoteID {
			return a, nil
		}
	}
	return domain.Appointment{}, store.ErrNotFound
}

func (r *memApptRepo) List(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	out := make([]domain.Appointment, 0, len(r.rows))
	for _, a := range r.rows {
		if a.StartTime.Before(windowEnd) && a.EndTime.After(windowStart) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memApptRepo) ListForStaff(ctx context.Context, staffID uuid.UUID) ([]domain.Appointment, error) {
	out := make([]domain.Appointment, 0)
	for _, a := range r.rows {
		if a.StaffID != nil && *a.StaffID == staffID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memApptRepo) Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	appt.Normalize()
	r.rows[appt.ID] = appt
	return appt, nil
}

func (r *memApptRepo) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if _, ok := r.rows[appt.ID]; !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	appt.Normalize()
	r.rows[appt.ID] = appt
	return appt, nil
}

func (r *memApptRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memApptRepo) InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	return fn(ctx, memCalendarTx{repo: r})
}

type memCalendarTx struct {
	repo *memApptRepo
}

func (t memCalendarTx) ListForStaff(ctx context.Context, staffID uuid.UUID) ([]domain.Appointment, error) {
	return t.repo.ListForStaff(ctx, staffID)
}

func (t memCalendarTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	return t.repo.Create(ctx, appt)
}

func (t memCalendarTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	return t.repo.Update(ctx, appt)
}

type memSettingsRepo struct {
	settings domain.CalendarSettings
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{settings: domain.DefaultCalendarSettings()}
}

func (r *memSettingsRepo) Get(ctx context.Context) (domain.CalendarSettings, error) {
	return r.settings, nil
}

func (r *memSettingsRepo) Update(ctx context.Context, settings domain.CalendarSettings) (domain.CalendarSettings, error) {
	settings.ID = domain.SettingsID
	r.settings = settings
	return settings, nil
}

func (r *memSettingsRepo) TouchLastSync(ctx context.Context, at time.Time) error {
	at = at.UTC()
	r.settings.LastSync = &at
	return nil
}

func syncWindow() (time.Time, time.Time) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func threeRemoteAppointments(resourceID int64) []remote.Appointment {
	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	out := make([]remote.Appointment, 0, 3)
	for i, id := range []int64{501, 502, 503} {
		rid := resourceID
		out = append(out, remote.Appointment{
			ID:           id,
			Label:        "Consultation",
			Start:        day.Add(time.Duration(9+i) * time.Hour),
			End:          day.Add(time.Duration(10+i) * time.Hour),
			ResourceID:   &rid,
			CustomerName: "Dana Smith",
		})
	}
	return out
}

func newSyncService(gw remote.Gateway, staff *memStaffRepo, appts *memApptRepo, settings *memSettingsRepo, now time.Time) *Service {
	return New(Config{
		Gateway:      gw,
		Staff:        staff,
		Appointments: appts,
		Settings:     settings,
		Now:          func() time.Time { return now },
	})
}

func TestRun_PullsRemoteAppointmentsIdempotently(t *testing.T) {
	calendarID := int64(3)
	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) {
			return []remote.Resource{{ID: 7, Name: "Alex", Active: true, CalendarID: &calendarID}}, nil
		},
		fetchResourceCalendarFn: func(ctx context.Context, id int64) (domain.Schedule, error) {
			return domain.Schedule{{Weekday: 0, HourFrom: 9, HourTo: 17}}, nil
		},
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return threeRemoteAppointments(7), nil
		},
	}
	staff := newMemStaffRepo()
	appts := newMemApptRepo()
	settings := newMemSettingsRepo()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	svc := newSyncService(gw, staff, appts, settings, now)

	ws, we := syncWindow()
	result, err := svc.Run(context.Background(), ws, we)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if result.AppointmentsCreated != 3 || result.AppointmentsUpdated != 0 {
		t.Fatalf("created=%d updated=%d, want 3/0", result.AppointmentsCreated, result.AppointmentsUpdated)
	}
	if len(appts.rows) != 3 {
		t.Fatalf("local appointments = %d, want 3", len(appts.rows))
	}
	for _, id := range []int64{501, 502, 503} {
		a, err := appts.GetByRemoteID(context.Background(), id)
		if err != nil {
			t.Fatalf("appointment %d missing after sync: %v", id, err)
		}
		if a.LastSynced == nil || !a.LastSynced.Equal(now) {
			t.Fatalf("appointment %d last_synced = %v, want %v", id, a.LastSynced, now)
		}
		if a.StaffID == nil {
			t.Fatalf("appointment %d staff not resolved", id)
		}
		if a.DurationMinutes != 60 {
			t.Fatalf("appointment %d duration = %d, want 60", id, a.DurationMinutes)
		}
	}
	if settings.settings.LastSync == nil || !settings.settings.LastSync.Equal(now) {
		t.Fatalf("watermark = %v, want %v", settings.settings.LastSync, now)
	}

	// Re-running with identical remote data must not duplicate anything.
	result, err = svc.Run(context.Background(), ws, we)
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if result.AppointmentsCreated != 0 || result.AppointmentsUpdated != 3 {
		t.Fatalf("second run created=%d updated=%d, want 0/3", result.AppointmentsCreated, result.AppointmentsUpdated)
	}
	if len(appts.rows) != 3 {
		t.Fatalf("local appointments after rerun = %d, want 3", len(appts.rows))
	}
	if len(staff.rows) != 1 {
		t.Fatalf("staff rows after rerun = %d, want 1", len(staff.rows))
	}
}

func TestRun_RejectsConcurrentSync(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) {
			close(started)
			<-release
			return nil, nil
		},
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return nil, nil
		},
	}
	svc := newSyncService(gw, newMemStaffRepo(), newMemApptRepo(), newMemSettingsRepo(), time.Now().UTC())

	ws, we := syncWindow()
	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), ws, we)
		done <- err
	}()

	<-started
	if _, err := svc.Run(context.Background(), ws, we); !errors.Is(err, ErrSyncRunning) {
		t.Fatalf("concurrent Run error = %v, want ErrSyncRunning", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("in-flight Run error: %v", err)
	}
}

func TestRun_ReleasesLockAndSurfacesPullFailure(t *testing.T) {
	pullErr := &remote.UnavailableError{Op: "fetch appointments", Err: errors.New("connection refused")}
	failing := true

	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) {
			return nil, nil
		},
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			if failing {
				return nil, pullErr
			}
			return nil, nil
		},
	}
	settings := newMemSettingsRepo()
	svc := newSyncService(gw, newMemStaffRepo(), newMemApptRepo(), settings, time.Now().UTC())

	ws, we := syncWindow()
	if _, err := svc.Run(context.Background(), ws, we); !remote.IsUnavailable(err) {
		t.Fatalf("Run error = %v, want UnavailableError", err)
	}
	if settings.settings.LastSync != nil {
		t.Fatalf("watermark advanced despite pull failure")
	}

	// The failed cycle must have released the lock.
	failing = false
	if _, err := svc.Run(context.Background(), ws, we); err != nil {
		t.Fatalf("Run after failure error: %v", err)
	}
}

func TestRun_KeepsStoredScheduleWhenCalendarFetchFails(t *testing.T) {
	calendarID := int64(3)
	stored := []byte(`[{"dayofweek":0,"hour_from":9,"hour_to":17}]`)

	staff := newMemStaffRepo()
	seeded, err := staff.Create(context.Background(), domain.StaffMember{
		RemoteID:         7,
		Name:             "Alex",
		Active:           true,
		RemoteCalendarID: &calendarID,
		WorkingHours:     stored,
	})
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}

	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) {
			return []remote.Resource{{ID: 7, Name: "Alex", Active: true, CalendarID: &calendarID}}, nil
		},
		fetchResourceCalendarFn: func(ctx context.Context, id int64) (domain.Schedule, error) {
			return nil, &remote.UnavailableError{Op: "fetch resource calendar", Err: errors.New("timeout")}
		},
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return nil, nil
		},
	}
	svc := newSyncService(gw, staff, newMemApptRepo(), newMemSettingsRepo(), time.Now().UTC())

	ws, we := syncWindow()
	if _, err := svc.Run(context.Background(), ws, we); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	after, err := staff.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("staff vanished: %v", err)
	}
	if string(after.WorkingHours) != string(stored) {
		t.Fatalf("schedule overwritten after calendar fetch failure: %s", after.WorkingHours)
	}
}

func TestRun_RefreshesNamePreservesColor(t *testing.T) {
	staff := newMemStaffRepo()
	seeded, err := staff.Create(context.Background(), domain.StaffMember{
		RemoteID: 7,
		Name:     "Old Name",
		Color:    "#112233",
		Active:   true,
	})
	if err != nil {
		t.Fatalf("seed staff: %v", err)
	}

	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) {
			return []remote.Resource{{ID: 7, Name: "New Name", Color: "#ff0000", Active: true}}, nil
		},
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return nil, nil
		},
	}
	svc := newSyncService(gw, staff, newMemApptRepo(), newMemSettingsRepo(), time.Now().UTC())

	ws, we := syncWindow()
	if _, err := svc.Run(context.Background(), ws, we); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	after, err := staff.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("staff vanished: %v", err)
	}
	if after.Name != "New Name" {
		t.Fatalf("name = %q, want refreshed %q", after.Name, "New Name")
	}
	if after.Color != "#112233" {
		t.Fatalf("color = %q, want preserved %q", after.Color, "#112233")
	}
}

func TestRunIfStale_SkipsWhenWatermarkFresh(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-time.Minute)

	settings := newMemSettingsRepo()
	settings.settings.LastSync = &recent

	svc := newSyncService(&fakeGateway{}, newMemStaffRepo(), newMemApptRepo(), settings, now)

	ws, we := syncWindow()
	if _, err := svc.RunIfStale(context.Background(), ws, we); !errors.Is(err, ErrSyncFresh) {
		t.Fatalf("RunIfStale error = %v, want ErrSyncFresh", err)
	}

	// A stale watermark runs normally.
	stale := now.Add(-time.Hour)
	settings.settings.LastSync = &stale
	gw := &fakeGateway{
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) { return nil, nil },
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return nil, nil
		},
	}
	svc = newSyncService(gw, newMemStaffRepo(), newMemApptRepo(), settings, now)
	if _, err := svc.RunIfStale(context.Background(), ws, we); err != nil {
		t.Fatalf("RunIfStale error: %v", err)
	}
	if settings.settings.LastSync == nil || !settings.settings.LastSync.Equal(now) {
		t.Fatalf("watermark = %v, want %v", settings.settings.LastSync, now)
	}
}

func TestRun_SurfacesAuthErrorAndReleasesLock(t *testing.T) {
	authErr := &remote.AuthError{Reason: "credentials rejected"}
	rejected := true

	gw := &fakeGateway{
		authenticateFn: func(ctx context.Context) error {
			if rejected {
				return authErr
			}
			return nil
		},
		fetchResourcesFn: func(ctx context.Context) ([]remote.Resource, error) { return nil, nil },
		fetchAppointmentsFn: func(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
			return nil, nil
		},
	}
	svc := newSyncService(gw, newMemStaffRepo(), newMemApptRepo(), newMemSettingsRepo(), time.Now().UTC())

	ws, we := syncWindow()
	var gotAuth *remote.AuthError
	if _, err := svc.Run(context.Background(), ws, we); !errors.As(err, &gotAuth) {
		t.Fatalf("Run error = %v, want AuthError", err)
	}

	rejected = false
	if _, err := svc.Run(context.Background(), ws, we); err != nil {
		t.Fatalf("Run after auth failure error: %v", err)
	}
}

func TestUpdateSettings_ValidatesSlotGranularity(t *testing.T) {
	settings := newMemSettingsRepo()
	svc := newSyncService(&fakeGateway{}, newMemStaffRepo(), newMemApptRepo(), settings, time.Now().UTC())

	_, err := svc.UpdateSettings(context.Background(), SettingsInput{
		SlotMinutes:   20,
		HorizonMonths: 3,
		DayStartHour:  8,
		DayEndHour:    18,
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}

	updated, err := svc.UpdateSettings(context.Background(), SettingsInput{
		SlotMinutes:      15,
		InactiveWeekdays: []int16{5, 6},
		HorizonMonths:    2,
		DayStartHour:     9,
		DayEndHour:       17,
	})
	if err != nil {
		t.Fatalf("UpdateSettings error: %v", err)
	}
	if updated.SlotMinutes != 15 || updated.HorizonMonths != 2 {
		t.Fatalf("settings not applied: %+v", updated)
	}
}
