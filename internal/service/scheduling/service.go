// Package scheduling implements the local appointment mutations: book,
// reschedule and cancel. Mutations are validated against the conflict
// detector before any write; remote propagation failures on reschedule
// and cancel degrade to local-only so a transient ERP outage never locks
// the user out of their own calendar.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"calbridge/internal/domain"
	"calbridge/internal/remote"
	"calbridge/internal/store"
)

var (
	// ErrSlotOccupied signals that the requested interval overlaps an
	// existing appointment for the target staff member. No mutation was
	// performed, local or remote.
	ErrSlotOccupied = errors.New("slot occupied")

	// ErrStaffUnavailable signals that the requested start falls outside
	// the staff member's working hours.
	ErrStaffUnavailable = errors.New("staff not available at requested time")
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

type Config struct {
	Gateway      remote.Gateway
	Appointments store.AppointmentRepository
	Staff        store.StaffRepository
	Logger       *slog.Logger
	Now          func() time.Time
}

type Service struct {
	gw    remote.Gateway
	appts store.AppointmentRepository
	staff store.StaffRepository
	log   *slog.Logger
	now   func() time.Time
}

func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		gw:    cfg.Gateway,
		appts: cfg.Appointments,
		staff: cfg.Staff,
		log:   log.With(slog.String("component", "scheduling")),
		now:   now,
	}
}

// Result is a mutated appointment plus whether the change reached the
// remote system. RemoteSynced false means the local cache is ahead; the
// next sync reconciles.
type Result struct {
	Appointment  domain.Appointment
	RemoteSynced bool
}

type RescheduleInput struct {
	ID         uuid.UUID
	NewStart   time.Time
	NewEnd     time.Time
	NewStaffID *uuid.UUID
}

// Reschedule moves an appointment to a new interval and optionally a new
// staff member. The conflict check completes before any write is
// attempted; remote update failure degrades to local-only.
func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (Result, error) {
	start := in.NewStart.UTC()
	end := in.NewEnd.UTC()
	if end.Before(start) {
		return Result{}, validationError("new_end must not be before new_start")
	}

	appt, err := s.appts.GetByID(ctx, in.ID)
	if err != nil {
		return Result{}, err
	}

	targetStaffID := appt.StaffID
	if in.NewStaffID != nil {
		targetStaffID = in.NewStaffID
	}

	var targetStaff *domain.StaffMember
	if targetStaffID != nil {
		staff, err := s.staff.GetByID(ctx, *targetStaffID)
		if err != nil {
			return Result{}, err
		}
		targetStaff = &staff

		existing, err := s.appts.ListForStaff(ctx, *targetStaffID)
		if err != nil {
			return Result{}, err
		}
		if domain.HasConflict(existing, appt.ID, *targetStaffID, start, end) {
			return Result{}, ErrSlotOccupied
		}
	}

	appt.StartTime = start
	appt.EndTime = end
	appt.StaffID = targetStaffID
	appt.Normalize()

	remoteSynced := s.pushUpdate(ctx, appt, targetStaff)

	lastSynced := s.now().UTC()
	appt.LastSynced = &lastSynced

	updated, err := s.commitLocal(ctx, appt, targetStaffID)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("appointment rescheduled",
		slog.String("appointment_id", updated.ID.String()),
		slog.Time("start_time", updated.StartTime),
		slog.Time("end_time", updated.EndTime),
		slog.Bool("remote_synced", remoteSynced),
	)
	return Result{Appointment: updated, RemoteSynced: remoteSynced}, nil
}

// pushUpdate propagates the mutation to the remote system. A remote
// transport failure is logged and reported as false, never raised: the
// local commit proceeds regardless.
func (s *Service) pushUpdate(ctx context.Context, appt domain.Appointment, staff *domain.StaffMember) bool {
	if appt.RemoteID == nil {
		return false
	}

	var resourceID *int64
	if staff != nil {
		id := staff.RemoteID
		resourceID = &id
	}

	err := s.gw.UpdateAppointment(ctx, *appt.RemoteID, remote.AppointmentFields{
		Label:      appt.Service,
		Start:      appt.StartTime,
		End:        appt.EndTime,
		ResourceID: resourceID,
		Price:      appt.Price,
		Notes:      appt.Notes,
	})
	if err != nil {
		s.log.Warn("remote update failed; committing locally only",
			slog.Int64("remote_id", *appt.RemoteID),
			slog.Any("err", err),
		)
		return false
	}
	return true
}

// commitLocal writes the mutation. Assigned appointments commit under the
// per-staff calendar lock with the conflict re-checked, closing the race
// between two reschedules landing between each other's check and commit.
// Losing the re-check surfaces ErrSlotOccupied; if the remote write
// already went through, the next sync pulls it back into agreement.
func (s *Service) commitLocal(ctx context.Context, appt domain.Appointment, staffID *uuid.UUID) (domain.Appointment, error) {
	if staffID == nil {
		return s.appts.Update(ctx, appt)
	}

	var out domain.Appointment
	err := s.appts.InStaffTransaction(ctx, *staffID, func(ctx context.Context, tx store.CalendarTx) error {
		rows, err := tx.ListForStaff(ctx, *staffID)
		if err != nil {
			return err
		}
		if domain.HasConflict(rows, appt.ID, *staffID, appt.StartTime, appt.EndTime) {
			return store.ErrConflict
		}
		updated, err := tx.UpdateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return domain.Appointment{}, ErrSlotOccupied
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// CancelResult reports a completed cancellation and whether the remote
// deletion went through.
type CancelResult struct {
	RemoteSynced bool
}

// Cancel removes an appointment. The remote delete is attempted first;
// any failure there is logged and the local deletion proceeds anyway.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (CancelResult, error) {
	appt, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}

	remoteSynced := true
	if appt.RemoteID != nil {
		if err := s.gw.DeleteAppointment(ctx, *appt.RemoteID); err != nil {
			s.log.Warn("remote delete failed; deleting locally only",
				slog.Int64("remote_id", *appt.RemoteID),
				slog.Any("err", err),
			)
			remoteSynced = false
		}
	} else {
		remoteSynced = false
	}

	if err := s.appts.Delete(ctx, appt.ID); err != nil {
		return CancelResult{}, err
	}

	s.log.Info("appointment cancelled",
		slog.String("appointment_id", appt.ID.String()),
		slog.Bool("remote_synced", remoteSynced),
	)
	return CancelResult{RemoteSynced: remoteSynced}, nil
}

type BookInput struct {
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerRemoteID *int64
	Service          string
	Start            time.Time
	End              time.Time
	StaffID          *uuid.UUID
	Price            decimal.NullDecimal
	Notes            string
}

// Book creates an appointment remote-first: resolve the customer, create
// the remote record, then insert the local row carrying the new remote id.
// A remote failure surfaces (the local row needs the remote id); a failure
// after the remote create leaves an orphan remote record that the next
// sync heals.
func (s *Service) Book(ctx context.Context, in BookInput) (Result, error) {
	name := strings.TrimSpace(in.CustomerName)
	if name == "" {
		return Result{}, validationError("customer_name is required")
	}
	start := in.Start.UTC()
	end := in.End.UTC()
	if end.Equal(start) || end.Before(start) {
		return Result{}, validationError("end must be after start")
	}

	var targetStaff *domain.StaffMember
	if in.StaffID != nil {
		staff, err := s.staff.GetByID(ctx, *in.StaffID)
		if err != nil {
			return Result{}, err
		}
		targetStaff = &staff

		if !domain.StaffAvailableAt(staff, start, s.log) {
			return Result{}, ErrStaffUnavailable
		}

		existing, err := s.appts.ListForStaff(ctx, *in.StaffID)
		if err != nil {
			return Result{}, err
		}
		if domain.HasConflict(existing, uuid.Nil, *in.StaffID, start, end) {
			return Result{}, ErrSlotOccupied
		}
	}

	customerID, err := s.gw.FindOrCreateCustomer(ctx, remote.CustomerIdentity{
		Name:       name,
		Email:      in.CustomerEmail,
		Phone:      in.CustomerPhone,
		ExistingID: in.CustomerRemoteID,
	})
	if err != nil {
		return Result{}, err
	}

	var resourceID *int64
	if targetStaff != nil {
		id := targetStaff.RemoteID
		resourceID = &id
	}

	remoteID, err := s.gw.CreateAppointment(ctx, remote.AppointmentFields{
		Label:      in.Service,
		Start:      start,
		End:        end,
		ResourceID: resourceID,
		CustomerID: &customerID,
		Price:      in.Price,
		Notes:      in.Notes,
	})
	if err != nil {
		return Result{}, err
	}

	lastSynced := s.now().UTC()
	appt := domain.Appointment{
		RemoteID:      &remoteID,
		CustomerName:  name,
		CustomerEmail: in.CustomerEmail,
		CustomerPhone: in.CustomerPhone,
		Service:       in.Service,
		StartTime:     start,
		EndTime:       end,
		StaffID:       in.StaffID,
		Status:        domain.AppointmentStatusConfirmed,
		Price:         in.Price,
		Notes:         in.Notes,
		LastSynced:    &lastSynced,
	}
	appt.Normalize()

	created, err := s.insertLocal(ctx, appt)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("appointment booked",
		slog.String("appointment_id", created.ID.String()),
		slog.Int64("remote_id", remoteID),
		slog.Time("start_time", created.StartTime),
	)
	return Result{Appointment: created, RemoteSynced: true}, nil
}

func (s *Service) insertLocal(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.StaffID == nil {
		return s.appts.Create(ctx, appt)
	}

	var out domain.Appointment
	err := s.appts.InStaffTransaction(ctx, *appt.StaffID, func(ctx context.Context, tx store.CalendarTx) error {
		rows, err := tx.ListForStaff(ctx, *appt.StaffID)
		if err != nil {
			return err
		}
		if domain.HasConflict(rows, uuid.Nil, *appt.StaffID, appt.StartTime, appt.EndTime) {
			return store.ErrConflict
		}
		created, err := tx.CreateAppointment(ctx, appt)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return domain.Appointment{}, ErrSlotOccupied
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// AvailabilityAt reports whether a staff member is inside working hours
// at the given instant.
func (s *Service) AvailabilityAt(ctx context.Context, staffID uuid.UUID, at time.Time) (bool, error) {
	staff, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		return false, err
	}
	return domain.StaffAvailableAt(staff, at, s.log), nil
}

// ListAppointments returns appointments overlapping the window.
func (s *Service) ListAppointments(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.appts.List(ctx, start, end)
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffMember, error) {
	return s.staff.List(ctx)
}
