// Package http exposes the thin REST facade over the sync and scheduling
// services. Handlers translate the service error taxonomy into statuses:
// validation 400, not found 404, slot occupied and sync-running 409,
// remote failures 502.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"calbridge/internal/domain"
	"calbridge/internal/remote"
	"calbridge/internal/service/scheduling"
	syncsvc "calbridge/internal/service/sync"
	"calbridge/internal/store"
)

type syncService interface {
	Run(ctx context.Context, windowStart, windowEnd time.Time) (syncsvc.Result, error)
	RunIfStale(ctx context.Context, windowStart, windowEnd time.Time) (syncsvc.Result, error)
	GetSettings(ctx context.Context) (domain.CalendarSettings, error)
	UpdateSettings(ctx context.Context, in syncsvc.SettingsInput) (domain.CalendarSettings, error)
}

type schedulingService interface {
	Book(ctx context.Context, in scheduling.BookInput) (scheduling.Result, error)
	Reschedule(ctx context.Context, in scheduling.RescheduleInput) (scheduling.Result, error)
	Cancel(ctx context.Context, id uuid.UUID) (scheduling.CancelResult, error)
	AvailabilityAt(ctx context.Context, staffID uuid.UUID, at time.Time) (bool, error)
	ListAppointments(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListStaff(ctx context.Context) ([]domain.StaffMember, error)
}

type Server struct {
	sync  syncService
	sched schedulingService
	log   *slog.Logger
}

func NewServer(sync syncService, sched schedulingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		sync:  sync,
		sched: sched,
		log:   log.With(slog.String("component", "http")),
	}
}

func (s *Server) Register(e *echo.Echo) {
	v1 := e.Group("/v1")
	v1.POST("/sync", s.handleSync)
	v1.GET("/appointments", s.handleListAppointments)
	v1.POST("/appointments", s.handleBook)
	v1.PATCH("/appointments/:id/schedule", s.handleReschedule)
	v1.DELETE("/appointments/:id", s.handleCancel)
	v1.GET("/staff", s.handleListStaff)
	v1.GET("/staff/:id/availability", s.handleAvailability)
	v1.GET("/settings", s.handleGetSettings)
	v1.PUT("/settings", s.handleUpdateSettings)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleSync(c echo.Context) error {
	log := s.log.With(slog.String("route", "sync"))

	settings, err := s.sync.GetSettings(c.Request().Context())
	if err != nil {
		log.Error("settings load failed", slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	now := time.Now().UTC()
	windowStart := now
	windowEnd := now.AddDate(0, settings.HorizonMonths, 0)

	if raw := c.QueryParam("window_start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "window_start must be RFC3339"})
		}
		windowStart = t
	}
	if raw := c.QueryParam("window_end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "window_end must be RFC3339"})
		}
		windowEnd = t
	}

	run := s.sync.RunIfStale
	if c.QueryParam("force") == "true" {
		run = s.sync.Run
	}

	result, err := run(c.Request().Context(), windowStart, windowEnd)
	if err != nil {
		switch {
		case errors.Is(err, syncsvc.ErrSyncRunning):
			log.Info("sync rejected: already running")
			return c.JSON(http.StatusConflict, map[string]string{"status": "sync_running"})
		case errors.Is(err, syncsvc.ErrSyncFresh):
			log.Debug("sync skipped: watermark fresh")
			return c.JSON(http.StatusOK, map[string]string{"status": "skipped"})
		default:
			var vErr *syncsvc.ValidationError
			if errors.As(err, &vErr) {
				return c.JSON(http.StatusBadRequest, errorBody{Error: vErr.Error()})
			}
			return s.remoteOrInternal(c, log, "sync failed", err)
		}
	}

	log.Info("sync completed",
		slog.Int("staff_created", result.StaffCreated),
		slog.Int("appointments_created", result.AppointmentsCreated),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"status":               "ok",
		"staff_created":        result.StaffCreated,
		"staff_updated":        result.StaffUpdated,
		"appointments_created": result.AppointmentsCreated,
		"appointments_updated": result.AppointmentsUpdated,
	})
}

type appointmentJSON struct {
	ID              string     `json:"id"`
	RemoteID        *int64     `json:"remote_id,omitempty"`
	CustomerName    string     `json:"customer_name"`
	CustomerEmail   string     `json:"customer_email,omitempty"`
	CustomerPhone   string     `json:"customer_phone,omitempty"`
	Service         string     `json:"service,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	DurationMinutes int        `json:"duration_minutes"`
	StaffID         *string    `json:"staff_id,omitempty"`
	Status          string     `json:"status"`
	Price           *string    `json:"price,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Color           string     `json:"color,omitempty"`
	LastSynced      *time.Time `json:"last_synced,omitempty"`
}

func toAppointmentJSON(a domain.Appointment) appointmentJSON {
	out := appointmentJSON{
		ID:              a.ID.String(),
		RemoteID:        a.RemoteID,
		CustomerName:    a.CustomerName,
		CustomerEmail:   a.CustomerEmail,
		CustomerPhone:   a.CustomerPhone,
		Service:         a.Service,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
		Color:           a.Color,
		LastSynced:      a.LastSynced,
	}
	if a.StaffID != nil {
		id := a.StaffID.String()
		out.StaffID = &id
	}
	if a.Price.Valid {
		p := a.Price.Decimal.String()
		out.Price = &p
	}
	return out
}

func (s *Server) handleListAppointments(c echo.Context) error {
	log := s.log.With(slog.String("route", "appointments.list"))

	windowStart, err := time.Parse(time.RFC3339, c.QueryParam("window_start"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "window_start must be RFC3339"})
	}
	windowEnd, err := time.Parse(time.RFC3339, c.QueryParam("window_end"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "window_end must be RFC3339"})
	}

	appts, err := s.sched.ListAppointments(c.Request().Context(), windowStart, windowEnd)
	if err != nil {
		var vErr *scheduling.ValidationError
		if errors.As(err, &vErr) {
			return c.JSON(http.StatusBadRequest, errorBody{Error: vErr.Error()})
		}
		log.Error("appointments list failed", slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	out := make([]appointmentJSON, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentJSON(a))
	}
	return c.JSON(http.StatusOK, map[string]any{"appointments": out})
}

type bookRequest struct {
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    string    `json:"customer_email"`
	CustomerPhone    string    `json:"customer_phone"`
	CustomerRemoteID *int64    `json:"customer_remote_id"`
	Service          string    `json:"service"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	StaffID          *string   `json:"staff_id"`
	Price            *string   `json:"price"`
	Notes            string    `json:"notes"`
}

func (s *Server) handleBook(c echo.Context) error {
	log := s.log.With(slog.String("route", "appointments.book"))

	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}

	in := scheduling.BookInput{
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
		CustomerRemoteID: req.CustomerRemoteID,
		Service:          req.Service,
		Start:            req.Start,
		End:              req.End,
		Notes:            req.Notes,
	}
	if req.StaffID != nil {
		id, err := uuid.Parse(*req.StaffID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "staff_id must be a UUID"})
		}
		in.StaffID = &id
	}
	if req.Price != nil {
		price, err := decimal.NewFromString(*req.Price)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "price must be a decimal string"})
		}
		in.Price = decimal.NewNullDecimal(price)
	}

	result, err := s.sched.Book(c.Request().Context(), in)
	if err != nil {
		return s.mapSchedulingError(c, log, "book failed", err)
	}

	log.Info("appointment booked", slog.String("appointment_id", result.Appointment.ID.String()))
	return c.JSON(http.StatusCreated, map[string]any{
		"appointment":   toAppointmentJSON(result.Appointment),
		"remote_synced": result.RemoteSynced,
	})
}

type rescheduleRequest struct {
	NewStart   time.Time `json:"new_start"`
	NewEnd     time.Time `json:"new_end"`
	NewStaffID *string   `json:"new_staff_id"`
}

func (s *Server) handleReschedule(c echo.Context) error {
	log := s.log.With(slog.String("route", "appointments.reschedule"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "appointment id must be a UUID"})
	}

	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}

	in := scheduling.RescheduleInput{ID: id, NewStart: req.NewStart, NewEnd: req.NewEnd}
	if req.NewStaffID != nil {
		staffID, err := uuid.Parse(*req.NewStaffID)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody{Error: "new_staff_id must be a UUID"})
		}
		in.NewStaffID = &staffID
	}

	result, err := s.sched.Reschedule(c.Request().Context(), in)
	if err != nil {
		return s.mapSchedulingError(c, log, "reschedule failed", err)
	}

	log.Info("appointment rescheduled",
		slog.String("appointment_id", id.String()),
		slog.Bool("remote_synced", result.RemoteSynced),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"appointment":   toAppointmentJSON(result.Appointment),
		"remote_synced": result.RemoteSynced,
	})
}

func (s *Server) handleCancel(c echo.Context) error {
	log := s.log.With(slog.String("route", "appointments.cancel"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "appointment id must be a UUID"})
	}

	result, err := s.sched.Cancel(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Error: "appointment not found"})
		}
		log.Error("cancel failed", slog.Any("err", err), slog.String("appointment_id", id.String()))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	log.Info("appointment cancelled",
		slog.String("appointment_id", id.String()),
		slog.Bool("remote_synced", result.RemoteSynced),
	)
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "cancelled",
		"remote_synced": result.RemoteSynced,
	})
}

type staffJSON struct {
	ID       string `json:"id"`
	RemoteID int64  `json:"remote_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Color    string `json:"color,omitempty"`
	Active   bool   `json:"active"`
}

func (s *Server) handleListStaff(c echo.Context) error {
	log := s.log.With(slog.String("route", "staff.list"))

	staff, err := s.sched.ListStaff(c.Request().Context())
	if err != nil {
		log.Error("staff list failed", slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	out := make([]staffJSON, 0, len(staff))
	for _, m := range staff {
		out = append(out, staffJSON{
			ID:       m.ID.String(),
			RemoteID: m.RemoteID,
			Name:     m.Name,
			Email:    m.Email,
			Phone:    m.Phone,
			Color:    m.Color,
			Active:   m.Active,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"staff": out})
}

func (s *Server) handleAvailability(c echo.Context) error {
	log := s.log.With(slog.String("route", "staff.availability"))

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "staff id must be a UUID"})
	}
	at, err := time.Parse(time.RFC3339, c.QueryParam("at"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "at must be RFC3339"})
	}

	available, err := s.sched.AvailabilityAt(c.Request().Context(), id, at)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody{Error: "staff member not found"})
		}
		log.Error("availability check failed", slog.Any("err", err), slog.String("staff_id", id.String()))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]any{"available": available})
}

type settingsJSON struct {
	SlotMinutes      int        `json:"slot_minutes"`
	InactiveWeekdays []int16    `json:"inactive_weekdays"`
	HorizonMonths    int        `json:"horizon_months"`
	DayStartHour     float64    `json:"day_start_hour"`
	DayEndHour       float64    `json:"day_end_hour"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
}

func toSettingsJSON(s domain.CalendarSettings) settingsJSON {
	weekdays := s.InactiveWeekdays
	if weekdays == nil {
		weekdays = []int16{}
	}
	return settingsJSON{
		SlotMinutes:      s.SlotMinutes,
		InactiveWeekdays: weekdays,
		HorizonMonths:    s.HorizonMonths,
		DayStartHour:     s.DayStartHour,
		DayEndHour:       s.DayEndHour,
		LastSync:         s.LastSync,
	}
}

func (s *Server) handleGetSettings(c echo.Context) error {
	log := s.log.With(slog.String("route", "settings.get"))

	settings, err := s.sync.GetSettings(c.Request().Context())
	if err != nil {
		log.Error("settings load failed", slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, toSettingsJSON(settings))
}

func (s *Server) handleUpdateSettings(c echo.Context) error {
	log := s.log.With(slog.String("route", "settings.update"))

	var req settingsJSON
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body"})
	}

	settings, err := s.sync.UpdateSettings(c.Request().Context(), syncsvc.SettingsInput{
		SlotMinutes:      req.SlotMinutes,
		InactiveWeekdays: req.InactiveWeekdays,
		HorizonMonths:    req.HorizonMonths,
		DayStartHour:     req.DayStartHour,
		DayEndHour:       req.DayEndHour,
	})
	if err != nil {
		var vErr *syncsvc.ValidationError
		if errors.As(err, &vErr) {
			return c.JSON(http.StatusBadRequest, errorBody{Error: vErr.Error()})
		}
		log.Error("settings update failed", slog.Any("err", err))
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}

	log.Info("settings updated", slog.Int("slot_minutes", settings.SlotMinutes))
	return c.JSON(http.StatusOK, toSettingsJSON(settings))
}

// mapSchedulingError translates scheduling service errors to statuses.
func (s *Server) mapSchedulingError(c echo.Context, log *slog.Logger, msg string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, scheduling.ErrSlotOccupied):
		log.Info("slot occupied")
		return c.JSON(http.StatusConflict, errorBody{Error: "the requested slot is already occupied"})
	case errors.Is(err, scheduling.ErrStaffUnavailable):
		log.Info("outside working hours")
		return c.JSON(http.StatusConflict, errorBody{Error: "staff member is not available at the requested time"})
	default:
		var vErr *scheduling.ValidationError
		if errors.As(err, &vErr) {
			return c.JSON(http.StatusBadRequest, errorBody{Error: vErr.Error()})
		}
		return s.remoteOrInternal(c, log, msg, err)
	}
}

// remoteOrInternal distinguishes upstream ERP failures (502) from our own
// faults (500).
func (s *Server) remoteOrInternal(c echo.Context, log *slog.Logger, msg string, err error) error {
	var authErr *remote.AuthError
	if errors.As(err, &authErr) {
		log.Error(msg, slog.Any("err", err))
		return c.JSON(http.StatusBadGateway, errorBody{Error: "remote system rejected credentials"})
	}
	if remote.IsUnavailable(err) {
		log.Error(msg, slog.Any("err", err))
		return c.JSON(http.StatusBadGateway, errorBody{Error: "remote system unavailable"})
	}
	log.Error(msg, slog.Any("err", err))
	return c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
}
