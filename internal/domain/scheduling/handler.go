package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the scheduling API on api. bookingMW runs in front
// of booking submission only (per-user rate limiting).
func (h *Handler) RegisterRoutes(api *echo.Group, bookingMW ...echo.MiddlewareFunc) {
	api.GET("/doctors/:id/availability", h.GetAvailability)
	api.GET("/doctors/:id/schedule", h.GetSchedule)

	schedWrite := api.Group("/doctors/:id/schedule", auth.RequireRole("doctor"))
	schedWrite.PUT("", h.PutSchedule)
	schedWrite.POST("/blocked-dates", h.AddBlockedDate)
	schedWrite.DELETE("/blocked-dates/:date", h.RemoveBlockedDate)

	book := append([]echo.MiddlewareFunc{auth.RequireRole("patient")}, bookingMW...)
	api.POST("/appointments", h.CreateAppointment, book...)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PATCH("/appointments/:id", h.UpdateAppointment)
	api.DELETE("/appointments/:id", h.DeleteAppointment, auth.RequireRole("admin"))
}

func actorFromContext(c echo.Context) (Actor, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return Actor{ID: id.UserID, Roles: id.Roles}, nil
}

// httpError turns a rejection into its status and {error, message} body.
// Anything else is an internal error; the cause stays on the HTTPError for
// the request logger.
func httpError(err error) error {
	if r, ok := AsRejection(err); ok {
		return echo.NewHTTPError(r.Status, r)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func pathUUID(c echo.Context, name string, invalid *Rejection) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httpError(invalid)
	}
	return id, nil
}

// -- Availability --

type availabilityResponse struct {
	Date                 Date   `json:"date"`
	ConsultationDuration int    `json:"consultationDuration,omitempty"`
	Slots                []Slot `json:"slots"`
	Message              string `json:"message,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

func (h *Handler) GetAvailability(c echo.Context) error {
	doctorID, err := pathUUID(c, "id", ErrInvalidDoctor)
	if err != nil {
		return err
	}
	raw := c.QueryParam("date")
	if raw == "" {
		return httpError(ErrMissingFields.WithMessage("Debe indicar la fecha"))
	}
	date, err := ParseDate(raw)
	if err != nil {
		return httpError(ErrInvalidFormat.WithMessage("Fecha inválida, use AAAA-MM-DD"))
	}

	day, err := h.svc.GetAvailability(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	resp := availabilityResponse{Date: day.Date, Slots: day.Slots}
	if day.Reason != nil {
		resp.Message, resp.Reason = day.Reason.Message, day.Reason.Code
	} else {
		resp.ConsultationDuration = day.ConsultationDuration
	}
	return c.JSON(http.StatusOK, resp)
}

// -- Schedule --

func (h *Handler) GetSchedule(c echo.Context) error {
	doctorID, err := pathUUID(c, "id", ErrDoctorNotFound)
	if err != nil {
		return err
	}
	cfg, err := h.svc.GetSchedule(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) PutSchedule(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	doctorID, err := pathUUID(c, "id", ErrDoctorNotFound)
	if err != nil {
		return err
	}
	var cfg ScheduleConfiguration
	if err := c.Bind(&cfg); err != nil {
		return httpError(ErrInvalidSchedule.WithMessage("Cuerpo de la solicitud inválido"))
	}
	cfg.DoctorID = doctorID
	saved, err := h.svc.SaveSchedule(c.Request().Context(), actor, &cfg)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, saved)
}

func (h *Handler) AddBlockedDate(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	doctorID, err := pathUUID(c, "id", ErrDoctorNotFound)
	if err != nil {
		return err
	}
	var b BlockedDate
	if err := c.Bind(&b); err != nil {
		return httpError(ErrInvalidFormat.WithMessage("Fecha inválida, use AAAA-MM-DD"))
	}
	cfg, err := h.svc.AddBlockedDate(c.Request().Context(), actor, doctorID, b)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) RemoveBlockedDate(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	doctorID, err := pathUUID(c, "id", ErrDoctorNotFound)
	if err != nil {
		return err
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return httpError(ErrInvalidFormat.WithMessage("Fecha inválida, use AAAA-MM-DD"))
	}
	cfg, err := h.svc.RemoveBlockedDate(c.Request().Context(), actor, doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// -- Appointments --

type bookingResponse struct {
	Success bool         `json:"success"`
	Booking *Appointment `json:"booking"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return httpError(ErrInvalidFormat.WithMessage("Cuerpo de la solicitud inválido"))
	}
	a, err := h.svc.Book(c.Request().Context(), actor, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, bookingResponse{Success: true, Booking: a})
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id", ErrAppointmentNotFound)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)

	f := AppointmentFilter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return httpError(ErrInvalidFormat.WithMessage("Fecha inválida, use AAAA-MM-DD"))
		}
		f.Date = &d
	}
	if v := c.QueryParam("doctorId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return httpError(ErrInvalidDoctor)
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("patientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return httpError(ErrInvalidPatient)
		}
		f.PatientID = &id
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id", ErrAppointmentNotFound)
	if err != nil {
		return err
	}
	var upd StatusUpdate
	if err := c.Bind(&upd); err != nil {
		return httpError(ErrInvalidFormat.WithMessage("Cuerpo de la solicitud inválido"))
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := pathUUID(c, "id", ErrAppointmentNotFound)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
