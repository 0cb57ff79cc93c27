package scheduling

import (
	"errors"
	"fmt"
	"net/http"
)

// Rejection is a named, user-facing reason a scheduling request was refused.
// Two rejections match under errors.Is when their codes are equal, so a
// rejection carrying a formatted message still matches its sentinel.
type Rejection struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (r *Rejection) Error() string {
	return r.Code + ": " + r.Message
}

func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Code == r.Code
}

// WithMessage returns a copy of r carrying a different message.
func (r *Rejection) WithMessage(format string, args ...any) *Rejection {
	return &Rejection{Code: r.Code, Message: fmt.Sprintf(format, args...), Status: r.Status}
}

func reject(code, msg string, status int) *Rejection {
	return &Rejection{Code: code, Message: msg, Status: status}
}

var (
	ErrMissingFields   = reject("missing_fields", "Faltan campos obligatorios", http.StatusBadRequest)
	ErrInvalidFormat   = reject("invalid_format", "Formato de fecha u hora inválido", http.StatusBadRequest)
	ErrInvalidDoctor   = reject("invalid_doctor", "Doctor no válido", http.StatusBadRequest)
	ErrInvalidPatient  = reject("invalid_patient", "Paciente no válido", http.StatusBadRequest)
	ErrInvalidSchedule = reject("invalid_schedule", "Configuración de horario no válida", http.StatusBadRequest)
	ErrInvalidStatus   = reject("invalid_status", "Estado de cita no válido", http.StatusBadRequest)

	ErrDateBlocked         = reject("date_blocked", "El doctor no está disponible en esta fecha", http.StatusBadRequest)
	ErrDayUnavailable      = reject("day_unavailable", "El doctor no atiende este día", http.StatusBadRequest)
	ErrOutsideWorkingHours = reject("outside_working_hours", "El horario solicitado está fuera del horario de atención", http.StatusBadRequest)
	ErrTooSoon             = reject("too_soon", "La cita debe reservarse con más anticipación", http.StatusBadRequest)
	ErrTooFarAhead         = reject("too_far_ahead", "La fecha está demasiado lejos en el futuro", http.StatusBadRequest)

	ErrSlotConflict      = reject("slot_conflict", "Este horario ya está reservado", http.StatusConflict)
	ErrInvalidTransition = reject("invalid_transition", "No se puede cambiar la cita a ese estado", http.StatusConflict)

	ErrAppointmentNotFound = reject("appointment_not_found", "Cita no encontrada", http.StatusNotFound)
	ErrDoctorNotFound      = reject("doctor_not_found", "Doctor no encontrado", http.StatusNotFound)
	ErrForbidden           = reject("forbidden", "No tiene permiso para realizar esta acción", http.StatusForbidden)
)

// ErrScheduleNotFound is returned by a ScheduleRepository for doctors that
// have never saved a schedule.
var ErrScheduleNotFound = errors.New("schedule not found")

var ErrUserNotFound = errors.New("user not found")

func tooSoon(hours int) *Rejection {
	return ErrTooSoon.WithMessage("Debe reservar con al menos %d horas de anticipación", hours)
}

func tooFarAhead(days int) *Rejection {
	return ErrTooFarAhead.WithMessage("No puede reservar con más de %d días de anticipación", days)
}

// AsRejection extracts the Rejection from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
