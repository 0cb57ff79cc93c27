package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingRequest is the wire form of a booking submission.
type BookingRequest struct {
	DoctorID  string `json:"doctorId"`
	PatientID string `json:"patientId,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Type      string `json:"type,omitempty"`
	Specialty string `json:"specialty"`
	Reason    string `json:"reason"`
	Notes     string `json:"notes,omitempty"`
}

// ParsedBooking is a BookingRequest that passed structural validation.
type ParsedBooking struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      Date
	Window    Window
	Type      AppointmentType
	Specialty string
	Reason    string
	Notes     string
}

// Parse checks required fields and formats. PatientID is optional here; the
// service fills it from the caller when absent.
func (r *BookingRequest) Parse() (*ParsedBooking, error) {
	specialty := strings.TrimSpace(r.Specialty)
	reason := strings.TrimSpace(r.Reason)
	if r.DoctorID == "" || r.Date == "" || r.StartTime == "" || r.EndTime == "" || specialty == "" || reason == "" {
		return nil, ErrMissingFields
	}

	doctorID, err := uuid.Parse(r.DoctorID)
	if err != nil {
		return nil, ErrInvalidDoctor
	}
	var patientID uuid.UUID
	if r.PatientID != "" {
		if patientID, err = uuid.Parse(r.PatientID); err != nil {
			return nil, ErrInvalidFormat.WithMessage("Identificador de paciente inválido")
		}
	}
	date, err := ParseDate(r.Date)
	if err != nil {
		return nil, ErrInvalidFormat.WithMessage("Fecha inválida, use AAAA-MM-DD")
	}
	start, err := ParseClock(r.StartTime)
	if err != nil {
		return nil, ErrInvalidFormat.WithMessage("Hora de inicio inválida, use HH:MM")
	}
	end, err := ParseClock(r.EndTime)
	if err != nil {
		return nil, ErrInvalidFormat.WithMessage("Hora de fin inválida, use HH:MM")
	}
	if end <= start {
		return nil, ErrInvalidFormat.WithMessage("La hora de fin debe ser posterior a la hora de inicio")
	}

	typ := TypeVideo
	if r.Type != "" {
		typ = AppointmentType(r.Type)
		if !typ.Valid() {
			return nil, ErrInvalidFormat.WithMessage("Tipo de cita inválido")
		}
	}

	return &ParsedBooking{
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      date,
		Window:    Window{Start: start, End: end},
		Type:      typ,
		Specialty: specialty,
		Reason:    reason,
		Notes:     strings.TrimSpace(r.Notes),
	}, nil
}

// CheckSchedule runs the schedule-based admission rules in order: blocked
// date, weekday availability, window containment, then lead time. It does
// not look at existing bookings.
func CheckSchedule(cfg *ScheduleConfiguration, date Date, w Window, now time.Time, loc *time.Location) error {
	if cfg.IsDateBlocked(date) {
		return ErrDateBlocked
	}
	day := cfg.Day(date.Weekday())
	if day == nil || !day.IsAvailable {
		return ErrDayUnavailable
	}
	contained := false
	for _, tw := range day.TimeSlots {
		if tw.Contains(w) {
			contained = true
			break
		}
	}
	if !contained {
		return ErrOutsideWorkingHours
	}
	if rej := checkLeadTime(cfg, date.At(w.Start, loc), now); rej != nil {
		return rej
	}
	return nil
}
