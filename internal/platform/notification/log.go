package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes each event as a structured log line.
type LogDispatcher struct {
	log       zerolog.Logger
	templates *Templates
}

func NewLogDispatcher(log zerolog.Logger, templates *Templates) *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notification").Logger(), templates: templates}
}

func (d *LogDispatcher) Dispatch(_ context.Context, ev Event) error {
	ev = d.templates.WithMessage(ev)
	d.log.Info().
		Str("event", string(ev.Type)).
		Str("appointment_id", ev.AppointmentID).
		Str("doctor_id", ev.DoctorID).
		Str("patient_id", ev.PatientID).
		Str("date", ev.Date).
		Str("start_time", ev.StartTime).
		Str("status", ev.Status).
		Msg(ev.Message)
	return nil
}
