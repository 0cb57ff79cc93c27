// Package notification fans appointment lifecycle events out to external
// collaborators: a structured log line and, when configured, a signed
// webhook.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType names a lifecycle transition.
type EventType string

const (
	EventCreated   EventType = "appointment.created"
	EventConfirmed EventType = "appointment.confirmed"
	EventStarted   EventType = "appointment.started"
	EventCompleted EventType = "appointment.completed"
	EventCancelled EventType = "appointment.cancelled"
	EventNoShow    EventType = "appointment.no_show"
	EventDeleted   EventType = "appointment.deleted"
)

// Event describes one appointment lifecycle change. Dates and times are
// carried in their wire form.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	AppointmentID string    `json:"appointmentId"`
	DoctorID      string    `json:"doctorId"`
	PatientID     string    `json:"patientId"`
	ActorID       string    `json:"actorId,omitempty"`
	Date          string    `json:"date"`
	StartTime     string    `json:"startTime"`
	EndTime       string    `json:"endTime"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	MeetingURL    string    `json:"meetingUrl,omitempty"`
	Message       string    `json:"message,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Dispatcher delivers events. Implementations must be safe for concurrent
// use. A dispatch failure never undoes the state change it reports.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) error { return nil }

// Multi dispatches to every member and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every dispatched event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Templates renders the human-readable message attached to each event.
// Placeholders use {{key}} syntax; unknown keys are left as-is.
type Templates struct {
	mu     sync.RWMutex
	bodies map[EventType]string
}

func NewTemplates() *Templates {
	return &Templates{bodies: map[EventType]string{
		EventCreated:   "Su cita del {{date}} a las {{startTime}} ha sido reservada.",
		EventConfirmed: "Su cita del {{date}} a las {{startTime}} ha sido confirmada. Enlace de la videollamada: {{meetingUrl}}",
		EventStarted:   "Su consulta del {{date}} a las {{startTime}} ha comenzado.",
		EventCompleted: "Su consulta del {{date}} ha finalizado.",
		EventCancelled: "Su cita del {{date}} a las {{startTime}} ha sido cancelada. Motivo: {{reason}}",
		EventNoShow:    "Su cita del {{date}} a las {{startTime}} fue marcada como inasistencia.",
		EventDeleted:   "Su cita del {{date}} a las {{startTime}} fue eliminada.",
	}}
}

// Register adds or replaces the body for an event type.
func (t *Templates) Register(typ EventType, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bodies[typ] = body
}

func (t *Templates) Render(ev Event) (string, error) {
	t.mu.RLock()
	body, ok := t.bodies[ev.Type]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no template for %q", ev.Type)
	}
	r := strings.NewReplacer(
		"{{date}}", ev.Date,
		"{{startTime}}", ev.StartTime,
		"{{endTime}}", ev.EndTime,
		"{{status}}", ev.Status,
		"{{reason}}", ev.Reason,
		"{{meetingUrl}}", ev.MeetingURL,
	)
	return r.Replace(body), nil
}

// WithMessage fills ev.Message from the templates when it is empty.
func (t *Templates) WithMessage(ev Event) Event {
	if ev.Message != "" {
		return ev
	}
	if msg, err := t.Render(ev); err == nil {
		ev.Message = msg
	}
	return ev
}
