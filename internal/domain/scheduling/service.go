package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/lock"
	"github.com/telemed/telemed/internal/platform/notification"
	"github.com/telemed/telemed/internal/platform/video"
)

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	users        UserRepository

	locker   lock.Locker
	notifier notification.Dispatcher
	rooms    video.RoomIssuer
	log      zerolog.Logger
	loc      *time.Location
	now      func() time.Time

	// When set, doctors without a saved schedule accept any booking that
	// does not conflict, instead of being held to the default schedule.
	permissiveWithoutSchedule bool
	notifyTimeout             time.Duration

	// Notifications are dispatched in submission order by one worker.
	qmu       sync.Mutex
	queue     []queuedEvent
	closed    bool
	wake      chan struct{}
	done      chan struct{}
	pending   sync.WaitGroup
	closeOnce sync.Once
}

type queuedEvent struct {
	ctx context.Context
	ev  notification.Event
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option { return func(s *Service) { s.locker = l } }

func WithNotifier(d notification.Dispatcher) Option { return func(s *Service) { s.notifier = d } }

func WithRoomIssuer(r video.RoomIssuer) Option { return func(s *Service) { s.rooms = r } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithLocation sets the clinic time zone in which civil dates and times of
// day become instants.
func WithLocation(loc *time.Location) Option { return func(s *Service) { s.loc = loc } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPermissiveWithoutSchedule makes doctors without a saved schedule skip
// the schedule checks at admission. Off by default: they are held to
// DefaultSchedule.
func WithPermissiveWithoutSchedule(on bool) Option {
	return func(s *Service) { s.permissiveWithoutSchedule = on }
}

func NewService(sched ScheduleRepository, appt AppointmentRepository, users UserRepository, opts ...Option) *Service {
	s := &Service{
		schedules:     sched,
		appointments:  appt,
		users:         users,
		locker:        lock.NewLocalLocker(),
		notifier:      notification.Nop{},
		log:           zerolog.Nop(),
		loc:           time.Local,
		now:           time.Now,
		notifyTimeout: 30 * time.Second,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.dispatchLoop()
	return s
}

// Location returns the clinic time zone.
func (s *Service) Location() *time.Location { return s.loc }

// Wait blocks until every notification queued so far has been dispatched.
func (s *Service) Wait() { s.pending.Wait() }

// Close drains the notification queue and stops its worker. Events raised
// after Close are logged and dropped.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.qmu.Lock()
		s.closed = true
		s.qmu.Unlock()
		s.signal()
		<-s.done
	})
}

// -- Schedule --

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID, notFound *Rejection) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	if !u.IsDoctor() {
		return nil, notFound
	}
	return u, nil
}

// resolveSchedule returns the doctor's saved schedule, or the default one
// with found=false.
func (s *Service) resolveSchedule(ctx context.Context, doctorID uuid.UUID) (cfg *ScheduleConfiguration, found bool, err error) {
	cfg, err = s.schedules.GetByDoctor(ctx, doctorID)
	if errors.Is(err, ErrScheduleNotFound) {
		return DefaultSchedule(doctorID), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get schedule: %w", err)
	}
	return cfg, true, nil
}

func canManageSchedule(actor Actor, doctorID uuid.UUID) bool {
	return actor.IsAdmin() || (actor.Has(RoleDoctor) && actor.ID == doctorID)
}

func (s *Service) GetSchedule(ctx context.Context, doctorID uuid.UUID) (*ScheduleConfiguration, error) {
	if _, err := s.requireDoctor(ctx, doctorID, ErrDoctorNotFound); err != nil {
		return nil, err
	}
	cfg, _, err := s.resolveSchedule(ctx, doctorID)
	return cfg, err
}

// SaveSchedule replaces the doctor's whole configuration.
func (s *Service) SaveSchedule(ctx context.Context, actor Actor, cfg *ScheduleConfiguration) (*ScheduleConfiguration, error) {
	if !canManageSchedule(actor, cfg.DoctorID) {
		return nil, ErrForbidden
	}
	if _, err := s.requireDoctor(ctx, cfg.DoctorID, ErrDoctorNotFound); err != nil {
		return nil, err
	}
	return cfg, s.store(ctx, cfg)
}

func (s *Service) store(ctx context.Context, cfg *ScheduleConfiguration) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return ErrInvalidSchedule.WithMessage("Configuración de horario no válida: %s", err)
	}
	cfg.IsDefault = false
	if err := s.schedules.Upsert(ctx, cfg); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	s.log.Info().Str("doctor_id", cfg.DoctorID.String()).Msg("schedule saved")
	return nil
}

// AddBlockedDate blocks a date, replacing the reason if already blocked.
// A doctor on the default schedule gets it saved as their own.
func (s *Service) AddBlockedDate(ctx context.Context, actor Actor, doctorID uuid.UUID, b BlockedDate) (*ScheduleConfiguration, error) {
	if !canManageSchedule(actor, doctorID) {
		return nil, ErrForbidden
	}
	if b.Date.IsZero() {
		return nil, ErrMissingFields
	}
	if _, err := s.requireDoctor(ctx, doctorID, ErrDoctorNotFound); err != nil {
		return nil, err
	}
	cfg, _, err := s.resolveSchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	replaced := false
	for i := range cfg.BlockedDates {
		if cfg.BlockedDates[i].Date == b.Date {
			cfg.BlockedDates[i].Reason = b.Reason
			replaced = true
		}
	}
	if !replaced {
		cfg.BlockedDates = append(cfg.BlockedDates, b)
	}
	return cfg, s.store(ctx, cfg)
}

func (s *Service) RemoveBlockedDate(ctx context.Context, actor Actor, doctorID uuid.UUID, date Date) (*ScheduleConfiguration, error) {
	if !canManageSchedule(actor, doctorID) {
		return nil, ErrForbidden
	}
	if _, err := s.requireDoctor(ctx, doctorID, ErrDoctorNotFound); err != nil {
		return nil, err
	}
	cfg, _, err := s.resolveSchedule(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	kept := cfg.BlockedDates[:0]
	for _, b := range cfg.BlockedDates {
		if b.Date != date {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(cfg.BlockedDates) {
		return nil, ErrInvalidSchedule.WithMessage("La fecha %s no está bloqueada", date)
	}
	cfg.BlockedDates = kept
	return cfg, s.store(ctx, cfg)
}

// -- Availability --

func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID, date Date) (DayAvailability, error) {
	if _, err := s.requireDoctor(ctx, doctorID, ErrDoctorNotFound); err != nil {
		return DayAvailability{}, err
	}
	cfg, _, err := s.resolveSchedule(ctx, doctorID)
	if err != nil {
		return DayAvailability{}, err
	}
	bookings, err := s.appointments.ListOccupying(ctx, doctorID, date)
	if err != nil {
		return DayAvailability{}, fmt.Errorf("list bookings: %w", err)
	}
	return ComputeAvailableSlots(cfg, bookings, date, s.now(), s.loc), nil
}

// -- Booking --

// Book admits a booking request. Checks run cheapest first and stop at the
// first failure; the conflict scan and the insert are one atomic step.
func (s *Service) Book(ctx context.Context, actor Actor, req BookingRequest) (*Appointment, error) {
	if !actor.IsAdmin() && !actor.Has(RolePatient) {
		return nil, ErrForbidden
	}
	p, err := req.Parse()
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsAdmin() && p.PatientID == uuid.Nil:
		return nil, ErrMissingFields.WithMessage("Debe indicar el paciente")
	case !actor.IsAdmin() && p.PatientID == uuid.Nil:
		p.PatientID = actor.ID
	case !actor.IsAdmin() && p.PatientID != actor.ID:
		return nil, ErrForbidden
	}

	if _, err := s.requireDoctor(ctx, p.DoctorID, ErrInvalidDoctor); err != nil {
		return nil, err
	}
	patient, err := s.users.GetByID(ctx, p.PatientID)
	if errors.Is(err, ErrUserNotFound) || (err == nil && patient.Role != RolePatient) {
		return nil, ErrInvalidPatient
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}

	cfg, found, err := s.resolveSchedule(ctx, p.DoctorID)
	if err != nil {
		return nil, err
	}
	if found || !s.permissiveWithoutSchedule {
		if err := CheckSchedule(cfg, p.Date, p.Window, s.now(), s.loc); err != nil {
			s.logRejection(p, err)
			return nil, err
		}
	}

	a := &Appointment{
		ID:        uuid.New(),
		DoctorID:  p.DoctorID,
		PatientID: p.PatientID,
		Date:      p.Date,
		StartTime: p.Window.Start,
		EndTime:   p.Window.End,
		Status:    StatusScheduled,
		Type:      p.Type,
		Specialty: p.Specialty,
		Reason:    p.Reason,
	}
	if p.Notes != "" {
		a.Notes = &p.Notes
	}

	err = s.locker.WithLock(ctx, slotLockKey(p.DoctorID, p.Date), func(ctx context.Context) error {
		return s.appointments.CreateIfNoConflict(ctx, a)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		err = ErrSlotConflict
	}
	if err != nil {
		if _, ok := AsRejection(err); ok {
			s.logRejection(p, err)
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("date", a.Date.String()).
		Str("start_time", a.StartTime.String()).
		Msg("appointment booked")
	s.notify(ctx, notification.EventCreated, a, actor)
	return a, nil
}

func (s *Service) logRejection(p *ParsedBooking, err error) {
	s.log.Info().
		Str("doctor_id", p.DoctorID.String()).
		Str("date", p.Date.String()).
		Str("window", p.Window.String()).
		Err(err).
		Msg("booking rejected")
}

// -- Lifecycle --

// StatusUpdate is the body of a lifecycle transition request.
type StatusUpdate struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancelReason,omitempty"`
}

var statusEvents = map[Status]notification.EventType{
	StatusConfirmed:  notification.EventConfirmed,
	StatusInProgress: notification.EventStarted,
	StatusCompleted:  notification.EventCompleted,
	StatusCancelled:  notification.EventCancelled,
	StatusNoShow:     notification.EventNoShow,
}

// UpdateStatus moves an appointment along its lifecycle. Only the owning
// doctor or an admin may confirm, start, complete or mark a no-show; the
// patient may also cancel.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, id uuid.UUID, upd StatusUpdate) (*Appointment, error) {
	next := Status(upd.Status)
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ownerDoctor := actor.Has(RoleDoctor) && actor.ID == a.DoctorID
	patient := actor.Has(RolePatient) && actor.ID == a.PatientID
	allowed := actor.IsAdmin() || ownerDoctor || (next == StatusCancelled && patient)
	if !allowed {
		return nil, ErrForbidden
	}
	if !a.Status.CanTransition(next) {
		return nil, ErrInvalidTransition.WithMessage("No se puede pasar de %q a %q", a.Status, next)
	}

	reason := strings.TrimSpace(upd.CancelReason)
	if next == StatusCancelled && reason == "" {
		return nil, ErrMissingFields.WithMessage("Debe indicar el motivo de la cancelación")
	}

	from := a.Status
	a.Status = next
	if next == StatusCancelled {
		at := s.now()
		by := actor.ID
		a.CancelReason, a.CancelledBy, a.CancelledAt = &reason, &by, &at
	}

	if err := s.appointments.UpdateStatus(ctx, a, from); err != nil {
		return nil, err
	}
	if next == StatusConfirmed {
		s.attachRoom(ctx, a)
	}
	s.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("from", string(from)).
		Str("to", string(next)).
		Str("actor_id", actor.ID.String()).
		Msg("appointment status changed")
	s.notify(ctx, statusEvents[next], a, actor)
	return a, nil
}

// attachRoom issues a video room for a freshly confirmed appointment once
// the transition is stored, so a lost race never leaves an orphaned room.
// Failures leave the appointment confirmed without a room.
func (s *Service) attachRoom(ctx context.Context, a *Appointment) {
	if a.Type != TypeVideo || a.MeetingRoomID != nil || s.rooms == nil {
		return
	}
	room, err := s.rooms.IssueRoom(ctx, a.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("issue video room")
		return
	}
	withRoom := *a
	withRoom.MeetingRoomID, withRoom.MeetingURL = &room.ID, &room.URL
	if err := s.appointments.UpdateStatus(ctx, &withRoom, StatusConfirmed); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", a.ID.String()).Str("room_id", room.ID).Msg("store video room")
		return
	}
	*a = withRoom
}

// Cancel is UpdateStatus to cancelled with a reason.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Appointment, error) {
	return s.UpdateStatus(ctx, actor, id, StatusUpdate{Status: string(StatusCancelled), CancelReason: reason})
}

// -- Queries --

func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != a.DoctorID && actor.ID != a.PatientID {
		return nil, ErrForbidden
	}
	return a, nil
}

// ListAppointments scopes non-admin callers to their own appointments.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	switch {
	case actor.IsAdmin():
	case actor.Has(RoleDoctor):
		id := actor.ID
		f.DoctorID, f.PatientID = &id, nil
	case actor.Has(RolePatient):
		id := actor.ID
		f.PatientID, f.DoctorID = &id, nil
	default:
		return nil, 0, ErrForbidden
	}
	return s.appointments.List(ctx, f, limit, offset)
}

func (s *Service) DeleteAppointment(ctx context.Context, actor Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.appointments.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Warn().Str("appointment_id", id.String()).Str("actor_id", actor.ID.String()).Msg("appointment deleted")
	s.notify(ctx, notification.EventDeleted, a, actor)
	return nil
}

// notify queues an event for the background worker; failures are logged,
// never returned.
func (s *Service) notify(ctx context.Context, typ notification.EventType, a *Appointment, actor Actor) {
	ev := notification.Event{
		ID:            uuid.NewString(),
		Type:          typ,
		AppointmentID: a.ID.String(),
		DoctorID:      a.DoctorID.String(),
		PatientID:     a.PatientID.String(),
		ActorID:       actor.ID.String(),
		Date:          a.Date.String(),
		StartTime:     a.StartTime.String(),
		EndTime:       a.EndTime.String(),
		Status:        string(a.Status),
		OccurredAt:    s.now(),
	}
	if a.CancelReason != nil {
		ev.Reason = *a.CancelReason
	}
	if a.MeetingURL != nil {
		ev.MeetingURL = *a.MeetingURL
	}

	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		s.log.Warn().Str("event", string(typ)).Str("appointment_id", ev.AppointmentID).Msg("notification dropped after shutdown")
		return
	}
	s.pending.Add(1)
	s.queue = append(s.queue, queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev})
	s.qmu.Unlock()
	s.signal()
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) dispatchLoop() {
	defer close(s.done)
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.qmu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		item := s.queue[0]
		s.queue[0] = queuedEvent{}
		s.queue = s.queue[1:]
		s.qmu.Unlock()

		s.dispatch(item)
		s.pending.Done()
	}
}

func (s *Service) dispatch(item queuedEvent) {
	ctx, cancel := context.WithTimeout(item.ctx, s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Dispatch(ctx, item.ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(item.ev.Type)).Str("appointment_id", item.ev.AppointmentID).Msg("notification failed")
	}
}
