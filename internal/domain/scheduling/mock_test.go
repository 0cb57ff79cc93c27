package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =========== Mock Schedule Repository ===========

type mockScheduleRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]ScheduleConfiguration
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{store: make(map[uuid.UUID]ScheduleConfiguration)}
}

func cloneSchedule(cfg ScheduleConfiguration) ScheduleConfiguration {
	week := make([]DaySchedule, len(cfg.WeeklySchedule))
	for i, d := range cfg.WeeklySchedule {
		d.TimeSlots = append([]Window(nil), d.TimeSlots...)
		week[i] = d
	}
	cfg.WeeklySchedule = week
	cfg.BlockedDates = append([]BlockedDate{}, cfg.BlockedDates...)
	return cfg
}

func (m *mockScheduleRepo) GetByDoctor(_ context.Context, doctorID uuid.UUID) (*ScheduleConfiguration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.store[doctorID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	out := cloneSchedule(cfg)
	return &out, nil
}

func (m *mockScheduleRepo) Upsert(_ context.Context, cfg *ScheduleConfiguration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.UpdatedAt = time.Now()
	m.store[cfg.DoctorID] = cloneSchedule(*cfg)
	return nil
}

// =========== Mock Appointment Repository ===========

// mockAppointmentRepo keeps appointments in memory. The conflict scan and
// the insert happen under one mutex, like the transactional PG version.
type mockAppointmentRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{store: make(map[uuid.UUID]Appointment)}
}

func (m *mockAppointmentRepo) occupying(doctorID uuid.UUID, date Date) []Appointment {
	var out []Appointment
	for _, a := range m.store {
		if a.DoctorID == doctorID && a.Date == date && a.Status.Occupying() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (m *mockAppointmentRepo) CreateIfNoConflict(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if FindConflict(a.Window(), a.Date, m.occupying(a.DoctorID, a.Date)) != nil {
		return ErrSlotConflict
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	m.store[a.ID] = *a
	return nil
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.store[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *mockAppointmentRepo) ListOccupying(_ context.Context, doctorID uuid.UUID, date Date) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.occupying(doctorID, date), nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Appointment
	for _, a := range m.store {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Date != nil && a.Date != *f.Date {
			continue
		}
		a := a
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date.After(all[j].Date)
		}
		return all[i].StartTime < all[j].StartTime
	})
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, a *Appointment, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != from {
		return ErrInvalidTransition
	}
	a.UpdatedAt = time.Now()
	m.store[a.ID] = *a
	return nil
}

func (m *mockAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockAppointmentRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}

// racyAppointmentRepo scans and inserts in two separate critical sections
// with a pause between them, reproducing the read-then-write race. Only the
// service's slot lock keeps it from double-booking.
type racyAppointmentRepo struct {
	*mockAppointmentRepo
	pause time.Duration
}

func (r *racyAppointmentRepo) CreateIfNoConflict(ctx context.Context, a *Appointment) error {
	existing, _ := r.ListOccupying(ctx, a.DoctorID, a.Date)
	if FindConflict(a.Window(), a.Date, existing) != nil {
		return ErrSlotConflict
	}
	time.Sleep(r.pause)
	r.mu.Lock()
	defer r.mu.Unlock()
	a.CreatedAt = time.Now()
	r.store[a.ID] = *a
	return nil
}

// =========== Mock User Repository ===========

type mockUserRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]User
}

func newMockUserRepo(users ...User) *mockUserRepo {
	m := &mockUserRepo{store: make(map[uuid.UUID]User)}
	for _, u := range users {
		m.store[u.ID] = u
	}
	return m
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	m.store[u.ID] = *u
	return nil
}
