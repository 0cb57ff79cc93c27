package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleRepository persists one ScheduleConfiguration per doctor.
// GetByDoctor returns ErrScheduleNotFound when none was ever saved.
type ScheduleRepository interface {
	GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*ScheduleConfiguration, error)
	Upsert(ctx context.Context, cfg *ScheduleConfiguration) error
}

// AppointmentRepository is the single authority for conflict detection.
type AppointmentRepository interface {
	// CreateIfNoConflict inserts a in one atomic step with the overlap scan
	// against occupying appointments of the same doctor and date. It
	// returns ErrSlotConflict when an overlap exists.
	CreateIfNoConflict(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListOccupying(ctx context.Context, doctorID uuid.UUID, date Date) ([]Appointment, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// UpdateStatus persists a's status and lifecycle fields only if the
	// stored status still equals from; otherwise ErrInvalidTransition.
	UpdateStatus(ctx context.Context, a *Appointment, from Status) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, u *User) error
}
