package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

// OccupyingStatuses are the statuses whose appointments hold their slot.
var OccupyingStatuses = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// Occupying reports whether an appointment in this status blocks its slot.
func (s Status) Occupying() bool {
	return s == StatusScheduled || s == StatusConfirmed || s == StatusInProgress
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether an appointment may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AppointmentType is the consultation modality.
type AppointmentType string

const (
	TypeVideo    AppointmentType = "video"
	TypeInPerson AppointmentType = "in-person"
)

func (t AppointmentType) Valid() bool {
	return t == TypeVideo || t == TypeInPerson
}

// Role is a user role carried in the identity token.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID    uuid.UUID
	Roles []string
}

func (a Actor) Has(role Role) bool {
	for _, r := range a.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.Has(RoleAdmin) }

// User is the scheduling view of an account. Only users with RoleDoctor
// receive bookings.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	Specialty string    `json:"specialty,omitempty"`
}

func (u *User) IsDoctor() bool { return u.Role == RoleDoctor }

// Schedule limits.
const (
	MinConsultationMinutes = 15
	MaxConsultationMinutes = 120
	MaxBookingHorizonDays  = 365
	MaxMinAdvanceHours     = 168
)

// DaySchedule holds the working windows for one weekday.
type DaySchedule struct {
	DayOfWeek   time.Weekday `json:"dayOfWeek"`
	IsAvailable bool         `json:"isAvailable"`
	TimeSlots   []Window     `json:"timeSlots"`
}

// BlockedDate is a whole calendar date on which a doctor takes no bookings.
type BlockedDate struct {
	Date   Date   `json:"date"`
	Reason string `json:"reason,omitempty"`
}

// ScheduleConfiguration is a doctor's recurring weekly availability and
// booking policy.
type ScheduleConfiguration struct {
	DoctorID                     uuid.UUID     `json:"doctorId"`
	ConsultationDurationMinutes  int           `json:"consultationDuration"`
	WeeklySchedule               []DaySchedule `json:"weeklySchedule"`
	BlockedDates                 []BlockedDate `json:"blockedDates"`
	AllowBookingDaysInAdvanceMax int           `json:"allowBookingDaysInAdvanceMax"`
	MinAdvanceBookingHours       int           `json:"minAdvanceBookingHours"`
	IsDefault                    bool          `json:"isDefault,omitempty"`
	UpdatedAt                    time.Time     `json:"updatedAt,omitempty"`
}

// DefaultSchedule is applied to doctors who have never saved a schedule.
func DefaultSchedule(doctorID uuid.UUID) *ScheduleConfiguration {
	morning := Window{Start: 9 * 60, End: 12 * 60}
	afternoon := Window{Start: 14 * 60, End: 18 * 60}
	week := make([]DaySchedule, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		day := DaySchedule{DayOfWeek: d, TimeSlots: []Window{}}
		switch d {
		case time.Sunday:
		case time.Saturday:
			day.IsAvailable = true
			day.TimeSlots = []Window{{Start: 9 * 60, End: 13 * 60}}
		default:
			day.IsAvailable = true
			day.TimeSlots = []Window{morning, afternoon}
		}
		week = append(week, day)
	}
	return &ScheduleConfiguration{
		DoctorID:                     doctorID,
		ConsultationDurationMinutes:  30,
		WeeklySchedule:               week,
		BlockedDates:                 []BlockedDate{},
		AllowBookingDaysInAdvanceMax: 30,
		MinAdvanceBookingHours:       2,
		IsDefault:                    true,
	}
}

// Day returns the schedule entry for a weekday, or nil if there is none.
func (s *ScheduleConfiguration) Day(wd time.Weekday) *DaySchedule {
	for i := range s.WeeklySchedule {
		if s.WeeklySchedule[i].DayOfWeek == wd {
			return &s.WeeklySchedule[i]
		}
	}
	return nil
}

// IsDateBlocked compares calendar dates only.
func (s *ScheduleConfiguration) IsDateBlocked(d Date) bool {
	for _, b := range s.BlockedDates {
		if b.Date == d {
			return true
		}
	}
	return false
}

// Normalize orders days, windows and blocked dates. It does not validate.
func (s *ScheduleConfiguration) Normalize() {
	sort.SliceStable(s.WeeklySchedule, func(i, j int) bool {
		return s.WeeklySchedule[i].DayOfWeek < s.WeeklySchedule[j].DayOfWeek
	})
	for i := range s.WeeklySchedule {
		slots := s.WeeklySchedule[i].TimeSlots
		sort.SliceStable(slots, func(a, b int) bool { return slots[a].Start < slots[b].Start })
		if slots == nil {
			s.WeeklySchedule[i].TimeSlots = []Window{}
		}
	}
	sort.SliceStable(s.BlockedDates, func(i, j int) bool {
		return s.BlockedDates[i].Date.Before(s.BlockedDates[j].Date)
	})
	if s.BlockedDates == nil {
		s.BlockedDates = []BlockedDate{}
	}
}

// Validate checks the configuration against the schedule limits. Windows
// must already be normalized.
func (s *ScheduleConfiguration) Validate() error {
	if s.ConsultationDurationMinutes < MinConsultationMinutes || s.ConsultationDurationMinutes > MaxConsultationMinutes {
		return fmt.Errorf("consultation duration must be between %d and %d minutes", MinConsultationMinutes, MaxConsultationMinutes)
	}
	if s.AllowBookingDaysInAdvanceMax < 1 || s.AllowBookingDaysInAdvanceMax > MaxBookingHorizonDays {
		return fmt.Errorf("booking horizon must be between 1 and %d days", MaxBookingHorizonDays)
	}
	if s.MinAdvanceBookingHours < 0 || s.MinAdvanceBookingHours > MaxMinAdvanceHours {
		return fmt.Errorf("minimum advance must be between 0 and %d hours", MaxMinAdvanceHours)
	}
	seen := make(map[time.Weekday]bool, 7)
	for _, day := range s.WeeklySchedule {
		if day.DayOfWeek < time.Sunday || day.DayOfWeek > time.Saturday {
			return fmt.Errorf("dayOfWeek %d out of range", day.DayOfWeek)
		}
		if seen[day.DayOfWeek] {
			return fmt.Errorf("duplicate entry for %s", day.DayOfWeek)
		}
		seen[day.DayOfWeek] = true
		for i, w := range day.TimeSlots {
			if w.Start < 0 || w.End > minutesPerDay || w.End <= w.Start {
				return fmt.Errorf("%s window %s: end must be after start", day.DayOfWeek, w)
			}
			if i > 0 && day.TimeSlots[i-1].Overlaps(w) {
				return fmt.Errorf("%s windows %s and %s overlap", day.DayOfWeek, day.TimeSlots[i-1], w)
			}
		}
		if day.IsAvailable && len(day.TimeSlots) == 0 {
			return fmt.Errorf("%s is available but has no windows", day.DayOfWeek)
		}
	}
	seenDates := make(map[Date]bool, len(s.BlockedDates))
	for _, b := range s.BlockedDates {
		if b.Date.IsZero() {
			return fmt.Errorf("blocked date is required")
		}
		if seenDates[b.Date] {
			return fmt.Errorf("date %s blocked twice", b.Date)
		}
		seenDates[b.Date] = true
	}
	return nil
}

// Appointment is a booked consultation between a patient and a doctor.
type Appointment struct {
	ID            uuid.UUID       `json:"id"`
	DoctorID      uuid.UUID       `json:"doctorId"`
	PatientID     uuid.UUID       `json:"patientId"`
	Date          Date            `json:"date"`
	StartTime     Clock           `json:"startTime"`
	EndTime       Clock           `json:"endTime"`
	Status        Status          `json:"status"`
	Type          AppointmentType `json:"type"`
	Specialty     string          `json:"specialty"`
	Reason        string          `json:"reason"`
	Notes         *string         `json:"notes,omitempty"`
	CancelReason  *string         `json:"cancelReason,omitempty"`
	CancelledBy   *uuid.UUID      `json:"cancelledBy,omitempty"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
	MeetingRoomID *string         `json:"meetingRoomId,omitempty"`
	MeetingURL    *string         `json:"meetingUrl,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Window returns the appointment's time-of-day interval.
func (a *Appointment) Window() Window {
	return Window{Start: a.StartTime, End: a.EndTime}
}

// StartsAt returns the appointment start instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.StartTime, loc)
}

// AppointmentFilter narrows an appointment listing. Zero values match all.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
	Date      *Date
}
