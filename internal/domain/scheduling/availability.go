package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a bookable interval of one consultation length.
type Slot struct {
	StartTime Clock `json:"startTime"`
	EndTime   Clock `json:"endTime"`
	Available bool  `json:"available"`
}

// DayAvailability is the result of an availability computation. Reason is
// set only when the day yields no slots for a nameable reason.
type DayAvailability struct {
	Date                 Date
	ConsultationDuration int
	Slots                []Slot
	Reason               *Rejection
}

// ComputeAvailableSlots derives the ordered bookable slots for date from the
// doctor's weekly schedule. A nil cfg means the doctor never saved a
// schedule and the default one applies. bookings may contain appointments
// of any status and date; only occupying ones on date are considered.
func ComputeAvailableSlots(cfg *ScheduleConfiguration, bookings []Appointment, date Date, now time.Time, loc *time.Location) DayAvailability {
	if cfg == nil {
		cfg = DefaultSchedule(uuid.Nil)
	}
	out := DayAvailability{
		Date:                 date,
		ConsultationDuration: cfg.ConsultationDurationMinutes,
		Slots:                []Slot{},
	}

	if cfg.IsDateBlocked(date) {
		out.Reason = ErrDateBlocked
		return out
	}
	day := cfg.Day(date.Weekday())
	if day == nil || !day.IsAvailable {
		out.Reason = ErrDayUnavailable
		return out
	}
	step := Clock(cfg.ConsultationDurationMinutes)
	if step <= 0 {
		out.Reason = ErrInvalidSchedule
		return out
	}

	var candidates int
	var leadErr *Rejection
	for _, w := range day.TimeSlots {
		for t := w.Start; t+step <= w.End; t += step {
			candidate := Window{Start: t, End: t + step}
			candidates++
			if FindConflict(candidate, date, bookings) != nil {
				continue
			}
			if rej := checkLeadTime(cfg, date.At(t, loc), now); rej != nil {
				if leadErr == nil {
					leadErr = rej
				}
				continue
			}
			out.Slots = append(out.Slots, Slot{StartTime: candidate.Start, EndTime: candidate.End, Available: true})
		}
	}
	// Every candidate fell outside the booking window: say why.
	if len(out.Slots) == 0 && candidates > 0 && leadErr != nil {
		out.Reason = leadErr
	}
	return out
}

// FindConflict returns the first occupying booking on date that overlaps w.
func FindConflict(w Window, date Date, bookings []Appointment) *Appointment {
	for i := range bookings {
		b := &bookings[i]
		if b.Date != date || !b.Status.Occupying() {
			continue
		}
		if w.Overlaps(b.Window()) {
			return b
		}
	}
	return nil
}

// checkLeadTime applies the advance-notice bound and the booking horizon to
// a concrete start instant. The same test runs for availability and
// admission, so a listed slot is always admissible.
func checkLeadTime(cfg *ScheduleConfiguration, start, now time.Time) *Rejection {
	earliest := now.Add(time.Duration(cfg.MinAdvanceBookingHours) * time.Hour)
	if start.Before(earliest) {
		return tooSoon(cfg.MinAdvanceBookingHours)
	}
	latest := now.AddDate(0, 0, cfg.AllowBookingDaysInAdvanceMax)
	if start.After(latest) {
		return tooFarAhead(cfg.AllowBookingDaysInAdvanceMax)
	}
	return nil
}
