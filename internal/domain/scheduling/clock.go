package scheduling

import (
	"fmt"
	"time"
)

// Clock is a time of day expressed as minutes since midnight. It marshals to
// and from the "HH:MM" 24-hour form used on the wire and in schedules.
type Clock int

const minutesPerDay = 24 * 60

// ParseClock parses an "HH:MM" 24-hour time of day. "24:00" is accepted as
// the end of the day so windows closing at midnight round-trip.
func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return Clock(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Hour returns the hour component.
func (c Clock) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) MarshalText() ([]byte, error) {
	if c < 0 || c > minutesPerDay {
		return nil, fmt.Errorf("clock value %d out of range", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a calendar date with no time-of-day or zone. Dates typed by a user
// stay the same date regardless of where the server runs; a zone is applied
// only when a Date is combined with a Clock to build an instant.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	t = t.In(loc)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool { return d == Date{} }

// At combines the date with a time of day in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}

// Noon returns local noon on the date. Noon stays on the same calendar day
// under any zone offset, so it is the instant stored for date-only values.
func (d Date) Noon(loc *time.Location) time.Time {
	return d.At(12*60, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.Noon(time.UTC).Weekday()
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	t := d.Noon(time.UTC).AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) key() int { return d.Year*10000 + int(d.Month)*100 + d.Day }

func (d Date) Before(o Date) bool { return d.key() < o.key() }

func (d Date) After(o Date) bool { return d.key() > o.key() }

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Window is a half-open time-of-day interval [Start, End).
type Window struct {
	Start Clock `json:"startTime"`
	End   Clock `json:"endTime"`
}

// Overlaps reports strict intersection; windows that only touch at an
// endpoint do not overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start < o.End && w.End > o.Start
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return o.Start >= w.Start && o.End <= w.End
}

func (w Window) Minutes() int { return int(w.End - w.Start) }

func (w Window) String() string { return w.Start.String() + "-" + w.End.String() }
