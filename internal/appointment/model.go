package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses have no outgoing transitions.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// Blocking statuses occupy their slot.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusRejected && s != StatusCancelled
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// Requester is the caller identity resolved by the auth layer.
type Requester struct {
	ID   uuid.UUID
	Role Role
}

// DateLayout is the calendar date format used on the wire and in event payloads.
const DateLayout = "2006-01-02"

// ParseDate parses YYYY-MM-DD into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}

// CivilDate drops the clock part of t, keeping its calendar day in UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Clock is a time of day in minutes since midnight.
type Clock int

const minutesPerDay = 24 * 60

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock reads "HH:MM". "24:00" is accepted as the end of the day.
func ParseClock(s string) (Clock, error) {
	if s == "24:00" {
		return minutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Add(d time.Duration) Clock {
	return c + Clock(d/time.Minute)
}

func (c Clock) MarshalText() ([]byte, error) {
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

// Interval is a half-open [Start, End) range within one day.
type Interval struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Overlaps uses half-open semantics: touching intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && i.End > o.Start
}

// Slot is a bookable candidate exactly one granularity wide.
type Slot = Interval

// WorkingHours is one weekday's configuration for a doctor at a hospital.
type WorkingHours struct {
	Start Clock     `json:"start"`
	End   Clock     `json:"end"`
	Break *Interval `json:"break,omitempty"`
}

func (w WorkingHours) Validate() error {
	if w.Start < 0 || w.End > minutesPerDay || w.Start >= w.End {
		return fmt.Errorf("working hours %s-%s: start must be before end", w.Start, w.End)
	}
	if b := w.Break; b != nil {
		if b.Start < w.Start || b.Start >= b.End || b.End > w.End {
			return fmt.Errorf("break %s-%s must lie inside working hours %s-%s", b.Start, b.End, w.Start, w.End)
		}
	}
	return nil
}

// WeeklySchedule maps weekdays to working hours. A missing weekday is a day off.
type WeeklySchedule struct {
	DoctorID   uuid.UUID
	HospitalID uuid.UUID
	Days       map[time.Weekday]WorkingHours
}

type TimeOff struct {
	DoctorID   uuid.UUID
	HospitalID uuid.UUID
	Date       time.Time
	Reason     string
}

// DaySchedule is a weekly schedule resolved for one calendar date.
type DaySchedule struct {
	Date         time.Time
	Weekday      time.Weekday
	WorkingHours *WorkingHours
	IsTimeOff    bool
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	HospitalID uuid.UUID
	Date       time.Time
	Start      Clock
	End        Clock
	Status     AppointmentStatus
	Reason     string
	Notes      string
	Version    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.Start, End: a.End}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// Availability is the read-path answer for one doctor, hospital and date.
type Availability struct {
	Date            time.Time
	WorkingHours    *WorkingHours
	IsTimeOff       bool
	BookedIntervals []Interval
	AvailableSlots  []Slot
}
