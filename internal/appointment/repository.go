package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queries contains the reads and writes the engine needs. Implementations
// return ErrScheduleNotFound / ErrAppointmentNotFound for missing rows.
type Queries interface {
	GetWeeklySchedule(ctx context.Context, doctorID, hospitalID uuid.UUID) (*WeeklySchedule, error)
	HasTimeOff(ctx context.Context, doctorID, hospitalID uuid.UUID, date time.Time) (bool, error)

	// LockDoctorDay serializes bookings for one doctor and date until the
	// surrounding transaction ends.
	LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error
	// ListBookedIntervals returns the intervals of blocking appointments,
	// across all hospitals, ordered by start.
	ListBookedIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Interval, error)

	InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointmentStatus returns ErrConflict when the stored version no
	// longer matches upd.ExpectedVersion.
	UpdateAppointmentStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Date      *time.Time
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// WithDefaults clamps Limit to (0, 100], defaulting to 20, and Offset to >= 0.
func (f ListFilter) WithDefaults() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	Queries

	// InTx runs fn inside a read-committed transaction. Every statement sees
	// rows committed before it started, so reads issued after LockDoctorDay
	// observe all earlier bookings for that doctor-day. ErrSerialization means
	// the transaction was aborted by a concurrent one and may be retried.
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error

	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)

	// Outbox relay
	ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error)
	MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error
}
