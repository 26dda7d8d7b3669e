package appointment

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the Service wraps exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRange      = errors.New("invalid range")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("version conflict")
	ErrStorage           = errors.New("storage error")
)

var (
	ErrScheduleNotFound    = fmt.Errorf("schedule %w", ErrNotFound)
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)

	ErrSlotAlreadyBooked = fmt.Errorf("%w: slot already booked", ErrSlotUnavailable)
	ErrOutsideHours      = fmt.Errorf("%w: outside working hours", ErrSlotUnavailable)
	ErrDuringBreak       = fmt.Errorf("%w: overlaps break window", ErrSlotUnavailable)
	ErrDayOff            = fmt.Errorf("%w: doctor is off on this date", ErrSlotUnavailable)

	// ErrSerialization is returned by repositories when a transaction was
	// aborted by a serialization failure or deadlock. The service retries these.
	ErrSerialization = fmt.Errorf("%w: serialization failure", ErrStorage)
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidRange      Kind = "invalid_range"
	KindSlotUnavailable   Kind = "slot_unavailable"
	KindForbidden         Kind = "forbidden"
	KindInvalidTransition Kind = "invalid_transition"
	KindConflict          Kind = "conflict"
	KindStorage           Kind = "storage_error"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidRange, KindInvalidRange},
	{ErrSlotUnavailable, KindSlotUnavailable},
	{ErrForbidden, KindForbidden},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrConflict, KindConflict},
	{ErrStorage, KindStorage},
}

// KindOf maps err to its stable category. Unclassified errors are storage errors.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStorage
}

// Retryable reports whether the caller may safely repeat the operation.
func Retryable(err error) bool {
	return KindOf(err) == KindStorage
}

// storageErr classifies an error coming back from a repository. Domain errors
// pass through untouched; everything else becomes ErrStorage.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: timed out: %w", op, ErrStorage, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
