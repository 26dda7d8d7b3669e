package appointment

import (
	"fmt"

	"github.com/google/uuid"
)

type edge struct {
	from, to AppointmentStatus
}

// transitions lists every legal edge with the roles allowed to take it.
// Patients are further restricted to appointments they own.
var transitions = map[edge][]Role{
	{StatusPending, StatusConfirmed}:   {RoleDoctor, RoleAdmin},
	{StatusPending, StatusRejected}:    {RoleDoctor, RoleAdmin},
	{StatusPending, StatusCancelled}:   {RolePatient, RoleDoctor, RoleAdmin},
	{StatusConfirmed, StatusCompleted}: {RoleDoctor, RoleAdmin},
	{StatusConfirmed, StatusCancelled}: {RolePatient, RoleDoctor, RoleAdmin},
}

// authorizeActor checks that the requester may act on appt at all.
func authorizeActor(appt *Appointment, who Requester) error {
	switch who.Role {
	case RoleAdmin:
		return nil
	case RolePatient:
		if who.ID != appt.PatientID {
			return fmt.Errorf("%w: patient %s does not own appointment %s", ErrForbidden, who.ID, appt.ID)
		}
		return nil
	case RoleDoctor:
		if who.ID != appt.DoctorID {
			return fmt.Errorf("%w: doctor %s is not assigned to appointment %s", ErrForbidden, who.ID, appt.ID)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown role %q", ErrForbidden, who.Role)
}

// checkTransition validates from -> to for role against the transition table.
func checkTransition(from, to AppointmentStatus, role Role) error {
	roles, ok := transitions[edge{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	for _, r := range roles {
		if r == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %s may not move %s -> %s", ErrForbidden, role, from, to)
}

// CanTransition reports whether role may move an appointment from one status to another.
func CanTransition(from, to AppointmentStatus, role Role) bool {
	return checkTransition(from, to, role) == nil
}

// Transition validates a status change requested against appt, which must be
// the stored state. expectedVersion is the version the caller last read.
// It returns the updated copy without persisting it.
func Transition(appt Appointment, who Requester, expectedVersion int, to AppointmentStatus, notes *string) (Appointment, error) {
	if err := authorizeActor(&appt, who); err != nil {
		return Appointment{}, err
	}
	if appt.Version != expectedVersion {
		return Appointment{}, fmt.Errorf("%w: appointment %s is at version %d, caller has %d",
			ErrConflict, appt.ID, appt.Version, expectedVersion)
	}
	if !to.Valid() {
		return Appointment{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if err := checkTransition(appt.Status, to, who.Role); err != nil {
		return Appointment{}, err
	}

	appt.Status = to
	appt.Version++
	if notes != nil && *notes != "" {
		appt.Notes = appendNotes(appt.Notes, *notes)
	}
	return appt, nil
}

func appendNotes(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "\n" + add
}

// StatusUpdate is the persisted form of a validated transition. The write
// only applies while the stored version still equals ExpectedVersion.
type StatusUpdate struct {
	ID              uuid.UUID
	ExpectedVersion int
	Status          AppointmentStatus
	Notes           string
}
