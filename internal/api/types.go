package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID   string `json:"doctor_id"`
	HospitalID string `json:"hospital_id"`
	Date       string `json:"date"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Reason     string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status  string  `json:"status"`
	Notes   *string `json:"notes,omitempty"`
	Version *int    `json:"version"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	HospitalID uuid.UUID `json:"hospital_id"`
	Date       string    `json:"date"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Date            string                 `json:"date"`
	WorkingHours    *appointment.Interval  `json:"working_hours"`
	BreakWindow     *appointment.Interval  `json:"break_window,omitempty"`
	IsTimeOff       bool                   `json:"is_time_off"`
	BookedIntervals []appointment.Interval `json:"booked_intervals"`
	AvailableSlots  []appointment.Slot     `json:"available_slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		HospitalID: a.HospitalID,
		Date:       a.Date.Format(appointment.DateLayout),
		Start:      a.Start.String(),
		End:        a.End.String(),
		Status:     string(a.Status),
		Reason:     a.Reason,
		Notes:      a.Notes,
		Version:    a.Version,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func toAvailabilityResponse(av *appointment.Availability) AvailabilityResponse {
	resp := AvailabilityResponse{
		Date:            av.Date.Format(appointment.DateLayout),
		IsTimeOff:       av.IsTimeOff,
		BookedIntervals: av.BookedIntervals,
		AvailableSlots:  av.AvailableSlots,
	}
	if wh := av.WorkingHours; wh != nil {
		resp.WorkingHours = &appointment.Interval{Start: wh.Start, End: wh.End}
		resp.BreakWindow = wh.Break
	}
	if resp.BookedIntervals == nil {
		resp.BookedIntervals = []appointment.Interval{}
	}
	if resp.AvailableSlots == nil {
		resp.AvailableSlots = []appointment.Slot{}
	}
	return resp
}
