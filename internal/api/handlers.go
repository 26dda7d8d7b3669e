package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor id must be a valid UUID")
			return
		}

		hospitalID, err := uuid.Parse(chi.URLParam(r, "hospitalID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hospital_id", "hospital id must be a valid UUID")
			return
		}

		date, err := appointment.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		av, err := svc.GetAvailability(r.Context(), doctorID, hospitalID, date)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(av))
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, _ := GetRequester(r.Context())
		if who.Role != appointment.RolePatient {
			writeError(w, http.StatusForbidden, "forbidden", "only patients can book appointments")
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		hospitalID, err := uuid.Parse(req.HospitalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hospital_id", "hospital_id must be a valid UUID")
			return
		}

		date, err := appointment.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		start, err := appointment.ParseClock(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "start must be HH:MM")
			return
		}

		end, err := appointment.ParseClock(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_range", "end must be HH:MM")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.BookingRequest{
			PatientID:  who.ID,
			DoctorID:   doctorID,
			HospitalID: hospitalID,
			Date:       date,
			Start:      start,
			End:        end,
			Reason:     req.Reason,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func updateStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Version == nil {
			writeError(w, http.StatusBadRequest, "missing_version", "version of the appointment last read is required")
			return
		}

		who, _ := GetRequester(r.Context())
		appt, err := svc.TransitionStatus(r.Context(), appointment.TransitionRequest{
			AppointmentID: id,
			Requester:     who,
			NewStatus:     appointment.AppointmentStatus(req.Status),
			Notes:         req.Notes,
			Version:       *req.Version,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		who, _ := GetRequester(r.Context())
		appt, err := svc.GetAppointment(r.Context(), id, who)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.ListFilter

		if v := q.Get("patient_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			f.PatientID = &id
		}
		if v := q.Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = &id
		}
		if v := q.Get("date"); v != "" {
			d, err := appointment.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			f.Date = &d
		}
		var err error
		if f.Limit, err = pageParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pagination", "limit must be a non-negative integer")
			return
		}
		if f.Offset, err = pageParam(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pagination", "offset must be a non-negative integer")
			return
		}
		f = f.WithDefaults()

		who, _ := GetRequester(r.Context())
		appts, err := svc.ListAppointments(r.Context(), who, f)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := AppointmentListResponse{
			Appointments: make([]AppointmentResponse, 0, len(appts)),
			Limit:        f.Limit,
			Offset:       f.Offset,
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// handleServiceError maps each error kind to a stable status and code so
// clients can render it without matching on message text.
func handleServiceError(w http.ResponseWriter, err error) {
	switch appointment.KindOf(err) {
	case appointment.KindNotFound:
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case appointment.KindInvalidRange:
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case appointment.KindSlotUnavailable:
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case appointment.KindForbidden:
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case appointment.KindInvalidTransition:
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case appointment.KindConflict:
		writeError(w, http.StatusConflict, "version_conflict", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "storage_error", "temporary storage failure, please retry")
	}
}

// pageParam parses an optional non-negative query integer. Empty means zero.
func pageParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
