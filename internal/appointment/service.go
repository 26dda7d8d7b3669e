package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-engine/internal/config"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

type BookingRequest struct {
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	HospitalID uuid.UUID
	Date       time.Time
	Start      Clock
	End        Clock
	Reason     string
}

type TransitionRequest struct {
	AppointmentID uuid.UUID
	Requester     Requester
	NewStatus     AppointmentStatus
	Notes         *string
	// Version is the appointment version the requester last read.
	Version int
}

// EventPublisher delivers outbox events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, ev EventLog) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	resolver ScheduleResolver
	cache    *SlotCache
	cfg      config.Config
	log      *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	if locker == nil {
		locker = redisclient.NopLocker{}
	}
	if cfg.SlotGranularity == 0 {
		cfg.SlotGranularity = DefaultGranularity
	}
	if cfg.StorageTimeout == 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	var cache *SlotCache
	if cfg.SlotCacheSize > 0 {
		c, err := NewSlotCache(cfg.SlotCacheSize)
		if err != nil {
			log.Warn("slot cache disabled", zap.Error(err))
		} else {
			cache = c
		}
	}

	return &Service{
		repo:   repo,
		locker: locker,
		cache:  cache,
		cfg:    cfg,
		log:    log.Named("appointment"),
	}
}

func (s *Service) Granularity() time.Duration {
	return s.cfg.SlotGranularity
}

// GetAvailability computes the free slots of a doctor at a hospital on date.
// It reads a point-in-time snapshot and takes no locks; a slot reported free
// may be taken before the caller books it.
func (s *Service) GetAvailability(ctx context.Context, doctorID, hospitalID uuid.UUID, date time.Time) (*Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	day, err := s.resolver.Resolve(ctx, s.repo, doctorID, hospitalID, date)
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.ListBookedIntervals(ctx, doctorID, day.Date)
	if err != nil {
		return nil, storageErr("list booked intervals", err)
	}

	return &Availability{
		Date:            day.Date,
		WorkingHours:    day.WorkingHours,
		IsTimeOff:       day.IsTimeOff,
		BookedIntervals: booked,
		AvailableSlots:  s.cache.Compute(day.WorkingHours, booked, day.IsTimeOff, s.cfg.SlotGranularity),
	}, nil
}

// CreateAppointment books a single slot for a patient.
// Concurrent requests for the same slot wait on the slot lock. Each one then
// re-validates against a fresh read taken after the doctor-day lock, so exactly
// one succeeds and the rest get ErrSlotUnavailable from storage. A request that
// gives up waiting fails with ErrStorage.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := s.validateRange(req.Start, req.End); err != nil {
		return nil, err
	}
	req.Date = CivilDate(req.Date)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	var created *Appointment
	key := redisclient.SlotKey(req.DoctorID, req.Date.Format(DateLayout), int(req.Start))

	err := s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		for attempt := 0; ; attempt++ {
			appt, err := s.bookOnce(lockCtx, req)
			if err == nil {
				created = appt
				return nil
			}
			if !errors.Is(err, ErrSerialization) || attempt >= s.cfg.BookingMaxRetries {
				return err
			}
			s.log.Warn("booking transaction aborted by a concurrent one, retrying",
				zap.String("doctor_id", req.DoctorID.String()),
				zap.String("date", req.Date.Format(DateLayout)),
				zap.Stringer("start", req.Start),
				zap.Int("attempt", attempt+1),
			)
		}
	})

	if err != nil {
		return nil, storageErr("create appointment", err)
	}

	s.log.Info("appointment created",
		zap.String("appointment_id", created.ID.String()),
		zap.String("doctor_id", created.DoctorID.String()),
		zap.String("date", created.Date.Format(DateLayout)),
		zap.Stringer("start", created.Start),
	)
	return created, nil
}

func (s *Service) validateRange(start, end Clock) error {
	if start < 0 || end > minutesPerDay {
		return fmt.Errorf("%w: %s-%s is outside the day", ErrInvalidRange, start, end)
	}
	if end <= start {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalidRange, end, start)
	}
	if width := time.Duration(end-start) * time.Minute; width != s.cfg.SlotGranularity {
		return fmt.Errorf("%w: %s-%s is %s wide, slots are %s", ErrInvalidRange, start, end, width, s.cfg.SlotGranularity)
	}
	return nil
}

func (s *Service) bookOnce(ctx context.Context, req BookingRequest) (*Appointment, error) {
	var created *Appointment

	err := s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		if err := q.LockDoctorDay(ctx, req.DoctorID, req.Date); err != nil {
			return fmt.Errorf("lock doctor day: %w", err)
		}

		// Inside the transaction re-resolve the schedule and re-read bookings
		day, err := s.resolver.Resolve(ctx, q, req.DoctorID, req.HospitalID, req.Date)
		if err != nil {
			return err
		}
		booked, err := q.ListBookedIntervals(ctx, req.DoctorID, req.Date)
		if err != nil {
			return fmt.Errorf("list booked intervals: %w", err)
		}

		if err := checkSlot(day, Interval{Start: req.Start, End: req.End}, booked, s.cfg.SlotGranularity); err != nil {
			return err
		}

		appt, err := q.InsertAppointment(ctx, Appointment{
			PatientID:  req.PatientID,
			DoctorID:   req.DoctorID,
			HospitalID: req.HospitalID,
			Date:       req.Date,
			Start:      req.Start,
			End:        req.End,
			Status:     StatusPending,
			Reason:     req.Reason,
		})
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}

		ev, err := newEvent(appt.ID, EventAppointmentCreated, map[string]any{
			"patient_id":  appt.PatientID.String(),
			"doctor_id":   appt.DoctorID.String(),
			"hospital_id": appt.HospitalID.String(),
			"date":        appt.Date.Format(DateLayout),
			"start":       appt.Start.String(),
			"end":         appt.End.String(),
			"status":      appt.Status,
		})
		if err != nil {
			return err
		}
		if err := q.InsertEvent(ctx, ev); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TransitionStatus applies a status change requested by req.Requester.
// It never retries: a Conflict means the caller must re-fetch and decide again.
func (s *Service) TransitionStatus(ctx context.Context, req TransitionRequest) (*Appointment, error) {
	if !req.Requester.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, req.Requester.Role)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	var from AppointmentStatus
	var updated *Appointment

	err := s.repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		current, err := q.GetAppointmentByID(ctx, req.AppointmentID)
		if err != nil {
			return err
		}

		next, err := Transition(*current, req.Requester, req.Version, req.NewStatus, req.Notes)
		if err != nil {
			return err
		}

		appt, err := q.UpdateAppointmentStatus(ctx, StatusUpdate{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			Status:          next.Status,
			Notes:           next.Notes,
		})
		if err != nil {
			return err
		}

		ev, err := newEvent(appt.ID, EventAppointmentStatusChanged, map[string]any{
			"from":           current.Status,
			"to":             appt.Status,
			"version":        appt.Version,
			"requester_id":   req.Requester.ID.String(),
			"requester_role": req.Requester.Role,
		})
		if err != nil {
			return err
		}
		if err := q.InsertEvent(ctx, ev); err != nil {
			return err
		}

		from = current.Status
		updated = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return nil, fmt.Errorf("%w: appointment %s was modified concurrently", ErrConflict, req.AppointmentID)
		}
		return nil, storageErr("transition appointment", err)
	}

	s.log.Info("appointment status changed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.Int("version", updated.Version),
		zap.String("requester_role", string(req.Requester.Role)),
	)
	return updated, nil
}

// GetAppointment returns an appointment the requester is allowed to see.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID, who Requester) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	if err := authorizeActor(appt, who); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListAppointments lists appointments visible to the requester. Patients and
// doctors are always scoped to their own appointments.
func (s *Service) ListAppointments(ctx context.Context, who Requester, f ListFilter) ([]Appointment, error) {
	switch who.Role {
	case RolePatient:
		f.PatientID = &who.ID
	case RoleDoctor:
		f.DoctorID = &who.ID
	case RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrForbidden, who.Role)
	}

	f = f.WithDefaults()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, storageErr("list appointments", err)
	}
	return appts, nil
}

// RelayEvents is intended to be called by the event relay periodically. It
// publishes unpublished outbox events in order and stops at the first failure.
func (s *Service) RelayEvents(ctx context.Context, pub EventPublisher, batch int) (int, error) {
	events, err := s.repo.ListUnpublishedEvents(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}

	var published []int64
	var pubErr error
	for _, ev := range events {
		if err := pub.Publish(ctx, ev); err != nil {
			pubErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		published = append(published, ev.ID)
	}

	if err := s.repo.MarkEventsPublished(ctx, published, time.Now().UTC()); err != nil {
		return 0, err
	}

	return len(published), pubErr
}

func newEvent(appointmentID uuid.UUID, eventType string, payload map[string]any) (EventLog, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventLog{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID

	return EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
