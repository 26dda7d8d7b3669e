package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type scheduleKey struct {
	doctorID, hospitalID uuid.UUID
}

type timeOffKey struct {
	doctorID, hospitalID uuid.UUID
	date                 string
}

// MemoryRepository keeps everything in process memory. Transactions are
// serialized by a single mutex and rolled back by restoring a snapshot.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			schedules:    make(map[scheduleKey]WeeklySchedule),
			timeOff:      make(map[timeOffKey]TimeOff),
			appointments: make(map[uuid.UUID]Appointment),
		},
	}
}

// PutWeeklySchedule stores or replaces a doctor's weekly hours at a hospital.
func (r *MemoryRepository) PutWeeklySchedule(ws WeeklySchedule) error {
	for day, wh := range ws.Days {
		if err := wh.Validate(); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}

	days := make(map[time.Weekday]WorkingHours, len(ws.Days))
	for day, wh := range ws.Days {
		days[day] = wh
	}
	ws.Days = days

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.schedules[scheduleKey{ws.DoctorID, ws.HospitalID}] = ws
	return nil
}

func (r *MemoryRepository) AddTimeOff(t TimeOff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Date = CivilDate(t.Date)
	r.state.timeOff[timeOffKey{t.DoctorID, t.HospitalID, t.Date.Format(DateLayout)}] = t
}

func (r *MemoryRepository) GetWeeklySchedule(ctx context.Context, doctorID, hospitalID uuid.UUID) (*WeeklySchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetWeeklySchedule(ctx, doctorID, hospitalID)
}

func (r *MemoryRepository) HasTimeOff(ctx context.Context, doctorID, hospitalID uuid.UUID, date time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.HasTimeOff(ctx, doctorID, hospitalID, date)
}

func (r *MemoryRepository) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	return ctx.Err()
}

func (r *MemoryRepository) ListBookedIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Interval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.ListBookedIntervals(ctx, doctorID, date)
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.InsertAppointment(ctx, appt)
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.GetAppointmentByID(ctx, id)
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.UpdateAppointmentStatus(ctx, upd)
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.InsertEvent(ctx, ev)
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := r.state.clone()
	if err := fn(ctx, r.state); err != nil {
		r.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []Appointment
	for _, a := range r.state.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Date != nil && !a.Date.Equal(CivilDate(*f.Date)) {
			continue
		}
		result = append(result, a)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		if result[i].Start != result[j].Start {
			return result[i].Start < result[j].Start
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if f.Offset >= len(result) {
		return nil, nil
	}
	result = result[f.Offset:]
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

func (r *MemoryRepository) ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []EventLog
	for _, ev := range r.state.events {
		if ev.PublishedAt != nil {
			continue
		}
		result = append(result, ev)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *MemoryRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	marked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range r.state.events {
		ev := &r.state.events[i]
		if marked[ev.ID] && ev.PublishedAt == nil {
			t := at
			ev.PublishedAt = &t
		}
	}
	return nil
}

// memState implements Queries without locking; callers hold MemoryRepository.mu.
type memState struct {
	schedules    map[scheduleKey]WeeklySchedule
	timeOff      map[timeOffKey]TimeOff
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64
}

func (s *memState) clone() *memState {
	c := &memState{
		schedules:    s.schedules,
		timeOff:      s.timeOff,
		appointments: make(map[uuid.UUID]Appointment, len(s.appointments)),
		events:       append([]EventLog(nil), s.events...),
		nextEventID:  s.nextEventID,
	}
	for id, a := range s.appointments {
		c.appointments[id] = a
	}
	return c
}

func (s *memState) GetWeeklySchedule(ctx context.Context, doctorID, hospitalID uuid.UUID) (*WeeklySchedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws, ok := s.schedules[scheduleKey{doctorID, hospitalID}]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &ws, nil
}

func (s *memState) HasTimeOff(ctx context.Context, doctorID, hospitalID uuid.UUID, date time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.timeOff[timeOffKey{doctorID, hospitalID, CivilDate(date).Format(DateLayout)}]
	return ok, nil
}

func (s *memState) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	return ctx.Err()
}

func (s *memState) ListBookedIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Interval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	date = CivilDate(date)

	result := make([]Interval, 0)
	for _, a := range s.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Status.Blocking() {
			result = append(result, a.Interval())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start < result[j].Start })
	return result, nil
}

func (s *memState) InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.Date = CivilDate(appt.Date)

	if appt.Status.Blocking() {
		for _, other := range s.appointments {
			if other.DoctorID == appt.DoctorID && other.Date.Equal(appt.Date) &&
				other.Status.Blocking() && other.Interval().Overlaps(appt.Interval()) {
				return nil, ErrSlotAlreadyBooked
			}
		}
	}

	now := time.Now().UTC()
	appt.Version = 1
	appt.CreatedAt = now
	appt.UpdatedAt = now
	s.appointments[appt.ID] = appt
	return &appt, nil
}

func (s *memState) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *memState) UpdateAppointmentStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.appointments[upd.ID]
	if !ok || a.Version != upd.ExpectedVersion {
		return nil, fmt.Errorf("%w: appointment %s changed since version %d", ErrConflict, upd.ID, upd.ExpectedVersion)
	}

	a.Status = upd.Status
	a.Notes = upd.Notes
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	s.appointments[a.ID] = a
	return &a, nil
}

func (s *memState) InsertEvent(ctx context.Context, ev EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.nextEventID++
	ev.ID = s.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}
