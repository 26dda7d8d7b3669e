package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hackgods/clinic-booking-engine/internal/config"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
)

type fixture struct {
	svc        *Service
	repo       *MemoryRepository
	doctorID   uuid.UUID
	hospitalID uuid.UUID
	monday     time.Time
	dayOff     time.Time
	sunday     time.Time
}

func testConfig() config.Config {
	return config.Config{
		SlotGranularity:   30 * time.Minute,
		StorageTimeout:    time.Second,
		BookingMaxRetries: 3,
		SlotCacheSize:     64,
	}
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	f := &fixture{
		repo:       NewMemoryRepository(),
		doctorID:   uuid.New(),
		hospitalID: uuid.New(),
		monday:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		dayOff:     time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		sunday:     time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, f.repo.PutWeeklySchedule(WeeklySchedule{
		DoctorID:   f.doctorID,
		HospitalID: f.hospitalID,
		Days: map[time.Weekday]WorkingHours{
			time.Monday: {
				Start: NewClock(9, 0),
				End:   NewClock(17, 0),
				Break: &Interval{Start: NewClock(12, 0), End: NewClock(13, 0)},
			},
			time.Tuesday: {Start: NewClock(9, 0), End: NewClock(12, 0)},
		},
	}))
	f.repo.AddTimeOff(TimeOff{DoctorID: f.doctorID, HospitalID: f.hospitalID, Date: f.dayOff, Reason: "conference"})

	f.svc = NewService(f.repo, locker, testConfig(), zaptest.NewLogger(t))
	return f
}

func (f *fixture) booking(start Clock) BookingRequest {
	return BookingRequest{
		PatientID:  uuid.New(),
		DoctorID:   f.doctorID,
		HospitalID: f.hospitalID,
		Date:       f.monday,
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Reason:     "checkup",
	}
}

func (f *fixture) book(t *testing.T, start Clock) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), f.booking(start))
	require.NoError(t, err)
	return appt
}

func TestService_GetAvailability(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	av, err := f.svc.GetAvailability(context.Background(), f.doctorID, f.hospitalID, f.monday)
	require.NoError(t, err)

	assert.False(t, av.IsTimeOff)
	require.NotNil(t, av.WorkingHours)
	assert.Empty(t, av.BookedIntervals)
	assert.Len(t, av.AvailableSlots, 14)
	assert.Equal(t, Slot{Start: NewClock(9, 0), End: NewClock(9, 30)}, av.AvailableSlots[0])
}

func TestService_GetAvailability_NoHoursOrDayOff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	av, err := f.svc.GetAvailability(context.Background(), f.doctorID, f.hospitalID, f.sunday)
	require.NoError(t, err)
	assert.Nil(t, av.WorkingHours)
	assert.Empty(t, av.AvailableSlots)

	av, err = f.svc.GetAvailability(context.Background(), f.doctorID, f.hospitalID, f.dayOff)
	require.NoError(t, err)
	assert.True(t, av.IsTimeOff)
	assert.Empty(t, av.AvailableSlots)
}

func TestService_GetAvailability_UnknownSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.svc.GetAvailability(context.Background(), uuid.New(), f.hospitalID, f.monday)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestService_CreateAppointment(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	req := f.booking(NewClock(10, 0))
	appt, err := f.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, 1, appt.Version)
	assert.Equal(t, req.PatientID, appt.PatientID)
	assert.Equal(t, f.monday, appt.Date)

	av, err := f.svc.GetAvailability(ctx, f.doctorID, f.hospitalID, f.monday)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Start: NewClock(10, 0), End: NewClock(10, 30)}}, av.BookedIntervals)
	assert.NotContains(t, av.AvailableSlots, Slot{Start: NewClock(10, 0), End: NewClock(10, 30)})
	assert.Len(t, av.AvailableSlots, 13)

	events, err := f.repo.ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentCreated, events[0].EventType)
	require.NotNil(t, events[0].AppointmentID)
	assert.Equal(t, appt.ID, *events[0].AppointmentID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "10:00", payload["start"])
	assert.Equal(t, "pending", payload["status"])
}

func TestService_CreateAppointment_LastSlotBeforeMidnight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	end, err := ParseClock("24:00")
	require.NoError(t, err)
	require.NoError(t, f.repo.PutWeeklySchedule(WeeklySchedule{
		DoctorID:   f.doctorID,
		HospitalID: f.hospitalID,
		Days: map[time.Weekday]WorkingHours{
			time.Wednesday: {Start: NewClock(22, 0), End: end},
		},
	}))
	wednesday := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	av, err := f.svc.GetAvailability(ctx, f.doctorID, f.hospitalID, wednesday)
	require.NoError(t, err)
	require.Len(t, av.AvailableSlots, 4)
	last := Slot{Start: NewClock(23, 30), End: end}
	assert.Equal(t, last, av.AvailableSlots[3])

	req := f.booking(last.Start)
	req.Date = wednesday
	req.End = last.End
	appt, err := f.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "24:00", appt.End.String())
}

func TestService_CreateAppointment_InvalidRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		name       string
		date       time.Time
		start, end Clock
	}{
		{"end before start", f.monday, NewClock(10, 30), NewClock(10, 0)},
		{"empty", f.monday, NewClock(10, 0), NewClock(10, 0)},
		{"too wide", f.monday, NewClock(10, 0), NewClock(11, 0)},
		{"too narrow", f.monday, NewClock(10, 0), NewClock(10, 15)},
		{"past midnight", f.monday, NewClock(23, 45), NewClock(24, 15)},
		{"off grid", f.monday, NewClock(9, 15), NewClock(9, 45)},
		{"off grid before hours", f.monday, NewClock(8, 15), NewClock(8, 45)},
		{"off grid on time off", f.dayOff, NewClock(9, 15), NewClock(9, 45)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.booking(tt.start)
			req.Date = tt.date
			req.End = tt.end
			_, err := f.svc.CreateAppointment(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRange)
			assert.Equal(t, KindInvalidRange, KindOf(err))
		})
	}
}

func TestService_CreateAppointment_SlotUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.book(t, NewClock(10, 0))

	tests := []struct {
		name    string
		mutate  func(*BookingRequest)
		wantErr error
	}{
		{"already booked", func(r *BookingRequest) { r.Start, r.End = NewClock(10, 0), NewClock(10, 30) }, ErrSlotAlreadyBooked},
		{"break", func(r *BookingRequest) { r.Start, r.End = NewClock(12, 0), NewClock(12, 30) }, ErrDuringBreak},
		{"before hours", func(r *BookingRequest) { r.Start, r.End = NewClock(8, 30), NewClock(9, 0) }, ErrOutsideHours},
		{"day without hours", func(r *BookingRequest) { r.Date = f.sunday }, ErrOutsideHours},
		{"time off", func(r *BookingRequest) { r.Date = f.dayOff }, ErrDayOff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.booking(NewClock(14, 0))
			tt.mutate(&req)
			_, err := f.svc.CreateAppointment(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindSlotUnavailable, KindOf(err))
		})
	}
}

func TestService_CreateAppointment_UnknownSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	req := f.booking(NewClock(10, 0))
	req.HospitalID = uuid.New()
	_, err := f.svc.CreateAppointment(context.Background(), req)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestService_CreateAppointment_ConcurrentRequestsBookOnce(t *testing.T) {
	t.Parallel()

	lockers := map[string]redisclient.Locker{
		"storage only": redisclient.NopLocker{},
		"local lock":   redisclient.NewLocalLocker(),
	}

	for name, locker := range lockers {
		locker := locker // per-iteration copy (pre-Go 1.22 loopvar semantics)
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, locker)

			const contenders = 25
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				wins    int
				other   []error
				startCh = make(chan struct{})
			)

			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-startCh
					_, err := f.svc.CreateAppointment(context.Background(), f.booking(NewClock(11, 0)))
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
						return
					}
					if KindOf(err) != KindSlotUnavailable {
						other = append(other, err)
					}
				}()
			}
			close(startCh)
			wg.Wait()

			assert.Equal(t, 1, wins)
			assert.Empty(t, other)

			appts, err := f.repo.ListAppointments(context.Background(), ListFilter{DoctorID: &f.doctorID})
			require.NoError(t, err)
			assert.Len(t, appts, 1)
		})
	}
}

// stallingRepository blocks its first transaction until released, then fails it.
type stallingRepository struct {
	*MemoryRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *stallingRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
		return errors.New("connection reset by peer")
	}
	return r.MemoryRepository.InTx(ctx, fn)
}

func TestService_CreateAppointment_WaiterBooksAfterHolderFails(t *testing.T) {
	t.Parallel()

	locker := redisclient.NewLocalLocker()
	f := newFixture(t, nil)
	stalling := &stallingRepository{
		MemoryRepository: f.repo,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	svc := NewService(stalling, locker, testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	holderErr := make(chan error, 1)
	go func() {
		_, err := svc.CreateAppointment(ctx, f.booking(NewClock(9, 0)))
		holderErr <- err
	}()
	<-stalling.entered

	waiter := f.booking(NewClock(9, 0))
	type result struct {
		appt *Appointment
		err  error
	}
	waiterDone := make(chan result, 1)
	go func() {
		appt, err := svc.CreateAppointment(ctx, waiter)
		waiterDone <- result{appt, err}
	}()

	select {
	case r := <-waiterDone:
		t.Fatalf("waiter answered while the holder was still running: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	close(stalling.release)

	err := <-holderErr
	assert.Equal(t, KindStorage, KindOf(err))

	r := <-waiterDone
	require.NoError(t, r.err)
	assert.Equal(t, waiter.PatientID, r.appt.PatientID)

	av, err := svc.GetAvailability(ctx, f.doctorID, f.hospitalID, f.monday)
	require.NoError(t, err)
	assert.NotContains(t, av.AvailableSlots, Slot{Start: NewClock(9, 0), End: NewClock(9, 30)})
}

func TestService_CreateAppointment_LockWaitTimeoutIsStorageError(t *testing.T) {
	t.Parallel()

	locker := redisclient.NewLocalLocker()
	f := newFixture(t, nil)
	cfg := testConfig()
	cfg.StorageTimeout = 50 * time.Millisecond
	svc := NewService(f.repo, locker, cfg, zaptest.NewLogger(t))
	req := f.booking(NewClock(9, 0))

	key := redisclient.SlotKey(req.DoctorID, req.Date.Format(DateLayout), int(req.Start))
	err := locker.WithSlotLock(context.Background(), key, func(context.Context) error {
		_, err := svc.CreateAppointment(context.Background(), req)
		return err
	})

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, Retryable(err))

	// nothing was booked, so the slot is still offered
	av, err := svc.GetAvailability(context.Background(), f.doctorID, f.hospitalID, f.monday)
	require.NoError(t, err)
	assert.Contains(t, av.AvailableSlots, Slot{Start: NewClock(9, 0), End: NewClock(9, 30)})
}

func TestService_CancelledAppointmentFreesSlot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	appt := f.book(t, NewClock(15, 0))

	_, err := f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{ID: appt.PatientID, Role: RolePatient},
		NewStatus:     StatusCancelled,
		Version:       appt.Version,
	})
	require.NoError(t, err)

	av, err := f.svc.GetAvailability(ctx, f.doctorID, f.hospitalID, f.monday)
	require.NoError(t, err)
	assert.Contains(t, av.AvailableSlots, Slot{Start: NewClock(15, 0), End: NewClock(15, 30)})

	f.book(t, NewClock(15, 0))
}

func TestService_TransitionStatus_StaleVersionConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	appt := f.book(t, NewClock(9, 30))

	confirmed, err := f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{ID: f.doctorID, Role: RoleDoctor},
		NewStatus:     StatusConfirmed,
		Version:       appt.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, 2, confirmed.Version)

	_, err = f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{ID: appt.PatientID, Role: RolePatient},
		NewStatus:     StatusCancelled,
		Version:       appt.Version,
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindConflict, KindOf(err))

	current, err := f.svc.GetAppointment(ctx, appt.ID, Requester{Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, current.Status)
}

func TestService_TransitionStatus_PatientCannotConfirm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	appt := f.book(t, NewClock(9, 30))
	_, err := f.svc.TransitionStatus(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{ID: appt.PatientID, Role: RolePatient},
		NewStatus:     StatusConfirmed,
		Version:       appt.Version,
	})

	assert.ErrorIs(t, err, ErrForbidden)
}

func TestService_TransitionStatus_NotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	_, err := f.svc.TransitionStatus(context.Background(), TransitionRequest{
		AppointmentID: uuid.New(),
		Requester:     Requester{Role: RoleAdmin},
		NewStatus:     StatusCancelled,
		Version:       1,
	})

	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestService_TransitionStatus_LifecycleAndNotes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()
	doctor := Requester{ID: f.doctorID, Role: RoleDoctor}

	appt := f.book(t, NewClock(16, 0))
	first, second := "bring lab results", "follow up in 6 weeks"

	confirmed, err := f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID, Requester: doctor, NewStatus: StatusConfirmed, Notes: &first, Version: 1,
	})
	require.NoError(t, err)

	completed, err := f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID, Requester: doctor, NewStatus: StatusCompleted, Notes: &second, Version: confirmed.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.Equal(t, 3, completed.Version)
	assert.Equal(t, first+"\n"+second, completed.Notes)

	// completed is terminal
	_, err = f.svc.TransitionStatus(ctx, TransitionRequest{
		AppointmentID: appt.ID, Requester: Requester{Role: RoleAdmin}, NewStatus: StatusCancelled, Version: completed.Version,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	events, err := f.repo.ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventAppointmentStatusChanged, events[2].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[2].Payload, &payload))
	assert.Equal(t, "confirmed", payload["from"])
	assert.Equal(t, "completed", payload["to"])
}

func TestService_TransitionStatus_UnknownRole(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	appt := f.book(t, NewClock(9, 0))
	_, err := f.svc.TransitionStatus(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{ID: appt.PatientID, Role: Role("nurse")},
		NewStatus:     StatusCancelled,
		Version:       1,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestService_GetAppointment_Visibility(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	appt := f.book(t, NewClock(9, 0))

	_, err := f.svc.GetAppointment(ctx, appt.ID, Requester{ID: appt.PatientID, Role: RolePatient})
	assert.NoError(t, err)
	_, err = f.svc.GetAppointment(ctx, appt.ID, Requester{ID: f.doctorID, Role: RoleDoctor})
	assert.NoError(t, err)
	_, err = f.svc.GetAppointment(ctx, appt.ID, Requester{ID: uuid.New(), Role: RolePatient})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetAppointment(ctx, uuid.New(), Requester{Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_ListAppointments_ScopedToRequester(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	mine := f.book(t, NewClock(9, 0))
	f.book(t, NewClock(9, 30))
	f.book(t, NewClock(10, 0))

	// a patient asking for someone else's appointments still only sees their own
	other := uuid.New()
	got, err := f.svc.ListAppointments(ctx, Requester{ID: mine.PatientID, Role: RolePatient}, ListFilter{PatientID: &other})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	got, err = f.svc.ListAppointments(ctx, Requester{ID: f.doctorID, Role: RoleDoctor}, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.svc.ListAppointments(ctx, Requester{Role: RoleAdmin}, ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, NewClock(9, 30), got[0].Start)
}

func TestService_CancelledContextIsStorageError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CreateAppointment(ctx, f.booking(NewClock(9, 0)))
	assert.ErrorIs(t, err, ErrStorage)
	assert.True(t, Retryable(err))

	_, err = f.svc.GetAvailability(ctx, f.doctorID, f.hospitalID, f.monday)
	assert.Equal(t, KindStorage, KindOf(err))
}

// flakyRepository fails the first n transactions with a serialization error.
type flakyRepository struct {
	*MemoryRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()

	if fail {
		return ErrSerialization
	}
	return r.MemoryRepository.InTx(ctx, fn)
}

func TestService_CreateAppointment_RetriesSerializationFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	flaky := &flakyRepository{MemoryRepository: f.repo, failures: 2}
	svc := NewService(flaky, nil, testConfig(), zaptest.NewLogger(t))

	appt, err := svc.CreateAppointment(context.Background(), f.booking(NewClock(9, 0)))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, 3, flaky.calls)
}

func TestService_CreateAppointment_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	flaky := &flakyRepository{MemoryRepository: f.repo, failures: 10}
	svc := NewService(flaky, nil, testConfig(), zaptest.NewLogger(t))

	_, err := svc.CreateAppointment(context.Background(), f.booking(NewClock(9, 0)))
	assert.ErrorIs(t, err, ErrSerialization)
	assert.Equal(t, KindStorage, KindOf(err))
	assert.Equal(t, 4, flaky.calls)
}

func TestService_TransitionStatus_SerializationIsConflict(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	appt := f.book(t, NewClock(9, 0))

	flaky := &flakyRepository{MemoryRepository: f.repo, failures: 1}
	svc := NewService(flaky, nil, testConfig(), zaptest.NewLogger(t))

	_, err := svc.TransitionStatus(context.Background(), TransitionRequest{
		AppointmentID: appt.ID,
		Requester:     Requester{Role: RoleAdmin},
		NewStatus:     StatusConfirmed,
		Version:       1,
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, flaky.calls)
}

type recordingPublisher struct {
	published []EventLog
	failAt    int
}

func (p *recordingPublisher) Publish(_ context.Context, ev EventLog) error {
	if p.failAt > 0 && len(p.published)+1 == p.failAt {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, ev)
	return nil
}

func TestService_RelayEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.book(t, NewClock(9, 0))
	f.book(t, NewClock(9, 30))
	f.book(t, NewClock(10, 0))

	failing := &recordingPublisher{failAt: 2}
	n, err := f.svc.RelayEvents(ctx, failing, 10)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := f.repo.ListUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	pub := &recordingPublisher{}
	n, err = f.svc.RelayEvents(ctx, pub, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Less(t, pub.published[0].ID, pub.published[1].ID)

	n, err = f.svc.RelayEvents(ctx, pub, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
