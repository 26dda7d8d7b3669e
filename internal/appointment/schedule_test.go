package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleResolver_Resolve(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	doctorID, hospitalID := uuid.New(), uuid.New()
	require.NoError(t, repo.PutWeeklySchedule(WeeklySchedule{
		DoctorID:   doctorID,
		HospitalID: hospitalID,
		Days: map[time.Weekday]WorkingHours{
			time.Wednesday: {Start: NewClock(8, 0), End: NewClock(14, 0)},
		},
	}))
	repo.AddTimeOff(TimeOff{DoctorID: doctorID, HospitalID: hospitalID, Date: time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC)})

	var resolver ScheduleResolver
	ctx := context.Background()

	t.Run("working day", func(t *testing.T) {
		day, err := resolver.Resolve(ctx, repo, doctorID, hospitalID, time.Date(2025, 3, 12, 16, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), day.Date)
		assert.Equal(t, time.Wednesday, day.Weekday)
		require.NotNil(t, day.WorkingHours)
		assert.Equal(t, NewClock(8, 0), day.WorkingHours.Start)
		assert.False(t, day.IsTimeOff)
	})

	t.Run("weekday without hours", func(t *testing.T) {
		day, err := resolver.Resolve(ctx, repo, doctorID, hospitalID, time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Nil(t, day.WorkingHours)
	})

	t.Run("time off keeps hours", func(t *testing.T) {
		day, err := resolver.Resolve(ctx, repo, doctorID, hospitalID, time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, day.IsTimeOff)
		assert.NotNil(t, day.WorkingHours)
	})

	t.Run("other hospital", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, repo, doctorID, uuid.New(), time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC))
		assert.ErrorIs(t, err, ErrScheduleNotFound)
	})
}

func TestMemoryRepository_RejectsInvalidSchedule(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	err := repo.PutWeeklySchedule(WeeklySchedule{
		DoctorID:   uuid.New(),
		HospitalID: uuid.New(),
		Days: map[time.Weekday]WorkingHours{
			time.Monday: {Start: NewClock(17, 0), End: NewClock(9, 0)},
		},
	})
	assert.Error(t, err)
}

func TestMemoryRepository_InTxRollsBack(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	err := repo.InTx(ctx, func(ctx context.Context, q Queries) error {
		_, err := q.InsertAppointment(ctx, Appointment{
			DoctorID: doctorID,
			Date:     time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			Start:    NewClock(9, 0),
			End:      NewClock(9, 30),
			Status:   StatusPending,
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	booked, err := repo.ListBookedIntervals(ctx, doctorID, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, booked)
}
