package appointment

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_ParseAndFormat(t *testing.T) {
	t.Parallel()

	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewClock(9, 30), c)
	assert.Equal(t, "09:30", c.String())
	assert.Equal(t, NewClock(10, 0), c.Add(30*time.Minute))

	_, err = ParseClock("9.30")
	assert.Error(t, err)
	_, err = ParseClock("25:00")
	assert.Error(t, err)
	_, err = ParseClock("24:30")
	assert.Error(t, err)
}

func TestClock_EndOfDay(t *testing.T) {
	t.Parallel()

	c, err := ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, Clock(minutesPerDay), c)
	assert.Equal(t, "24:00", c.String())

	var iv Interval
	require.NoError(t, json.Unmarshal([]byte(`{"start":"23:30","end":"24:00"}`), &iv))
	assert.Equal(t, Interval{Start: NewClock(23, 30), End: NewClock(24, 0)}, iv)

	wh := WorkingHours{Start: NewClock(18, 0), End: c}
	assert.NoError(t, wh.Validate())
}

func TestClock_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Interval{Start: NewClock(8, 0), End: NewClock(8, 30)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"08:00","end":"08:30"}`, string(data))

	var iv Interval
	require.NoError(t, json.Unmarshal([]byte(`{"start":"13:15","end":"13:45"}`), &iv))
	assert.Equal(t, Interval{Start: NewClock(13, 15), End: NewClock(13, 45)}, iv)
}

func TestInterval_Overlaps(t *testing.T) {
	t.Parallel()

	base := Interval{Start: NewClock(10, 0), End: NewClock(11, 0)}

	assert.True(t, base.Overlaps(Interval{NewClock(10, 30), NewClock(11, 30)}))
	assert.True(t, base.Overlaps(Interval{NewClock(9, 0), NewClock(12, 0)}))
	assert.False(t, base.Overlaps(Interval{NewClock(11, 0), NewClock(11, 30)}))
	assert.False(t, base.Overlaps(Interval{NewClock(9, 30), NewClock(10, 0)}))
}

func TestWorkingHours_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hours   WorkingHours
		wantErr bool
	}{
		{"plain", WorkingHours{Start: NewClock(9, 0), End: NewClock(17, 0)}, false},
		{"with break", WorkingHours{Start: NewClock(9, 0), End: NewClock(17, 0), Break: &Interval{NewClock(12, 0), NewClock(13, 0)}}, false},
		{"inverted", WorkingHours{Start: NewClock(17, 0), End: NewClock(9, 0)}, true},
		{"empty", WorkingHours{Start: NewClock(9, 0), End: NewClock(9, 0)}, true},
		{"past midnight", WorkingHours{Start: NewClock(20, 0), End: NewClock(25, 0)}, true},
		{"break outside", WorkingHours{Start: NewClock(9, 0), End: NewClock(17, 0), Break: &Interval{NewClock(16, 30), NewClock(17, 30)}}, true},
		{"empty break", WorkingHours{Start: NewClock(9, 0), End: NewClock(17, 0), Break: &Interval{NewClock(12, 0), NewClock(12, 0)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.hours.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAppointmentStatus_Classes(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())

	assert.True(t, StatusPending.Blocking())
	assert.True(t, StatusCompleted.Blocking())
	assert.False(t, StatusRejected.Blocking())
	assert.False(t, StatusCancelled.Blocking())

	assert.False(t, AppointmentStatus("archived").Valid())
}

func TestCivilDate_DropsClock(t *testing.T) {
	t.Parallel()

	got := CivilDate(time.Date(2025, 3, 10, 15, 45, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), got)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindNotFound, KindOf(ErrScheduleNotFound))
	assert.Equal(t, KindSlotUnavailable, KindOf(ErrDuringBreak))
	assert.Equal(t, KindStorage, KindOf(ErrSerialization))
	assert.Equal(t, KindStorage, KindOf(assert.AnError))
	assert.True(t, Retryable(ErrSerialization))
	assert.False(t, Retryable(ErrConflict))
}
