package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleResolver turns a doctor's weekly configuration into the schedule of
// one calendar date.
type ScheduleResolver struct{}

// Resolve reads through q so that it can run inside a booking transaction.
func (ScheduleResolver) Resolve(ctx context.Context, q Queries, doctorID, hospitalID uuid.UUID, date time.Time) (*DaySchedule, error) {
	date = CivilDate(date)

	weekly, err := q.GetWeeklySchedule(ctx, doctorID, hospitalID)
	if err != nil {
		return nil, storageErr("load weekly schedule", err)
	}

	off, err := q.HasTimeOff(ctx, doctorID, hospitalID, date)
	if err != nil {
		return nil, storageErr("load time off", err)
	}

	day := &DaySchedule{
		Date:      date,
		Weekday:   date.Weekday(),
		IsTimeOff: off,
	}
	if hours, ok := weekly.Days[day.Weekday]; ok {
		h := hours
		day.WorkingHours = &h
	}

	return day, nil
}
