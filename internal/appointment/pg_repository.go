package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"

	activeSlotConstraint = "appointments_active_slot_key"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgQueries struct {
	db dbtx
}

type PgRepository struct {
	*pgQueries
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{
		pgQueries: &pgQueries{db: pool},
		pool:      pool,
	}
}

// Helpers

const appointmentColumns = `id, patient_id, doctor_id, hospital_id, date, start_min, end_min,
	status, reason, notes, version, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.HospitalID,
		&a.Date,
		&start,
		&end,
		&a.Status,
		&a.Reason,
		&a.Notes,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Start = Clock(start)
	a.End = Clock(end)
	a.Date = CivilDate(a.Date)
	return &a, nil
}

func scanEvent(row pgx.Row) (*EventLog, error) {
	var ev EventLog
	var appID *uuid.UUID
	var publishedAt *time.Time

	if err := row.Scan(&ev.ID, &ev.EventType, &appID, &ev.Payload, &ev.CreatedAt, &publishedAt); err != nil {
		return nil, err
	}

	ev.AppointmentID = appID
	ev.PublishedAt = publishedAt
	return &ev, nil
}

// translatePgErr maps Postgres conflict codes onto the engine's error kinds.
func translatePgErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
	case pgUniqueViolation:
		if pgErr.ConstraintName == activeSlotConstraint {
			return ErrSlotAlreadyBooked
		}
	}
	return err
}

// Interface methods

func (q *pgQueries) GetWeeklySchedule(ctx context.Context, doctorID, hospitalID uuid.UUID) (*WeeklySchedule, error) {
	rows, err := q.db.Query(ctx, `
		SELECT weekday, start_min, end_min, break_start_min, break_end_min
		FROM working_hours
		WHERE doctor_id = $1 AND hospital_id = $2
		ORDER BY weekday
	`, doctorID, hospitalID)
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()

	ws := &WeeklySchedule{
		DoctorID:   doctorID,
		HospitalID: hospitalID,
		Days:       make(map[time.Weekday]WorkingHours),
	}
	for rows.Next() {
		var weekday, start, end int
		var breakStart, breakEnd *int
		if err := rows.Scan(&weekday, &start, &end, &breakStart, &breakEnd); err != nil {
			return nil, err
		}

		wh := WorkingHours{Start: Clock(start), End: Clock(end)}
		if breakStart != nil && breakEnd != nil {
			wh.Break = &Interval{Start: Clock(*breakStart), End: Clock(*breakEnd)}
		}
		ws.Days[time.Weekday(weekday)] = wh
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgErr(err)
	}

	if len(ws.Days) == 0 {
		return nil, ErrScheduleNotFound
	}
	return ws, nil
}

func (q *pgQueries) HasTimeOff(ctx context.Context, doctorID, hospitalID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM time_off
			WHERE doctor_id = $1 AND hospital_id = $2 AND date = $3
		)
	`, doctorID, hospitalID, CivilDate(date)).Scan(&exists)
	if err != nil {
		return false, translatePgErr(err)
	}
	return exists, nil
}

func (q *pgQueries) LockDoctorDay(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	key := doctorID.String() + ":" + CivilDate(date).Format(DateLayout)
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key)
	if err != nil {
		return translatePgErr(err)
	}
	return nil
}

func (q *pgQueries) ListBookedIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Interval, error) {
	rows, err := q.db.Query(ctx, `
		SELECT start_min, end_min
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status NOT IN ('rejected', 'cancelled')
		ORDER BY start_min
	`, doctorID, CivilDate(date))
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()

	result := make([]Interval, 0)
	for rows.Next() {
		var start, end int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		result = append(result, Interval{Start: Clock(start), End: Clock(end)})
	}
	if err := rows.Err(); err != nil {
		return nil, translatePgErr(err)
	}

	return result, nil
}

func (q *pgQueries) InsertAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, hospital_id, date, start_min, end_min,
		                          status, reason, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, now(), now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.PatientID, appt.DoctorID, appt.HospitalID, CivilDate(appt.Date),
		int(appt.Start), int(appt.End), appt.Status, appt.Reason, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, translatePgErr(err)
	}
	return created, nil
}

func (q *pgQueries) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, translatePgErr(err)
	}
	return appt, nil
}

func (q *pgQueries) UpdateAppointmentStatus(ctx context.Context, upd StatusUpdate) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    notes = $3,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $4
		RETURNING `+appointmentColumns,
		upd.ID, upd.Status, upd.Notes, upd.ExpectedVersion)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("%w: appointment %s changed since version %d", ErrConflict, upd.ID, upd.ExpectedVersion)
	}
	if err != nil {
		return nil, translatePgErr(err)
	}
	return appt, nil
}

func (q *pgQueries) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", translatePgErr(err))
	}

	return nil
}

func (r *PgRepository) InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", translatePgErr(err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgQueries{db: tx}); err != nil {
		return translatePgErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", translatePgErr(err))
	}
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var where []string
	var args []any

	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != nil {
		args = append(args, *f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if f.Date != nil {
		args = append(args, CivilDate(*f.Date))
		where = append(where, fmt.Sprintf("date = $%d", len(args)))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	sql += fmt.Sprintf(` ORDER BY date, start_min, created_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE event_logs
		SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids, at)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
