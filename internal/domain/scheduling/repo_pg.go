package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telemed/telemed/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// pgDate converts a civil date to the value pgx encodes as a DATE.
func pgDate(d Date) time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }

func fromPGDate(t time.Time) Date { return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()} }

func occupyingStrings() []string {
	out := make([]string, len(OccupyingStatuses))
	for i, s := range OccupyingStatuses {
		out[i] = string(s)
	}
	return out
}

// isSlotViolation reports unique (23505) and exclusion (23P01) violations.
func isSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23P01"
	}
	return false
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) GetByDoctor(ctx context.Context, doctorID uuid.UUID) (*ScheduleConfiguration, error) {
	q := connFor(ctx, r.pool)
	cfg := ScheduleConfiguration{DoctorID: doctorID}
	err := q.QueryRow(ctx, `
		SELECT consultation_duration_minutes, weekly_schedule,
			allow_booking_days_in_advance_max, min_advance_booking_hours, updated_at
		FROM schedule_configurations WHERE doctor_id = $1`, doctorID).
		Scan(&cfg.ConsultationDurationMinutes, &cfg.WeeklySchedule,
			&cfg.AllowBookingDaysInAdvanceMax, &cfg.MinAdvanceBookingHours, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT date, reason FROM schedule_blocked_dates WHERE doctor_id = $1 ORDER BY date`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("get blocked dates: %w", err)
	}
	defer rows.Close()
	cfg.BlockedDates = []BlockedDate{}
	for rows.Next() {
		var d time.Time
		var b BlockedDate
		if err := rows.Scan(&d, &b.Reason); err != nil {
			return nil, fmt.Errorf("scan blocked date: %w", err)
		}
		b.Date = fromPGDate(d)
		cfg.BlockedDates = append(cfg.BlockedDates, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

func (r *scheduleRepoPG) Upsert(ctx context.Context, cfg *ScheduleConfiguration) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := connFor(ctx, r.pool)
		err := q.QueryRow(ctx, `
			INSERT INTO schedule_configurations (doctor_id, consultation_duration_minutes, weekly_schedule,
				allow_booking_days_in_advance_max, min_advance_booking_hours)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (doctor_id) DO UPDATE SET
				consultation_duration_minutes = EXCLUDED.consultation_duration_minutes,
				weekly_schedule = EXCLUDED.weekly_schedule,
				allow_booking_days_in_advance_max = EXCLUDED.allow_booking_days_in_advance_max,
				min_advance_booking_hours = EXCLUDED.min_advance_booking_hours,
				updated_at = NOW()
			RETURNING updated_at`,
			cfg.DoctorID, cfg.ConsultationDurationMinutes, cfg.WeeklySchedule,
			cfg.AllowBookingDaysInAdvanceMax, cfg.MinAdvanceBookingHours).Scan(&cfg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}

		if _, err := q.Exec(ctx, `DELETE FROM schedule_blocked_dates WHERE doctor_id = $1`, cfg.DoctorID); err != nil {
			return fmt.Errorf("clear blocked dates: %w", err)
		}
		for _, b := range cfg.BlockedDates {
			if _, err := q.Exec(ctx,
				`INSERT INTO schedule_blocked_dates (doctor_id, date, reason) VALUES ($1,$2,$3)`,
				cfg.DoctorID, pgDate(b.Date), b.Reason); err != nil {
				return fmt.Errorf("insert blocked date %s: %w", b.Date, err)
			}
		}
		cfg.IsDefault = false
		return nil
	})
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, doctor_id, patient_id, date, start_minute, end_minute, status, type,
	specialty, reason, notes, cancel_reason, cancelled_by, cancelled_at,
	meeting_room_id, meeting_url, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start, end int
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &date, &start, &end, &a.Status, &a.Type,
		&a.Specialty, &a.Reason, &a.Notes, &a.CancelReason, &a.CancelledBy, &a.CancelledAt,
		&a.MeetingRoomID, &a.MeetingURL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = fromPGDate(date)
	a.StartTime, a.EndTime = Clock(start), Clock(end)
	return &a, nil
}

// slotLockKey names the advisory lock serializing writes for one doctor-day.
func slotLockKey(doctorID uuid.UUID, d Date) string {
	return "appointments:" + doctorID.String() + ":" + d.String()
}

func (r *appointmentRepoPG) CreateIfNoConflict(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := db.AdvisoryXactLock(ctx, slotLockKey(a.DoctorID, a.Date)); err != nil {
			return err
		}
		q := connFor(ctx, r.pool)

		var existing uuid.UUID
		err := q.QueryRow(ctx, `
			SELECT id FROM appointments
			WHERE doctor_id = $1 AND date = $2 AND status = ANY($3)
				AND start_minute < $5 AND end_minute > $4
			LIMIT 1`,
			a.DoctorID, pgDate(a.Date), occupyingStrings(), int(a.StartTime), int(a.EndTime)).Scan(&existing)
		if err == nil {
			return ErrSlotConflict
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("conflict scan: %w", err)
		}

		err = q.QueryRow(ctx, `
			INSERT INTO appointments (id, doctor_id, patient_id, date, start_minute, end_minute,
				status, type, specialty, reason, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING created_at, updated_at`,
			a.ID, a.DoctorID, a.PatientID, pgDate(a.Date), int(a.StartTime), int(a.EndTime),
			a.Status, a.Type, a.Specialty, a.Reason, a.Notes).Scan(&a.CreatedAt, &a.UpdatedAt)
		if isSlotViolation(err) {
			return ErrSlotConflict
		}
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) ListOccupying(ctx context.Context, doctorID uuid.UUID, date Date) ([]Appointment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND date = $2 AND status = ANY($3)
		ORDER BY start_minute`,
		doctorID, pgDate(date), occupyingStrings())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND date = $%d`, idx)
		args = append(args, pgDate(*f.Date))
		idx++
	}

	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		fmt.Sprintf(` ORDER BY date DESC, start_minute LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment, from Status) error {
	q := connFor(ctx, r.pool)
	err := q.QueryRow(ctx, `
		UPDATE appointments SET status = $2, cancel_reason = $3, cancelled_by = $4, cancelled_at = $5,
			meeting_room_id = $6, meeting_url = $7, updated_at = NOW()
		WHERE id = $1 AND status = $8
		RETURNING updated_at`,
		a.ID, a.Status, a.CancelReason, a.CancelledBy, a.CancelledAt,
		a.MeetingRoomID, a.MeetingURL, from).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAppointmentNotFound
		}
		return ErrInvalidTransition
	}
	if isSlotViolation(err) {
		return ErrSlotConflict
	}
	return err
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	var specialty *string
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, email, role, specialty FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &specialty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if specialty != nil {
		u.Specialty = *specialty
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	var specialty *string
	if u.Specialty != "" {
		specialty = &u.Specialty
	}
	_, err := connFor(ctx, r.pool).Exec(ctx,
		`INSERT INTO users (id, name, email, role, specialty) VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.Name, u.Email, u.Role, specialty)
	return err
}
