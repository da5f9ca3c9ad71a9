package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, doctor_id, patient_name, email, phone, date, time, time_slot,
	status, customer_id, notes, created_at, updated_at`

// fieldColumns maps fields to SQL expressions whose text form matches
// Appointment.Value.
var fieldColumns = map[Field]string{
	FieldPatientName: "patient_name",
	FieldDoctorID:    "doctor_id::text",
	FieldDate:        "date::text",
	FieldTime:        "time",
	FieldTimeSlot:    "time_slot",
	FieldPhone:       "phone",
	FieldEmail:       "email",
	FieldStatus:      "status",
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientName,
		&a.Email,
		&a.Phone,
		&a.Date,
		&a.Time,
		&a.TimeSlot,
		&a.Status,
		&a.CustomerID,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func writeError(err error) error {
	if db.IsUniqueViolation(err) {
		return ErrConstraintViolation
	}
	return err
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientName, a.Email, a.Phone, a.Date, a.Time, a.TimeSlot,
		a.Status, a.CustomerID, a.Notes, a.CreatedAt, a.UpdatedAt,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, writeError(err)
	}
	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment, expected Status) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    patient_name = $3,
		    email = $4,
		    phone = $5,
		    date = $6,
		    time = $7,
		    time_slot = $8,
		    status = $9,
		    customer_id = $10,
		    notes = $11,
		    updated_at = $12
		WHERE id = $1
		  AND status = $13
		RETURNING `+appointmentColumns,
		a.ID, a.DoctorID, a.PatientName, a.Email, a.Phone, a.Date, a.Time, a.TimeSlot,
		a.Status, a.CustomerID, a.Notes, a.UpdatedAt, expected,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, writeError(err)
	}
	return updated, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, writeError(err)
	}
	return updated, nil
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Executor(ctx, r.pool).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := db.Executor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) Query(ctx context.Context, f Filter, p Page) ([]Appointment, error) {
	var conds []string
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", expr, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id", *f.DoctorID)
	}
	if f.Date != nil {
		add("date", *f.Date)
	}
	if f.Status != nil {
		add("status", *f.Status)
	}

	matchFields := make([]string, 0, len(f.Match))
	for field := range f.Match {
		matchFields = append(matchFields, string(field))
	}
	sort.Strings(matchFields)
	for _, name := range matchFields {
		expr, ok := fieldColumns[Field(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported match field %q", name)
		}
		add(expr, f.Match[Field(name)])
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY created_at, id`
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := db.Executor(ctx, r.pool).Query(ctx, query, args...)
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

func (r *PgRepository) CountGroupedBy(ctx context.Context, fields []Field, minCount int) ([]GroupCount, error) {
	if len(fields) == 0 {
		return nil, errors.New("group by needs at least one field")
	}

	exprs := make([]string, len(fields))
	for i, f := range fields {
		expr, ok := fieldColumns[f]
		if !ok {
			return nil, fmt.Errorf("unsupported group field %q", f)
		}
		exprs[i] = expr
	}
	cols := strings.Join(exprs, ", ")

	rows, err := db.Executor(ctx, r.pool).Query(ctx, `
		SELECT `+cols+`, count(*)
		FROM appointments
		GROUP BY `+cols+`
		HAVING count(*) >= $1
		ORDER BY min(created_at)
	`, minCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []GroupCount
	for rows.Next() {
		values := make([]string, len(fields))
		dest := make([]any, 0, len(fields)+1)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var count int
		dest = append(dest, &count)

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		g := GroupCount{Values: make(map[Field]string, len(fields)), Count: count}
		for i, f := range fields {
			g.Values[f] = values[i]
		}
		result = append(result, g)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := db.Executor(ctx, r.pool).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
