package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking-engine/internal/db"
)

// PgStore reads templates and exceptions from Postgres. Queries join the
// caller's transaction when one is in the context.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WeeklyTemplate(ctx context.Context, doctorID uuid.UUID) ([]Template, error) {
	rows, err := db.Executor(ctx, s.pool).Query(ctx, `
		SELECT doctor_id, day_of_week, is_active, start_time, end_time,
		       slot_duration, buffer_time, break_start, break_end
		FROM doctor_schedules
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query weekly template: %w", err)
	}
	defer rows.Close()

	var result []Template
	for rows.Next() {
		var t Template
		var day int16
		if err := rows.Scan(
			&t.DoctorID,
			&day,
			&t.IsActive,
			&t.StartTime,
			&t.EndTime,
			&t.SlotDuration,
			&t.BufferTime,
			&t.BreakStart,
			&t.BreakEnd,
		); err != nil {
			return nil, fmt.Errorf("scan weekly template: %w", err)
		}
		t.DayOfWeek = time.Weekday(day)
		result = append(result, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PgStore) SpecialDates(ctx context.Context, doctorID *uuid.UUID) ([]SpecialDate, error) {
	rows, err := db.Executor(ctx, s.pool).Query(ctx, `
		SELECT id, date, doctor_id, type, name, reason
		FROM special_dates
		WHERE ($1::uuid IS NULL AND doctor_id IS NULL)
		   OR doctor_id = $1::uuid
		ORDER BY date
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query special dates: %w", err)
	}
	defer rows.Close()

	var result []SpecialDate
	for rows.Next() {
		var sd SpecialDate
		if err := rows.Scan(&sd.ID, &sd.Date, &sd.DoctorID, &sd.Type, &sd.Name, &sd.Reason); err != nil {
			return nil, fmt.Errorf("scan special date: %w", err)
		}
		result = append(result, sd)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
