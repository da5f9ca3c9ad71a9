package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/logging"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

const (
	doctorCount      = 12
	bookingsPerDoc   = 25
	duplicateSets    = 10
	seedDays         = 14
	slotDuration     = 30
	bufferMinutes    = 10
	dayStartMinutes  = 9 * 60
	dayEndMinutes    = 17 * 60
	breakStartMinute = 13 * 60
)

var specialities = []string{
	"Cardiology",
	"Dermatology",
	"General Practice",
	"Neurology",
	"Orthopedics",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
}

type seededDoctor struct {
	id    uuid.UUID
	slots []string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("seed", false, "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.IsProduction(), cfg.LogLevel)

	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	if seed := os.Getenv("SEED"); seed != "" {
		n, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			logger.Fatal().Err(err).Msg("SEED must be an integer")
		}
		gofakeit.Seed(n)
	}

	start := nextMonday(time.Now().In(cfg.ClinicLocation))
	if err := run(ctx, pool, start, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}
	logger.Info().Msg("seed complete")
}

func run(ctx context.Context, pool *pgxpool.Pool, start time.Time, logger zerolog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	doctors, err := seedDoctors(ctx, tx, doctorCount)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	logger.Info().Int("count", len(doctors)).Msg("doctors seeded")

	if err := seedSpecialDates(ctx, tx, doctors, start); err != nil {
		return fmt.Errorf("seed special dates: %w", err)
	}

	booked, err := seedAppointments(ctx, tx, doctors, start)
	if err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}
	logger.Info().Int("count", booked).Msg("appointments seeded")

	dups, err := seedDuplicates(ctx, tx, doctors, start)
	if err != nil {
		return fmt.Errorf("seed duplicates: %w", err)
	}
	logger.Info().Int("count", dups).Msg("legacy duplicates seeded")

	return tx.Commit(ctx)
}

func seedDoctors(ctx context.Context, tx pgx.Tx, count int) ([]seededDoctor, error) {
	slots := weekdaySlots()
	out := make([]seededDoctor, 0, count)

	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, speciality, fee, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, "Dr. "+gofakeit.LastName(), gofakeit.RandomString(specialities), gofakeit.Number(60, 250))
		if err != nil {
			return nil, err
		}

		for day := time.Monday; day <= time.Friday; day++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctor_schedules (doctor_id, day_of_week, is_active, start_time, end_time,
					slot_duration, buffer_time, break_start, break_end)
				VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, $8)
			`, id, int(day), schedule.FormatClock(dayStartMinutes), schedule.FormatClock(dayEndMinutes),
				slotDuration, bufferMinutes, schedule.FormatClock(breakStartMinute), schedule.FormatClock(breakStartMinute+60))
			if err != nil {
				return nil, err
			}
		}
		out = append(out, seededDoctor{id: id, slots: slots})
	}
	return out, nil
}

// seedSpecialDates closes the clinic on the second Wednesday and sends the
// first doctor on leave for the first Friday.
func seedSpecialDates(ctx context.Context, tx pgx.Tx, doctors []seededDoctor, start time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO special_dates (id, date, doctor_id, type, name, reason)
		VALUES ($1, $2, NULL, $3, $4, '')
	`, uuid.New(), start.AddDate(0, 0, 9), string(schedule.SpecialDateUnavailable), "Clinic holiday")
	if err != nil {
		return err
	}

	if len(doctors) == 0 {
		return nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO special_dates (id, date, doctor_id, type, name, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), start.AddDate(0, 0, 4), doctors[0].id, string(schedule.SpecialDateUnavailable), "Leave", "Conference")
	return err
}

func seedAppointments(ctx context.Context, tx pgx.Tx, doctors []seededDoctor, start time.Time) (int, error) {
	count := 0
	for _, d := range doctors {
		taken := make(map[string]bool)
		for i := 0; i < bookingsPerDoc; i++ {
			date := bookableDate(start, gofakeit.Number(0, seedDays-1))
			hhmm := d.slots[gofakeit.Number(0, len(d.slots)-1)]
			key := date.Format("2006-01-02") + hhmm
			if taken[key] {
				continue
			}
			taken[key] = true

			status := appointment.StatusScheduled
			if gofakeit.Bool() {
				status = appointment.StatusConfirmed
			}
			a := appointment.Appointment{
				ID:          uuid.New(),
				DoctorID:    d.id,
				PatientName: gofakeit.Name(),
				Email:       gofakeit.Email(),
				Phone:       gofakeit.Phone(),
				Date:        date,
				Time:        hhmm,
				TimeSlot:    slotRange(hhmm),
				Status:      status,
				CreatedAt:   time.Now().UTC(),
			}
			if err := insert(ctx, tx, a); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// seedDuplicates writes the kinds of duplicates older data carries. The
// active-slot unique index only admits a same-slot copy when one of them is
// cancelled, so those copies are cancelled; overlapping bookings use
// different start times and stay active. Each set lives on the last
// bookable day, which seedAppointments never uses.
func seedDuplicates(ctx context.Context, tx pgx.Tx, doctors []seededDoctor, start time.Time) (int, error) {
	date := bookableDate(start, seedDays)
	count := 0
	created := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < duplicateSets && i < len(doctors); i++ {
		d := doctors[i]
		name := gofakeit.FirstName() + " " + gofakeit.LastName()
		base := appointment.Appointment{
			DoctorID:    d.id,
			PatientName: name,
			Email:       gofakeit.Email(),
			Phone:       gofakeit.Phone(),
			Date:        date,
			Status:      appointment.StatusScheduled,
		}

		var batch []appointment.Appointment
		switch i % 3 {
		case 0:
			// exact copy of an active booking
			a := withSlot(base, d.slots[0])
			b := a
			b.Status = appointment.StatusCancelled
			batch = append(batch, a, b)
		case 1:
			// misspelled name, same contact details
			a := withSlot(base, d.slots[1])
			b := a
			b.PatientName = misspell(name)
			b.Status = appointment.StatusCancelled
			batch = append(batch, a, b)
		case 2:
			// same patient booked into two overlapping ranges
			a := withSlot(base, schedule.FormatClock(dayStartMinutes+120))
			b := withSlot(base, schedule.FormatClock(dayStartMinutes+135))
			batch = append(batch, a, b)
		}

		for j, a := range batch {
			a.ID = uuid.New()
			a.CreatedAt = created.Add(time.Duration(j) * time.Minute)
			if err := insert(ctx, tx, a); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func insert(ctx context.Context, tx pgx.Tx, a appointment.Appointment) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_name, email, phone, date, time, time_slot,
			status, customer_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', '', $10, $10)
	`, a.ID, a.DoctorID, a.PatientName, a.Email, a.Phone, a.Date, a.Time, a.TimeSlot, string(a.Status), a.CreatedAt)
	return err
}

func withSlot(a appointment.Appointment, hhmm string) appointment.Appointment {
	a.Time = hhmm
	a.TimeSlot = slotRange(hhmm)
	return a
}

func slotRange(hhmm string) string {
	m, err := schedule.ParseClock(hhmm)
	if err != nil {
		return ""
	}
	return hhmm + "-" + schedule.FormatClock(m+slotDuration)
}

// misspell drops one letter from the surname so the copy stays above the
// similarity threshold.
func misspell(name string) string {
	parts := strings.Fields(name)
	last := parts[len(parts)-1]
	if len(last) > 3 {
		last = last[:2] + last[3:]
	}
	parts[len(parts)-1] = last
	return strings.Join(parts, " ")
}

func weekdaySlots() []string {
	var slots []string
	for m := dayStartMinutes; m+slotDuration <= dayEndMinutes; m += slotDuration + bufferMinutes {
		if m < breakStartMinute+60 && m+slotDuration > breakStartMinute {
			continue
		}
		slots = append(slots, schedule.FormatClock(m))
	}
	return slots
}

// bookableDate returns the n-th weekday on or after start, skipping the
// seeded holiday and leave days.
func bookableDate(start time.Time, n int) time.Time {
	d := start
	for i := 0; ; d = d.AddDate(0, 0, 1) {
		offset := int(d.Sub(start).Hours() / 24)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday || offset == 4 || offset == 9 {
			continue
		}
		if i == n {
			return d
		}
		i++
	}
}

func nextMonday(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Monday {
			return d
		}
	}
}
