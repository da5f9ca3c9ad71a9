// Package directory resolves doctor ids to the display details used in
// notifications and the API.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Doctor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Speciality string    `json:"speciality"`
	Fee        float64   `json:"fee"`
}

type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

// PgDirectory reads the doctors table.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, speciality, fee::float8
		FROM doctors
		WHERE id = $1
	`, id).Scan(&doc.ID, &doc.Name, &doc.Speciality, &doc.Fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return &doc, nil
}

// Ping reports whether the doctors table is reachable.
func (d *PgDirectory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// StaticDirectory serves a fixed list, typically loaded from a JSON file.
type StaticDirectory struct {
	mu      sync.RWMutex
	doctors map[uuid.UUID]Doctor
}

func NewStaticDirectory(doctors ...Doctor) *StaticDirectory {
	s := &StaticDirectory{doctors: make(map[uuid.UUID]Doctor, len(doctors))}
	for _, d := range doctors {
		s.doctors[d.ID] = d
	}
	return s
}

// LoadStaticDirectory reads a JSON array of doctors.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read doctor directory: %w", err)
	}
	var doctors []Doctor
	if err := json.Unmarshal(raw, &doctors); err != nil {
		return nil, fmt.Errorf("decode doctor directory: %w", err)
	}
	return NewStaticDirectory(doctors...), nil
}

func (s *StaticDirectory) Doctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

// All returns the doctors sorted by name.
func (s *StaticDirectory) All() []Doctor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthFunc reports whether a primary source can be used right now.
type HealthFunc func(ctx context.Context) bool

// DataSource prefers Primary and switches to Fallback when Healthy says the
// primary is down or the primary lookup fails with anything but not-found.
// The choice is made per call from injected state, never from a package flag.
type DataSource struct {
	Primary  Directory
	Fallback Directory
	Healthy  HealthFunc
}

func (ds DataSource) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if ds.Primary != nil && (ds.Healthy == nil || ds.Healthy(ctx)) {
		doc, err := ds.Primary.Doctor(ctx, id)
		if err == nil || errors.Is(err, ErrDoctorNotFound) || ds.Fallback == nil {
			return doc, err
		}
	}
	if ds.Fallback == nil {
		return nil, errors.New("doctor directory unavailable")
	}
	return ds.Fallback.Doctor(ctx, id)
}
