package schedule

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store reads schedule data maintained by clinic administration.
type Store interface {
	// WeeklyTemplate returns at most one template per weekday; missing days are allowed.
	WeeklyTemplate(ctx context.Context, doctorID uuid.UUID) ([]Template, error)
	// SpecialDates returns clinic-wide exceptions when doctorID is nil, otherwise
	// that doctor's own exceptions.
	SpecialDates(ctx context.Context, doctorID *uuid.UUID) ([]SpecialDate, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]map[int]Template
	specials  []SpecialDate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[uuid.UUID]map[int]Template)}
}

// PutTemplate replaces the doctor's template for t.DayOfWeek.
func (s *MemoryStore) PutTemplate(t Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.templates[t.DoctorID]
	if !ok {
		days = make(map[int]Template)
		s.templates[t.DoctorID] = days
	}
	days[int(t.DayOfWeek)] = t
}

func (s *MemoryStore) AddSpecialDate(sd SpecialDate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sd.ID == uuid.Nil {
		sd.ID = uuid.New()
	}
	sd.Date = CalendarDate(sd.Date)
	s.specials = append(s.specials, sd)
}

func (s *MemoryStore) WeeklyTemplate(_ context.Context, doctorID uuid.UUID) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	days := s.templates[doctorID]
	out := make([]Template, 0, len(days))
	for _, t := range days {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayOfWeek < out[j].DayOfWeek })
	return out, nil
}

func (s *MemoryStore) SpecialDates(_ context.Context, doctorID *uuid.UUID) ([]SpecialDate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SpecialDate
	for _, sd := range s.specials {
		switch {
		case doctorID == nil && sd.DoctorID == nil:
			out = append(out, sd)
		case doctorID != nil && sd.DoctorID != nil && *sd.DoctorID == *doctorID:
			out = append(out, sd)
		}
	}
	return out, nil
}
