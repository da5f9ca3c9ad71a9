package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

// MemoryRepository is an in-memory Repository. It enforces the same
// active-slot uniqueness as the Postgres partial index.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appointments: make(map[uuid.UUID]*Appointment)}
}

// Seed stores appointments as-is, skipping the uniqueness check. It exists to
// load legacy data that predates the constraint.
func (r *MemoryRepository) Seed(appts ...Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range appts {
		a := appts[i]
		a.Date = schedule.CalendarDate(a.Date)
		r.appointments[a.ID] = &a
	}
}

func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// slotTaken must be called with the lock held.
func (r *MemoryRepository) slotTaken(a *Appointment) bool {
	if a.Status == StatusCancelled {
		return false
	}
	for _, other := range r.appointments {
		if other.ID == a.ID || other.Status == StatusCancelled {
			continue
		}
		if other.DoctorID == a.DoctorID && schedule.SameDate(other.Date, a.Date) && other.Time == a.Time {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *a
	c.Date = schedule.CalendarDate(c.Date)
	if r.slotTaken(&c) {
		return nil, ErrConstraintViolation
	}
	r.appointments[c.ID] = &c
	out := c
	return &out, nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment, expected Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[a.ID]
	if !ok || current.Status != expected {
		return nil, ErrAppointmentNotFound
	}

	c := *a
	c.Date = schedule.CalendarDate(c.Date)
	c.CreatedAt = current.CreatedAt
	if r.slotTaken(&c) {
		return nil, ErrConstraintViolation
	}
	r.appointments[c.ID] = &c
	out := c
	return &out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appointments[id]
	if !ok || current.Status != from {
		return nil, ErrAppointmentNotFound
	}
	c := *current
	c.Status = to
	if r.slotTaken(&c) {
		return nil, ErrConstraintViolation
	}
	r.appointments[id] = &c
	out := c
	return &out, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (r *MemoryRepository) matches(a *Appointment, f Filter) bool {
	if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
		return false
	}
	if f.Date != nil && !schedule.SameDate(a.Date, *f.Date) {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	for field, want := range f.Match {
		if a.Value(field) != want {
			return false
		}
	}
	return true
}

// sorted must be called with the lock held.
func (r *MemoryRepository) sorted() []*Appointment {
	all := make([]*Appointment, 0, len(r.appointments))
	for _, a := range r.appointments {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return all
}

func (r *MemoryRepository) Query(_ context.Context, f Filter, p Page) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	skipped := 0
	for _, a := range r.sorted() {
		if !r.matches(a, f) {
			continue
		}
		if skipped < p.Offset {
			skipped++
			continue
		}
		out = append(out, *a)
		if p.Limit > 0 && len(out) == p.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountGroupedBy(_ context.Context, fields []Field, minCount int) ([]GroupCount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type group struct {
		values map[Field]string
		count  int
	}
	groups := make(map[string]*group)
	var order []string

	for _, a := range r.sorted() {
		parts := make([]string, len(fields))
		values := make(map[Field]string, len(fields))
		for i, f := range fields {
			parts[i] = a.Value(f)
			values[f] = parts[i]
		}
		key := strings.Join(parts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{values: values}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}

	var out []GroupCount
	for _, key := range order {
		g := groups[key]
		if g.count >= minCount {
			out = append(out, GroupCount{Values: g.values, Count: g.count})
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	ev.ID = r.nextEventID
	r.events = append(r.events, ev)
	return nil
}
