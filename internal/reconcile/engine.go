// Package reconcile finds and removes duplicate appointments left behind by
// legacy imports and racy clients. It runs offline, one instance at a time.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/metrics"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

const (
	PassExact   = "exact"
	PassFuzzy   = "fuzzy"
	PassOverlap = "overlap"
)

const dryRunPrefix = "dry-run: "

// exactFields must all match for two appointments to be exact duplicates.
var exactFields = []appointment.Field{
	appointment.FieldPatientName,
	appointment.FieldDoctorID,
	appointment.FieldDate,
	appointment.FieldTime,
	appointment.FieldTimeSlot,
	appointment.FieldPhone,
	appointment.FieldEmail,
}

// Store is the subset of appointment.Repository the engine needs.
type Store interface {
	Query(ctx context.Context, f appointment.Filter, p appointment.Page) ([]appointment.Appointment, error)
	CountGroupedBy(ctx context.Context, fields []appointment.Field, minCount int) ([]appointment.GroupCount, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Summary struct {
	RunID   uuid.UUID
	DryRun  bool
	Exact   int
	Fuzzy   int
	Overlap int
}

func (s Summary) Total() int {
	return s.Exact + s.Fuzzy + s.Overlap
}

type Option func(*Engine)

// WithDryRun audits decisions without deleting anything.
func WithDryRun(dry bool) Option {
	return func(e *Engine) { e.dryRun = dry }
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

type Engine struct {
	store     Store
	audit     AuditLog
	logger    zerolog.Logger
	dryRun    bool
	batchSize int
	now       func() time.Time
}

func NewEngine(store Store, audit AuditLog, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		audit:     audit,
		logger:    logger,
		batchSize: 500,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries per-invocation state.
type run struct {
	*Engine
	id uuid.UUID
	// removed holds ids already resolved as duplicates in this run, so a dry
	// run does not report the same row twice.
	removed map[uuid.UUID]bool
}

// Run executes the exact, fuzzy and overlap passes in that order. It returns
// an error only for failures that make continuing unsafe: the store cannot
// be read or a decision cannot be audited.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	r := &run{Engine: e, id: uuid.New(), removed: make(map[uuid.UUID]bool)}
	sum := Summary{RunID: r.id, DryRun: e.dryRun}

	log := e.logger.With().Str("run_id", r.id.String()).Bool("dry_run", e.dryRun).Logger()
	log.Info().Msg("reconciliation started")

	passes := []struct {
		name string
		fn   func(context.Context) (int, error)
		out  *int
	}{
		{PassExact, r.exactPass, &sum.Exact},
		{PassFuzzy, r.fuzzyPass, &sum.Fuzzy},
		{PassOverlap, r.overlapPass, &sum.Overlap},
	}

	for _, p := range passes {
		start := time.Now()
		n, err := p.fn(ctx)
		*p.out = n
		if err != nil {
			log.Error().Err(err).Str("pass", p.name).Int("removed", n).Msg("reconciliation pass failed")
			return sum, fmt.Errorf("%s pass: %w", p.name, err)
		}
		log.Info().Str("pass", p.name).Int("removed", n).Dur("took", time.Since(start)).Msg("reconciliation pass finished")
	}

	log.Info().Int("total", sum.Total()).Msg("reconciliation finished")
	return sum, nil
}

// exactPass removes appointments identical in every identifying field.
func (r *run) exactPass(ctx context.Context) (int, error) {
	groups, err := r.store.CountGroupedBy(ctx, exactFields, 2)
	if err != nil {
		return 0, fmt.Errorf("group exact duplicates: %w", err)
	}

	removed := 0
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		members, err := r.store.Query(ctx, appointment.Filter{Match: g.Values}, appointment.Page{})
		if err != nil {
			return removed, fmt.Errorf("load exact group: %w", err)
		}
		members = r.pending(members)
		if len(members) < 2 {
			continue
		}
		sortEarliest(members)

		parts := make([]string, len(exactFields))
		for i, f := range exactFields {
			parts[i] = g.Values[f]
		}

		n, err := r.resolve(ctx, PassExact, groupKey(parts...), members[0], members[1:], "identical appointment details")
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

type candidate struct {
	a, b  int
	score float64
}

// fuzzyPass removes appointments in the same slot that name the same patient
// loosely or share a phone or email.
//
// Pairs are taken greedily by descending name similarity and a pair touching
// an appointment already resolved in the current round is skipped. This is a
// heuristic: another pair order could yield a different duplicate set. Rounds
// repeat until one removes nothing, so a second run finds no further work.
func (r *run) fuzzyPass(ctx context.Context) (int, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	groups, order := groupBy(all, func(a appointment.Appointment) string {
		return groupKey(a.DoctorID.String(), schedule.FormatDate(a.Date), a.Time)
	})

	removed := 0
	for _, key := range order {
		members := groups[key]
		for len(members) > 1 {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			n, rest, err := r.fuzzyRound(ctx, key, members)
			removed += n
			if err != nil {
				return removed, err
			}
			if len(rest) == len(members) {
				break
			}
			members = rest
		}
	}
	return removed, nil
}

func (r *run) fuzzyRound(ctx context.Context, key string, members []appointment.Appointment) (int, []appointment.Appointment, error) {
	var pairs []candidate
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			a, b := members[i], members[j]
			if !NamesSimilar(a.PatientName, b.PatientName) &&
				!sameContact(a.Phone, b.Phone) &&
				!sameContact(a.Email, b.Email) {
				continue
			}
			pairs = append(pairs, candidate{a: i, b: j, score: Similarity(Normalize(a.PatientName), Normalize(b.PatientName))})
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	resolved := make(map[int]bool)
	dropped := make(map[int]bool)
	removed := 0
	for _, p := range pairs {
		if resolved[p.a] || resolved[p.b] {
			continue
		}
		resolved[p.a], resolved[p.b] = true, true

		keep, drop := members[p.a], members[p.b]
		if earlier(drop, keep) {
			keep, drop = drop, keep
			dropped[p.a] = true
		} else {
			dropped[p.b] = true
		}

		reason := fmt.Sprintf("same slot, name similarity %.2f", p.score)
		if !NamesSimilar(keep.PatientName, drop.PatientName) {
			reason = "same slot, shared contact details"
		}

		n, err := r.resolve(ctx, PassFuzzy, key, keep, []appointment.Appointment{drop}, reason)
		removed += n
		if err != nil {
			return removed, nil, err
		}
	}

	rest := make([]appointment.Appointment, 0, len(members))
	for i, m := range members {
		if !dropped[i] {
			rest = append(rest, m)
		}
	}
	return removed, rest, nil
}

// overlapPass removes bookings of the same patient whose time ranges overlap
// on the same doctor and day. Appointments are walked in time order and each
// one is compared with the last survivor. A removal can make two earlier
// non-neighbours adjacent, so rounds repeat until one removes nothing.
func (r *run) overlapPass(ctx context.Context) (int, error) {
	all, err := r.loadAll(ctx)
	if err != nil {
		return 0, err
	}

	groups, order := groupBy(all, func(a appointment.Appointment) string {
		return groupKey(a.DoctorID.String(), schedule.FormatDate(a.Date))
	})

	removed := 0
	for _, key := range order {
		members := groups[key]
		sortByTime(members)
		for len(members) > 1 {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			n, rest, err := r.overlapRound(ctx, key, members)
			removed += n
			if err != nil {
				return removed, err
			}
			if len(rest) == len(members) {
				break
			}
			members = rest
		}
	}
	return removed, nil
}

func (r *run) overlapRound(ctx context.Context, key string, members []appointment.Appointment) (int, []appointment.Appointment, error) {
	dropped := make(map[uuid.UUID]bool)
	removed := 0

	survivor := members[0]
	for _, next := range members[1:] {
		if !samePatient(survivor, next) || !slotsOverlap(survivor.Time, survivor.TimeSlot, next.Time, next.TimeSlot) {
			survivor = next
			continue
		}

		keep, drop := survivor, next
		if earlier(drop, keep) {
			keep, drop = drop, keep
		}
		dropped[drop.ID] = true
		reason := fmt.Sprintf("overlapping bookings %s and %s", describeSlot(keep), describeSlot(drop))

		n, err := r.resolve(ctx, PassOverlap, key, keep, []appointment.Appointment{drop}, reason)
		removed += n
		if err != nil {
			return removed, nil, err
		}
		survivor = keep
	}

	rest := make([]appointment.Appointment, 0, len(members))
	for _, m := range members {
		if !dropped[m.ID] {
			rest = append(rest, m)
		}
	}
	return removed, rest, nil
}

// resolve audits a decision and then deletes the losers. A failed delete is
// logged and skipped; a failed audit write stops the run.
func (r *run) resolve(ctx context.Context, pass, key string, keep appointment.Appointment, drop []appointment.Appointment, reason string) (int, error) {
	ids := make([]uuid.UUID, len(drop))
	for i, d := range drop {
		ids[i] = d.ID
	}
	if r.dryRun {
		reason = dryRunPrefix + reason
	}

	entry := AuditEntry{
		RunID:      r.id,
		Pass:       pass,
		GroupKey:   key,
		KeptID:     keep.ID,
		DeletedIDs: ids,
		Reason:     reason,
		Timestamp:  r.now().UTC(),
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("audit decision: %w", err)
	}

	log := r.logger.With().
		Str("run_id", r.id.String()).
		Str("pass", pass).
		Str("group", key).
		Str("kept_id", keep.ID.String()).
		Logger()

	removed := 0
	for _, id := range ids {
		if r.dryRun {
			r.removed[id] = true
			removed++
			log.Info().Str("duplicate_id", id.String()).Str("reason", reason).Msg("would delete duplicate")
			continue
		}

		if err := r.store.Delete(ctx, id); err != nil {
			ev := log.Error()
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				ev = log.Warn()
			}
			ev.Err(err).Str("duplicate_id", id.String()).Msg("delete duplicate failed, continuing")
			continue
		}
		r.removed[id] = true
		removed++
		metrics.ReconcileDeletedTotal.WithLabelValues(pass).Inc()
		log.Info().Str("duplicate_id", id.String()).Str("reason", reason).Msg("deleted duplicate")
	}
	return removed, nil
}

// loadAll snapshots every appointment not yet resolved in this run.
func (r *run) loadAll(ctx context.Context) ([]appointment.Appointment, error) {
	var all []appointment.Appointment
	for offset := 0; ; offset += r.batchSize {
		batch, err := r.store.Query(ctx, appointment.Filter{}, appointment.Page{Limit: r.batchSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("load appointments: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < r.batchSize {
			break
		}
	}
	return r.pending(all), nil
}

func (r *run) pending(in []appointment.Appointment) []appointment.Appointment {
	out := in[:0]
	for _, a := range in {
		if !r.removed[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

func groupBy(all []appointment.Appointment, key func(appointment.Appointment) string) (map[string][]appointment.Appointment, []string) {
	groups := make(map[string][]appointment.Appointment)
	var order []string
	for _, a := range all {
		k := key(a)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], a)
	}
	return groups, order
}

func samePatient(a, b appointment.Appointment) bool {
	return NamesSimilar(a.PatientName, b.PatientName) ||
		sameContact(a.Phone, b.Phone) ||
		sameContact(a.Email, b.Email)
}

// earlier is the keep-earliest tie-break: older createdAt wins, then lower id.
func earlier(a, b appointment.Appointment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sortEarliest(list []appointment.Appointment) {
	sort.SliceStable(list, func(i, j int) bool { return earlier(list[i], list[j]) })
}

func sortByTime(list []appointment.Appointment) {
	minutes := func(a appointment.Appointment) int {
		m, err := schedule.ParseClock(a.Time)
		if err != nil {
			return -1
		}
		return m
	}
	sort.SliceStable(list, func(i, j int) bool {
		mi, mj := minutes(list[i]), minutes(list[j])
		if mi != mj {
			return mi < mj
		}
		return earlier(list[i], list[j])
	})
}

func describeSlot(a appointment.Appointment) string {
	if a.TimeSlot != "" {
		return a.TimeSlot
	}
	return a.Time
}
