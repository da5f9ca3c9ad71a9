package reconcile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

var (
	day   = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

type memoryAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *memoryAudit) Append(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAudit) Entries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.entries...)
}

type failingAudit struct{}

func (failingAudit) Append(context.Context, AuditEntry) error { return errors.New("disk full") }

// flakyStore fails deletes for the listed ids.
type flakyStore struct {
	*appointment.MemoryRepository
	fail map[uuid.UUID]bool
}

func (s flakyStore) Delete(ctx context.Context, id uuid.UUID) error {
	if s.fail[id] {
		return errors.New("lock timeout")
	}
	return s.MemoryRepository.Delete(ctx, id)
}

func appt(doctor uuid.UUID, name, hhmm string, createdAfter time.Duration) appointment.Appointment {
	return appointment.Appointment{
		ID:          uuid.New(),
		DoctorID:    doctor,
		PatientName: name,
		Date:        day,
		Time:        hhmm,
		Status:      appointment.StatusScheduled,
		CreatedAt:   epoch.Add(createdAfter),
		UpdatedAt:   epoch.Add(createdAfter),
	}
}

func remaining(t *testing.T, repo *appointment.MemoryRepository) map[uuid.UUID]bool {
	t.Helper()
	all, err := repo.Query(context.Background(), appointment.Filter{}, appointment.Page{})
	require.NoError(t, err)
	ids := make(map[uuid.UUID]bool, len(all))
	for _, a := range all {
		ids[a.ID] = true
	}
	return ids
}

func TestRun_ExactDuplicatesKeepEarliest(t *testing.T) {
	doctor := uuid.New()
	first := appt(doctor, "Ann Lee", "09:00", 0)
	first.Phone = "555-0101"
	first.Email = "ann@example.com"
	second := first
	second.ID = uuid.New()
	second.CreatedAt = first.CreatedAt.Add(5 * time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(second, first)
	audit := &memoryAudit{}

	sum, err := NewEngine(repo, audit, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Exact)
	assert.Equal(t, 0, sum.Fuzzy)
	assert.Equal(t, 0, sum.Overlap)
	assert.Equal(t, 1, sum.Total())

	left := remaining(t, repo)
	assert.True(t, left[first.ID])
	assert.False(t, left[second.ID])

	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, PassExact, entries[0].Pass)
	assert.Equal(t, first.ID, entries[0].KeptID)
	assert.Equal(t, []uuid.UUID{second.ID}, entries[0].DeletedIDs)
	assert.Equal(t, sum.RunID, entries[0].RunID)
}

func TestRun_FuzzyNameSameSlot(t *testing.T) {
	doctor := uuid.New()
	jon := appt(doctor, "Jon Smith", "09:00", 0)
	jon.Phone = "555-0101"
	john := appt(doctor, "John Smith", "09:00", time.Hour)
	john.Phone = "555-0199"

	repo := appointment.NewMemoryRepository()
	repo.Seed(jon, john)
	audit := &memoryAudit{}

	sum, err := NewEngine(repo, audit, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sum.Exact)
	assert.Equal(t, 1, sum.Fuzzy)

	left := remaining(t, repo)
	assert.True(t, left[jon.ID])
	assert.False(t, left[john.ID])

	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, PassFuzzy, entries[0].Pass)
	assert.Contains(t, entries[0].Reason, "name similarity 0.90")
}

func TestRun_FuzzySharedContact(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Robert Brown", "10:20", 0)
	a.Email = "family@example.com"
	b := appt(doctor, "Alice Brown", "10:20", time.Minute)
	b.Email = "FAMILY@example.com "
	c := appt(doctor, "Zed Quinn", "10:20", 2*time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, b, c)

	sum, err := NewEngine(repo, &memoryAudit{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fuzzy)

	left := remaining(t, repo)
	assert.True(t, left[a.ID])
	assert.False(t, left[b.ID])
	assert.True(t, left[c.ID], "different patient in the same slot is left alone")
}

func TestRun_FuzzyGroupOfThreeResolvedInOneRun(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Maria Garcia", "11:00", 0)
	b := appt(doctor, "Maria Garcia", "11:00", time.Minute)
	b.Phone = "555-0001"
	c := appt(doctor, "Marie Garcia", "11:00", 2*time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, b, c)
	engine := NewEngine(repo, &memoryAudit{}, zerolog.Nop())

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Fuzzy)

	left := remaining(t, repo)
	assert.Len(t, left, 1)
	assert.True(t, left[a.ID])

	again, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Total())
}

func TestRun_OverlappingSlots(t *testing.T) {
	doctor := uuid.New()
	early := appt(doctor, "Priya Patel", "09:00", time.Hour)
	early.TimeSlot = "09:00 - 09:30"
	late := appt(doctor, "Priya Patel", "09:15", 0)
	late.TimeSlot = "09:15 - 09:45"
	other := appt(doctor, "Tom Harris", "09:20", 0)
	other.TimeSlot = "09:20 - 09:50"
	later := appt(doctor, "Priya Patel", "11:00", 0)
	later.TimeSlot = "11:00 - 11:30"

	repo := appointment.NewMemoryRepository()
	repo.Seed(early, late, other, later)
	audit := &memoryAudit{}

	sum, err := NewEngine(repo, audit, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Overlap)

	left := remaining(t, repo)
	assert.False(t, left[early.ID], "created later, so it loses despite starting first")
	assert.True(t, left[late.ID])
	assert.True(t, left[other.ID])
	assert.True(t, left[later.ID])

	entries := audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, PassOverlap, entries[0].Pass)
	assert.Equal(t, late.ID, entries[0].KeptID)
}

func TestRun_OverlapChainFollowsSurvivor(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Li Wei", "09:00", 0)
	a.TimeSlot = "09:00 - 10:00"
	b := appt(doctor, "Li Wei", "09:30", time.Minute)
	b.TimeSlot = "09:30 - 09:40"
	c := appt(doctor, "Li Wei", "09:50", 2*time.Minute)
	c.TimeSlot = "09:50 - 10:20"

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, b, c)

	sum, err := NewEngine(repo, &memoryAudit{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Overlap)

	left := remaining(t, repo)
	assert.Equal(t, map[uuid.UUID]bool{a.ID: true}, left)
}

func TestRun_Idempotent(t *testing.T) {
	doctor := uuid.New()
	base := appt(doctor, "Sam Okafor", "09:00", 0)
	base.Phone = "555-0200"
	exact := base
	exact.ID = uuid.New()
	exact.CreatedAt = base.CreatedAt.Add(time.Minute)
	fuzzy := appt(doctor, "Samuel Okafor", "09:00", 2*time.Minute)
	overlapA := appt(doctor, "Dana Cruz", "10:00", 0)
	overlapA.TimeSlot = "10:00 - 10:30"
	overlapB := appt(doctor, "Dana Cruz", "10:10", time.Minute)
	overlapB.TimeSlot = "10:10 - 10:40"
	overlapC := appt(doctor, "Dana  cruz", "10:20", 2*time.Minute)
	overlapC.TimeSlot = "10:20 - 10:50"

	repo := appointment.NewMemoryRepository()
	repo.Seed(base, exact, fuzzy, overlapA, overlapB, overlapC)
	engine := NewEngine(repo, &memoryAudit{}, zerolog.Nop())

	first, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Exact)
	assert.Equal(t, 1, first.Fuzzy)
	assert.Equal(t, 2, first.Overlap)

	second, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Total())
	assert.Equal(t, map[uuid.UUID]bool{base.ID: true, overlapA.ID: true}, remaining(t, repo))
}

func TestRun_DryRunDeletesNothing(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Ann Lee", "09:00", 0)
	b := a
	b.ID = uuid.New()
	b.CreatedAt = a.CreatedAt.Add(time.Minute)
	c := appt(doctor, "Anne Lee", "09:00", 2*time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, b, c)
	audit := &memoryAudit{}

	sum, err := NewEngine(repo, audit, zerolog.Nop(), WithDryRun(true)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, 1, sum.Exact)
	assert.Equal(t, 1, sum.Fuzzy, "b is not reported again")
	assert.Len(t, remaining(t, repo), 3)

	for _, e := range audit.Entries() {
		assert.True(t, strings.HasPrefix(e.Reason, "dry-run: "), e.Reason)
	}
}

func TestRun_DeleteFailureContinues(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Ann Lee", "09:00", 0)
	stuck := a
	stuck.ID = uuid.New()
	stuck.CreatedAt = a.CreatedAt.Add(time.Minute)
	gone := a
	gone.ID = uuid.New()
	gone.CreatedAt = a.CreatedAt.Add(2 * time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, stuck, gone)
	store := flakyStore{MemoryRepository: repo, fail: map[uuid.UUID]bool{stuck.ID: true}}

	sum, err := NewEngine(store, &memoryAudit{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Exact)

	left := remaining(t, repo)
	assert.True(t, left[stuck.ID])
	assert.False(t, left[gone.ID])
}

func TestRun_AuditFailureIsFatal(t *testing.T) {
	doctor := uuid.New()
	a := appt(doctor, "Ann Lee", "09:00", 0)
	b := a
	b.ID = uuid.New()
	b.CreatedAt = a.CreatedAt.Add(time.Minute)

	repo := appointment.NewMemoryRepository()
	repo.Seed(a, b)

	_, err := NewEngine(repo, failingAudit{}, zerolog.Nop()).Run(context.Background())
	require.Error(t, err)
	assert.Len(t, remaining(t, repo), 2, "nothing is deleted without an audit record")
}

func TestRun_SmallBatchesSeeEverything(t *testing.T) {
	doctor := uuid.New()
	repo := appointment.NewMemoryRepository()
	keep := appt(doctor, "Ravi Kumar", "09:00", 0)
	repo.Seed(keep)
	for i := 1; i <= 7; i++ {
		repo.Seed(appt(uuid.New(), "Filler Patient", "09:00", time.Duration(i)*time.Minute))
	}
	dup := appt(doctor, "Ravi Kumaar", "09:00", time.Hour)
	repo.Seed(dup)

	sum, err := NewEngine(repo, &memoryAudit{}, zerolog.Nop(), WithBatchSize(3)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Fuzzy)
	assert.False(t, remaining(t, repo)[dup.ID])
}

func TestFileAuditLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "run.jsonl")
	log, err := OpenFileAuditLog(path)
	require.NoError(t, err)

	entry := AuditEntry{
		RunID:      uuid.New(),
		Pass:       PassExact,
		GroupKey:   "k",
		KeptID:     uuid.New(),
		DeletedIDs: []uuid.UUID{uuid.New()},
		Reason:     "identical appointment details",
		Timestamp:  epoch,
	}
	require.NoError(t, log.Append(context.Background(), entry))
	require.NoError(t, log.Append(context.Background(), entry))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines = append(lines, e)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, entry.KeptID, lines[1].KeptID)
	assert.Equal(t, entry.DeletedIDs, lines[1].DeletedIDs)
}

func TestSQLiteAuditLog_RoundTrip(t *testing.T) {
	ctx := context.Background()
	log, err := OpenSQLiteAuditLog(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer log.Close()

	runID := uuid.New()
	entry := AuditEntry{
		RunID:      runID,
		Pass:       PassOverlap,
		GroupKey:   "doctor|2024-07-01",
		KeptID:     uuid.New(),
		DeletedIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Reason:     "overlapping bookings",
		Timestamp:  epoch,
	}
	require.NoError(t, MultiAudit{log}.Append(ctx, entry))
	require.NoError(t, log.Append(ctx, AuditEntry{RunID: uuid.New(), Pass: PassExact, Timestamp: epoch}))

	got, err := log.Entries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entry.DeletedIDs, got[0].DeletedIDs)
	assert.Equal(t, entry.GroupKey, got[0].GroupKey)
	assert.True(t, entry.Timestamp.Equal(got[0].Timestamp))
}

func TestMultiAudit_ReportsFailures(t *testing.T) {
	mem := &memoryAudit{}
	err := MultiAudit{mem, failingAudit{}}.Append(context.Background(), AuditEntry{Pass: PassFuzzy})
	assert.Error(t, err)
	assert.Len(t, mem.Entries(), 1)
}
