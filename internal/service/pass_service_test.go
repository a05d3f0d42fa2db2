package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/internal/repository"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubConstraintSource struct {
	mu    sync.Mutex
	build func() *models.ConstraintSnapshot
	err   error
	calls int
}

func (s *stubConstraintSource) LoadSnapshot(context.Context) (*models.ConstraintSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.build(), nil
}

func (s *stubConstraintSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubConstraintSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type publishedEvent struct {
	Type models.PassEventType
	Pass models.Pass
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType models.PassEventType, pass *models.Pass) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Pass: *pass.Clone()})
}

func (p *recordingPublisher) count(eventType models.PassEventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type stubStudents map[string]string

func (s stubStudents) NamesByIDs(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := s[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func student(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func teacher(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func baseSnapshot() *models.ConstraintSnapshot {
	return &models.ConstraintSnapshot{
		Version: "v1",
		Locations: map[string]models.Location{
			"class-101":  {ID: "class-101", Name: "Room 101"},
			"restroom-a": {ID: "restroom-a", Name: "Restroom A", MaxCapacity: intPtr(2)},
			"nurse":      {ID: "nurse", Name: "Nurse", MaxCapacity: intPtr(1), RequiresApproval: true, DefaultTimeLimitMinutes: 15},
			"library":    {ID: "library", Name: "Library"},
		},
		Groups: []models.EncounterGroup{
			{ID: "g1", Name: "Keep apart", StudentIDs: []string{"s1", "s2"}},
		},
	}
}

type passFixtureOptions struct {
	Config      PassServiceConfig
	LockTimeout time.Duration
	Mutate      func(*models.ConstraintSnapshot)
	WrapStore   func(*repository.MemoryPassStore) passStore
}

type passFixture struct {
	svc      *PassService
	store    *repository.MemoryPassStore
	registry *ConstraintRegistry
	source   *stubConstraintSource
	events   *recordingPublisher
	clock    *fakeClock
}

func newPassFixture(t *testing.T, opts passFixtureOptions) *passFixture {
	t.Helper()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	source := &stubConstraintSource{build: func() *models.ConstraintSnapshot {
		snap := baseSnapshot()
		if opts.Mutate != nil {
			opts.Mutate(snap)
		}
		return snap
	}}
	registry := NewConstraintRegistry(source, nil, nil, nil, ConstraintRegistryConfig{RefreshInterval: time.Hour})
	registry.now = clock.Now

	lockTimeout := opts.LockTimeout
	if lockTimeout == 0 {
		lockTimeout = 5 * time.Second
	}
	store := repository.NewMemoryPassStore(lockTimeout)
	var backing passStore = store
	if opts.WrapStore != nil {
		backing = opts.WrapStore(store)
	}
	events := &recordingPublisher{}
	svc := NewPassService(PassServiceParams{
		Store:       backing,
		Constraints: registry,
		Students:    stubStudents{"s1": "Ana", "s2": "Budi", "s3": "Citra"},
		Events:      events,
		Metrics:     NewMetricsService(),
		Config:      opts.Config,
		Now:         clock.Now,
	})
	return &passFixture{svc: svc, store: store, registry: registry, source: source, events: events, clock: clock}
}

func (f *passFixture) request(t *testing.T, studentID, destination string) *models.Pass {
	t.Helper()
	pass, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: destination}, student(studentID))
	require.NoError(t, err)
	return pass
}

func TestRequestPassAdmitsImmediatelyWithoutApproval(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})

	pass := f.request(t, "s1", "restroom-a")

	assert.Equal(t, models.PassStatusActive, pass.Status)
	assert.Equal(t, 5, pass.TimeLimitMinutes)
	require.NotNil(t, pass.ExpectedReturnAt)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *pass.ExpectedReturnAt)
	assert.Equal(t, "s1", pass.RequestedBy)
	assert.Equal(t, models.PassEventApproved, f.events.last().Type)
}

func TestRequestPassPendingWhenApprovalRequired(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})

	pass := f.request(t, "s1", "nurse")

	assert.Equal(t, models.PassStatusPending, pass.Status)
	assert.Equal(t, 15, pass.TimeLimitMinutes)
	assert.Nil(t, pass.ExpectedReturnAt)
	assert.Equal(t, models.PassEventCreated, f.events.last().Type)

	// pending passes do not occupy the single nurse slot
	other := f.request(t, "s3", "nurse")
	assert.Equal(t, models.PassStatusPending, other.Status)
}

func TestRequestPassValidatesInput(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{Config: PassServiceConfig{MaxTimeLimit: 10}})
	ctx := context.Background()

	_, err := f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "gym"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "library", TimeLimitMinutes: 11}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "library"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestRequestPassOnBehalfOfStudent(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()

	_, err := f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "library"}, teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{StudentID: "s2", Origin: "class-101", Destination: "library"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	pass, err := f.svc.RequestPass(ctx, dto.RequestPassRequest{StudentID: "s3", Origin: "class-101", Destination: "library"}, teacher("t1"))
	require.NoError(t, err)
	assert.Equal(t, "s3", pass.StudentID)
	assert.Equal(t, "t1", pass.RequestedBy)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{StudentID: "s3", Origin: "class-101", Destination: "library"}, &models.JWTClaims{UserID: "g1", Role: models.RoleGuardian})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRequestPassRejectsDuplicateOpenPass(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	f.request(t, "s1", "nurse")

	_, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: "library"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrDuplicatePass)
}

func TestRequestPassDailyLimitIgnoresDenied(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{Config: PassServiceConfig{DailyLimit: 1}})
	ctx := context.Background()

	pending := f.request(t, "s1", "nurse")
	_, err := f.svc.DenyPass(ctx, pending.ID, dto.DenyPassRequest{}, teacher("t1"))
	require.NoError(t, err)

	pass := f.request(t, "s1", "library")
	_, err = f.svc.EndPass(ctx, pass.ID, student("s1"))
	require.NoError(t, err)

	_, err = f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "library"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrDailyLimitExceeded)

	f.clock.Advance(24 * time.Hour)
	f.request(t, "s1", "library")
}

func TestRequestPassBlockedByNoFlyWindow(t *testing.T) {
	restroom := "restroom-a"
	f := newPassFixture(t, passFixtureOptions{Mutate: func(s *models.ConstraintSnapshot) {
		s.Windows = []models.NoFlyWindow{{ID: "w1", LocationID: &restroom, StartTime: "09:30", EndTime: "10:30"}}
	}})

	_, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: "restroom-a"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrNoFlyWindow)

	f.request(t, "s1", "library")

	// duplicate is reported before the window
	_, err = f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: "restroom-a"}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrDuplicatePass)
}

func TestRequestPassConcurrentCapacity(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	const students = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		full     int
		other    []error
	)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: "restroom-a"}, student(fmt.Sprintf("c%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, appErrors.ErrCapacityFull):
				full++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 2, admitted)
	assert.Equal(t, students-2, full)

	occupancy, err := f.store.OccupancyByLocation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, occupancy["restroom-a"])
}

func TestRequestPassEncounterConflict(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	first := f.request(t, "s1", "library")

	_, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: "restroom-a"}, student("s2"))
	assert.ErrorIs(t, err, appErrors.ErrEncounterConflict)

	_, err = f.svc.EndPass(context.Background(), first.ID, student("s1"))
	require.NoError(t, err)
	f.request(t, "s2", "restroom-a")
}

func TestRequestPassConcurrentEncounterGroup(t *testing.T) {
	for round := 0; round < 10; round++ {
		f := newPassFixture(t, passFixtureOptions{})
		destinations := map[string]string{"s1": "library", "s2": "restroom-a"}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			results = map[string]error{}
		)
		for studentID, destination := range destinations {
			wg.Add(1)
			go func(studentID, destination string) {
				defer wg.Done()
				_, err := f.svc.RequestPass(context.Background(), dto.RequestPassRequest{Origin: "class-101", Destination: destination}, student(studentID))
				mu.Lock()
				results[studentID] = err
				mu.Unlock()
			}(studentID, destination)
		}
		wg.Wait()

		successes := 0
		for _, err := range results {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, appErrors.ErrEncounterConflict)
		}
		assert.Equal(t, 1, successes, "round %d", round)
	}
}

func TestRequestPassReturnsConcurrencyErrorWhenScopeStaysLocked(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{
		Config:      PassServiceConfig{MaxRetries: 1, RetryBackoff: time.Millisecond},
		LockTimeout: 20 * time.Millisecond,
	})
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.store.RunInScope(ctx, repository.NewLockScope(repository.StudentLockKey("s3")), func(context.Context, repository.PassTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	_, err := f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "library"}, student("s3"))
	close(release)
	<-done

	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConcurrency)
	assert.True(t, appErrors.FromError(err).Retryable())

	f.request(t, "s3", "library")
}

func TestApprovePassActivatesPending(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	pending := f.request(t, "s1", "nurse")
	f.clock.Advance(2 * time.Minute)

	approved, err := f.svc.ApprovePass(context.Background(), pending.ID, teacher("t1"))
	require.NoError(t, err)

	assert.Equal(t, models.PassStatusActive, approved.Status)
	require.NotNil(t, approved.ApproverID)
	assert.Equal(t, "t1", *approved.ApproverID)
	require.NotNil(t, approved.ExpectedReturnAt)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *approved.ExpectedReturnAt)
	assert.Equal(t, models.PassEventApproved, f.events.last().Type)

	_, err = f.svc.ApprovePass(context.Background(), pending.ID, teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestApprovePassRequiresStaff(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	pending := f.request(t, "s1", "nurse")

	_, err := f.svc.ApprovePass(context.Background(), pending.ID, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.ApprovePass(context.Background(), "missing", teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestApprovePassDeniesWhenCapacityFilledMeanwhile(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	first := f.request(t, "s1", "nurse")
	second := f.request(t, "s3", "nurse")

	_, err := f.svc.ApprovePass(context.Background(), first.ID, teacher("t1"))
	require.NoError(t, err)

	denied, err := f.svc.ApprovePass(context.Background(), second.ID, teacher("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusDenied, denied.Status)
	require.NotNil(t, denied.DenialReason)
	assert.Equal(t, models.DenialReasonCapacityFull, *denied.DenialReason)
	assert.Equal(t, models.PassEventRejected, f.events.last().Type)
}

func TestApprovePassDeniesOnEncounterConflict(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	pending := f.request(t, "s2", "nurse")
	f.request(t, "s1", "library")

	denied, err := f.svc.ApprovePass(context.Background(), pending.ID, teacher("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusDenied, denied.Status)
	assert.Equal(t, models.DenialReasonEncounterConflict, *denied.DenialReason)
}

func TestDenyPass(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	pending := f.request(t, "s1", "nurse")

	_, err := f.svc.DenyPass(ctx, pending.ID, dto.DenyPassRequest{}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	denied, err := f.svc.DenyPass(ctx, pending.ID, dto.DenyPassRequest{}, teacher("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusDenied, denied.Status)
	assert.Equal(t, "DENIED_BY_STAFF", *denied.DenialReason)
	assert.Equal(t, models.PassEventRejected, f.events.last().Type)

	active := f.request(t, "s1", "library")
	_, err = f.svc.DenyPass(ctx, active.ID, dto.DenyPassRequest{Reason: "no"}, teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestEndPassFreesCapacity(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	first := f.request(t, "s1", "restroom-a")
	f.request(t, "s3", "restroom-a")

	_, err := f.svc.RequestPass(ctx, dto.RequestPassRequest{Origin: "class-101", Destination: "restroom-a"}, student("c1"))
	assert.ErrorIs(t, err, appErrors.ErrCapacityFull)

	_, err = f.svc.EndPass(ctx, first.ID, student("s3"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	f.clock.Advance(3 * time.Minute)
	ended, err := f.svc.EndPass(ctx, first.ID, student("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusCompleted, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, f.clock.Now(), *ended.EndedAt)
	assert.Equal(t, models.PassEventCompleted, f.events.last().Type)

	_, err = f.svc.EndPass(ctx, first.ID, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)

	f.request(t, "c1", "restroom-a")
}

func TestEndPassRacesWithOvertimeFlag(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newPassFixture(t, passFixtureOptions{})
		pass := f.request(t, "s1", "library")
		f.clock.Advance(10 * time.Minute)

		monitor := NewOvertimeMonitor(f.store, f.events, nil, nil, time.Minute)
		monitor.now = f.clock.Now

		var (
			wg     sync.WaitGroup
			endErr error
			tick   TickResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			tick, _ = monitor.Tick(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, endErr = f.svc.EndPass(context.Background(), pass.ID, student("s1"))
		}()
		wg.Wait()

		require.NoError(t, endErr, "round %d", round)
		final, err := f.store.GetByID(context.Background(), pass.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PassStatusCompleted, final.Status)
		assert.Equal(t, tick.Flagged, f.events.count(models.PassEventOvertime))
		assert.LessOrEqual(t, tick.Flagged, 1)
		assert.Equal(t, 1, f.events.count(models.PassEventCompleted))
	}
}

func TestExtendPass(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	pass := f.request(t, "s1", "library")
	originalExpected := *pass.ExpectedReturnAt

	extended, err := f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 3}, student("s1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusActive, extended.Status)
	assert.Equal(t, 8, extended.TimeLimitMinutes)
	assert.Equal(t, originalExpected.Add(3*time.Minute), *extended.ExpectedReturnAt)
	assert.Equal(t, models.PassEventExtended, f.events.last().Type)

	_, err = f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 0}, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExtendPassRespectsMaxTimeLimit(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	pass := f.request(t, "s1", "library")

	for _, minutes := range []int{26, 200_000_000} {
		_, err := f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: minutes}, student("s1"))
		assert.ErrorIs(t, err, appErrors.ErrValidation, "additional_minutes=%d", minutes)
	}

	unchanged, err := f.store.GetByID(ctx, pass.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, unchanged.TimeLimitMinutes)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *unchanged.ExpectedReturnAt)

	extended, err := f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 25}, student("s1"))
	require.NoError(t, err)
	assert.Equal(t, 30, extended.TimeLimitMinutes)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), *extended.ExpectedReturnAt)
}

// lockstepReads holds the next n GetByID callers until all of them have read,
// so they all decide on the same version of the pass.
type lockstepReads struct {
	*repository.MemoryPassStore
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func (s *lockstepReads) hold(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = n
	s.release = make(chan struct{})
}

func (s *lockstepReads) GetByID(ctx context.Context, id string) (*models.Pass, error) {
	pass, err := s.MemoryPassStore.GetByID(ctx, id)

	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return pass, err
	}
	s.pending--
	if s.pending == 0 {
		close(s.release)
	}
	release := s.release
	s.mu.Unlock()

	select {
	case <-release:
	case <-time.After(2 * time.Second):
	}
	return pass, err
}

func TestConcurrentExtendsBothApply(t *testing.T) {
	var reads *lockstepReads
	f := newPassFixture(t, passFixtureOptions{WrapStore: func(store *repository.MemoryPassStore) passStore {
		reads = &lockstepReads{MemoryPassStore: store}
		return reads
	}})
	ctx := context.Background()
	pass := f.request(t, "s1", "library")
	reads.hold(2)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 5}, teacher("t1"))
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	current, err := f.store.GetByID(ctx, pass.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, current.TimeLimitMinutes)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *current.ExpectedReturnAt)
	assert.Equal(t, int64(3), current.Version)
	assert.Equal(t, 2, f.events.count(models.PassEventExtended))
}

func TestExtendOvertimePassRestartsCountdown(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	pass := f.request(t, "s1", "library")

	f.clock.Advance(20 * time.Minute)
	monitor := NewOvertimeMonitor(f.store, f.events, nil, nil, time.Minute)
	monitor.now = f.clock.Now
	result, err := monitor.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Flagged)

	extended, err := f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 5}, teacher("t1"))
	require.NoError(t, err)
	assert.Equal(t, models.PassStatusOvertime, extended.Status)
	assert.Equal(t, 10, extended.TimeLimitMinutes)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *extended.ExpectedReturnAt)

	_, err = f.svc.EndPass(ctx, pass.ID, teacher("t1"))
	require.NoError(t, err)
	_, err = f.svc.ExtendPass(ctx, pass.ID, dto.ExtendPassRequest{AdditionalMinutes: 5}, teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrInvalidTransition)
}

func TestPassReadsAuthorization(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	pass := f.request(t, "s1", "library")

	got, err := f.svc.Get(ctx, pass.ID, student("s1"))
	require.NoError(t, err)
	assert.Equal(t, pass.ID, got.ID)

	_, err = f.svc.Get(ctx, pass.ID, student("s2"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	active, err := f.svc.ActivePass(ctx, "", student("s1"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, pass.ID, active.ID)

	none, err := f.svc.ActivePass(ctx, "s3", teacher("t1"))
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.svc.ActivePass(ctx, "", teacher("t1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.History(ctx, dto.HistoryQuery{StudentID: "s1"}, student("s2"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	history, err := f.svc.History(ctx, dto.HistoryQuery{StudentID: "s1", Limit: 10}, teacher("t1"))
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHallMonitorBoards(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()

	late := f.request(t, "s1", "library")
	f.clock.Advance(2 * time.Minute)
	f.request(t, "s3", "restroom-a")
	f.request(t, "c9", "nurse")

	_, err := f.svc.HallMonitor(ctx, student("s1"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	entries, err := f.svc.HallMonitor(ctx, teacher("t1"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, late.ID, entries[0].ID)
	assert.Equal(t, "Ana", entries[0].StudentName)
	assert.Equal(t, "Library", entries[0].DestinationName)
	assert.Equal(t, "Room 101", entries[0].OriginName)
	assert.Equal(t, int64(180), entries[0].RemainingSeconds)
	assert.Equal(t, "Citra", entries[1].StudentName)

	f.clock.Advance(5 * time.Minute)
	monitor := NewOvertimeMonitor(f.store, f.events, nil, nil, time.Minute)
	monitor.now = f.clock.Now
	_, err = monitor.Tick(ctx)
	require.NoError(t, err)

	overtime, err := f.svc.Overtime(ctx, teacher("t1"))
	require.NoError(t, err)
	require.Len(t, overtime, 1)
	assert.Equal(t, late.ID, overtime[0].ID)
	assert.Equal(t, int64(-120), overtime[0].RemainingSeconds)
}

func TestCapacityStatus(t *testing.T) {
	f := newPassFixture(t, passFixtureOptions{})
	ctx := context.Background()
	f.request(t, "s1", "restroom-a")
	f.request(t, "s3", "restroom-a")

	statuses, err := f.svc.CapacityStatus(ctx, teacher("t1"))
	require.NoError(t, err)
	require.Len(t, statuses, 4)

	byID := map[string]dto.LocationCapacityStatus{}
	for _, s := range statuses {
		byID[s.LocationID] = s
	}
	restroom := byID["restroom-a"]
	assert.Equal(t, 2, restroom.Occupants)
	require.NotNil(t, restroom.Remaining)
	assert.Equal(t, 0, *restroom.Remaining)
	assert.False(t, restroom.Unlimited)
	assert.True(t, byID["library"].Unlimited)
	assert.Nil(t, byID["library"].Remaining)
	assert.True(t, byID["nurse"].RequiresApproval)
	assert.Equal(t, "Library", statuses[0].Name)
}
