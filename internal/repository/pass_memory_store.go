package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// MemoryPassStore is an in-process PassStore with the same locking contract as
// PassRepository. Scope locks are per-key semaphores taken in sorted order with
// a timeout. Writes made inside a scope are rolled back if the callback fails.
type MemoryPassStore struct {
	mu     sync.RWMutex
	passes map[string]*models.Pass
	order  []string

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
}

// NewMemoryPassStore builds an empty store.
func NewMemoryPassStore(lockTimeout time.Duration) *MemoryPassStore {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &MemoryPassStore{
		passes:      make(map[string]*models.Pass),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
	}
}

// RunInScope holds every key in scope while fn runs.
func (s *MemoryPassStore) RunInScope(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx PassTx) error) error {
	release, err := s.acquire(ctx, scope.Keys())
	if err != nil {
		return err
	}
	defer release()

	tx := &memoryPassTx{store: s, undo: make(map[string]*models.Pass)}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryPassStore) acquire(ctx context.Context, keys []string) (func(), error) {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	held := make([]chan struct{}, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range keys {
		sem := s.semaphore(key)
		select {
		case sem <- struct{}{}:
			held = append(held, sem)
		case <-timer.C:
			release()
			return nil, ErrLockTimeout
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (s *MemoryPassStore) semaphore(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[key] = sem
	}
	return sem
}

// GetByID loads a pass.
func (s *MemoryPassStore) GetByID(_ context.Context, id string) (*models.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pass, ok := s.passes[id]
	if !ok {
		return nil, ErrPassNotFound
	}
	return pass.Clone(), nil
}

// OpenPassForStudent returns the student's open pass, or nil.
func (s *MemoryPassStore) OpenPassForStudent(_ context.Context, studentID string) (*models.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pass := s.openPassLocked(studentID); pass != nil {
		return pass.Clone(), nil
	}
	return nil, nil
}

// CountOccupants counts ACTIVE and OVERTIME passes at the destination.
func (s *MemoryPassStore) CountOccupants(_ context.Context, locationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, pass := range s.passes {
		if pass.DestinationLocationID == locationID && pass.Status.Occupying() {
			count++
		}
	}
	return count, nil
}

// ActiveStudents returns which of studentIDs are currently out, sorted.
func (s *MemoryPassStore) ActiveStudents(_ context.Context, studentIDs []string) ([]string, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[string]struct{})
	for _, pass := range s.passes {
		if _, ok := wanted[pass.StudentID]; ok && pass.Status.Occupying() {
			found[pass.StudentID] = struct{}{}
		}
	}
	out := make([]string, 0, len(found))
	for id := range found {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ListByStudent returns the newest passes for a student first.
func (s *MemoryPassStore) ListByStudent(_ context.Context, studentID string, limit int) ([]models.Pass, error) {
	out := s.filter(func(p *models.Pass) bool { return p.StudentID == studentID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByLocation returns passes heading to locationID, optionally filtered by status.
func (s *MemoryPassStore) ListByLocation(_ context.Context, locationID string, statuses ...models.PassStatus) ([]models.Pass, error) {
	return s.filter(func(p *models.Pass) bool {
		return p.DestinationLocationID == locationID && (len(statuses) == 0 || hasStatus(statuses, p.Status))
	}), nil
}

// ListByStatus returns every pass in one of statuses.
func (s *MemoryPassStore) ListByStatus(_ context.Context, statuses ...models.PassStatus) ([]models.Pass, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return s.filter(func(p *models.Pass) bool { return hasStatus(statuses, p.Status) }), nil
}

// ListOverdue returns ACTIVE passes whose expected return is before now.
func (s *MemoryPassStore) ListOverdue(_ context.Context, now time.Time) ([]models.Pass, error) {
	out := s.filter(func(p *models.Pass) bool { return p.Overdue(now) })
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpectedReturnAt.Before(*out[j].ExpectedReturnAt) })
	return out, nil
}

// OccupancyByLocation counts ACTIVE and OVERTIME passes per destination.
func (s *MemoryPassStore) OccupancyByLocation(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, pass := range s.passes {
		if pass.Status.Occupying() {
			out[pass.DestinationLocationID]++
		}
	}
	return out, nil
}

// Transition applies update only while the pass still matches guard.
func (s *MemoryPassStore) Transition(_ context.Context, id string, guard PassGuard, update PassUpdate) (*models.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, next, err := s.transitionLocked(id, guard, update)
	return next, err
}

func (s *MemoryPassStore) transitionLocked(id string, guard PassGuard, update PassUpdate) (*models.Pass, *models.Pass, error) {
	current, ok := s.passes[id]
	if !ok {
		return nil, nil, ErrPassNotFound
	}
	if current.Status != guard.Status || current.Version != guard.Version {
		return nil, nil, ErrStaleState
	}
	previous := current.Clone()
	update.Apply(current)
	return previous, current.Clone(), nil
}

func (s *MemoryPassStore) insertLocked(pass *models.Pass) error {
	if pass.Status.Open() && s.openPassLocked(pass.StudentID) != nil {
		return ErrOpenPassExists
	}
	stored := pass.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	s.passes[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	return nil
}

func (s *MemoryPassStore) openPassLocked(studentID string) *models.Pass {
	for _, pass := range s.passes {
		if pass.StudentID == studentID && pass.Status.Open() {
			return pass
		}
	}
	return nil
}

func (s *MemoryPassStore) filter(keep func(*models.Pass) bool) []models.Pass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Pass, 0)
	for _, id := range s.order {
		if pass := s.passes[id]; keep(pass) {
			out = append(out, *pass.Clone())
		}
	}
	return out
}

func hasStatus(statuses []models.PassStatus, status models.PassStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type memoryPassTx struct {
	store *MemoryPassStore
	// undo keeps the pre-scope value of every touched pass; nil marks an insert.
	undo map[string]*models.Pass
}

func (t *memoryPassTx) OpenPassForStudent(ctx context.Context, studentID string) (*models.Pass, error) {
	return t.store.OpenPassForStudent(ctx, studentID)
}

func (t *memoryPassTx) CountOccupants(ctx context.Context, locationID string) (int, error) {
	return t.store.CountOccupants(ctx, locationID)
}

func (t *memoryPassTx) ActiveStudents(ctx context.Context, studentIDs []string) ([]string, error) {
	return t.store.ActiveStudents(ctx, studentIDs)
}

func (t *memoryPassTx) GetByID(ctx context.Context, id string) (*models.Pass, error) {
	return t.store.GetByID(ctx, id)
}

func (t *memoryPassTx) CountRequestedSince(_ context.Context, studentID string, since time.Time) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	count := 0
	for _, pass := range t.store.passes {
		if pass.StudentID == studentID && !pass.RequestedAt.Before(since) && pass.Status != models.PassStatusDenied {
			count++
		}
	}
	return count, nil
}

func (t *memoryPassTx) Insert(_ context.Context, pass *models.Pass) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if err := t.store.insertLocked(pass); err != nil {
		return err
	}
	if _, seen := t.undo[pass.ID]; !seen {
		t.undo[pass.ID] = nil
	}
	return nil
}

func (t *memoryPassTx) Transition(_ context.Context, id string, guard PassGuard, update PassUpdate) (*models.Pass, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	previous, next, err := t.store.transitionLocked(id, guard, update)
	if err != nil {
		return nil, err
	}
	if _, seen := t.undo[id]; !seen {
		t.undo[id] = previous
	}
	return next, nil
}

func (t *memoryPassTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, previous := range t.undo {
		if previous != nil {
			t.store.passes[id] = previous
			continue
		}
		delete(t.store.passes, id)
		for i, existing := range t.store.order {
			if existing == id {
				t.store.order = append(t.store.order[:i], t.store.order[i+1:]...)
				break
			}
		}
	}
}
