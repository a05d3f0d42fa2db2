package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/internal/repository"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
)

const (
	constraintCacheKey     = "hallpass:constraints:snapshot"
	constraintCachePattern = "hallpass:constraints:*"
)

type constraintSource interface {
	LoadSnapshot(ctx context.Context) (*models.ConstraintSnapshot, error)
}

// ConstraintRegistryConfig tunes snapshot refresh.
type ConstraintRegistryConfig struct {
	RefreshInterval time.Duration
	CacheTTL        time.Duration
	Location        *time.Location
}

// ConstraintRegistry serves the current constraint snapshot and evaluates the
// admission predicates against it. Occupancy is always read live from the store.
type ConstraintRegistry struct {
	source  constraintSource
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	config  ConstraintRegistryConfig
	now     func() time.Time

	current atomic.Pointer[models.ConstraintSnapshot]
	loadMu  sync.Mutex
}

// NewConstraintRegistry constructs the registry. cache and metrics may be nil.
func NewConstraintRegistry(source constraintSource, cache *CacheService, metrics *MetricsService, logger *zap.Logger, config ConstraintRegistryConfig) *ConstraintRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 30 * time.Second
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &ConstraintRegistry{
		source:  source,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Snapshot returns the current snapshot, reloading it once it is older than the
// refresh interval. When a reload fails the previous snapshot keeps serving.
func (r *ConstraintRegistry) Snapshot(ctx context.Context) (*models.ConstraintSnapshot, error) {
	if snap := r.current.Load(); r.fresh(snap) {
		return snap, nil
	}

	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	stale := r.current.Load()
	if r.fresh(stale) {
		return stale, nil
	}

	var cached models.ConstraintSnapshot
	if r.cache.Get(ctx, constraintCacheKey, &cached) && r.fresh(&cached) {
		cached.Reindex()
		r.publish(&cached)
		return &cached, nil
	}

	snap, err := r.load(ctx)
	if err != nil {
		if stale != nil {
			r.logger.Warn("constraint reload failed, serving previous snapshot",
				zap.String("version", stale.Version), zap.Error(err))
			return stale, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pass constraints")
	}
	return snap, nil
}

// Refresh drops the shared cached copy and reloads from the source regardless
// of age. A failed reload leaves nothing in the cache for other instances to
// pick up.
func (r *ConstraintRegistry) Refresh(ctx context.Context) (*models.ConstraintSnapshot, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.cache.Invalidate(ctx, constraintCachePattern)
	return r.load(ctx)
}

func (r *ConstraintRegistry) load(ctx context.Context) (*models.ConstraintSnapshot, error) {
	snap, err := r.source.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load constraint snapshot: %w", err)
	}
	snap.LoadedAt = r.now().UTC()
	snap.Reindex()
	r.publish(snap)
	r.cache.Set(ctx, constraintCacheKey, snap, r.config.CacheTTL)
	return snap, nil
}

func (r *ConstraintRegistry) publish(snap *models.ConstraintSnapshot) {
	previous := r.current.Swap(snap)
	if previous == nil || previous.Version != snap.Version {
		r.logger.Info("constraint snapshot loaded",
			zap.String("version", snap.Version),
			zap.Int("locations", len(snap.Locations)),
			zap.Int("groups", len(snap.Groups)),
			zap.Int("windows", len(snap.Windows)))
	}
	r.metrics.RecordConstraintSnapshot(snap.Version, snap.LoadedAt)
}

func (r *ConstraintRegistry) fresh(snap *models.ConstraintSnapshot) bool {
	return snap != nil && r.now().Sub(snap.LoadedAt) < r.config.RefreshInterval
}

// IsNoFlyActive reports whether any window covering locationID is open at now,
// evaluated in the school time zone.
func (r *ConstraintRegistry) IsNoFlyActive(snap *models.ConstraintSnapshot, locationID string, now time.Time) bool {
	if snap == nil {
		return false
	}
	local := now.In(r.config.Location)
	for _, window := range snap.Windows {
		if window.AppliesTo(locationID) && window.ActiveAt(local) {
			return true
		}
	}
	return false
}

// CapacityRemaining returns the free slots at locationID counted from live rows.
// unlimited is true when the location has no ceiling.
func (r *ConstraintRegistry) CapacityRemaining(ctx context.Context, reader repository.PassReader, snap *models.ConstraintSnapshot, locationID string) (remaining int, unlimited bool, err error) {
	loc, ok := snap.Location(locationID)
	if !ok {
		return 0, false, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("location %s not found", locationID))
	}
	if loc.Unlimited() {
		return 0, true, nil
	}
	occupants, err := reader.CountOccupants(ctx, locationID)
	if err != nil {
		return 0, false, err
	}
	remaining = *loc.MaxCapacity - occupants
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}

// ConflictingActiveStudents returns the members of the student's encounter
// groups who are currently out on a pass.
func (r *ConstraintRegistry) ConflictingActiveStudents(ctx context.Context, reader repository.PassReader, snap *models.ConstraintSnapshot, studentID string) ([]string, error) {
	members := snap.GroupMembers(studentID)
	if len(members) == 0 {
		return nil, nil
	}
	return reader.ActiveStudents(ctx, members)
}
