package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/dto"
	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/internal/repository"
	appErrors "github.com/noah-isme/hallpass-api/pkg/errors"
)

type passStore interface {
	GetByID(ctx context.Context, id string) (*models.Pass, error)
	OpenPassForStudent(ctx context.Context, studentID string) (*models.Pass, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Pass, error)
	ListByStatus(ctx context.Context, statuses ...models.PassStatus) ([]models.Pass, error)
	OccupancyByLocation(ctx context.Context) (map[string]int, error)
	Transition(ctx context.Context, id string, guard repository.PassGuard, update repository.PassUpdate) (*models.Pass, error)
	RunInScope(ctx context.Context, scope repository.LockScope, fn func(ctx context.Context, tx repository.PassTx) error) error
}

type studentDirectory interface {
	NamesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

type passEventPublisher interface {
	Publish(ctx context.Context, eventType models.PassEventType, pass *models.Pass)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.PassEventType, *models.Pass) {}

// PassServiceConfig tunes admission limits.
type PassServiceConfig struct {
	DailyLimit       int
	DefaultTimeLimit int
	MaxTimeLimit     int
	MaxRetries       int
	RetryBackoff     time.Duration
	Location         *time.Location
}

// PassServiceParams groups the collaborators of PassService.
type PassServiceParams struct {
	Store       passStore
	Constraints *ConstraintRegistry
	Students    studentDirectory
	Events      passEventPublisher
	Validator   *validator.Validate
	Metrics     *MetricsService
	Logger      *zap.Logger
	Config      PassServiceConfig
	Now         func() time.Time
}

// PassService is the admission controller. Every decision that reads shared
// state and then writes runs inside one store scope holding the student, the
// destination and the student's encounter groups.
type PassService struct {
	store       passStore
	constraints *ConstraintRegistry
	students    studentDirectory
	events      passEventPublisher
	validator   *validator.Validate
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         PassServiceConfig
	now         func() time.Time
}

// NewPassService constructs the service.
func NewPassService(params PassServiceParams) *PassService {
	cfg := params.Config
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = 5
	}
	if cfg.MaxTimeLimit <= 0 {
		cfg.MaxTimeLimit = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	events := params.Events
	if events == nil {
		events = noopPublisher{}
	}
	return &PassService{
		store:       params.Store,
		constraints: params.Constraints,
		students:    params.Students,
		events:      events,
		validator:   validate,
		metrics:     params.Metrics,
		logger:      logger,
		cfg:         cfg,
		now:         now,
	}
}

// RequestPass runs admission for a new pass. Checks run in a fixed order and the
// first failure is returned: duplicate, daily limit, no-fly window, capacity,
// encounter conflict.
func (s *PassService) RequestPass(ctx context.Context, req dto.RequestPassRequest, actor *models.JWTClaims) (*models.Pass, error) {
	const op = "request"
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pass request")
	}
	studentID, err := s.requestingStudent(req, actor)
	if err != nil {
		return nil, err
	}

	snap, err := s.constraints.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.Location(req.Origin); !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("origin %s not found", req.Origin))
	}
	destination, ok := snap.Location(req.Destination)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("destination %s not found", req.Destination))
	}
	limit := req.TimeLimitMinutes
	if limit == 0 {
		limit = destination.DefaultTimeLimitMinutes
	}
	if limit <= 0 {
		limit = s.cfg.DefaultTimeLimit
	}
	if limit > s.cfg.MaxTimeLimit {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("time limit cannot exceed %d minutes", s.cfg.MaxTimeLimit))
	}

	var created *models.Pass
	err = s.withRetry(ctx, op, func() error {
		created = nil
		return s.inScope(ctx, op, s.scopeFor(snap, studentID, destination.ID), func(ctx context.Context, tx repository.PassTx) error {
			now := s.now().UTC()
			if err := s.admit(ctx, tx, snap, studentID, destination, now); err != nil {
				return err
			}

			pass := &models.Pass{
				ID:                    uuid.NewString(),
				StudentID:             studentID,
				OriginLocationID:      req.Origin,
				DestinationLocationID: destination.ID,
				Status:                models.PassStatusPending,
				RequestedAt:           now,
				TimeLimitMinutes:      limit,
				RequestedBy:           actor.UserID,
				Version:               1,
			}
			if !destination.RequiresApproval {
				expected := now.Add(time.Duration(limit) * time.Minute)
				pass.Status = models.PassStatusActive
				pass.ApprovedAt = &now
				pass.ExpectedReturnAt = &expected
			}
			if err := tx.Insert(ctx, pass); err != nil {
				return err
			}
			created = pass
			return nil
		})
	})
	if err != nil {
		err = s.mapError(err)
		s.recordOutcome(op, err)
		return nil, err
	}

	if created.Status == models.PassStatusActive {
		s.metrics.RecordAdmission(op, OutcomeAdmitted, "")
		s.events.Publish(ctx, models.PassEventApproved, created)
	} else {
		s.metrics.RecordAdmission(op, OutcomePending, "")
		s.events.Publish(ctx, models.PassEventCreated, created)
	}
	s.logger.Info("pass requested",
		zap.String("pass_id", created.ID),
		zap.String("student_id", studentID),
		zap.String("destination", destination.ID),
		zap.String("status", string(created.Status)))
	return created, nil
}

func (s *PassService) admit(ctx context.Context, tx repository.PassTx, snap *models.ConstraintSnapshot, studentID string, destination models.Location, now time.Time) error {
	open, err := tx.OpenPassForStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if open != nil {
		return appErrors.Clone(appErrors.ErrDuplicatePass, fmt.Sprintf("student already has an open pass (%s)", open.ID))
	}

	if s.cfg.DailyLimit > 0 {
		count, err := tx.CountRequestedSince(ctx, studentID, s.startOfDay(now))
		if err != nil {
			return err
		}
		if count >= s.cfg.DailyLimit {
			return appErrors.Clone(appErrors.ErrDailyLimitExceeded, fmt.Sprintf("daily limit of %d passes reached", s.cfg.DailyLimit))
		}
	}

	if s.constraints.IsNoFlyActive(snap, destination.ID, now) {
		return appErrors.Clone(appErrors.ErrNoFlyWindow, fmt.Sprintf("passes to %s are blocked right now", destination.Name))
	}

	return s.checkShared(ctx, tx, snap, studentID, destination)
}

// checkShared evaluates the constraints that depend on other students: capacity
// and encounter groups. It is re-run at approval time.
func (s *PassService) checkShared(ctx context.Context, tx repository.PassTx, snap *models.ConstraintSnapshot, studentID string, destination models.Location) error {
	remaining, unlimited, err := s.constraints.CapacityRemaining(ctx, tx, snap, destination.ID)
	if err != nil {
		return err
	}
	if !unlimited && remaining == 0 {
		return appErrors.Clone(appErrors.ErrCapacityFull, fmt.Sprintf("%s is at capacity (%d)", destination.Name, *destination.MaxCapacity))
	}

	conflicts, err := s.constraints.ConflictingActiveStudents(ctx, tx, snap, studentID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return appErrors.Clone(appErrors.ErrEncounterConflict, "a student you may not be out with is currently on a pass")
	}
	return nil
}

// ApprovePass activates a PENDING pass. Capacity and encounter rules are checked
// again under the scope; if they fail the pass is denied instead and returned
// with its denial reason.
func (s *PassService) ApprovePass(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error) {
	const op = "approve"
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	pass, err := s.store.GetByID(ctx, passID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if _, ok := pass.Status.Next(models.PassActionApprove); !ok {
		return nil, invalidTransition(pass.Status, models.PassActionApprove)
	}

	snap, err := s.constraints.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	destination, ok := snap.Location(pass.DestinationLocationID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("destination %s not found", pass.DestinationLocationID))
	}

	var (
		result   *models.Pass
		rejected *appErrors.Error
	)
	err = s.withRetry(ctx, op, func() error {
		result, rejected = nil, nil
		return s.inScope(ctx, op, s.scopeFor(snap, pass.StudentID, destination.ID), func(ctx context.Context, tx repository.PassTx) error {
			current, err := tx.GetByID(ctx, passID)
			if err != nil {
				return err
			}
			if current.Status != models.PassStatusPending {
				return invalidTransition(current.Status, models.PassActionApprove)
			}

			now := s.now().UTC()
			approver := actor.UserID
			if err := s.checkShared(ctx, tx, snap, current.StudentID, destination); err != nil {
				var appErr *appErrors.Error
				if !errors.As(err, &appErr) || (appErr.Code != appErrors.ErrCapacityFull.Code && appErr.Code != appErrors.ErrEncounterConflict.Code) {
					return err
				}
				denied := models.PassStatusDenied
				reason := appErr.Code
				result, err = tx.Transition(ctx, passID, repository.GuardOf(current), repository.PassUpdate{
					Status:       &denied,
					ApproverID:   &approver,
					DenialReason: &reason,
				})
				rejected = appErr
				return err
			}

			active := models.PassStatusActive
			expected := now.Add(time.Duration(current.TimeLimitMinutes) * time.Minute)
			result, err = tx.Transition(ctx, passID, repository.GuardOf(current), repository.PassUpdate{
				Status:           &active,
				ApprovedAt:       &now,
				ExpectedReturnAt: &expected,
				ApproverID:       &approver,
			})
			return err
		})
	})
	if err != nil {
		err = s.mapError(err)
		s.recordOutcome(op, err)
		return nil, err
	}

	s.metrics.RecordTransition(string(models.PassStatusPending), string(result.Status))
	if rejected != nil {
		s.metrics.RecordAdmission(op, OutcomeRejected, rejected.Code)
		s.events.Publish(ctx, models.PassEventRejected, result)
		s.logger.Info("pass denied at approval", zap.String("pass_id", passID), zap.String("reason", rejected.Code))
		return result, nil
	}
	s.metrics.RecordAdmission(op, OutcomeAdmitted, "")
	s.events.Publish(ctx, models.PassEventApproved, result)
	s.logger.Info("pass approved", zap.String("pass_id", passID), zap.String("approver_id", actor.UserID))
	return result, nil
}

// DenyPass rejects a PENDING pass.
func (s *PassService) DenyPass(ctx context.Context, passID string, req dto.DenyPassRequest, actor *models.JWTClaims) (*models.Pass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deny payload")
	}
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = "DENIED_BY_STAFF"
	}
	approver := actor.UserID

	pass, previous, err := s.transition(ctx, passID, models.PassActionDeny, actor, func(current *models.Pass, now time.Time) (repository.PassUpdate, error) {
		denied := models.PassStatusDenied
		return repository.PassUpdate{Status: &denied, ApproverID: &approver, DenialReason: &reason}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(previous), string(pass.Status))
	s.events.Publish(ctx, models.PassEventRejected, pass)
	return pass, nil
}

// EndPass closes an ACTIVE or OVERTIME pass, freeing the destination slot.
func (s *PassService) EndPass(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error) {
	pass, previous, err := s.transition(ctx, passID, models.PassActionEnd, actor, func(current *models.Pass, now time.Time) (repository.PassUpdate, error) {
		completed := models.PassStatusCompleted
		return repository.PassUpdate{Status: &completed, EndedAt: &now}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(string(previous), string(pass.Status))
	s.events.Publish(ctx, models.PassEventCompleted, pass)
	return pass, nil
}

// ExtendPass adds minutes to an ACTIVE or OVERTIME pass. An OVERTIME pass keeps
// its status and its countdown restarts from now. The extended time limit may
// not exceed the configured maximum.
func (s *PassService) ExtendPass(ctx context.Context, passID string, req dto.ExtendPassRequest, actor *models.JWTClaims) (*models.Pass, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "additional_minutes must be between 1 and 1440")
	}
	if req.AdditionalMinutes > s.cfg.MaxTimeLimit {
		return nil, extendLimitError(s.cfg.MaxTimeLimit)
	}
	add := time.Duration(req.AdditionalMinutes) * time.Minute

	pass, _, err := s.transition(ctx, passID, "", actor, func(current *models.Pass, now time.Time) (repository.PassUpdate, error) {
		if !current.Status.Extendable() {
			return repository.PassUpdate{}, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot extend a %s pass", current.Status))
		}
		limit := current.TimeLimitMinutes + req.AdditionalMinutes
		if limit > s.cfg.MaxTimeLimit {
			return repository.PassUpdate{}, extendLimitError(s.cfg.MaxTimeLimit)
		}
		var expected time.Time
		switch {
		case current.Status == models.PassStatusOvertime || current.ExpectedReturnAt == nil:
			expected = now.Add(add)
		default:
			expected = current.ExpectedReturnAt.Add(add)
		}
		return repository.PassUpdate{ExpectedReturnAt: &expected, TimeLimitMinutes: &limit}, nil
	})
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, models.PassEventExtended, pass)
	return pass, nil
}

func extendLimitError(limit int) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("a pass cannot be extended beyond %d minutes", limit))
}

// transition applies a compare-and-set update to a single pass. A concurrent
// change is re-read once and the transition re-validated before STALE_STATE is
// surfaced. An empty action skips the status table check.
func (s *PassService) transition(ctx context.Context, passID string, action models.PassAction, actor *models.JWTClaims, build func(current *models.Pass, now time.Time) (repository.PassUpdate, error)) (*models.Pass, models.PassStatus, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.store.GetByID(ctx, passID)
		if err != nil {
			return nil, "", s.mapError(err)
		}
		if err := authorizePassAccess(current, actor); err != nil {
			return nil, "", err
		}
		if action != "" {
			if _, ok := current.Status.Next(action); !ok {
				return nil, "", invalidTransition(current.Status, action)
			}
		}
		update, err := build(current, s.now().UTC())
		if err != nil {
			return nil, "", err
		}
		updated, err := s.store.Transition(ctx, passID, repository.GuardOf(current), update)
		if errors.Is(err, repository.ErrStaleState) {
			s.logger.Debug("pass changed during transition, re-reading", zap.String("pass_id", passID))
			continue
		}
		if err != nil {
			return nil, "", s.mapError(err)
		}
		return updated, current.Status, nil
	}
	return nil, "", appErrors.ErrStaleState
}

// Get returns a single pass.
func (s *PassService) Get(ctx context.Context, passID string, actor *models.JWTClaims) (*models.Pass, error) {
	pass, err := s.store.GetByID(ctx, passID)
	if err != nil {
		return nil, s.mapError(err)
	}
	if err := authorizePassAccess(pass, actor); err != nil {
		return nil, err
	}
	return pass, nil
}

// ActivePass returns the student's open pass or nil. Students read their own;
// staff name the student.
func (s *PassService) ActivePass(ctx context.Context, studentID string, actor *models.JWTClaims) (*models.Pass, error) {
	target, err := resolveStudent(studentID, actor)
	if err != nil {
		return nil, err
	}
	pass, err := s.store.OpenPassForStudent(ctx, target)
	if err != nil {
		return nil, s.mapError(err)
	}
	return pass, nil
}

// History lists a student's passes, newest first.
func (s *PassService) History(ctx context.Context, query dto.HistoryQuery, actor *models.JWTClaims) ([]models.Pass, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid history query")
	}
	target, err := resolveStudent(query.StudentID, actor)
	if err != nil {
		return nil, err
	}
	passes, err := s.store.ListByStudent(ctx, target, query.Limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	return passes, nil
}

// HallMonitor lists every student currently out, soonest due first.
func (s *PassService) HallMonitor(ctx context.Context, actor *models.JWTClaims) ([]dto.HallMonitorEntry, error) {
	return s.board(ctx, actor, models.OccupyingPassStatuses...)
}

// Overtime lists passes flagged OVERTIME.
func (s *PassService) Overtime(ctx context.Context, actor *models.JWTClaims) ([]dto.HallMonitorEntry, error) {
	return s.board(ctx, actor, models.PassStatusOvertime)
}

func (s *PassService) board(ctx context.Context, actor *models.JWTClaims, statuses ...models.PassStatus) ([]dto.HallMonitorEntry, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	passes, err := s.store.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, s.mapError(err)
	}
	snap, err := s.constraints.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	studentIDs := make([]string, 0, len(passes))
	for _, p := range passes {
		studentIDs = append(studentIDs, p.StudentID)
	}
	names := map[string]string{}
	if s.students != nil && len(studentIDs) > 0 {
		if names, err = s.students.NamesByIDs(ctx, studentIDs); err != nil {
			s.logger.Warn("student names unavailable for hall monitor", zap.Error(err))
			names = map[string]string{}
		}
	}

	now := s.now().UTC()
	entries := make([]dto.HallMonitorEntry, 0, len(passes))
	for _, p := range passes {
		origin, _ := snap.Location(p.OriginLocationID)
		destination, _ := snap.Location(p.DestinationLocationID)
		entries = append(entries, dto.HallMonitorEntry{
			Pass:             p,
			StudentName:      names[p.StudentID],
			OriginName:       origin.Name,
			DestinationName:  destination.Name,
			RemainingSeconds: p.RemainingSeconds(now),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].RemainingSeconds < entries[j].RemainingSeconds })
	return entries, nil
}

// CapacityStatus reports live occupancy for every location.
func (s *PassService) CapacityStatus(ctx context.Context, actor *models.JWTClaims) ([]dto.LocationCapacityStatus, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	snap, err := s.constraints.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	occupancy, err := s.store.OccupancyByLocation(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}

	now := s.now()
	out := make([]dto.LocationCapacityStatus, 0, len(snap.Locations))
	for _, loc := range snap.Locations {
		status := dto.LocationCapacityStatus{
			LocationID:       loc.ID,
			Name:             loc.Name,
			MaxCapacity:      loc.MaxCapacity,
			Occupants:        occupancy[loc.ID],
			Unlimited:        loc.Unlimited(),
			RequiresApproval: loc.RequiresApproval,
			NoFlyActive:      s.constraints.IsNoFlyActive(snap, loc.ID, now),
		}
		if !loc.Unlimited() {
			remaining := *loc.MaxCapacity - status.Occupants
			if remaining < 0 {
				remaining = 0
			}
			status.Remaining = &remaining
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *PassService) scopeFor(snap *models.ConstraintSnapshot, studentID, destinationID string) repository.LockScope {
	keys := []string{repository.StudentLockKey(studentID), repository.LocationLockKey(destinationID)}
	for _, groupID := range snap.GroupsFor(studentID) {
		keys = append(keys, repository.GroupLockKey(groupID))
	}
	return repository.NewLockScope(keys...)
}

func (s *PassService) inScope(ctx context.Context, op string, scope repository.LockScope, fn func(ctx context.Context, tx repository.PassTx) error) error {
	start := time.Now()
	defer func() { s.metrics.ObserveScope(op, time.Since(start)) }()
	return s.store.RunInScope(ctx, scope, fn)
}

// withRetry retries fn while the scope lock times out, then gives up with CONCURRENCY_ERROR.
func (s *PassService) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrLockTimeout) {
			return err
		}
		if attempt >= s.cfg.MaxRetries {
			s.logger.Warn("admission gave up after lock timeouts", zap.String("operation", op), zap.Int("attempts", attempt+1))
			return appErrors.Wrap(err, appErrors.ErrConcurrency.Code, appErrors.ErrConcurrency.Status, appErrors.ErrConcurrency.Message)
		}
		s.metrics.RecordConcurrencyRetry(op)

		timer := time.NewTimer(s.cfg.RetryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return appErrors.Wrap(ctx.Err(), appErrors.ErrConcurrency.Code, appErrors.ErrConcurrency.Status, appErrors.ErrConcurrency.Message)
		case <-timer.C:
		}
	}
}

func (s *PassService) recordOutcome(op string, err error) {
	appErr := appErrors.FromError(err)
	outcome := OutcomeRejected
	if appErr.Status >= 500 {
		outcome = OutcomeError
	}
	s.metrics.RecordAdmission(op, outcome, appErr.Code)
	if outcome == OutcomeError {
		s.logger.Error("admission failed", zap.String("operation", op), zap.Error(err))
	}
}

func (s *PassService) mapError(err error) error {
	var appErr *appErrors.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, repository.ErrPassNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "pass not found")
	case errors.Is(err, repository.ErrStaleState):
		return appErrors.ErrStaleState
	case errors.Is(err, repository.ErrOpenPassExists):
		return appErrors.ErrDuplicatePass
	case errors.Is(err, repository.ErrLockTimeout):
		return appErrors.Wrap(err, appErrors.ErrConcurrency.Code, appErrors.ErrConcurrency.Status, appErrors.ErrConcurrency.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, appErrors.ErrInternal.Message)
	}
}

func (s *PassService) startOfDay(t time.Time) time.Time {
	local := t.In(s.cfg.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
}

func (s *PassService) requestingStudent(req dto.RequestPassRequest, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	switch {
	case actor.Role == models.RoleStudent:
		if req.StudentID != "" && req.StudentID != actor.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only request passes for themselves")
		}
		return actor.UserID, nil
	case actor.IsStaff():
		if req.StudentID == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required when staff request a pass")
		}
		return req.StudentID, nil
	default:
		return "", appErrors.ErrForbidden
	}
}

func resolveStudent(studentID string, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleStudent {
		if studentID != "" && studentID != actor.UserID {
			return "", appErrors.ErrForbidden
		}
		return actor.UserID, nil
	}
	if !actor.IsStaff() {
		return "", appErrors.ErrForbidden
	}
	if studentID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "studentId is required")
	}
	return studentID, nil
}

func authorizePassAccess(pass *models.Pass, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.IsStaff() || (actor.Role == models.RoleStudent && pass.StudentID == actor.UserID) {
		return nil
	}
	return appErrors.ErrForbidden
}

func requireStaff(actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if !actor.IsStaff() {
		return appErrors.Clone(appErrors.ErrForbidden, "staff role required")
	}
	return nil
}

func invalidTransition(status models.PassStatus, action models.PassAction) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot %s a %s pass", action, status))
}
