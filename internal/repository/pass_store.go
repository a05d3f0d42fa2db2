package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/noah-isme/hallpass-api/internal/models"
)

var (
	// ErrStaleState means the pass no longer matched its guard when the update ran.
	ErrStaleState = errors.New("pass changed concurrently")
	// ErrPassNotFound means no pass exists with the id.
	ErrPassNotFound = errors.New("pass not found")
	// ErrLockTimeout means a scope lock could not be acquired in time.
	ErrLockTimeout = errors.New("timed out acquiring pass scope lock")
	// ErrOpenPassExists means the one-open-pass-per-student constraint rejected an insert.
	ErrOpenPassExists = errors.New("student already has an open pass")
)

// StudentLockKey names the lock guarding a student's open pass.
func StudentLockKey(studentID string) string { return "student:" + studentID }

// LocationLockKey names the lock guarding a location's capacity.
func LocationLockKey(locationID string) string { return "location:" + locationID }

// GroupLockKey names the lock guarding an encounter group.
func GroupLockKey(groupID string) string { return "group:" + groupID }

// LockScope is the set of keys a decision must hold. Keys are always acquired in
// sorted order so overlapping scopes cannot deadlock.
type LockScope struct {
	keys []string
}

// NewLockScope builds a deduplicated, sorted scope.
func NewLockScope(keys ...string) LockScope {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return LockScope{keys: out}
}

// Keys returns the ordered keys.
func (s LockScope) Keys() []string {
	return append([]string(nil), s.keys...)
}

// PassGuard is the row state a transition was decided on. The update only
// lands while both status and version still match.
type PassGuard struct {
	Status  models.PassStatus
	Version int64
}

// GuardOf captures the guard for a pass as it was read.
func GuardOf(p *models.Pass) PassGuard {
	return PassGuard{Status: p.Status, Version: p.Version}
}

// PassUpdate lists the columns a transition writes. Nil fields are left untouched.
type PassUpdate struct {
	Status           *models.PassStatus
	ApprovedAt       *time.Time
	ExpectedReturnAt *time.Time
	EndedAt          *time.Time
	OvertimeAt       *time.Time
	TimeLimitMinutes *int
	ApproverID       *string
	DenialReason     *string
}

// Apply copies the set fields onto p and bumps its version.
func (u PassUpdate) Apply(p *models.Pass) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.ApprovedAt != nil {
		t := *u.ApprovedAt
		p.ApprovedAt = &t
	}
	if u.ExpectedReturnAt != nil {
		t := *u.ExpectedReturnAt
		p.ExpectedReturnAt = &t
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		p.EndedAt = &t
	}
	if u.OvertimeAt != nil {
		t := *u.OvertimeAt
		p.OvertimeAt = &t
	}
	if u.TimeLimitMinutes != nil {
		p.TimeLimitMinutes = *u.TimeLimitMinutes
	}
	if u.ApproverID != nil {
		v := *u.ApproverID
		p.ApproverID = &v
	}
	if u.DenialReason != nil {
		v := *u.DenialReason
		p.DenialReason = &v
	}
	p.Version++
}

// PassReader answers the live questions admission asks. It is implemented both
// inside a scope transaction and directly by the store.
type PassReader interface {
	OpenPassForStudent(ctx context.Context, studentID string) (*models.Pass, error)
	CountOccupants(ctx context.Context, locationID string) (int, error)
	ActiveStudents(ctx context.Context, studentIDs []string) ([]string, error)
}

// PassTx is the view of the store available while a scope is held.
type PassTx interface {
	PassReader
	CountRequestedSince(ctx context.Context, studentID string, since time.Time) (int, error)
	GetByID(ctx context.Context, id string) (*models.Pass, error)
	Insert(ctx context.Context, pass *models.Pass) error
	Transition(ctx context.Context, id string, guard PassGuard, update PassUpdate) (*models.Pass, error)
}

// PassStore is the durable pass record shared by admission, the overtime sweep and dashboards.
type PassStore interface {
	PassReader
	GetByID(ctx context.Context, id string) (*models.Pass, error)
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Pass, error)
	ListByLocation(ctx context.Context, locationID string, statuses ...models.PassStatus) ([]models.Pass, error)
	ListByStatus(ctx context.Context, statuses ...models.PassStatus) ([]models.Pass, error)
	ListOverdue(ctx context.Context, now time.Time) ([]models.Pass, error)
	OccupancyByLocation(ctx context.Context) (map[string]int, error)
	Transition(ctx context.Context, id string, guard PassGuard, update PassUpdate) (*models.Pass, error)
	RunInScope(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx PassTx) error) error
}
