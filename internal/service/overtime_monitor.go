package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/internal/repository"
)

type overtimeStore interface {
	ListOverdue(ctx context.Context, now time.Time) ([]models.Pass, error)
	Transition(ctx context.Context, id string, guard repository.PassGuard, update repository.PassUpdate) (*models.Pass, error)
}

// TickResult summarises one sweep.
type TickResult struct {
	Scanned int
	Flagged int
	Skipped int
}

// OvertimeMonitor periodically flags ACTIVE passes that are past their expected
// return. Each flag is a compare-and-set on status and version, so a pass changed
// by anyone else since the listing is skipped and never produces an event.
type OvertimeMonitor struct {
	store    overtimeStore
	events   passEventPublisher
	metrics  *MetricsService
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOvertimeMonitor constructs the monitor. The interval is clamped to at least one second.
func NewOvertimeMonitor(store overtimeStore, events passEventPublisher, metrics *MetricsService, logger *zap.Logger, interval time.Duration) *OvertimeMonitor {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = noopPublisher{}
	}
	return &OvertimeMonitor{
		store:    store,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Start launches the sweep loop. Calling Start on a running monitor is a no-op.
func (m *OvertimeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.logger.Info("overtime monitor started", zap.Duration("interval", m.interval))
	go m.run(ctx, m.done)
}

// Stop ends the loop and waits for the in-flight sweep to finish.
func (m *OvertimeMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("overtime monitor stopped")
}

func (m *OvertimeMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("overtime sweep failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one sweep.
func (m *OvertimeMonitor) Tick(ctx context.Context) (TickResult, error) {
	now := m.now().UTC()
	overdue, err := m.store.ListOverdue(ctx, now)
	if err != nil {
		return TickResult{}, err
	}

	result := TickResult{Scanned: len(overdue)}
	overtime := models.PassStatusOvertime
	for _, pass := range overdue {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		flaggedAt := now
		// an extend since the listing bumps the version and the flag is skipped
		guard := repository.PassGuard{Status: models.PassStatusActive, Version: pass.Version}
		updated, err := m.store.Transition(ctx, pass.ID, guard, repository.PassUpdate{
			Status:     &overtime,
			OvertimeAt: &flaggedAt,
		})
		switch {
		case errors.Is(err, repository.ErrStaleState), errors.Is(err, repository.ErrPassNotFound):
			result.Skipped++
			m.metrics.RecordOvertime(false)
			continue
		case err != nil:
			result.Skipped++
			m.logger.Warn("failed to flag overtime pass", zap.String("pass_id", pass.ID), zap.Error(err))
			continue
		}

		result.Flagged++
		m.metrics.RecordOvertime(true)
		m.metrics.RecordTransition(string(models.PassStatusActive), string(models.PassStatusOvertime))
		m.events.Publish(ctx, models.PassEventOvertime, updated)
	}

	if result.Flagged > 0 || result.Skipped > 0 {
		m.logger.Info("overtime sweep",
			zap.Int("scanned", result.Scanned),
			zap.Int("flagged", result.Flagged),
			zap.Int("skipped", result.Skipped))
	}
	return result, nil
}
