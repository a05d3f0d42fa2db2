package realtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/models"
	"github.com/noah-isme/hallpass-api/pkg/jobs"
)

const broadcastJobType = "pass_event"

type guardianDirectory interface {
	GuardianIDs(ctx context.Context, studentID string) ([]string, error)
}

type alertReader interface {
	ActiveAlert(ctx context.Context) (*models.EmergencyAlert, error)
}

// Relay carries events to every instance. Without one the broadcaster delivers
// to the local hub only.
type Relay interface {
	Publish(ctx context.Context, event Event) error
}

// BroadcasterConfig sizes the delivery queue.
type BroadcasterConfig struct {
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// BroadcasterParams groups the collaborators of Broadcaster.
type BroadcasterParams struct {
	Hub       *Hub
	Relay     Relay
	Guardians guardianDirectory
	Alerts    alertReader
	Metrics   Metrics
	Logger    *zap.Logger
	Config    BroadcasterConfig
}

// Broadcaster turns committed pass changes into room events. Publish never
// blocks the caller: events wait on a single-worker queue, so they leave in the
// order they were published, and are dropped when the queue is full.
type Broadcaster struct {
	hub       *Hub
	relay     Relay
	guardians guardianDirectory
	alerts    alertReader
	metrics   Metrics
	logger    *zap.Logger
	queue     *jobs.Queue
	now       func() time.Time
}

// NewBroadcaster constructs a broadcaster. Call Start before publishing.
func NewBroadcaster(params BroadcasterParams) *Broadcaster {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	b := &Broadcaster{
		hub:       params.Hub,
		relay:     params.Relay,
		guardians: params.Guardians,
		alerts:    params.Alerts,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
	b.queue = jobs.NewQueue("realtime-broadcast", b.deliver, jobs.QueueConfig{
		Workers:    1,
		BufferSize: params.Config.BufferSize,
		MaxRetries: params.Config.MaxRetries,
		RetryDelay: params.Config.RetryDelay,
		Logger:     logger,
	})
	return b
}

// Start launches the delivery worker.
func (b *Broadcaster) Start(ctx context.Context) { b.queue.Start(ctx) }

// Stop halts delivery. Queued events are discarded.
func (b *Broadcaster) Stop() { b.queue.Stop() }

// Publish queues a notification about pass. Callers invoke it after the change
// has been committed.
func (b *Broadcaster) Publish(_ context.Context, eventType models.PassEventType, pass *models.Pass) {
	if pass == nil {
		return
	}
	event := NewEvent(eventType, pass, b.now())
	err := b.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: broadcastJobType, Payload: event})
	if err != nil {
		b.metrics.RecordBroadcast(string(eventType), "dropped")
		b.logger.Warn("realtime event dropped",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(eventType)),
			zap.String("pass_id", pass.ID),
			zap.Error(err))
		return
	}
	b.metrics.RecordBroadcast(string(eventType), "queued")
}

func (b *Broadcaster) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if len(event.Rooms) == 0 {
		event.Rooms = b.Rooms(ctx, &event.Pass)
	}

	if b.relay != nil {
		if err := b.relay.Publish(ctx, event); err != nil {
			b.metrics.RecordBroadcast(string(event.Type), "relay_error")
			return err
		}
		b.metrics.RecordBroadcast(string(event.Type), "published")
		return nil
	}

	b.hub.Dispatch(event)
	b.metrics.RecordBroadcast(string(event.Type), "published")
	return nil
}

// Rooms resolves the audience of an event about pass. Lookup failures narrow
// the audience rather than failing delivery.
func (b *Broadcaster) Rooms(ctx context.Context, pass *models.Pass) []string {
	rooms := []string{
		RoomHallMonitor,
		RoleRoom(models.RoleAdmin),
		RoleRoom(models.RoleSuperAdmin),
		UserRoom(pass.StudentID),
	}

	if b.guardians != nil {
		guardianIDs, err := b.guardians.GuardianIDs(ctx, pass.StudentID)
		if err != nil {
			b.logger.Warn("guardian lookup failed", zap.String("student_id", pass.StudentID), zap.Error(err))
		}
		for _, id := range guardianIDs {
			rooms = append(rooms, UserRoom(id))
		}
	}

	if b.alerts != nil {
		alert, err := b.alerts.ActiveAlert(ctx)
		switch {
		case err != nil:
			b.logger.Warn("active alert lookup failed", zap.Error(err))
		case alert.Active():
			rooms = append(rooms, RoomEmergency)
		}
	}
	return rooms
}
