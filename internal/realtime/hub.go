package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/models"
)

// Metrics receives realtime counters. *service.MetricsService satisfies it.
type Metrics interface {
	RecordBroadcast(eventType, result string)
	SetSubscribers(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordBroadcast(string, string) {}
func (noopMetrics) SetSubscribers(int)             {}

// Subscriber is one live connection. Messages arrive in dispatch order on
// Messages until Done is closed.
type Subscriber struct {
	ID     string
	UserID string
	Rooms  []string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// Messages yields encoded events.
func (s *Subscriber) Messages() <-chan []byte { return s.send }

// Done is closed when the subscriber is removed, either by Unsubscribe or
// because it fell behind.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub tracks subscribers by room on this instance.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	rooms       map[string]map[string]*Subscriber

	buffer  int
	metrics Metrics
	logger  *zap.Logger
}

// NewHub constructs a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int, metrics Metrics, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		rooms:       make(map[string]map[string]*Subscriber),
		buffer:      buffer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Subscribe registers a connection for claims and joins its rooms.
func (h *Hub) Subscribe(claims *models.JWTClaims) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.NewString(),
		Rooms: RoomsForClaims(claims),
		send:  make(chan []byte, h.buffer),
		done:  make(chan struct{}),
	}
	if claims != nil {
		sub.UserID = claims.UserID
	}

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	for _, room := range sub.Rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[string]*Subscriber)
			h.rooms[room] = members
		}
		members[sub.ID] = sub
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	h.logger.Debug("realtime subscriber joined", zap.String("subscriber_id", sub.ID), zap.Strings("rooms", sub.Rooms))
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	removed := h.removeLocked(sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if removed {
		h.metrics.SetSubscribers(count)
	}
}

func (h *Hub) removeLocked(sub *Subscriber) bool {
	if _, ok := h.subscribers[sub.ID]; !ok {
		return false
	}
	delete(h.subscribers, sub.ID)
	for _, room := range sub.Rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, sub.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	sub.close()
	return true
}

// Dispatch delivers event to every subscriber in any of its rooms, once per
// subscriber. Subscribers whose buffer is full are dropped. It returns the
// number of subscribers that received the event.
func (h *Hub) Dispatch(event Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode realtime event", zap.String("event_id", event.ID), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make(map[string]*Subscriber)
	for _, room := range event.Rooms {
		for id, sub := range h.rooms[room] {
			targets[id] = sub
		}
	}
	h.mu.RUnlock()

	delivered := 0
	var lagging []*Subscriber
	for _, sub := range targets {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.send <- payload:
			delivered++
		default:
			lagging = append(lagging, sub)
		}
	}

	if len(lagging) > 0 {
		h.mu.Lock()
		for _, sub := range lagging {
			h.removeLocked(sub)
		}
		count := len(h.subscribers)
		h.mu.Unlock()
		h.metrics.SetSubscribers(count)
		for _, sub := range lagging {
			h.metrics.RecordBroadcast(string(event.Type), "evicted")
			h.logger.Warn("realtime subscriber fell behind, disconnecting",
				zap.String("subscriber_id", sub.ID), zap.String("user_id", sub.UserID))
		}
	}
	if delivered > 0 {
		h.metrics.RecordBroadcast(string(event.Type), "delivered")
	}
	return delivered
}

// Count reports connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
