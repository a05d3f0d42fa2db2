package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hallpass-api/internal/models"
)

func newTestRelay(t *testing.T) (*RedisRelay, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRelay(client, "hallpass:test-events", nil), mr
}

func TestRedisRelayFansOutToLocalHub(t *testing.T) {
	relay, mr := newTestRelay(t)
	hub := NewHub(4, nil, nil)
	watcher := hub.Subscribe(claims("t1", models.RoleTeacher))
	ctx := context.Background()

	require.NoError(t, relay.Start(ctx, func(e Event) { hub.Dispatch(e) }))
	defer relay.Stop()
	require.NoError(t, relay.Start(ctx, func(Event) { t.Fatal("second start must not subscribe") }))

	mr.Publish("hallpass:test-events", "not json")

	event := testEvent(models.PassEventOvertime, "s1", RoomHallMonitor)
	require.NoError(t, relay.Publish(ctx, event))

	got := receive(t, watcher)
	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, models.PassEventOvertime, got.Type)
	assert.Equal(t, []string{RoomHallMonitor}, got.Rooms)
}

func TestRedisRelayPublishFailsWhenRedisIsDown(t *testing.T) {
	relay, mr := newTestRelay(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := relay.Publish(ctx, testEvent(models.PassEventCreated, "s1", RoomHallMonitor))
	assert.Error(t, err)
}

func TestRedisRelayStopWithoutStart(t *testing.T) {
	relay, _ := newTestRelay(t)
	relay.Stop()
}
