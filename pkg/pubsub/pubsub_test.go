package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatEventsChannel(t *testing.T) {
	ch := ChatEventsChannel("OBJ-1")
	assert.Equal(t, "chat:object:OBJ-1:events", ch)

	id, err := ObjectIDFromChannel(ch)
	require.NoError(t, err)
	assert.Equal(t, "OBJ-1", id)

	for _, bad := range []string{"", "chat:object::events", "room:1:events", "chat:object:OBJ-1"} {
		_, err := ObjectIDFromChannel(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewPublisherDefaultsToNop(t *testing.T) {
	p, err := NewPublisher(Config{Driver: "none"})
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), "x", &Event{}))
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := NewRedisPublisherFromClient(client)
	t.Cleanup(func() { _ = pub.Close() })

	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, ChatEventsChannel("OBJ-1"))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	event, err := NewEvent(EventMessageCreated, "OBJ-1", map[string]string{"id": "m1"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, ChatEventsChannel("OBJ-1"), event))

	select {
	case msg := <-sub.Channel():
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, EventMessageCreated, got.Type)
		assert.Equal(t, "OBJ-1", got.ObjectID)

		var payload map[string]string
		require.NoError(t, got.UnmarshalPayload(&payload))
		assert.Equal(t, "m1", payload["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
