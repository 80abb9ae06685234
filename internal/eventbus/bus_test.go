package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub1 := bus.Subscribe(context.Background())
	sub2 := bus.Subscribe(context.Background())
	defer sub1.Close()
	defer sub2.Close()

	bus.Publish(NewModelThinking("d1", "modelA", 1))

	for _, sub := range []*Subscription{sub1, sub2} {
		ev, ok := sub.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, EventModelThinking, ev.Type)
		assert.Equal(t, "d1", ev.DiscussionID)
		assert.Equal(t, "modelA", ev.Payload["model"])
	}
}

func TestBusPreservesOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	sub := bus.Subscribe(context.Background())
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish(NewRoundCompleted("d1", i, 10))
	}
	for i := 0; i < 10; i++ {
		ev, ok := sub.Next(context.Background())
		require.True(t, ok)
		assert.Equal(t, i, ev.Payload["round"])
	}
}

func TestBusDropsOnFullQueue(t *testing.T) {
	t.Parallel()

	var droppedTypes []EventType
	bus := NewBus(WithQueueSize(2), WithDropHandler(func(ev Event) {
		droppedTypes = append(droppedTypes, ev.Type)
	}))
	sub := bus.Subscribe(context.Background())
	defer sub.Close()

	// Nobody reads; the third publish must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			bus.Publish(NewDiscussionDeleted("d1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber queue")
	}
	assert.Equal(t, int64(3), bus.Dropped())
	assert.Len(t, droppedTypes, 3)
}

func TestSubscriptionClosedOnContextCancel(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventMarshalFlatFrame(t *testing.T) {
	t.Parallel()

	ev := NewMessageToken("d1", "m1", "hel", "hel", 3, false)
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "message_token", frame["type"])
	assert.Equal(t, "d1", frame["discussionId"])
	assert.Equal(t, "m1", frame["messageId"])
	assert.Equal(t, "hel", frame["token"])
	assert.Equal(t, float64(3), frame["tokenCount"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestTokenThrottleEveryK(t *testing.T) {
	t.Parallel()

	th := NewTokenThrottle(10, time.Hour)
	th.now = func() time.Time { return time.Unix(0, 0) }

	emitted := 0
	for i := 0; i < 50; i++ {
		if th.Tick() {
			emitted++
		}
	}
	// First token emits immediately, then every tenth.
	assert.Equal(t, 5, emitted)
}

func TestTokenThrottleInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	th := NewTokenThrottle(1000, 200*time.Millisecond)
	th.now = func() time.Time { return now }

	require.True(t, th.Tick(), "first token emits")
	require.False(t, th.Tick())

	now = now.Add(250 * time.Millisecond)
	assert.True(t, th.Tick(), "interval elapsed")
}
