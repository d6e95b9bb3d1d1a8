package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagent/voyagent/pkg/events"
)

func testBus(t *testing.T) EventBus {
	t.Helper()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	bus := NewWatermillEventBus(pubsub, pubsub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishAndHandle(t *testing.T) {
	bus := testBus(t)

	var mu sync.Mutex
	var received []*events.RequestReceived

	err := bus.Handle(events.RequestReceivedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event.(*events.RequestReceived))

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	event := events.RequestReceived{
		BaseEvent: events.NewBaseEvent(events.RequestReceivedEvent, "orc-1", "ctx-1"),
		UserID:    "user-1",
		Text:      "open example.com",
	}
	require.NoError(t, bus.Publish(t.Context(), "orc-1", event))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "orc-1", received[0].RequestID)
	assert.Equal(t, "user-1", received[0].UserID)
	assert.Equal(t, "open example.com", received[0].Text)
}

func TestUnhandledEventTypeIsIgnored(t *testing.T) {
	bus := testBus(t)

	var mu sync.Mutex
	var count int

	err := bus.Handle(events.RequestCompletedEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		defer mu.Unlock()

		count++

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(t.Context()))

	cancelled := events.RequestCancelled{
		BaseEvent: events.NewBaseEvent(events.RequestCancelledEvent, "orc-1", "ctx-1"),
	}
	require.NoError(t, bus.Publish(t.Context(), "orc-1", cancelled))

	completed := events.RequestCompleted{
		BaseEvent: events.NewBaseEvent(events.RequestCompletedEvent, "orc-1", "ctx-1"),
		State:     "completed",
	}
	require.NoError(t, bus.Publish(t.Context(), "orc-1", completed))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return count == 1
	}, time.Second, 5*time.Millisecond)
}

func TestGenerateID(t *testing.T) {
	bus := testBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
