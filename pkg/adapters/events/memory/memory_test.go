package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(ctx, "t", func(_ context.Context, ev domain.Event) error {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
		return nil
	}))

	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: id}))
	}
	require.NoError(t, bus.Publish(ctx, "other", domain.Event{ID: "x"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
	mu.Unlock()
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, domain.Event) error { return nil }))
	assert.Equal(t, 1, bus.SubscriberCount("t"))

	cancel()
	require.Eventually(t, func() bool {
		return bus.SubscriberCount("t") == 0
	}, time.Second, time.Millisecond)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	bus.buffer = 1
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, domain.Event) error {
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(ctx, "t", domain.Event{ID: "e"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
}

func TestCloseRemovesSubscribers(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	require.NoError(t, bus.Subscribe(context.Background(), "a", func(context.Context, domain.Event) error { return nil }))
	require.NoError(t, bus.Subscribe(context.Background(), "b", func(context.Context, domain.Event) error { return nil }))

	require.NoError(t, bus.Close())
	assert.Zero(t, bus.SubscriberCount("a"))
	assert.Zero(t, bus.SubscriberCount("b"))
}
