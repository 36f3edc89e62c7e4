package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
)

func setupTestBus(t *testing.T, opts StreamsOptions) (*StreamsEventBus, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if opts.ConsumerGroup == "" {
		opts.ConsumerGroup = "dagflow"
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "test"
	}
	if opts.Block == 0 {
		opts.Block = 20 * time.Millisecond
	}
	bus, err := NewStreamsEventBus(client, opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus, mr, client
}

func TestNewStreamsEventBusRequiresNames(t *testing.T) {
	_, err := NewStreamsEventBus(nil, StreamsOptions{ConsumerName: "a"}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewStreamsEventBus(nil, StreamsOptions{ConsumerGroup: "a"}, zap.NewNop())
	assert.Error(t, err)
}

func TestPublishAddsToStream(t *testing.T) {
	bus, _, client := setupTestBus(t, StreamsOptions{})
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, "workflow.events", domain.Event{
		ID:          "e1",
		Type:        domain.EventTypeWorkflowStarted,
		ExecutionID: "x1",
	}))

	msgs, err := client.XRange(ctx, "dagflow:events:workflow.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "workflow.started", msgs[0].Values["type"])
	assert.Contains(t, msgs[0].Values["data"], `"execution_id":"x1"`)
}

func TestSubscribeDeliversInOrderAndAcks(t *testing.T) {
	bus, _, client := setupTestBus(t, StreamsOptions{})
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

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: id, Type: domain.EventTypeStepStarted}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
	mu.Unlock()

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "dagflow:events:t", "dagflow").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerErrorLeavesMessagePending(t *testing.T) {
	bus, _, client := setupTestBus(t, StreamsOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 1)
	require.NoError(t, bus.Subscribe(ctx, "t", func(context.Context, domain.Event) error {
		calls <- struct{}{}
		return errors.New("nope")
	}))
	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "a"}))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	pending, err := client.XPending(ctx, "dagflow:events:t", "dagflow").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestSubscribeTwiceReusesGroup(t *testing.T) {
	bus, _, _ := setupTestBus(t, StreamsOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	noop := func(context.Context, domain.Event) error { return nil }
	require.NoError(t, bus.Subscribe(ctx, "t", noop))
	require.NoError(t, bus.Subscribe(ctx, "t", noop))
}

func TestCloseStopsReaders(t *testing.T) {
	bus, _, _ := setupTestBus(t, StreamsOptions{})

	require.NoError(t, bus.Subscribe(context.Background(), "t", func(context.Context, domain.Event) error { return nil }))

	done := make(chan struct{})
	go func() {
		_ = bus.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not stop readers")
	}
}
