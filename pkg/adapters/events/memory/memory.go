package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
)

const defaultBuffer = 256

// subscription delivers events to one handler in publish order.
type subscription struct {
	id      uint64
	topic   string
	handler ports.EventHandler
	queue   chan domain.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// EventBus implements ports.EventBus with in-process subscribers. Each
// subscriber has its own queue, so a slow handler never blocks publishers
// or other subscribers; when its queue is full the event is dropped for it.
type EventBus struct {
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	buffer      int
	logger      *zap.Logger
	mu          sync.RWMutex
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string]map[uint64]*subscription),
		buffer:      defaultBuffer,
		logger:      logger,
	}
}

// Publish enqueues an event for every subscriber of a topic
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.queue <- event:
		default:
			e.logger.Warn("subscriber queue full, dropping event",
				zap.String("topic", topic),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe registers handler on a topic until ctx is cancelled
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	sub := &subscription{
		id:      e.nextID,
		topic:   topic,
		handler: handler,
		queue:   make(chan domain.Event, e.buffer),
		done:    make(chan struct{}),
	}
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][sub.id] = sub
	e.mu.Unlock()

	go e.deliver(ctx, sub)

	// Clean up subscription on context cancellation
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		e.unsubscribe(sub)
	}()

	return nil
}

func (e *EventBus) deliver(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				e.logger.Debug("event handler failed",
					zap.String("topic", sub.topic),
					zap.String("event_type", string(event.Type)),
					zap.Error(err))
			}
		}
	}
}

// Close stops every subscription
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, sub := range subs {
			sub.stop()
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	return nil
}

// SubscriberCount returns the number of live subscriptions on a topic
func (e *EventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

// unsubscribe removes a subscription from its topic
func (e *EventBus) unsubscribe(sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub.stop()
	if subs, ok := e.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(e.subscribers, sub.topic)
		}
	}
}
