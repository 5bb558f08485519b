package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// InMemoryEventBus implements EventBus using in-memory handlers.
// Used in tests and when the service runs with the memory storage backend.
//
// Each subscription owns a queue drained by a single goroutine, so a
// subscriber sees events in the order they were published.
type InMemoryEventBus struct {
	subscribers map[string]map[uint64]*subscription
	nextID      uint64
	logger      *zap.Logger
	mu          sync.RWMutex
}

type subscription struct {
	topic   string
	handler ports.EventHandler
	logger  *zap.Logger

	mu     sync.Mutex
	queue  []domain.Event
	signal chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func newSubscription(topic string, handler ports.EventHandler, logger *zap.Logger) *subscription {
	s := &subscription{
		topic:   topic,
		handler: handler,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	go s.drain()
	return s
}

func (s *subscription) enqueue(event domain.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *subscription) drain() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.stop:
				return
			default:
			}

			// Handlers run detached from the publisher's context
			if err := s.handler(context.Background(), event); err != nil {
				s.logger.Warn("event handler error",
					zap.String("topic", s.topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make(map[string]map[uint64]*subscription),
		logger:      logger,
	}
}

// Publish queues an event for every subscriber of a topic. It never blocks
// on handler execution.
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	// Enqueue under the bus lock so concurrent publishers are seen in the
	// same order by every subscriber.
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscribers[topic] {
		sub.enqueue(event)
	}
	return nil
}

// Subscribe subscribes to events on a specific topic until ctx is cancelled
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][id] = newSubscription(topic, handler, e.logger)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscribers[topic] {
		sub.close()
	}
	delete(e.subscribers, topic)
	return nil
}

// Close closes the event bus and cleans up resources
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, sub := range subs {
			sub.close()
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	return nil
}

// SubscriberCount returns the number of live subscriptions on topic
func (e *InMemoryEventBus) SubscriberCount(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if subs, ok := e.subscribers[topic]; ok {
		if sub, ok := subs[id]; ok {
			sub.close()
			delete(subs, id)
		}
		if len(subs) == 0 {
			delete(e.subscribers, topic)
		}
	}
}
