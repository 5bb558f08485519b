package ports

import (
	"context"

	"github.com/aescanero/teamflow/internal/domain"
)

// EventHandler consumes one event. A returned error leaves the event
// unacknowledged where the transport supports it.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes and delivers events by topic.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
