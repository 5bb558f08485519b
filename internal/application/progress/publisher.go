package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// Publisher emits progress events for in-flight sessions.
type Publisher struct {
	eventBus ports.EventBus
	store    ports.SessionStore
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	mu      sync.Mutex
	tracked map[string]int
}

// NewPublisher creates a progress publisher.
func NewPublisher(
	eventBus ports.EventBus,
	store ports.SessionStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Publisher {
	return &Publisher{
		eventBus: eventBus,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		tracked:  make(map[string]int),
	}
}

// Init opens a tracking window at 0 and emits a pending event.
func (p *Publisher) Init(ctx context.Context, sessionID string) {
	p.mu.Lock()
	p.tracked[sessionID] = 0
	p.mu.Unlock()

	p.emit(ctx, domain.ProgressEvent{
		SessionID: sessionID,
		Percent:   0,
		Status:    domain.ProgressPending,
		Timestamp: time.Now(),
	})
}

// Update records percent for the session when it is strictly greater than
// the last recorded value. It reports whether the event was emitted.
// Sessions without an open window start from 0.
func (p *Publisher) Update(ctx context.Context, sessionID, phase string, percent int, status domain.ProgressStatus, message string) bool {
	percent = clamp(percent)

	p.mu.Lock()
	last := p.tracked[sessionID]
	if percent <= last {
		p.mu.Unlock()
		p.logger.Debug("dropping non-increasing progress",
			zap.String("session_id", sessionID),
			zap.Int("last", last),
			zap.Int("percent", percent))
		return false
	}
	p.tracked[sessionID] = percent
	p.mu.Unlock()

	p.emit(ctx, domain.ProgressEvent{
		SessionID: sessionID,
		Phase:     phase,
		Percent:   percent,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	})
	return true
}

// Complete emits the terminal completed event at 100 and evicts the session.
func (p *Publisher) Complete(ctx context.Context, sessionID, phase, message string) {
	p.evict(sessionID)

	p.emit(ctx, domain.ProgressEvent{
		SessionID: sessionID,
		Phase:     phase,
		Percent:   100,
		Status:    domain.ProgressCompleted,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Fail emits the terminal failed event at the last recorded percent and
// evicts the session.
func (p *Publisher) Fail(ctx context.Context, sessionID, phase, message string) {
	last := p.evict(sessionID)

	p.emit(ctx, domain.ProgressEvent{
		SessionID: sessionID,
		Phase:     phase,
		Percent:   last,
		Status:    domain.ProgressFailed,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// Current returns the last recorded percent and whether the session is
// tracked.
func (p *Publisher) Current(sessionID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.tracked[sessionID]
	return v, ok
}

// Tracked returns the number of sessions with an open window.
func (p *Publisher) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracked)
}

// Release drops the session's window without emitting an event and reports
// whether one was open. A later Update starts a new window.
func (p *Publisher) Release(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.tracked[sessionID]
	delete(p.tracked, sessionID)
	return ok
}

func (p *Publisher) evict(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.tracked[sessionID]
	delete(p.tracked, sessionID)
	return last
}

// emit publishes the event and mirrors it to the session store. Failures
// are logged only.
func (p *Publisher) emit(ctx context.Context, ev domain.ProgressEvent) {
	p.metrics.RecordProgressEvent(string(ev.Status))

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeProgress,
		SessionID: ev.SessionID,
		Timestamp: ev.Timestamp,
		Data: map[string]interface{}{
			"phase":   ev.Phase,
			"percent": ev.Percent,
			"status":  string(ev.Status),
			"message": ev.Message,
		},
	}

	if err := p.eventBus.Publish(ctx, domain.TopicProgress, event); err != nil {
		p.logger.Warn("failed to publish progress event",
			zap.String("session_id", ev.SessionID),
			zap.Error(err))
	}

	if err := p.store.Update(ctx, ev.SessionID, domain.SessionUpdate{
		Progress: domain.IntPtr(ev.Percent),
	}); err != nil {
		p.logger.Warn("failed to persist progress",
			zap.String("session_id", ev.SessionID),
			zap.Int("percent", ev.Percent),
			zap.Error(err))
	}
}

func clamp(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
