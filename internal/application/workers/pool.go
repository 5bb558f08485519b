package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// ErrPoolStopped is returned for triggers delivered after shutdown began.
var ErrPoolStopped = errors.New("worker pool stopped")

// TriggerRunner starts and resumes master workflows.
type TriggerRunner interface {
	Start(ctx context.Context, userID string, trigger domain.Trigger) (*domain.MasterWorkflowState, error)
	Resume(ctx context.Context, masterSessionID string, eventData domain.Payload) (*domain.MasterWorkflowState, error)
}

// Pool consumes trigger events from the bus and runs them on a fixed set
// of worker goroutines.
type Pool struct {
	size     int
	eventBus ports.EventBus
	runner   TriggerRunner
	metrics  ports.MetricsCollector
	logger   *zap.Logger
	health   *HealthMonitor

	jobs    chan domain.Event
	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id   string
	pool *Pool

	mu      sync.RWMutex
	status  WorkerStatus
	current string
	since   time.Time
}

// workerSnapshot is a point-in-time copy of one worker's state.
type workerSnapshot struct {
	id      string
	status  WorkerStatus
	current string
	since   time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// triggerEnvelope is the payload of trigger events.
type triggerEnvelope struct {
	UserID          string                 `mapstructure:"user_id"`
	Type            string                 `mapstructure:"type"`
	MasterSessionID string                 `mapstructure:"master_session_id"`
	Data            map[string]interface{} `mapstructure:"data"`
}

// NewTriggerEvent builds the event that asks the pool to start a workflow.
func NewTriggerEvent(userID string, trigger domain.Trigger) domain.Event {
	return domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeTriggerReceived,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"user_id": userID,
			"type":    string(trigger.Type),
			"data":    map[string]interface{}(trigger.Data),
		},
	}
}

// NewResumeEvent builds the event that asks the pool to resume a workflow.
func NewResumeEvent(masterSessionID string, data domain.Payload) domain.Event {
	return domain.Event{
		ID:        uuid.New().String(),
		Type:      domain.EventTypeTriggerResume,
		SessionID: masterSessionID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"master_session_id": masterSessionID,
			"data":              map[string]interface{}(data),
		},
	}
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	eventBus ports.EventBus,
	runner TriggerRunner,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:     size,
		eventBus: eventBus,
		runner:   runner,
		metrics:  metrics,
		logger:   logger,
		jobs:     make(chan domain.Event, size),
		workers:  make([]*worker, size),
		ctx:      ctx,
		cancel:   cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start starts the workers and subscribes to the trigger topic
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:     fmt.Sprintf("worker-%d", i),
			pool:   p,
			status: WorkerStatusIdle,
			since:  time.Now(),
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	if err := p.eventBus.Subscribe(p.ctx, domain.TopicTriggers, p.enqueue); err != nil {
		p.cancel()
		return fmt.Errorf("failed to subscribe to triggers: %w", err)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// enqueue hands a trigger to the next free worker, blocking while all
// workers are busy.
func (p *Pool) enqueue(ctx context.Context, event domain.Event) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- event:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()

	if err := p.eventBus.Unsubscribe(ctx, domain.TopicTriggers); err != nil {
		p.logger.Warn("failed to unsubscribe from triggers", zap.Error(err))
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.snapshot() {
		status[w.id] = w.status
	}
	return status
}

// Queued returns the number of triggers waiting for a free worker
func (p *Pool) Queued() int {
	return len(p.jobs)
}

func (p *Pool) snapshot() []workerSnapshot {
	out := make([]workerSnapshot, 0, len(p.workers))
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		out = append(out, workerSnapshot{id: w.id, status: w.status, current: w.current, since: w.since})
		w.mu.RUnlock()
	}
	return out
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case event := <-w.jobs():
			w.handleTrigger(ctx, event)
		}
	}
}

func (w *worker) jobs() <-chan domain.Event {
	return w.pool.jobs
}

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.since = time.Now()
	w.mu.Unlock()
}

// begin marks the worker busy with the given trigger event
func (w *worker) begin(eventID string) {
	w.mu.Lock()
	w.status = WorkerStatusBusy
	w.current = eventID
	w.since = time.Now()
	w.mu.Unlock()
}

func (w *worker) end() {
	w.mu.Lock()
	w.status = WorkerStatusIdle
	w.current = ""
	w.since = time.Now()
	w.mu.Unlock()
}

// handleTrigger runs one trigger event to completion
func (w *worker) handleTrigger(ctx context.Context, event domain.Event) {
	w.begin(event.ID)
	defer w.end()

	var env triggerEnvelope
	if err := mapstructure.Decode(event.Data, &env); err != nil {
		w.pool.logger.Error("invalid trigger payload",
			zap.String("worker_id", w.id),
			zap.String("event_id", event.ID),
			zap.Error(err))
		w.pool.metrics.RecordTriggerProcessed(string(event.Type), "invalid")
		return
	}

	startTime := time.Now()

	var (
		st  *domain.MasterWorkflowState
		err error
	)
	switch event.Type {
	case domain.EventTypeTriggerReceived:
		st, err = w.pool.runner.Start(ctx, env.UserID, domain.Trigger{
			Type: domain.TriggerKind(env.Type),
			Data: domain.Payload(env.Data),
		})
	case domain.EventTypeTriggerResume:
		id := env.MasterSessionID
		if id == "" {
			id = event.SessionID
		}
		st, err = w.pool.runner.Resume(ctx, id, domain.Payload(env.Data))
	default:
		w.pool.logger.Warn("ignoring unknown trigger event",
			zap.String("worker_id", w.id),
			zap.String("event_type", string(event.Type)))
		w.pool.metrics.RecordTriggerProcessed(string(event.Type), "ignored")
		return
	}

	fields := []zap.Field{
		zap.String("worker_id", w.id),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Duration("duration", time.Since(startTime)),
	}
	if st != nil {
		fields = append(fields,
			zap.String("master_session_id", st.MasterSessionID),
			zap.String("status", string(st.Status)))
	}

	if err != nil {
		w.pool.logger.Error("trigger failed", append(fields, zap.Error(err))...)
		w.pool.metrics.RecordTriggerProcessed(string(event.Type), "failed")
		return
	}

	w.pool.logger.Info("trigger processed", fields...)
	w.pool.metrics.RecordTriggerProcessed(string(event.Type), "processed")
}
