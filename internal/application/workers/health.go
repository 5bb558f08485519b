package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStallThreshold is how long a trigger may run before its worker is
// reported as stalled.
const DefaultStallThreshold = 5 * time.Minute

// HealthMonitor periodically inspects the pool, publishes its gauges and
// flags workers stuck on a single trigger.
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	stall    time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// HealthStatus represents the health status of the worker pool
type HealthStatus struct {
	TotalWorkers   int       `json:"total_workers"`
	IdleWorkers    int       `json:"idle_workers"`
	BusyWorkers    int       `json:"busy_workers"`
	StoppedWorkers int       `json:"stopped_workers"`
	StalledWorkers int       `json:"stalled_workers"`
	QueuedTriggers int       `json:"queued_triggers"`
	LongestRunning string    `json:"longest_running,omitempty"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`

	stalled []workerSnapshot
	longest time.Duration
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		stall:    DefaultStallThreshold,
		logger:   logger,
	}
}

// Start launches the periodic check. Calling Start twice is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.run(ctx, h.done)
}

// Stop halts the periodic check and waits for it to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

// check publishes the pool gauges and logs saturation and stalls
func (h *HealthMonitor) check() {
	status := h.GetStatus()

	h.pool.metrics.RecordWorkerPoolStatus(
		status.IdleWorkers,
		status.BusyWorkers,
		status.StoppedWorkers,
	)

	h.logger.Debug("worker pool health check",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("queued", status.QueuedTriggers),
		zap.Bool("healthy", status.Healthy))

	for _, w := range status.stalled {
		h.logger.Warn("trigger running past stall threshold",
			zap.String("worker_id", w.id),
			zap.String("event_id", w.current),
			zap.Duration("running", status.Timestamp.Sub(w.since)))
	}

	if status.TotalWorkers > 0 && status.BusyWorkers == status.TotalWorkers && status.QueuedTriggers > 0 {
		h.logger.Warn("triggers are queueing behind busy workers, consider raising WORKER_POOL_SIZE",
			zap.Int("total", status.TotalWorkers),
			zap.Int("queued", status.QueuedTriggers))
	}

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("stalled", status.StalledWorkers),
			zap.Int("total", status.TotalWorkers))
	}
}

// GetStatus returns the current health status. The pool is healthy while
// every worker is running and at least one is not stalled.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	now := time.Now()
	status := &HealthStatus{
		QueuedTriggers: h.pool.Queued(),
		Timestamp:      now,
	}

	for _, w := range h.pool.snapshot() {
		status.TotalWorkers++
		switch w.status {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
			running := now.Sub(w.since)
			if running > status.longest {
				status.longest = running
				status.LongestRunning = running.Round(time.Millisecond).String()
			}
			if running > h.stall {
				status.StalledWorkers++
				status.stalled = append(status.stalled, w)
			}
		}
	}

	status.Healthy = status.TotalWorkers > 0 &&
		status.StoppedWorkers == 0 &&
		status.StalledWorkers < status.TotalWorkers

	return status
}

// IsHealthy returns true if the worker pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
