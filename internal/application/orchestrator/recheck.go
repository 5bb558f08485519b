package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// Resumer re-enters a halted workflow.
type Resumer interface {
	Resume(ctx context.Context, masterSessionID string, eventData domain.Payload) (*domain.MasterWorkflowState, error)
}

// Rechecker polls for the recording of meetings whose workflow halted at
// the calendar phase and resumes the workflow once a transcript exists.
type Rechecker struct {
	probe       ports.TranscriptProbe
	resumer     Resumer
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewRechecker creates a rechecker.
func NewRechecker(probe ports.TranscriptProbe, resumer Resumer, interval time.Duration, maxAttempts int, logger *zap.Logger) *Rechecker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Rechecker{
		probe:       probe,
		resumer:     resumer,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]struct{}),
	}
}

// Watch starts polling for st when it halted at the calendar phase with a
// known meeting and no transcript. It matches HaltFunc.
func (r *Rechecker) Watch(st domain.MasterWorkflowState) {
	r.watch(st)
}

func (r *Rechecker) watch(st domain.MasterWorkflowState) bool {
	if st.CurrentPhase != domain.PhaseCalendar || st.MeetingID == "" || st.Transcript != "" {
		return false
	}

	// Stop cancels under mu, so no Add can follow its Wait.
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.pending[st.MasterSessionID]; ok {
		r.mu.Unlock()
		return false
	}
	r.pending[st.MasterSessionID] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go r.poll(st.MasterSessionID, st.MeetingID)

	r.logger.Info("watching for meeting recording",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("meeting_id", st.MeetingID),
		zap.Duration("interval", r.interval),
		zap.Int("max_attempts", r.maxAttempts))
	return true
}

func (r *Rechecker) poll(masterSessionID, meetingID string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.pending, masterSessionID)
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		transcript, ok, err := r.probe.FetchTranscript(r.ctx, meetingID)
		if err != nil {
			r.logger.Warn("recording check failed",
				zap.String("master_session_id", masterSessionID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		if !ok || transcript == "" {
			continue
		}

		r.logger.Info("recording available, resuming workflow",
			zap.String("master_session_id", masterSessionID),
			zap.Int("attempt", attempt))

		if _, err := r.resumer.Resume(r.ctx, masterSessionID, domain.Payload{
			"meeting_id": meetingID,
			"transcript": transcript,
		}); err != nil {
			r.logger.Error("failed to resume workflow",
				zap.String("master_session_id", masterSessionID),
				zap.Error(err))
		}
		return
	}

	r.logger.Warn("recording not available, giving up",
		zap.String("master_session_id", masterSessionID),
		zap.Int("attempts", r.maxAttempts))
}

// Pending returns the number of active pollers.
func (r *Rechecker) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stop cancels all pollers and waits for them to exit.
func (r *Rechecker) Stop() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
