package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// WindowReleaser drops in-memory progress state for a session.
type WindowReleaser interface {
	Release(sessionID string) bool
}

// Sweeper evicts finished master states and terminal sessions older than
// maxAge on a cron schedule. Halted workflows keep their state but lose
// their progress window once stale.
type Sweeper struct {
	states   ports.MasterStateStore
	sessions ports.SessionStore
	metrics  ports.MetricsCollector
	windows  WindowReleaser
	logger   *zap.Logger

	schedule string
	maxAge   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper creates a sweeper. schedule accepts standard cron expressions
// and descriptors such as "@every 10m".
func NewSweeper(
	states ports.MasterStateStore,
	sessions ports.SessionStore,
	metrics ports.MetricsCollector,
	schedule string,
	maxAge time.Duration,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		states:   states,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
		schedule: schedule,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// WithWindows sets the progress publisher whose windows are released for
// stale halted workflows.
func (s *Sweeper) WithWindows(w WindowReleaser) *Sweeper {
	s.windows = w
	return s
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("sweeper started",
		zap.String("schedule", s.schedule),
		zap.Duration("max_age", s.maxAge))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Sweep runs one eviction pass and returns the number of records removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.maxAge)

	states, released, stateErr := s.sweepStates(ctx, cutoff)
	sessions, sessionErr := s.sweepSessions(ctx, cutoff)

	s.metrics.RecordSweep("master", states)
	s.metrics.RecordSweep("session", sessions)
	s.metrics.RecordSweep("progress", released)

	if states+sessions+released > 0 {
		s.logger.Info("sweep completed",
			zap.Int("master_states", states),
			zap.Int("sessions", sessions),
			zap.Int("progress_windows", released))
	}

	return states + sessions, errors.Join(stateErr, sessionErr)
}

func (s *Sweeper) sweepStates(ctx context.Context, cutoff time.Time) (int, int, error) {
	ids, err := s.states.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list master states: %w", err)
	}

	evicted, released := 0, 0
	for _, id := range ids {
		st, err := s.states.Load(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrSessionNotFound) {
				s.logger.Warn("failed to load master state during sweep",
					zap.String("master_session_id", id),
					zap.Error(err))
			}
			continue
		}

		if st.UpdatedAt.After(cutoff) {
			continue
		}

		if st.Status == domain.SessionStatusAwaitingEvent {
			if s.windows != nil && s.windows.Release(id) {
				released++
			}
			continue
		}

		if st.CurrentPhase != domain.PhaseCompleted {
			continue
		}

		if err := s.states.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to evict master state",
				zap.String("master_session_id", id),
				zap.Error(err))
			continue
		}
		evicted++
	}

	return evicted, released, nil
}

func (s *Sweeper) sweepSessions(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.sessions.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	evicted := 0
	for _, id := range ids {
		session, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			continue
		}

		if !session.Status.Terminal() || session.UpdatedAt.After(cutoff) {
			continue
		}

		if err := s.sessions.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to evict session",
				zap.String("session_id", id),
				zap.Error(err))
			continue
		}
		evicted++
	}

	return evicted, nil
}
