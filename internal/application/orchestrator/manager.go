package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/application/progress"
	"github.com/aescanero/teamflow/internal/application/registry"
	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

const (
	DefaultMaxIterations = 10
	DefaultMaxRetries    = 3
)

// HaltFunc is notified with a snapshot of every state that halts awaiting
// an external event.
type HaltFunc func(st domain.MasterWorkflowState)

// Options tunes the orchestration loop.
type Options struct {
	MaxIterations int
	MaxRetries    int
}

// Manager drives master workflows through their phases.
type Manager struct {
	registry *registry.Registry
	states   ports.MasterStateStore
	sessions ports.SessionStore
	eventBus ports.EventBus
	progress *progress.Publisher
	metrics  ports.MetricsCollector
	rules    *RuleSet
	logger   *zap.Logger

	maxIterations int
	maxRetries    int

	locks  *sessionLocks
	active atomic.Int64

	haltMu sync.RWMutex
	onHalt []HaltFunc
}

// NewManager creates a master orchestrator. A nil rule set selects the
// default chain.
func NewManager(
	reg *registry.Registry,
	states ports.MasterStateStore,
	sessions ports.SessionStore,
	eventBus ports.EventBus,
	publisher *progress.Publisher,
	metrics ports.MetricsCollector,
	rules *RuleSet,
	opts Options,
	logger *zap.Logger,
) *Manager {
	if rules == nil {
		rules = MustDefaultRuleSet()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	return &Manager{
		registry:      reg,
		states:        states,
		sessions:      sessions,
		eventBus:      eventBus,
		progress:      publisher,
		metrics:       metrics,
		rules:         rules,
		logger:        logger,
		maxIterations: opts.MaxIterations,
		maxRetries:    opts.MaxRetries,
		locks:         newSessionLocks(),
	}
}

// OnHalt registers fn to be called whenever a workflow halts.
func (m *Manager) OnHalt(fn HaltFunc) {
	m.haltMu.Lock()
	defer m.haltMu.Unlock()
	m.onHalt = append(m.onHalt, fn)
}

// Start creates a master workflow for trigger and runs it until it
// completes, halts or fails. A phase failure is returned together with the
// persisted failed state.
func (m *Manager) Start(ctx context.Context, userID string, trigger domain.Trigger) (*domain.MasterWorkflowState, error) {
	start, ok := trigger.StartPhase()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported trigger type %q", domain.ErrValidation, trigger.Type)
	}

	st := domain.NewMasterWorkflowState(uuid.New().String(), userID, trigger, start)

	if err := m.states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	if err := m.sessions.Create(ctx, &domain.Session{
		ID:        st.MasterSessionID,
		UserID:    userID,
		Kind:      domain.SessionKindMaster,
		Status:    domain.SessionStatusPending,
		Stage:     string(start),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.CreatedAt,
	}); err != nil {
		m.logger.Warn("failed to create master session",
			zap.String("master_session_id", st.MasterSessionID),
			zap.Error(err))
	}

	m.progress.Init(ctx, st.MasterSessionID)
	m.publish(ctx, domain.EventTypeMasterStarted, st, map[string]interface{}{
		"user_id":     userID,
		"trigger":     string(trigger.Type),
		"start_phase": string(start),
	})

	m.logger.Info("master workflow started",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("trigger", string(trigger.Type)),
		zap.String("start_phase", string(start)))

	err := m.locks.withLock(st.MasterSessionID, func() error {
		return m.run(ctx, st, true)
	})
	return st, err
}

// Resume re-enters a persisted workflow with eventData merged into its
// state. A halted workflow re-evaluates its active rule first; a failed one
// re-runs its active phase. Completed workflows are returned unchanged.
func (m *Manager) Resume(ctx context.Context, masterSessionID string, eventData domain.Payload) (*domain.MasterWorkflowState, error) {
	var st *domain.MasterWorkflowState

	err := m.locks.withLock(masterSessionID, func() error {
		var err error
		st, err = m.states.Load(ctx, masterSessionID)
		if err != nil {
			return err
		}

		if st.Status == domain.SessionStatusCompleted {
			return nil
		}

		if err := mergeEventData(st, eventData); err != nil {
			return err
		}

		m.logger.Info("resuming master workflow",
			zap.String("master_session_id", masterSessionID),
			zap.String("phase", string(st.CurrentPhase)),
			zap.String("status", string(st.Status)))

		execute := st.Status != domain.SessionStatusAwaitingEvent
		m.updateSession(ctx, masterSessionID, domain.SessionUpdate{
			Status:     domain.StatusPtr(domain.SessionStatusRunning),
			Stage:      domain.StringPtr(string(st.CurrentPhase)),
			ClearError: true,
		})
		return m.run(ctx, st, execute)
	})

	return st, err
}

// Get returns the persisted state.
func (m *Manager) Get(ctx context.Context, masterSessionID string) (*domain.MasterWorkflowState, error) {
	return m.states.Load(ctx, masterSessionID)
}

// Rules exposes the active transition rules.
func (m *Manager) Rules() []TransitionRule {
	return m.rules.Rules()
}

// run is the phase loop. When execute is false the first iteration skips
// the handler and only re-evaluates the active rule.
func (m *Manager) run(ctx context.Context, st *domain.MasterWorkflowState, execute bool) error {
	for i := 0; i < m.maxIterations; i++ {
		if st.CurrentPhase == domain.PhaseCompleted {
			m.complete(ctx, st)
			return nil
		}

		if execute {
			if err := m.executePhase(ctx, st); err != nil {
				m.failPhase(ctx, st, err)
				return err
			}
		}
		execute = true

		rule, ok, err := m.rules.Next(st)
		if err != nil {
			m.failPhase(ctx, st, err)
			return err
		}
		if !ok {
			m.halt(ctx, st)
			return nil
		}

		m.advance(ctx, st, rule)
	}

	if st.CurrentPhase == domain.PhaseCompleted {
		m.complete(ctx, st)
		return nil
	}

	m.logger.Error("master workflow stopped",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("phase", string(st.CurrentPhase)),
		zap.Int("max_iterations", m.maxIterations),
		zap.Error(domain.ErrMaxIterations))
	m.halt(ctx, st)

	return nil
}

func (m *Manager) executePhase(ctx context.Context, st *domain.MasterWorkflowState) error {
	phase := st.CurrentPhase
	team := phase.Team()

	handler, ok := m.registry.GetTeam(team)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, team)
	}

	subID := uuid.New().String()
	if st.ActiveWorkflows == nil {
		st.ActiveWorkflows = make(map[domain.Phase]string)
	}
	st.ActiveWorkflows[phase] = subID
	st.Status = domain.SessionStatusRunning
	st.Error = nil
	m.save(ctx, st)

	started := time.Now()
	if err := m.sessions.Create(ctx, &domain.Session{
		ID:        subID,
		UserID:    st.UserID,
		Kind:      domain.SessionKindPhase,
		ParentID:  st.MasterSessionID,
		Status:    domain.SessionStatusRunning,
		Stage:     string(phase),
		CreatedAt: started,
		UpdatedAt: started,
	}); err != nil {
		m.logger.Warn("failed to create phase session",
			zap.String("master_session_id", st.MasterSessionID),
			zap.String("phase", string(phase)),
			zap.Error(err))
	}

	m.publish(ctx, domain.EventTypePhaseStarted, st, map[string]interface{}{
		"phase":      string(phase),
		"team":       string(team),
		"session_id": subID,
	})
	m.progress.Update(ctx, st.MasterSessionID, string(phase),
		progress.NodeProgress(domain.WorkflowMaster, string(phase)),
		domain.ProgressInProgress, fmt.Sprintf("running %s phase", phase))

	m.metrics.SetActiveWorkflows(int(m.active.Add(1)))
	out, err := handler.Process(ctx, phaseInput(st))
	m.metrics.SetActiveWorkflows(int(m.active.Add(-1)))

	if err == nil {
		err = mergeOutput(st, phase, out)
	}

	duration := time.Since(started)
	if err != nil {
		m.metrics.RecordPhaseExecuted(string(phase), string(domain.SessionStatusFailed), duration)
		stageErr := domain.NewStageError(string(phase), err)
		m.updateSession(ctx, subID, domain.SessionUpdate{
			Status: domain.StatusPtr(domain.SessionStatusFailed),
			Error:  stageErr,
		})
		return fmt.Errorf("%w: %s: %w", domain.ErrHandlerExecution, team, err)
	}

	st.RetryCount = 0
	st.FallbackStrategy = domain.FallbackNone

	m.metrics.RecordPhaseExecuted(string(phase), string(domain.SessionStatusCompleted), duration)
	m.updateSession(ctx, subID, domain.SessionUpdate{
		Status:   domain.StatusPtr(domain.SessionStatusCompleted),
		Progress: domain.IntPtr(100),
		Result:   out,
	})
	m.publish(ctx, domain.EventTypePhaseCompleted, st, map[string]interface{}{
		"phase":      string(phase),
		"session_id": subID,
		"duration":   duration.String(),
	})
	m.save(ctx, st)

	m.logger.Info("phase completed",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("phase", string(phase)),
		zap.Duration("duration", duration))

	return nil
}

func (m *Manager) advance(ctx context.Context, st *domain.MasterWorkflowState, rule TransitionRule) {
	from := st.CurrentPhase
	st.MarkCompleted(from)
	st.CurrentPhase = rule.To
	st.Progress = float64(len(st.CompletedPhases)) / float64(len(domain.WorkPhases))
	if st.Progress > 1 {
		st.Progress = 1
	}
	m.save(ctx, st)

	m.metrics.RecordTransition(string(from), string(rule.To))
	m.publish(ctx, domain.EventTypePhaseTransition, st, map[string]interface{}{
		"from":  string(from),
		"to":    string(rule.To),
		"event": rule.Event,
	})
	m.progress.Update(ctx, st.MasterSessionID, string(rule.To),
		int(st.Progress*100), domain.ProgressInProgress, rule.Event)

	m.logger.Info("phase transition",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("from", string(from)),
		zap.String("to", string(rule.To)),
		zap.String("event", rule.Event))
}

func (m *Manager) complete(ctx context.Context, st *domain.MasterWorkflowState) {
	st.Status = domain.SessionStatusCompleted
	st.Progress = 1
	st.Error = nil
	m.save(ctx, st)

	m.updateSession(ctx, st.MasterSessionID, domain.SessionUpdate{
		Status:     domain.StatusPtr(domain.SessionStatusCompleted),
		Stage:      domain.StringPtr(string(domain.PhaseCompleted)),
		ClearError: true,
	})
	m.progress.Complete(ctx, st.MasterSessionID, string(domain.PhaseCompleted), "workflow completed")
	m.publish(ctx, domain.EventTypeMasterCompleted, st, map[string]interface{}{
		"completed_phases": phaseNames(st.CompletedPhases),
	})

	m.logger.Info("master workflow completed",
		zap.String("master_session_id", st.MasterSessionID),
		zap.Strings("completed_phases", phaseNames(st.CompletedPhases)))
}

func (m *Manager) halt(ctx context.Context, st *domain.MasterWorkflowState) {
	st.Status = domain.SessionStatusAwaitingEvent
	m.save(ctx, st)

	m.updateSession(ctx, st.MasterSessionID, domain.SessionUpdate{
		Status: domain.StatusPtr(domain.SessionStatusAwaitingEvent),
		Stage:  domain.StringPtr(string(st.CurrentPhase)),
	})
	m.metrics.RecordHalt(string(st.CurrentPhase))
	m.publish(ctx, domain.EventTypeMasterHalted, st, map[string]interface{}{
		"phase": string(st.CurrentPhase),
	})

	m.logger.Info("master workflow awaiting event",
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("phase", string(st.CurrentPhase)))

	m.haltMu.RLock()
	listeners := append([]HaltFunc(nil), m.onHalt...)
	m.haltMu.RUnlock()
	for _, fn := range listeners {
		fn(*st)
	}
}

func (m *Manager) failPhase(ctx context.Context, st *domain.MasterWorkflowState, err error) {
	st.Status = domain.SessionStatusFailed
	st.Error = domain.NewStageError(string(st.CurrentPhase), err)
	st.RetryCount++
	if st.RetryCount < m.maxRetries {
		st.FallbackStrategy = domain.FallbackRetryCurrentPhase
	} else {
		st.FallbackStrategy = domain.FallbackManualInterventionRequired
	}
	m.save(ctx, st)

	m.updateSession(ctx, st.MasterSessionID, domain.SessionUpdate{
		Status: domain.StatusPtr(domain.SessionStatusFailed),
		Stage:  domain.StringPtr(string(st.CurrentPhase)),
		Error:  st.Error,
	})
	m.progress.Fail(ctx, st.MasterSessionID, string(st.CurrentPhase), st.Error.Message)
	m.publish(ctx, domain.EventTypePhaseFailed, st, map[string]interface{}{
		"phase":             string(st.CurrentPhase),
		"error":             st.Error.Message,
		"retry_count":       st.RetryCount,
		"fallback_strategy": string(st.FallbackStrategy),
	})

	fields := []zap.Field{
		zap.String("master_session_id", st.MasterSessionID),
		zap.String("phase", string(st.CurrentPhase)),
		zap.Int("retry_count", st.RetryCount),
		zap.String("fallback_strategy", string(st.FallbackStrategy)),
		zap.Error(err),
	}
	if errors.Is(err, domain.ErrHandlerNotFound) {
		m.logger.Error("phase handler missing", fields...)
		return
	}
	m.logger.Error("phase failed", fields...)
}

// save persists st. Store failures are logged; the in-memory state stays
// authoritative for the remainder of the run.
func (m *Manager) save(ctx context.Context, st *domain.MasterWorkflowState) {
	st.UpdatedAt = time.Now()
	if err := m.states.Save(ctx, st); err != nil {
		m.logger.Warn("failed to persist master state",
			zap.String("master_session_id", st.MasterSessionID),
			zap.Error(err))
	}
}

func (m *Manager) updateSession(ctx context.Context, id string, update domain.SessionUpdate) {
	if err := m.sessions.Update(ctx, id, update); err != nil {
		m.logger.Warn("failed to update session",
			zap.String("session_id", id),
			zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, eventType domain.EventType, st *domain.MasterWorkflowState, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: st.MasterSessionID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, domain.TopicMaster, event); err != nil {
		m.logger.Error("failed to publish master event",
			zap.String("master_session_id", st.MasterSessionID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func phaseNames(phases []domain.Phase) []string {
	out := make([]string, len(phases))
	for i, p := range phases {
		out[i] = string(p)
	}
	return out
}
