package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/application/graph"
	"github.com/aescanero/teamflow/internal/application/progress"
	"github.com/aescanero/teamflow/internal/application/registry"
	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// Stage names double as graph node names.
const (
	StageRouting      = "routing"
	StageProcessing   = "processing"
	StageFinalization = "finalization"
	stageGraph        = "graph"
)

// ExcerptLength is the number of runes handed to the classifier.
const ExcerptLength = 1000

// State is threaded through the supervisor graph.
type State struct {
	SessionID   string
	UserID      string
	Input       domain.Input
	Status      domain.SessionStatus
	Stage       string
	Decision    *domain.RoutingDecision
	Result      domain.Payload
	Error       *domain.StageError
	StartedAt   time.Time
	CompletedAt time.Time
}

func (s *State) failed() bool {
	return s.Status == domain.SessionStatusFailed
}

func (s *State) fail(stage string, err error) {
	s.Status = domain.SessionStatusFailed
	s.Stage = stage
	s.Error = domain.NewStageError(stage, err)
}

// Supervisor routes inputs to team handlers.
type Supervisor struct {
	registry   *registry.Registry
	classifier ports.Classifier
	sessions   ports.SessionStore
	progress   *progress.Publisher
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	graph *graph.Graph[*State]
}

// New creates a supervisor. classifier may be nil, in which case inputs
// without a declared kind fall back to the unknown team.
func New(
	reg *registry.Registry,
	classifier ports.Classifier,
	sessions ports.SessionStore,
	publisher *progress.Publisher,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*Supervisor, error) {
	s := &Supervisor{
		registry:   reg,
		classifier: classifier,
		sessions:   sessions,
		progress:   publisher,
		eventBus:   eventBus,
		metrics:    metrics,
		logger:     logger,
	}

	g, err := s.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("failed to build supervisor graph: %w", err)
	}
	s.graph = g

	return s, nil
}

func (s *Supervisor) buildGraph() (*graph.Graph[*State], error) {
	g := graph.New[*State]()

	nodes := []struct {
		name string
		fn   func(context.Context, *State) error
	}{
		{StageRouting, s.route},
		{StageProcessing, s.process},
		{StageFinalization, s.finalize},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, captureStage(n.name, n.fn)); err != nil {
			return nil, err
		}
	}

	stopOnFailure := func(st *State) string {
		if st.failed() {
			return graph.End
		}
		return ""
	}

	edges := []error{
		g.AddEdge(graph.Start, StageRouting),
		g.AddConditionalEdge(StageRouting, stopOnFailure),
		g.AddEdge(StageRouting, StageProcessing),
		g.AddConditionalEdge(StageProcessing, stopOnFailure),
		g.AddEdge(StageProcessing, StageFinalization),
		g.AddEdge(StageFinalization, graph.End),
	}
	if err := errors.Join(edges...); err != nil {
		return nil, err
	}

	g.AddHook(s.trackProgress)

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// captureStage records a stage error on the state instead of aborting the
// traversal, so the failed state is persisted and queryable.
func captureStage(stage string, fn func(context.Context, *State) error) graph.NodeFunc[*State] {
	return func(ctx context.Context, st *State) (*State, error) {
		st.Stage = stage
		if err := fn(ctx, st); err != nil {
			st.fail(stage, err)
		}
		return st, nil
	}
}

// ProcessInput runs one input through routing, processing and
// finalization. Validation errors are returned before a session exists;
// stage failures are reported on the returned state.
func (s *Supervisor) ProcessInput(ctx context.Context, input domain.Input, userID string) (*State, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	st := &State{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Input:     input,
		Status:    domain.SessionStatusPending,
		StartedAt: time.Now(),
	}

	if err := s.sessions.Create(ctx, &domain.Session{
		ID:        st.SessionID,
		UserID:    userID,
		Kind:      domain.SessionKindSupervisor,
		Status:    domain.SessionStatusPending,
		Input:     &input,
		CreatedAt: st.StartedAt,
		UpdatedAt: st.StartedAt,
	}); err != nil {
		s.logger.Warn("failed to create session",
			zap.String("session_id", st.SessionID),
			zap.Error(err))
	}

	s.progress.Init(ctx, st.SessionID)
	s.publish(ctx, domain.EventTypeSessionStarted, st, map[string]interface{}{
		"user_id": userID,
		"type":    string(input.Kind),
	})

	s.logger.Info("processing input",
		zap.String("session_id", st.SessionID),
		zap.String("user_id", userID),
		zap.String("type", string(input.Kind)))

	final, err := s.graph.Execute(ctx, st)
	if final == nil {
		final = st
	}
	if err != nil {
		final.fail(stageGraph, err)
	}
	if !final.failed() {
		final.Status = domain.SessionStatusCompleted
	}
	final.CompletedAt = time.Now()

	s.finish(ctx, final)

	return final, err
}

// GetResults returns the persisted session.
func (s *Supervisor) GetResults(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

func (s *Supervisor) route(ctx context.Context, st *State) error {
	st.Status = domain.SessionStatusRouting

	decision, err := s.decide(ctx, &st.Input)
	if err != nil {
		return err
	}
	st.Decision = decision

	s.metrics.RecordInputRouted(string(decision.Team), string(decision.Method))
	s.publish(ctx, domain.EventTypeSessionRouted, st, map[string]interface{}{
		"team":        string(decision.Team),
		"confidence":  decision.Confidence,
		"explanation": decision.Explanation,
	})

	s.logger.Info("input routed",
		zap.String("session_id", st.SessionID),
		zap.String("team", string(decision.Team)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("method", string(decision.Method)))

	return nil
}

// decide produces the routing decision. Declared kinds never reach the
// classifier.
func (s *Supervisor) decide(ctx context.Context, input *domain.Input) (*domain.RoutingDecision, error) {
	if input.Kind.Known() {
		return &domain.RoutingDecision{
			Team:        input.Kind.Team(),
			Confidence:  1.0,
			Explanation: fmt.Sprintf("Input type is explicitly %s", input.Kind),
			Method:      domain.RoutingExplicit,
		}, nil
	}

	decision := &domain.RoutingDecision{
		Team:        domain.TeamUnknown,
		Confidence:  0.5,
		Explanation: "No classifier configured",
		Method:      domain.RoutingFallback,
	}

	if s.classifier != nil {
		c, err := s.classifier.Classify(ctx, Excerpt(input.Content, ExcerptLength))
		switch {
		case errors.Is(err, domain.ErrUnparsableClassification):
			s.logger.Warn("classification unparsable, using fallback",
				zap.Error(err))
			decision.Explanation = "Could not parse classification"
		case err != nil:
			return nil, err
		default:
			decision = &domain.RoutingDecision{
				Team:        domain.ParseInputKind(c.Type).Team(),
				Confidence:  c.Confidence,
				Explanation: c.Explanation,
				Method:      domain.RoutingClassifier,
			}
		}
	}

	if decision.Team != domain.TeamUnknown {
		return decision, nil
	}

	if h, ok := s.registry.FindForInput(ctx, input.Payload()); ok {
		return &domain.RoutingDecision{
			Team:        domain.Team(h.TeamName()),
			Confidence:  decision.Confidence,
			Explanation: fmt.Sprintf("Matched by capability probe of %s", h.TeamName()),
			Method:      domain.RoutingCapability,
		}, nil
	}

	s.logger.Warn("routing degraded to unknown team",
		zap.Error(domain.ErrRoutingAmbiguity),
		zap.String("explanation", decision.Explanation))

	return decision, nil
}

func (s *Supervisor) process(ctx context.Context, st *State) error {
	st.Status = domain.SessionStatusProcessing

	team := st.Decision.Team
	handler, ok := s.registry.GetTeam(team)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrHandlerNotFound, team)
	}

	out, err := handler.Process(ctx, st.Input.Payload())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrHandlerExecution, team, err)
	}
	st.Result = out

	return nil
}

// finalize is the extension point for result post-processing.
func (s *Supervisor) finalize(ctx context.Context, st *State) error {
	st.Status = domain.SessionStatusCompleted
	return nil
}

// trackProgress is the graph hook mirroring node completion to the
// progress publisher and the session record.
func (s *Supervisor) trackProgress(ctx context.Context, node string, st *State) (*State, error) {
	if st.failed() {
		return st, nil
	}

	s.progress.Update(ctx, st.SessionID, node,
		progress.NodeProgress(domain.WorkflowSupervisor, node),
		domain.ProgressInProgress, "")

	if err := s.sessions.Update(ctx, st.SessionID, domain.SessionUpdate{
		Status:  domain.StatusPtr(st.Status),
		Stage:   domain.StringPtr(node),
		Routing: st.Decision,
	}); err != nil {
		s.logger.Warn("failed to persist stage",
			zap.String("session_id", st.SessionID),
			zap.String("stage", node),
			zap.Error(err))
	}

	return st, nil
}

// finish persists the terminal state and emits terminal telemetry.
func (s *Supervisor) finish(ctx context.Context, st *State) {
	update := domain.SessionUpdate{
		Status:  domain.StatusPtr(st.Status),
		Stage:   domain.StringPtr(st.Stage),
		Routing: st.Decision,
		Result:  st.Result,
		Error:   st.Error,
	}
	if err := s.sessions.Update(ctx, st.SessionID, update); err != nil {
		s.logger.Warn("failed to persist final session state",
			zap.String("session_id", st.SessionID),
			zap.Error(err))
	}

	duration := st.CompletedAt.Sub(st.StartedAt)
	s.metrics.RecordSessionFinished(string(st.Status), duration)

	if st.failed() {
		s.progress.Fail(ctx, st.SessionID, st.Stage, st.Error.Message)
		s.publish(ctx, domain.EventTypeSessionFailed, st, map[string]interface{}{
			"stage": st.Error.Stage,
			"error": st.Error.Message,
		})
		s.logger.Error("session failed",
			zap.String("session_id", st.SessionID),
			zap.String("stage", st.Error.Stage),
			zap.String("error", st.Error.Message))
		return
	}

	s.progress.Complete(ctx, st.SessionID, st.Stage, "")
	s.publish(ctx, domain.EventTypeSessionCompleted, st, map[string]interface{}{
		"team": string(st.Decision.Team),
	})
	s.logger.Info("session completed",
		zap.String("session_id", st.SessionID),
		zap.Duration("duration", duration))
}

func (s *Supervisor) publish(ctx context.Context, eventType domain.EventType, st *State, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: st.SessionID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := s.eventBus.Publish(ctx, domain.TopicSupervisor, event); err != nil {
		s.logger.Error("failed to publish supervisor event",
			zap.String("session_id", st.SessionID),
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

// Excerpt returns at most n runes of content.
func Excerpt(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}
