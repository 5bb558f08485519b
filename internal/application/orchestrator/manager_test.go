package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aescanero/teamflow/internal/application/progress"
	"github.com/aescanero/teamflow/internal/application/registry"
	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/pkg/adapters/events/memory"
	"github.com/aescanero/teamflow/pkg/adapters/metrics/prometheus"
	storage "github.com/aescanero/teamflow/pkg/adapters/storage/memory"
)

type phaseHandler struct {
	team string
	fn   func(call int, in domain.Payload) (domain.Payload, error)

	mu     sync.Mutex
	calls  int
	inputs []domain.Payload
}

func (h *phaseHandler) Process(ctx context.Context, in domain.Payload) (domain.Payload, error) {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.inputs = append(h.inputs, in)
	h.mu.Unlock()

	if h.fn == nil {
		return domain.Payload{}, nil
	}
	return h.fn(call, in)
}

func (h *phaseHandler) TeamName() string { return h.team }

func (h *phaseHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func returns(out domain.Payload) func(int, domain.Payload) (domain.Payload, error) {
	return func(int, domain.Payload) (domain.Payload, error) { return out, nil }
}

type harness struct {
	manager  *Manager
	registry *registry.Registry
	states   *storage.StateStorage
	sessions *storage.SessionStore
	bus      *memory.InMemoryEventBus

	calendar *phaseHandler
	meeting  *phaseHandler
	email    *phaseHandler
}

func newHarness(t *testing.T, rules *RuleSet, opts Options, logger *zap.Logger) *harness {
	t.Helper()

	if logger == nil {
		logger = zap.NewNop()
	}

	bus := memory.NewInMemoryEventBus(logger)
	t.Cleanup(func() { _ = bus.Close() })

	sessions := storage.NewSessionStore()
	states := storage.NewStateStorage()
	metrics := prometheus.NewCollector(promclient.NewRegistry())
	publisher := progress.NewPublisher(bus, sessions, metrics, logger)
	reg := registry.New(logger)

	h := &harness{
		registry: reg,
		states:   states,
		sessions: sessions,
		bus:      bus,
		calendar: &phaseHandler{team: string(domain.TeamCalendarWorkflow)},
		meeting: &phaseHandler{team: string(domain.TeamMeetingAnalysis), fn: returns(domain.Payload{
			"summary": "Q3 planning",
			"action_items": []interface{}{
				map[string]interface{}{"description": "Send deck", "assignee": "ana"},
			},
		})},
		email: &phaseHandler{team: string(domain.TeamEmailTriage), fn: returns(domain.Payload{
			"follow_ups": []interface{}{
				map[string]interface{}{"to": []interface{}{"ana@example.com"}, "subject": "Deck", "body": "Please send the deck"},
			},
		})},
	}
	reg.Register(h.calendar.team, h.calendar)
	reg.Register(h.meeting.team, h.meeting)
	reg.Register(h.email.team, h.email)

	h.manager = NewManager(reg, states, sessions, bus, publisher, metrics, rules, opts, logger)
	return h
}

func TestStart_MeetingWithTranscriptStartsAtMeeting(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	st, err := h.manager.Start(context.Background(), "user-1", domain.Trigger{
		Type: domain.TriggerMeetingEnded,
		Data: domain.Payload{"meeting_id": "m-1", "transcript": "Ana: let's ship it"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, h.calendar.Calls())
	assert.Equal(t, 1, h.meeting.Calls())
	assert.Equal(t, "Ana: let's ship it", h.meeting.inputs[0]["transcript"])
	assert.Equal(t, []domain.Phase{domain.PhaseMeeting, domain.PhaseEmail}, st.CompletedPhases)
	assert.Equal(t, domain.SessionStatusCompleted, st.Status)
	assert.Equal(t, domain.PhaseCompleted, st.CurrentPhase)
}

func TestStart_StartPhaseByTrigger(t *testing.T) {
	cases := []struct {
		name    string
		trigger domain.Trigger
		want    domain.Phase
	}{
		{"calendar created", domain.Trigger{Type: domain.TriggerCalendarCreated}, domain.PhaseCalendar},
		{"meeting without transcript", domain.Trigger{Type: domain.TriggerMeetingEnded, Data: domain.Payload{"meeting_id": "m"}}, domain.PhaseCalendar},
		{"meeting with transcript", domain.Trigger{Type: domain.TriggerMeetingEnded, Data: domain.Payload{"transcript": "t"}}, domain.PhaseMeeting},
		{"email received", domain.Trigger{Type: domain.TriggerEmailReceived}, domain.PhaseEmail},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.trigger.StartPhase()
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStart_CalendarWithoutTranscriptHalts(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	st, err := h.manager.Start(context.Background(), "user-1", domain.Trigger{
		Type: domain.TriggerCalendarCreated,
		Data: domain.Payload{"meeting_id": "m-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusAwaitingEvent, st.Status)
	assert.Equal(t, domain.PhaseCalendar, st.CurrentPhase)
	assert.Empty(t, st.CompletedPhases)
	assert.Equal(t, 0, h.meeting.Calls())

	persisted, err := h.manager.Get(context.Background(), st.MasterSessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusAwaitingEvent, persisted.Status)
	assert.Equal(t, domain.PhaseCalendar, persisted.CurrentPhase)
	assert.Empty(t, persisted.CompletedPhases)
	assert.Contains(t, persisted.ActiveWorkflows, domain.PhaseCalendar)

	session, err := h.sessions.GetByID(context.Background(), st.MasterSessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionKindMaster, session.Kind)
	assert.Equal(t, domain.SessionStatusAwaitingEvent, session.Status)
}

func TestStart_FullChain(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.calendar.fn = returns(domain.Payload{"meeting_id": "m-9", "transcript": "full transcript"})

	st, err := h.manager.Start(context.Background(), "user-1", domain.Trigger{Type: domain.TriggerCalendarCreated})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusCompleted, st.Status)
	assert.Equal(t, []domain.Phase{domain.PhaseCalendar, domain.PhaseMeeting, domain.PhaseEmail}, st.CompletedPhases)
	assert.Equal(t, 1.0, st.Progress)
	assert.Equal(t, "m-9", st.MeetingID)
	require.NotNil(t, st.Analysis)
	require.Len(t, st.Analysis.ActionItems, 1)
	assert.Equal(t, "ana", st.Analysis.ActionItems[0].Assignee)
	require.Len(t, st.FollowUps, 1)
	assert.Equal(t, []string{"ana@example.com"}, st.FollowUps[0].To)
	assert.Len(t, st.ActiveWorkflows, 3)
	assert.Len(t, st.Results, 3)

	emailInput := h.email.inputs[0]
	assert.Equal(t, "Q3 planning", emailInput["summary"])
	assert.Equal(t, "m-9", emailInput["meeting_id"])

	for phase, subID := range st.ActiveWorkflows {
		sub, err := h.sessions.GetByID(context.Background(), subID)
		require.NoError(t, err, phase)
		assert.Equal(t, domain.SessionKindPhase, sub.Kind)
		assert.Equal(t, st.MasterSessionID, sub.ParentID)
		assert.Equal(t, domain.SessionStatusCompleted, sub.Status)
	}
}

func TestStart_FailureFallbackEscalates(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	h.meeting.fn = func(int, domain.Payload) (domain.Payload, error) {
		return nil, errors.New("model overloaded")
	}

	ctx := context.Background()
	st, err := h.manager.Start(ctx, "u", domain.Trigger{
		Type: domain.TriggerMeetingEnded,
		Data: domain.Payload{"transcript": "t"},
	})
	require.ErrorIs(t, err, domain.ErrHandlerExecution)
	assert.Equal(t, domain.SessionStatusFailed, st.Status)
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, domain.FallbackRetryCurrentPhase, st.FallbackStrategy)
	require.NotNil(t, st.Error)
	assert.Equal(t, string(domain.PhaseMeeting), st.Error.Stage)
	assert.Contains(t, st.Error.Message, "model overloaded")

	st, err = h.manager.Resume(ctx, st.MasterSessionID, nil)
	require.Error(t, err)
	assert.Equal(t, 2, st.RetryCount)
	assert.Equal(t, domain.FallbackRetryCurrentPhase, st.FallbackStrategy)

	st, err = h.manager.Resume(ctx, st.MasterSessionID, nil)
	require.Error(t, err)
	assert.Equal(t, 3, st.RetryCount)
	assert.Equal(t, domain.FallbackManualInterventionRequired, st.FallbackStrategy)
	assert.Equal(t, 3, h.meeting.Calls())
	assert.Empty(t, st.CompletedPhases)

	persisted, err := h.manager.Get(ctx, st.MasterSessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.FallbackManualInterventionRequired, persisted.FallbackStrategy)
}

func TestResume_SuccessResetsRetryCount(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	ctx := context.Background()

	var duringRetry *domain.Session
	var masterID string
	h.email.fn = func(call int, _ domain.Payload) (domain.Payload, error) {
		if call == 1 {
			return nil, errors.New("smtp down")
		}
		duringRetry, _ = h.sessions.GetByID(ctx, masterID)
		return domain.Payload{"follow_ups": []interface{}{map[string]interface{}{"subject": "s", "body": "b"}}}, nil
	}

	st, err := h.manager.Start(ctx, "u", domain.Trigger{Type: domain.TriggerEmailReceived})
	require.Error(t, err)
	assert.Equal(t, 1, st.RetryCount)
	masterID = st.MasterSessionID

	failed, err := h.sessions.GetByID(ctx, masterID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, failed.Status)
	require.NotNil(t, failed.Error)

	st, err = h.manager.Resume(ctx, masterID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, domain.FallbackNone, st.FallbackStrategy)
	assert.Nil(t, st.Error)
	assert.Equal(t, domain.SessionStatusCompleted, st.Status)

	require.NotNil(t, duringRetry)
	assert.Equal(t, domain.SessionStatusRunning, duringRetry.Status)
	assert.Nil(t, duringRetry.Error)

	session, err := h.sessions.GetByID(ctx, masterID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, session.Status)
	assert.Nil(t, session.Error, "recovered session drops the earlier failure")
}

func TestResume_HaltedReevaluatesWithoutRerunningHandler(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	ctx := context.Background()
	st, err := h.manager.Start(ctx, "u", domain.Trigger{Type: domain.TriggerCalendarCreated, Data: domain.Payload{"meeting_id": "m-1"}})
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusAwaitingEvent, st.Status)

	st, err = h.manager.Resume(ctx, st.MasterSessionID, domain.Payload{"transcript": "late transcript"})
	require.NoError(t, err)

	assert.Equal(t, 1, h.calendar.Calls(), "halted phase is not re-executed")
	assert.Equal(t, 1, h.meeting.Calls())
	assert.Equal(t, "late transcript", h.meeting.inputs[0]["transcript"])
	assert.Equal(t, domain.SessionStatusCompleted, st.Status)
	assert.Equal(t, []domain.Phase{domain.PhaseCalendar, domain.PhaseMeeting, domain.PhaseEmail}, st.CompletedPhases)
}

func TestResume_HaltedWithoutDataStaysHalted(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	ctx := context.Background()
	st, err := h.manager.Start(ctx, "u", domain.Trigger{Type: domain.TriggerCalendarCreated})
	require.NoError(t, err)

	st, err = h.manager.Resume(ctx, st.MasterSessionID, domain.Payload{"unrelated": true})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusAwaitingEvent, st.Status)
	assert.Equal(t, domain.PhaseCalendar, st.CurrentPhase)
	assert.Equal(t, 1, h.calendar.Calls())
}

func TestResume_CompletedIsUnchanged(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	ctx := context.Background()
	st, err := h.manager.Start(ctx, "u", domain.Trigger{Type: domain.TriggerEmailReceived})
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusCompleted, st.Status)

	again, err := h.manager.Resume(ctx, st.MasterSessionID, domain.Payload{"transcript": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, again.Status)
	assert.Empty(t, again.Transcript)
	assert.Equal(t, 1, h.email.Calls())
}

func TestResume_UnknownSession(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	_, err := h.manager.Resume(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStart_UnsupportedTrigger(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	_, err := h.manager.Start(context.Background(), "u", domain.Trigger{Type: "webhook"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStart_HandlerNotFound(t *testing.T) {
	logger := zap.NewNop()
	bus := memory.NewInMemoryEventBus(logger)
	sessions := storage.NewSessionStore()
	metrics := prometheus.NewCollector(promclient.NewRegistry())
	m := NewManager(registry.New(logger), storage.NewStateStorage(), sessions, bus,
		progress.NewPublisher(bus, sessions, metrics, logger), metrics, nil, Options{}, logger)

	st, err := m.Start(context.Background(), "u", domain.Trigger{Type: domain.TriggerEmailReceived})
	require.ErrorIs(t, err, domain.ErrHandlerNotFound)
	assert.Equal(t, domain.SessionStatusFailed, st.Status)
	assert.Equal(t, 1, st.RetryCount)
}

func TestRun_MaxIterationsHalts(t *testing.T) {
	rules, err := CompileRules([]TransitionRule{
		{From: domain.PhaseCalendar, To: domain.PhaseMeeting},
		{From: domain.PhaseMeeting, To: domain.PhaseCalendar},
	})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.ErrorLevel)
	h := newHarness(t, rules, Options{MaxIterations: 4}, zap.New(core))

	st, err := h.manager.Start(context.Background(), "u", domain.Trigger{Type: domain.TriggerCalendarCreated})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionStatusAwaitingEvent, st.Status)
	assert.Equal(t, domain.PhaseCalendar, st.CurrentPhase)
	assert.Equal(t, []domain.Phase{domain.PhaseCalendar, domain.PhaseMeeting}, st.CompletedPhases)
	assert.Equal(t, 2, h.calendar.Calls())
	assert.Equal(t, 2, h.meeting.Calls())
	assert.Equal(t, 1, logs.FilterMessage("master workflow stopped").Len())
}

func TestOnHalt_ReceivesSnapshot(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	var got []domain.MasterWorkflowState
	h.manager.OnHalt(func(st domain.MasterWorkflowState) {
		got = append(got, st)
	})

	st, err := h.manager.Start(context.Background(), "u", domain.Trigger{
		Type: domain.TriggerMeetingEnded,
		Data: domain.Payload{"meeting_id": "m-3"},
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, st.MasterSessionID, got[0].MasterSessionID)
	assert.Equal(t, "m-3", got[0].MeetingID)
	assert.Equal(t, domain.PhaseCalendar, got[0].CurrentPhase)
}

func TestStart_PublishesMasterEvents(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	var mu sync.Mutex
	seen := map[domain.EventType]int{}
	require.NoError(t, h.bus.Subscribe(context.Background(), domain.TopicMaster, func(ctx context.Context, ev domain.Event) error {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
		return nil
	}))

	_, err := h.manager.Start(context.Background(), "u", domain.Trigger{Type: domain.TriggerEmailReceived})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[domain.EventTypeMasterStarted] == 1 &&
			seen[domain.EventTypePhaseStarted] == 1 &&
			seen[domain.EventTypePhaseCompleted] == 1 &&
			seen[domain.EventTypePhaseTransition] == 1 &&
			seen[domain.EventTypeMasterCompleted] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartResume_SerializedPerSession(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)

	ctx := context.Background()
	st, err := h.manager.Start(ctx, "u", domain.Trigger{Type: domain.TriggerCalendarCreated})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.manager.Resume(ctx, st.MasterSessionID, domain.Payload{"transcript": "t"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.meeting.Calls(), "only the first resume advances the workflow")
	assert.Equal(t, 0, h.manager.locks.size())
}
