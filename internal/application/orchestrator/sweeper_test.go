package orchestrator

import (
	"context"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/application/progress"
	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/pkg/adapters/events/memory"
	"github.com/aescanero/teamflow/pkg/adapters/metrics/prometheus"
	storage "github.com/aescanero/teamflow/pkg/adapters/storage/memory"
)

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	states := storage.NewStateStorage()
	sessions := storage.NewSessionStore()

	saveState := func(id string, phase domain.Phase, updated time.Time) {
		require.NoError(t, states.Save(ctx, &domain.MasterWorkflowState{
			MasterSessionID: id,
			CurrentPhase:    phase,
			UpdatedAt:       updated,
		}))
	}
	saveState("done-old", domain.PhaseCompleted, base)
	saveState("done-recent", domain.PhaseCompleted, base.Add(90*time.Minute))
	saveState("halted-old", domain.PhaseCalendar, base)

	createSession := func(id string, status domain.SessionStatus, updated time.Time) {
		require.NoError(t, sessions.Create(ctx, &domain.Session{ID: id, Status: status, UpdatedAt: updated}))
	}
	createSession("completed-old", domain.SessionStatusCompleted, base)
	createSession("failed-old", domain.SessionStatusFailed, base)
	createSession("running-old", domain.SessionStatusRunning, base)
	createSession("failed-recent", domain.SessionStatusFailed, base.Add(90*time.Minute))

	s := NewSweeper(states, sessions, prometheus.NewCollector(promclient.NewRegistry()), "@every 1h", time.Hour, zap.NewNop())
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	evicted, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)

	stateIDs, err := states.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"done-recent", "halted-old"}, stateIDs)

	sessionIDs, err := sessions.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"running-old", "failed-recent"}, sessionIDs)

	evicted, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestSweeper_ReleasesStaleHaltedWindows(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	states := storage.NewStateStorage()
	sessions := storage.NewSessionStore()
	metrics := prometheus.NewCollector(promclient.NewRegistry())
	bus := memory.NewInMemoryEventBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })
	publisher := progress.NewPublisher(bus, sessions, metrics, zap.NewNop())

	halt := func(id string, updated time.Time) {
		require.NoError(t, states.Save(ctx, &domain.MasterWorkflowState{
			MasterSessionID: id,
			CurrentPhase:    domain.PhaseCalendar,
			Status:          domain.SessionStatusAwaitingEvent,
			UpdatedAt:       updated,
		}))
		publisher.Init(ctx, id)
		publisher.Update(ctx, id, string(domain.PhaseCalendar), 30, domain.ProgressInProgress, "waiting for recording")
	}
	halt("halted-old", base)
	halt("halted-recent", base.Add(90*time.Minute))
	require.Equal(t, 2, publisher.Tracked())

	s := NewSweeper(states, sessions, metrics, "@every 1h", time.Hour, zap.NewNop()).WithWindows(publisher)
	s.now = func() time.Time { return base.Add(2 * time.Hour) }

	evicted, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, evicted, "halted states stay resumable")

	assert.Equal(t, 1, publisher.Tracked())
	_, ok := publisher.Current("halted-old")
	assert.False(t, ok)
	_, ok = publisher.Current("halted-recent")
	assert.True(t, ok)

	stateIDs, err := states.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"halted-old", "halted-recent"}, stateIDs)

	// A resumed workflow opens a fresh window from zero.
	assert.True(t, publisher.Update(ctx, "halted-old", string(domain.PhaseMeeting), 10, domain.ProgressInProgress, "resumed"))
}

func TestSweeper_StartStop(t *testing.T) {
	metrics := prometheus.NewCollector(promclient.NewRegistry())

	bad := NewSweeper(storage.NewStateStorage(), storage.NewSessionStore(), metrics, "every tuesday", time.Hour, zap.NewNop())
	assert.Error(t, bad.Start())

	s := NewSweeper(storage.NewStateStorage(), storage.NewSessionStore(), metrics, "@every 1h", time.Hour, zap.NewNop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start is rejected")

	s.Stop()
	s.Stop()
}
