package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
)

type scriptedProbe struct {
	calls   atomic.Int32
	readyAt int32
	err     error
}

func (p *scriptedProbe) FetchTranscript(ctx context.Context, meetingID string) (string, bool, error) {
	n := p.calls.Add(1)
	if p.err != nil {
		return "", false, p.err
	}
	if p.readyAt > 0 && n >= p.readyAt {
		return "transcript for " + meetingID, true, nil
	}
	return "", false, nil
}

type recordingResumer struct {
	mu    sync.Mutex
	calls []domain.Payload
}

func (r *recordingResumer) Resume(ctx context.Context, id string, data domain.Payload) (*domain.MasterWorkflowState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	return &domain.MasterWorkflowState{MasterSessionID: id}, nil
}

func (r *recordingResumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func haltedAtCalendar(id, meetingID string) domain.MasterWorkflowState {
	return domain.MasterWorkflowState{
		MasterSessionID: id,
		CurrentPhase:    domain.PhaseCalendar,
		MeetingID:       meetingID,
		Status:          domain.SessionStatusAwaitingEvent,
	}
}

func TestRechecker_ResumesWhenRecordingAppears(t *testing.T) {
	probe := &scriptedProbe{readyAt: 3}
	resumer := &recordingResumer{}
	r := NewRechecker(probe, resumer, 5*time.Millisecond, 10, zap.NewNop())
	defer r.Stop()

	require.True(t, r.watch(haltedAtCalendar("ms-1", "m-1")))
	assert.False(t, r.watch(haltedAtCalendar("ms-1", "m-1")), "one poller per session")

	require.Eventually(t, func() bool { return resumer.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)

	resumer.mu.Lock()
	defer resumer.mu.Unlock()
	assert.Equal(t, "transcript for m-1", resumer.calls[0]["transcript"])
	assert.Equal(t, int32(3), probe.calls.Load())
}

func TestRechecker_GivesUpAfterMaxAttempts(t *testing.T) {
	probe := &scriptedProbe{err: errors.New("recording service down")}
	resumer := &recordingResumer{}
	r := NewRechecker(probe, resumer, 2*time.Millisecond, 3, zap.NewNop())
	defer r.Stop()

	require.True(t, r.watch(haltedAtCalendar("ms-1", "m-1")))

	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), probe.calls.Load())
	assert.Zero(t, resumer.count())
}

func TestRechecker_IgnoresOtherHalts(t *testing.T) {
	r := NewRechecker(&scriptedProbe{}, &recordingResumer{}, time.Millisecond, 1, zap.NewNop())
	defer r.Stop()

	st := haltedAtCalendar("ms-1", "")
	assert.False(t, r.watch(st), "no meeting to check")

	st = haltedAtCalendar("ms-1", "m-1")
	st.CurrentPhase = domain.PhaseMeeting
	assert.False(t, r.watch(st))

	st = haltedAtCalendar("ms-1", "m-1")
	st.Transcript = "already here"
	assert.False(t, r.watch(st))
}

func TestRechecker_StopCancelsPollers(t *testing.T) {
	probe := &scriptedProbe{}
	r := NewRechecker(probe, &recordingResumer{}, time.Hour, 5, zap.NewNop())

	require.True(t, r.watch(haltedAtCalendar("ms-1", "m-1")))
	r.Stop()

	assert.Zero(t, r.Pending())
	assert.Zero(t, probe.calls.Load())
	assert.False(t, r.watch(haltedAtCalendar("ms-2", "m-2")), "stopped rechecker accepts no work")
}

func TestRechecker_WatchRacingStop(t *testing.T) {
	for round := 0; round < 20; round++ {
		r := NewRechecker(&scriptedProbe{}, &recordingResumer{}, time.Hour, 5, zap.NewNop())

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				r.Watch(haltedAtCalendar(fmt.Sprintf("ms-%d", i), "m"))
			}(i)
		}

		close(start)
		r.Stop()
		wg.Wait()

		// Pollers admitted before Stop have exited, and none start after it.
		r.Stop()
		assert.Zero(t, r.Pending(), "round %d", round)
		assert.False(t, r.watch(haltedAtCalendar("late", "m")), "round %d", round)
	}
}

func TestRechecker_WithManager(t *testing.T) {
	h := newHarness(t, nil, Options{}, nil)
	r := NewRechecker(&scriptedProbe{readyAt: 2}, h.manager, 5*time.Millisecond, 10, zap.NewNop())
	defer r.Stop()
	h.manager.OnHalt(r.Watch)

	st, err := h.manager.Start(context.Background(), "u", domain.Trigger{
		Type: domain.TriggerMeetingEnded,
		Data: domain.Payload{"meeting_id": "m-42"},
	})
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusAwaitingEvent, st.Status)

	require.Eventually(t, func() bool {
		got, err := h.manager.Get(context.Background(), st.MasterSessionID)
		return err == nil && got.Status == domain.SessionStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := h.manager.Get(context.Background(), st.MasterSessionID)
	require.NoError(t, err)
	assert.Equal(t, "transcript for m-42", got.Transcript)
	assert.Equal(t, []domain.Phase{domain.PhaseCalendar, domain.PhaseMeeting, domain.PhaseEmail}, got.CompletedPhases)
	assert.Equal(t, 1, h.calendar.Calls())
}
