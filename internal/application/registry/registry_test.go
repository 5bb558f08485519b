package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aescanero/teamflow/internal/domain"
)

type stubHandler struct {
	name  string
	probe func(domain.Payload) (bool, error)
}

func (s *stubHandler) Process(ctx context.Context, input domain.Payload) (domain.Payload, error) {
	return domain.Payload{"handled_by": s.name}, nil
}

func (s *stubHandler) TeamName() string { return s.name }

type probingHandler struct {
	stubHandler
}

func (p *probingHandler) CanHandle(ctx context.Context, input domain.Payload) (bool, error) {
	return p.probe(input)
}

func TestRegister_OverwriteWarnsAndLastWins(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := New(zap.New(core))

	first := &stubHandler{name: "first"}
	second := &stubHandler{name: "second"}

	r.Register("email_triage", first)
	assert.Equal(t, 0, logs.Len())

	r.Register("email_triage", second)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "overwriting team handler", logs.All()[0].Message)

	h, ok := r.Get("email_triage")
	require.True(t, ok)
	assert.Same(t, second, h)
	assert.Equal(t, []string{"email_triage"}, r.Names())
}

func TestGet_NotFound(t *testing.T) {
	r := New(zap.NewNop())

	h, ok := r.GetTeam(domain.TeamMeetingAnalysis)
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestFindForInput(t *testing.T) {
	r := New(zap.NewNop())

	a := &probingHandler{stubHandler{name: "A", probe: func(domain.Payload) (bool, error) {
		return false, nil
	}}}
	b := &probingHandler{stubHandler{name: "B", probe: func(p domain.Payload) (bool, error) {
		return p["foo"] == 1, nil
	}}}
	r.Register("A", a)
	r.Register("B", b)

	h, ok := r.FindForInput(context.Background(), domain.Payload{"foo": 1})
	require.True(t, ok)
	assert.Equal(t, "B", h.TeamName())

	h, ok = r.FindForInput(context.Background(), domain.Payload{"foo": 2})
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestFindForInput_SkipsNonProbersAndErrors(t *testing.T) {
	r := New(zap.NewNop())

	r.Register("plain", &stubHandler{name: "plain"})
	r.Register("broken", &probingHandler{stubHandler{name: "broken", probe: func(domain.Payload) (bool, error) {
		return true, errors.New("probe unavailable")
	}}})
	r.Register("yes", &probingHandler{stubHandler{name: "yes", probe: func(domain.Payload) (bool, error) {
		return true, nil
	}}})

	h, ok := r.FindForInput(context.Background(), domain.Payload{})
	require.True(t, ok)
	assert.Equal(t, "yes", h.TeamName())
}

func TestFindForInput_RegistrationOrder(t *testing.T) {
	r := New(zap.NewNop())
	always := func(domain.Payload) (bool, error) { return true, nil }

	r.Register("z-team", &probingHandler{stubHandler{name: "z-team", probe: always}})
	r.Register("a-team", &probingHandler{stubHandler{name: "a-team", probe: always}})

	h, ok := r.FindForInput(context.Background(), domain.Payload{})
	require.True(t, ok)
	assert.Equal(t, "z-team", h.TeamName())
}
