package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
	"github.com/aescanero/teamflow/internal/ports"
)

// Registry holds the team handlers registered at bootstrap.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ports.TeamHandler
	order    []string
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]ports.TeamHandler),
		logger:   logger,
	}
}

// Register adds handler under name. An existing registration is replaced
// and a warning is logged.
func (r *Registry) Register(name string, handler ports.TeamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		r.logger.Warn("overwriting team handler",
			zap.String("team", name),
			zap.String("handler", handler.TeamName()))
	} else {
		r.order = append(r.order, name)
	}
	r.handlers[name] = handler

	r.logger.Info("team handler registered", zap.String("team", name))
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (ports.TeamHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	return h, ok
}

// GetTeam is Get keyed by domain.Team.
func (r *Registry) GetTeam(team domain.Team) (ports.TeamHandler, bool) {
	return r.Get(string(team))
}

// FindForInput returns the first handler, in registration order, whose
// capability probe accepts input. Handlers without a probe are skipped and
// probe errors count as a refusal.
func (r *Registry) FindForInput(ctx context.Context, input domain.Payload) (ports.TeamHandler, bool) {
	r.mu.RLock()
	candidates := make([]ports.TeamHandler, 0, len(r.order))
	for _, name := range r.order {
		candidates = append(candidates, r.handlers[name])
	}
	r.mu.RUnlock()

	for _, h := range candidates {
		prober, ok := h.(ports.CapabilityProber)
		if !ok {
			continue
		}

		accepted, err := prober.CanHandle(ctx, input)
		if err != nil {
			r.logger.Warn("capability probe failed",
				zap.String("team", h.TeamName()),
				zap.Error(err))
			continue
		}
		if accepted {
			return h, true
		}
	}

	return nil, false
}

// Names lists registered team names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
