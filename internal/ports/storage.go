package ports

import (
	"context"

	"github.com/aescanero/teamflow/internal/domain"
)

// SessionStore persists session records. Callers on the progress path
// treat its failures as advisory.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	Update(ctx context.Context, id string, update domain.SessionUpdate) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MasterStateStore persists master workflow snapshots keyed by
// masterSessionId.
type MasterStateStore interface {
	Save(ctx context.Context, state *domain.MasterWorkflowState) error
	Load(ctx context.Context, id string) (*domain.MasterWorkflowState, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
