package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aescanero/teamflow/internal/domain"
)

// SessionStore implements ports.SessionStore using an in-memory map.
// Records are stored as copies so callers cannot mutate stored state.
type SessionStore struct {
	sessions map[string]domain.Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new in-memory session store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]domain.Session),
	}
}

// Create stores a new session
func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %s", session.ID)
	}
	s.sessions[session.ID] = *session
	return nil
}

// Update applies a partial update to an existing session
func (s *SessionStore) Update(ctx context.Context, id string, update domain.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	update.Apply(&session)
	s.sessions[id] = session
	return nil
}

// GetByID returns a copy of the session
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return &session, nil
}

// Delete removes a session
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns all stored session ids
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// StateStorage implements ports.MasterStateStore using an in-memory map.
// States are kept as JSON so loads return independent copies.
type StateStorage struct {
	states map[string][]byte
	mu     sync.RWMutex
}

// NewStateStorage creates a new in-memory master state storage
func NewStateStorage() *StateStorage {
	return &StateStorage{
		states: make(map[string][]byte),
	}
}

// Save persists a master workflow snapshot
func (s *StateStorage) Save(ctx context.Context, state *domain.MasterWorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.MasterSessionID] = data
	return nil
}

// Load retrieves a master workflow snapshot
func (s *StateStorage) Load(ctx context.Context, id string) (*domain.MasterWorkflowState, error) {
	s.mu.RLock()
	data, ok := s.states[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	var state domain.MasterWorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes a master workflow snapshot
func (s *StateStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, id)
	return nil
}

// List returns all stored master session ids
func (s *StateStorage) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids, nil
}
