package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/teamflow/internal/domain"
)

const (
	sessionPrefix = "teamflow:session:"
	masterPrefix  = "teamflow:master:"

	maxUpdateAttempts = 5
)

// SessionStore implements ports.SessionStore using Redis
type SessionStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewSessionStore creates a new Redis session store. A zero ttl keeps
// records until they are deleted by the sweeper.
func NewSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Create stores a new session, failing if the id is taken
func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	created, err := s.client.SetNX(ctx, sessionKey(session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return fmt.Errorf("session already exists: %s", session.ID)
	}

	s.logger.Debug("session created",
		zap.String("session_id", session.ID),
		zap.String("kind", string(session.Kind)))

	return nil
}

// Update applies a partial update inside an optimistic WATCH transaction
func (s *SessionStore) Update(ctx context.Context, id string, update domain.SessionUpdate) error {
	key := sessionKey(id)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
			}
			return fmt.Errorf("failed to get session: %w", err)
		}

		var session domain.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}

		update.Apply(&session)

		out, err := json.Marshal(&session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("failed to update session %s: too much contention", id)
}

// GetByID retrieves a session
func (s *SessionStore) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// Delete removes a session
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List returns all session ids
func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	return scanIDs(ctx, s.client, sessionPrefix)
}

// StateStorage implements ports.MasterStateStore using Redis
type StateStorage struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStateStorage creates a new Redis master state storage
func NewStateStorage(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StateStorage {
	return &StateStorage{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save persists a master workflow snapshot
func (s *StateStorage) Save(ctx context.Context, state *domain.MasterWorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.client.Set(ctx, masterKey(state.MasterSessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	s.logger.Debug("state saved",
		zap.String("master_session_id", state.MasterSessionID),
		zap.String("phase", string(state.CurrentPhase)),
		zap.String("status", string(state.Status)))

	return nil
}

// Load retrieves a master workflow snapshot
func (s *StateStorage) Load(ctx context.Context, id string) (*domain.MasterWorkflowState, error) {
	data, err := s.client.Get(ctx, masterKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	var state domain.MasterWorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// Delete removes a master workflow snapshot
func (s *StateStorage) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, masterKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}

	s.logger.Debug("state deleted", zap.String("master_session_id", id))
	return nil
}

// List returns all master session ids
func (s *StateStorage) List(ctx context.Context) ([]string, error) {
	return scanIDs(ctx, s.client, masterPrefix)
}

// scanIDs walks the keyspace for prefix and strips it from each key
func scanIDs(ctx context.Context, client *redis.Client, prefix string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(key) > len(prefix) {
			ids = append(ids, key[len(prefix):])
		}
	}

	return ids, nil
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

func masterKey(id string) string {
	return masterPrefix + id
}
