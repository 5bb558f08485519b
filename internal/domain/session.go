package domain

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle status of a persisted session.
type SessionStatus string

const (
	SessionStatusPending       SessionStatus = "pending"
	SessionStatusRouting       SessionStatus = "routing"
	SessionStatusProcessing    SessionStatus = "processing"
	SessionStatusRunning       SessionStatus = "running"
	SessionStatusAwaitingEvent SessionStatus = "awaiting_event"
	SessionStatusCompleted     SessionStatus = "completed"
	SessionStatusFailed        SessionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// SessionKind distinguishes supervisor runs, master workflows and the
// per-phase sub-sessions a master workflow spawns.
type SessionKind string

const (
	SessionKindSupervisor SessionKind = "supervisor"
	SessionKindMaster     SessionKind = "master"
	SessionKindPhase      SessionKind = "phase"
)

// StageError records where and when a run failed.
type StageError struct {
	Message   string    `json:"message"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStageError builds a StageError stamped with the current time.
func NewStageError(stage string, err error) *StageError {
	return &StageError{
		Message:   err.Error(),
		Stage:     stage,
		Timestamp: time.Now(),
	}
}

// Session is the persisted record of a run, queried by API clients.
type Session struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      SessionKind      `json:"kind"`
	ParentID  string           `json:"parent_id,omitempty"`
	Status    SessionStatus    `json:"status"`
	Stage     string           `json:"stage,omitempty"`
	Progress  int              `json:"progress"`
	Input     *Input           `json:"input,omitempty"`
	Routing   *RoutingDecision `json:"routing,omitempty"`
	Result    Payload          `json:"result,omitempty"`
	Error     *StageError      `json:"error,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SessionUpdate carries the fields of a partial update. Nil fields are left
// untouched.
type SessionUpdate struct {
	Status   *SessionStatus
	Stage    *string
	Progress *int
	Routing  *RoutingDecision
	Result   Payload
	Error    *StageError
	Data     json.RawMessage

	// ClearError drops any recorded error. A non-nil Error in the same
	// update still wins.
	ClearError bool
}

// Apply merges the update into s and bumps UpdatedAt.
func (u SessionUpdate) Apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Stage != nil {
		s.Stage = *u.Stage
	}
	if u.Progress != nil {
		s.Progress = *u.Progress
	}
	if u.Routing != nil {
		s.Routing = u.Routing
	}
	if u.Result != nil {
		s.Result = u.Result
	}
	if u.ClearError {
		s.Error = nil
	}
	if u.Error != nil {
		s.Error = u.Error
	}
	if u.Data != nil {
		s.Data = u.Data
	}
	s.UpdatedAt = time.Now()
}

// StatusPtr is a helper for building SessionUpdate values.
func StatusPtr(s SessionStatus) *SessionStatus { return &s }

// StringPtr is a helper for building SessionUpdate values.
func StringPtr(s string) *string { return &s }

// IntPtr is a helper for building SessionUpdate values.
func IntPtr(i int) *int { return &i }
