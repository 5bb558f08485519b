package domain

import (
	"time"
)

// Phase is one stage of a master workflow.
type Phase string

const (
	PhaseCalendar  Phase = "calendar"
	PhaseMeeting   Phase = "meeting"
	PhaseEmail     Phase = "email"
	PhaseCompleted Phase = "completed"
)

// WorkPhases lists the phases that execute a handler, in order.
var WorkPhases = []Phase{PhaseCalendar, PhaseMeeting, PhaseEmail}

// Team returns the team that executes the phase.
func (p Phase) Team() Team {
	switch p {
	case PhaseCalendar:
		return TeamCalendarWorkflow
	case PhaseMeeting:
		return TeamMeetingAnalysis
	case PhaseEmail:
		return TeamEmailTriage
	default:
		return TeamUnknown
	}
}

// TriggerKind names what started a master workflow.
type TriggerKind string

const (
	TriggerCalendarCreated TriggerKind = "calendar_created"
	TriggerMeetingEnded    TriggerKind = "meeting_ended"
	TriggerEmailReceived   TriggerKind = "email_received"
)

// Trigger is the event that starts a master workflow.
type Trigger struct {
	Type TriggerKind `json:"type"`
	Data Payload     `json:"data,omitempty"`
}

// StartPhase picks the first phase for the trigger. A meeting that already
// carries a transcript skips straight to analysis.
func (t Trigger) StartPhase() (Phase, bool) {
	switch t.Type {
	case TriggerCalendarCreated:
		return PhaseCalendar, true
	case TriggerMeetingEnded:
		if t.Data.String("transcript") != "" {
			return PhaseMeeting, true
		}
		return PhaseCalendar, true
	case TriggerEmailReceived:
		return PhaseEmail, true
	default:
		return "", false
	}
}

// FallbackStrategy tells an external caller how to recover a failed phase.
type FallbackStrategy string

const (
	FallbackNone                       FallbackStrategy = ""
	FallbackRetryCurrentPhase          FallbackStrategy = "retry_current_phase"
	FallbackManualInterventionRequired FallbackStrategy = "manual_intervention_required"
)

// ActionItem is one follow-up extracted by meeting analysis.
type ActionItem struct {
	Description string `json:"description" mapstructure:"description"`
	Assignee    string `json:"assignee,omitempty" mapstructure:"assignee"`
	DueDate     string `json:"due_date,omitempty" mapstructure:"due_date"`
}

// MeetingAnalysis is the typed view of the meeting phase output.
type MeetingAnalysis struct {
	Summary     string       `json:"summary,omitempty" mapstructure:"summary"`
	ActionItems []ActionItem `json:"action_items,omitempty" mapstructure:"action_items"`
	Attendees   []string     `json:"attendees,omitempty" mapstructure:"attendees"`
}

// FollowUpEmail is one draft produced by the email phase.
type FollowUpEmail struct {
	To      []string `json:"to,omitempty" mapstructure:"to"`
	Subject string   `json:"subject" mapstructure:"subject"`
	Body    string   `json:"body" mapstructure:"body"`
}

// MasterWorkflowState is the persisted state of a multi-phase workflow.
type MasterWorkflowState struct {
	MasterSessionID  string            `json:"master_session_id"`
	UserID           string            `json:"user_id"`
	TriggeringEvent  Trigger           `json:"triggering_event"`
	ActiveWorkflows  map[Phase]string  `json:"active_workflows"`
	CurrentPhase     Phase             `json:"current_phase"`
	CompletedPhases  []Phase           `json:"completed_phases"`
	Status           SessionStatus     `json:"status"`
	Progress         float64           `json:"progress"`
	RetryCount       int               `json:"retry_count"`
	FallbackStrategy FallbackStrategy  `json:"fallback_strategy,omitempty"`
	Error            *StageError       `json:"error,omitempty"`
	MeetingID        string            `json:"meeting_id,omitempty"`
	Transcript       string            `json:"transcript,omitempty"`
	Analysis         *MeetingAnalysis  `json:"analysis,omitempty"`
	FollowUps        []FollowUpEmail   `json:"follow_ups,omitempty"`
	Results          map[Phase]Payload `json:"results,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewMasterWorkflowState builds the initial state for a trigger.
func NewMasterWorkflowState(id, userID string, trigger Trigger, start Phase) *MasterWorkflowState {
	now := time.Now()
	s := &MasterWorkflowState{
		MasterSessionID: id,
		UserID:          userID,
		TriggeringEvent: trigger,
		ActiveWorkflows: make(map[Phase]string),
		CurrentPhase:    start,
		CompletedPhases: []Phase{},
		Status:          SessionStatusPending,
		MeetingID:       trigger.Data.String("meeting_id"),
		Transcript:      trigger.Data.String("transcript"),
		Results:         make(map[Phase]Payload),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return s
}

// HasCompleted reports whether the phase is already in CompletedPhases.
func (s *MasterWorkflowState) HasCompleted(p Phase) bool {
	for _, c := range s.CompletedPhases {
		if c == p {
			return true
		}
	}
	return false
}

// MarkCompleted appends p to CompletedPhases unless already present.
func (s *MasterWorkflowState) MarkCompleted(p Phase) {
	if !s.HasCompleted(p) {
		s.CompletedPhases = append(s.CompletedPhases, p)
	}
}

// ActionItemCount returns the number of extracted action items.
func (s *MasterWorkflowState) ActionItemCount() int {
	if s.Analysis == nil {
		return 0
	}
	return len(s.Analysis.ActionItems)
}
