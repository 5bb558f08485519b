package domain

import "time"

// ProgressStatus is the status carried by a progress event.
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "pending"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// ProgressEvent is one progress telemetry sample for a session.
type ProgressEvent struct {
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase"`
	Percent   int            `json:"percent"`
	Status    ProgressStatus `json:"status"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkflowKind selects a node progress table.
type WorkflowKind string

const (
	WorkflowSupervisor      WorkflowKind = "supervisor"
	WorkflowMeetingAnalysis WorkflowKind = "meeting_analysis"
	WorkflowEmailTriage     WorkflowKind = "email_triage"
	WorkflowCalendar        WorkflowKind = "calendar_workflow"
	WorkflowMaster          WorkflowKind = "master"
)
