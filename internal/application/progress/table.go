package progress

import "github.com/aescanero/teamflow/internal/domain"

var nodeProgress = map[domain.WorkflowKind]map[string]int{
	domain.WorkflowSupervisor: {
		"routing":      25,
		"processing":   75,
		"finalization": 95,
	},
	domain.WorkflowMeetingAnalysis: {
		"extract_transcript":    10,
		"analyze_content":       30,
		"identify_action_items": 55,
		"generate_summary":      75,
		"save_results":          90,
		"complete":              100,
	},
	domain.WorkflowEmailTriage: {
		"fetch_email":    10,
		"classify_email": 30,
		"extract_tasks":  55,
		"draft_response": 75,
		"save_results":   90,
		"complete":       100,
	},
	domain.WorkflowCalendar: {
		"fetch_event":      10,
		"check_recording":  30,
		"fetch_transcript": 60,
		"link_meeting":     85,
		"complete":         100,
	},
	domain.WorkflowMaster: {
		string(domain.PhaseCalendar):  10,
		string(domain.PhaseMeeting):   40,
		string(domain.PhaseEmail):     73,
		string(domain.PhaseCompleted): 100,
	},
}

// NodeProgress returns the well-known percentage for a node of the given
// workflow kind, or 0 when the name is not in the table.
func NodeProgress(kind domain.WorkflowKind, node string) int {
	return nodeProgress[kind][node]
}
