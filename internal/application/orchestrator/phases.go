package orchestrator

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/aescanero/teamflow/internal/domain"
)

// phaseInput projects the state into the payload handed to a phase
// handler. Trigger data is the base; state fields take precedence.
func phaseInput(st *domain.MasterWorkflowState) domain.Payload {
	in := st.TriggeringEvent.Data.Clone()
	if in == nil {
		in = domain.Payload{}
	}

	in["master_session_id"] = st.MasterSessionID
	in["user_id"] = st.UserID
	in["phase"] = string(st.CurrentPhase)
	in["trigger_type"] = string(st.TriggeringEvent.Type)

	if st.MeetingID != "" {
		in["meeting_id"] = st.MeetingID
	}

	switch st.CurrentPhase {
	case domain.PhaseMeeting:
		in["transcript"] = st.Transcript
	case domain.PhaseEmail:
		if st.Analysis != nil {
			in["summary"] = st.Analysis.Summary
			in["action_items"] = st.Analysis.ActionItems
			in["attendees"] = st.Analysis.Attendees
		}
	}

	return in
}

// statePatch is the subset of handler output and resume data the
// orchestrator understands.
type statePatch struct {
	MeetingID   string                 `mapstructure:"meeting_id"`
	Transcript  string                 `mapstructure:"transcript"`
	Summary     string                 `mapstructure:"summary"`
	ActionItems []domain.ActionItem    `mapstructure:"action_items"`
	Attendees   []string               `mapstructure:"attendees"`
	FollowUps   []domain.FollowUpEmail `mapstructure:"follow_ups"`
}

// phaseKeys lists the output keys each phase owns. Other keys are kept in
// Results but never decoded.
var phaseKeys = map[domain.Phase][]string{
	domain.PhaseCalendar: {"meeting_id", "transcript"},
	domain.PhaseMeeting:  {"meeting_id", "transcript", "summary", "action_items", "attendees"},
	domain.PhaseEmail:    {"follow_ups"},
}

// eventKeys lists the resume data keys folded into the state.
var eventKeys = []string{"meeting_id", "transcript", "summary", "action_items", "follow_ups"}

func pick(data domain.Payload, keys []string) domain.Payload {
	out := make(domain.Payload, len(keys))
	for _, k := range keys {
		if v, ok := data[k]; ok {
			out[k] = v
		}
	}
	return out
}

func decodePatch(data domain.Payload) (*statePatch, error) {
	var patch statePatch
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &patch,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(map[string]interface{}(data)); err != nil {
		return nil, err
	}
	return &patch, nil
}

// mergeOutput records a phase handler's output and folds the fields the
// phase owns into the typed state.
func mergeOutput(st *domain.MasterWorkflowState, phase domain.Phase, out domain.Payload) error {
	patch, err := decodePatch(pick(out, phaseKeys[phase]))
	if err != nil {
		return fmt.Errorf("failed to decode %s output: %w", phase, err)
	}

	if st.Results == nil {
		st.Results = make(map[domain.Phase]domain.Payload)
	}
	st.Results[phase] = out

	switch phase {
	case domain.PhaseCalendar:
		applyRecording(st, patch)
	case domain.PhaseMeeting:
		applyRecording(st, patch)
		st.Analysis = &domain.MeetingAnalysis{
			Summary:     patch.Summary,
			ActionItems: patch.ActionItems,
			Attendees:   patch.Attendees,
		}
	case domain.PhaseEmail:
		st.FollowUps = patch.FollowUps
	}

	return nil
}

// mergeEventData folds resume data into the state. Any recognised field
// may be supplied regardless of the active phase.
func mergeEventData(st *domain.MasterWorkflowState, data domain.Payload) error {
	if len(data) == 0 {
		return nil
	}

	patch, err := decodePatch(pick(data, eventKeys))
	if err != nil {
		return fmt.Errorf("%w: failed to decode event data: %v", domain.ErrValidation, err)
	}

	applyRecording(st, patch)
	if patch.Summary != "" || len(patch.ActionItems) > 0 {
		if st.Analysis == nil {
			st.Analysis = &domain.MeetingAnalysis{}
		}
		if patch.Summary != "" {
			st.Analysis.Summary = patch.Summary
		}
		if len(patch.ActionItems) > 0 {
			st.Analysis.ActionItems = patch.ActionItems
		}
	}
	if len(patch.FollowUps) > 0 {
		st.FollowUps = patch.FollowUps
	}

	return nil
}

func applyRecording(st *domain.MasterWorkflowState, patch *statePatch) {
	if patch.MeetingID != "" {
		st.MeetingID = patch.MeetingID
	}
	if patch.Transcript != "" {
		st.Transcript = patch.Transcript
	}
}
