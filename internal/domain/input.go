package domain

import "fmt"

// InputKind is the declared kind of an incoming input.
type InputKind string

const (
	InputKindUnknown    InputKind = ""
	InputKindTranscript InputKind = "transcript"
	InputKindEmail      InputKind = "email"
	InputKindCalendar   InputKind = "calendar"
)

// Team names a registered team handler.
type Team string

const (
	TeamMeetingAnalysis  Team = "meeting_analysis"
	TeamEmailTriage      Team = "email_triage"
	TeamCalendarWorkflow Team = "calendar_workflow"
	TeamUnknown          Team = "unknown"
)

// ParseInputKind maps a free-form type string onto the closed set of kinds.
// Unrecognised strings map to InputKindUnknown.
func ParseInputKind(s string) InputKind {
	switch InputKind(s) {
	case InputKindTranscript, InputKindEmail, InputKindCalendar:
		return InputKind(s)
	default:
		return InputKindUnknown
	}
}

// Team returns the team responsible for the kind.
func (k InputKind) Team() Team {
	switch k {
	case InputKindTranscript:
		return TeamMeetingAnalysis
	case InputKindEmail:
		return TeamEmailTriage
	case InputKindCalendar:
		return TeamCalendarWorkflow
	default:
		return TeamUnknown
	}
}

// Known reports whether the kind is one of the declared kinds.
func (k InputKind) Known() bool {
	return k.Team() != TeamUnknown
}

// Payload is the opaque map exchanged with team handlers.
type Payload map[string]interface{}

// String returns the value under key when it is a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Input is a request entering the supervisor.
type Input struct {
	Kind     InputKind              `json:"type,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate rejects inputs without content.
func (i *Input) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: input is nil", ErrValidation)
	}
	if i.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	return nil
}

// Payload projects the input into the map handed to team handlers.
func (i *Input) Payload() Payload {
	p := Payload{
		"type":    string(i.Kind),
		"content": i.Content,
	}
	for k, v := range i.Metadata {
		if _, reserved := p[k]; !reserved {
			p[k] = v
		}
	}
	return p
}

// Classification is the structured reply of a classifier.
type Classification struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// RoutingMethod records how a routing decision was reached.
type RoutingMethod string

const (
	RoutingExplicit   RoutingMethod = "explicit"
	RoutingClassifier RoutingMethod = "classifier"
	RoutingFallback   RoutingMethod = "fallback"
	RoutingCapability RoutingMethod = "capability"
)

// RoutingDecision is the supervisor's classification of an input.
type RoutingDecision struct {
	Team        Team          `json:"team"`
	Confidence  float64       `json:"confidence"`
	Explanation string        `json:"explanation"`
	Method      RoutingMethod `json:"method"`
}
