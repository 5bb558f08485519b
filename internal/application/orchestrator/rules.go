package orchestrator

import (
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/teamflow/internal/domain"
)

// TransitionRule advances a master workflow from one phase to the next when
// its guard holds. An empty guard always holds.
type TransitionRule struct {
	From  domain.Phase `yaml:"from" json:"from"`
	To    domain.Phase `yaml:"to" json:"to"`
	Guard string       `yaml:"guard" json:"guard"`
	Event string       `yaml:"event" json:"event"`
}

// DefaultRules is the calendar → meeting → email → completed chain.
func DefaultRules() []TransitionRule {
	return []TransitionRule{
		{From: domain.PhaseCalendar, To: domain.PhaseMeeting, Guard: `transcript != ""`, Event: "transcript_ready"},
		{From: domain.PhaseMeeting, To: domain.PhaseEmail, Guard: `len(actionItems) > 0`, Event: "action_items_extracted"},
		{From: domain.PhaseEmail, To: domain.PhaseCompleted, Guard: `len(followUps) > 0`, Event: "follow_ups_drafted"},
	}
}

type compiledRule struct {
	TransitionRule
	program *vm.Program
}

// RuleSet holds compiled rules in declaration order.
type RuleSet struct {
	rules []compiledRule
}

// guardEnv is the variable set visible to guard expressions.
func guardEnv(st *domain.MasterWorkflowState) map[string]interface{} {
	env := map[string]interface{}{
		"transcript":  st.Transcript,
		"meetingId":   st.MeetingID,
		"actionItems": []domain.ActionItem{},
		"followUps":   st.FollowUps,
		"retryCount":  st.RetryCount,
		"phase":       string(st.CurrentPhase),
	}
	if st.Analysis != nil {
		env["actionItems"] = st.Analysis.ActionItems
	}
	if st.FollowUps == nil {
		env["followUps"] = []domain.FollowUpEmail{}
	}
	return env
}

// CompileRules validates and compiles rules. Every From must be a work
// phase and every guard must compile to a boolean expression.
func CompileRules(rules []TransitionRule) (*RuleSet, error) {
	sample := guardEnv(&domain.MasterWorkflowState{})

	set := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if !isWorkPhase(r.From) {
			return nil, fmt.Errorf("rule %d: invalid from phase %q", i, r.From)
		}
		if !isWorkPhase(r.To) && r.To != domain.PhaseCompleted {
			return nil, fmt.Errorf("rule %d: invalid to phase %q", i, r.To)
		}

		guard := r.Guard
		if guard == "" {
			guard = "true"
		}
		program, err := expr.Compile(guard, expr.Env(sample), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s -> %s): failed to compile guard: %w", i, r.From, r.To, err)
		}

		set.rules = append(set.rules, compiledRule{TransitionRule: r, program: program})
	}

	return set, nil
}

// MustDefaultRuleSet compiles DefaultRules.
func MustDefaultRuleSet() *RuleSet {
	set, err := CompileRules(DefaultRules())
	if err != nil {
		panic(err)
	}
	return set
}

type rulesFile struct {
	Rules []TransitionRule `yaml:"rules"`
}

// ParseRules decodes a YAML rules document of the form
//
//	rules:
//	  - from: calendar
//	    to: meeting
//	    guard: transcript != ""
//	    event: transcript_ready
func ParseRules(data []byte) (*RuleSet, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file declares no rules")
	}
	return CompileRules(f.Rules)
}

// LoadRules reads a YAML rules file. An empty path yields the defaults.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return CompileRules(DefaultRules())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// Next returns the first rule leaving the state's current phase whose
// guard holds. ok is false when no rule is satisfied.
func (s *RuleSet) Next(st *domain.MasterWorkflowState) (rule TransitionRule, ok bool, err error) {
	env := guardEnv(st)

	for _, r := range s.rules {
		if r.From != st.CurrentPhase {
			continue
		}

		out, err := expr.Run(r.program, env)
		if err != nil {
			return TransitionRule{}, false, fmt.Errorf("failed to evaluate guard %q: %w", r.Guard, err)
		}
		if satisfied, _ := out.(bool); satisfied {
			return r.TransitionRule, true, nil
		}
	}

	return TransitionRule{}, false, nil
}

// Rules returns the rules in evaluation order.
func (s *RuleSet) Rules() []TransitionRule {
	out := make([]TransitionRule, len(s.rules))
	for i, r := range s.rules {
		out[i] = r.TransitionRule
	}
	return out
}

func isWorkPhase(p domain.Phase) bool {
	for _, w := range domain.WorkPhases {
		if w == p {
			return true
		}
	}
	return false
}
