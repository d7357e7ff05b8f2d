// Package wizard models the grant application wizard: seven fixed steps,
// typed answers per step, pure state transitions, and drafting of each
// step's application section through an external text generator grounded
// in the section's reference document.
package wizard

import (
	"fmt"
	"strconv"
)

// Step is one wizard step. The zero value is the first step.
type Step int

const (
	StepOrganisation Step = iota
	StepProjectIdea
	StepProgramme
	StepTargetGroup
	StepAgenda
	StepWorkPackages
	StepPolicies

	stepCount = iota
)

var stepInfo = [stepCount]struct {
	label   string
	section string
	fields  []string
}{
	StepOrganisation: {"Organisation & contact", "Project Summary",
		[]string{"applicant_legal_name", "applicant_address", "applicant_website"}},
	StepProjectIdea: {"Project idea", "Challenges and Needs",
		[]string{"challenge_needs", "current_state", "smart_objective"}},
	StepProgramme: {"Programme & geography", "Target Group",
		[]string{"regional_strategy_citations"}},
	StepTargetGroup: {"Target group", "Organisation Structure",
		[]string{"target_group_needs", "previous_experience", "inclusion_in_preparation", "inclusion_during_execution"}},
	StepAgenda: {"Agenda 2030 & risk", "Risk Analysis",
		[]string{"sdg_motivation", "risk_analysis", "risk_mitigation", "investment_attestations"}},
	StepWorkPackages: {"Work-package generator", "Communication Plan", nil},
	StepPolicies: {"Policies & sign-off", "Internal Policies",
		[]string{"policy_section", "reporting_routines", "procurement_routines"}},
}

// Steps returns every step in order.
func Steps() []Step {
	out := make([]Step, stepCount)
	for i := range out {
		out[i] = Step(i)
	}
	return out
}

// Valid reports whether s is one of the seven steps.
func (s Step) Valid() bool { return s >= 0 && s < stepCount }

// Label is the numbered display name, e.g. "2 - Project idea".
func (s Step) Label() string {
	if !s.Valid() {
		return "step " + strconv.Itoa(int(s))
	}
	return fmt.Sprintf("%d - %s", int(s)+1, stepInfo[s].label)
}

func (s Step) String() string { return s.Label() }

// Section is the application section the step's draft is filed under.
// Its reference document supplies the grounding context.
func (s Step) Section() string {
	if !s.Valid() {
		return ""
	}
	return stepInfo[s].section
}

// DraftFields lists the text fields a draft for the step must carry.
// The work-package step drafts packages instead.
func (s Step) DraftFields() []string {
	if !s.Valid() {
		return nil
	}
	return append([]string(nil), stepInfo[s].fields...)
}

// Last reports whether s is the sign-off step.
func (s Step) Last() bool { return s == stepCount-1 }
