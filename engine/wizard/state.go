package wizard

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	ErrUnknownStep = errors.New("wizard: unknown step")
	ErrUnanswered  = errors.New("wizard: step has no answers")
	ErrLastStep    = errors.New("wizard: already at the last step")
)

// Answers holds the submitted input of each step. Absent steps are nil.
type Answers struct {
	Organisation *Organisation `json:"organisation,omitempty"`
	ProjectIdea  *ProjectIdea  `json:"project_idea,omitempty"`
	Programme    *Programme    `json:"programme,omitempty"`
	TargetGroup  *TargetGroup  `json:"target_group,omitempty"`
	Agenda       *Agenda       `json:"agenda,omitempty"`
	WorkPackages *WorkPackages `json:"work_packages,omitempty"`
	Policies     *Policies     `json:"policies,omitempty"`
}

// Draft is the generated text of one application section.
type Draft struct {
	Step         Step               `json:"step"`
	Fields       map[string]string  `json:"fields,omitempty"`
	WorkPackages []WorkPackageDraft `json:"work_packages,omitempty"`
	Grounded     bool               `json:"grounded"`
	DraftedAt    time.Time          `json:"drafted_at"`
}

// State is the whole wizard session. It round-trips through JSON and is
// never mutated in place by this package.
type State struct {
	Current  Step             `json:"step"`
	Answers  Answers          `json:"answers"`
	Drafts   map[string]Draft `json:"drafts,omitempty"` // by section
	Complete bool             `json:"complete"`
}

// Answer returns the input recorded for step.
func (s State) Answer(step Step) (Input, bool) {
	a := s.Answers
	switch step {
	case StepOrganisation:
		return deref(a.Organisation)
	case StepProjectIdea:
		return deref(a.ProjectIdea)
	case StepProgramme:
		return deref(a.Programme)
	case StepTargetGroup:
		return deref(a.TargetGroup)
	case StepAgenda:
		return deref(a.Agenda)
	case StepWorkPackages:
		return deref(a.WorkPackages)
	case StepPolicies:
		return deref(a.Policies)
	}
	return nil, false
}

func deref[T Input](p *T) (Input, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Apply validates in and returns a copy of s with in recorded. A changed
// answer discards the step's stale draft and reopens a completed wizard.
func Apply(s State, in Input) (State, error) {
	if in == nil {
		return s, fmt.Errorf("wizard: apply: %w", ErrUnanswered)
	}
	if err := in.Validate(); err != nil {
		return s, fmt.Errorf("wizard: apply %s: %w", in.Step(), err)
	}

	out := s.clone()
	switch v := in.(type) {
	case Organisation:
		out.Answers.Organisation = &v
	case ProjectIdea:
		out.Answers.ProjectIdea = &v
	case Programme:
		out.Answers.Programme = &v
	case TargetGroup:
		out.Answers.TargetGroup = &v
	case Agenda:
		out.Answers.Agenda = &v
	case WorkPackages:
		out.Answers.WorkPackages = &v
	case Policies:
		out.Answers.Policies = &v
	default:
		return s, fmt.Errorf("wizard: apply %T: %w", in, ErrUnknownStep)
	}
	delete(out.Drafts, in.Step().Section())
	out.Complete = false
	return out, nil
}

// Advance moves to the next step. The current step must hold valid
// answers.
func Advance(s State) (State, error) {
	if !s.Current.Valid() {
		return s, fmt.Errorf("wizard: advance from %d: %w", int(s.Current), ErrUnknownStep)
	}
	if s.Current.Last() {
		return s, ErrLastStep
	}
	in, ok := s.Answer(s.Current)
	if !ok {
		return s, fmt.Errorf("wizard: advance from %s: %w", s.Current, ErrUnanswered)
	}
	if err := in.Validate(); err != nil {
		return s, fmt.Errorf("wizard: advance from %s: %w", s.Current, err)
	}
	out := s.clone()
	out.Current++
	return out, nil
}

// Back moves to the previous step, staying on the first.
func Back(s State) State {
	out := s.clone()
	if out.Current > StepOrganisation {
		out.Current--
	}
	return out
}

// Pending lists the answered steps that have no draft yet, in step order.
func (s State) Pending() []Step {
	var out []Step
	for _, step := range Steps() {
		if _, ok := s.Answer(step); !ok {
			continue
		}
		if _, drafted := s.Drafts[step.Section()]; !drafted {
			out = append(out, step)
		}
	}
	return out
}

// clone copies everything a transition may replace. Answer values are
// replaced wholesale, never edited, so their pointers are shared.
func (s State) clone() State {
	out := s
	out.Drafts = maps.Clone(s.Drafts)
	if out.Drafts == nil {
		out.Drafts = make(map[string]Draft)
	}
	return out
}

func (s State) withDraft(d Draft) State {
	out := s.clone()
	out.Drafts[d.Step.Section()] = d
	return out
}
