package wizard

import (
	"errors"
	"fmt"
	"net/mail"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// Validation sentinels, wrapped in *domain.ValidationError.
var (
	ErrRequired   = errors.New("required")
	ErrTooLong    = errors.New("too long")
	ErrNotAllowed = errors.New("value not allowed")
	ErrCount      = errors.New("wrong number of selections")
)

// Field limits, in characters.
const (
	MaxProjectIdeaLength  = 2000
	MaxTargetNeedLength   = 600
	MaxTargetDetailLength = 300
	MaxSDGs               = 2
	MaxRisks              = 3
)

// Selectable values.
var (
	ProgrammeAreas = []string{"Smart Growth", "Green Transition"}
	Regions        = []string{"Region North", "Region South", "Region East", "Region West"}
	SDGs           = []string{"Goal 7", "Goal 9", "Goal 11"}
	Risks          = []string{"Low participation", "Budget overrun", "Tech delays", "Staff turnover"}
	PolicyFormats  = []string{".pdf", ".docx"}
)

// Input is the answer set of one step. The set of implementations is
// closed: one per step.
type Input interface {
	Step() Step
	Validate() error
	// summary is the free text used to look up reference context.
	summary() string
}

// Organisation answers StepOrganisation.
type Organisation struct {
	OrganisationName   string `json:"organisation_name"`
	RegistrationNumber string `json:"registration_number"`
	ContactName        string `json:"contact_name"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	SubjectToLOU       bool   `json:"subject_to_lou"`
}

func (Organisation) Step() Step { return StepOrganisation }

func (o Organisation) Validate() error {
	var errs []error
	errs = append(errs,
		required("organisation_name", o.OrganisationName),
		required("contact_name", o.ContactName),
		required("email", o.Email),
	)
	if strings.TrimSpace(o.Email) != "" {
		if _, err := mail.ParseAddress(o.Email); err != nil {
			errs = append(errs, domain.NewValidationError("email", o.Email, ErrNotAllowed))
		}
	}
	return errors.Join(errs...)
}

func (o Organisation) summary() string {
	lou := "not subject to public procurement rules"
	if o.SubjectToLOU {
		lou = "subject to public procurement rules"
	}
	return fmt.Sprintf("%s, %s", o.OrganisationName, lou)
}

// ProjectIdea answers StepProjectIdea.
type ProjectIdea struct {
	CurrentSituation string `json:"current_situation_challenges"`
	SmartGoal        string `json:"smart_project_goal"`
}

func (ProjectIdea) Step() Step { return StepProjectIdea }

func (p ProjectIdea) Validate() error {
	return errors.Join(
		text("current_situation_challenges", p.CurrentSituation, MaxProjectIdeaLength, true),
		text("smart_project_goal", p.SmartGoal, MaxProjectIdeaLength, true),
	)
}

func (p ProjectIdea) summary() string { return p.CurrentSituation + "\n" + p.SmartGoal }

// Programme answers StepProgramme.
type Programme struct {
	Area    string   `json:"programme_area"`
	Regions []string `json:"regions"`
}

func (Programme) Step() Step { return StepProgramme }

func (p Programme) Validate() error {
	var errs []error
	if !slices.Contains(ProgrammeAreas, p.Area) {
		errs = append(errs, domain.NewValidationError("programme_area", p.Area, ErrNotAllowed))
	}
	errs = append(errs, selection("regions", p.Regions, Regions, 1, len(Regions)))
	return errors.Join(errs...)
}

func (p Programme) summary() string {
	return p.Area + " in " + strings.Join(p.Regions, ", ")
}

// TargetGroup answers StepTargetGroup.
type TargetGroup struct {
	Need                      string `json:"target_group_need"`
	Experience                string `json:"target_group_experience"`
	InvolvementPreparation    string `json:"involvement_preparation"`
	InvolvementImplementation string `json:"involvement_implementation"`
}

func (TargetGroup) Step() Step { return StepTargetGroup }

func (t TargetGroup) Validate() error {
	return errors.Join(
		text("target_group_need", t.Need, MaxTargetNeedLength, true),
		text("target_group_experience", t.Experience, MaxTargetDetailLength, false),
		text("involvement_preparation", t.InvolvementPreparation, MaxTargetDetailLength, false),
		text("involvement_implementation", t.InvolvementImplementation, MaxTargetDetailLength, false),
	)
}

func (t TargetGroup) summary() string { return t.Need }

// Agenda answers StepAgenda.
type Agenda struct {
	SDGs  []string `json:"sdg_goals"`
	Risks []string `json:"risks"`
}

func (Agenda) Step() Step { return StepAgenda }

func (a Agenda) Validate() error {
	return errors.Join(
		selection("sdg_goals", a.SDGs, SDGs, 1, MaxSDGs),
		selection("risks", a.Risks, Risks, 0, MaxRisks),
	)
}

func (a Agenda) summary() string {
	return "risks: " + strings.Join(a.Risks, ", ") + "; goals: " + strings.Join(a.SDGs, ", ")
}

// WorkPackage is a package outline entered or edited by the applicant.
type WorkPackage struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// WorkPackages answers StepWorkPackages. An empty list asks the drafter to
// propose packages.
type WorkPackages struct {
	Packages []WorkPackage `json:"work_packages"`
}

func (WorkPackages) Step() Step { return StepWorkPackages }

func (w WorkPackages) Validate() error {
	var errs []error
	for i, p := range w.Packages {
		errs = append(errs, required(fmt.Sprintf("work_packages[%d].name", i), p.Name))
	}
	return errors.Join(errs...)
}

func (w WorkPackages) summary() string {
	parts := make([]string, 0, len(w.Packages))
	for _, p := range w.Packages {
		parts = append(parts, strings.TrimSpace(p.Name+": "+p.Description))
	}
	if len(parts) == 0 {
		return "project work packages, activities and deliverables"
	}
	return strings.Join(parts, "\n")
}

// Policies answers StepPolicies with the names of uploaded policy files.
type Policies struct {
	UploadedPolicies []string `json:"uploaded_policies"`
}

func (Policies) Step() Step { return StepPolicies }

func (p Policies) Validate() error {
	var errs []error
	for i, name := range p.UploadedPolicies {
		field := fmt.Sprintf("uploaded_policies[%d]", i)
		if strings.TrimSpace(name) == "" {
			errs = append(errs, domain.NewValidationError(field, name, ErrRequired))
			continue
		}
		if !slices.Contains(PolicyFormats, strings.ToLower(filepath.Ext(name))) {
			errs = append(errs, domain.NewValidationError(field, name, ErrNotAllowed))
		}
	}
	return errors.Join(errs...)
}

func (p Policies) summary() string {
	return "internal policies, reporting and procurement routines"
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return domain.NewValidationError(field, v, ErrRequired)
	}
	return nil
}

func text(field, v string, limit int, mandatory bool) error {
	if mandatory {
		if err := required(field, v); err != nil {
			return err
		}
	}
	if utf8.RuneCountInString(v) > limit {
		return domain.NewValidationError(field, fmt.Sprintf("%d characters", utf8.RuneCountInString(v)), ErrTooLong)
	}
	return nil
}

func selection(field string, picked, allowed []string, lo, hi int) error {
	if len(picked) < lo || len(picked) > hi {
		return domain.NewValidationError(field, strings.Join(picked, ", "), ErrCount)
	}
	seen := make(map[string]bool, len(picked))
	for _, v := range picked {
		if !slices.Contains(allowed, v) || seen[v] {
			return domain.NewValidationError(field, v, ErrNotAllowed)
		}
		seen[v] = true
	}
	return nil
}
