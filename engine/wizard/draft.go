package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/grantdraft/grantdraft/engine/domain"
)

// ErrIncompleteDraft reports a generator response missing required fields.
var ErrIncompleteDraft = errors.New("wizard: incomplete draft")

// WorkPackageDraft is a generated work package.
type WorkPackageDraft struct {
	Name         string `json:"name"`
	Purpose      string `json:"purpose"`
	Activities   string `json:"activities"`
	Deliverables string `json:"deliverables"`
	Timeline     string `json:"timeline"`
	BudgetShare  string `json:"budget_share"`
	KPI          string `json:"kpi,omitempty"`
}

// GenerateRequest asks a Generator to draft one step's section.
type GenerateRequest struct {
	Step    Step
	Section string
	Input   Input
	// Context is reference text retrieved for the section, possibly empty.
	Context string
	// Fields are the text fields the response must fill. Empty for the
	// work-package step.
	Fields []string
}

// Prompt renders the user message for the request.
func (r GenerateRequest) Prompt() string {
	answers, _ := json.Marshal(r.Input)
	var b strings.Builder
	fmt.Fprintf(&b, "User input for step '%s':\n%s", r.Step.Label(), answers)
	if strings.TrimSpace(r.Context) != "" {
		fmt.Fprintf(&b, "\n\nRelevant context from classification documents:\n%s", r.Context)
		b.WriteString("\n\nPlease use the provided context to inform your response and ensure consistency with the document requirements.")
	}
	if len(r.Fields) > 0 {
		fmt.Fprintf(&b, "\n\nRespond with a JSON object with the string fields: %s.", strings.Join(r.Fields, ", "))
	} else {
		b.WriteString("\n\nRespond with a JSON object with a \"work_packages\" list of 3 to 5 packages, each with " +
			"name, purpose, activities, deliverables, timeline, budget_share and an optional kpi.")
	}
	return b.String()
}

// GenerateResponse is the structured draft returned by a Generator.
type GenerateResponse struct {
	Fields       map[string]string  `json:"fields,omitempty"`
	WorkPackages []WorkPackageDraft `json:"work_packages,omitempty"`
}

// Generator drafts application text.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	return f(ctx, req)
}

// ContextSource supplies reference text for an application section.
// *rag.Service satisfies it.
type ContextSource interface {
	SectionContext(ctx context.Context, query, section string) (string, error)
}

// Drafter turns answered steps into section drafts.
type Drafter struct {
	gen     Generator
	context ContextSource
	log     *slog.Logger
	now     func() time.Time
}

// NewDrafter creates a Drafter. src may be nil to draft without grounding.
func NewDrafter(gen Generator, src ContextSource, logger *slog.Logger) *Drafter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafter{gen: gen, context: src, log: logger, now: time.Now}
}

// Draft generates the section for step and returns s with the draft
// recorded under the step's section. Retrieval failures degrade to an
// ungrounded draft; generator failures are returned.
func (d *Drafter) Draft(ctx context.Context, s State, step Step) (State, error) {
	if !step.Valid() {
		return s, fmt.Errorf("wizard: draft %d: %w", int(step), ErrUnknownStep)
	}
	in, ok := s.Answer(step)
	if !ok {
		return s, fmt.Errorf("wizard: draft %s: %w", step, ErrUnanswered)
	}

	req := GenerateRequest{
		Step:    step,
		Section: step.Section(),
		Input:   in,
		Context: d.lookup(ctx, step, in),
		Fields:  step.DraftFields(),
	}
	resp, err := d.gen.Generate(ctx, req)
	if err != nil {
		return s, fmt.Errorf("wizard: draft %s: %w", step, err)
	}
	if err := complete(req, resp); err != nil {
		return s, fmt.Errorf("wizard: draft %s: %w", step, err)
	}

	d.log.Info("wizard: section drafted", "step", step.Label(), "section", req.Section, "grounded", req.Context != "")
	return s.withDraft(Draft{
		Step:         step,
		Fields:       resp.Fields,
		WorkPackages: resp.WorkPackages,
		Grounded:     req.Context != "",
		DraftedAt:    d.now().UTC(),
	}), nil
}

// Finalize drafts every pending step and marks the wizard complete. On
// error the returned state keeps the drafts made so far.
func (d *Drafter) Finalize(ctx context.Context, s State) (State, error) {
	for _, step := range s.Pending() {
		next, err := d.Draft(ctx, s, step)
		if err != nil {
			return s, err
		}
		s = next
	}
	out := s.clone()
	out.Complete = true
	return out, nil
}

func (d *Drafter) lookup(ctx context.Context, step Step, in Input) string {
	if d.context == nil {
		return ""
	}
	query := strings.TrimSpace(in.summary())
	if query == "" {
		return ""
	}
	if utf8.RuneCountInString(query) > domain.MaxQueryLength {
		query = string([]rune(query)[:domain.MaxQueryLength])
	}
	text, err := d.context.SectionContext(ctx, query, step.Section())
	if err != nil {
		d.log.Warn("wizard: reference lookup failed, drafting ungrounded",
			"section", step.Section(), "kind", domain.Kind(err), "err", err)
		return ""
	}
	return text
}

func complete(req GenerateRequest, resp GenerateResponse) error {
	if len(req.Fields) == 0 {
		if len(resp.WorkPackages) == 0 {
			return fmt.Errorf("%w: no work packages", ErrIncompleteDraft)
		}
		for i, wp := range resp.WorkPackages {
			if strings.TrimSpace(wp.Name) == "" {
				return fmt.Errorf("%w: work package %d has no name", ErrIncompleteDraft, i+1)
			}
		}
		return nil
	}
	var missing []string
	for _, f := range req.Fields {
		if strings.TrimSpace(resp.Fields[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteDraft, strings.Join(missing, ", "))
	}
	return nil
}
