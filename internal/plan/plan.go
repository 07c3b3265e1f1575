// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package plan turns the instruction, reading plan and reconciled template
// into a section-by-section ReportPlan.
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

// maxSourcesPerSection bounds heuristic source assignment.
const maxSourcesPerSection = 5

var promptTmpl = template.Must(template.New("plan").Parse(`You are outlining a research report.

Instruction:
{{.Instruction}}

Sections (key: title, guidance):
{{range .Sections}}- {{.Key}}: {{.Title}}. {{.Guidance}}
{{end}}
Available sources:
{{range .Sources}}- {{.ID}}: {{.Title}}
{{end}}
For every section key give the focus it should cover and the source IDs it should draw on.
Use every section key exactly once.

Respond with a JSON object only:
{"sections": [{"key": "...", "focus": "...", "sources": ["..."]}]}
`))

// Planner builds report plans.
type Planner struct {
	LLM        llm.Client
	MaxRetries int
}

// Result is the planner's output.
type Result struct {
	Plan      types.ReportPlan
	Heuristic bool
	Notes     []string
}

// Run produces the plan. A model reply that does not cover every template
// section exactly once fails with types.ErrMalformedArtifact; an unavailable
// provider falls back to FromTemplate.
func (p *Planner) Run(ctx context.Context, in types.Instruction, sp types.ScoutPlan, idx types.SourceIndex, tmpl types.Template) (Result, error) {
	if !llm.Available(p.LLM) {
		return Result{
			Plan:      FromTemplate(in, sp, idx, tmpl),
			Heuristic: true,
			Notes:     []string{"llm unavailable: plan derived from template guidance"},
		}, nil
	}

	plan, err := p.fromLLM(ctx, in, sp, idx, tmpl)
	if errors.Is(err, types.ErrProviderUnavailable) {
		logging.New("plan").Warn("provider unavailable, using template plan", "error", err)
		return Result{
			Plan:      FromTemplate(in, sp, idx, tmpl),
			Heuristic: true,
			Notes:     []string{"llm unavailable: plan derived from template guidance"},
		}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Plan: plan}, nil
}

func (p *Planner) fromLLM(ctx context.Context, in types.Instruction, sp types.ScoutPlan, idx types.SourceIndex, tmpl types.Template) (types.ReportPlan, error) {
	var sources []types.SourceRecord
	for _, id := range sp.SourceIDs() {
		if r, ok := idx.Lookup(id); ok {
			sources = append(sources, r)
		}
	}
	prompt, err := llm.Render(promptTmpl, struct {
		Instruction string
		Sections    []types.TemplateSection
		Sources     []types.SourceRecord
	}{in.Context(), tmpl.Sections, sources})
	if err != nil {
		return types.ReportPlan{}, err
	}
	reply, err := llm.CompleteWithRetry(ctx, p.LLM, llm.Request{Stage: "plan", Prompt: prompt, MaxTokens: 2048}, p.MaxRetries)
	if err != nil {
		return types.ReportPlan{}, fmt.Errorf("planner: %w", err)
	}
	var parsed struct {
		Sections []struct {
			Key     string   `json:"key"`
			Focus   string   `json:"focus"`
			Sources []string `json:"sources"`
		} `json:"sections"`
	}
	if err := llm.DecodeJSON(reply, &parsed); err != nil {
		return types.ReportPlan{}, fmt.Errorf("planner: %w", err)
	}

	planned := make(map[string]bool)
	for _, id := range sp.SourceIDs() {
		planned[id] = true
	}
	draft := types.ReportPlan{Template: tmpl.Name}
	for _, s := range parsed.Sections {
		var ids []string
		for _, id := range s.Sources {
			if planned[id] && !contains(ids, id) {
				ids = append(ids, id)
			}
		}
		draft.Sections = append(draft.Sections, types.PlanSection{
			Key:     s.Key,
			Focus:   strings.TrimSpace(s.Focus),
			Sources: ids,
		})
	}
	if err := Validate(draft, tmpl); err != nil {
		return types.ReportPlan{}, err
	}
	return decorate(draft, in, tmpl), nil
}

// FromTemplate derives a plan without a model: each section's focus is the
// instruction topics its guidance touches, and its sources are the planned
// records whose text overlaps the section.
func FromTemplate(in types.Instruction, sp types.ScoutPlan, idx types.SourceIndex, tmpl types.Template) types.ReportPlan {
	plan := types.ReportPlan{Template: tmpl.Name}
	for _, s := range tmpl.Sections {
		sectionText := s.Title + " " + s.Guidance
		focus := instruction.Matches(in.Topics, sectionText)
		if len(focus) == 0 && len(in.Topics) > 0 {
			focus = in.Topics[:min(3, len(in.Topics))]
		}
		plan.Sections = append(plan.Sections, types.PlanSection{
			Key:     s.Key,
			Focus:   strings.Join(focus, ", "),
			Sources: assignSources(s, sp, idx),
		})
	}
	return decorate(plan, in, tmpl)
}

func assignSources(s types.TemplateSection, sp types.ScoutPlan, idx types.SourceIndex) []string {
	ids := sp.SourceIDs()
	if s.Key == "references" {
		return ids
	}
	terms := instruction.Keywords(s.Title + " " + s.Guidance)
	var out []string
	for _, id := range ids {
		r, ok := idx.Lookup(id)
		if !ok {
			continue
		}
		if instruction.Overlap(terms, r.Title+" "+r.Snippet) > 0 {
			out = append(out, id)
		}
		if len(out) == maxSourcesPerSection {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, ids[:min(3, len(ids))]...)
	}
	return out
}

// decorate fills template-owned fields: display title, guidance, not
// applicable stubs and an empty claim placeholder. Sections follow template
// order.
func decorate(plan types.ReportPlan, in types.Instruction, tmpl types.Template) types.ReportPlan {
	byKey := make(map[string]types.PlanSection, len(plan.Sections))
	for _, s := range plan.Sections {
		byKey[s.Key] = s
	}
	out := types.ReportPlan{Template: tmpl.Name, Sections: make([]types.PlanSection, 0, len(tmpl.Sections))}
	for _, ts := range tmpl.Sections {
		ps := byKey[ts.Key]
		ps.Key = ts.Key
		ps.Title = ts.Title
		ps.Guidance = ts.Guidance
		ps.ClaimIDs = []string{}
		if reason, ok := in.NotApplicable[ts.Key]; ok {
			ps.NotApplicable = reason
		}
		out.Sections = append(out.Sections, ps)
	}
	return out
}

// Validate checks that plan covers every template section exactly once and
// names no section the template lacks.
func Validate(plan types.ReportPlan, tmpl types.Template) error {
	want := make(map[string]bool, len(tmpl.Sections))
	for _, k := range tmpl.Keys() {
		want[k] = true
	}
	seen := make(map[string]bool, len(plan.Sections))
	for _, s := range plan.Sections {
		switch {
		case !want[s.Key]:
			return fmt.Errorf("%w: plan section %q not in template %q", types.ErrMalformedArtifact, s.Key, tmpl.Name)
		case seen[s.Key]:
			return fmt.Errorf("%w: plan section %q appears more than once", types.ErrMalformedArtifact, s.Key)
		}
		seen[s.Key] = true
	}
	for _, k := range tmpl.Keys() {
		if !seen[k] {
			return fmt.Errorf("%w: plan is missing required section %q", types.ErrMalformedArtifact, k)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
