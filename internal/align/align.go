// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package align scores a scout plan or final draft against the instruction
// and the run's actual source inventory. The check never modifies its input;
// later stages decide what to do with the findings.
package align

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Checkpoints.
const (
	CheckpointScout = "scout"
	CheckpointFinal = "final"
)

// Input is everything the checker looks at. Exactly one of Plan or Draft is
// set, depending on the checkpoint.
type Input struct {
	Checkpoint  string
	Instruction types.Instruction
	Index       types.SourceIndex

	// Declared is the template name requested by the instruction or config.
	Declared string

	// Template is the template actually in force.
	Template types.Template

	Plan   *types.ScoutPlan
	Draft  *types.Draft
	Claims []types.Claim

	// Unavailable lists stages that were skipped for a missing provider.
	Unavailable []types.StageName
}

// Checker runs the deterministic checks and, when UseLLM is set and a
// provider is available, appends model observations.
type Checker struct {
	LLM        llm.Client
	UseLLM     bool
	MaxRetries int
}

var observeTmpl = template.Must(template.New("align").Parse(`Review how well this {{.Checkpoint}} artifact serves the research instruction.

Instruction:
{{.Instruction}}

Artifact:
{{.Artifact}}

Respond with a JSON object only:
{"aligned": ["..."], "gaps": [{"text": "...", "severity": "low|medium|high"}], "actions": ["..."]}
`))

// Check returns the alignment report plus ledger notes.
func (c *Checker) Check(ctx context.Context, in Input) (types.AlignmentReport, []string) {
	report := Evaluate(in)
	if !c.UseLLM || !llm.Available(c.LLM) {
		return report, nil
	}

	prompt, err := llm.Render(observeTmpl, struct {
		Checkpoint, Instruction, Artifact string
	}{in.Checkpoint, in.Instruction.Context(), artifactText(in)})
	if err != nil {
		return report, []string{"llm observations skipped: " + err.Error()}
	}
	reply, err := llm.CompleteWithRetry(ctx, c.LLM, llm.Request{Stage: "align", Prompt: prompt, MaxTokens: 1024}, c.MaxRetries)
	if err != nil {
		logging.New("align").Warn("llm observations unavailable", "error", err)
		return report, []string{"llm observations skipped: " + err.Error()}
	}
	var parsed struct {
		Aligned []string             `json:"aligned"`
		Gaps    []types.AlignmentGap `json:"gaps"`
		Actions []string             `json:"actions"`
	}
	if err := llm.DecodeJSON(reply, &parsed); err != nil {
		return report, []string{"llm observations discarded: " + err.Error()}
	}

	report.Aligned = append(report.Aligned, parsed.Aligned...)
	for _, g := range parsed.Gaps {
		if strings.TrimSpace(g.Text) == "" {
			continue
		}
		g.Severity = normalizeSeverity(g.Severity)
		report.Gaps = append(report.Gaps, g)
	}
	report.Actions = append(report.Actions, parsed.Actions...)
	report.Score = score(report.Gaps)
	return report, []string{"llm observations merged"}
}

// Evaluate runs the deterministic checks only.
func Evaluate(in Input) types.AlignmentReport {
	r := types.AlignmentReport{
		Checkpoint:       in.Checkpoint,
		TemplateDeclared: in.Declared,
		TemplateInForce:  in.Template.Name,
	}

	checkTopics(&r, in)
	checkTemplate(&r, in)
	checkCoverage(&r, in)
	switch {
	case in.Draft != nil:
		checkSections(&r, in)
		checkEvidence(&r, in)
	case in.Plan != nil:
		checkPlan(&r, in)
	}

	r.Score = score(r.Gaps)
	return r
}

func checkTopics(r *types.AlignmentReport, in Input) {
	topics := in.Instruction.Topics
	if len(topics) == 0 {
		r.Aligned = append(r.Aligned, "instruction names no specific topics")
		return
	}
	matched := instruction.Matches(topics, artifactText(in))
	if len(matched) > 0 {
		r.Aligned = append(r.Aligned, "covers topics: "+strings.Join(matched, ", "))
	}
	missing := difference(topics, matched)
	if len(missing) == 0 {
		return
	}
	sev := types.SeverityLow
	if len(matched)*2 < len(topics) {
		sev = types.SeverityMedium
	}
	r.Gaps = append(r.Gaps, types.AlignmentGap{
		Text:     "topics not covered: " + strings.Join(missing, ", "),
		Severity: sev,
	})
	r.Actions = append(r.Actions, "add sources or sections for: "+strings.Join(missing, ", "))
}

func checkTemplate(r *types.AlignmentReport, in Input) {
	if in.Declared == "" || in.Declared == in.Template.Name {
		if in.Template.Name != "" {
			r.Aligned = append(r.Aligned, "template in force: "+in.Template.Name)
		}
		return
	}
	r.Gaps = append(r.Gaps, types.AlignmentGap{
		Text:     fmt.Sprintf("template mismatch: declared %q but %q is in force", in.Declared, in.Template.Name),
		Severity: types.SeverityHigh,
	})
	r.Actions = append(r.Actions, fmt.Sprintf("install template %q or update the instruction", in.Declared))
}

func checkCoverage(r *types.AlignmentReport, in Input) {
	for _, g := range in.Index.Coverage {
		text := "coverage gap: " + g.Reason
		if g.Origin != "" {
			text = fmt.Sprintf("coverage gap: %s %s", g.Origin, g.Reason)
		}
		r.Gaps = append(r.Gaps, types.AlignmentGap{Text: text, Severity: types.SeverityLow})
	}
	for _, stage := range in.Unavailable {
		r.Gaps = append(r.Gaps, types.AlignmentGap{
			Text:     fmt.Sprintf("coverage gap: %s skipped (%s)", stage, types.ReasonProviderUnavailable),
			Severity: types.SeverityMedium,
		})
		r.Actions = append(r.Actions, fmt.Sprintf("configure credentials to enable %s", stage))
	}
	if len(in.Index.Included()) == 0 {
		r.Gaps = append(r.Gaps, types.AlignmentGap{Text: "no sources in scope", Severity: types.SeverityHigh})
	}
}

func checkPlan(r *types.AlignmentReport, in Input) {
	n := len(in.Plan.Entries)
	if n == 0 {
		r.Gaps = append(r.Gaps, types.AlignmentGap{Text: "reading plan is empty", Severity: types.SeverityHigh})
		return
	}
	r.Aligned = append(r.Aligned, fmt.Sprintf("reading plan lists %d sources", n))
	if n == 1 && len(in.Index.Included()) > 1 {
		r.Gaps = append(r.Gaps, types.AlignmentGap{Text: "reading plan depends on a single source", Severity: types.SeverityLow})
	}
}

func checkSections(r *types.AlignmentReport, in Input) {
	have := make(map[string]bool, len(in.Draft.Sections))
	for _, s := range in.Draft.Sections {
		have[s.Key] = true
	}
	var missing []string
	for _, key := range in.Template.Keys() {
		if !have[key] {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		r.Gaps = append(r.Gaps, types.AlignmentGap{
			Text:     "draft is missing sections: " + strings.Join(missing, ", "),
			Severity: types.SeverityHigh,
		})
		return
	}
	r.Aligned = append(r.Aligned, fmt.Sprintf("all %d template sections present", len(in.Template.Sections)))
}

func checkEvidence(r *types.AlignmentReport, in Input) {
	if len(in.Claims) == 0 {
		return
	}
	gaps := 0
	for _, c := range in.Claims {
		if len(c.Evidence) == 0 {
			gaps++
		}
	}
	if gaps == 0 {
		r.Aligned = append(r.Aligned, fmt.Sprintf("all %d claims bound to evidence", len(in.Claims)))
		return
	}
	sev := types.SeverityLow
	if gaps*2 > len(in.Claims) {
		sev = types.SeverityMedium
	}
	r.Gaps = append(r.Gaps, types.AlignmentGap{
		Text:     fmt.Sprintf("%d of %d claims lack evidence", gaps, len(in.Claims)),
		Severity: sev,
	})
	r.Actions = append(r.Actions, "review the gap report before publishing")
}

func artifactText(in Input) string {
	var b strings.Builder
	switch {
	case in.Draft != nil:
		b.WriteString(in.Draft.Title)
		for _, s := range in.Draft.Sections {
			b.WriteString("\n" + s.Title + "\n" + s.Body)
		}
	case in.Plan != nil:
		for _, e := range in.Plan.Entries {
			b.WriteString(e.Rationale + "\n")
			if rec, ok := in.Index.Lookup(e.SourceID); ok {
				b.WriteString(rec.Title + "\n" + rec.Snippet + "\n")
			}
		}
	}
	return b.String()
}

func score(gaps []types.AlignmentGap) int {
	s := 100
	for _, g := range gaps {
		s -= g.Severity.Penalty()
	}
	if s < 0 {
		return 0
	}
	return s
}

func normalizeSeverity(s types.Severity) types.Severity {
	switch types.Severity(strings.ToLower(string(s))) {
	case types.SeverityHigh:
		return types.SeverityHigh
	case types.SeverityMedium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func difference(all, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []string
	for _, a := range all {
		if !skip[a] {
			out = append(out, a)
		}
	}
	return out
}
