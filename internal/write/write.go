// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package write renders the report plan and claim set into a draft, and
// polishes the best draft into the final version.
//
// Drafts cite claims inline by claim ID, e.g. "[c-1a2b3c4d5e6f]". A citation
// is traceable when the key names a claim in the run's claim map; unknown
// keys are removed before the draft is committed.
package write

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/format"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

var sectionTmpl = template.Must(template.New("write").Parse(`You are writing one section of a research report in language "{{.Language}}".

Report: {{.Report}}
Section: {{.Section.Title}}
Guidance: {{.Section.Guidance}}
{{if .Section.Focus}}Focus: {{.Section.Focus}}
{{end}}{{if .Section.Annotation}}Evidence warning: {{.Section.Annotation}}
{{end}}{{range .Global}}- {{.}}
{{end}}
Claims you may use (cite each one you use by its key in square brackets):
{{range .Claims}}[{{.ID}}] {{.Text}} (strength: {{.Strength}})
{{end}}
Every number or named finding must carry a citation. Do not state facts that
are not in the claim list. Write the section body in Markdown without a
heading.`))

// Writer produces draft v1.
type Writer struct {
	LLM        llm.Client
	Language   string
	MaxRetries int
}

// Input bundles what the writer reads.
type Input struct {
	Instruction types.Instruction
	Plan        types.ReportPlan
	Claims      []types.Claim
	Template    types.Template
	Index       types.SourceIndex
}

// Result is a written draft.
type Result struct {
	Draft     types.Draft
	Heuristic bool
	Notes     []string
}

// Write renders every plan section in plan order, which follows the
// template. Not-applicable sections become a short justified stub.
func (w *Writer) Write(ctx context.Context, in Input) (Result, error) {
	logger := logging.New("write")
	known := claimIndex(in.Claims)
	res := Result{Draft: types.Draft{Version: 1, Title: Title(in.Instruction, in.Template)}}
	useLLM := llm.Available(w.LLM)
	if !useLLM {
		res.Heuristic = true
		res.Notes = append(res.Notes, "llm unavailable: sections rendered from the claim list")
	}

	for _, ps := range in.Plan.Sections {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		claims := sectionClaims(ps, known)
		var body string
		fromLLM := false
		switch {
		case ps.NotApplicable != "":
			body = fmt.Sprintf("_Not applicable: %s._", strings.TrimSuffix(ps.NotApplicable, "."))
		case ps.Key == "references":
			body = References(in.Claims, in.Index)
		case useLLM:
			text, err := w.section(ctx, in, ps, claims)
			if errors.Is(err, types.ErrProviderUnavailable) {
				useLLM, res.Heuristic = false, true
				res.Notes = append(res.Notes, "llm unavailable: sections rendered from the claim list")
				body = ClaimProse(ps, claims)
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				logger.Warn("section write failed, using claim list", "section", ps.Key, "error", err)
				res.Notes = append(res.Notes, fmt.Sprintf("section %s: %v; rendered from the claim list", ps.Key, err))
				body = ClaimProse(ps, claims)
				break
			}
			body, fromLLM = text, true
		default:
			body = ClaimProse(ps, claims)
		}

		clean, removed := StripUnknown(body, known.seen)
		if len(removed) > 0 {
			res.Notes = append(res.Notes, fmt.Sprintf("section %s: removed %d untraceable citations", ps.Key, len(removed)))
		}
		if n := len(UncitedFigures(clean)); n > 0 && fromLLM {
			logger.Warn("section states uncited figures, using claim list", "section", ps.Key, "sentences", n)
			res.Notes = append(res.Notes, fmt.Sprintf("section %s: %d sentences state figures without a citation; rendered from the claim list", ps.Key, n))
			clean, _ = StripUnknown(ClaimProse(ps, claims), known.seen)
		}
		res.Draft.Sections = append(res.Draft.Sections, types.DraftSection{Key: ps.Key, Title: ps.Title, Body: clean})
	}
	res.Draft.Notes = append(res.Draft.Notes, res.Notes...)
	return res, nil
}

func (w *Writer) section(ctx context.Context, in Input, ps types.PlanSection, claims []types.Claim) (string, error) {
	prompt, err := llm.Render(sectionTmpl, struct {
		Language string
		Report   string
		Section  types.PlanSection
		Global   []string
		Claims   []types.Claim
	}{w.language(), Title(in.Instruction, in.Template), ps, in.Template.WriterGuidance, claims})
	if err != nil {
		return "", err
	}
	out, err := llm.CompleteWithRetry(ctx, w.LLM, llm.Request{Stage: "write", Prompt: prompt, MaxTokens: 2048}, w.MaxRetries)
	if err != nil {
		return "", err
	}
	out = stripLeadingHeading(strings.TrimSpace(out))
	if out == "" {
		return "", fmt.Errorf("%w: empty section body", types.ErrMalformedArtifact)
	}
	return out, nil
}

func (w *Writer) language() string {
	if w.Language == "" {
		return "en"
	}
	return w.Language
}

// ClaimProse renders a section from its claims without a model: one bullet
// per claim with its citation, evidence gaps called out.
func ClaimProse(ps types.PlanSection, claims []types.Claim) string {
	var b strings.Builder
	if ps.Annotation != "" {
		fmt.Fprintf(&b, "> Evidence note: %s.\n\n", ps.Annotation)
	}
	if len(claims) == 0 {
		b.WriteString("_No claims were extracted for this section._")
		return b.String()
	}
	for i, c := range claims {
		if i > 0 {
			b.WriteString("\n")
		}
		text := strings.TrimSuffix(c.Text, ".")
		if len(c.Evidence) == 0 {
			fmt.Fprintf(&b, "- Evidence gap: %s [%s].", text, c.ID)
			continue
		}
		fmt.Fprintf(&b, "- %s [%s].", text, c.ID)
	}
	return b.String()
}

// References lists every source cited by a claim, in first-citation order.
func References(claims []types.Claim, idx types.SourceIndex) string {
	seen := make(map[string]bool)
	var lines []string
	for _, c := range claims {
		for _, id := range c.Sources() {
			if seen[id] {
				continue
			}
			seen[id] = true
			line := "- **" + id + "**"
			if r, ok := idx.Lookup(id); ok {
				if r.Title != "" {
					line += ": " + r.Title
				}
				if r.URL != "" {
					line += " <" + r.URL + ">"
				}
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "_No sources were cited._"
	}
	return strings.Join(lines, "\n")
}

// Title derives the report title from the instruction's first prose line.
func Title(in types.Instruction, tmpl types.Template) string {
	for _, line := range strings.Split(in.Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return format.Truncate(strings.TrimSuffix(line, "."), 90)
		}
	}
	if tmpl.Name != "" {
		return strings.ReplaceAll(tmpl.Name, "-", " ")
	}
	return "Research Report"
}

type claimLookup struct {
	seen map[string]bool
	byID map[string]types.Claim
}

func claimIndex(claims []types.Claim) claimLookup {
	l := claimLookup{seen: make(map[string]bool, len(claims)), byID: make(map[string]types.Claim, len(claims))}
	for _, c := range claims {
		l.seen[c.ID] = true
		l.byID[c.ID] = c
	}
	return l
}

func sectionClaims(ps types.PlanSection, l claimLookup) []types.Claim {
	var out []types.Claim
	for _, id := range ps.ClaimIDs {
		if c, ok := l.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func stripLeadingHeading(s string) string {
	if strings.HasPrefix(s, "#") {
		if i := strings.Index(s, "\n"); i >= 0 {
			return strings.TrimSpace(s[i+1:])
		}
		return ""
	}
	return s
}
