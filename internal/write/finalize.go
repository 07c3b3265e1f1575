// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package write

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

var polishTmpl = template.Must(template.New("finalize").Parse(`Polish the following report section for clarity and flow.
Keep every citation in square brackets exactly as written. Do not add
citations, numbers, or facts that are not already present. Return only the
section body in Markdown without a heading.

Section: {{.Title}}

{{.Body}}`))

// Finalizer polishes the best draft into the final version. A polished
// section that changes the citation set or introduces uncited figures is
// rejected and the original body is kept.
type Finalizer struct {
	LLM        llm.Client
	MaxRetries int

	// After is the highest draft version already written. The final draft
	// is numbered after it, or after the input draft when that is higher.
	After int
}

// Finalize returns a new draft version whose parent is d.
func (f *Finalizer) Finalize(ctx context.Context, d types.Draft, claims []types.Claim) (types.Draft, []string, error) {
	out := d.Clone()
	out.Parent = d.Version
	out.Version = max(d.Version, f.After) + 1
	out.Notes = nil

	if !llm.Available(f.LLM) {
		return out, []string{"llm unavailable: best draft promoted unchanged"}, nil
	}

	known := claimIndex(claims).seen
	var notes []string
	for i, s := range d.Sections {
		if err := ctx.Err(); err != nil {
			return types.Draft{}, nil, err
		}
		if s.Key == "references" || strings.HasPrefix(s.Body, "_Not applicable") {
			continue
		}
		polished, err := f.polish(ctx, s)
		if errors.Is(err, types.ErrProviderUnavailable) {
			notes = append(notes, "llm unavailable: remaining sections kept unchanged")
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return types.Draft{}, nil, ctx.Err()
			}
			notes = append(notes, fmt.Sprintf("section %s: polish failed (%v); kept original", s.Key, err))
			continue
		}
		if reason := rejectPolish(s.Body, polished, known); reason != "" {
			notes = append(notes, fmt.Sprintf("section %s: polish rejected, %s", s.Key, reason))
			continue
		}
		out.Sections[i].Body = polished
	}
	out.Notes = notes
	return out, notes, nil
}

func (f *Finalizer) polish(ctx context.Context, s types.DraftSection) (string, error) {
	prompt, err := llm.Render(polishTmpl, s)
	if err != nil {
		return "", err
	}
	reply, err := llm.CompleteWithRetry(ctx, f.LLM, llm.Request{Stage: "finalize", Prompt: prompt}, f.MaxRetries)
	if err != nil {
		return "", err
	}
	reply = stripLeadingHeading(strings.TrimSpace(reply))
	if reply == "" {
		return "", fmt.Errorf("%w: empty polished body", types.ErrMalformedArtifact)
	}
	return reply, nil
}

// rejectPolish returns a non-empty reason when polished text is not a
// faithful rewrite of original.
func rejectPolish(original, polished string, known map[string]bool) string {
	before := make(map[string]bool)
	for _, k := range CitationSet(original) {
		before[k] = true
	}
	for _, k := range CitationSet(polished) {
		if !before[k] {
			if !known[k] {
				return fmt.Sprintf("unknown citation %s", k)
			}
			return fmt.Sprintf("new citation %s", k)
		}
	}
	if len(CitationSet(polished)) < len(before) {
		return "citations dropped"
	}
	if len(UncitedFigures(polished)) > len(UncitedFigures(original)) {
		return "uncited figures introduced"
	}
	return ""
}
