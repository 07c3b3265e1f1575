// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package write

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

const (
	claimA = "c-aaaaaaaaaaaa"
	claimB = "c-bbbbbbbbbbbb"
	claimG = "c-999999999999"
)

func fixture() Input {
	primary := []types.EvidenceRef{{SourceID: "W1", Provenance: types.ProvenancePrimary}}
	return Input{
		Instruction: types.Instruction{Text: "Solid-state battery outlook.\nCover cost too."},
		Template: types.Template{Name: "research-brief", WriterGuidance: []string{"Be concise."}, Sections: []types.TemplateSection{
			{Key: "summary", Title: "Summary"},
			{Key: "findings", Title: "Key Results"},
			{Key: "limits", Title: "Limitations"},
			{Key: "references", Title: "References"},
		}},
		Plan: types.ReportPlan{Template: "research-brief", Sections: []types.PlanSection{
			{Key: "summary", Title: "Summary", ClaimIDs: []string{claimA}},
			{Key: "findings", Title: "Key Results", ClaimIDs: []string{claimA, claimG}, Annotation: "1 of 2 claims lack evidence"},
			{Key: "limits", Title: "Limitations", NotApplicable: "no trials were run."},
			{Key: "references", Title: "References"},
		}},
		Claims: []types.Claim{
			{ID: claimA, Section: "findings", Text: "Sulfide electrolytes reach 25 mS/cm.", Evidence: primary, Strength: types.StrengthLow},
			{ID: claimB, Section: "summary", Text: "Unused claim.", Evidence: primary, Strength: types.StrengthLow},
			{ID: claimG, Section: "findings", Text: "No source supports cost.", Strength: types.StrengthNone, Flags: []types.Flag{types.FlagNoEvidence}},
		},
		Index: types.SourceIndex{Records: []types.SourceRecord{
			{ID: "W1", Title: "Solid Electrolytes", URL: "https://example.org/w1", Included: true},
		}},
	}
}

func TestWriteHeuristic(t *testing.T) {
	w := &Writer{LLM: llm.Unavailable{Reason: "test"}}
	res, err := w.Write(context.Background(), fixture())
	require.NoError(t, err)
	assert.True(t, res.Heuristic)

	d := res.Draft
	assert.Equal(t, 1, d.Version)
	assert.Equal(t, "Solid-state battery outlook", d.Title)
	assert.Equal(t, []string{"summary", "findings", "limits", "references"}, d.Keys())
	assert.Equal(t, "Key Results", d.Sections[1].Title)

	findings := d.Sections[1].Body
	assert.Contains(t, findings, "> Evidence note: 1 of 2 claims lack evidence.")
	assert.Contains(t, findings, "- Sulfide electrolytes reach 25 mS/cm ["+claimA+"].")
	assert.Contains(t, findings, "- Evidence gap: No source supports cost ["+claimG+"].")
	assert.Equal(t, "_Not applicable: no trials were run._", d.Sections[2].Body)
	assert.Equal(t, "- **W1**: Solid Electrolytes <https://example.org/w1>", d.Sections[3].Body)
}

func TestWriteStripsUnknownCitations(t *testing.T) {
	s := llm.NewScript().On("write",
		"## Summary\n\nBatteries improve ["+claimA+"] and sell well [c-0123456789ab].",
		"Findings text ["+claimA+"].")
	w := &Writer{LLM: s}
	res, err := w.Write(context.Background(), fixture())
	require.NoError(t, err)
	assert.False(t, res.Heuristic)
	assert.Equal(t, 2, s.CallCount("write"))

	body := res.Draft.Sections[0].Body
	assert.Equal(t, "Batteries improve ["+claimA+"] and sell well.", body)
	assert.Contains(t, res.Notes, "section summary: removed 1 untraceable citations")
	assert.Contains(t, s.Calls()[0].Prompt, "["+claimA+"] Sulfide electrolytes reach 25 mS/cm.")
	assert.Contains(t, s.Calls()[0].Prompt, "- Be concise.")
}

func TestWriteFallsBackPerSection(t *testing.T) {
	s := llm.NewScript().On("write", "Summary text ["+claimA+"].")
	w := &Writer{LLM: s}
	res, err := w.Write(context.Background(), fixture())
	require.NoError(t, err)
	assert.Contains(t, res.Draft.Sections[1].Body, "["+claimG+"]")
	assert.True(t, hasPrefix(res.Notes, "section findings:"))
}

func TestWriteRejectsUncitedFigures(t *testing.T) {
	s := llm.NewScript().On("write",
		"Batteries improve ["+claimA+"]. Sales grew 40 percent last year.",
		"Findings text ["+claimA+"].")
	w := &Writer{LLM: s}
	res, err := w.Write(context.Background(), fixture())
	require.NoError(t, err)

	body := res.Draft.Sections[0].Body
	assert.NotContains(t, body, "40 percent")
	assert.Equal(t, "- Sulfide electrolytes reach 25 mS/cm ["+claimA+"].", body)
	assert.Contains(t, res.Notes, "section summary: 1 sentences state figures without a citation; rendered from the claim list")
	assert.Equal(t, "Findings text ["+claimA+"].", res.Draft.Sections[1].Body)
}

func TestFinalize(t *testing.T) {
	d := types.Draft{Version: 3, Parent: 2, Title: "T", Sections: []types.DraftSection{
		{Key: "summary", Title: "Summary", Body: "Short ["+claimA+"]."},
		{Key: "findings", Title: "Findings", Body: "Result ["+claimA+"]."},
		{Key: "references", Title: "References", Body: "- **W1**"},
	}}
	claims := fixture().Claims

	s := llm.NewScript().On("finalize",
		"A short, clear answer ["+claimA+"].",
		"Result ["+claimA+"] and more ["+claimB+"].")
	f := &Finalizer{LLM: s}
	out, notes, err := f.Finalize(context.Background(), d, claims)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Version)
	assert.Equal(t, 3, out.Parent)
	assert.Equal(t, "A short, clear answer ["+claimA+"].", out.Sections[0].Body)
	assert.Equal(t, "Result ["+claimA+"].", out.Sections[1].Body)
	assert.Equal(t, []string{"section findings: polish rejected, new citation " + claimB}, notes)
	assert.Equal(t, 2, s.CallCount("finalize"))
	assert.Equal(t, "Short ["+claimA+"].", d.Sections[0].Body)
}

func TestFinalizeRejectsUncitedFigures(t *testing.T) {
	d := types.Draft{Version: 1, Sections: []types.DraftSection{
		{Key: "summary", Title: "Summary", Body: "Short ["+claimA+"]."},
	}}
	s := llm.NewScript().On("finalize", "Short ["+claimA+"]. Sales grew 40 percent.")
	out, notes, err := (&Finalizer{LLM: s}).Finalize(context.Background(), d, fixture().Claims)
	require.NoError(t, err)
	assert.Equal(t, "Short ["+claimA+"].", out.Sections[0].Body)
	assert.Equal(t, []string{"section summary: polish rejected, uncited figures introduced"}, notes)
}

func TestFinalizeWithoutLLM(t *testing.T) {
	d := types.Draft{Version: 2, Sections: []types.DraftSection{{Key: "summary", Title: "Summary", Body: "x"}}}
	out, notes, err := (&Finalizer{}).Finalize(context.Background(), d, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Version)
	assert.Equal(t, "x", out.Sections[0].Body)
	assert.Len(t, notes, 1)
}

func TestCitations(t *testing.T) {
	text := "A [" + claimA + "; " + claimB + "] and [see note] and [" + claimA + "]."
	assert.Equal(t, []string{claimA, claimB, claimA}, Citations(text))
	assert.Equal(t, []string{claimA, claimB}, CitationSet(text))
	assert.Empty(t, Citations("no citations [here]"))
}

func TestStripUnknown(t *testing.T) {
	known := map[string]bool{claimA: true}
	tests := []struct {
		in, want string
		removed  int
	}{
		{"Keep [" + claimA + "].", "Keep [" + claimA + "].", 0},
		{"Drop [" + claimB + "].", "Drop.", 1},
		{"Mixed [" + claimA + "; " + claimB + "].", "Mixed [" + claimA + "].", 1},
		{"Link [label] stays.", "Link [label] stays.", 0},
		{"Drop [" + claimB + "] mid sentence.", "Drop mid sentence.", 1},
		{
			"Runs on the .NET runtime and scored above .5 in trials [" + claimA + "].",
			"Runs on the .NET runtime and scored above .5 in trials [" + claimA + "].", 0,
		},
		{
			"Ported to .NET [" + claimB + "]. Scored above .5 overall.",
			"Ported to .NET. Scored above .5 overall.", 1,
		},
	}
	for _, tt := range tests {
		got, removed := StripUnknown(tt.in, known)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Len(t, removed, tt.removed, tt.in)
	}
}

func TestUncitedFigures(t *testing.T) {
	text := "## 2024 Results\n\nRevenue rose 12 percent. Costs fell 3 percent [" + claimA + "].\n- Item without numbers.\n_Table 1 omitted._"
	assert.Equal(t, []string{"Revenue rose 12 percent."}, UncitedFigures(text))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Outlook", Title(types.Instruction{Text: "\n# Outlook.\n"}, types.Template{}))
	assert.Equal(t, "research brief", Title(types.Instruction{}, types.Template{Name: "research-brief"}))
	assert.Equal(t, "Research Report", Title(types.Instruction{}, types.Template{}))
}

func hasPrefix(notes []string, prefix string) bool {
	for _, n := range notes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
