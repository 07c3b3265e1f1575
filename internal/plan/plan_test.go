// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

func tmpl() types.Template {
	return types.Template{Name: "research-brief", Sections: []types.TemplateSection{
		{Key: "summary", Title: "Executive Summary", Guidance: "State the answer."},
		{Key: "findings", Title: "Findings", Guidance: "Electrolyte chemistry results."},
		{Key: "references", Title: "References", Guidance: "List sources."},
	}}
}

func fixtures() (types.Instruction, types.ScoutPlan, types.SourceIndex) {
	in := types.Instruction{
		Topics:        []string{"electrolyte", "chemistry", "cost"},
		NotApplicable: map[string]string{"summary": "brief is internal"},
	}
	sp := types.ScoutPlan{Entries: []types.ScoutEntry{
		{SourceID: "W1", PriorityRank: 1},
		{SourceID: "W2", PriorityRank: 2},
	}}
	idx := types.SourceIndex{Records: []types.SourceRecord{
		{ID: "W1", Title: "Sulfide electrolyte chemistry", Included: true},
		{ID: "W2", Title: "Manufacturing cost outlook", Included: true},
	}}
	return in, sp, idx
}

func TestFromTemplate(t *testing.T) {
	in, sp, idx := fixtures()
	p := FromTemplate(in, sp, idx, tmpl())

	require.NoError(t, Validate(p, tmpl()))
	assert.Equal(t, []string{"summary", "findings", "references"}, p.Keys())

	findings, _ := p.Section("findings")
	assert.Equal(t, "Findings", findings.Title)
	assert.Equal(t, "electrolyte, chemistry", findings.Focus)
	assert.Equal(t, []string{"W1"}, findings.Sources)
	assert.NotNil(t, findings.ClaimIDs)

	refs, _ := p.Section("references")
	assert.Equal(t, []string{"W1", "W2"}, refs.Sources)

	summary, _ := p.Section("summary")
	assert.Equal(t, "brief is internal", summary.NotApplicable)
	assert.Equal(t, []string{"W1", "W2"}, summary.Sources, "no overlap falls back to top sources")
}

func TestRunWithLLM(t *testing.T) {
	in, sp, idx := fixtures()
	script := llm.NewScript().On("plan", `{"sections":[
		{"key":"references","focus":"all","sources":["W1","W2"]},
		{"key":"findings","focus":"sulfide results","sources":["W1","W9","W1"]},
		{"key":"summary","focus":"answer","sources":[]}
	]}`)
	p := &Planner{LLM: script}
	got, err := p.Run(context.Background(), in, sp, idx, tmpl())
	require.NoError(t, err)
	assert.False(t, got.Heuristic)
	assert.Equal(t, []string{"summary", "findings", "references"}, got.Plan.Keys())

	findings, _ := got.Plan.Section("findings")
	assert.Equal(t, "sulfide results", findings.Focus)
	assert.Equal(t, []string{"W1"}, findings.Sources, "unknown and repeated IDs dropped")
	assert.Equal(t, "Electrolyte chemistry results.", findings.Guidance)
}

func TestRunRejectsIncompletePlan(t *testing.T) {
	in, sp, idx := fixtures()
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{"missing", `{"sections":[{"key":"summary"},{"key":"findings"}]}`, `missing required section "references"`},
		{"duplicate", `{"sections":[{"key":"summary"},{"key":"summary"},{"key":"findings"},{"key":"references"}]}`, "more than once"},
		{"unknown", `{"sections":[{"key":"summary"},{"key":"findings"},{"key":"references"},{"key":"appendix"}]}`, "not in template"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &Planner{LLM: llm.NewScript().On("plan", tc.reply)}
			_, err := p.Run(context.Background(), in, sp, idx, tmpl())
			require.ErrorIs(t, err, types.ErrMalformedArtifact)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRunFallsBackWithoutProvider(t *testing.T) {
	in, sp, idx := fixtures()
	p := &Planner{LLM: llm.Unavailable{}}
	got, err := p.Run(context.Background(), in, sp, idx, tmpl())
	require.NoError(t, err)
	assert.True(t, got.Heuristic)
	assert.Equal(t, FromTemplate(in, sp, idx, tmpl()), got.Plan)
	assert.NotEmpty(t, got.Notes)
}

func TestRenamedTitleFlowsIntoPlan(t *testing.T) {
	in, sp, idx := fixtures()
	renamed := tmpl()
	renamed.Sections[1].Title = "Key Results"
	p := FromTemplate(in, sp, idx, renamed)
	s, ok := p.Section("findings")
	require.True(t, ok)
	assert.Equal(t, "Key Results", s.Title)
}
