// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package align

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

func brief() types.Template {
	return types.Template{Name: "research-brief", Sections: []types.TemplateSection{
		{Key: "summary", Title: "Summary"},
		{Key: "findings", Title: "Findings"},
	}}
}

func index() types.SourceIndex {
	return types.SourceIndex{Records: []types.SourceRecord{
		{ID: "W1", Title: "Solid-state battery electrolytes", Included: true, Relevance: 0.9},
	}}
}

func TestEvaluateScoutCheckpoint(t *testing.T) {
	in := Input{
		Checkpoint:  CheckpointScout,
		Instruction: types.Instruction{Topics: []string{"solid-state", "battery", "recycling"}},
		Index:       index(),
		Declared:    "research-brief",
		Template:    brief(),
		Plan:        &types.ScoutPlan{Entries: []types.ScoutEntry{{SourceID: "W1", Rationale: "core survey"}}},
	}
	r := Evaluate(in)

	assert.Equal(t, CheckpointScout, r.Checkpoint)
	assert.Contains(t, r.Aligned, "covers topics: solid-state, battery")
	assert.True(t, r.HasGap("topics not covered: recycling"))
	assert.False(t, r.HasGap("template mismatch"))
	// One low gap.
	assert.Equal(t, 95, r.Score)
}

func TestEvaluateFlagsTemplateMismatch(t *testing.T) {
	in := Input{
		Checkpoint: CheckpointFinal,
		Index:      index(),
		Declared:   "market-scan",
		Template:   brief(),
		Draft: &types.Draft{Sections: []types.DraftSection{
			{Key: "summary", Title: "Summary"}, {Key: "findings", Title: "Findings"},
		}},
	}
	r := Evaluate(in)
	require.True(t, r.HasGap(`template mismatch: declared "market-scan" but "research-brief" is in force`))
	assert.Equal(t, "market-scan", r.TemplateDeclared)
	assert.Equal(t, "research-brief", r.TemplateInForce)
	assert.Equal(t, 75, r.Score)
}

func TestEvaluateProviderAbsenceIsCoverageGap(t *testing.T) {
	idx := index()
	idx.Coverage = []types.CoverageGap{{Origin: types.OriginVideo, Reason: "sub-index missing"}}
	in := Input{
		Checkpoint:  CheckpointFinal,
		Index:       idx,
		Template:    brief(),
		Draft:       &types.Draft{Sections: []types.DraftSection{{Key: "summary"}, {Key: "findings"}}},
		Unavailable: []types.StageName{types.StageWebFetch},
	}
	r := Evaluate(in)
	assert.True(t, r.HasGap("coverage gap: video-metadata sub-index missing"))
	assert.True(t, r.HasGap("coverage gap: web-fetch skipped (provider_unavailable)"))
	assert.Equal(t, 100-5-10, r.Score)
}

func TestEvaluateDraftSectionsAndEvidence(t *testing.T) {
	in := Input{
		Checkpoint: CheckpointFinal,
		Index:      index(),
		Template:   brief(),
		Draft:      &types.Draft{Sections: []types.DraftSection{{Key: "summary"}}},
		Claims: []types.Claim{
			{ID: "c1", Text: "a", Evidence: []types.EvidenceRef{{SourceID: "W1"}}},
			{ID: "c2", Text: "b"},
			{ID: "c3", Text: "c"},
		},
	}
	r := Evaluate(in)
	assert.True(t, r.HasGap("draft is missing sections: findings"))
	assert.True(t, r.HasGap("2 of 3 claims lack evidence"))
	assert.Equal(t, 100-25-10, r.Score)
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	plan := &types.ScoutPlan{Entries: []types.ScoutEntry{{SourceID: "W1", Rationale: "r"}}}
	in := Input{Checkpoint: CheckpointScout, Index: index(), Template: brief(), Plan: plan}
	before := *plan
	Evaluate(in)
	assert.Equal(t, before, *plan)
}

func TestScoreFloorsAtZero(t *testing.T) {
	gaps := make([]types.AlignmentGap, 5)
	for i := range gaps {
		gaps[i].Severity = types.SeverityHigh
	}
	assert.Equal(t, 0, score(gaps))
}

func TestCheckMergesLLMObservations(t *testing.T) {
	script := llm.NewScript().On("align",
		`{"aligned":["clear scope"],"gaps":[{"text":"no cost data","severity":"MEDIUM"}],"actions":["add cost sources"]}`)
	c := &Checker{LLM: script, UseLLM: true}
	in := Input{Checkpoint: CheckpointScout, Index: index(), Template: brief(),
		Plan: &types.ScoutPlan{Entries: []types.ScoutEntry{{SourceID: "W1"}}}}

	r, notes := c.Check(context.Background(), in)
	assert.Contains(t, r.Aligned, "clear scope")
	assert.True(t, r.HasGap("no cost data"))
	assert.Contains(t, r.Actions, "add cost sources")
	assert.Equal(t, 90, r.Score)
	assert.Equal(t, []string{"llm observations merged"}, notes)
}

func TestCheckWithoutProviderIsDeterministic(t *testing.T) {
	c := &Checker{LLM: llm.Unavailable{}, UseLLM: true}
	in := Input{Checkpoint: CheckpointScout, Index: index(), Template: brief(),
		Plan: &types.ScoutPlan{Entries: []types.ScoutEntry{{SourceID: "W1"}}}}
	r, notes := c.Check(context.Background(), in)
	assert.Equal(t, Evaluate(in), r)
	assert.Empty(t, notes)
}
