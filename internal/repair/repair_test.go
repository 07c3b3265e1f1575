// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package repair

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/pkg/types"
)

func brief() types.Template {
	return types.Template{Name: "research-brief", Sections: []types.TemplateSection{
		{Key: "summary", Title: "Summary", Aliases: []string{"Executive Summary"}},
		{Key: "findings", Title: "Findings"},
		{Key: "references", Title: "References", Aliases: []string{"Sources"}},
	}}
}

func TestParseRender(t *testing.T) {
	md := "# Solid-State Batteries\n\nIntro text.\n\n## Summary\n\nShort answer.\n\n## Findings\n\n```\n## not a header\n```\n\nMore.\n"
	d := Parse(md)
	assert.Equal(t, "Solid-State Batteries", d.Title)
	assert.Equal(t, "Intro text.", d.Preamble)
	require.Len(t, d.Sections, 2)
	assert.Equal(t, "Findings", d.Sections[1].Title)
	assert.Contains(t, d.Sections[1].Body, "## not a header")
	assert.Equal(t, md, Render(d))
}

func TestRepairNormalizes(t *testing.T) {
	d := Parse(`# T

## Findings

Result one [c-000000000001].

## Executive Summary

The answer.

## Findings

Result two.

## Random Notes

Stray text.
`)
	got, changes, err := Repair(d, brief())
	require.NoError(t, err)
	require.NoError(t, Validate(got, brief()))

	assert.Equal(t, []string{"summary", "findings", "references"}, got.Keys())
	assert.Equal(t, "Summary", got.Sections[0].Title)
	assert.Equal(t, "The answer.", got.Sections[0].Body)
	assert.Equal(t, "Result one [c-000000000001].\n\nResult two.\n\n**Random Notes**\n\nStray text.", got.Sections[1].Body)
	assert.Equal(t, StubBody, got.Sections[2].Body)

	assert.Contains(t, changes, `merged duplicate section "findings"`)
	assert.Contains(t, changes, `demoted orphan header "Random Notes"`)
	assert.Contains(t, changes, `stubbed missing section "references"`)
	assert.Contains(t, changes, `relabeled "Executive Summary" as "Summary"`)
	assert.Contains(t, changes, "reordered sections to template order")
}

func TestRepairIsIdempotent(t *testing.T) {
	inputs := []string{
		"## Sources\n\nW1\n\n## Findings\n\nx\n",
		"Only a preamble.\n",
		"## Orphan\n\nbody\n\n## Summary\n\ns\n",
	}
	for _, md := range inputs {
		once, _, err := Repair(Parse(md), brief())
		require.NoError(t, err)
		twice, changes, err := Repair(once, brief())
		require.NoError(t, err)
		assert.Empty(t, changes)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("second repair changed draft (-once +twice):\n%s", diff)
		}
		// Round trip through Markdown as well.
		again, _, err := Repair(Parse(Render(once)), brief())
		require.NoError(t, err)
		assert.Equal(t, Render(once), Render(again))
	}
}

func TestRepairOrphanBeforeFirstSectionGoesToPreamble(t *testing.T) {
	got, _, err := Repair(Parse("## Orphan\n\nbody\n\n## Summary\n\ns\n"), brief())
	require.NoError(t, err)
	assert.Equal(t, "**Orphan**\n\nbody", got.Preamble)
}

func TestRepairKeepsRenamedLabel(t *testing.T) {
	renamed := brief()
	renamed.Sections[1].Title = "Key Results"
	renamed.Sections[1].Aliases = []string{"Findings"}

	d := types.Draft{Sections: []types.DraftSection{
		{Key: "summary", Title: "Summary", Body: "s"},
		{Key: "findings", Title: "Key Results", Body: "f"},
		{Key: "references", Title: "References", Body: "r"},
	}}
	got, changes, err := Repair(d, renamed)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, "Key Results", got.Sections[1].Title)
	assert.Equal(t, "findings", got.Sections[1].Key)

	// The parsed form resolves through the new title.
	got, changes, err = Repair(Parse(Render(d)), renamed)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Equal(t, d.Sections, got.Sections)
}

func TestRepairEmptyDraft(t *testing.T) {
	_, _, err := Repair(types.Draft{Version: 2}, brief())
	require.ErrorIs(t, err, types.ErrStructuralViolation)
}

func TestValidate(t *testing.T) {
	d := types.Draft{Sections: []types.DraftSection{{Key: "summary", Title: "Summary"}}}
	require.ErrorIs(t, Validate(d, brief()), types.ErrStructuralViolation)
}
