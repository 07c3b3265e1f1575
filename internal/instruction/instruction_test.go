// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package instruction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/pkg/types"
)

const sample = `Assess solid-state battery electrolytes for grid storage.
@template research-brief
@id 10.1000/ssb.2024
@query sulfide electrolyte stability
@url https://example.org/review
@hint peer-reviewed
@from 2020-01-01
@to 2024-12-31
@provider web=off
@provider openalex=on
@rename findings=Key Results
@drop recommendations out of scope for this memo
@na evidence-gaps the archive is exhaustive

## Findings
Compare sulfide and oxide conductivity.
`

func TestParse(t *testing.T) {
	in, err := Parse(sample)
	require.NoError(t, err)

	assert.Equal(t, "research-brief", in.Template)
	assert.Equal(t, []string{"10.1000/ssb.2024"}, in.Identifiers)
	assert.Equal(t, []string{"sulfide electrolyte stability"}, in.Queries)
	assert.Equal(t, []string{"https://example.org/review"}, in.URLs)
	assert.Equal(t, []string{"peer-reviewed"}, in.Hints)
	assert.Equal(t, "2020-01-01", in.DateFrom)
	assert.Equal(t, "2024-12-31", in.DateTo)
	assert.False(t, in.ProviderEnabled("web"))
	assert.True(t, in.ProviderEnabled("openalex"))
	assert.True(t, in.ProviderEnabled("video"))
	assert.Equal(t, map[string]string{"findings": "Key Results"}, in.Renames)
	assert.Equal(t, []types.SectionDrop{{Key: "recommendations", Rationale: "out of scope for this memo"}}, in.Drops)
	assert.Equal(t, "the archive is exhaustive", in.NotApplicable["evidence-gaps"])

	want := []types.SectionHint{{Name: "Findings", Hint: "Compare sulfide and oxide conductivity."}}
	if diff := cmp.Diff(want, in.Sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}

	assert.NotContains(t, in.Text, "@template")
	assert.Equal(t, []string{
		"assess", "solid-state", "battery", "electrolytes", "grid", "storage",
		"findings", "compare", "sulfide", "oxide", "conductivity",
	}, in.Topics)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown directive", raw: "@bogus value"},
		{name: "empty value", raw: "@query"},
		{name: "bad date", raw: "@from last year"},
		{name: "bad provider", raw: "@provider web"},
		{name: "bad provider state", raw: "@provider web=maybe"},
		{name: "drop without rationale", raw: "@drop references"},
		{name: "rename without label", raw: "@rename findings="},
		{name: "na without reason", raw: "@na background"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruction.md")
	require.NoError(t, os.WriteFile(path, []byte("Lithium recycling economics\n"), 0o644))

	in, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"lithium", "recycling", "economics"}, in.Topics)

	_, err = Load(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func TestKeywordHelpers(t *testing.T) {
	topics := []string{"sulfide", "oxide", "polymer", "cost"}
	text := "Sulfide electrolytes outperform oxide ones."

	assert.InDelta(t, 0.5, Overlap(topics, text), 1e-9)
	assert.Equal(t, []string{"sulfide", "oxide"}, Matches(topics, text))
	assert.Zero(t, Overlap(nil, text))
	assert.Equal(t, []string{"well-known", "a1b2"}, Tokens("A well-known -- a1b2 x"))
}
