// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/pkg/types"
)

func TestBuiltin(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)
	assert.Equal(t, []string{"literature-review", "research-brief"}, r.Names())

	brief, ok := r.Get("research-brief")
	require.True(t, ok)
	assert.Equal(t, []string{"summary", "background", "findings", "evidence-gaps", "recommendations", "references"}, brief.Keys())
	assert.NotEmpty(t, brief.WriterGuidance)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	r, err := Builtin()
	require.NoError(t, err)

	a, _ := r.Get("research-brief")
	a.Sections[0].Title = "Mutated"
	b, _ := r.Get("research-brief")
	assert.Equal(t, "Summary", b.Sections[0].Title)
}

func TestLoadDirOverridesAndAdds(t *testing.T) {
	dir := t.TempDir()
	custom := "name: memo\nversion: \"2\"\nsections:\n  - key: context\n    title: Context\n    guidance: g\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "memo.yaml"), []byte(custom), 0o644))

	r, err := Load(dir)
	require.NoError(t, err)
	assert.Contains(t, r.Names(), "memo")
	assert.Contains(t, r.Names(), "research-brief")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: bad\nsections: []\n"), 0o644))
	_, err = Load(filepath.Dir(bad))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    types.Template
		wantErr string
	}{
		{name: "no name", tmpl: types.Template{Sections: []types.TemplateSection{{Key: "a", Title: "A"}}}, wantErr: "no name"},
		{name: "no sections", tmpl: types.Template{Name: "x"}, wantErr: "no sections"},
		{name: "bad key", tmpl: types.Template{Name: "x", Sections: []types.TemplateSection{{Key: "Bad Key", Title: "A"}}}, wantErr: "invalid key"},
		{name: "empty title", tmpl: types.Template{Name: "x", Sections: []types.TemplateSection{{Key: "a"}}}, wantErr: "empty title"},
		{
			name: "duplicate key",
			tmpl:    types.Template{Name: "x", Sections: []types.TemplateSection{{Key: "a", Title: "A"}, {Key: "a", Title: "B"}}},
			wantErr: "duplicate section key",
		},
		{
			name: "alias collision",
			tmpl: types.Template{Name: "x", Sections: []types.TemplateSection{
				{Key: "a", Title: "Alpha"}, {Key: "b", Title: "Beta", Aliases: []string{"alpha"}},
			}},
			wantErr: "resolves to both",
		},
		{name: "valid", tmpl: types.Template{Name: "x", Sections: []types.TemplateSection{{Key: "a", Title: "A"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.tmpl)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolve(t *testing.T) {
	r, _ := Builtin()
	brief, _ := r.Get("research-brief")

	for label, want := range map[string]string{
		"Findings":          "findings",
		"KEY FINDINGS":      "findings",
		"Executive Summary": "summary",
		"evidence-gaps":     "evidence-gaps",
		"Bibliography":      "references",
	} {
		got, ok := Resolve(brief, label)
		assert.True(t, ok, label)
		assert.Equal(t, want, got, label)
	}
	_, ok := Resolve(brief, "Appendix")
	assert.False(t, ok)
}

func TestAdjust(t *testing.T) {
	r, _ := Builtin()
	base, _ := r.Get("research-brief")

	in := types.Instruction{
		Sections: []types.SectionHint{
			{Name: "Findings", Hint: "Compare chemistries."},
			{Name: "Cost Outlook", Hint: "Project cell costs."},
		},
		Renames: map[string]string{"findings": "Key Results", "missing": "X"},
		Drops:   []types.SectionDrop{{Key: "recommendations", Rationale: "memo only"}},
	}

	got, notes, err := Adjust(base, in)
	require.NoError(t, err)

	assert.Equal(t, []string{"summary", "background", "findings", "evidence-gaps", "cost-outlook", "references"}, got.Keys())
	findings, _ := got.Section("findings")
	assert.Equal(t, "Key Results", findings.Title)
	assert.Equal(t, "Compare chemistries.", findings.Guidance)
	assert.Equal(t, "research-brief", got.Base)
	assert.Equal(t, []string{`rename ignored: no section "missing"`}, notes)

	kinds := make([]types.AdjustmentKind, len(got.Adjustments))
	for i, a := range got.Adjustments {
		kinds[i] = a.Kind
	}
	want := []types.AdjustmentKind{types.AdjustOverride, types.AdjustAdd, types.AdjustRename, types.AdjustRemove}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("adjustment kinds (-want +got):\n%s", diff)
	}

	// Renamed sections still resolve by their old label.
	key, ok := Resolve(got, "Findings")
	assert.True(t, ok)
	assert.Equal(t, "findings", key)

	// The base template is untouched.
	assert.Len(t, base.Sections, 6)
	assert.Empty(t, base.Adjustments)
}

func TestAdjustWithoutRequestsIsIdentity(t *testing.T) {
	r, _ := Builtin()
	base, _ := r.Get("literature-review")

	got, notes, err := Adjust(base, types.Instruction{})
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Equal(t, base.Keys(), got.Keys())
	assert.Empty(t, got.Adjustments)
}

func TestAdjustDropNeedsRationale(t *testing.T) {
	r, _ := Builtin()
	base, _ := r.Get("research-brief")
	_, _, err := Adjust(base, types.Instruction{Drops: []types.SectionDrop{{Key: "summary"}}})
	assert.Error(t, err)
}
