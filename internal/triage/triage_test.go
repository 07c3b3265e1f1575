// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/pkg/types"
)

// writeArchive lays out sub-indices and text files under a temp dir.
func writeArchive(t *testing.T, records map[types.Origin][]types.SourceRecord, texts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for origin, recs := range records {
		var lines []string
		for _, r := range recs {
			b, err := json.Marshal(r)
			require.NoError(t, err)
			lines = append(lines, string(b))
		}
		writeFile(t, dir, filepath.Join(string(origin), indexFile), strings.Join(lines, "\n")+"\n")
	}
	for path, text := range texts {
		writeFile(t, dir, path, text)
	}
	return dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func mustParse(t *testing.T, raw string) types.Instruction {
	t.Helper()
	in, err := instruction.Parse(raw)
	require.NoError(t, err)
	return in
}

var defaultOpts = types.TriageOptions{Enabled: true, MinRelevance: 0.05}

func TestScenarioAIdentifierOnly(t *testing.T) {
	dir := writeArchive(t, map[types.Origin][]types.SourceRecord{
		types.OriginAcademic: {{
			ID: "doi-1", Title: "Interface stability of sulfide electrolytes",
			URL: "https://doi.org/10.1000/SSB.1", Snippet: "We study interface stability.",
		}},
		types.OriginLocalFile: {{
			ID: "pdf-1", Title: "doi-1 full text", TextPath: "local-file/text/pdf-1.md", DerivedFrom: "doi-1",
		}},
	}, map[string]string{"local-file/text/pdf-1.md": "## Results\nInterfaces degrade above 4 V.\n"})

	archive, err := LoadArchive(dir)
	require.NoError(t, err)
	assert.Equal(t, []types.Origin{types.OriginWebSearch, types.OriginWebExtract, types.OriginVideo}, archive.Missing)

	idx := Triage(archive, mustParse(t, "@id 10.1000/ssb.1"), defaultOpts)

	included := idx.Included()
	require.Len(t, included, 2)
	assert.Equal(t, "doi-1", included[0].ID)
	assert.Equal(t, "pdf-1", included[1].ID)
	assert.Empty(t, idx.Exclusions)
	assert.Len(t, idx.Coverage, 3)
	assert.Equal(t, "sub-index missing", idx.Coverage[0].Reason)
}

func TestTriageExclusions(t *testing.T) {
	dir := writeArchive(t, map[types.Origin][]types.SourceRecord{
		types.OriginAcademic: {
			{ID: "a1", Title: "Sulfide electrolyte conductivity", Snippet: "Sulfide electrolytes reach 10 mS/cm."},
			{ID: "a2", Title: "Medieval poetry", Snippet: "Sonnets and ballads."},
		},
		types.OriginWebSearch: {
			{ID: "w1", Title: "Sulfide electrolyte news", URL: "https://www.example.com/ssb/", Snippet: "sulfide electrolyte"},
			{ID: "w2", Title: "Sulfide electrolyte news (mirror)", URL: "http://example.com/ssb", Snippet: "sulfide electrolyte"},
			{ID: "w3", Title: "Empty"},
			{ID: "a1", Title: "Repeated id", Snippet: "sulfide"},
		},
		types.OriginLocalFile: {
			{ID: "t1", TextPath: "text/t1.md", DerivedFrom: "a1"},
			{ID: "t2", TextPath: "text/t2.md", DerivedFrom: "a1"},
			{ID: "t3", TextPath: "text/t3.md", DerivedFrom: "a2"},
		},
	}, map[string]string{
		"text/t1.md": "Sulfide electrolytes\nreach high conductivity.",
		"text/t2.md": "Sulfide electrolytes reach   high conductivity.",
		"text/t3.md": "Poetry text.",
	})

	archive, err := LoadArchive(dir)
	require.NoError(t, err)
	idx := Triage(archive, mustParse(t, "Sulfide electrolyte conductivity"), defaultOpts)

	reasons := make(map[string]string)
	for _, e := range idx.Exclusions {
		if _, ok := reasons[e.SourceID]; !ok {
			reasons[e.SourceID] = e.Reason
		}
	}
	want := map[string]string{
		"a1": types.ExcludeDuplicate,
		"a2": types.ExcludeOffTopic,
		"w2": types.ExcludeDuplicate,
		"w3": types.ExcludeNoContent,
		"t2": types.ExcludeDuplicateExtraction,
		"t3": types.ExcludeOffTopic,
	}
	if diff := cmp.Diff(want, reasons); diff != "" {
		t.Errorf("exclusion reasons (-want +got):\n%s", diff)
	}

	var includedIDs []string
	for _, r := range idx.Included() {
		includedIDs = append(includedIDs, r.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "w1", "t1"}, includedIDs)

	// The repeated id is dropped from the records so lookups stay unambiguous.
	r, ok := idx.Lookup("a1")
	require.True(t, ok)
	assert.Equal(t, types.OriginAcademic, r.Origin)

	// Extractions rank no lower than their primary.
	t1, _ := idx.Lookup("t1")
	assert.GreaterOrEqual(t, t1.Relevance, r.Relevance)
}

func TestTriageIsDeterministic(t *testing.T) {
	dir := writeArchive(t, map[types.Origin][]types.SourceRecord{
		types.OriginAcademic:  {{ID: "b", Title: "solar cells", Snippet: "perovskite solar"}, {ID: "a", Title: "solar cells", Snippet: "perovskite solar"}},
		types.OriginWebSearch: {{ID: "c", Title: "perovskite", URL: "https://x.org/c", Snippet: "perovskite"}},
	}, nil)
	archive, err := LoadArchive(dir)
	require.NoError(t, err)
	in := mustParse(t, "perovskite solar stability")

	first := Triage(archive, in, defaultOpts)
	for i := 0; i < 5; i++ {
		again := Triage(archive, in, defaultOpts)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("triage not deterministic (-first +again):\n%s", diff)
		}
	}
	assert.Equal(t, "a", first.Records[0].ID, "ties break by id")

	// Identity ignores record order.
	shuffled := archive
	shuffled.Records = []types.SourceRecord{archive.Records[2], archive.Records[0], archive.Records[1]}
	assert.Equal(t, archive.ID, Identity(shuffled))
}

func TestIdentityTracksTextContent(t *testing.T) {
	recs := map[types.Origin][]types.SourceRecord{
		types.OriginLocalFile: {{ID: "f", TextPath: "f.md"}},
	}
	a, err := LoadArchive(writeArchive(t, recs, map[string]string{"f.md": "one"}))
	require.NoError(t, err)
	b, err := LoadArchive(writeArchive(t, recs, map[string]string{"f.md": "two"}))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLoadArchiveErrors(t *testing.T) {
	_, err := LoadArchive(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, filepath.Join(string(types.OriginVideo), indexFile), "{not json}\n")
	_, err = LoadArchive(dir)
	require.ErrorIs(t, err, types.ErrMalformedArtifact)

	dir = t.TempDir()
	writeFile(t, dir, filepath.Join(string(types.OriginVideo), indexFile), `{"title":"no id"}`+"\n")
	_, err = LoadArchive(dir)
	require.ErrorIs(t, err, types.ErrMalformedArtifact)
}

func TestEmptyArchiveRecordsAllGaps(t *testing.T) {
	archive, err := LoadArchive(t.TempDir())
	require.NoError(t, err)
	idx := Triage(archive, types.Instruction{}, defaultOpts)
	assert.Empty(t, idx.Records)
	assert.Len(t, idx.Coverage, len(types.Origins))
}

func TestPassthroughAndMerge(t *testing.T) {
	dir := writeArchive(t, map[types.Origin][]types.SourceRecord{
		types.OriginAcademic: {{ID: "a", Title: "unrelated", Snippet: "nothing here"}},
	}, nil)
	archive, err := LoadArchive(dir)
	require.NoError(t, err)

	pass := Passthrough(archive)
	require.Len(t, pass.Included(), 1)

	extractPath := filepath.Join(t.TempDir(), "web-1.md")
	require.NoError(t, os.WriteFile(extractPath, []byte("graphene anode capacity data"), 0o644))
	extra := types.SourceRecord{ID: "web-1", Origin: types.OriginWebExtract, Title: "Graphene anodes", URL: "https://e.org/g", TextPath: extractPath}

	idx := Triage(archive, mustParse(t, "graphene anode capacity"), defaultOpts, extra)
	assert.Equal(t, archive.ID, idx.ArchiveID)
	rec, ok := idx.Lookup("web-1")
	require.True(t, ok)
	assert.True(t, rec.Included)
	assert.Equal(t, "web-1", idx.Records[0].ID)
}

func TestHintBias(t *testing.T) {
	dir := writeArchive(t, map[types.Origin][]types.SourceRecord{
		types.OriginAcademic:  {{ID: "paper", Title: "wind turbines", Snippet: "wind"}},
		types.OriginWebSearch: {{ID: "blog", Title: "wind turbines", URL: "https://b.org", Snippet: "wind"}},
	}, nil)
	archive, err := LoadArchive(dir)
	require.NoError(t, err)

	idx := Triage(archive, mustParse(t, "wind turbines offshore\n@hint peer-reviewed"), defaultOpts)
	paper, _ := idx.Lookup("paper")
	blog, _ := idx.Lookup("blog")
	assert.Greater(t, paper.Relevance, blog.Relevance)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "example.com/a", normalizeURL("https://www.Example.com/a/#frag"))
	assert.Equal(t, normalizeURL("http://example.com/a"), normalizeURL("https://example.com/a/"))
	assert.Equal(t, "example.com/a?x=1", normalizeURL("https://example.com/a?x=1"))
	assert.Equal(t, "", normalizeURL("  "))
}
