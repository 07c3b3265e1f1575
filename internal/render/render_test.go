// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/repair"
	"github.com/pdiddy/report-engine/pkg/types"
)

func final() types.Draft {
	return types.Draft{Version: 4, Parent: 3, Title: "Outlook", Sections: []types.DraftSection{
		{Key: "summary", Title: "Summary", Body: "Answer."},
	}}
}

func TestReport(t *testing.T) {
	score := 85
	out, err := Report(final(), Meta{RunID: "r1", Template: "research-brief", DraftVersion: 4, Claims: 3, EvidenceGaps: 1, Alignment: &score})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "---\nrun_id: r1\ntemplate: research-brief\n"))
	assert.Contains(t, out, "alignment_score: 85\n---\n\n# Outlook\n")
	assert.True(t, strings.HasSuffix(out, repair.Render(final())))
}

func TestArchiveIndex(t *testing.T) {
	idx := types.SourceIndex{Records: []types.SourceRecord{
		{ID: "W1", TextPath: "academic-metadata/W1.md", OriginalPath: "academic-metadata/W1.pdf"},
		{ID: "W2"},
		{ID: "W1-dup", TextPath: "academic-metadata/W1.md"},
	}}
	got := ArchiveIndex([]string{"report.md", "ledger.yaml", "report.md"}, idx)
	assert.Equal(t, "ledger.yaml\nreport.md\nacademic-metadata/W1.md\nacademic-metadata/W1.pdf\n", got)
}

func TestWrite(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), "r1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Write(artifact.KeyLedger, []byte("run_id: r1\n")))

	keys, err := Write(store, final(), Meta{RunID: "r1"}, types.SourceIndex{})
	require.NoError(t, err)
	assert.Equal(t, []string{artifact.KeyReport, artifact.KeyArchiveIndex}, keys)

	data, err := store.Read(artifact.KeyArchiveIndex)
	require.NoError(t, err)
	assert.Equal(t, "archive-index.txt\nledger.yaml\nreport.md\n", string(data))
}
