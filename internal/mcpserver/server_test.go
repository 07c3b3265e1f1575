// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/pkg/types"
)

func connect(t *testing.T) *sdkmcp.ClientSession {
	t.Helper()
	out := t.TempDir()
	s, err := artifact.NewStore(out, "run-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.WriteYAML(artifact.KeyLedger, types.WorkflowLedger{
		RunID: "run-1",
		Entries: []types.LedgerEntry{
			{Stage: types.StageTriage, Status: types.StatusRan, Started: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Duration: 1500 * time.Microsecond},
			{Stage: types.StageCritique, Status: types.StatusSkippedCondition, Reason: types.ReasonNoIterations},
		},
	}))
	require.NoError(t, s.Write(artifact.KeyGapReport, []byte("# Evidence gaps\n")))
	require.NoError(t, s.Write(artifact.KeyReport, []byte("# Report\n")))

	srv := New(&artifact.Reader{OutputDir: out}, "test")
	ctx := context.Background()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *sdkmcp.ClientSession, name string, args map[string]any, v any) *sdkmcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	if res.IsError || v == nil {
		return res
	}
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(*sdkmcp.TextContent)
	require.True(t, ok, "expected text content")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), v), tc.Text)
	return res
}

func TestToolDiscovery(t *testing.T) {
	session := connect(t)
	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"list_runs", "get_ledger", "get_gap_report", "list_artifacts", "read_artifact"}, names)
}

func TestListRunsAndLedger(t *testing.T) {
	session := connect(t)

	var runs listRunsOutput
	call(t, session, "list_runs", map[string]any{}, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, "run-1", runs.Runs[0].ID)
	assert.Equal(t, "running", runs.Runs[0].Status)
	assert.Equal(t, "2026-03-01T00:00:00Z", runs.Runs[0].Started)

	var l ledgerOutput
	call(t, session, "get_ledger", map[string]any{"run_id": "run-1"}, &l)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "2ms", l.Entries[0].Duration)
	assert.Equal(t, "skipped_condition", l.Entries[1].Status)
	assert.Equal(t, types.ReasonNoIterations, l.Entries[1].Reason)
}

func TestArtifactTools(t *testing.T) {
	session := connect(t)

	var gaps textOutput
	call(t, session, "get_gap_report", map[string]any{"run_id": "run-1"}, &gaps)
	assert.Equal(t, "# Evidence gaps\n", gaps.Text)

	var keys keysOutput
	call(t, session, "list_artifacts", map[string]any{"run_id": "run-1"}, &keys)
	assert.Equal(t, []string{"evidence/gap-report.md", "ledger.yaml", "report.md"}, keys.Keys)

	var report textOutput
	call(t, session, "read_artifact", map[string]any{"run_id": "run-1", "key": "report.md"}, &report)
	assert.Equal(t, "# Report\n", report.Text)
}

func TestToolErrors(t *testing.T) {
	session := connect(t)

	res := call(t, session, "read_artifact", map[string]any{"run_id": "run-1", "key": "../../etc/passwd"}, nil)
	assert.True(t, res.IsError)

	res = call(t, session, "get_ledger", map[string]any{"run_id": "missing"}, nil)
	assert.True(t, res.IsError)
}
