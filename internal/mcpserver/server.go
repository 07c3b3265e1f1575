// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mcpserver exposes completed and in-progress runs as MCP tools so
// that an agent can inspect ledgers, gap reports and artifacts.
package mcpserver

import (
	"context"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Server wraps the MCP SDK server.
type Server struct {
	MCPServer *sdkmcp.Server
	Reader    *artifact.Reader
}

// New creates a server with the run inspection tools registered.
func New(r *artifact.Reader, version string) *Server {
	s := &Server{Reader: r}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "report-engine", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_runs",
		Description: "List report runs with their template and status, most recent first.",
	}, s.handleListRuns)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_ledger",
		Description: "Return the workflow ledger of a run: one entry per stage with status, reason and artifact paths.",
	}, s.handleGetLedger)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_gap_report",
		Description: "Return the evidence gap report of a run as Markdown.",
	}, s.handleGetGapReport)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_artifacts",
		Description: "List the artifact keys stored in a run directory.",
	}, s.handleListArtifacts)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "read_artifact",
		Description: "Read one artifact of a run by its key, for example report.md or evidence/claims.yaml.",
	}, s.handleReadArtifact)
}

type listRunsInput struct{}

type runSummary struct {
	ID       string `json:"id"`
	Template string `json:"template,omitempty"`
	Status   string `json:"status"`
	Started  string `json:"started,omitempty"`
	Updated  string `json:"updated,omitempty"`
}

type listRunsOutput struct {
	Runs []runSummary `json:"runs"`
}

type runInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier from list_runs"`
}

type ledgerEntry struct {
	Stage     string   `json:"stage"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason,omitempty"`
	Notes     []string `json:"notes,omitempty"`
	Artifacts []string `json:"artifact_paths,omitempty"`
	Error     string   `json:"error,omitempty"`
	Duration  string   `json:"duration,omitempty"`
}

type ledgerOutput struct {
	RunID   string        `json:"run_id"`
	Entries []ledgerEntry `json:"entries"`
}

type textOutput struct {
	RunID string `json:"run_id"`
	Key   string `json:"key"`
	Text  string `json:"text"`
}

type keysOutput struct {
	RunID string   `json:"run_id"`
	Keys  []string `json:"keys"`
}

type readArtifactInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier from list_runs"`
	Key   string `json:"key" jsonschema:"artifact key relative to the run directory"`
}

func (s *Server) handleListRuns(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listRunsInput) (*sdkmcp.CallToolResult, listRunsOutput, error) {
	runs, err := s.Reader.Runs(ctx)
	if err != nil {
		return nil, listRunsOutput{}, err
	}
	out := listRunsOutput{Runs: make([]runSummary, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, runSummary{
			ID:       r.ID,
			Template: r.Template,
			Status:   r.Status,
			Started:  timestamp(r.Started),
			Updated:  timestamp(r.Updated),
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetLedger(ctx context.Context, _ *sdkmcp.CallToolRequest, input runInput) (*sdkmcp.CallToolResult, ledgerOutput, error) {
	l, err := s.Reader.Ledger(ctx, input.RunID)
	if err != nil {
		return nil, ledgerOutput{}, fmt.Errorf("get_ledger: %w", err)
	}
	return nil, ledgerView(l), nil
}

func (s *Server) handleGetGapReport(ctx context.Context, _ *sdkmcp.CallToolRequest, input runInput) (*sdkmcp.CallToolResult, textOutput, error) {
	data, err := s.Reader.Read(ctx, input.RunID, artifact.KeyGapReport)
	if err != nil {
		return nil, textOutput{}, fmt.Errorf("get_gap_report: %w", err)
	}
	return nil, textOutput{RunID: input.RunID, Key: artifact.KeyGapReport, Text: string(data)}, nil
}

func (s *Server) handleListArtifacts(ctx context.Context, _ *sdkmcp.CallToolRequest, input runInput) (*sdkmcp.CallToolResult, keysOutput, error) {
	keys, err := s.Reader.Keys(ctx, input.RunID)
	if err != nil {
		return nil, keysOutput{}, fmt.Errorf("list_artifacts: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return nil, keysOutput{RunID: input.RunID, Keys: keys}, nil
}

func (s *Server) handleReadArtifact(ctx context.Context, _ *sdkmcp.CallToolRequest, input readArtifactInput) (*sdkmcp.CallToolResult, textOutput, error) {
	data, err := s.Reader.Read(ctx, input.RunID, input.Key)
	if err != nil {
		return nil, textOutput{}, fmt.Errorf("read_artifact: %w", err)
	}
	return nil, textOutput{RunID: input.RunID, Key: input.Key, Text: string(data)}, nil
}

func ledgerView(l types.WorkflowLedger) ledgerOutput {
	out := ledgerOutput{RunID: l.RunID, Entries: make([]ledgerEntry, 0, len(l.Entries))}
	for _, e := range l.Entries {
		out.Entries = append(out.Entries, ledgerEntry{
			Stage:     string(e.Stage),
			Status:    string(e.Status),
			Reason:    e.Reason,
			Notes:     e.Notes,
			Artifacts: e.Artifacts,
			Error:     e.Error,
			Duration:  e.Duration.Round(time.Millisecond).String(),
		})
	}
	return out
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
