// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workflow runs the report-generation stage graph for one run.
//
// The stage set is closed and executes in a fixed linear order. Each stage
// either commits an increment to the run state or is recorded as skipped, and
// every outcome is appended to the workflow ledger, which is rewritten after
// each append. A failed or cancelled run keeps its ledger and artifacts so it
// can be inspected and resumed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/clarify"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/internal/templates"
	"github.com/pdiddy/report-engine/internal/triage"
	"github.com/pdiddy/report-engine/internal/webfetch"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Run statuses recorded in the catalog.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Engine holds the collaborators a run needs.
type Engine struct {
	Config    types.RunConfig
	LLM       llm.Client
	Searchers []webfetch.Searcher
	HTTP      *http.Client
	Templates *templates.Registry

	// Catalog is optional; without it runs are not listed and the scout
	// cache is file-only.
	Catalog *artifact.Catalog

	// Answerer replaces the model answerer in the clarifier.
	Answerer clarify.Answerer

	// Progress receives one human-readable line per stage.
	Progress io.Writer

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Result summarizes a finished run.
type Result struct {
	RunID  string
	Dir    string
	Ledger types.WorkflowLedger
	State  State
}

// run is the mutable context of one execution.
type run struct {
	e      *Engine
	store  *artifact.Store
	cache  *artifact.Cache
	ledger types.WorkflowLedger
	prior  types.WorkflowLedger
	logger *slog.Logger
}

// Run executes the stage graph for in. The returned Result is populated even
// when err is non-nil, as far as the run got.
func (e *Engine) Run(ctx context.Context, in types.Instruction) (Result, error) {
	cfg := e.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	e.Config = cfg
	if e.Templates == nil {
		reg, err := templates.Load(cfg.TemplatesDir)
		if err != nil {
			return Result{}, err
		}
		e.Templates = reg
	}
	if e.LLM == nil {
		e.LLM = llm.Unavailable{Reason: "no client configured"}
	}
	if e.HTTP == nil {
		e.HTTP = &http.Client{Timeout: cfg.HTTP.Timeout}
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	store, err := artifact.NewStore(cfg.OutputDir, runID, e.Catalog)
	if err != nil {
		return Result{}, err
	}
	r := &run{
		e:      e,
		store:  store,
		cache:  artifact.NewCache(filepath.Join(cfg.CacheDir, "scout"), e.Catalog),
		ledger: types.WorkflowLedger{RunID: runID},
		logger: logging.New("workflow").With("run", runID),
	}
	res := Result{RunID: runID, Dir: store.Root()}

	if cfg.Resume && store.Exists(artifact.KeyLedger) {
		if err := store.ReadYAML(artifact.KeyLedger, &r.prior); err != nil {
			return res, fmt.Errorf("%w: resuming run %s: %v", types.ErrMalformedArtifact, runID, err)
		}
		r.ledger.Entries = append(r.ledger.Entries, r.prior.Entries...)
	}

	state, err := r.setup(in)
	if err != nil {
		return res, err
	}
	started := e.now()
	r.catalogRun(ctx, state, RunRunning, started)

	state, err = r.execute(ctx, state)
	res.Ledger = r.ledger
	res.State = state

	status := RunCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		status = RunCancelled
	case err != nil:
		status = RunFailed
	}
	r.catalogRun(context.WithoutCancel(ctx), state, status, started)
	return res, err
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// setup loads the archive and resolves the template the run starts from.
func (r *run) setup(in types.Instruction) (State, error) {
	cfg := r.e.Config
	archive, err := triage.LoadArchive(cfg.ArchiveDir)
	if err != nil {
		return State{}, err
	}

	declared := in.Template
	if declared == "" {
		declared = cfg.Template
	}
	tmpl, ok := r.e.Templates.Get(declared)
	if !ok {
		fallback := cfg.Template
		if fallback == declared || fallback == "" {
			fallback = "research-brief"
		}
		tmpl, ok = r.e.Templates.Get(fallback)
		if !ok {
			return State{}, fmt.Errorf("template %q not found and no fallback %q", declared, fallback)
		}
		r.logger.Warn("template not found, using fallback", "declared", declared, "in_force", fallback)
	}
	return State{Instruction: in, Archive: archive, Declared: declared, Template: tmpl}, nil
}

// execute walks the stage table. Once a stage executes in this process,
// every later stage executes too, since its inputs may have changed.
func (r *run) execute(ctx context.Context, s State) (State, error) {
	rerun := r.e.Config.Rerun
	dirty := !r.e.Config.Resume

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			r.record(types.LedgerEntry{
				Stage: st.name, Status: types.StatusFailed, Reason: types.ReasonCancelled,
				Error: err.Error(), Started: r.e.now(),
			})
			return s, err
		}

		if !dirty && !slices.Contains(rerun, st.name) {
			if next, ok := r.replay(st, s); ok {
				s = next
				continue
			}
		}

		next, executed, err := r.step(ctx, st, s)
		if executed {
			dirty = true
		}
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

// replay applies a committed increment from an earlier process.
func (r *run) replay(st stage, s State) (State, bool) {
	prev, ok := r.prior.Latest(st.name)
	if !ok || !prev.Status.Committed() || st.fresh == nil {
		return s, false
	}
	key := artifact.StateKey(string(st.name))
	inc := st.fresh()
	if !r.store.Exists(key) || r.store.ReadYAML(key, inc) != nil {
		return s, false
	}
	r.record(types.LedgerEntry{
		Stage: st.name, Status: types.StatusCached, Reason: types.ReasonResumed,
		Artifacts: prev.Artifacts, Started: r.e.now(),
	})
	r.progress(st.name, types.StatusCached, types.ReasonResumed)
	return inc.apply(s), true
}

// step runs one stage. executed reports whether the stage did work that
// downstream stages depend on.
func (r *run) step(ctx context.Context, st stage, s State) (State, bool, error) {
	started := r.e.now()
	before := r.store.Written()
	entry := types.LedgerEntry{Stage: st.name, Started: started}

	if !st.enabled(r.e.Config.Stages) {
		entry.Status = types.StatusSkippedDisabled
		entry.Reason = types.ReasonDisabled
		if st.disabled != nil {
			inc, notes := st.disabled(r, s)
			entry.Notes = notes
			if inc != nil {
				s = inc.apply(s)
			}
		}
		r.finish(entry, before, started)
		return s, false, nil
	}

	out, err := st.run(ctx, r, s)
	switch {
	case err != nil && ctx.Err() != nil:
		entry.Status = types.StatusFailed
		entry.Reason = types.ReasonCancelled
		entry.Error = ctx.Err().Error()
		r.finish(entry, before, started)
		return s, true, ctx.Err()
	case errors.Is(err, types.ErrProviderUnavailable):
		out = outcome{status: types.StatusSkippedCondition, reason: types.ReasonProviderUnavailable, notes: append(out.notes, err.Error())}
	case err != nil:
		entry.Status = types.StatusFailed
		entry.Error = err.Error()
		entry.Notes = out.notes
		r.finish(entry, before, started)
		r.logger.Error("stage failed", "stage", st.name, "error", err)
		return s, true, fmt.Errorf("stage %s: %w", st.name, err)
	}

	entry.Status = out.status
	entry.Reason = out.reason
	entry.Notes = out.notes
	if out.status == types.StatusSkippedCondition && out.reason == types.ReasonProviderUnavailable {
		s.Unavailable = append(slices.Clone(s.Unavailable), st.name)
	}
	if out.inc != nil {
		if out.status.Committed() {
			if err := r.store.WriteYAML(artifact.StateKey(string(st.name)), out.inc); err != nil {
				entry.Status = types.StatusFailed
				entry.Error = err.Error()
				r.finish(entry, before, started)
				return s, true, fmt.Errorf("stage %s: %w", st.name, err)
			}
		}
		s = out.inc.apply(s)
	}
	r.finish(entry, before, started)
	return s, out.status.Committed(), nil
}

// finish stamps the entry with its artifacts and duration and records it.
func (r *run) finish(entry types.LedgerEntry, before []string, started time.Time) {
	have := make(map[string]bool, len(before))
	for _, k := range before {
		have[k] = true
	}
	for _, k := range r.store.Written() {
		if !have[k] && k != artifact.KeyLedger {
			entry.Artifacts = append(entry.Artifacts, k)
		}
	}
	entry.Duration = r.e.now().Sub(started)
	r.record(entry)
	r.progress(entry.Stage, entry.Status, entry.Reason)
}

// record appends to the ledger and rewrites ledger.yaml.
func (r *run) record(entry types.LedgerEntry) {
	r.ledger.Entries = append(r.ledger.Entries, entry)
	if err := r.store.WriteYAML(artifact.KeyLedger, r.ledger); err != nil {
		r.logger.Error("writing ledger", "error", err)
	}
}

func (r *run) progress(stage types.StageName, status types.StageStatus, reason string) {
	if r.e.Progress == nil {
		return
	}
	if reason != "" {
		fmt.Fprintf(r.e.Progress, "%-16s %s (%s)\n", stage, status, reason)
		return
	}
	fmt.Fprintf(r.e.Progress, "%-16s %s\n", stage, status)
}

func (r *run) catalogRun(ctx context.Context, s State, status string, started time.Time) {
	if r.e.Catalog == nil {
		return
	}
	row := artifact.RunRow{
		ID: r.store.RunID(), Dir: r.store.Root(), Template: s.Template.Name,
		Status: status, Started: started, Updated: r.e.now(),
	}
	if err := r.e.Catalog.UpsertRun(ctx, row); err != nil {
		r.logger.Warn("cataloging run", "error", err)
	}
}
