// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pdiddy/report-engine/internal/align"
	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/clarify"
	"github.com/pdiddy/report-engine/internal/critique"
	"github.com/pdiddy/report-engine/internal/evidence"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/plan"
	"github.com/pdiddy/report-engine/internal/render"
	"github.com/pdiddy/report-engine/internal/repair"
	"github.com/pdiddy/report-engine/internal/scout"
	"github.com/pdiddy/report-engine/internal/templates"
	"github.com/pdiddy/report-engine/internal/triage"
	"github.com/pdiddy/report-engine/internal/webfetch"
	"github.com/pdiddy/report-engine/internal/write"
	"github.com/pdiddy/report-engine/pkg/types"
)

// outcome is what a stage reports back to the engine.
type outcome struct {
	status types.StageStatus
	reason string
	notes  []string
	inc    increment
}

func ran(inc increment, notes ...string) outcome {
	return outcome{status: types.StatusRan, inc: inc, notes: notes}
}

// stage is one entry of the closed stage table.
type stage struct {
	name    types.StageName
	enabled func(types.StagesConfig) bool
	run     func(ctx context.Context, r *run, s State) (outcome, error)

	// disabled optionally supplies a pass-through increment when the stage
	// is switched off.
	disabled func(r *run, s State) (increment, []string)

	// fresh returns an empty increment for replaying state/<stage>.yaml.
	fresh func() increment
}

// stages is the fixed execution order.
var stages = []stage{
	{
		name:     types.StageTriage,
		enabled:  func(c types.StagesConfig) bool { return c.Triage.Enabled },
		run:      runTriage,
		disabled: passthroughIndex,
		fresh:    func() increment { return &indexInc{} },
	},
	{
		name:     types.StageScout,
		enabled:  func(c types.StagesConfig) bool { return c.Scout.Enabled },
		run:      runScout,
		disabled: passthroughScout,
		fresh:    func() increment { return &scoutInc{} },
	},
	{
		name:    types.StageClarify,
		enabled: func(c types.StagesConfig) bool { return c.Clarifier.Enabled },
		run:     runClarify,
		fresh:   func() increment { return &clarifyInc{} },
	},
	{
		name:    types.StageAlignScout,
		enabled: func(c types.StagesConfig) bool { return c.AlignScout.Enabled },
		run:     runAlignScout,
		fresh:   func() increment { return &alignScoutInc{} },
	},
	{
		name:    types.StageTemplate,
		enabled: func(c types.StagesConfig) bool { return c.TemplateAdjuster.Enabled },
		run:     runTemplate,
		fresh:   func() increment { return &templateInc{} },
	},
	{
		name:     types.StagePlan,
		enabled:  func(c types.StagesConfig) bool { return c.Planner.Enabled },
		run:      runPlan,
		disabled: skeletonPlan,
		fresh:    func() increment { return &planInc{} },
	},
	{
		name:    types.StageWebFetch,
		enabled: func(c types.StagesConfig) bool { return c.WebFetch.Enabled },
		run:     runWebFetch,
		fresh:   func() increment { return &fetchInc{} },
	},
	{
		name:    types.StageEvidence,
		enabled: func(c types.StagesConfig) bool { return c.Evidence.Enabled },
		run:     runEvidence,
		fresh:   func() increment { return &evidenceInc{} },
	},
	{
		name:    types.StageWrite,
		enabled: func(c types.StagesConfig) bool { return c.Writer.Enabled },
		run:     runWrite,
		fresh:   func() increment { return &draftInc{} },
	},
	{
		name:    types.StageRepair,
		enabled: func(c types.StagesConfig) bool { return c.Repair.Enabled },
		run:     runRepair,
		fresh:   func() increment { return &draftInc{} },
	},
	{
		name:    types.StageCritique,
		enabled: func(c types.StagesConfig) bool { return c.Critique.Enabled },
		run:     runCritique,
		fresh:   func() increment { return &loopInc{} },
	},
	{
		name:    types.StageFinalize,
		enabled: func(c types.StagesConfig) bool { return c.Finalizer.Enabled },
		run:     runFinalize,
		fresh:   func() increment { return &draftInc{} },
	},
	{
		name:    types.StageRepairFinal,
		enabled: func(c types.StagesConfig) bool { return c.Repair.Enabled },
		run:     runRepair,
		fresh:   func() increment { return &draftInc{} },
	},
	{
		name:    types.StageAlignFinal,
		enabled: func(c types.StagesConfig) bool { return c.AlignFinal.Enabled },
		run:     runAlignFinal,
		fresh:   func() increment { return &alignFinalInc{} },
	},
	{
		name:    types.StageRender,
		enabled: func(c types.StagesConfig) bool { return c.Render.Enabled },
		run:     runRender,
		fresh:   func() increment { return &renderInc{} },
	},
}

// StageNames returns the stage order.
func StageNames() []types.StageName {
	out := make([]types.StageName, len(stages))
	for i, st := range stages {
		out[i] = st.name
	}
	return out
}

func writeIndex(store *artifact.Store, idx types.SourceIndex) error {
	if err := artifact.WriteJSONL(store, artifact.KeySources, idx.Records); err != nil {
		return err
	}
	return store.WriteYAML(artifact.KeyExclusions, struct {
		Exclusions []types.Exclusion   `yaml:"exclusions"`
		Coverage   []types.CoverageGap `yaml:"coverage"`
	}{idx.Exclusions, idx.Coverage})
}

func indexNotes(idx types.SourceIndex) []string {
	notes := []string{fmt.Sprintf("%d records, %d included, %d excluded", len(idx.Records), len(idx.Included()), len(idx.Exclusions))}
	for _, g := range idx.Coverage {
		notes = append(notes, fmt.Sprintf("coverage gap: %s %s", g.Origin, g.Reason))
	}
	return notes
}

func runTriage(_ context.Context, r *run, s State) (outcome, error) {
	idx := triage.Triage(s.Archive, s.Instruction, r.e.Config.Stages.Triage)
	if err := writeIndex(r.store, idx); err != nil {
		return outcome{}, err
	}
	return ran(&indexInc{Index: idx}, indexNotes(idx)...), nil
}

func passthroughIndex(_ *run, s State) (increment, []string) {
	idx := triage.Passthrough(s.Archive)
	return &indexInc{Index: idx}, []string{"every archive record passed through untriaged"}
}

func runScout(ctx context.Context, r *run, s State) (outcome, error) {
	cfg := r.e.Config
	sc := &scout.Scout{LLM: r.e.LLM, Cache: r.cache, Opts: cfg.Stages.Scout, MaxRetries: cfg.AI.MaxRetries}
	res, err := sc.Run(ctx, s.Instruction, s.Index)
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.Write(artifact.KeyScoutPlan, res.Raw); err != nil {
		return outcome{}, err
	}
	if err := r.store.Write(artifact.KeyScoutNotes, []byte(scout.RenderNotes(res.Plan, s.Index))); err != nil {
		return outcome{}, err
	}
	out := ran(&scoutInc{Plan: res.Plan}, res.Notes...)
	if res.Cached {
		out.status = types.StatusCached
		out.reason = types.ReasonCacheHit
	}
	return out, nil
}

// passthroughScout plans every included record in index order.
func passthroughScout(_ *run, s State) (increment, []string) {
	p := types.ScoutPlan{Heuristic: true}
	for _, rec := range s.Index.Included() {
		p.Entries = append(p.Entries, types.ScoutEntry{
			SourceID: rec.ID, PriorityRank: len(p.Entries) + 1,
			Rationale: "scout disabled", EstimatedEffort: "unknown",
		})
	}
	return &scoutInc{Plan: p}, []string{fmt.Sprintf("%d included records planned in index order", len(p.Entries))}
}

func runClarify(ctx context.Context, r *run, s State) (outcome, error) {
	cfg := r.e.Config
	c := &clarify.Clarifier{LLM: r.e.LLM, Answerer: r.e.Answerer, MaxRounds: cfg.Stages.Clarifier.MaxRounds, MaxRetries: cfg.AI.MaxRetries}
	qa, err := c.Run(ctx, s.Instruction, s.Scout)
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.WriteYAML(artifact.KeyClarifications, qa); err != nil {
		return outcome{}, err
	}
	return ran(&clarifyInc{Clarifications: qa}, fmt.Sprintf("%d questions answered", len(qa))), nil
}

func checker(r *run, opts types.AlignmentOptions) *align.Checker {
	return &align.Checker{LLM: r.e.LLM, UseLLM: opts.UseLLM, MaxRetries: r.e.Config.AI.MaxRetries}
}

func alignNotes(rep types.AlignmentReport, notes []string) []string {
	out := []string{fmt.Sprintf("score %d, %d gaps", rep.Score, len(rep.Gaps))}
	return append(out, notes...)
}

func runAlignScout(ctx context.Context, r *run, s State) (outcome, error) {
	sp := s.Scout
	rep, notes := checker(r, r.e.Config.Stages.AlignScout).Check(ctx, align.Input{
		Checkpoint: align.CheckpointScout, Instruction: s.Instruction, Index: s.Index,
		Declared: s.Declared, Template: s.Template, Plan: &sp, Unavailable: s.Unavailable,
	})
	if err := r.store.WriteYAML(artifact.KeyAlignScout, rep); err != nil {
		return outcome{}, err
	}
	return ran(&alignScoutInc{Report: rep}, alignNotes(rep, notes)...), nil
}

func runTemplate(_ context.Context, r *run, s State) (outcome, error) {
	tmpl, notes, err := templates.Adjust(s.Template, s.Instruction)
	if err != nil {
		return outcome{}, fmt.Errorf("%w: %v", types.ErrMalformedArtifact, err)
	}
	if s.Declared != s.Template.Name {
		notes = append([]string{fmt.Sprintf("template %q not found; %q in force", s.Declared, s.Template.Name)}, notes...)
	}
	notes = append(notes, fmt.Sprintf("%d adjustments", len(tmpl.Adjustments)))
	if err := r.store.WriteYAML(artifact.KeyTemplate, tmpl); err != nil {
		return outcome{}, err
	}
	return ran(&templateInc{Template: tmpl}, notes...), nil
}

func runPlan(ctx context.Context, r *run, s State) (outcome, error) {
	p := &plan.Planner{LLM: r.e.LLM, MaxRetries: r.e.Config.AI.MaxRetries}
	res, err := p.Run(ctx, s.Instruction, s.Scout, s.Index, s.Template)
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.WriteYAML(artifact.KeyReportPlan, res.Plan); err != nil {
		return outcome{}, err
	}
	return ran(&planInc{Plan: res.Plan}, res.Notes...), nil
}

func skeletonPlan(_ *run, s State) (increment, []string) {
	return &planInc{Plan: plan.FromTemplate(s.Instruction, s.Scout, s.Index, s.Template)}, []string{"template skeleton plan used"}
}

func runWebFetch(ctx context.Context, r *run, s State) (outcome, error) {
	cfg := r.e.Config
	f := &webfetch.Fetcher{
		Searchers: r.e.Searchers, Client: r.e.HTTP, Store: r.store,
		Opts: cfg.Stages.WebFetch, UserAgent: cfg.HTTP.UserAgent,
	}
	res, err := f.Run(ctx, s.Instruction, s.Plan)
	if err != nil {
		return outcome{}, err
	}

	var idx types.SourceIndex
	if cfg.Stages.Triage.Enabled {
		idx = triage.Triage(s.Archive, s.Instruction, cfg.Stages.Triage, res.Records...)
	} else {
		idx = triage.Passthrough(s.Archive, res.Records...)
	}
	if err := writeIndex(r.store, idx); err != nil {
		return outcome{}, err
	}
	notes := append([]string{fmt.Sprintf("%d supporting records", len(res.Records))}, res.Notes...)
	return ran(&fetchInc{Records: res.Records, Index: idx}, notes...), nil
}

func runEvidence(ctx context.Context, r *run, s State) (outcome, error) {
	cfg := r.e.Config
	x := &evidence.Extractor{LLM: r.e.LLM, Opts: cfg.Stages.Evidence, ArchiveDir: s.Archive.Dir, MaxRetries: cfg.AI.MaxRetries}
	res, err := x.Run(ctx, s.Instruction, s.Index, s.Plan)
	if err != nil {
		return outcome{}, err
	}
	writes := []struct {
		key  string
		data string
	}{
		{artifact.KeyClaimMap, evidence.ClaimMap(res.Claims)},
		{artifact.KeyGapReport, evidence.GapTable(res.Gaps)},
		{artifact.KeyEvidenceNotes, evidence.Notes(res)},
	}
	if err := r.store.WriteYAML(artifact.KeyClaims, res.Claims); err != nil {
		return outcome{}, err
	}
	for _, w := range writes {
		if err := r.store.Write(w.key, []byte(w.data)); err != nil {
			return outcome{}, err
		}
	}
	if err := r.store.WriteYAML(artifact.KeyReportPlan, res.Plan); err != nil {
		return outcome{}, err
	}
	notes := append([]string{fmt.Sprintf("%d claims, %d without evidence", len(res.Claims), res.Gaps.Total)}, res.Notes...)
	return ran(&evidenceInc{Claims: res.Claims, Gaps: res.Gaps, Plan: res.Plan}, notes...), nil
}

func runWrite(ctx context.Context, r *run, s State) (outcome, error) {
	w := &write.Writer{LLM: r.e.LLM, Language: r.e.Config.Language, MaxRetries: r.e.Config.AI.MaxRetries}
	res, err := w.Write(ctx, write.Input{
		Instruction: s.Instruction, Plan: s.Plan, Claims: s.Claims, Template: s.Template, Index: s.Index,
	})
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.Write(artifact.DraftKey(res.Draft.Version), []byte(repair.Render(res.Draft))); err != nil {
		return outcome{}, err
	}
	return ran(&draftInc{Draft: res.Draft}, res.Notes...), nil
}

// runRepair serves both repair passes.
func runRepair(_ context.Context, r *run, s State) (outcome, error) {
	fixed, changes, err := repair.Repair(s.Draft, s.Template)
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.Write(artifact.RepairedKey(fixed.Version), []byte(repair.Render(fixed))); err != nil {
		return outcome{}, err
	}
	out := ran(&draftInc{Draft: fixed}, changes...)
	if len(changes) > 0 {
		out.reason = types.ReasonRepaired
	} else {
		out.notes = []string{"draft already conforms to the template"}
	}
	return out, nil
}

func runCritique(ctx context.Context, r *run, s State) (outcome, error) {
	cfg := r.e.Config
	if cfg.Stages.Critique.MaxIterations == 0 {
		return outcome{status: types.StatusSkippedCondition, reason: types.ReasonNoIterations}, nil
	}
	loop := &critique.Loop{
		LLM: r.e.LLM, Store: r.store, Template: s.Template, Claims: s.Claims,
		MaxIterations: cfg.Stages.Critique.MaxIterations, Patience: cfg.Stages.Critique.Patience,
		MaxRetries: cfg.AI.MaxRetries,
	}
	res, err := loop.Run(ctx, s.Draft)
	if err != nil {
		return outcome{}, err
	}
	out := ran(&loopInc{Best: res.Best, History: res.History}, res.Notes...)
	if res.History.StopReason == types.ReasonBudgetExhausted {
		out.reason = types.ReasonBudgetExhausted
	}
	return out, nil
}

func runFinalize(ctx context.Context, r *run, s State) (outcome, error) {
	if !llm.Available(r.e.LLM) {
		return outcome{notes: []string{"best draft promoted unchanged"}}, fmt.Errorf("finalizer: %w", types.ErrProviderUnavailable)
	}
	f := &write.Finalizer{LLM: r.e.LLM, MaxRetries: r.e.Config.AI.MaxRetries}
	if s.Loop != nil {
		f.After = s.Loop.LatestVersion
	}
	d, notes, err := f.Finalize(ctx, s.Draft, s.Claims)
	if err != nil {
		return outcome{}, err
	}
	if err := r.store.Write(artifact.DraftKey(d.Version), []byte(repair.Render(d))); err != nil {
		return outcome{}, err
	}
	return ran(&draftInc{Draft: d}, notes...), nil
}

func runAlignFinal(ctx context.Context, r *run, s State) (outcome, error) {
	d := s.Draft
	rep, notes := checker(r, r.e.Config.Stages.AlignFinal).Check(ctx, align.Input{
		Checkpoint: align.CheckpointFinal, Instruction: s.Instruction, Index: s.Index,
		Declared: s.Declared, Template: s.Template, Draft: &d, Claims: s.Claims,
		Unavailable: s.Unavailable,
	})
	if err := r.store.WriteYAML(artifact.KeyAlignFinal, rep); err != nil {
		return outcome{}, err
	}
	return ran(&alignFinalInc{Report: rep}, alignNotes(rep, notes)...), nil
}

func runRender(_ context.Context, r *run, s State) (outcome, error) {
	meta := render.Meta{
		RunID: r.store.RunID(), Template: s.Template.Name, Base: s.Template.Base,
		DraftVersion: s.Draft.Version, Language: r.e.Config.Language,
		Claims: len(s.Claims), EvidenceGaps: s.Gaps.Total,
	}
	if s.AlignFinal != nil {
		score := s.AlignFinal.Score
		meta.Alignment = &score
	}
	if err := r.store.Write(artifact.KeyFinalDraft, []byte(repair.Render(s.Draft))); err != nil {
		return outcome{}, err
	}
	keys, err := render.Write(r.store, s.Draft, meta, s.Index)
	if err != nil {
		return outcome{}, err
	}
	keys = append([]string{artifact.KeyFinalDraft}, keys...)
	return ran(&renderInc{Keys: keys}, unavailableNote(s.Unavailable)...), nil
}

func unavailableNote(skipped []types.StageName) []string {
	if len(skipped) == 0 {
		return nil
	}
	names := make([]string, len(skipped))
	for i, st := range skipped {
		names[i] = string(st)
	}
	sort.Strings(names)
	return []string{"rendered without: " + strings.Join(names, ", ")}
}
