// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package critique runs the bounded Critic/Reviser loop over draft versions.
//
// Each round critiques the current best draft, asks the reviser for a new
// version, and lets a pairwise evaluator compare the two. The best pointer
// advances only when the candidate is preferred; ties and failed rounds count
// toward patience. Every critique, candidate draft, and comparison is written
// to the artifact store so the history can be audited.
package critique

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/internal/repair"
	"github.com/pdiddy/report-engine/internal/write"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Stop reasons recorded in the loop history besides the shared ledger
// reasons for budget exhaustion and a zero budget.
const (
	StopCriticPassed = "critic_passed"
	StopPatience     = "patience_exhausted"
)

var critiqueTmpl = template.Must(template.New("critique").Parse(`You are a demanding reviewer of research reports.

Review draft v{{.Version}} below. Report problems with accuracy, citation
coverage, clarity, and coverage of each section's guidance.
{{range .Sections}}- {{.Title}}: {{.Guidance}}
{{end}}
Reply with JSON only:
{"pass": false, "issues": [{"section": "<section key>", "severity": "low|medium|high", "text": "<problem>"}]}
Set "pass" to true only when no issue of medium or high severity remains.

---
{{.Markdown}}`))

var reviseTmpl = template.Must(template.New("revise").Parse(`Revise the research report below to address the reviewer's issues.

Keep exactly these sections, in this order, as "## " headings:
{{range .Sections}}## {{.Title}}
{{end}}
Cite claims by key in square brackets. Use only these claims:
{{range .Claims}}[{{.ID}}] {{.Text}} (strength: {{.Strength}})
{{end}}
Issues:
{{range .Issues}}- [{{.Severity}}] {{.Section}}: {{.Text}}
{{end}}
Return the complete revised report in Markdown.

---
{{.Markdown}}`))

var pairwiseTmpl = template.Must(template.New("pairwise").Parse(`Compare two versions of the same research report.
Prefer the version that is more accurate, better cited, and clearer. Answer
"tie" when neither is clearly better.

Reply with JSON only: {"preferred": "baseline|candidate|tie", "reason": "<one sentence>"}

=== BASELINE (v{{.Baseline.Version}}) ===
{{.BaselineMarkdown}}

=== CANDIDATE (v{{.Candidate.Version}}) ===
{{.CandidateMarkdown}}`))

// Loop configures one Critic/Reviser run.
type Loop struct {
	LLM      llm.Client
	Store    *artifact.Store
	Template types.Template
	Claims   []types.Claim

	// MaxIterations bounds revision rounds (N). Zero skips the loop.
	MaxIterations int

	// Patience is the number of consecutive rounds without a preferred
	// candidate that stops the loop (default 2).
	Patience int

	MaxRetries int
}

// Result is the loop's terminal output.
type Result struct {
	Best    types.Draft
	History types.LoopHistory

	// Drafts holds every candidate produced, in version order.
	Drafts []types.Draft

	Steps []Step
	Notes []string
}

type outcome int

const (
	outcomeRejected outcome = iota
	outcomeAccepted
	outcomePassed
)

// Run drives the state machine from initial until it converges. It returns
// types.ErrProviderUnavailable when no model is configured and N > 0.
func (l *Loop) Run(ctx context.Context, initial types.Draft) (Result, error) {
	res := Result{Best: initial, History: types.LoopHistory{
		BestVersion:   initial.Version,
		LatestVersion: initial.Version,
		Rounds:        []types.LoopRound{},
	}}
	if l.MaxIterations <= 0 {
		res.History.StopReason = types.ReasonNoIterations
		return res, nil
	}
	if !llm.Available(l.LLM) {
		return Result{}, fmt.Errorf("critique loop: %w", types.ErrProviderUnavailable)
	}
	patience := l.Patience
	if patience <= 0 {
		patience = 2
	}

	logger := logging.New("critique")
	m := newMachine()
	best := initial
	next := initial.Version + 1
	stale := 0
	stop := ""

	for round := 1; round <= l.MaxIterations; round++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		m.round = round
		lr := types.LoopRound{Iteration: round}
		out, cand, err := l.round(ctx, m, best, next, &lr)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if !errors.Is(err, types.ErrProviderUnavailable) {
				return Result{}, err
			}
			lr.Error = err.Error()
			res.History.Rounds = append(res.History.Rounds, lr)
			if cand != nil {
				res.Drafts = append(res.Drafts, *cand)
			}
			stop = types.ReasonProviderUnavailable
			break
		}
		res.History.Rounds = append(res.History.Rounds, lr)
		if cand != nil {
			res.Drafts = append(res.Drafts, *cand)
			next++
		}

		switch out {
		case outcomePassed:
			stop = StopCriticPassed
		case outcomeAccepted:
			best = *cand
			stale = 0
		default:
			stale++
			if stale >= patience {
				stop = StopPatience
			}
		}
		logger.Info("round complete", "round", round, "best", best.Version, "stale", stale)
		if stop != "" {
			break
		}
		if m.current != StateDrafted {
			if err := m.advance(StateDrafted); err != nil {
				return Result{}, err
			}
		}
	}
	if stop == "" {
		stop = types.ReasonBudgetExhausted
	}
	if err := m.advance(StateConverged); err != nil {
		return Result{}, err
	}

	res.Best = best
	res.Steps = m.steps
	res.History.BestVersion = best.Version
	for _, d := range res.Drafts {
		res.History.LatestVersion = max(res.History.LatestVersion, d.Version)
	}
	res.History.Iterations = len(res.History.Rounds)
	res.History.StopReason = stop
	if err := l.writeYAML(artifact.KeyLoopHistory, res.History); err != nil {
		return Result{}, err
	}
	res.Notes = append(res.Notes, fmt.Sprintf("%d rounds, best v%d, stopped: %s", res.History.Iterations, best.Version, stop))
	return res, nil
}

// round runs one critique/revise/evaluate cycle. Failures other than a
// missing provider or a write error end the round without a preference.
func (l *Loop) round(ctx context.Context, m *machine, best types.Draft, version int, lr *types.LoopRound) (outcome, *types.Draft, error) {
	crit, err := l.critique(ctx, best)
	if err != nil {
		if fatal(ctx, err) {
			return outcomeRejected, nil, err
		}
		lr.Error = "critique: " + err.Error()
		return outcomeRejected, nil, nil
	}
	lr.Critique = crit
	if err := l.writeYAML(artifact.CritiqueKey(lr.Iteration), crit); err != nil {
		return outcomeRejected, nil, err
	}
	if err := m.advance(StateCritiqued); err != nil {
		return outcomeRejected, nil, err
	}
	if crit.Pass {
		return outcomePassed, nil, nil
	}

	cand, err := l.revise(ctx, best, crit, version)
	if err != nil {
		if fatal(ctx, err) {
			return outcomeRejected, nil, err
		}
		lr.Error = "revise: " + err.Error()
		return outcomeRejected, nil, nil
	}
	lr.Revision = cand.Version
	if err := l.write(artifact.DraftKey(cand.Version), []byte(repair.Render(cand))); err != nil {
		return outcomeRejected, nil, err
	}
	if err := m.advance(StateRevised); err != nil {
		return outcomeRejected, nil, err
	}

	pw, err := l.compare(ctx, best, cand)
	if err != nil {
		if fatal(ctx, err) {
			return outcomeRejected, &cand, err
		}
		lr.Error = "pairwise: " + err.Error()
		return outcomeRejected, &cand, nil
	}
	lr.Pairwise = &pw
	if err := l.writeYAML(artifact.PairwiseKey(cand.Version), pw); err != nil {
		return outcomeRejected, &cand, err
	}
	if err := m.advance(StateEvaluated); err != nil {
		return outcomeRejected, &cand, err
	}
	if pw.CandidateWins() {
		return outcomeAccepted, &cand, nil
	}
	return outcomeRejected, &cand, nil
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, types.ErrProviderUnavailable)
}

type critiqueReply struct {
	Pass   bool `json:"pass"`
	Issues []struct {
		Section  string `json:"section"`
		Severity string `json:"severity"`
		Text     string `json:"text"`
	} `json:"issues"`
}

func (l *Loop) critique(ctx context.Context, d types.Draft) (types.Critique, error) {
	prompt, err := llm.Render(critiqueTmpl, struct {
		Version  int
		Sections []types.TemplateSection
		Markdown string
	}{d.Version, l.Template.Sections, repair.Render(d)})
	if err != nil {
		return types.Critique{}, err
	}
	reply, err := llm.CompleteWithRetry(ctx, l.LLM, llm.Request{Stage: "critique", Prompt: prompt}, l.MaxRetries)
	if err != nil {
		return types.Critique{}, err
	}
	var r critiqueReply
	if err := llm.DecodeJSON(reply, &r); err != nil {
		return types.Critique{}, err
	}

	c := types.Critique{DraftVersion: d.Version, Pass: r.Pass, Issues: []types.CritiqueIssue{}}
	for _, is := range r.Issues {
		text := strings.TrimSpace(is.Text)
		if text == "" {
			continue
		}
		c.Issues = append(c.Issues, types.CritiqueIssue{Section: is.Section, Severity: severity(is.Severity), Text: text})
	}
	if r.Pass && blocking(c.Issues) {
		c.Pass = false
	}
	return c, nil
}

func severity(s string) types.Severity {
	switch types.Severity(strings.ToLower(strings.TrimSpace(s))) {
	case types.SeverityLow:
		return types.SeverityLow
	case types.SeverityHigh:
		return types.SeverityHigh
	default:
		return types.SeverityMedium
	}
}

// blocking reports whether any issue is medium or high.
func blocking(issues []types.CritiqueIssue) bool {
	for _, is := range issues {
		if is.Severity != types.SeverityLow {
			return true
		}
	}
	return false
}

func (l *Loop) revise(ctx context.Context, best types.Draft, crit types.Critique, version int) (types.Draft, error) {
	prompt, err := llm.Render(reviseTmpl, struct {
		Sections []types.TemplateSection
		Claims   []types.Claim
		Issues   []types.CritiqueIssue
		Markdown string
	}{l.Template.Sections, l.Claims, crit.Issues, repair.Render(best)})
	if err != nil {
		return types.Draft{}, err
	}
	reply, err := llm.CompleteWithRetry(ctx, l.LLM, llm.Request{Stage: "revise", Prompt: prompt}, l.MaxRetries)
	if err != nil {
		return types.Draft{}, err
	}

	cand := repair.Parse(unfence(reply))
	if cand.Empty() {
		return types.Draft{}, fmt.Errorf("%w: reviser returned an empty draft", types.ErrMalformedArtifact)
	}
	fixed, changes, err := repair.Repair(cand, l.Template)
	if err != nil {
		return types.Draft{}, err
	}
	known := make(map[string]bool, len(l.Claims))
	for _, c := range l.Claims {
		known[c.ID] = true
	}
	for i := range fixed.Sections {
		body, removed := write.StripUnknown(fixed.Sections[i].Body, known)
		fixed.Sections[i].Body = body
		if len(removed) > 0 {
			changes = append(changes, fmt.Sprintf("section %s: removed %d untraceable citations", fixed.Sections[i].Key, len(removed)))
		}
	}
	if fixed.Title == "" {
		fixed.Title = best.Title
	}
	fixed.Version = version
	fixed.Parent = best.Version
	fixed.Notes = changes
	return fixed, nil
}

type pairwiseReply struct {
	Preferred string `json:"preferred"`
	Reason    string `json:"reason"`
}

func (l *Loop) compare(ctx context.Context, baseline, candidate types.Draft) (types.PairwiseResult, error) {
	prompt, err := llm.Render(pairwiseTmpl, struct {
		Baseline, Candidate                 types.Draft
		BaselineMarkdown, CandidateMarkdown string
	}{baseline, candidate, repair.Render(baseline), repair.Render(candidate)})
	if err != nil {
		return types.PairwiseResult{}, err
	}
	reply, err := llm.CompleteWithRetry(ctx, l.LLM, llm.Request{Stage: "pairwise", Prompt: prompt, MaxTokens: 512}, l.MaxRetries)
	if err != nil {
		return types.PairwiseResult{}, err
	}
	var r pairwiseReply
	if err := llm.DecodeJSON(reply, &r); err != nil {
		return types.PairwiseResult{}, err
	}
	pref := types.Preference(strings.ToLower(strings.TrimSpace(r.Preferred)))
	switch pref {
	case types.PreferBaseline, types.PreferCandidate, types.PreferTie:
	default:
		return types.PairwiseResult{}, fmt.Errorf("%w: unknown preference %q", types.ErrMalformedArtifact, r.Preferred)
	}
	return types.PairwiseResult{
		Baseline:  baseline.Version,
		Candidate: candidate.Version,
		Preferred: pref,
		Reason:    strings.TrimSpace(r.Reason),
	}, nil
}

// unfence strips a Markdown code fence wrapped around the whole reply.
func unfence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func (l *Loop) write(key string, data []byte) error {
	if l.Store == nil {
		return nil
	}
	return l.Store.Write(key, data)
}

func (l *Loop) writeYAML(key string, v any) error {
	if l.Store == nil {
		return nil
	}
	return l.Store.WriteYAML(key, v)
}
