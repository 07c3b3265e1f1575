// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package critique

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

const claimA = "c-aaaaaaaaaaaa"

const (
	issues    = `{"pass": false, "issues": [{"section": "summary", "severity": "HIGH", "text": "too vague"}, {"section": "findings", "severity": "odd", "text": "thin"}]}`
	revised   = "# Outlook\n\n## Summary\n\nSharper summary [" + claimA + "].\n\n## Findings\n\nMore detail.\n"
	candidate = `{"preferred": "candidate", "reason": "clearer"}`
	tie       = `{"preferred": "tie", "reason": "equal"}`
	baseline  = `{"preferred": "baseline", "reason": "candidate lost detail"}`
)

func tmpl() types.Template {
	return types.Template{Name: "research-brief", Sections: []types.TemplateSection{
		{Key: "summary", Title: "Summary", Guidance: "Answer first."},
		{Key: "findings", Title: "Findings"},
	}}
}

func draftV1() types.Draft {
	return types.Draft{Version: 1, Title: "Outlook", Sections: []types.DraftSection{
		{Key: "summary", Title: "Summary", Body: "Summary [" + claimA + "]."},
		{Key: "findings", Title: "Findings", Body: "Findings."},
	}}
}

func newLoop(t *testing.T, s llm.Client, n int) (*Loop, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "run-1", nil)
	require.NoError(t, err)
	return &Loop{
		LLM:           s,
		Store:         store,
		Template:      tmpl(),
		Claims:        []types.Claim{{ID: claimA, Text: "Claim A.", Strength: types.StrengthHigh}},
		MaxIterations: n,
		Patience:      2,
	}, store
}

func TestLoopStopsOnPatience(t *testing.T) {
	s := llm.NewScript().
		On("critique", issues, issues, issues).
		On("revise", revised, revised, revised).
		On("pairwise", candidate, tie, baseline)
	loop, store := newLoop(t, s, 5)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Best.Version)
	assert.Equal(t, 1, res.Best.Parent)
	assert.Equal(t, StopPatience, res.History.StopReason)
	assert.Equal(t, 3, res.History.Iterations)
	assert.Equal(t, 2, res.History.BestVersion)
	assert.Equal(t, 4, res.History.LatestVersion, "rejected candidates still claim their version")
	require.Len(t, res.Drafts, 3)
	assert.Equal(t, 4, res.Drafts[2].Version)
	assert.Equal(t, 2, res.Drafts[2].Parent, "revisions build on the best version")

	first := res.History.Rounds[0]
	require.Len(t, first.Critique.Issues, 2)
	assert.Equal(t, types.SeverityHigh, first.Critique.Issues[0].Severity)
	assert.Equal(t, types.SeverityMedium, first.Critique.Issues[1].Severity)
	require.NotNil(t, res.History.Rounds[1].Pairwise)
	assert.Equal(t, types.PreferTie, res.History.Rounds[1].Pairwise.Preferred)

	for _, key := range []string{
		artifact.CritiqueKey(1), artifact.CritiqueKey(3),
		artifact.DraftKey(2), artifact.DraftKey(4),
		artifact.PairwiseKey(2), artifact.PairwiseKey(4),
		artifact.KeyLoopHistory,
	} {
		assert.True(t, store.Exists(key), key)
	}

	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, StateEvaluated, last.From)
	assert.Equal(t, StateConverged, last.To)
	assert.Equal(t, 3, last.Round)
}

func TestLoopBudgetExhausted(t *testing.T) {
	s := llm.NewScript().
		On("critique", issues, issues).
		On("revise", revised, revised).
		On("pairwise", candidate, candidate)
	loop, _ := newLoop(t, s, 2)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	assert.Equal(t, types.ReasonBudgetExhausted, res.History.StopReason)
	assert.Equal(t, 3, res.Best.Version)
	assert.Equal(t, 2, res.Best.Parent)
	assert.Equal(t, 2, res.History.Iterations)
	assert.Equal(t, 2, s.CallCount("critique"))
}

func TestLoopCriticPassed(t *testing.T) {
	s := llm.NewScript().On("critique", `{"pass": true, "issues": [{"section": "summary", "severity": "low", "text": "nit"}]}`)
	loop, _ := newLoop(t, s, 3)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	assert.Equal(t, StopCriticPassed, res.History.StopReason)
	assert.Equal(t, 1, res.Best.Version)
	assert.Empty(t, res.Drafts)
	assert.Zero(t, s.CallCount("revise"))
}

func TestCritiquePassWithBlockingIssueIsNotAPass(t *testing.T) {
	s := llm.NewScript().
		On("critique", `{"pass": true, "issues": [{"section": "summary", "severity": "high", "text": "wrong"}]}`).
		On("revise", revised).
		On("pairwise", baseline)
	loop, _ := newLoop(t, s, 1)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	assert.False(t, res.History.Rounds[0].Critique.Pass)
	assert.Equal(t, 1, s.CallCount("revise"))
	assert.Equal(t, 1, res.Best.Version)
	assert.Equal(t, types.ReasonBudgetExhausted, res.History.StopReason)
}

func TestLoopZeroIterations(t *testing.T) {
	s := llm.NewScript()
	loop, store := newLoop(t, s, 0)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	assert.Equal(t, types.ReasonNoIterations, res.History.StopReason)
	assert.Equal(t, draftV1(), res.Best)
	assert.Empty(t, s.Calls())
	assert.False(t, store.Exists(artifact.KeyLoopHistory))
}

func TestLoopProviderUnavailable(t *testing.T) {
	loop, _ := newLoop(t, llm.Unavailable{Reason: "no key"}, 3)
	_, err := loop.Run(context.Background(), draftV1())
	assert.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestMalformedPairwiseCountsTowardPatience(t *testing.T) {
	s := llm.NewScript().
		On("critique", issues).
		On("revise", revised).
		On("pairwise", "I like both")
	loop, _ := newLoop(t, s, 3)
	loop.Patience = 1

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	assert.Equal(t, StopPatience, res.History.StopReason)
	assert.Equal(t, 1, res.Best.Version)
	assert.True(t, strings.HasPrefix(res.History.Rounds[0].Error, "pairwise:"))
	require.Len(t, res.Drafts, 1)
}

func TestReviseRepairsStructure(t *testing.T) {
	reply := "```markdown\n## Findings\n\nNew detail [c-0123456789ab].\n\n## Summary\n\nSummary [" + claimA + "].\n```"
	s := llm.NewScript().
		On("critique", issues).
		On("revise", reply).
		On("pairwise", tie)
	loop, _ := newLoop(t, s, 1)

	res, err := loop.Run(context.Background(), draftV1())
	require.NoError(t, err)
	require.Len(t, res.Drafts, 1)
	cand := res.Drafts[0]
	assert.Equal(t, []string{"summary", "findings"}, cand.Keys())
	assert.Equal(t, "Outlook", cand.Title)
	assert.Equal(t, "New detail.", cand.Sections[1].Body)
	assert.Contains(t, cand.Notes, "reordered sections to template order")
	assert.Contains(t, cand.Notes, "section findings: removed 1 untraceable citations")
	assert.Equal(t, 1, res.Best.Version)
}

func TestLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop, _ := newLoop(t, llm.NewScript(), 3)
	_, err := loop.Run(ctx, draftV1())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMachineRejectsIllegalTransition(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.advance(StateCritiqued))
	assert.Error(t, m.advance(StateEvaluated))
	require.NoError(t, m.advance(StateRevised))
	require.NoError(t, m.advance(StateEvaluated))
	require.NoError(t, m.advance(StateDrafted))
	require.NoError(t, m.advance(StateConverged))
	assert.Equal(t, StateConverged, m.current)
	assert.Error(t, m.advance(StateDrafted))
	assert.Len(t, m.steps, 5)
}
