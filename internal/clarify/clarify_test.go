// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package clarify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/pkg/types"
)

type fixedAnswerer struct {
	answers []string
	calls   int
}

func (f *fixedAnswerer) Answer(_ context.Context, _ string, _ types.Instruction) (string, error) {
	if f.calls >= len(f.answers) {
		return "", io.EOF
	}
	f.calls++
	return f.answers[f.calls-1], nil
}

func TestRunBoundedRounds(t *testing.T) {
	script := llm.NewScript().On("clarify",
		`{"questions":["Which chemistries?","Which years?"],"done":false}`,
		`{"questions":["Which chemistries?","Grid or EV?"],"done":false}`,
		`{"questions":["Never asked"],"done":false}`,
	)
	ans := &fixedAnswerer{answers: []string{"sulfide and oxide", "2020 onward", "grid"}}
	c := &Clarifier{LLM: script, Answerer: ans, MaxRounds: 2}

	got, err := c.Run(context.Background(), types.Instruction{Text: "batteries"}, types.ScoutPlan{})
	require.NoError(t, err)

	assert.Equal(t, []types.Clarification{
		{Round: 1, Question: "Which chemistries?", Answer: "sulfide and oxide"},
		{Round: 1, Question: "Which years?", Answer: "2020 onward"},
		{Round: 2, Question: "Grid or EV?", Answer: "grid"},
	}, got)
	assert.Equal(t, 2, script.CallCount("clarify"))

	// The second round prompt carries the first round's answers.
	calls := script.Calls()
	assert.Contains(t, calls[1].Prompt, "A: sulfide and oxide")
}

func TestRunStopsWhenDone(t *testing.T) {
	script := llm.NewScript().On("clarify", `{"questions":[],"done":true}`)
	c := &Clarifier{LLM: script, Answerer: &fixedAnswerer{}, MaxRounds: 3}
	got, err := c.Run(context.Background(), types.Instruction{}, types.ScoutPlan{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, script.CallCount("clarify"))
}

func TestRunUnavailable(t *testing.T) {
	c := &Clarifier{LLM: llm.Unavailable{}}
	_, err := c.Run(context.Background(), types.Instruction{}, types.ScoutPlan{})
	require.ErrorIs(t, err, types.ErrProviderUnavailable)
}

func TestRunMalformedReply(t *testing.T) {
	c := &Clarifier{LLM: llm.NewScript().On("clarify", "hmm"), MaxRounds: 1}
	_, err := c.Run(context.Background(), types.Instruction{}, types.ScoutPlan{})
	require.ErrorIs(t, err, types.ErrMalformedArtifact)
}

func TestLLMAnswererDefault(t *testing.T) {
	script := llm.NewScript().
		On("clarify", `{"questions":["Scope?"],"done":true}`).
		On("clarify-answer", "  Grid storage only.  ")
	c := &Clarifier{LLM: script, MaxRounds: 1}
	got, err := c.Run(context.Background(), types.Instruction{Text: "grid batteries"}, types.ScoutPlan{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Grid storage only.", got[0].Answer)
}

func TestPromptAnswerer(t *testing.T) {
	var out bytes.Buffer
	p := &PromptAnswerer{In: strings.NewReader("first\nsecond\n"), Out: &out}
	ctx := context.Background()

	a, err := p.Answer(ctx, "Q1?", types.Instruction{})
	require.NoError(t, err)
	assert.Equal(t, "first", a)
	a, err = p.Answer(ctx, "Q2?", types.Instruction{})
	require.NoError(t, err)
	assert.Equal(t, "second", a)
	_, err = p.Answer(ctx, "Q3?", types.Instruction{})
	assert.True(t, errors.Is(err, io.EOF))
	assert.Contains(t, out.String(), "? Q1?")
}
