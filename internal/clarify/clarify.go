// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package clarify resolves ambiguous scope through a bounded question and
// answer exchange. Resolved clarifications are appended to the working
// instruction; the original instruction is never rewritten.
package clarify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

// maxQuestionsPerRound caps questions asked in a single round.
const maxQuestionsPerRound = 3

var questionTmpl = template.Must(template.New("clarify").Parse(`You are scoping a research report before it is written.

Instruction (with any answers so far):
{{.Instruction}}

Planned sources:
{{range .Plan.Entries}}- {{.SourceID}}: {{.Rationale}}
{{end}}
List up to {{.Max}} questions whose answers would change what the report covers.
If the scope is already clear, return an empty list and "done": true.

Respond with a JSON object only: {"questions": ["..."], "done": false}
`))

var answerTmpl = template.Must(template.New("clarify-answer").Parse(`Answer the scoping question as the requester would, using only the instruction below.
If the instruction does not settle it, state the most conservative reading.

Instruction:
{{.Instruction}}

Question: {{.Question}}

Reply with one or two sentences.`))

// Answerer supplies answers to clarifying questions.
type Answerer interface {
	Answer(ctx context.Context, question string, in types.Instruction) (string, error)
}

// LLMAnswerer lets the model answer from the instruction context.
type LLMAnswerer struct {
	LLM        llm.Client
	MaxRetries int
}

// Answer asks the model.
func (a LLMAnswerer) Answer(ctx context.Context, question string, in types.Instruction) (string, error) {
	prompt, err := llm.Render(answerTmpl, struct{ Instruction, Question string }{in.Context(), question})
	if err != nil {
		return "", err
	}
	out, err := llm.CompleteWithRetry(ctx, a.LLM, llm.Request{Stage: "clarify-answer", Prompt: prompt, MaxTokens: 512}, a.MaxRetries)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// PromptAnswerer asks an operator on a terminal.
type PromptAnswerer struct {
	In  io.Reader
	Out io.Writer

	scanner *bufio.Scanner
}

// Answer prints the question and reads one line.
func (p *PromptAnswerer) Answer(ctx context.Context, question string, _ types.Instruction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.scanner == nil {
		p.scanner = bufio.NewScanner(p.In)
	}
	fmt.Fprintf(p.Out, "? %s\n> ", question)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", fmt.Errorf("reading answer: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Clarifier runs the bounded exchange.
type Clarifier struct {
	LLM        llm.Client
	Answerer   Answerer
	MaxRounds  int
	MaxRetries int
}

// Run returns the clarifications gathered over at most MaxRounds rounds.
// A missing provider fails with types.ErrProviderUnavailable.
func (c *Clarifier) Run(ctx context.Context, in types.Instruction, plan types.ScoutPlan) ([]types.Clarification, error) {
	logger := logging.New("clarify")
	if !llm.Available(c.LLM) {
		return nil, fmt.Errorf("clarifier: %w", types.ErrProviderUnavailable)
	}
	answerer := c.Answerer
	if answerer == nil {
		answerer = LLMAnswerer{LLM: c.LLM, MaxRetries: c.MaxRetries}
	}
	rounds := c.MaxRounds
	if rounds <= 0 {
		rounds = 2
	}

	var out []types.Clarification
	working := in
	for round := 1; round <= rounds; round++ {
		prompt, err := llm.Render(questionTmpl, struct {
			Instruction string
			Plan        types.ScoutPlan
			Max         int
		}{working.Context(), plan, maxQuestionsPerRound})
		if err != nil {
			return nil, err
		}
		reply, err := llm.CompleteWithRetry(ctx, c.LLM, llm.Request{Stage: "clarify", Prompt: prompt, MaxTokens: 1024}, c.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("clarifier round %d: %w", round, err)
		}
		var parsed struct {
			Questions []string `json:"questions"`
			Done      bool     `json:"done"`
		}
		if err := llm.DecodeJSON(reply, &parsed); err != nil {
			return nil, fmt.Errorf("clarifier round %d: %w", round, err)
		}

		var batch []types.Clarification
		for _, q := range parsed.Questions {
			q = strings.TrimSpace(q)
			if q == "" || asked(out, q) {
				continue
			}
			if len(batch) == maxQuestionsPerRound {
				break
			}
			a, err := answerer.Answer(ctx, q, working)
			if err == io.EOF {
				logger.Info("answerer closed; ending exchange", "round", round)
				return append(out, batch...), nil
			}
			if err != nil {
				return nil, fmt.Errorf("answering %q: %w", q, err)
			}
			batch = append(batch, types.Clarification{Round: round, Question: q, Answer: a})
		}
		out = append(out, batch...)
		working = working.WithClarifications(batch)
		logger.Info("round complete", "round", round, "questions", len(batch))

		if parsed.Done || len(batch) == 0 {
			break
		}
	}
	return out, nil
}

func asked(prior []types.Clarification, q string) bool {
	for _, c := range prior {
		if strings.EqualFold(c.Question, q) {
			return true
		}
	}
	return false
}
