// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scout produces the prioritized reading plan over the source index.
// Plans are content-addressed by instruction, archive identity and triage
// output; a cache hit replays the stored plan byte for byte.
package scout

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/pkg/types"
)

var promptTmpl = template.Must(template.New("scout").Parse(`You are planning the reading order for a research report.

Instruction:
{{.Instruction}}

Candidate sources (id | origin | relevance | title | snippet):
{{range .Candidates}}- {{.ID}} | {{.Origin}} | {{printf "%.2f" .Relevance}} | {{.Title}} | {{.Snippet}}
{{end}}
Select at most {{.Cap}} sources worth reading, most important first. For every
candidate you leave out, give a one-line reason.

Respond with a JSON object only:
{"entries": [{"source_id": "...", "rationale": "...", "estimated_effort": "low|medium|high"}],
 "exclusions": [{"source_id": "...", "reason": "..."}]}
`))

// Scout builds ScoutPlans.
type Scout struct {
	LLM        llm.Client
	Cache      *artifact.Cache
	Opts       types.ScoutOptions
	MaxRetries int
}

// Result is the outcome of one Scout run.
type Result struct {
	Plan types.ScoutPlan

	// Raw is the serialized plan; on a cache hit it is the stored bytes.
	Raw []byte

	Cached bool
	Notes  []string
}

// CacheKey hashes the instruction text, archive identity, triage output, the
// entry cap and whether a model was available. Heuristic plans built offline
// never answer for a run that has a model.
func CacheKey(in types.Instruction, idx types.SourceIndex, maxEntries int, withLLM bool) string {
	h := sha256.New()
	io.WriteString(h, in.Text)
	fmt.Fprintf(h, "\x00%s\x00cap=%d\x00llm=%t\x00", idx.ArchiveID, maxEntries, withLLM)
	for _, r := range idx.Records {
		fmt.Fprintf(h, "%s|%t|%.4f\n", r.ID, r.Included, r.Relevance)
	}
	for _, e := range idx.Exclusions {
		fmt.Fprintf(h, "x|%s|%s\n", e.SourceID, e.Reason)
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:32]
}

// Run produces the plan, consulting the cache first when enabled.
func (s *Scout) Run(ctx context.Context, in types.Instruction, idx types.SourceIndex) (Result, error) {
	logger := logging.New("scout")
	maxEntries := s.Opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 20
	}
	withLLM := llm.Available(s.LLM)
	key := CacheKey(in, idx, maxEntries, withLLM)

	if s.Opts.UseCache && s.Cache != nil {
		data, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			return Result{}, fmt.Errorf("scout cache: %w", err)
		}
		if ok {
			var plan types.ScoutPlan
			if err := yaml.Unmarshal(data, &plan); err != nil {
				return Result{}, fmt.Errorf("%w: cached scout plan %s: %v", types.ErrMalformedArtifact, key, err)
			}
			logger.Info("cache hit", "key", key, "entries", len(plan.Entries))
			return Result{Plan: plan, Raw: data, Cached: true, Notes: []string{"cache key " + key}}, nil
		}
	}

	var notes []string
	plan, err := s.fromLLM(ctx, in, idx, maxEntries)
	// A fallback plan built because a configured model failed is not cached,
	// or it would answer for every later run with a working model.
	cacheable := err == nil || !withLLM
	if err != nil {
		if errors.Is(err, types.ErrProviderUnavailable) {
			notes = append(notes, "llm unavailable; relevance ranking used")
		} else if ctx.Err() != nil {
			return Result{}, ctx.Err()
		} else {
			notes = append(notes, "llm reply unusable ("+err.Error()+"); relevance ranking used")
		}
		logger.Warn("heuristic scout plan", "error", err)
		plan = Heuristic(in, idx, maxEntries)
	}
	plan.Key = key

	raw, err := yaml.Marshal(plan)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling scout plan: %w", err)
	}
	if cacheable && s.Opts.UseCache && s.Cache != nil {
		if err := s.Cache.Put(ctx, key, raw); err != nil {
			return Result{}, fmt.Errorf("scout cache: %w", err)
		}
	}
	if cacheable {
		notes = append(notes, "cache key "+key)
	} else {
		notes = append(notes, "fallback plan not cached")
	}
	logger.Info("plan ready", "entries", len(plan.Entries), "exclusions", len(plan.Exclusions), "heuristic", plan.Heuristic)
	return Result{Plan: plan, Raw: raw, Notes: notes}, nil
}

type llmReply struct {
	Entries []struct {
		SourceID        string `json:"source_id"`
		Rationale       string `json:"rationale"`
		EstimatedEffort string `json:"estimated_effort"`
	} `json:"entries"`
	Exclusions []struct {
		SourceID string `json:"source_id"`
		Reason   string `json:"reason"`
	} `json:"exclusions"`
}

func (s *Scout) fromLLM(ctx context.Context, in types.Instruction, idx types.SourceIndex, maxEntries int) (types.ScoutPlan, error) {
	if !llm.Available(s.LLM) {
		return types.ScoutPlan{}, types.ErrProviderUnavailable
	}
	candidates := Candidates(idx)
	prompt, err := llm.Render(promptTmpl, struct {
		Instruction string
		Candidates  []types.SourceRecord
		Cap         int
	}{in.Context(), truncateSnippets(candidates), maxEntries})
	if err != nil {
		return types.ScoutPlan{}, err
	}

	reply, err := llm.CompleteWithRetry(ctx, s.LLM, llm.Request{Stage: "scout", Prompt: prompt}, s.MaxRetries)
	if err != nil {
		return types.ScoutPlan{}, err
	}
	var parsed llmReply
	if err := llm.DecodeJSON(reply, &parsed); err != nil {
		return types.ScoutPlan{}, err
	}

	inScope := make(map[string]types.SourceRecord)
	for _, r := range candidates {
		inScope[r.ID] = r
	}

	var plan types.ScoutPlan
	listed := make(map[string]bool)
	for _, e := range parsed.Entries {
		r, ok := inScope[e.SourceID]
		if !ok || listed[e.SourceID] {
			continue
		}
		listed[e.SourceID] = true
		if len(plan.Entries) == maxEntries {
			plan.Exclusions = append(plan.Exclusions, types.Exclusion{
				SourceID: e.SourceID, Reason: types.ExcludeOverCap, Detail: fmt.Sprintf("cap %d reached", maxEntries),
			})
			continue
		}
		effort := strings.ToLower(e.EstimatedEffort)
		if effort != "low" && effort != "medium" && effort != "high" {
			effort = estimateEffort(idx, r)
		}
		plan.Entries = append(plan.Entries, types.ScoutEntry{
			SourceID: e.SourceID, PriorityRank: len(plan.Entries) + 1,
			Rationale: strings.TrimSpace(e.Rationale), EstimatedEffort: effort,
		})
	}
	if len(plan.Entries) == 0 && len(candidates) > 0 {
		return types.ScoutPlan{}, fmt.Errorf("%w: scout reply selected no known sources", types.ErrMalformedArtifact)
	}

	reasons := make(map[string]string)
	for _, x := range parsed.Exclusions {
		if _, ok := inScope[x.SourceID]; ok && x.Reason != "" {
			reasons[x.SourceID] = x.Reason
		}
	}
	for _, r := range candidates {
		if listed[r.ID] {
			continue
		}
		x := types.Exclusion{SourceID: r.ID, Reason: types.ExcludeNotPrioritized}
		if why, ok := reasons[r.ID]; ok {
			x.Detail = why
		}
		plan.Exclusions = append(plan.Exclusions, x)
	}
	return plan, nil
}

// Heuristic ranks candidates by triage relevance.
func Heuristic(in types.Instruction, idx types.SourceIndex, maxEntries int) types.ScoutPlan {
	plan := types.ScoutPlan{Heuristic: true}
	for _, r := range Candidates(idx) {
		if len(plan.Entries) == maxEntries {
			plan.Exclusions = append(plan.Exclusions, types.Exclusion{
				SourceID: r.ID, Reason: types.ExcludeOverCap, Detail: fmt.Sprintf("cap %d reached", maxEntries),
			})
			continue
		}
		rationale := fmt.Sprintf("relevance %.2f", r.Relevance)
		if m := instruction.Matches(in.Topics, r.Title+" "+r.Snippet); len(m) > 0 {
			rationale += "; matches " + strings.Join(m, ", ")
		}
		plan.Entries = append(plan.Entries, types.ScoutEntry{
			SourceID: r.ID, PriorityRank: len(plan.Entries) + 1,
			Rationale: rationale, EstimatedEffort: estimateEffort(idx, r),
		})
	}
	return plan
}

// Candidates returns the plannable in-scope records in rank order. An
// included extraction is represented by its primary when the primary is
// itself in scope.
func Candidates(idx types.SourceIndex) []types.SourceRecord {
	included := make(map[string]bool)
	for _, r := range idx.Records {
		if r.Included {
			included[r.ID] = true
		}
	}
	var out []types.SourceRecord
	for _, r := range idx.Included() {
		if r.IsDerived() && included[r.DerivedFrom] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// estimateEffort is low for metadata-only sources, medium when extracted
// text is available, high when several extractions exist.
func estimateEffort(idx types.SourceIndex, r types.SourceRecord) string {
	texts := 0
	if r.HasText() {
		texts++
	}
	for _, d := range idx.Included() {
		if d.DerivedFrom == r.ID && d.HasText() {
			texts++
		}
	}
	switch {
	case texts == 0:
		return "low"
	case texts == 1:
		return "medium"
	default:
		return "high"
	}
}

func truncateSnippets(records []types.SourceRecord) []types.SourceRecord {
	out := make([]types.SourceRecord, len(records))
	for i, r := range records {
		if len(r.Snippet) > 240 {
			r.Snippet = r.Snippet[:240] + "..."
		}
		r.Snippet = strings.ReplaceAll(r.Snippet, "\n", " ")
		out[i] = r
	}
	return out
}
