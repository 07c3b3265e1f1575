// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package evidence derives the claim map and gap report from the source
// pool and re-validates the report plan against it.
//
// A claim is bound to a source by locating a supporting passage in the
// source's extracted text (primary), its abstract or description
// (metadata), or only its title (index). Claims that bind to nothing are
// kept and flagged no_evidence; the gap report is a projection of those
// claims, never a filter. Claims are append-only: a contradiction is a new
// claim flagged against the earlier one.
package evidence

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/internal/llm"
	"github.com/pdiddy/report-engine/internal/logging"
	"github.com/pdiddy/report-engine/internal/triage"
	"github.com/pdiddy/report-engine/pkg/types"
)

const (
	// bindThreshold is the fraction of a claim's keywords a passage must
	// contain to count as support.
	bindThreshold = 0.5

	passagesPerSource = 6
)

var promptTmpl = template.Must(template.New("evidence").Parse(`You are extracting factual claims for one section of a research report.

Section: {{.Title}}
Focus: {{.Focus}}
Guidance: {{.Guidance}}

Source passages (source ID in brackets):
{{range .Passages}}[{{.SourceID}}] {{.Text}}
{{end}}
List up to {{.Max}} atomic factual claims this section should make. Name the
source IDs that support each claim. If a claim conflicts with an earlier claim
in this list, set "contradicts" to that claim's zero-based position.

Respond with a JSON object only:
{"claims": [{"text": "...", "sources": ["..."], "contradicts": null}]}
`))

// Extractor builds claims.
type Extractor struct {
	LLM        llm.Client
	Opts       types.EvidenceOptions
	ArchiveDir string
	MaxRetries int
}

// Result is the extractor output.
type Result struct {
	Claims []types.Claim
	Gaps   types.GapReport

	// Plan is a re-annotated copy of the input plan.
	Plan types.ReportPlan

	Heuristic bool
	Notes     []string
}

type corpus struct {
	order    []string
	passages map[string][]Passage
	titles   map[string]string
}

// Run extracts claims for every applicable plan section.
func (e *Extractor) Run(ctx context.Context, in types.Instruction, idx types.SourceIndex, plan types.ReportPlan) (Result, error) {
	logger := logging.New("evidence")
	c, notes := e.load(idx)
	res := Result{Notes: notes}
	maxClaims := e.Opts.MaxClaimsPerSection
	if maxClaims <= 0 {
		maxClaims = 8
	}

	useLLM := llm.Available(e.LLM)
	if !useLLM {
		res.Heuristic = true
		res.Notes = append(res.Notes, "llm unavailable: claims bound by keyword overlap")
	}

	seen := make(map[string]bool)
	for _, s := range plan.Sections {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if s.NotApplicable != "" {
			continue
		}
		sources := c.restrict(s.Sources)
		terms := sectionTerms(s, in)

		var drafts []draftClaim
		if useLLM {
			var err error
			drafts, err = e.fromLLM(ctx, s, terms, sources, c, maxClaims)
			switch {
			case errors.Is(err, types.ErrProviderUnavailable):
				useLLM, res.Heuristic = false, true
				res.Notes = append(res.Notes, "llm unavailable: claims bound by keyword overlap")
				drafts = heuristic(terms, sources, c, maxClaims)
			case err != nil:
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				logger.Warn("llm claims unusable, using keyword binding", "section", s.Key, "error", err)
				res.Notes = append(res.Notes, fmt.Sprintf("section %s: %v; claims bound by keyword overlap", s.Key, err))
				drafts = heuristic(terms, sources, c, maxClaims)
			}
		} else {
			drafts = heuristic(terms, sources, c, maxClaims)
		}
		if len(drafts) == 0 {
			drafts = []draftClaim{{text: gapText(s, terms)}}
		}

		// ids maps each draft to its claim ID, including drafts dropped as
		// duplicates, whose ID names the claim already kept.
		ids := make([]string, len(drafts))
		for i, d := range drafts {
			claim := types.Claim{
				ID:       ClaimID(s.Key, d.text),
				Section:  s.Key,
				Text:     d.text,
				Evidence: d.refs,
			}
			ids[i] = claim.ID
			if seen[claim.ID] {
				continue
			}
			if d.contradicts >= 0 && d.contradicts < i && ids[d.contradicts] != claim.ID {
				claim.Contradicts = ids[d.contradicts]
			}
			claim.Strength, claim.Flags = Classify(claim.Evidence)
			if claim.Contradicts != "" {
				claim.Flags = append(claim.Flags, types.FlagContradiction)
			}
			if err := claim.Validate(); err != nil {
				return Result{}, fmt.Errorf("%w: %v", types.ErrMalformedArtifact, err)
			}
			seen[claim.ID] = true
			res.Claims = append(res.Claims, claim)
		}
	}

	res.Gaps = Project(res.Claims, e.Opts.GapDisplayCap)
	res.Plan = Annotate(plan, res.Claims)
	logger.Info("claims extracted", "claims", len(res.Claims), "gaps", res.Gaps.Total)
	return res, nil
}

func (e *Extractor) load(idx types.SourceIndex) (corpus, []string) {
	c := corpus{passages: make(map[string][]Passage), titles: make(map[string]string)}
	var notes []string
	included := make(map[string]bool)
	for _, r := range idx.Records {
		if r.Included && !r.IsDerived() {
			included[r.ID] = true
		}
	}
	// Extracted text outranks snippets when passages tie, so it is listed
	// first.
	meta := make(map[string][]Passage)
	for _, r := range idx.Records {
		if !r.Included {
			continue
		}
		key := r.ID
		if r.IsDerived() && included[r.DerivedFrom] {
			key = r.DerivedFrom
		}
		if _, ok := c.titles[key]; !ok {
			c.order = append(c.order, key)
			c.titles[key] = r.Title
		}
		if r.HasText() {
			text, err := triage.ReadText(e.ArchiveDir, r)
			if err != nil {
				notes = append(notes, fmt.Sprintf("text of %s unreadable: %v", r.ID, err))
			} else {
				c.passages[key] = append(c.passages[key], SplitText(key, r.TextPath, text)...)
			}
		}
		meta[key] = append(meta[key], SplitSnippet(key, r.Snippet)...)
	}
	for _, key := range c.order {
		c.passages[key] = append(c.passages[key], meta[key]...)
	}
	return c, notes
}

// restrict returns the planned IDs present in the corpus, or every corpus
// source when the plan assigned none.
func (c corpus) restrict(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := c.titles[id]; ok {
			out = append(out, id)
		}
	}
	if len(ids) == 0 {
		return c.order
	}
	return out
}

type draftClaim struct {
	text        string
	refs        []types.EvidenceRef
	contradicts int
}

type scored struct {
	p     Passage
	score float64
	order int
}

func heuristic(terms, sources []string, c corpus, maxClaims int) []draftClaim {
	if len(terms) == 0 {
		return nil
	}
	var ranked []scored
	for _, id := range sources {
		for _, p := range c.passages[id] {
			if s := instruction.Overlap(terms, p.Text); s > 0 {
				ranked = append(ranked, scored{p: p, score: s, order: len(ranked)})
			}
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].order < ranked[j].order
	})

	var out []draftClaim
	texts := make(map[string]bool)
	for _, r := range ranked {
		if len(out) == maxClaims {
			break
		}
		if texts[r.p.Text] {
			continue
		}
		texts[r.p.Text] = true
		refs := []types.EvidenceRef{ref(r.p)}
		refs = append(refs, corroborate(r.p.Text, r.p.SourceID, sources, c)...)
		out = append(out, draftClaim{text: r.p.Text, refs: refs, contradicts: -1})
	}
	return out
}

// corroborate binds text to every other source with a supporting passage.
func corroborate(text, origin string, sources []string, c corpus) []types.EvidenceRef {
	terms := instruction.Keywords(text)
	var refs []types.EvidenceRef
	for _, id := range sources {
		if id == origin {
			continue
		}
		if p, s := best(terms, c.passages[id]); s >= bindThreshold {
			refs = append(refs, ref(p))
		}
	}
	return refs
}

func (e *Extractor) fromLLM(ctx context.Context, s types.PlanSection, terms, sources []string, c corpus, maxClaims int) ([]draftClaim, error) {
	var passages []Passage
	for _, id := range sources {
		ps := append([]Passage(nil), c.passages[id]...)
		sort.SliceStable(ps, func(i, j int) bool {
			return instruction.Overlap(terms, ps[i].Text) > instruction.Overlap(terms, ps[j].Text)
		})
		passages = append(passages, ps[:min(passagesPerSource, len(ps))]...)
	}
	prompt, err := llm.Render(promptTmpl, struct {
		Title, Focus, Guidance string
		Passages               []Passage
		Max                    int
	}{s.Title, s.Focus, s.Guidance, passages, maxClaims})
	if err != nil {
		return nil, err
	}
	reply, err := llm.CompleteWithRetry(ctx, e.LLM, llm.Request{Stage: "evidence", Prompt: prompt, MaxTokens: 2048}, e.MaxRetries)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Claims []struct {
			Text        string   `json:"text"`
			Sources     []string `json:"sources"`
			Contradicts *int     `json:"contradicts"`
		} `json:"claims"`
	}
	if err := llm.DecodeJSON(reply, &parsed); err != nil {
		return nil, err
	}

	var out []draftClaim
	// kept maps reply positions to positions in out.
	kept := make(map[int]int, len(parsed.Claims))
	for j, pc := range parsed.Claims {
		text := strings.Join(strings.Fields(pc.Text), " ")
		if text == "" {
			continue
		}
		if len(out) == maxClaims {
			break
		}
		d := draftClaim{text: text, contradicts: -1, refs: bind(text, pc.Sources, c)}
		if pc.Contradicts != nil {
			if k, ok := kept[*pc.Contradicts]; ok {
				d.contradicts = k
			}
		}
		kept[j] = len(out)
		out = append(out, d)
	}
	return out, nil
}

// bind verifies a model-proposed claim against the named sources. A source
// is primary or metadata evidence when a passage supports the claim, index
// evidence when only its title does, and no evidence otherwise.
func bind(text string, ids []string, c corpus) []types.EvidenceRef {
	terms := instruction.Keywords(text)
	var refs []types.EvidenceRef
	seen := make(map[string]bool)
	for _, id := range ids {
		title, ok := c.titles[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if p, s := best(terms, c.passages[id]); s >= bindThreshold {
			refs = append(refs, ref(p))
			continue
		}
		if instruction.Overlap(terms, title) >= bindThreshold {
			refs = append(refs, types.EvidenceRef{SourceID: id, Provenance: types.ProvenanceIndex})
		}
	}
	return refs
}

func ref(p Passage) types.EvidenceRef {
	r := types.EvidenceRef{SourceID: p.SourceID, Provenance: p.Provenance}
	if p.Provenance == types.ProvenancePrimary {
		r.Locator = p.Locator()
	} else {
		r.Locator = &types.Locator{Excerpt: p.Text}
	}
	return r
}

func sectionTerms(s types.PlanSection, in types.Instruction) []string {
	terms := instruction.Keywords(s.Focus)
	if len(terms) == 0 {
		terms = instruction.Matches(in.Topics, s.Title+" "+s.Guidance)
	}
	if len(terms) == 0 {
		terms = in.Topics
	}
	return terms
}

func gapText(s types.PlanSection, terms []string) string {
	if len(terms) == 0 {
		return fmt.Sprintf("No source in this run supports the %s section.", s.Title)
	}
	return fmt.Sprintf("No source in this run supports the %s section on %s.", s.Title, strings.Join(terms, ", "))
}

// ClaimID is the stable citation key for a claim.
func ClaimID(section, text string) string {
	h := sha256.New()
	h.Write([]byte(section))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return "c-" + fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Classify grades evidence. Each source counts once at its best provenance;
// high strength needs primary support worth at least 3 (a primary plus any
// corroborating source).
func Classify(refs []types.EvidenceRef) (types.Strength, []types.Flag) {
	if len(refs) == 0 {
		return types.StrengthNone, []types.Flag{types.FlagNoEvidence}
	}
	bestBySource := make(map[string]int)
	for _, r := range refs {
		w := r.Provenance.Weight()
		if cur, ok := bestBySource[r.SourceID]; !ok || w > cur {
			bestBySource[r.SourceID] = w
		}
	}
	total, primary, metadata := 0, false, false
	for _, w := range bestBySource {
		total += w
		primary = primary || w == types.ProvenancePrimary.Weight()
		metadata = metadata || w == types.ProvenanceMetadata.Weight()
	}

	var flags []types.Flag
	switch {
	case !primary && !metadata:
		flags = append(flags, types.FlagIndexOnly)
	case !primary:
		flags = append(flags, types.FlagMetadataOnly)
	}
	if len(bestBySource) == 1 {
		flags = append(flags, types.FlagSingleSource)
	}
	if primary && total >= 3 {
		return types.StrengthHigh, flags
	}
	return types.StrengthLow, flags
}

// Project returns the gap report: exactly the claims with no evidence, in
// claim order, with at most limit shown.
func Project(claims []types.Claim, limit int) types.GapReport {
	g := types.GapReport{Claims: []types.Claim{}, Cap: limit}
	for _, c := range claims {
		if len(c.Evidence) != 0 {
			continue
		}
		g.Total++
		if limit <= 0 || len(g.Claims) < limit {
			g.Claims = append(g.Claims, c)
		}
	}
	g.Truncated = limit > 0 && g.Total > limit
	return g
}

// Annotate returns a copy of plan with claim IDs assigned and sections whose
// claims lack support marked under-evidenced.
func Annotate(plan types.ReportPlan, claims []types.Claim) types.ReportPlan {
	out := plan.Clone()
	for i := range out.Sections {
		s := &out.Sections[i]
		s.ClaimIDs = []string{}
		if s.NotApplicable != "" {
			continue
		}
		total, unsupported, strong := 0, 0, 0
		for _, c := range claims {
			if c.Section != s.Key {
				continue
			}
			s.ClaimIDs = append(s.ClaimIDs, c.ID)
			total++
			switch c.Strength {
			case types.StrengthNone:
				unsupported++
			case types.StrengthHigh:
				strong++
			}
		}
		switch {
		case total == unsupported:
			s.UnderEvidenced = true
			s.Annotation = "no claim in this section is bound to evidence"
		case unsupported*2 > total:
			s.UnderEvidenced = true
			s.Annotation = fmt.Sprintf("%d of %d claims lack evidence", unsupported, total)
		case strong == 0:
			s.UnderEvidenced = true
			s.Annotation = "claims rest on weak evidence only"
		}
	}
	return out
}
