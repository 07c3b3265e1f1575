// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// DraftSection is one rendered section of a draft.
type DraftSection struct {
	// Key is the template section key; empty for headers that match no
	// template section.
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// Title is the header text as rendered.
	Title string `json:"title" yaml:"title"`

	// Body is the section content below the header.
	Body string `json:"body" yaml:"body"`
}

// Draft is an immutable, versioned rendering of the report plan. Revisions
// produce a new Draft whose Parent names the predecessor version.
type Draft struct {
	Version int `json:"version" yaml:"version"`
	Parent  int `json:"parent,omitempty" yaml:"parent,omitempty"`

	// Title is the document title rendered as the level-1 heading.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Preamble is any text found before the first section header.
	Preamble string `json:"preamble,omitempty" yaml:"preamble,omitempty"`

	Sections []DraftSection `json:"sections" yaml:"sections"`

	// Notes records writer and validation observations about the draft.
	Notes []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Empty reports whether the draft has no sections and no preamble text.
func (d Draft) Empty() bool {
	if len(d.Sections) > 0 {
		return false
	}
	return d.Preamble == ""
}

// Keys returns the section keys in order.
func (d Draft) Keys() []string {
	keys := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		keys[i] = s.Key
	}
	return keys
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	out.Sections = append([]DraftSection(nil), d.Sections...)
	out.Notes = append([]string(nil), d.Notes...)
	return out
}

// Severity grades critique issues and alignment gaps.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Penalty returns the alignment score deduction for the severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 10
	default:
		return 5
	}
}

// CritiqueIssue is one piece of feedback against a section.
type CritiqueIssue struct {
	Section  string   `json:"section" yaml:"section"`
	Severity Severity `json:"severity" yaml:"severity"`
	Text     string   `json:"text" yaml:"text"`
}

// Critique is structured feedback against one draft version.
type Critique struct {
	DraftVersion int             `json:"draft_version" yaml:"draft_version"`
	Issues       []CritiqueIssue `json:"issues" yaml:"issues"`
	Pass         bool            `json:"pass" yaml:"pass"`
}

// Preference is the pairwise evaluator's verdict.
type Preference string

const (
	PreferBaseline  Preference = "baseline"
	PreferCandidate Preference = "candidate"
	PreferTie       Preference = "tie"
)

// PairwiseResult compares a candidate draft against the current best.
type PairwiseResult struct {
	Baseline  int        `json:"baseline" yaml:"baseline"`
	Candidate int        `json:"candidate" yaml:"candidate"`
	Preferred Preference `json:"preferred" yaml:"preferred"`
	Reason    string     `json:"reason" yaml:"reason"`
}

// CandidateWins reports whether the candidate was preferred. Ties do not
// count as a preference.
func (r PairwiseResult) CandidateWins() bool {
	return r.Preferred == PreferCandidate
}

// LoopRound captures one critique/revise/evaluate cycle.
type LoopRound struct {
	Iteration int             `json:"iteration" yaml:"iteration"`
	Critique  Critique        `json:"critique" yaml:"critique"`
	Revision  int             `json:"revision,omitempty" yaml:"revision,omitempty"`
	Pairwise  *PairwiseResult `json:"pairwise,omitempty" yaml:"pairwise,omitempty"`
	Error     string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// LoopHistory is the audit trail of the Critic/Reviser loop.
type LoopHistory struct {
	BestVersion int `json:"best_version" yaml:"best_version"`

	// LatestVersion is the highest draft version written by the loop,
	// rejected candidates included. Later drafts are numbered after it.
	LatestVersion int         `json:"latest_version" yaml:"latest_version"`
	Iterations    int         `json:"iterations" yaml:"iterations"`
	StopReason    string      `json:"stop_reason" yaml:"stop_reason"`
	Rounds        []LoopRound `json:"rounds" yaml:"rounds"`
}
