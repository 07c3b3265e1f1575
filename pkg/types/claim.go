// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// Strength classifies how well a claim is supported.
type Strength string

const (
	StrengthNone Strength = "none"
	StrengthLow  Strength = "low"
	StrengthHigh Strength = "high"
)

// Flag annotates a claim with an evidence condition.
type Flag string

const (
	FlagNoEvidence    Flag = "no_evidence"
	FlagIndexOnly     Flag = "index_only"
	FlagMetadataOnly  Flag = "metadata_only"
	FlagSingleSource  Flag = "single_source"
	FlagContradiction Flag = "contradiction"
)

// Provenance ranks the quality of one evidence binding:
// primary document > metadata-only > index-only.
type Provenance string

const (
	ProvenancePrimary  Provenance = "primary"
	ProvenanceMetadata Provenance = "metadata"
	ProvenanceIndex    Provenance = "index"
)

// Weight returns the provenance weight used for strength classification.
func (p Provenance) Weight() int {
	switch p {
	case ProvenancePrimary:
		return 2
	case ProvenanceMetadata:
		return 1
	default:
		return 0
	}
}

// Locator anchors evidence inside a source's extracted text.
type Locator struct {
	// Path is the text file the excerpt was found in.
	Path string `json:"path" yaml:"path"`

	// Line is the 1-based line where the excerpt begins (0 if unknown).
	Line int `json:"line,omitempty" yaml:"line,omitempty"`

	// Page is the page marker in effect at Line (0 if unknown).
	Page int `json:"page,omitempty" yaml:"page,omitempty"`

	// Excerpt is the supporting passage.
	Excerpt string `json:"excerpt,omitempty" yaml:"excerpt,omitempty"`
}

// EvidenceRef binds a claim to one SourceRecord.
type EvidenceRef struct {
	SourceID   string     `json:"source_id" yaml:"source_id"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`
	Locator    *Locator   `json:"locator,omitempty" yaml:"locator,omitempty"`
}

// Claim is an atomic factual assertion plus its evidence bindings.
type Claim struct {
	// ID is a stable identifier derived from section and text; used as the
	// inline citation key in drafts.
	ID string `json:"id" yaml:"id"`

	// Section is the report-plan section key the claim is assigned to.
	Section string `json:"section" yaml:"section"`

	// Text is the assertion.
	Text string `json:"text" yaml:"text"`

	Evidence []EvidenceRef `json:"evidence" yaml:"evidence"`
	Strength Strength      `json:"strength" yaml:"strength"`
	Flags    []Flag        `json:"flags,omitempty" yaml:"flags,omitempty"`

	// Contradicts names an earlier claim this claim conflicts with.
	Contradicts string `json:"contradicts,omitempty" yaml:"contradicts,omitempty"`
}

// HasFlag reports whether the claim carries flag f.
func (c Claim) HasFlag(f Flag) bool {
	for _, have := range c.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// Validate checks the claim-evidence invariants: high strength requires
// evidence, and a no_evidence flag requires an empty evidence list.
func (c Claim) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("claim %s: empty text", c.ID)
	}
	if c.Strength == StrengthHigh && len(c.Evidence) == 0 {
		return fmt.Errorf("claim %s: strength high without evidence", c.ID)
	}
	if c.HasFlag(FlagNoEvidence) && len(c.Evidence) > 0 {
		return fmt.Errorf("claim %s: flagged no_evidence but has %d evidence refs", c.ID, len(c.Evidence))
	}
	return nil
}

// Sources returns the distinct source IDs cited by the claim, in order.
func (c Claim) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range c.Evidence {
		if !seen[e.SourceID] {
			seen[e.SourceID] = true
			out = append(out, e.SourceID)
		}
	}
	return out
}

// GapReport is the read-only projection of claims whose evidence list is
// empty. Claims holds at most Cap entries; Total counts all gaps.
type GapReport struct {
	Claims    []Claim `json:"claims" yaml:"claims"`
	Total     int     `json:"total" yaml:"total"`
	Cap       int     `json:"cap" yaml:"cap"`
	Truncated bool    `json:"truncated" yaml:"truncated"`
}
