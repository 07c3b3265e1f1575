// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// SectionHint is a per-section hint supplied in the instruction.
type SectionHint struct {
	Name string `json:"name" yaml:"name"`
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// SectionDrop is an explicit request to remove a template section.
type SectionDrop struct {
	Key       string `json:"key" yaml:"key"`
	Rationale string `json:"rationale" yaml:"rationale"`
}

// Clarification is one resolved ambiguity from the clarifier.
type Clarification struct {
	Round    int    `json:"round" yaml:"round"`
	Question string `json:"question" yaml:"question"`
	Answer   string `json:"answer" yaml:"answer"`
}

// Instruction is the parsed research instruction.
type Instruction struct {
	// Raw is the instruction exactly as supplied.
	Raw string `json:"raw" yaml:"raw"`

	// Text is the prose with directive lines removed.
	Text string `json:"text" yaml:"text"`

	// Topics are keywords drawn from the prose, in first-appearance order.
	Topics []string `json:"topics,omitempty" yaml:"topics,omitempty"`

	Sections    []SectionHint `json:"sections,omitempty" yaml:"sections,omitempty"`
	Hints       []string      `json:"hints,omitempty" yaml:"hints,omitempty"`
	Queries     []string      `json:"queries,omitempty" yaml:"queries,omitempty"`
	URLs        []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	Identifiers []string      `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`

	// DateFrom and DateTo bound the research window (YYYY-MM-DD).
	DateFrom string `json:"date_from,omitempty" yaml:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty" yaml:"date_to,omitempty"`

	// Providers holds explicit provider toggles (e.g. "web": false).
	Providers map[string]bool `json:"providers,omitempty" yaml:"providers,omitempty"`

	// Template is the requested template name.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`

	// Renames maps section keys to new display labels.
	Renames map[string]string `json:"renames,omitempty" yaml:"renames,omitempty"`

	// Drops lists explicit section removals with rationale.
	Drops []SectionDrop `json:"drops,omitempty" yaml:"drops,omitempty"`

	// NotApplicable maps section keys to a justification for rendering a stub.
	NotApplicable map[string]string `json:"not_applicable,omitempty" yaml:"not_applicable,omitempty"`

	// Clarifications are appended by the clarifier stage.
	Clarifications []Clarification `json:"clarifications,omitempty" yaml:"clarifications,omitempty"`
}

// ProviderEnabled reports whether the instruction leaves provider enabled.
// Providers not mentioned are enabled.
func (in Instruction) ProviderEnabled(name string) bool {
	v, ok := in.Providers[name]
	return !ok || v
}

// WithClarifications returns a copy of the instruction with c appended.
func (in Instruction) WithClarifications(c []Clarification) Instruction {
	out := in
	out.Clarifications = append(append([]Clarification(nil), in.Clarifications...), c...)
	return out
}

// Context renders the working instruction text including resolved
// clarifications, for use in prompts.
func (in Instruction) Context() string {
	if len(in.Clarifications) == 0 {
		return in.Text
	}
	s := in.Text + "\n\nClarifications:"
	for _, c := range in.Clarifications {
		s += "\n- Q: " + c.Question + "\n  A: " + c.Answer
	}
	return s
}
