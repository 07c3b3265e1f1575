// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ScoutEntry is one prioritized item of the reading plan.
type ScoutEntry struct {
	SourceID        string `json:"source_id" yaml:"source_id"`
	PriorityRank    int    `json:"priority_rank" yaml:"priority_rank"`
	Rationale       string `json:"rationale" yaml:"rationale"`
	EstimatedEffort string `json:"estimated_effort" yaml:"estimated_effort"`
}

// ScoutPlan is the prioritized reading plan over the source index.
type ScoutPlan struct {
	// Key is the content-addressed cache key the plan was produced under.
	Key string `json:"key" yaml:"key"`

	Entries    []ScoutEntry `json:"entries" yaml:"entries"`
	Exclusions []Exclusion  `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`

	// Heuristic is true when the plan came from relevance ranking instead of
	// the LLM.
	Heuristic bool `json:"heuristic,omitempty" yaml:"heuristic,omitempty"`
}

// SourceIDs returns the planned source IDs in priority order.
func (p ScoutPlan) SourceIDs() []string {
	ids := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.SourceID
	}
	return ids
}

// PlanSection is one section of the ReportPlan.
type PlanSection struct {
	// Key is the template section key used for validation.
	Key string `json:"key" yaml:"key"`

	// Title is the display label rendered as the section header.
	Title string `json:"title" yaml:"title"`

	// Guidance is the writing guidance for the section.
	Guidance string `json:"guidance" yaml:"guidance"`

	// Focus is the topic the section should cover.
	Focus string `json:"focus,omitempty" yaml:"focus,omitempty"`

	// Sources lists candidate source IDs for the section.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// ClaimIDs is filled by the evidence extractor.
	ClaimIDs []string `json:"claim_ids" yaml:"claim_ids"`

	// NotApplicable holds the justification when the section is a stub.
	NotApplicable string `json:"not_applicable,omitempty" yaml:"not_applicable,omitempty"`

	// UnderEvidenced marks sections whose claims lack strong support.
	UnderEvidenced bool   `json:"under_evidenced,omitempty" yaml:"under_evidenced,omitempty"`
	Annotation     string `json:"annotation,omitempty" yaml:"annotation,omitempty"`
}

// ReportPlan is the section-ordered content outline.
type ReportPlan struct {
	Template string        `json:"template" yaml:"template"`
	Sections []PlanSection `json:"sections" yaml:"sections"`
}

// Keys returns the section keys in order.
func (p ReportPlan) Keys() []string {
	keys := make([]string, len(p.Sections))
	for i, s := range p.Sections {
		keys[i] = s.Key
	}
	return keys
}

// Section returns the plan section with the given key.
func (p ReportPlan) Section(key string) (PlanSection, bool) {
	for _, s := range p.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return PlanSection{}, false
}

// Clone returns a deep copy of the plan.
func (p ReportPlan) Clone() ReportPlan {
	out := ReportPlan{Template: p.Template, Sections: make([]PlanSection, len(p.Sections))}
	for i, s := range p.Sections {
		s.Sources = append([]string(nil), s.Sources...)
		s.ClaimIDs = append([]string(nil), s.ClaimIDs...)
		out.Sections[i] = s
	}
	return out
}
