// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// AlignmentGap is a gap or risk observation tagged with severity.
type AlignmentGap struct {
	Text     string   `json:"text" yaml:"text"`
	Severity Severity `json:"severity" yaml:"severity"`
}

// AlignmentReport scores an artifact against the instruction and the run's
// actual source inventory. It is produced twice per run.
type AlignmentReport struct {
	// Checkpoint is "scout" or "final".
	Checkpoint string `json:"checkpoint" yaml:"checkpoint"`

	// Score is between 0 and 100.
	Score int `json:"score" yaml:"score"`

	Aligned []string       `json:"aligned" yaml:"aligned"`
	Gaps    []AlignmentGap `json:"gaps" yaml:"gaps"`
	Actions []string       `json:"actions" yaml:"actions"`

	// TemplateDeclared and TemplateInForce differ when the run used a
	// template other than the one requested.
	TemplateDeclared string `json:"template_declared,omitempty" yaml:"template_declared,omitempty"`
	TemplateInForce  string `json:"template_in_force,omitempty" yaml:"template_in_force,omitempty"`
}

// HasGap reports whether any gap text contains substr.
func (r AlignmentReport) HasGap(substr string) bool {
	for _, g := range r.Gaps {
		if strings.Contains(g.Text, substr) {
			return true
		}
	}
	return false
}
