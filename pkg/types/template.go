// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// TemplateSection is one required section of a report template.
type TemplateSection struct {
	// Key is the stable identifier used for validation and bookkeeping.
	Key string `json:"key" yaml:"key"`

	// Title is the display label.
	Title string `json:"title" yaml:"title"`

	// Guidance is the per-section writer guidance.
	Guidance string `json:"guidance" yaml:"guidance"`

	// Aliases are alternative header labels accepted by structural repair.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Template is a named, versioned report structure. It is validated once at
// load time and read-only thereafter.
type Template struct {
	Name     string            `json:"name" yaml:"name"`
	Version  string            `json:"version" yaml:"version"`
	Sections []TemplateSection `json:"sections" yaml:"sections"`

	// WriterGuidance holds global directives applied to every section.
	WriterGuidance []string `json:"writer_guidance,omitempty" yaml:"writer_guidance,omitempty"`

	// Base names the template this one was reconciled from, when adjusted.
	Base string `json:"base,omitempty" yaml:"base,omitempty"`

	// Adjustments records the changes applied by the template adjuster.
	Adjustments []TemplateAdjustment `json:"adjustments,omitempty" yaml:"adjustments,omitempty"`
}

// Keys returns section keys in template order.
func (t Template) Keys() []string {
	keys := make([]string, len(t.Sections))
	for i, s := range t.Sections {
		keys[i] = s.Key
	}
	return keys
}

// Section returns the template section with the given key.
func (t Template) Section(key string) (TemplateSection, bool) {
	for _, s := range t.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return TemplateSection{}, false
}

// Clone returns a deep copy of the template.
func (t Template) Clone() Template {
	out := t
	out.Sections = make([]TemplateSection, len(t.Sections))
	for i, s := range t.Sections {
		s.Aliases = append([]string(nil), s.Aliases...)
		out.Sections[i] = s
	}
	out.WriterGuidance = append([]string(nil), t.WriterGuidance...)
	out.Adjustments = append([]TemplateAdjustment(nil), t.Adjustments...)
	return out
}

// AdjustmentKind enumerates template adjuster operations.
type AdjustmentKind string

const (
	AdjustAdd      AdjustmentKind = "add"
	AdjustRemove   AdjustmentKind = "remove"
	AdjustRename   AdjustmentKind = "rename"
	AdjustOverride AdjustmentKind = "override"
)

// TemplateAdjustment is one recorded change against the base template.
type TemplateAdjustment struct {
	Kind      AdjustmentKind `json:"kind" yaml:"kind"`
	Key       string         `json:"key" yaml:"key"`
	Value     string         `json:"value,omitempty" yaml:"value,omitempty"`
	Rationale string         `json:"rationale" yaml:"rationale"`
}
