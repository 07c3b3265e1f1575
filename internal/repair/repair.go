// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package repair normalizes a draft so that its section headers are exactly
// the template's required sections, in template order, with no duplicates
// or orphans. Only headers and ordering change; section bodies are kept
// (merged or demoted when their header has to go).
package repair

import (
	"fmt"
	"strings"

	"github.com/pdiddy/report-engine/internal/templates"
	"github.com/pdiddy/report-engine/pkg/types"
)

// StubBody fills a required section the draft never produced.
const StubBody = "_This section could not be drafted from the available evidence._"

// Repair returns the normalized draft and a description of each change.
// Repairing an already repaired draft changes nothing. An empty draft is a
// types.ErrStructuralViolation.
func Repair(d types.Draft, tmpl types.Template) (types.Draft, []string, error) {
	if d.Empty() {
		return types.Draft{}, nil, fmt.Errorf("%w: draft v%d is empty", types.ErrStructuralViolation, d.Version)
	}
	out := d.Clone()
	out.Sections = nil
	var changes []string

	bodies := make(map[string]string)
	var lastKey string
	for _, s := range d.Sections {
		key := resolve(tmpl, s)
		if key == "" {
			changes = append(changes, fmt.Sprintf("demoted orphan header %q", s.Title))
			demoted := joinBody("**"+s.Title+"**", s.Body)
			if lastKey == "" {
				out.Preamble = joinBody(out.Preamble, demoted)
			} else {
				bodies[lastKey] = joinBody(bodies[lastKey], demoted)
			}
			continue
		}
		if ts, _ := tmpl.Section(key); s.Title != ts.Title {
			changes = append(changes, fmt.Sprintf("relabeled %q as %q", s.Title, ts.Title))
		}
		if prev, dup := bodies[key]; dup {
			changes = append(changes, fmt.Sprintf("merged duplicate section %q", key))
			bodies[key] = joinBody(prev, s.Body)
		} else {
			bodies[key] = s.Body
		}
		lastKey = key
	}

	var order []string
	for _, s := range d.Sections {
		if k := resolve(tmpl, s); k != "" && !contains(order, k) {
			order = append(order, k)
		}
	}
	if !inTemplateOrder(order, tmpl.Keys()) {
		changes = append(changes, "reordered sections to template order")
	}

	for _, ts := range tmpl.Sections {
		body, ok := bodies[ts.Key]
		if !ok {
			changes = append(changes, fmt.Sprintf("stubbed missing section %q", ts.Key))
			body = StubBody
		}
		out.Sections = append(out.Sections, types.DraftSection{Key: ts.Key, Title: ts.Title, Body: body})
	}
	if err := Validate(out, tmpl); err != nil {
		return types.Draft{}, changes, err
	}
	return out, changes, nil
}

// Validate checks that the draft's section keys and titles are exactly the
// template's, in order.
func Validate(d types.Draft, tmpl types.Template) error {
	if len(d.Sections) != len(tmpl.Sections) {
		return fmt.Errorf("%w: draft has %d sections, template %q requires %d",
			types.ErrStructuralViolation, len(d.Sections), tmpl.Name, len(tmpl.Sections))
	}
	for i, ts := range tmpl.Sections {
		s := d.Sections[i]
		if s.Key != ts.Key || s.Title != ts.Title {
			return fmt.Errorf("%w: section %d is %q (%s), want %q (%s)",
				types.ErrStructuralViolation, i+1, s.Title, s.Key, ts.Title, ts.Key)
		}
	}
	return nil
}

// resolve keeps a section key the template knows and otherwise maps the
// header label through the template's titles and aliases.
func resolve(tmpl types.Template, s types.DraftSection) string {
	if s.Key != "" {
		if _, ok := tmpl.Section(s.Key); ok {
			return s.Key
		}
	}
	key, _ := templates.Resolve(tmpl, s.Title)
	return key
}

func inTemplateOrder(order, keys []string) bool {
	pos := make(map[string]int, len(keys))
	for i, k := range keys {
		pos[k] = i
	}
	for i := 1; i < len(order); i++ {
		if pos[order[i]] < pos[order[i-1]] {
			return false
		}
	}
	return true
}

func joinBody(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
