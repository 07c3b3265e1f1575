// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package repair

import (
	"strings"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Parse reads a Markdown draft. The first level-1 heading is the title,
// text before the first level-2 heading is the preamble, and each level-2
// heading opens a section. Headings inside fenced code blocks are ignored.
// Section keys are left empty; Repair resolves them against a template.
func Parse(md string) types.Draft {
	var d types.Draft
	var cur *types.DraftSection
	var body []string
	inFence := false

	flush := func() {
		text := strings.Trim(strings.Join(body, "\n"), "\n")
		if cur == nil {
			d.Preamble = text
		} else {
			cur.Body = text
			d.Sections = append(d.Sections, *cur)
		}
		body = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		switch {
		case !inFence && strings.HasPrefix(trimmed, "# ") && d.Title == "" && cur == nil && strings.TrimSpace(strings.Join(body, "")) == "":
			d.Title = strings.TrimSpace(trimmed[2:])
			continue
		case !inFence && strings.HasPrefix(trimmed, "## "):
			flush()
			cur = &types.DraftSection{Title: strings.TrimSpace(trimmed[3:])}
			continue
		}
		body = append(body, strings.TrimRight(line, " \t"))
	}
	flush()
	return d
}

// Render writes the draft as Markdown. Parse(Render(d)) yields d apart from
// section keys.
func Render(d types.Draft) string {
	var b strings.Builder
	if d.Title != "" {
		b.WriteString("# " + d.Title + "\n\n")
	}
	if d.Preamble != "" {
		b.WriteString(d.Preamble + "\n\n")
	}
	for _, s := range d.Sections {
		b.WriteString("## " + s.Title + "\n\n")
		if s.Body != "" {
			b.WriteString(s.Body + "\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
