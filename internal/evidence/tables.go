// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"fmt"
	"strings"

	"github.com/pdiddy/report-engine/internal/format"
	"github.com/pdiddy/report-engine/pkg/types"
)

const claimCellWidth = 100

// ClaimMap renders the claim → evidence → strength → flags table.
func ClaimMap(claims []types.Claim) string {
	t := format.NewTable(format.Markdown)
	t.Header("Claim", "Section", "Text", "Evidence", "Strength", "Flags")
	for _, c := range claims {
		t.Row(c.ID, c.Section, format.Cell(format.Truncate(c.Text, claimCellWidth)),
			evidenceCell(c.Evidence), string(c.Strength), flagsCell(c.Flags))
	}
	return "# Claim Map\n\n" + t.String() + "\n"
}

// GapTable renders the gap report, noting truncation at the display cap.
func GapTable(g types.GapReport) string {
	var b strings.Builder
	b.WriteString("# Gap Report\n\n")
	if g.Total == 0 {
		b.WriteString("Every claim is bound to at least one source.\n")
		return b.String()
	}
	t := format.NewTable(format.Markdown)
	t.Header("Claim", "Section", "Text")
	for _, c := range g.Claims {
		t.Row(c.ID, c.Section, format.Cell(format.Truncate(c.Text, claimCellWidth)))
	}
	b.WriteString(t.String() + "\n")
	if g.Truncated {
		fmt.Fprintf(&b, "\n_Showing %d of %d claims without evidence (display cap %d)._\n", len(g.Claims), g.Total, g.Cap)
	}
	return b.String()
}

// Notes renders the narrative evidence notes.
func Notes(res Result) string {
	var b strings.Builder
	b.WriteString("# Evidence Notes\n\n")
	counts := map[types.Strength]int{}
	for _, c := range res.Claims {
		counts[c.Strength]++
	}
	fmt.Fprintf(&b, "%d claims: %d high, %d low, %d without evidence.\n",
		len(res.Claims), counts[types.StrengthHigh], counts[types.StrengthLow], counts[types.StrengthNone])
	if res.Heuristic {
		b.WriteString("\nClaims were bound by keyword overlap without a model.\n")
	}

	var under []string
	for _, s := range res.Plan.Sections {
		if s.UnderEvidenced {
			under = append(under, fmt.Sprintf("- **%s**: %s", s.Title, s.Annotation))
		}
	}
	if len(under) > 0 {
		b.WriteString("\n## Under-evidenced Sections\n\n")
		b.WriteString(strings.Join(under, "\n") + "\n")
	}
	if len(res.Notes) > 0 {
		b.WriteString("\n## Extraction Notes\n\n")
		for _, n := range res.Notes {
			b.WriteString("- " + n + "\n")
		}
	}
	return b.String()
}

func evidenceCell(refs []types.EvidenceRef) string {
	if len(refs) == 0 {
		return "none"
	}
	parts := make([]string, len(refs))
	for i, r := range refs {
		p := fmt.Sprintf("%s (%s", r.SourceID, r.Provenance)
		if r.Locator != nil && r.Locator.Line > 0 {
			p += fmt.Sprintf(", line %d", r.Locator.Line)
		}
		if r.Locator != nil && r.Locator.Page > 0 {
			p += fmt.Sprintf(", p. %d", r.Locator.Page)
		}
		parts[i] = p + ")"
	}
	return strings.Join(parts, "; ")
}

func flagsCell(flags []types.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}
