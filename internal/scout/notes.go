// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scout

import (
	"fmt"
	"strings"

	"github.com/pdiddy/report-engine/pkg/types"
)

// RenderNotes renders the plan as a narrative reading list.
func RenderNotes(plan types.ScoutPlan, idx types.SourceIndex) string {
	var b strings.Builder
	b.WriteString("# Scout Notes\n\n")
	if plan.Heuristic {
		b.WriteString("_Ranked by relevance; no model was consulted._\n\n")
	}
	b.WriteString("## Reading Plan\n\n")
	if len(plan.Entries) == 0 {
		b.WriteString("No sources in scope.\n")
	}
	for _, e := range plan.Entries {
		title := e.SourceID
		if r, ok := idx.Lookup(e.SourceID); ok && r.Title != "" {
			title = r.Title
		}
		fmt.Fprintf(&b, "%d. **%s** (`%s`, effort %s): %s\n", e.PriorityRank, title, e.SourceID, e.EstimatedEffort, e.Rationale)
	}
	if len(plan.Exclusions) > 0 {
		b.WriteString("\n## Not Planned\n\n")
		for _, x := range plan.Exclusions {
			line := fmt.Sprintf("- `%s`: %s", x.SourceID, x.Reason)
			if x.Detail != "" {
				line += " (" + x.Detail + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	if len(idx.Coverage) > 0 {
		b.WriteString("\n## Coverage Gaps\n\n")
		for _, g := range idx.Coverage {
			fmt.Fprintf(&b, "- %s: %s\n", g.Origin, g.Reason)
		}
	}
	return b.String()
}
