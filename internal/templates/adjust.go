// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package templates

import (
	"fmt"
	"sort"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Adjustment outcome notes recorded in the ledger.
const (
	noteUnknownRename = "rename ignored: no section %q"
	noteUnknownDrop   = "drop ignored: no section %q"
)

// Adjust reconciles base against the instruction's section requests and
// returns a new template plus ledger notes. base is not modified.
//
// Section hints override guidance on matching sections and add sections the
// template lacks, ahead of a trailing references section. Renames change only
// the display title; keys stay stable for downstream validation. A section is
// removed only by an explicit drop, which must carry a rationale.
func Adjust(base types.Template, in types.Instruction) (types.Template, []string, error) {
	out := base.Clone()
	out.Base = base.Name
	var notes []string

	for _, hint := range in.Sections {
		key, ok := Resolve(out, hint.Name)
		if ok {
			if hint.Hint == "" {
				continue
			}
			i := indexOf(out, key)
			out.Sections[i].Guidance = hint.Hint
			out.Adjustments = append(out.Adjustments, types.TemplateAdjustment{
				Kind: types.AdjustOverride, Key: key, Value: hint.Hint,
				Rationale: "guidance supplied by instruction",
			})
			continue
		}

		key = Normalize(hint.Name)
		if key == "" {
			notes = append(notes, fmt.Sprintf("section hint %q ignored: empty key", hint.Name))
			continue
		}
		guidance := hint.Hint
		if guidance == "" {
			guidance = "Cover " + hint.Name + " as requested."
		}
		insertSection(&out, types.TemplateSection{Key: key, Title: hint.Name, Guidance: guidance})
		out.Adjustments = append(out.Adjustments, types.TemplateAdjustment{
			Kind: types.AdjustAdd, Key: key, Value: hint.Name,
			Rationale: "section requested by instruction",
		})
	}

	for _, key := range sortedKeys(in.Renames) {
		label := in.Renames[key]
		i := indexOf(out, key)
		if i < 0 {
			notes = append(notes, fmt.Sprintf(noteUnknownRename, key))
			continue
		}
		prev := out.Sections[i].Title
		out.Sections[i].Title = label
		out.Sections[i].Aliases = append(out.Sections[i].Aliases, prev)
		out.Adjustments = append(out.Adjustments, types.TemplateAdjustment{
			Kind: types.AdjustRename, Key: key, Value: label,
			Rationale: fmt.Sprintf("display label %q replaces %q", label, prev),
		})
	}

	for _, d := range in.Drops {
		if d.Rationale == "" {
			return types.Template{}, nil, fmt.Errorf("drop of section %q has no rationale", d.Key)
		}
		i := indexOf(out, d.Key)
		if i < 0 {
			notes = append(notes, fmt.Sprintf(noteUnknownDrop, d.Key))
			continue
		}
		out.Sections = append(out.Sections[:i], out.Sections[i+1:]...)
		out.Adjustments = append(out.Adjustments, types.TemplateAdjustment{
			Kind: types.AdjustRemove, Key: d.Key, Rationale: d.Rationale,
		})
	}

	if err := Validate(out); err != nil {
		return types.Template{}, nil, fmt.Errorf("adjusted template: %w", err)
	}
	return out, notes, nil
}

func indexOf(t types.Template, key string) int {
	for i, s := range t.Sections {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// insertSection places s before a final references section, or at the end.
func insertSection(t *types.Template, s types.TemplateSection) {
	n := len(t.Sections)
	if n > 0 && t.Sections[n-1].Key == "references" {
		t.Sections = append(t.Sections[:n-1], s, t.Sections[n-1])
		return
	}
	t.Sections = append(t.Sections, s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
