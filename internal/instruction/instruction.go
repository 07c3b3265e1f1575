// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package instruction parses free-form research instructions.
//
// An instruction is prose, optionally split by "## Heading" lines into
// per-section hints, plus directive lines starting with "@":
//
//	@query <text>             supplementary web query
//	@url <url>                source the report must consider
//	@id <identifier>          identifier (DOI, arXiv id) the report must consider
//	@template <name>          requested report template
//	@hint <tag>               source-bias hint (e.g. peer-reviewed)
//	@from YYYY-MM-DD          research window start
//	@to YYYY-MM-DD            research window end
//	@provider <name>=on|off   provider toggle
//	@rename <key>=<Label>     display label for a template section
//	@drop <key> <rationale>   remove a template section
//	@na <key> <reason>        render a section as a justified stub
package instruction

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Load reads and parses the instruction file at path.
func Load(path string) (types.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Instruction{}, fmt.Errorf("reading instruction %s: %w", path, err)
	}
	return Parse(string(data))
}

// Parse parses raw instruction text. Malformed directives are errors.
func Parse(raw string) (types.Instruction, error) {
	in := types.Instruction{Raw: raw}

	var prose []string
	var current *types.SectionHint
	var hintLines []string

	flushHint := func() {
		if current != nil {
			current.Hint = strings.TrimSpace(strings.Join(hintLines, "\n"))
			in.Sections = append(in.Sections, *current)
		}
		current = nil
		hintLines = nil
	}

	for n, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "@") {
			if err := applyDirective(&in, trimmed); err != nil {
				return types.Instruction{}, fmt.Errorf("line %d: %w", n+1, err)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "## ") {
			flushHint()
			current = &types.SectionHint{Name: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
			prose = append(prose, line)
			continue
		}

		if current != nil {
			hintLines = append(hintLines, line)
		}
		prose = append(prose, line)
	}
	flushHint()

	in.Text = strings.TrimSpace(strings.Join(prose, "\n"))
	in.Topics = Keywords(stripHeadings(in.Text))
	return in, nil
}

func applyDirective(in *types.Instruction, line string) error {
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "@"), " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return fmt.Errorf("directive @%s needs a value", name)
	}

	switch name {
	case "query":
		in.Queries = append(in.Queries, rest)
	case "url":
		in.URLs = append(in.URLs, rest)
	case "id":
		in.Identifiers = append(in.Identifiers, rest)
	case "template":
		in.Template = rest
	case "hint":
		in.Hints = append(in.Hints, rest)
	case "from", "to":
		if _, err := time.Parse("2006-01-02", rest); err != nil {
			return fmt.Errorf("directive @%s: date must be YYYY-MM-DD, got %q", name, rest)
		}
		if name == "from" {
			in.DateFrom = rest
		} else {
			in.DateTo = rest
		}
	case "provider":
		prov, state, ok := strings.Cut(rest, "=")
		if !ok {
			return fmt.Errorf("directive @provider: want name=on|off, got %q", rest)
		}
		var enabled bool
		switch strings.ToLower(strings.TrimSpace(state)) {
		case "on", "true", "yes":
			enabled = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("directive @provider: unknown state %q", state)
		}
		if in.Providers == nil {
			in.Providers = make(map[string]bool)
		}
		in.Providers[strings.ToLower(strings.TrimSpace(prov))] = enabled
	case "rename":
		key, label, ok := strings.Cut(rest, "=")
		if !ok || strings.TrimSpace(label) == "" {
			return fmt.Errorf("directive @rename: want key=Label, got %q", rest)
		}
		if in.Renames == nil {
			in.Renames = make(map[string]string)
		}
		in.Renames[strings.TrimSpace(key)] = strings.TrimSpace(label)
	case "drop":
		key, why, _ := strings.Cut(rest, " ")
		if strings.TrimSpace(why) == "" {
			return fmt.Errorf("directive @drop %s: a rationale is required", key)
		}
		in.Drops = append(in.Drops, types.SectionDrop{Key: key, Rationale: strings.TrimSpace(why)})
	case "na":
		key, why, _ := strings.Cut(rest, " ")
		if strings.TrimSpace(why) == "" {
			return fmt.Errorf("directive @na %s: a reason is required", key)
		}
		if in.NotApplicable == nil {
			in.NotApplicable = make(map[string]string)
		}
		in.NotApplicable[key] = strings.TrimSpace(why)
	default:
		return fmt.Errorf("unknown directive @%s", name)
	}
	return nil
}

func stripHeadings(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimLeft(strings.TrimSpace(l), "#")
	}
	return strings.Join(lines, "\n")
}
