// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package evidence

import (
	"fmt"
	"strings"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Passage is one sentence of source text with its locator.
type Passage struct {
	SourceID   string
	Provenance types.Provenance
	Path       string
	Line       int
	Page       int
	Heading    string
	Text       string
}

// Locator returns the passage anchor.
func (p Passage) Locator() *types.Locator {
	return &types.Locator{Path: p.Path, Line: p.Line, Page: p.Page, Excerpt: p.Text}
}

// minSentenceRunes drops fragments too short to assert anything.
const minSentenceRunes = 24

// SplitText breaks extracted text into sentence passages. Headings (## and
// ###) and page markers (<!-- page N -->) are tracked so that each passage
// carries its line, page and enclosing heading.
func SplitText(sourceID, path, content string) []Passage {
	var out []Passage
	heading := ""
	page := 0
	inFence := false
	for i, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" {
			continue
		}
		if p, ok := parsePageMarker(trimmed); ok {
			page = p
			continue
		}
		if isHeading(trimmed) {
			heading = strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			continue
		}
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "|") {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, "-*> ")
		for _, s := range sentences(trimmed) {
			out = append(out, Passage{
				SourceID:   sourceID,
				Provenance: types.ProvenancePrimary,
				Path:       path,
				Line:       i + 1,
				Page:       page,
				Heading:    heading,
				Text:       s,
			})
		}
	}
	return out
}

// SplitSnippet breaks a metadata snippet (abstract, description) into
// metadata-provenance passages.
func SplitSnippet(sourceID, snippet string) []Passage {
	var out []Passage
	for _, s := range sentences(strings.Join(strings.Fields(snippet), " ")) {
		out = append(out, Passage{SourceID: sourceID, Provenance: types.ProvenanceMetadata, Text: s})
	}
	return out
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ") || strings.HasPrefix(line, "### ")
}

func parsePageMarker(line string) (int, bool) {
	if !strings.HasPrefix(line, "<!-- page ") || !strings.HasSuffix(line, " -->") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "<!-- page "), " -->")
	var page int
	if _, err := fmt.Sscanf(inner, "%d", &page); err != nil {
		return 0, false
	}
	return page, true
}

// sentences splits on terminal punctuation followed by a space and an
// upper-case letter or digit, which keeps "e.g. lithium" and "3.5 V" whole.
func sentences(text string) []string {
	r := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(r); i++ {
		if r[i] != '.' && r[i] != '!' && r[i] != '?' {
			continue
		}
		if i+2 < len(r) && r[i+1] == ' ' && isSentenceStart(r[i+2]) {
			out = appendSentence(out, string(r[start:i+1]))
			start = i + 2
		}
	}
	return appendSentence(out, string(r[start:]))
}

func isSentenceStart(c rune) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func appendSentence(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) < minSentenceRunes {
		return out
	}
	return append(out, s)
}

// best returns the passage with the highest topic overlap and its score.
func best(terms []string, passages []Passage) (Passage, float64) {
	var top Passage
	score := 0.0
	for _, p := range passages {
		if s := instruction.Overlap(terms, p.Text); s > score {
			top, score = p, s
		}
	}
	return top, score
}
