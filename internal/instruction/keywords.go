// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package instruction

import (
	"strings"
	"unicode"
)

// maxTopics caps the number of topics drawn from an instruction.
const maxTopics = 24

var stopWords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "against": true, "all": true,
	"also": true, "and": true, "any": true, "are": true, "because": true, "been": true,
	"before": true, "being": true, "between": true, "both": true, "but": true, "can": true,
	"could": true, "did": true, "does": true, "doing": true, "during": true, "each": true,
	"few": true, "for": true, "from": true, "further": true, "had": true, "has": true,
	"have": true, "having": true, "her": true, "here": true, "his": true, "how": true,
	"into": true, "its": true, "just": true, "more": true, "most": true, "must": true,
	"not": true, "now": true, "off": true, "once": true, "only": true, "other": true,
	"our": true, "out": true, "over": true, "own": true, "same": true, "should": true,
	"some": true, "such": true, "than": true, "that": true, "the": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "too": true, "under": true, "until": true, "very": true,
	"was": true, "were": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "who": true, "whom": true, "why": true, "will": true, "with": true,
	"would": true, "you": true, "your": true, "please": true, "report": true, "write": true,
	"include": true, "including": true, "focus": true, "cover": true, "provide": true,
	"summarize": true, "summary": true, "section": true, "sections": true, "research": true,
	"using": true, "use": true, "want": true, "need": true, "like": true, "make": true,
}

// Tokens splits text into lowercase word tokens of at least three characters.
// Hyphens inside words are kept.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// Keywords returns the distinct non-stop-word tokens of text in order of
// first appearance, capped at 24.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokens(text) {
		if stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) == maxTopics {
			break
		}
	}
	return out
}

// Overlap returns the fraction of topics that occur among text's tokens.
func Overlap(topics []string, text string) float64 {
	if len(topics) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, tok := range Tokens(text) {
		have[tok] = true
	}
	hits := 0
	for _, t := range topics {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(topics))
}

// Matches returns the topics that occur among text's tokens, in topic order.
func Matches(topics []string, text string) []string {
	have := make(map[string]bool)
	for _, tok := range Tokens(text) {
		have[tok] = true
	}
	var out []string
	for _, t := range topics {
		if have[t] {
			out = append(out, t)
		}
	}
	return out
}
