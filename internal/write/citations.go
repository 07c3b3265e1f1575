// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package write

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// citationPattern matches inline citations: [key] or [key1; key2].
var citationPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// claimKeyPattern matches claim citation keys.
var claimKeyPattern = regexp.MustCompile(`^c-[0-9a-f]{12}$`)

// Citations returns the claim keys cited in text, in order of appearance.
// Bracketed text that is not a claim key (links, notes) is ignored.
func Citations(text string) []string {
	var keys []string
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		for _, p := range strings.Split(m[1], ";") {
			if key := strings.TrimSpace(p); claimKeyPattern.MatchString(key) {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// CitationSet returns the distinct cited keys, sorted.
func CitationSet(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range Citations(text) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// StripUnknown removes citation keys not in known, dropping brackets left
// empty. A space left between the text and following punctuation by a
// dropped bracket is removed too; the rest of the text is untouched. It
// returns the cleaned text and the removed keys.
func StripUnknown(text string, known map[string]bool) (string, []string) {
	var (
		removed []string
		b       strings.Builder
		last    int
	)
	for _, loc := range citationPattern.FindAllStringIndex(text, -1) {
		repl, dropped := filterCitation(text[loc[0]:loc[1]], known)
		removed = append(removed, dropped...)
		prefix := text[last:loc[0]]
		if repl == "" && (loc[1] == len(text) || strings.ContainsRune(".,;: \n", rune(text[loc[1]]))) {
			prefix = strings.TrimRight(prefix, " ")
		}
		b.WriteString(prefix)
		b.WriteString(repl)
		last = loc[1]
	}
	b.WriteString(text[last:])
	return b.String(), removed
}

// filterCitation rewrites one bracketed citation, keeping known claim keys
// and anything that is not a claim key. It returns "" when nothing is left.
func filterCitation(m string, known map[string]bool) (string, []string) {
	var keep, removed []string
	claimLike := false
	for _, p := range strings.Split(m[1:len(m)-1], ";") {
		key := strings.TrimSpace(p)
		if !claimKeyPattern.MatchString(key) {
			keep = append(keep, key)
			continue
		}
		claimLike = true
		if known[key] {
			keep = append(keep, key)
		} else {
			removed = append(removed, key)
		}
	}
	switch {
	case !claimLike || len(removed) == 0:
		return m, nil
	case len(keep) == 0:
		return "", removed
	}
	return "[" + strings.Join(keep, "; ") + "]", removed
}

// UncitedFigures returns sentences that state a number without citing a
// claim. List markers are ignored and header lines are skipped.
func UncitedFigures(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789.) "))
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ">") || strings.HasPrefix(line, "_") {
			continue
		}
		for _, s := range strings.SplitAfter(line, ". ") {
			if strings.IndexFunc(s, unicode.IsDigit) >= 0 && len(Citations(s)) == 0 {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
