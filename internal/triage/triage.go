// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package triage builds the source index: a deduplicated, ranked catalog of
// every archived document partitioned into in-scope records and explicit
// exclusions. Output depends only on archive content and the instruction,
// never on map or directory iteration order, so downstream caching stays
// valid.
package triage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pdiddy/report-engine/internal/instruction"
	"github.com/pdiddy/report-engine/pkg/types"
)

// snippetWindow is the number of leading text bytes scored for relevance.
const snippetWindow = 4096

// hintBias maps instruction hint tags to the origins they favor.
var hintBias = map[string][]types.Origin{
	"peer-reviewed": {types.OriginAcademic},
	"academic":      {types.OriginAcademic},
	"scholarly":     {types.OriginAcademic},
	"news":          {types.OriginWebSearch, types.OriginWebExtract},
	"web":           {types.OriginWebSearch, types.OriginWebExtract},
	"video":         {types.OriginVideo},
	"local":         {types.OriginLocalFile},
}

// Triage builds the source index for archive. extra records (supporting
// evidence fetched during the run) are triaged together with the archive's
// own records; the index keeps the archive's identity.
func Triage(archive types.RunArchive, in types.Instruction, opts types.TriageOptions, extra ...types.SourceRecord) types.SourceIndex {
	records := append(append([]types.SourceRecord(nil), archive.Records...), extra...)
	idx := types.SourceIndex{ArchiveID: archive.ID, Coverage: coverage(archive)}

	named := namedSet(in)
	bias := originBias(in.Hints)

	byID := make(map[string]int)
	byURL := make(map[string]string)
	extractions := make(map[string]map[string]string) // primary -> text hash -> first id

	for _, r := range records {
		r.Included = true
		r.Relevance = 0

		if _, dup := byID[r.ID]; dup {
			idx.Exclusions = append(idx.Exclusions, types.Exclusion{
				SourceID: r.ID, Reason: types.ExcludeDuplicate,
				Detail: fmt.Sprintf("repeated id in %s sub-index", r.Origin),
			})
			continue
		}

		text, textErr := ReadText(archive.Dir, r)
		reason, detail := "", ""

		if key := normalizeURL(r.URL); key != "" && !r.IsDerived() {
			if first, seen := byURL[key]; seen {
				reason, detail = types.ExcludeDuplicate, "same URL as "+first
			} else {
				byURL[key] = r.ID
			}
		}

		if reason == "" && r.IsDerived() && text != "" {
			h := textHash(text)
			seen := extractions[r.DerivedFrom]
			if seen == nil {
				seen = make(map[string]string)
				extractions[r.DerivedFrom] = seen
			}
			if first, ok := seen[h]; ok {
				reason, detail = types.ExcludeDuplicateExtraction, fmt.Sprintf("same text as %s (extraction of %s)", first, r.DerivedFrom)
			} else {
				seen[h] = r.ID
			}
		}

		if reason == "" && text == "" && strings.TrimSpace(r.Snippet) == "" {
			reason = types.ExcludeNoContent
			if textErr != nil {
				detail = "text file missing"
			}
		}

		if reason == "" {
			r.Relevance = score(in.Topics, r, text, bias)
			switch {
			case isNamed(named, in.Identifiers, r):
				r.Relevance = 1
			case r.IsDerived():
				// Decided against the primary once every record is known.
			case offTopic(in.Topics, r.Relevance, opts.MinRelevance):
				reason = types.ExcludeOffTopic
				detail = fmt.Sprintf("relevance %.2f below %.2f", r.Relevance, opts.MinRelevance)
			}
		}

		if reason != "" {
			r.Included = false
			idx.Exclusions = append(idx.Exclusions, types.Exclusion{SourceID: r.ID, Reason: reason, Detail: detail})
		}
		byID[r.ID] = len(idx.Records)
		idx.Records = append(idx.Records, r)
	}

	inheritFromPrimary(&idx, byID, func(r types.SourceRecord) bool {
		return !isNamed(named, in.Identifiers, r) && offTopic(in.Topics, r.Relevance, opts.MinRelevance)
	})
	types.SortRecords(idx.Records)
	return idx
}

// Passthrough returns an index that includes every archived record
// unranked, for runs with triage disabled. Repeated IDs are still dropped so
// that lookups stay unambiguous.
func Passthrough(archive types.RunArchive, extra ...types.SourceRecord) types.SourceIndex {
	idx := types.SourceIndex{ArchiveID: archive.ID, Coverage: coverage(archive)}
	seen := make(map[string]bool)
	for _, r := range append(append([]types.SourceRecord(nil), archive.Records...), extra...) {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		r.Included = true
		idx.Records = append(idx.Records, r)
	}
	return idx
}

// inheritFromPrimary aligns derived records with their primary: an
// extraction of an excluded primary is excluded, and an extraction of an
// included primary ranks no lower than it. Extractions whose primary is not
// in the archive are judged on their own score.
func inheritFromPrimary(idx *types.SourceIndex, byID map[string]int, isOffTopic func(types.SourceRecord) bool) {
	for i := range idx.Records {
		r := &idx.Records[i]
		if !r.IsDerived() || !r.Included {
			continue
		}
		pi, ok := byID[r.DerivedFrom]
		if !ok {
			if isOffTopic(*r) {
				r.Included = false
				idx.Exclusions = append(idx.Exclusions, types.Exclusion{
					SourceID: r.ID, Reason: types.ExcludeOffTopic,
					Detail: fmt.Sprintf("relevance %.2f, primary %s not archived", r.Relevance, r.DerivedFrom),
				})
			}
			continue
		}
		primary := idx.Records[pi]
		if !primary.Included {
			r.Included = false
			idx.Exclusions = append(idx.Exclusions, types.Exclusion{
				SourceID: r.ID, Reason: types.ExcludeOffTopic,
				Detail: "primary " + primary.ID + " excluded",
			})
			continue
		}
		if primary.Relevance > r.Relevance {
			r.Relevance = primary.Relevance
		}
	}
}

func score(topics []string, r types.SourceRecord, text string, bias map[types.Origin]float64) float64 {
	if len(text) > snippetWindow {
		text = text[:snippetWindow]
	}
	s := instruction.Overlap(topics, r.Title+"\n"+r.Snippet+"\n"+text) + bias[r.Origin]
	if s > 1 {
		s = 1
	}
	return s
}

func offTopic(topics []string, relevance, threshold float64) bool {
	return len(topics) > 0 && relevance < threshold
}

// isNamed reports whether the instruction names r by id, by URL, or by an
// identifier embedded in r's URL (e.g. a DOI).
func isNamed(named map[string]bool, identifiers []string, r types.SourceRecord) bool {
	if named[r.ID] {
		return true
	}
	key := normalizeURL(r.URL)
	if key == "" {
		return false
	}
	if named[key] {
		return true
	}
	for _, id := range identifiers {
		if id != "" && strings.Contains(strings.ToLower(key), strings.ToLower(id)) {
			return true
		}
	}
	return false
}

func originBias(hints []string) map[types.Origin]float64 {
	bias := make(map[types.Origin]float64)
	for _, h := range hints {
		for _, o := range hintBias[strings.ToLower(h)] {
			bias[o] = 0.1
		}
	}
	return bias
}

// namedSet collects record IDs and normalized URLs the instruction names
// explicitly. Named records are never excluded as off-topic.
func namedSet(in types.Instruction) map[string]bool {
	named := make(map[string]bool)
	for _, id := range in.Identifiers {
		named[id] = true
	}
	for _, u := range in.URLs {
		if k := normalizeURL(u); k != "" {
			named[k] = true
		}
	}
	return named
}

func coverage(archive types.RunArchive) []types.CoverageGap {
	var gaps []types.CoverageGap
	for _, o := range archive.Missing {
		gaps = append(gaps, types.CoverageGap{Origin: o, Reason: "sub-index missing"})
	}
	return gaps
}

// normalizeURL folds scheme, www prefix, fragment and trailing slash so that
// trivially different URLs compare equal.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
