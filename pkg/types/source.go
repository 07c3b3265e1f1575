// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the report-engine workflow:
// the collected source inventory, intermediate artifacts threaded between
// stages (scout plans, claims, report plans, drafts, critiques), the workflow
// ledger, templates, and the resolved run configuration.
package types

import (
	"sort"
	"time"
)

// Origin identifies which connector produced a SourceRecord. The set is closed.
type Origin string

const (
	OriginAcademic   Origin = "academic-metadata"
	OriginWebSearch  Origin = "web-search-result"
	OriginWebExtract Origin = "web-extract"
	OriginVideo      Origin = "video-metadata"
	OriginLocalFile  Origin = "local-file"
)

// Origins lists every origin in canonical order. Sub-indices are loaded and
// reported in this order so triage output never depends on directory listing.
var Origins = []Origin{
	OriginAcademic,
	OriginWebSearch,
	OriginWebExtract,
	OriginVideo,
	OriginLocalFile,
}

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	for _, known := range Origins {
		if o == known {
			return true
		}
	}
	return false
}

// SourceRecord is one collected document. Records are created by connectors
// during ingestion; the workflow core only reads and re-ranks them.
type SourceRecord struct {
	// ID is the stable per-record identifier assigned by the connector.
	ID string `json:"id" yaml:"id"`

	// Origin is the connector family that produced the record.
	Origin Origin `json:"origin" yaml:"origin"`

	// Title is the document title.
	Title string `json:"title" yaml:"title"`

	// URL is the origin URL of the document, when one exists.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Timestamp is the publication or collection time.
	Timestamp time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`

	// Snippet is the abstract, search snippet, or video description.
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"`

	// TextPath is the path to the extracted-text form, relative to the archive.
	TextPath string `json:"text_path,omitempty" yaml:"text_path,omitempty"`

	// OriginalPath is the path to the raw artifact, relative to the archive.
	OriginalPath string `json:"original_path,omitempty" yaml:"original_path,omitempty"`

	// DerivedFrom names the primary record this record was extracted from
	// (e.g. the text extraction of an academic PDF). Empty for primaries.
	DerivedFrom string `json:"derived_from,omitempty" yaml:"derived_from,omitempty"`

	// Relevance is a score between 0.0 and 1.0 assigned during triage.
	Relevance float64 `json:"relevance" yaml:"relevance"`

	// Included is false when triage excluded the record.
	Included bool `json:"included" yaml:"included"`
}

// HasText reports whether the record carries an extracted-text form.
func (r SourceRecord) HasText() bool {
	return r.TextPath != ""
}

// IsDerived reports whether the record is an extraction of another record.
func (r SourceRecord) IsDerived() bool {
	return r.DerivedFrom != ""
}

// Exclusion reasons recorded by triage and scout.
const (
	ExcludeDuplicate           = "duplicate"
	ExcludeDuplicateExtraction = "duplicate-extraction-of-primary"
	ExcludeOffTopic            = "off-topic"
	ExcludeNoContent           = "no-content"
	ExcludeOverCap             = "over-cap"
	ExcludeNotPrioritized      = "not-prioritized"
)

// Exclusion records why a source was left out, so nothing is omitted silently.
type Exclusion struct {
	SourceID string `json:"source_id" yaml:"source_id"`
	Reason   string `json:"reason" yaml:"reason"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// CoverageGap records an expected input that was absent for the run, such as
// a missing sub-index or an unavailable provider. It is not an error.
type CoverageGap struct {
	Origin Origin `json:"origin,omitempty" yaml:"origin,omitempty"`
	Reason string `json:"reason" yaml:"reason"`
}

// RunArchive is the closed set of documents collected for one instruction
// execution. It is immutable once loaded.
type RunArchive struct {
	// ID is a content digest over the archive's records.
	ID string `json:"id" yaml:"id"`

	// Dir is the archive root directory.
	Dir string `json:"dir" yaml:"dir"`

	// Records lists every record found across sub-indices, in load order.
	Records []SourceRecord `json:"records" yaml:"records"`

	// Missing lists origins whose sub-index was not present.
	Missing []Origin `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// SourceIndex is the triaged catalog of the archive: deduplicated, ranked,
// and partitioned into included and excluded records.
type SourceIndex struct {
	ArchiveID  string         `json:"archive_id" yaml:"archive_id"`
	Records    []SourceRecord `json:"records" yaml:"records"`
	Exclusions []Exclusion    `json:"exclusions,omitempty" yaml:"exclusions,omitempty"`
	Coverage   []CoverageGap  `json:"coverage,omitempty" yaml:"coverage,omitempty"`
}

// Included returns the in-scope records in rank order.
func (idx SourceIndex) Included() []SourceRecord {
	var out []SourceRecord
	for _, r := range idx.Records {
		if r.Included {
			out = append(out, r)
		}
	}
	return out
}

// Lookup returns the record with the given ID.
func (idx SourceIndex) Lookup(id string) (SourceRecord, bool) {
	for _, r := range idx.Records {
		if r.ID == id {
			return r, true
		}
	}
	return SourceRecord{}, false
}

// CountByOrigin returns the number of included records per origin.
func (idx SourceIndex) CountByOrigin() map[Origin]int {
	counts := make(map[Origin]int)
	for _, r := range idx.Records {
		if r.Included {
			counts[r.Origin]++
		}
	}
	return counts
}

// SortRecords orders records by descending relevance, then origin order,
// then ID. Included records sort ahead of excluded ones.
func SortRecords(records []SourceRecord) {
	rank := make(map[Origin]int, len(Origins))
	for i, o := range Origins {
		rank[o] = i
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Included != b.Included {
			return a.Included
		}
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if rank[a.Origin] != rank[b.Origin] {
			return rank[a.Origin] < rank[b.Origin]
		}
		return a.ID < b.ID
	})
}
