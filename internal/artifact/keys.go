// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Artifact keys within a run directory.
const (
	KeyLedger         = "ledger.yaml"
	KeySources        = "index/sources.jsonl"
	KeyExclusions     = "index/exclusions.yaml"
	KeyScoutPlan      = "notes/scout.yaml"
	KeyScoutNotes     = "notes/scout.md"
	KeyClarifications = "notes/clarifications.yaml"
	KeyAlignScout     = "notes/alignment-scout.yaml"
	KeyAlignFinal     = "notes/alignment-final.yaml"
	KeyTemplate       = "plan/template.yaml"
	KeyReportPlan     = "plan/report-plan.yaml"
	KeyFetchReport    = "supporting/fetch-report.yaml"
	KeyClaims         = "evidence/claims.yaml"
	KeyClaimMap       = "evidence/claim-map.md"
	KeyGapReport      = "evidence/gap-report.md"
	KeyEvidenceNotes  = "evidence/notes.md"
	KeyFinalDraft     = "drafts/final.md"
	KeyLoopHistory    = "critique/history.yaml"
	KeyReport         = "report.md"
	KeyArchiveIndex   = "archive-index.txt"

	// SupportingDir is the root of web fetch outputs.
	SupportingDir = "supporting"
)

// DraftKey returns the key of draft version v.
func DraftKey(v int) string { return fmt.Sprintf("drafts/v%d.md", v) }

// RepairedKey returns the key of draft version v after structural repair.
func RepairedKey(v int) string { return fmt.Sprintf("drafts/v%d-repaired.md", v) }

// CritiqueKey returns the key of the critique produced in loop round r.
func CritiqueKey(r int) string { return fmt.Sprintf("critique/critique-r%d.yaml", r) }

// PairwiseKey returns the key of the comparison that evaluated candidate v.
func PairwiseKey(v int) string { return fmt.Sprintf("critique/pairwise-v%d.yaml", v) }

// StateKey returns the key of a stage's serialized increment.
func StateKey(stage string) string { return "state/" + stage + ".yaml" }

// SearchKey returns the key of raw search results for a query.
func SearchKey(query string) string {
	return SupportingDir + "/" + uniqueSlug(query) + "/search.json"
}

// ExtractKey returns the key of an extracted supporting document.
func ExtractKey(id string) string {
	return SupportingDir + "/extracts/" + uniqueSlug(id) + ".md"
}

// uniqueSlug suffixes the slug of s with a short hash of s, so inputs that
// differ only in punctuation or case get distinct keys.
func uniqueSlug(s string) string {
	sum := sha256.Sum256([]byte(s))
	return Slug(s) + "-" + hex.EncodeToString(sum[:4])
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts s to a lowercase, hyphenated path segment of at most 60 bytes.
func Slug(s string) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}
