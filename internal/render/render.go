// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package render writes the final report and the archive index of a run.
package render

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/internal/artifact"
	"github.com/pdiddy/report-engine/internal/repair"
	"github.com/pdiddy/report-engine/pkg/types"
)

// Meta is the front matter rendered at the top of report.md.
type Meta struct {
	RunID        string `yaml:"run_id"`
	Template     string `yaml:"template"`
	Base         string `yaml:"template_base,omitempty"`
	DraftVersion int    `yaml:"draft_version"`
	Language     string `yaml:"language,omitempty"`
	Claims       int    `yaml:"claims"`
	EvidenceGaps int    `yaml:"evidence_gaps"`
	Alignment    *int   `yaml:"alignment_score,omitempty"`
}

// Report renders d as Markdown with a YAML front matter block.
func Report(d types.Draft, meta Meta) (string, error) {
	fm, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshaling front matter: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")
	b.WriteString(repair.Render(d))
	return b.String(), nil
}

// ArchiveIndex lists every run artifact key followed by the archive files
// the source index references, one path per line.
func ArchiveIndex(keys []string, idx types.SourceIndex) string {
	run := dedupe(keys)
	var src []string
	for _, r := range idx.Records {
		if r.TextPath != "" {
			src = append(src, r.TextPath)
		}
		if r.OriginalPath != "" {
			src = append(src, r.OriginalPath)
		}
	}
	src = dedupe(src)

	var buf bytes.Buffer
	for _, k := range run {
		buf.WriteString(k + "\n")
	}
	for _, p := range src {
		buf.WriteString(p + "\n")
	}
	return buf.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Write commits report.md and archive-index.txt. The index lists every file
// in the run directory, including itself.
func Write(store *artifact.Store, d types.Draft, meta Meta, idx types.SourceIndex) ([]string, error) {
	report, err := Report(d, meta)
	if err != nil {
		return nil, err
	}
	if err := store.Write(artifact.KeyReport, []byte(report)); err != nil {
		return nil, err
	}
	keys, err := store.List()
	if err != nil {
		return nil, err
	}
	keys = append(keys, artifact.KeyArchiveIndex)
	if err := store.Write(artifact.KeyArchiveIndex, []byte(ArchiveIndex(keys, idx))); err != nil {
		return nil, err
	}
	return []string{artifact.KeyReport, artifact.KeyArchiveIndex}, nil
}
