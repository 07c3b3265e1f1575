// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package triage

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/report-engine/pkg/types"
)

// indexFile is the per-origin sub-index written by each connector.
const indexFile = "index.jsonl"

// maxTextBytes bounds how much extracted text is read per record.
const maxTextBytes = 256 << 10

// LoadArchive reads <dir>/<origin>/index.jsonl for every known origin, in
// canonical origin order. A missing sub-index is recorded in Missing, not
// treated as an error. A malformed line fails with types.ErrMalformedArtifact.
func LoadArchive(dir string) (types.RunArchive, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return types.RunArchive{}, fmt.Errorf("opening run archive: %w", err)
	}
	if !info.IsDir() {
		return types.RunArchive{}, fmt.Errorf("run archive %s is not a directory", dir)
	}

	archive := types.RunArchive{Dir: dir}
	for _, origin := range types.Origins {
		path := filepath.Join(dir, string(origin), indexFile)
		records, err := readSubIndex(path, origin)
		if errors.Is(err, os.ErrNotExist) {
			archive.Missing = append(archive.Missing, origin)
			continue
		}
		if err != nil {
			return types.RunArchive{}, err
		}
		archive.Records = append(archive.Records, records...)
	}

	archive.ID = Identity(archive)
	return archive, nil
}

func readSubIndex(path string, origin types.Origin) ([]types.SourceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []types.SourceRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r types.SourceRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", types.ErrMalformedArtifact, path, line, err)
		}
		if r.ID == "" {
			return nil, fmt.Errorf("%w: %s line %d: record has no id", types.ErrMalformedArtifact, path, line)
		}
		if !r.Origin.Valid() {
			r.Origin = origin
		}
		r.Relevance = 0
		r.Included = false
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// Identity returns a digest over the archive's sorted record identity lines:
// id, origin, paths and a hash of the extracted text. It does not depend on
// load order or on the archive's location.
func Identity(archive types.RunArchive) string {
	lines := make([]string, 0, len(archive.Records))
	for _, r := range archive.Records {
		text, _ := ReadText(archive.Dir, r)
		lines = append(lines, strings.Join([]string{
			r.ID, string(r.Origin), r.URL, r.TextPath, r.OriginalPath, r.DerivedFrom, textHash(text),
		}, "\x1f"))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, m := range archive.Missing {
		fmt.Fprintf(h, "missing:%s\n", m)
	}
	for _, l := range lines {
		io.WriteString(h, l)
		io.WriteString(h, "\n")
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ReadText returns the record's extracted text, or "" when it has none.
// Relative paths resolve against the archive directory.
func ReadText(dir string, r types.SourceRecord) (string, error) {
	if !r.HasText() {
		return "", nil
	}
	path := r.TextPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, filepath.FromSlash(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("reading text for %s: %w", r.ID, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxTextBytes))
	if err != nil {
		return "", fmt.Errorf("reading text for %s: %w", r.ID, err)
	}
	return string(data), nil
}

// textHash hashes whitespace-normalized text so that re-extractions that
// differ only in line wrapping compare equal.
func textHash(text string) string {
	if text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(strings.Fields(text), " ")))
	return fmt.Sprintf("%x", sum[:8])
}
