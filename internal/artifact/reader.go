// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/pkg/types"
)

// Reader errors. Callers match with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Reader gives read-only access to run directories. When Catalog is set, run
// summaries and directories come from it; otherwise OutputDir is scanned.
type Reader struct {
	OutputDir string
	Catalog   *Catalog
}

// Runs lists known runs, most recently started first.
func (r *Reader) Runs(ctx context.Context) ([]RunRow, error) {
	if r.Catalog != nil {
		return r.Catalog.Runs(ctx)
	}
	entries, err := os.ReadDir(r.OutputDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading output directory: %w", err)
	}
	var out []RunRow
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(r.OutputDir, e.Name())
		info, err := os.Stat(filepath.Join(dir, KeyLedger))
		if err != nil {
			continue
		}
		row := RunRow{ID: e.Name(), Dir: dir, Status: "unknown", Updated: info.ModTime()}
		if l, err := readLedger(dir); err == nil {
			row.Status = ledgerStatus(l)
			if len(l.Entries) > 0 {
				row.Started = l.Entries[0].Started
			}
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// Dir resolves the directory of run id.
func (r *Reader) Dir(ctx context.Context, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: run id %q", ErrInvalidKey, id)
	}
	dir := filepath.Join(r.OutputDir, id)
	if r.Catalog != nil {
		row, ok, err := r.Catalog.Run(ctx, id)
		if err != nil {
			return "", err
		}
		if ok {
			dir = row.Dir
		}
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return dir, nil
}

// Ledger decodes the ledger of run id.
func (r *Reader) Ledger(ctx context.Context, id string) (types.WorkflowLedger, error) {
	dir, err := r.Dir(ctx, id)
	if err != nil {
		return types.WorkflowLedger{}, err
	}
	return readLedger(dir)
}

// Keys lists the artifact keys present in run id.
func (r *Reader) Keys(ctx context.Context, id string) ([]string, error) {
	dir, err := r.Dir(ctx, id)
	if err != nil {
		return nil, err
	}
	return listKeys(dir)
}

// Read returns the artifact stored under key in run id. Keys that are
// absolute or escape the run directory fail with ErrInvalidKey.
func (r *Reader) Read(ctx context.Context, id, key string) ([]byte, error) {
	clean, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	dir, err := r.Dir(ctx, id)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(dir, filepath.FromSlash(clean))
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("artifact %s/%s: %w", id, clean, ErrNotFound)
	}
	return os.ReadFile(p)
}

// CleanKey normalizes a slash-separated key and rejects keys outside the run
// directory.
func CleanKey(key string) (string, error) {
	if key == "" || strings.Contains(key, `\`) || path.IsAbs(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

func readLedger(dir string) (types.WorkflowLedger, error) {
	data, err := os.ReadFile(filepath.Join(dir, KeyLedger))
	if errors.Is(err, fs.ErrNotExist) {
		return types.WorkflowLedger{}, fmt.Errorf("ledger: %w", ErrNotFound)
	}
	if err != nil {
		return types.WorkflowLedger{}, fmt.Errorf("reading ledger: %w", err)
	}
	var l types.WorkflowLedger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return types.WorkflowLedger{}, fmt.Errorf("%w: ledger: %v", types.ErrMalformedArtifact, err)
	}
	return l, nil
}

// ledgerStatus infers a run status for directories the catalog never saw.
func ledgerStatus(l types.WorkflowLedger) string {
	if l.Failed() {
		return "failed"
	}
	if e, ok := l.Latest(types.StageRender); ok && e.Status != types.StatusFailed {
		return "completed"
	}
	return "running"
}
