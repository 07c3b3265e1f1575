// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package artifact persists stage outputs under a run-scoped directory and
// catalogs them in SQLite. Every write goes through a temp file and rename so
// that readers only ever see committed artifacts.
package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

// Store is the artifact store for one run. Keys are slash-separated paths
// relative to the run directory.
type Store struct {
	root    string
	runID   string
	catalog *Catalog

	mu      sync.Mutex
	written map[string]bool
}

// NewStore creates (or reopens) outputDir/runID. The catalog is optional.
func NewStore(outputDir, runID string, catalog *Catalog) (*Store, error) {
	if runID == "" {
		return nil, fmt.Errorf("artifact store: empty run id")
	}
	root := filepath.Join(outputDir, runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	return &Store{root: root, runID: runID, catalog: catalog, written: make(map[string]bool)}, nil
}

// Root returns the run directory.
func (s *Store) Root() string { return s.root }

// RunID returns the run identifier.
func (s *Store) RunID() string { return s.runID }

// Path resolves a key to its filesystem path.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Exists reports whether an artifact has been committed under key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// Read returns the bytes stored under key. A missing key wraps os.ErrNotExist.
func (s *Store) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", key, err)
	}
	return data, nil
}

// ReadYAML decodes the YAML artifact under key into v.
func (s *Store) ReadYAML(key string, v any) error {
	data, err := s.Read(key)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing artifact %s: %w", key, err)
	}
	return nil
}

// Write commits data under key, replacing any previous version.
func (s *Store) Write(key string, data []byte) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("artifact store: invalid key %q", key)
	}
	if err := WriteFileAtomic(s.Path(key), data); err != nil {
		return fmt.Errorf("writing artifact %s: %w", key, err)
	}

	s.mu.Lock()
	s.written[key] = true
	s.mu.Unlock()

	if s.catalog != nil {
		sum := sha256.Sum256(data)
		if err := s.catalog.RecordArtifact(context.Background(), s.runID, key, fmt.Sprintf("%x", sum), int64(len(data))); err != nil {
			return fmt.Errorf("cataloging artifact %s: %w", key, err)
		}
	}
	return nil
}

// WriteYAML marshals v as YAML and writes it under key.
func (s *Store) WriteYAML(key string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.Write(key, data)
}

// WriteJSONL writes one JSON document per element of items.
func WriteJSONL[T any](s *Store, key string, items []T) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encoding %s line %d: %w", key, i+1, err)
		}
	}
	return s.Write(key, buf.Bytes())
}

// Written returns every key written through this store, sorted.
func (s *Store) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.written))
	for k := range s.written {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns every file key present under the run directory, sorted. It
// includes artifacts committed by earlier processes of a resumed run.
func (s *Store) List() ([]string, error) {
	return listKeys(s.root)
}

func listKeys(root string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing run directory: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// WriteFileAtomic writes data to path via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
