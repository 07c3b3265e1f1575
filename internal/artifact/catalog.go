// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const catalogFile = "catalog.db"

// Catalog indexes runs, their artifacts, and the scout cache in SQLite.
type Catalog struct {
	db *sql.DB
}

// RunRow summarizes one run.
type RunRow struct {
	ID       string    `json:"id" yaml:"id"`
	Dir      string    `json:"dir" yaml:"dir"`
	Template string    `json:"template" yaml:"template"`
	Status   string    `json:"status" yaml:"status"`
	Started  time.Time `json:"started" yaml:"started"`
	Updated  time.Time `json:"updated" yaml:"updated"`
}

// ArtifactRow describes one cataloged artifact.
type ArtifactRow struct {
	RunID   string    `json:"run_id" yaml:"run_id"`
	Key     string    `json:"key" yaml:"key"`
	Digest  string    `json:"digest" yaml:"digest"`
	Size    int64     `json:"size" yaml:"size"`
	Written time.Time `json:"written" yaml:"written"`
}

// OpenCatalog opens or creates cacheDir/catalog.db and its schema.
func OpenCatalog(cacheDir string) (*Catalog, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, catalogFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return c, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dir TEXT NOT NULL,
			template TEXT,
			status TEXT NOT NULL,
			started TEXT NOT NULL,
			updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			key TEXT NOT NULL,
			digest TEXT NOT NULL,
			size INTEGER NOT NULL,
			written TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id)`,
		`CREATE TABLE IF NOT EXISTS scout_cache (
			key TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			created TEXT NOT NULL,
			hits INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// UpsertRun inserts or updates a run summary.
func (c *Catalog) UpsertRun(ctx context.Context, r RunRow) error {
	if r.Updated.IsZero() {
		r.Updated = time.Now().UTC()
	}
	if r.Started.IsZero() {
		r.Started = r.Updated
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO runs (id, dir, template, status, started, updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dir = excluded.dir,
			template = excluded.template,
			status = excluded.status,
			updated = excluded.updated`,
		r.ID, r.Dir, r.Template, r.Status, formatTime(r.Started), formatTime(r.Updated))
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", r.ID, err)
	}
	return nil
}

// Runs lists runs, most recently started first.
func (c *Catalog) Runs(ctx context.Context) ([]RunRow, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, dir, COALESCE(template, ''), status, started, updated FROM runs ORDER BY started DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var started, updated string
		if err := rows.Scan(&r.ID, &r.Dir, &r.Template, &r.Status, &started, &updated); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Started = parseTime(started)
		r.Updated = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns one run summary.
func (c *Catalog) Run(ctx context.Context, id string) (RunRow, bool, error) {
	var r RunRow
	var started, updated string
	err := c.db.QueryRowContext(ctx,
		`SELECT id, dir, COALESCE(template, ''), status, started, updated FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Dir, &r.Template, &r.Status, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRow{}, false, nil
	}
	if err != nil {
		return RunRow{}, false, fmt.Errorf("querying run %s: %w", id, err)
	}
	r.Started = parseTime(started)
	r.Updated = parseTime(updated)
	return r, true, nil
}

// RecordArtifact upserts the catalog row for one artifact write.
func (c *Catalog) RecordArtifact(ctx context.Context, runID, key, digest string, size int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifacts (run_id, key, digest, size, written)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, key) DO UPDATE SET
			digest = excluded.digest,
			size = excluded.size,
			written = excluded.written`,
		runID, key, digest, size, formatTime(time.Now().UTC()))
	return err
}

// Artifacts lists the artifacts cataloged for a run, ordered by key.
func (c *Catalog) Artifacts(ctx context.Context, runID string) ([]ArtifactRow, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT run_id, key, digest, size, written FROM artifacts WHERE run_id = ? ORDER BY key`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()

	var out []ArtifactRow
	for rows.Next() {
		var a ArtifactRow
		var written string
		if err := rows.Scan(&a.RunID, &a.Key, &a.Digest, &a.Size, &written); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		a.Written = parseTime(written)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutScout records a cached scout plan path under key.
func (c *Catalog) PutScout(ctx context.Context, key, path string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO scout_cache (key, path, created) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET path = excluded.path`,
		key, path, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("recording scout cache %s: %w", key, err)
	}
	return nil
}

// LookupScout returns the cached plan path for key and bumps its hit count.
func (c *Catalog) LookupScout(ctx context.Context, key string) (string, bool, error) {
	var path string
	err := c.db.QueryRowContext(ctx, `SELECT path FROM scout_cache WHERE key = ?`, key).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying scout cache: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE scout_cache SET hits = hits + 1 WHERE key = ?`, key); err != nil {
		return "", false, fmt.Errorf("updating scout cache hits: %w", err)
	}
	return path, true, nil
}

// ScoutHits returns the hit count for a cache key.
func (c *Catalog) ScoutHits(ctx context.Context, key string) (int, error) {
	var hits int
	err := c.db.QueryRowContext(ctx, `SELECT hits FROM scout_cache WHERE key = ?`, key).Scan(&hits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return hits, err
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
