// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed byte cache. Entries live at dir/<key>.yaml
// and are replayed byte for byte. The catalog, when present, indexes entries
// and counts hits; the files remain the source of truth.
type Cache struct {
	dir     string
	catalog *Catalog
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, catalog *Catalog) *Cache {
	return &Cache{dir: dir, catalog: catalog}
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".yaml")
}

// Get returns the cached bytes for key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	path := c.path(key)
	if c.catalog != nil {
		p, ok, err := c.catalog.LookupScout(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			path = p
		}
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	return data, true, nil
}

// Put stores data under key.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	path := c.path(key)
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	if c.catalog != nil {
		return c.catalog.PutScout(ctx, key, path)
	}
	return nil
}
