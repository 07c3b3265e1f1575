// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package templates loads and validates report templates. Templates are
// validated once at load time and handed out as copies, so a run can never
// mutate the registry's definitions.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/report-engine/pkg/types"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

var keyPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Registry holds validated templates by name.
type Registry struct {
	byName map[string]types.Template
}

// Builtin returns a registry containing the built-in templates.
func Builtin() (*Registry, error) {
	r := &Registry{byName: make(map[string]types.Template)}
	err := fs.WalkDir(builtinFS, "builtin", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return err
		}
		return r.add(path, data)
	})
	if err != nil {
		return nil, fmt.Errorf("loading built-in templates: %w", err)
	}
	return r, nil
}

// Load returns the built-in templates plus every *.yaml file in dir. A file
// may override a built-in of the same name. An empty dir loads built-ins only.
func Load(dir string) (*Registry, error) {
	r, err := Builtin()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("listing templates in %s: %w", dir, err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", p, err)
		}
		if err := r.add(p, data); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(source string, data []byte) error {
	t, err := Parse(data)
	if err != nil {
		return fmt.Errorf("template %s: %w", source, err)
	}
	r.byName[t.Name] = t
	return nil
}

// Get returns a copy of the named template.
func (r *Registry) Get(name string) (types.Template, bool) {
	t, ok := r.byName[name]
	if !ok {
		return types.Template{}, false
	}
	return t.Clone(), true
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse decodes and validates one YAML template.
func Parse(data []byte) (types.Template, error) {
	var t types.Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return types.Template{}, fmt.Errorf("parsing template: %w", err)
	}
	if err := Validate(t); err != nil {
		return types.Template{}, err
	}
	return t, nil
}

// Validate checks the template contract: a name, at least one section, and
// unique well-formed keys. Titles and aliases must not resolve to two
// different sections.
func Validate(t types.Template) error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if len(t.Sections) == 0 {
		return fmt.Errorf("template %s has no sections", t.Name)
	}

	labels := make(map[string]string)
	keys := make(map[string]bool)
	for i, s := range t.Sections {
		if !keyPattern.MatchString(s.Key) {
			return fmt.Errorf("template %s section %d: invalid key %q", t.Name, i, s.Key)
		}
		if keys[s.Key] {
			return fmt.Errorf("template %s: duplicate section key %q", t.Name, s.Key)
		}
		keys[s.Key] = true
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("template %s section %s: empty title", t.Name, s.Key)
		}
		for _, label := range append([]string{s.Key, s.Title}, s.Aliases...) {
			n := Normalize(label)
			if owner, ok := labels[n]; ok && owner != s.Key {
				return fmt.Errorf("template %s: label %q resolves to both %s and %s", t.Name, label, owner, s.Key)
			}
			labels[n] = s.Key
		}
	}
	return nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize folds a header label to the form used for section matching.
func Normalize(label string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(label), "-"), "-")
}

// Resolve maps a header label to a template section key by key, title, or
// alias. Labels already adjusted by a rename resolve through the title.
func Resolve(t types.Template, label string) (string, bool) {
	n := Normalize(label)
	if n == "" {
		return "", false
	}
	for _, s := range t.Sections {
		if n == s.Key || n == Normalize(s.Title) {
			return s.Key, true
		}
	}
	for _, s := range t.Sections {
		for _, a := range s.Aliases {
			if n == Normalize(a) {
				return s.Key, true
			}
		}
	}
	return "", false
}
