// Package tasktemplate loads reusable task blueprints from hierarchical
// templates.jsonl catalogs and applies their defaults to newly spawned
// tasks (diagnostics, escalations, and similar supervisor-spawned work)
// that didn't come from a backlog line.
//
// # Hierarchical loading
//
// Templates are loaded from multiple locations in priority order (later
// overrides earlier):
//  1. Built-in templates (compiled into the supervisor binary)
//  2. User-level: ~/.pulse/templates.jsonl
//  3. Project-level: .pulse/templates.jsonl in the repo being supervised
package tasktemplate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pulseforge/supervisor/internal/types"
)

// CatalogFileName is the canonical name for template catalog files.
const CatalogFileName = "templates.jsonl"

// Template is a reusable blueprint for a supervisor-spawned task.
type Template struct {
	ID            string          `json:"id"`
	TitlePattern  string          `json:"title_pattern"`
	RequestedTier types.ModelTier `json:"model,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	MaxRetries    int             `json:"max_retries,omitempty"`
	MaxEscalation int             `json:"max_escalation,omitempty"`
}

// LoadResult reports where templates were loaded from.
type LoadResult struct {
	Loaded       int
	Sources      []string
	BuiltinCount int
}

// Catalog holds the merged set of templates, keyed by ID.
type Catalog struct {
	templates map[string]Template
}

// NewCatalog returns an empty catalog pre-seeded with the built-in templates.
func NewCatalog() *Catalog {
	c := &Catalog{templates: map[string]Template{}}
	for _, t := range builtinTemplates() {
		c.templates[t.ID] = t
	}
	return c
}

// LoadAll merges built-in, user-level, and project-level templates into the
// catalog, later sources overriding earlier ones with the same ID.
func (c *Catalog) LoadAll(pulseDir string) (*LoadResult, error) {
	result := &LoadResult{Sources: []string{"<built-in>"}, BuiltinCount: len(c.templates)}
	result.Loaded = result.BuiltinCount

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".pulse", CatalogFileName)
		if n, err := c.loadFile(userPath); err == nil && n > 0 {
			result.Loaded += n
			result.Sources = append(result.Sources, userPath)
		}
	}

	if pulseDir != "" {
		projectPath := filepath.Join(pulseDir, CatalogFileName)
		if n, err := c.loadFile(projectPath); err == nil && n > 0 {
			result.Loaded += n
			result.Sources = append(result.Sources, projectPath)
		}
	}

	return result, nil
}

// Get returns the template with the given ID, if loaded.
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

// Apply sets any zero-valued fields on t from the named template, leaving
// fields the caller already populated untouched. It's a no-op if the
// template doesn't exist.
func (c *Catalog) Apply(t *types.Task, templateID string) {
	tmpl, ok := c.Get(templateID)
	if !ok {
		return
	}
	if t.RequestedTier == "" {
		t.RequestedTier = tmpl.RequestedTier
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = tmpl.MaxRetries
	}
	if t.MaxEscalation == 0 {
		t.MaxEscalation = tmpl.MaxEscalation
	}
	t.Tags = append(t.Tags, tmpl.Tags...)
}

func (c *Catalog) loadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	loaded := 0
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t Template
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue // malformed line, skip rather than fail the whole load
		}
		if t.ID == "" {
			continue
		}
		c.templates[t.ID] = t
		loaded++
	}
	if err := scanner.Err(); err != nil {
		return loaded, fmt.Errorf("reading %s: %w", path, err)
	}
	return loaded, nil
}

// builtinTemplates returns the templates shipped with the supervisor binary.
func builtinTemplates() []Template {
	return []Template{
		{
			ID:            "diagnostic",
			TitlePattern:  "Diagnose failure of %s",
			RequestedTier: types.TierHaiku,
			Tags:          []string{"#diagnostic"},
			MaxRetries:    1,
			MaxEscalation: 0,
		},
	}
}
