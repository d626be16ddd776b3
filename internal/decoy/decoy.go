// Package decoy maps trap paths to fabricated resources and serves them
// with an artificial delay so automated scanners waste time on them.
package decoy

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/snarelabs/snare/internal/attacker"
)

//go:embed defaults.toml
var defaultsTOML string

// Severity grades how alarming a touch of this resource is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Resource is one fabricated endpoint.
type Resource struct {
	Path        string   `toml:"path" json:"path"`
	Method      string   `toml:"method" json:"method"`
	ContentType string   `toml:"content_type" json:"contentType"`
	Payload     string   `toml:"payload" json:"payload"`
	Trap        string   `toml:"trap" json:"trap"`
	Severity    Severity `toml:"severity" json:"severity"`
}

// TrapType maps the resource's trap label onto the risk taxonomy.
func (r Resource) TrapType() attacker.TrapType {
	switch attacker.TrapType(r.Trap) {
	case attacker.TrapAdmin, attacker.TrapCredentials, attacker.TrapDatabase,
		attacker.TrapAPI, attacker.TrapBackup:
		return attacker.TrapType(r.Trap)
	}
	return attacker.TrapGeneric
}

// Table is the on-disk shape of a decoy file.
type Table struct {
	Resources []Resource `toml:"resource"`
}

// Validate rejects tables that would silently serve nothing.
func (t *Table) Validate() error {
	if len(t.Resources) == 0 {
		return fmt.Errorf("decoy table has no resources")
	}
	seen := make(map[string]struct{}, len(t.Resources))
	for i, r := range t.Resources {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("resource %d: path %q must start with /", i, r.Path)
		}
		if _, dup := seen[r.Path]; dup {
			return fmt.Errorf("resource %d: duplicate path %q", i, r.Path)
		}
		seen[r.Path] = struct{}{}
	}
	return nil
}

// Registry resolves request paths to decoy resources. The backing table is
// swappable at runtime; lookups never block on a reload.
type Registry struct {
	mu    sync.RWMutex
	table map[string]Resource
	paths []string
}

// NewRegistry creates a registry from the embedded default table.
func NewRegistry() *Registry {
	t, err := parseTable(defaultsTOML)
	if err != nil {
		// The embedded table is compiled in; a parse failure is a build
		// defect, not a runtime condition.
		panic(fmt.Sprintf("decoy: embedded defaults invalid: %v", err))
	}
	r := &Registry{}
	r.swap(t)
	return r
}

// Lookup returns the resource registered for path, if any.
func (r *Registry) Lookup(path string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.table[path]
	return res, ok
}

// Paths returns every registered decoy path, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.paths...)
}

// Len reports the number of registered resources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

func (r *Registry) swap(t *Table) {
	table := make(map[string]Resource, len(t.Resources))
	paths := make([]string, 0, len(t.Resources))
	for _, res := range t.Resources {
		if res.Method == "" {
			res.Method = "GET"
		}
		if res.ContentType == "" {
			res.ContentType = "text/html; charset=utf-8"
		}
		table[res.Path] = res
		paths = append(paths, res.Path)
	}
	r.mu.Lock()
	r.table = table
	r.paths = paths
	r.mu.Unlock()
}

func parseTable(raw string) (*Table, error) {
	var t Table
	if _, err := toml.Decode(raw, &t); err != nil {
		return nil, fmt.Errorf("decode decoy table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
