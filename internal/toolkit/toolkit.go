// Package toolkit matches request fingerprints against known attack-tool
// signatures: scanners, proxies, and scripted clients.
//
// The signature table is external, versioned configuration (TOML): which
// tools count as which severity tier is a policy decision, not logic. The
// matcher itself is a pure function over one request's headers and
// user-agent string.
package toolkit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tier is the risk severity class of a toolkit family.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Weight returns the risk-score contribution of one detected toolkit.
func (t Tier) Weight() int {
	switch t {
	case TierHigh:
		return 30
	case TierMedium:
		return 20
	default:
		return 10
	}
}

// Signature describes one toolkit: any listed substring appearing anywhere
// in the request's header text or user-agent registers a detection.
type Signature struct {
	Name       string   `toml:"name"`
	Tier       Tier     `toml:"tier"`
	Substrings []string `toml:"substrings"`
}

// Table is a loaded signature table.
type Table struct {
	Signatures []Signature `toml:"signature"`

	tiers map[string]Tier
}

// DefaultTable returns the built-in signature table. Deployments override it
// via the toolkits config file.
func DefaultTable() *Table {
	t := &Table{
		Signatures: []Signature{
			{Name: "sqlmap", Tier: TierHigh, Substrings: []string{"sqlmap"}},
			{Name: "metasploit", Tier: TierHigh, Substrings: []string{"metasploit", "meterpreter"}},
			{Name: "nikto", Tier: TierHigh, Substrings: []string{"nikto"}},
			{Name: "burpsuite", Tier: TierHigh, Substrings: []string{"burp collaborator", "burpsuite"}},
			{Name: "zap", Tier: TierHigh, Substrings: []string{"zaproxy", "owasp zap"}},
			{Name: "nmap", Tier: TierMedium, Substrings: []string{"nmap scripting engine", "nmap nse"}},
			{Name: "dirbuster", Tier: TierMedium, Substrings: []string{"dirbuster", "gobuster", "feroxbuster"}},
			{Name: "hydra", Tier: TierMedium, Substrings: []string{"hydra"}},
			{Name: "wfuzz", Tier: TierMedium, Substrings: []string{"wfuzz", "ffuf"}},
			{Name: "curl", Tier: TierLow, Substrings: []string{"curl/"}},
			{Name: "wget", Tier: TierLow, Substrings: []string{"wget/"}},
			{Name: "python-requests", Tier: TierLow, Substrings: []string{"python-requests", "python-urllib"}},
			{Name: "go-http-client", Tier: TierLow, Substrings: []string{"go-http-client"}},
		},
	}
	t.index()
	return t
}

// index builds the name→tier lookup. Called after construction or decode.
func (t *Table) index() {
	t.tiers = make(map[string]Tier, len(t.Signatures))
	for _, sig := range t.Signatures {
		t.tiers[sig.Name] = sig.Tier
	}
}

// Validate rejects tables that would silently match nothing.
func (t *Table) Validate() error {
	if len(t.Signatures) == 0 {
		return fmt.Errorf("signature table is empty")
	}
	seen := make(map[string]struct{}, len(t.Signatures))
	for i, sig := range t.Signatures {
		if sig.Name == "" {
			return fmt.Errorf("signature %d: name is required", i)
		}
		if _, dup := seen[sig.Name]; dup {
			return fmt.Errorf("signature %d: duplicate name %q", i, sig.Name)
		}
		seen[sig.Name] = struct{}{}
		switch sig.Tier {
		case TierHigh, TierMedium, TierLow:
		default:
			return fmt.Errorf("signature %q: unknown tier %q", sig.Name, sig.Tier)
		}
		if len(sig.Substrings) == 0 {
			return fmt.Errorf("signature %q: at least one substring is required", sig.Name)
		}
	}
	return nil
}

// Matcher matches one request's fingerprint against a signature table. The
// backing table is swappable at runtime; matches never block on a reload.
type Matcher struct {
	mu    sync.RWMutex
	table *Table
}

// NewMatcher builds a matcher over the given table.
func NewMatcher(table *Table) *Matcher {
	if table.tiers == nil {
		table.index()
	}
	return &Matcher{table: table}
}

func (m *Matcher) swap(table *Table) {
	if table.tiers == nil {
		table.index()
	}
	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
}

// Len reports the number of loaded signatures.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.table.Signatures)
}

// Match returns the sorted set of toolkit names detected in the request's
// headers and user-agent string. The result may be empty; matching is
// case-insensitive substring search over the concatenated text.
func (m *Matcher) Match(headers map[string]string, userAgent string) []string {
	var sb strings.Builder
	for k, v := range headers {
		sb.WriteString(strings.ToLower(k))
		sb.WriteString(": ")
		sb.WriteString(strings.ToLower(v))
		sb.WriteString("\n")
	}
	sb.WriteString(strings.ToLower(userAgent))
	haystack := sb.String()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []string
	for _, sig := range m.table.Signatures {
		for _, sub := range sig.Substrings {
			if strings.Contains(haystack, sub) {
				matched = append(matched, sig.Name)
				break
			}
		}
	}
	sort.Strings(matched)
	return matched
}

// TierOf returns the severity tier for a toolkit name; unknown names are
// treated as low tier so stale history never breaks scoring.
func (m *Matcher) TierOf(name string) Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tier, ok := m.table.tiers[name]; ok {
		return tier
	}
	return TierLow
}
