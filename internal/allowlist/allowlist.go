// Package allowlist grants trusted sources a hard bypass of the decision
// pipeline. Entries are exact source ids (IPs, client ids) or CIDR blocks.
package allowlist

import (
	"net"
	"sort"
	"strings"
	"sync"
)

// List holds the trusted entries. Mutable at runtime, safe for concurrent
// use; Contains is the hot path and takes only a read lock.
type List struct {
	mu    sync.RWMutex
	exact map[string]struct{}
	cidrs []*net.IPNet
}

// New builds a list from a mix of exact ids and CIDR entries. Entries that
// contain a slash must parse as CIDR; anything else is stored verbatim.
func New(entries []string) (*List, error) {
	l := &List{exact: make(map[string]struct{})}
	for _, e := range entries {
		if err := l.Add(e); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add inserts one entry.
func (l *List) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if strings.Contains(entry, "/") {
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return err
		}
		l.cidrs = append(l.cidrs, ipnet)
		return nil
	}
	// Canonicalize plain IPs so "::ffff:10.0.0.1" and "10.0.0.1" meet.
	if ip := net.ParseIP(entry); ip != nil {
		entry = ip.String()
	}
	l.exact[entry] = struct{}{}
	return nil
}

// Contains reports whether sourceID is trusted, by exact match first and
// CIDR containment second.
func (l *List) Contains(sourceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	key := sourceID
	ip := net.ParseIP(sourceID)
	if ip != nil {
		key = ip.String()
	}
	if _, ok := l.exact[key]; ok {
		return true
	}
	if ip == nil {
		return false
	}
	for _, n := range l.cidrs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Entries returns every entry, sorted, for diagnostics.
func (l *List) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.exact)+len(l.cidrs))
	for e := range l.exact {
		out = append(out, e)
	}
	for _, n := range l.cidrs {
		out = append(out, n.String())
	}
	sort.Strings(out)
	return out
}

// Len reports the number of entries.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.exact) + len(l.cidrs)
}
