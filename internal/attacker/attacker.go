// Package attacker accumulates per-source access history against deceptive
// resources and derives a bounded risk score from it.
//
// The central invariant: a profile's risk score is always recomputed from
// its full stored history, never incremented ad hoc, so replaying the same
// history always yields the same score. Blacklisting is a one-way
// transition once the score crosses the escalation threshold.
package attacker

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	ErrNotFound   = errors.New("attacker profile not found")
	ErrContention = errors.New("attacker profile busy")
)

// BlacklistThreshold is the risk score above which a source is blacklisted.
const BlacklistThreshold = 80

// TrapType classifies the decoy resource an attempt touched.
type TrapType string

const (
	TrapAdmin       TrapType = "admin"
	TrapCredentials TrapType = "credentials"
	TrapDatabase    TrapType = "database"
	TrapAPI         TrapType = "api"
	TrapBackup      TrapType = "backup"
	TrapGeneric     TrapType = "generic"
)

// Critical reports whether the trap exposes admin, credential, or database
// surface; attempts against these weigh extra in the risk score.
func (t TrapType) Critical() bool {
	switch t {
	case TrapAdmin, TrapCredentials, TrapDatabase:
		return true
	}
	return false
}

// AccessAttempt is one recorded touch of a deceptive resource.
type AccessAttempt struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Path            string    `json:"path"`
	DeclaredClient  string    `json:"declaredClient"`
	MatchedToolkits []string  `json:"matchedToolkits"`
	Trap            TrapType  `json:"trapType"`
}

// Profile is the append-only audit record for one network source.
//
// Attempt bodies past the store's live cap are folded into the archived
// counters; DetectedToolkits spans the entire history including archived
// attempts, so the risk recompute stays reproducible after archiving.
type Profile struct {
	SourceID         string          `json:"sourceId"`
	FirstSeen        time.Time       `json:"firstSeen"`
	Attempts         []AccessAttempt `json:"attempts"`
	DetectedToolkits []string        `json:"detectedToolkits"`
	RiskScore        uint8           `json:"riskScore"`
	Blacklisted      bool            `json:"blacklisted"`
	ArchivedAttempts int             `json:"archivedAttempts"`
	ArchivedCritical int             `json:"archivedCritical"`
}

// TotalAttempts counts live plus archived attempts.
func (p *Profile) TotalAttempts() int {
	return len(p.Attempts) + p.ArchivedAttempts
}

// CriticalAttempts counts live plus archived critical-trap attempts.
func (p *Profile) CriticalAttempts() int {
	n := p.ArchivedCritical
	for _, a := range p.Attempts {
		if a.Trap.Critical() {
			n++
		}
	}
	return n
}

// Summary is the listing projection of a profile.
type Summary struct {
	SourceID    string    `json:"sourceId"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	Attempts    int       `json:"attempts"`
	RiskScore   uint8     `json:"riskScore"`
	Blacklisted bool      `json:"blacklisted"`
}

// Store persists attacker profiles.
//
// RecordAccess must be atomic per source: append the attempt in arrival
// order, recompute the score from the entire history, and persist; no
// reader may observe a partially appended attempt.
type Store interface {
	RecordAccess(ctx context.Context, sourceID string, attempt AccessAttempt) (*Profile, error)
	Get(ctx context.Context, sourceID string) (*Profile, error)
	IsBlacklisted(ctx context.Context, sourceID string) (bool, error)
	List(ctx context.Context, limit int) ([]*Summary, error)
	ListAttempts(ctx context.Context, sourceID string, limit int, before time.Time) ([]AccessAttempt, error)
}
