package attacker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/snarelabs/snare/internal/syncutil"
)

// maxLiveAttempts is the per-profile cap on stored attempt bodies. Older
// attempts are folded into the archived counters; the toolkit set and
// critical/frequency counts they contributed are preserved, so the score
// recompute is unaffected.
const maxLiveAttempts = 1000

// MemoryStore is the in-memory Store used when no DATABASE_URL is set.
type MemoryStore struct {
	scorer *Scorer

	mu       sync.RWMutex // guards the map itself
	profiles map[string]*Profile

	// locks serializes the read-modify-write cycle per source id so
	// independent sources never contend. Context-aware: a caller whose
	// request dies while waiting gives up instead of queueing forever.
	locks syncutil.ContextShardedMutex
}

// NewMemoryStore creates an in-memory attacker profile store.
func NewMemoryStore(scorer *Scorer) *MemoryStore {
	return &MemoryStore{
		scorer:   scorer,
		profiles: make(map[string]*Profile),
	}
}

func (s *MemoryStore) RecordAccess(ctx context.Context, sourceID string, attempt AccessAttempt) (*Profile, error) {
	unlock, err := s.locks.LockContext(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContention, err)
	}
	defer unlock()

	s.mu.RLock()
	p, ok := s.profiles[sourceID]
	s.mu.RUnlock()

	if !ok {
		p = &Profile{
			SourceID:  sourceID,
			FirstSeen: attempt.Timestamp,
		}
	}

	// Work on a copy so concurrent readers never see a half-applied update.
	next := cloneProfile(p)
	next.Attempts = append(next.Attempts, attempt)
	next.DetectedToolkits = mergeToolkits(next.DetectedToolkits, attempt.MatchedToolkits)

	if len(next.Attempts) > maxLiveAttempts {
		overflow := next.Attempts[:len(next.Attempts)-maxLiveAttempts]
		for _, old := range overflow {
			next.ArchivedAttempts++
			if old.Trap.Critical() {
				next.ArchivedCritical++
			}
		}
		next.Attempts = append([]AccessAttempt(nil), next.Attempts[len(overflow):]...)
	}

	next.RiskScore = s.scorer.Score(next)
	if next.RiskScore > BlacklistThreshold {
		next.Blacklisted = true // one-way, never auto-cleared
	}

	s.mu.Lock()
	s.profiles[sourceID] = next
	s.mu.Unlock()

	return cloneProfile(next), nil
}

func (s *MemoryStore) Get(ctx context.Context, sourceID string) (*Profile, error) {
	s.mu.RLock()
	p, ok := s.profiles[sourceID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *MemoryStore) IsBlacklisted(ctx context.Context, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[sourceID]; ok {
		return p.Blacklisted, nil
	}
	return false, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Summary, error) {
	s.mu.RLock()
	summaries := make([]*Summary, 0, len(s.profiles))
	for _, p := range s.profiles {
		sum := &Summary{
			SourceID:    p.SourceID,
			FirstSeen:   p.FirstSeen,
			Attempts:    p.TotalAttempts(),
			RiskScore:   p.RiskScore,
			Blacklisted: p.Blacklisted,
		}
		if n := len(p.Attempts); n > 0 {
			sum.LastSeen = p.Attempts[n-1].Timestamp
		} else {
			sum.LastSeen = p.FirstSeen
		}
		summaries = append(summaries, sum)
	}
	s.mu.RUnlock()

	// Highest risk first, ties broken by recency.
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].RiskScore != summaries[j].RiskScore {
			return summaries[i].RiskScore > summaries[j].RiskScore
		}
		return summaries[i].LastSeen.After(summaries[j].LastSeen)
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *MemoryStore) ListAttempts(ctx context.Context, sourceID string, limit int, before time.Time) ([]AccessAttempt, error) {
	s.mu.RLock()
	p, ok := s.profiles[sourceID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	// Newest first, optionally only attempts strictly before the cursor.
	out := make([]AccessAttempt, 0, limit)
	for i := len(p.Attempts) - 1; i >= 0; i-- {
		a := p.Attempts[i]
		if !before.IsZero() && !a.Timestamp.Before(before) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func cloneProfile(p *Profile) *Profile {
	out := *p
	out.Attempts = make([]AccessAttempt, len(p.Attempts))
	copy(out.Attempts, p.Attempts)
	out.DetectedToolkits = append([]string(nil), p.DetectedToolkits...)
	return &out
}
