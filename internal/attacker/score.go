package attacker

import (
	"sort"

	"github.com/snarelabs/snare/internal/toolkit"
)

// TierLookup resolves a toolkit name to its severity tier.
type TierLookup interface {
	TierOf(name string) toolkit.Tier
}

// Frequency weights.
const (
	freqHighAttempts   = 10
	freqHighWeight     = 20
	freqMediumAttempts = 5
	freqMediumWeight   = 10

	criticalTrapWeight = 15
)

// Scorer recomputes a profile's risk score from its full history.
type Scorer struct {
	tiers TierLookup
}

// NewScorer creates a scorer using the given tier table.
func NewScorer(tiers TierLookup) *Scorer {
	return &Scorer{tiers: tiers}
}

// Score derives the bounded risk score from the profile's entire history.
// Deterministic: the same history always produces the same score, and adding
// a previously-unseen high-tier toolkit can only raise it.
func (s *Scorer) Score(p *Profile) uint8 {
	score := 0

	// Toolkit weights, deduplicated by name across the whole history.
	for _, name := range p.DetectedToolkits {
		score += s.tiers.TierOf(name).Weight()
	}

	// Frequency weight.
	switch total := p.TotalAttempts(); {
	case total > freqHighAttempts:
		score += freqHighWeight
	case total > freqMediumAttempts:
		score += freqMediumWeight
	}

	// Critical-trap weight per attempt.
	score += criticalTrapWeight * p.CriticalAttempts()

	if score > 100 {
		score = 100
	}
	return uint8(score)
}

// mergeToolkits folds newly matched toolkit names into the profile's
// deduplicated, sorted toolkit set. Returns the updated set.
func mergeToolkits(existing, matched []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(matched))
	for _, name := range existing {
		seen[name] = struct{}{}
	}
	for _, name := range matched {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
