// Package profiles accumulates per-client interaction history in bounded
// ring buffers.
//
// One profile exists per client/session id, created on first telemetry and
// evicted after an idle timeout or when the store exceeds its entry cap.
// Independent clients never contend on the same lock.
package profiles

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarelabs/snare/internal/signal"
	"github.com/snarelabs/snare/internal/telemetry"
)

// Config bounds the store's memory.
type Config struct {
	// SamplesPerChannel caps each channel's ring buffer.
	SamplesPerChannel int
	// IdleTimeout evicts profiles with no telemetry for this long.
	IdleTimeout time.Duration
	// MaxEntries caps the number of tracked clients; the oldest-idle entry
	// is evicted when the cap is exceeded.
	MaxEntries int
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SamplesPerChannel: 500,
		IdleTimeout:       30 * time.Minute,
		MaxEntries:        10000,
		SweepInterval:     time.Minute,
	}
}

type clientProfile struct {
	mu       sync.Mutex
	lastSeen time.Time
	mouse    []signal.Point
	keyboard []signal.Keystroke
	clicks   []signal.Click
}

// Store holds interaction history keyed by client id.
type Store struct {
	cfg      Config
	profiles sync.Map // clientID → *clientProfile
	count    atomic.Int64

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a bounded client profile store.
func NewStore(cfg Config) *Store {
	if cfg.SamplesPerChannel <= 0 {
		cfg.SamplesPerChannel = DefaultConfig().SamplesPerChannel
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &Store{cfg: cfg, now: time.Now}
}

// Append merges a telemetry batch into the client's history, trimming each
// channel to the configured cap (newest samples win).
func (s *Store) Append(clientID string, b *telemetry.Behavior) {
	if clientID == "" || !b.HasSamples() {
		return
	}

	p := s.getOrCreate(clientID)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastSeen = s.now()
	p.mouse = appendCapped(p.mouse, b.Mouse, s.cfg.SamplesPerChannel)
	p.keyboard = appendCapped(p.keyboard, b.Keyboard, s.cfg.SamplesPerChannel)
	p.clicks = appendCapped(p.clicks, b.Clicks, s.cfg.SamplesPerChannel)
}

// Snapshot returns a copy of the client's accumulated history, or false if
// the client is unknown. The copy is safe to read without further locking.
func (s *Store) Snapshot(clientID string) (telemetry.Behavior, bool) {
	v, ok := s.profiles.Load(clientID)
	if !ok {
		return telemetry.Behavior{}, false
	}
	p := v.(*clientProfile)

	p.mu.Lock()
	defer p.mu.Unlock()

	out := telemetry.Behavior{
		Mouse:    make([]signal.Point, len(p.mouse)),
		Keyboard: make([]signal.Keystroke, len(p.keyboard)),
		Clicks:   make([]signal.Click, len(p.clicks)),
	}
	copy(out.Mouse, p.mouse)
	copy(out.Keyboard, p.keyboard)
	copy(out.Clicks, p.clicks)

	// Batches arrive sorted internally but not relative to each other, and
	// the interval math downstream assumes ascending timestamps.
	sort.SliceStable(out.Mouse, func(i, j int) bool { return out.Mouse[i].TS < out.Mouse[j].TS })
	sort.SliceStable(out.Keyboard, func(i, j int) bool { return out.Keyboard[i].TS < out.Keyboard[j].TS })
	sort.SliceStable(out.Clicks, func(i, j int) bool { return out.Clicks[i].TS < out.Clicks[j].TS })
	return out, true
}

// Len returns the number of tracked clients.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Start runs the periodic eviction sweep until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts idle profiles and enforces the entry cap. Exported so tests
// and operators can force a pass.
func (s *Store) Sweep() {
	now := s.now()
	cutoff := now.Add(-s.cfg.IdleTimeout)

	type aged struct {
		id       string
		lastSeen time.Time
	}
	var entries []aged

	s.profiles.Range(func(k, v any) bool {
		p := v.(*clientProfile)
		p.mu.Lock()
		last := p.lastSeen
		p.mu.Unlock()

		if s.cfg.IdleTimeout > 0 && last.Before(cutoff) {
			s.profiles.Delete(k)
			s.count.Add(-1)
			return true
		}
		entries = append(entries, aged{id: k.(string), lastSeen: last})
		return true
	})

	// Enforce the cap: evict the oldest-idle survivors first.
	excess := len(entries) - s.cfg.MaxEntries
	if excess <= 0 {
		return
	}
	for i := 0; i < excess; i++ {
		oldest := 0
		for j := range entries {
			if entries[j].lastSeen.Before(entries[oldest].lastSeen) {
				oldest = j
			}
		}
		s.profiles.Delete(entries[oldest].id)
		s.count.Add(-1)
		entries = append(entries[:oldest], entries[oldest+1:]...)
	}
}

func (s *Store) getOrCreate(clientID string) *clientProfile {
	if v, ok := s.profiles.Load(clientID); ok {
		return v.(*clientProfile)
	}
	v, loaded := s.profiles.LoadOrStore(clientID, &clientProfile{lastSeen: s.now()})
	if !loaded {
		s.count.Add(1)
	}
	return v.(*clientProfile)
}

// appendCapped appends src to dst keeping at most capN newest elements.
func appendCapped[T any](dst, src []T, capN int) []T {
	dst = append(dst, src...)
	if len(dst) > capN {
		dst = dst[len(dst)-capN:]
	}
	return dst
}
