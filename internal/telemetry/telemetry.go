// Package telemetry defines the input contract between the collection layer
// and the detection core, plus sanitization for malformed payloads.
//
// Malformed telemetry is never a hard failure: a channel with bad samples is
// reduced to "insufficient data" for that request and evaluation continues
// on the remaining valid signals.
package telemetry

import (
	"math"
	"sort"

	"github.com/snarelabs/snare/internal/signal"
)

// Behavior carries the raw interaction traces for one request.
type Behavior struct {
	Mouse    []signal.Point     `json:"mouse"`
	Keyboard []signal.Keystroke `json:"keyboard"`
	Clicks   []signal.Click     `json:"clicks"`
}

// ClientTelemetry is the client-supplied portion of an evaluation request.
type ClientTelemetry struct {
	UserAgent string    `json:"userAgent"`
	ClientID  string    `json:"clientId"`
	Behavior  *Behavior `json:"behavior,omitempty"`
}

// RequestContext is the server-observed portion of an evaluation request.
type RequestContext struct {
	SourceID string            `json:"sourceId"`
	Path     string            `json:"path"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
}

// Sanitize drops malformed samples in place: non-finite coordinates, empty
// keys, and out-of-order timestamps. Each channel is re-sorted by timestamp
// so downstream extractors can rely on ascending order. Returns the number
// of samples dropped across all channels.
func (b *Behavior) Sanitize() int {
	if b == nil {
		return 0
	}
	dropped := 0

	points := b.Mouse[:0]
	for _, p := range b.Mouse {
		if finite(p.X) && finite(p.Y) {
			points = append(points, p)
		} else {
			dropped++
		}
	}
	b.Mouse = points
	sort.SliceStable(b.Mouse, func(i, j int) bool { return b.Mouse[i].TS < b.Mouse[j].TS })

	keys := b.Keyboard[:0]
	for _, k := range b.Keyboard {
		if k.Key != "" {
			keys = append(keys, k)
		} else {
			dropped++
		}
	}
	b.Keyboard = keys
	sort.SliceStable(b.Keyboard, func(i, j int) bool { return b.Keyboard[i].TS < b.Keyboard[j].TS })

	clicks := b.Clicks[:0]
	for _, c := range b.Clicks {
		if finite(c.X) && finite(c.Y) {
			clicks = append(clicks, c)
		} else {
			dropped++
		}
	}
	b.Clicks = clicks
	sort.SliceStable(b.Clicks, func(i, j int) bool { return b.Clicks[i].TS < b.Clicks[j].TS })

	return dropped
}

// HasSamples reports whether any channel carries at least one sample.
func (b *Behavior) HasSamples() bool {
	if b == nil {
		return false
	}
	return len(b.Mouse) > 0 || len(b.Keyboard) > 0 || len(b.Clicks) > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
