package decoy

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// Default artificial delay bounds.
const (
	DefaultMinDelay = 1 * time.Second
	DefaultMaxDelay = 4 * time.Second
)

// Responder serves decoy payloads after an artificial delay, so scanners
// burn wall-clock time on every trap they touch.
type Responder struct {
	minDelay time.Duration
	maxDelay time.Duration
	rng      func(n int64) int64
}

// NewResponder creates a responder with the given delay window. Zero values
// fall back to the defaults.
func NewResponder(minDelay, maxDelay time.Duration) *Responder {
	if minDelay <= 0 {
		minDelay = DefaultMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Responder{
		minDelay: minDelay,
		maxDelay: maxDelay,
		rng:      rand.Int63n,
	}
}

// Delay picks a uniform random delay inside the configured window.
func (r *Responder) Delay() time.Duration {
	span := int64(r.maxDelay - r.minDelay)
	if span <= 0 {
		return r.minDelay
	}
	return r.minDelay + time.Duration(r.rng(span))
}

// Serve waits out delay then writes the resource payload. The wait aborts
// cleanly when ctx is cancelled (client gone, server draining) without
// holding a goroutine past the deadline.
func (r *Responder) Serve(ctx context.Context, w http.ResponseWriter, res Resource, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("X-Artificial-Delay", fmt.Sprintf("%dms", delay.Milliseconds()))
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte(res.Payload))
	return err
}
