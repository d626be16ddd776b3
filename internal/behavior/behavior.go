// Package behavior composes signal-extractor features for three interaction
// channels (pointer movement, keystroke timing, click placement) into
// per-channel suspicion scores.
//
// A channel with too few samples is not skipped: it contributes a fixed
// penalty, because the absence of behavior data is itself suspicious.
package behavior

import (
	"math"
	"strings"

	"github.com/snarelabs/snare/internal/signal"
)

// Channel is the verdict for one interaction channel.
type Channel struct {
	Suspicion  uint8    `json:"suspicion"`
	Flags      []string `json:"flags"`
	Sufficient bool     `json:"sufficient"`
}

// Result is the combined verdict over all three channels.
type Result struct {
	Pointer   Channel  `json:"pointer"`
	Keystroke Channel  `json:"keystroke"`
	Click     Channel  `json:"click"`
	Overall   uint8    `json:"overall"`
	Flags     []string `json:"flags"`
	IsBot     bool     `json:"isBot"`
}

// Minimum sample counts and insufficient-data penalties per channel.
const (
	minPointerSamples   = 10
	minKeystrokeSamples = 5
	minClickSamples     = 3

	pointerPenalty   = 30
	keystrokePenalty = 20
	clickPenalty     = 15

	overallBotThreshold = 60
)

// Pointer thresholds.
const (
	straightRatioThreshold = 0.7
	meanSpeedThreshold     = 1000 // px/s
	tremorThreshold        = 0.5
	bezierRatioThreshold   = 0.8
)

// Keystroke thresholds.
const (
	intervalVarianceThreshold = 10
	meanIntervalThreshold     = 50 // ms
	pauseAfterSpaceMin        = 200
	pauseAfterSpaceMax        = 2000
)

// Click thresholds.
const (
	precisionThreshold  = 0.9
	rapidClickGapMs     = 100
	gridCellPx          = 10
	maxGridDistinctVals = 3
)

// Classifier scores interaction traces. Stateless; safe for concurrent use.
type Classifier struct{}

// NewClassifier returns a behavior classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify scores all three channels and combines them into an unweighted
// mean. Channels with insufficient data contribute their fixed penalty.
func (c *Classifier) Classify(points []signal.Point, keys []signal.Keystroke, clicks []signal.Click) Result {
	pointer := c.scorePointer(points)
	keystroke := c.scoreKeystrokes(keys)
	click := c.scoreClicks(clicks)

	mean := (int(pointer.Suspicion) + int(keystroke.Suspicion) + int(click.Suspicion)) / 3

	var flags []string
	flags = append(flags, pointer.Flags...)
	flags = append(flags, keystroke.Flags...)
	flags = append(flags, click.Flags...)

	return Result{
		Pointer:   pointer,
		Keystroke: keystroke,
		Click:     click,
		Overall:   uint8(mean),
		Flags:     flags,
		IsBot:     mean > overallBotThreshold,
	}
}

func (c *Classifier) scorePointer(points []signal.Point) Channel {
	if len(points) < minPointerSamples {
		return Channel{Suspicion: pointerPenalty, Flags: []string{"INSUFFICIENT_POINTER_DATA"}}
	}

	score := 0
	var flags []string

	triples := len(points) - 2
	if triples > 0 {
		ratio := float64(signal.StraightLineCount(points)) / float64(triples)
		if ratio > straightRatioThreshold {
			score += 40
			flags = append(flags, "LINEAR_MOVEMENT")
		}
	}

	if speeds := signal.Speeds(points); len(speeds) > 0 {
		if signal.Mean(speeds) > meanSpeedThreshold {
			score += 30
			flags = append(flags, "INHUMAN_SPEED")
		}
	}

	// Human motion has measurable micro-deviation; near-zero tremor on a
	// trace this long means the path was computed, not moved.
	if signal.Tremor(points) < tremorThreshold {
		score += 25
		flags = append(flags, "NO_TREMOR")
	}

	if signal.BezierMatchRatio(points) > bezierRatioThreshold {
		score += 35
		flags = append(flags, "PERFECT_CURVES")
	}

	return Channel{Suspicion: clamp(score), Flags: flags, Sufficient: true}
}

func (c *Classifier) scoreKeystrokes(keys []signal.Keystroke) Channel {
	if len(keys) < minKeystrokeSamples {
		return Channel{Suspicion: keystrokePenalty, Flags: []string{"INSUFFICIENT_KEY_DATA"}}
	}

	score := 0
	var flags []string

	timestamps := make([]uint64, len(keys))
	for i, k := range keys {
		timestamps[i] = k.TS
	}
	intervals := signal.Intervals(timestamps)

	if signal.Variance(intervals) < intervalVarianceThreshold {
		score += 45
		flags = append(flags, "UNIFORM_TIMING")
	}

	if signal.Mean(intervals) < meanIntervalThreshold {
		score += 40
		flags = append(flags, "INHUMAN_TYPING_SPEED")
	}

	if !hasNaturalTyping(keys) {
		score += 20
		flags = append(flags, "NO_NATURAL_TYPING")
	}

	return Channel{Suspicion: clamp(score), Flags: flags, Sufficient: true}
}

// hasNaturalTyping looks for any evidence a human produced the key sequence:
// backspace use, a thinking pause (200–2000ms) after a space, or a capital
// letter immediately following sentence-ending punctuation.
func hasNaturalTyping(keys []signal.Keystroke) bool {
	for i, k := range keys {
		if k.Key == "Backspace" {
			return true
		}
		if i > 0 {
			prev := keys[i-1]
			gap := k.TS - prev.TS
			if prev.Key == " " && gap >= pauseAfterSpaceMin && gap <= pauseAfterSpaceMax {
				return true
			}
			if isSentenceEnd(prev.Key) && isUpper(k.Key) {
				return true
			}
		}
	}
	return false
}

func isSentenceEnd(key string) bool {
	return key == "." || key == "!" || key == "?"
}

func isUpper(key string) bool {
	if len(key) != 1 {
		return false
	}
	return key != strings.ToLower(key)
}

func (c *Classifier) scoreClicks(clicks []signal.Click) Channel {
	if len(clicks) < minClickSamples {
		return Channel{Suspicion: clickPenalty, Flags: []string{"INSUFFICIENT_CLICK_DATA"}}
	}

	score := 0
	var flags []string

	if signal.ClickPrecision(clicks) > precisionThreshold {
		score += 35
		flags = append(flags, "PERFECT_PRECISION")
	}

	rapid := 0
	for i := 1; i < len(clicks); i++ {
		if clicks[i].TS-clicks[i-1].TS < rapidClickGapMs {
			rapid++
		}
	}
	if gaps := len(clicks) - 1; gaps > 0 && rapid*2 > gaps {
		score += 40
		flags = append(flags, "RAPID_FIRE")
	}

	if isGridAligned(clicks) {
		score += 30
		flags = append(flags, "GRID_ALIGNED")
	}

	return Channel{Suspicion: clamp(score), Flags: flags, Sufficient: true}
}

// isGridAligned reports whether click coordinates collapse onto a coarse
// grid: at most 3 distinct values per axis after rounding to 10px cells.
func isGridAligned(clicks []signal.Click) bool {
	xs := make(map[float64]struct{})
	ys := make(map[float64]struct{})
	for _, c := range clicks {
		xs[math.Round(c.X/gridCellPx)] = struct{}{}
		ys[math.Round(c.Y/gridCellPx)] = struct{}{}
	}
	return len(xs) <= maxGridDistinctVals && len(ys) <= maxGridDistinctVals
}

func clamp(score int) uint8 {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return uint8(score)
}
