// Package signal extracts numeric features from raw interaction traces.
//
// Every function here is pure and deterministic: it takes an ordered sample
// sequence and returns a number. Sequences below a function's minimum length
// yield the zero value; callers decide what "insufficient data" means, it is
// never an error at this layer.
package signal

import "math"

// Point is a single pointer-movement sample. Timestamps are client-supplied
// milliseconds, ascending within a channel.
type Point struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	TS uint64  `json:"timestamp"`
}

// Keystroke is a single key-press sample.
type Keystroke struct {
	Key string `json:"key"`
	TS  uint64 `json:"timestamp"`
}

// Rect is a target bounding rectangle attached to a click.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Click is a single click sample, optionally carrying the bounds of the
// element that was clicked.
type Click struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	TS     uint64  `json:"timestamp"`
	Target *Rect   `json:"targetBounds,omitempty"`
}

// minTremorPoints is the floor below which Tremor reports zero. A zero tremor
// on a long trace is itself a bot signal, so the floor matters downstream.
const minTremorPoints = 10

// minBezierPoints is the floor below which BezierMatchRatio reports zero.
const minBezierPoints = 20

// StraightLineCount counts consecutive point triples that are collinear.
// Collinearity uses twice the triangle area: |x1(y2−y3)+x2(y3−y1)+x3(y1−y2)|,
// flagged when below 1.0. Returns 0 for fewer than 3 points.
func StraightLineCount(points []Point) int {
	if len(points) < 3 {
		return 0
	}
	count := 0
	for i := 0; i+2 < len(points); i++ {
		p1, p2, p3 := points[i], points[i+1], points[i+2]
		area := math.Abs(p1.X*(p2.Y-p3.Y) + p2.X*(p3.Y-p1.Y) + p3.X*(p1.Y-p2.Y))
		if area < 1.0 {
			count++
		}
	}
	return count
}

// Speeds returns the speed in px/sec for each consecutive pair of points.
// Pairs with zero elapsed time are skipped. Returns nil for fewer than 2 points.
func Speeds(points []Point) []float64 {
	if len(points) < 2 {
		return nil
	}
	speeds := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		elapsed := float64(points[i].TS-points[i-1].TS) / 1000.0
		if elapsed <= 0 {
			continue
		}
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		speeds = append(speeds, math.Hypot(dx, dy)/elapsed)
	}
	return speeds
}

// Tremor measures the mean micro-deviation of actual movement from a linear
// extrapolation of the prior two points. Human hands produce measurable
// deviation; scripted movement does not. Returns 0 for fewer than 10 points.
func Tremor(points []Point) float64 {
	if len(points) < minTremorPoints {
		return 0
	}
	var total float64
	n := 0
	for i := 2; i < len(points); i++ {
		p1, p2, actual := points[i-2], points[i-1], points[i]
		expectedX := p2.X + (p2.X - p1.X)
		expectedY := p2.Y + (p2.Y - p1.Y)
		total += math.Hypot(actual.X-expectedX, actual.Y-expectedY)
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// BezierMatchRatio fits a cubic Bézier curve through the trace (control points
// at relative positions 0, 1/3, 2/3, 1), regenerates the curve at the same
// sample count, and returns the fraction of samples within distance 2.0 of
// the fitted curve. Generated movement hugs the curve almost perfectly.
// Returns 0 for fewer than 20 points.
func BezierMatchRatio(points []Point) float64 {
	n := len(points)
	if n < minBezierPoints {
		return 0
	}

	p0 := points[0]
	p1 := points[(n-1)/3]
	p2 := points[2*(n-1)/3]
	p3 := points[n-1]

	matched := 0
	for i, actual := range points {
		t := float64(i) / float64(n-1)
		ex, ey := cubicBezier(p0, p1, p2, p3, t)
		if math.Hypot(actual.X-ex, actual.Y-ey) < 2.0 {
			matched++
		}
	}
	return float64(matched) / float64(n)
}

func cubicBezier(p0, p1, p2, p3 Point, t float64) (float64, float64) {
	u := 1 - t
	b0 := u * u * u
	b1 := 3 * u * u * t
	b2 := 3 * u * t * t
	b3 := t * t * t
	x := b0*p0.X + b1*p1.X + b2*p2.X + b3*p3.X
	y := b0*p0.Y + b1*p1.Y + b2*p2.Y + b3*p3.Y
	return x, y
}

// IntervalVariance returns the population variance of consecutive timestamp
// deltas. Returns 0 for fewer than 2 timestamps.
func IntervalVariance(timestamps []uint64) float64 {
	deltas := Intervals(timestamps)
	return Variance(deltas)
}

// Intervals returns the deltas between consecutive timestamps in milliseconds.
func Intervals(timestamps []uint64) []float64 {
	if len(timestamps) < 2 {
		return nil
	}
	deltas := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		deltas = append(deltas, float64(timestamps[i]-timestamps[i-1]))
	}
	return deltas
}

// ClickPrecision returns the mean targeting precision over clicks that carry
// a target rectangle: 1 − (distance to center / half-diagonal), so 1.0 is a
// dead-center click. Clicks without bounds are ignored. Returns 0 when no
// click carries bounds.
func ClickPrecision(clicks []Click) float64 {
	var total float64
	n := 0
	for _, c := range clicks {
		if c.Target == nil || c.Target.W <= 0 || c.Target.H <= 0 {
			continue
		}
		cx := c.Target.X + c.Target.W/2
		cy := c.Target.Y + c.Target.H/2
		halfDiag := math.Hypot(c.Target.W, c.Target.H) / 2
		dist := math.Hypot(c.X-cx, c.Y-cy)
		norm := dist / halfDiag
		if norm > 1 {
			norm = 1
		}
		total += 1 - norm
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance returns the population variance, or 0 for fewer than 2 values.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}
