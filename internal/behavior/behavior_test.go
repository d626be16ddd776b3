package behavior

import (
	"testing"

	"github.com/snarelabs/snare/internal/signal"
)

// botPointerTrace is a uniform straight-line trace: zero tremor, perfect
// curve fit, fully collinear.
func botPointerTrace(n int) []signal.Point {
	pts := make([]signal.Point, n)
	for i := range pts {
		pts[i] = signal.Point{X: float64(i * 5), Y: float64(i * 5), TS: uint64(i * 10)}
	}
	return pts
}

// humanPointerTrace wobbles position and timing.
func humanPointerTrace(n int) []signal.Point {
	pts := make([]signal.Point, n)
	ts := uint64(0)
	for i := range pts {
		wobble := float64((i%7)-3) * 4
		ts += uint64(14 + (i*13)%23)
		pts[i] = signal.Point{X: float64(i*6) + wobble, Y: float64(i*4) - wobble, TS: ts}
	}
	return pts
}

func humanKeys() []signal.Keystroke {
	return []signal.Keystroke{
		{Key: "H", TS: 0},
		{Key: "i", TS: 180},
		{Key: "Backspace", TS: 420},
		{Key: "e", TS: 610},
		{Key: "y", TS: 820},
		{Key: " ", TS: 1000},
		{Key: "t", TS: 1400}, // 400ms pause after space
	}
}

func TestClassify_InsufficientEverything(t *testing.T) {
	res := NewClassifier().Classify(nil, nil, nil)

	if res.Pointer.Suspicion != 30 {
		t.Errorf("pointer penalty: want 30, got %d", res.Pointer.Suspicion)
	}
	if res.Keystroke.Suspicion != 20 {
		t.Errorf("keystroke penalty: want 20, got %d", res.Keystroke.Suspicion)
	}
	if res.Click.Suspicion != 15 {
		t.Errorf("click penalty: want 15, got %d", res.Click.Suspicion)
	}
	// (30+20+15)/3 = 21
	if res.Overall != 21 {
		t.Errorf("overall: want 21, got %d", res.Overall)
	}
	if res.IsBot {
		t.Error("missing data alone should not cross the bot threshold")
	}
}

func TestScorePointer_BotTrace(t *testing.T) {
	res := NewClassifier().Classify(botPointerTrace(31), nil, nil)

	p := res.Pointer
	if !p.Sufficient {
		t.Fatal("expected pointer channel to have sufficient data")
	}
	for _, want := range []string{"LINEAR_MOVEMENT", "NO_TREMOR", "PERFECT_CURVES"} {
		if !hasFlag(p.Flags, want) {
			t.Errorf("expected flag %s, got %v", want, p.Flags)
		}
	}
	if p.Suspicion != 100 {
		t.Errorf("expected 40+25+35 capped behavior, got %d", p.Suspicion)
	}
}

func TestScorePointer_HumanTrace(t *testing.T) {
	res := NewClassifier().Classify(humanPointerTrace(40), nil, nil)

	p := res.Pointer
	if hasFlag(p.Flags, "LINEAR_MOVEMENT") {
		t.Errorf("human trace flagged linear: %v", p.Flags)
	}
	if hasFlag(p.Flags, "PERFECT_CURVES") {
		t.Errorf("human trace flagged perfect curves: %v", p.Flags)
	}
	if p.Suspicion > 40 {
		t.Errorf("human pointer suspicion too high: %d (%v)", p.Suspicion, p.Flags)
	}
}

func TestScoreKeystrokes_UniformBot(t *testing.T) {
	keys := make([]signal.Keystroke, 10)
	for i := range keys {
		keys[i] = signal.Keystroke{Key: "a", TS: uint64(i * 30)} // exact 30ms apart
	}
	res := NewClassifier().Classify(nil, keys, nil)

	k := res.Keystroke
	for _, want := range []string{"UNIFORM_TIMING", "INHUMAN_TYPING_SPEED", "NO_NATURAL_TYPING"} {
		if !hasFlag(k.Flags, want) {
			t.Errorf("expected flag %s, got %v", want, k.Flags)
		}
	}
	if k.Suspicion != 100 {
		t.Errorf("expected 45+40+20 capped to 100, got %d", k.Suspicion)
	}
}

func TestScoreKeystrokes_Human(t *testing.T) {
	res := NewClassifier().Classify(nil, humanKeys(), nil)

	k := res.Keystroke
	if hasFlag(k.Flags, "NO_NATURAL_TYPING") {
		t.Errorf("backspace and pause evidence ignored: %v", k.Flags)
	}
	if hasFlag(k.Flags, "UNIFORM_TIMING") {
		t.Errorf("varied intervals flagged uniform: %v", k.Flags)
	}
	if k.Suspicion != 0 {
		t.Errorf("expected 0 suspicion for human typing, got %d", k.Suspicion)
	}
}

func TestScoreKeystrokes_CapitalAfterPeriod(t *testing.T) {
	keys := []signal.Keystroke{
		{Key: "d", TS: 0},
		{Key: ".", TS: 150},
		{Key: "T", TS: 300},
		{Key: "h", TS: 450},
		{Key: "e", TS: 620},
	}
	res := NewClassifier().Classify(nil, keys, nil)
	if hasFlag(res.Keystroke.Flags, "NO_NATURAL_TYPING") {
		t.Errorf("capitalization after sentence end not recognized: %v", res.Keystroke.Flags)
	}
}

func TestScoreClicks_BotPattern(t *testing.T) {
	target := &signal.Rect{X: 0, Y: 0, W: 100, H: 40}
	clicks := []signal.Click{
		{X: 50, Y: 20, TS: 0, Target: target},
		{X: 50, Y: 20, TS: 40, Target: target},
		{X: 50, Y: 20, TS: 80, Target: target},
		{X: 50, Y: 20, TS: 120, Target: target},
	}
	res := NewClassifier().Classify(nil, nil, clicks)

	c := res.Click
	for _, want := range []string{"PERFECT_PRECISION", "RAPID_FIRE", "GRID_ALIGNED"} {
		if !hasFlag(c.Flags, want) {
			t.Errorf("expected flag %s, got %v", want, c.Flags)
		}
	}
	if c.Suspicion != 100 {
		t.Errorf("expected 35+40+30 capped to 100, got %d", c.Suspicion)
	}
}

func TestScoreClicks_HumanPattern(t *testing.T) {
	clicks := []signal.Click{
		{X: 48, Y: 33, TS: 0, Target: &signal.Rect{X: 0, Y: 0, W: 100, H: 40}},
		{X: 211, Y: 140, TS: 900},
		{X: 95, Y: 388, TS: 2400},
		{X: 402, Y: 77, TS: 3900},
	}
	res := NewClassifier().Classify(nil, nil, clicks)

	c := res.Click
	if hasFlag(c.Flags, "RAPID_FIRE") || hasFlag(c.Flags, "GRID_ALIGNED") {
		t.Errorf("human click pattern over-flagged: %v", c.Flags)
	}
}

func TestClassify_OverallBotVerdict(t *testing.T) {
	target := &signal.Rect{X: 0, Y: 0, W: 100, H: 40}
	clicks := []signal.Click{
		{X: 50, Y: 20, TS: 0, Target: target},
		{X: 50, Y: 20, TS: 40, Target: target},
		{X: 50, Y: 20, TS: 80, Target: target},
	}
	keys := make([]signal.Keystroke, 8)
	for i := range keys {
		keys[i] = signal.Keystroke{Key: "x", TS: uint64(i * 25)}
	}

	res := NewClassifier().Classify(botPointerTrace(31), keys, clicks)

	if !res.IsBot {
		t.Errorf("fully automated traces not flagged as bot: overall=%d", res.Overall)
	}
	if res.Overall != 100 {
		t.Errorf("expected overall 100, got %d", res.Overall)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
