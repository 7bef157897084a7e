package progress

import (
	"fmt"
	"math"
)

// Sink receives formatted "<percent>% <message>" lines.
type Sink func(line string)

// Tracker reports a single percentage across a pipeline of weighted stages.
//
// Each stage reserves a slice of the 0..1 range with Start, reports its own
// local completion ratio with Emit, and commits the slice with End. Stages do
// not need to know how the outer pipeline allocated its weights.
type Tracker struct {
	sink   Sink
	base   float64
	weight float64
}

// NewTracker creates a tracker that writes to sink. A nil sink is allowed.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{sink: sink}
}

// Start opens a stage that may consume weight of the whole.
func (t *Tracker) Start(weight float64, label ...string) {
	t.weight = clamp(weight)
	if msg := first(label); msg != "" {
		t.Emit(0, msg)
	}
}

// Emit reports the current stage as ratio complete. It never changes base.
func (t *Tracker) Emit(ratio float64, label string) {
	t.say(t.percent(ratio), label)
}

// End commits the current stage.
func (t *Tracker) End(label ...string) {
	t.base = math.Min(1, t.base+t.weight)
	t.weight = 0
	if msg := first(label); msg != "" {
		t.say(int(math.Round(t.base*100)), msg)
	}
}

// Base returns the committed fraction of the pipeline.
func (t *Tracker) Base() float64 {
	return t.base
}

// Remaining returns the uncommitted fraction, used for a final stage.
func (t *Tracker) Remaining() float64 {
	return math.Max(0, 1-t.base)
}

// Percent returns the percentage Emit would report for ratio.
func (t *Tracker) Percent(ratio float64) int {
	return t.percent(ratio)
}

func (t *Tracker) percent(ratio float64) int {
	return int(math.Round((t.base + t.weight*clamp(ratio)) * 100))
}

func (t *Tracker) say(pct int, msg string) {
	if t.sink == nil {
		return
	}
	t.sink(fmt.Sprintf("%d%% %s", pct, msg))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func first(label []string) string {
	if len(label) == 0 {
		return ""
	}
	return label[0]
}
