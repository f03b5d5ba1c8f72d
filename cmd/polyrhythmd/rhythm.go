package main

import "fmt"

// Tone selects which of the two rhythm sounds a track plays.
// The value doubles as the cue name sent to the audio sink.
type Tone string

const (
	ToneA Tone = "lower"
	ToneB Tone = "higher"
)

// RhythmSpec describes one of the two rhythms of a round.
type RhythmSpec struct {
	BeatCount int
	Duration  float64
	Tone      Tone
}

// Beat is one firing of a RhythmTrack.
// Index 0 is the beat at time 0. At is the beat's scheduled track time, which is
// always inside the window; Lag is how far past At the firing tick landed.
type Beat struct {
	Tone  Tone
	Index int
	At    float64
	Lag   float64
}

// BeatTargets returns duration*k/beatCount for k in 1..beatCount.
func BeatTargets(beatCount int, duration float64) []float64 {
	targets := make([]float64, 0, beatCount)
	for k := 1; k <= beatCount; k++ {
		targets = append(targets, duration*float64(k)/float64(beatCount))
	}
	return targets
}

// RhythmTrack spreads BeatCount beats over Duration.
//
// The first beat fires at time 0 (Start). Advance fires one beat each time the
// elapsed time passes the next target. The last target (the exact end of the
// window) never fires, so a track yields exactly BeatCount beats in total.
type RhythmTrack struct {
	spec    RhythmSpec
	targets []float64
	elapsed float64
	fired   int
}

func NewRhythmTrack(spec RhythmSpec) (*RhythmTrack, error) {
	if spec.BeatCount < 1 {
		return nil, fmt.Errorf("beat count must be >= 1, got %d", spec.BeatCount)
	}
	if spec.Duration <= 0 {
		return nil, fmt.Errorf("duration must be > 0, got %v", spec.Duration)
	}
	return &RhythmTrack{
		spec:    spec,
		targets: BeatTargets(spec.BeatCount, spec.Duration),
	}, nil
}

// Start fires the beat at time 0. Call it once, before the first Advance.
func (t *RhythmTrack) Start() Beat {
	t.fired = 1
	return Beat{Tone: t.spec.Tone, Index: 0, At: 0}
}

// Advance integrates dt and returns the beats whose targets were passed.
func (t *RhythmTrack) Advance(dt float64) []Beat {
	if t.Done() {
		return nil
	}
	t.elapsed += dt

	var beats []Beat
	for len(t.targets) > 1 && t.elapsed > t.targets[0] {
		at := t.targets[0]
		t.targets = t.targets[1:]
		beats = append(beats, Beat{Tone: t.spec.Tone, Index: t.fired, At: at, Lag: t.elapsed - at})
		t.fired++
	}
	return beats
}

// Done reports whether only the suppressed final target remains.
func (t *RhythmTrack) Done() bool {
	return len(t.targets) <= 1
}

// Fired returns how many beats have fired so far, including the one at time 0.
func (t *RhythmTrack) Fired() int { return t.fired }

func (t *RhythmTrack) Spec() RhythmSpec { return t.spec }
