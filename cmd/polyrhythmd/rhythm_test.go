package main

import (
	"math"
	"testing"
)

func TestBeatTargets(t *testing.T) {
	got := BeatTargets(4, 2.0)
	want := []float64{0.5, 1.0, 1.5, 2.0}
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("target[%d]: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestNewRhythmTrack_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		spec RhythmSpec
	}{
		{"zero beats", RhythmSpec{BeatCount: 0, Duration: 1, Tone: ToneA}},
		{"negative beats", RhythmSpec{BeatCount: -3, Duration: 1, Tone: ToneA}},
		{"zero duration", RhythmSpec{BeatCount: 3, Duration: 0, Tone: ToneA}},
		{"negative duration", RhythmSpec{BeatCount: 3, Duration: -1, Tone: ToneA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRhythmTrack(tt.spec); err == nil {
				t.Fatalf("expected error for %+v", tt.spec)
			}
		})
	}
}

// runTrack starts a track and advances it in dt steps well past its duration.
func runTrack(t *testing.T, spec RhythmSpec, dt float64) []Beat {
	t.Helper()
	track, err := NewRhythmTrack(spec)
	if err != nil {
		t.Fatalf("NewRhythmTrack: %v", err)
	}
	beats := []Beat{track.Start()}
	for elapsed := 0.0; elapsed < spec.Duration*2; elapsed += dt {
		beats = append(beats, track.Advance(dt)...)
	}
	return beats
}

func TestRhythmTrack_FiresExactlyBeatCount(t *testing.T) {
	for n := 1; n <= 11; n++ {
		for _, dt := range []float64{1.0 / 60, 0.05, 0.3} {
			beats := runTrack(t, RhythmSpec{BeatCount: n, Duration: 2.5, Tone: ToneB}, dt)
			if len(beats) != n {
				t.Fatalf("n=%d dt=%v: expected %d beats, got %d", n, dt, n, len(beats))
			}
		}
	}
}

func TestRhythmTrack_BeatsCarryToneAndIndex(t *testing.T) {
	beats := runTrack(t, RhythmSpec{BeatCount: 5, Duration: 1, Tone: ToneA}, 0.01)
	for i, b := range beats {
		if b.Tone != ToneA {
			t.Fatalf("beat %d: expected tone %q, got %q", i, ToneA, b.Tone)
		}
		if b.Index != i {
			t.Fatalf("beat %d: expected index %d, got %d", i, i, b.Index)
		}
	}
	if beats[0].At != 0 {
		t.Fatalf("expected first beat at 0, got %v", beats[0].At)
	}
}

func TestRhythmTrack_BeatsFireAfterTheirTargets(t *testing.T) {
	const dur = 3.0
	beats := runTrack(t, RhythmSpec{BeatCount: 3, Duration: dur, Tone: ToneA}, 0.1)
	// Beat k fires on the first step past dur*k/3.
	for k := 1; k < len(beats); k++ {
		target := dur * float64(k) / 3
		if beats[k].At != target {
			t.Fatalf("beat %d scheduled at %v, expected %v", k, beats[k].At, target)
		}
		if beats[k].Lag <= 0 || beats[k].Lag > 0.1+1e-9 {
			t.Fatalf("beat %d fired %v past its target, expected within one step", k, beats[k].Lag)
		}
	}
}

func TestRhythmTrack_BeatsStayInsideWindowOnCoarseTicks(t *testing.T) {
	for _, tc := range []struct {
		beats int
		dt    float64
	}{{2, 1.5}, {3, 0.9}, {5, 4}, {9, 0.35}} {
		spec := RhythmSpec{BeatCount: tc.beats, Duration: 1, Tone: ToneA}
		beats := runTrack(t, spec, tc.dt)
		if len(beats) != tc.beats {
			t.Fatalf("N=%d dt=%v: expected %d beats, got %d", tc.beats, tc.dt, tc.beats, len(beats))
		}
		for _, b := range beats {
			if b.At < 0 || b.At >= spec.Duration {
				t.Fatalf("N=%d dt=%v: beat %d at %v, outside [0, %v)", tc.beats, tc.dt, b.Index, b.At, spec.Duration)
			}
		}
	}
}

func TestRhythmTrack_LargeStepFiresSeveralBeats(t *testing.T) {
	track, err := NewRhythmTrack(RhythmSpec{BeatCount: 4, Duration: 1, Tone: ToneA})
	if err != nil {
		t.Fatalf("NewRhythmTrack: %v", err)
	}
	track.Start()

	beats := track.Advance(0.8)
	if len(beats) != 3 {
		t.Fatalf("expected 3 beats from a 0.8s step, got %d", len(beats))
	}
	if !track.Done() {
		t.Fatalf("expected track to be done")
	}
	if track.Fired() != 4 {
		t.Fatalf("expected Fired=4, got %d", track.Fired())
	}
	if more := track.Advance(5); len(more) != 0 {
		t.Fatalf("expected no beats after done, got %d", len(more))
	}
}

func TestRhythmTrack_SingleBeatIsDoneAfterStart(t *testing.T) {
	track, err := NewRhythmTrack(RhythmSpec{BeatCount: 1, Duration: 1, Tone: ToneB})
	if err != nil {
		t.Fatalf("NewRhythmTrack: %v", err)
	}
	b := track.Start()
	if b.Index != 0 || b.Tone != ToneB {
		t.Fatalf("unexpected start beat %+v", b)
	}
	if !track.Done() {
		t.Fatalf("expected a one-beat track to be done after Start")
	}
}
