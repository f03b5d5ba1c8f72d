package main

import (
	"fmt"
	"math/rand/v2"
)

// PlayerConfig holds the timing knobs of the rhythm player.
type PlayerConfig struct {
	BeatPulseSec       float64
	AmbientMinBeats    int
	AmbientMaxBeats    int
	AmbientWindowSec   float64
	AmbientCooldownSec float64
}

// Player drives the two rhythm tracks of a round. Every beat emits the track's
// tone cue and a short white pulse.
type Player struct {
	cfg    PlayerConfig
	sched  *Scheduler
	pulse  *PulseEmitter
	rng    *rand.Rand
	tracks [2]TaskID

	ambient TaskID
}

func NewPlayer(cfg PlayerConfig, sched *Scheduler, pulse *PulseEmitter, rng *rand.Rand) *Player {
	return &Player{cfg: cfg, sched: sched, pulse: pulse, rng: rng}
}

// Play starts a tone A track of first beats and a tone B track of second beats,
// both spanning duration. Tracks from an earlier Play are stopped first.
// Both beats at time 0 fire before Play returns.
func (p *Player) Play(first, second int, duration float64, out *outbox) error {
	p.Stop()

	specs := [2]RhythmSpec{
		{BeatCount: first, Duration: duration, Tone: ToneA},
		{BeatCount: second, Duration: duration, Tone: ToneB},
	}
	var tracks [2]*RhythmTrack
	for i, spec := range specs {
		track, err := NewRhythmTrack(spec)
		if err != nil {
			return fmt.Errorf("rhythm %d: %w", i+1, err)
		}
		tracks[i] = track
	}

	for i, track := range tracks {
		p.fire(track.Start(), out)
		if track.Done() {
			continue
		}
		p.tracks[i] = p.sched.Spawn("rhythm_"+string(track.Spec().Tone), TaskFunc(func(tk Tick, out *outbox) bool {
			for _, b := range track.Advance(tk.Dt) {
				p.fire(b, out)
			}
			return track.Done()
		}))
	}
	return nil
}

func (p *Player) fire(b Beat, out *outbox) {
	out.broadcast(BroadcastSound{Cue: string(b.Tone)})
	p.pulse.Pulse(p.cfg.BeatPulseSec, SymbolPlayFilled, ColorWhite, out)
}

// Playing reports whether either track still has beats to fire.
func (p *Player) Playing() bool {
	return p.sched.Running(p.tracks[0]) || p.sched.Running(p.tracks[1])
}

// Stop cancels both tracks. The ambient loop, if any, keeps running.
func (p *Player) Stop() {
	for i, id := range p.tracks {
		p.sched.Cancel(id)
		p.tracks[i] = 0
	}
}

// KeepPlaying starts the attract loop: a random pair of rhythms over
// AmbientWindowSec, then a pause of AmbientCooldownSec, forever.
func (p *Player) KeepPlaying() {
	p.StopAmbient()

	var elapsed, next float64
	p.ambient = p.sched.Spawn("ambient", TaskFunc(func(tk Tick, out *outbox) bool {
		if elapsed >= next {
			a, b := drawDistinct(p.rng, p.cfg.AmbientMinBeats, p.cfg.AmbientMaxBeats)
			if err := p.Play(a, b, p.cfg.AmbientWindowSec, out); err != nil {
				return true
			}
			next = elapsed + p.cfg.AmbientWindowSec + p.cfg.AmbientCooldownSec
		}
		elapsed += tk.Dt
		return false
	}))
}

// StopAmbient ends the attract loop along with whatever it is playing.
func (p *Player) StopAmbient() {
	if p.sched.Cancel(p.ambient) {
		p.Stop()
	}
	p.ambient = 0
}

func (p *Player) Ambient() bool {
	return p.sched.Running(p.ambient)
}

// drawDistinct draws two different integers from [lo, hi].
func drawDistinct(rng *rand.Rand, lo, hi int) (int, int) {
	a := lo + rng.IntN(hi-lo+1)
	b := lo + rng.IntN(hi-lo)
	if b >= a {
		b++
	}
	return a, b
}
