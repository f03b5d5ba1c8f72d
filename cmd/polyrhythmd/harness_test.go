package main

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testModuleConfig() ModuleConfig {
	cfg := DefaultConfig()
	return cfg.ToModuleConfig()
}

// recordingJournal captures journal entries in memory.
type recordingJournal struct {
	entries []JournalEntry
}

func (j *recordingJournal) Record(e JournalEntry) {
	j.entries = append(j.entries, e)
}

func (j *recordingJournal) kinds() []JournalKind {
	var out []JournalKind
	for _, e := range j.entries {
		out = append(out, e.Kind)
	}
	return out
}

// harness drives a Module the way the daemon loop does: every event is
// reduced and its commands are executed, with a simulated bomb clock.
type harness struct {
	t        *testing.T
	m        *Module
	clock    float64
	countsUp bool

	bomb    *LocalBomb
	journal *recordingJournal
	// offline makes every bomb report fail.
	offline bool

	commands   []Command
	broadcasts []StateBroadcast
}

func newHarness(t *testing.T, cfg ModuleConfig) *harness {
	t.Helper()
	logger := testLogger()
	start := defaultClockStartSec
	if cfg.ClockCountsUp {
		start = 0
	}
	return &harness{
		t:        t,
		m:        NewModule(1, cfg, rand.New(rand.NewPCG(1, 2)), logger),
		clock:    start,
		countsUp: cfg.ClockCountsUp,
		bomb:     NewLocalBomb(logger),
		journal:  &recordingJournal{},
	}
}

func (h *harness) reduce(e Event) ReduceResult {
	queue := []Event{e}
	var first ReduceResult
	for i := 0; len(queue) > 0; i++ {
		ev := queue[0]
		queue = queue[1:]
		rr := Reduce(h.m, ev)
		if i == 0 {
			first = rr
		}
		h.commands = append(h.commands, rr.Commands...)
		h.broadcasts = append(h.broadcasts, rr.Broadcasts...)
		var bomb Bomb = h.bomb
		if h.offline {
			bomb = &failingBomb{}
		}
		for _, cmd := range rr.Commands {
			runEffect(bomb, h.journal, cmd, testLogger(), func(obs Event) {
				queue = append(queue, obs)
			})
		}
	}
	return first
}

// act stamps an action with the current clock reading.
func (h *harness) act(a Event) ReduceResult {
	return h.reduce(TimedEvent{Event: a, Clock: h.clock})
}

// tick advances the clock in its running direction by dt and steps the scheduler.
func (h *harness) tick(dt float64) {
	if h.countsUp {
		h.clock += dt
	} else {
		h.clock -= dt
	}
	h.reduce(Tick{Dt: dt, Clock: h.clock})
}

// run ticks at 20 Hz for sec seconds.
func (h *harness) run(sec float64) {
	for elapsed := 0.0; elapsed < sec; elapsed += 0.05 {
		h.tick(0.05)
	}
}

// runUntil ticks at 20 Hz until cond holds, failing after limit seconds.
func (h *harness) runUntil(limit float64, cond func() bool) {
	h.t.Helper()
	for elapsed := 0.0; !cond(); elapsed += 0.05 {
		if elapsed > limit {
			h.t.Fatalf("condition not met after %.1fs (mode=%s)", limit, h.m.Mode())
		}
		h.tick(0.05)
	}
}

// setDigit moves the clock within its current ten seconds so its last
// whole-second digit reads d.
func (h *harness) setDigit(d int) {
	h.clock = float64(int(h.clock)/10*10+d) + 0.5
}

// playRound presses in Idle and ticks until the module accepts a submission.
func (h *harness) playRound() {
	h.t.Helper()
	if h.m.Mode() != ModeIdle {
		h.t.Fatalf("playRound: expected idle, got %s", h.m.Mode())
	}
	h.act(Press{})
	if h.m.Mode() != ModePlaying {
		h.t.Fatalf("expected playing after press, got %s", h.m.Mode())
	}
	h.runUntil(10, func() bool { return h.m.Mode() == ModeSubmitting })
}

// submit presses at digit a and releases at digit b.
func (h *harness) submit(a, b int) {
	h.setDigit(a)
	h.act(Press{})
	h.setDigit(b)
	h.act(Release{})
}

func (h *harness) reset() {
	h.commands = nil
	h.broadcasts = nil
}

func (h *harness) sounds() []string {
	var cues []string
	for _, b := range h.broadcasts {
		if s, ok := b.(BroadcastSound); ok {
			cues = append(cues, s.Cue)
		}
	}
	return cues
}

func (h *harness) lastPulse() (BroadcastPulse, bool) {
	for i := len(h.broadcasts) - 1; i >= 0; i-- {
		if p, ok := h.broadcasts[i].(BroadcastPulse); ok {
			return p, true
		}
	}
	return BroadcastPulse{}, false
}

func countCommands[T Command](cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if _, ok := c.(T); ok {
			n++
		}
	}
	return n
}

func countCue(cues []string, cue string) int {
	n := 0
	for _, c := range cues {
		if c == cue {
			n++
		}
	}
	return n
}

func containsCue(cues []string, cue string) bool {
	return countCue(cues, cue) > 0
}
