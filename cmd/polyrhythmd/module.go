package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
)

// ============================================================================
// Module State Machine
// ============================================================================
// A round: Idle --press--> Playing --rhythms end--> Submitting
//          Submitting --press--> capture first digit
//          Submitting --release--> compare with encoding --> Idle (or Solved)
//          Submitting --window expires--> Idle (one stage lost)
//
// Three correct submissions solve the module. Solved is terminal.
// ============================================================================

// Stages is the number of correct submissions needed to solve a module.
const Stages = 3

const unsetDigit = -1

// Mode is the module's interaction mode.
type Mode int

const (
	ModeIdle Mode = iota
	ModePlaying
	ModeSubmitting
	ModeSolved
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModePlaying:
		return "playing"
	case ModeSubmitting:
		return "submitting"
	case ModeSolved:
		return "solved"
	default:
		return "unknown"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	for _, v := range []Mode{ModeIdle, ModePlaying, ModeSubmitting, ModeSolved} {
		if v.String() == string(b) {
			*m = v
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", b)
}

// Encoding is the expected answer of a round: each rhythm's beat count mod 10.
type Encoding [2]int

// Capture holds the clock digits read at press and release.
type Capture [2]int

var emptyCapture = Capture{unsetDigit, unsetDigit}

// Pressed reports whether the first digit has been captured.
func (c Capture) Pressed() bool { return c[0] != unsetDigit }

// Sound cue names besides the two rhythm tones.
const (
	CueCapture = "lower"
	CueGood    = "good"
	CueStrike  = "strike"
	CueSolve   = "solve"
	CueCancel  = "cancel"
)

// ModuleIDs hands out sequential module ids starting at 1.
type ModuleIDs struct {
	last atomic.Int64
}

func (ids *ModuleIDs) Next() int {
	return int(ids.last.Add(1))
}

// ModuleConfig holds the round and timing parameters of a module.
type ModuleConfig struct {
	SubmitWindowSec    float64
	AutomationActive   bool
	AutomationBonusSec float64
	MinBeats           int
	MaxBeats           int
	MinDurationScale   float64
	MaxDurationScale   float64
	FeedbackPulseSec   float64
	SolveMeasureSec    float64
	ReplayCooldownSec  float64
	ClockCountsUp      bool
	Ambient            bool
	Player             PlayerConfig
}

// Module is one polyrhythm puzzle. It is owned by the daemon goroutine and is
// only mutated through Reduce.
type Module struct {
	ID     int
	cfg    ModuleConfig
	logger *slog.Logger
	rng    *rand.Rand

	mode          Mode
	correct       int
	strikes       int
	round         int
	drawn         [2]int
	duration      float64
	encoding      Encoding
	capture       Capture
	symbol        Symbol
	symbolVisible bool
	passed        bool
	passPending   bool
	lastClock     float64

	sched  *Scheduler
	pulse  *PulseEmitter
	player *Player

	playTimer   TaskID
	submitTimer TaskID
	solveAnim   TaskID

	replay   *replayTask
	replayID TaskID

	automation       []*automationTask
	automationRunner TaskID
}

// NewModule builds an Idle module. When cfg.Ambient is set the attract loop
// starts on the first tick.
func NewModule(id int, cfg ModuleConfig, rng *rand.Rand, logger *slog.Logger) *Module {
	sched := NewScheduler()
	pulse := NewPulseEmitter(sched)
	m := &Module{
		ID:            id,
		cfg:           cfg,
		logger:        logger.With("module_id", id),
		rng:           rng,
		mode:          ModeIdle,
		capture:       emptyCapture,
		symbol:        SymbolPlay,
		symbolVisible: true,
		sched:         sched,
		pulse:         pulse,
		player:        NewPlayer(cfg.Player, sched, pulse, rng),
	}
	if cfg.Ambient {
		m.player.KeepPlaying()
	}
	return m
}

func (m *Module) Mode() Mode             { return m.mode }
func (m *Module) Correct() int           { return m.correct }
func (m *Module) Strikes() int           { return m.strikes }
func (m *Module) Encoding() Encoding     { return m.encoding }
func (m *Module) Capture() Capture       { return m.capture }
func (m *Module) Passed() bool           { return m.passed }
func (m *Module) Symbol() (Symbol, bool) { return m.symbol, m.symbolVisible }

// Stage is the number of completed stages: the correct count, or Stages once solved.
func (m *Module) Stage() int {
	if m.mode == ModeSolved {
		return Stages
	}
	return m.correct
}

func (m *Module) observeClock(clock float64) {
	m.lastClock = clock
}

// lastDigit is the last digit of the whole seconds of a clock reading.
func lastDigit(clock float64) int {
	d := int(clock) % 10
	if d < 0 {
		d = -d
	}
	return d
}

// Press handles the button going down at the given clock reading.
func (m *Module) Press(clock float64, out *outbox) {
	out.broadcast(BroadcastHaptic{Strength: 1})

	switch m.mode {
	case ModeIdle:
		m.startRound(out)

	case ModeSubmitting:
		if m.capture.Pressed() {
			return
		}
		m.sched.Cancel(m.submitTimer)
		m.submitTimer = 0
		m.capture = Capture{lastDigit(clock), unsetDigit}
		m.setSymbol(SymbolCircleFilled, true, out)
		out.broadcast(BroadcastSound{Cue: CueCapture})

	default:
		// Playing and Solved ignore presses.
	}
}

// Release handles the button going up at the given clock reading.
func (m *Module) Release(clock float64, out *outbox) {
	out.broadcast(BroadcastHaptic{Strength: 0.5})

	if m.mode != ModeSubmitting || !m.capture.Pressed() {
		return
	}
	m.capture[1] = lastDigit(clock)

	matched := Encoding(m.capture) == m.encoding
	if matched {
		m.correct++
		m.logger.Info("submission correct",
			"submitted", m.capture, "expected", m.encoding, "stages_to_go", Stages-m.correct)
		if m.correct < Stages {
			out.broadcast(BroadcastSound{Cue: CueGood})
		}
	} else {
		m.strikes++
		m.logger.Info("submission incorrect, strike",
			"submitted", m.capture, "expected", m.encoding)
		out.command(CmdReportStrike{ModuleID: m.ID})
		out.broadcast(BroadcastSound{Cue: CueStrike})
	}
	m.journal(JournalSubmit, out)

	if m.correct >= Stages {
		m.solve(false, out)
		return
	}
	if matched {
		m.feedback(ColorGreen, out)
	} else {
		m.feedback(ColorRed, out)
	}
}

func (m *Module) startRound(out *outbox) {
	m.player.StopAmbient()

	first, second := drawDistinct(m.rng, m.cfg.MinBeats, m.cfg.MaxBeats)
	scale := m.cfg.MinDurationScale + m.rng.Float64()*(m.cfg.MaxDurationScale-m.cfg.MinDurationScale)
	duration := float64(max(first, second)) * scale

	if err := m.player.Play(first, second, duration, out); err != nil {
		m.logger.Error("cannot play polyrhythm", "error", err)
		return
	}

	m.round++
	m.drawn = [2]int{first, second}
	m.duration = duration
	m.encoding = Encoding{first % 10, second % 10}
	m.capture = emptyCapture
	m.mode = ModePlaying
	m.logger.Info("playing polyrhythm", "round", m.round, "first", first, "second", second, "duration", duration)
	m.logger.Debug("expected submission", "encoding", m.encoding)
	m.journal(JournalPlay, out)
	m.broadcastMode(out)

	remaining := duration
	m.playTimer = m.sched.Spawn("play_timer", TaskFunc(func(tk Tick, out *outbox) bool {
		remaining -= tk.Dt
		if remaining > 0 {
			return false
		}
		m.playTimer = 0
		m.enterSubmitting(tk.Clock, out)
		return true
	}))
}

func (m *Module) enterSubmitting(clock float64, out *outbox) {
	m.mode = ModeSubmitting
	m.capture = emptyCapture
	m.setSymbol(SymbolCircle, true, out)
	m.broadcastMode(out)
	m.armSubmitTimer(clock)
}

// armSubmitTimer starts the submission window. The window is measured on the
// bomb clock in the direction it runs.
func (m *Module) armSubmitTimer(clock float64) {
	window := m.cfg.SubmitWindowSec
	if m.cfg.AutomationActive {
		window += m.cfg.AutomationBonusSec
	}

	var expired func(now float64) bool
	if m.cfg.ClockCountsUp {
		deadline := clock + window
		expired = func(now float64) bool { return now > deadline }
	} else {
		deadline := clock - window
		expired = func(now float64) bool { return now < deadline }
	}

	m.submitTimer = m.sched.Spawn("submit_timer", TaskFunc(func(tk Tick, out *outbox) bool {
		if !expired(tk.Clock) {
			return false
		}
		m.submitTimer = 0
		m.submissionTimedOut(out)
		return true
	}))
}

func (m *Module) submissionTimedOut(out *outbox) {
	m.capture = emptyCapture
	if m.correct > 0 {
		m.correct--
	}
	m.logger.Info("ran out of time", "stages_to_go", Stages-m.correct)
	m.journal(JournalTimeout, out)
	m.feedback(ColorBlue, out)
	out.broadcast(BroadcastSound{Cue: CueCancel})
}

// feedback ends a submission attempt and returns to Idle.
func (m *Module) feedback(color Color, out *outbox) {
	m.capture = emptyCapture
	m.mode = ModeIdle
	m.setSymbol(SymbolPlay, true, out)
	m.pulse.Pulse(m.cfg.FeedbackPulseSec, SymbolCircleFilled, color, out)
	m.broadcastMode(out)
}

// solve enters the terminal state and starts the solve animation, which reports
// the pass when it completes.
func (m *Module) solve(forced bool, out *outbox) {
	if m.mode == ModeSolved {
		return
	}
	m.sched.Cancel(m.playTimer)
	m.sched.Cancel(m.submitTimer)
	m.playTimer, m.submitTimer = 0, 0
	m.player.StopAmbient()
	m.player.Stop()

	m.mode = ModeSolved
	m.capture = emptyCapture
	if forced {
		m.logger.Info("module force solved")
		m.journal(JournalForcedSolve, out)
	} else {
		m.logger.Info("module solved")
		m.journal(JournalSolve, out)
	}
	out.broadcast(BroadcastSound{Cue: CueSolve})
	m.broadcastMode(out)

	m.setSymbol(m.symbol, false, out)
	measure := m.cfg.SolveMeasureSec
	m.pulse.Pulse(measure, SymbolPlayFilled, ColorYellow, out)

	phase := 0
	wait := measure
	m.solveAnim = m.sched.Spawn("solve_animation", TaskFunc(func(tk Tick, out *outbox) bool {
		wait -= tk.Dt
		if wait > 0 {
			return false
		}
		if phase == 0 {
			phase = 1
			wait = measure
			m.pulse.Pulse(measure, SymbolCircleFilled, ColorYellow, out)
			return false
		}
		m.solveAnim = 0
		m.reportPass(out)
		m.pulse.Pulse(4*measure, SymbolStar, ColorYellow, out)
		return true
	}))
}

// reportPass asks the bomb to record the pass. Passed only turns true once the
// bomb confirms it.
func (m *Module) reportPass(out *outbox) {
	m.passPending = true
	out.command(CmdReportPass{ModuleID: m.ID})
}

func (m *Module) passReported() {
	if m.passed {
		return
	}
	m.passPending = false
	m.passed = true
	m.logger.Info("pass reported to bomb")
}

// passFailed fails a running replay; a later ForceSolve reports the pass again.
func (m *Module) passFailed(err error, out *outbox) {
	m.passPending = false
	if m.replay == nil {
		return
	}
	err = fmt.Errorf("report pass to bomb: %w", err)
	for _, w := range m.replay.waiters {
		out.command(CmdAutomationReply{Reply: w, Err: err})
	}
	m.sched.Cancel(m.replayID)
	m.replay = nil
	m.replayID = 0
}

func (m *Module) setSymbol(s Symbol, visible bool, out *outbox) {
	m.symbol = s
	m.symbolVisible = visible
	out.broadcast(BroadcastSymbol{Symbol: s, Visible: visible})
}

func (m *Module) broadcastMode(out *outbox) {
	out.broadcast(BroadcastMode{Mode: m.mode, Stage: m.Stage(), Correct: m.correct, Strikes: m.strikes})
}

func (m *Module) journal(kind JournalKind, out *outbox) {
	out.command(CmdJournal{Entry: JournalEntry{
		Kind:     kind,
		ModuleID: m.ID,
		Round:    m.round,
		Stage:    m.Stage(),
		First:    m.drawn[0],
		Second:   m.drawn[1],
		Encoding: m.encoding,
		Capture:  m.capture,
		Correct:  m.correct,
		Strikes:  m.strikes,
		Clock:    m.lastClock,
	}})
}

// ============================================================================
// Snapshot
// ============================================================================

// StateSnapshot is a read-only copy of the module state handed to other goroutines.
type StateSnapshot struct {
	ModuleID      int      `json:"module_id"`
	Mode          Mode     `json:"mode"`
	Stage         int      `json:"stage"`
	Correct       int      `json:"correct"`
	Strikes       int      `json:"strikes"`
	Round         int      `json:"round"`
	Symbol        Symbol   `json:"symbol"`
	SymbolVisible bool     `json:"symbol_visible"`
	Capturing     bool     `json:"capturing"`
	Passed        bool     `json:"passed"`
	Clock         float64  `json:"clock"`
	Ambient       bool     `json:"ambient"`
	ForceSolving  bool     `json:"force_solving"`
	Automation    int      `json:"automation_queued"`
	Tasks         []string `json:"tasks"`
	// Pulse lets a renderer that connects mid-fade pick up the current pulse.
	Pulse       *Pulse `json:"pulse,omitempty"`
	PulseFading bool   `json:"pulse_fading"`
}

func (m *Module) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		ModuleID:      m.ID,
		Mode:          m.mode,
		Stage:         m.Stage(),
		Correct:       m.correct,
		Strikes:       m.strikes,
		Round:         m.round,
		Symbol:        m.symbol,
		SymbolVisible: m.symbolVisible,
		Capturing:     m.mode == ModeSubmitting && m.capture.Pressed(),
		Passed:        m.passed,
		Clock:         m.lastClock,
		Ambient:       m.player.Ambient(),
		ForceSolving:  m.replay != nil,
		Automation:    len(m.automation),
		Tasks:         m.sched.Names(),
		PulseFading:   m.pulse.Fading(),
	}
	if p, ok := m.pulse.Current(); ok {
		snap.Pulse = &p
	}
	return snap
}
