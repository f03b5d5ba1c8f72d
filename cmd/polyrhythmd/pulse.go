package main

import "fmt"

// Symbol is the glyph shown on the button or on a pulse.
// The renderer maps each value to its own asset.
type Symbol int

const (
	SymbolPlay Symbol = iota
	SymbolPlayFilled
	SymbolCircle
	SymbolCircleFilled
	SymbolStar
)

func (s Symbol) String() string {
	switch s {
	case SymbolPlay:
		return "play"
	case SymbolPlayFilled:
		return "play_filled"
	case SymbolCircle:
		return "circle"
	case SymbolCircleFilled:
		return "circle_filled"
	case SymbolStar:
		return "star"
	default:
		return "unknown"
	}
}

func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Symbol) UnmarshalText(b []byte) error {
	for v := SymbolPlay; v <= SymbolStar; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown symbol %q", b)
}

// Color is a named pulse tint.
type Color string

const (
	ColorWhite  Color = "white"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorBlue   Color = "blue"
	ColorYellow Color = "yellow"
)

// Pulse is the currently displayed pulse.
type Pulse struct {
	ID        uint64  `json:"id"`
	Duration  float64 `json:"duration"`
	Remaining float64 `json:"remaining"`
	Symbol    Symbol  `json:"symbol"`
	Color     Color   `json:"color"`
	Alpha     float64 `json:"alpha"`
}

// PulseEmitter owns the single pulse visual. A new pulse always replaces the
// previous one, whatever its remaining life.
type PulseEmitter struct {
	sched   *Scheduler
	task    TaskID
	nextID  uint64
	current *Pulse
}

func NewPulseEmitter(sched *Scheduler) *PulseEmitter {
	return &PulseEmitter{sched: sched}
}

// Pulse shows symbol at full opacity and fades it linearly to 0 over duration.
func (p *PulseEmitter) Pulse(duration float64, symbol Symbol, color Color, out *outbox) {
	p.sched.Cancel(p.task)
	p.task = 0

	p.nextID++
	pl := &Pulse{
		ID:        p.nextID,
		Duration:  duration,
		Remaining: duration,
		Symbol:    symbol,
		Color:     color,
		Alpha:     1,
	}
	p.current = pl
	out.broadcast(BroadcastPulse{ID: pl.ID, Duration: duration, Symbol: symbol, Color: color})

	if duration <= 0 {
		pl.Remaining = 0
		pl.Alpha = 0
		out.broadcast(BroadcastPulseAlpha{ID: pl.ID, Alpha: 0})
		return
	}

	p.task = p.sched.Spawn("pulse_fade", TaskFunc(func(tk Tick, out *outbox) bool {
		pl.Remaining -= tk.Dt
		if pl.Remaining < 0 {
			pl.Remaining = 0
		}
		pl.Alpha = pl.Remaining / pl.Duration
		out.broadcast(BroadcastPulseAlpha{ID: pl.ID, Alpha: pl.Alpha})
		return pl.Remaining <= 0
	}))
}

// Current returns a copy of the displayed pulse, if any. A faded pulse stays
// current at alpha 0 until it is replaced.
func (p *PulseEmitter) Current() (Pulse, bool) {
	if p.current == nil {
		return Pulse{}, false
	}
	return *p.current, true
}

// Fading reports whether a fade task is still live.
func (p *PulseEmitter) Fading() bool {
	return p.sched.Running(p.task)
}
