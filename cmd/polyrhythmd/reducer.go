package main

import (
	"time"
)

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (user actions, ticks, bomb command failures)
//   - Commands: side effects requested by the reducer (bomb strike/pass, journal, replies)
//   - Broadcasts: presentation cues (sounds, pulses, symbols, haptics) for the state websocket
//   - Reduce(): advances the module without performing I/O
//
// The daemon loop is responsible for executing Commands and feeding observations back as Events.

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at a fixed cadence.
// Dt is wall-clock delta in seconds between ticks. Clock is the bomb clock
// reading taken once for the whole tick.
type Tick struct {
	Now   time.Time
	Dt    float64
	Clock float64
}

func (Tick) eventMarker() {}

// TimedEvent wraps an Action with the wall time and bomb clock reading at
// which the daemon received it.
type TimedEvent struct {
	Event Event
	At    time.Time
	Clock float64
}

func (TimedEvent) eventMarker() {}

// BombCommandFailed is emitted when executing a Command fails.
type BombCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (BombCommandFailed) eventMarker() {}

// BombPassReported is emitted once the bomb has accepted a module's pass.
type BombPassReported struct {
	ModuleID int
	At       time.Time
}

func (BombPassReported) eventMarker() {}

// ==============================
// Broadcasts
// ==============================

// StateBroadcast is a presentation cue emitted by the reducer.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastSound asks the audio sink to play a named cue.
type BroadcastSound struct {
	Cue string
}

func (BroadcastSound) broadcastMarker() {}

// BroadcastPulse starts a new pulse, replacing any previous one.
type BroadcastPulse struct {
	ID       uint64
	Duration float64
	Symbol   Symbol
	Color    Color
}

func (BroadcastPulse) broadcastMarker() {}

// BroadcastPulseAlpha carries the fade level of pulse ID.
type BroadcastPulseAlpha struct {
	ID    uint64
	Alpha float64
}

func (BroadcastPulseAlpha) broadcastMarker() {}

// BroadcastSymbol updates the button glyph.
type BroadcastSymbol struct {
	Symbol  Symbol
	Visible bool
}

func (BroadcastSymbol) broadcastMarker() {}

// BroadcastMode reports a module mode change.
type BroadcastMode struct {
	Mode    Mode
	Stage   int
	Correct int
	Strikes int
}

func (BroadcastMode) broadcastMarker() {}

// BroadcastHaptic asks the input device for a rumble of the given strength.
type BroadcastHaptic struct {
	Strength float64
}

func (BroadcastHaptic) broadcastMarker() {}

// ==============================
// Reducer input/output
// ==============================

// ReduceResult is the output of Reduce(): next state plus the Commands to execute
// and the Broadcasts to publish.
type ReduceResult struct {
	State      *Module
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce advances the module by one event.
//
// Rules:
// - Must not perform I/O
// - Must not block
//
// Ticks step the cooperative scheduler. Actions are applied with the clock
// reading they were stamped with; a bare Action falls back to the last
// observed reading.
func Reduce(m *Module, e Event) ReduceResult {
	var out outbox

	switch ev := e.(type) {
	case Tick:
		m.observeClock(ev.Clock)
		m.sched.Step(ev, &out)

	case TimedEvent:
		m.observeClock(ev.Clock)
		m.apply(ev.Event, ev.Clock, &out)

	case BombCommandFailed:
		// The bomb owns strike bookkeeping; only a lost pass needs handling here.
		m.logger.Warn("bomb command failed", "command", ev.Command.String(), "error", ev.Err)
		if _, ok := ev.Command.(CmdReportPass); ok {
			m.passFailed(ev.Err, &out)
		}

	case BombPassReported:
		m.passReported()

	default:
		m.apply(e, m.lastClock, &out)
	}

	return ReduceResult{
		State:      m,
		Commands:   out.commands,
		Broadcasts: out.broadcasts,
	}
}

func (m *Module) apply(e Event, clock float64, out *outbox) {
	switch a := e.(type) {
	case Press:
		m.Press(clock, out)

	case Release:
		m.Release(clock, out)

	case PlayRhythm:
		m.enqueueAutomation(&automationTask{kind: automationPlay, reply: a.Reply}, out)

	case Submit:
		m.enqueueAutomation(&automationTask{kind: automationSubmit, digits: [2]int{a.First, a.Second}, reply: a.Reply}, out)

	case HoldAt:
		m.enqueueAutomation(&automationTask{kind: automationHold, digits: [2]int{a.Digit, 0}, reply: a.Reply}, out)

	case ReleaseAt:
		m.enqueueAutomation(&automationTask{kind: automationRelease, digits: [2]int{a.Digit, 0}, reply: a.Reply}, out)

	case ForceSolve:
		m.ForceSolve(a.Reply, out)

	case CancelAutomation:
		m.CancelAutomation(out)
		out.command(CmdAutomationReply{Reply: a.Reply})

	case RequestStateSnapshot:
		out.command(CmdPublishStateSnapshot{Reply: a.Reply, Snapshot: m.Snapshot()})

	default:
		// Unknown action: no-op.
	}
}
