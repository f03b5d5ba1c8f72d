package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that executes side effects.
//   - Effect failures are turned into Events and fed back into the reducer.
//   - The module is owned by this goroutine; others only ever see StateSnapshots.
//
// Every tick and every action reads the bomb clock exactly once, so all the
// tasks stepped in a tick agree on the clock's last digit.
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from the input device, IPC and the state websocket
//   - Emits Tick events on a fixed cadence
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands and publishes broadcasts
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	module *Module,
	clock Clock,
	bomb Bomb,
	journal journalRecorder,
	broadcasts chan<- StateBroadcast,
	updateHz int,
	logger *slog.Logger,
) {
	if module == nil {
		logger.Error("daemon module is nil")
		return
	}

	updateInterval := time.Second / time.Duration(updateHz)
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	lastTick := time.Now()

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}
	enqueueCommands := func(cmds []Command) {
		if len(cmds) == 0 {
			return
		}
		cmdQueue = append(cmdQueue, cmds...)
	}
	publish := func(bs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping broadcast")
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(module, ev)
			if rr.State != nil {
				module = rr.State
			}
			enqueueCommands(rr.Commands)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(bomb, journal, cmd, logger, func(obs Event) {
				enqueueEvent(obs)
			})

			flushEvents()
		}
	}

	logger.Info("daemon started", "module_id", module.ID, "update_hz", updateHz)

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case act, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			enqueueEvent(TimedEvent{Event: act, At: time.Now(), Clock: clock.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			dt := now.Sub(lastTick).Seconds()
			lastTick = now
			enqueueEvent(Tick{Now: now, Dt: dt, Clock: clock.Now()})
			flushEvents()
			flushCommands()
		}
	}
}
