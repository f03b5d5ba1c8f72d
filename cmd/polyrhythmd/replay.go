package main

// ============================================================================
// Replay Engine (force solve)
// ============================================================================
// The replay task watches the module every tick and performs the inputs a
// perfect player would: press to start a round, press when the clock's last
// digit shows the first encoded digit, release on the second. It finishes once
// the module is solved and its pass has been reported.
// ============================================================================

type replayTask struct {
	m       *Module
	waiters []chan<- error
	// cooldown pauses input after a release so the next stage starts cleanly.
	cooldown float64
}

// ForceSolve starts the replay engine. reply receives nil once the bomb has
// accepted the pass, or the report error if it refused. Queued automation
// tasks are cancelled first.
func (m *Module) ForceSolve(reply chan<- error, out *outbox) {
	if m.mode == ModeSolved && m.passed {
		out.command(CmdAutomationReply{Reply: reply})
		return
	}

	m.CancelAutomation(out)

	if m.replay != nil {
		m.replay.waiters = append(m.replay.waiters, reply)
		return
	}

	m.logger.Info("force solve requested", "mode", m.mode, "stage", m.Stage())

	// A held capture whose first digit is already wrong cannot be recovered by
	// replaying; solve directly.
	if m.mode == ModeSubmitting && m.capture.Pressed() && m.capture[0] != m.encoding[0] {
		m.solve(true, out)
	}

	// Solved earlier but the bomb never took the pass: report it again.
	if m.mode == ModeSolved && !m.passPending && m.solveAnim == 0 {
		m.logger.Info("retrying pass report")
		m.reportPass(out)
	}

	r := &replayTask{m: m, waiters: []chan<- error{reply}}
	m.replay = r
	m.replayID = m.sched.Spawn("replay", r)
}

func (r *replayTask) Step(tk Tick, out *outbox) bool {
	m := r.m

	if m.mode == ModeSolved {
		if !m.passed {
			return false
		}
		for _, w := range r.waiters {
			out.command(CmdAutomationReply{Reply: w})
		}
		m.replay = nil
		m.replayID = 0
		return true
	}

	if r.cooldown > 0 {
		r.cooldown -= tk.Dt
		return false
	}

	digit := lastDigit(tk.Clock)
	switch m.mode {
	case ModeIdle:
		m.Press(tk.Clock, out)

	case ModeSubmitting:
		if !m.capture.Pressed() {
			if digit == m.encoding[0] {
				m.Press(tk.Clock, out)
			}
			return false
		}
		if digit == m.encoding[1] {
			m.Release(tk.Clock, out)
			r.cooldown = m.cfg.ReplayCooldownSec
		}

	default:
		// Playing: wait for the rhythms to finish.
	}
	return false
}

// ForceSolving reports whether the replay engine is running.
func (m *Module) ForceSolving() bool {
	return m.replay != nil
}
