package main

import (
	"errors"
)

// ============================================================================
// Automation
// ============================================================================
// Remote players drive the module with timed commands (play, submit, hold,
// release). Commands queue up and run one at a time. Each command checks that
// it makes sense in the current mode before it starts waiting; a command that
// does not is rejected with a textual error and changes nothing.
// ============================================================================

var (
	// ErrInvalidContext matches every "cannot do that now" rejection.
	ErrInvalidContext = errors.New("invalid context")
	// ErrOutOfTime is reported when the submission window closes while a
	// command is still waiting for its digit.
	ErrOutOfTime = errors.New("You ran out of time!")
	// ErrAutomationCanceled is reported by commands aborted by a cancel or a force solve.
	ErrAutomationCanceled = errors.New("automation canceled")
	// ErrInvalidDigit rejects digits outside 0..9.
	ErrInvalidDigit = errors.New("digit must be between 0 and 9")
)

// contextError is a user-facing rejection that matches ErrInvalidContext.
type contextError struct {
	msg string
}

func (e contextError) Error() string        { return e.msg }
func (e contextError) Is(target error) bool { return target == ErrInvalidContext }

var (
	errCannotPlay    = contextError{"You cannot play a polyrhythm at this time!"}
	errCannotSubmit  = contextError{"You cannot submit a polyrhythm at this time!"}
	errCannotHold    = contextError{"You cannot hold the button at this time!"}
	errCannotRelease = contextError{"You cannot release the button at this time!"}
	errForceSolving  = contextError{"The module is being solved automatically."}
)

type automationKind int

const (
	automationPlay automationKind = iota
	automationSubmit
	automationHold
	automationRelease
)

func (k automationKind) String() string {
	switch k {
	case automationPlay:
		return "play"
	case automationSubmit:
		return "submit"
	case automationHold:
		return "hold"
	case automationRelease:
		return "release"
	default:
		return "unknown"
	}
}

type automationTask struct {
	kind   automationKind
	digits [2]int
	reply  chan<- error

	started bool
	pressed bool
}

func (t *automationTask) validate() error {
	n := 1
	switch t.kind {
	case automationPlay:
		n = 0
	case automationSubmit:
		n = 2
	}
	for i := 0; i < n; i++ {
		if t.digits[i] < 0 || t.digits[i] > 9 {
			return ErrInvalidDigit
		}
	}
	return nil
}

func (m *Module) enqueueAutomation(t *automationTask, out *outbox) {
	if err := t.validate(); err != nil {
		out.command(CmdAutomationReply{Reply: t.reply, Err: err})
		return
	}
	if m.replay != nil {
		out.command(CmdAutomationReply{Reply: t.reply, Err: errForceSolving})
		return
	}

	m.automation = append(m.automation, t)
	if m.automationRunner == 0 {
		m.automationRunner = m.sched.Spawn("automation", TaskFunc(m.stepAutomation))
	}
}

// stepAutomation advances the head of the queue. Finished commands are replied
// to and the next one starts on the following tick.
func (m *Module) stepAutomation(tk Tick, out *outbox) bool {
	if len(m.automation) == 0 {
		m.automationRunner = 0
		return true
	}

	head := m.automation[0]
	done, err := m.advanceAutomation(head, tk.Clock, out)
	if !done {
		return false
	}

	if err != nil {
		m.logger.Info("automation command failed", "command", head.kind.String(), "error", err)
	}
	out.command(CmdAutomationReply{Reply: head.reply, Err: err})
	m.automation = m.automation[1:]
	if len(m.automation) == 0 {
		m.automationRunner = 0
		return true
	}
	return false
}

// advanceAutomation performs one step of t. It returns done once t has
// finished, along with its outcome.
func (m *Module) advanceAutomation(t *automationTask, clock float64, out *outbox) (bool, error) {
	digit := lastDigit(clock)
	first := !t.started
	t.started = true

	switch t.kind {
	case automationPlay:
		if m.mode == ModeSubmitting || m.mode == ModeSolved {
			return true, errCannotPlay
		}
		m.Press(clock, out)
		return true, nil

	case automationSubmit:
		if first && (m.mode != ModeSubmitting || m.capture.Pressed()) {
			return true, errCannotSubmit
		}
		if !t.pressed {
			if m.mode != ModeSubmitting {
				return true, ErrOutOfTime
			}
			if digit != t.digits[0] {
				return false, nil
			}
			m.Press(clock, out)
			t.pressed = true
		}
		if m.mode != ModeSubmitting || !m.capture.Pressed() {
			return true, errCannotRelease
		}
		if digit != t.digits[1] {
			return false, nil
		}
		m.Release(clock, out)
		return true, nil

	case automationHold:
		if first && (m.mode != ModeSubmitting || m.capture.Pressed()) {
			return true, errCannotHold
		}
		if m.mode != ModeSubmitting {
			return true, ErrOutOfTime
		}
		if digit != t.digits[0] {
			return false, nil
		}
		m.Press(clock, out)
		return true, nil

	case automationRelease:
		if m.mode != ModeSubmitting || !m.capture.Pressed() {
			return true, errCannotRelease
		}
		if digit != t.digits[0] {
			return false, nil
		}
		m.Release(clock, out)
		return true, nil

	default:
		return true, errUnknownAutomation{kind: t.kind}
	}
}

// CancelAutomation aborts every queued automation command.
func (m *Module) CancelAutomation(out *outbox) {
	if len(m.automation) > 0 {
		m.logger.Info("automation canceled", "queued", len(m.automation))
	}
	for _, t := range m.automation {
		out.command(CmdAutomationReply{Reply: t.reply, Err: ErrAutomationCanceled})
	}
	m.automation = nil
	m.sched.Cancel(m.automationRunner)
	m.automationRunner = 0
}

type errUnknownAutomation struct {
	kind automationKind
}

func (e errUnknownAutomation) Error() string { return "unknown automation command: " + e.kind.String() }
