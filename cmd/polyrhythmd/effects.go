package main

import (
	"log/slog"
	"time"
)

// journalRecorder is the part of the Journal the effects layer needs.
type journalRecorder interface {
	Record(entry JournalEntry)
}

// runEffect executes a single reducer-emitted Command against external systems
// (the bomb, the journal, waiting requesters) and reports failures via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
func runEffect(
	bomb Bomb,
	journal journalRecorder,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		return
	}

	now := time.Now()

	switch c := cmd.(type) {
	case CmdReportStrike:
		if bomb == nil {
			onEvent(BombCommandFailed{Command: cmd, Err: errNoBomb{}, At: now})
			return
		}
		if err := bomb.ReportStrike(c.ModuleID); err != nil {
			logger.Error("bomb ReportStrike failed", "error", err, "module_id", c.ModuleID)
			onEvent(BombCommandFailed{Command: cmd, Err: err, At: now})
		}

	case CmdReportPass:
		if bomb == nil {
			onEvent(BombCommandFailed{Command: cmd, Err: errNoBomb{}, At: now})
			return
		}
		if err := bomb.ReportPass(c.ModuleID); err != nil {
			logger.Error("bomb ReportPass failed", "error", err, "module_id", c.ModuleID)
			onEvent(BombCommandFailed{Command: cmd, Err: err, At: now})
			return
		}
		onEvent(BombPassReported{ModuleID: c.ModuleID, At: now})

	case CmdJournal:
		if journal == nil {
			return
		}
		journal.Record(c.Entry)

	case CmdAutomationReply:
		if c.Reply == nil {
			return
		}
		// Never block the daemon loop on a requester that went away.
		select {
		case c.Reply <- c.Err:
		default:
			logger.Warn("automation reply channel not ready; dropping reply", "error", c.Err)
		}

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(BombCommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// errNoBomb indicates the daemon was asked to report to a bomb it does not have.
type errNoBomb struct{}

func (errNoBomb) Error() string { return "no bomb connection" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
