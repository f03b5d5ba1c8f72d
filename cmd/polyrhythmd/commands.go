package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdReportStrike tells the bomb the module recorded a strike.
type CmdReportStrike struct {
	ModuleID int
}

func (CmdReportStrike) commandMarker() {}
func (c CmdReportStrike) String() string {
	return fmt.Sprintf("CmdReportStrike(module_id=%d)", c.ModuleID)
}

// CmdReportPass tells the bomb the module is solved. Emitted once per module.
type CmdReportPass struct {
	ModuleID int
}

func (CmdReportPass) commandMarker() {}
func (c CmdReportPass) String() string {
	return fmt.Sprintf("CmdReportPass(module_id=%d)", c.ModuleID)
}

// CmdJournal appends an entry to the round journal.
type CmdJournal struct {
	Entry JournalEntry
}

func (CmdJournal) commandMarker() {}
func (c CmdJournal) String() string {
	return fmt.Sprintf("CmdJournal(kind=%s)", c.Entry.Kind)
}

// CmdAutomationReply delivers the outcome of an automation action.
type CmdAutomationReply struct {
	Reply chan<- error
	Err   error
}

func (CmdAutomationReply) commandMarker() {}
func (c CmdAutomationReply) String() string {
	return fmt.Sprintf("CmdAutomationReply(err=%v)", c.Err)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to the requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
