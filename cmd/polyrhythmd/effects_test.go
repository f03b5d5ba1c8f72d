package main

import (
	"errors"
	"testing"
)

// failingBomb rejects every report.
type failingBomb struct {
	calls int
}

func (b *failingBomb) ReportStrike(int) error { b.calls++; return errors.New("bomb offline") }
func (b *failingBomb) ReportPass(int) error   { b.calls++; return errors.New("bomb offline") }

type unknownCommand struct{}

func (unknownCommand) commandMarker() {}
func (unknownCommand) String() string { return "unknownCommand()" }

func collectEvents(bomb Bomb, journal journalRecorder, cmd Command) []Event {
	var got []Event
	runEffect(bomb, journal, cmd, testLogger(), func(ev Event) { got = append(got, ev) })
	return got
}

func TestRunEffect_ReportsToBomb(t *testing.T) {
	bomb := NewLocalBomb(testLogger())

	if evs := collectEvents(bomb, nil, CmdReportStrike{ModuleID: 4}); len(evs) != 0 {
		t.Fatalf("expected no observations, got %v", evs)
	}
	evs := collectEvents(bomb, nil, CmdReportPass{ModuleID: 4})
	if len(evs) != 1 {
		t.Fatalf("expected the pass to be confirmed, got %v", evs)
	}
	if rep, ok := evs[0].(BombPassReported); !ok || rep.ModuleID != 4 {
		t.Fatalf("expected BombPassReported for module 4, got %#v", evs[0])
	}
	if bomb.Strikes(4) != 1 || !bomb.Passed(4) {
		t.Fatalf("expected strike and pass recorded")
	}
}

func TestRunEffect_BombFailureBecomesEvent(t *testing.T) {
	bomb := &failingBomb{}

	evs := collectEvents(bomb, nil, CmdReportPass{ModuleID: 1})
	if len(evs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(evs))
	}
	failed, ok := evs[0].(BombCommandFailed)
	if !ok {
		t.Fatalf("expected BombCommandFailed, got %T", evs[0])
	}
	if _, ok := failed.Command.(CmdReportPass); !ok || failed.Err == nil {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}

func TestRunEffect_NilBomb(t *testing.T) {
	evs := collectEvents(nil, nil, CmdReportStrike{ModuleID: 1})
	if len(evs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(evs))
	}
	if f := evs[0].(BombCommandFailed); !errors.Is(f.Err, errNoBomb{}) {
		t.Fatalf("expected errNoBomb, got %v", f.Err)
	}
}

func TestRunEffect_Journal(t *testing.T) {
	j := &recordingJournal{}
	collectEvents(nil, j, CmdJournal{Entry: JournalEntry{Kind: JournalTimeout}})
	if len(j.entries) != 1 || j.entries[0].Kind != JournalTimeout {
		t.Fatalf("expected the entry to be recorded, got %+v", j.entries)
	}

	// A disabled journal is fine.
	if evs := collectEvents(nil, nil, CmdJournal{}); len(evs) != 0 {
		t.Fatalf("expected no observations, got %v", evs)
	}
}

func TestRunEffect_RepliesNeverBlock(t *testing.T) {
	full := make(chan error, 1)
	full <- nil
	collectEvents(nil, nil, CmdAutomationReply{Reply: full, Err: ErrOutOfTime})
	if err := <-full; err != nil {
		t.Fatalf("expected the original value to remain, got %v", err)
	}

	snaps := make(chan StateSnapshot)
	collectEvents(nil, nil, CmdPublishStateSnapshot{Reply: snaps})

	collectEvents(nil, nil, CmdAutomationReply{})
}

func TestRunEffect_UnknownCommand(t *testing.T) {
	evs := collectEvents(nil, nil, unknownCommand{})
	if len(evs) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(evs))
	}
	var uc errUnknownCommand
	if f := evs[0].(BombCommandFailed); !errors.As(f.Err, &uc) {
		t.Fatalf("expected errUnknownCommand, got %v", f.Err)
	}
}
