package main

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"
)

// fixedClock is a bomb clock that never moves.
type fixedClock float64

func (c fixedClock) Now() float64 { return float64(c) }

func requestSnapshot(t *testing.T, events chan<- Event) StateSnapshot {
	t.Helper()
	reply := make(chan StateSnapshot, 1)
	events <- RequestStateSnapshot{Reply: reply}
	select {
	case snap := <-reply:
		return snap
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for snapshot")
		return StateSnapshot{}
	}
}

func TestDaemon_PressStampsClockAndPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := testLogger()
	events := make(chan Event, 8)
	broadcasts := make(chan StateBroadcast, 512)
	journal := make(chan JournalEntry, 16)
	module := NewModule(1, testModuleConfig(), rand.New(rand.NewPCG(5, 6)), logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(ctx, events, module, fixedClock(187.2), NewLocalBomb(logger), chanJournal(journal), broadcasts, 100, logger)
	}()

	events <- Press{}

	select {
	case e := <-journal:
		if e.Kind != JournalPlay || e.Clock != 187.2 {
			t.Fatalf("expected a play entry stamped at 187.2, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for the journal entry")
	}

	snap := requestSnapshot(t, events)
	if snap.Mode != ModePlaying {
		t.Fatalf("expected playing, got %s", snap.Mode)
	}

	waitUntil(t, time.Second, func() bool {
		for {
			select {
			case b := <-broadcasts:
				if s, ok := b.(BroadcastSound); ok && s.Cue == string(ToneB) {
					return true
				}
			default:
				return false
			}
		}
	}, "expected rhythm beats to be published")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop")
	}
}

func TestDaemon_StopsWhenEventsClosed(t *testing.T) {
	logger := testLogger()
	events := make(chan Event)
	module := NewModule(1, testModuleConfig(), rand.New(rand.NewPCG(5, 6)), logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(context.Background(), events, module, NewLocalClock(300, false), nil, nil, nil, 100, logger)
	}()

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("daemon did not stop on closed events")
	}
}

// chanJournal forwards recorded entries to a channel.
type chanJournal chan JournalEntry

func (j chanJournal) Record(e JournalEntry) {
	select {
	case j <- e:
	default:
	}
}
