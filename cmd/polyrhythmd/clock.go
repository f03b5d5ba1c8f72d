package main

import (
	"log/slog"
	"sync"
	"time"
)

// Clock reports the bomb timer in seconds. It counts down in normal play and
// up in zen mode. Now must never block; it is read on every tick.
type Clock interface {
	Now() float64
}

// Bomb receives the module's strike and pass reports.
type Bomb interface {
	ReportStrike(moduleID int) error
	ReportPass(moduleID int) error
}

// LocalClock is a bomb timer driven by the local monotonic clock.
type LocalClock struct {
	start    time.Time
	startSec float64
	countsUp bool
	now      func() time.Time
}

func NewLocalClock(startSec float64, countsUp bool) *LocalClock {
	return newLocalClockAt(time.Now, startSec, countsUp)
}

func newLocalClockAt(now func() time.Time, startSec float64, countsUp bool) *LocalClock {
	return &LocalClock{start: now(), startSec: startSec, countsUp: countsUp, now: now}
}

func (c *LocalClock) Now() float64 {
	elapsed := c.now().Sub(c.start).Seconds()
	if c.countsUp {
		return c.startSec + elapsed
	}
	return c.startSec - elapsed
}

// LocalBomb keeps strike and pass counts in memory.
type LocalBomb struct {
	logger *slog.Logger

	mu      sync.Mutex
	strikes map[int]int
	passed  map[int]bool
}

func NewLocalBomb(logger *slog.Logger) *LocalBomb {
	return &LocalBomb{
		logger:  logger,
		strikes: make(map[int]int),
		passed:  make(map[int]bool),
	}
}

func (b *LocalBomb) ReportStrike(moduleID int) error {
	b.mu.Lock()
	b.strikes[moduleID]++
	n := b.strikes[moduleID]
	b.mu.Unlock()

	b.logger.Info("strike", "module_id", moduleID, "strikes", n)
	return nil
}

func (b *LocalBomb) ReportPass(moduleID int) error {
	b.mu.Lock()
	b.passed[moduleID] = true
	b.mu.Unlock()

	b.logger.Info("module passed", "module_id", moduleID)
	return nil
}

func (b *LocalBomb) Strikes(moduleID int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strikes[moduleID]
}

func (b *LocalBomb) Passed(moduleID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passed[moduleID]
}
