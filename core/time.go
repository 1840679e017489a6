// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"time"

	"github.com/loov/hrtime"
)

// NewTime creates a new time service
func NewTime(cfg TimeConfiguration) *Time {
	var interval time.Duration
	if cfg.FramesPerSecond == 0 {
		interval = time.Nanosecond
	} else {
		interval = time.Second / (time.Duration)(cfg.FramesPerSecond)
	}

	eventPollDelay := cfg.EventPollDelay
	if eventPollDelay <= 0 {
		eventPollDelay = 10
	}

	return &Time{
		fps:            cfg.FramesPerSecond,
		fpsTicker:      time.NewTicker(interval),
		eventPollDelay: eventPollDelay,
		eventTicker:    time.NewTicker(time.Duration(eventPollDelay) * time.Millisecond),
		clock:          hrtime.Now,
	}
}

// Time contains all the time services and tickers, and the timing state
// of the last tick.
type Time struct {
	fps       int
	fpsTicker *time.Ticker

	eventPollDelay int
	eventTicker    *time.Ticker

	mutex   sync.Mutex
	clock   func() time.Duration
	ticks   uint64
	start   time.Duration
	last    time.Duration
	delta   time.Duration
	elapsed time.Duration
}

// SetClock replaces the monotonic clock, hrtime.Now by default.
func (t *Time) SetClock(clock func() time.Duration) {
	t.mutex.Lock()
	t.clock = clock
	t.mutex.Unlock()
}

// Tick records a tick and returns the time since the previous one.
// The first tick has a zero delta.
func (t *Time) Tick() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.clock()
	if t.ticks == 0 {
		t.start = now
		t.last = now
	}
	t.ticks++
	t.delta = now - t.last
	t.elapsed = now - t.start
	t.last = now
	return t.delta
}

// Delta is the time between the last two ticks.
func (t *Time) Delta() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.delta
}

// Elapsed is the time from the first to the last tick.
func (t *Time) Elapsed() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.elapsed
}

// Fps gets the set frames per second
func (t *Time) Fps() int {
	return t.fps
}

// FpsTicker gets the initialized fps ticker
func (t *Time) FpsTicker() *time.Ticker {
	return t.fpsTicker
}

// EventTicker gets the initialized event ticker for the event loop
func (t *Time) EventTicker() *time.Ticker {
	return t.eventTicker
}

// Stop stops both tickers.
func (t *Time) Stop() {
	t.fpsTicker.Stop()
	t.eventTicker.Stop()
}
