// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"
	"time"

	"github.com/loov/hrtime"

	"github.com/devblok/koruview/device"
)

// FrameStats is a snapshot of a FrameCounter.
type FrameStats struct {
	Frames   uint64
	Encoding time.Duration
	Window   time.Duration
}

// FramesPerSecond is the frame rate over the counted window.
func (s FrameStats) FramesPerSecond() float64 {
	if s.Window <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Window.Seconds()
}

// AverageEncoding is the mean time from Compute to PostRender.
func (s FrameStats) AverageEncoding() time.Duration {
	if s.Frames == 0 {
		return 0
	}
	return s.Encoding / time.Duration(s.Frames)
}

// NewFrameCounter creates a counter timed with hrtime.
func NewFrameCounter() *FrameCounter {
	return &FrameCounter{clock: hrtime.Now}
}

// FrameCounter is a ComputeTarget counting encoded frames and the time
// spent encoding them.
type FrameCounter struct {
	clock func() time.Duration

	mutex    sync.Mutex
	frames   uint64
	encoding time.Duration
	since    time.Duration
	begin    time.Duration
	last     time.Duration
}

// Compute implements ComputeTarget.
func (c *FrameCounter) Compute(f Frame, cb device.CommandBuffer) {
	now := c.clock()
	c.mutex.Lock()
	if c.frames == 0 && c.since == 0 {
		c.since = now
	}
	c.begin = now
	c.mutex.Unlock()
}

// PostRender implements ComputeTarget.
func (c *FrameCounter) PostRender(f Frame) {
	now := c.clock()
	c.mutex.Lock()
	c.frames++
	c.encoding += now - c.begin
	c.last = now
	c.mutex.Unlock()
}

// Snapshot returns the counted frames since the last Reset.
func (c *FrameCounter) Snapshot() FrameStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return FrameStats{
		Frames:   c.frames,
		Encoding: c.encoding,
		Window:   c.last - c.since,
	}
}

// Reset starts a new counting window and returns the previous one.
func (c *FrameCounter) Reset() FrameStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	stats := FrameStats{
		Frames:   c.frames,
		Encoding: c.encoding,
		Window:   c.last - c.since,
	}
	c.frames, c.encoding = 0, 0
	c.since = c.last
	return stats
}
