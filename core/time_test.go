// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruview/util/quat"
)

func fakeClock(steps ...time.Duration) func() time.Duration {
	var now time.Duration
	return func() time.Duration {
		if len(steps) > 0 {
			now += steps[0]
			steps = steps[1:]
		}
		return now
	}
}

func TestTimeTick(t *testing.T) {
	c := qt.New(t)
	tm := NewTime(TimeConfiguration{FramesPerSecond: 60})
	defer tm.Stop()
	tm.SetClock(fakeClock(time.Second, 10*time.Millisecond, 30*time.Millisecond))

	c.Assert(tm.Tick(), qt.Equals, time.Duration(0))
	c.Assert(tm.Tick(), qt.Equals, 10*time.Millisecond)
	c.Assert(tm.Tick(), qt.Equals, 30*time.Millisecond)
	c.Assert(tm.Delta(), qt.Equals, 30*time.Millisecond)
	c.Assert(tm.Elapsed(), qt.Equals, 40*time.Millisecond)
	c.Assert(tm.Fps(), qt.Equals, 60)
}

func TestTimeTickers(t *testing.T) {
	c := qt.New(t)
	tm := NewTime(TimeConfiguration{FramesPerSecond: 0, EventPollDelay: 0})
	defer tm.Stop()

	select {
	case <-tm.FpsTicker().C:
	case <-time.After(time.Second):
		c.Fatal("unlimited frame ticker did not fire")
	}
	select {
	case <-tm.EventTicker().C:
	case <-time.After(time.Second):
		c.Fatal("event ticker did not fire")
	}
}

func TestCameraResize(t *testing.T) {
	c := qt.New(t)
	cam := NewCamera(DefaultConfiguration().Camera)
	c.Assert(cam.Projection(), qt.Equals, glm.Ident4())

	c.Assert(cam.Resize(0, 0), qt.IsFalse)
	c.Assert(cam.Resize(800, 600), qt.IsTrue)
	c.Assert(cam.Resize(800, 600), qt.IsFalse)
	c.Assert(cam.Projection(), qt.Equals, quat.Perspective(75, 800.0/600.0, 0.1, 100))

	cam.SetFieldOfView(60)
	c.Assert(cam.FieldOfView(), qt.Equals, float32(60))
	c.Assert(cam.Projection(), qt.Equals, quat.Perspective(60, 800.0/600.0, 0.1, 100))

	cam.SetClipPlanes(1, 10)
	c.Assert(cam.Projection(), qt.Equals, quat.Perspective(60, 800.0/600.0, 1, 10))

	view := glm.Translate3D(0, -2, 6)
	cam.SetView(view)
	c.Assert(cam.View(), qt.Equals, view)
}

func TestFrameCounter(t *testing.T) {
	c := qt.New(t)
	counter := NewFrameCounter()
	counter.clock = fakeClock(
		time.Second, 2*time.Millisecond, // frame 0
		14*time.Millisecond, 4*time.Millisecond, // frame 1
	)

	c.Assert(counter.Snapshot(), qt.Equals, FrameStats{})
	for i := 0; i < 2; i++ {
		counter.Compute(Frame{}, nil)
		counter.PostRender(Frame{})
	}
	stats := counter.Snapshot()
	c.Assert(stats.Frames, qt.Equals, uint64(2))
	c.Assert(stats.Encoding, qt.Equals, 6*time.Millisecond)
	c.Assert(stats.Window, qt.Equals, 20*time.Millisecond)
	c.Assert(stats.AverageEncoding(), qt.Equals, 3*time.Millisecond)
	c.Assert(stats.FramesPerSecond(), qt.Equals, 100.0)

	c.Assert(counter.Reset(), qt.Equals, stats)
	c.Assert(counter.Snapshot().Frames, qt.Equals, uint64(0))
	c.Assert(FrameStats{}.FramesPerSecond(), qt.Equals, 0.0)
	c.Assert(FrameStats{}.AverageEncoding(), qt.Equals, time.Duration(0))
}

func TestFrameLifetime(t *testing.T) {
	c := qt.New(t)
	_, err := NewUniformRing(nil, 0, 16, "empty")
	c.Assert(err, qt.ErrorMatches, "uniform ring empty: depth 0, size 16")

	state := &frameState{slot: 1, open: 1}
	f := Frame{state: state}
	c.Assert(f.Valid(), qt.IsTrue)
	c.Assert(f.Slot(), qt.Equals, 1)

	state.close()
	c.Assert(f.Valid(), qt.IsFalse)
	c.Assert(Frame{}.Valid(), qt.IsFalse)
	c.Assert(Frame{}.View(), qt.Equals, glm.Ident4())
}
