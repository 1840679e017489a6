// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync/atomic"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
)

type frameState struct {
	number  uint64
	slot    int
	delta   time.Duration
	elapsed time.Duration

	view       glm.Mat4
	projection glm.Mat4
	width      int
	height     int

	open int32
}

func (s *frameState) close() {
	atomic.StoreInt32(&s.open, 0)
}

// Frame is the per tick context handed to targets. Its slot is fixed for
// the whole tick; once the tick returns the frame is no longer valid and
// slot writes through it are rejected.
type Frame struct {
	state *frameState
}

// Valid reports whether the tick of the frame is still running.
func (f Frame) Valid() bool {
	return f.state != nil && atomic.LoadInt32(&f.state.open) == 1
}

// Slot is the uniform slot this frame writes, in [0, BufferCount).
func (f Frame) Slot() int {
	if f.state == nil {
		return 0
	}
	return f.state.slot
}

// Number is the zero based index of the frame.
func (f Frame) Number() uint64 {
	if f.state == nil {
		return 0
	}
	return f.state.number
}

// Delta is the time since the previous tick.
func (f Frame) Delta() time.Duration {
	if f.state == nil {
		return 0
	}
	return f.state.delta
}

// Elapsed is the time since the first tick.
func (f Frame) Elapsed() time.Duration {
	if f.state == nil {
		return 0
	}
	return f.state.elapsed
}

// View is the camera view matrix.
func (f Frame) View() glm.Mat4 {
	if f.state == nil {
		return glm.Ident4()
	}
	return f.state.view
}

// Projection is the camera projection matrix for the drawable aspect.
func (f Frame) Projection() glm.Mat4 {
	if f.state == nil {
		return glm.Ident4()
	}
	return f.state.projection
}

// DrawableSize is the surface size in pixels when the tick began.
func (f Frame) DrawableSize() (int, int) {
	if f.state == nil {
		return 0, 0
	}
	return f.state.width, f.state.height
}
