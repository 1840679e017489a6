// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core drives the per-frame pipeline. A Scheduler invokes registered
// targets in a fixed order every tick and rotates the uniform slots they
// write, keeping at most BufferCount frames in flight on the GPU.
package core

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devblok/koruview/device"
)

// Context is the GPU context owned by a Scheduler.
// It is created once by Initialise and never changes.
type Context struct {
	Device  device.Device
	Queue   device.CommandQueue
	Library *device.ShaderLibrary

	// BufferCount is the number of uniform slots, the ring depth.
	BufferCount int
}

// RenderTarget is the render capability of a frame participant.
type RenderTarget interface {
	// Update writes the uniform data of the frame slot.
	Update(f Frame)

	// Render encodes draw calls reading the frame slot. It must not
	// mutate state shared with other targets.
	Render(f Frame, enc device.RenderEncoder)
}

// PreUpdater is an optional hook of a RenderTarget, called right before Update.
type PreUpdater interface {
	PreUpdate(f Frame)
}

// ComputeTarget is the compute capability of a frame participant.
type ComputeTarget interface {
	// Compute enqueues GPU work ahead of the render pass. Any encoder
	// opened on cb must be ended before returning.
	Compute(f Frame, cb device.CommandBuffer)

	// PostRender runs after all render targets encoded their draws.
	PostRender(f Frame)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger dropped frames are reported to.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		s.log = logger
	}
}

// WithClock replaces the monotonic clock timing is derived from.
func WithClock(clock func() time.Duration) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}
