// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/devblok/koruview/device"
)

// Initialise creates a scheduler rendering to surface with dev. Failures
// are returned as *InitError wrapping device.ErrDeviceUnavailable,
// device.ErrShaderLibraryMissing, ErrSurfaceMissing or a configuration error.
func Initialise(dev device.Device, surface device.Surface, cfg Configuration, opts ...Option) (*Scheduler, error) {
	if dev == nil {
		return nil, &InitError{Op: "device", Err: device.ErrDeviceUnavailable}
	}
	if surface == nil {
		return nil, &InitError{Op: "surface", Err: ErrSurfaceMissing}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &InitError{Op: "configuration", Err: err}
	}

	library := dev.Library()
	if library.Len() == 0 {
		return nil, &InitError{Op: "shader library", Err: device.ErrShaderLibraryMissing}
	}

	queue, err := dev.NewCommandQueue()
	if err != nil {
		if !errors.Is(err, device.ErrDeviceUnavailable) {
			err = errors.Wrap(device.ErrDeviceUnavailable, err.Error())
		}
		return nil, &InitError{Op: "command queue", Err: err}
	}

	s := &Scheduler{
		context: Context{
			Device:      dev,
			Queue:       queue,
			Library:     library,
			BufferCount: cfg.Renderer.BufferCount,
		},
		surface: surface,
		config:  cfg,
		log:     logrus.StandardLogger(),
		pacer:   NewFramePacer(cfg.Renderer.BufferCount, cfg.Renderer.AcquireTimeout),
		time:    NewTime(cfg.Time),
		camera:  NewCamera(cfg.Camera),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock != nil {
		s.time.SetClock(s.clock)
	}

	w, h := surface.DrawableSize()
	s.camera.Resize(w, h)

	s.log.WithFields(logrus.Fields{
		"device":      dev.Name(),
		"bufferCount": cfg.Renderer.BufferCount,
		"shaders":     library.Names(),
	}).Info("frame scheduler initialised")
	return s, nil
}

// Scheduler runs the frame pipeline: compute, update, render, post render
// and present, with at most BufferCount frames in flight. Tick is driven
// by a single goroutine.
type Scheduler struct {
	context Context
	surface device.Surface
	config  Configuration
	log     logrus.FieldLogger
	clock   func() time.Duration

	pacer  *FramePacer
	time   *Time
	camera *Camera

	mutex          sync.Mutex
	renderTargets  []RenderTarget
	computeTargets []ComputeTarget
	destroyed      bool

	slot    int64
	frames  uint64
	dropped uint64
}

// RegisterRenderTarget appends t to the render targets. Targets are
// invoked in registration order.
func (s *Scheduler) RegisterRenderTarget(t RenderTarget) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.destroyed {
		return ErrSchedulerDestroyed
	}
	s.renderTargets = append(s.renderTargets, t)
	return nil
}

// RegisterComputeTarget appends t to the compute targets. Targets are
// invoked in registration order.
func (s *Scheduler) RegisterComputeTarget(t ComputeTarget) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.destroyed {
		return ErrSchedulerDestroyed
	}
	s.computeTargets = append(s.computeTargets, t)
	return nil
}

// Register registers t for every capability it has.
func (s *Scheduler) Register(t interface{}) error {
	rt, isRender := t.(RenderTarget)
	ct, isCompute := t.(ComputeTarget)
	if !isRender && !isCompute {
		return errors.Wrapf(ErrNoCapability, "%T", t)
	}
	if isCompute {
		if err := s.RegisterComputeTarget(ct); err != nil {
			return err
		}
	}
	if isRender {
		return s.RegisterRenderTarget(rt)
	}
	return nil
}

func (s *Scheduler) targets() ([]RenderTarget, []ComputeTarget, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.destroyed {
		return nil, nil, ErrSchedulerDestroyed
	}
	return s.renderTargets, s.computeTargets, nil
}

// Tick runs one frame. It blocks while BufferCount frames are in flight.
// Frames that cannot be rendered are dropped and counted, not returned as
// errors; an error means no frame slot was acquired.
func (s *Scheduler) Tick(ctx context.Context) error {
	renderTargets, computeTargets, err := s.targets()
	if err != nil {
		return err
	}

	delta := s.time.Tick()
	width, height := s.surface.DrawableSize()
	if s.camera.Resize(width, height) {
		s.log.WithFields(logrus.Fields{
			"width":  width,
			"height": height,
		}).Debug("drawable size changed")
	}

	if err := s.pacer.Acquire(ctx); err != nil {
		return err
	}

	slot := int(atomic.LoadInt64(&s.slot))
	state := &frameState{
		number:     atomic.AddUint64(&s.frames, 1) - 1,
		slot:       slot,
		delta:      delta,
		elapsed:    s.time.Elapsed(),
		view:       s.camera.View(),
		projection: s.camera.Projection(),
		width:      width,
		height:     height,
		open:       1,
	}
	frame := Frame{state: state}
	defer func() {
		state.close()
		atomic.StoreInt64(&s.slot, int64((slot+1)%s.pacer.Depth()))
	}()

	cb, err := s.context.Queue.CommandBuffer()
	if err != nil {
		s.pacer.Release()
		s.drop(frame, "command buffer", err)
		return nil
	}
	cb.AddCompletedHandler(s.pacer.Release)

	for _, t := range computeTargets {
		t.Compute(frame, cb)
	}
	for _, t := range renderTargets {
		if p, ok := t.(PreUpdater); ok {
			p.PreUpdate(frame)
		}
		t.Update(frame)
	}

	drawable, ok := s.surface.NextDrawable()
	if !ok {
		s.abort(frame, cb, nil, computeTargets, "no drawable", nil)
		return nil
	}

	r := s.config.Renderer
	enc, err := cb.RenderEncoder(device.RenderPassDescriptor{
		Drawable:   drawable,
		ClearColor: r.ClearColor,
		ClearDepth: 1,
	})
	if err != nil {
		s.abort(frame, cb, drawable, computeTargets, "render encoder", err)
		return nil
	}
	dw, dh := drawable.Size()
	enc.SetViewport(device.Viewport{
		Width:  float64(dw),
		Height: float64(dh),
		ZNear:  r.ViewportNear,
		ZFar:   r.ViewportFar,
	})

	for _, t := range renderTargets {
		t.Render(frame, enc)
	}
	for _, t := range computeTargets {
		t.PostRender(frame)
	}
	enc.End()

	cb.Present(drawable)
	if err := cb.Commit(); err != nil {
		s.pacer.Release()
		s.drop(frame, "commit", err)
	}
	return nil
}

// abort finishes a frame that has no render pass. The drawable, if one was
// acquired, is discarded. The empty command buffer is still committed so its
// completion releases the frame slot.
func (s *Scheduler) abort(frame Frame, cb device.CommandBuffer, drawable device.Drawable, computeTargets []ComputeTarget, reason string, cause error) {
	for _, t := range computeTargets {
		t.PostRender(frame)
	}
	if drawable != nil {
		drawable.Discard()
	}
	if err := cb.Commit(); err != nil {
		s.pacer.Release()
		s.drop(frame, "commit", err)
		return
	}
	s.drop(frame, reason, cause)
}

func (s *Scheduler) drop(frame Frame, reason string, cause error) {
	atomic.AddUint64(&s.dropped, 1)
	entry := s.log.WithFields(logrus.Fields{
		"frame":  frame.Number(),
		"slot":   frame.Slot(),
		"reason": reason,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("frame dropped")
}

// Run ticks at the configured frame rate until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.time.FpsTicker()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Destroy stops accepting targets and ticks, then waits until every frame
// in flight completed. The device is left to the caller.
func (s *Scheduler) Destroy(ctx context.Context) error {
	s.mutex.Lock()
	if s.destroyed {
		s.mutex.Unlock()
		return nil
	}
	s.destroyed = true
	s.mutex.Unlock()

	s.time.Stop()
	if err := s.pacer.Drain(ctx); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"frames":  s.Frames(),
		"dropped": s.Dropped(),
		"peak":    s.pacer.Peak(),
	}).Info("frame scheduler destroyed")
	return nil
}

// Slot is the slot the next tick writes.
func (s *Scheduler) Slot() int {
	return int(atomic.LoadInt64(&s.slot))
}

// Frames is the number of ticks that acquired a frame slot.
func (s *Scheduler) Frames() uint64 {
	return atomic.LoadUint64(&s.frames)
}

// Dropped is the number of frames that were not presented.
func (s *Scheduler) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Pacer returns the frame pacing token.
func (s *Scheduler) Pacer() *FramePacer {
	return s.pacer
}

// Camera returns the camera frames are rendered with.
func (s *Scheduler) Camera() *Camera {
	return s.camera
}

// Time returns the time service.
func (s *Scheduler) Time() *Time {
	return s.time
}

// Context returns the GPU context.
func (s *Scheduler) Context() Context {
	return s.context
}

// Surface returns the presentation surface.
func (s *Scheduler) Surface() device.Surface {
	return s.surface
}

// Configuration returns the configuration the scheduler was created with.
func (s *Scheduler) Configuration() Configuration {
	return s.config
}
