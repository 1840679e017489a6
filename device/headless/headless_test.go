// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless_test

import (
	"errors"
	"sync/atomic"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/device/headless"
)

func commitFrame(c *qt.C, q device.CommandQueue, s *headless.Surface, buf device.Buffer, done func()) {
	cb, err := q.CommandBuffer()
	c.Assert(err, qt.IsNil)
	cb.AddCompletedHandler(done)

	d, ok := s.NextDrawable()
	c.Assert(ok, qt.IsTrue)
	enc, err := cb.RenderEncoder(device.RenderPassDescriptor{Drawable: d})
	c.Assert(err, qt.IsNil)
	enc.SetVertexBuffer(buf, 0, device.BufferIndexFrameUniform)
	enc.DrawIndexed(device.PrimitiveTriangle, 3, device.IndexTypeUint16, buf, 0)
	enc.End()
	cb.Present(d)
	c.Assert(cb.Commit(), qt.IsNil)
}

func TestManualCompletionSnapshotsAtExecution(t *testing.T) {
	c := qt.New(t)
	dev := headless.New(headless.Options{Completion: headless.CompletionManual})
	defer dev.Destroy()
	surface := headless.NewSurface(64, 32)
	q, err := dev.NewCommandQueue()
	c.Assert(err, qt.IsNil)

	buf, err := dev.NewBuffer(4, device.BufferUsageUniform, "uniforms")
	c.Assert(err, qt.IsNil)

	var done int32
	buf.Contents()[0] = 1
	commitFrame(c, q, surface, buf, func() { atomic.AddInt32(&done, 1) })
	c.Assert(dev.Pending(), qt.Equals, 1)
	c.Assert(atomic.LoadInt32(&done), qt.Equals, int32(0))

	buf.Contents()[0] = 2
	c.Assert(dev.CompleteAll(), qt.Equals, 1)
	c.Assert(atomic.LoadInt32(&done), qt.Equals, int32(1))

	execs := dev.Executions()
	c.Assert(execs, qt.HasLen, 1)
	c.Assert(execs[0].Presented, qt.IsTrue)
	c.Assert(execs[0].Draws[0].VertexBuffers[device.BufferIndexFrameUniform][0], qt.Equals, byte(2))
	c.Assert(surface.Presented(), qt.Equals, 1)
}

func TestOutOfOrderCompletion(t *testing.T) {
	c := qt.New(t)
	dev := headless.New(headless.Options{Completion: headless.CompletionManual})
	defer dev.Destroy()
	surface := headless.NewSurface(64, 32)
	q, err := dev.NewCommandQueue()
	c.Assert(err, qt.IsNil)
	buf, err := dev.NewBuffer(4, device.BufferUsageUniform, "uniforms")
	c.Assert(err, qt.IsNil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		commitFrame(c, q, surface, buf, func() { order = append(order, i) })
	}
	c.Assert(dev.Complete(2), qt.IsTrue)
	c.Assert(dev.Complete(0), qt.IsTrue)
	c.Assert(dev.Complete(5), qt.IsFalse)
	c.Assert(dev.CompleteAll(), qt.Equals, 1)
	c.Assert(order, qt.DeepEquals, []int{2, 0, 1})
}

func TestAsyncCompletionRunsInOrder(t *testing.T) {
	c := qt.New(t)
	dev := headless.New(headless.Options{Completion: headless.CompletionAsync})
	surface := headless.NewSurface(64, 32)
	q, err := dev.NewCommandQueue()
	c.Assert(err, qt.IsNil)
	buf, err := dev.NewBuffer(4, device.BufferUsageUniform, "uniforms")
	c.Assert(err, qt.IsNil)

	results := make(chan int, 10)
	for i := 0; i < 10; i++ {
		i := i
		commitFrame(c, q, surface, buf, func() { results <- i })
	}
	dev.WaitIdle()
	close(results)
	var got []int
	for i := range results {
		got = append(got, i)
	}
	c.Assert(got, qt.DeepEquals, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	dev.Destroy()

	_, err = q.CommandBuffer()
	c.Assert(err, qt.Equals, device.ErrDeviceUnavailable)
}

func TestCommitFailureSkipsHandlers(t *testing.T) {
	c := qt.New(t)
	dev := headless.New(headless.Options{})
	defer dev.Destroy()
	q, err := dev.NewCommandQueue()
	c.Assert(err, qt.IsNil)

	boom := errors.New("boom")
	dev.FailNextCommit(boom)
	cb, err := q.CommandBuffer()
	c.Assert(err, qt.IsNil)
	var fired bool
	cb.AddCompletedHandler(func() { fired = true })
	c.Assert(cb.Commit(), qt.Equals, boom)
	c.Assert(fired, qt.IsFalse)
	c.Assert(dev.Submitted(), qt.Equals, 0)

	dev.FailNextCommandBuffer(boom)
	_, err = q.CommandBuffer()
	c.Assert(err, qt.Equals, boom)
}

func TestSurfaceAvailability(t *testing.T) {
	c := qt.New(t)
	s := headless.NewSurface(10, 20)
	s.SetAvailable(false)
	_, ok := s.NextDrawable()
	c.Assert(ok, qt.IsFalse)

	s.SetAvailable(true)
	s.Resize(30, 40)
	d, ok := s.NextDrawable()
	c.Assert(ok, qt.IsTrue)
	w, h := d.Size()
	c.Assert([]int{w, h}, qt.DeepEquals, []int{30, 40})
	c.Assert(s.Vended(), qt.Equals, 1)
	c.Assert(s.Discarded(), qt.Equals, 0)

	d.Discard()
	c.Assert(s.Discarded(), qt.Equals, 1)
}

func TestRenderPipelineValidation(t *testing.T) {
	c := qt.New(t)
	lib, err := headless.NewLibrary("noLightVertex.vert", "noLightFragment.frag")
	c.Assert(err, qt.IsNil)
	dev := headless.New(headless.Options{Library: lib})
	defer dev.Destroy()

	vert, err := lib.Function("noLightVertex")
	c.Assert(err, qt.IsNil)
	frag, err := lib.Function("noLightFragment")
	c.Assert(err, qt.IsNil)

	_, err = dev.NewRenderPipeline(device.RenderPipelineDescriptor{
		Label:            "swapped",
		VertexFunction:   frag,
		FragmentFunction: vert,
		ColorPixelFormat: device.PixelFormatBGRA8Unorm,
	})
	c.Assert(errors.Is(err, device.ErrPipelineState), qt.IsTrue)

	p, err := dev.NewRenderPipeline(device.RenderPipelineDescriptor{
		Label:            "mesh",
		VertexFunction:   vert,
		FragmentFunction: frag,
		ColorPixelFormat: device.PixelFormatBGRA8Unorm,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(p.Label(), qt.Equals, "mesh")
}
