// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"context"
	"math"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/devblok/koruview/core"
	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/device/headless"
	"github.com/devblok/koruview/model"
)

type rendererFixture struct {
	scheduler *core.Scheduler
	device    *headless.Device
	surface   *headless.Surface
	renderer  *model.MeshRenderer
}

func newRendererFixture(c *qt.C, mode headless.CompletionMode) *rendererFixture {
	lib, err := headless.NewLibrary("meshVertex.vert", "meshFragment.frag")
	c.Assert(err, qt.IsNil)
	dev := headless.New(headless.Options{Completion: mode, Library: lib})
	surface := headless.NewSurface(800, 600)

	var now time.Duration
	clock := func() time.Duration {
		now += 16 * time.Millisecond
		return now
	}
	s, err := core.Initialise(dev, surface, core.DefaultConfiguration(), core.WithClock(clock))
	c.Assert(err, qt.IsNil)

	r, err := model.NewMeshRenderer(s.Context(), surface, model.MeshRendererConfig{
		VertexFunction:   "meshVertex",
		FragmentFunction: "meshFragment",
		Model:            "models/quad.obj",
		Source:           newBox(c),
	})
	c.Assert(err, qt.IsNil)
	c.Assert(s.RegisterRenderTarget(r), qt.IsNil)

	c.Cleanup(func() {
		dev.WaitIdle()
		c.Check(s.Destroy(context.Background()), qt.IsNil)
		r.Release()
		dev.Destroy()
	})
	return &rendererFixture{scheduler: s, device: dev, surface: surface, renderer: r}
}

func frameUniforms(c *qt.C, draw headless.Draw) model.VertexUniforms {
	var u model.VertexUniforms
	c.Assert(u.Unmarshal(draw.VertexBuffers[device.BufferIndexFrameUniform]), qt.IsNil)
	return u
}

func TestMeshRendererDraws(t *testing.T) {
	c := qt.New(t)
	f := newRendererFixture(c, headless.CompletionImmediate)

	view := glm.Translate3D(0, -2, 6)
	modelMatrix := glm.Translate3D(0, 2, 2)
	f.scheduler.Camera().SetView(view)
	f.renderer.SetModelMatrix(modelMatrix)

	c.Assert(f.scheduler.Tick(context.Background()), qt.IsNil)

	execs := f.device.Executions()
	c.Assert(execs, qt.HasLen, 1)
	c.Assert(execs[0].Presented, qt.IsTrue)
	c.Assert(execs[0].Draws, qt.HasLen, 2)

	brick := execs[0].Draws[0]
	c.Assert(brick.Pipeline, qt.Equals, "MeshPipeline")
	c.Assert(brick.IndexCount, qt.Equals, 6)
	c.Assert(brick.DebugGroups, qt.DeepEquals, []string{"Render Meshes"})
	c.Assert(brick.Textures[device.TextureIndexDiffuse], qt.Equals, "models/textures/brick.png")
	c.Assert(brick.VertexBuffers[device.BufferIndexMaterial], qt.DeepEquals, brick.FragmentBuffers[device.BufferIndexMaterial])
	c.Assert(brick.VertexBuffers[device.BufferIndexVertex], qt.HasLen, 4*model.VertexStride)

	mat := view.Mul4(modelMatrix)
	u := frameUniforms(c, brick)
	c.Assert(u.ProjectionView, qt.Equals, f.scheduler.Camera().Projection().Mul4(mat))
	c.Assert(u.Normal, qt.Equals, mat.Inv().Transpose())

	triangle := execs[0].Draws[1]
	c.Assert(triangle.IndexCount, qt.Equals, 3)
	c.Assert(frameUniforms(c, triangle), qt.Equals, u)
}

func TestMeshRendererSlotIsolation(t *testing.T) {
	c := qt.New(t)
	f := newRendererFixture(c, headless.CompletionManual)

	// Three frames in flight at once, each with its own model matrix.
	for i := 0; i < 3; i++ {
		f.renderer.SetModelMatrix(glm.Translate3D(float32(i), 0, 0))
		c.Assert(f.scheduler.Tick(context.Background()), qt.IsNil)
	}
	c.Assert(f.device.Pending(), qt.Equals, 3)
	c.Assert(f.device.CompleteAll(), qt.Equals, 3)

	execs := f.device.Executions()
	c.Assert(execs, qt.HasLen, 3)
	proj := f.scheduler.Camera().Projection()
	for i, exec := range execs {
		u := frameUniforms(c, exec.Draws[0])
		c.Assert(u.ProjectionView, qt.Equals, proj.Mul4(glm.Translate3D(float32(i), 0, 0)), qt.Commentf("frame %d", i))
	}
}

func TestMeshRendererSpin(t *testing.T) {
	c := qt.New(t)
	f := newRendererFixture(c, headless.CompletionImmediate)
	f.renderer.SetSpin(0, 90, 0)

	// The first tick has no delta.
	c.Assert(f.scheduler.Tick(context.Background()), qt.IsNil)
	c.Assert(f.renderer.ModelMatrix(), qt.Equals, glm.Ident4())

	c.Assert(f.scheduler.Tick(context.Background()), qt.IsNil)
	want := glm.HomogRotate3DY(glm.DegToRad(90 * 0.016))
	got := f.renderer.ModelMatrix()
	for i := range got {
		c.Assert(math.Abs(float64(got[i]-want[i])) < 1e-5, qt.IsTrue, qt.Commentf("element %d: got %v, want %v", i, got[i], want[i]))
	}
}

func TestNewMeshRendererFailures(t *testing.T) {
	c := qt.New(t)
	lib, err := headless.NewLibrary("meshVertex.vert", "meshFragment.frag")
	c.Assert(err, qt.IsNil)
	dev := headless.New(headless.Options{Library: lib})
	c.Cleanup(dev.Destroy)
	surface := headless.NewSurface(800, 600)
	s, err := core.Initialise(dev, surface, core.DefaultConfiguration())
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { s.Destroy(context.Background()) })

	tests := []struct {
		about   string
		config  model.MeshRendererConfig
		op      string
		isError error
	}{{
		about: "missing vertex function",
		config: model.MeshRendererConfig{
			VertexFunction:   "vertexLight",
			FragmentFunction: "meshFragment",
		},
		op:      "vertex function",
		isError: device.ErrShaderLibraryMissing,
	}, {
		about: "fragment function as vertex stage",
		config: model.MeshRendererConfig{
			VertexFunction:   "meshFragment",
			FragmentFunction: "meshFragment",
		},
		op:      "pipeline",
		isError: device.ErrPipelineState,
	}, {
		about: "missing model",
		config: model.MeshRendererConfig{
			VertexFunction:   "meshVertex",
			FragmentFunction: "meshFragment",
			Model:            "models/teapot.obj",
			Source:           newBox(c),
		},
		op: "model",
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			_, err := model.NewMeshRenderer(s.Context(), surface, test.config)
			var initErr *core.InitError
			c.Assert(errors.As(err, &initErr), qt.IsTrue)
			c.Assert(initErr.Op, qt.Equals, test.op)
			if test.isError != nil {
				c.Assert(errors.Is(err, test.isError), qt.IsTrue)
			}
		})
	}
}
