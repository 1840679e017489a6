// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"sync"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruview/core"
	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/util/quat"
)

// MeshRendererConfig names the shader functions and the model a
// MeshRenderer draws.
type MeshRendererConfig struct {
	VertexFunction   string
	FragmentFunction string
	Model            string
	Source           Source
}

// NewMeshRenderer compiles the mesh pipeline for surface, loads the model
// and allocates one VertexUniforms block per frame slot. Failures are
// returned as *core.InitError.
func NewMeshRenderer(ctx core.Context, surface device.Surface, cfg MeshRendererConfig) (*MeshRenderer, error) {
	vertex, err := ctx.Library.Function(cfg.VertexFunction)
	if err != nil {
		return nil, &core.InitError{Op: "vertex function", Err: errors.Wrap(device.ErrShaderLibraryMissing, err.Error())}
	}
	fragment, err := ctx.Library.Function(cfg.FragmentFunction)
	if err != nil {
		return nil, &core.InitError{Op: "fragment function", Err: errors.Wrap(device.ErrShaderLibraryMissing, err.Error())}
	}

	pipeline, err := ctx.Device.NewRenderPipeline(device.RenderPipelineDescriptor{
		Label:                   "MeshPipeline",
		VertexFunction:          vertex,
		FragmentFunction:        fragment,
		VertexDescriptor:        VertexDescriptor(),
		ColorPixelFormat:        surface.ColorPixelFormat(),
		DepthStencilPixelFormat: surface.DepthStencilPixelFormat(),
		SampleCount:             surface.SampleCount(),
		Primitive:               device.PrimitiveTriangle,
		DepthCompareLess:        true,
		DepthWrite:              true,
	})
	if err != nil {
		if !errors.Is(err, device.ErrPipelineState) {
			err = errors.Wrap(device.ErrPipelineState, err.Error())
		}
		return nil, &core.InitError{Op: "pipeline", Err: err}
	}

	meshes, err := Load(ctx.Device, cfg.Source, cfg.Model)
	if err != nil {
		pipeline.Release()
		return nil, &core.InitError{Op: "model", Err: err}
	}

	uniforms, err := core.NewUniformRing(ctx.Device, ctx.BufferCount, VertexUniformsSize, "MeshUniforms")
	if err != nil {
		for _, m := range meshes {
			m.Release()
		}
		pipeline.Release()
		return nil, &core.InitError{Op: "uniforms", Err: err}
	}

	var vertices, submeshes int
	for _, m := range meshes {
		vertices += m.VertexCount
		submeshes += len(m.Submeshes)
	}
	log.WithFields(log.Fields{
		"model":     cfg.Model,
		"meshes":    len(meshes),
		"submeshes": submeshes,
		"vertices":  vertices,
	}).Info("model loaded")

	return &MeshRenderer{
		pipeline: pipeline,
		meshes:   meshes,
		uniforms: uniforms,
		model:    glm.Ident4(),
	}, nil
}

// MeshRenderer is a render target drawing the meshes of one model with a
// model matrix.
type MeshRenderer struct {
	pipeline device.RenderPipeline
	meshes   []*Mesh
	uniforms *core.UniformRing

	mutex sync.Mutex
	model glm.Mat4
	spin  glm.Vec3
}

// SetModelMatrix sets the model to world transform.
func (r *MeshRenderer) SetModelMatrix(m glm.Mat4) {
	r.mutex.Lock()
	r.model = m
	r.mutex.Unlock()
}

// ModelMatrix returns the model to world transform.
func (r *MeshRenderer) ModelMatrix() glm.Mat4 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.model
}

// SetSpin rotates the model every frame, in degrees per second about
// each axis.
func (r *MeshRenderer) SetSpin(x, y, z float32) {
	r.mutex.Lock()
	r.spin = glm.Vec3{x, y, z}
	r.mutex.Unlock()
}

// PreUpdate applies the spin for the frame delta.
func (r *MeshRenderer) PreUpdate(f core.Frame) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.spin == (glm.Vec3{}) {
		return
	}
	dt := float32(f.Delta().Seconds())
	if dt == 0 {
		return
	}
	angles := r.spin.Mul(dt)
	r.model = r.model.Mul4(quat.ToMatrix(quat.FromEuler(angles[0], angles[1], angles[2])))
}

// Update writes the uniforms of the frame slot.
func (r *MeshRenderer) Update(f core.Frame) {
	mat := f.View().Mul4(r.ModelMatrix())
	err := r.uniforms.Write(f, func(b []byte) {
		if err := UpdateVertexUniforms(b, func(u *VertexUniforms) {
			u.ProjectionView = f.Projection().Mul4(mat)
			u.Normal = mat.Inv().Transpose()
		}); err != nil {
			log.WithError(err).Warn("mesh uniforms not written")
		}
	})
	if err != nil {
		log.WithError(err).WithField("frame", f.Number()).Warn("mesh uniforms not written")
	}
}

// Render draws every mesh with the uniforms of the frame slot.
func (r *MeshRenderer) Render(f core.Frame, enc device.RenderEncoder) {
	uniforms, err := r.uniforms.Buffer(f)
	if err != nil {
		log.WithError(err).WithField("frame", f.Number()).Warn("meshes not rendered")
		return
	}

	enc.PushDebugGroup("Render Meshes")
	enc.SetRenderPipeline(r.pipeline)
	enc.SetVertexBuffer(uniforms, 0, device.BufferIndexFrameUniform)
	for _, m := range r.meshes {
		m.Render(enc)
	}
	enc.PopDebugGroup()
}

// Meshes returns the loaded meshes.
func (r *MeshRenderer) Meshes() []*Mesh {
	return r.meshes
}

// Release frees every GPU resource of the renderer. No frame drawing it
// may be in flight.
func (r *MeshRenderer) Release() {
	for _, m := range r.meshes {
		m.Release()
	}
	r.meshes = nil
	r.uniforms.Release()
	r.pipeline.Release()
}
