// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package device defines the GPU abstraction the frame scheduler drives:
// devices, command queues, command buffers, encoders, surfaces and the
// resources bound while encoding. Concrete backends live in this package
// (Vulkan) and in device/headless.
package device

import (
	"image"

	"github.com/pkg/errors"
)

// Initialisation failures shared by all backends.
var (
	// ErrDeviceUnavailable is returned when no compatible GPU could be opened.
	ErrDeviceUnavailable = errors.New("no compatible GPU device available")

	// ErrShaderLibraryMissing is returned when the compiled shader library
	// could not be found or holds no functions.
	ErrShaderLibraryMissing = errors.New("shader library missing")

	// ErrPipelineState is returned when pipeline state compilation fails.
	ErrPipelineState = errors.New("pipeline state compilation failed")

	// ErrCommitted is returned when a command buffer is used after Commit.
	ErrCommitted = errors.New("command buffer already committed")
)

// Device is an opened GPU. It creates resources, pipelines and queues.
type Device interface {
	// Name is a human readable device name.
	Name() string

	// Library returns the default shader library, nil if none was loaded.
	Library() *ShaderLibrary

	// NewCommandQueue creates the queue command buffers are drawn from.
	NewCommandQueue() (CommandQueue, error)

	// NewBuffer allocates a CPU visible buffer of length bytes.
	NewBuffer(length int, usage BufferUsage, label string) (Buffer, error)

	// NewBufferWithBytes allocates a buffer and fills it with data.
	NewBufferWithBytes(data []byte, usage BufferUsage, label string) (Buffer, error)

	// NewTexture uploads a 2D RGBA texture.
	NewTexture(img image.Image, label string) (Texture, error)

	// NewRenderPipeline compiles a render pipeline state.
	// Failures wrap ErrPipelineState.
	NewRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error)

	// NewComputePipeline compiles a compute pipeline state.
	// Failures wrap ErrPipelineState.
	NewComputePipeline(fn *Function) (ComputePipeline, error)

	// WaitIdle blocks until all submitted work has finished.
	WaitIdle()

	// Destroy releases the device. All resources must be released first.
	Destroy()
}

// CommandQueue hands out command buffers.
type CommandQueue interface {
	CommandBuffer() (CommandBuffer, error)
}

// CommandBuffer records work for a single frame. It is recorded by one
// goroutine; completion handlers run once the GPU has finished executing it.
type CommandBuffer interface {
	// RenderEncoder begins a render pass targeting the pass drawable.
	RenderEncoder(pass RenderPassDescriptor) (RenderEncoder, error)

	// ComputeEncoder begins a compute pass.
	ComputeEncoder() (ComputeEncoder, error)

	// AddCompletedHandler registers fn to run exactly once after the GPU
	// finished executing the committed buffer. Handlers run on a goroutine
	// other than the one that committed, unless the backend documents
	// otherwise. A buffer whose Commit fails never runs its handlers.
	AddCompletedHandler(fn func())

	// Present schedules the drawable for presentation after execution.
	Present(d Drawable)

	// Commit submits the buffer for execution. It may be called once.
	Commit() error
}

// RenderEncoder encodes draw commands inside a render pass.
type RenderEncoder interface {
	SetViewport(v Viewport)
	SetRenderPipeline(p RenderPipeline)
	SetVertexBuffer(b Buffer, offset int, index int)
	SetFragmentBuffer(b Buffer, offset int, index int)
	SetFragmentTexture(t Texture, index int)
	DrawIndexed(primitive PrimitiveType, indexCount int, indexType IndexType, indexBuffer Buffer, indexOffset int)
	PushDebugGroup(label string)
	PopDebugGroup()
	End()
}

// ComputeEncoder encodes compute dispatches.
type ComputeEncoder interface {
	SetComputePipeline(p ComputePipeline)
	SetBuffer(b Buffer, offset int, index int)
	Dispatch(x, y, z int)
	End()
}

// Surface is a presentable render target that vends drawables.
type Surface interface {
	// NextDrawable returns the next presentable drawable.
	// ok is false when none is currently available.
	NextDrawable() (d Drawable, ok bool)

	// DrawableSize returns the current drawable size in pixels.
	DrawableSize() (width, height int)

	ColorPixelFormat() PixelFormat
	DepthStencilPixelFormat() PixelFormat
	SampleCount() int
}

// Drawable is a single presentable image of a surface.
type Drawable interface {
	Size() (width, height int)

	// Discard gives back a drawable that will not be presented.
	Discard()
}

// Buffer is a CPU visible GPU buffer.
type Buffer interface {
	// Contents is the mapped memory of the buffer. Writes are visible to
	// commands executed after the write.
	Contents() []byte
	Len() int
	Label() string
	Release()
}

// Texture is a sampled 2D image.
type Texture interface {
	Size() (width, height int)
	Label() string
	Release()
}

// RenderPipeline is a compiled render pipeline state.
type RenderPipeline interface {
	Label() string
	Release()
}

// ComputePipeline is a compiled compute pipeline state.
type ComputePipeline interface {
	Label() string
	Release()
}

// Viewport describes the rasterised region and its depth range.
type Viewport struct {
	X, Y, Width, Height float64
	ZNear, ZFar         float64
}

// ClearColor is an RGBA clear value.
type ClearColor struct {
	R, G, B, A float64
}

// RenderPassDescriptor describes a single render pass into a drawable.
type RenderPassDescriptor struct {
	Drawable   Drawable
	ClearColor ClearColor
	ClearDepth float64
}

// VertexAttribute describes one vertex shader input.
type VertexAttribute struct {
	Location    int
	Format      VertexFormat
	Offset      int
	BufferIndex int
}

// VertexBufferLayout describes the stride of a bound vertex buffer.
type VertexBufferLayout struct {
	BufferIndex int
	Stride      int
}

// VertexDescriptor describes how vertex buffers feed the vertex shader.
type VertexDescriptor struct {
	Attributes []VertexAttribute
	Layouts    []VertexBufferLayout
}

// RenderPipelineDescriptor describes a render pipeline state.
type RenderPipelineDescriptor struct {
	Label                   string
	VertexFunction          *Function
	FragmentFunction        *Function
	VertexDescriptor        VertexDescriptor
	ColorPixelFormat        PixelFormat
	DepthStencilPixelFormat PixelFormat
	SampleCount             int
	Primitive               PrimitiveType
	DepthCompareLess        bool
	DepthWrite              bool
}
