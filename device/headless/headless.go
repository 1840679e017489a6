// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package headless implements an in-process GPU device. Command buffers
// execute on the CPU: draws snapshot the buffers bound to them and completion
// handlers fire according to the configured CompletionMode, which makes frame
// pacing observable and controllable.
package headless

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gobuffalo/packd"
	"github.com/pkg/errors"

	"github.com/devblok/koruview/device"
)

// CompletionMode selects when committed command buffers execute.
type CompletionMode int

// Completion modes
const (
	// CompletionImmediate executes inside Commit, handlers run on the committing goroutine.
	CompletionImmediate CompletionMode = iota

	// CompletionAsync executes in submission order on a worker goroutine.
	CompletionAsync

	// CompletionManual queues committed buffers until Complete is called.
	CompletionManual
)

const asyncQueueDepth = 256

// Options configures a headless device.
type Options struct {
	Name       string
	Completion CompletionMode
	Library    *device.ShaderLibrary
}

// New creates a headless device.
func New(opts Options) *Device {
	name := opts.Name
	if name == "" {
		name = "headless"
	}
	d := &Device{
		name:    name,
		mode:    opts.Completion,
		library: opts.Library,
	}
	if d.mode == CompletionAsync {
		d.queue = make(chan *commandBuffer, asyncQueueDepth)
		d.worker.Add(1)
		go d.work()
	}
	return d
}

// NewLibrary builds a shader library from function file stems such as
// "noLightVertex.vert". The code is a placeholder SPIR-V magic number.
func NewLibrary(functions ...string) (*device.ShaderLibrary, error) {
	box := packd.NewMemoryBox()
	for _, fn := range functions {
		if err := box.AddBytes(fn+".spv", []byte{0x03, 0x02, 0x23, 0x07}); err != nil {
			return nil, err
		}
	}
	return device.NewShaderLibrary(box)
}

// Device is a headless device.Device.
type Device struct {
	name    string
	mode    CompletionMode
	library *device.ShaderLibrary

	queue  chan *commandBuffer
	worker sync.WaitGroup

	mutex      sync.Mutex
	inflight   sync.WaitGroup
	sequence   uint64
	pending    []*commandBuffer
	executions []Execution
	trace      []string
	submitted  int
	completed  int

	failCommandBuffer error
	failCommit        error
	destroyed         bool
}

// Draw is a draw call as observed when its command buffer executed.
type Draw struct {
	Pipeline        string
	IndexCount      int
	VertexBuffers   map[int][]byte
	FragmentBuffers map[int][]byte
	Textures        map[int]string
	DebugGroups     []string
}

// Execution describes one executed command buffer.
type Execution struct {
	Sequence   uint64
	Passes     int
	Dispatches int
	Presented  bool
	Draws      []Draw
}

// Name implements device.Device.
func (d *Device) Name() string {
	return d.name
}

// Library implements device.Device.
func (d *Device) Library() *device.ShaderLibrary {
	return d.library
}

// NewCommandQueue implements device.Device.
func (d *Device) NewCommandQueue() (device.CommandQueue, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.destroyed {
		return nil, device.ErrDeviceUnavailable
	}
	return &commandQueue{device: d}, nil
}

// NewBuffer implements device.Device.
func (d *Device) NewBuffer(length int, usage device.BufferUsage, label string) (device.Buffer, error) {
	if length <= 0 {
		return nil, errors.Errorf("buffer %q: invalid length %d", label, length)
	}
	return &buffer{label: label, data: make([]byte, length)}, nil
}

// NewBufferWithBytes implements device.Device.
func (d *Device) NewBufferWithBytes(data []byte, usage device.BufferUsage, label string) (device.Buffer, error) {
	b, err := d.NewBuffer(len(data), usage, label)
	if err != nil {
		return nil, err
	}
	copy(b.Contents(), data)
	return b, nil
}

// NewTexture implements device.Device.
func (d *Device) NewTexture(img image.Image, label string) (device.Texture, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Errorf("texture %q: empty image", label)
	}
	return &texture{
		label:  label,
		width:  img.Bounds().Dx(),
		height: img.Bounds().Dy(),
		pixels: device.Pixels(img),
	}, nil
}

// NewRenderPipeline implements device.Device.
func (d *Device) NewRenderPipeline(desc device.RenderPipelineDescriptor) (device.RenderPipeline, error) {
	if desc.VertexFunction == nil || desc.VertexFunction.Stage != device.VertexStage {
		return nil, errors.Wrapf(device.ErrPipelineState, "%s: vertex function", desc.Label)
	}
	if desc.FragmentFunction == nil || desc.FragmentFunction.Stage != device.FragmentStage {
		return nil, errors.Wrapf(device.ErrPipelineState, "%s: fragment function", desc.Label)
	}
	if desc.ColorPixelFormat == device.PixelFormatInvalid || desc.ColorPixelFormat.IsDepth() {
		return nil, errors.Wrapf(device.ErrPipelineState, "%s: color format %s", desc.Label, desc.ColorPixelFormat)
	}
	if desc.DepthStencilPixelFormat != device.PixelFormatInvalid && !desc.DepthStencilPixelFormat.IsDepth() {
		return nil, errors.Wrapf(device.ErrPipelineState, "%s: depth format %s", desc.Label, desc.DepthStencilPixelFormat)
	}
	return &pipeline{label: desc.Label}, nil
}

// NewComputePipeline implements device.Device.
func (d *Device) NewComputePipeline(fn *device.Function) (device.ComputePipeline, error) {
	if fn == nil || fn.Stage != device.ComputeStage {
		return nil, errors.Wrap(device.ErrPipelineState, "compute function")
	}
	return &pipeline{label: fn.Name}, nil
}

// WaitIdle implements device.Device. In manual mode it completes
// every pending command buffer.
func (d *Device) WaitIdle() {
	if d.mode == CompletionManual {
		d.CompleteAll()
	}
	d.inflight.Wait()
}

// Destroy implements device.Device.
func (d *Device) Destroy() {
	d.WaitIdle()
	d.mutex.Lock()
	if d.destroyed {
		d.mutex.Unlock()
		return
	}
	d.destroyed = true
	d.mutex.Unlock()
	if d.queue != nil {
		close(d.queue)
		d.worker.Wait()
	}
}

// FailNextCommandBuffer makes the next CommandBuffer call return err.
func (d *Device) FailNextCommandBuffer(err error) {
	d.mutex.Lock()
	d.failCommandBuffer = err
	d.mutex.Unlock()
}

// FailNextCommit makes the next Commit call return err.
func (d *Device) FailNextCommit(err error) {
	d.mutex.Lock()
	d.failCommit = err
	d.mutex.Unlock()
}

// Pending returns the number of committed, not yet executed buffers (manual mode).
func (d *Device) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.pending)
}

// Complete executes the i-th pending command buffer, which allows
// completing out of submission order. It reports whether one was executed.
func (d *Device) Complete(i int) bool {
	d.mutex.Lock()
	if i < 0 || i >= len(d.pending) {
		d.mutex.Unlock()
		return false
	}
	cb := d.pending[i]
	d.pending = append(d.pending[:i], d.pending[i+1:]...)
	d.mutex.Unlock()

	d.execute(cb)
	return true
}

// CompleteAll executes every pending command buffer in submission order.
func (d *Device) CompleteAll() int {
	var n int
	for d.Complete(0) {
		n++
	}
	return n
}

// Submitted returns the number of committed command buffers.
func (d *Device) Submitted() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.submitted
}

// Completed returns the number of executed command buffers.
func (d *Device) Completed() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.completed
}

// Executions returns the executed command buffers in execution order.
func (d *Device) Executions() []Execution {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]Execution, len(d.executions))
	copy(out, d.executions)
	return out
}

// Trace returns the recorded encoder calls, prefixed with the
// command buffer sequence number.
func (d *Device) Trace() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]string, len(d.trace))
	copy(out, d.trace)
	return out
}

func (d *Device) record(seq uint64, format string, args ...interface{}) {
	d.mutex.Lock()
	d.trace = append(d.trace, fmt.Sprintf("%d:", seq)+fmt.Sprintf(format, args...))
	d.mutex.Unlock()
}

func (d *Device) submit(cb *commandBuffer) error {
	d.mutex.Lock()
	if d.destroyed {
		d.mutex.Unlock()
		return device.ErrDeviceUnavailable
	}
	if err := d.failCommit; err != nil {
		d.failCommit = nil
		d.mutex.Unlock()
		return err
	}
	d.submitted++
	d.trace = append(d.trace, fmt.Sprintf("%d:commit", cb.sequence))
	d.inflight.Add(1)
	if d.mode == CompletionManual {
		d.pending = append(d.pending, cb)
	}
	d.mutex.Unlock()

	switch d.mode {
	case CompletionImmediate:
		d.execute(cb)
	case CompletionAsync:
		d.queue <- cb
	}
	return nil
}

func (d *Device) work() {
	defer d.worker.Done()
	for cb := range d.queue {
		d.execute(cb)
	}
}

func (d *Device) execute(cb *commandBuffer) {
	exec := Execution{
		Sequence:   cb.sequence,
		Passes:     cb.passes,
		Dispatches: cb.dispatches,
		Presented:  cb.drawable != nil,
	}
	for _, draw := range cb.draws {
		exec.Draws = append(exec.Draws, draw.snapshot())
	}
	if cb.drawable != nil {
		cb.drawable.surface.presented()
	}

	d.mutex.Lock()
	d.executions = append(d.executions, exec)
	d.completed++
	d.mutex.Unlock()

	for _, fn := range cb.handlers {
		fn()
	}
	d.inflight.Done()
}

type commandQueue struct {
	device *Device
}

func (q *commandQueue) CommandBuffer() (device.CommandBuffer, error) {
	d := q.device
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.destroyed {
		return nil, device.ErrDeviceUnavailable
	}
	if err := d.failCommandBuffer; err != nil {
		d.failCommandBuffer = nil
		return nil, err
	}
	d.sequence++
	return &commandBuffer{device: d, sequence: d.sequence}, nil
}

type commandBuffer struct {
	device   *Device
	sequence uint64

	handlers   []func()
	drawable   *Drawable
	draws      []pendingDraw
	passes     int
	dispatches int
	encoding   bool
	committed  bool
}

func (cb *commandBuffer) RenderEncoder(pass device.RenderPassDescriptor) (device.RenderEncoder, error) {
	if cb.committed {
		return nil, device.ErrCommitted
	}
	if cb.encoding {
		return nil, errors.New("another encoder is still open")
	}
	if _, ok := pass.Drawable.(*Drawable); !ok {
		return nil, errors.New("render pass without a headless drawable")
	}
	cb.encoding = true
	cb.passes++
	cb.device.record(cb.sequence, "render.begin")
	return &renderEncoder{
		cb:              cb,
		vertexBuffers:   map[int]device.Buffer{},
		fragmentBuffers: map[int]device.Buffer{},
		textures:        map[int]device.Texture{},
	}, nil
}

func (cb *commandBuffer) ComputeEncoder() (device.ComputeEncoder, error) {
	if cb.committed {
		return nil, device.ErrCommitted
	}
	if cb.encoding {
		return nil, errors.New("another encoder is still open")
	}
	cb.encoding = true
	cb.device.record(cb.sequence, "compute.begin")
	return &computeEncoder{cb: cb}, nil
}

func (cb *commandBuffer) AddCompletedHandler(fn func()) {
	cb.handlers = append(cb.handlers, fn)
}

func (cb *commandBuffer) Present(d device.Drawable) {
	if drawable, ok := d.(*Drawable); ok {
		cb.drawable = drawable
		cb.device.record(cb.sequence, "present")
	}
}

func (cb *commandBuffer) Commit() error {
	if cb.committed {
		return device.ErrCommitted
	}
	if cb.encoding {
		return errors.New("commit with an open encoder")
	}
	if err := cb.device.submit(cb); err != nil {
		return err
	}
	cb.committed = true
	return nil
}

type pendingDraw struct {
	pipeline        string
	indexCount      int
	vertexBuffers   map[int]device.Buffer
	fragmentBuffers map[int]device.Buffer
	textures        map[int]device.Texture
	groups          []string
}

func (p pendingDraw) snapshot() Draw {
	draw := Draw{
		Pipeline:        p.pipeline,
		IndexCount:      p.indexCount,
		VertexBuffers:   map[int][]byte{},
		FragmentBuffers: map[int][]byte{},
		Textures:        map[int]string{},
		DebugGroups:     p.groups,
	}
	for idx, b := range p.vertexBuffers {
		draw.VertexBuffers[idx] = append([]byte(nil), b.Contents()...)
	}
	for idx, b := range p.fragmentBuffers {
		draw.FragmentBuffers[idx] = append([]byte(nil), b.Contents()...)
	}
	for idx, t := range p.textures {
		draw.Textures[idx] = t.Label()
	}
	return draw
}

type renderEncoder struct {
	cb              *commandBuffer
	pipeline        string
	vertexBuffers   map[int]device.Buffer
	fragmentBuffers map[int]device.Buffer
	textures        map[int]device.Texture
	groups          []string
}

func (e *renderEncoder) SetViewport(v device.Viewport) {
	e.cb.device.record(e.cb.sequence, "render.viewport %gx%g depth %g..%g", v.Width, v.Height, v.ZNear, v.ZFar)
}

func (e *renderEncoder) SetRenderPipeline(p device.RenderPipeline) {
	e.pipeline = p.Label()
	e.cb.device.record(e.cb.sequence, "render.pipeline %s", e.pipeline)
}

func (e *renderEncoder) SetVertexBuffer(b device.Buffer, offset int, index int) {
	e.vertexBuffers[index] = b
}

func (e *renderEncoder) SetFragmentBuffer(b device.Buffer, offset int, index int) {
	e.fragmentBuffers[index] = b
}

func (e *renderEncoder) SetFragmentTexture(t device.Texture, index int) {
	e.textures[index] = t
}

func (e *renderEncoder) DrawIndexed(primitive device.PrimitiveType, indexCount int, indexType device.IndexType, indexBuffer device.Buffer, indexOffset int) {
	draw := pendingDraw{
		pipeline:        e.pipeline,
		indexCount:      indexCount,
		vertexBuffers:   map[int]device.Buffer{},
		fragmentBuffers: map[int]device.Buffer{},
		textures:        map[int]device.Texture{},
		groups:          append([]string(nil), e.groups...),
	}
	for k, v := range e.vertexBuffers {
		draw.vertexBuffers[k] = v
	}
	for k, v := range e.fragmentBuffers {
		draw.fragmentBuffers[k] = v
	}
	for k, v := range e.textures {
		draw.textures[k] = v
	}
	e.cb.draws = append(e.cb.draws, draw)
	e.cb.device.record(e.cb.sequence, "render.draw %d", indexCount)
}

func (e *renderEncoder) PushDebugGroup(label string) {
	e.groups = append(e.groups, label)
	e.cb.device.record(e.cb.sequence, "render.group %s", strings.Join(e.groups, "/"))
}

func (e *renderEncoder) PopDebugGroup() {
	if len(e.groups) > 0 {
		e.groups = e.groups[:len(e.groups)-1]
	}
}

func (e *renderEncoder) End() {
	e.cb.encoding = false
	e.cb.device.record(e.cb.sequence, "render.end")
}

type computeEncoder struct {
	cb *commandBuffer
}

func (e *computeEncoder) SetComputePipeline(p device.ComputePipeline) {
	e.cb.device.record(e.cb.sequence, "compute.pipeline %s", p.Label())
}

func (e *computeEncoder) SetBuffer(b device.Buffer, offset int, index int) {}

func (e *computeEncoder) Dispatch(x, y, z int) {
	e.cb.dispatches++
	e.cb.device.record(e.cb.sequence, "compute.dispatch %dx%dx%d", x, y, z)
}

func (e *computeEncoder) End() {
	e.cb.encoding = false
	e.cb.device.record(e.cb.sequence, "compute.end")
}

type buffer struct {
	label string
	data  []byte
}

func (b *buffer) Contents() []byte { return b.data }
func (b *buffer) Len() int         { return len(b.data) }
func (b *buffer) Label() string    { return b.label }
func (b *buffer) Release()         { b.data = nil }

type texture struct {
	label         string
	width, height int
	pixels        []uint8
}

func (t *texture) Size() (int, int) { return t.width, t.height }
func (t *texture) Label() string    { return t.label }
func (t *texture) Release()         { t.pixels = nil }

type pipeline struct {
	label string
}

func (p *pipeline) Label() string { return p.label }
func (p *pipeline) Release()      {}
