// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// maxDrawsPerBuffer bounds the descriptor sets one command buffer can bind.
const maxDrawsPerBuffer = 256

func newVulkanQueue(v *VulkanDevice) (*vulkanQueue, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: v.queueFamily,
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(v.device, &cpci, nil, &pool)); err != nil {
		return nil, errors.New("vk.CreateCommandPool(): " + err.Error())
	}
	return &vulkanQueue{
		device: v,
		pool:   pool,
	}, nil
}

// vulkanQueue recycles command records once their fence signalled.
type vulkanQueue struct {
	device *VulkanDevice
	pool   vk.CommandPool

	mutex sync.Mutex
	free  []*commandRecord
	all   []*commandRecord

	waiters sync.WaitGroup
}

type commandRecord struct {
	buffer         vk.CommandBuffer
	fence          vk.Fence
	descriptorPool vk.DescriptorPool
}

func (q *vulkanQueue) newRecord() (*commandRecord, error) {
	dev := q.device.device

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        q.pool,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(dev, &cbai, commandBuffers)); err != nil {
		return nil, errors.New("vk.AllocateCommandBuffers(): " + err.Error())
	}

	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(dev, &fci, nil, &fence)); err != nil {
		vk.FreeCommandBuffers(dev, q.pool, 1, commandBuffers)
		return nil, errors.New("vk.CreateFence(): " + err.Error())
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxDrawsPerBuffer,
		PoolSizeCount: 3,
		PPoolSizes: []vk.DescriptorPoolSize{{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 2 * maxDrawsPerBuffer,
		}, {
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: maxDrawsPerBuffer,
		}, {
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: computeStorageBindings * maxDrawsPerBuffer,
		}},
	}
	var descriptorPool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(dev, &dpci, nil, &descriptorPool)); err != nil {
		vk.DestroyFence(dev, fence, nil)
		vk.FreeCommandBuffers(dev, q.pool, 1, commandBuffers)
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}

	r := &commandRecord{
		buffer:         commandBuffers[0],
		fence:          fence,
		descriptorPool: descriptorPool,
	}
	q.all = append(q.all, r)
	return r, nil
}

func (q *vulkanQueue) takeRecord() (*commandRecord, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if n := len(q.free); n > 0 {
		r := q.free[n-1]
		q.free = q.free[:n-1]
		return r, nil
	}
	return q.newRecord()
}

func (q *vulkanQueue) returnRecord(r *commandRecord) {
	q.mutex.Lock()
	q.free = append(q.free, r)
	q.mutex.Unlock()
}

// CommandBuffer implements CommandQueue.
func (q *vulkanQueue) CommandBuffer() (CommandBuffer, error) {
	if q.device.device == nil {
		return nil, ErrDeviceUnavailable
	}
	r, err := q.takeRecord()
	if err != nil {
		return nil, err
	}
	dev := q.device.device

	if err := vk.Error(vk.ResetCommandBuffer(r.buffer, 0)); err != nil {
		q.returnRecord(r)
		return nil, errors.New("vk.ResetCommandBuffer(): " + err.Error())
	}
	if err := vk.Error(vk.ResetFences(dev, 1, []vk.Fence{r.fence})); err != nil {
		q.returnRecord(r)
		return nil, errors.New("vk.ResetFences(): " + err.Error())
	}
	if err := vk.Error(vk.ResetDescriptorPool(dev, r.descriptorPool, 0)); err != nil {
		q.returnRecord(r)
		return nil, errors.New("vk.ResetDescriptorPool(): " + err.Error())
	}

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(r.buffer, &cbbi)); err != nil {
		q.returnRecord(r)
		return nil, errors.New("vk.BeginCommandBuffer(): " + err.Error())
	}
	return &vulkanCommandBuffer{queue: q, record: r}, nil
}

func (q *vulkanQueue) destroy() {
	dev := q.device.device
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for _, r := range q.all {
		vk.DestroyDescriptorPool(dev, r.descriptorPool, nil)
		vk.DestroyFence(dev, r.fence, nil)
		vk.FreeCommandBuffers(dev, q.pool, 1, []vk.CommandBuffer{r.buffer})
	}
	q.all = nil
	q.free = nil
	vk.DestroyCommandPool(dev, q.pool, nil)
}

type vulkanCommandBuffer struct {
	queue     *vulkanQueue
	record    *commandRecord
	handlers  []func()
	drawables []*vulkanDrawable
	present   *vulkanDrawable
	committed bool
}

func (cb *vulkanCommandBuffer) RenderEncoder(pass RenderPassDescriptor) (RenderEncoder, error) {
	if cb.committed {
		return nil, ErrCommitted
	}
	d, ok := pass.Drawable.(*vulkanDrawable)
	if !ok {
		return nil, errors.Errorf("drawable %T was not vended by a vulkan surface", pass.Drawable)
	}
	cb.drawables = append(cb.drawables, d)

	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor([]float32{
		float32(pass.ClearColor.R), float32(pass.ClearColor.G),
		float32(pass.ClearColor.B), float32(pass.ClearColor.A),
	})
	clearValues[1].SetDepthStencil(float32(pass.ClearDepth), 0)

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  d.renderPass,
		Framebuffer: d.framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: d.extent,
		},
		ClearValueCount: 2,
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.record.buffer, &rpbi, vk.SubpassContentsInline)

	enc := &vulkanRenderEncoder{
		commandBuffer: cb,
		extent:        d.extent,
	}
	w, h := d.Size()
	enc.SetViewport(Viewport{Width: float64(w), Height: float64(h), ZFar: 1})
	return enc, nil
}

func (cb *vulkanCommandBuffer) ComputeEncoder() (ComputeEncoder, error) {
	if cb.committed {
		return nil, ErrCommitted
	}
	return &vulkanComputeEncoder{commandBuffer: cb}, nil
}

func (cb *vulkanCommandBuffer) AddCompletedHandler(fn func()) {
	cb.handlers = append(cb.handlers, fn)
}

func (cb *vulkanCommandBuffer) Present(d Drawable) {
	if vd, ok := d.(*vulkanDrawable); ok {
		cb.present = vd
	}
}

func (cb *vulkanCommandBuffer) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     cb.record.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	if err := vk.Error(vk.AllocateDescriptorSets(cb.queue.device.device, &dsai, &set)); err != nil {
		return set, errors.New("vk.AllocateDescriptorSets(): " + err.Error())
	}
	return set, nil
}

// Commit implements CommandBuffer. Handlers run on a waiter goroutine once
// the fence of the submission signalled.
func (cb *vulkanCommandBuffer) Commit() error {
	if cb.committed {
		return ErrCommitted
	}
	cb.committed = true
	q := cb.queue
	r := cb.record

	if err := vk.Error(vk.EndCommandBuffer(r.buffer)); err != nil {
		cb.abandon()
		return errors.New("vk.EndCommandBuffer(): " + err.Error())
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{r.buffer},
	}
	var waits []vk.Semaphore
	var stages []vk.PipelineStageFlags
	for _, d := range cb.drawables {
		waits = append(waits, d.acquired)
		stages = append(stages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	}
	si.WaitSemaphoreCount = uint32(len(waits))
	si.PWaitSemaphores = waits
	si.PWaitDstStageMask = stages
	if cb.present != nil {
		si.SignalSemaphoreCount = 1
		si.PSignalSemaphores = []vk.Semaphore{cb.present.rendered}
	}

	if err := q.device.submit([]vk.SubmitInfo{si}, r.fence); err != nil {
		cb.abandon()
		return err
	}

	if d := cb.present; d != nil {
		pi := vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{d.rendered},
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{d.surface.swapchain},
			PImageIndices:      []uint32{d.imageIndex},
		}
		switch result := q.device.present(&pi); result {
		case vk.Success:
		case vk.Suboptimal, vk.ErrorOutOfDate:
			d.surface.markStale()
		default:
			log.WithError(vk.Error(result)).Warn("vk.QueuePresent()")
		}
	}

	q.waiters.Add(1)
	go func() {
		defer q.waiters.Done()
		if err := vk.Error(vk.WaitForFences(q.device.device, 1, []vk.Fence{r.fence}, vk.True, vk.MaxUint64)); err != nil {
			log.WithError(err).Error("vk.WaitForFences()")
		}
		for _, fn := range cb.handlers {
			fn()
		}
		for _, d := range cb.drawables {
			d.surface.releaseSemaphore(d.acquired)
		}
		q.returnRecord(r)
	}()
	return nil
}

// abandon returns resources of a buffer that never reached the queue.
func (cb *vulkanCommandBuffer) abandon() {
	for _, d := range cb.drawables {
		d.surface.releaseSemaphore(d.acquired)
	}
	cb.queue.returnRecord(cb.record)
}

type vulkanRenderEncoder struct {
	commandBuffer *vulkanCommandBuffer
	extent        vk.Extent2D
	pipeline      *vulkanPipeline

	vertexBuffers   map[int]*vulkanBuffer
	vertexOffsets   map[int]int
	fragmentBuffers map[int]*vulkanBuffer
	fragmentOffsets map[int]int
	texture         *vulkanTexture
	debugGroups     []string
}

func (e *vulkanRenderEncoder) SetViewport(v Viewport) {
	cmd := e.commandBuffer.record.buffer
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		X:        float32(v.X),
		Y:        float32(v.Y),
		Width:    float32(v.Width),
		Height:   float32(v.Height),
		MinDepth: float32(v.ZNear),
		MaxDepth: float32(v.ZFar),
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(v.X), Y: int32(v.Y)},
		Extent: vk.Extent2D{Width: uint32(v.Width), Height: uint32(v.Height)},
	}})
}

func (e *vulkanRenderEncoder) SetRenderPipeline(p RenderPipeline) {
	vp, ok := p.(*vulkanPipeline)
	if !ok {
		return
	}
	e.pipeline = vp
	vk.CmdBindPipeline(e.commandBuffer.record.buffer, vk.PipelineBindPointGraphics, vp.pipeline)
}

func (e *vulkanRenderEncoder) SetVertexBuffer(b Buffer, offset int, index int) {
	vb, ok := b.(*vulkanBuffer)
	if !ok {
		return
	}
	if e.vertexBuffers == nil {
		e.vertexBuffers = map[int]*vulkanBuffer{}
		e.vertexOffsets = map[int]int{}
	}
	e.vertexBuffers[index] = vb
	e.vertexOffsets[index] = offset
}

func (e *vulkanRenderEncoder) SetFragmentBuffer(b Buffer, offset int, index int) {
	fb, ok := b.(*vulkanBuffer)
	if !ok {
		return
	}
	if e.fragmentBuffers == nil {
		e.fragmentBuffers = map[int]*vulkanBuffer{}
		e.fragmentOffsets = map[int]int{}
	}
	e.fragmentBuffers[index] = fb
	e.fragmentOffsets[index] = offset
}

func (e *vulkanRenderEncoder) SetFragmentTexture(t Texture, index int) {
	if vt, ok := t.(*vulkanTexture); ok && index == TextureIndexDiffuse {
		e.texture = vt
	}
}

func (e *vulkanRenderEncoder) uniform(index int) (*vulkanBuffer, int) {
	if b, ok := e.vertexBuffers[index]; ok {
		return b, e.vertexOffsets[index]
	}
	if b, ok := e.fragmentBuffers[index]; ok {
		return b, e.fragmentOffsets[index]
	}
	return e.commandBuffer.queue.device.zeroBuffer, 0
}

func (e *vulkanRenderEncoder) DrawIndexed(primitive PrimitiveType, indexCount int, indexType IndexType, indexBuffer Buffer, indexOffset int) {
	if e.pipeline == nil {
		log.Warn("draw without a render pipeline skipped")
		return
	}
	ib, ok := indexBuffer.(*vulkanBuffer)
	if !ok {
		return
	}
	vertices, ok := e.vertexBuffers[BufferIndexVertex]
	if !ok {
		log.Warn("draw without a vertex buffer skipped")
		return
	}
	cb := e.commandBuffer
	dev := cb.queue.device

	set, err := cb.allocateSet(dev.graphicsSetLayout)
	if err != nil {
		log.WithError(err).Warn("draw skipped")
		return
	}

	frame, frameOffset := e.uniform(BufferIndexFrameUniform)
	material, materialOffset := e.uniform(BufferIndexMaterial)
	texture := e.texture
	if texture == nil {
		texture = dev.whiteTexture
	}
	wds := []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      bindingFrameUniform,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: frame.buffer,
			Offset: vk.DeviceSize(frameOffset),
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      bindingMaterial,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: material.buffer,
			Offset: vk.DeviceSize(materialOffset),
			Range:  vk.DeviceSize(vk.WholeSize),
		}},
	}, {
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      bindingTexture,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   texture.view,
			Sampler:     dev.sampler,
		}},
	}}
	vk.UpdateDescriptorSets(dev.device, uint32(len(wds)), wds, 0, nil)

	cmd := cb.record.buffer
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, dev.graphicsLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdBindVertexBuffers(cmd, BufferIndexVertex, 1, []vk.Buffer{vertices.buffer}, []vk.DeviceSize{vk.DeviceSize(e.vertexOffsets[BufferIndexVertex])})

	it := vk.IndexTypeUint16
	if indexType == IndexTypeUint32 {
		it = vk.IndexTypeUint32
	}
	vk.CmdBindIndexBuffer(cmd, ib.buffer, vk.DeviceSize(indexOffset), it)
	vk.CmdDrawIndexed(cmd, uint32(indexCount), 1, 0, 0, 0)
}

// PushDebugGroup records the label for log output. Debug markers need an
// extension which is not enabled.
func (e *vulkanRenderEncoder) PushDebugGroup(label string) {
	e.debugGroups = append(e.debugGroups, label)
}

func (e *vulkanRenderEncoder) PopDebugGroup() {
	if n := len(e.debugGroups); n > 0 {
		e.debugGroups = e.debugGroups[:n-1]
	}
}

func (e *vulkanRenderEncoder) End() {
	vk.CmdEndRenderPass(e.commandBuffer.record.buffer)
}

type vulkanComputeEncoder struct {
	commandBuffer *vulkanCommandBuffer
	pipeline      *vulkanPipeline
	buffers       [computeStorageBindings]*vulkanBuffer
	offsets       [computeStorageBindings]int
}

func (e *vulkanComputeEncoder) SetComputePipeline(p ComputePipeline) {
	vp, ok := p.(*vulkanPipeline)
	if !ok {
		return
	}
	e.pipeline = vp
	vk.CmdBindPipeline(e.commandBuffer.record.buffer, vk.PipelineBindPointCompute, vp.pipeline)
}

func (e *vulkanComputeEncoder) SetBuffer(b Buffer, offset int, index int) {
	vb, ok := b.(*vulkanBuffer)
	if !ok || index < 0 || index >= computeStorageBindings {
		return
	}
	e.buffers[index] = vb
	e.offsets[index] = offset
}

func (e *vulkanComputeEncoder) Dispatch(x, y, z int) {
	if e.pipeline == nil {
		log.Warn("dispatch without a compute pipeline skipped")
		return
	}
	cb := e.commandBuffer
	dev := cb.queue.device

	set, err := cb.allocateSet(dev.computeSetLayout)
	if err != nil {
		log.WithError(err).Warn("dispatch skipped")
		return
	}
	wds := make([]vk.WriteDescriptorSet, computeStorageBindings)
	for idx := range wds {
		b, offset := e.buffers[idx], e.offsets[idx]
		if b == nil {
			b, offset = dev.zeroBuffer, 0
		}
		wds[idx] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      uint32(idx),
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: b.buffer,
				Offset: vk.DeviceSize(offset),
				Range:  vk.DeviceSize(vk.WholeSize),
			}},
		}
	}
	vk.UpdateDescriptorSets(dev.device, uint32(len(wds)), wds, 0, nil)

	cmd := cb.record.buffer
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, dev.computeLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdDispatch(cmd, uint32(x), uint32(y), uint32(z))
}

// End makes compute writes visible to the vertex stage of later passes.
func (e *vulkanComputeEncoder) End() {
	vk.CmdPipelineBarrier(e.commandBuffer.record.buffer,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit|vk.PipelineStageVertexShaderBit),
		vk.DependencyFlags(0), 1,
		[]vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit),
		}}, 0, nil, 0, nil)
}
