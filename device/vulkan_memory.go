// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"errors"
	"fmt"
	"image"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

const zeroBufferSize = 256

// allBufferUsage lets any buffer be bound at any point of a pipeline.
const allBufferUsage = vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit |
	vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferSrcBit

func newMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *memoryAllocator {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()

	return &memoryAllocator{
		device:        device,
		memProperties: memProperties,
	}
}

// memoryAllocator is responsible returning usable
// memory for any resources that may need it.
type memoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

// malloc returns a usable memory chunk ready for use.
func (ma *memoryAllocator) malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	memTypeIdx, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return vk.NullDeviceMemory, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &memory)); err != nil {
		return vk.NullDeviceMemory, fmt.Errorf("vk.AllocateMemory(): %s", err.Error())
	}
	return memory, nil
}

func (ma *memoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		ma.memProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}

// NewBuffer implements Device.
func (v *VulkanDevice) NewBuffer(length int, usage BufferUsage, label string) (Buffer, error) {
	if length <= 0 {
		return nil, fmt.Errorf("buffer %q: invalid length %d", label, length)
	}
	return v.newBuffer(make([]byte, length), label)
}

// NewBufferWithBytes implements Device.
func (v *VulkanDevice) NewBufferWithBytes(data []byte, usage BufferUsage, label string) (Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer %q: no data", label)
	}
	return v.newBuffer(data, label)
}

// newBuffer creates, allocates, binds and persistently maps a host
// visible buffer holding a copy of data.
func (v *VulkanDevice) newBuffer(data []byte, label string) (*vulkanBuffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(len(data)),
		Usage:       vk.BufferUsageFlags(allBufferUsage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(v.device, &createInfo, nil, &buffer)); err != nil {
		return nil, fmt.Errorf("vk.CreateBuffer(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(v.device, buffer, &req)
	req.Deref()

	memory, err := v.allocator.malloc(req, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		vk.DestroyBuffer(v.device, buffer, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindBufferMemory(v.device, buffer, memory, 0)); err != nil {
		vk.DestroyBuffer(v.device, buffer, nil)
		vk.FreeMemory(v.device, memory, nil)
		return nil, fmt.Errorf("vk.BindBufferMemory(): %s", err.Error())
	}

	var mapped unsafe.Pointer
	if err := vk.Error(vk.MapMemory(v.device, memory, 0, vk.DeviceSize(len(data)), 0, &mapped)); err != nil {
		vk.DestroyBuffer(v.device, buffer, nil)
		vk.FreeMemory(v.device, memory, nil)
		return nil, fmt.Errorf("vk.MapMemory(): %s", err.Error())
	}

	b := &vulkanBuffer{
		device:   v.device,
		buffer:   buffer,
		memory:   memory,
		label:    label,
		contents: unsafe.Slice((*byte)(mapped), len(data)),
	}
	copy(b.contents, data)
	return b, nil
}

// vulkanBuffer implements a persistently mapped vulkan buffer.
type vulkanBuffer struct {
	device   vk.Device
	buffer   vk.Buffer
	memory   vk.DeviceMemory
	label    string
	contents []byte
}

func (b *vulkanBuffer) Contents() []byte { return b.contents }
func (b *vulkanBuffer) Len() int         { return len(b.contents) }
func (b *vulkanBuffer) Label() string    { return b.label }

// Release destroys the buffer and memory asociated with it.
func (b *vulkanBuffer) Release() {
	if b.contents == nil {
		return
	}
	b.contents = nil
	vk.UnmapMemory(b.device, b.memory)
	vk.DestroyBuffer(b.device, b.buffer, nil)
	vk.FreeMemory(b.device, b.memory, nil)
}

// NewTexture implements Device.
func (v *VulkanDevice) NewTexture(img image.Image, label string) (Texture, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("texture %q: empty image", label)
	}
	return v.newTexture(uint32(bounds.Dx()), uint32(bounds.Dy()), Pixels(img), label)
}

func (v *VulkanDevice) newTexture(width, height uint32, pixels []uint8, label string) (*vulkanTexture, error) {
	staging, err := v.newBuffer(pixels, label+" staging")
	if err != nil {
		return nil, err
	}
	defer staging.Release()

	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        vk.FormatR8g8b8a8Unorm,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}
	var textureImage vk.Image
	if err := vk.Error(vk.CreateImage(v.device, &ici, nil, &textureImage)); err != nil {
		return nil, fmt.Errorf("vk.CreateImage(): %s", err.Error())
	}
	t := &vulkanTexture{
		device: v.device,
		image:  textureImage,
		width:  int(width),
		height: int(height),
		label:  label,
	}

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(v.device, textureImage, &memRequirements)
	memRequirements.Deref()

	memory, err := v.allocator.malloc(memRequirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		t.Release()
		return nil, err
	}
	t.memory = memory
	if err := vk.Error(vk.BindImageMemory(v.device, textureImage, memory, 0)); err != nil {
		t.Release()
		return nil, fmt.Errorf("vk.BindImageMemory(): %s", err.Error())
	}

	cmd, err := v.beginSingleTimeCommands()
	if err != nil {
		t.Release()
		return nil, err
	}
	transitionLayout(cmd, textureImage, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	bic := vk.BufferImageCopy{
		ImageExtent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
	}
	vk.CmdCopyBufferToImage(cmd, staging.buffer, textureImage, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{bic})
	transitionLayout(cmd, textureImage, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	if err := v.endSingleTimeCommands(cmd); err != nil {
		t.Release()
		return nil, err
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    textureImage,
		ViewType: vk.ImageViewType2d,
		Format:   vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(v.device, &ivci, nil, &view)); err != nil {
		t.Release()
		return nil, fmt.Errorf("vk.CreateImageView(): %s", err.Error())
	}
	t.view = view
	return t, nil
}

func transitionLayout(cmd vk.CommandBuffer, img vk.Image, old vk.ImageLayout, new vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           new,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			LevelCount: 1,
			LayerCount: 1,
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	if old == vk.ImageLayoutUndefined {
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	} else {
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// vulkanTexture is a sampled device local image.
type vulkanTexture struct {
	device vk.Device
	image  vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	width  int
	height int
	label  string
}

func (t *vulkanTexture) Size() (int, int) { return t.width, t.height }
func (t *vulkanTexture) Label() string    { return t.label }

func (t *vulkanTexture) Release() {
	if t.view != vk.NullImageView {
		vk.DestroyImageView(t.device, t.view, nil)
		t.view = vk.NullImageView
	}
	if t.image != vk.NullImage {
		vk.DestroyImage(t.device, t.image, nil)
		t.image = vk.NullImage
	}
	if t.memory != vk.NullDeviceMemory {
		vk.FreeMemory(t.device, t.memory, nil)
		t.memory = vk.NullDeviceMemory
	}
}

func (v *VulkanDevice) createTextureSampler() error {
	sci := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.False,
		MaxAnisotropy:    1,
		CompareOp:        vk.CompareOpAlways,
		BorderColor:      vk.BorderColorIntOpaqueBlack,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(v.device, &sci, nil, &sampler)); err != nil {
		return fmt.Errorf("vk.CreateSampler(): %s", err.Error())
	}
	v.sampler = sampler
	return nil
}
