// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Descriptor set 0 bindings of render pipelines.
const (
	bindingFrameUniform = 0
	bindingMaterial     = 1
	bindingTexture      = 2

	computeStorageBindings = 4
)

func vulkanFormat(f PixelFormat) vk.Format {
	switch f {
	case PixelFormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case PixelFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case PixelFormatDepth16Unorm:
		return vk.FormatD16Unorm
	case PixelFormatDepth32Float:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

func pixelFormat(f vk.Format) PixelFormat {
	switch f {
	case vk.FormatB8g8r8a8Unorm:
		return PixelFormatBGRA8Unorm
	case vk.FormatR8g8b8a8Unorm:
		return PixelFormatRGBA8Unorm
	case vk.FormatD16Unorm:
		return PixelFormatDepth16Unorm
	case vk.FormatD32Sfloat:
		return PixelFormatDepth32Float
	}
	return PixelFormatInvalid
}

func vertexFormat(f VertexFormat) vk.Format {
	switch f {
	case VertexFormatFloat2:
		return vk.FormatR32g32Sfloat
	case VertexFormatFloat3:
		return vk.FormatR32g32b32Sfloat
	}
	return vk.FormatR32g32b32a32Sfloat
}

func topology(p PrimitiveType) vk.PrimitiveTopology {
	switch p {
	case PrimitiveTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case PrimitiveLine:
		return vk.PrimitiveTopologyLineList
	case PrimitiveLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case PrimitivePoint:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func (v *VulkanDevice) createPipelineLayouts() error {
	graphics := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 3,
		PBindings: []vk.DescriptorSetLayoutBinding{{
			Binding:         bindingFrameUniform,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		}, {
			Binding:         bindingMaterial,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		}, {
			Binding:         bindingTexture,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		}},
	}
	var graphicsSetLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(v.device, &graphics, nil, &graphicsSetLayout)); err != nil {
		return errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}
	v.graphicsSetLayout = graphicsSetLayout

	storage := make([]vk.DescriptorSetLayoutBinding, computeStorageBindings)
	for idx := range storage {
		storage[idx] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(idx),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	compute := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(storage)),
		PBindings:    storage,
	}
	var computeSetLayout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(v.device, &compute, nil, &computeSetLayout)); err != nil {
		return errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}
	v.computeSetLayout = computeSetLayout

	var pipelineLayout vk.PipelineLayout
	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{v.graphicsSetLayout},
	}
	if err := vk.Error(vk.CreatePipelineLayout(v.device, &plci, nil, &pipelineLayout)); err != nil {
		return errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}
	v.graphicsLayout = pipelineLayout

	plci.PSetLayouts = []vk.DescriptorSetLayout{v.computeSetLayout}
	if err := vk.Error(vk.CreatePipelineLayout(v.device, &plci, nil, &pipelineLayout)); err != nil {
		return errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}
	v.computeLayout = pipelineLayout
	return nil
}

type renderPassKey struct {
	color vk.Format
	depth vk.Format
}

// renderPass returns a cached render pass compatible with the formats.
func (v *VulkanDevice) renderPass(color, depth vk.Format) (vk.RenderPass, error) {
	v.resourceMutex.Lock()
	defer v.resourceMutex.Unlock()

	key := renderPassKey{color: color, depth: depth}
	if rp, ok := v.renderPasses[key]; ok {
		return rp, nil
	}

	attachments := []vk.AttachmentDescription{{
		Format:         color,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentRef)),
		PColorAttachments:    colorAttachmentRef,
	}
	if depth != vk.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         depth,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(v.device, &rpci, nil, &renderPass)); err != nil {
		return vk.NullRenderPass, errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	v.renderPasses[key] = renderPass
	return renderPass, nil
}

// NewRenderPipeline implements Device.
func (v *VulkanDevice) NewRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error) {
	if desc.VertexFunction == nil || desc.VertexFunction.Stage != VertexStage {
		return nil, errors.Wrapf(ErrPipelineState, "%s: vertex function", desc.Label)
	}
	if desc.FragmentFunction == nil || desc.FragmentFunction.Stage != FragmentStage {
		return nil, errors.Wrapf(ErrPipelineState, "%s: fragment function", desc.Label)
	}
	if desc.SampleCount > 1 {
		return nil, errors.Wrapf(ErrPipelineState, "%s: sample count %d unsupported", desc.Label, desc.SampleCount)
	}
	color := vulkanFormat(desc.ColorPixelFormat)
	if color == vk.FormatUndefined || desc.ColorPixelFormat.IsDepth() {
		return nil, errors.Wrapf(ErrPipelineState, "%s: color format %s", desc.Label, desc.ColorPixelFormat)
	}
	depth := vulkanFormat(desc.DepthStencilPixelFormat)

	renderPass, err := v.renderPass(color, depth)
	if err != nil {
		return nil, errors.Wrapf(ErrPipelineState, "%s: %s", desc.Label, err.Error())
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	for _, fn := range []*Function{desc.VertexFunction, desc.FragmentFunction} {
		module, err := v.shaderModule(fn)
		if err != nil {
			return nil, errors.Wrapf(ErrPipelineState, "%s: %s", desc.Label, err.Error())
		}
		stage := vk.ShaderStageVertexBit
		if fn.Stage == FragmentStage {
			stage = vk.ShaderStageFragmentBit
		}
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  "main\x00",
		})
	}

	var bindings []vk.VertexInputBindingDescription
	for _, layout := range desc.VertexDescriptor.Layouts {
		bindings = append(bindings, vk.VertexInputBindingDescription{
			Binding:   uint32(layout.BufferIndex),
			Stride:    uint32(layout.Stride),
			InputRate: vk.VertexInputRateVertex,
		})
	}
	var attributes []vk.VertexInputAttributeDescription
	for _, attr := range desc.VertexDescriptor.Attributes {
		attributes = append(attributes, vk.VertexInputAttributeDescription{
			Location: uint32(attr.Location),
			Binding:  uint32(attr.BufferIndex),
			Format:   vertexFormat(attr.Format),
			Offset:   uint32(attr.Offset),
		})
	}

	depthTest := vk.Bool32(vk.False)
	depthWrite := vk.Bool32(vk.False)
	if depth != vk.FormatUndefined {
		depthTest = vk.True
		if desc.DepthWrite {
			depthWrite = vk.True
		}
	}
	compare := vk.CompareOpLessOrEqual
	if desc.DepthCompareLess {
		compare = vk.CompareOpLess
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: topology(desc.Primitive),
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       depthTest,
			DepthWriteEnable:      depthWrite,
			DepthCompareOp:        compare,
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     v.graphicsLayout,
		RenderPass: renderPass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(v.device, v.pipelineCache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		return nil, errors.Wrapf(ErrPipelineState, "%s: vk.CreateGraphicsPipelines(): %s", desc.Label, err.Error())
	}
	return &vulkanPipeline{
		device:    v.device,
		pipeline:  pipelines[0],
		bindPoint: vk.PipelineBindPointGraphics,
		label:     desc.Label,
	}, nil
}

// NewComputePipeline implements Device.
func (v *VulkanDevice) NewComputePipeline(fn *Function) (ComputePipeline, error) {
	if fn == nil || fn.Stage != ComputeStage {
		return nil, errors.Wrap(ErrPipelineState, "compute function")
	}
	module, err := v.shaderModule(fn)
	if err != nil {
		return nil, errors.Wrapf(ErrPipelineState, "%s: %s", fn.Name, err.Error())
	}

	cpci := []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  "main\x00",
		},
		Layout: v.computeLayout,
	}}
	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateComputePipelines(v.device, v.pipelineCache, 1, cpci, nil, pipelines)); err != nil {
		return nil, errors.Wrapf(ErrPipelineState, "%s: vk.CreateComputePipelines(): %s", fn.Name, err.Error())
	}
	return &vulkanPipeline{
		device:    v.device,
		pipeline:  pipelines[0],
		bindPoint: vk.PipelineBindPointCompute,
		label:     fn.Name,
	}, nil
}

type vulkanPipeline struct {
	device    vk.Device
	pipeline  vk.Pipeline
	bindPoint vk.PipelineBindPoint
	label     string
}

func (p *vulkanPipeline) Label() string { return p.label }

func (p *vulkanPipeline) Release() {
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(p.device, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
}
