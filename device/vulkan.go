// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// DefaultVulkanApplicationInfo application info describes a Vulkan application
var DefaultVulkanApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   "Koru3D\x00",
	PEngineName:        "Koru3D\x00",
}

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint64
}

// InstanceConfiguration configures the Vulkan instance.
type InstanceConfiguration struct {
	DebugMode  bool
	Extensions []string
	Layers     []string
}

// NewVulkanInstance creates a Vulkan instance. procAddr is the
// vkGetInstanceProcAddr of a windowing library, nil loads the default one.
func NewVulkanInstance(appInfo *vk.ApplicationInfo, procAddr unsafe.Pointer, cfg InstanceConfiguration) (*VulkanInstance, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, "VK_LAYER_KHRONOS_validation")
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(ErrDeviceUnavailable, "vk.InstanceProcAddr(): "+err.Error())
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, "vk.Init(): "+err.Error())
	}

	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(cfg.Extensions)),
		PpEnabledExtensionNames: safeStrings(cfg.Extensions),
		EnabledLayerCount:       uint32(len(cfg.Layers)),
		PpEnabledLayerNames:     safeStrings(cfg.Layers),
	}

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&instanceInfo, nil, &instance)); err != nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, "vk.CreateInstance(): "+err.Error())
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.New("vk.InitInstance(): " + err.Error())
	}

	physicalDevices, err := enumerateDevices(instance)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Wrap(err, "device.enumerateDevices()")
	}

	return &VulkanInstance{
		configuration:    cfg,
		instance:         instance,
		availableDevices: physicalDevices,
	}, nil
}

// VulkanInstance describes a Vulkan API Instance
type VulkanInstance struct {
	configuration InstanceConfiguration

	availableDevices []vk.PhysicalDevice
	instance         vk.Instance
}

func enumerateDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	availableDevices := make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(instance, &deviceCount, availableDevices)); err != nil {
		return nil, fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	return availableDevices, nil
}

// PhysicalDevicesInfo returns a struct for each Physical Device
// along with info about those devices
func (v *VulkanInstance) PhysicalDevicesInfo() []PhysicalDeviceInfo {
	pdi := make([]PhysicalDeviceInfo, len(v.availableDevices))
	for i := 0; i < len(v.availableDevices); i++ {
		// Get extension info
		var numDeviceExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(v.availableDevices[i], "", &numDeviceExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(v.availableDevices[i], "", &numDeviceExtensions, deviceExt)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range deviceExt {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		// Get layers info
		var numDeviceLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(v.availableDevices[i], &numDeviceLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(v.availableDevices[i], &numDeviceLayers, deviceLayers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range deviceLayers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		// Get memory info
		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(v.availableDevices[i], &memoryProperties)
		memoryProperties.Deref()
		for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
			memoryProperties.MemoryHeaps[iMem].Deref()
			pdi[i].Memory += uint64(memoryProperties.MemoryHeaps[iMem].Size)
		}

		// Get general device info
		var physicalDeviceProperties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(v.availableDevices[i], &physicalDeviceProperties)
		physicalDeviceProperties.Deref()
		pdi[i].ID = int(physicalDeviceProperties.DeviceID)
		pdi[i].VendorID = int(physicalDeviceProperties.VendorID)
		pdi[i].Name = vk.ToString(physicalDeviceProperties.DeviceName[:])
		pdi[i].DriverVersion = int(physicalDeviceProperties.DriverVersion)
	}
	return pdi
}

// Instance returns internal vk.Instance
func (v *VulkanInstance) Instance() interface{} {
	return v.instance
}

// Extensions returns enabled instance extensions
func (v *VulkanInstance) Extensions() []string {
	return v.configuration.Extensions
}

// AvailableDevices returns handles of Physical Devices
func (v *VulkanInstance) AvailableDevices() []vk.PhysicalDevice {
	return v.availableDevices
}

// Destroy destroys the instance. Devices and surfaces must be destroyed first.
func (v *VulkanInstance) Destroy() {
	v.availableDevices = nil
	vk.DestroyInstance(v.instance, nil)
}

// DeviceConfiguration configures a Vulkan logical device.
type DeviceConfiguration struct {
	// PhysicalDevice is the index into AvailableDevices.
	PhysicalDevice   int
	DeviceExtensions []string
	Library          *ShaderLibrary
}

// NewVulkanDevice opens a logical device able to render to and present on
// surface. Use vk.NullSurface for offscreen use.
func NewVulkanDevice(instance *VulkanInstance, surface vk.Surface, cfg DeviceConfiguration) (*VulkanDevice, error) {
	devices := instance.AvailableDevices()
	if cfg.PhysicalDevice < 0 || cfg.PhysicalDevice >= len(devices) {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "physical device %d of %d", cfg.PhysicalDevice, len(devices))
	}

	v := &VulkanDevice{
		instance:       instance,
		physicalDevice: devices[cfg.PhysicalDevice],
		library:        cfg.Library,
		renderPasses:   map[renderPassKey]vk.RenderPass{},
		shaderModules:  map[string]vk.ShaderModule{},
	}

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(v.physicalDevice, &properties)
	properties.Deref()
	v.name = vk.ToString(properties.DeviceName[:])

	family, err := v.findQueueFamily(surface)
	if err != nil {
		return nil, err
	}
	v.queueFamily = family

	extensions := cfg.DeviceExtensions
	if surface != vk.NullSurface && !containsString(extensions, vk.KhrSwapchainExtensionName) {
		extensions = append(extensions, vk.KhrSwapchainExtensionName)
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: family,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	var logicalDevice vk.Device
	if err := vk.Error(vk.CreateDevice(v.physicalDevice, &dci, nil, &logicalDevice)); err != nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, "vk.CreateDevice(): "+err.Error())
	}
	v.device = logicalDevice

	var queue vk.Queue
	vk.GetDeviceQueue(v.device, family, 0, &queue)
	v.queue = queue

	v.allocator = newMemoryAllocator(v.device, v.physicalDevice)

	if err := v.initialise(); err != nil {
		v.Destroy()
		return nil, err
	}

	log.WithFields(log.Fields{
		"device":      v.name,
		"queueFamily": family,
	}).Info("vulkan device opened")
	return v, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// VulkanDevice is a Vulkan logical device implementing Device.
type VulkanDevice struct {
	instance       *VulkanInstance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	name           string
	library        *ShaderLibrary
	allocator      *memoryAllocator

	queueMutex  sync.Mutex
	queue       vk.Queue
	queueFamily uint32

	uploadPool    vk.CommandPool
	pipelineCache vk.PipelineCache

	graphicsSetLayout vk.DescriptorSetLayout
	computeSetLayout  vk.DescriptorSetLayout
	graphicsLayout    vk.PipelineLayout
	computeLayout     vk.PipelineLayout

	sampler      vk.Sampler
	whiteTexture *vulkanTexture
	zeroBuffer   *vulkanBuffer

	resourceMutex sync.Mutex
	renderPasses  map[renderPassKey]vk.RenderPass
	shaderModules map[string]vk.ShaderModule
	queues        []*vulkanQueue
}

func (v *VulkanDevice) findQueueFamily(surface vk.Surface) (uint32, error) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(v.physicalDevice, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return 0, errors.Wrap(ErrDeviceUnavailable, "vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(v.physicalDevice, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&required != required {
			continue
		}
		if surface != vk.NullSurface {
			var supportsPresent vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(v.physicalDevice, i, surface, &supportsPresent)
			if !supportsPresent.B() {
				continue
			}
		}
		return i, nil
	}
	return 0, errors.Wrap(ErrDeviceUnavailable, "could not find a queue family with graphics, compute and present support")
}

func (v *VulkanDevice) initialise() error {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: v.queueFamily,
	}
	var uploadPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(v.device, &cpci, nil, &uploadPool)); err != nil {
		return errors.New("vk.CreateCommandPool(): " + err.Error())
	}
	v.uploadPool = uploadPool

	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	var pipelineCache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(v.device, &pcci, nil, &pipelineCache)); err != nil {
		return errors.New("vk.CreatePipelineCache(): " + err.Error())
	}
	v.pipelineCache = pipelineCache

	if err := v.createPipelineLayouts(); err != nil {
		return err
	}
	if err := v.createTextureSampler(); err != nil {
		return err
	}

	zero, err := v.newBuffer(make([]byte, zeroBufferSize), "zero")
	if err != nil {
		return err
	}
	v.zeroBuffer = zero

	white, err := v.newTexture(1, 1, []uint8{255, 255, 255, 255}, "white")
	if err != nil {
		return err
	}
	v.whiteTexture = white
	return nil
}

// Name implements Device.
func (v *VulkanDevice) Name() string {
	return v.name
}

// Library implements Device.
func (v *VulkanDevice) Library() *ShaderLibrary {
	return v.library
}

// NewCommandQueue implements Device.
func (v *VulkanDevice) NewCommandQueue() (CommandQueue, error) {
	q, err := newVulkanQueue(v)
	if err != nil {
		return nil, errors.Wrap(ErrDeviceUnavailable, err.Error())
	}
	v.resourceMutex.Lock()
	v.queues = append(v.queues, q)
	v.resourceMutex.Unlock()
	return q, nil
}

// WaitIdle implements Device.
func (v *VulkanDevice) WaitIdle() {
	vk.DeviceWaitIdle(v.device)
	v.resourceMutex.Lock()
	queues := append([]*vulkanQueue(nil), v.queues...)
	v.resourceMutex.Unlock()
	for _, q := range queues {
		q.waiters.Wait()
	}
}

// Destroy implements Device.
func (v *VulkanDevice) Destroy() {
	if v == nil || v.device == nil {
		return
	}
	v.WaitIdle()

	for _, q := range v.queues {
		q.destroy()
	}
	v.queues = nil

	if v.whiteTexture != nil {
		v.whiteTexture.Release()
	}
	if v.zeroBuffer != nil {
		v.zeroBuffer.Release()
	}
	vk.DestroySampler(v.device, v.sampler, nil)

	for _, rp := range v.renderPasses {
		vk.DestroyRenderPass(v.device, rp, nil)
	}
	for _, module := range v.shaderModules {
		vk.DestroyShaderModule(v.device, module, nil)
	}

	vk.DestroyPipelineLayout(v.device, v.graphicsLayout, nil)
	vk.DestroyPipelineLayout(v.device, v.computeLayout, nil)
	vk.DestroyDescriptorSetLayout(v.device, v.graphicsSetLayout, nil)
	vk.DestroyDescriptorSetLayout(v.device, v.computeSetLayout, nil)
	vk.DestroyPipelineCache(v.device, v.pipelineCache, nil)
	vk.DestroyCommandPool(v.device, v.uploadPool, nil)
	vk.DestroyDevice(v.device, nil)
	v.device = nil
}

func (v *VulkanDevice) submit(info []vk.SubmitInfo, fence vk.Fence) error {
	v.queueMutex.Lock()
	defer v.queueMutex.Unlock()
	if err := vk.Error(vk.QueueSubmit(v.queue, uint32(len(info)), info, fence)); err != nil {
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}
	return nil
}

func (v *VulkanDevice) present(info *vk.PresentInfo) vk.Result {
	v.queueMutex.Lock()
	defer v.queueMutex.Unlock()
	return vk.QueuePresent(v.queue, info)
}

func (v *VulkanDevice) beginSingleTimeCommands() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        v.uploadPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(v.device, &cbai, commandBuffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}
	commandBuffer := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &cbbi)); err != nil {
		vk.FreeCommandBuffers(v.device, v.uploadPool, 1, []vk.CommandBuffer{commandBuffer})
		return nil, fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}
	return commandBuffer, nil
}

func (v *VulkanDevice) endSingleTimeCommands(commandBuffer vk.CommandBuffer) error {
	defer vk.FreeCommandBuffers(v.device, v.uploadPool, 1, []vk.CommandBuffer{commandBuffer})

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer},
	}
	if err := v.submit([]vk.SubmitInfo{si}, vk.NullFence); err != nil {
		return err
	}

	v.queueMutex.Lock()
	vk.QueueWaitIdle(v.queue)
	v.queueMutex.Unlock()
	return nil
}

func (v *VulkanDevice) shaderModule(fn *Function) (vk.ShaderModule, error) {
	v.resourceMutex.Lock()
	defer v.resourceMutex.Unlock()

	key := fn.Name + "." + fn.Stage.String()
	if module, ok := v.shaderModules[key]; ok {
		return module, nil
	}

	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(fn.Code)),
		PCode:    SliceUint32(fn.Code),
	}
	var module vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(v.device, &smci, nil, &module)); err != nil {
		return nil, fmt.Errorf("vk.CreateShaderModule(%s): %s", fn.Name, err.Error())
	}
	v.shaderModules[key] = module
	return module, nil
}
