// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// SurfaceConfiguration configures a swapchain backed surface.
type SurfaceConfiguration struct {
	Width, Height           uint32
	SwapchainSize           uint32
	ColorPixelFormat        PixelFormat
	DepthStencilPixelFormat PixelFormat

	// AcquireTimeout bounds the wait for the next swapchain image,
	// 0 waits forever.
	AcquireTimeout time.Duration
}

// NewVulkanSurface creates a swapchain for surface, which must have been
// created from the same instance as the device.
func NewVulkanSurface(dev *VulkanDevice, surface vk.Surface, cfg SurfaceConfiguration) (*VulkanSurface, error) {
	s := &VulkanSurface{
		device:        dev,
		surface:       surface,
		configuration: cfg,
		width:         cfg.Width,
		height:        cfg.Height,
	}

	if err := s.chooseFormat(); err != nil {
		return nil, err
	}
	if err := s.createSwapchain(); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

// VulkanSurface implements Surface on top of a Vulkan swapchain.
// NextDrawable is called by the frame producer only.
type VulkanSurface struct {
	device        *VulkanDevice
	surface       vk.Surface
	configuration SurfaceConfiguration

	mutex         sync.Mutex
	width, height uint32
	stale         bool

	imageFormat     vk.Format
	imageColorspace vk.ColorSpace
	colorFormat     PixelFormat
	depthFormat     PixelFormat

	swapchain    vk.Swapchain
	extent       vk.Extent2D
	renderPass   vk.RenderPass
	images       []vk.Image
	imageViews   []vk.ImageView
	framebuffers []vk.Framebuffer
	rendered     []vk.Semaphore
	depth        *depthImage

	semaphoreMutex sync.Mutex
	semaphores     []vk.Semaphore
	allSemaphores  []vk.Semaphore
}

func (s *VulkanSurface) chooseFormat() error {
	pd := s.device.physicalDevice

	var surfaceFormatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(pd, s.surface, &surfaceFormatCount, nil)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	if surfaceFormatCount == 0 {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): no surface formats")
	}
	surfaceFormats := make([]vk.SurfaceFormat, surfaceFormatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(pd, s.surface, &surfaceFormatCount, surfaceFormats)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}

	want := vulkanFormat(s.configuration.ColorPixelFormat)
	surfaceFormats[0].Deref()
	s.imageFormat = surfaceFormats[0].Format
	s.imageColorspace = surfaceFormats[0].ColorSpace
	for _, f := range surfaceFormats {
		f.Deref()
		if f.Format == want || (s.imageFormat == vk.FormatUndefined && f.Format != vk.FormatUndefined) {
			s.imageFormat = f.Format
			s.imageColorspace = f.ColorSpace
		}
		if f.Format == want {
			break
		}
	}
	if s.imageFormat == vk.FormatUndefined {
		s.imageFormat = vulkanFormat(PixelFormatBGRA8Unorm)
	}
	s.colorFormat = pixelFormat(s.imageFormat)
	s.depthFormat = s.configuration.DepthStencilPixelFormat

	rp, err := s.device.renderPass(s.imageFormat, vulkanFormat(s.depthFormat))
	if err != nil {
		return err
	}
	s.renderPass = rp
	return nil
}

func (s *VulkanSurface) createSwapchain() error {
	dev := s.device.device
	oldSwapchain := s.swapchain

	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(s.device.physicalDevice, s.surface, &surfaceCapabilities)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}
	surfaceCapabilities.Deref()
	surfaceCapabilities.CurrentExtent.Deref()

	s.mutex.Lock()
	extent := vk.Extent2D{Width: s.width, Height: s.height}
	s.stale = false
	s.mutex.Unlock()
	if surfaceCapabilities.CurrentExtent.Width != vk.MaxUint32 {
		extent = surfaceCapabilities.CurrentExtent
	}
	s.extent = extent
	if extent.Width == 0 || extent.Height == 0 {
		// minimised, nothing to render to until the next resize
		return nil
	}

	imageCount := s.configuration.SwapchainSize
	if imageCount < surfaceCapabilities.MinImageCount {
		imageCount = surfaceCapabilities.MinImageCount
	}
	if surfaceCapabilities.MaxImageCount > 0 && imageCount > surfaceCapabilities.MaxImageCount {
		imageCount = surfaceCapabilities.MaxImageCount
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}
	for i := 0; i < len(compositeAlphaFlags); i++ {
		if surfaceCapabilities.SupportedCompositeAlpha&vk.CompositeAlphaFlags(compositeAlphaFlags[i]) != 0 {
			compositeAlpha = compositeAlphaFlags[i]
			break
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.imageFormat,
		ImageColorSpace:  s.imageColorspace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     surfaceCapabilities.CurrentTransform,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}
	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(dev, &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	if oldSwapchain != vk.NullSwapchain {
		vk.DestroySwapchain(dev, oldSwapchain, nil)
	}
	s.swapchain = swapchain

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(dev, s.swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}
	s.images = make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(dev, s.swapchain, &numImages, s.images)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}

	if s.depthFormat.IsDepth() {
		depth, err := newDepthImage(s.device, vulkanFormat(s.depthFormat), extent)
		if err != nil {
			return err
		}
		s.depth = depth
	}

	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for idx := range s.images {
		ivci := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    s.images[idx],
			ViewType: vk.ImageViewType2d,
			Format:   s.imageFormat,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleIdentity,
				G: vk.ComponentSwizzleIdentity,
				B: vk.ComponentSwizzleIdentity,
				A: vk.ComponentSwizzleIdentity,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var imageView vk.ImageView
		if err := vk.Error(vk.CreateImageView(dev, &ivci, nil, &imageView)); err != nil {
			return errors.Errorf("vk.CreateImageView()[%d]: %s", idx, err.Error())
		}
		s.imageViews = append(s.imageViews, imageView)

		attachments := []vk.ImageView{imageView}
		if s.depth != nil {
			attachments = append(attachments, s.depth.view)
		}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           extent.Width,
			Height:          extent.Height,
			Layers:          1,
		}
		var framebuffer vk.Framebuffer
		if err := vk.Error(vk.CreateFramebuffer(dev, &fci, nil, &framebuffer)); err != nil {
			return errors.Errorf("vk.CreateFramebuffer()[%d]: %s", idx, err.Error())
		}
		s.framebuffers = append(s.framebuffers, framebuffer)

		var rendered vk.Semaphore
		if err := vk.Error(vk.CreateSemaphore(dev, &sci, nil, &rendered)); err != nil {
			return errors.New("vk.CreateSemaphore(): " + err.Error())
		}
		s.rendered = append(s.rendered, rendered)
	}
	return nil
}

func (s *VulkanSurface) destroySwapchainResources() {
	dev := s.device.device
	for _, fb := range s.framebuffers {
		vk.DestroyFramebuffer(dev, fb, nil)
	}
	s.framebuffers = nil
	for _, iv := range s.imageViews {
		vk.DestroyImageView(dev, iv, nil)
	}
	s.imageViews = nil
	for _, sem := range s.rendered {
		vk.DestroySemaphore(dev, sem, nil)
	}
	s.rendered = nil
	s.images = nil
	if s.depth != nil {
		s.depth.release(dev)
		s.depth = nil
	}
}

func (s *VulkanSurface) recreateSwapchain() error {
	s.device.WaitIdle()
	s.destroySwapchainResources()
	if err := s.createSwapchain(); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"width":  s.extent.Width,
		"height": s.extent.Height,
		"images": len(s.images),
	}).Info("swapchain recreated")
	return nil
}

// Resize informs the surface that the window size changed.
func (s *VulkanSurface) Resize(width, height uint32) {
	s.mutex.Lock()
	s.width, s.height = width, height
	s.stale = true
	s.mutex.Unlock()
}

func (s *VulkanSurface) markStale() {
	s.mutex.Lock()
	s.stale = true
	s.mutex.Unlock()
}

func (s *VulkanSurface) acquireSemaphore() (vk.Semaphore, error) {
	s.semaphoreMutex.Lock()
	defer s.semaphoreMutex.Unlock()
	if n := len(s.semaphores); n > 0 {
		sem := s.semaphores[n-1]
		s.semaphores = s.semaphores[:n-1]
		return sem, nil
	}
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var sem vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(s.device.device, &sci, nil, &sem)); err != nil {
		return vk.NullSemaphore, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	s.allSemaphores = append(s.allSemaphores, sem)
	return sem, nil
}

// releaseSemaphore returns an acquire semaphore once nothing waits on it.
func (s *VulkanSurface) releaseSemaphore(sem vk.Semaphore) {
	s.semaphoreMutex.Lock()
	s.semaphores = append(s.semaphores, sem)
	s.semaphoreMutex.Unlock()
}

// NextDrawable implements Surface. The swapchain is recreated when it went
// out of date; no drawable is returned for that call.
func (s *VulkanSurface) NextDrawable() (Drawable, bool) {
	s.mutex.Lock()
	stale := s.stale
	s.mutex.Unlock()

	if stale || s.swapchain == vk.NullSwapchain {
		if err := s.recreateSwapchain(); err != nil {
			log.WithError(err).Error("swapchain recreation failed")
			return nil, false
		}
		if s.swapchain == vk.NullSwapchain || len(s.images) == 0 {
			return nil, false
		}
	}

	sem, err := s.acquireSemaphore()
	if err != nil {
		log.WithError(err).Error("acquire semaphore")
		return nil, false
	}

	var imageIndex uint32
	result := vk.AcquireNextImage(s.device.device, s.swapchain, acquireTimeout(s.configuration.AcquireTimeout), sem, vk.NullFence, &imageIndex)
	switch result {
	case vk.Success, vk.Suboptimal:
	case vk.ErrorOutOfDate:
		s.markStale()
		s.releaseSemaphore(sem)
		return nil, false
	case vk.Timeout, vk.NotReady:
		s.releaseSemaphore(sem)
		return nil, false
	default:
		s.releaseSemaphore(sem)
		log.WithError(vk.Error(result)).Warn("vk.AcquireNextImage()")
		return nil, false
	}
	if result == vk.Suboptimal {
		s.markStale()
	}

	return &vulkanDrawable{
		surface:     s,
		imageIndex:  imageIndex,
		acquired:    sem,
		rendered:    s.rendered[imageIndex],
		framebuffer: s.framebuffers[imageIndex],
		renderPass:  s.renderPass,
		extent:      s.extent,
	}, true
}

// acquireTimeout converts a timeout to nanoseconds for vkAcquireNextImageKHR,
// where 0 means poll. Zero or less waits forever.
func acquireTimeout(d time.Duration) uint64 {
	if d <= 0 {
		return vk.MaxUint64
	}
	return uint64(d.Nanoseconds())
}

// DrawableSize implements Surface.
func (s *VulkanSurface) DrawableSize() (int, int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return int(s.width), int(s.height)
}

// ColorPixelFormat implements Surface.
func (s *VulkanSurface) ColorPixelFormat() PixelFormat {
	return s.colorFormat
}

// DepthStencilPixelFormat implements Surface.
func (s *VulkanSurface) DepthStencilPixelFormat() PixelFormat {
	return s.depthFormat
}

// SampleCount implements Surface.
func (s *VulkanSurface) SampleCount() int {
	return 1
}

// Destroy releases the swapchain. The device must be idle.
func (s *VulkanSurface) Destroy() {
	s.device.WaitIdle()
	s.destroySwapchainResources()
	if s.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, s.swapchain, nil)
		s.swapchain = vk.NullSwapchain
	}
	for _, sem := range s.allSemaphores {
		vk.DestroySemaphore(s.device.device, sem, nil)
	}
	s.allSemaphores = nil
	s.semaphores = nil
}

type vulkanDrawable struct {
	surface     *VulkanSurface
	imageIndex  uint32
	acquired    vk.Semaphore
	rendered    vk.Semaphore
	framebuffer vk.Framebuffer
	renderPass  vk.RenderPass
	extent      vk.Extent2D
}

func (d *vulkanDrawable) Size() (int, int) {
	return int(d.extent.Width), int(d.extent.Height)
}

// Discard implements Drawable. An empty submit consumes the acquire
// semaphore and the swapchain is recreated on the next acquire, which
// returns the image.
func (d *vulkanDrawable) Discard() {
	s := d.surface
	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{d.acquired},
		PWaitDstStageMask:  []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)},
	}
	s.markStale()
	if err := s.device.submit([]vk.SubmitInfo{si}, vk.NullFence); err != nil {
		log.WithError(err).Warn("discard drawable")
		return
	}
	s.device.queueMutex.Lock()
	vk.QueueWaitIdle(s.device.queue)
	s.device.queueMutex.Unlock()
	s.releaseSemaphore(d.acquired)
}

type depthImage struct {
	image  vk.Image
	view   vk.ImageView
	memory vk.DeviceMemory
}

func newDepthImage(dev *VulkanDevice, format vk.Format, extent vk.Extent2D) (*depthImage, error) {
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:   1,
		ArrayLayers: 1,
		Samples:     vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
	}
	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev.device, &ici, nil, &image)); err != nil {
		return nil, errors.New("vk.CreateImage(): " + err.Error())
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev.device, image, &memoryRequirements)
	memoryRequirements.Deref()

	memory, err := dev.allocator.malloc(memoryRequirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev.device, image, nil)
		return nil, err
	}
	d := &depthImage{image: image, memory: memory}
	if err := vk.Error(vk.BindImageMemory(dev.device, image, memory, 0)); err != nil {
		d.release(dev.device)
		return nil, errors.New("vk.BindImageMemory(): " + err.Error())
	}

	ivci := vk.ImageViewCreateInfo{
		SType:  vk.StructureTypeImageViewCreateInfo,
		Format: format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectDepthBit),
			LevelCount: 1,
			LayerCount: 1,
		},
		ViewType: vk.ImageViewType2d,
		Image:    image,
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev.device, &ivci, nil, &view)); err != nil {
		d.release(dev.device)
		return nil, errors.New("vk.CreateImageView(): " + err.Error())
	}
	d.view = view
	return d, nil
}

func (d *depthImage) release(dev vk.Device) {
	if d.view != vk.NullImageView {
		vk.DestroyImageView(dev, d.view, nil)
	}
	vk.DestroyImage(dev, d.image, nil)
	vk.FreeMemory(dev, d.memory, nil)
}
