// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
	vk "github.com/vulkan-go/vulkan"

	"github.com/devblok/koruview/core"
	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/device/headless"
)

// window is an SDL window presenting through a Vulkan swapchain.
type window struct {
	sdlWindow  *sdl.Window
	instance   *device.VulkanInstance
	vkSurface  vk.Surface
	vkDevice   *device.VulkanDevice
	swapchain  *device.VulkanSurface
	sdlStarted bool
}

func newWindow(configuration core.Configuration, library *device.ShaderLibrary) (_ *window, err error) {
	w := &window{}
	defer func() {
		if err != nil {
			w.Destroy()
		}
	}()

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, errors.Wrap(err, "sdl.Init()")
	}
	w.sdlStarted = true

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return nil, errors.Wrap(err, "sdl.VulkanLoadLibrary()")
	}

	w.sdlWindow, err = sdl.CreateWindow("Koru3D",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(configuration.Renderer.ScreenWidth),
		int32(configuration.Renderer.ScreenHeight),
		sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, errors.Wrap(err, "sdl.CreateWindow()")
	}

	w.instance, err = device.NewVulkanInstance(device.DefaultVulkanApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), device.InstanceConfiguration{
		DebugMode:  *debug,
		Extensions: w.sdlWindow.VulkanGetInstanceExtensions(),
	})
	if err != nil {
		return nil, err
	}

	srf, err := w.sdlWindow.VulkanCreateSurface(w.instance.Instance())
	if err != nil {
		return nil, errors.Wrap(err, "sdl.VulkanCreateSurface()")
	}
	w.vkSurface = vk.SurfaceFromPointer(uintptr(srf))

	w.vkDevice, err = device.NewVulkanDevice(w.instance, w.vkSurface, device.DeviceConfiguration{
		DeviceExtensions: configuration.Renderer.DeviceExtensions,
		Library:          library,
	})
	if err != nil {
		return nil, err
	}

	width, height := w.sdlWindow.VulkanGetDrawableSize()
	w.swapchain, err = device.NewVulkanSurface(w.vkDevice, w.vkSurface, device.SurfaceConfiguration{
		Width:                   uint32(width),
		Height:                  uint32(height),
		SwapchainSize:           configuration.Renderer.SwapchainSize,
		ColorPixelFormat:        configuration.Renderer.ColorPixelFormat,
		DepthStencilPixelFormat: configuration.Renderer.DepthStencilPixelFormat,
		AcquireTimeout:          configuration.Renderer.AcquireTimeout,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *window) Device() device.Device {
	return w.vkDevice
}

func (w *window) Surface() device.Surface {
	return w.swapchain
}

func (w *window) Poll() bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch et := event.(type) {
		case *sdl.KeyboardEvent:
			if et.Keysym.Sym == sdl.K_ESCAPE {
				return false
			}
		case *sdl.QuitEvent:
			return false
		case *sdl.WindowEvent:
			if et.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				width, height := w.sdlWindow.VulkanGetDrawableSize()
				log.WithFields(log.Fields{
					"width":  width,
					"height": height,
				}).Debug("window resized")
				w.swapchain.Resize(uint32(width), uint32(height))
			}
		}
	}
	return true
}

func (w *window) Destroy() {
	if w.vkDevice != nil {
		w.vkDevice.WaitIdle()
	}
	if w.swapchain != nil {
		w.swapchain.Destroy()
	}
	if w.vkDevice != nil {
		w.vkDevice.Destroy()
	}
	if w.vkSurface != vk.NullSurface {
		vk.DestroySurface(w.instance.Instance().(vk.Instance), w.vkSurface, nil)
	}
	if w.instance != nil {
		w.instance.Destroy()
	}
	if w.sdlWindow != nil {
		w.sdlWindow.Destroy()
	}
	if w.sdlStarted {
		sdl.VulkanUnloadLibrary()
		sdl.Quit()
	}
}

// offscreen renders to the headless device, for profiling the frame
// pipeline without a GPU.
type offscreen struct {
	dev     *headless.Device
	surface *headless.Surface
}

func newHeadless(configuration core.Configuration, library *device.ShaderLibrary) (*offscreen, error) {
	if library.Len() == 0 {
		var err error
		if library, err = headless.NewLibrary(*vertexFn, *fragmentFn); err != nil {
			return nil, err
		}
	}
	return &offscreen{
		dev: headless.New(headless.Options{
			Completion: headless.CompletionAsync,
			Library:    library,
		}),
		surface: headless.NewSurface(int(configuration.Renderer.ScreenWidth), int(configuration.Renderer.ScreenHeight)),
	}, nil
}

func (o *offscreen) Device() device.Device {
	return o.dev
}

func (o *offscreen) Surface() device.Surface {
	return o.surface
}

func (o *offscreen) Poll() bool {
	return true
}

func (o *offscreen) Destroy() {
	o.dev.Destroy()
}
