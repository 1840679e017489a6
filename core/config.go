// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"strconv"
	"time"

	"github.com/gobuffalo/envy"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/devblok/koruview/device"
)

// Environment variables overriding the configuration file.
const (
	EnvBufferCount    = "KORU_BUFFER_COUNT"
	EnvFPS            = "KORU_FPS"
	EnvShaderDir      = "KORU_SHADER_DIR"
	EnvAcquireTimeout = "KORU_ACQUIRE_TIMEOUT"
)

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration     `yaml:"time"`
	Renderer RendererConfiguration `yaml:"renderer"`
	Camera   CameraConfiguration   `yaml:"camera"`
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int `yaml:"framesPerSecond"`

	// EventPollDelay is the window event polling interval in milliseconds.
	EventPollDelay int `yaml:"eventPollDelay"`
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// BufferCount is the number of frames that may be in flight.
	BufferCount int `yaml:"bufferCount"`

	SwapchainSize    uint32   `yaml:"swapchainSize"`
	DeviceExtensions []string `yaml:"deviceExtensions"`
	ShaderDirectory  string   `yaml:"shaderDirectory"`

	ScreenWidth  uint32 `yaml:"screenWidth"`
	ScreenHeight uint32 `yaml:"screenHeight"`

	SampleCount             int                `yaml:"sampleCount"`
	ColorPixelFormat        device.PixelFormat `yaml:"colorPixelFormat"`
	DepthStencilPixelFormat device.PixelFormat `yaml:"depthStencilPixelFormat"`
	ClearColor              device.ClearColor  `yaml:"clearColor"`

	// ViewportNear and ViewportFar are the viewport depth range.
	ViewportNear float64 `yaml:"viewportNear"`
	ViewportFar  float64 `yaml:"viewportFar"`

	// AcquireTimeout bounds the wait for a free frame slot, 0 waits forever.
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
}

// CameraConfiguration configures the default camera.
type CameraConfiguration struct {
	// FieldOfView is the vertical field of view in degrees.
	FieldOfView float32 `yaml:"fieldOfView"`
	Near        float32 `yaml:"near"`
	Far         float32 `yaml:"far"`
}

// DefaultConfiguration returns the configuration the viewer runs with.
func DefaultConfiguration() Configuration {
	return Configuration{
		Time: TimeConfiguration{
			FramesPerSecond: 60,
			EventPollDelay:  50,
		},
		Renderer: RendererConfiguration{
			BufferCount:             3,
			SwapchainSize:           3,
			ShaderDirectory:         "./shaders",
			ScreenWidth:             800,
			ScreenHeight:            600,
			SampleCount:             1,
			ColorPixelFormat:        device.PixelFormatBGRA8Unorm,
			DepthStencilPixelFormat: device.PixelFormatInvalid,
			ClearColor:              device.ClearColor{R: 0.1, G: 0.1, B: 0.1, A: 1},
			ViewportNear:            0,
			ViewportFar:             1,
		},
		Camera: CameraConfiguration{
			FieldOfView: 75,
			Near:        0.1,
			Far:         100,
		},
	}
}

// LoadConfiguration reads the YAML file at path over the defaults, then
// applies environment overrides. An empty path only applies the overrides.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read configuration")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse configuration %s", path)
		}
	}
	if err := cfg.applyEnvironment(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Configuration) applyEnvironment() error {
	if v := envy.Get(EnvBufferCount, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvBufferCount)
		}
		c.Renderer.BufferCount = n
	}
	if v := envy.Get(EnvFPS, ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, EnvFPS)
		}
		c.Time.FramesPerSecond = n
	}
	if v := envy.Get(EnvShaderDir, ""); v != "" {
		c.Renderer.ShaderDirectory = v
	}
	if v := envy.Get(EnvAcquireTimeout, ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, EnvAcquireTimeout)
		}
		c.Renderer.AcquireTimeout = d
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Configuration) Validate() error {
	r := c.Renderer
	switch {
	case r.BufferCount < 1:
		return errors.Errorf("buffer count %d, need at least 1", r.BufferCount)
	case r.SampleCount < 1:
		return errors.Errorf("sample count %d, need at least 1", r.SampleCount)
	case r.ColorPixelFormat == device.PixelFormatInvalid || r.ColorPixelFormat.IsDepth():
		return errors.Errorf("color pixel format %s is not a color format", r.ColorPixelFormat)
	case r.DepthStencilPixelFormat != device.PixelFormatInvalid && !r.DepthStencilPixelFormat.IsDepth():
		return errors.Errorf("depth stencil pixel format %s is not a depth format", r.DepthStencilPixelFormat)
	case r.ViewportNear < 0 || r.ViewportFar > 1 || r.ViewportNear > r.ViewportFar:
		return errors.Errorf("viewport depth range %v..%v outside 0..1", r.ViewportNear, r.ViewportFar)
	case r.AcquireTimeout < 0:
		return errors.Errorf("negative acquire timeout %s", r.AcquireTimeout)
	}

	if c.Time.FramesPerSecond < 0 {
		return errors.Errorf("frames per second %d is negative", c.Time.FramesPerSecond)
	}

	cam := c.Camera
	switch {
	case cam.FieldOfView <= 0 || cam.FieldOfView >= 180:
		return errors.Errorf("field of view %v outside 0..180 degrees", cam.FieldOfView)
	case cam.Near <= 0 || cam.Far <= cam.Near:
		return errors.Errorf("clip planes %v..%v", cam.Near, cam.Far)
	}
	return nil
}
