// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/envy"

	"github.com/devblok/koruview/device"
)

func TestDefaultConfiguration(t *testing.T) {
	c := qt.New(t)
	cfg := DefaultConfiguration()
	c.Assert(cfg.Validate(), qt.IsNil)
	c.Assert(cfg.Renderer.BufferCount, qt.Equals, 3)
	c.Assert(cfg.Renderer.SampleCount, qt.Equals, 1)
	c.Assert(cfg.Renderer.DepthStencilPixelFormat, qt.Equals, device.PixelFormatInvalid)
	c.Assert(cfg.Renderer.ViewportNear, qt.Equals, 0.0)
	c.Assert(cfg.Renderer.ViewportFar, qt.Equals, 1.0)
	c.Assert(cfg.Renderer.AcquireTimeout, qt.Equals, time.Duration(0))
	c.Assert(cfg.Camera, qt.Equals, CameraConfiguration{FieldOfView: 75, Near: 0.1, Far: 100})
}

const testConfiguration = `
time:
  framesPerSecond: 144
renderer:
  bufferCount: 2
  depthStencilPixelFormat: depth32float
  acquireTimeout: 250ms
  clearColor:
    r: 1
    g: 0
    b: 0
    a: 1
camera:
  fieldOfView: 60
`

func TestLoadConfiguration(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "koru.yaml")
	c.Assert(os.WriteFile(path, []byte(testConfiguration), 0644), qt.IsNil)

	cfg, err := LoadConfiguration(path)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 144)
	c.Assert(cfg.Time.EventPollDelay, qt.Equals, 50)
	c.Assert(cfg.Renderer.BufferCount, qt.Equals, 2)
	c.Assert(cfg.Renderer.DepthStencilPixelFormat, qt.Equals, device.PixelFormatDepth32Float)
	c.Assert(cfg.Renderer.ColorPixelFormat, qt.Equals, device.PixelFormatBGRA8Unorm)
	c.Assert(cfg.Renderer.AcquireTimeout, qt.Equals, 250*time.Millisecond)
	c.Assert(cfg.Renderer.ClearColor, qt.Equals, device.ClearColor{R: 1, A: 1})
	c.Assert(cfg.Camera.FieldOfView, qt.Equals, float32(60))
	c.Assert(cfg.Camera.Far, qt.Equals, float32(100))
}

func TestLoadConfigurationErrors(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()

	_, err := LoadConfiguration(filepath.Join(dir, "missing.yaml"))
	c.Assert(err, qt.ErrorMatches, "read configuration: .*")

	bad := filepath.Join(dir, "bad.yaml")
	c.Assert(os.WriteFile(bad, []byte("renderer:\n  colorPixelFormat: rgb565\n"), 0644), qt.IsNil)
	_, err = LoadConfiguration(bad)
	c.Assert(err, qt.ErrorMatches, `parse configuration .*unknown pixel format "rgb565".*`)

	invalid := filepath.Join(dir, "invalid.yaml")
	c.Assert(os.WriteFile(invalid, []byte("renderer:\n  bufferCount: 0\n"), 0644), qt.IsNil)
	_, err = LoadConfiguration(invalid)
	c.Assert(err, qt.ErrorMatches, "buffer count 0, need at least 1")
}

func TestEnvironmentOverrides(t *testing.T) {
	c := qt.New(t)
	envy.Temp(func() {
		envy.Set(EnvBufferCount, "4")
		envy.Set(EnvFPS, "0")
		envy.Set(EnvShaderDir, "/tmp/shaders")
		envy.Set(EnvAcquireTimeout, "2s")

		cfg, err := LoadConfiguration("")
		c.Assert(err, qt.IsNil)
		c.Assert(cfg.Renderer.BufferCount, qt.Equals, 4)
		c.Assert(cfg.Time.FramesPerSecond, qt.Equals, 0)
		c.Assert(cfg.Renderer.ShaderDirectory, qt.Equals, "/tmp/shaders")
		c.Assert(cfg.Renderer.AcquireTimeout, qt.Equals, 2*time.Second)
	})

	envy.Temp(func() {
		envy.Set(EnvBufferCount, "three")
		_, err := LoadConfiguration("")
		c.Assert(err, qt.ErrorMatches, EnvBufferCount+": .*invalid syntax")
	})
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		about  string
		modify func(*Configuration)
		err    string
	}{{
		about:  "multisampling count",
		modify: func(cfg *Configuration) { cfg.Renderer.SampleCount = 0 },
		err:    "sample count 0, need at least 1",
	}, {
		about:  "depth format as color",
		modify: func(cfg *Configuration) { cfg.Renderer.ColorPixelFormat = device.PixelFormatDepth16Unorm },
		err:    "color pixel format depth16unorm is not a color format",
	}, {
		about:  "color format as depth",
		modify: func(cfg *Configuration) { cfg.Renderer.DepthStencilPixelFormat = device.PixelFormatRGBA8Unorm },
		err:    "depth stencil pixel format rgba8unorm is not a depth format",
	}, {
		about:  "viewport range",
		modify: func(cfg *Configuration) { cfg.Renderer.ViewportNear = 0.8; cfg.Renderer.ViewportFar = 0.2 },
		err:    "viewport depth range 0.8..0.2 outside 0..1",
	}, {
		about:  "negative timeout",
		modify: func(cfg *Configuration) { cfg.Renderer.AcquireTimeout = -time.Second },
		err:    "negative acquire timeout -1s",
	}, {
		about:  "negative frame rate",
		modify: func(cfg *Configuration) { cfg.Time.FramesPerSecond = -1 },
		err:    "frames per second -1 is negative",
	}, {
		about:  "field of view",
		modify: func(cfg *Configuration) { cfg.Camera.FieldOfView = 180 },
		err:    "field of view 180 outside 0..180 degrees",
	}, {
		about:  "clip planes",
		modify: func(cfg *Configuration) { cfg.Camera.Far = 0.1 },
		err:    "clip planes 0.1..0.1",
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			cfg := DefaultConfiguration()
			test.modify(&cfg)
			c.Assert(cfg.Validate(), qt.ErrorMatches, test.err)
		})
	}
}
