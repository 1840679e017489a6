// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/packd"

	"github.com/devblok/koruview/device"
)

var spirv = []byte{0x03, 0x02, 0x23, 0x07}

func TestShaderLibraryLoadsCompiledFunctions(t *testing.T) {
	c := qt.New(t)
	box := packd.NewMemoryBox()
	c.Assert(box.AddBytes("noLightVertex.vert.spv", spirv), qt.IsNil)
	c.Assert(box.AddBytes("noLightFragment.frag.spv", spirv), qt.IsNil)
	c.Assert(box.AddBytes("particles.comp.spv", spirv), qt.IsNil)
	c.Assert(box.AddString("noLight.vert", "#version 450"), qt.IsNil)
	c.Assert(box.AddBytes("broken.name.vert.spv", spirv), qt.IsNil)

	lib, err := device.NewShaderLibrary(box)
	c.Assert(err, qt.IsNil)
	c.Assert(lib.Names(), qt.DeepEquals, []string{"noLightFragment", "noLightVertex", "particles"})

	fn, err := lib.Function("noLightVertex")
	c.Assert(err, qt.IsNil)
	c.Assert(fn.Stage, qt.Equals, device.VertexStage)
	c.Assert(fn.Code, qt.DeepEquals, spirv)

	fn, err = lib.Function("particles")
	c.Assert(err, qt.IsNil)
	c.Assert(fn.Stage, qt.Equals, device.ComputeStage)

	_, err = lib.Function("missing")
	c.Assert(err, qt.ErrorMatches, `shader function "missing" not found in library`)
}

func TestShaderLibraryMissing(t *testing.T) {
	c := qt.New(t)
	box := packd.NewMemoryBox()
	c.Assert(box.AddString("readme.txt", "nothing compiled here"), qt.IsNil)

	_, err := device.NewShaderLibrary(box)
	c.Assert(err, qt.Equals, device.ErrShaderLibraryMissing)

	_, err = device.NewShaderLibrary(nil)
	c.Assert(err, qt.Equals, device.ErrShaderLibraryMissing)

	var lib *device.ShaderLibrary
	_, err = lib.Function("noLightVertex")
	c.Assert(err, qt.Equals, device.ErrShaderLibraryMissing)
}

func TestShaderLibraryRejectsTruncatedCode(t *testing.T) {
	c := qt.New(t)
	box := packd.NewMemoryBox()
	c.Assert(box.AddBytes("bad.frag.spv", []byte{1, 2, 3}), qt.IsNil)

	_, err := device.NewShaderLibrary(box)
	c.Assert(err, qt.ErrorMatches, `shader bad.frag.spv: code size 3 is not a multiple of 4`)
}

func TestPixelFormatText(t *testing.T) {
	c := qt.New(t)
	var f device.PixelFormat
	c.Assert(f.UnmarshalText([]byte("BGRA8Unorm")), qt.IsNil)
	c.Assert(f, qt.Equals, device.PixelFormatBGRA8Unorm)
	c.Assert(f.UnmarshalText([]byte("none")), qt.IsNil)
	c.Assert(f, qt.Equals, device.PixelFormatInvalid)
	c.Assert(f.UnmarshalText([]byte("rgb565")), qt.ErrorMatches, `unknown pixel format "rgb565"`)

	text, err := device.PixelFormatDepth32Float.MarshalText()
	c.Assert(err, qt.IsNil)
	c.Assert(string(text), qt.Equals, "depth32float")
	c.Assert(device.PixelFormatDepth16Unorm.IsDepth(), qt.IsTrue)
}
