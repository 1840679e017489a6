// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device_test

import (
	"image"
	"image/color"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruview/device"
)

func TestSliceUint32(t *testing.T) {
	c := qt.New(t)
	data := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3}
	words := device.SliceUint32(data)
	c.Assert(words, qt.HasLen, 2)
	c.Assert(device.SliceUint32(nil), qt.IsNil)
}

func TestPixelsPacksOffsetImages(t *testing.T) {
	c := qt.New(t)
	img := image.NewNRGBA(image.Rect(2, 3, 4, 4))
	img.Set(2, 3, color.NRGBA{R: 255, A: 255})
	img.Set(3, 3, color.NRGBA{B: 255, A: 255})

	pix := device.Pixels(img)
	c.Assert(pix, qt.DeepEquals, []uint8{255, 0, 0, 255, 0, 0, 255, 255})
}

func BenchmarkSliceUint32Small(b *testing.B) {
	data := make([]byte, 100)
	for idx := 0; idx < b.N; idx++ {
		device.SliceUint32(data)
	}
}

func BenchmarkSliceUint32Big(b *testing.B) {
	data := make([]byte, 100000)
	for idx := 0; idx < b.N; idx++ {
		device.SliceUint32(data)
	}
}

func BenchmarkPixels(b *testing.B) {
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for idx := 0; idx < b.N; idx++ {
		device.Pixels(img)
	}
}
