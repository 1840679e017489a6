// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package headless

import (
	"sync"

	"github.com/devblok/koruview/device"
)

// NewSurface creates an always available BGRA8 surface without depth.
func NewSurface(width, height int) *Surface {
	return &Surface{
		width:       width,
		height:      height,
		available:   true,
		colorFormat: device.PixelFormatBGRA8Unorm,
		sampleCount: 1,
	}
}

// Surface is a headless device.Surface.
type Surface struct {
	mutex       sync.Mutex
	width       int
	height      int
	available   bool
	colorFormat device.PixelFormat
	depthFormat device.PixelFormat
	sampleCount int

	vended    int
	presents  int
	discards  int
	drawables uint64
}

// SetAvailable controls whether NextDrawable returns a drawable.
func (s *Surface) SetAvailable(available bool) {
	s.mutex.Lock()
	s.available = available
	s.mutex.Unlock()
}

// Resize changes the drawable size.
func (s *Surface) Resize(width, height int) {
	s.mutex.Lock()
	s.width, s.height = width, height
	s.mutex.Unlock()
}

// SetDepthStencilPixelFormat sets the depth format reported to pipelines.
func (s *Surface) SetDepthStencilPixelFormat(f device.PixelFormat) {
	s.mutex.Lock()
	s.depthFormat = f
	s.mutex.Unlock()
}

// NextDrawable implements device.Surface.
func (s *Surface) NextDrawable() (device.Drawable, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.available || s.width == 0 || s.height == 0 {
		return nil, false
	}
	s.vended++
	s.drawables++
	return &Drawable{
		surface: s,
		id:      s.drawables,
		width:   s.width,
		height:  s.height,
	}, true
}

// DrawableSize implements device.Surface.
func (s *Surface) DrawableSize() (int, int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.width, s.height
}

// ColorPixelFormat implements device.Surface.
func (s *Surface) ColorPixelFormat() device.PixelFormat {
	return s.colorFormat
}

// DepthStencilPixelFormat implements device.Surface.
func (s *Surface) DepthStencilPixelFormat() device.PixelFormat {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.depthFormat
}

// SampleCount implements device.Surface.
func (s *Surface) SampleCount() int {
	return s.sampleCount
}

// Vended returns how many drawables were handed out.
func (s *Surface) Vended() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.vended
}

// Presented returns how many drawables were presented.
func (s *Surface) Presented() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.presents
}

// Discarded returns how many drawables were given back unpresented.
func (s *Surface) Discarded() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.discards
}

func (s *Surface) presented() {
	s.mutex.Lock()
	s.presents++
	s.mutex.Unlock()
}

// Drawable is a headless device.Drawable.
type Drawable struct {
	surface       *Surface
	id            uint64
	width, height int
}

// Size implements device.Drawable.
func (d *Drawable) Size() (int, int) {
	return d.width, d.height
}

// Discard implements device.Drawable.
func (d *Drawable) Discard() {
	d.surface.mutex.Lock()
	d.surface.discards++
	d.surface.mutex.Unlock()
}

// ID is the drawable sequence number.
func (d *Drawable) ID() uint64 {
	return d.id
}
