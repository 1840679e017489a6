// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"sync"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruview/util/quat"
)

// NewCamera creates a camera at the origin looking down -Z.
func NewCamera(cfg CameraConfiguration) *Camera {
	return &Camera{
		fovY:       cfg.FieldOfView,
		near:       cfg.Near,
		far:        cfg.Far,
		view:       glm.Ident4(),
		projection: glm.Ident4(),
	}
}

// Camera holds the view matrix and the projection for the current
// drawable aspect ratio.
type Camera struct {
	mutex sync.RWMutex

	fovY, near, far float32
	width, height   int

	view       glm.Mat4
	projection glm.Mat4
}

// Resize recomputes the projection when the drawable size changed and
// reports whether it did.
func (c *Camera) Resize(width, height int) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if width == c.width && height == c.height {
		return false
	}
	c.width, c.height = width, height
	c.updateProjection()
	return true
}

func (c *Camera) updateProjection() {
	if c.width <= 0 || c.height <= 0 {
		return
	}
	aspect := float32(c.width) / float32(c.height)
	c.projection = quat.Perspective(c.fovY, aspect, c.near, c.far)
}

// SetFieldOfView sets the vertical field of view in degrees.
func (c *Camera) SetFieldOfView(degrees float32) {
	c.mutex.Lock()
	c.fovY = degrees
	c.updateProjection()
	c.mutex.Unlock()
}

// SetClipPlanes sets the near and far clip plane distances.
func (c *Camera) SetClipPlanes(near, far float32) {
	c.mutex.Lock()
	c.near, c.far = near, far
	c.updateProjection()
	c.mutex.Unlock()
}

// SetView sets the view matrix.
func (c *Camera) SetView(view glm.Mat4) {
	c.mutex.Lock()
	c.view = view
	c.mutex.Unlock()
}

// View returns the view matrix.
func (c *Camera) View() glm.Mat4 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.view
}

// Projection returns the projection matrix.
func (c *Camera) Projection() glm.Mat4 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.projection
}

// FieldOfView returns the vertical field of view in degrees.
func (c *Camera) FieldOfView() float32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.fovY
}
