// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package quat holds the quaternion and projection helpers used by render targets.
package quat

import (
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
)

// vulkanClip maps OpenGL clip space onto Vulkan's: Y points down and
// depth runs from 0 to 1.
var vulkanClip = glm.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// Normalize returns q scaled to unit length.
// A zero quaternion is returned unchanged.
func Normalize(q glm.Quat) glm.Quat {
	l := q.Len()
	if l == 0 {
		return q
	}
	return glm.Quat{W: q.W / l, V: q.V.Mul(1 / l)}
}

// ToMatrix returns the rotation matrix of q. q does not need to be
// normalised, a zero quaternion yields the identity.
func ToMatrix(q glm.Quat) glm.Mat4 {
	x, y, z, w := q.V[0], q.V[1], q.V[2], q.W
	n := x*x + y*y + z*z + w*w
	if n == 0 {
		return glm.Ident4()
	}
	s := 2 / n

	xx, yy, zz := s*x*x, s*y*y, s*z*z
	xy, xz, yz := s*x*y, s*x*z, s*y*z
	wx, wy, wz := s*w*x, s*w*y, s*w*z

	// column major
	return glm.Mat4{
		1 - (yy + zz), xy + wz, xz - wy, 0,
		xy - wz, 1 - (xx + zz), yz + wx, 0,
		xz + wy, yz - wx, 1 - (xx + yy), 0,
		0, 0, 0, 1,
	}
}

// FromEuler builds a quaternion from rotations in degrees about the x, y
// and z axes. The rotation applies x first, then y, then z (Rz·Ry·Rx).
func FromEuler(x, y, z float32) glm.Quat {
	hx := float64(glm.DegToRad(x)) / 2
	hy := float64(glm.DegToRad(y)) / 2
	hz := float64(glm.DegToRad(z)) / 2

	cx, sx := math.Cos(hx), math.Sin(hx)
	cy, sy := math.Cos(hy), math.Sin(hy)
	cz, sz := math.Cos(hz), math.Sin(hz)

	return glm.Quat{
		W: float32(cx*cy*cz + sx*sy*sz),
		V: glm.Vec3{
			float32(sx*cy*cz - cx*sy*sz),
			float32(cx*sy*cz + sx*cy*sz),
			float32(cx*cy*sz - sx*sy*cz),
		},
	}
}

// Perspective returns a right handed perspective projection for Vulkan
// clip space. fovY is in degrees.
func Perspective(fovY, aspect, near, far float32) glm.Mat4 {
	return vulkanClip.Mul4(glm.Perspective(glm.DegToRad(fovY), aspect, near, far))
}
