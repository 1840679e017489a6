// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package quat

import (
	"fmt"
	"math"
	"testing"

	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
)

func eulerMatrix(x, y, z float32) glm.Mat4 {
	return glm.HomogRotate3DZ(glm.DegToRad(z)).
		Mul4(glm.HomogRotate3DY(glm.DegToRad(y))).
		Mul4(glm.HomogRotate3DX(glm.DegToRad(x)))
}

// near compares element wise with an absolute tolerance, which stays
// meaningful for elements that are exactly zero on one side.
func near(got, want []float32, tolerance float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) >= tolerance {
			return false
		}
	}
	return true
}

func TestToMatrixFromEuler(t *testing.T) {
	c := qt.New(t)
	cases := [][3]float32{
		{0, 0, 0},
		{90, 0, 0},
		{0, 90, 0},
		{0, 0, 90},
		{30, 45, 60},
		{270, 180, 0},
	}
	reference := glm.Vec4{1, 2, 3, 1}
	for _, tc := range cases {
		c.Run(fmt.Sprintf("%v", tc), func(c *qt.C) {
			got := ToMatrix(FromEuler(tc[0], tc[1], tc[2]))
			want := eulerMatrix(tc[0], tc[1], tc[2])
			c.Assert(near(got[:], want[:], 1e-5), qt.IsTrue, qt.Commentf("got %v\nwant %v", got, want))
			gotRef, wantRef := got.Mul4x1(reference), want.Mul4x1(reference)
			c.Assert(near(gotRef[:], wantRef[:], 1e-5), qt.IsTrue, qt.Commentf("got %v\nwant %v", gotRef, wantRef))
		})
	}
}

func TestIdentity(t *testing.T) {
	c := qt.New(t)
	c.Assert(ToMatrix(FromEuler(0, 0, 0)), qt.DeepEquals, glm.Ident4())
	c.Assert(ToMatrix(glm.Quat{}), qt.DeepEquals, glm.Ident4())
}

func TestToMatrixScaleInvariant(t *testing.T) {
	c := qt.New(t)
	q := FromEuler(10, 20, 30)
	scaled := glm.Quat{W: q.W * 3, V: q.V.Mul(3)}
	got, want := ToMatrix(scaled), ToMatrix(q)
	c.Assert(near(got[:], want[:], 1e-5), qt.IsTrue)
}

func TestNormalize(t *testing.T) {
	c := qt.New(t)

	zero := glm.Quat{}
	c.Assert(Normalize(zero), qt.Equals, zero)

	n := Normalize(glm.Quat{W: 2, V: glm.Vec3{0, 0, 0}})
	c.Assert(n, qt.Equals, glm.Quat{W: 1, V: glm.Vec3{0, 0, 0}})

	n = Normalize(glm.Quat{W: 1, V: glm.Vec3{1, 1, 1}})
	c.Assert(near([]float32{n.Len()}, []float32{1}, 1e-6), qt.IsTrue)
}

func TestPerspectiveClipSpace(t *testing.T) {
	c := qt.New(t)
	p := Perspective(75, 4.0/3.0, 0.1, 100)

	nearPlane := p.Mul4x1(glm.Vec4{0, 0, -0.1, 1})
	farPlane := p.Mul4x1(glm.Vec4{0, 0, -100, 1})
	c.Assert(near([]float32{nearPlane.Z() / nearPlane.W()}, []float32{0}, 1e-5), qt.IsTrue)
	c.Assert(near([]float32{farPlane.Z() / farPlane.W()}, []float32{1}, 1e-4), qt.IsTrue)

	up := p.Mul4x1(glm.Vec4{0, 1, -1, 1})
	c.Assert(up.Y() < 0, qt.IsTrue)
}

func BenchmarkToMatrix(b *testing.B) {
	q := FromEuler(30, 45, 60)
	for i := 0; i < b.N; i++ {
		ToMatrix(q)
	}
}
