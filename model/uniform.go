// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/binary"
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// LayoutVersion is the version of the uniform layouts below. Shaders
// compiled against a different version must not be bound.
const LayoutVersion = 1

// Uniform block sizes in bytes.
const (
	VertexUniformsSize = 128
	MaterialColorsSize = 48
)

// Field offsets of VertexUniforms.
const (
	offsetProjectionView = 0
	offsetNormal         = 64
)

// Field offsets of MaterialColors.
const (
	offsetEmissive = 0
	offsetDiffuse  = 16
	offsetSpecular = 32
)

var byteOrder = binary.LittleEndian

// ErrShortBuffer is returned when a uniform block does not fit.
var ErrShortBuffer = errors.New("uniform buffer too short")

// VertexUniforms is the per frame block read by the vertex stage, bound
// at device.BufferIndexFrameUniform. Matrices are column-major.
type VertexUniforms struct {
	ProjectionView glm.Mat4
	Normal         glm.Mat4
}

// Marshal writes u into b.
func (u VertexUniforms) Marshal(b []byte) error {
	if len(b) < VertexUniformsSize {
		return errors.Wrapf(ErrShortBuffer, "vertex uniforms need %d bytes, have %d", VertexUniformsSize, len(b))
	}
	putMat4(b[offsetProjectionView:], u.ProjectionView)
	putMat4(b[offsetNormal:], u.Normal)
	return nil
}

// Unmarshal reads u from b.
func (u *VertexUniforms) Unmarshal(b []byte) error {
	if len(b) < VertexUniformsSize {
		return errors.Wrapf(ErrShortBuffer, "vertex uniforms need %d bytes, have %d", VertexUniformsSize, len(b))
	}
	u.ProjectionView = getMat4(b[offsetProjectionView:])
	u.Normal = getMat4(b[offsetNormal:])
	return nil
}

// UpdateVertexUniforms reads the block in b, lets fn modify it and writes
// it back.
func UpdateVertexUniforms(b []byte, fn func(*VertexUniforms)) error {
	var u VertexUniforms
	if err := u.Unmarshal(b); err != nil {
		return err
	}
	fn(&u)
	return u.Marshal(b)
}

// MaterialColors is the material block of a submesh, bound at
// device.BufferIndexMaterial for both stages.
type MaterialColors struct {
	Emissive glm.Vec4
	Diffuse  glm.Vec4
	Specular glm.Vec4
}

// DefaultMaterialColors is used for submeshes without a material.
func DefaultMaterialColors() MaterialColors {
	return MaterialColors{
		Emissive: glm.Vec4{0, 0, 0, 1},
		Diffuse:  glm.Vec4{1, 1, 1, 1},
		Specular: glm.Vec4{0, 0, 0, 1},
	}
}

// Marshal writes c into b.
func (c MaterialColors) Marshal(b []byte) error {
	if len(b) < MaterialColorsSize {
		return errors.Wrapf(ErrShortBuffer, "material colors need %d bytes, have %d", MaterialColorsSize, len(b))
	}
	putVec4(b[offsetEmissive:], c.Emissive)
	putVec4(b[offsetDiffuse:], c.Diffuse)
	putVec4(b[offsetSpecular:], c.Specular)
	return nil
}

// Unmarshal reads c from b.
func (c *MaterialColors) Unmarshal(b []byte) error {
	if len(b) < MaterialColorsSize {
		return errors.Wrapf(ErrShortBuffer, "material colors need %d bytes, have %d", MaterialColorsSize, len(b))
	}
	c.Emissive = getVec4(b[offsetEmissive:])
	c.Diffuse = getVec4(b[offsetDiffuse:])
	c.Specular = getVec4(b[offsetSpecular:])
	return nil
}

// MarshalVertices packs vertices with VertexStride.
func MarshalVertices(vertices []Vertex) []byte {
	b := make([]byte, len(vertices)*VertexStride)
	for i, v := range vertices {
		p := b[i*VertexStride:]
		putFloats(p[0:], v.Position[:])
		putFloats(p[12:], v.Normal[:])
		putFloats(p[24:], v.TexCoord[:])
	}
	return b
}

func putFloats(b []byte, fs []float32) {
	for i, f := range fs {
		byteOrder.PutUint32(b[4*i:], math.Float32bits(f))
	}
}

func getFloats(b []byte, fs []float32) {
	for i := range fs {
		fs[i] = math.Float32frombits(byteOrder.Uint32(b[4*i:]))
	}
}

func putMat4(b []byte, m glm.Mat4) {
	putFloats(b, m[:])
}

func getMat4(b []byte) (m glm.Mat4) {
	getFloats(b, m[:])
	return m
}

func putVec4(b []byte, v glm.Vec4) {
	putFloats(b, v[:])
}

func getVec4(b []byte) (v glm.Vec4) {
	getFloats(b, v[:])
	return v
}
