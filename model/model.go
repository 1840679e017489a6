// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model loads meshes into GPU buffers and draws them. A Mesh owns
// an interleaved vertex buffer and a list of submeshes, each with its own
// index range, material constants and optional diffuse texture.
package model

import (
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruview/device"
)

// Vertex attribute locations
const (
	AttributePosition = 0
	AttributeNormal   = 1
	AttributeTexCoord = 2
)

// VertexStride is the size of a packed Vertex.
const VertexStride = 32

// Vertex is a model vertex
type Vertex struct {
	Position glm.Vec3
	Normal   glm.Vec3
	TexCoord glm.Vec2
}

// VertexDescriptor describes the packed Vertex layout bound at
// device.BufferIndexVertex.
func VertexDescriptor() device.VertexDescriptor {
	return device.VertexDescriptor{
		Attributes: []device.VertexAttribute{
			{Location: AttributePosition, Format: device.VertexFormatFloat3, Offset: 0, BufferIndex: device.BufferIndexVertex},
			{Location: AttributeNormal, Format: device.VertexFormatFloat3, Offset: 12, BufferIndex: device.BufferIndexVertex},
			{Location: AttributeTexCoord, Format: device.VertexFormatFloat2, Offset: 24, BufferIndex: device.BufferIndexVertex},
		},
		Layouts: []device.VertexBufferLayout{
			{BufferIndex: device.BufferIndexVertex, Stride: VertexStride},
		},
	}
}

// Mesh is a single vertex buffer drawn through one or more submeshes.
type Mesh struct {
	Name         string
	VertexBuffer device.Buffer
	VertexCount  int
	Submeshes    []*Submesh
}

// Render binds the vertex buffer and draws every submesh.
func (m *Mesh) Render(enc device.RenderEncoder) {
	enc.SetVertexBuffer(m.VertexBuffer, 0, device.BufferIndexVertex)
	for _, sub := range m.Submeshes {
		sub.Render(enc)
	}
}

// Release frees the GPU resources of the mesh. Textures shared by
// submeshes are released once.
func (m *Mesh) Release() {
	released := map[device.Texture]bool{}
	for _, sub := range m.Submeshes {
		if sub.Texture != nil && !released[sub.Texture] {
			released[sub.Texture] = true
			sub.Texture.Release()
		}
		sub.release()
	}
	if m.VertexBuffer != nil {
		m.VertexBuffer.Release()
	}
}

// Submesh is an indexed range of a mesh drawn with one material.
type Submesh struct {
	MaterialName string
	Primitive    device.PrimitiveType
	IndexCount   int
	IndexType    device.IndexType
	IndexBuffer  device.Buffer
	IndexOffset  int

	// Colors is the content of Material.
	Colors   MaterialColors
	Material device.Buffer

	// Texture is the diffuse map, nil when the material has none
	// or it could not be loaded.
	Texture device.Texture
}

// Render binds the material and draws the index range.
func (s *Submesh) Render(enc device.RenderEncoder) {
	if s.Texture != nil {
		enc.SetFragmentTexture(s.Texture, device.TextureIndexDiffuse)
	}
	enc.SetFragmentBuffer(s.Material, 0, device.BufferIndexMaterial)
	enc.SetVertexBuffer(s.Material, 0, device.BufferIndexMaterial)
	enc.DrawIndexed(s.Primitive, s.IndexCount, s.IndexType, s.IndexBuffer, s.IndexOffset)
}

func (s *Submesh) release() {
	if s.IndexBuffer != nil {
		s.IndexBuffer.Release()
	}
	if s.Material != nil {
		s.Material.Release()
	}
}
