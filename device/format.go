// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"strings"

	"github.com/pkg/errors"
)

// Bind points shared by pipelines and encoders.
const (
	BufferIndexVertex       = 0
	BufferIndexFrameUniform = 1
	BufferIndexMaterial     = 2

	TextureIndexDiffuse = 0
)

// PixelFormat identifies a texel layout.
type PixelFormat int

// Supported pixel formats
const (
	PixelFormatInvalid PixelFormat = iota
	PixelFormatBGRA8Unorm
	PixelFormatRGBA8Unorm
	PixelFormatDepth16Unorm
	PixelFormatDepth32Float
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatInvalid:      "invalid",
	PixelFormatBGRA8Unorm:   "bgra8unorm",
	PixelFormatRGBA8Unorm:   "rgba8unorm",
	PixelFormatDepth16Unorm: "depth16unorm",
	PixelFormatDepth32Float: "depth32float",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return "unknown"
}

// IsDepth reports whether the format is a depth format.
func (f PixelFormat) IsDepth() bool {
	return f == PixelFormatDepth16Unorm || f == PixelFormatDepth32Float
}

// MarshalText implements encoding.TextMarshaler.
func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so pixel formats
// can be spelled by name in configuration files.
func (f *PixelFormat) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	if name == "" || name == "none" {
		*f = PixelFormatInvalid
		return nil
	}
	for k, v := range pixelFormatNames {
		if v == name {
			*f = k
			return nil
		}
	}
	return errors.Errorf("unknown pixel format %q", string(text))
}

// VertexFormat is the type of a single vertex attribute.
type VertexFormat int

// Supported vertex attribute formats
const (
	VertexFormatFloat2 VertexFormat = iota
	VertexFormatFloat3
	VertexFormatFloat4
)

// Size returns the attribute size in bytes.
func (f VertexFormat) Size() int {
	switch f {
	case VertexFormatFloat2:
		return 8
	case VertexFormatFloat3:
		return 12
	case VertexFormatFloat4:
		return 16
	}
	return 0
}

// IndexType is the integer type of an index buffer.
type IndexType int

// Supported index types
const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

// Size returns the index size in bytes.
func (t IndexType) Size() int {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

// PrimitiveType is the primitive assembly mode of a draw.
type PrimitiveType int

// Supported primitive types
const (
	PrimitiveTriangle PrimitiveType = iota
	PrimitiveTriangleStrip
	PrimitiveLine
	PrimitiveLineStrip
	PrimitivePoint
)

// BufferUsage describes how a buffer will be bound.
type BufferUsage int

// Buffer usage flags
const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
)
