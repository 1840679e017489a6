// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // texture formats
	_ "image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobuffalo/packd"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/devblok/koruview/device"
)

// Source finds a model file and the material and texture files it
// references. A packr.Box, a packd.MemoryBox, a kar.Archive and a Dir
// all satisfy it.
type Source interface {
	packd.Finder
}

var _ Source = Dir("")

// Dir is a Source reading files below a directory.
type Dir string

// Find implements packd.Finder.
func (d Dir) Find(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(string(d), filepath.FromSlash(name)))
}

// FindString implements packd.Finder.
func (d Dir) FindString(name string) (string, error) {
	data, err := d.Find(name)
	return string(data), err
}

// meshData is a decoded mesh before upload.
type meshData struct {
	name     string
	vertices []Vertex
	groups   []groupData
}

// groupData is a decoded submesh before upload. texture is relative to
// the model file.
type groupData struct {
	material string
	colors   MaterialColors
	texture  string
	indices  []uint32
}

// Load decodes the model name from src and uploads it to dev. The format
// follows the extension: .obj for Wavefront OBJ with its MTL library and
// .dae for COLLADA. Textures that cannot be found or decoded are skipped.
func Load(dev device.Device, src Source, name string) ([]*Mesh, error) {
	if src == nil {
		return nil, errors.Errorf("model %s: no source", name)
	}
	data, err := src.Find(name)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", name)
	}

	var decoded []meshData
	switch ext := strings.ToLower(path.Ext(name)); ext {
	case ".obj":
		decoded, err = decodeObj(src, name, data)
	case ".dae":
		decoded, err = decodeCollada(data)
	default:
		return nil, errors.Errorf("model %s: unsupported format %q", name, ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", name)
	}
	if len(decoded) == 0 {
		return nil, errors.Errorf("model %s: no meshes", name)
	}

	var meshes []*Mesh
	for _, md := range decoded {
		u := uploader{
			device:   dev,
			source:   src,
			dir:      path.Dir(name),
			textures: map[string]device.Texture{},
		}
		mesh, err := u.upload(md)
		if err != nil {
			for _, m := range meshes {
				m.Release()
			}
			return nil, errors.Wrapf(err, "model %s: mesh %s", name, md.name)
		}
		meshes = append(meshes, mesh)
	}
	return meshes, nil
}

type uploader struct {
	device   device.Device
	source   Source
	dir      string
	textures map[string]device.Texture
}

func (u *uploader) upload(md meshData) (*Mesh, error) {
	if len(md.vertices) == 0 {
		return nil, errors.New("no vertices")
	}
	vb, err := u.device.NewBufferWithBytes(MarshalVertices(md.vertices), device.BufferUsageVertex, md.name+".vertices")
	if err != nil {
		return nil, err
	}
	mesh := &Mesh{
		Name:         md.name,
		VertexBuffer: vb,
		VertexCount:  len(md.vertices),
	}

	indexType := device.IndexTypeUint32
	if len(md.vertices) <= 1<<16 {
		indexType = device.IndexTypeUint16
	}
	for i, g := range md.groups {
		if len(g.indices) == 0 {
			continue
		}
		sub, err := u.submesh(fmt.Sprintf("%s.%d", md.name, i), g, indexType)
		if err != nil {
			mesh.Release()
			return nil, err
		}
		mesh.Submeshes = append(mesh.Submeshes, sub)
	}
	return mesh, nil
}

func (u *uploader) submesh(label string, g groupData, indexType device.IndexType) (*Submesh, error) {
	ib, err := u.device.NewBufferWithBytes(marshalIndices(g.indices, indexType), device.BufferUsageIndex, label+".indices")
	if err != nil {
		return nil, err
	}
	sub := &Submesh{
		MaterialName: g.material,
		Primitive:    device.PrimitiveTriangle,
		IndexCount:   len(g.indices),
		IndexType:    indexType,
		IndexBuffer:  ib,
		Colors:       g.colors,
	}
	sub.Material, err = u.device.NewBuffer(MaterialColorsSize, device.BufferUsageUniform, label+".material")
	if err != nil {
		sub.release()
		return nil, err
	}
	if err := g.colors.Marshal(sub.Material.Contents()); err != nil {
		sub.release()
		return nil, err
	}
	if g.texture != "" {
		sub.Texture, err = u.texture(g.texture)
		if err != nil {
			sub.release()
			return nil, err
		}
	}
	return sub, nil
}

// texture returns nil without an error when the file is missing or
// cannot be decoded.
func (u *uploader) texture(file string) (device.Texture, error) {
	file = strings.TrimPrefix(file, "file://")
	name := path.Join(u.dir, filepath.ToSlash(file))
	if tex, ok := u.textures[name]; ok {
		return tex, nil
	}

	fields := log.Fields{"texture": name}
	data, err := u.source.Find(name)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("texture not found")
		u.textures[name] = nil
		return nil, nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("texture not decoded")
		u.textures[name] = nil
		return nil, nil
	}
	tex, err := u.device.NewTexture(img, name)
	if err != nil {
		return nil, errors.Wrapf(err, "texture %s", name)
	}
	fields["format"] = format
	fields["bounds"] = img.Bounds().String()
	log.WithFields(fields).Debug("texture loaded")
	u.textures[name] = tex
	return tex, nil
}

func marshalIndices(indices []uint32, t device.IndexType) []byte {
	b := make([]byte, len(indices)*t.Size())
	for i, idx := range indices {
		if t == device.IndexTypeUint16 {
			byteOrder.PutUint16(b[2*i:], uint16(idx))
		} else {
			byteOrder.PutUint32(b[4*i:], idx)
		}
	}
	return b
}
