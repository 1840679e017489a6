// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"bufio"
	"bytes"
	"path"
	"strings"

	"github.com/g3n/engine/loader/obj"
	"github.com/g3n/engine/math32"
	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
)

// decodeObj decodes a Wavefront OBJ file. Every object becomes a mesh
// and every material used by an object becomes a submesh.
func decodeObj(src Source, name string, data []byte) ([]meshData, error) {
	var mtl []byte
	if lib := materialLibrary(data); lib != "" {
		file := path.Join(path.Dir(name), lib)
		b, err := src.Find(file)
		if err != nil {
			log.WithField("library", file).WithError(err).Warn("material library not found")
		}
		mtl = b
	}

	dec, err := obj.DecodeReader(bytes.NewReader(data), bytes.NewReader(mtl))
	if err != nil {
		return nil, err
	}

	var meshes []meshData
	for _, o := range dec.Objects {
		b := objBuilder{
			decoder: dec,
			mesh:    meshData{name: o.Name},
			groups:  map[string]int{},
			unique:  map[[3]int]uint32{},
		}
		for _, face := range o.Faces {
			b.face(face)
		}
		if len(b.mesh.vertices) > 0 {
			meshes = append(meshes, b.mesh)
		}
	}
	return meshes, nil
}

// materialLibrary returns the first mtllib of an OBJ file.
func materialLibrary(data []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 && fields[0] == "mtllib" {
			return strings.Join(fields[1:], " ")
		}
	}
	return ""
}

type objBuilder struct {
	decoder *obj.Decoder
	mesh    meshData
	groups  map[string]int
	unique  map[[3]int]uint32
}

// face triangulates a convex polygon as a fan.
func (b *objBuilder) face(face obj.Face) {
	g := b.group(face.Material)
	for i := 2; i < len(face.Vertices); i++ {
		for _, corner := range [3]int{0, i - 1, i} {
			b.mesh.groups[g].indices = append(b.mesh.groups[g].indices, b.vertex(face, corner))
		}
	}
}

func (b *objBuilder) group(material string) int {
	if g, ok := b.groups[material]; ok {
		return g
	}
	group := groupData{
		material: material,
		colors:   DefaultMaterialColors(),
	}
	if mat, ok := b.decoder.Materials[material]; ok {
		group.colors = MaterialColors{
			Emissive: colorVec4(mat.Emissive),
			Diffuse:  colorVec4(mat.Diffuse),
			Specular: colorVec4(mat.Specular),
		}
		group.texture = mat.MapKd
	}
	b.groups[material] = len(b.mesh.groups)
	b.mesh.groups = append(b.mesh.groups, group)
	return len(b.mesh.groups) - 1
}

func (b *objBuilder) vertex(face obj.Face, corner int) uint32 {
	key := [3]int{face.Vertices[corner], -1, -1}
	if corner < len(face.Uvs) {
		key[1] = face.Uvs[corner]
	}
	if corner < len(face.Normals) {
		key[2] = face.Normals[corner]
	}
	if idx, ok := b.unique[key]; ok {
		return idx
	}

	dec := b.decoder
	var v Vertex
	if p := key[0]; p >= 0 && 3*p+2 < len(dec.Vertices) {
		v.Position = glm.Vec3{dec.Vertices[3*p], dec.Vertices[3*p+1], dec.Vertices[3*p+2]}
	}
	if t := key[1]; t >= 0 && 2*t+1 < len(dec.Uvs) {
		v.TexCoord = glm.Vec2{dec.Uvs[2*t], 1 - dec.Uvs[2*t+1]}
	}
	if n := key[2]; n >= 0 && 3*n+2 < len(dec.Normals) {
		v.Normal = glm.Vec3{dec.Normals[3*n], dec.Normals[3*n+1], dec.Normals[3*n+2]}
	}

	idx := uint32(len(b.mesh.vertices))
	b.mesh.vertices = append(b.mesh.vertices, v)
	b.unique[key] = idx
	return idx
}

func colorVec4(c math32.Color) glm.Vec4 {
	return glm.Vec4{c.R, c.G, c.B, 1}
}
