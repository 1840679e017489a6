// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/devblok/koruview/util/collada"
)

// decodeCollada converts every geometry of a COLLADA document into a
// mesh, one submesh per triangles element.
func decodeCollada(data []byte) ([]meshData, error) {
	doc, err := collada.Decode(data)
	if err != nil {
		return nil, err
	}

	var meshes []meshData
	for _, geo := range doc.Geometries {
		name := geo.Name
		if name == "" {
			name = geo.ID
		}
		md, err := colladaMesh(doc, geo.Mesh, name)
		if err != nil {
			return nil, errors.Wrapf(err, "geometry %s", name)
		}
		if len(md.vertices) > 0 {
			meshes = append(meshes, md)
		}
	}
	return meshes, nil
}

// colladaInput is a triangles input resolved to its source.
type colladaInput struct {
	offset int
	source collada.Source
	ok     bool
}

func colladaMesh(doc *collada.Collada, mesh collada.Mesh, name string) (meshData, error) {
	md := meshData{name: name}

	position, ok := mesh.Vertices.Input("POSITION")
	if !ok {
		return md, errors.New("vertices without POSITION input")
	}
	positions, ok := mesh.FindSource(position.Source)
	if !ok {
		return md, errors.Errorf("position source %s not found", position.Source)
	}
	// Normals may be declared with the positions instead of per triangle.
	vertexNormals, hasVertexNormals := collada.Source{}, false
	if in, ok := mesh.Vertices.Input("NORMAL"); ok {
		vertexNormals, hasVertexNormals = mesh.FindSource(in.Source)
	}

	unique := map[[3]int]uint32{}
	for _, tri := range mesh.Triangles {
		vertex, ok := tri.Input("VERTEX")
		if !ok {
			return md, errors.New("triangles without VERTEX input")
		}
		normal := resolveInput(mesh, tri, "NORMAL")
		texcoord := resolveInput(mesh, tri, "TEXCOORD")

		stride := tri.Stride()
		if len(tri.Index)%(3*stride) != 0 {
			return md, errors.Errorf("triangles index count %d is not a multiple of %d", len(tri.Index), 3*stride)
		}

		group := colladaGroup(doc, tri.Material)
		for base := 0; base < len(tri.Index); base += stride {
			p := tri.Index[base : base+stride]
			key := [3]int{p[vertex.Offset], -1, -1}
			if normal.ok {
				key[1] = p[normal.offset]
			}
			if texcoord.ok {
				key[2] = p[texcoord.offset]
			}
			if idx, ok := unique[key]; ok {
				group.indices = append(group.indices, idx)
				continue
			}

			var v Vertex
			pos, err := element(positions, key[0], 3)
			if err != nil {
				return md, err
			}
			v.Position = glm.Vec3{pos[0], pos[1], pos[2]}
			switch {
			case normal.ok:
				n, err := element(normal.source, key[1], 3)
				if err != nil {
					return md, err
				}
				v.Normal = glm.Vec3{n[0], n[1], n[2]}
			case hasVertexNormals:
				n, err := element(vertexNormals, key[0], 3)
				if err != nil {
					return md, err
				}
				v.Normal = glm.Vec3{n[0], n[1], n[2]}
			}
			if texcoord.ok {
				t, err := element(texcoord.source, key[2], 2)
				if err != nil {
					return md, err
				}
				v.TexCoord = glm.Vec2{t[0], 1 - t[1]}
			}

			idx := uint32(len(md.vertices))
			md.vertices = append(md.vertices, v)
			unique[key] = idx
			group.indices = append(group.indices, idx)
		}
		md.groups = append(md.groups, group)
	}
	return md, nil
}

func resolveInput(mesh collada.Mesh, tri collada.Triangles, semantic string) colladaInput {
	in, ok := tri.Input(semantic)
	if !ok {
		return colladaInput{}
	}
	src, ok := mesh.FindSource(in.Source)
	return colladaInput{offset: int(in.Offset), source: src, ok: ok}
}

// element returns the first n floats of element i of src.
func element(src collada.Source, i, n int) ([]float32, error) {
	stride := src.Stride()
	start := i * stride
	if i < 0 || n > stride || start+n > len(src.Floats.Data) {
		return nil, errors.Errorf("source %s: element %d out of range", src.ID, i)
	}
	return src.Floats.Data[start : start+n], nil
}

// colladaGroup resolves the material symbol of a triangles element to
// its colors and diffuse texture.
func colladaGroup(doc *collada.Collada, symbol string) groupData {
	group := groupData{
		material: symbol,
		colors:   DefaultMaterialColors(),
	}
	mat, ok := doc.Material(symbol)
	if !ok {
		return group
	}
	if mat.Name != "" {
		group.material = mat.Name
	}
	effect, ok := doc.Effect(mat.InstanceEffect.URL)
	if !ok {
		return group
	}
	shading := effect.Profile.Shading()
	if shading == nil {
		return group
	}
	if rgba, ok := shading.Emission.RGBA(); ok {
		group.colors.Emissive = rgba
	}
	if rgba, ok := shading.Diffuse.RGBA(); ok {
		group.colors.Diffuse = rgba
	}
	if rgba, ok := shading.Specular.RGBA(); ok {
		group.colors.Specular = rgba
	}
	if tex := shading.Diffuse.Texture; tex != nil {
		if img, ok := doc.Image(effect.Profile.ImageFor(tex.Texture)); ok {
			group.texture = img.InitFrom.File()
		}
	}
	return group
}
