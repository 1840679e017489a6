// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/gobuffalo/packd"
	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/koruview/device"
	"github.com/devblok/koruview/device/headless"
	"github.com/devblok/koruview/model"
)

const quadObj = `# quad
mtllib quad.mtl
o Quad
v -1 -1 0
v 1 -1 0
v 1 1 0
v -1 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
vn 0 0 1
usemtl Brick
f 1/1/1 2/2/1 3/3/1 4/4/1
o Triangle
v 0 0 1
v 1 0 1
v 0 1 1
usemtl Paint
f 5 6 7
`

const quadMtl = `newmtl Brick
Kd 1 1 1
Ks 0.5 0.5 0.5
Ke 0.1 0.2 0.3
map_Kd textures/brick.png

newmtl Paint
Kd 0.8 0 0
map_Kd textures/missing.png
`

func pngBytes(c *qt.C, w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	c.Assert(png.Encode(&buf, img), qt.IsNil)
	return buf.Bytes()
}

func newBox(c *qt.C) *packd.MemoryBox {
	box := packd.NewMemoryBox()
	c.Assert(box.AddString("models/quad.obj", quadObj), qt.IsNil)
	c.Assert(box.AddString("models/quad.mtl", quadMtl), qt.IsNil)
	c.Assert(box.AddBytes("models/textures/brick.png", pngBytes(c, 4, 2)), qt.IsNil)
	return box
}

func newDevice(c *qt.C) *headless.Device {
	dev := headless.New(headless.Options{})
	c.Cleanup(dev.Destroy)
	return dev
}

func TestLoadObj(t *testing.T) {
	c := qt.New(t)
	meshes, err := model.Load(newDevice(c), newBox(c), "models/quad.obj")
	c.Assert(err, qt.IsNil)
	c.Assert(meshes, qt.HasLen, 2)

	quad := meshes[0]
	c.Assert(quad.Name, qt.Equals, "Quad")
	c.Assert(quad.VertexCount, qt.Equals, 4)
	c.Assert(quad.VertexBuffer.Len(), qt.Equals, 4*model.VertexStride)
	c.Assert(quad.Submeshes, qt.HasLen, 1)

	brick := quad.Submeshes[0]
	c.Assert(brick.MaterialName, qt.Equals, "Brick")
	c.Assert(brick.IndexCount, qt.Equals, 6)
	c.Assert(brick.IndexType, qt.Equals, device.IndexTypeUint16)
	c.Assert(brick.IndexBuffer.Contents(), qt.DeepEquals, []byte{0, 0, 1, 0, 2, 0, 0, 0, 2, 0, 3, 0})
	c.Assert(brick.Primitive, qt.Equals, device.PrimitiveTriangle)
	c.Assert(brick.Texture, qt.Not(qt.IsNil))
	c.Assert(brick.Texture.Label(), qt.Equals, "models/textures/brick.png")
	w, h := brick.Texture.Size()
	c.Assert([]int{w, h}, qt.DeepEquals, []int{4, 2})

	c.Assert(brick.Colors, qt.Equals, model.MaterialColors{
		Emissive: glm.Vec4{0.1, 0.2, 0.3, 1},
		Diffuse:  glm.Vec4{1, 1, 1, 1},
		Specular: glm.Vec4{0.5, 0.5, 0.5, 1},
	})
	var stored model.MaterialColors
	c.Assert(stored.Unmarshal(brick.Material.Contents()), qt.IsNil)
	c.Assert(stored, qt.Equals, brick.Colors)

	triangle := meshes[1]
	c.Assert(triangle.VertexCount, qt.Equals, 3)
	paint := triangle.Submeshes[0]
	c.Assert(paint.IndexCount, qt.Equals, 3)
	c.Assert(paint.Colors.Diffuse, qt.Equals, glm.Vec4{0.8, 0, 0, 1})
	c.Assert(paint.Texture, qt.IsNil)

	for _, m := range meshes {
		m.Release()
	}
}

func TestLoadObjWithoutMaterials(t *testing.T) {
	c := qt.New(t)
	box := packd.NewMemoryBox()
	c.Assert(box.AddString("tri.obj", "mtllib gone.mtl\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), qt.IsNil)

	meshes, err := model.Load(newDevice(c), box, "tri.obj")
	c.Assert(err, qt.IsNil)
	c.Assert(meshes, qt.HasLen, 1)
	c.Assert(meshes[0].Submeshes, qt.HasLen, 1)
	c.Assert(meshes[0].Submeshes[0].Colors, qt.Equals, model.DefaultMaterialColors())
	c.Assert(meshes[0].Submeshes[0].Texture, qt.IsNil)
}

func TestLoadCollada(t *testing.T) {
	c := qt.New(t)
	dae, err := os.ReadFile("../util/collada/testdata/quad.dae")
	c.Assert(err, qt.IsNil)

	dir := c.TempDir()
	c.Assert(os.WriteFile(filepath.Join(dir, "quad.dae"), dae, 0644), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "brick.png"), pngBytes(c, 2, 2), 0644), qt.IsNil)

	meshes, err := model.Load(newDevice(c), model.Dir(dir), "quad.dae")
	c.Assert(err, qt.IsNil)
	c.Assert(meshes, qt.HasLen, 1)

	quad := meshes[0]
	c.Assert(quad.Name, qt.Equals, "Quad")
	c.Assert(quad.VertexCount, qt.Equals, 4)
	c.Assert(quad.Submeshes, qt.HasLen, 2)

	brick, paint := quad.Submeshes[0], quad.Submeshes[1]
	c.Assert(brick.MaterialName, qt.Equals, "Brick")
	c.Assert(brick.IndexCount, qt.Equals, 3)
	c.Assert(brick.Texture, qt.Not(qt.IsNil))
	c.Assert(brick.Colors.Emissive, qt.Equals, glm.Vec4{0.1, 0.2, 0.3, 1})
	c.Assert(brick.Colors.Specular, qt.Equals, glm.Vec4{0.5, 0.5, 0.5, 1})

	c.Assert(paint.MaterialName, qt.Equals, "Paint")
	c.Assert(paint.Colors.Diffuse, qt.Equals, glm.Vec4{0.8, 0, 0, 1})
	c.Assert(paint.Texture, qt.IsNil)
	c.Assert(paint.IndexBuffer.Contents(), qt.DeepEquals, []byte{0, 0, 2, 0, 3, 0})
}

func TestDirSource(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	c.Assert(os.MkdirAll(filepath.Join(dir, "textures"), 0755), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "textures", "note.txt"), []byte("brick"), 0644), qt.IsNil)

	var src model.Source = model.Dir(dir)
	data, err := src.Find("textures/note.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(data), qt.Equals, "brick")

	s, err := src.FindString("textures/note.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(s, qt.Equals, "brick")

	_, err = src.FindString("textures/missing.txt")
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}

func TestLoadObjFromDir(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	c.Assert(os.WriteFile(filepath.Join(dir, "triangle.obj"), []byte("o Tri\nv 0 0 0\nv 1 0 0\nv 0 1 0\nf 1 2 3\n"), 0644), qt.IsNil)

	meshes, err := model.Load(newDevice(c), model.Dir(dir), "triangle.obj")
	c.Assert(err, qt.IsNil)
	c.Assert(meshes, qt.HasLen, 1)
	c.Assert(meshes[0].Submeshes, qt.HasLen, 1)
	c.Assert(meshes[0].Submeshes[0].IndexCount, qt.Equals, 3)
}

func TestLoadErrors(t *testing.T) {
	c := qt.New(t)
	dev := newDevice(c)
	box := newBox(c)
	c.Assert(box.AddString("broken.dae", "<COLLADA><library_geometries><geometry id=\"g\"><mesh><vertices id=\"v\"/></mesh></geometry></library_geometries></COLLADA>"), qt.IsNil)

	_, err := model.Load(dev, box, "models/missing.obj")
	c.Assert(err, qt.ErrorMatches, "model models/missing.obj: .*")

	_, err = model.Load(dev, box, "models/textures/brick.png")
	c.Assert(err, qt.ErrorMatches, `model models/textures/brick.png: unsupported format ".png"`)

	_, err = model.Load(dev, box, "broken.dae")
	c.Assert(err, qt.ErrorMatches, "model broken.dae: geometry g: vertices without POSITION input")

	_, err = model.Load(dev, nil, "quad.obj")
	c.Assert(err, qt.ErrorMatches, "model quad.obj: no source")
}
