// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package collada decodes the parts of COLLADA 1.4 documents needed to
// draw a static mesh: geometries, materials, effects and images.
package collada

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Collada is the top-level Collada object
type Collada struct {
	Images     []Image    `xml:"library_images>image"`
	Effects    []Effect   `xml:"library_effects>effect"`
	Materials  []Material `xml:"library_materials>material"`
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Decode parses a COLLADA document.
func Decode(data []byte) (*Collada, error) {
	var c Collada
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Image finds an image by id, with or without the leading '#'.
func (c *Collada) Image(id string) (Image, bool) {
	id = strings.TrimPrefix(id, "#")
	for _, img := range c.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}

// Effect finds an effect by id or url.
func (c *Collada) Effect(url string) (Effect, bool) {
	url = strings.TrimPrefix(url, "#")
	for _, e := range c.Effects {
		if e.ID == url {
			return e, true
		}
	}
	return Effect{}, false
}

// Material finds a material by id, falling back to its name.
func (c *Collada) Material(id string) (Material, bool) {
	id = strings.TrimPrefix(id, "#")
	for _, m := range c.Materials {
		if m.ID == id {
			return m, true
		}
	}
	for _, m := range c.Materials {
		if m.Name == id {
			return m, true
		}
	}
	return Material{}, false
}

// Image is an external texture file.
type Image struct {
	ID       string   `xml:"id,attr"`
	Name     string   `xml:"name,attr"`
	InitFrom InitFrom `xml:"init_from"`
}

// InitFrom references a file, inline in 1.4 and in a ref element in 1.5.
type InitFrom struct {
	Path string `xml:",chardata"`
	Ref  string `xml:"ref"`
}

// File is the referenced file name.
func (i InitFrom) File() string {
	if ref := strings.TrimSpace(i.Ref); ref != "" {
		return ref
	}
	return strings.TrimSpace(i.Path)
}

// Material binds an effect.
type Material struct {
	ID             string `xml:"id,attr"`
	Name           string `xml:"name,attr"`
	InstanceEffect struct {
		URL string `xml:"url,attr"`
	} `xml:"instance_effect"`
}

// Effect is a fixed function shading description.
type Effect struct {
	ID      string        `xml:"id,attr"`
	Profile ProfileCommon `xml:"profile_COMMON"`
}

// ProfileCommon is the common profile of an effect.
type ProfileCommon struct {
	Params    []NewParam `xml:"newparam"`
	Technique struct {
		Phong   *Shading `xml:"phong"`
		Blinn   *Shading `xml:"blinn"`
		Lambert *Shading `xml:"lambert"`
	} `xml:"technique"`
}

// Shading returns the shading model in use, if any.
func (p ProfileCommon) Shading() *Shading {
	switch t := p.Technique; {
	case t.Phong != nil:
		return t.Phong
	case t.Blinn != nil:
		return t.Blinn
	default:
		return t.Lambert
	}
}

// ImageFor resolves a texture attribute to an image id, following
// sampler2D and surface parameters.
func (p ProfileCommon) ImageFor(texture string) string {
	param := func(sid string) (NewParam, bool) {
		for _, np := range p.Params {
			if np.SID == sid {
				return np, true
			}
		}
		return NewParam{}, false
	}
	sampler, ok := param(texture)
	if !ok {
		return texture
	}
	if sampler.Sampler == "" {
		return strings.TrimSpace(sampler.Surface)
	}
	surface, ok := param(sampler.Sampler)
	if !ok {
		return sampler.Sampler
	}
	return strings.TrimSpace(surface.Surface)
}

// NewParam is an effect parameter, either a surface or a sampler.
type NewParam struct {
	SID     string `xml:"sid,attr"`
	Surface string `xml:"surface>init_from"`
	Sampler string `xml:"sampler2D>source"`
}

// Shading holds the colors of a shading model.
type Shading struct {
	Emission ColorOrTexture `xml:"emission"`
	Diffuse  ColorOrTexture `xml:"diffuse"`
	Specular ColorOrTexture `xml:"specular"`
}

// ColorOrTexture is either a constant color or a texture reference.
type ColorOrTexture struct {
	Color   *Floats `xml:"color"`
	Texture *struct {
		Texture  string `xml:"texture,attr"`
		TexCoord string `xml:"texcoord,attr"`
	} `xml:"texture"`
}

// RGBA returns the color with a missing alpha set to 1.
func (c ColorOrTexture) RGBA() ([4]float32, bool) {
	if c.Color == nil || len(c.Color.Data) < 3 {
		return [4]float32{}, false
	}
	rgba := [4]float32{1, 1, 1, 1}
	copy(rgba[:], c.Color.Data)
	return rgba, true
}

// Geometry represents Collada's geometry
type Geometry struct {
	Mesh Mesh   `xml:"mesh"`
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// Mesh contains all the primitive data
type Mesh struct {
	Source    []Source    `xml:"source"`
	Vertices  Vertices    `xml:"vertices"`
	Triangles []Triangles `xml:"triangles"`
}

// FindSource finds a source by id, with or without the leading '#'.
func (m Mesh) FindSource(id string) (Source, bool) {
	id = strings.TrimPrefix(id, "#")
	for _, s := range m.Source {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Source links to other sources where data is present
type Source struct {
	ID        string `xml:"id,attr"`
	Floats    Floats `xml:"float_array"`
	Technique struct {
		Accessor Accessor `xml:"accessor"`
	} `xml:"technique_common"`
}

// Stride is the number of floats per element, 3 when not declared.
func (s Source) Stride() int {
	if s.Technique.Accessor.Stride > 0 {
		return s.Technique.Accessor.Stride
	}
	return 3
}

// Accessor describes how to read a source.
type Accessor struct {
	Count  int `xml:"count,attr"`
	Stride int `xml:"stride,attr"`
}

// Floats is the array of floats
type Floats struct {
	ID   string
	Data []float32
}

// UnmarshalXML unmarshals the array of floats
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			f.ID = attr.Value
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	for _, r := range strings.Fields(raw) {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return err
		}
		f.Data = append(f.Data, float32(num))
	}
	return nil
}

// Vertices contains the list of vertices
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Input finds an input by semantic.
func (v Vertices) Input(semantic string) (Input, bool) {
	return findInput(v.Inputs, semantic)
}

// Triangles contain the list of triangles
type Triangles struct {
	Count    int     `xml:"count,attr"`
	Material string  `xml:"material,attr"`
	Inputs   []Input `xml:"input"`
	Index    []int
}

// Stride is the number of indices per vertex.
func (t Triangles) Stride() int {
	var stride uint
	for _, in := range t.Inputs {
		if in.Offset+1 > stride {
			stride = in.Offset + 1
		}
	}
	if stride == 0 {
		return 1
	}
	return int(stride)
}

// Input finds an input by semantic.
func (t Triangles) Input(semantic string) (Input, bool) {
	return findInput(t.Inputs, semantic)
}

// UnmarshalXML parses the index list
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return err
			}
			t.Count = num
		case "material":
			t.Material = attr.Value
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "input":
				var input Input
				err := d.DecodeElement(&input, &el)
				if err != nil {
					return err
				}
				t.Inputs = append(t.Inputs, input)
			case "p":
				var raw string
				if err := d.DecodeElement(&raw, &el); err != nil {
					return err
				}
				fields := strings.Fields(raw)
				ints := make([]int, 0, len(fields))
				for _, r := range fields {
					num, err := strconv.Atoi(r)
					if err != nil {
						return err
					}
					ints = append(ints, num)
				}
				t.Index = ints
			default:
				if err := d.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

// Input is Collada'a input type
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
	Set      int    `xml:"set,attr"`
}

func findInput(inputs []Input, semantic string) (Input, bool) {
	for _, in := range inputs {
		if in.Semantic == semantic {
			return in, true
		}
	}
	return Input{}, false
}
