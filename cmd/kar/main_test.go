// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestArchiveName(t *testing.T) {
	c := qt.New(t)
	root := filepath.Join("assets", "models")

	name, err := archiveName(root, filepath.Join(root, "cube", "cube.obj"))
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "cube/cube.obj")

	name, err = archiveName(filepath.Join(root, "quad.dae"), filepath.Join(root, "quad.dae"))
	c.Assert(err, qt.IsNil)
	c.Assert(name, qt.Equals, "quad.dae")
}
