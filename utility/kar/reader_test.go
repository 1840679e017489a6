// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/devblok/koruview/utility/kar"
)

func writeArchive(c *qt.C) string {
	path := filepath.Join(c.TempDir(), "opentest.kar")
	data := buildArchive(c, map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	})
	c.Assert(os.WriteFile(path, data, 0644), qt.IsNil)
	return path
}

func TestOpen(t *testing.T) {
	c := qt.New(t)
	r, err := os.Open(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer r.Close()

	ar, err := kar.Open(r)
	c.Assert(err, qt.IsNil)
	c.Assert(ar.List(), qt.HasLen, 2)
}

func TestOpenmmap(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)

	f, err := ar.ReadAll("test/test2.txt")
	c.Assert(err, qt.IsNil)
	c.Assert(string(f), qt.Equals, "this is another test")
	c.Assert(ar.Close(), qt.IsNil)
	c.Assert(ar.Close(), qt.IsNil)
}

func TestOpenFileErrors(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()

	_, err := kar.OpenFile(filepath.Join(dir, "missing.kar"))
	c.Assert(err, qt.Not(qt.IsNil))

	junk := filepath.Join(dir, "junk.kar")
	c.Assert(os.WriteFile(junk, []byte("not an archive at all"), 0644), qt.IsNil)
	_, err = kar.OpenFile(junk)
	c.Assert(err, qt.ErrorMatches, ".*junk.kar: corrupted or not a kar archive")
}

func TestOpenAndRead(t *testing.T) {
	c := qt.New(t)
	ar, err := kar.OpenFile(writeArchive(c))
	c.Assert(err, qt.IsNil)
	defer ar.Close()

	for name, want := range map[string]string{
		"test/test1.txt": "this is a test",
		"test/test2.txt": "this is another test",
	} {
		f, err := ar.Open(name)
		c.Assert(err, qt.IsNil)
		result := make([]byte, len(want))
		n, err := f.Read(result)
		c.Assert(err, qt.IsNil)
		c.Assert(n, qt.Equals, len(want))
		c.Assert(string(result), qt.Equals, want)
	}
}
