// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func newTestBuilder(c *qt.C) *Builder {
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { builder.Close() })
	return builder
}

func TestAddAndWrite(t *testing.T) {
	c := qt.New(t)
	builder := newTestBuilder(c)

	c.Assert(builder.Add("test", strings.NewReader("idunvovkjnreovmegihjbrqlkmfrjnb")), qt.IsNil)
	c.Assert(builder.Add("test2", strings.NewReader("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb")), qt.IsNil)
	c.Assert(builder.files, qt.HasLen, 2)
	c.Assert(builder.files[0].Size, qt.Equals, int64(31))

	var buf bytes.Buffer
	num, err := builder.WriteTo(&buf)
	c.Assert(err, qt.IsNil)
	c.Assert(num, qt.Equals, int64(buf.Len()))
	c.Assert(buf.Bytes()[:MagicLength], qt.DeepEquals, []byte("KAR\x00"))

	size, err := binaryToint64(buf.Bytes()[MagicLength:])
	c.Assert(err, qt.IsNil)
	var header Header
	c.Assert(gobDecode(&header, buf.Bytes()[MagicLength+HeaderSizeNumberLength:MagicLength+HeaderSizeNumberLength+size]), qt.IsNil)
	c.Assert(header.Author, qt.Equals, "devblok")
	c.Assert(header.Index, qt.HasLen, 2)
	c.Assert(header.Index[0].Offset, qt.Equals, int64(0))
	c.Assert(header.Index[1].Offset, qt.Equals, header.Index[0].CompressedSize)
	c.Assert(header.Size(), qt.Equals, int64(31+44))

	total := MagicLength + HeaderSizeNumberLength + size + header.Index[0].CompressedSize + header.Index[1].CompressedSize
	c.Assert(int64(buf.Len()), qt.Equals, total)
}

func TestAddConcurrently(t *testing.T) {
	c := qt.New(t)
	builder := newTestBuilder(c)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- builder.Add(fmt.Sprintf("file%02d", i), strings.NewReader(strings.Repeat("koru", i+1)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Assert(err, qt.IsNil)
	}
	c.Assert(builder.Len(), qt.Equals, 16)
}

func TestAddDuplicate(t *testing.T) {
	c := qt.New(t)
	builder := newTestBuilder(c)

	c.Assert(builder.Add("a", strings.NewReader("1")), qt.IsNil)
	err := builder.Add("a", strings.NewReader("2"))
	c.Assert(errors.Is(err, ErrDuplicate), qt.IsTrue)
	c.Assert(builder.Len(), qt.Equals, 1)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestAddFailureForgetsName(t *testing.T) {
	c := qt.New(t)
	builder := newTestBuilder(c)

	c.Assert(builder.Add("a", failingReader{}), qt.ErrorMatches, "add a: disk on fire")
	c.Assert(builder.Add("a", strings.NewReader("ok")), qt.IsNil)
}

func TestCloseRemovesTempDir(t *testing.T) {
	c := qt.New(t)
	builder, err := NewBuilder(Header{})
	c.Assert(err, qt.IsNil)
	c.Assert(builder.Add("a", strings.NewReader("data")), qt.IsNil)

	_, err = os.Stat(builder.tempDir)
	c.Assert(err, qt.IsNil)
	c.Assert(builder.Close(), qt.IsNil)
	_, err = os.Stat(builder.tempDir)
	c.Assert(os.IsNotExist(err), qt.IsTrue)
}
