// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	vk "github.com/vulkan-go/vulkan"
)

func TestAcquireTimeout(t *testing.T) {
	c := qt.New(t)
	c.Assert(acquireTimeout(0), qt.Equals, uint64(vk.MaxUint64))
	c.Assert(acquireTimeout(-time.Second), qt.Equals, uint64(vk.MaxUint64))
	c.Assert(acquireTimeout(250*time.Millisecond), qt.Equals, uint64(250000000))
}
