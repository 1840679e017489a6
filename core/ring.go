// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/devblok/koruview/device"
)

// NewUniformRing allocates depth uniform buffers of size bytes each.
func NewUniformRing(dev device.Device, depth, size int, label string) (*UniformRing, error) {
	if depth < 1 || size < 1 {
		return nil, errors.Errorf("uniform ring %s: depth %d, size %d", label, depth, size)
	}
	r := &UniformRing{size: size}
	for i := 0; i < depth; i++ {
		b, err := dev.NewBuffer(size, device.BufferUsageUniform, fmt.Sprintf("%s[%d]", label, i))
		if err != nil {
			r.Release()
			return nil, errors.Wrapf(err, "uniform ring %s", label)
		}
		r.buffers = append(r.buffers, b)
	}
	return r, nil
}

// UniformRing holds one copy of per frame uniform data for every slot.
// A frame may only touch the copy of its own slot.
type UniformRing struct {
	buffers []device.Buffer
	size    int
}

// Write calls fn with the contents of the slot of f, for a read-modify-write
// of the data the GPU will read for that frame.
func (r *UniformRing) Write(f Frame, fn func([]byte)) error {
	b, err := r.Buffer(f)
	if err != nil {
		return err
	}
	fn(b.Contents())
	return nil
}

// Buffer returns the buffer of the slot of f.
func (r *UniformRing) Buffer(f Frame) (device.Buffer, error) {
	if !f.Valid() {
		return nil, ErrStaleFrame
	}
	slot := f.Slot()
	if slot < 0 || slot >= len(r.buffers) {
		return nil, errors.Errorf("slot %d outside a ring of %d", slot, len(r.buffers))
	}
	return r.buffers[slot], nil
}

// Len is the number of slots.
func (r *UniformRing) Len() int {
	return len(r.buffers)
}

// Size is the size of a single slot in bytes.
func (r *UniformRing) Size() int {
	return r.size
}

// Release frees every slot buffer. No frame using the ring may be in flight.
func (r *UniformRing) Release() {
	for _, b := range r.buffers {
		b.Release()
	}
	r.buffers = nil
}
