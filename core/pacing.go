// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// NewFramePacer creates a pacer allowing depth frames in flight.
// A positive timeout bounds every Acquire.
func NewFramePacer(depth int, timeout time.Duration) *FramePacer {
	if depth < 1 {
		depth = 1
	}
	return &FramePacer{
		depth:   int64(depth),
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(depth)),
	}
}

// FramePacer is the counting token limiting frames in flight. The producer
// acquires a unit before it writes a slot and the GPU completion handler
// of that frame releases it.
type FramePacer struct {
	depth   int64
	timeout time.Duration
	sem     *semaphore.Weighted

	inFlight int64
	peak     int64
}

// Acquire blocks until a frame slot is free, ctx is done or the
// configured timeout elapses.
func (p *FramePacer) Acquire(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquire frame slot")
	}

	n := atomic.AddInt64(&p.inFlight, 1)
	for {
		peak := atomic.LoadInt64(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, n) {
			break
		}
	}
	return nil
}

// Release returns a unit. It never blocks and may be called from any
// goroutine. Releasing more than was acquired panics.
func (p *FramePacer) Release() {
	if atomic.AddInt64(&p.inFlight, -1) < 0 {
		panic("core: frame pacer released more than acquired")
	}
	p.sem.Release(1)
}

// Depth is the maximum number of frames in flight.
func (p *FramePacer) Depth() int {
	return int(p.depth)
}

// InFlight is the number of acquired units not yet released.
func (p *FramePacer) InFlight() int {
	return int(atomic.LoadInt64(&p.inFlight))
}

// Available is the number of units that can be acquired without blocking.
func (p *FramePacer) Available() int {
	return int(p.depth - atomic.LoadInt64(&p.inFlight))
}

// Peak is the highest number of frames ever in flight at once.
func (p *FramePacer) Peak() int {
	return int(atomic.LoadInt64(&p.peak))
}

// Drain waits until no frame is in flight.
func (p *FramePacer) Drain(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, p.depth); err != nil {
		return errors.Wrap(err, "drain frames in flight")
	}
	p.sem.Release(p.depth)
	return nil
}
