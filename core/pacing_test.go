// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"context"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"
)

func TestFramePacerCounts(t *testing.T) {
	c := qt.New(t)
	p := NewFramePacer(3, 0)
	ctx := context.Background()

	c.Assert(p.Depth(), qt.Equals, 3)
	c.Assert(p.Available(), qt.Equals, 3)
	for i := 0; i < 3; i++ {
		c.Assert(p.Acquire(ctx), qt.IsNil)
	}
	c.Assert(p.InFlight(), qt.Equals, 3)
	c.Assert(p.Available(), qt.Equals, 0)

	p.Release()
	c.Assert(p.Available(), qt.Equals, 1)
	c.Assert(p.Peak(), qt.Equals, 3)

	p.Release()
	p.Release()
	c.Assert(func() { p.Release() }, qt.PanicMatches, "core: frame pacer released more than acquired")
}

func TestFramePacerMinimumDepth(t *testing.T) {
	c := qt.New(t)
	c.Assert(NewFramePacer(0, 0).Depth(), qt.Equals, 1)
}

func TestFramePacerTimeout(t *testing.T) {
	c := qt.New(t)
	p := NewFramePacer(1, 10*time.Millisecond)
	c.Assert(p.Acquire(context.Background()), qt.IsNil)

	start := time.Now()
	err := p.Acquire(context.Background())
	c.Assert(errors.Is(err, context.DeadlineExceeded), qt.IsTrue)
	c.Assert(time.Since(start) >= 10*time.Millisecond, qt.IsTrue)
	c.Assert(p.InFlight(), qt.Equals, 1)
}

func TestFramePacerReleaseFromOtherGoroutines(t *testing.T) {
	c := qt.New(t)
	p := NewFramePacer(3, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		c.Assert(p.Acquire(ctx), qt.IsNil)
		c.Assert(p.InFlight() <= 3, qt.IsTrue)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Release()
		}()
	}
	wg.Wait()
	c.Assert(p.Available(), qt.Equals, 3)
	c.Assert(p.Peak() <= 3, qt.IsTrue)
}

func TestFramePacerDrain(t *testing.T) {
	c := qt.New(t)
	p := NewFramePacer(2, 0)
	c.Assert(p.Acquire(context.Background()), qt.IsNil)

	drained := make(chan error, 1)
	go func() {
		drained <- p.Drain(context.Background())
	}()
	select {
	case <-drained:
		c.Fatal("drain returned with a frame in flight")
	case <-time.After(20 * time.Millisecond):
	}
	p.Release()
	c.Assert(<-drained, qt.IsNil)
	c.Assert(p.Available(), qt.Equals, 2)

	c.Assert(p.Acquire(context.Background()), qt.IsNil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	c.Assert(errors.Is(p.Drain(ctx), context.DeadlineExceeded), qt.IsTrue)
}

func BenchmarkFramePacer(b *testing.B) {
	p := NewFramePacer(3, 0)
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		p.Acquire(ctx)
		p.Release()
	}
}
