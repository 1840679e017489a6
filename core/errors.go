// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"github.com/pkg/errors"
)

var (
	// ErrSurfaceMissing is returned by Initialise without a presentation surface.
	ErrSurfaceMissing = errors.New("presentation surface missing")

	// ErrSchedulerDestroyed is returned when the scheduler is used after Destroy.
	ErrSchedulerDestroyed = errors.New("scheduler destroyed")

	// ErrNoCapability is returned by Register for a value that is
	// neither a RenderTarget nor a ComputeTarget.
	ErrNoCapability = errors.New("target has no render or compute capability")

	// ErrStaleFrame is returned when a frame is used after its tick ended.
	ErrStaleFrame = errors.New("frame is no longer current")
)

// InitError is a failure to construct the scheduler or one of its targets.
// It is fatal to the caller.
type InitError struct {
	Op  string
	Err error
}

func (e *InitError) Error() string {
	return "initialise " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *InitError) Unwrap() error {
	return e.Err
}

// Cause implements the causer interface of github.com/pkg/errors.
func (e *InitError) Cause() error {
	return e.Err
}
