// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"path"
	"sort"
	"strings"

	"github.com/gobuffalo/packd"
	"github.com/pkg/errors"
)

const shaderSuffix = ".spv"

// ShaderStage is the pipeline stage a function runs in.
type ShaderStage int

// Identifies shader functions with their stages
const (
	VertexStage ShaderStage = iota
	FragmentStage
	ComputeStage
)

func (s ShaderStage) String() string {
	switch s {
	case VertexStage:
		return "vertex"
	case FragmentStage:
		return "fragment"
	case ComputeStage:
		return "compute"
	}
	return "unknown"
}

// ShaderSource is anything that can list and read compiled shaders,
// a packr.Box or a packd.MemoryBox for instance.
type ShaderSource interface {
	packd.Lister
	packd.Finder
}

// Function is a single compiled shader entry point.
type Function struct {
	Name  string
	Stage ShaderStage
	Code  []byte
}

// ShaderLibrary holds compiled shader functions by name.
type ShaderLibrary struct {
	functions map[string]*Function
}

// NewShaderLibrary loads every compiled shader from src. It is important
// that the file name does not contain more than two dots, the first part is
// always the name of the function, second is the stage, and the third one
// ensures the shader is compiled (only compiled shaders have an .spv extension).
// Files not following this scheme are skipped.
func NewShaderLibrary(src ShaderSource) (*ShaderLibrary, error) {
	if src == nil {
		return nil, ErrShaderLibraryMissing
	}

	lib := &ShaderLibrary{functions: map[string]*Function{}}
	for _, file := range src.List() {
		base := path.Base(file)
		if !strings.HasSuffix(base, shaderSuffix) {
			continue
		}
		nodes := strings.Split(strings.TrimSuffix(base, shaderSuffix), ".")
		if len(nodes) != 2 {
			continue
		}

		var stage ShaderStage
		switch nodes[1] {
		case "vert":
			stage = VertexStage
		case "frag":
			stage = FragmentStage
		case "comp":
			stage = ComputeStage
		default:
			continue
		}

		code, err := src.Find(file)
		if err != nil {
			return nil, errors.Wrapf(err, "reading shader %s", file)
		}
		if len(code) == 0 || len(code)%4 != 0 {
			return nil, errors.Errorf("shader %s: code size %d is not a multiple of 4", file, len(code))
		}
		lib.functions[nodes[0]] = &Function{
			Name:  nodes[0],
			Stage: stage,
			Code:  code,
		}
	}

	if len(lib.functions) == 0 {
		return nil, ErrShaderLibraryMissing
	}
	return lib, nil
}

// Function looks up a function by name.
func (l *ShaderLibrary) Function(name string) (*Function, error) {
	if l == nil {
		return nil, ErrShaderLibraryMissing
	}
	fn, ok := l.functions[name]
	if !ok {
		return nil, errors.Errorf("shader function %q not found in library", name)
	}
	return fn, nil
}

// Names returns the sorted function names.
func (l *ShaderLibrary) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, 0, len(l.functions))
	for name := range l.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of functions in the library.
func (l *ShaderLibrary) Len() int {
	if l == nil {
		return 0
	}
	return len(l.functions)
}
