// Package simplego implements a simple, and relatively fast, pure Go backend for
// dgbench kernel programs.
//
// It interprets ir.Programs directly: values are host tensors, instructions are executed
// in program order (which is a valid topological order by construction). Float64 matrix
// products are delegated to gonum; float16 arithmetic is computed in float32 via
// github.com/x448/float16 conversions.
package simplego

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/dgbench/dgbench/backends"
	"github.com/dgbench/dgbench/ir"
)

// BackendName to use in DGBENCH_BACKEND or backends.NewWithConfig to select simplego.
const BackendName = "go"

func init() {
	backends.Register(BackendName, New)
}

// Backend implements backends.Backend.
type Backend struct {
	finalized bool
}

// Compile-time check.
var _ backends.Backend = (*Backend)(nil)

// New creates a simplego backend. The config string is accepted for interface
// compatibility and must be empty.
func New(config string) backends.Backend {
	if config != "" {
		klog.Warningf("simplego backend takes no configuration, ignoring %q", config)
	}
	return &Backend{}
}

// Name implements backends.Backend.
func (b *Backend) Name() string { return BackendName }

// Description implements backends.Backend.
func (b *Backend) Description() string {
	return "simplego: a simple, and relatively fast, pure Go interpreter"
}

// Compile implements backends.Backend: it type-checks the program, resolves every name
// to a value slot and pre-binds the auxiliary data tensors.
func (b *Backend) Compile(program *ir.Program, data *ir.Archive) (backends.Executable, error) {
	if b.finalized {
		return nil, errors.New("simplego backend already finalized")
	}
	return newExecutable(b, program, data)
}

// Finalize implements backends.Backend.
func (b *Backend) Finalize() {
	b.finalized = true
}
