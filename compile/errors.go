package compile

import (
	"fmt"

	"github.com/dgbench/dgbench/codegen"
)

// The error taxonomy of the compilation cache. Every failure aborts the current call and
// propagates to the caller unchanged; the cache never retries, falls back, or runs in a
// degraded mode. Use errors.As to test for a specific kind.

// UnsupportedArgumentKindError reports a call argument that is neither a scalar, a
// numeric container, nor a tensor. Fatal: the input contract is violated.
type UnsupportedArgumentKindError struct {
	Path  string
	Value any
}

func (e *UnsupportedArgumentKindError) Error() string {
	return fmt.Sprintf("unsupported argument kind %T at %q: arguments must be scalars, tensors or containers of them",
		e.Value, e.Path)
}

// UnsupportedOutputKindError reports a traced function result that is neither a graph
// node nor a container of graph nodes. Scalars and arbitrary objects are ruled out.
type UnsupportedOutputKindError struct {
	Kernel string
	Path   string
	Value  any
}

func (e *UnsupportedOutputKindError) Error() string {
	return fmt.Sprintf("kernel %q returned unsupported output kind %T at %q: results must be graph nodes or containers of them",
		e.Kernel, e.Value, e.Path)
}

// InvalidPathError reports a relative artifact path. Artifact paths are validated when
// the cache is constructed, before any tracing happens.
type InvalidPathError struct {
	Role string
	Path string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("artifact path for %s must be absolute, got %q", e.Role, e.Path)
}

// CyclicGraphError is returned when a traced graph cannot be scheduled. See codegen.
type CyclicGraphError = codegen.CyclicGraphError

// CodegenValidationError reports that the emitted kernel's output diverged numerically
// from the reference output captured at trace time. The unit is rejected and never
// admitted to the cache: correctness over availability.
type CodegenValidationError struct {
	Kernel string
	Output string
	Detail string
}

func (e *CodegenValidationError) Error() string {
	return fmt.Sprintf("kernel %q failed codegen validation: output %q diverges from the reference (%s)",
		e.Kernel, e.Output, e.Detail)
}
