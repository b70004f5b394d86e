package compile

import (
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/backends"
	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/tensors"
)

// Validation tolerances: the emitted kernel's output must match the reference within
// |got-want| <= atol or relative error <= rtol per element (assert_allclose semantics).
const (
	validationRtol = 1e-7
	validationAtol = 1e-8
)

// loadExecutable reads the persisted kernel source and data archive back from disk,
// parses the source, cross-checks the archive's recorded source hash, and compiles the
// program on the given backend. Loading from the files (rather than reusing in-memory
// state) is deliberate: it proves the persisted unit is self-contained.
func loadExecutable(backend backends.Backend, paths ArtifactPaths) (backends.Executable, error) {
	source, err := readSource(paths.Source)
	if err != nil {
		return nil, err
	}
	program, err := ir.Parse(source)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing kernel source %q", paths.Source)
	}
	archive, err := ir.LoadArchive(paths.Data)
	if err != nil {
		return nil, err
	}
	if got := ir.SourceHashOf(source); got != archive.SourceHash {
		return nil, errors.Errorf(
			"data archive %q was emitted for a different kernel source (hash %016x, source file has %016x); "+
				"delete the artifacts to force recompilation", paths.Data, archive.SourceHash, got)
	}
	exec, err := backend.Compile(program, archive)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling kernel %q on backend %q", program.Name, backend.Name())
	}
	return exec, nil
}

// runAndReassemble executes a compiled kernel against the given leaf bindings and
// reassembles the flat results into the output container via the template.
func runAndReassemble(exec backends.Executable, bindings map[string]*tensors.Tensor, template *containers.Container) (*containers.Container, error) {
	names, _ := exec.Inputs()
	inputs := make([]*tensors.Tensor, len(names))
	for ii, name := range names {
		t, found := bindings[name]
		if !found {
			return nil, errors.Errorf("no binding for kernel input %q", name)
		}
		inputs[ii] = t
	}
	outputs, err := exec.Execute(inputs)
	if err != nil {
		return nil, err
	}
	flat := make([]any, len(outputs))
	for ii, t := range outputs {
		flat[ii] = t
	}
	return containers.Reconstruct(template, flat)
}

// validateUnit executes the loaded kernel once against the reference bindings and
// asserts element-wise closeness to the reference output. A divergence is a
// CodegenValidationError: the unit must not be cached.
func validateUnit(kernelName string, exec backends.Executable, bindings map[string]*tensors.Tensor,
	template, refOutput *containers.Container) (*containers.Container, error) {
	output, err := runAndReassemble(exec, bindings, template)
	if err != nil {
		return nil, errors.WithMessagef(err, "executing kernel %q for validation", kernelName)
	}
	gotLeaves := output.FlattenLeaves()
	wantLeaves := refOutput.FlattenLeaves()
	if len(gotLeaves) != len(wantLeaves) {
		return nil, &CodegenValidationError{
			Kernel: kernelName,
			Detail: errors.Errorf("%d outputs, reference has %d", len(gotLeaves), len(wantLeaves)).Error(),
		}
	}
	for ii, want := range wantLeaves {
		got := gotLeaves[ii]
		if got.Path != want.Path {
			return nil, &CodegenValidationError{
				Kernel: kernelName, Output: got.Path,
				Detail: "output structure differs from the reference at " + want.Path,
			}
		}
		gotT, ok1 := got.Value.(*tensors.Tensor)
		wantT, ok2 := want.Value.(*tensors.Tensor)
		if !ok1 || !ok2 {
			return nil, &CodegenValidationError{
				Kernel: kernelName, Output: got.Path, Detail: "non-tensor leaf in validation",
			}
		}
		if !gotT.InDelta(wantT, validationRtol, validationAtol) {
			return nil, &CodegenValidationError{
				Kernel: kernelName, Output: got.Path,
				Detail: errors.Errorf("values differ beyond rtol=%g atol=%g (got %s, want %s)",
					validationRtol, validationAtol, gotT, wantT).Error(),
			}
		}
	}
	return output, nil
}
