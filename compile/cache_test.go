package compile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgbench/dgbench/backends"
	"github.com/dgbench/dgbench/backends/simplego"
	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/graph"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/tensors"
)

func tempPaths(t *testing.T) ArtifactPaths {
	dir := t.TempDir()
	return ArtifactPaths{
		Source:    filepath.Join(dir, "kernel.dgk"),
		Data:      filepath.Join(dir, "data.gob"),
		RefInputs: filepath.Join(dir, "ref_inputs.gob"),
		RefOutput: filepath.Join(dir, "ref_output.gob"),
		Template:  filepath.Join(dir, "template.gob"),
	}
}

// scenarioFn is the canonical test kernel: for a state {"u": ..., "v": ...} it returns
// {"a": u*2, "b": v+1}. The counter observes how often tracing actually runs.
func scenarioFn(counter *int) KernelFn {
	return func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		*counter++
		st := args[0]
		u := st.At("u").Leaf.(*graph.Node)
		v := st.At("v").Leaf.(*graph.Node)
		return containers.NewMap(map[string]*containers.Container{
			"a": containers.NewLeaf(graph.MulScalar(u, 2)),
			"b": containers.NewLeaf(graph.AddScalar(v, 1)),
		})
	}
}

func stateArgs(uVals, vVals []float64) []*containers.Container {
	return []*containers.Container{containers.NewMap(map[string]*containers.Container{
		"u": containers.NewLeaf(tensors.FromFlatDataAndDimensions(uVals, len(uVals))),
		"v": containers.NewLeaf(tensors.FromFlatDataAndDimensions(vVals, len(vVals))),
	})}
}

func leafValues(t *testing.T, c *containers.Container, key string) []float64 {
	item := c.At(key)
	require.NotNil(t, item, "result has no %q", key)
	tensor, ok := item.Leaf.(*tensors.Tensor)
	require.True(t, ok, "result leaf %q is %T", key, item.Leaf)
	return tensor.Float64Values()
}

func TestCallMissThenHit(t *testing.T) {
	counter := 0
	paths := tempPaths(t)
	cache, err := NewCache(simplego.New(""), "scenario", scenarioFn(&counter), paths)
	require.NoError(t, err)
	defer cache.Finalize()

	out, err := cache.Call(stateArgs([]float64{1, 2, 3}, []float64{10, 20, 30}), nil)
	require.NoError(t, err)
	require.Equal(t, 1, counter)
	require.Equal(t, []float64{2, 4, 6}, leafValues(t, out, "a"))
	require.Equal(t, []float64{11, 21, 31}, leafValues(t, out, "b"))
	require.Equal(t, 1, cache.NumCompiled())

	// All five artifacts persisted.
	for _, path := range []string{paths.Source, paths.Data, paths.RefInputs, paths.RefOutput, paths.Template} {
		_, err := os.Stat(path)
		require.NoError(t, err, "artifact %q missing", path)
	}

	// Same shapes, new values: no retracing, fresh results.
	out, err = cache.Call(stateArgs([]float64{-1, 0, 1}, []float64{0, 0, 0}), nil)
	require.NoError(t, err)
	require.Equal(t, 1, counter)
	require.Equal(t, []float64{-2, 0, 2}, leafValues(t, out, "a"))
	require.Equal(t, []float64{1, 1, 1}, leafValues(t, out, "b"))
	require.Equal(t, 1, cache.NumCompiled())
}

func TestDescriptorDiscrimination(t *testing.T) {
	counter := 0
	cache, err := NewCache(simplego.New(""), "scenario", scenarioFn(&counter), tempPaths(t))
	require.NoError(t, err)
	defer cache.Finalize()

	_, err = cache.Call(stateArgs([]float64{1, 2}, []float64{3, 4}), nil)
	require.NoError(t, err)
	require.Equal(t, 1, counter)

	// A new leaf shape is a new descriptor and recompiles.
	_, err = cache.Call(stateArgs([]float64{1, 2, 3}, []float64{4, 5, 6}), nil)
	require.NoError(t, err)
	require.Equal(t, 2, counter)
	require.Equal(t, 2, cache.NumCompiled())

	// Back to the first shape: still cached.
	_, err = cache.Call(stateArgs([]float64{9, 9}, []float64{9, 9}), nil)
	require.NoError(t, err)
	require.Equal(t, 2, counter)
}

func TestScalarKwargIsPlaceholder(t *testing.T) {
	// Scalars are value-independent descriptor leaves: changing the value of the "t"
	// kwarg must not retrace, and the new value must flow into the result.
	counter := 0
	fn := func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		counter++
		u := args[0].Leaf.(*graph.Node)
		tNode := kwargs["t"].Leaf.(*graph.Node)
		return containers.NewLeaf(graph.Mul(u, tNode))
	}
	cache, err := NewCache(simplego.New(""), "scaled", fn, tempPaths(t))
	require.NoError(t, err)
	defer cache.Finalize()

	arg := func(vals []float64) []*containers.Container {
		return []*containers.Container{containers.NewLeaf(tensors.FromFlatDataAndDimensions(vals, len(vals)))}
	}
	kw := func(v float64) map[string]*containers.Container {
		return map[string]*containers.Container{"t": containers.NewLeaf(v)}
	}

	out, err := cache.Call(arg([]float64{1, 2}), kw(3))
	require.NoError(t, err)
	require.Equal(t, []float64{3, 6}, out.Leaf.(*tensors.Tensor).Float64Values())

	out, err = cache.Call(arg([]float64{1, 2}), kw(5))
	require.NoError(t, err)
	require.Equal(t, 1, counter)
	require.Equal(t, []float64{5, 10}, out.Leaf.(*tensors.Tensor).Float64Values())
}

func TestNewCacheRejectsRelativePaths(t *testing.T) {
	counter := 0
	paths := tempPaths(t)
	paths.Template = "relative/template.gob"
	_, err := NewCache(simplego.New(""), "scenario", scenarioFn(&counter), paths)
	var invalidPath *InvalidPathError
	require.ErrorAs(t, err, &invalidPath)
	require.Equal(t, "relative/template.gob", invalidPath.Path)
	require.Equal(t, 0, counter, "no tracing may happen before path validation")

	_, err = NewCache(simplego.New(""), "scenario", nil, tempPaths(t))
	require.Error(t, err)
}

func TestUnsupportedArgumentKind(t *testing.T) {
	counter := 0
	cache, err := NewCache(simplego.New(""), "scenario", scenarioFn(&counter), tempPaths(t))
	require.NoError(t, err)

	args := []*containers.Container{containers.NewMap(map[string]*containers.Container{
		"u": containers.NewLeaf("not a tensor"),
		"v": containers.NewLeaf(tensors.FromScalar(1.0)),
	})}
	_, err = cache.Call(args, nil)
	var unsupported *UnsupportedArgumentKindError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "0_u", unsupported.Path)
	require.Equal(t, 0, counter)
}

func TestUnsupportedOutputKindIsTerminal(t *testing.T) {
	counter := 0
	fn := func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		counter++
		return containers.NewLeaf("not a node")
	}
	cache, err := NewCache(simplego.New(""), "broken", fn, tempPaths(t))
	require.NoError(t, err)

	args := []*containers.Container{containers.NewLeaf(tensors.FromScalar(1.0))}
	_, err = cache.Call(args, nil)
	var unsupported *UnsupportedOutputKindError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, 1, counter)

	// Failed is terminal: the same descriptor returns the stored error without
	// retracing.
	_, err2 := cache.Call(args, nil)
	require.ErrorAs(t, err2, &unsupported)
	require.Equal(t, 1, counter)
	require.Equal(t, 0, cache.NumCompiled())
}

// skewBackend wraps a real backend but perturbs the first output element, simulating a
// miscompiled kernel. Validation must catch it.
type skewBackend struct {
	backends.Backend
}

func (b skewBackend) Compile(p *ir.Program, data *ir.Archive) (backends.Executable, error) {
	exec, err := b.Backend.Compile(p, data)
	if err != nil {
		return nil, err
	}
	return skewExecutable{exec}, nil
}

type skewExecutable struct {
	backends.Executable
}

func (e skewExecutable) Execute(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	outputs, err := e.Executable.Execute(inputs)
	if err != nil {
		return nil, err
	}
	tensors.MutableFlatData[float64](outputs[0])[0] += 1
	return outputs, nil
}

func TestValidationGate(t *testing.T) {
	counter := 0
	cache, err := NewCache(skewBackend{simplego.New("")}, "scenario", scenarioFn(&counter), tempPaths(t))
	require.NoError(t, err)

	args := stateArgs([]float64{1, 2}, []float64{3, 4})
	_, err = cache.Call(args, nil)
	var validation *CodegenValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, 0, cache.NumCompiled())

	// The failure is terminal for this descriptor.
	_, err = cache.Call(args, nil)
	require.ErrorAs(t, err, &validation)
	require.Equal(t, 1, counter)
}

func TestOutputTemplateRoundTrip(t *testing.T) {
	fn := func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		u := args[0].Leaf.(*graph.Node)
		return containers.NewMap(map[string]*containers.Container{
			"pair":  containers.NewTuple(containers.NewLeaf(graph.Neg(u)), containers.NewLeaf(graph.Abs(u))),
			"plain": containers.NewLeaf(graph.MulScalar(u, 3)),
		})
	}
	cache, err := NewCache(simplego.New(""), "structured", fn, tempPaths(t))
	require.NoError(t, err)
	defer cache.Finalize()

	args := []*containers.Container{containers.NewLeaf(tensors.FromFlatDataAndDimensions([]float64{-1, 2}, 2))}
	out, err := cache.Call(args, nil)
	require.NoError(t, err)

	require.Equal(t, containers.KindMap, out.Kind)
	pair := out.At("pair")
	require.Equal(t, containers.KindTuple, pair.Kind)
	require.Equal(t, []float64{1, -2}, pair.Items[0].Leaf.(*tensors.Tensor).Float64Values())
	require.Equal(t, []float64{1, 2}, pair.Items[1].Leaf.(*tensors.Tensor).Float64Values())
	require.Equal(t, []float64{-3, 6}, leafValues(t, out, "plain"))
}

func TestReferenceInputsPersistedSeparately(t *testing.T) {
	counter := 0
	paths := tempPaths(t)
	cache, err := NewCache(simplego.New(""), "scenario", scenarioFn(&counter), paths)
	require.NoError(t, err)

	_, err = cache.Call(stateArgs([]float64{1, 2}, []float64{3, 4}), nil)
	require.NoError(t, err)

	var ref refInputs
	require.NoError(t, readGob(paths.RefInputs, &ref))
	require.Len(t, ref.Args, 1)
	require.Empty(t, ref.Kwargs)
	require.Equal(t, []float64{1, 2}, ref.Args[0].At("u").Leaf.(*tensors.Tensor).Float64Values())
	require.Equal(t, []float64{3, 4}, ref.Args[0].At("v").Leaf.(*tensors.Tensor).Float64Values())
}

func TestLoadExecutableFromArtifacts(t *testing.T) {
	// The persisted unit is self-contained: a fresh executable loaded purely from the
	// artifact files computes the same results.
	counter := 0
	paths := tempPaths(t)
	backend := simplego.New("")
	cache, err := NewCache(backend, "scenario", scenarioFn(&counter), paths)
	require.NoError(t, err)

	_, err = cache.Call(stateArgs([]float64{1, 2}, []float64{3, 4}), nil)
	require.NoError(t, err)

	exec, err := loadExecutable(backend, paths)
	require.NoError(t, err)
	names, _ := exec.Inputs()
	require.Equal(t, []string{"in_0_u", "in_0_v"}, names)

	outputs, err := exec.Execute([]*tensors.Tensor{
		tensors.FromFlatDataAndDimensions([]float64{5, 6}, 2),
		tensors.FromFlatDataAndDimensions([]float64{7, 8}, 2),
	})
	require.NoError(t, err)
	// Outputs sorted by name: out_a, out_b.
	require.Equal(t, []float64{10, 12}, outputs[0].Float64Values())
	require.Equal(t, []float64{8, 9}, outputs[1].Float64Values())
}

func TestLoadExecutableDetectsStaleData(t *testing.T) {
	counter := 0
	paths := tempPaths(t)
	backend := simplego.New("")
	cache, err := NewCache(backend, "scenario", scenarioFn(&counter), paths)
	require.NoError(t, err)

	_, err = cache.Call(stateArgs([]float64{1, 2}, []float64{3, 4}), nil)
	require.NoError(t, err)

	// Any edit to the source file, even a comment the parser ignores, breaks the hash
	// recorded in the data archive.
	f, err := os.OpenFile(paths.Source, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("# tampered\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = loadExecutable(backend, paths)
	require.ErrorContains(t, err, "different kernel source")
}
