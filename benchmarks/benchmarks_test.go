package benchmarks

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/dgbench/dgbench/backends/simplego"
	"github.com/dgbench/dgbench/compile"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

func TestSimplexDofs(t *testing.T) {
	// binomial(degree+dim, dim): the P_k space dimension on a simplex.
	require.Equal(t, 2, simplexDofs(1, 1))
	require.Equal(t, 4, simplexDofs(1, 3))
	require.Equal(t, 3, simplexDofs(2, 1))
	require.Equal(t, 6, simplexDofs(2, 2))
	require.Equal(t, 4, simplexDofs(3, 1))
	require.Equal(t, 20, simplexDofs(3, 3))
}

func TestCaseNames(t *testing.T) {
	c := Case{Equation: "euler", Dim: 3, Degree: 2}
	require.Equal(t, "3D-euler P2", c.String())
	require.Equal(t, "euler_3d_p2", c.Key())
}

func TestBuildRejectsBadCases(t *testing.T) {
	_, err := Build(Case{Equation: "navier-stokes", Dim: 2, Degree: 1})
	require.ErrorContains(t, err, "unknown benchmark equation")
	_, err = Build(Case{Equation: "wave", Dim: 4, Degree: 1})
	require.ErrorContains(t, err, "dim")
	_, err = Build(Case{Equation: "wave", Dim: 2, Degree: 0})
	require.ErrorContains(t, err, "degree")
}

func TestBuildIsDeterministic(t *testing.T) {
	c := Case{Equation: "wave", Dim: 2, Degree: 1}
	k1 := must.M1(Build(c))
	k2 := must.M1(Build(c))

	leaves1 := k1.Args[0].FlattenLeaves()
	leaves2 := k2.Args[0].FlattenLeaves()
	require.Equal(t, len(leaves1), len(leaves2))
	for ii := range leaves1 {
		require.Equal(t, leaves1[ii].Path, leaves2[ii].Path)
		t1 := leaves1[ii].Value.(*tensors.Tensor)
		t2 := leaves2[ii].Value.(*tensors.Tensor)
		require.Equal(t, t1.Float64Values(), t2.Float64Values())
	}
}

func casePaths(t *testing.T, c Case) compile.ArtifactPaths {
	dir := t.TempDir()
	return compile.ArtifactPaths{
		Source:    filepath.Join(dir, "kernel.dgk"),
		Data:      filepath.Join(dir, "data.gob"),
		RefInputs: filepath.Join(dir, "ref_inputs.gob"),
		RefOutput: filepath.Join(dir, "ref_output.gob"),
		Template:  filepath.Join(dir, "template.gob"),
	}
}

// TestSuitesCompileAndRun pushes every suite at degree 1 through the full compilation
// cache on the interpreter backend: trace, emit, persist, validate, execute.
func TestSuitesCompileAndRun(t *testing.T) {
	for _, equation := range []string{"wave", "euler", "maxwell"} {
		for dim := 1; dim <= 3; dim++ {
			c := Case{Equation: equation, Dim: dim, Degree: 1}
			t.Run(c.Key(), func(t *testing.T) {
				kernel, err := Build(c)
				require.NoError(t, err)

				cache, err := compile.NewCache(simplego.New(""), c.Key()+"_rhs", kernel.Fn, casePaths(t, c))
				require.NoError(t, err)
				defer cache.Finalize()

				out, err := cache.Call(kernel.Args, kernel.Kwargs)
				require.NoError(t, err)
				// The RHS has the same structure as the state.
				require.True(t, kernel.Args[0].StructurallyEqual(out))
				require.Equal(t, 1, cache.NumCompiled())

				// Second call hits the cache.
				_, err = cache.Call(kernel.Args, kernel.Kwargs)
				require.NoError(t, err)
				require.Equal(t, 1, cache.NumCompiled())
			})
		}
	}
}

func TestMeasure(t *testing.T) {
	calls := 0
	m, err := Measure(func() error { calls++; return nil })
	require.NoError(t, err)
	require.Equal(t, warmupMaxIters, m.WarmupIters)
	// The timing loop runs whole batches until the iteration cap is crossed.
	require.Equal(t, 120, m.Iters)
	require.Equal(t, m.WarmupIters+m.Iters, calls)
	require.Greater(t, m.Rate(1000), 0.0)
}

func TestMeasurePropagatesErrors(t *testing.T) {
	boom := fmt.Errorf("backend exploded")
	_, err := Measure(func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestMeasurementRate(t *testing.T) {
	var zero Measurement
	require.True(t, zero.Rate(100) != zero.Rate(100), "rate of an empty measurement is NaN")
}

func TestAnalyze(t *testing.T) {
	p := &ir.Program{
		Name:   "k",
		Inputs: []ir.Decl{{Name: "in_u", Shape: shapes.Make(dtypes.Float64, 4, 8)}},
		Data:   []ir.Decl{{Name: "diff_x", Shape: shapes.Make(dtypes.Float64, 4, 4)}},
		Lits:   []ir.Lit{{Name: "c0", DType: dtypes.Float64, Value: 2}},
		Instrs: []ir.Instruction{
			{Out: "v0", Op: ir.OpMatMul, Args: []string{"diff_x", "in_u"}},
			{Out: "v1", Op: ir.OpMul, Args: []string{"v0", "c0"}},
		},
		Outputs: []ir.Output{{Name: "out_u", Ref: "v1"}},
	}
	counts, err := Analyze(p)
	require.NoError(t, err)
	// matmul: 2*4*4*8 = 256, elementwise mul: 32.
	require.Equal(t, int64(256+32), counts.Flops)
	// input 4x8 + data 4x4 + output 4x8, all float64.
	require.Equal(t, int64((32+16+32)*8), counts.Bytes)

	p.Instrs[0].Args[1] = "undefined"
	_, err = Analyze(p)
	require.Error(t, err)
}

func TestRooflineRate(t *testing.T) {
	mach := Machine{PeakFlops: 100, Bandwidth: 10}

	// Memory bound: intensity 2 -> 20 FLOP/s.
	require.Equal(t, 20.0, mach.RooflineRate(Counts{Flops: 200, Bytes: 100}))
	// Compute bound: intensity 1000 -> capped at peak.
	require.Equal(t, 100.0, mach.RooflineRate(Counts{Flops: 100000, Bytes: 100}))
	// Degenerate estimates have no bound.
	nan := mach.RooflineRate(Counts{})
	require.True(t, nan != nan)
}

func TestRunArchiveRoundTrip(t *testing.T) {
	mach := DefaultMachine
	run := NewRun([]string{"wave"}, []int{2}, []int{1, 2}, []string{"go"}, mach)
	require.NotEmpty(t, run.ID)

	c := Case{Equation: "wave", Dim: 2, Degree: 1}
	run.Results = append(run.Results, Result{
		Case: c, Backend: "go", FlopRate: 1.5e9, Counts: Counts{Flops: 100, Bytes: 50},
	})
	run.Rooflines[c] = 2e9

	dir := t.TempDir()
	path, err := run.Save(dir)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))
	require.Regexp(t, `^case_\d{4}_\d{2}_\d{2}_\d{4}\.gob$`, filepath.Base(path))

	loaded, err := LoadRun(path)
	require.NoError(t, err)
	require.Equal(t, run.ID, loaded.ID)
	require.Equal(t, run.Equations, loaded.Equations)
	require.Len(t, loaded.Results, 1)
	require.Equal(t, 1.5e9, loaded.Results[0].FlopRate)
	require.Equal(t, 2e9, loaded.Rooflines[c])
}
