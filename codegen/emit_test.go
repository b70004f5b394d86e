package codegen

import (
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/dgbench/dgbench/graph"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

// buildSample traces a small kernel with one live data matrix, one live literal, plus a
// dead instruction and a dead data declaration that the cleanup passes must drop.
func buildSample() []NamedOutput {
	g := graph.New("sample")
	u := g.Parameter("in_u", shapes.Make(dtypes.Float64, 2, 4))
	unused := g.Parameter("in_unused", shapes.Make(dtypes.Float64, 2, 4))

	diff := g.ConstantData("diff_x", tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2))
	deadData := g.ConstantData("dead_matrix", tensors.FromFlatDataAndDimensions([]float64{9, 9, 9, 9}, 2, 2))

	live := graph.MulScalar(graph.MatMul(diff, u), -1.5)
	graph.MatMul(deadData, unused) // dead: no output depends on it

	return []NamedOutput{{Name: "out_u", Node: live}}
}

func TestEmit(t *testing.T) {
	p, archive, err := Emit("sample", buildSample())
	require.NoError(t, err)

	// Parameters are the call signature: both declared, even the unused one.
	require.Len(t, p.Inputs, 2)
	require.Equal(t, "in_u", p.Inputs[0].Name)
	require.Equal(t, "in_unused", p.Inputs[1].Name)

	// The dead matmul and the dead data declaration are gone.
	require.Len(t, p.Data, 1)
	require.Equal(t, "diff_x", p.Data[0].Name)
	require.Equal(t, []string{"diff_x"}, archive.Names())
	require.Len(t, p.Instrs, 2)

	// The program type-checks and the output resolves.
	_, err = p.InferShapes()
	require.NoError(t, err)
	require.Equal(t, "out_u", p.Outputs[0].Name)
}

func TestEmitSourceDeterministic(t *testing.T) {
	source1, archive1, err := EmitSource("sample", buildSample())
	require.NoError(t, err)
	source2, archive2, err := EmitSource("sample", buildSample())
	require.NoError(t, err)

	// Re-emitting an equal trace is byte-identical, and the archive records the hash.
	require.Equal(t, source1, source2)
	require.Equal(t, ir.SourceHashOf(source1), archive1.SourceHash)
	require.Equal(t, archive1.SourceHash, archive2.SourceHash)
}

func TestEmitSourceSortsOutputs(t *testing.T) {
	g := graph.New("multi")
	x := g.Parameter("in_x", shapes.Make(dtypes.Float64, 3))
	a := graph.Neg(x)
	b := graph.Abs(x)

	source1, _, err := EmitSource("multi", []NamedOutput{{Name: "out_b", Node: b}, {Name: "out_a", Node: a}})
	require.NoError(t, err)
	source2, _, err := EmitSource("multi", []NamedOutput{{Name: "out_a", Node: a}, {Name: "out_b", Node: b}})
	require.NoError(t, err)
	require.Equal(t, source1, source2)

	idxA := strings.Index(source1, "output out_a")
	idxB := strings.Index(source1, "output out_b")
	require.Greater(t, idxA, 0)
	require.Greater(t, idxB, idxA)
}

func TestEmitErrors(t *testing.T) {
	_, _, err := Emit("empty", nil)
	require.Error(t, err)

	g1 := graph.New("a")
	g2 := graph.New("b")
	n1 := g1.Parameter("in_x", shapes.Scalar(dtypes.Float64))
	n2 := g2.Parameter("in_y", shapes.Scalar(dtypes.Float64))
	_, _, err = Emit("mixed", []NamedOutput{{Name: "out_x", Node: n1}, {Name: "out_y", Node: n2}})
	require.ErrorContains(t, err, "different graph")

	_, _, err = Emit("dup", []NamedOutput{{Name: "out_x", Node: n1}, {Name: "out_x", Node: n1}})
	require.ErrorContains(t, err, "duplicate output name")
}

func TestEmitNameCollision(t *testing.T) {
	// A parameter named like an emitted value name collides with the numbered
	// instruction results.
	g := graph.New("collide")
	v0 := g.Parameter("v0", shapes.Make(dtypes.Float64, 2))
	sum := graph.Add(v0, v0)
	_, _, err := Emit("collide", []NamedOutput{{Name: "out_s", Node: sum}})
	require.Error(t, err)
	require.ErrorContains(t, err, `"v0"`)
}
