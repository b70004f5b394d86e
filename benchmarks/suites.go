// Package benchmarks provides the DG-FEM right-hand-side benchmark suites and the
// harness that times them through the compilation cache: kernel builders per
// (equation, dim, degree), a warmup+timing loop, a roofline estimate derived from the
// emitted program, and a gob archive of the measured rates.
package benchmarks

import (
	"fmt"
	"math/rand"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/compile"
	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/graph"
	"github.com/dgbench/dgbench/types/tensors"
)

// Case identifies one benchmark: an equation's semi-discrete right-hand side on a
// dim-dimensional simplicial mesh with polynomial degree Degree.
type Case struct {
	Equation string
	Dim      int
	Degree   int
}

// String renders the case the way reports name it, e.g. "3D-euler P2".
func (c Case) String() string {
	return fmt.Sprintf("%dD-%s P%d", c.Dim, c.Equation, c.Degree)
}

// Key returns a filesystem- and kernel-name-safe form, e.g. "euler_3d_p2".
func (c Case) Key() string {
	return fmt.Sprintf("%s_%dd_p%d", c.Equation, c.Dim, c.Degree)
}

// Kernel bundles a traceable RHS function with the concrete reference arguments it is
// benchmarked on. Fn computes the instantaneous rate of change of the state container;
// Args[0] is the state, Kwargs["t"] the (unused by the linear operators, but part of the
// RHS signature) simulation time.
type Kernel struct {
	Case   Case
	Fn     compile.KernelFn
	Args   []*containers.Container
	Kwargs map[string]*containers.Container
}

// numElements is the mesh size every suite runs on. Fields are stored as
// [dofs-per-element, elements] matrices so that applying a DG operator is one matmul
// over all elements.
const numElements = 4096

// simplexDofs returns the dimension of the degree-p polynomial space on a
// dim-dimensional simplex: binomial(degree+dim, dim).
func simplexDofs(dim, degree int) int {
	n := 1
	for i := 1; i <= dim; i++ {
		n = n * (degree + i) / i
	}
	return n
}

// Build constructs the benchmark kernel for a case. Supported equations are "wave",
// "euler" and "maxwell", dims 1 to 3, degrees >= 1.
func Build(c Case) (*Kernel, error) {
	if c.Dim < 1 || c.Dim > 3 {
		return nil, errors.Errorf("benchmark case %s: dim must be 1, 2 or 3", c)
	}
	if c.Degree < 1 {
		return nil, errors.Errorf("benchmark case %s: degree must be >= 1", c)
	}
	switch c.Equation {
	case "wave":
		return buildWave(c), nil
	case "euler":
		return buildEuler(c), nil
	case "maxwell":
		return buildMaxwell(c), nil
	default:
		return nil, errors.Errorf("unknown benchmark equation %q (have wave, euler, maxwell)", c.Equation)
	}
}

// operators holds the per-case DG operator matrices: one stiffness/differentiation
// matrix per spatial axis and the inverse mass matrix, all [dofs, dofs]. The entries
// are deterministic pseudo-random values seeded from the case key, standing in for the
// precomputed reference-element operators of a real discretization -- the arithmetic is
// identical, only the values differ.
type operators struct {
	diff    []*tensors.Tensor
	massInv *tensors.Tensor
}

func newOperators(c Case) *operators {
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(c.Key()))))
	nDofs := simplexDofs(c.Dim, c.Degree)
	ops := &operators{diff: make([]*tensors.Tensor, c.Dim)}
	for axis := range ops.diff {
		ops.diff[axis] = randomMatrix(rng, nDofs, nDofs)
	}
	ops.massInv = randomMatrix(rng, nDofs, nDofs)
	return ops
}

// bind registers the operator matrices as named auxiliary data on the graph and returns
// graph nodes for them. The names land in the emitted kernel's data archive.
func (ops *operators) bind(g *graph.Graph) (diff []*graph.Node, massInv *graph.Node) {
	diff = make([]*graph.Node, len(ops.diff))
	for axis, t := range ops.diff {
		diff[axis] = g.ConstantData(fmt.Sprintf("diff_%s", axisName(axis)), t)
	}
	massInv = g.ConstantData("mass_inv", ops.massInv)
	return
}

func axisName(axis int) string {
	return [...]string{"x", "y", "z"}[axis]
}

// randomMatrix returns a [rows, cols] float64 tensor with entries in [-1, 1) scaled by
// 1/cols, keeping repeated operator application numerically tame.
func randomMatrix(rng *rand.Rand, rows, cols int) *tensors.Tensor {
	flat := make([]float64, rows*cols)
	scale := 1.0 / float64(cols)
	for i := range flat {
		flat[i] = (2*rng.Float64() - 1) * scale
	}
	return tensors.FromFlatDataAndDimensions(flat, rows, cols)
}

// randomField returns a [dofs, elements] float64 tensor of per-element degrees of
// freedom with entries in [-1, 1).
func randomField(rng *rand.Rand, nDofs int) *tensors.Tensor {
	flat := make([]float64, nDofs*numElements)
	for i := range flat {
		flat[i] = 2*rng.Float64() - 1
	}
	return tensors.FromFlatDataAndDimensions(flat, nDofs, numElements)
}

// leafNode extracts the graph node from a traced container leaf. Suites call it inside
// kernel functions, where panics are caught at the compile boundary.
func leafNode(c *containers.Container) *graph.Node {
	if c == nil || !c.IsLeaf() {
		exceptions.Panicf("benchmark kernel: expected a leaf state component, got %v", c)
	}
	n, ok := c.Leaf.(*graph.Node)
	if !ok {
		exceptions.Panicf("benchmark kernel: expected a traced node leaf, got %T", c.Leaf)
	}
	return n
}

// vectorNodes extracts the component nodes of a tuple-valued state field.
func vectorNodes(c *containers.Container, want int) []*graph.Node {
	if c == nil || c.Kind != containers.KindTuple || len(c.Items) != want {
		exceptions.Panicf("benchmark kernel: expected a %d-component vector field, got %v", want, c)
	}
	nodes := make([]*graph.Node, want)
	for i, item := range c.Items {
		nodes[i] = leafNode(item)
	}
	return nodes
}

func nodeTuple(nodes []*graph.Node) *containers.Container {
	items := make([]*containers.Container, len(nodes))
	for i, n := range nodes {
		items[i] = containers.NewLeaf(n)
	}
	return containers.NewTuple(items...)
}

// timeKwarg is the scalar simulation-time argument every RHS takes. None of the suites'
// operators depend on it, but it is part of the RHS signature and so of the descriptor.
func timeKwarg() map[string]*containers.Container {
	return map[string]*containers.Container{
		"t": containers.NewLeaf(0.0),
	}
}

// buildWave builds the linear acoustic wave RHS:
//
//	du/dt = -c div(v),  dv/dt = -c grad(u)
//
// with u the scalar pressure field and v the dim-component velocity, each operator
// application a matmul with a differentiation matrix followed by the inverse mass
// matrix.
func buildWave(c Case) *Kernel {
	const waveSpeed = 1.5
	ops := newOperators(c)
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(c.Key() + "/state"))))
	nDofs := simplexDofs(c.Dim, c.Degree)

	vItems := make([]*containers.Container, c.Dim)
	for i := range vItems {
		vItems[i] = containers.NewLeaf(randomField(rng, nDofs))
	}
	state := containers.NewMap(map[string]*containers.Container{
		"u": containers.NewLeaf(randomField(rng, nDofs)),
		"v": containers.NewTuple(vItems...),
	})

	fn := func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		st := args[0]
		u := leafNode(st.At("u"))
		v := vectorNodes(st.At("v"), c.Dim)
		diff, massInv := ops.bind(g)

		divV := graph.MatMul(diff[0], v[0])
		for axis := 1; axis < c.Dim; axis++ {
			divV = graph.Add(divV, graph.MatMul(diff[axis], v[axis]))
		}
		dudt := graph.MatMul(massInv, graph.MulScalar(divV, -waveSpeed))

		dvdt := make([]*graph.Node, c.Dim)
		for axis := 0; axis < c.Dim; axis++ {
			dvdt[axis] = graph.MatMul(massInv, graph.MulScalar(graph.MatMul(diff[axis], u), -waveSpeed))
		}

		return containers.NewMap(map[string]*containers.Container{
			"u": containers.NewLeaf(dudt),
			"v": nodeTuple(dvdt),
		})
	}

	return &Kernel{
		Case:   c,
		Fn:     fn,
		Args:   []*containers.Container{state},
		Kwargs: timeKwarg(),
	}
}

// buildEuler builds the compressible Euler RHS on conserved variables (density, energy,
// momentum), with the ideal-gas pressure closure and a volume-flux-only divergence --
// the element-local arithmetic of the full DG operator without the surface terms.
func buildEuler(c Case) *Kernel {
	const gamma = 1.4
	ops := newOperators(c)
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(c.Key() + "/state"))))
	nDofs := simplexDofs(c.Dim, c.Degree)

	momItems := make([]*containers.Container, c.Dim)
	for i := range momItems {
		momItems[i] = containers.NewLeaf(randomField(rng, nDofs))
	}
	// Density and energy offset away from zero so the pressure closure stays regular.
	rho := randomField(rng, nDofs)
	shift := func(t *tensors.Tensor, offset float64) {
		flat := tensors.MutableFlatData[float64](t)
		for i := range flat {
			flat[i] = flat[i]*0.1 + offset
		}
	}
	energy := randomField(rng, nDofs)
	shift(rho, 1.0)
	shift(energy, 10.0)

	state := containers.NewMap(map[string]*containers.Container{
		"mass":     containers.NewLeaf(rho),
		"energy":   containers.NewLeaf(energy),
		"momentum": containers.NewTuple(momItems...),
	})

	fn := func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
		st := args[0]
		mass := leafNode(st.At("mass"))
		energy := leafNode(st.At("energy"))
		mom := vectorNodes(st.At("momentum"), c.Dim)
		diff, massInv := ops.bind(g)

		// p = (gamma-1) (E - |m|^2 / (2 rho))
		kinetic := graph.Mul(mom[0], mom[0])
		for axis := 1; axis < c.Dim; axis++ {
			kinetic = graph.Add(kinetic, graph.Mul(mom[axis], mom[axis]))
		}
		kinetic = graph.MulScalar(graph.Div(kinetic, mass), 0.5)
		pressure := graph.MulScalar(graph.Sub(energy, kinetic), gamma-1)

		dRho := graph.MatMul(diff[0], mom[0])
		for axis := 1; axis < c.Dim; axis++ {
			dRho = graph.Add(dRho, graph.MatMul(diff[axis], mom[axis]))
		}
		dRho = graph.MatMul(massInv, graph.Neg(dRho))

		enthalpyFlux := graph.Div(graph.Mul(graph.Add(energy, pressure), mom[0]), mass)
		dEnergy := graph.MatMul(diff[0], enthalpyFlux)
		for axis := 1; axis < c.Dim; axis++ {
			enthalpyFlux = graph.Div(graph.Mul(graph.Add(energy, pressure), mom[axis]), mass)
			dEnergy = graph.Add(dEnergy, graph.MatMul(diff[axis], enthalpyFlux))
		}
		dEnergy = graph.MatMul(massInv, graph.Neg(dEnergy))

		dMom := make([]*graph.Node, c.Dim)
		for axis := 0; axis < c.Dim; axis++ {
			flux := graph.Add(graph.Div(graph.Mul(mom[axis], mom[axis]), mass), pressure)
			dMom[axis] = graph.MatMul(massInv, graph.Neg(graph.MatMul(diff[axis], flux)))
		}

		return containers.NewMap(map[string]*containers.Container{
			"mass":     containers.NewLeaf(dRho),
			"energy":   containers.NewLeaf(dEnergy),
			"momentum": nodeTuple(dMom),
		})
	}

	return &Kernel{
		Case:   c,
		Fn:     fn,
		Args:   []*containers.Container{state},
		Kwargs: timeKwarg(),
	}
}

// buildMaxwell builds the Maxwell curl-curl RHS. The field layout depends on dim: the
// full E/H system in 3D, the TM-mode reduction (Ez, Hx, Hy) in 2D, and the 1D plane
// wave (E, H) transmission-line form.
func buildMaxwell(c Case) *Kernel {
	ops := newOperators(c)
	rng := rand.New(rand.NewSource(int64(xxhash.Sum64String(c.Key() + "/state"))))
	nDofs := simplexDofs(c.Dim, c.Degree)

	field := func() *containers.Container { return containers.NewLeaf(randomField(rng, nDofs)) }

	var state *containers.Container
	var fn compile.KernelFn
	switch c.Dim {
	case 1:
		state = containers.NewMap(map[string]*containers.Container{
			"e": field(), "h": field(),
		})
		fn = func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
			st := args[0]
			e := leafNode(st.At("e"))
			h := leafNode(st.At("h"))
			diff, massInv := ops.bind(g)
			dE := graph.MatMul(massInv, graph.Neg(graph.MatMul(diff[0], h)))
			dH := graph.MatMul(massInv, graph.Neg(graph.MatMul(diff[0], e)))
			return containers.NewMap(map[string]*containers.Container{
				"e": containers.NewLeaf(dE),
				"h": containers.NewLeaf(dH),
			})
		}

	case 2:
		state = containers.NewMap(map[string]*containers.Container{
			"ez": field(), "hx": field(), "hy": field(),
		})
		fn = func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
			st := args[0]
			ez := leafNode(st.At("ez"))
			hx := leafNode(st.At("hx"))
			hy := leafNode(st.At("hy"))
			diff, massInv := ops.bind(g)
			dEz := graph.MatMul(massInv, graph.Sub(graph.MatMul(diff[0], hy), graph.MatMul(diff[1], hx)))
			dHx := graph.MatMul(massInv, graph.Neg(graph.MatMul(diff[1], ez)))
			dHy := graph.MatMul(massInv, graph.MatMul(diff[0], ez))
			return containers.NewMap(map[string]*containers.Container{
				"ez": containers.NewLeaf(dEz),
				"hx": containers.NewLeaf(dHx),
				"hy": containers.NewLeaf(dHy),
			})
		}

	case 3:
		eItems := []*containers.Container{field(), field(), field()}
		hItems := []*containers.Container{field(), field(), field()}
		state = containers.NewMap(map[string]*containers.Container{
			"e": containers.NewTuple(eItems...),
			"h": containers.NewTuple(hItems...),
		})
		fn = func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container {
			st := args[0]
			e := vectorNodes(st.At("e"), 3)
			h := vectorNodes(st.At("h"), 3)
			diff, massInv := ops.bind(g)
			curl := func(f []*graph.Node, i int) *graph.Node {
				j, k := (i+1)%3, (i+2)%3
				return graph.Sub(graph.MatMul(diff[j], f[k]), graph.MatMul(diff[k], f[j]))
			}
			dE := make([]*graph.Node, 3)
			dH := make([]*graph.Node, 3)
			for i := 0; i < 3; i++ {
				dE[i] = graph.MatMul(massInv, curl(h, i))
				dH[i] = graph.MatMul(massInv, graph.Neg(curl(e, i)))
			}
			return containers.NewMap(map[string]*containers.Container{
				"e": nodeTuple(dE),
				"h": nodeTuple(dH),
			})
		}
	}

	return &Kernel{
		Case:   c,
		Fn:     fn,
		Args:   []*containers.Container{state},
		Kwargs: timeKwarg(),
	}
}
