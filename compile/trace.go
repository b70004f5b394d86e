package compile

import (
	"sort"
	"strconv"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/codegen"
	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/graph"
	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/tensors"
)

// KernelFn is the user function the cache traces and compiles: a pure function from
// containers of graph nodes to a container of graph nodes. It is invoked exactly once
// per distinct argument descriptor, with placeholder leaves, and never on a cache hit.
type KernelFn func(g *graph.Graph, args []*containers.Container, kwargs map[string]*containers.Container) *containers.Container

// traced is the result of one tracing pass.
type traced struct {
	graph    *graph.Graph
	outputs  []codegen.NamedOutput // named nodes, sorted by name
	nodes    []*graph.Node         // aligned with outputs
	template *containers.Container // output structure with int positions
}

func prefixedPath(prefix, rel string) string {
	if rel == "" {
		return prefix
	}
	return prefix + "_" + rel
}

// trace substitutes a named placeholder for every argument leaf and invokes fn once.
// Panics from graph building (shape mismatches and the like) are converted to errors.
func trace(kernelName string, fn KernelFn, ex *extracted) (result *traced, err error) {
	g := graph.New(kernelName)

	substitute := func(prefix string, c *containers.Container) (*containers.Container, error) {
		return c.MapLeaves(func(rel string, leaf any) (any, error) {
			name := inputPrefix + prefixedPath(prefix, rel)
			t, ok := leaf.(*tensors.Tensor)
			if !ok {
				// extractArguments normalized all leaves already.
				return nil, errors.Errorf("internal: non-tensor leaf %T at %q after normalization", leaf, name)
			}
			return g.Parameter(name, t.Shape()), nil
		})
	}

	var symbolicOut *containers.Container
	err = exceptions.TryCatch[error](func() {
		phArgs := make([]*containers.Container, len(ex.args))
		for ii, arg := range ex.args {
			var substErr error
			phArgs[ii], substErr = substitute(strconv.Itoa(ii), arg)
			if substErr != nil {
				panic(substErr)
			}
		}
		// Sorted, so placeholder creation order (and with it node ids and emitted
		// value names) is deterministic.
		kwNames := make([]string, 0, len(ex.kwargs))
		for name := range ex.kwargs {
			kwNames = append(kwNames, name)
		}
		sort.Strings(kwNames)
		phKwargs := make(map[string]*containers.Container, len(ex.kwargs))
		for _, name := range kwNames {
			ph, substErr := substitute(containers.StringifyKey(name), ex.kwargs[name])
			if substErr != nil {
				panic(substErr)
			}
			phKwargs[name] = ph
		}
		symbolicOut = fn(g, phArgs, phKwargs)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "tracing kernel %q", kernelName)
	}
	if symbolicOut == nil {
		return nil, &UnsupportedOutputKindError{Kernel: kernelName, Path: "", Value: nil}
	}

	result = &traced{graph: g, template: symbolicOut.Template()}
	for _, leaf := range symbolicOut.FlattenLeaves() {
		node, ok := leaf.Value.(*graph.Node)
		if !ok {
			return nil, &UnsupportedOutputKindError{Kernel: kernelName, Path: leaf.Path, Value: leaf.Value}
		}
		if node.Graph() != g {
			return nil, errors.Errorf("tracing kernel %q: output %q belongs to a different graph", kernelName, leaf.Path)
		}
		result.outputs = append(result.outputs, codegen.NamedOutput{Name: outputPrefix + leaf.Path, Node: node})
		result.nodes = append(result.nodes, node)
	}
	return result, nil
}

// evalReference evaluates the traced nodes eagerly against the call's concrete tensors,
// producing the reference output the emitted kernel is validated against. The evaluation
// is independent of emission, parsing and backend compilation: it walks the graph nodes
// directly using the IR ops' reference semantics.
func evalReference(tr *traced, bindings map[string]*tensors.Tensor) (*containers.Container, error) {
	memo := make(map[graph.NodeId]*tensors.Tensor, tr.graph.NumNodes())

	var eval func(n *graph.Node) (*tensors.Tensor, error)
	eval = func(n *graph.Node) (*tensors.Tensor, error) {
		if t, found := memo[n.Id()]; found {
			return t, nil
		}
		var t *tensors.Tensor
		var err error
		switch n.Op() {
		case ir.OpParameter:
			t = bindings[n.ParameterName()]
			if t == nil {
				return nil, errors.Errorf("no binding for placeholder %q", n.ParameterName())
			}
		case ir.OpConstData:
			t = n.DataTensor()
		case ir.OpLiteral:
			t, err = ir.LiteralTensor(ir.Lit{Name: "lit", DType: n.DType(), Value: n.Literal()})
			if err != nil {
				return nil, err
			}
		default:
			args := make([]*tensors.Tensor, len(n.Inputs()))
			for ii, input := range n.Inputs() {
				args[ii], err = eval(input)
				if err != nil {
					return nil, err
				}
			}
			t, err = ir.EvalOp(n.Op(), n.Shape(), args)
			if err != nil {
				return nil, err
			}
		}
		memo[n.Id()] = t
		return t, nil
	}

	flat := make([]any, len(tr.nodes))
	for ii, node := range tr.nodes {
		t, err := eval(node)
		if err != nil {
			return nil, errors.WithMessagef(err, "evaluating reference output for kernel %q", tr.graph.Name())
		}
		flat[ii] = t
	}
	return containers.Reconstruct(tr.template, flat)
}
