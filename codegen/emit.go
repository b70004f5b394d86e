// Package codegen lowers traced computation graphs into standalone ir.Programs plus
// their auxiliary data archives.
//
// Lowering walks the graph from the named output nodes, schedules instructions in a
// valid topological order (node creation order, which the graph package guarantees is
// one), then runs two cleanup passes before formatting:
//
//   - unused-declaration removal: data tensors and literals never referenced by a
//     surviving instruction are not declared and not stored in the archive;
//   - unused-assignment removal: instructions whose results no output transitively
//     depends on are dropped.
//
// Emission of the same graph is deterministic: value names are assigned in node-id
// order, outputs are emitted in the (sorted) order given, and ir formatting is
// canonical, so re-emitting byte-identical source for equal traces is guaranteed.
package codegen

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/graph"
	"github.com/dgbench/dgbench/ir"
)

// CyclicGraphError reports a traced graph with no valid topological order. It indicates
// a bug in the tracer or hand-built nodes, and is fatal for the descriptor being
// compiled.
type CyclicGraphError struct {
	Kernel string
	Node   string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("codegen: kernel %q: node %s depends on a node created after it, graph has no valid topological order", e.Kernel, e.Node)
}

// NamedOutput binds one flattened output name to the graph node computing it.
type NamedOutput struct {
	Name string
	Node *graph.Node
}

// Emit lowers the graph reachable from the named outputs into a Program and the Archive
// of data tensors it references. Output order is preserved as given; callers pass names
// sorted by output path.
func Emit(kernelName string, outputs []NamedOutput) (*ir.Program, *ir.Archive, error) {
	if len(outputs) == 0 {
		return nil, nil, errors.Errorf("codegen: kernel %q has no outputs", kernelName)
	}
	g := outputs[0].Node.Graph()
	for _, out := range outputs {
		if out.Node.Graph() != g {
			return nil, nil, errors.Errorf("codegen: kernel %q: output %q belongs to a different graph", kernelName, out.Name)
		}
	}

	// Pass over all nodes: verify the topological invariant (inputs created before
	// their consumers). A violation means the "DAG" has a cycle.
	numNodes := g.NumNodes()
	for id := 0; id < numNodes; id++ {
		node := g.NodeById(graph.NodeId(id))
		for _, input := range node.Inputs() {
			if input.Id() >= node.Id() {
				return nil, nil, &CyclicGraphError{Kernel: kernelName, Node: node.String()}
			}
		}
	}

	// Mark nodes the outputs transitively depend on. Everything unmarked is dead and
	// removed: instructions by the unused-assignment pass, data/literal declarations by
	// the unused-declaration pass.
	live := make([]bool, numNodes)
	var mark func(n *graph.Node)
	mark = func(n *graph.Node) {
		if live[n.Id()] {
			return
		}
		live[n.Id()] = true
		for _, input := range n.Inputs() {
			mark(input)
		}
	}
	for _, out := range outputs {
		mark(out.Node)
	}

	// Assign deterministic value names in node-id order. Parameters keep their
	// placeholder names (they are the call signature and are declared even if unused);
	// data keeps its archive entry name; literals and instruction results are numbered.
	names := make([]string, numNodes)
	taken := make(map[string]graph.NodeId, numNodes)
	claim := func(node *graph.Node, name string) error {
		if prev, found := taken[name]; found {
			return errors.Errorf("codegen: kernel %q: name %q used by both node #%d and node #%d",
				kernelName, name, prev, node.Id())
		}
		taken[name] = node.Id()
		names[node.Id()] = name
		return nil
	}

	p := &ir.Program{Name: kernelName}
	archive := ir.NewArchive()
	numLits, numVals := 0, 0
	for id := 0; id < numNodes; id++ {
		node := g.NodeById(graph.NodeId(id))
		switch node.Op() {
		case ir.OpParameter:
			if err := claim(node, node.ParameterName()); err != nil {
				return nil, nil, err
			}
			p.Inputs = append(p.Inputs, ir.Decl{Name: node.ParameterName(), Shape: node.Shape()})
		case ir.OpConstData:
			if !live[id] {
				continue
			}
			if err := claim(node, node.DataName()); err != nil {
				return nil, nil, err
			}
			p.Data = append(p.Data, ir.Decl{Name: node.DataName(), Shape: node.Shape()})
			archive.Entries[node.DataName()] = node.DataTensor()
		case ir.OpLiteral:
			if !live[id] {
				continue
			}
			name := fmt.Sprintf("c%d", numLits)
			numLits++
			if err := claim(node, name); err != nil {
				return nil, nil, err
			}
			p.Lits = append(p.Lits, ir.Lit{Name: name, DType: node.DType(), Value: node.Literal()})
		default:
			if !live[id] {
				continue
			}
			name := fmt.Sprintf("v%d", numVals)
			numVals++
			if err := claim(node, name); err != nil {
				return nil, nil, err
			}
			args := make([]string, len(node.Inputs()))
			for ii, input := range node.Inputs() {
				args[ii] = names[input.Id()]
			}
			p.Instrs = append(p.Instrs, ir.Instruction{Out: name, Op: node.Op(), Args: args})
		}
	}

	outputNames := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if outputNames[out.Name] {
			return nil, nil, errors.Errorf("codegen: kernel %q: duplicate output name %q", kernelName, out.Name)
		}
		outputNames[out.Name] = true
		p.Outputs = append(p.Outputs, ir.Output{Name: out.Name, Ref: names[out.Node.Id()]})
	}
	return p, archive, nil
}

// EmitSource lowers the graph like Emit and returns the formatted kernel source, with
// the archive's SourceHash filled in so loaders can detect a source/data mismatch.
func EmitSource(kernelName string, outputs []NamedOutput) (source string, archive *ir.Archive, err error) {
	// Sort a copy by name, so callers can pass outputs in any order.
	sorted := make([]NamedOutput, len(outputs))
	copy(sorted, outputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	p, archive, err := Emit(kernelName, sorted)
	if err != nil {
		return "", nil, err
	}
	source = p.Format()
	archive.SourceHash = ir.SourceHashOf(source)
	return source, archive, nil
}
