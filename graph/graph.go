/*
 *	Copyright 2024 DGBench Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package graph builds symbolic computation graphs by tracing: kernel functions are
// called once with placeholder Nodes instead of concrete tensors, and the ops they apply
// (Add, Mul, MatMul, ...) record Nodes instead of computing values.
//
// No numeric work happens here. A traced graph is lowered by the codegen package into an
// ir.Program, which backends execute.
//
// ## Error handling
//
// Following the deferred-error convention used throughout dgbench's graph building, ops
// panic with exceptions on invalid shapes or mixed-graph operands. The panic carries a
// stack trace and is converted to a plain error at the compile boundary
// (exceptions.TryCatch), so kernel authors don't check errors on every op.
package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

// NodeId is a unique identifier of a Node within a Graph. Ids are assigned in creation
// order, so they are a natural topological order of the graph: every node's inputs have
// smaller ids.
type NodeId int32

// Graph holds the nodes created while tracing one kernel function.
type Graph struct {
	name  string
	nodes []*Node

	params       []*Node
	paramsByName map[string]*Node
	dataByName   map[string]*Node
}

// New creates an empty Graph with the given name. The name shows up in emitted kernel
// source and in logs.
func New(name string) *Graph {
	return &Graph{
		name:         name,
		paramsByName: make(map[string]*Node),
		dataByName:   make(map[string]*Node),
	}
}

// Name of the Graph.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of nodes created so far.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NodeById returns the node with the given id. It panics for out-of-range ids.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		exceptions.Panicf("graph %q has no node with id %d", g.name, id)
	}
	return g.nodes[id]
}

// Parameters returns the placeholder nodes, in creation order.
func (g *Graph) Parameters() []*Node { return g.params }

// Node represents the result of an op while tracing. It has a shape known at trace time
// and a deterministic derivation: either a named placeholder, a constant, or an op over
// other nodes of the same Graph.
type Node struct {
	graph *Graph
	id    NodeId
	op    ir.OpType
	shape shapes.Shape

	// inputNodes are the graph edges; empty for leaf ops.
	inputNodes []*Node

	// Leaf payloads, set according to op:
	paramName string          // OpParameter
	dataName  string          // OpConstData
	tensor    *tensors.Tensor // OpConstData
	literal   float64         // OpLiteral
}

// Graph that holds this Node.
func (n *Node) Graph() *Graph { return n.graph }

// Id of the Node within its Graph.
func (n *Node) Id() NodeId { return n.id }

// Op performed by this Node.
func (n *Node) Op() ir.OpType { return n.op }

// Shape of the Node's value.
func (n *Node) Shape() shapes.Shape { return n.shape }

// DType of the Node's value, shortcut to n.Shape().DType.
func (n *Node) DType() dtypes.DType { return n.shape.DType }

// Inputs returns the nodes this node directly depends on.
func (n *Node) Inputs() []*Node { return n.inputNodes }

// ParameterName returns the placeholder name for OpParameter nodes, "" otherwise.
func (n *Node) ParameterName() string { return n.paramName }

// DataName returns the archive entry name for OpConstData nodes, "" otherwise.
func (n *Node) DataName() string { return n.dataName }

// DataTensor returns the captured tensor for OpConstData nodes, nil otherwise.
func (n *Node) DataTensor() *tensors.Tensor { return n.tensor }

// Literal returns the scalar value for OpLiteral nodes.
func (n *Node) Literal() float64 { return n.literal }

// String implements fmt.Stringer.
func (n *Node) String() string {
	switch n.op {
	case ir.OpParameter:
		return fmt.Sprintf("#%d %s(%q)%s", n.id, n.op, n.paramName, n.shape)
	case ir.OpConstData:
		return fmt.Sprintf("#%d %s(%q)%s", n.id, n.op, n.dataName, n.shape)
	case ir.OpLiteral:
		return fmt.Sprintf("#%d %s(%v)%s", n.id, n.op, n.literal, n.shape)
	default:
		return fmt.Sprintf("#%d %s%s", n.id, n.op, n.shape)
	}
}

// newNode registers a node in the graph and assigns its id. All op constructors funnel
// through here, so node ids are always a valid topological order.
func (g *Graph) newNode(op ir.OpType, shape shapes.Shape, inputs ...*Node) *Node {
	n := &Node{
		graph:      g,
		id:         NodeId(len(g.nodes)),
		op:         op,
		shape:      shape,
		inputNodes: inputs,
	}
	g.nodes = append(g.nodes, n)
	return n
}

// Parameter creates a named placeholder node with the given shape: a symbolic stand-in
// for a concrete argument. Names must be unique within the Graph.
func (g *Graph) Parameter(name string, shape shapes.Shape) *Node {
	if !shape.Ok() || !shapes.Supported(shape.DType) {
		exceptions.Panicf("graph %q: Parameter(%q) with invalid or unsupported shape %s", g.name, name, shape)
	}
	if _, found := g.paramsByName[name]; found {
		exceptions.Panicf("graph %q: duplicate parameter name %q", g.name, name)
	}
	n := g.newNode(ir.OpParameter, shape.Clone())
	n.paramName = name
	g.params = append(g.params, n)
	g.paramsByName[name] = n
	return n
}

// ConstantData creates a node holding named auxiliary data (e.g. a precomputed DG
// operator matrix). The tensor is captured by reference and lands in the emitted kernel's
// data archive under the given name. Calling ConstantData again with the same name on the
// same graph returns the previously created node, as long as it's the same tensor.
func (g *Graph) ConstantData(name string, t *tensors.Tensor) *Node {
	if existing, found := g.dataByName[name]; found {
		if existing.tensor != t {
			exceptions.Panicf("graph %q: constant data %q registered twice with different tensors", g.name, name)
		}
		return existing
	}
	if !shapes.Supported(t.DType()) {
		exceptions.Panicf("graph %q: ConstantData(%q) with unsupported dtype %s", g.name, name, t.DType())
	}
	n := g.newNode(ir.OpConstData, t.Shape().Clone())
	n.dataName = name
	n.tensor = t
	g.dataByName[name] = n
	return n
}

// Scalar creates a node holding a scalar literal of the given dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	if !shapes.Supported(dtype) {
		exceptions.Panicf("graph %q: Scalar with unsupported dtype %s", g.name, dtype)
	}
	n := g.newNode(ir.OpLiteral, shapes.Scalar(dtype))
	n.literal = value
	return n
}

// assertSameGraph panics if the nodes don't all belong to the same graph.
func assertSameGraph(nodes ...*Node) *Graph {
	g := nodes[0].graph
	for _, n := range nodes[1:] {
		if n.graph != g {
			exceptions.Panicf("cannot mix nodes of graph %q and graph %q in one op", g.name, n.graph.name)
		}
	}
	return g
}
