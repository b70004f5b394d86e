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

package graph

import (
	"github.com/gomlx/exceptions"

	"github.com/dgbench/dgbench/ir"
	"github.com/dgbench/dgbench/types/shapes"
)

// applyOp runs shape inference for op over the operands and registers the new node.
// Shape errors panic with the op and operand shapes in the message.
func applyOp(op ir.OpType, operands ...*Node) *Node {
	g := assertSameGraph(operands...)
	argShapes := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		argShapes[ii] = operand.shape
	}
	shape, err := ir.InferOpShape(op, argShapes...)
	if err != nil {
		exceptions.Panicf("graph %q: %v", g.name, err)
	}
	return g.newNode(op, shape, operands...)
}

// Add returns the element-wise sum of x and y. If either is a scalar it broadcasts.
func Add(x, y *Node) *Node { return applyOp(ir.OpAdd, x, y) }

// Sub returns the element-wise difference x - y. If either is a scalar it broadcasts.
func Sub(x, y *Node) *Node { return applyOp(ir.OpSub, x, y) }

// Mul returns the element-wise product of x and y. If either is a scalar it broadcasts.
func Mul(x, y *Node) *Node { return applyOp(ir.OpMul, x, y) }

// Div returns the element-wise quotient x / y. If either is a scalar it broadcasts.
func Div(x, y *Node) *Node { return applyOp(ir.OpDiv, x, y) }

// Neg returns -x element-wise.
func Neg(x *Node) *Node { return applyOp(ir.OpNeg, x) }

// Sqrt returns the element-wise square root of x.
func Sqrt(x *Node) *Node { return applyOp(ir.OpSqrt, x) }

// Exp returns the element-wise exponential of x.
func Exp(x *Node) *Node { return applyOp(ir.OpExp, x) }

// Abs returns the element-wise absolute value of x.
func Abs(x *Node) *Node { return applyOp(ir.OpAbs, x) }

// MatMul returns the matrix product of the rank-2 nodes x and y. This is how DG operator
// matrices (differentiation, lifting, mass inverse) are applied to fields of per-element
// degrees of freedom.
func MatMul(x, y *Node) *Node { return applyOp(ir.OpMatMul, x, y) }

// AddScalar returns x + c, with c baked into the kernel as a literal of x's dtype.
func AddScalar(x *Node, c float64) *Node {
	return Add(x, Scalar(x.graph, x.DType(), c))
}

// MulScalar returns x * c, with c baked into the kernel as a literal of x's dtype.
func MulScalar(x *Node, c float64) *Node {
	return Mul(x, Scalar(x.graph, x.DType(), c))
}
