// Package ir defines the fixed intermediate representation that traced kernels are
// emitted to, executed from and persisted as.
//
// A Program is a flat, topologically ordered list of instructions over named values:
// placeholder inputs, auxiliary data tensors (loaded from an Archive), scalar literals
// and the results of previous instructions. Programs have a canonical text form
// (Program.Format / Parse) which is deterministic byte-for-byte for a given program, so
// that re-emitting the same computation yields an identical artifact. The text form is
// self-contained: a backend can execute it given only the data archive and input tensors,
// with no access to the tracer or the original Go function that produced it.
package ir

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/types/shapes"
)

// FormatVersion is the version tag on the first line of every kernel source file.
const FormatVersion = 1

// Decl declares a named input placeholder or auxiliary data tensor and its shape.
type Decl struct {
	Name  string
	Shape shapes.Shape
}

// Lit declares a named scalar literal baked into the program.
type Lit struct {
	Name  string
	DType dtypes.DType
	Value float64
}

// Instruction computes one named value from previously defined names.
type Instruction struct {
	Out  string
	Op   OpType
	Args []string
}

// Output binds one external result name to a value defined by the program.
type Output struct {
	Name string
	Ref  string
}

// Program is one emitted kernel: declarations, instructions in a valid topological
// order, and named outputs.
type Program struct {
	Name    string
	Inputs  []Decl
	Data    []Decl
	Lits    []Lit
	Instrs  []Instruction
	Outputs []Output
}

// InferShapes type-checks the program and returns the shape of every named value.
// It verifies that all names are defined before use and defined only once, that operand
// shapes are compatible with their ops, and that every output reference resolves.
//
// This runs when a program is loaded from disk: emitted source is not trusted to be
// well-formed just because the emitter wrote it once.
func (p *Program) InferShapes() (map[string]shapes.Shape, error) {
	known := make(map[string]shapes.Shape, len(p.Inputs)+len(p.Data)+len(p.Lits)+len(p.Instrs))
	define := func(name string, shape shapes.Shape) error {
		if name == "" {
			return errors.New("empty value name")
		}
		if _, found := known[name]; found {
			return errors.Errorf("value %q defined more than once", name)
		}
		known[name] = shape
		return nil
	}
	for _, decl := range p.Inputs {
		if err := define(decl.Name, decl.Shape); err != nil {
			return nil, err
		}
	}
	for _, decl := range p.Data {
		if err := define(decl.Name, decl.Shape); err != nil {
			return nil, err
		}
	}
	for _, lit := range p.Lits {
		if err := define(lit.Name, shapes.Scalar(lit.DType)); err != nil {
			return nil, err
		}
	}
	for _, inst := range p.Instrs {
		argShapes := make([]shapes.Shape, len(inst.Args))
		for ii, arg := range inst.Args {
			shape, found := known[arg]
			if !found {
				return nil, errors.Errorf("instruction %q uses undefined value %q", inst.Out, arg)
			}
			argShapes[ii] = shape
		}
		shape, err := InferOpShape(inst.Op, argShapes...)
		if err != nil {
			return nil, errors.WithMessagef(err, "instruction %q", inst.Out)
		}
		if err := define(inst.Out, shape); err != nil {
			return nil, err
		}
	}
	for _, out := range p.Outputs {
		if _, found := known[out.Ref]; !found {
			return nil, errors.Errorf("output %q references undefined value %q", out.Name, out.Ref)
		}
	}
	return known, nil
}

// InferOpShape returns the result shape of applying op to operands of the given shapes,
// or an error if the shapes are incompatible.
//
// Binary element-wise ops require equal shapes, except that a scalar operand broadcasts
// against the other operand. OpMatMul requires rank-2 operands with matching inner
// dimensions.
func InferOpShape(op OpType, args ...shapes.Shape) (shapes.Shape, error) {
	switch {
	case op.IsUnary():
		if len(args) != 1 {
			return shapes.Invalid(), errors.Errorf("op %s takes 1 operand, got %d", op, len(args))
		}
		return args[0].Clone(), nil

	case op == OpMatMul:
		if len(args) != 2 {
			return shapes.Invalid(), errors.Errorf("op %s takes 2 operands, got %d", op, len(args))
		}
		lhs, rhs := args[0], args[1]
		if lhs.DType != rhs.DType {
			return shapes.Invalid(), errors.Errorf("op %s requires equal dtypes, got %s and %s", op, lhs, rhs)
		}
		if lhs.Rank() != 2 || rhs.Rank() != 2 {
			return shapes.Invalid(), errors.Errorf("op %s requires rank-2 operands, got %s and %s", op, lhs, rhs)
		}
		if lhs.Dim(1) != rhs.Dim(0) {
			return shapes.Invalid(), errors.Errorf("op %s inner dimensions don't match: %s x %s", op, lhs, rhs)
		}
		return shapes.Make(lhs.DType, lhs.Dim(0), rhs.Dim(1)), nil

	case op.IsBinary():
		if len(args) != 2 {
			return shapes.Invalid(), errors.Errorf("op %s takes 2 operands, got %d", op, len(args))
		}
		lhs, rhs := args[0], args[1]
		if lhs.DType != rhs.DType {
			return shapes.Invalid(), errors.Errorf("op %s requires equal dtypes, got %s and %s", op, lhs, rhs)
		}
		if lhs.IsScalar() {
			return rhs.Clone(), nil
		}
		if rhs.IsScalar() {
			return lhs.Clone(), nil
		}
		if !lhs.Equal(rhs) {
			return shapes.Invalid(), errors.Errorf("op %s requires equal shapes (or a scalar operand), got %s and %s", op, lhs, rhs)
		}
		return lhs.Clone(), nil

	default:
		return shapes.Invalid(), errors.Errorf("op %s cannot appear as an instruction", op)
	}
}
