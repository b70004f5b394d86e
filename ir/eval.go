package ir

import (
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/gopjrt/dtypes"

	"github.com/dgbench/dgbench/types/shapes"
	"github.com/dgbench/dgbench/types/tensors"
)

// This file defines the reference semantics of every IR op over host tensors. Backends
// are free to compute faster, but must match these results within floating-point
// tolerance -- the compilation cache validates exactly that before admitting a kernel.

// LiteralTensor materializes a scalar literal declaration as a rank-0 tensor.
func LiteralTensor(lit Lit) (*tensors.Tensor, error) {
	switch lit.DType {
	case dtypes.Float64:
		return tensors.FromScalar(lit.Value), nil
	case dtypes.Float32:
		return tensors.FromScalar(float32(lit.Value)), nil
	case dtypes.Float16:
		return tensors.FromScalar(float16.Fromfloat32(float32(lit.Value))), nil
	case dtypes.Int32:
		return tensors.FromScalar(int32(lit.Value)), nil
	case dtypes.Int64:
		return tensors.FromScalar(int64(lit.Value)), nil
	default:
		return nil, errors.Errorf("literal %q has unsupported dtype %s", lit.Name, lit.DType)
	}
}

// EvalOp applies op to the operands and returns a freshly allocated result. The output
// shape must have been inferred with InferOpShape; operands are never modified.
func EvalOp(op OpType, outShape shapes.Shape, args []*tensors.Tensor) (*tensors.Tensor, error) {
	out := tensors.FromShape(outShape)
	var err error
	switch outShape.DType {
	case dtypes.Float64:
		if op == OpMatMul {
			return out, matMulFloat64(out, args[0], args[1])
		}
		err = evalTyped[float64](op, out, args)
	case dtypes.Float32:
		err = evalTyped[float32](op, out, args)
	case dtypes.Float16:
		err = evalFloat16(op, out, args)
	case dtypes.Int32:
		err = evalTyped[int32](op, out, args)
	case dtypes.Int64:
		err = evalTyped[int64](op, out, args)
	default:
		err = errors.Errorf("op %s: unsupported dtype %s", op, outShape.DType)
	}
	return out, err
}

type number interface {
	int32 | int64 | float32 | float64
}

func evalTyped[T number](op OpType, out *tensors.Tensor, args []*tensors.Tensor) error {
	outFlat := tensors.MutableFlatData[T](out)
	if op.IsUnary() {
		return unaryOp(op, outFlat, tensors.ConstFlatData[T](args[0]))
	}
	if op == OpMatMul {
		return matMulTyped(outFlat, tensors.ConstFlatData[T](args[0]), tensors.ConstFlatData[T](args[1]),
			args[0].Shape().Dim(0), args[0].Shape().Dim(1), args[1].Shape().Dim(1))
	}
	return binaryOp(op, outFlat,
		tensors.ConstFlatData[T](args[0]), tensors.ConstFlatData[T](args[1]),
		args[0].IsScalar(), args[1].IsScalar())
}

func unaryOp[T number](op OpType, out, operand []T) error {
	switch op {
	case OpNeg:
		for ii, v := range operand {
			out[ii] = -v
		}
	case OpAbs:
		for ii, v := range operand {
			if v < 0 {
				v = -v
			}
			out[ii] = v
		}
	case OpSqrt:
		return unaryFloatOp(op, out, operand, math.Sqrt)
	case OpExp:
		return unaryFloatOp(op, out, operand, math.Exp)
	default:
		return errors.Errorf("unary op %s not implemented", op)
	}
	return nil
}

// unaryFloatOp applies a float64 math function element-wise. Integer dtypes are
// rejected: sqrt/exp of index tensors is a kernel bug, not something to round.
func unaryFloatOp[T number](op OpType, out, operand []T, fn func(float64) float64) error {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
	default:
		return errors.Errorf("op %s not supported for integer dtypes", op)
	}
	for ii, v := range operand {
		out[ii] = T(fn(float64(v)))
	}
	return nil
}

func binaryOp[T number](op OpType, out, lhs, rhs []T, lhsScalar, rhsScalar bool) error {
	lhsAt := func(ii int) T { return lhs[ii] }
	if lhsScalar {
		lhsAt = func(int) T { return lhs[0] }
	}
	rhsAt := func(ii int) T { return rhs[ii] }
	if rhsScalar {
		rhsAt = func(int) T { return rhs[0] }
	}
	switch op {
	case OpAdd:
		for ii := range out {
			out[ii] = lhsAt(ii) + rhsAt(ii)
		}
	case OpSub:
		for ii := range out {
			out[ii] = lhsAt(ii) - rhsAt(ii)
		}
	case OpMul:
		for ii := range out {
			out[ii] = lhsAt(ii) * rhsAt(ii)
		}
	case OpDiv:
		for ii := range out {
			out[ii] = lhsAt(ii) / rhsAt(ii)
		}
	default:
		return errors.Errorf("binary op %s not implemented", op)
	}
	return nil
}

// matMulFloat64 delegates the float64 matrix product to gonum.
func matMulFloat64(out, lhs, rhs *tensors.Tensor) error {
	lhsShape, rhsShape := lhs.Shape(), rhs.Shape()
	lhsM := mat.NewDense(lhsShape.Dim(0), lhsShape.Dim(1), tensors.ConstFlatData[float64](lhs))
	rhsM := mat.NewDense(rhsShape.Dim(0), rhsShape.Dim(1), tensors.ConstFlatData[float64](rhs))
	outM := mat.NewDense(out.Shape().Dim(0), out.Shape().Dim(1), tensors.MutableFlatData[float64](out))
	outM.Mul(lhsM, rhsM)
	return nil
}

// matMulTyped is the generic fallback matrix product for non-float64 dtypes.
func matMulTyped[T number](out, lhs, rhs []T, m, k, n int) error {
	for i := 0; i < m; i++ {
		lhsRow := lhs[i*k : (i+1)*k]
		outRow := out[i*n : (i+1)*n]
		for j := range outRow {
			outRow[j] = 0
		}
		for l, lv := range lhsRow {
			if lv == 0 {
				continue
			}
			rhsRow := rhs[l*n : (l+1)*n]
			for j, rv := range rhsRow {
				outRow[j] += lv * rv
			}
		}
	}
	return nil
}

// evalFloat16 computes float16 instructions in float32 and rounds the result back.
// There is no native Go float16 arithmetic; this matches how accelerators without fp16
// units emulate it.
func evalFloat16(op OpType, out *tensors.Tensor, args []*tensors.Tensor) error {
	args32 := make([][]float32, len(args))
	for ii, arg := range args {
		flat := tensors.ConstFlatData[float16.Float16](arg)
		arg32 := make([]float32, len(flat))
		for jj, v := range flat {
			arg32[jj] = v.Float32()
		}
		args32[ii] = arg32
	}
	outFlat := tensors.MutableFlatData[float16.Float16](out)
	out32 := make([]float32, len(outFlat))

	var err error
	switch {
	case op.IsUnary():
		err = unaryOp(op, out32, args32[0])
	case op == OpMatMul:
		err = matMulTyped(out32, args32[0], args32[1],
			args[0].Shape().Dim(0), args[0].Shape().Dim(1), args[1].Shape().Dim(1))
	default:
		err = binaryOp(op, out32, args32[0], args32[1], args[0].IsScalar(), args[1].IsScalar())
	}
	if err != nil {
		return err
	}
	for ii, v := range out32 {
		outFlat[ii] = float16.Fromfloat32(v)
	}
	return nil
}
