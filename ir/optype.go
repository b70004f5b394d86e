package ir

import "github.com/pkg/errors"

// OpType identifies the operation performed by a graph node or an IR instruction.
type OpType uint8

const (
	OpInvalid OpType = iota

	// Graph-leaf ops: these never appear as instructions, they are declared in the
	// program header (input / data / lit lines).
	OpParameter
	OpConstData
	OpLiteral

	// Unary element-wise ops.
	OpNeg
	OpSqrt
	OpExp
	OpAbs

	// Binary element-wise ops. One operand may be a scalar, which broadcasts.
	OpAdd
	OpSub
	OpMul
	OpDiv

	// OpMatMul is the rank-2 matrix product, the workhorse of DG operator application.
	OpMatMul
)

var opTokens = map[OpType]string{
	OpParameter: "input",
	OpConstData: "data",
	OpLiteral:   "lit",
	OpNeg:       "neg",
	OpSqrt:      "sqrt",
	OpExp:       "exp",
	OpAbs:       "abs",
	OpAdd:       "add",
	OpSub:       "sub",
	OpMul:       "mul",
	OpDiv:       "div",
	OpMatMul:    "matmul",
}

var tokenOps = func() map[string]OpType {
	m := make(map[string]OpType, len(opTokens))
	for op, token := range opTokens {
		m[token] = op
	}
	return m
}()

func (op OpType) String() string {
	token, found := opTokens[op]
	if !found {
		return "invalid"
	}
	return token
}

// IsUnary returns whether the op takes exactly one operand.
func (op OpType) IsUnary() bool {
	return op >= OpNeg && op <= OpAbs
}

// IsBinary returns whether the op takes exactly two operands.
func (op OpType) IsBinary() bool {
	return (op >= OpAdd && op <= OpDiv) || op == OpMatMul
}

// IsInstruction returns whether the op may appear on the right-hand side of an IR
// assignment, as opposed to a header declaration.
func (op OpType) IsInstruction() bool {
	return op.IsUnary() || op.IsBinary()
}

// ParseOpType converts an op token from kernel source back to its OpType.
func ParseOpType(token string) (OpType, error) {
	op, found := tokenOps[token]
	if !found || !op.IsInstruction() {
		return OpInvalid, errors.Errorf("unknown instruction op %q", token)
	}
	return op, nil
}
