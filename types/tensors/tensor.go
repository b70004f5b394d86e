// Package tensors provides the host-side, backend-neutral tensor used throughout dgbench.
//
// A Tensor owns a flat Go slice of its DType's Go type plus a shapes.Shape. It is the
// numeric form in which reference inputs/outputs and auxiliary kernel data are captured,
// persisted (gob) and compared: backends receive and return Tensors, whatever their
// internal buffer representation.
package tensors

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/dgbench/dgbench/types/shapes"
)

// Tensor is an in-memory multidimensional array of one of the supported DTypes, stored
// flat in row-major order.
type Tensor struct {
	shape shapes.Shape

	// flat holds the actual data, a slice of the Go type for shape.DType.
	flat any
}

// FromShape returns a Tensor of the given shape initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() || !shapes.Supported(shape.DType) {
		panic(errors.Errorf("tensors.FromShape: invalid or unsupported shape %s", shape))
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{shape: shape.Clone(), flat: flatV.Interface()}
}

// FromFlatDataAndDimensions creates a Tensor that takes ownership of the given flat slice.
// The dtype is inferred from T and the flat length must match the product of dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](flat []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(flat) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: flat data with %d values, but shape %s has %d elements",
			len(flat), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}
}

// FromScalar creates a rank-0 Tensor holding one value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return &Tensor{shape: shapes.Scalar(dtypes.FromGenericsType[T]()), flat: []T{value}}
}

// Shape of the Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the Tensor, shortcut to t.Shape().DType.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the Tensor, shortcut to t.Shape().Rank().
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the Tensor holds a single value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size is the number of elements stored, the product of the dimensions.
func (t *Tensor) Size() int { return t.shape.Size() }

// Memory is the number of bytes used by the flat data.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// ConstFlatData calls accessFn with the flat data as a slice of the Go type corresponding
// to the DType. The slice must not be modified -- see MutableFlatData.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data slice; the contents may be written to.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	accessFn(t.flat)
}

// ConstFlatData gives typed read access to the tensor's flat data. It panics if T does
// not match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.ConstFlatData[%T]: tensor has dtype %s", flat, t.DType())
	}
	return flat
}

// MutableFlatData gives typed write access to the tensor's flat data. It panics if T
// does not match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.MutableFlatData[%T]: tensor has dtype %s", flat, t.DType())
	}
	return flat
}

// Clone returns a deep copy of the Tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	flatV := reflect.ValueOf(t.flat)
	reflect.Copy(reflect.ValueOf(clone.flat), flatV)
	return clone
}

// Float64Values returns the tensor contents converted element-wise to float64, the form
// used for numerical comparison across dtypes and backends.
func (t *Tensor) Float64Values() []float64 {
	out := make([]float64, t.Size())
	switch flat := t.flat.(type) {
	case []float64:
		copy(out, flat)
	case []float32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []float16.Float16:
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
	case []int32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []int64:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	default:
		exceptions.Panicf("tensors.Float64Values: unsupported dtype %s", t.DType())
	}
	return out
}

// InDelta reports whether both tensors have equal shapes and all elements compare equal
// within the given absolute or relative tolerance, with t2 as the reference. NaNs never
// compare close.
func (t *Tensor) InDelta(t2 *Tensor, rtol, atol float64) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	got, want := t.Float64Values(), t2.Float64Values()
	for ii := range got {
		if !scalar.EqualWithinAbsOrRel(got[ii], want[ii], atol, rtol) {
			return false
		}
	}
	return true
}

// maxSizeToPrint caps how many values String renders.
const maxSizeToPrint = 8

// String prints the shape and, for small tensors, the values.
func (t *Tensor) String() string {
	if t.Size() > maxSizeToPrint {
		return fmt.Sprintf("Tensor%s: (...%d values...)", t.shape, t.Size())
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tensor%s: %v", t.shape, t.flat)
	return b.String()
}
