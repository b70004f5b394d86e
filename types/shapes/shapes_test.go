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

package shapes

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float64, 3, 7)
	require.True(t, s.Ok())
	require.Equal(t, 2, s.Rank())
	require.Equal(t, 21, s.Size())
	require.Equal(t, 3, s.Dim(0))
	require.Equal(t, 7, s.Dim(-1))
	require.False(t, s.IsScalar())
	require.Equal(t, uintptr(21*8), s.Memory())

	scalar := Scalar(dtypes.Float32)
	require.True(t, scalar.IsScalar())
	require.Equal(t, 1, scalar.Size())

	require.False(t, Invalid().Ok())
}

func TestShapeEqualAndClone(t *testing.T) {
	s := Make(dtypes.Float32, 2, 5)
	require.True(t, s.Equal(Make(dtypes.Float32, 2, 5)))
	require.False(t, s.Equal(Make(dtypes.Float64, 2, 5)))
	require.False(t, s.Equal(Make(dtypes.Float32, 5, 2)))
	require.False(t, s.Equal(Scalar(dtypes.Float32)))

	clone := s.Clone()
	require.True(t, s.Equal(clone))
	clone.Dimensions[0] = 3
	require.Equal(t, 2, s.Dimensions[0])
}

func TestShapeKey(t *testing.T) {
	for _, test := range []struct {
		shape Shape
		key   string
	}{
		{Make(dtypes.Float64, 1024, 10), "f64[1024,10]"},
		{Make(dtypes.Float32, 4), "f32[4]"},
		{Scalar(dtypes.Float16), "f16"},
		{Scalar(dtypes.Int64), "i64"},
		{Make(dtypes.Int32, 2, 2, 2), "i32[2,2,2]"},
	} {
		require.Equal(t, test.key, test.shape.Key())
		parsed, err := ParseKey(test.key)
		require.NoError(t, err)
		require.True(t, test.shape.Equal(parsed), "ParseKey(%q) = %s", test.key, parsed)
	}

	for _, bad := range []string{"", "f64[", "f64[0]", "f64[1,]", "f99", "f64[2"} {
		_, err := ParseKey(bad)
		require.Error(t, err, "ParseKey(%q) should fail", bad)
	}
}

func TestSupported(t *testing.T) {
	require.True(t, Supported(dtypes.Float64))
	require.True(t, Supported(dtypes.Float16))
	require.False(t, Supported(dtypes.Bool))
	require.Equal(t, "f32", DTypeToken(dtypes.Float32))
	require.Equal(t, "invalid", DTypeToken(dtypes.Complex64))
}

func TestShapeGobRoundTrip(t *testing.T) {
	s := Make(dtypes.Float64, 11, 3)
	var buf bytes.Buffer
	require.NoError(t, s.GobSerialize(gob.NewEncoder(&buf)))
	recovered, err := GobDeserialize(gob.NewDecoder(&buf))
	require.NoError(t, err)
	require.True(t, s.Equal(recovered))
}
