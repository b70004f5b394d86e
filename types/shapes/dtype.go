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
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// dtypeTokens maps the DTypes supported by the kernel IR to their tokens in descriptors
// and in emitted source. The set is intentionally small: DG kernels are float-valued,
// integers only show up as index/metadata tensors.
var dtypeTokens = map[dtypes.DType]string{
	dtypes.Float16: "f16",
	dtypes.Float32: "f32",
	dtypes.Float64: "f64",
	dtypes.Int32:   "i32",
	dtypes.Int64:   "i64",
}

var tokenDTypes = func() map[string]dtypes.DType {
	m := make(map[string]dtypes.DType, len(dtypeTokens))
	for dtype, token := range dtypeTokens {
		m[token] = dtype
	}
	return m
}()

// Supported returns whether the dtype is one the kernel IR can express.
func Supported(dtype dtypes.DType) bool {
	_, found := dtypeTokens[dtype]
	return found
}

// DTypeToken returns the canonical token for the dtype ("f64", "f32", ...), or "invalid"
// for dtypes the IR cannot express.
func DTypeToken(dtype dtypes.DType) string {
	token, found := dtypeTokens[dtype]
	if !found {
		return "invalid"
	}
	return token
}

// ParseKey parses the canonical text form produced by Shape.Key back into a Shape.
func ParseKey(key string) (Shape, error) {
	token := key
	var dims []int
	if open := strings.IndexByte(key, '['); open != -1 {
		if !strings.HasSuffix(key, "]") {
			return Invalid(), errors.Errorf("invalid shape key %q: unterminated dimensions", key)
		}
		token = key[:open]
		for _, part := range strings.Split(key[open+1:len(key)-1], ",") {
			dim, err := strconv.Atoi(part)
			if err != nil || dim <= 0 {
				return Invalid(), errors.Errorf("invalid shape key %q: bad dimension %q", key, part)
			}
			dims = append(dims, dim)
		}
	}
	dtype, found := tokenDTypes[token]
	if !found {
		return Invalid(), errors.Errorf("invalid shape key %q: unknown dtype token %q", key, token)
	}
	return Shape{DType: dtype, Dimensions: dims}, nil
}
