package compile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"github.com/dgbench/dgbench/containers"
	"github.com/dgbench/dgbench/types/tensors"
)

// inputPrefix and outputPrefix are prepended to leaf paths to form the placeholder and
// output names in emitted kernel source.
const (
	inputPrefix  = "in_"
	outputPrefix = "out_"
)

// extracted is the result of walking one call's arguments: the value-independent
// descriptor used as cache key, the normalized (all-tensor-leaf) argument containers
// that get persisted as reference inputs, and the flat bindings from placeholder name to
// the runtime tensor for this call.
type extracted struct {
	descriptor string
	args       []*containers.Container
	kwargs     map[string]*containers.Container
	bindings   map[string]*tensors.Tensor
}

// extractArguments derives the descriptor and leaf bindings of one call. It is
// deterministic -- identical argument structure yields an identical descriptor whatever
// the values -- and side-effect free.
func extractArguments(args []*containers.Container, kwargs map[string]*containers.Container) (*extracted, error) {
	ex := &extracted{
		bindings: make(map[string]*tensors.Tensor),
	}
	var desc strings.Builder

	desc.WriteString("args(")
	ex.args = make([]*containers.Container, len(args))
	for ii, arg := range args {
		if ii > 0 {
			desc.WriteByte(';')
		}
		normalized, err := ex.describe(arg, strconv.Itoa(ii), &desc)
		if err != nil {
			return nil, err
		}
		ex.args[ii] = normalized
	}
	desc.WriteString(")|kwargs(")
	kwNames := make([]string, 0, len(kwargs))
	for name := range kwargs {
		kwNames = append(kwNames, name)
	}
	sort.Strings(kwNames)
	ex.kwargs = make(map[string]*containers.Container, len(kwargs))
	for ii, name := range kwNames {
		if ii > 0 {
			desc.WriteByte(';')
		}
		desc.WriteString(name)
		desc.WriteByte('=')
		normalized, err := ex.describe(kwargs[name], containers.StringifyKey(name), &desc)
		if err != nil {
			return nil, err
		}
		ex.kwargs[name] = normalized
	}
	desc.WriteString(")")
	ex.descriptor = desc.String()
	return ex, nil
}

// describe walks one argument container, appending its structural fingerprint to desc,
// recording a binding per leaf, and returning the container with all leaves normalized
// to tensors.
func (ex *extracted) describe(c *containers.Container, path string, desc *strings.Builder) (*containers.Container, error) {
	if c == nil {
		return nil, &UnsupportedArgumentKindError{Path: path, Value: nil}
	}
	switch c.Kind {
	case containers.KindLeaf:
		t, err := leafTensor(c.Leaf, path)
		if err != nil {
			return nil, err
		}
		desc.WriteString("leaf(")
		desc.WriteString(t.Shape().Key())
		desc.WriteByte(')')
		ex.bindings[inputPrefix+path] = t
		return containers.NewLeaf(t), nil

	case containers.KindTuple:
		desc.WriteString("tuple(")
		items := make([]*containers.Container, len(c.Items))
		for ii, item := range c.Items {
			if ii > 0 {
				desc.WriteByte(',')
			}
			normalized, err := ex.describe(item, path+"_"+strconv.Itoa(ii), desc)
			if err != nil {
				return nil, err
			}
			items[ii] = normalized
		}
		desc.WriteByte(')')
		return containers.NewTuple(items...), nil

	case containers.KindMap:
		desc.WriteString("map{")
		entries := make(map[string]*containers.Container, len(c.Items))
		for ii, item := range c.Items {
			if ii > 0 {
				desc.WriteByte(',')
			}
			key := c.Keys[ii]
			desc.WriteString(key)
			desc.WriteByte(':')
			normalized, err := ex.describe(item, path+"_"+containers.StringifyKey(key), desc)
			if err != nil {
				return nil, err
			}
			entries[key] = normalized
		}
		desc.WriteByte('}')
		return containers.NewMap(entries), nil

	default:
		return nil, &UnsupportedArgumentKindError{Path: path, Value: c}
	}
}

// leafTensor normalizes one leaf value to a tensor. Scalars become rank-0 tensors of
// their natural dtype; anything that is not a tensor or a supported scalar is an
// UnsupportedArgumentKindError.
func leafTensor(value any, path string) (*tensors.Tensor, error) {
	switch v := value.(type) {
	case *tensors.Tensor:
		return v, nil
	case float64:
		return tensors.FromScalar(v), nil
	case float32:
		return tensors.FromScalar(v), nil
	case float16.Float16:
		return tensors.FromScalar(v), nil
	case int:
		return tensors.FromScalar(int64(v)), nil
	case int32:
		return tensors.FromScalar(v), nil
	case int64:
		return tensors.FromScalar(v), nil
	default:
		return nil, &UnsupportedArgumentKindError{Path: path, Value: value}
	}
}
