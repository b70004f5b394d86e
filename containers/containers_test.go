package containers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgbench/dgbench/types/tensors"
)

// nested builds the structure used throughout: a map holding a scalar-leaf and a tuple
// whose second element is itself a map.
func nested() *Container {
	return NewMap(map[string]*Container{
		"u": NewLeaf(1.0),
		"v": NewTuple(
			NewLeaf(2.0),
			NewMap(map[string]*Container{"inner": NewLeaf(3.0)}),
		),
	})
}

func TestStringifyKey(t *testing.T) {
	require.Equal(t, "abc123", StringifyKey("abc123"))
	require.Equal(t, "a_b_c", StringifyKey("a-b.c"))
	require.Equal(t, "__", StringifyKey("  "))
}

func TestFlattenLeavesSorted(t *testing.T) {
	c := nested()
	leaves := c.FlattenLeaves()
	require.Len(t, leaves, 3)
	require.Equal(t, "u", leaves[0].Path)
	require.Equal(t, "v_0", leaves[1].Path)
	require.Equal(t, "v_1_inner", leaves[2].Path)
	require.Equal(t, 1.0, leaves[0].Value)
	require.Equal(t, 2.0, leaves[1].Value)
	require.Equal(t, 3.0, leaves[2].Value)
	require.Equal(t, 3, c.NumLeaves())
}

func TestMapKeysSorted(t *testing.T) {
	c := NewMap(map[string]*Container{"z": NewLeaf(1), "a": NewLeaf(2), "m": NewLeaf(3)})
	require.Equal(t, []string{"a", "m", "z"}, c.Keys)
	require.Equal(t, 2, c.At("a").Leaf)
	require.Nil(t, c.At("missing"))
	require.Nil(t, NewLeaf(1).At("a"))
}

func TestMapLeaves(t *testing.T) {
	c := nested()
	doubled, err := c.MapLeaves(func(path string, leaf any) (any, error) {
		return leaf.(float64) * 2, nil
	})
	require.NoError(t, err)
	require.True(t, c.StructurallyEqual(doubled))
	require.Equal(t, 6.0, doubled.At("v").Items[1].At("inner").Leaf)
}

func TestTemplateReconstructRoundTrip(t *testing.T) {
	c := nested()
	template := c.Template()
	require.True(t, c.StructurallyEqual(template))
	require.Equal(t, 0, template.At("u").Leaf)
	require.Equal(t, 2, template.At("v").Items[1].At("inner").Leaf)

	// Filling the template with the flattened leaves reproduces the original.
	leaves := c.FlattenLeaves()
	flat := make([]any, len(leaves))
	for ii, leaf := range leaves {
		flat[ii] = leaf.Value
	}
	rebuilt, err := Reconstruct(template, flat)
	require.NoError(t, err)
	require.True(t, c.StructurallyEqual(rebuilt))
	for ii, leaf := range rebuilt.FlattenLeaves() {
		require.Equal(t, leaves[ii].Path, leaf.Path)
		require.Equal(t, leaves[ii].Value, leaf.Value)
	}
}

func TestReconstructErrors(t *testing.T) {
	template := nested().Template()
	_, err := Reconstruct(template, []any{1.0})
	require.Error(t, err)

	// A non-template container has non-int leaves.
	_, err = Reconstruct(nested(), []any{1.0, 2.0, 3.0})
	require.Error(t, err)
}

func TestStructurallyEqual(t *testing.T) {
	require.True(t, nested().StructurallyEqual(nested()))

	differentKey := NewMap(map[string]*Container{"u": NewLeaf(1.0), "w": NewLeaf(2.0)})
	sameShape := NewMap(map[string]*Container{"u": NewLeaf(9.0), "w": NewLeaf(9.0)})
	require.True(t, differentKey.StructurallyEqual(sameShape))
	require.False(t, nested().StructurallyEqual(differentKey))
	require.False(t, NewLeaf(1).StructurallyEqual(NewTuple(NewLeaf(1))))
	require.False(t, NewTuple(NewLeaf(1)).StructurallyEqual(NewTuple(NewLeaf(1), NewLeaf(2))))
}

func TestTensorLeaves(t *testing.T) {
	x := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	c := NewTuple(NewLeaf(x))
	leaves := c.FlattenLeaves()
	require.Len(t, leaves, 1)
	require.Equal(t, "0", leaves[0].Path)
	require.Same(t, x, leaves[0].Value)
}
