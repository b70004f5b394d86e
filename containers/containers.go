// Package containers implements the nested numeric containers that kernel arguments and
// results travel in: tuples of fields, mappings from names to fields, and leaves.
//
// The container kinds are tagged variants, and flattening/reconstruction is implemented
// once over the tags -- there is no reflection-driven discovery of user types. Leaves are
// deliberately untyped (any): at call time they hold *tensors.Tensor, at trace time
// *graph.Node, and inside output templates plain int positions.
//
// Leaf paths are stringified deterministically (map keys sanitized and joined with "_",
// tuple elements by their decimal index) and all leaf enumeration is in lexicographic
// path order, so that names derived from paths are stable across runs.
package containers

import (
	"encoding/gob"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dgbench/dgbench/types/tensors"
)

// Kind tags the variant a Container holds.
type Kind uint8

const (
	KindInvalid Kind = iota

	// KindLeaf holds a single value in Leaf.
	KindLeaf

	// KindTuple holds an ordered sequence of items.
	KindTuple

	// KindMap holds named items; Keys is kept sorted and aligned with Items.
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "Leaf"
	case KindTuple:
		return "Tuple"
	case KindMap:
		return "Map"
	default:
		return "Invalid"
	}
}

// Container is one node of a nested argument or result structure.
//
// Fields are exported for gob; treat them as read-only after construction.
type Container struct {
	Kind Kind
	Leaf any

	// Items are the children for KindTuple and KindMap.
	Items []*Container

	// Keys are the map keys for KindMap, sorted ascending, aligned with Items.
	Keys []string
}

func init() {
	gob.Register(&tensors.Tensor{})
	gob.Register(int(0))
	gob.Register(float64(0))
}

// NewLeaf wraps a single value as a leaf container.
func NewLeaf(value any) *Container {
	return &Container{Kind: KindLeaf, Leaf: value}
}

// NewTuple creates a tuple container with the given items, in order.
func NewTuple(items ...*Container) *Container {
	return &Container{Kind: KindTuple, Items: items}
}

// NewMap creates a mapping container. Keys are sorted, so iteration order is independent
// of the Go map's.
func NewMap(entries map[string]*Container) *Container {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	items := make([]*Container, len(keys))
	for ii, key := range keys {
		items[ii] = entries[key]
	}
	return &Container{Kind: KindMap, Keys: keys, Items: items}
}

// IsLeaf returns whether the container is a single leaf.
func (c *Container) IsLeaf() bool { return c.Kind == KindLeaf }

// At returns the item under the given map key, or nil if absent or not a map.
func (c *Container) At(key string) *Container {
	if c.Kind != KindMap {
		return nil
	}
	idx := sort.SearchStrings(c.Keys, key)
	if idx == len(c.Keys) || c.Keys[idx] != key {
		return nil
	}
	return c.Items[idx]
}

// NumLeaves counts the leaves in the container.
func (c *Container) NumLeaves() int {
	if c.Kind == KindLeaf {
		return 1
	}
	total := 0
	for _, item := range c.Items {
		total += item.NumLeaves()
	}
	return total
}

// LeafRef is one leaf together with its stringified path.
type LeafRef struct {
	Path  string
	Value any
}

// StringifyKey sanitizes one path component: every byte outside [A-Za-z0-9] is replaced
// by '_'. The sanitized components are what leaf paths (and therefore emitted variable
// names) are made of.
func StringifyKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func joinPath(prefix, component string) string {
	if prefix == "" {
		return component
	}
	return prefix + "_" + component
}

func (c *Container) appendLeaves(prefix string, out []LeafRef) []LeafRef {
	switch c.Kind {
	case KindLeaf:
		return append(out, LeafRef{Path: prefix, Value: c.Leaf})
	case KindTuple:
		for ii, item := range c.Items {
			out = item.appendLeaves(joinPath(prefix, strconv.Itoa(ii)), out)
		}
	case KindMap:
		for ii, item := range c.Items {
			out = item.appendLeaves(joinPath(prefix, StringifyKey(c.Keys[ii])), out)
		}
	}
	return out
}

// FlattenLeaves returns all leaves with their paths, sorted lexicographically by path.
// The order is reproducible across runs and processes for structurally equal containers.
func (c *Container) FlattenLeaves() []LeafRef {
	leaves := c.appendLeaves("", nil)
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves
}

// MapLeaves rebuilds the container with every leaf replaced by fn(path, leaf). The
// structure (kinds, keys, ordering) is preserved.
func (c *Container) MapLeaves(fn func(path string, leaf any) (any, error)) (*Container, error) {
	return c.mapLeaves("", fn)
}

func (c *Container) mapLeaves(prefix string, fn func(path string, leaf any) (any, error)) (*Container, error) {
	switch c.Kind {
	case KindLeaf:
		newLeaf, err := fn(prefix, c.Leaf)
		if err != nil {
			return nil, err
		}
		return NewLeaf(newLeaf), nil
	case KindTuple, KindMap:
		items := make([]*Container, len(c.Items))
		for ii, item := range c.Items {
			component := strconv.Itoa(ii)
			if c.Kind == KindMap {
				component = StringifyKey(c.Keys[ii])
			}
			mapped, err := item.mapLeaves(joinPath(prefix, component), fn)
			if err != nil {
				return nil, err
			}
			items[ii] = mapped
		}
		return &Container{Kind: c.Kind, Items: items, Keys: c.Keys}, nil
	default:
		return nil, errors.Errorf("containers: invalid container kind %d at path %q", c.Kind, prefix)
	}
}

// Template returns a copy of the container with each leaf replaced by its integer
// position in FlattenLeaves order. Applying Reconstruct to the template and a flat
// sequence of length NumLeaves() yields a container isomorphic to the original.
func (c *Container) Template() *Container {
	positions := make(map[string]int)
	for ii, leaf := range c.FlattenLeaves() {
		positions[leaf.Path] = ii
	}
	template, err := c.MapLeaves(func(path string, _ any) (any, error) {
		return positions[path], nil
	})
	if err != nil {
		// MapLeaves over a valid container cannot fail here.
		panic(err)
	}
	return template
}

// Reconstruct fills a template's integer-position leaves with values from flat,
// reassembling the original container structure.
func Reconstruct(template *Container, flat []any) (*Container, error) {
	if n := template.NumLeaves(); n != len(flat) {
		return nil, errors.Errorf("containers.Reconstruct: template has %d leaves, but %d values given", n, len(flat))
	}
	return template.MapLeaves(func(path string, leaf any) (any, error) {
		pos, ok := leaf.(int)
		if !ok {
			return nil, errors.Errorf("containers.Reconstruct: template leaf at path %q is %T, not an int position", path, leaf)
		}
		if pos < 0 || pos >= len(flat) {
			return nil, errors.Errorf("containers.Reconstruct: position %d at path %q out of range [0,%d)", pos, path, len(flat))
		}
		return flat[pos], nil
	})
}

// StructurallyEqual reports whether both containers have the same shape: kinds, keys and
// item counts all match. Leaf values are not compared.
func (c *Container) StructurallyEqual(c2 *Container) bool {
	if c.Kind != c2.Kind || len(c.Items) != len(c2.Items) || len(c.Keys) != len(c2.Keys) {
		return false
	}
	for ii := range c.Keys {
		if c.Keys[ii] != c2.Keys[ii] {
			return false
		}
	}
	for ii := range c.Items {
		if !c.Items[ii].StructurallyEqual(c2.Items[ii]) {
			return false
		}
	}
	return true
}
