// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package nexus holds NXcanSAS containers as in-memory trees backed by
// HDF5 files.  A container is loaded whole on open, mutated logically
// (groups and datasets added, replaced or deleted), and materialized to
// a fresh file on flush.  Rewriting from the live tree doubles as the
// repack step that reclaims space from deleted groups.
package nexus

import (
	"fmt"
	"sort"
)

// Canonical group names under the container root.
const (
	EntryGroup      = "ENTRY"
	DataGroup       = "DATA"
	InstrumentGroup = "INSTRUMENT"
	SourceGroup     = "SOURCE"
	DetectorGroup   = "DETECTOR"
	SampleGroup     = "SAMPLE"
	CollectionGroup = "COLLECTION"
)

// Attrs are the attributes attached to a group or dataset.  Values are
// strings, string slices, or numeric scalars/slices.
type Attrs map[string]interface{}

func (a Attrs) clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Names returns the attribute names in sorted order.
func (a Attrs) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// A ShapeError reports an array whose dimensions do not satisfy an
// operation's shape contract.
type ShapeError struct {
	Name string
	Want string
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("nexus: %s: want shape %s, got %v", e.Name, e.Want, e.Got)
}

// Dataset is a single typed array with attributes.  Data is stored flat
// in row-major order; Shape carries the logical dimensions.  Exactly one
// of the value slices is set.
type Dataset struct {
	Attrs Attrs
	Shape []int

	Floats  []float64
	Ints    []int64
	Bytes   []uint8
	Strings []string
}

// NewScalarFloat returns a scalar float dataset.
func NewScalarFloat(v float64) *Dataset {
	return &Dataset{Shape: []int{1}, Floats: []float64{v}}
}

// NewScalarInt returns a scalar integer dataset.
func NewScalarInt(v int64) *Dataset {
	return &Dataset{Shape: []int{1}, Ints: []int64{v}}
}

// NewScalarString returns a scalar string dataset.
func NewScalarString(s string) *Dataset {
	return &Dataset{Shape: []int{1}, Strings: []string{s}}
}

// NewFloats returns a 1D float dataset.
func NewFloats(v []float64) *Dataset {
	return &Dataset{Shape: []int{len(v)}, Floats: v}
}

// NewFloatsShaped returns a float dataset with an explicit shape.  The
// data length must equal the product of the dimensions.
func NewFloatsShaped(shape []int, v []float64) (*Dataset, error) {
	if n := numElems(shape); n != len(v) {
		return nil, &ShapeError{Name: "float data", Want: fmt.Sprintf("%d elements", n), Got: []int{len(v)}}
	}
	return &Dataset{Shape: append([]int(nil), shape...), Floats: v}, nil
}

// NewFloatMatrix returns a 2D float dataset.  Rows must have equal length.
func NewFloatMatrix(m [][]float64) (*Dataset, error) {
	h := len(m)
	if h == 0 {
		return &Dataset{Shape: []int{0, 0}, Floats: nil}, nil
	}
	w := len(m[0])
	flat := make([]float64, 0, h*w)
	for i, row := range m {
		if len(row) != w {
			return nil, &ShapeError{Name: "matrix", Want: fmt.Sprintf("rows of %d", w), Got: []int{i, len(row)}}
		}
		flat = append(flat, row...)
	}
	return &Dataset{Shape: []int{h, w}, Floats: flat}, nil
}

// NewByteMatrix returns a 2D uint8 dataset, used for validity masks.
func NewByteMatrix(m [][]uint8) (*Dataset, error) {
	h := len(m)
	if h == 0 {
		return &Dataset{Shape: []int{0, 0}, Bytes: nil}, nil
	}
	w := len(m[0])
	flat := make([]uint8, 0, h*w)
	for i, row := range m {
		if len(row) != w {
			return nil, &ShapeError{Name: "mask", Want: fmt.Sprintf("rows of %d", w), Got: []int{i, len(row)}}
		}
		flat = append(flat, row...)
	}
	return &Dataset{Shape: []int{h, w}, Bytes: flat}, nil
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rank returns the number of logical dimensions.
func (d *Dataset) Rank() int { return len(d.Shape) }

// Len returns the total number of elements.
func (d *Dataset) Len() int { return numElems(d.Shape) }

// ScalarFloat reads a scalar or single-element float dataset.
func (d *Dataset) ScalarFloat() (float64, error) {
	if len(d.Floats) == 1 {
		return d.Floats[0], nil
	}
	if len(d.Ints) == 1 {
		return float64(d.Ints[0]), nil
	}
	return 0, &ShapeError{Name: "scalar float", Want: "1 element", Got: d.Shape}
}

// ScalarInt reads a scalar or single-element integer dataset.
func (d *Dataset) ScalarInt() (int64, error) {
	if len(d.Ints) == 1 {
		return d.Ints[0], nil
	}
	if len(d.Floats) == 1 {
		return int64(d.Floats[0]), nil
	}
	return 0, &ShapeError{Name: "scalar int", Want: "1 element", Got: d.Shape}
}

// ScalarString reads a scalar string dataset.
func (d *Dataset) ScalarString() (string, error) {
	if len(d.Strings) >= 1 {
		return d.Strings[0], nil
	}
	return "", &ShapeError{Name: "scalar string", Want: "1 element", Got: d.Shape}
}

// FloatMatrix reshapes a rank-2 float dataset into rows.
func (d *Dataset) FloatMatrix() ([][]float64, error) {
	if len(d.Shape) != 2 || d.Floats == nil {
		return nil, &ShapeError{Name: "float matrix", Want: "rank 2 float", Got: d.Shape}
	}
	h, w := d.Shape[0], d.Shape[1]
	out := make([][]float64, h)
	for i := 0; i < h; i++ {
		out[i] = d.Floats[i*w : (i+1)*w]
	}
	return out, nil
}

// ByteMatrix reshapes a rank-2 uint8 dataset into rows.  Integer data is
// accepted too, nonzero meaning set.
func (d *Dataset) ByteMatrix() ([][]uint8, error) {
	if len(d.Shape) != 2 {
		return nil, &ShapeError{Name: "byte matrix", Want: "rank 2", Got: d.Shape}
	}
	h, w := d.Shape[0], d.Shape[1]
	flat := d.Bytes
	if flat == nil && d.Ints != nil {
		flat = make([]uint8, len(d.Ints))
		for i, v := range d.Ints {
			if v != 0 {
				flat[i] = 1
			}
		}
	}
	if flat == nil && d.Floats != nil {
		flat = make([]uint8, len(d.Floats))
		for i, v := range d.Floats {
			if v != 0 {
				flat[i] = 1
			}
		}
	}
	if flat == nil || len(flat) != h*w {
		return nil, &ShapeError{Name: "byte matrix", Want: fmt.Sprintf("%d elements", h*w), Got: []int{len(flat)}}
	}
	out := make([][]uint8, h)
	for i := 0; i < h; i++ {
		out[i] = flat[i*w : (i+1)*w]
	}
	return out, nil
}

// Clone deep-copies the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Attrs: d.Attrs.clone(),
		Shape: append([]int(nil), d.Shape...),
	}
	if d.Floats != nil {
		out.Floats = append([]float64(nil), d.Floats...)
	}
	if d.Ints != nil {
		out.Ints = append([]int64(nil), d.Ints...)
	}
	if d.Bytes != nil {
		out.Bytes = append([]uint8(nil), d.Bytes...)
	}
	if d.Strings != nil {
		out.Strings = append([]string(nil), d.Strings...)
	}
	return out
}

// ZerosLike returns a float dataset of zeros with the same shape as d.
func ZerosLike(d *Dataset) *Dataset {
	return &Dataset{
		Shape:  append([]int(nil), d.Shape...),
		Floats: make([]float64, d.Len()),
	}
}

// Group is a node of the container tree.
type Group struct {
	Attrs    Attrs
	groups   map[string]*Group
	datasets map[string]*Dataset
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{
		Attrs:    Attrs{},
		groups:   map[string]*Group{},
		datasets: map[string]*Dataset{},
	}
}

// Group looks up a direct child group.
func (g *Group) Group(name string) (*Group, bool) {
	c, ok := g.groups[name]
	return c, ok
}

// EnsureGroup returns the named child group, creating it if absent.
func (g *Group) EnsureGroup(name string) *Group {
	if c, ok := g.groups[name]; ok {
		return c
	}
	c := NewGroup()
	g.groups[name] = c
	return c
}

// SetGroup attaches (or replaces) a child group.
func (g *Group) SetGroup(name string, c *Group) { g.groups[name] = c }

// Dataset looks up a direct child dataset.
func (g *Group) Dataset(name string) (*Dataset, bool) {
	d, ok := g.datasets[name]
	return d, ok
}

// SetDataset attaches (or replaces) a child dataset.
func (g *Group) SetDataset(name string, d *Dataset) { g.datasets[name] = d }

// Delete removes the named child, group or dataset.
func (g *Group) Delete(name string) {
	delete(g.groups, name)
	delete(g.datasets, name)
}

// Has reports whether a direct child of either kind exists.
func (g *Group) Has(name string) bool {
	if _, ok := g.groups[name]; ok {
		return true
	}
	_, ok := g.datasets[name]
	return ok
}

// Groups returns child group names in sorted order.
func (g *Group) Groups() []string {
	names := make([]string, 0, len(g.groups))
	for k := range g.groups {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// DatasetNames returns child dataset names in sorted order.
func (g *Group) DatasetNames() []string {
	names := make([]string, 0, len(g.datasets))
	for k := range g.datasets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies the group and its subtree.
func (g *Group) Clone() *Group {
	out := NewGroup()
	out.Attrs = g.Attrs.clone()
	if out.Attrs == nil {
		out.Attrs = Attrs{}
	}
	for name, c := range g.groups {
		out.groups[name] = c.Clone()
	}
	for name, d := range g.datasets {
		out.datasets[name] = d.Clone()
	}
	return out
}

// At resolves a slash-separated path of groups below g.
func (g *Group) At(path ...string) (*Group, bool) {
	cur := g
	for _, name := range path {
		next, ok := cur.groups[name]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// DatasetAt resolves a dataset at the end of a group path.
func (g *Group) DatasetAt(path ...string) (*Dataset, bool) {
	if len(path) == 0 {
		return nil, false
	}
	parent, ok := g.At(path[:len(path)-1]...)
	if !ok {
		return nil, false
	}
	return parent.Dataset(path[len(path)-1])
}
