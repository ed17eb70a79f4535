// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package nexus

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/robert-malhotra/go-hdf5/hdf5"
)

// logger resolves at call time so log lines go through whatever handler
// the program has installed by then.
func logger() *slog.Logger { return slog.Default().With("service", "nexus") }

// The HDF5 writer encodes flat slices only and cannot attach attributes
// to groups.  Multi-dimensional data is therefore stored flattened in
// row-major order with its logical dimensions in a "shape" attribute,
// and group attributes ride on a reserved marker dataset.  The loader
// understands both conventions and genuine N-D datasets from other
// producers.
const (
	shapeAttr       = "shape"
	groupAttrMarker = "_group_attrs"
)

// File is an open container.  The tree is held in memory; Flush and
// Close materialize it to disk by writing a fresh file and renaming it
// over the original, which is also the repack step.
type File struct {
	path     string
	root     *Group
	readonly bool
	closed   bool
}

// Create returns a new empty container bound to path.  Nothing is
// written until Flush or Close.
func Create(path string) *File {
	return &File{path: path, root: NewGroup()}
}

// Open loads the container at path for read-write use.
func Open(path string) (*File, error) {
	root, err := load(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, root: root}, nil
}

// OpenReadOnly loads the container at path.  Close is a no-op; the file
// on disk is never rewritten.
func OpenReadOnly(path string) (*File, error) {
	root, err := load(path)
	if err != nil {
		return nil, err
	}
	return &File{path: path, root: root, readonly: true}, nil
}

// Path returns the bound file path.
func (f *File) Path() string { return f.path }

// Root returns the container root group.
func (f *File) Root() *Group { return f.root }

// Entry returns the /ENTRY group, creating it if absent.
func (f *File) Entry() *Group { return f.root.EnsureGroup(EntryGroup) }

// Flush writes the live tree to a fresh file and renames it over the
// bound path.
func (f *File) Flush() error {
	if f.readonly {
		return fmt.Errorf("nexus: %s opened read-only", f.path)
	}
	if f.closed {
		return fmt.Errorf("nexus: %s already closed", f.path)
	}
	tmp := f.path + ".repack.tmp"
	if err := store(tmp, f.root); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("nexus: flush %s: %w", f.path, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("nexus: flush %s: %w", f.path, err)
	}
	return nil
}

// Close flushes (unless read-only) and releases the file.  Calling
// Close again is a no-op.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	if f.readonly {
		f.closed = true
		return nil
	}
	err := f.Flush()
	f.closed = true
	return err
}

// load reads a container file into a tree.
func load(path string) (*Group, error) {
	hf, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nexus: open %s: %w", path, err)
	}
	defer hf.Close()
	root, err := loadGroup(hf.Root())
	if err != nil {
		return nil, fmt.Errorf("nexus: read %s: %w", path, err)
	}
	return root, nil
}

func loadGroup(hg *hdf5.Group) (*Group, error) {
	g := NewGroup()
	for _, name := range hg.Attrs() {
		v, err := hg.Attr(name).Value()
		if err != nil {
			return nil, fmt.Errorf("group attr %q: %w", name, err)
		}
		g.Attrs[name] = v
	}
	members, err := hg.Members()
	if err != nil {
		return nil, err
	}
	for _, name := range members {
		if child, err := hg.OpenGroup(name); err == nil {
			sub, err := loadGroup(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			g.groups[name] = sub
			continue
		}
		hd, err := hg.OpenDataset(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if name == groupAttrMarker {
			for _, an := range hd.Attrs() {
				v, err := hd.Attr(an).Value()
				if err != nil {
					return nil, fmt.Errorf("group attr %q: %w", an, err)
				}
				g.Attrs[an] = v
			}
			continue
		}
		d, err := loadDataset(hd)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		g.datasets[name] = d
	}
	return g, nil
}

func loadDataset(hd *hdf5.Dataset) (*Dataset, error) {
	d := &Dataset{Attrs: Attrs{}}
	for _, name := range hd.Attrs() {
		v, err := hd.Attr(name).Value()
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", name, err)
		}
		d.Attrs[name] = v
	}

	switch class := int(hd.DtypeClass()); class {
	case 1: // floating point
		v, err := hd.ReadFloat64()
		if err != nil {
			return nil, err
		}
		d.Floats = v
	case 0: // fixed point
		if hd.DtypeSize() == 1 {
			v, err := hd.ReadUint8()
			if err != nil {
				s, err2 := hd.ReadInt8()
				if err2 != nil {
					return nil, err
				}
				v = make([]uint8, len(s))
				for i, x := range s {
					v[i] = uint8(x)
				}
			}
			d.Bytes = v
		} else {
			v, err := readInts(hd)
			if err != nil {
				return nil, err
			}
			d.Ints = v
		}
	case 3, 9: // fixed and variable length strings
		v, err := hd.ReadString()
		if err != nil {
			return nil, err
		}
		d.Strings = v
	default:
		return nil, fmt.Errorf("unsupported datatype class %d", class)
	}

	d.Shape = logicalShape(hd, d)
	return d, nil
}

// readInts decodes a fixed-point dataset of any width into int64s.
func readInts(hd *hdf5.Dataset) ([]int64, error) {
	if v, err := hd.ReadInt64(); err == nil {
		return v, nil
	}
	if v, err := hd.ReadInt32(); err == nil {
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, nil
	}
	if v, err := hd.ReadUint64(); err == nil {
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, nil
	}
	if v, err := hd.ReadUint32(); err == nil {
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, nil
	}
	v, err := hd.ReadInt16()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out, nil
}

// logicalShape reconciles the on-disk dataspace with the flattening
// convention.  A "shape" attribute wins over the stored dims.
func logicalShape(hd *hdf5.Dataset, d *Dataset) []int {
	if raw, ok := d.Attrs[shapeAttr]; ok {
		if dims, ok := toIntSlice(raw); ok && numElems(dims) == d.dataLen() {
			delete(d.Attrs, shapeAttr)
			return dims
		}
	}
	dims := hd.Shape()
	if len(dims) == 0 {
		return []int{1}
	}
	out := make([]int, len(dims))
	for i, v := range dims {
		out[i] = int(v)
	}
	return out
}

func (d *Dataset) dataLen() int {
	switch {
	case d.Floats != nil:
		return len(d.Floats)
	case d.Ints != nil:
		return len(d.Ints)
	case d.Bytes != nil:
		return len(d.Bytes)
	default:
		return len(d.Strings)
	}
}

func toIntSlice(v interface{}) ([]int, bool) {
	switch x := v.(type) {
	case []int64:
		out := make([]int, len(x))
		for i, n := range x {
			out[i] = int(n)
		}
		return out, true
	case []int32:
		out := make([]int, len(x))
		for i, n := range x {
			out[i] = int(n)
		}
		return out, true
	case int64:
		return []int{int(x)}, true
	default:
		return nil, false
	}
}

// store writes the tree to a fresh HDF5 file at path.
func store(path string, root *Group) error {
	hf, err := hdf5.Create(path)
	if err != nil {
		return err
	}
	if err := storeGroup(hf.Root(), root); err != nil {
		hf.Close()
		return err
	}
	return hf.Close()
}

func storeGroup(hg *hdf5.Group, g *Group) error {
	if len(g.Attrs) > 0 {
		opts := make([]hdf5.DatasetOption, 0, len(g.Attrs))
		for _, name := range g.Attrs.Names() {
			opts = append(opts, hdf5.WithAttribute(name, g.Attrs[name]))
		}
		if _, err := hg.CreateDataset(groupAttrMarker, []int8{0}, opts...); err != nil {
			return fmt.Errorf("group attrs: %w", err)
		}
	}
	for _, name := range g.DatasetNames() {
		if err := storeDataset(hg, name, g.datasets[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, name := range g.Groups() {
		child, err := hg.CreateGroup(name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := storeGroup(child, g.groups[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func storeDataset(hg *hdf5.Group, name string, d *Dataset) error {
	var opts []hdf5.DatasetOption
	for _, an := range d.Attrs.Names() {
		opts = append(opts, hdf5.WithAttribute(an, d.Attrs[an]))
	}
	if len(d.Shape) > 1 {
		dims := make([]int64, len(d.Shape))
		for i, v := range d.Shape {
			dims[i] = int64(v)
		}
		opts = append(opts, hdf5.WithAttribute(shapeAttr, dims))
	}

	var data interface{}
	switch {
	case d.Floats != nil:
		data = d.Floats
	case d.Ints != nil:
		data = d.Ints
	case d.Bytes != nil:
		data = d.Bytes
	case d.Strings != nil:
		data = d.Strings
	default:
		data = []float64{}
	}
	if _, err := hg.CreateDataset(name, data, opts...); err != nil {
		return err
	}
	return nil
}
