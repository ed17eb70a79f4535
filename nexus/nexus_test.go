// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package nexus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetConstructors(t *testing.T) {
	m, err := NewFloatMatrix([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, m.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, m.Floats)

	back, err := m.FloatMatrix()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, back[1])

	_, err = NewFloatMatrix([][]float64{{1, 2}, {3}})
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)

	s := NewScalarFloat(2.5)
	v, err := s.ScalarFloat()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	mesh, err := NewFloatsShaped([]int{2, 2, 2}, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	assert.Equal(t, 3, mesh.Rank())

	_, err = NewFloatsShaped([]int{2, 2}, []float64{1, 2, 3})
	require.ErrorAs(t, err, &shapeErr)
}

func TestByteMatrixFromInts(t *testing.T) {
	d := &Dataset{Shape: []int{2, 2}, Ints: []int64{0, 3, 0, 1}}
	m, err := d.ByteMatrix()
	require.NoError(t, err)
	assert.Equal(t, [][]uint8{{0, 1}, {0, 1}}, m)
}

func TestGroupTree(t *testing.T) {
	root := NewGroup()
	entry := root.EnsureGroup(EntryGroup)
	data := entry.EnsureGroup(DataGroup)
	data.SetDataset("I", NewFloats([]float64{1, 2}))

	d, ok := root.DatasetAt(EntryGroup, DataGroup, "I")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, d.Floats)

	_, ok = root.DatasetAt(EntryGroup, "NOPE", "I")
	assert.False(t, ok)

	clone := entry.Clone()
	cd, ok := clone.DatasetAt(DataGroup, "I")
	require.True(t, ok)
	cd.Floats[0] = 99
	assert.Equal(t, 1.0, d.Floats[0], "clone must not alias the original")

	data.Delete("I")
	assert.False(t, data.Has("I"))
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rt.h5")

	f := Create(path)
	entry := f.Entry()
	entry.Attrs["NX_class"] = "NXentry"
	data := entry.EnsureGroup(DataGroup)
	data.Attrs["canSAS_class"] = "SASdata"
	data.Attrs["Q_indices"] = []int64{0, 1}

	img, err := NewFloatMatrix([][]float64{{0, 1, 2}, {3, 4, 5}})
	require.NoError(t, err)
	img.Attrs = Attrs{"units": "counts"}
	data.SetDataset("I", img)

	mask, err := NewByteMatrix([][]uint8{{0, 0, 1}, {1, 0, 0}})
	require.NoError(t, err)
	data.SetDataset("mask", mask)

	mesh, err := NewFloatsShaped([]int{2, 3, 2}, []float64{0, 0, 1, 0, 2, 0, 0, 1, 1, 1, 2, 1})
	require.NoError(t, err)
	data.SetDataset("R", mesh)

	entry.SetDataset("experiment_type", NewScalarString("SAXS"))
	entry.EnsureGroup(SampleGroup).SetDataset("thickness", NewScalarFloat(0.1))

	require.NoError(t, f.Close())
	assert.NoError(t, f.Close(), "second close is a no-op")

	g, err := Open(path)
	require.NoError(t, err)

	re, ok := g.Root().Group(EntryGroup)
	require.True(t, ok)
	assert.Equal(t, "NXentry", re.Attrs["NX_class"])

	rd, ok := re.Group(DataGroup)
	require.True(t, ok)
	assert.Equal(t, "SASdata", rd.Attrs["canSAS_class"])

	ri, ok := rd.Dataset("I")
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, ri.Shape)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, ri.Floats)
	assert.Equal(t, "counts", ri.Attrs["units"])
	assert.NotContains(t, ri.Attrs, shapeAttr, "flattening is internal")

	rm, ok := rd.Dataset("mask")
	require.True(t, ok)
	mm, err := rm.ByteMatrix()
	require.NoError(t, err)
	assert.Equal(t, uint8(1), mm[0][2])

	rr, ok := rd.Dataset("R")
	require.True(t, ok)
	assert.Equal(t, []int{2, 3, 2}, rr.Shape)

	et, ok := re.Dataset("experiment_type")
	require.True(t, ok)
	s, err := et.ScalarString()
	require.NoError(t, err)
	assert.Equal(t, "SAXS", s)

	th, ok := re.DatasetAt(SampleGroup, "thickness")
	require.True(t, ok)
	v, err := th.ScalarFloat()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, v, 1e-12)

	// the marker dataset never surfaces in the tree
	assert.False(t, rd.Has(groupAttrMarker))
}

func TestFlushRepacksInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repack.h5")

	f := Create(path)
	big, err := NewFloatMatrix(make2d(64, 64))
	require.NoError(t, err)
	f.Entry().EnsureGroup(DataGroup).SetDataset("I", big)
	f.Entry().EnsureGroup("DATA_TMP").SetDataset("I", big.Clone())
	require.NoError(t, f.Flush())

	grown, err := os.Stat(path)
	require.NoError(t, err)

	f.Entry().Delete("DATA_TMP")
	require.NoError(t, f.Close())

	packed, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, packed.Size(), grown.Size(), "rewrite reclaims deleted groups")

	g, err := Open(path)
	require.NoError(t, err)
	_, ok := g.Entry().Group("DATA_TMP")
	assert.False(t, ok)
}

func TestOpenReadOnlyNeverWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.h5")
	f := Create(path)
	f.Entry().EnsureGroup(DataGroup).SetDataset("I", NewFloats([]float64{1}))
	require.NoError(t, f.Close())

	before, err := os.Stat(path)
	require.NoError(t, err)

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	ro.Entry().Delete(DataGroup)
	require.Error(t, ro.Flush())
	require.NoError(t, ro.Close())

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func make2d(h, w int) [][]float64 {
	out := make([][]float64, h)
	for i := range out {
		out[i] = make([]float64, w)
		for j := range out[i] {
			out[i][j] = float64(i*w + j)
		}
	}
	return out
}
