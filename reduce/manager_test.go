// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-dtc/saxsnx/nexus"
)

func TestOpenFilesContinuesOnError(t *testing.T) {
	dir := t.TempDir()
	good := writeContainer(t, dir, "good.h5", defaultSpec())
	missing := filepath.Join(dir, "nope.h5")

	m, err := OpenFiles(good, missing)
	require.Error(t, err)
	var batch BatchError
	require.ErrorAs(t, err, &batch)
	assert.Contains(t, batch, missing)
	assert.NotContains(t, batch, good)

	// the surviving file still works
	assert.Equal(t, []string{good}, m.Paths())
	require.NoError(t, m.ProcessRadialAverage(NewRadialParams()))
	require.NoError(t, m.CloseAll())
}

func TestManagerBatchProcessing(t *testing.T) {
	dir := t.TempDir()
	a := writeContainer(t, dir, "a.h5", defaultSpec())
	b := writeContainer(t, dir, "b.h5", defaultSpec())

	m, err := OpenFiles(a, b)
	require.NoError(t, err)

	p := NewRadialParams()
	p.Pts = 100
	p.Save = true
	require.NoError(t, m.ProcessRadialAverage(p))
	require.NoError(t, m.CloseAll())

	for _, path := range []string{a, b} {
		f, err := nexus.Open(path)
		require.NoError(t, err)
		assert.True(t, f.Entry().Has(GroupRadial), path)
	}
}

func TestAddFilesRestitches(t *testing.T) {
	dir := t.TempDir()
	a := writeContainer(t, dir, "a.h5", defaultSpec())
	b := writeContainer(t, dir, "b.h5", defaultSpec())

	m, err := OpenFiles(a)
	require.NoError(t, err)
	require.NoError(t, m.ProcessQSpace(QSpaceParams{}))

	require.NoError(t, m.AddFiles(b))
	assert.Equal(t, []string{a, b}, m.Paths())

	// adding a path twice is a silent no-op
	require.NoError(t, m.AddFiles(b))
	assert.Len(t, m.Paths(), 2)

	p := NewRadialParams()
	p.Save = true
	require.NoError(t, m.ProcessRadialAverage(p))

	s, ok := m.Session(b)
	require.True(t, ok)
	assert.True(t, s.Stitched(), "late files catch up on the next operation")
	assert.True(t, s.File().Entry().Has(GroupRadial))
	require.NoError(t, m.CloseAll())
}

func TestManagerDeleteGroup(t *testing.T) {
	dir := t.TempDir()
	a := writeContainer(t, dir, "a.h5", defaultSpec())
	b := writeContainer(t, dir, "b.h5", defaultSpec())

	m, err := OpenFiles(a, b)
	require.NoError(t, err)

	p := NewRadialParams()
	p.Save = true
	require.NoError(t, m.ProcessRadialAverage(p))
	require.NoError(t, m.DeleteGroup(GroupRadial))
	require.NoError(t, m.CloseAll())

	for _, path := range []string{a, b} {
		f, err := nexus.Open(path)
		require.NoError(t, err)
		assert.False(t, f.Entry().Has(GroupRadial), path)
	}
}

func TestCloseAllIdempotent(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "c.h5", defaultSpec())
	m, err := OpenFiles(path)
	require.NoError(t, err)
	require.NoError(t, m.CloseAll())
	require.NoError(t, m.CloseAll())

	err = m.ProcessQSpace(QSpaceParams{})
	require.Error(t, err, "operations after CloseAll are refused")
}

func TestRunCollect(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "r.h5", defaultSpec())
	m, err := OpenFiles(path)
	require.NoError(t, err)
	defer m.CloseAll()

	args := NewArgs()
	args.Ints["pts"] = 100
	res, err := m.RunCollect("radial_average", args)
	require.NoError(t, err)
	require.Contains(t, res, path)
	assert.Len(t, res[path].X, 100)

	_, err = m.RunCollect("no_such_op", NewArgs())
	require.Error(t, err)

	// the skipped absolute-intensity no-op yields no result entry
	res, err = m.RunCollect("absolute_intensity", NewArgs())
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestOpsRegistryCoversAllOperations(t *testing.T) {
	names := make([]string, 0, len(Ops()))
	for _, op := range Ops() {
		names = append(names, op.Name)
	}
	assert.ElementsMatch(t, []string{
		"q_space", "caking", "radial_average", "azimuthal_average",
		"horizontal_integration", "vertical_integration", "absolute_intensity",
	}, names)

	op, ok := LookupOp("caking")
	require.True(t, ok)
	assert.Len(t, op.Params, 6)
	_, ok = LookupOp("unknown")
	assert.False(t, ok)
}
