// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cea-dtc/saxsnx/nexus"
)

func TestProcessQSpacePersists(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "qspace.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)

	res, err := s.ProcessQSpace(QSpaceParams{Save: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rank())
	assert.Len(t, res.Image, 100)
	assert.Equal(t, []int{100, 100, 2}, res.Mesh.Shape)
	require.NoError(t, s.Close())

	f, err := nexus.Open(path)
	require.NoError(t, err)
	g, ok := f.Entry().Group(GroupQSpace)
	require.True(t, ok)
	i, ok := g.Dataset("I")
	require.True(t, ok)
	assert.Equal(t, []int{100, 100}, i.Shape)
	q, ok := g.Dataset("Q")
	require.True(t, ok)
	assert.Equal(t, []int{100, 100, 2}, q.Shape)
	assert.True(t, g.Has("mask"))
	assert.False(t, g.Has("Qdev"))

	p, ok := f.Entry().Group("PROCESS_Q_SPACE")
	require.True(t, ok)
	d, ok := p.Dataset("description")
	require.True(t, ok)
	desc, err := d.ScalarString()
	require.NoError(t, err)
	assert.Contains(t, desc, "qp range", "effective ranges are part of the provenance")
}

func TestProcessRadialAverageDefaults(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "radial.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.ProcessRadialAverage(NewRadialParams())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rank())
	assert.Len(t, res.X, 2000, "default point count")
	assert.Len(t, res.Y, 2000)
	assert.Contains(t, res.Description, "2000 points")

	// beam center inside the frame: both axes straddle zero
	qp, qz := s.Engine().Qp(), s.Engine().Qz()
	assert.InDelta(t, 0, radialDefaultMin(qp, qz), 1e-12)
	assert.InDelta(t, res.X[0], radialDefaultMin(qp, qz)+halfBin(res.X), 1e-9)
}

func halfBin(x []float64) float64 { return (x[1] - x[0]) / 2 }

func TestProcessCakingDefaults(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "cake.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	p := NewCakingParams()
	p.PtsAzi, p.PtsRad = 36, 50 // keep the test quick
	res, err := s.ProcessCaking(p)
	require.NoError(t, err)
	assert.Len(t, res.Image, 36)
	assert.Len(t, res.Image[0], 50)
	assert.Equal(t, []int{36, 50, 2}, res.Mesh.Shape)
	assert.Contains(t, res.Description, "azimuth [-180, 180]")
}

func TestProcessIntegrationsFullExtent(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "integ.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	hres, err := s.ProcessHorizontalIntegration(NewIntegrationParams())
	require.NoError(t, err)
	assert.Len(t, hres.X, 100, "full horizontal axis by default")

	vres, err := s.ProcessVerticalIntegration(NewIntegrationParams())
	require.NoError(t, err)
	assert.Len(t, vres.X, 100)
	assert.NotEqual(t, hres.GroupName, vres.GroupName)
}

func TestSessionIdempotentOverwrite(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "idem.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	p := NewRadialParams()
	p.Pts = 100
	p.Save = true
	_, err = s.ProcessRadialAverage(p)
	require.NoError(t, err)
	g, _ := s.File().Entry().Group(GroupRadial)
	first, _ := g.Dataset("I")
	snapshot := append([]float64(nil), first.Floats...)

	_, err = s.ProcessRadialAverage(p)
	require.NoError(t, err)
	g, _ = s.File().Entry().Group(GroupRadial)
	second, _ := g.Dataset("I")
	assert.Equal(t, snapshot, second.Floats)
}

func TestAbsoluteIntensityEndToEnd(t *testing.T) {
	dir := t.TempDir()

	refSpec := defaultSpec()
	refSpec.img = gaussian(100, 100, 50, 50, 5000, 3)
	refSpec.exposure = 1.0
	refPath := writeContainer(t, dir, "ref.h5", refSpec)

	spec := defaultSpec()
	spec.exposure = 2.0
	spec.thickness = 0.1
	spec.beamSize = 30
	spec.dbpath = refPath
	path := writeContainer(t, dir, "sample.h5", spec)

	s, err := OpenSession(path)
	require.NoError(t, err)

	res, err := s.ProcessAbsoluteIntensity(NewAbsoluteParams())
	require.NoError(t, err)
	require.NotNil(t, res)

	// mirror the calibration by hand: ROI of half-width 30 px around
	// (50, 50), rates per second, then the linear scaling factor
	roi := func(img [][]float64) float64 {
		var sum float64
		for i := 20; i <= 80; i++ {
			for j := 20; j <= 80; j++ {
				sum += img[i][j]
			}
		}
		return sum
	}
	sampleRate := roi(spec.img) / 2.0
	refRate := roi(refSpec.img) / 1.0
	wantTrans := sampleRate / refRate
	wantScale := sampleRate / (refRate * wantTrans * 0.1)

	assert.InEpsilon(t, wantTrans, res.Transmission, 1e-7)
	assert.InEpsilon(t, wantScale, res.Scale, 1e-7)
	assert.InEpsilon(t, spec.img[50][50]*wantScale, res.Image[50][50], 1e-7)

	// persist and round-trip
	res, err = s.ProcessAbsoluteIntensity(AbsoluteParams{
		ROIX: Unset(), ROIY: Unset(), Thickness: Unset(), Save: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NoError(t, s.Close())

	f, err := nexus.Open(path)
	require.NoError(t, err)
	g, ok := f.Entry().Group(GroupAbsolute)
	require.True(t, ok)
	r, ok := g.Dataset("R")
	require.True(t, ok)
	assert.Equal(t, []int{100, 100, 2}, r.Shape)
	i, ok := g.Dataset("I")
	require.True(t, ok)
	assert.InEpsilon(t, roi(spec.img)*wantScale, roiSumFlat(i, 20, 80), 1e-7)
}

// roiSumFlat sums a square window of a persisted rank-2 dataset.
func roiSumFlat(d *nexus.Dataset, lo, hi int) float64 {
	w := d.Shape[1]
	var sum float64
	for i := lo; i <= hi; i++ {
		for j := lo; j <= hi; j++ {
			sum += d.Floats[i*w+j]
		}
	}
	return sum
}

func TestAbsoluteIntensityNoReferenceIsNoOp(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "noref.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.ProcessAbsoluteIntensity(NewAbsoluteParams())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.False(t, s.File().Entry().Has(GroupAbsolute))
}

func TestAbsoluteIntensityMissingReferenceFile(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "badref.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	p := NewAbsoluteParams()
	p.RefPath = "/does/not/exist.h5"
	_, err = s.ProcessAbsoluteIntensity(p)
	require.Error(t, err, "unreadable reference propagates")
}

func TestDeleteGroupThenAbsent(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "del.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)

	p := NewRadialParams()
	p.Save = true
	_, err = s.ProcessRadialAverage(p)
	require.NoError(t, err)
	require.NoError(t, s.DeleteGroup(GroupRadial))
	require.NoError(t, s.Close())

	f, err := nexus.Open(path)
	require.NoError(t, err)
	assert.False(t, f.Entry().Has(GroupRadial))
}

func TestRadialProfileOfGaussianDecreases(t *testing.T) {
	path := writeContainer(t, t.TempDir(), "peak.h5", defaultSpec())
	s, err := OpenSession(path)
	require.NoError(t, err)
	defer s.Close()

	p := NewRadialParams()
	p.Pts = 50
	res, err := s.ProcessRadialAverage(p)
	require.NoError(t, err)

	// a centered Gaussian falls off monotonically in |Q|
	var last = math.Inf(1)
	checked := 0
	for i, v := range res.Y {
		if math.IsNaN(v) {
			continue
		}
		if checked > 0 {
			assert.LessOrEqual(t, v, last*1.01, "bin %d", i)
		}
		last = v
		checked++
	}
	assert.Greater(t, checked, 10)
}
