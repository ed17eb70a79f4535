// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cea-dtc/saxsnx/nexus"
)

// containerSpec parameterizes the synthetic containers the tests build.
type containerSpec struct {
	detector  string
	cx, cy    float64
	yaw       float64 // deg
	pitch     float64
	roll      float64
	exposure  float64
	thickness float64
	beamSize  float64 // px, written as beam_size_x and _y when > 0
	dbpath    string
	img       [][]float64
	omit      map[string]bool // leaf names to leave out
}

func defaultSpec() containerSpec {
	return containerSpec{
		detector:  "DECTRIS EIGER2 Si 1M",
		cx:        50,
		cy:        50,
		exposure:  1.0,
		thickness: 0.1,
		img:       gaussian(100, 100, 50, 50, 1000, 5),
	}
}

// gaussian builds an h x w image with a peak of amplitude a and width
// sigma at (cx, cy).
func gaussian(h, w int, cx, cy, a, sigma float64) [][]float64 {
	img := make([][]float64, h)
	for i := range img {
		img[i] = make([]float64, w)
		for j := range img[i] {
			d2 := (float64(i)-cy)*(float64(i)-cy) + (float64(j)-cx)*(float64(j)-cx)
			img[i][j] = a * math.Exp(-d2/(2*sigma*sigma))
		}
	}
	return img
}

// writeContainer materializes a canonical container for spec and
// returns its path.
func writeContainer(t *testing.T, dir, name string, spec containerSpec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f := nexus.Create(path)
	entry := f.Entry()
	entry.Attrs["NX_class"] = "NXentry"

	h := len(spec.img)
	w := len(spec.img[0])

	data := entry.EnsureGroup(nexus.DataGroup)
	data.Attrs["canSAS_class"] = "SASdata"
	img, err := nexus.NewFloatMatrix(spec.img)
	require.NoError(t, err)
	data.SetDataset("I", img)

	mesh := make([]float64, h*w*2)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			mesh[(i*w+j)*2] = (float64(j) - spec.cx) * 75e-6
			mesh[(i*w+j)*2+1] = (float64(i) - spec.cy) * 75e-6
		}
	}
	rds, err := nexus.NewFloatsShaped([]int{h, w, 2}, mesh)
	require.NoError(t, err)
	data.SetDataset("R", rds)

	mask := make([][]uint8, h)
	for i := range mask {
		mask[i] = make([]uint8, w)
	}
	mds, err := nexus.NewByteMatrix(mask)
	require.NoError(t, err)
	data.SetDataset("mask", mds)

	src := entry.EnsureGroup(nexus.InstrumentGroup).EnsureGroup(nexus.SourceGroup)
	if !spec.omit["incident_wavelength"] {
		src.SetDataset("incident_wavelength", nexus.NewScalarFloat(0.1542)) // nm
	}
	if spec.beamSize > 0 {
		src.SetDataset("beam_size_x", nexus.NewScalarFloat(spec.beamSize))
		src.SetDataset("beam_size_y", nexus.NewScalarFloat(spec.beamSize))
	}

	det := entry.EnsureGroup(nexus.InstrumentGroup).EnsureGroup(nexus.DetectorGroup)
	det.SetDataset("name", nexus.NewScalarString(spec.detector))
	det.SetDataset("beam_center_x", nexus.NewScalarFloat(spec.cx))
	det.SetDataset("beam_center_y", nexus.NewScalarFloat(spec.cy))
	det.SetDataset("yaw", nexus.NewScalarFloat(spec.yaw))
	det.SetDataset("pitch", nexus.NewScalarFloat(spec.pitch))
	det.SetDataset("roll", nexus.NewScalarFloat(spec.roll))
	det.SetDataset("SDD", nexus.NewScalarFloat(2000))
	det.SetDataset("x_pixel_size", nexus.NewScalarFloat(75e-6))
	det.SetDataset("y_pixel_size", nexus.NewScalarFloat(75e-6))

	smp := entry.EnsureGroup(nexus.SampleGroup)
	smp.SetDataset("yaw", nexus.NewScalarFloat(0))
	if spec.thickness > 0 {
		smp.SetDataset("thickness", nexus.NewScalarFloat(spec.thickness))
	}

	coll := entry.EnsureGroup(nexus.CollectionGroup)
	coll.SetDataset("exposition_time", nexus.NewScalarFloat(spec.exposure))
	flag := nexus.NewScalarInt(0)
	if spec.dbpath != "" {
		flag = nexus.NewScalarInt(1)
		flag.Attrs = nexus.Attrs{"dbpath": spec.dbpath}
	}
	coll.SetDataset("do_absolute_intensity", flag)

	for leaf := range spec.omit {
		removeLeaf(entry, leaf)
	}

	require.NoError(t, f.Close())
	return path
}

func removeLeaf(g *nexus.Group, leaf string) {
	g.Delete(leaf)
	for _, name := range g.Groups() {
		child, _ := g.Group(name)
		removeLeaf(child, leaf)
	}
}
