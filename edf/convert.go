// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package edf

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cea-dtc/saxsnx/nexus"
)

// logger resolves at call time so log lines go through whatever handler
// the program has installed by then.
func logger() *slog.Logger { return slog.Default().With("service", "edf") }

// Settings steer the EDF to NXcanSAS conversion.  Header fields take
// precedence; settings fill what the acquisition software does not
// record.
type Settings struct {
	OutputDir    string
	DetectorName string  // overrides the DetectorModel header field
	Thickness    float64 // sample thickness when the header lacks one
	BeamSizeX    float64 // px, source beam half-width
	BeamSizeY    float64 // px, source beam half-height
	RefPath      string  // direct-beam container for absolute intensity
}

// Convert builds an NXcanSAS container from an EDF exposure and writes
// it next to the output directory.  It returns the container path.
//
// The raw image lands under /ENTRY/DATA together with the physical
// pixel-position mesh R (computed from beam center and pixel size) and
// a validity mask marking negative counts, the detector-gap value of
// the acquisition software.
func Convert(edfPath string, set Settings) (string, error) {
	img, err := Read(edfPath)
	if err != nil {
		return "", err
	}
	hdr := img.Header

	sample := hdr.Str("Sample")
	if sample == "" {
		sample = strings.TrimSuffix(filepath.Base(edfPath), filepath.Ext(edfPath))
	}
	experiment := hdr.Str("Geometry")
	if experiment == "" {
		experiment = "SAXS"
	}

	wavelength, err := hdr.Float("WaveLength") // m
	if err != nil {
		return "", err
	}
	sdd, err := hdr.Float("SampleDistance") // m
	if err != nil {
		return "", err
	}
	cx, err := hdr.Float("Center_1")
	if err != nil {
		return "", err
	}
	cy, err := hdr.Float("Center_2")
	if err != nil {
		return "", err
	}
	psx, err := hdr.Float("PSize_1") // m
	if err != nil {
		return "", err
	}
	psy, err := hdr.Float("PSize_2")
	if err != nil {
		return "", err
	}
	exposure, err := hdr.Float("ExposureTime")
	if err != nil {
		return "", err
	}
	alpha, _ := hdr.Float("alpha") // deg, incident angle
	delta, _ := hdr.Float("Delta") // deg, detector arm pitch
	gamma, _ := hdr.Float("Gamma") // deg, detector arm yaw

	detName := set.DetectorName
	if detName == "" {
		detName = hdr.Str("DetectorModel")
	}

	wavelengthNm, err := ConvertUnit(wavelength, "m", "nm")
	if err != nil {
		return "", err
	}
	sddMm, err := ConvertUnit(sdd, "m", "mm")
	if err != nil {
		return "", err
	}

	f := nexus.Create(outputPath(set.OutputDir, sample, experiment))
	entry := f.Entry()
	entry.Attrs["NX_class"] = "NXentry"
	entry.Attrs["canSAS_class"] = "SASentry"
	entry.SetDataset("experiment_type", nexus.NewScalarString(experiment))
	entry.SetDataset("definition", nexus.NewScalarString("NXcanSAS"))

	data := entry.EnsureGroup(nexus.DataGroup)
	data.Attrs["NX_class"] = "NXdata"
	data.Attrs["canSAS_class"] = "SASdata"
	data.Attrs["I_axes"] = "R"
	data.Attrs["Q_indices"] = []int64{0, 1}
	data.Attrs["mask_indices"] = []int64{0, 1}

	h := len(img.Data)
	w := len(img.Data[0])
	intens, err := nexus.NewFloatMatrix(img.Data)
	if err != nil {
		return "", err
	}
	intens.Attrs = nexus.Attrs{"units": "counts"}
	data.SetDataset("I", intens)

	mesh := make([]float64, h*w*2)
	mask := make([][]uint8, h)
	for i := 0; i < h; i++ {
		mask[i] = make([]uint8, w)
		for j := 0; j < w; j++ {
			mesh[(i*w+j)*2] = (float64(j) - cx) * psx
			mesh[(i*w+j)*2+1] = (float64(i) - cy) * psy
			if img.Data[i][j] < 0 {
				mask[i][j] = 1
			}
		}
	}
	rds, err := nexus.NewFloatsShaped([]int{h, w, 2}, mesh)
	if err != nil {
		return "", err
	}
	rds.Attrs = nexus.Attrs{"units": "m"}
	data.SetDataset("R", rds)
	mds, err := nexus.NewByteMatrix(mask)
	if err != nil {
		return "", err
	}
	data.SetDataset("mask", mds)

	inst := entry.EnsureGroup(nexus.InstrumentGroup)
	inst.Attrs["NX_class"] = "NXinstrument"
	inst.Attrs["canSAS_class"] = "SASinstrument"

	src := inst.EnsureGroup(nexus.SourceGroup)
	src.Attrs["NX_class"] = "NXsource"
	src.Attrs["canSAS_class"] = "SASsource"
	wl := nexus.NewScalarFloat(wavelengthNm)
	wl.Attrs = nexus.Attrs{"units": "nm"}
	src.SetDataset("incident_wavelength", wl)
	if set.BeamSizeX > 0 {
		src.SetDataset("beam_size_x", nexus.NewScalarFloat(set.BeamSizeX))
	}
	if set.BeamSizeY > 0 {
		src.SetDataset("beam_size_y", nexus.NewScalarFloat(set.BeamSizeY))
	}

	det := inst.EnsureGroup(nexus.DetectorGroup)
	det.Attrs["NX_class"] = "NXdetector"
	det.Attrs["canSAS_class"] = "SASdetector"
	det.SetDataset("name", nexus.NewScalarString(detName))
	det.SetDataset("beam_center_x", nexus.NewScalarFloat(cx))
	det.SetDataset("beam_center_y", nexus.NewScalarFloat(cy))
	det.SetDataset("yaw", scalarWithUnit(gamma, "deg"))
	det.SetDataset("pitch", scalarWithUnit(delta, "deg"))
	det.SetDataset("roll", scalarWithUnit(0, "deg"))
	det.SetDataset("SDD", scalarWithUnit(sddMm, "mm"))
	det.SetDataset("x_pixel_size", scalarWithUnit(psx, "m"))
	det.SetDataset("y_pixel_size", scalarWithUnit(psy, "m"))

	smp := entry.EnsureGroup(nexus.SampleGroup)
	smp.Attrs["NX_class"] = "NXsample"
	smp.Attrs["canSAS_class"] = "SASsample"
	smp.SetDataset("name", nexus.NewScalarString(sample))
	smp.SetDataset("yaw", scalarWithUnit(alpha, "deg"))
	thickness := set.Thickness
	if v, err := hdr.Float("SampleThickness"); err == nil {
		thickness = v
	}
	if thickness > 0 {
		smp.SetDataset("thickness", nexus.NewScalarFloat(thickness))
	}

	coll := entry.EnsureGroup(nexus.CollectionGroup)
	coll.Attrs["NX_class"] = "NXcollection"
	coll.SetDataset("exposition_time", scalarWithUnit(exposure, "s"))
	flag := nexus.NewScalarInt(0)
	if set.RefPath != "" {
		flag = nexus.NewScalarInt(1)
		flag.Attrs = nexus.Attrs{"dbpath": set.RefPath}
	}
	coll.SetDataset("do_absolute_intensity", flag)
	coll.SetDataset("run_id", nexus.NewScalarString(uuid.NewString()))
	coll.SetDataset("source_file", nexus.NewScalarString(filepath.Base(edfPath)))

	if err := f.Close(); err != nil {
		return "", err
	}
	logger().Info("converted", "edf", edfPath, "out", f.Path())
	return f.Path(), nil
}

func scalarWithUnit(v float64, unit string) *nexus.Dataset {
	d := nexus.NewScalarFloat(v)
	d.Attrs = nexus.Attrs{"units": unit}
	return d
}

func outputPath(dir, sample, experiment string) string {
	if dir == "" {
		dir = "."
	}
	os.MkdirAll(dir, 0o755)
	stamp := time.Now().Format("2006-01-02T15-04-05")
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.h5", sample, experiment, stamp))
}
