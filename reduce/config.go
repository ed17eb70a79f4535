// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"math"

	"github.com/cea-dtc/saxsnx/geometry"
	"github.com/cea-dtc/saxsnx/nexus"
)

// Canonical metadata locations below /ENTRY.
var (
	pathWavelength = []string{nexus.InstrumentGroup, nexus.SourceGroup, "incident_wavelength"}
	pathBeamSizeX  = []string{nexus.InstrumentGroup, nexus.SourceGroup, "beam_size_x"}
	pathBeamSizeY  = []string{nexus.InstrumentGroup, nexus.SourceGroup, "beam_size_y"}
	pathDetName    = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "name"}
	pathCenterX    = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "beam_center_x"}
	pathCenterY    = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "beam_center_y"}
	pathDetYaw     = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "yaw"}
	pathDetPitch   = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "pitch"}
	pathDetRoll    = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "roll"}
	pathSDD        = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "SDD"}
	pathPixelX     = []string{nexus.InstrumentGroup, nexus.DetectorGroup, "x_pixel_size"}
	pathIncidence  = []string{nexus.SampleGroup, "yaw"}
	pathThickness  = []string{nexus.SampleGroup, "thickness"}
	pathExposure   = []string{nexus.CollectionGroup, "exposition_time"}
	pathAbsFlag    = []string{nexus.CollectionGroup, "do_absolute_intensity"}
)

// ExtractConfig assembles the geometry configuration from the fixed
// metadata paths of an open container.  The detector identifier is
// resolved against the known-model table; the detector yaw and roll are
// negated to match the geometry service's axis convention.  Any missing
// field or unrecognized detector is a ConfigError.
func ExtractConfig(f *nexus.File) (geometry.Config, error) {
	var cfg geometry.Config
	entry := f.Entry()

	wavelength, err := requireFloat(f, entry, pathWavelength)
	if err != nil {
		return cfg, err
	}
	cfg.Wavelength = wavelength * 1e-9 // stored in nm

	alpha, err := requireFloat(f, entry, pathIncidence)
	if err != nil {
		return cfg, err
	}
	cfg.IncidentAngle = alpha * math.Pi / 180

	name, err := requireString(f, entry, pathDetName)
	if err != nil {
		return cfg, err
	}
	det, ok := geometry.MatchDetector(name)
	if !ok {
		return cfg, &ConfigError{File: f.Path(), Field: joinPath(pathDetName), Reason: "unrecognized detector " + name}
	}
	if px, ok := entry.DatasetAt(pathPixelX...); ok {
		if v, err := px.ScalarFloat(); err == nil && v > 0 {
			det.PixelSize = v
		}
	}
	cfg.Detector = det

	cfg.CenterX, err = requireFloat(f, entry, pathCenterX)
	if err != nil {
		return cfg, err
	}
	cfg.CenterY, err = requireFloat(f, entry, pathCenterY)
	if err != nil {
		return cfg, err
	}

	yaw, err := requireFloat(f, entry, pathDetYaw)
	if err != nil {
		return cfg, err
	}
	pitch, err := requireFloat(f, entry, pathDetPitch)
	if err != nil {
		return cfg, err
	}
	roll, err := requireFloat(f, entry, pathDetRoll)
	if err != nil {
		return cfg, err
	}
	// sign convention of the geometry service: yaw and roll flip
	cfg.Rotation = [3]float64{
		-yaw * math.Pi / 180,
		pitch * math.Pi / 180,
		-roll * math.Pi / 180,
	}

	cfg.SDD, err = requireFloat(f, entry, pathSDD)
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

func requireFloat(f *nexus.File, entry *nexus.Group, path []string) (float64, error) {
	d, ok := entry.DatasetAt(path...)
	if !ok {
		return 0, &ConfigError{File: f.Path(), Field: joinPath(path), Reason: "missing"}
	}
	v, err := d.ScalarFloat()
	if err != nil {
		return 0, &ConfigError{File: f.Path(), Field: joinPath(path), Reason: err.Error()}
	}
	return v, nil
}

func requireString(f *nexus.File, entry *nexus.Group, path []string) (string, error) {
	d, ok := entry.DatasetAt(path...)
	if !ok {
		return "", &ConfigError{File: f.Path(), Field: joinPath(path), Reason: "missing"}
	}
	v, err := d.ScalarString()
	if err != nil {
		return "", &ConfigError{File: f.Path(), Field: joinPath(path), Reason: err.Error()}
	}
	return v, nil
}

func joinPath(path []string) string {
	out := "/" + nexus.EntryGroup
	for _, p := range path {
		out += "/" + p
	}
	return out
}

// optionalFloat reads a scalar below /ENTRY, returning ok=false when
// the dataset is absent or malformed.
func optionalFloat(entry *nexus.Group, path []string) (float64, bool) {
	d, ok := entry.DatasetAt(path...)
	if !ok {
		return 0, false
	}
	v, err := d.ScalarFloat()
	if err != nil {
		return 0, false
	}
	return v, true
}
