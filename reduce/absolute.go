// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"fmt"
	"math"

	"github.com/cea-dtc/saxsnx/nexus"
)

// AbsoluteParams parameterizes the absolute-intensity calibration.
// Unset fields fall back to container metadata: the reference path to
// the dbpath attribute of the absolute-intensity flag, the ROI
// half-widths to the source beam sizes, the thickness to the sample
// thickness.
type AbsoluteParams struct {
	RefPath   string
	ROIX      float64 // px, half-width
	ROIY      float64 // px, half-height
	Thickness float64
	Save      bool
	GroupName string
}

// NewAbsoluteParams returns params with every field unset.
func NewAbsoluteParams() AbsoluteParams {
	return AbsoluteParams{ROIX: Unset(), ROIY: Unset(), Thickness: Unset()}
}

// ProcessAbsoluteIntensity scales the raw intensity to absolute units
// against a direct-beam reference exposure.  The raw intensity is
// summed in a rectangular ROI around each frame's beam center and
// divided by its exposure time; the ratio of the two rates gives the
// transmission, and the scaling factor is
//
//	sample rate / (reference rate * transmission * thickness)
//
// A plain linear calibration: no background subtraction, no efficiency
// correction.  When no reference path is supplied anywhere the
// operation logs and returns (nil, nil).
func (s *Session) ProcessAbsoluteIntensity(p AbsoluteParams) (*Result, error) {
	entry := s.file.Entry()

	refPath := p.RefPath
	if refPath == "" {
		refPath = s.referencePath()
	}
	if refPath == "" {
		logger().Info("no direct-beam reference configured, absolute intensity skipped", "file", s.path)
		return nil, nil
	}

	roiX := p.ROIX
	if !isSet(roiX) {
		v, ok := optionalFloat(entry, pathBeamSizeX)
		if !ok {
			return nil, &ConfigError{File: s.path, Field: joinPath(pathBeamSizeX), Reason: "missing and no ROI half-width supplied"}
		}
		roiX = v
	}
	roiY := p.ROIY
	if !isSet(roiY) {
		v, ok := optionalFloat(entry, pathBeamSizeY)
		if !ok {
			return nil, &ConfigError{File: s.path, Field: joinPath(pathBeamSizeY), Reason: "missing and no ROI half-height supplied"}
		}
		roiY = v
	}
	thickness := p.Thickness
	if !isSet(thickness) {
		v, ok := optionalFloat(entry, pathThickness)
		if !ok {
			return nil, &ConfigError{File: s.path, Field: joinPath(pathThickness), Reason: "missing and no thickness supplied"}
		}
		thickness = v
	}
	if thickness <= 0 {
		return nil, &ConfigError{File: s.path, Field: joinPath(pathThickness), Reason: fmt.Sprintf("non-positive thickness %g", thickness)}
	}

	exposure, err := requireFloat(s.file, entry, pathExposure)
	if err != nil {
		return nil, err
	}

	ref, err := nexus.OpenReadOnly(refPath)
	if err != nil {
		return nil, fmt.Errorf("reduce: open reference %s: %w", refPath, err)
	}
	defer ref.Close()
	refEntry := ref.Entry()
	refI, err := entryImage(ref)
	if err != nil {
		return nil, err
	}
	refCX, err := requireFloat(ref, refEntry, pathCenterX)
	if err != nil {
		return nil, err
	}
	refCY, err := requireFloat(ref, refEntry, pathCenterY)
	if err != nil {
		return nil, err
	}
	refExposure, err := requireFloat(ref, refEntry, pathExposure)
	if err != nil {
		return nil, err
	}

	sampleRate := roiSum(s.rawI, s.cfg.CenterX, s.cfg.CenterY, roiX, roiY) / exposure
	refRate := roiSum(refI, refCX, refCY, roiX, roiY) / refExposure
	if refRate == 0 {
		return nil, fmt.Errorf("reduce: %s: reference ROI rate is zero", refPath)
	}
	transmission := sampleRate / refRate
	scale := sampleRate / (refRate * transmission * thickness)

	out := make([][]float64, len(s.rawI))
	for i, row := range s.rawI {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = v * scale
		}
	}

	mesh, ok := entry.DatasetAt(nexus.DataGroup, "R")
	if !ok {
		return nil, &ConfigError{File: s.path, Field: "/ENTRY/DATA/R", Reason: "missing"}
	}

	r := &Result{
		Op:        "absolute_intensity",
		Symbol:    "R",
		GroupName: pickName(p.GroupName, GroupAbsolute),
		Description: fmt.Sprintf(
			"Absolute-intensity calibration against %s.\nROI half-widths (%g, %g) px, thickness %g, transmission %.6g, scaling factor %.6g.",
			refPath, roiX, roiY, thickness, transmission, scale),
		Image:        out,
		Mesh:         mesh.Clone(),
		Mask:         s.rawMask,
		Transmission: transmission,
		Scale:        scale,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// referencePath reads the dbpath attribute off the absolute-intensity
// flag dataset, empty when not configured.
func (s *Session) referencePath() string {
	d, ok := s.file.Entry().DatasetAt(pathAbsFlag...)
	if !ok {
		return ""
	}
	switch v := d.Attrs["dbpath"].(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// entryImage loads /ENTRY/DATA/I of a container as a matrix.
func entryImage(f *nexus.File) ([][]float64, error) {
	d, ok := f.Entry().DatasetAt(nexus.DataGroup, "I")
	if !ok {
		return nil, &ConfigError{File: f.Path(), Field: "/ENTRY/DATA/I", Reason: "missing"}
	}
	m, err := d.FloatMatrix()
	if err != nil {
		return nil, &ConfigError{File: f.Path(), Field: "/ENTRY/DATA/I", Reason: err.Error()}
	}
	return m, nil
}

// roiSum sums intensity inside the rectangle of half-widths (rx, ry)
// centered on (cx, cy), clipped to the image bounds.
func roiSum(img [][]float64, cx, cy, rx, ry float64) float64 {
	i0 := int(math.Ceil(cy - ry))
	i1 := int(math.Floor(cy + ry))
	j0 := int(math.Ceil(cx - rx))
	j1 := int(math.Floor(cx + rx))
	var sum float64
	for i := i0; i <= i1; i++ {
		if i < 0 || i >= len(img) {
			continue
		}
		for j := j0; j <= j1; j++ {
			if j < 0 || j >= len(img[i]) {
				continue
			}
			sum += img[i][j]
		}
	}
	return sum
}
