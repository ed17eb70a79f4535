// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package geometry places detector frames in an instrument geometry and
// reprojects them into reciprocal space.  It implements the stitching
// and reduction service consumed by the reduce package: configure,
// stitch, then cake / radial / azimuthal / directional reductions over
// the stitched image.
package geometry

import "strings"

// Detector describes a known detector model.
type Detector struct {
	Name      string
	Width     int     // pixels, horizontal
	Height    int     // pixels, vertical
	PixelSize float64 // m, square pixels
}

// Known models, matched by case-insensitive substring against the
// free-text identifier stored by the acquisition software.
var detectorTable = []struct {
	needle string
	det    Detector
}{
	{"dectris eiger2 si 1m", Detector{Name: "Eiger1M", Width: 1030, Height: 1065, PixelSize: 75e-6}},
	{"dectris eiger2 r 500k", Detector{Name: "Eiger500K", Width: 1030, Height: 514, PixelSize: 75e-6}},
}

// MatchDetector resolves a free-text detector identifier to a known
// model.  The second return is false when no pattern matches.
func MatchDetector(name string) (Detector, bool) {
	lower := strings.ToLower(name)
	for _, e := range detectorTable {
		if strings.Contains(lower, e.needle) {
			return e.det, true
		}
	}
	return Detector{}, false
}
