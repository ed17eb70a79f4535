// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import "math"

// Unset marks an optional range parameter as not supplied, letting the
// operation's default-range policy fill it from the session's axes.
func Unset() float64 { return math.NaN() }

func isSet(v float64) bool { return !math.IsNaN(v) }

func pick(v, def float64) float64 {
	if isSet(v) {
		return v
	}
	return def
}

func pickInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func minMax(a []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range a {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func straddlesZero(a []float64) bool {
	lo, hi := minMax(a)
	return lo <= 0 && hi >= 0
}

func minAbs(a []float64) float64 {
	m := math.Inf(1)
	for _, v := range a {
		if av := math.Abs(v); av < m {
			m = av
		}
	}
	return m
}

func maxAbs(a []float64) float64 {
	m := 0.0
	for _, v := range a {
		if av := math.Abs(v); av > m {
			m = av
		}
	}
	return m
}

// radialDefaultMin is the smallest scattering-vector magnitude reachable
// on the stitched axes.  It is zero only when both axes straddle zero;
// when one axis stays off-origin the minimum is that axis's own smallest
// magnitude; when both do, the two combine in quadrature.  Without this
// the default range would include an unreachable band near Q=0 whenever
// the detector does not cover the origin.
func radialDefaultMin(qp, qz []float64) float64 {
	sp, sz := straddlesZero(qp), straddlesZero(qz)
	switch {
	case sp && sz:
		return 0
	case sz: // only qz crosses zero
		return minAbs(qp)
	case sp: // only qp crosses zero
		return minAbs(qz)
	default:
		return math.Hypot(minAbs(qp), minAbs(qz))
	}
}

// radialDefaultMax is the largest magnitude reachable on the axes.
func radialDefaultMax(qp, qz []float64) float64 {
	return math.Hypot(maxAbs(qp), maxAbs(qz))
}
