// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRadialDefaultMin(t *testing.T) {
	// both axes straddle zero: the origin is reachable
	assert.InDelta(t, 0,
		radialDefaultMin([]float64{-2, 0, 5}, []float64{-1, 0, 3}), 1e-12)

	// only qz straddles: the smallest |qp| bounds the reachable radius
	assert.InDelta(t, 1,
		radialDefaultMin([]float64{1, 3, 5}, []float64{-3, 0, 3}), 1e-12)

	// only qp straddles: symmetric case on the other axis
	assert.InDelta(t, 1,
		radialDefaultMin([]float64{-3, 0, 3}, []float64{1, 3, 5}), 1e-12)

	// neither straddles: both minima combine in quadrature
	assert.InDelta(t, math.Sqrt(2*2+4*4),
		radialDefaultMin([]float64{2, 3, 5}, []float64{4, 6, 9}), 1e-12)
}

func TestRadialDefaultMax(t *testing.T) {
	assert.InDelta(t, math.Hypot(5, 9),
		radialDefaultMax([]float64{-2, 5}, []float64{4, 9}), 1e-12)
	assert.InDelta(t, math.Hypot(7, 3),
		radialDefaultMax([]float64{-7, 5}, []float64{-3, 1}), 1e-12)
}

func TestUnsetSentinel(t *testing.T) {
	assert.False(t, isSet(Unset()))
	assert.True(t, isSet(0))
	assert.Equal(t, 3.5, pick(3.5, 1))
	assert.Equal(t, 1.0, pick(Unset(), 1))
	assert.Equal(t, 7, pickInt(7, 2000))
	assert.Equal(t, 2000, pickInt(0, 2000))
}
