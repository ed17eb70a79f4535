// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchDetector(t *testing.T) {
	det, ok := MatchDetector("DECTRIS EIGER2 Si 1M (S/N E-02-0281)")
	require.True(t, ok)
	assert.Equal(t, "Eiger1M", det.Name)
	assert.Equal(t, 1030, det.Width)
	assert.Equal(t, 1065, det.Height)
	assert.Equal(t, 75e-6, det.PixelSize)

	det, ok = MatchDetector("dectris eiger2 r 500k")
	require.True(t, ok)
	assert.Equal(t, "Eiger500K", det.Name)
	assert.Equal(t, 514, det.Height)

	_, ok = MatchDetector("Pilatus 300K")
	assert.False(t, ok)
	_, ok = MatchDetector("")
	assert.False(t, ok)
}
