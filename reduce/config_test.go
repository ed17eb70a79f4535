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

func TestExtractConfig(t *testing.T) {
	spec := defaultSpec()
	spec.yaw, spec.pitch, spec.roll = 10, 20, 30
	path := writeContainer(t, t.TempDir(), "cfg.h5", spec)

	f, err := nexus.Open(path)
	require.NoError(t, err)
	cfg, err := ExtractConfig(f)
	require.NoError(t, err)

	assert.InDelta(t, 0.1542e-9, cfg.Wavelength, 1e-18, "stored in nm, used in m")
	assert.Equal(t, "Eiger1M", cfg.Detector.Name)
	assert.Equal(t, 50.0, cfg.CenterX)
	assert.Equal(t, 50.0, cfg.CenterY)
	assert.Equal(t, 2000.0, cfg.SDD)

	deg := math.Pi / 180
	assert.InDelta(t, -10*deg, cfg.Rotation[0], 1e-12, "yaw is negated")
	assert.InDelta(t, 20*deg, cfg.Rotation[1], 1e-12, "pitch keeps its sign")
	assert.InDelta(t, -30*deg, cfg.Rotation[2], 1e-12, "roll is negated")
}

func TestExtractConfigUnknownDetector(t *testing.T) {
	spec := defaultSpec()
	spec.detector = "Frelon 4M"
	path := writeContainer(t, t.TempDir(), "unk.h5", spec)

	f, err := nexus.Open(path)
	require.NoError(t, err)
	_, err = ExtractConfig(f)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "unrecognized detector")
}

func TestExtractConfigMissingField(t *testing.T) {
	spec := defaultSpec()
	spec.omit = map[string]bool{"SDD": true}
	path := writeContainer(t, t.TempDir(), "missing.h5", spec)

	f, err := nexus.Open(path)
	require.NoError(t, err)
	_, err = ExtractConfig(f)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Field, "SDD")
	assert.Equal(t, "missing", cfgErr.Reason)
}
