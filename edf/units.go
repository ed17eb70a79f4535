// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package edf

import (
	"fmt"
	"math"
)

// Unit tables for the header fields that carry tagged quantities.
// Factors convert to the base unit of each family (m, rad, s).
var unitFamilies = map[string]map[string]float64{
	"length": {
		"m": 1, "mm": 1e-3, "um": 1e-6, "micron": 1e-6,
		"nm": 1e-9, "angstrom": 1e-10, "A": 1e-10,
	},
	"angle": {
		"rad": 1, "mrad": 1e-3, "deg": math.Pi / 180, "degree": math.Pi / 180,
	},
	"time": {
		"s": 1, "ms": 1e-3, "us": 1e-6,
	},
}

// ConvertUnit converts a value between two units of the same family.
// Units from different families do not convert.
func ConvertUnit(v float64, from, to string) (float64, error) {
	if from == to {
		return v, nil
	}
	for _, table := range unitFamilies {
		ff, okf := table[from]
		ft, okt := table[to]
		if okf && okt {
			return v * ff / ft, nil
		}
		if okf || okt {
			return 0, fmt.Errorf("edf: cannot convert %q to %q", from, to)
		}
	}
	return 0, fmt.Errorf("edf: unknown units %q, %q", from, to)
}
