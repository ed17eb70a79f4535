// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

// Package plot renders reduction results to image files: profiles as
// line plots, images as heat maps.
package plot

import (
	"math"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Render1D writes a profile as a line plot.  NaN points (empty bins)
// are dropped.
func Render1D(path, title, xLabel, yLabel string, x, y []float64) error {
	p := hplot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	var xys plotter.XYs
	for i := range x {
		if math.IsNaN(y[i]) {
			continue
		}
		xys = append(xys, plotter.XY{X: x[i], Y: y[i]})
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	p.Add(line, hplot.NewGrid())
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}

// Render2D writes an image as a heat map.  The axes give the physical
// coordinates of the columns and rows of img.
func Render2D(path, title, xLabel, yLabel string, xAxis, yAxis []float64, img [][]float64) error {
	p := hplot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	g := &grid{x: xAxis, y: yAxis, z: img}
	g.clampNaN()
	hm := plotter.NewHeatMap(g, moreland.Kindlmann().Palette(255))
	p.Add(hm)
	return p.Save(6*vg.Inch, 5*vg.Inch, path)
}

// grid adapts an image plus its axes to plotter.GridXYZ.
type grid struct {
	x, y []float64
	z    [][]float64
	min  float64
}

func (g *grid) Dims() (c, r int) { return len(g.x), len(g.y) }
func (g *grid) X(c int) float64  { return g.x[c] }
func (g *grid) Y(r int) float64  { return g.y[r] }

func (g *grid) Z(c, r int) float64 {
	v := g.z[r][c]
	if math.IsNaN(v) {
		return g.min
	}
	return v
}

// clampNaN maps empty bins to the finite minimum so the palette range
// stays well defined.
func (g *grid) clampNaN() {
	g.min = math.Inf(1)
	for _, row := range g.z {
		for _, v := range row {
			if !math.IsNaN(v) && v < g.min {
				g.min = v
			}
		}
	}
	if math.IsInf(g.min, 1) {
		g.min = 0
	}
}
