// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package geometry

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
)

// ErrNotStitched is returned by reductions invoked before Stitch.
var ErrNotStitched = errors.New("geometry: session not stitched")

// Config fixes the instrument geometry for one session.
type Config struct {
	Wavelength    float64 // m
	IncidentAngle float64 // rad
	Detector      Detector
	CenterX       float64    // px
	CenterY       float64    // px
	Rotation      [3]float64 // rad, applied about y, x, z in that order
	SDD           float64    // mm, sample to detector
	BeamStop      [2]float64 // px, default origin
}

// Frame is one raw detector exposure.  Mask is true where a pixel is
// invalid and must be excluded from every reduction.
type Frame struct {
	I    [][]float64
	Mask [][]bool
}

// Engine is the stitching and reduction service.  A session is
// single-writer: the mask and rotation are session-wide state that must
// be re-set before each reduction, and no two reductions may run
// concurrently against one Engine.
type Engine interface {
	SetMask(mask [][]bool)
	SetRotation(rot [3]float64)
	Stitch(frames []Frame) error

	Image() [][]float64
	StitchedMask() [][]bool
	Qp() []float64
	Qz() []float64

	Cake(aziMin, aziMax float64, ptsAzi int, radMin, radMax float64, ptsRad int) (cake [][]float64, q, chi []float64, err error)
	RadialAverage(rMin, rMax, angMin, angMax float64, pts int) (q, i []float64, err error)
	AzimuthalAverage(rMin, rMax float64, nptRad int, angMin, angMax float64, nptAzi int) (chi, i []float64, err error)
	HorizontalIntegration(qpMin, qpMax, qzMin, qzMax float64) (q, i []float64, err error)
	VerticalIntegration(qpMin, qpMax, qzMin, qzMax float64) (q, i []float64, err error)
}

// Transmission implements Engine for transmission scattering: the
// incident beam crosses the sample and hits the detector face on, and
// every pixel maps to a reciprocal-space point from its position
// relative to the beam center.
type Transmission struct {
	cfg  Config
	mask [][]bool
	rot  [3]float64

	stitched bool
	img      [][]float64
	smask    [][]bool
	qpPix    [][]float64 // per-pixel horizontal component, 1/angstrom
	qzPix    [][]float64 // per-pixel vertical component
	qp       []float64   // axis along the beam-center row
	qz       []float64   // axis along the beam-center column, ascending
}

// NewTransmission returns an unstitched session for the given geometry.
func NewTransmission(cfg Config) *Transmission {
	t := &Transmission{cfg: cfg}
	t.rot = cfg.Rotation
	return t
}

// SetMask installs the validity mask used by the next reduction.
func (t *Transmission) SetMask(mask [][]bool) { t.mask = mask }

// SetRotation installs the detector rotation used by the next Stitch.
func (t *Transmission) SetRotation(rot [3]float64) { t.rot = rot }

// Stitch combines the frames into a single image and derives the
// per-pixel reciprocal-space coordinates.  Frames must share one shape;
// overlapping exposures are averaged.  Row 0 of the stitched image is
// the bottom of the detector, so both axes come out ascending.
func (t *Transmission) Stitch(frames []Frame) error {
	if len(frames) == 0 {
		return errors.New("geometry: no frames to stitch")
	}
	h := len(frames[0].I)
	if h == 0 {
		return errors.New("geometry: empty frame")
	}
	w := len(frames[0].I[0])

	img := make([][]float64, h)
	smask := make([][]bool, h)
	for i := range img {
		img[i] = make([]float64, w)
		smask[i] = make([]bool, w)
	}
	for fi, fr := range frames {
		if len(fr.I) != h || len(fr.I[0]) != w {
			return fmt.Errorf("geometry: frame %d shape %dx%d, want %dx%d", fi, len(fr.I), len(fr.I[0]), h, w)
		}
		for i := 0; i < h; i++ {
			// flip vertically so row 0 is the detector bottom
			src := h - 1 - i
			for j := 0; j < w; j++ {
				img[i][j] += fr.I[src][j] / float64(len(frames))
				if fr.Mask != nil && fr.Mask[src][j] {
					smask[i][j] = true
				}
			}
		}
	}

	k := 2 * math.Pi / (t.cfg.Wavelength * 1e10) // 1/angstrom
	dist := t.cfg.SDD * 1e-3
	ps := t.cfg.Detector.PixelSize
	cx := t.cfg.CenterX
	cyFlipped := float64(h-1) - t.cfg.CenterY

	t.qpPix = make([][]float64, h)
	t.qzPix = make([][]float64, h)
	for i := 0; i < h; i++ {
		t.qpPix[i] = make([]float64, w)
		t.qzPix[i] = make([]float64, w)
		for j := 0; j < w; j++ {
			qp, qz := t.pixelQ(k, dist, ps, float64(j)-cx, float64(i)-cyFlipped)
			t.qpPix[i][j] = qp
			t.qzPix[i][j] = qz
		}
	}

	// axis arrays sampled through the beam center
	ci := clampIndex(int(math.Round(cyFlipped)), h)
	cj := clampIndex(int(math.Round(cx)), w)
	t.qp = append([]float64(nil), t.qpPix[ci]...)
	t.qz = make([]float64, h)
	for i := 0; i < h; i++ {
		t.qz[i] = t.qzPix[i][cj]
	}

	t.img = img
	t.smask = smask
	t.stitched = true
	return nil
}

// pixelQ maps a pixel offset from the beam center (in pixels, y up) to
// reciprocal-space components.  The detector rotation tilts the pixel
// position before the scattering direction is taken; the incident angle
// tilts the sample frame about the horizontal axis.
func (t *Transmission) pixelQ(k, dist, ps, dx, dy float64) (qp, qz float64) {
	x, y, z := rotate(t.rot, dx*ps, dy*ps, 0)
	z += dist
	n := math.Sqrt(x*x + y*y + z*z)
	ux, uy, uz := x/n, y/n, z/n

	// sample tilt about the horizontal axis
	alpha := t.cfg.IncidentAngle
	uy = uy*math.Cos(alpha) - uz*math.Sin(alpha)

	qp = k * ux
	qz = k * uy
	return qp, qz
}

// rotate applies the session rotation: yaw about the vertical axis,
// pitch about the horizontal axis, roll about the beam axis.
func rotate(rot [3]float64, x, y, z float64) (float64, float64, float64) {
	// roll (beam axis)
	c, s := math.Cos(rot[2]), math.Sin(rot[2])
	x, y = x*c-y*s, x*s+y*c
	// pitch (horizontal axis)
	c, s = math.Cos(rot[1]), math.Sin(rot[1])
	y, z = y*c-z*s, y*s+z*c
	// yaw (vertical axis)
	c, s = math.Cos(rot[0]), math.Sin(rot[0])
	x, z = x*c+z*s, -x*s+z*c
	return x, y, z
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Image returns the stitched intensity image, row 0 at the bottom.
func (t *Transmission) Image() [][]float64 { return t.img }

// StitchedMask returns the combined validity mask of the stitch.
func (t *Transmission) StitchedMask() [][]bool { return t.smask }

// Qp returns the horizontal reciprocal-space axis, 1/angstrom.
func (t *Transmission) Qp() []float64 { return t.qp }

// Qz returns the vertical reciprocal-space axis, 1/angstrom.
func (t *Transmission) Qz() []float64 { return t.qz }

// masked reports whether pixel (i,j) is excluded by either the session
// mask or the stitched mask.
func (t *Transmission) masked(i, j int) bool {
	if t.smask[i][j] {
		return true
	}
	if t.mask != nil && i < len(t.mask) && j < len(t.mask[i]) {
		return t.mask[i][j]
	}
	return false
}

// chi is the azimuth of a reciprocal-space point in degrees, zero along
// the positive horizontal axis, range (-180, 180].
func chiDeg(qp, qz float64) float64 {
	return math.Atan2(qz, qp) * 180 / math.Pi
}

// Cake remaps the stitched image to polar coordinates.  The returned
// image is indexed [chi][q]; bins never hit stay NaN.
func (t *Transmission) Cake(aziMin, aziMax float64, ptsAzi int, radMin, radMax float64, ptsRad int) ([][]float64, []float64, []float64, error) {
	if !t.stitched {
		return nil, nil, nil, ErrNotStitched
	}
	sum := hbook.NewH2D(ptsRad, radMin, radMax, ptsAzi, aziMin, aziMax)
	cnt := hbook.NewH2D(ptsRad, radMin, radMax, ptsAzi, aziMin, aziMax)
	for i := range t.img {
		for j := range t.img[i] {
			if t.masked(i, j) {
				continue
			}
			q := math.Hypot(t.qpPix[i][j], t.qzPix[i][j])
			c := chiDeg(t.qpPix[i][j], t.qzPix[i][j])
			sum.Fill(q, c, t.img[i][j])
			cnt.Fill(q, c, 1)
		}
	}
	gs, gc := sum.GridXYZ(), cnt.GridXYZ()
	nq, nchi := gs.Dims()
	cake := make([][]float64, nchi)
	q := make([]float64, nq)
	chi := make([]float64, nchi)
	for iq := 0; iq < nq; iq++ {
		q[iq] = gs.X(iq)
	}
	for ic := 0; ic < nchi; ic++ {
		chi[ic] = gs.Y(ic)
		cake[ic] = make([]float64, nq)
		for iq := 0; iq < nq; iq++ {
			n := gc.Z(iq, ic)
			if n == 0 {
				cake[ic][iq] = math.NaN()
				continue
			}
			cake[ic][iq] = gs.Z(iq, ic) / n
		}
	}
	return cake, q, chi, nil
}

// RadialAverage averages intensity over azimuth in radial bins.
func (t *Transmission) RadialAverage(rMin, rMax, angMin, angMax float64, pts int) ([]float64, []float64, error) {
	if !t.stitched {
		return nil, nil, ErrNotStitched
	}
	sum := hbook.NewH1D(pts, rMin, rMax)
	cnt := hbook.NewH1D(pts, rMin, rMax)
	for i := range t.img {
		for j := range t.img[i] {
			if t.masked(i, j) {
				continue
			}
			c := chiDeg(t.qpPix[i][j], t.qzPix[i][j])
			if c < angMin || c > angMax {
				continue
			}
			q := math.Hypot(t.qpPix[i][j], t.qzPix[i][j])
			sum.Fill(q, t.img[i][j])
			cnt.Fill(q, 1)
		}
	}
	return profile1D(sum, cnt)
}

// AzimuthalAverage averages intensity over a radial band in azimuthal
// bins.  nptRad is accepted for interface parity with the radial
// remapping resolution but the band filter itself is exact.
func (t *Transmission) AzimuthalAverage(rMin, rMax float64, nptRad int, angMin, angMax float64, nptAzi int) ([]float64, []float64, error) {
	if !t.stitched {
		return nil, nil, ErrNotStitched
	}
	_ = nptRad
	sum := hbook.NewH1D(nptAzi, angMin, angMax)
	cnt := hbook.NewH1D(nptAzi, angMin, angMax)
	for i := range t.img {
		for j := range t.img[i] {
			if t.masked(i, j) {
				continue
			}
			q := math.Hypot(t.qpPix[i][j], t.qzPix[i][j])
			if q < rMin || q > rMax {
				continue
			}
			sum.Fill(chiDeg(t.qpPix[i][j], t.qzPix[i][j]), t.img[i][j])
			cnt.Fill(chiDeg(t.qpPix[i][j], t.qzPix[i][j]), 1)
		}
	}
	return profile1D(sum, cnt)
}

func profile1D(sum, cnt *hbook.H1D) ([]float64, []float64, error) {
	bins := sum.Binning.Bins
	cbins := cnt.Binning.Bins
	x := make([]float64, len(bins))
	y := make([]float64, len(bins))
	for i := range bins {
		x[i] = bins[i].XMid()
		n := cbins[i].SumW()
		if n == 0 {
			y[i] = math.NaN()
			continue
		}
		y[i] = bins[i].SumW() / n
	}
	return x, y, nil
}

// HorizontalIntegration averages rows of the stitched image inside a
// vertical band, producing a profile along the horizontal axis.
func (t *Transmission) HorizontalIntegration(qpMin, qpMax, qzMin, qzMax float64) ([]float64, []float64, error) {
	if !t.stitched {
		return nil, nil, ErrNotStitched
	}
	var q, prof []float64
	for j := range t.qp {
		if t.qp[j] < qpMin || t.qp[j] > qpMax {
			continue
		}
		var s float64
		var n int
		for i := range t.qz {
			if t.qz[i] < qzMin || t.qz[i] > qzMax || t.masked(i, j) {
				continue
			}
			s += t.img[i][j]
			n++
		}
		q = append(q, t.qp[j])
		if n == 0 {
			prof = append(prof, math.NaN())
		} else {
			prof = append(prof, s/float64(n))
		}
	}
	return q, prof, nil
}

// VerticalIntegration averages columns of the stitched image inside a
// horizontal band, producing a profile along the vertical axis.
func (t *Transmission) VerticalIntegration(qpMin, qpMax, qzMin, qzMax float64) ([]float64, []float64, error) {
	if !t.stitched {
		return nil, nil, ErrNotStitched
	}
	var q, prof []float64
	for i := range t.qz {
		if t.qz[i] < qzMin || t.qz[i] > qzMax {
			continue
		}
		var s float64
		var n int
		for j := range t.qp {
			if t.qp[j] < qpMin || t.qp[j] > qpMax || t.masked(i, j) {
				continue
			}
			s += t.img[i][j]
			n++
		}
		q = append(q, t.qz[i])
		if n == 0 {
			prof = append(prof, math.NaN())
		} else {
			prof = append(prof, s/float64(n))
		}
	}
	return q, prof, nil
}
