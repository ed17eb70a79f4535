// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cea-dtc/saxsnx/geometry"
	"github.com/cea-dtc/saxsnx/nexus"
)

// logger resolves at call time so log lines go through whatever handler
// the program has installed by then.
func logger() *slog.Logger { return slog.Default().With("service", "reduce") }

// Default result-group names, one per operation.
const (
	GroupQSpace     = "DATA_Q_SPACE"
	GroupCaking     = "DATA_CAKING"
	GroupRadial     = "DATA_RADIAL_AVERAGE"
	GroupAzimuthal  = "DATA_AZIMUTHAL_AVERAGE"
	GroupHorizontal = "DATA_HORIZONTAL_INTEGRATION"
	GroupVertical   = "DATA_VERTICAL_INTEGRATION"
	GroupAbsolute   = "DATA_ABSOLUTE_INTENSITY"
)

// Session owns one open container, its extracted geometry configuration
// and one geometry engine.  A Session is a single-writer resource: the
// engine is re-primed with the current mask and rotation before every
// reduction, so two reductions must never run concurrently on one
// Session.
type Session struct {
	path string
	file *nexus.File
	cfg  geometry.Config
	eng  geometry.Engine

	rawI    [][]float64
	rawMask [][]uint8
	mask    [][]uint8 // mask used for reductions, defaults to rawMask

	stitched bool
}

// OpenSession opens the container at path and extracts its geometry.
// The session is not stitched yet; the first reduction stitches it.
func OpenSession(path string) (*Session, error) {
	f, err := nexus.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newSession(path, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func newSession(path string, f *nexus.File) (*Session, error) {
	cfg, err := ExtractConfig(f)
	if err != nil {
		return nil, err
	}

	entry := f.Entry()
	di, ok := entry.DatasetAt(nexus.DataGroup, "I")
	if !ok {
		return nil, &ConfigError{File: path, Field: "/ENTRY/DATA/I", Reason: "missing"}
	}
	rawI, err := di.FloatMatrix()
	if err != nil {
		return nil, &ConfigError{File: path, Field: "/ENTRY/DATA/I", Reason: err.Error()}
	}

	var rawMask [][]uint8
	if dm, ok := entry.DatasetAt(nexus.DataGroup, "mask"); ok {
		rawMask, err = dm.ByteMatrix()
		if err != nil {
			return nil, &ConfigError{File: path, Field: "/ENTRY/DATA/mask", Reason: err.Error()}
		}
	} else {
		rawMask = make([][]uint8, len(rawI))
		for i := range rawMask {
			rawMask[i] = make([]uint8, len(rawI[i]))
		}
	}

	return &Session{
		path:    path,
		file:    f,
		cfg:     cfg,
		eng:     geometry.NewTransmission(cfg),
		rawI:    rawI,
		rawMask: rawMask,
		mask:    rawMask,
	}, nil
}

// Path returns the container path the session was opened from.
func (s *Session) Path() string { return s.path }

// File exposes the owning container handle.
func (s *Session) File() *nexus.File { return s.file }

// Config returns the extracted geometry configuration.
func (s *Session) Config() geometry.Config { return s.cfg }

// Engine exposes the underlying geometry session.
func (s *Session) Engine() geometry.Engine { return s.eng }

// SetMask overrides the validity mask applied by subsequent reductions.
// Passing nil restores the container's raw mask.
func (s *Session) SetMask(mask [][]uint8) {
	if mask == nil {
		s.mask = s.rawMask
		return
	}
	s.mask = mask
}

// prime pushes the current mask and rotation into the engine.  The
// engine mutates these as session-wide state, so this runs before every
// reduction call.
func (s *Session) prime() {
	s.eng.SetRotation(s.cfg.Rotation)
	s.eng.SetMask(flipMask(s.mask))
}

// flipMask converts a raw-orientation uint8 mask to the stitched
// orientation (row 0 at the detector bottom).
func flipMask(m [][]uint8) [][]bool {
	h := len(m)
	out := make([][]bool, h)
	for i := 0; i < h; i++ {
		src := m[h-1-i]
		row := make([]bool, len(src))
		for j, v := range src {
			row[j] = v != 0
		}
		out[i] = row
	}
	return out
}

// Stitch primes the engine and stitches the raw frame.
func (s *Session) Stitch() error {
	s.prime()
	err := s.eng.Stitch([]geometry.Frame{{I: s.rawI, Mask: byteMaskToBool(s.rawMask)}})
	if err != nil {
		return fmt.Errorf("reduce: stitch %s: %w", s.path, err)
	}
	s.stitched = true
	return nil
}

// Stitched reports whether the session holds stitched geometry state.
func (s *Session) Stitched() bool { return s.stitched }

func (s *Session) ensureStitched() error {
	if s.stitched {
		return nil
	}
	return s.Stitch()
}

func byteMaskToBool(m [][]uint8) [][]bool {
	out := make([][]bool, len(m))
	for i, row := range m {
		b := make([]bool, len(row))
		for j, v := range row {
			b[j] = v != 0
		}
		out[i] = b
	}
	return out
}

// Result carries one reduction's output arrays plus the provenance text
// persisted next to them.
type Result struct {
	Op          string
	Symbol      string
	GroupName   string
	Description string

	// 1D profile
	X, Y []float64

	// 2D image
	Image [][]float64
	Mesh  *nexus.Dataset // coordinate components per pixel, (H, W, 2)
	Mask  [][]uint8

	// absolute-intensity calibration outputs
	Transmission float64
	Scale        float64
}

// Rank returns 1 for profiles and 2 for images.
func (r *Result) Rank() int {
	if r.Image != nil {
		return 2
	}
	return 1
}

// save persists the result group and its process record.
func (s *Session) save(r *Result) error {
	var param, intens, mask *nexus.Dataset
	var err error
	if r.Rank() == 1 {
		param = nexus.NewFloats(r.X)
		intens = nexus.NewFloats(r.Y)
	} else {
		param = r.Mesh
		intens, err = nexus.NewFloatMatrix(r.Image)
		if err != nil {
			return err
		}
		mask, err = nexus.NewByteMatrix(r.Mask)
		if err != nil {
			return err
		}
	}
	if err := nexus.SaveResult(s.file, r.Symbol, param, r.GroupName, intens, mask); err != nil {
		return err
	}
	nexus.WriteProcess(s.file, nexus.ProcessSuffix(r.GroupName), r.Op, r.Description)
	return nil
}

// DeleteGroup removes a result group from the container.
func (s *Session) DeleteGroup(name string) error {
	return nexus.DeleteGroup(s.file, name)
}

// Close flushes and repacks the container.  Safe to call twice.
func (s *Session) Close() error {
	return s.file.Close()
}

// QSpaceParams parameterizes the Q-space projection.  It has no tunable
// ranges; the projection always spans the full stitched extent.
type QSpaceParams struct {
	Save      bool
	GroupName string
}

// ProcessQSpace projects the raw image into reciprocal space.
func (s *Session) ProcessQSpace(p QSpaceParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	img := s.eng.Image()
	qp, qz := s.eng.Qp(), s.eng.Qz()
	h, w := len(img), len(img[0])

	qpLin := make([]float64, w)
	qzLin := make([]float64, h)
	floats.Span(qpLin, qp[0], qp[len(qp)-1])
	floats.Span(qzLin, qz[0], qz[len(qz)-1])

	flat := make([]float64, h*w*2)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			flat[(i*w+j)*2] = qpLin[j]
			flat[(i*w+j)*2+1] = qzLin[i]
		}
	}
	mesh, err := nexus.NewFloatsShaped([]int{h, w, 2}, flat)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "q_space",
		Symbol:    "Q",
		GroupName: pickName(p.GroupName, GroupQSpace),
		Description: fmt.Sprintf(
			"Reciprocal-space projection of the raw detector image.\nqp range [%g, %g] 1/angstrom, qz range [%g, %g] 1/angstrom.",
			qp[0], qp[len(qp)-1], qz[0], qz[len(qz)-1]),
		Image: img,
		Mesh:  mesh,
		Mask:  boolMaskToByte(s.eng.StitchedMask()),
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CakingParams parameterizes the polar remapping.  Unset floats (NaN)
// and non-positive counts fall back to the default-range policy.
type CakingParams struct {
	AziMin, AziMax       float64 // degrees
	PtsAzi               int
	RadialMin, RadialMax float64 // 1/angstrom
	PtsRad               int
	Save                 bool
	GroupName            string
}

// NewCakingParams returns params with every range unset.
func NewCakingParams() CakingParams {
	return CakingParams{AziMin: Unset(), AziMax: Unset(), RadialMin: Unset(), RadialMax: Unset()}
}

// ProcessCaking remaps the stitched image to polar (q, chi) coordinates.
// Defaults: azimuth [-180, 180] degrees, radial range the vertical
// axis's extent, 1000x1000 points.
func (s *Session) ProcessCaking(p CakingParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	qzLo, qzHi := minMax(s.eng.Qz())
	aziMin := pick(p.AziMin, -180)
	aziMax := pick(p.AziMax, 180)
	radMin := pick(p.RadialMin, qzLo)
	radMax := pick(p.RadialMax, qzHi)
	ptsAzi := pickInt(p.PtsAzi, 1000)
	ptsRad := pickInt(p.PtsRad, 1000)

	cake, q, chi, err := s.eng.Cake(aziMin, aziMax, ptsAzi, radMin, radMax, ptsRad)
	if err != nil {
		return nil, err
	}

	h, w := len(cake), len(q)
	flat := make([]float64, h*w*2)
	mask := make([][]uint8, h)
	for i := 0; i < h; i++ {
		mask[i] = make([]uint8, w)
		for j := 0; j < w; j++ {
			flat[(i*w+j)*2] = q[j]
			flat[(i*w+j)*2+1] = chi[i]
			if math.IsNaN(cake[i][j]) {
				mask[i][j] = 1
			}
		}
	}
	mesh, err := nexus.NewFloatsShaped([]int{h, w, 2}, flat)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "caking",
		Symbol:    "Q",
		GroupName: pickName(p.GroupName, GroupCaking),
		Description: fmt.Sprintf(
			"Polar remapping of the stitched image.\nazimuth [%g, %g] degrees over %d points, q [%g, %g] 1/angstrom over %d points.",
			aziMin, aziMax, ptsAzi, radMin, radMax, ptsRad),
		Image: cake,
		Mesh:  mesh,
		Mask:  mask,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RadialParams parameterizes the radial average.
type RadialParams struct {
	RMin, RMax         float64 // 1/angstrom
	AngleMin, AngleMax float64 // degrees
	Pts                int
	Save               bool
	GroupName          string
}

// NewRadialParams returns params with every range unset.
func NewRadialParams() RadialParams {
	return RadialParams{RMin: Unset(), RMax: Unset(), AngleMin: Unset(), AngleMax: Unset()}
}

// ProcessRadialAverage averages intensity over azimuth as a function of
// scattering-vector magnitude.  Defaults: azimuth [-180, 180] degrees,
// radial range from the reachable-minimum policy to the combined axis
// maximum, 2000 points.
func (s *Session) ProcessRadialAverage(p RadialParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	qp, qz := s.eng.Qp(), s.eng.Qz()
	rMin := pick(p.RMin, radialDefaultMin(qp, qz))
	rMax := pick(p.RMax, radialDefaultMax(qp, qz))
	angMin := pick(p.AngleMin, -180)
	angMax := pick(p.AngleMax, 180)
	pts := pickInt(p.Pts, 2000)

	q, i, err := s.eng.RadialAverage(rMin, rMax, angMin, angMax, pts)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "radial_average",
		Symbol:    "Q",
		GroupName: pickName(p.GroupName, GroupRadial),
		Description: fmt.Sprintf(
			"Radial average of the stitched image.\nq [%g, %g] 1/angstrom over %d points, azimuth [%g, %g] degrees.",
			rMin, rMax, pts, angMin, angMax),
		X: q,
		Y: i,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AzimuthalParams parameterizes the azimuthal average.
type AzimuthalParams struct {
	RMin, RMax         float64 // 1/angstrom
	NptRad             int
	AngleMin, AngleMax float64 // degrees
	NptAzi             int
	Save               bool
	GroupName          string
}

// NewAzimuthalParams returns params with every range unset.
func NewAzimuthalParams() AzimuthalParams {
	return AzimuthalParams{RMin: Unset(), RMax: Unset(), AngleMin: Unset(), AngleMax: Unset()}
}

// ProcessAzimuthalAverage averages intensity over a radial band as a
// function of azimuth.  The radial band defaults follow the same
// reachable-minimum policy as the radial average; point counts default
// to 500x500.
func (s *Session) ProcessAzimuthalAverage(p AzimuthalParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	qp, qz := s.eng.Qp(), s.eng.Qz()
	rMin := pick(p.RMin, radialDefaultMin(qp, qz))
	rMax := pick(p.RMax, radialDefaultMax(qp, qz))
	angMin := pick(p.AngleMin, -180)
	angMax := pick(p.AngleMax, 180)
	nptRad := pickInt(p.NptRad, 500)
	nptAzi := pickInt(p.NptAzi, 500)

	chi, i, err := s.eng.AzimuthalAverage(rMin, rMax, nptRad, angMin, angMax, nptAzi)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "azimuthal_average",
		Symbol:    "Chi",
		GroupName: pickName(p.GroupName, GroupAzimuthal),
		Description: fmt.Sprintf(
			"Azimuthal average of the stitched image.\nazimuth [%g, %g] degrees over %d points, q band [%g, %g] 1/angstrom.",
			angMin, angMax, nptAzi, rMin, rMax),
		X: chi,
		Y: i,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// IntegrationParams parameterizes the directional integrations.
type IntegrationParams struct {
	QpMin, QpMax float64 // 1/angstrom, horizontal axis
	QzMin, QzMax float64 // 1/angstrom, vertical axis
	Save         bool
	GroupName    string
}

// NewIntegrationParams returns params with every range unset.
func NewIntegrationParams() IntegrationParams {
	return IntegrationParams{QpMin: Unset(), QpMax: Unset(), QzMin: Unset(), QzMax: Unset()}
}

func (s *Session) integrationRanges(p IntegrationParams) (qpMin, qpMax, qzMin, qzMax float64) {
	qpLo, qpHi := minMax(s.eng.Qp())
	qzLo, qzHi := minMax(s.eng.Qz())
	return pick(p.QpMin, qpLo), pick(p.QpMax, qpHi), pick(p.QzMin, qzLo), pick(p.QzMax, qzHi)
}

// ProcessHorizontalIntegration averages the stitched image over a
// vertical band, producing a profile along the horizontal axis.  Both
// ranges default to the full axis extents.
func (s *Session) ProcessHorizontalIntegration(p IntegrationParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	qpMin, qpMax, qzMin, qzMax := s.integrationRanges(p)
	q, i, err := s.eng.HorizontalIntegration(qpMin, qpMax, qzMin, qzMax)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "horizontal_integration",
		Symbol:    "Q",
		GroupName: pickName(p.GroupName, GroupHorizontal),
		Description: fmt.Sprintf(
			"Horizontal integration of the stitched image.\nqp [%g, %g] 1/angstrom, qz band [%g, %g] 1/angstrom.",
			qpMin, qpMax, qzMin, qzMax),
		X: q,
		Y: i,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ProcessVerticalIntegration averages the stitched image over a
// horizontal band, producing a profile along the vertical axis.
func (s *Session) ProcessVerticalIntegration(p IntegrationParams) (*Result, error) {
	if err := s.ensureStitched(); err != nil {
		return nil, err
	}
	s.prime()

	qpMin, qpMax, qzMin, qzMax := s.integrationRanges(p)
	q, i, err := s.eng.VerticalIntegration(qpMin, qpMax, qzMin, qzMax)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Op:        "vertical_integration",
		Symbol:    "Q",
		GroupName: pickName(p.GroupName, GroupVertical),
		Description: fmt.Sprintf(
			"Vertical integration of the stitched image.\nqz [%g, %g] 1/angstrom, qp band [%g, %g] 1/angstrom.",
			qzMin, qzMax, qpMin, qpMax),
		X: q,
		Y: i,
	}
	if p.Save {
		if err := s.save(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func pickName(name, def string) string {
	if name != "" {
		return name
	}
	return def
}

func boolMaskToByte(m [][]bool) [][]uint8 {
	out := make([][]uint8, len(m))
	for i, row := range m {
		b := make([]uint8, len(row))
		for j, v := range row {
			if v {
				b[j] = 1
			}
		}
		out[i] = b
	}
	return out
}
