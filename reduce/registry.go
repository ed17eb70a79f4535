// Copyright 2025 CEA DTC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package reduce

import "fmt"

// The operation registry is the static, typed enumeration of the
// reduction operations and their parameter schemas.  Frontends build
// their surface from it instead of reflecting over methods.

// Param describes one tunable parameter of an operation.
type Param struct {
	Name string
	Kind string // "float", "int" or "string"
	Doc  string
}

// Args is the generic argument bag a frontend fills in from user input.
// Absent floats resolve to Unset, absent ints to zero, both of which
// trigger the operation's default-range policy.
type Args struct {
	Floats    map[string]float64
	Ints      map[string]int
	Ref       string
	Save      bool
	GroupName string
}

// NewArgs returns an empty argument bag.
func NewArgs() Args {
	return Args{Floats: map[string]float64{}, Ints: map[string]int{}}
}

func (a Args) f(name string) float64 {
	if v, ok := a.Floats[name]; ok {
		return v
	}
	return Unset()
}

func (a Args) i(name string) int { return a.Ints[name] }

// OpSpec binds an operation name to its parameter schema and its
// session entry point.
type OpSpec struct {
	Name   string
	Doc    string
	Params []Param
	Run    func(*Session, Args) (*Result, error)
}

var ops = []OpSpec{
	{
		Name: "q_space",
		Doc:  "project the raw image into reciprocal space",
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessQSpace(QSpaceParams{Save: a.Save, GroupName: a.GroupName})
		},
	},
	{
		Name: "caking",
		Doc:  "remap the stitched image to polar (q, chi) coordinates",
		Params: []Param{
			{Name: "azi_min", Kind: "float", Doc: "azimuth lower bound, degrees"},
			{Name: "azi_max", Kind: "float", Doc: "azimuth upper bound, degrees"},
			{Name: "pts_azi", Kind: "int", Doc: "azimuthal points"},
			{Name: "radial_min", Kind: "float", Doc: "q lower bound, 1/angstrom"},
			{Name: "radial_max", Kind: "float", Doc: "q upper bound, 1/angstrom"},
			{Name: "pts_rad", Kind: "int", Doc: "radial points"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessCaking(CakingParams{
				AziMin: a.f("azi_min"), AziMax: a.f("azi_max"), PtsAzi: a.i("pts_azi"),
				RadialMin: a.f("radial_min"), RadialMax: a.f("radial_max"), PtsRad: a.i("pts_rad"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
	{
		Name: "radial_average",
		Doc:  "average intensity over azimuth per |Q| bin",
		Params: []Param{
			{Name: "r_min", Kind: "float", Doc: "q lower bound, 1/angstrom"},
			{Name: "r_max", Kind: "float", Doc: "q upper bound, 1/angstrom"},
			{Name: "angle_min", Kind: "float", Doc: "azimuth lower bound, degrees"},
			{Name: "angle_max", Kind: "float", Doc: "azimuth upper bound, degrees"},
			{Name: "pts", Kind: "int", Doc: "number of q points"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessRadialAverage(RadialParams{
				RMin: a.f("r_min"), RMax: a.f("r_max"),
				AngleMin: a.f("angle_min"), AngleMax: a.f("angle_max"), Pts: a.i("pts"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
	{
		Name: "azimuthal_average",
		Doc:  "average intensity over a radial band per azimuth bin",
		Params: []Param{
			{Name: "r_min", Kind: "float", Doc: "q band lower bound, 1/angstrom"},
			{Name: "r_max", Kind: "float", Doc: "q band upper bound, 1/angstrom"},
			{Name: "npt_rad", Kind: "int", Doc: "radial points"},
			{Name: "angle_min", Kind: "float", Doc: "azimuth lower bound, degrees"},
			{Name: "angle_max", Kind: "float", Doc: "azimuth upper bound, degrees"},
			{Name: "npt_azi", Kind: "int", Doc: "azimuthal points"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessAzimuthalAverage(AzimuthalParams{
				RMin: a.f("r_min"), RMax: a.f("r_max"), NptRad: a.i("npt_rad"),
				AngleMin: a.f("angle_min"), AngleMax: a.f("angle_max"), NptAzi: a.i("npt_azi"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
	{
		Name: "horizontal_integration",
		Doc:  "profile along the horizontal axis inside a vertical band",
		Params: []Param{
			{Name: "qx_min", Kind: "float", Doc: "horizontal lower bound, 1/angstrom"},
			{Name: "qx_max", Kind: "float", Doc: "horizontal upper bound, 1/angstrom"},
			{Name: "qy_min", Kind: "float", Doc: "vertical band lower bound, 1/angstrom"},
			{Name: "qy_max", Kind: "float", Doc: "vertical band upper bound, 1/angstrom"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessHorizontalIntegration(IntegrationParams{
				QpMin: a.f("qx_min"), QpMax: a.f("qx_max"),
				QzMin: a.f("qy_min"), QzMax: a.f("qy_max"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
	{
		Name: "vertical_integration",
		Doc:  "profile along the vertical axis inside a horizontal band",
		Params: []Param{
			{Name: "qx_min", Kind: "float", Doc: "horizontal band lower bound, 1/angstrom"},
			{Name: "qx_max", Kind: "float", Doc: "horizontal band upper bound, 1/angstrom"},
			{Name: "qy_min", Kind: "float", Doc: "vertical lower bound, 1/angstrom"},
			{Name: "qy_max", Kind: "float", Doc: "vertical upper bound, 1/angstrom"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessVerticalIntegration(IntegrationParams{
				QpMin: a.f("qx_min"), QpMax: a.f("qx_max"),
				QzMin: a.f("qy_min"), QzMax: a.f("qy_max"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
	{
		Name: "absolute_intensity",
		Doc:  "scale raw intensity to absolute units against a direct-beam reference",
		Params: []Param{
			{Name: "ref", Kind: "string", Doc: "direct-beam reference container path"},
			{Name: "roi_x", Kind: "float", Doc: "ROI half-width, px"},
			{Name: "roi_y", Kind: "float", Doc: "ROI half-height, px"},
			{Name: "thickness", Kind: "float", Doc: "sample thickness"},
		},
		Run: func(s *Session, a Args) (*Result, error) {
			return s.ProcessAbsoluteIntensity(AbsoluteParams{
				RefPath: a.Ref,
				ROIX:    a.f("roi_x"), ROIY: a.f("roi_y"), Thickness: a.f("thickness"),
				Save: a.Save, GroupName: a.GroupName,
			})
		},
	},
}

// Ops enumerates the registered operations in a stable order.
func Ops() []OpSpec { return append([]OpSpec(nil), ops...) }

// LookupOp finds an operation by name.
func LookupOp(name string) (OpSpec, bool) {
	for _, op := range ops {
		if op.Name == name {
			return op, true
		}
	}
	return OpSpec{}, false
}

// Run applies a registered operation to every open file.
func (m *Manager) Run(name string, args Args) error {
	_, err := m.RunCollect(name, args)
	return err
}

// RunCollect applies a registered operation to every open file and
// returns the per-file results.  Skipped no-op results are absent.
func (m *Manager) RunCollect(name string, args Args) (map[string]*Result, error) {
	op, ok := LookupOp(name)
	if !ok {
		return nil, fmt.Errorf("reduce: unknown operation %q", name)
	}
	results := make(map[string]*Result)
	err := m.each(op.Name, func(s *Session) error {
		r, err := op.Run(s, args)
		if err == nil && r != nil {
			results[s.Path()] = r
		}
		return err
	})
	return results, err
}
