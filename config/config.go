package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/modules"
	"github.com/wangxisss/Boris2/montecarlo"
	"github.com/wangxisss/Boris2/param"
	"github.com/wangxisss/Boris2/supermesh"
	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// Vec is a 3-vector written as a YAML sequence [x, y, z]
type Vec [3]float64

func (v Vec) R3() r3.Vec { return r3.Vec{X: v[0], Y: v[1], Z: v[2]} }

func (v Vec) IsZero() bool { return v == Vec{} }

// Triple is an integer triple such as periodic image counts
type Triple [3]int

func (t Triple) INT3() grid.INT3 { return grid.INT3{X: t[0], Y: t[1], Z: t[2]} }

// File is the simulation description
type File struct {
	Verbose    bool        `yaml:"verbose"`
	Device     string      `yaml:"device"` // OCCA mode (OpenMP, CUDA, Serial), empty for host only
	Run        Run         `yaml:"run"`
	MonteCarlo *MonteCarlo `yaml:"montecarlo"`
	Meshes     []Mesh      `yaml:"meshes"`
}

// Run sets the field evaluation schedule of the driver
type Run struct {
	Steps       int     `yaml:"steps"`
	Dt          float64 `yaml:"dt"`
	EvalSpeedup bool    `yaml:"evalSpeedup"`
}

// MonteCarlo configures the samplers of atomistic meshes. When present the driver
// takes Monte Carlo steps instead of field evaluations.
type MonteCarlo struct {
	Seed         uint64   `yaml:"seed"`
	Constrained  bool     `yaml:"constrained"`
	Parallel     bool     `yaml:"parallel"`
	Direction    Vec      `yaml:"direction"`
	ConeAngleDeg float64  `yaml:"coneAngleDeg"`
	Workers      int      `yaml:"workers"`
	Steps        int      `yaml:"steps"`
	Target       *float64 `yaml:"target"`
}

// Config converts the section into sampler settings
func (mc *MonteCarlo) Config() montecarlo.Config {
	return montecarlo.Config{
		Seed:                mc.Seed,
		Constrained:         mc.Constrained,
		Parallel:            mc.Parallel,
		ConstraintDirection: mc.Direction.R3(),
		ConeAngleDeg:        mc.ConeAngleDeg,
		Workers:             mc.Workers,
	}
}

// TargetAcceptance returns the configured target, or -1 for the default
func (mc *MonteCarlo) TargetAcceptance() float64 {
	if mc.Target == nil {
		return -1
	}
	return *mc.Target
}

type Rect struct {
	Min Vec `yaml:"min"`
	Max Vec `yaml:"max"`
}

// Mesh describes one mesh, its material and its modules
type Mesh struct {
	Name            string  `yaml:"name"`
	Type            string  `yaml:"type"`
	Rect            Rect    `yaml:"rect"`
	Cellsize        Vec     `yaml:"cellsize"`
	Temperature     float64 `yaml:"temperature"`
	ExchangeCoupled bool    `yaml:"exchangeCoupled"`
	Magnetization   Vec     `yaml:"magnetization"`

	Shapes     []Shape              `yaml:"shapes"`
	Params     map[string]float64   `yaml:"params"`
	Vectors    map[string]Vec       `yaml:"vectors"`
	Curves     map[string]Curve     `yaml:"curves"`
	Variations map[string]Variation `yaml:"variations"`
	Modules    []Module             `yaml:"modules"`
}

// Shape is an elementary shape applied to the magnetization, positions relative
// to the mesh origin
type Shape struct {
	Kind         string  `yaml:"kind"`
	Method       string  `yaml:"method"`
	Center       Vec     `yaml:"center"`
	Size         Vec     `yaml:"size"`
	Polar        float64 `yaml:"polar"`
	Azimuth      float64 `yaml:"azimuth"`
	Repeat       Triple  `yaml:"repeat"`
	Displacement Vec     `yaml:"displacement"`
}

// Curve is a tabulated temperature scaling
type Curve struct {
	Temps  []float64 `yaml:"temps"`
	Scales []float64 `yaml:"scales"`
}

// Variation is a spatial scaling generator: "random" draws from [min, max),
// "gaussian" from N(mean, std)
type Variation struct {
	Kind string  `yaml:"kind"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
	Seed uint64  `yaml:"seed"`
}

// Module names a module kind plus the settings of the kinds that take any
type Module struct {
	Kind string `yaml:"kind"`

	Field Vec    `yaml:"field"` // Zeeman, A/m
	PBC   Triple `yaml:"pbc"`   // demag periodic images

	// heat
	Cellsize Vec     `yaml:"cellsize"`
	Dt       float64 `yaml:"dt"`
	T0       float64 `yaml:"T0"`
	Q        float64 `yaml:"Q"`
}

// Load reads a configuration file
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a configuration, rejecting unknown keys
func Parse(b []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	f := &File{}
	if err := dec.Decode(f); err != nil {
		return nil, faults.Wrap("config", faults.IncorrectConfig, err)
	}
	if len(f.Meshes) == 0 {
		return nil, faults.New("config", faults.IncorrectConfig, "no meshes defined")
	}
	return f, nil
}

// Build creates the supermesh described by f
func Build(f *File) (*supermesh.SuperMesh, error) {
	sm := supermesh.New()
	sm.Verbose = f.Verbose
	// modules read the stepping when they initialize
	sm.SetStepping(0, f.Run.Dt, mesh.EvalComputeSave, f.Run.EvalSpeedup)
	for i := range f.Meshes {
		if err := buildMesh(sm, &f.Meshes[i]); err != nil {
			return nil, faults.Wrap("config", faults.IncorrectConfig,
				fmt.Errorf("mesh %q: %w", f.Meshes[i].Name, err))
		}
	}
	if f.MonteCarlo != nil {
		sm.SetMonteCarlo(f.MonteCarlo.Config())
	}
	return sm, nil
}

func buildMesh(sm *supermesh.SuperMesh, c *Mesh) error {
	t, err := mesh.ParseType(c.Type)
	if err != nil {
		return err
	}
	m, err := sm.AddMesh(c.Name, t, grid.Rect{Min: c.Rect.Min.R3(), Max: c.Rect.Max.R3()}, c.Cellsize.R3())
	if err != nil {
		return err
	}
	if err := setMaterial(m, c); err != nil {
		return err
	}
	if len(c.Shapes) > 0 {
		if err := applyShapes(sm, c); err != nil {
			return err
		}
	}
	if !c.Magnetization.IsZero() {
		m.SetMagnetization(c.Magnetization.R3())
	}
	if err := sm.SetBaseTemperature(c.Name, c.Temperature); err != nil {
		return err
	}
	for _, mc := range c.Modules {
		if err := addModule(sm, m, mc); err != nil {
			return fmt.Errorf("module %q: %w", mc.Kind, err)
		}
	}
	if c.ExchangeCoupled {
		return sm.SetExchangeCoupling(c.Name, true)
	}
	return nil
}

func setMaterial(m *mesh.Mesh, c *Mesh) error {
	for name, v := range c.Params {
		if err := m.Params.SetValue(name, v); err != nil {
			return err
		}
	}
	for name, v := range c.Vectors {
		if err := m.Params.SetVector(name, v.R3()); err != nil {
			return err
		}
	}
	scalars := m.Params.Scalars()
	for name, cv := range c.Curves {
		p, ok := scalars[name]
		if !ok {
			return fmt.Errorf("curve for unknown parameter %q", name)
		}
		curve, err := param.NewCurve(cv.Temps, cv.Scales)
		if err != nil {
			return err
		}
		p.Temp = curve
	}
	for name, v := range c.Variations {
		p, ok := scalars[name]
		if !ok {
			return fmt.Errorf("variation for unknown parameter %q", name)
		}
		switch v.Kind {
		case "random":
			p.Spatial = param.RandomVariation(m.M.Lattice, v.Min, v.Max, v.Seed)
		case "gaussian":
			p.Spatial = param.GaussianVariation(m.M.Lattice, v.Mean, v.Std, v.Seed)
		default:
			return fmt.Errorf("unknown variation %q for %q", v.Kind, name)
		}
	}
	return m.UpdateConfiguration(mesh.UpdateParamChanged)
}

func applyShapes(sm *supermesh.SuperMesh, c *Mesh) error {
	for _, s := range c.Shapes {
		kind, err := grid.ParseShapeKind(s.Kind)
		if err != nil {
			return err
		}
		method, err := grid.ParseShapeMethod(s.Method)
		if err != nil {
			return err
		}
		shape := grid.Shape{
			Kind:         kind,
			Center:       s.Center.R3(),
			Size:         s.Size.R3(),
			Polar:        s.Polar,
			Azimuth:      s.Azimuth,
			Repeat:       s.Repeat.INT3(),
			Displacement: s.Displacement.R3(),
		}
		if err := sm.ApplyShape(c.Name, []grid.Shape{shape}, method, c.Magnetization.R3()); err != nil {
			return err
		}
	}
	return nil
}

func addModule(sm *supermesh.SuperMesh, m *mesh.Mesh, c Module) error {
	k, err := mesh.ParseModuleKind(c.Kind)
	if err != nil {
		return err
	}
	switch k {
	case mesh.Demag:
		return sm.AttachModule(m.Name, modules.NewDemag(m, modules.DemagConfig{PBCImages: c.PBC.INT3()}))
	case mesh.Heat:
		cfg := modules.HeatConfig{Cellsize: c.Cellsize.R3(), Dt: c.Dt, T0: c.T0}
		if c.Q != 0 {
			Q := c.Q
			cfg.Q = func(r3.Vec, float64) float64 { return Q }
		}
		return sm.AttachModule(m.Name, modules.NewHeat(m, cfg))
	}
	mod, err := sm.AddModule(m.Name, k)
	if err != nil {
		return err
	}
	if fs, ok := mod.(mesh.FieldSetter); ok && !c.Field.IsZero() {
		fs.SetField(c.Field.R3())
	}
	return nil
}
