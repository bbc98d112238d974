package modules

import (
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Anisotropy is the magnetocrystalline anisotropy, uniaxial along ea1 or cubic with
// axes ea1, ea2 and ea1 x ea2. K1 and K2 are energies per volume, or per atom on
// atomistic meshes.
type Anisotropy struct {
	mesh.Base
	cubic bool
}

// NewAnisotropyUniaxial creates E = K1 sin^2 + K2 sin^4 about ea1
func NewAnisotropyUniaxial(m *mesh.Mesh) *Anisotropy {
	return &Anisotropy{Base: mesh.Base{Mesh: m, ModKind: mesh.AnisotropyUniaxial}}
}

// NewAnisotropyCubic creates E = K1(a^2b^2 + b^2c^2 + c^2a^2) + K2 a^2b^2c^2
func NewAnisotropyCubic(m *mesh.Mesh) *Anisotropy {
	return &Anisotropy{Base: mesh.Base{Mesh: m, ModKind: mesh.AnisotropyCubic}, cubic: true}
}

// NewAtomAnisotropyUniaxial creates uniaxial anisotropy of an atomistic mesh
func NewAtomAnisotropyUniaxial(m *mesh.Mesh) *Anisotropy {
	return &Anisotropy{Base: mesh.Base{Mesh: m, ModKind: mesh.AtomAnisotropyUniaxial}}
}

func (a *Anisotropy) Initialize() error {
	a.SetInitialized(true)
	return nil
}

func (a *Anisotropy) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	return reinit(a)
}

func (a *Anisotropy) atomistic() bool { return a.Kind() == mesh.AtomAnisotropyUniaxial }

// uniaxial returns the field and energy of moment v of length ms; hscale turns
// dE/dc into a field
func uniaxial(v, ea r3.Vec, ms, K1, K2, hscale float64) (r3.Vec, float64) {
	c := r3.Dot(v, ea) / ms
	s2 := 1 - c*c
	h := r3.Scale((2*K1*c+4*K2*c*s2)/hscale, ea)
	return h, K1*s2 + K2*s2*s2
}

// cubic returns the field and energy of moment v of length ms in the frame whose
// rows are the three cubic axes
func cubic(v r3.Vec, frame *mat.Dense, ms, K1, K2, hscale float64) (r3.Vec, float64) {
	var p mat.VecDense
	p.MulVec(frame, mat.NewVecDense(3, []float64{v.X / ms, v.Y / ms, v.Z / ms}))
	a, b, c := p.AtVec(0), p.AtVec(1), p.AtVec(2)
	a2, b2, c2 := a*a, b*b, c*c
	g := mat.NewVecDense(3, []float64{
		K1*a*(b2+c2) + K2*a*b2*c2,
		K1*b*(a2+c2) + K2*b*a2*c2,
		K1*c*(a2+b2) + K2*c*a2*b2,
	})
	var h mat.VecDense
	h.MulVec(frame.T(), g)
	s := -2 / hscale
	return r3.Vec{X: s * h.AtVec(0), Y: s * h.AtVec(1), Z: s * h.AtVec(2)},
		K1*(a2*b2+b2*c2+c2*a2) + K2*a2*b2*c2
}

func cubicFrame(e1, e2 r3.Vec) *mat.Dense {
	e1 = r3.Unit(e1)
	e2 = r3.Unit(e2)
	e3 := r3.Cross(e1, e2)
	return mat.NewDense(3, 3, []float64{
		e1.X, e1.Y, e1.Z,
		e2.X, e2.Y, e2.Z,
		e3.X, e3.Y, e3.Z,
	})
}

// sublattice evaluates one moment with its own magnitude parameter
func (a *Anisotropy) sublattice(idx int, v r3.Vec, ms float64) (r3.Vec, float64) {
	m := a.Mesh
	if ms == 0 {
		return r3.Vec{}, 0
	}
	K1 := m.Param(m.Params.K1, idx)
	K2 := m.Param(m.Params.K2, idx)
	hscale := MU0 * ms
	if a.atomistic() {
		hscale = MUB_MU0 * ms
	}
	if a.cubic {
		return cubic(v, cubicFrame(m.ParamVec(m.Params.Ea1, idx), m.ParamVec(m.Params.Ea2, idx)), ms, K1, K2, hscale)
	}
	return uniaxial(v, r3.Unit(m.ParamVec(m.Params.Ea1, idx)), ms, K1, K2, hscale)
}

// cell returns the fields of both sublattices and the energy of cell idx: J/m^3, or J
// per moment on atomistic meshes
func (a *Anisotropy) cell(idx int) (h, h2 r3.Vec, e float64) {
	m := a.Mesh
	if a.atomistic() {
		h, e = a.sublattice(idx, m.M.Data[idx], m.Param(m.Params.MuS, idx))
		return
	}
	h, e = a.sublattice(idx, m.M.Data[idx], m.Param(m.Params.Ms, idx))
	if m.M2 != nil {
		var e2 float64
		h2, e2 = a.sublattice(idx, m.M2.Data[idx], m.Param(m.Params.Ms2, idx))
		e = (e + e2) / 2
	}
	return
}

// density is the energy density of cell idx
func (a *Anisotropy) density(idx int) float64 {
	_, _, e := a.cell(idx)
	if a.atomistic() {
		return e / a.Mesh.CellVolume()
	}
	return e
}

func (a *Anisotropy) UpdateField() float64 {
	m := a.Mesh
	sum := m.M.Layout.Reduce(func(p *partitions.Partition) float64 {
		s := 0.0
		p.Each(func(idx int) {
			if m.M.IsEmpty(idx) {
				return
			}
			h, h2, e := a.cell(idx)
			m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], h)
			if m.Heff2 != nil {
				m.Heff2.Data[idx] = r3.Add(m.Heff2.Data[idx], h2)
			}
			s += e
		})
		return s
	})
	scale := 1.0
	if a.atomistic() {
		scale = 1 / m.CellVolume()
	}
	return normalize(sum, scale, m.NonEmptyCells())
}

func (a *Anisotropy) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(a.Mesh.M.Lattice, rel, a.density)
	return avg
}

func (a *Anisotropy) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(a.Mesh.M.Lattice, rel, a.density)
	return mx
}

// ComputeEnergyDensity writes the anisotropy energy density of every cell into out
func (a *Anisotropy) ComputeEnergyDensity(out *grid.Scalar) {
	fillDensity(a.Mesh.M.Lattice, out, a.density)
}

// AtomisticEnergy is the anisotropy energy in J of moment idx
func (a *Anisotropy) AtomisticEnergy(idx int) float64 {
	if !a.atomistic() || a.Mesh.M.IsEmpty(idx) {
		return 0
	}
	_, _, e := a.cell(idx)
	return e
}
