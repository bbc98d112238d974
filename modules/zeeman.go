package modules

import (
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// FieldFunc gives the applied field (A/m) at an absolute position and time
type FieldFunc func(pos r3.Vec, t float64) r3.Vec

// Zeeman is the applied field cHA*Ha, uniform or given by an equation of position and
// time. On atomistic meshes the energies are per moment.
type Zeeman struct {
	mesh.Base
	Ha r3.Vec
	Eq FieldFunc
	dev deviceMirror
}

// NewZeeman creates the applied field module of a micromagnetic mesh
func NewZeeman(m *mesh.Mesh) *Zeeman {
	return &Zeeman{Base: mesh.Base{Mesh: m, ModKind: mesh.Zeeman}}
}

// NewAtomZeeman creates the applied field module of an atomistic mesh
func NewAtomZeeman(m *mesh.Mesh) *Zeeman {
	return &Zeeman{Base: mesh.Base{Mesh: m, ModKind: mesh.AtomZeeman}}
}

func (z *Zeeman) Initialize() error {
	z.SetInitialized(true)
	return nil
}

func (z *Zeeman) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	return reinit(z)
}

// SetField sets a uniform applied field, replacing any equation
func (z *Zeeman) SetField(h r3.Vec) {
	z.Ha = h
	z.Eq = nil
}

func (z *Zeeman) Field() r3.Vec { return z.Ha }

// SetFieldEquation drives the field from fn; the device kernel handles uniform fields
// only, so the host path takes over
func (z *Zeeman) SetFieldEquation(fn FieldFunc) {
	z.Eq = fn
	z.dev.detach()
}

func (z *Zeeman) atomistic() bool { return z.Kind() == mesh.AtomZeeman }

func (z *Zeeman) applied(idx int) r3.Vec {
	m := z.Mesh
	cha := m.Param(m.Params.Cha, idx)
	if z.Eq != nil {
		t := 0.0
		if m.Stepping != nil {
			t = m.Stepping.Time
		}
		return r3.Scale(cha, z.Eq(m.M.CellCenter(idx), t))
	}
	return r3.Scale(cha, z.Ha)
}

func (z *Zeeman) cellField(idx int) (h, h2 r3.Vec) {
	h = z.applied(idx)
	if z.Mesh.M2 != nil {
		h2 = h
	}
	return
}

// energyScale turns sum(M.H) into an energy density
func (z *Zeeman) energyScale() float64 {
	m := z.Mesh
	switch {
	case z.atomistic():
		return MUB_MU0 / m.CellVolume()
	case m.M2 != nil:
		return MU0 / 2
	}
	return MU0
}

func (z *Zeeman) UpdateField() float64 {
	m := z.Mesh
	if z.Eq == nil && r3.Norm(z.Ha) == 0 {
		return 0
	}
	var sum float64
	if z.dev.active(m) {
		h := r3.Scale(m.Params.Cha.Value, z.Ha)
		s, err := z.dev.run(m, h.X, h.Y, h.Z)
		if err != nil {
			z.dev.detach()
			sum = accumulate(m, z.cellField)
		} else {
			sum = s
		}
	} else {
		sum = accumulate(m, z.cellField)
	}
	return normalize(sum, -z.energyScale(), m.NonEmptyCells())
}

func (z *Zeeman) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(z.Mesh.M.Lattice, rel, pointEnergy(z.Mesh, z.energyScale(), z.cellField))
	return avg
}

func (z *Zeeman) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(z.Mesh.M.Lattice, rel, pointEnergy(z.Mesh, z.energyScale(), z.cellField))
	return mx
}

// ComputeEnergyDensity writes the Zeeman energy density of every cell into out
func (z *Zeeman) ComputeEnergyDensity(out *grid.Scalar) {
	fillDensity(z.Mesh.M.Lattice, out, pointEnergy(z.Mesh, z.energyScale(), z.cellField))
}

// AtomisticEnergy is -muB mu0 m.H in J for moment idx
func (z *Zeeman) AtomisticEnergy(idx int) float64 {
	if !z.atomistic() || z.Mesh.M.IsEmpty(idx) {
		return 0
	}
	return -MUB_MU0 * r3.Dot(z.Mesh.M.Data[idx], z.applied(idx))
}

// AttachDevice binds the Zeeman kernel for uniform fields on ferromagnetic meshes
func (z *Zeeman) AttachDevice() error {
	m := z.Mesh
	z.dev.detach()
	if z.Eq != nil || m.Type != mesh.Ferromagnetic || !constant(m.Params.Cha) {
		return nil
	}
	return z.dev.attach(m, "zeeman_field", zeemanKernel)
}

func (z *Zeeman) DetachDevice() { z.dev.detach() }
