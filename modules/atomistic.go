package modules

import (
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// AtomExchange is the nearest neighbour Heisenberg exchange of an atomistic mesh,
// E_i = -J m_i . sum_j m_j, with optional bulk DMI -D m_i . sum_j (m_j x u_ij) where
// u_ij is the unit vector from moment i to moment j
type AtomExchange struct {
	mesh.Base
	dmi bool
}

// NewAtomExchange creates the atomistic Heisenberg exchange module
func NewAtomExchange(m *mesh.Mesh) *AtomExchange {
	return &AtomExchange{Base: mesh.Base{Mesh: m, ModKind: mesh.AtomExchange}}
}

// NewAtomDMExchange creates atomistic exchange with bulk DMI
func NewAtomDMExchange(m *mesh.Mesh) *AtomExchange {
	return &AtomExchange{Base: mesh.Base{Mesh: m, ModKind: mesh.AtomDMExchange}, dmi: true}
}

func (a *AtomExchange) Initialize() error {
	a.SetInitialized(true)
	return nil
}

func (a *AtomExchange) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	return reinit(a)
}

// local returns J sum m_j + D sum m_j x u_ij for moment idx, in J
func (a *AtomExchange) local(idx int) r3.Vec {
	m := a.Mesh
	M := m.M
	J := m.Param(m.Params.Jatom, idx)
	sum := r3.Scale(J, M.NgbrDirSum(idx))
	if !a.dmi {
		return sum
	}
	D := m.Param(m.Params.Datom, idx)
	if D == 0 {
		return sum
	}
	f := M.Flags[idx]
	for ax := 0; ax < 3; ax++ {
		for _, plus := range []bool{true, false} {
			if f&grid.NeighbourFlag(ax, plus) == 0 {
				continue
			}
			mj := M.Data[M.Neighbour(idx, ax, plus)]
			n := r3.Norm(mj)
			if n == 0 {
				continue
			}
			u := grid.UnitAxis(ax, 1)
			if !plus {
				u = grid.UnitAxis(ax, -1)
			}
			sum = r3.Add(sum, r3.Scale(D/n, r3.Cross(mj, u)))
		}
	}
	return sum
}

func (a *AtomExchange) cellField(idx int) (h, h2 r3.Vec) {
	m := a.Mesh
	mus := m.Param(m.Params.MuS, idx)
	if mus == 0 {
		return
	}
	return r3.Scale(1/(MUB_MU0*mus), a.local(idx)), r3.Vec{}
}

// energyScale turns sum(M.H) into an energy density, each bond counted once
func (a *AtomExchange) energyScale() float64 {
	return MUB_MU0 / (2 * a.Mesh.CellVolume())
}

func (a *AtomExchange) UpdateField() float64 {
	m := a.Mesh
	return normalize(accumulate(m, a.cellField), -a.energyScale(), m.NonEmptyCells())
}

func (a *AtomExchange) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(a.Mesh.M.Lattice, rel, pointEnergy(a.Mesh, a.energyScale(), a.cellField))
	return avg
}

func (a *AtomExchange) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(a.Mesh.M.Lattice, rel, pointEnergy(a.Mesh, a.energyScale(), a.cellField))
	return mx
}

// ComputeEnergyDensity writes the exchange energy density of every cell into out
func (a *AtomExchange) ComputeEnergyDensity(out *grid.Scalar) {
	fillDensity(a.Mesh.M.Lattice, out, pointEnergy(a.Mesh, a.energyScale(), a.cellField))
}

// AtomisticEnergy is the energy in J of moment idx with all its bonds
func (a *AtomExchange) AtomisticEnergy(idx int) float64 {
	M := a.Mesh.M
	n := r3.Norm(M.Data[idx])
	if M.IsEmpty(idx) || n == 0 {
		return 0
	}
	return -r3.Dot(r3.Scale(1/n, M.Data[idx]), a.local(idx))
}
