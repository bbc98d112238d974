package modules

import (
	"github.com/wangxisss/Boris2/cmbnd"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// SurfExchange couples the top layer of a ferromagnetic mesh to the bottom layer of
// the mesh directly above it, and the reverse, through bilinear (J1) and biquadratic
// (J2) surface exchange. J1 and J2 are taken from the upper mesh of each pair.
type SurfExchange struct {
	mesh.Base
}

// NewSurfExchange creates the surface exchange module
func NewSurfExchange(m *mesh.Mesh) *SurfExchange {
	return &SurfExchange{Base: mesh.Base{Mesh: m, ModKind: mesh.SurfExchange}}
}

func (s *SurfExchange) Initialize() error {
	s.SetInitialized(true)
	return nil
}

func (s *SurfExchange) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	return reinit(s)
}

// each visits every surface cell with its field and energy density
func (s *SurfExchange) each(fn func(idx int, h r3.Vec, e float64)) {
	m := s.Mesh
	hz := m.M.H.Z
	for _, c := range m.SurfContacts {
		peer := c.Peer
		if peer == nil || peer.Type != mesh.Ferromagnetic || c.Axis != 2 {
			continue
		}
		m.M.EachInBox(c.CellsBox, func(idx int) {
			if m.M.IsEmpty(idx) {
				return
			}
			v, w, sidx := cmbnd.Facing(m.M, peer.M, c.Contact, idx)
			nv, nm := r3.Norm(v), r3.Norm(m.M.Data[idx])
			if w == 0 || nv == 0 || nm == 0 || sidx < 0 {
				return
			}
			Ms := m.Param(m.Params.Ms, idx)
			if Ms == 0 {
				return
			}
			var J1, J2 float64
			if c.Side > 0 {
				J1 = peer.Param(peer.Params.J1, sidx)
				J2 = peer.Param(peer.Params.J2, sidx)
			} else {
				J1 = m.Param(m.Params.J1, idx)
				J2 = m.Param(m.Params.J2, idx)
			}
			mj := r3.Scale(1/nv, v)
			dot := r3.Dot(r3.Scale(1/nm, m.M.Data[idx]), mj)
			h := r3.Scale((J1+2*J2*dot)/(MU0*Ms*hz), mj)
			fn(idx, h, -(J1*dot+J2*dot*dot)/hz)
		})
	}
}

func (s *SurfExchange) UpdateField() float64 {
	m := s.Mesh
	sum := 0.0
	s.each(func(idx int, h r3.Vec, e float64) {
		m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], h)
		sum += e
	})
	return normalize(sum, 1, m.NonEmptyCells())
}

func (s *SurfExchange) densities() func(idx int) float64 {
	e := make(map[int]float64)
	s.each(func(idx int, _ r3.Vec, v float64) { e[idx] += v })
	return func(idx int) float64 { return e[idx] }
}

func (s *SurfExchange) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(s.Mesh.M.Lattice, rel, s.densities())
	return avg
}

func (s *SurfExchange) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(s.Mesh.M.Lattice, rel, s.densities())
	return mx
}
