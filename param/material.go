package param

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Set holds the material parameters of one mesh. Antiferromagnetic meshes use the
// *2 variants for sublattice B; atomistic meshes use the per-atom constants.
type Set struct {
	// micromagnetic
	Ms, Ms2     *Scalar // A/m
	A, A2       *Scalar // J/m
	D, D2       *Scalar // J/m^2
	Ah, Anh     *Scalar // homogeneous / inhomogeneous AFM coupling, J/m^3 and J/m
	K1, K2      *Scalar // J/m^3 (J per atom for atomistic meshes)
	Ea1, Ea2    *Vector
	J1, J2      *Scalar // surface exchange, J/m^2
	Cha         *Scalar // applied field scaling
	ThermalK    *Scalar // W/mK
	HeatC       *Scalar // J/kgK
	Density     *Scalar // kg/m^3
	Conductance *Scalar // interface thermal conductance W/m^2K, 0 for a continuous interface

	// atomistic
	MuS   *Scalar // magnetic moment in Bohr magnetons
	Jatom *Scalar // J
	Datom *Scalar // J
}

// NewSet returns the default parameter set
func NewSet() *Set {
	return &Set{
		Ms:          NewScalar("Ms", 8e5),
		Ms2:         NewScalar("Ms2", 8e5),
		A:           NewScalar("A", 1.3e-11),
		A2:          NewScalar("A2", 1.3e-11),
		D:           NewScalar("D", 3e-3),
		D2:          NewScalar("D2", 3e-3),
		Ah:          NewScalar("Ah", -1e6),
		Anh:         NewScalar("Anh", 0),
		K1:          NewScalar("K1", 1e4),
		K2:          NewScalar("K2", 0),
		Ea1:         NewVector("ea1", r3.Vec{X: 1}),
		Ea2:         NewVector("ea2", r3.Vec{Y: 1}),
		J1:          NewScalar("J1", -1e-3),
		J2:          NewScalar("J2", 0),
		Cha:         NewScalar("cHA", 1),
		ThermalK:    NewScalar("thermK", 46.4),
		HeatC:       NewScalar("shc", 430),
		Density:     NewScalar("density", 8740),
		Conductance: NewScalar("G", 0),
		MuS:         NewScalar("mu_s", 1),
		Jatom:       NewScalar("J", 5e-21),
		Datom:       NewScalar("Datom", 5e-23),
	}
}

// NewAtomisticSet returns the default set for an atomistic mesh, where the
// anisotropy constants are energies per atom
func NewAtomisticSet() *Set {
	s := NewSet()
	s.K1.Value = 5e-24
	return s
}

// Scalars returns the scalar parameters keyed by name
func (s *Set) Scalars() map[string]*Scalar {
	m := make(map[string]*Scalar)
	for _, p := range []*Scalar{s.Ms, s.Ms2, s.A, s.A2, s.D, s.D2, s.Ah, s.Anh, s.K1, s.K2,
		s.J1, s.J2, s.Cha, s.ThermalK, s.HeatC, s.Density, s.Conductance, s.MuS, s.Jatom, s.Datom} {
		m[p.Name] = p
	}
	return m
}

// Vectors returns the vector parameters keyed by name
func (s *Set) Vectors() map[string]*Vector {
	return map[string]*Vector{s.Ea1.Name: s.Ea1, s.Ea2.Name: s.Ea2}
}

// SetValue sets the base value of the named scalar parameter
func (s *Set) SetValue(name string, value float64) error {
	p, ok := s.Scalars()[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q (have %v)", name, s.Names())
	}
	p.Value = value
	return nil
}

// SetVector sets the base value of the named vector parameter
func (s *Set) SetVector(name string, value r3.Vec) error {
	p, ok := s.Vectors()[name]
	if !ok {
		return fmt.Errorf("unknown vector parameter %q", name)
	}
	p.Value = value
	return nil
}

// Names lists every parameter name in sorted order
func (s *Set) Names() []string {
	var names []string
	for n := range s.Scalars() {
		names = append(names, n)
	}
	for n := range s.Vectors() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
