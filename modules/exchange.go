package modules

import (
	"github.com/wangxisss/Boris2/cmbnd"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

type dmiKind int

const (
	noDMI dmiKind = iota
	bulkDMI
	interfacialDMI
)

// Exchange is the direct exchange field 2A/(mu0 Ms^2) lap M, optionally with bulk or
// interfacial Dzyaloshinskii-Moriya exchange. Exchange coupled meshes of the same type
// are joined through their composite boundary cells.
type Exchange struct {
	mesh.Base
	dmi dmiKind
	dev deviceMirror
}

// NewExchange creates the isotropic exchange module
func NewExchange(m *mesh.Mesh) *Exchange {
	return &Exchange{Base: mesh.Base{Mesh: m, ModKind: mesh.Exchange}}
}

// NewDMExchange creates exchange with bulk DMI: Hdm = -2D/(mu0 Ms^2) curl M
func NewDMExchange(m *mesh.Mesh) *Exchange {
	return &Exchange{Base: mesh.Base{Mesh: m, ModKind: mesh.DMExchange}, dmi: bulkDMI}
}

// NewIDMExchange creates exchange with interfacial DMI:
// Hdm = -2D/(mu0 Ms^2) (dMz/dx, dMz/dy, -dMx/dx - dMy/dy)
func NewIDMExchange(m *mesh.Mesh) *Exchange {
	return &Exchange{Base: mesh.Base{Mesh: m, ModKind: mesh.IDMExchange}, dmi: interfacialDMI}
}

func (e *Exchange) Initialize() error {
	m := e.Mesh
	if e.dmi != noDMI {
		// the boundary tensor scales with D/2A
		if m.Params.A.Value == 0 || (m.M2 != nil && m.Params.A2.Value == 0) {
			return faults.New(e.Kind().String(), faults.IncorrectConfig, "DMI needs a non-zero exchange stiffness")
		}
	}
	e.SetInitialized(true)
	return nil
}

func (e *Exchange) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	return reinit(e)
}

// ---------------------------------------------------------------------------
// Boundary tensors and DMI terms

// bulkTensor is the boundary derivative of M imposed by bulk DMI, scaled by D/2A
func bulkTensor(m r3.Vec, s float64) grid.Tensor {
	return grid.Tensor{
		X: r3.Vec{X: 0, Y: -s * m.Z, Z: s * m.Y},
		Y: r3.Vec{X: s * m.Z, Y: 0, Z: -s * m.X},
		Z: r3.Vec{X: -s * m.Y, Y: s * m.X, Z: 0},
	}
}

// interfacialTensor is the boundary derivative of M imposed by interfacial DMI
func interfacialTensor(m r3.Vec, s float64) grid.Tensor {
	return grid.Tensor{
		X: r3.Vec{X: s * m.Z, Y: 0, Z: -s * m.X},
		Y: r3.Vec{X: 0, Y: s * m.Z, Z: -s * m.Y},
	}
}

// interfacialTerm is (dMz/dx, dMz/dy, -dMx/dx - dMy/dy)
func interfacialTerm(g grid.Tensor) r3.Vec {
	return r3.Vec{X: g.X.Z, Y: g.Y.Z, Z: -g.X.X - g.Y.Y}
}

// dmiAxisTerm is the DMI term produced by the derivative d of M along axis a alone
func (e *Exchange) dmiAxisTerm(a int, d r3.Vec) r3.Vec {
	switch e.dmi {
	case bulkDMI:
		switch a {
		case 0:
			return r3.Vec{X: 0, Y: -d.Z, Z: d.Y}
		case 1:
			return r3.Vec{X: d.Z, Y: 0, Z: -d.X}
		}
		return r3.Vec{X: -d.Y, Y: d.X, Z: 0}
	case interfacialDMI:
		switch a {
		case 0:
			return r3.Vec{X: d.Z, Y: 0, Z: -d.X}
		case 1:
			return r3.Vec{X: 0, Y: d.Z, Z: -d.Y}
		}
	}
	return r3.Vec{}
}

func (e *Exchange) tensor(m r3.Vec, A, D float64) grid.Tensor {
	switch e.dmi {
	case bulkDMI:
		return bulkTensor(m, D/(2*A))
	case interfacialDMI:
		return interfacialTensor(m, D/(2*A))
	}
	return grid.Tensor{}
}

// operators returns the Laplacian of v at idx and the DMI term, using the cheap
// stencils where the cell is interior
func (e *Exchange) operators(v *grid.VEC3, idx int, A, D float64) (delsq, dm r3.Vec) {
	switch e.dmi {
	case bulkDMI:
		if v.IsInterior(idx) {
			return v.DelsqNeu(idx), v.CurlNeu(idx)
		}
		bd := e.tensor(v.Data[idx], A, D)
		return v.DelsqNneu(idx, bd), v.CurlNneu(idx, bd)
	case interfacialDMI:
		if v.IsPlaneInterior(idx) {
			return v.DelsqNeu(idx), interfacialTerm(v.GradNeu(idx))
		}
		bd := e.tensor(v.Data[idx], A, D)
		return v.DelsqNneu(idx, bd), interfacialTerm(v.GradNneu(idx, bd))
	}
	return v.DelsqNeu(idx), r3.Vec{}
}

// ---------------------------------------------------------------------------
// Field

type afmConsts struct {
	msA, msB, aA, aB, dA, dB, ah, anh float64
}

func (e *Exchange) afmConsts(idx int) afmConsts {
	m := e.Mesh
	p := m.Params
	return afmConsts{
		msA: m.Param(p.Ms, idx), msB: m.Param(p.Ms2, idx),
		aA: m.Param(p.A, idx), aB: m.Param(p.A2, idx),
		dA: m.Param(p.D, idx), dB: m.Param(p.D2, idx),
		ah: m.Param(p.Ah, idx), anh: m.Param(p.Anh, idx),
	}
}

func (e *Exchange) cellField(idx int) (h, h2 r3.Vec) {
	m := e.Mesh
	if m.M2 == nil {
		Ms := m.Param(m.Params.Ms, idx)
		if Ms == 0 {
			return
		}
		A := m.Param(m.Params.A, idx)
		D := m.Param(m.Params.D, idx)
		delsq, dm := e.operators(m.M, idx, A, D)
		h = r3.Add(r3.Scale(2*A/(MU0*Ms*Ms), delsq), r3.Scale(-2*D/(MU0*Ms*Ms), dm))
		return
	}

	c := e.afmConsts(idx)
	MA, MB := m.M.Data[idx], m.M2.Data[idx]
	nA, nB := r3.Norm2(MA), r3.Norm2(MB)
	if c.msA == 0 || c.msB == 0 || nA == 0 || nB == 0 {
		return
	}
	lapA, dmA := e.operators(m.M, idx, c.aA, c.dA)
	lapB, dmB := e.operators(m.M2, idx, c.aB, c.dB)
	cross := 1 / (MU0 * c.msA * c.msB)

	h = r3.Scale(2*c.aA/(MU0*c.msA*c.msA), lapA)
	h = r3.Add(h, r3.Scale(cross, r3.Add(
		r3.Scale(-4*c.ah/nA, r3.Cross(MA, r3.Cross(MA, MB))),
		r3.Scale(c.anh, lapB))))
	h = r3.Add(h, r3.Scale(-2*c.dA/(MU0*c.msA*c.msA), dmA))

	h2 = r3.Scale(2*c.aB/(MU0*c.msB*c.msB), lapB)
	h2 = r3.Add(h2, r3.Scale(cross, r3.Add(
		r3.Scale(-4*c.ah/nB, r3.Cross(MB, r3.Cross(MB, MA))),
		r3.Scale(c.anh, lapA))))
	h2 = r3.Add(h2, r3.Scale(-2*c.dB/(MU0*c.msB*c.msB), dmB))
	return
}

// energyScale turns sum(M.H) into the exchange energy: pairwise, so halved, and
// averaged over the two sublattices of an antiferromagnet
func (e *Exchange) energyScale() float64 {
	if e.Mesh.M2 != nil {
		return MU0 / 4
	}
	return MU0 / 2
}

func (e *Exchange) UpdateField() float64 {
	m := e.Mesh
	var sum float64
	if e.dev.active(m) {
		Ms, A := m.Params.Ms.Value, m.Params.A.Value
		s, err := e.dev.run(m, 2*A/(MU0*Ms*Ms), m.M.H.X, m.M.H.Y, m.M.H.Z)
		if err != nil {
			// device failure falls back to the host path for this and later calls
			e.dev.detach()
			sum = accumulate(m, e.cellField)
		} else {
			sum = s
		}
	} else {
		sum = accumulate(m, e.cellField)
	}
	if m.ExchangeCoupled {
		sum += e.coupling()
	}
	return normalize(sum, -e.energyScale(), m.NonEmptyCells())
}

// ---------------------------------------------------------------------------
// Coupling across meshes

// pairField is the exchange (and DMI correction) field at a composite boundary cell for
// one sublattice, together with the Laplacian across the contact
func (e *Exchange) pairField(p cmbnd.Pair, aconst, dconst, A, D float64) (h, lap r3.Vec) {
	hr := p.HR
	valid := p.Cell2 >= 0
	if valid {
		lap = r3.Scale(1/(hr*hr), r3.Sub(r3.Add(p.V2, p.Vm1), r3.Scale(2, p.V1)))
	} else {
		lap = r3.Scale(1/(hr*hr), r3.Sub(p.Vm1, p.V1))
	}
	h = r3.Scale(aconst, lap)
	if e.dmi == noDMI || D == 0 {
		return
	}

	// the sided derivative already applied along the contact axis is replaced by the
	// one that sees the other mesh
	s := float64(p.Side)
	bd := e.tensor(p.V1, A, D).Axis(p.Axis)
	var dTrue, dSided r3.Vec
	if valid {
		dTrue = r3.Scale(-s/(2*hr), r3.Sub(p.V2, p.Vm1))
		dSided = r3.Scale(0.5, r3.Add(r3.Scale(-s/hr, r3.Sub(p.V2, p.V1)), bd))
	} else {
		dTrue = r3.Scale(-s/hr, r3.Sub(p.V1, p.Vm1))
		dSided = bd
	}
	h = r3.Add(h, r3.Scale(dconst, e.dmiAxisTerm(p.Axis, r3.Sub(dTrue, dSided))))
	return
}

// coupling adds the field at every composite boundary cell and returns the sum of
// M.H there
func (e *Exchange) coupling() float64 {
	m := e.Mesh
	sum := 0.0
	for _, c := range m.Contacts {
		if c.Peer == nil || c.Peer.Type != m.Type {
			continue
		}
		var pairs, pairs2 []cmbnd.Pair
		cmbnd.ForEachPair(m.M, c.Peer.M, c.Contact, func(p cmbnd.Pair) { pairs = append(pairs, p) })
		if m.M2 != nil {
			cmbnd.ForEachPair(m.M2, c.Peer.M2, c.Contact, func(p cmbnd.Pair) { pairs2 = append(pairs2, p) })
		}
		for i, p := range pairs {
			idx := p.Cell1
			if m.M2 == nil {
				Ms := m.Param(m.Params.Ms, idx)
				if Ms == 0 {
					continue
				}
				A := m.Param(m.Params.A, idx)
				D := m.Param(m.Params.D, idx)
				h, _ := e.pairField(p, 2*A/(MU0*Ms*Ms), -2*D/(MU0*Ms*Ms), A, D)
				m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], h)
				sum += r3.Dot(p.V1, h)
				continue
			}

			cs := e.afmConsts(idx)
			if cs.msA == 0 || cs.msB == 0 || i >= len(pairs2) {
				continue
			}
			p2 := pairs2[i]
			hA, lapA := e.pairField(p, 2*cs.aA/(MU0*cs.msA*cs.msA), -2*cs.dA/(MU0*cs.msA*cs.msA), cs.aA, cs.dA)
			hB, lapB := e.pairField(p2, 2*cs.aB/(MU0*cs.msB*cs.msB), -2*cs.dB/(MU0*cs.msB*cs.msB), cs.aB, cs.dB)
			cross := cs.anh / (MU0 * cs.msA * cs.msB)
			hA = r3.Add(hA, r3.Scale(cross, lapB))
			hB = r3.Add(hB, r3.Scale(cross, lapA))
			m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], hA)
			m.Heff2.Data[idx] = r3.Add(m.Heff2.Data[idx], hB)
			sum += r3.Dot(p.V1, hA) + r3.Dot(p2.V1, hB)
		}
	}
	return sum
}

// ---------------------------------------------------------------------------
// Energy diagnostics

func (e *Exchange) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(e.Mesh.M.Lattice, rel, pointEnergy(e.Mesh, e.energyScale(), e.cellField))
	return avg
}

func (e *Exchange) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(e.Mesh.M.Lattice, rel, pointEnergy(e.Mesh, e.energyScale(), e.cellField))
	return mx
}

// ComputeEnergyDensity writes the exchange energy density of every cell into out
func (e *Exchange) ComputeEnergyDensity(out *grid.Scalar) {
	fillDensity(e.Mesh.M.Lattice, out, pointEnergy(e.Mesh, e.energyScale(), e.cellField))
}

// ---------------------------------------------------------------------------
// Device

// AttachDevice binds the exchange kernel. Only isotropic exchange on ferromagnets
// with constant parameters runs on the device; everything else stays on the host.
func (e *Exchange) AttachDevice() error {
	m := e.Mesh
	e.dev.detach()
	if e.dmi != noDMI || m.Type != mesh.Ferromagnetic || !constant(m.Params.Ms, m.Params.A) || m.Params.Ms.Value == 0 {
		return nil
	}
	return e.dev.attach(m, "exchange_field", exchangeKernel)
}

func (e *Exchange) DetachDevice() { e.dev.detach() }
