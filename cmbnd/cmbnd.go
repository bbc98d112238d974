package cmbnd

import (
	"math"

	"github.com/wangxisss/Boris2/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// Contact describes the face where a primary lattice touches a secondary one. It is
// computed from the two rectangles only.
type Contact struct {
	Axis int // 0, 1, 2
	Side int // +1 when the secondary lies on the + side of the primary

	// CellsBox holds the primary cells on the contact face
	CellsBox grid.Box

	// ShiftPrimary goes from a primary face cell center to the interface and
	// ShiftSecondary from the interface to the first secondary cell center
	ShiftPrimary   r3.Vec
	ShiftSecondary r3.Vec

	// PrimaryTop is set when the primary lies above the secondary along z
	PrimaryTop bool
}

// Flag returns the coupling flag carried by primary face cells of c
func (c Contact) Flag() uint32 { return grid.CMBNDFlag(c.Axis, c.Side > 0) }

// HR is the distance between the primary cell center and the mirror position
func (c Contact) HR(hPrimary r3.Vec) float64 { return grid.Axis(hPrimary, c.Axis) }

func touching(x, y, scale float64) bool {
	return math.Abs(x-y) <= 1e-12*math.Max(scale, math.Max(math.Abs(x), math.Abs(y)))
}

// FindContact looks for a face shared by primary and secondary: the rectangles must
// touch along one axis and their projections on the other two must overlap with
// positive area
func FindContact(primary, secondary *grid.Lattice) (Contact, bool) {
	p, s := primary.Rect, secondary.Rect
	for a := 0; a < 3; a++ {
		side := 0
		scale := grid.Axis(p.Size(), a)
		switch {
		case touching(grid.Axis(p.Max, a), grid.Axis(s.Min, a), scale):
			side = 1
		case touching(grid.Axis(p.Min, a), grid.Axis(s.Max, a), scale):
			side = -1
		default:
			continue
		}
		b1, b2 := (a+1)%3, (a+2)%3
		ov := func(b int) float64 {
			return math.Min(grid.Axis(p.Max, b), grid.Axis(s.Max, b)) - math.Max(grid.Axis(p.Min, b), grid.Axis(s.Min, b))
		}
		if ov(b1) <= 1e-12*grid.Axis(p.Size(), b1) || ov(b2) <= 1e-12*grid.Axis(p.Size(), b2) {
			continue
		}

		// overlap region relative to the primary origin, flattened onto the face
		inter := grid.Rect{Min: r3.Vec{}, Max: r3.Vec{}}
		for _, b := range []int{b1, b2} {
			lo := math.Max(grid.Axis(p.Min, b), grid.Axis(s.Min, b)) - grid.Axis(p.Min, b)
			hi := math.Min(grid.Axis(p.Max, b), grid.Axis(s.Max, b)) - grid.Axis(p.Min, b)
			inter.Min = grid.SetAxis(inter.Min, b, lo)
			inter.Max = grid.SetAxis(inter.Max, b, hi)
		}
		box := primary.BoxFromRect(inter)
		face := 0
		if side > 0 {
			face = primary.N.Axis(a) - 1
		}
		box.S = box.S.SetAxis(a, face)
		box.E = box.E.SetAxis(a, face+1)

		hp := grid.Axis(primary.H, a)
		hs := grid.Axis(secondary.H, a)
		return Contact{
			Axis:           a,
			Side:           side,
			CellsBox:       box,
			ShiftPrimary:   grid.UnitAxis(a, float64(side)*hp/2),
			ShiftSecondary: grid.UnitAxis(a, float64(side)*hs/2),
			PrimaryTop:     a == 2 && side < 0,
		}, true
	}
	return Contact{}, false
}

// mirror returns the position, relative to the secondary origin, facing primary
// cell idx across the contact, and the stencil used to sample the secondary there
func mirror(primary, secondary *grid.Lattice, c Contact, idx int) (relpos, stencil r3.Vec) {
	pos := r3.Add(primary.CellCenter(idx), r3.Add(c.ShiftPrimary, c.ShiftSecondary))
	relpos = r3.Sub(pos, secondary.Rect.Min)
	stencil = grid.SetAxis(primary.H, c.Axis, grid.Axis(secondary.H, c.Axis))
	return
}

// MarkFlags sets the coupling flag on primary face cells that are non-empty and face
// a non-empty part of the secondary, returning the number of cells marked
func MarkFlags(primary, secondary *grid.Lattice, c Contact) int {
	count := 0
	primary.EachInBox(c.CellsBox, func(idx int) {
		if primary.IsEmpty(idx) {
			return
		}
		relpos, stencil := mirror(primary, secondary, c, idx)
		if secondary.NonEmptyOverlap(relpos, stencil) > 0 {
			primary.SetFlag(idx, c.Flag())
			count++
		}
	})
	return count
}

// ClearFlags removes every coupling flag from the lattice
func ClearFlags(l *grid.Lattice) {
	for idx := range l.Flags {
		l.ClearFlag(idx, grid.CMBND)
	}
}

// Pair is a primary face cell with the values it couples to
type Pair struct {
	Cell1 int // primary face cell
	Cell2 int // inward neighbour of Cell1, -1 if absent
	V1    r3.Vec
	V2    r3.Vec
	Vm1   r3.Vec // secondary average at the mirror position
	HR    float64
	Axis  int
	Side  int
}

// inward returns the non-empty neighbour of idx away from the contact, or -1
func inward(l *grid.Lattice, c Contact, idx int) int {
	plus := c.Side < 0
	if !l.HasFlag(idx, grid.NeighbourFlag(c.Axis, plus)) {
		return -1
	}
	return l.Neighbour(idx, c.Axis, plus)
}

// Facing returns the secondary value averaged over the region facing primary cell idx
// across c, the overlap weight, and the secondary cell containing the mirror position
// (-1 outside the secondary)
func Facing(primary, secondary *grid.VEC3, c Contact, idx int) (r3.Vec, float64, int) {
	relpos, stencil := mirror(primary.Lattice, secondary.Lattice, c, idx)
	v, w := secondary.WeightedAverageW(relpos, stencil)
	return v, w, secondary.RelPosToIdx(relpos)
}

// ForEachPair calls fn for every marked primary face cell of c
func ForEachPair(primary, secondary *grid.VEC3, c Contact, fn func(Pair)) {
	flag := c.Flag()
	hr := c.HR(primary.H)
	primary.EachInBox(c.CellsBox, func(idx int) {
		if !primary.HasFlag(idx, flag) {
			return
		}
		vm1, w, _ := Facing(primary, secondary, c, idx)
		if w == 0 {
			return
		}
		p := Pair{Cell1: idx, Cell2: inward(primary.Lattice, c, idx), V1: primary.Data[idx],
			Vm1: vm1, HR: hr, Axis: c.Axis, Side: c.Side}
		if p.Cell2 >= 0 {
			p.V2 = primary.Data[p.Cell2]
		}
		fn(p)
	})
}

// ---------------------------------------------------------------------------
// Scalar interface conditions

// Coefficients describe a scalar quantity on one side of an interface: the flux is
// A + B dV/dn, with n pointing from primary to secondary, and C is the second
// derivative along n used to extrapolate quadratically. Nil functions mean A = 0,
// B = 1 and C = 0.
type Coefficients struct {
	A, B, C func(idx int) float64
}

func (k Coefficients) eval(idx int) (a, b, c float64) {
	b = 1
	if k.A != nil {
		a = k.A(idx)
	}
	if k.B != nil {
		b = k.B(idx)
	}
	if k.C != nil {
		c = k.C(idx)
	}
	return
}

// scalarPair visits marked primary face cells that have an inward neighbour and a
// non-empty secondary region
func scalarPair(prim, sec *grid.Scalar, c Contact, fn func(idx1, idx2, sidx int, v2, vm1 float64)) {
	flag := c.Flag()
	prim.EachInBox(c.CellsBox, func(idx int) {
		if !prim.HasFlag(idx, flag) {
			return
		}
		idx2 := inward(prim.Lattice, c, idx)
		if idx2 < 0 {
			return
		}
		relpos, stencil := mirror(prim.Lattice, sec.Lattice, c, idx)
		vm1, w := sec.WeightedAverageW(relpos, stencil)
		if w == 0 {
			return
		}
		sidx := sec.RelPosToIdx(relpos)
		if sidx < 0 || sec.IsEmpty(sidx) {
			return
		}
		fn(idx, idx2, sidx, prim.Data[idx2], vm1)
	})
}

// SetContinuous sets each marked primary face cell so that the value and the flux
// are continuous across the interface
func SetContinuous(prim, sec *grid.Scalar, c Contact, pc, sc Coefficients) {
	hp := grid.Axis(prim.H, c.Axis)
	hs := grid.Axis(sec.H, c.Axis)
	scalarPair(prim, sec, c, func(idx1, idx2, sidx int, v2, vm1 float64) {
		ap, bp, cp := pc.eval(idx1)
		as, bs, cs := sc.eval(sidx)
		num := as - ap + bp*v2/hp - bp*hp*cp +
			(2*bs/hs)*(vm1-hs*hs*cs/8+v2/2-3*hp*hp*cp/8)
		den := bp/hp + 3*bs/hs
		if den == 0 {
			return
		}
		prim.Data[idx1] = num / den
	})
}

// SetDiscontinuous sets each marked primary face cell so that the flux is continuous
// while the interface values jump by flux/G, G being the interface conductance
func SetDiscontinuous(prim, sec *grid.Scalar, c Contact, pc, sc Coefficients, G float64) {
	hp := grid.Axis(prim.H, c.Axis)
	hs := grid.Axis(sec.H, c.Axis)
	scalarPair(prim, sec, c, func(idx1, idx2, sidx int, v2, vm1 float64) {
		ap, bp, cp := pc.eval(idx1)
		as, bs, cs := sc.eval(sidx)
		if bs == 0 {
			return
		}
		alpha := v2/hp - hp*cp
		beta := -v2/2 + 3*hp*hp*cp/8
		gamma := vm1 - hs*hs*cs/8
		cc := 1 - G*hs/(2*bs)
		den := 1.5*G - cc*bp/hp
		if den == 0 {
			return
		}
		prim.Data[idx1] = (G*(gamma-beta+hs*as/(2*bs)) + cc*(ap-bp*alpha)) / den
	})
}
