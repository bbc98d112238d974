package grid

import (
	"fmt"
	"math"

	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/spatial/r3"
)

// Cell flags
const (
	NotEmpty uint32 = 1 << iota // cell takes part in the physics

	NPX // +x neighbour present and not empty
	NNX // -x neighbour present and not empty
	NPY
	NNY
	NPZ
	NNZ

	CMBNDPX // +x face coupled to another mesh
	CMBNDNX // -x face coupled to another mesh
	CMBNDPY
	CMBNDNY
	CMBNDPZ
	CMBNDNZ
)

const (
	CMBNDX   = CMBNDPX | CMBNDNX
	CMBNDY   = CMBNDPY | CMBNDNY
	CMBNDZ   = CMBNDPZ | CMBNDNZ
	CMBND    = CMBNDX | CMBNDY | CMBNDZ
	allNgbrs = NPX | NNX | NPY | NNY | NPZ | NNZ
)

// NeighbourFlag returns the presence flag for the neighbour along axis a on the given side
func NeighbourFlag(a int, plus bool) uint32 {
	f := NPX << uint(2*a)
	if !plus {
		f <<= 1
	}
	return f
}

// CMBNDFlag returns the coupling flag for the face along axis a on the given side
func CMBNDFlag(a int, plus bool) uint32 {
	f := CMBNDPX << uint(2*a)
	if !plus {
		f <<= 1
	}
	return f
}

// Lattice is the geometry shared by every grid: cell count n, cellsize h,
// world rectangle and the per-cell flags
type Lattice struct {
	N     INT3
	H     r3.Vec
	Rect  Rect
	Flags []uint32
	PBC   INT3 // periodic images per axis, 0 for open boundaries

	Layout *partitions.Layout
}

// NewLattice builds a lattice covering rect with cells as close to h as possible.
// The cellsize is adjusted so that n*h spans rect exactly. All cells start empty.
func NewLattice(h r3.Vec, rect Rect) *Lattice {
	l := &Lattice{}
	if err := l.resize(h, rect); err != nil {
		panic(err)
	}
	return l
}

// CellCount returns the cell count along each axis for cellsize h over rect
func CellCount(h r3.Vec, rect Rect) INT3 {
	size := rect.Size()
	count := func(s, d float64) int {
		n := int(math.Round(s / d))
		if n < 1 {
			n = 1
		}
		return n
	}
	return INT3{count(size.X, h.X), count(size.Y, h.Y), count(size.Z, h.Z)}
}

func (l *Lattice) resize(h r3.Vec, rect Rect) error {
	if h.X <= 0 || h.Y <= 0 || h.Z <= 0 {
		return fmt.Errorf("cellsize must be positive, got %v", h)
	}
	if IsPlane(rect) || IsInverted(rect) {
		return fmt.Errorf("invalid rectangle %v", rect)
	}
	n := CellCount(h, rect)
	size := rect.Size()
	l.N = n
	l.H = r3.Vec{X: size.X / float64(n.X), Y: size.Y / float64(n.Y), Z: size.Z / float64(n.Z)}
	l.Rect = rect
	l.Flags = make([]uint32, n.Dim())
	l.Layout = partitions.New(n.Dim(), partitions.Config{})
	return nil
}

// Dim is the total number of cells
func (l *Lattice) Dim() int { return l.N.Dim() }

// Idx returns the linear index of cell (i, j, k)
func (l *Lattice) Idx(i, j, k int) int { return i + j*l.N.X + k*l.N.X*l.N.Y }

// Coords returns the cell coordinates of linear index idx
func (l *Lattice) Coords(idx int) INT3 {
	return INT3{idx % l.N.X, (idx / l.N.X) % l.N.Y, idx / (l.N.X * l.N.Y)}
}

// CellCenterRel returns the center of cell idx relative to the lattice origin
func (l *Lattice) CellCenterRel(idx int) r3.Vec {
	c := l.Coords(idx)
	return r3.Vec{
		X: (float64(c.X) + 0.5) * l.H.X,
		Y: (float64(c.Y) + 0.5) * l.H.Y,
		Z: (float64(c.Z) + 0.5) * l.H.Z,
	}
}

// CellCenter returns the absolute position of the center of cell idx
func (l *Lattice) CellCenter(idx int) r3.Vec { return r3.Add(l.Rect.Min, l.CellCenterRel(idx)) }

// RelPosToIdx returns the index of the cell containing relative position p, or -1
func (l *Lattice) RelPosToIdx(p r3.Vec) int {
	i := int(math.Floor(p.X / l.H.X))
	j := int(math.Floor(p.Y / l.H.Y))
	k := int(math.Floor(p.Z / l.H.Z))
	if i == l.N.X && p.X <= float64(l.N.X)*l.H.X*(1+1e-12) {
		i--
	}
	if j == l.N.Y && p.Y <= float64(l.N.Y)*l.H.Y*(1+1e-12) {
		j--
	}
	if k == l.N.Z && p.Z <= float64(l.N.Z)*l.H.Z*(1+1e-12) {
		k--
	}
	if i < 0 || j < 0 || k < 0 || i >= l.N.X || j >= l.N.Y || k >= l.N.Z {
		return -1
	}
	return l.Idx(i, j, k)
}

// BoxFromRect converts a rectangle relative to the lattice origin into the box of
// cells it overlaps, clipped to the lattice
func (l *Lattice) BoxFromRect(rel Rect) Box {
	lo := func(v, h float64, n int) int {
		return clampInt(int(math.Floor(v/h+1e-9)), 0, n)
	}
	hi := func(v, h float64, n int) int {
		return clampInt(int(math.Ceil(v/h-1e-9)), 0, n)
	}
	return Box{
		S: INT3{lo(rel.Min.X, l.H.X, l.N.X), lo(rel.Min.Y, l.H.Y, l.N.Y), lo(rel.Min.Z, l.H.Z, l.N.Z)},
		E: INT3{hi(rel.Max.X, l.H.X, l.N.X), hi(rel.Max.Y, l.H.Y, l.N.Y), hi(rel.Max.Z, l.H.Z, l.N.Z)},
	}
}

// EachInBox calls fn for every cell index in b
func (l *Lattice) EachInBox(b Box, fn func(idx int)) {
	for k := b.S.Z; k < b.E.Z; k++ {
		for j := b.S.Y; j < b.E.Y; j++ {
			for i := b.S.X; i < b.E.X; i++ {
				fn(l.Idx(i, j, k))
			}
		}
	}
}

// InRect reports whether the center of cell idx lies in rel (relative to the lattice
// origin); the null rectangle contains every cell
func (l *Lattice) InRect(rel Rect, idx int) bool {
	if IsNull(rel) {
		return true
	}
	return Contains(rel, l.CellCenterRel(idx))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---------------------------------------------------------------------------
// Flags

func (l *Lattice) IsNotEmpty(idx int) bool { return l.Flags[idx]&NotEmpty != 0 }

func (l *Lattice) IsEmpty(idx int) bool { return l.Flags[idx]&NotEmpty == 0 }

// IsInterior reports a non-empty cell with all six neighbours present
func (l *Lattice) IsInterior(idx int) bool {
	f := l.Flags[idx]
	return f&NotEmpty != 0 && f&allNgbrs == allNgbrs && f&CMBND == 0
}

// IsPlaneInterior reports a non-empty cell with all four in-plane neighbours present
func (l *Lattice) IsPlaneInterior(idx int) bool {
	f := l.Flags[idx]
	inPlane := NPX | NNX | NPY | NNY
	return f&NotEmpty != 0 && f&inPlane == inPlane && f&(CMBNDX|CMBNDY) == 0
}

// IsCMBND reports a cell with any face coupled to another mesh
func (l *Lattice) IsCMBND(idx int) bool { return l.Flags[idx]&CMBND != 0 }

// HasFlag reports whether all bits in f are set for idx
func (l *Lattice) HasFlag(idx int, f uint32) bool { return l.Flags[idx]&f == f }

// SetFlag / ClearFlag modify individual flag bits
func (l *Lattice) SetFlag(idx int, f uint32) { l.Flags[idx] |= f }

func (l *Lattice) ClearFlag(idx int, f uint32) { l.Flags[idx] &^= f }

// SetPBC sets the number of periodic images along each axis and recomputes flags
func (l *Lattice) SetPBC(pbc INT3) {
	l.PBC = pbc
	l.SetFlags()
}

// Neighbour returns the index of the neighbour of idx along axis a on the given
// side, honouring periodic boundaries, or -1 if there is none
func (l *Lattice) Neighbour(idx, a int, plus bool) int {
	c := l.Coords(idx)
	n := l.N.Axis(a)
	periodic := l.PBC.Axis(a) > 0
	ci := c.Axis(a)
	step := []int{1, l.N.X, l.N.X * l.N.Y}[a]
	if plus {
		if ci < n-1 {
			return idx + step
		}
		if periodic {
			return idx - (n-1)*step
		}
		return -1
	}
	if ci > 0 {
		return idx - step
	}
	if periodic {
		return idx + (n-1)*step
	}
	return -1
}

// SetFlags recomputes neighbour flags from cell emptiness. Coupling flags are
// cleared; they are set again by the composite boundary layer.
func (l *Lattice) SetFlags() {
	filled := make([]bool, l.Dim())
	for idx, f := range l.Flags {
		filled[idx] = f&NotEmpty != 0
	}
	l.Layout.ForEach(func(idx int) {
		var f uint32
		if filled[idx] {
			f = NotEmpty
			for a := 0; a < 3; a++ {
				for _, plus := range []bool{true, false} {
					nb := l.Neighbour(idx, a, plus)
					if nb >= 0 && filled[nb] {
						f |= NeighbourFlag(a, plus)
					}
				}
			}
		}
		l.Flags[idx] = f
	})
}

// NonEmptyCells counts the cells taking part in the physics
func (l *Lattice) NonEmptyCells() int {
	return int(l.Layout.Reduce(func(p *partitions.Partition) float64 {
		count := 0
		p.Each(func(idx int) {
			if l.Flags[idx]&NotEmpty != 0 {
				count++
			}
		})
		return float64(count)
	}))
}

// SameGeometry reports whether other has the same cell count, cellsize and rectangle
func (l *Lattice) SameGeometry(other *Lattice) bool {
	return l.N == other.N && l.H == other.H && l.Rect == other.Rect
}

// overlapWeights calls fn for every cell overlapped by the box of size stencil
// centred on relative position p, with the overlap volume as weight. A zero
// stencil component selects the single layer of cells containing p on that axis.
func (l *Lattice) overlapWeights(p, stencil r3.Vec, fn func(idx int, w float64)) {
	type span struct {
		lo, hi int
		w      func(i int) float64
	}
	axisSpan := func(pa, sa, ha float64, n int) span {
		if sa <= 0 {
			i := clampInt(int(math.Floor(pa/ha)), 0, n-1)
			return span{i, i + 1, func(int) float64 { return 1 }}
		}
		a0, a1 := pa-sa/2, pa+sa/2
		lo := clampInt(int(math.Floor(a0/ha)), 0, n)
		hi := clampInt(int(math.Ceil(a1/ha)), 0, n)
		return span{lo, hi, func(i int) float64 {
			c0, c1 := float64(i)*ha, float64(i+1)*ha
			return math.Max(0, math.Min(a1, c1)-math.Max(a0, c0))
		}}
	}
	sx := axisSpan(p.X, stencil.X, l.H.X, l.N.X)
	sy := axisSpan(p.Y, stencil.Y, l.H.Y, l.N.Y)
	sz := axisSpan(p.Z, stencil.Z, l.H.Z, l.N.Z)
	for k := sz.lo; k < sz.hi; k++ {
		wz := sz.w(k)
		if wz == 0 {
			continue
		}
		for j := sy.lo; j < sy.hi; j++ {
			wy := sy.w(j)
			if wy == 0 {
				continue
			}
			for i := sx.lo; i < sx.hi; i++ {
				wx := sx.w(i)
				if wx == 0 {
					continue
				}
				idx := l.Idx(i, j, k)
				if l.Flags[idx]&NotEmpty == 0 {
					continue
				}
				fn(idx, wx*wy*wz)
			}
		}
	}
}

// NonEmptyOverlap returns the volume of non-empty cells overlapped by the box of size
// stencil centred on relative position p
func (l *Lattice) NonEmptyOverlap(p, stencil r3.Vec) float64 {
	total := 0.0
	l.overlapWeights(p, stencil, func(_ int, w float64) { total += w })
	return total
}

// resample copies emptiness from old onto l by sampling old at each new cell center,
// reporting the source index for each destination cell (or -1)
func (l *Lattice) resample(old *Lattice, fn func(dst, src int)) {
	for idx := 0; idx < l.Dim(); idx++ {
		p := r3.Sub(l.CellCenter(idx), old.Rect.Min)
		src := old.RelPosToIdx(p)
		if src >= 0 && old.IsNotEmpty(src) {
			l.Flags[idx] = NotEmpty
		} else {
			l.Flags[idx] = 0
			src = -1
		}
		fn(idx, src)
	}
}
