package grid

import (
	"math"

	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/spatial/r3"
)

// VEC3 is a vector quantity on a lattice, with boundary-aware differential operators
type VEC3 struct {
	*Lattice
	Data []r3.Vec
}

// NewVEC3 allocates an all-empty vector grid
func NewVEC3(h r3.Vec, rect Rect) *VEC3 {
	l := NewLattice(h, rect)
	return &VEC3{Lattice: l, Data: make([]r3.Vec, l.Dim())}
}

// NewVEC3Filled allocates a vector grid with every cell set to value and non-empty
func NewVEC3Filled(h r3.Vec, rect Rect, value r3.Vec) *VEC3 {
	v := NewVEC3(h, rect)
	v.Fill(value)
	return v
}

// NewVEC3Like allocates a zero vector grid sharing the geometry and flags of l
func NewVEC3Like(l *Lattice) *VEC3 {
	return &VEC3{Lattice: l, Data: make([]r3.Vec, l.Dim())}
}

// Fill sets every cell to value and marks it non-empty
func (v *VEC3) Fill(value r3.Vec) {
	for idx := range v.Data {
		v.Data[idx] = value
		v.Flags[idx] |= NotEmpty
	}
	v.SetFlags()
}

// SetUniform sets every non-empty cell to value
func (v *VEC3) SetUniform(value r3.Vec) {
	v.Layout.ForEach(func(idx int) {
		if v.IsNotEmpty(idx) {
			v.Data[idx] = value
		}
	})
}

// Zero sets every cell value to zero, flags unchanged
func (v *VEC3) Zero() {
	for idx := range v.Data {
		v.Data[idx] = r3.Vec{}
	}
}

// CopyValues copies values from src, which must have the same cell count
func (v *VEC3) CopyValues(src *VEC3) {
	if len(src.Data) != len(v.Data) {
		panic("CopyValues: mismatched grid sizes")
	}
	copy(v.Data, src.Data)
}

// Renormalize scales every non-empty cell to length norm, leaving zero cells alone
func (v *VEC3) Renormalize(norm float64) {
	v.Layout.ForEach(func(idx int) {
		if v.IsNotEmpty(idx) {
			if l := r3.Norm(v.Data[idx]); l > 0 {
				v.Data[idx] = r3.Scale(norm/l, v.Data[idx])
			}
		}
	})
}

// Resize changes the discretization, resampling values and shape from the old grid
func (v *VEC3) Resize(h r3.Vec, rect Rect) error {
	old := *v.Lattice
	oldData := v.Data
	nl := &Lattice{PBC: old.PBC}
	if err := nl.resize(h, rect); err != nil {
		return err
	}
	data := make([]r3.Vec, nl.Dim())
	nl.resample(&old, func(dst, src int) {
		if src >= 0 {
			data[dst] = oldData[src]
		}
	})
	nl.SetFlags()
	*v.Lattice = *nl
	v.Data = data
	return nil
}

// SampleFrom sets every non-empty cell to the value of the src cell containing its
// center; cells outside src or over empty src cells are left unchanged
func (v *VEC3) SampleFrom(src *VEC3) {
	v.Layout.ForEach(func(idx int) {
		if v.IsEmpty(idx) {
			return
		}
		s := src.RelPosToIdx(r3.Sub(v.CellCenter(idx), src.Rect.Min))
		if s >= 0 && src.IsNotEmpty(s) {
			v.Data[idx] = src.Data[s]
		}
	})
}

// ---------------------------------------------------------------------------
// Differential operators. Neumann ("neu") versions assume a zero normal derivative at
// free boundaries; the non-homogeneous versions ("nneu") take the boundary derivative
// as a Tensor. With a zero tensor the two coincide everywhere.

// derivative along axis a at idx; bd is the boundary derivative used where a
// neighbour is missing
func (v *VEC3) derivative(idx, a int, bd r3.Vec) r3.Vec {
	f := v.Flags[idx]
	h := Axis(v.H, a)
	hasP := f&NeighbourFlag(a, true) != 0
	hasN := f&NeighbourFlag(a, false) != 0
	switch {
	case hasP && hasN:
		return r3.Scale(1/(2*h), r3.Sub(v.Data[v.Neighbour(idx, a, true)], v.Data[v.Neighbour(idx, a, false)]))
	case hasP:
		d := r3.Scale(1/h, r3.Sub(v.Data[v.Neighbour(idx, a, true)], v.Data[idx]))
		return r3.Scale(0.5, r3.Add(d, bd))
	case hasN:
		d := r3.Scale(1/h, r3.Sub(v.Data[idx], v.Data[v.Neighbour(idx, a, false)]))
		return r3.Scale(0.5, r3.Add(d, bd))
	}
	return bd
}

// secondDerivative along axis a at idx. Directions coupled to another mesh contribute
// nothing here; the composite boundary coupling adds the full stencil for them.
func (v *VEC3) secondDerivative(idx, a int, bd r3.Vec) r3.Vec {
	f := v.Flags[idx]
	if f&(CMBNDFlag(a, true)|CMBNDFlag(a, false)) != 0 {
		return r3.Vec{}
	}
	h := Axis(v.H, a)
	hasP := f&NeighbourFlag(a, true) != 0
	hasN := f&NeighbourFlag(a, false) != 0
	switch {
	case hasP && hasN:
		vp := v.Data[v.Neighbour(idx, a, true)]
		vn := v.Data[v.Neighbour(idx, a, false)]
		return r3.Scale(1/(h*h), r3.Sub(r3.Add(vp, vn), r3.Scale(2, v.Data[idx])))
	case hasP:
		d := r3.Sub(r3.Sub(v.Data[v.Neighbour(idx, a, true)], v.Data[idx]), r3.Scale(h, bd))
		return r3.Scale(1/(h*h), d)
	case hasN:
		d := r3.Add(r3.Sub(v.Data[v.Neighbour(idx, a, false)], v.Data[idx]), r3.Scale(h, bd))
		return r3.Scale(1/(h*h), d)
	}
	return r3.Vec{}
}

// DelsqNeu is the Laplacian with homogeneous Neumann boundary conditions
func (v *VEC3) DelsqNeu(idx int) r3.Vec {
	return v.DelsqNneu(idx, Tensor{})
}

// DelsqNneu is the Laplacian with the boundary derivative bdiff
func (v *VEC3) DelsqNneu(idx int, bdiff Tensor) r3.Vec {
	if v.IsEmpty(idx) {
		return r3.Vec{}
	}
	return r3.Add(r3.Add(
		v.secondDerivative(idx, 0, bdiff.X),
		v.secondDerivative(idx, 1, bdiff.Y)),
		v.secondDerivative(idx, 2, bdiff.Z))
}

// GradNeu returns the derivatives along x, y, z with homogeneous Neumann conditions
func (v *VEC3) GradNeu(idx int) Tensor { return v.GradNneu(idx, Tensor{}) }

// GradNneu returns the derivatives along x, y, z with the boundary derivative bdiff
func (v *VEC3) GradNneu(idx int, bdiff Tensor) Tensor {
	if v.IsEmpty(idx) {
		return Tensor{}
	}
	return Tensor{
		X: v.derivative(idx, 0, bdiff.X),
		Y: v.derivative(idx, 1, bdiff.Y),
		Z: v.derivative(idx, 2, bdiff.Z),
	}
}

// CurlNeu is the curl with homogeneous Neumann boundary conditions
func (v *VEC3) CurlNeu(idx int) r3.Vec { return v.GradNeu(idx).Curl() }

// CurlNneu is the curl with the boundary derivative bdiff
func (v *VEC3) CurlNneu(idx int, bdiff Tensor) r3.Vec { return v.GradNneu(idx, bdiff).Curl() }

// NgbrDirSum sums the unit directions of the non-empty nearest neighbours of idx
func (v *VEC3) NgbrDirSum(idx int) r3.Vec {
	var sum r3.Vec
	f := v.Flags[idx]
	for a := 0; a < 3; a++ {
		for _, plus := range []bool{true, false} {
			if f&NeighbourFlag(a, plus) == 0 {
				continue
			}
			m := v.Data[v.Neighbour(idx, a, plus)]
			if n := r3.Norm(m); n > 0 {
				sum = r3.Add(sum, r3.Scale(1/n, m))
			}
		}
	}
	return sum
}

// ---------------------------------------------------------------------------
// Reductions

// AverageNonEmpty averages the non-empty cells overlapped by rel, a rectangle relative
// to the grid origin. The null rectangle selects the whole grid.
func (v *VEC3) AverageNonEmpty(rel Rect) r3.Vec {
	box := Box{E: v.N}
	if !IsNull(rel) {
		if !Intersects(Shift(rel, v.Rect.Min), v.Rect) {
			return r3.Vec{}
		}
		box = v.BoxFromRect(rel)
	}
	var sum r3.Vec
	count := 0
	v.EachInBox(box, func(idx int) {
		if v.IsNotEmpty(idx) {
			sum = r3.Add(sum, v.Data[idx])
			count++
		}
	})
	if count == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/float64(count), sum)
}

// SumNonEmpty sums all non-empty cell values
func (v *VEC3) SumNonEmpty() r3.Vec {
	acc := v.Layout.ReduceN(3, func(p *partitions.Partition, acc []float64) {
		p.Each(func(idx int) {
			if v.IsNotEmpty(idx) {
				acc[0] += v.Data[idx].X
				acc[1] += v.Data[idx].Y
				acc[2] += v.Data[idx].Z
			}
		})
	})
	return r3.Vec{X: acc[0], Y: acc[1], Z: acc[2]}
}

// MinMaxMagnitude returns the smallest and largest value lengths over non-empty cells in rel
func (v *VEC3) MinMaxMagnitude(rel Rect) (mn, mx float64) {
	box := Box{E: v.N}
	if !IsNull(rel) {
		box = v.BoxFromRect(rel)
	}
	mn, mx = math.Inf(1), 0
	found := false
	v.EachInBox(box, func(idx int) {
		if v.IsNotEmpty(idx) {
			found = true
			l := r3.Norm(v.Data[idx])
			mn = math.Min(mn, l)
			mx = math.Max(mx, l)
		}
	})
	if !found {
		return 0, 0
	}
	return
}

// WeightedAverage returns the overlap-weighted average of non-empty cells in the box of
// size stencil centred on relpos (relative to the grid origin), zero if nothing overlaps
func (v *VEC3) WeightedAverage(relpos, stencil r3.Vec) r3.Vec {
	avg, _ := v.WeightedAverageW(relpos, stencil)
	return avg
}

// WeightedAverageW is WeightedAverage also returning the total overlap weight
func (v *VEC3) WeightedAverageW(relpos, stencil r3.Vec) (r3.Vec, float64) {
	var sum r3.Vec
	total := 0.0
	v.overlapWeights(relpos, stencil, func(idx int, w float64) {
		sum = r3.Add(sum, r3.Scale(w, v.Data[idx]))
		total += w
	})
	if total == 0 {
		return r3.Vec{}, 0
	}
	return r3.Scale(1/total, sum), total
}
