package grid

import (
	"math"

	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/spatial/r3"
)

// Scalar is a scalar quantity on a lattice
type Scalar struct {
	*Lattice
	Data []float64
}

// NewScalar allocates an all-empty scalar grid
func NewScalar(h r3.Vec, rect Rect) *Scalar {
	l := NewLattice(h, rect)
	return &Scalar{Lattice: l, Data: make([]float64, l.Dim())}
}

// NewScalarFilled allocates a scalar grid with every cell set to value and non-empty
func NewScalarFilled(h r3.Vec, rect Rect, value float64) *Scalar {
	s := NewScalar(h, rect)
	s.Fill(value)
	return s
}

// NewScalarLike allocates a zero scalar grid sharing the geometry and flags of l
func NewScalarLike(l *Lattice) *Scalar {
	return &Scalar{Lattice: l, Data: make([]float64, l.Dim())}
}

// Fill sets every cell to value and marks it non-empty
func (s *Scalar) Fill(value float64) {
	for idx := range s.Data {
		s.Data[idx] = value
		s.Flags[idx] |= NotEmpty
	}
	s.SetFlags()
}

// SetUniform sets every non-empty cell to value
func (s *Scalar) SetUniform(value float64) {
	for idx := range s.Data {
		if s.IsNotEmpty(idx) {
			s.Data[idx] = value
		}
	}
}

// Resize changes the discretization, resampling values and shape from the old grid
func (s *Scalar) Resize(h r3.Vec, rect Rect) error {
	old := *s.Lattice
	oldData := s.Data
	nl := &Lattice{PBC: old.PBC}
	if err := nl.resize(h, rect); err != nil {
		return err
	}
	data := make([]float64, nl.Dim())
	nl.resample(&old, func(dst, src int) {
		if src >= 0 {
			data[dst] = oldData[src]
		}
	})
	nl.SetFlags()
	*s.Lattice = *nl
	s.Data = data
	return nil
}

func (s *Scalar) derivative(idx, a int, bd float64) float64 {
	f := s.Flags[idx]
	h := Axis(s.H, a)
	hasP := f&NeighbourFlag(a, true) != 0
	hasN := f&NeighbourFlag(a, false) != 0
	switch {
	case hasP && hasN:
		return (s.Data[s.Neighbour(idx, a, true)] - s.Data[s.Neighbour(idx, a, false)]) / (2 * h)
	case hasP:
		return ((s.Data[s.Neighbour(idx, a, true)]-s.Data[idx])/h + bd) / 2
	case hasN:
		return ((s.Data[idx]-s.Data[s.Neighbour(idx, a, false)])/h + bd) / 2
	}
	return bd
}

func (s *Scalar) secondDerivative(idx, a int, bd float64) float64 {
	f := s.Flags[idx]
	h := Axis(s.H, a)
	hasP := f&NeighbourFlag(a, true) != 0
	hasN := f&NeighbourFlag(a, false) != 0
	switch {
	case hasP && hasN:
		return (s.Data[s.Neighbour(idx, a, true)] + s.Data[s.Neighbour(idx, a, false)] - 2*s.Data[idx]) / (h * h)
	case hasP:
		return (s.Data[s.Neighbour(idx, a, true)] - s.Data[idx] - h*bd) / (h * h)
	case hasN:
		return (s.Data[s.Neighbour(idx, a, false)] - s.Data[idx] + h*bd) / (h * h)
	}
	return 0
}

// DelsqNeu is the Laplacian with homogeneous Neumann boundary conditions
func (s *Scalar) DelsqNeu(idx int) float64 { return s.DelsqNneu(idx, r3.Vec{}) }

// DelsqNneu is the Laplacian with the boundary normal derivative bdiff
func (s *Scalar) DelsqNneu(idx int, bdiff r3.Vec) float64 {
	if s.IsEmpty(idx) {
		return 0
	}
	return s.secondDerivative(idx, 0, bdiff.X) +
		s.secondDerivative(idx, 1, bdiff.Y) +
		s.secondDerivative(idx, 2, bdiff.Z)
}

// GradNeu is the gradient with homogeneous Neumann boundary conditions
func (s *Scalar) GradNeu(idx int) r3.Vec { return s.GradNneu(idx, r3.Vec{}) }

// GradNneu is the gradient with the boundary derivative bdiff
func (s *Scalar) GradNneu(idx int, bdiff r3.Vec) r3.Vec {
	if s.IsEmpty(idx) {
		return r3.Vec{}
	}
	return r3.Vec{
		X: s.derivative(idx, 0, bdiff.X),
		Y: s.derivative(idx, 1, bdiff.Y),
		Z: s.derivative(idx, 2, bdiff.Z),
	}
}

// AverageNonEmpty averages non-empty cells overlapped by rel; null rel selects everything
func (s *Scalar) AverageNonEmpty(rel Rect) float64 {
	box := Box{E: s.N}
	if !IsNull(rel) {
		if !Intersects(Shift(rel, s.Rect.Min), s.Rect) {
			return 0
		}
		box = s.BoxFromRect(rel)
	}
	sum := 0.0
	count := 0
	s.EachInBox(box, func(idx int) {
		if s.IsNotEmpty(idx) {
			sum += s.Data[idx]
			count++
		}
	})
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// SumNonEmpty sums all non-empty cell values
func (s *Scalar) SumNonEmpty() float64 {
	return s.Layout.Reduce(func(p *partitions.Partition) float64 {
		sum := 0.0
		p.Each(func(idx int) {
			if s.IsNotEmpty(idx) {
				sum += s.Data[idx]
			}
		})
		return sum
	})
}

// MinMax returns the extreme values over non-empty cells in rel
func (s *Scalar) MinMax(rel Rect) (mn, mx float64) {
	box := Box{E: s.N}
	if !IsNull(rel) {
		box = s.BoxFromRect(rel)
	}
	mn, mx = math.Inf(1), math.Inf(-1)
	found := false
	s.EachInBox(box, func(idx int) {
		if s.IsNotEmpty(idx) {
			found = true
			mn = math.Min(mn, s.Data[idx])
			mx = math.Max(mx, s.Data[idx])
		}
	})
	if !found {
		return 0, 0
	}
	return
}

// WeightedAverage returns the overlap-weighted average of non-empty cells in the box
// of size stencil centred on relpos, zero if nothing overlaps
func (s *Scalar) WeightedAverage(relpos, stencil r3.Vec) float64 {
	avg, _ := s.WeightedAverageW(relpos, stencil)
	return avg
}

// WeightedAverageW is WeightedAverage also returning the total overlap weight
func (s *Scalar) WeightedAverageW(relpos, stencil r3.Vec) (float64, float64) {
	sum, total := 0.0, 0.0
	s.overlapWeights(relpos, stencil, func(idx int, w float64) {
		sum += w * s.Data[idx]
		total += w
	})
	if total == 0 {
		return 0, 0
	}
	return sum / total, total
}

// Sample returns the value of the cell containing absolute position p, and whether
// that cell exists and is non-empty
func (s *Scalar) Sample(p r3.Vec) (float64, bool) {
	idx := s.RelPosToIdx(r3.Sub(p, s.Rect.Min))
	if idx < 0 || s.IsEmpty(idx) {
		return 0, false
	}
	return s.Data[idx], true
}
