package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ShapeKind identifies an elementary shape
type ShapeKind int

const (
	ShapeRect ShapeKind = iota
	ShapeDisk
	ShapeTriangle
	ShapeEllipsoid
	ShapePyramid
	ShapeTetrahedron
	ShapeCone
	ShapeTorus
)

var shapeNames = map[string]ShapeKind{
	"rect":        ShapeRect,
	"disk":        ShapeDisk,
	"triangle":    ShapeTriangle,
	"ellipsoid":   ShapeEllipsoid,
	"pyramid":     ShapePyramid,
	"tetrahedron": ShapeTetrahedron,
	"cone":        ShapeCone,
	"torus":       ShapeTorus,
}

// ParseShapeKind converts a shape name into its kind
func ParseShapeKind(name string) (ShapeKind, error) {
	if k, ok := shapeNames[name]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown shape %q", name)
}

// ShapeMethod is how a shape combines with the existing grid
type ShapeMethod int

const (
	ShapeAdd ShapeMethod = iota // cells inside are set and become non-empty
	ShapeSub                    // cells inside become empty
	ShapeXor                    // cells inside toggle between empty and set
	ShapeAnd                    // cells outside become empty
)

// ParseShapeMethod converts "add", "sub", "xor", "and" into a method
func ParseShapeMethod(name string) (ShapeMethod, error) {
	switch name {
	case "add", "":
		return ShapeAdd, nil
	case "sub":
		return ShapeSub, nil
	case "xor":
		return ShapeXor, nil
	case "and":
		return ShapeAnd, nil
	}
	return 0, fmt.Errorf("unknown shape method %q", name)
}

// Shape is an elementary shape placed relative to the grid origin. The shape's own z
// axis is tilted by Polar degrees and turned by Azimuth degrees. Repeat copies the
// shape along each axis, spaced by Displacement.
type Shape struct {
	Kind         ShapeKind
	Center       r3.Vec
	Size         r3.Vec
	Polar        float64
	Azimuth      float64
	Repeat       INT3
	Displacement r3.Vec
}

// Contains reports whether relative position p lies inside the shape or any of its copies
func (s Shape) Contains(p r3.Vec) bool {
	rep := s.Repeat
	if rep.X < 1 {
		rep.X = 1
	}
	if rep.Y < 1 {
		rep.Y = 1
	}
	if rep.Z < 1 {
		rep.Z = 1
	}
	unAzimuth := r3.NewRotation(-s.Azimuth*math.Pi/180, r3.Vec{Z: 1})
	unPolar := r3.NewRotation(-s.Polar*math.Pi/180, r3.Vec{Y: 1})
	for k := 0; k < rep.Z; k++ {
		for j := 0; j < rep.Y; j++ {
			for i := 0; i < rep.X; i++ {
				c := r3.Add(s.Center, Mul(r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)}, s.Displacement))
				d := r3.Sub(p, c)
				if s.Polar != 0 || s.Azimuth != 0 {
					d = unPolar.Rotate(unAzimuth.Rotate(d))
				}
				if s.inside(d) {
					return true
				}
			}
		}
	}
	return false
}

// inside tests a point in the shape's local frame, origin at its center
func (s Shape) inside(d r3.Vec) bool {
	hx, hy, hz := s.Size.X/2, s.Size.Y/2, s.Size.Z/2
	if hx <= 0 || hy <= 0 || hz <= 0 {
		return false
	}
	inZ := math.Abs(d.Z) <= hz
	// t runs from 0 at the base to 1 at the apex
	t := (d.Z + hz) / s.Size.Z

	switch s.Kind {
	case ShapeRect:
		return math.Abs(d.X) <= hx && math.Abs(d.Y) <= hy && inZ
	case ShapeDisk:
		return sq(d.X/hx)+sq(d.Y/hy) <= 1 && inZ
	case ShapeEllipsoid:
		return sq(d.X/hx)+sq(d.Y/hy)+sq(d.Z/hz) <= 1
	case ShapeTriangle:
		return inZ && inTriangle(d.X, d.Y, hx, hy)
	case ShapePyramid:
		if !inZ {
			return false
		}
		return math.Abs(d.X) <= hx*(1-t) && math.Abs(d.Y) <= hy*(1-t)
	case ShapeTetrahedron:
		if !inZ || t >= 1 {
			return false
		}
		// shrink the base triangle towards its centroid
		cy := -hy / 3
		x := d.X / (1 - t)
		y := cy + (d.Y-cy)/(1-t)
		return inTriangle(x, y, hx, hy)
	case ShapeCone:
		if !inZ || t >= 1 {
			return false
		}
		return sq(d.X/(hx*(1-t)))+sq(d.Y/(hy*(1-t))) <= 1
	case ShapeTorus:
		tube := hz
		major := math.Min(hx, hy) - tube
		rho := math.Hypot(d.X, d.Y)
		return sq(rho-major)+sq(d.Z) <= sq(tube)
	}
	return false
}

// inTriangle tests the isosceles triangle with base on y = -hy, width 2hx, apex at (0, hy)
func inTriangle(x, y, hx, hy float64) bool {
	if y < -hy || y > hy {
		return false
	}
	halfWidth := hx * (hy - y) / (2 * hy)
	return math.Abs(x) <= halfWidth
}

func sq(x float64) float64 { return x * x }

// shapeMask marks the cells whose centers fall inside any of the shapes
func (l *Lattice) shapeMask(shapes []Shape) []bool {
	mask := make([]bool, l.Dim())
	l.Layout.ForEach(func(idx int) {
		p := l.CellCenterRel(idx)
		for _, s := range shapes {
			if s.Contains(p) {
				mask[idx] = true
				return
			}
		}
	})
	return mask
}

// applyMask updates cell emptiness for method and reports which cells must receive value
func (l *Lattice) applyMask(mask []bool, method ShapeMethod, set func(idx int), clear func(idx int)) {
	for idx, in := range mask {
		switch method {
		case ShapeAdd:
			if in {
				l.Flags[idx] |= NotEmpty
				set(idx)
			}
		case ShapeSub:
			if in {
				l.Flags[idx] &^= NotEmpty
				clear(idx)
			}
		case ShapeXor:
			if in {
				if l.IsNotEmpty(idx) {
					l.Flags[idx] &^= NotEmpty
					clear(idx)
				} else {
					l.Flags[idx] |= NotEmpty
					set(idx)
				}
			}
		case ShapeAnd:
			if !in {
				l.Flags[idx] &^= NotEmpty
				clear(idx)
			}
		}
	}
	l.SetFlags()
}

// ApplyShape combines the union of shapes with the grid using method
func (v *VEC3) ApplyShape(shapes []Shape, method ShapeMethod, value r3.Vec) {
	v.applyMask(v.shapeMask(shapes), method,
		func(idx int) { v.Data[idx] = value },
		func(idx int) { v.Data[idx] = r3.Vec{} })
}

// ApplyShape combines the union of shapes with the grid using method
func (s *Scalar) ApplyShape(shapes []Shape, method ShapeMethod, value float64) {
	s.applyMask(s.shapeMask(shapes), method,
		func(idx int) { s.Data[idx] = value },
		func(idx int) { s.Data[idx] = 0 })
}
