package grid

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// INT3 is an integer triple, used for cell counts and cell coordinates
type INT3 struct{ X, Y, Z int }

func (n INT3) Dim() int { return n.X * n.Y * n.Z }

// Axis returns component a (0, 1, 2)
func (n INT3) Axis(a int) int {
	switch a {
	case 0:
		return n.X
	case 1:
		return n.Y
	}
	return n.Z
}

// SetAxis returns n with component a replaced by v
func (n INT3) SetAxis(a, v int) INT3 {
	switch a {
	case 0:
		n.X = v
	case 1:
		n.Y = v
	default:
		n.Z = v
	}
	return n
}

// Box is an integer cell box [S, E), end exclusive
type Box struct{ S, E INT3 }

func (b Box) Size() INT3 { return INT3{b.E.X - b.S.X, b.E.Y - b.S.Y, b.E.Z - b.S.Z} }

func (b Box) IsEmpty() bool { return b.E.X <= b.S.X || b.E.Y <= b.S.Y || b.E.Z <= b.S.Z }

// Rect is a world-space rectangle, Min is the start corner and Max the end corner
type Rect = r3.Box

// Axis returns component a of v
func Axis(v r3.Vec, a int) float64 {
	switch a {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// SetAxis returns v with component a replaced by val
func SetAxis(v r3.Vec, a int, val float64) r3.Vec {
	switch a {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
	return v
}

// UnitAxis returns the unit vector along axis a scaled by s
func UnitAxis(a int, s float64) r3.Vec { return SetAxis(r3.Vec{}, a, s) }

// Mul is the component-wise product, written a & b in the physics formulas
func Mul(a, b r3.Vec) r3.Vec { return r3.Vec{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z} }

// Div is the component-wise quotient
func Div(a, b r3.Vec) r3.Vec { return r3.Vec{X: a.X / b.X, Y: a.Y / b.Y, Z: a.Z / b.Z} }

// Abs is the component-wise absolute value
func Abs(a r3.Vec) r3.Vec { return r3.Vec{X: math.Abs(a.X), Y: math.Abs(a.Y), Z: math.Abs(a.Z)} }

// Dim is the product of the components, the volume of a cell of size h
func Dim(h r3.Vec) float64 { return h.X * h.Y * h.Z }

// IsNull reports the zero rectangle, used to mean "the whole mesh"
func IsNull(r Rect) bool { return r.Min == (r3.Vec{}) && r.Max == (r3.Vec{}) }

// IsPlane reports a rectangle with at least one zero-length side
func IsPlane(r Rect) bool {
	s := r.Size()
	return s.X == 0 || s.Y == 0 || s.Z == 0
}

// IsInverted reports a rectangle whose end corner is below its start corner
func IsInverted(r Rect) bool {
	return r.Max.X < r.Min.X || r.Max.Y < r.Min.Y || r.Max.Z < r.Min.Z
}

// Contains reports whether p lies in r, boundaries included
func Contains(r Rect, p r3.Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X &&
		p.Y >= r.Min.Y && p.Y <= r.Max.Y &&
		p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// Intersects reports a strictly positive-volume overlap
func Intersects(a, b Rect) bool {
	return a.Min.X < b.Max.X && b.Min.X < a.Max.X &&
		a.Min.Y < b.Max.Y && b.Min.Y < a.Max.Y &&
		a.Min.Z < b.Max.Z && b.Min.Z < a.Max.Z
}

// Intersection returns the overlap of a and b; inverted if they do not overlap
func Intersection(a, b Rect) Rect {
	return Rect{
		Min: r3.Vec{X: math.Max(a.Min.X, b.Min.X), Y: math.Max(a.Min.Y, b.Min.Y), Z: math.Max(a.Min.Z, b.Min.Z)},
		Max: r3.Vec{X: math.Min(a.Max.X, b.Max.X), Y: math.Min(a.Max.Y, b.Max.Y), Z: math.Min(a.Max.Z, b.Max.Z)},
	}
}

// Shift translates r by d
func Shift(r Rect, d r3.Vec) Rect { return Rect{Min: r3.Add(r.Min, d), Max: r3.Add(r.Max, d)} }

// Snap rounds every coordinate to a multiple of unit
func Snap(r Rect, unit float64) Rect {
	snap := func(v r3.Vec) r3.Vec {
		return r3.Vec{X: math.Round(v.X/unit) * unit, Y: math.Round(v.Y/unit) * unit, Z: math.Round(v.Z/unit) * unit}
	}
	return Rect{Min: snap(r.Min), Max: snap(r.Max)}
}

// Tensor holds the derivatives of a vector quantity along x, y and z
type Tensor struct{ X, Y, Z r3.Vec }

// Axis returns the derivative along axis a
func (t Tensor) Axis(a int) r3.Vec {
	switch a {
	case 0:
		return t.X
	case 1:
		return t.Y
	}
	return t.Z
}

// Curl of the field whose derivatives are t
func (t Tensor) Curl() r3.Vec {
	return r3.Vec{
		X: t.Y.Z - t.Z.Y,
		Y: t.Z.X - t.X.Z,
		Z: t.X.Y - t.Y.X,
	}
}
