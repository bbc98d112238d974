package modules

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Newell, Williams and Dunlop demagnetizing tensor between two rectangular cells of
// size h whose centers are d apart. H = -N M.

func asinhRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return math.Asinh(a / b)
}

// newellF is even in every argument
func newellF(x, y, z float64) float64 {
	x, y, z = math.Abs(x), math.Abs(y), math.Abs(z)
	x2, y2, z2 := x*x, y*y, z*z
	R := math.Sqrt(x2 + y2 + z2)
	t := (2*x2 - y2 - z2) * R / 6
	if y > 0 && z2 != x2 {
		t += y / 2 * (z2 - x2) * asinhRatio(y, math.Sqrt(x2+z2))
	}
	if z > 0 && y2 != x2 {
		t += z / 2 * (y2 - x2) * asinhRatio(z, math.Sqrt(x2+y2))
	}
	if x*y*z > 0 {
		t -= x * y * z * math.Atan(y*z/(x*R))
	}
	return t
}

// newellG is odd in x and y, even in z
func newellG(x, y, z float64) float64 {
	sign := 1.0
	if (x < 0) != (y < 0) {
		sign = -1
	}
	x, y, z = math.Abs(x), math.Abs(y), math.Abs(z)
	x2, y2, z2 := x*x, y*y, z*z
	R := math.Sqrt(x2 + y2 + z2)
	t := -x * y * R / 3
	if x*y*z > 0 {
		t += x * y * z * asinhRatio(z, math.Sqrt(x2+y2))
	}
	if y > 0 {
		t += y / 6 * (3*z2 - y2) * asinhRatio(x, math.Sqrt(y2+z2))
	}
	if x > 0 {
		t += x / 6 * (3*z2 - x2) * asinhRatio(y, math.Sqrt(x2+z2))
	}
	if z > 0 && x*y > 0 {
		t -= z * z2 / 6 * math.Atan(x*y/(z*R))
	}
	if y > 0 && x*z > 0 {
		t -= z * y2 / 2 * math.Atan(x*z/(y*R))
	}
	if x > 0 && y*z > 0 {
		t -= z * x2 / 2 * math.Atan(y*z/(x*R))
	}
	return sign * t
}

// newellSum applies the 27-point second difference of fn around d
func newellSum(fn func(x, y, z float64) float64, d, h r3.Vec) float64 {
	w := [3]float64{-1, 2, -1}
	sum := 0.0
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			for k := -1; k <= 1; k++ {
				sum += w[i+1] * w[j+1] * w[k+1] *
					fn(d.X+float64(i)*h.X, d.Y+float64(j)*h.Y, d.Z+float64(k)*h.Z)
			}
		}
	}
	return sum / (4 * math.Pi * h.X * h.Y * h.Z)
}

// tensor6 holds the independent components xx, yy, zz, xy, xz, yz
type tensor6 [6]float64

func newellTensor(d, h r3.Vec) tensor6 {
	return tensor6{
		newellSum(newellF, d, h),
		newellSum(func(x, y, z float64) float64 { return newellF(y, x, z) }, d, h),
		newellSum(func(x, y, z float64) float64 { return newellF(z, y, x) }, d, h),
		newellSum(newellG, d, h),
		newellSum(func(x, y, z float64) float64 { return newellG(x, z, y) }, d, h),
		newellSum(func(x, y, z float64) float64 { return newellG(y, z, x) }, d, h),
	}
}

// SelfTensor returns the demagnetizing tensor of a single cell of size h
func SelfTensor(h r3.Vec) *mat.SymDense {
	n := newellTensor(r3.Vec{}, h)
	return mat.NewSymDense(3, []float64{
		n[0], n[3], n[4],
		n[3], n[1], n[5],
		n[4], n[5], n[2],
	})
}

// DemagFactors returns the principal demagnetizing factors of a cell of size h in
// increasing order; they sum to one
func DemagFactors(h r3.Vec) ([3]float64, bool) {
	var eig mat.EigenSym
	if !eig.Factorize(SelfTensor(h), false) {
		return [3]float64{}, false
	}
	var out [3]float64
	copy(out[:], eig.Values(nil))
	return out, true
}
