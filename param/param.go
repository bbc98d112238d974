package param

import (
	"math/rand/v2"

	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// TempScaling returns the multiplier of a parameter at temperature T
type TempScaling interface {
	Scale(T float64) float64
}

// TempFunc adapts a Go function of temperature to TempScaling
type TempFunc func(T float64) float64

func (f TempFunc) Scale(T float64) float64 { return f(T) }

// Curve is a tabulated temperature dependence, linearly interpolated between points
// and held constant beyond the first and last temperature
type Curve struct {
	pl     interp.PiecewiseLinear
	T0, T1 float64
}

// NewCurve fits a curve through (temps[i], scales[i]); temps must be strictly increasing
func NewCurve(temps, scales []float64) (*Curve, error) {
	if len(temps) != len(scales) {
		return nil, faults.New("curve", faults.IncorrectConfig,
			"matching lengths needed, got %d temperatures and %d values", len(temps), len(scales))
	}
	if len(temps) == 0 {
		return nil, faults.New("curve", faults.IncorrectConfig, "no points")
	}
	for i := 1; i < len(temps); i++ {
		if !(temps[i] > temps[i-1]) {
			return nil, faults.New("curve", faults.IncorrectConfig,
				"temperatures not strictly increasing at %g, %g", temps[i-1], temps[i])
		}
	}
	if len(temps) == 1 {
		// constant curve
		temps = []float64{temps[0], temps[0] + 1}
		scales = []float64{scales[0], scales[0]}
	}
	c := &Curve{}
	if err := c.pl.Fit(temps, scales); err != nil {
		return nil, faults.Wrap("curve", faults.IncorrectConfig, err)
	}
	c.T0, c.T1 = temps[0], temps[len(temps)-1]
	return c, nil
}

func (c *Curve) Scale(T float64) float64 {
	switch {
	case T <= c.T0:
		return c.pl.Predict(c.T0)
	case T >= c.T1:
		return c.pl.Predict(c.T1)
	}
	return c.pl.Predict(T)
}

// Scalar is a material parameter: a base value scaled by an optional spatial
// profile and an optional temperature dependence
type Scalar struct {
	Name    string
	Value   float64
	Spatial *grid.Scalar
	Temp    TempScaling
}

func NewScalar(name string, value float64) *Scalar {
	return &Scalar{Name: name, Value: value}
}

// At evaluates the parameter at absolute position pos and temperature T. Positions
// outside the spatial profile, or on its empty cells, use scaling 1.
func (p *Scalar) At(pos r3.Vec, T float64) float64 {
	v := p.Value
	if p.Spatial != nil {
		if s, ok := p.Spatial.Sample(pos); ok {
			v *= s
		}
	}
	if p.Temp != nil {
		v *= p.Temp.Scale(T)
	}
	return v
}

// IsUniform reports whether the parameter has the same value everywhere at fixed T
func (p *Scalar) IsUniform() bool { return p.Spatial == nil }

// IsTempDependent reports whether the parameter carries a temperature dependence
func (p *Scalar) IsTempDependent() bool { return p.Temp != nil }

// Vector is a vector material parameter, scaled like Scalar
type Vector struct {
	Name    string
	Value   r3.Vec
	Spatial *grid.Scalar
	Temp    TempScaling
}

func NewVector(name string, value r3.Vec) *Vector {
	return &Vector{Name: name, Value: value}
}

func (p *Vector) At(pos r3.Vec, T float64) r3.Vec {
	s := 1.0
	if p.Spatial != nil {
		if v, ok := p.Spatial.Sample(pos); ok {
			s = v
		}
	}
	if p.Temp != nil {
		s *= p.Temp.Scale(T)
	}
	return r3.Scale(s, p.Value)
}

func (p *Vector) IsUniform() bool { return p.Spatial == nil }

// ---------------------------------------------------------------------------
// Spatial variation generators. Each returns a scaling grid on the lattice geometry.

// RandomVariation draws each cell's scaling uniformly from [min, max)
func RandomVariation(l *grid.Lattice, min, max float64, seed uint64) *grid.Scalar {
	u := distuv.Uniform{Min: min, Max: max, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	s := grid.NewScalarFilled(l.H, l.Rect, 1)
	for idx := range s.Data {
		s.Data[idx] = u.Rand()
	}
	return s
}

// GaussianVariation draws each cell's scaling from a normal distribution; negative
// draws are clipped to zero
func GaussianVariation(l *grid.Lattice, mean, std float64, seed uint64) *grid.Scalar {
	n := distuv.Normal{Mu: mean, Sigma: std, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	s := grid.NewScalarFilled(l.H, l.Rect, 1)
	for idx := range s.Data {
		v := n.Rand()
		if v < 0 {
			v = 0
		}
		s.Data[idx] = v
	}
	return s
}

// ShapeVariation scales cells inside the shapes by inside and all others by outside
func ShapeVariation(l *grid.Lattice, shapes []grid.Shape, inside, outside float64) *grid.Scalar {
	s := grid.NewScalarFilled(l.H, l.Rect, outside)
	for idx := range s.Data {
		p := s.CellCenterRel(idx)
		for _, sh := range shapes {
			if sh.Contains(p) {
				s.Data[idx] = inside
				break
			}
		}
	}
	return s
}
