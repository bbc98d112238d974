package param

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// ============================================================================
// Section 1: Temperature dependence
// ============================================================================

func TestCurve_Interpolation(t *testing.T) {
	c, err := NewCurve([]float64{0, 100, 300}, []float64{1, 0.8, 0.2})
	require.NoError(t, err)

	testCases := []struct {
		T, want float64
	}{
		{-10, 1},
		{0, 1},
		{50, 0.9},
		{200, 0.5},
		{300, 0.2},
		{1000, 0.2},
	}
	for _, tc := range testCases {
		assert.InDelta(t, tc.want, c.Scale(tc.T), 1e-12, "T=%g", tc.T)
	}
}

func TestCurve_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		temps  []float64
		scales []float64
	}{
		{"LengthMismatch", []float64{0, 1}, []float64{1}},
		{"Decreasing", []float64{300, 200}, []float64{1, 0.5}},
		{"Repeated", []float64{0, 100, 100}, []float64{1, 0.8, 0.6}},
		{"NaN", []float64{0, math.NaN()}, []float64{1, 0.5}},
		{"Empty", nil, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var (
				c   *Curve
				err error
			)
			require.NotPanics(t, func() { c, err = NewCurve(tc.temps, tc.scales) })
			assert.Nil(t, c)
			assert.True(t, faults.Has(err, faults.IncorrectConfig), "%v", err)
		})
	}

	c, err := NewCurve([]float64{10}, []float64{0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Scale(0))
	assert.Equal(t, 0.5, c.Scale(1e4))
}

func TestScalar_TempFunc(t *testing.T) {
	Tc := 870.0
	p := NewScalar("Ms", 8e5)
	p.Temp = TempFunc(func(T float64) float64 {
		if T >= Tc {
			return 0
		}
		return 1 - T/Tc
	})
	assert.True(t, p.IsTempDependent())
	assert.InDelta(t, 4e5, p.At(r3.Vec{}, Tc/2), 1e-6)
	assert.Equal(t, 0.0, p.At(r3.Vec{}, 1000))
}

// ============================================================================
// Section 2: Spatial variation
// ============================================================================

func TestScalar_SpatialScaling(t *testing.T) {
	l := grid.NewLattice(r3.Vec{X: 1, Y: 1, Z: 1}, grid.Rect{Min: r3.Vec{X: 10}, Max: r3.Vec{X: 14, Y: 1, Z: 1}})
	shapes := []grid.Shape{{Kind: grid.ShapeRect, Center: r3.Vec{X: 1, Y: 0.5, Z: 0.5}, Size: r3.Vec{X: 2, Y: 1, Z: 1}}}
	p := NewScalar("K1", 100)
	p.Spatial = ShapeVariation(l, shapes, 2, 0.5)
	assert.False(t, p.IsUniform())

	// absolute positions: the shape covers x in [10, 12)
	assert.InDelta(t, 200, p.At(r3.Vec{X: 10.5, Y: 0.5, Z: 0.5}, 0), 1e-12)
	assert.InDelta(t, 50, p.At(r3.Vec{X: 13.5, Y: 0.5, Z: 0.5}, 0), 1e-12)
	// outside the profile the base value applies
	assert.InDelta(t, 100, p.At(r3.Vec{X: 20}, 0), 1e-12)
}

func TestRandomVariation_Bounds(t *testing.T) {
	l := grid.NewLattice(r3.Vec{X: 1, Y: 1, Z: 1}, grid.Rect{Max: r3.Vec{X: 8, Y: 8, Z: 2}})
	s := RandomVariation(l, 0.9, 1.1, 7)
	for _, v := range s.Data {
		assert.GreaterOrEqual(t, v, 0.9)
		assert.Less(t, v, 1.1)
	}
	again := RandomVariation(l, 0.9, 1.1, 7)
	assert.Equal(t, s.Data, again.Data)
	assert.Equal(t, 128, s.NonEmptyCells())
}

func TestGaussianVariation_Statistics(t *testing.T) {
	l := grid.NewLattice(r3.Vec{X: 1, Y: 1, Z: 1}, grid.Rect{Max: r3.Vec{X: 50, Y: 50, Z: 4}})
	s := GaussianVariation(l, 1, 0.05, 3)
	assert.InDelta(t, 1, s.AverageNonEmpty(grid.Rect{}), 0.01)
	mn, _ := s.MinMax(grid.Rect{})
	assert.GreaterOrEqual(t, mn, 0.0)
}

func TestVector_Scaling(t *testing.T) {
	p := NewVector("ea1", r3.Vec{X: 1})
	p.Temp = TempFunc(func(T float64) float64 { return 2 })
	assert.Equal(t, r3.Vec{X: 2}, p.At(r3.Vec{}, 300))
}

// ============================================================================
// Section 3: Parameter sets
// ============================================================================

func TestSet_SetValue(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.SetValue("Ms", 1e6))
	assert.Equal(t, 1e6, s.Ms.Value)
	require.NoError(t, s.SetVector("ea2", r3.Vec{Z: 1}))
	assert.Equal(t, r3.Vec{Z: 1}, s.Ea2.Value)

	assert.Error(t, s.SetValue("nope", 1))
	assert.Error(t, s.SetVector("Ms", r3.Vec{}))
	assert.Contains(t, s.Names(), "ea1")
	assert.Contains(t, s.Names(), "mu_s")
}

func TestNewAtomisticSet(t *testing.T) {
	s := NewAtomisticSet()
	assert.Equal(t, 5e-24, s.K1.Value)
	assert.Equal(t, 1.0, s.MuS.Value)
}
