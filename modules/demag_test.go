package modules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

// ============================================================================
// Section 1: Newell tensor
// ============================================================================

func TestSelfTensor_Cube(t *testing.T) {
	n := SelfTensor(r3.Vec{X: 5 * nm, Y: 5 * nm, Z: 5 * nm})
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1.0/3, n.At(i, i), 1e-10)
		for j := i + 1; j < 3; j++ {
			assert.InDelta(t, 0, n.At(i, j), 1e-10)
		}
	}
}

func TestDemagFactors(t *testing.T) {
	testCases := []struct {
		name string
		h    r3.Vec
	}{
		{"Cube", r3.Vec{X: 1, Y: 1, Z: 1}},
		{"Slab", r3.Vec{X: 2, Y: 1, Z: 0.5}},
		{"Needle", r3.Vec{X: 1, Y: 1, Z: 20}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, ok := DemagFactors(r3.Scale(nm, tc.h))
			require.True(t, ok)
			assert.InDelta(t, 1, f[0]+f[1]+f[2], 1e-9)
			assert.LessOrEqual(t, f[0], f[1])
			assert.LessOrEqual(t, f[1], f[2])
		})
	}

	t.Run("LongAxisIsEasiest", func(t *testing.T) {
		n := SelfTensor(r3.Vec{X: 1, Y: 1, Z: 20})
		assert.Less(t, n.At(2, 2), n.At(0, 0))
		assert.InDelta(t, n.At(0, 0), n.At(1, 1), 1e-12)
	})
}

func TestNewellTensor_FarField(t *testing.T) {
	// far from the source the tensor is that of a point dipole of moment V
	h := r3.Vec{X: 1, Y: 1, Z: 1}
	d := r3.Vec{X: 9, Y: 4, Z: 2}
	r := r3.Norm(d)
	V := grid.Dim(h)
	dip := func(a, b float64, same bool) float64 {
		v := -3 * a * b / (r * r)
		if same {
			v += 1
		}
		return V * v / (4 * math.Pi * r * r * r)
	}
	nt := newellTensor(d, h)
	want := tensor6{
		dip(d.X, d.X, true), dip(d.Y, d.Y, true), dip(d.Z, d.Z, true),
		dip(d.X, d.Y, false), dip(d.X, d.Z, false), dip(d.Y, d.Z, false),
	}
	scale := 0.0
	for _, w := range want {
		scale = math.Max(scale, math.Abs(w))
	}
	for q := range want {
		assert.InDelta(t, want[q], nt[q], 0.03*scale, "component %d", q)
	}
}

// ============================================================================
// Section 2: Convolution
// ============================================================================

func TestDemag_UniformCube(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 4, Y: 4, Z: 4})
	mod, err := Add(m, mesh.Demag, false)
	require.NoError(t, err)

	Ms := m.Params.Ms.Value
	e := m.UpdateModules()
	avg := m.Heff.AverageNonEmpty(grid.Rect{})
	assert.InDelta(t, -Ms/3, avg.X, 1e-6*Ms)
	assert.InDelta(t, 0, avg.Y, 1e-6*Ms)
	assert.InDelta(t, 0, avg.Z, 1e-6*Ms)
	assert.InDelta(t, MU0*Ms*Ms/6, e, 1e-6*MU0*Ms*Ms)
	assert.InDelta(t, e, mod.GetEnergyDensity(grid.Rect{}), 1e-9*e)

	// corners feel a weaker field than the center along the magnetization
	corner := m.Heff.Data[m.M.Idx(0, 0, 0)]
	center := m.Heff.Data[m.M.Idx(1, 1, 1)]
	assert.Less(t, math.Abs(corner.X), math.Abs(center.X))
}

func TestDemag_ThinFilm(t *testing.T) {
	m := mesh.New("film", mesh.Ferromagnetic, grid.Rect{Max: r3.Vec{X: 40 * nm, Y: 40 * nm, Z: 2 * nm}},
		r3.Vec{X: 5 * nm, Y: 5 * nm, Z: 2 * nm})
	_, err := Add(m, mesh.Demag, false)
	require.NoError(t, err)
	Ms := m.Params.Ms.Value

	m.SetMagnetization(r3.Vec{Z: 1})
	ez := m.UpdateModules()
	m.SetMagnetization(r3.Vec{X: 1})
	ex := m.UpdateModules()
	// out of plane costs more than in plane
	assert.Greater(t, ez, ex)
	assert.Less(t, ez, MU0*Ms*Ms/2)
}

func TestDemag_PeriodicImages(t *testing.T) {
	build := func(pbc grid.INT3) (*mesh.Mesh, *Demag) {
		m := mesh.New("film", mesh.Ferromagnetic, grid.Rect{Max: r3.Vec{X: 40 * nm, Y: 40 * nm, Z: 5 * nm}},
			r3.Vec{X: 5 * nm, Y: 5 * nm, Z: 5 * nm})
		d := NewDemag(m, DemagConfig{PBCImages: pbc})
		require.NoError(t, m.AddModule(d, false))
		return m, d
	}

	open, _ := build(grid.INT3{})
	open.UpdateModules()
	hOpen := open.Heff.AverageNonEmpty(grid.Rect{}).X

	periodic, d := build(grid.INT3{X: 5, Y: 5})
	assert.Equal(t, grid.INT3{X: 5, Y: 5}, d.PBC())
	periodic.UpdateModules()
	hPer := periodic.Heff.AverageNonEmpty(grid.Rect{}).X

	// an extended film barely demagnetizes in plane
	assert.Less(t, math.Abs(hPer), 0.2*math.Abs(hOpen))
	// every cell sees the same field with periodic images
	assertVecNear(t, periodic.Heff.Data[0], periodic.Heff.Data[periodic.M.Idx(3, 4, 0)], 1e-6)

	require.NoError(t, d.SetPBC(grid.INT3{}))
	periodic.UpdateModules()
	assert.InDelta(t, hOpen, periodic.Heff.AverageNonEmpty(grid.Rect{}).X, 1e-9*math.Abs(hOpen))

	// images set on the mesh itself survive later configuration changes
	require.NoError(t, d.SetPBC(grid.INT3{X: 5, Y: 5}))
	require.NoError(t, periodic.SetPBC(grid.INT3{X: 1}))
	require.NoError(t, periodic.SetParam("Ms", 7e5))
	assert.Equal(t, grid.INT3{X: 1}, periodic.M.PBC)
	assert.Equal(t, grid.INT3{X: 1}, d.PBC())
	require.NoError(t, periodic.SetPBC(grid.INT3{}))
	require.NoError(t, periodic.SetParam("Ms", 8e5))
	assert.Equal(t, grid.INT3{}, d.PBC())

	require.NoError(t, d.SetPBC(grid.INT3{X: 2}))
	require.NoError(t, periodic.DelModule(mesh.Demag))
	assert.Equal(t, grid.INT3{}, periodic.M.PBC)
}

// ============================================================================
// Section 3: Evaluation speedup
// ============================================================================

func TestDemag_EvalSpeedup(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 4, Y: 4, Z: 1})
	twist(m, 20*nm)
	mod, err := Add(m, mesh.Demag, false)
	require.NoError(t, err)
	d := mod.(*Demag)
	assert.Nil(t, d.Hdemag)

	m.Stepping.EvalSpeedup = true
	m.Stepping.Class = mesh.EvalComputeSave
	e0 := m.UpdateModules()
	require.NotNil(t, d.Hdemag)
	assert.True(t, d.Cached())
	saved := append([]r3.Vec(nil), m.Heff.Data...)

	t.Run("ReuseKeepsOldField", func(t *testing.T) {
		m.SetMagnetization(r3.Vec{Y: 1})
		m.Stepping.Class = mesh.EvalReuse
		assert.Equal(t, e0, m.UpdateModules())
		assert.Equal(t, saved, m.Heff.Data)
	})

	t.Run("NoSaveInvalidates", func(t *testing.T) {
		m.Stepping.Class = mesh.EvalComputeNoSave
		e := m.UpdateModules()
		assert.NotEqual(t, e0, e)
		assert.False(t, d.Cached())
		fresh := append([]r3.Vec(nil), m.Heff.Data...)

		// nothing saved: reuse computes the field again
		m.Stepping.Class = mesh.EvalReuse
		assert.Equal(t, e, m.UpdateModules())
		assert.False(t, d.Cached())
		assert.Equal(t, fresh, m.Heff.Data)
	})

	t.Run("SwitchingOffReleasesCache", func(t *testing.T) {
		m.Stepping.EvalSpeedup = false
		m.UpdateModules()
		assert.Nil(t, d.Hdemag)
		assert.False(t, d.Cached())
	})
}

func TestDemag_Antiferromagnet(t *testing.T) {
	// antiparallel sublattices carry no net moment and so no demag field
	m := newMesh(mesh.Antiferromagnetic, grid.INT3{X: 3, Y: 3, Z: 3})
	_, err := Add(m, mesh.Demag, false)
	require.NoError(t, err)
	assert.InDelta(t, 0, m.UpdateModules(), 1e-12)
	for idx := range m.Heff.Data {
		assert.InDelta(t, 0, r3.Norm(m.Heff.Data[idx]), 1e-6)
		assert.Equal(t, m.Heff.Data[idx], m.Heff2.Data[idx])
	}
}
