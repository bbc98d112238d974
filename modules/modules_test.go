package modules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/spatial/r3"
)

const nm = 1e-9

func cells(n grid.INT3, h float64) grid.Rect {
	return grid.Rect{Max: r3.Vec{X: float64(n.X) * h, Y: float64(n.Y) * h, Z: float64(n.Z) * h}}
}

func newMesh(t mesh.Type, n grid.INT3) *mesh.Mesh {
	h := 5 * nm
	if t == mesh.Atomistic {
		h = 0.3 * nm
	}
	return mesh.New("test", t, cells(n, h), r3.Vec{X: h, Y: h, Z: h})
}

// twist sets M(x) to rotate in the xz plane by half a turn over length L
func twist(m *mesh.Mesh, L float64) {
	Ms := m.Params.Ms.Value
	for idx := range m.M.Data {
		if m.M.IsEmpty(idx) {
			continue
		}
		th := math.Pi * m.M.CellCenter(idx).X / L
		m.M.Data[idx] = r3.Vec{X: Ms * math.Cos(th), Z: Ms * math.Sin(th)}
	}
}

func assertVecNear(t *testing.T, want, got r3.Vec, rel float64, msgAndArgs ...interface{}) {
	t.Helper()
	tol := rel*r3.Norm(want) + 1e-12
	assert.InDelta(t, want.X, got.X, tol, msgAndArgs...)
	assert.InDelta(t, want.Y, got.Y, tol, msgAndArgs...)
	assert.InDelta(t, want.Z, got.Z, tol, msgAndArgs...)
}

func emptyAll(t *testing.T, m *mesh.Mesh) {
	size := m.Rect().Size()
	require.NoError(t, m.ApplyShape([]grid.Shape{{
		Kind: grid.ShapeRect, Center: r3.Scale(0.5, size), Size: r3.Scale(2, size),
	}}, grid.ShapeSub, r3.Vec{}))
	require.Equal(t, 0, m.NonEmptyCells())
}

// constModule adds a fixed field and reports a fixed energy density
type constModule struct {
	mesh.Base
	e float64
	h r3.Vec
}

func (c *constModule) Initialize() error {
	c.SetInitialized(true)
	return nil
}

func (c *constModule) UpdateConfiguration(mesh.UpdateConfig) error { return nil }

func (c *constModule) UpdateField() float64 {
	m := c.Mesh
	for idx := range m.Heff.Data {
		if m.M.IsNotEmpty(idx) {
			m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], c.h)
		}
	}
	return c.e
}

func (c *constModule) GetEnergyDensity(grid.Rect) float64 { return c.e }

func (c *constModule) GetEnergyMax(grid.Rect) float64 { return c.e }

// ============================================================================
// Section 1: Factory and module registry
// ============================================================================

func TestNew_EveryKind(t *testing.T) {
	for k := mesh.Exchange; k <= mesh.AtomAnisotropyUniaxial; k++ {
		t.Run(k.String(), func(t *testing.T) {
			mod, err := New(k, newMesh(mesh.Ferromagnetic, grid.INT3{X: 2, Y: 2, Z: 1}))
			require.NoError(t, err)
			assert.Equal(t, k, mod.Kind())
			assert.False(t, mod.Initialized())
		})
	}

	_, err := New(mesh.ModuleKind(99), newMesh(mesh.Ferromagnetic, grid.INT3{X: 1, Y: 1, Z: 1}))
	assert.True(t, faults.Has(err, faults.UnknownModule))
}

func TestAdd_ExclusiveAndDuplicate(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 3, Y: 3, Z: 1})

	_, err := Add(m, mesh.Exchange, false)
	require.NoError(t, err)
	_, err = Add(m, mesh.Exchange, false)
	assert.True(t, faults.Has(err, faults.DuplicateModule))

	first := m.Module(mesh.Exchange)
	_, err = Add(m, mesh.Exchange, true)
	require.NoError(t, err)
	assert.NotSame(t, first, m.Module(mesh.Exchange))

	t.Run("DMIReplacesExchange", func(t *testing.T) {
		_, err := Add(m, mesh.DMExchange, false)
		require.NoError(t, err)
		assert.False(t, m.HasModule(mesh.Exchange))
		assert.True(t, m.HasModule(mesh.DMExchange))

		_, err = Add(m, mesh.IDMExchange, false)
		require.NoError(t, err)
		assert.False(t, m.HasModule(mesh.DMExchange))
	})

	t.Run("CubicReplacesUniaxial", func(t *testing.T) {
		_, err := Add(m, mesh.AnisotropyUniaxial, false)
		require.NoError(t, err)
		_, err = Add(m, mesh.AnisotropyCubic, false)
		require.NoError(t, err)
		assert.False(t, m.HasModule(mesh.AnisotropyUniaxial))
	})

	t.Run("WrongMeshType", func(t *testing.T) {
		_, err := Add(m, mesh.AtomExchange, false)
		assert.True(t, faults.Has(err, faults.IncorrectConfig))
		_, err = Add(newMesh(mesh.Atomistic, grid.INT3{X: 2, Y: 2, Z: 2}), mesh.Exchange, false)
		assert.True(t, faults.Has(err, faults.IncorrectConfig))
	})

	t.Run("DMIWithoutStiffness", func(t *testing.T) {
		m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 2, Y: 2, Z: 1})
		m.Params.A.Value = 0
		_, err := Add(m, mesh.DMExchange, false)
		assert.True(t, faults.Has(err, faults.IncorrectConfig))
		assert.False(t, m.HasModule(mesh.DMExchange))
	})
}

// ============================================================================
// Section 2: Energy and field are sums over modules
// ============================================================================

func TestUpdateModules_SumsContributions(t *testing.T) {
	t.Run("Constant", func(t *testing.T) {
		m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 3, Y: 2, Z: 1})
		a := &constModule{Base: mesh.Base{Mesh: m, ModKind: mesh.Zeeman}, e: 1.25, h: r3.Vec{X: 1}}
		b := &constModule{Base: mesh.Base{Mesh: m, ModKind: mesh.Demag}, e: 2.25, h: r3.Vec{Y: 2}}
		require.NoError(t, m.AddModule(a, false))
		require.NoError(t, m.AddModule(b, false))

		assert.Equal(t, 3.5, m.UpdateModules())
		for _, h := range m.Heff.Data {
			assert.Equal(t, r3.Vec{X: 1, Y: 2}, h)
		}
	})

	t.Run("Physical", func(t *testing.T) {
		m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 6, Y: 3, Z: 2})
		twist(m, 30*nm)
		for _, k := range []mesh.ModuleKind{mesh.Exchange, mesh.AnisotropyUniaxial, mesh.Zeeman, mesh.Demag} {
			_, err := Add(m, k, false)
			require.NoError(t, err)
		}
		m.Module(mesh.Zeeman).(mesh.FieldSetter).SetField(r3.Vec{X: 1e4, Z: -2e4})

		total := m.UpdateModules()
		combined := append([]r3.Vec(nil), m.Heff.Data...)

		sum := 0.0
		fields := make([]r3.Vec, len(combined))
		for _, mod := range m.Modules() {
			m.Heff.Zero()
			sum += mod.UpdateField()
			for idx, h := range m.Heff.Data {
				fields[idx] = r3.Add(fields[idx], h)
			}
		}
		assert.InDelta(t, sum, total, 1e-9*math.Abs(sum))
		for idx := range combined {
			assertVecNear(t, fields[idx], combined[idx], 1e-9)
		}
	})
}

func TestUpdateField_NoCellsNoEnergy(t *testing.T) {
	check := func(t *testing.T, m *mesh.Mesh, k mesh.ModuleKind) {
		mod, err := Add(m, k, false)
		require.NoError(t, err)
		if fs, ok := mod.(mesh.FieldSetter); ok {
			fs.SetField(r3.Vec{X: 1e5})
		}
		emptyAll(t, m)
		assert.Equal(t, 0.0, m.UpdateModules())
		assert.Equal(t, 0.0, mod.UpdateField())
		assert.Equal(t, 0.0, mod.GetEnergyDensity(grid.Rect{}))
		assert.Equal(t, 0.0, mod.GetEnergyMax(grid.Rect{}))
	}

	for k := mesh.Exchange; k <= mesh.AtomAnisotropyUniaxial; k++ {
		for _, mt := range []mesh.Type{mesh.Ferromagnetic, mesh.Antiferromagnetic, mesh.Atomistic} {
			if !k.AllowedOn(mt) {
				continue
			}
			t.Run(k.String()+"/"+mt.String(), func(t *testing.T) {
				check(t, newMesh(mt, grid.INT3{X: 3, Y: 2, Z: 2}), k)
			})
		}
	}
}

// ============================================================================
// Section 3: Anisotropy and applied field
// ============================================================================

func TestAnisotropy_ZeroConstants(t *testing.T) {
	for _, k := range []mesh.ModuleKind{mesh.AnisotropyUniaxial, mesh.AnisotropyCubic} {
		t.Run(k.String(), func(t *testing.T) {
			m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 3, Y: 3, Z: 1})
			m.SetMagnetization(r3.Vec{X: 1, Y: 2, Z: 3})
			mod, err := Add(m, k, false)
			require.NoError(t, err)
			require.NoError(t, m.SetParam("K1", 0))
			require.NoError(t, m.SetParam("K2", 0))

			assert.Equal(t, 0.0, m.UpdateModules())
			for _, h := range m.Heff.Data {
				assert.Equal(t, r3.Vec{}, h)
			}
			assert.Equal(t, 0.0, mod.GetEnergyMax(grid.Rect{}))
		})
	}
}

func TestAnisotropy_Uniaxial(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 2, Y: 2, Z: 1})
	mod, err := Add(m, mesh.AnisotropyUniaxial, false)
	require.NoError(t, err)
	p := m.Params
	p.K2.Value = 2e3

	// easy axis: no energy, field along the axis
	e := m.UpdateModules()
	assert.InDelta(t, 0, e, 1e-12)
	want := 2 * p.K1.Value / (MU0 * p.Ms.Value)
	assert.InDelta(t, want, m.Heff.Data[0].X, 1e-9*want)

	m.SetMagnetization(r3.Vec{Y: 1})
	e = m.UpdateModules()
	assert.InDelta(t, p.K1.Value+p.K2.Value, e, 1e-9)
	assert.InDelta(t, p.K1.Value+p.K2.Value, mod.GetEnergyDensity(grid.Rect{}), 1e-9)
	assert.InDelta(t, 0, r3.Norm(m.Heff.Data[0]), 1e-9)
}

func TestAnisotropy_CubicBodyDiagonal(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 2, Y: 2, Z: 1})
	_, err := Add(m, mesh.AnisotropyCubic, false)
	require.NoError(t, err)
	m.Params.K2.Value = 27e2
	m.SetMagnetization(r3.Vec{X: 1, Y: 1, Z: 1})

	e := m.UpdateModules()
	assert.InDelta(t, m.Params.K1.Value/3+m.Params.K2.Value/27, e, 1e-6)
	// the field stays along the diagonal by symmetry
	h := m.Heff.Data[0]
	assert.InDelta(t, h.X, h.Y, 1e-9*math.Abs(h.X))
	assert.InDelta(t, h.X, h.Z, 1e-9*math.Abs(h.X))
}

func TestZeeman(t *testing.T) {
	m := newMesh(mesh.Ferromagnetic, grid.INT3{X: 4, Y: 1, Z: 1})
	mod, err := Add(m, mesh.Zeeman, false)
	require.NoError(t, err)
	z := mod.(*Zeeman)

	t.Run("NoField", func(t *testing.T) {
		assert.Equal(t, 0.0, m.UpdateModules())
	})

	t.Run("Uniform", func(t *testing.T) {
		z.SetField(r3.Vec{X: 1e5})
		e := m.UpdateModules()
		assert.InDelta(t, -MU0*m.Params.Ms.Value*1e5, e, 1e-9)
		assert.Equal(t, r3.Vec{X: 1e5}, m.Heff.Data[2])
		assert.Equal(t, r3.Vec{X: 1e5}, z.Field())
	})

	t.Run("Equation", func(t *testing.T) {
		m.Stepping.Time = 2
		z.SetFieldEquation(func(pos r3.Vec, tm float64) r3.Vec {
			return r3.Vec{Z: tm * pos.X / nm}
		})
		m.UpdateModules()
		for idx, h := range m.Heff.Data {
			assert.InDelta(t, 2*m.M.CellCenter(idx).X/nm, h.Z, 1e-9)
		}
		// M is along x, so a z field carries no energy
		assert.InDelta(t, 0, z.GetEnergyMax(grid.Rect{}), 1e-12)
	})

	t.Run("Antiferromagnet", func(t *testing.T) {
		m := newMesh(mesh.Antiferromagnetic, grid.INT3{X: 2, Y: 1, Z: 1})
		mod, err := Add(m, mesh.Zeeman, false)
		require.NoError(t, err)
		mod.(*Zeeman).SetField(r3.Vec{X: 1e5})
		m.M2.SetUniform(r3.Vec{X: m.Params.Ms2.Value})
		e := m.UpdateModules()
		assert.InDelta(t, -MU0*m.Params.Ms.Value*1e5, e, 1e-9)
		assert.Equal(t, m.Heff.Data[0], m.Heff2.Data[0])
	})
}

// ============================================================================
// Section 4: Surface exchange
// ============================================================================

func TestSurfExchange_StackedMeshes(t *testing.T) {
	h := r3.Vec{X: nm, Y: nm, Z: nm}
	bottom := mesh.New("bottom", mesh.Ferromagnetic, grid.Rect{Max: r3.Vec{X: 4 * nm, Y: 3 * nm, Z: 2 * nm}}, h)
	top := mesh.New("top", mesh.Ferromagnetic, grid.Rect{Min: r3.Vec{Z: 2 * nm}, Max: r3.Vec{X: 4 * nm, Y: 3 * nm, Z: 3 * nm}}, h)
	bottom.Params.J1.Value = 5e-3 // not used: the upper mesh sets the coupling
	top.Params.J1.Value = 1e-3

	for _, pair := range [][2]*mesh.Mesh{{bottom, top}, {top, bottom}} {
		c, ok := cmbndContact(pair[0], pair[1])
		require.True(t, ok)
		pair[0].SurfContacts = append(pair[0].SurfContacts, mesh.Contact{Contact: c, Peer: pair[1]})
		_, err := Add(pair[0], mesh.SurfExchange, false)
		require.NoError(t, err)
	}

	J1, Ms := 1e-3, bottom.Params.Ms.Value
	eb := bottom.UpdateModules()
	et := top.UpdateModules()
	// only the top layer of the bottom mesh couples
	assert.InDelta(t, -J1/nm/2, eb, 1e-9*J1/nm)
	assert.InDelta(t, -J1/nm, et, 1e-9*J1/nm)

	want := J1 / (MU0 * Ms * nm)
	assert.InDelta(t, want, bottom.Heff.Data[bottom.M.Idx(1, 1, 1)].X, 1e-9*want)
	assert.Equal(t, r3.Vec{}, bottom.Heff.Data[bottom.M.Idx(1, 1, 0)])
	assert.InDelta(t, want, top.Heff.Data[top.M.Idx(2, 0, 0)].X, 1e-9*want)

	upper := grid.Rect{Min: r3.Vec{Z: nm}, Max: r3.Vec{X: 4 * nm, Y: 3 * nm, Z: 2 * nm}}
	assert.InDelta(t, -J1/nm, bottom.Module(mesh.SurfExchange).GetEnergyDensity(upper), 1e-9*J1/nm)
}
