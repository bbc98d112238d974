package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/modules"
	"gonum.org/v1/gonum/spatial/r3"
)

const bilayer = `
verbose: false
run:
  steps: 3
  dt: 1e-13
  evalSpeedup: true
meshes:
  - name: bottom
    type: ferromagnetic
    rect: {min: [0, 0, 0], max: [40e-9, 20e-9, 5e-9]}
    exchangeCoupled: true
    magnetization: [0, 1, 0]
    temperature: 300
    params: {Ms: 6e5, A: 1e-11}
    vectors: {ea1: [0, 0, 1]}
    curves:
      Ms: {temps: [0, 300, 600], scales: [1, 0.9, 0.5]}
    variations:
      K1: {kind: random, min: 0.9, max: 1.1, seed: 3}
    shapes:
      - {kind: rect, method: sub, center: [2.5e-9, 10e-9, 2.5e-9], size: [5e-9, 20e-9, 5e-9]}
    modules:
      - kind: exchange
      - kind: demag
        pbc: [2, 0, 0]
      - kind: Zeeman
        field: [1e4, 0, 0]
      - kind: heat
        T0: 310
        Q: 1e18
  - name: top
    type: fm
    rect: {min: [0, 0, 5e-9], max: [40e-9, 20e-9, 10e-9]}
    cellsize: [5e-9, 5e-9, 5e-9]
    modules:
      - kind: surfexchange
`

// ============================================================================
// Section 1: Parsing
// ============================================================================

func TestParse(t *testing.T) {
	f, err := Parse([]byte(bilayer))
	require.NoError(t, err)
	assert.Equal(t, 3, f.Run.Steps)
	assert.Equal(t, 1e-13, f.Run.Dt)
	assert.True(t, f.Run.EvalSpeedup)
	assert.Nil(t, f.MonteCarlo)
	require.Len(t, f.Meshes, 2)

	b := f.Meshes[0]
	assert.Equal(t, Vec{40e-9, 20e-9, 5e-9}, b.Rect.Max)
	assert.Equal(t, Triple{2, 0, 0}, b.Modules[1].PBC)
	assert.Equal(t, 310.0, b.Modules[3].T0)
	assert.Equal(t, []float64{1, 0.9, 0.5}, b.Curves["Ms"].Scales)
	assert.Equal(t, "sub", b.Shapes[0].Method)
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"NoMeshes", "run: {steps: 1}\n"},
		{"UnknownKey", "meshes: [{name: a, colour: red}]\n"},
		{"Malformed", "meshes: [\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			var fe *faults.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, faults.IncorrectConfig, fe.Kind)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bilayer), 0o644))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Meshes, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// ============================================================================
// Section 2: Building
// ============================================================================

func TestBuild(t *testing.T) {
	f, err := Parse([]byte(bilayer))
	require.NoError(t, err)
	sm, err := Build(f)
	require.NoError(t, err)

	bottom, err := sm.Mesh("bottom")
	require.NoError(t, err)
	top, err := sm.Mesh("top")
	require.NoError(t, err)

	t.Run("Geometry", func(t *testing.T) {
		assert.Equal(t, mesh.Ferromagnetic, top.Type)
		assert.Equal(t, grid.INT3{X: 8, Y: 4, Z: 1}, bottom.M.N)
		// the first column was cut away
		assert.Equal(t, 28, bottom.NonEmptyCells())
		assert.True(t, bottom.M.IsEmpty(bottom.M.Idx(0, 2, 0)))
		assert.InDelta(t, 6e5, bottom.M.Data[bottom.M.Idx(4, 2, 0)].Y, 1e-6)
		assert.True(t, bottom.ExchangeCoupled)
		require.Len(t, bottom.SurfContacts, 1)
		assert.Same(t, top, bottom.SurfContacts[0].Peer)
	})

	t.Run("Material", func(t *testing.T) {
		p := bottom.Params
		assert.Equal(t, 6e5, p.Ms.Value)
		assert.Equal(t, 1e-11, p.A.Value)
		assert.Equal(t, r3.Vec{Z: 1}, p.Ea1.Value)
		require.NotNil(t, p.Ms.Temp)
		assert.InDelta(t, 0.7, p.Ms.Temp.Scale(450), 1e-12)
		require.NotNil(t, p.K1.Spatial)
		for _, s := range p.K1.Spatial.Data {
			assert.True(t, s >= 0.9 && s < 1.1)
		}
		assert.Equal(t, 300.0, bottom.BaseTemperature)
	})

	t.Run("Modules", func(t *testing.T) {
		for _, k := range []mesh.ModuleKind{mesh.Exchange, mesh.Demag, mesh.Zeeman, mesh.Heat} {
			assert.True(t, bottom.HasModule(k), "%s", k)
		}
		assert.True(t, top.HasModule(mesh.SurfExchange))
		assert.Equal(t, r3.Vec{X: 1e4}, bottom.Module(mesh.Zeeman).(mesh.FieldSetter).Field())
		assert.Equal(t, grid.INT3{X: 2}, bottom.Module(mesh.Demag).(*modules.Demag).PBC())
		assert.Equal(t, 310.0, bottom.Temperature(bottom.M.Idx(4, 2, 0)))
		assert.True(t, bottom.Module(mesh.Heat).(*modules.Heat).Coordinated)
	})

	t.Run("Stepping", func(t *testing.T) {
		st := sm.Stepping()
		assert.Equal(t, 1e-13, st.Dt)
		assert.True(t, st.EvalSpeedup)
		assert.Equal(t, mesh.EvalComputeSave, st.Class)

		e := sm.UpdateField()
		assert.NotZero(t, e)
		// the source heats the bottom mesh at the start of the step
		assert.Greater(t, bottom.Temperature(bottom.M.Idx(4, 2, 0)), 310.0)
	})
}

func TestBuild_MonteCarlo(t *testing.T) {
	const src = `
montecarlo:
  seed: 5
  parallel: true
  steps: 2
  target: 0.3
meshes:
  - name: atoms
    type: atomistic
    rect: {min: [0, 0, 0], max: [2e-9, 2e-9, 2e-9]}
    temperature: 100
    modules:
      - kind: atom_exchange
      - kind: atom_Zeeman
        field: [0, 0, 1e5]
`
	f, err := Parse([]byte(src))
	require.NoError(t, err)
	require.NotNil(t, f.MonteCarlo)
	assert.Equal(t, 0.3, f.MonteCarlo.TargetAcceptance())
	assert.True(t, f.MonteCarlo.Config().Parallel)
	assert.Equal(t, -1.0, (&MonteCarlo{}).TargetAcceptance())

	sm, err := Build(f)
	require.NoError(t, err)
	rate, err := sm.MonteCarloStep(f.MonteCarlo.TargetAcceptance())
	require.NoError(t, err)
	assert.Greater(t, rate, 0.0)

	atoms, err := sm.Mesh("atoms")
	require.NoError(t, err)
	assert.Equal(t, grid.INT3{X: 4, Y: 4, Z: 4}, atoms.M.N)
}

func TestBuild_Errors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"MeshType", "meshes: [{name: a, type: paramagnet, rect: {max: [1e-8, 1e-8, 1e-8]}}]"},
		{"FlatRect", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 0]}}]"},
		{"Param", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, params: {Bogus: 1}}]"},
		{"Curve", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, curves: {Ms: {temps: [0, 1], scales: [1]}}}]"},
		{"CurveOrder", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, curves: {Ms: {temps: [300, 200], scales: [1, 0.5]}}}]"},
		{"Variation", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, variations: {Ms: {kind: perlin}}}]"},
		{"Shape", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, shapes: [{kind: blob}]}]"},
		{"Module", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}, modules: [{kind: spintorque}]}]"},
		{"Duplicate", "meshes: [{name: a, rect: {max: [1e-8, 1e-8, 1e-8]}}, {name: a, rect: {min: [2e-8, 0, 0], max: [3e-8, 1e-8, 1e-8]}}]"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse([]byte(tc.yaml))
			require.NoError(t, err)
			_, err = Build(f)
			var fe *faults.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, faults.IncorrectConfig, fe.Kind)
			assert.Contains(t, err.Error(), `mesh "a"`)
		})
	}
}
