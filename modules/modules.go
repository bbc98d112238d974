package modules

import (
	"math"

	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/spatial/r3"
)

// Physical constants (SI)
const (
	MU0       = 4 * math.Pi * 1e-7
	MUB       = 9.274009994e-24 // Bohr magneton, J/T
	MUB_MU0   = MUB * MU0
	BOLTZMANN = 1.38064852e-23
)

// New creates a module of kind k for m
func New(k mesh.ModuleKind, m *mesh.Mesh) (mesh.Module, error) {
	switch k {
	case mesh.Exchange:
		return NewExchange(m), nil
	case mesh.DMExchange:
		return NewDMExchange(m), nil
	case mesh.IDMExchange:
		return NewIDMExchange(m), nil
	case mesh.Demag:
		return NewDemag(m, DemagConfig{}), nil
	case mesh.Zeeman:
		return NewZeeman(m), nil
	case mesh.AnisotropyUniaxial:
		return NewAnisotropyUniaxial(m), nil
	case mesh.AnisotropyCubic:
		return NewAnisotropyCubic(m), nil
	case mesh.SurfExchange:
		return NewSurfExchange(m), nil
	case mesh.Heat:
		return NewHeat(m, HeatConfig{}), nil
	case mesh.AtomExchange:
		return NewAtomExchange(m), nil
	case mesh.AtomDMExchange:
		return NewAtomDMExchange(m), nil
	case mesh.AtomZeeman:
		return NewAtomZeeman(m), nil
	case mesh.AtomAnisotropyUniaxial:
		return NewAtomAnisotropyUniaxial(m), nil
	}
	return nil, faults.New("modules", faults.UnknownModule, "no module of kind %s", k)
}

// Add creates a module of kind k and attaches it to m
func Add(m *mesh.Mesh, k mesh.ModuleKind, force bool) (mesh.Module, error) {
	mod, err := New(k, m)
	if err != nil {
		return nil, err
	}
	if err := m.AddModule(mod, force); err != nil {
		return nil, err
	}
	return mod, nil
}

// ---------------------------------------------------------------------------
// Shared accumulation helpers

// cellField computes a field contribution for cell idx: h for M, h2 for M2
type cellField func(idx int) (h, h2 r3.Vec)

// accumulate adds field into Heff (and Heff2 when present) over the non-empty cells
// and returns the sum of M.h (+ M2.h2) over them
func accumulate(m *mesh.Mesh, field cellField) float64 {
	afm := m.M2 != nil
	return m.M.Layout.Reduce(func(p *partitions.Partition) float64 {
		sum := 0.0
		p.Each(func(idx int) {
			if m.M.IsEmpty(idx) {
				return
			}
			h, h2 := field(idx)
			m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], h)
			sum += r3.Dot(m.M.Data[idx], h)
			if afm {
				m.Heff2.Data[idx] = r3.Add(m.Heff2.Data[idx], h2)
				sum += r3.Dot(m.M2.Data[idx], h2)
			}
		})
		return sum
	})
}

// normalize turns a sum over cells into an energy density: scale*sum/N, or exactly
// zero without non-empty cells
func normalize(sum, scale float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return scale * sum / float64(n)
}

// densityIn averages and maximizes |e| over non-empty cells whose centers lie in rel
func densityIn(l *grid.Lattice, rel grid.Rect, e func(idx int) float64) (avg, max float64) {
	count := 0
	for idx := 0; idx < l.Dim(); idx++ {
		if l.IsEmpty(idx) || !l.InRect(rel, idx) {
			continue
		}
		v := e(idx)
		avg += v
		if math.Abs(v) > max {
			max = math.Abs(v)
		}
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return avg / float64(count), max
}

// fillDensity writes e(idx) for every non-empty cell of out, sampled by position
func fillDensity(l *grid.Lattice, out *grid.Scalar, e func(idx int) float64) {
	for idx := range out.Data {
		out.Data[idx] = 0
		if out.IsEmpty(idx) {
			continue
		}
		src := l.RelPosToIdx(r3.Sub(out.CellCenter(idx), l.Rect.Min))
		if src >= 0 && l.IsNotEmpty(src) {
			out.Data[idx] = e(src)
		}
	}
}

// pointEnergy is the per-cell energy density -scale*(M.h + M2.h2) for a field
func pointEnergy(m *mesh.Mesh, scale float64, field cellField) func(idx int) float64 {
	return func(idx int) float64 {
		h, h2 := field(idx)
		e := r3.Dot(m.M.Data[idx], h)
		if m.M2 != nil {
			e += r3.Dot(m.M2.Data[idx], h2)
		}
		return -scale * e
	}
}

// reinit implements the uninitialize-then-initialize cycle of UpdateConfiguration
func reinit(mod mesh.Module) error {
	mod.Uninitialize()
	return mod.Initialize()
}
