package montecarlo

import (
	"math"
	"math/rand/v2"

	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/modules"
	"github.com/wangxisss/Boris2/partitions"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/distuv"
)

// Cone angle control
const (
	ConeAngleDegMin   = 1.0
	ConeAngleDegMax   = 180.0
	ConeAngleDegDelta = 1.0
	TargetAcceptance  = 0.5

	defaultConeAngleDeg = 30.0
)

// Config selects the sampling variant
type Config struct {
	Seed        uint64
	Constrained bool
	Parallel    bool
	// ConstraintDirection is the axis whose total moment projection constrained
	// sweeps conserve, +x when zero
	ConstraintDirection r3.Vec
	ConeAngleDeg        float64 // initial cone half-angle, 30 when zero
	Workers             int     // parallel sweeps, 0 means runtime.NumCPU()
}

// Sampler runs Metropolis sweeps over the moments of an atomistic mesh using the
// single-moment energies of its modules
type Sampler struct {
	mesh *mesh.Mesh
	cfg  Config
	cmcN r3.Vec

	rng  *rand.Rand
	unit distuv.Uniform

	coneAngleDeg   float64
	acceptanceRate float64
	cmcM           float64 // running constrained total of the last sweep

	indices      []int
	reds, blacks []int
	rbN          grid.INT3
}

// New creates a sampler for atomistic mesh m
func New(m *mesh.Mesh, cfg Config) (*Sampler, error) {
	if m.Type != mesh.Atomistic {
		return nil, faults.New("montecarlo", faults.IncorrectConfig, "mesh %s is %s, not atomistic", m.Name, m.Type)
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	s := &Sampler{
		mesh:         m,
		cfg:          cfg,
		rng:          rand.New(src),
		unit:         distuv.Uniform{Min: 0, Max: 1, Src: src},
		coneAngleDeg: cfg.ConeAngleDeg,
	}
	if s.coneAngleDeg == 0 {
		s.coneAngleDeg = defaultConeAngleDeg
	}
	s.coneAngleDeg = clamp(s.coneAngleDeg)
	s.SetConstrained(cfg.Constrained, cfg.ConstraintDirection)
	return s, nil
}

// ConeAngleDeg returns the current cone half-angle in degrees
func (s *Sampler) ConeAngleDeg() float64 { return s.coneAngleDeg }

// AcceptanceRate is the fraction of moves accepted in the last sweep
func (s *Sampler) AcceptanceRate() float64 { return s.acceptanceRate }

// SetConstrained switches constrained sampling along n on or off
func (s *Sampler) SetConstrained(on bool, n r3.Vec) {
	s.cfg.Constrained = on
	if r3.Norm(n) == 0 {
		n = r3.Vec{X: 1}
	}
	s.cfg.ConstraintDirection = n
	s.cmcN = r3.Unit(n)
}

// SetParallel switches between serial and red/black sweeps
func (s *Sampler) SetParallel(on bool) { s.cfg.Parallel = on }

// CMCMagnetization sums the moment projections on the constraint direction
func (s *Sampler) CMCMagnetization() float64 {
	M := s.mesh.M
	return M.Layout.Reduce(func(p *partitions.Partition) float64 {
		sum := 0.0
		p.Each(func(idx int) {
			if M.IsNotEmpty(idx) {
				sum += r3.Dot(M.Data[idx], s.cmcN)
			}
		})
		return sum
	})
}

// Step takes one Monte Carlo step, every moment being offered one move, then
// adapts the cone angle towards the target acceptance. A target outside [0, 1]
// selects TargetAcceptance. Nothing happens at zero temperature.
// A parallel sampler sweeps serially while Colourable fails for its mesh.
func (s *Sampler) Step(target float64) {
	if s.mesh.BaseTemperature == 0 {
		return
	}
	parallel := s.cfg.Parallel && Colourable(s.mesh.M.N, s.mesh.M.PBC)
	switch {
	case s.cfg.Constrained && parallel:
		s.parallelConstrained()
	case s.cfg.Constrained:
		s.serialConstrained()
	case parallel:
		s.parallelClassic()
	default:
		s.serialClassic()
	}
	s.adaptCone(target)
}

func (s *Sampler) adaptCone(target float64) {
	if target < 0 || target > 1 {
		target = TargetAcceptance
	}
	if s.acceptanceRate < target {
		s.coneAngleDeg -= ConeAngleDegDelta
	} else {
		s.coneAngleDeg += ConeAngleDegDelta
	}
	s.coneAngleDeg = clamp(s.coneAngleDeg)
}

func clamp(deg float64) float64 {
	return math.Max(ConeAngleDegMin, math.Min(ConeAngleDegMax, deg))
}

func (s *Sampler) kT() float64 { return modules.BOLTZMANN * s.mesh.BaseTemperature }

// ---------------------------------------------------------------------------
// Moves

// draw is the uniform variate source of one sweep or partition
type draw func() float64

// coneMove turns v by a uniform polar angle up to the cone half-angle, at a uniform
// azimuth around v
func coneMove(v r3.Vec, coneRad float64, u draw) r3.Vec {
	theta := u() * coneRad
	phi := u() * 2 * math.Pi
	axis := r3.Unit(r3.Cross(v, perpendicularTo(v)))
	tilted := r3.NewRotation(theta, axis).Rotate(v)
	return r3.NewRotation(phi, r3.Unit(v)).Rotate(tilted)
}

func perpendicularTo(v r3.Vec) r3.Vec {
	if math.Abs(v.X) <= math.Abs(v.Y) && math.Abs(v.X) <= math.Abs(v.Z) {
		return r3.Vec{X: 1}
	}
	if math.Abs(v.Y) <= math.Abs(v.Z) {
		return r3.Vec{Y: 1}
	}
	return r3.Vec{Z: 1}
}

// frame rotates the constraint direction onto +x and back
type frame struct{ to, back r3.Rotation }

func newFrame(n r3.Vec) frame {
	x := r3.Vec{X: 1}
	axis := r3.Cross(n, x)
	angle := math.Acos(math.Max(-1, math.Min(1, r3.Dot(n, x))))
	if r3.Norm(axis) < 1e-12 {
		// n along +x or -x
		axis = r3.Vec{Z: 1}
	} else {
		axis = r3.Unit(axis)
	}
	return frame{to: r3.NewRotation(angle, axis), back: r3.NewRotation(-angle, axis)}
}

// metropolis offers moment idx one cone move and reports acceptance. A rejected
// move restores the stored value exactly.
func (s *Sampler) metropolis(idx int, coneRad, kT float64, u draw) bool {
	M := s.mesh.M
	old := M.Data[idx]
	before := s.mesh.AtomisticEnergy(idx)
	M.Data[idx] = r3.Scale(r3.Norm(old), r3.Unit(coneMove(old, coneRad, u)))
	after := s.mesh.AtomisticEnergy(idx)
	if u() > math.Exp(-(after-before)/kT) {
		M.Data[idx] = old
		return false
	}
	return true
}

// pairMove moves moments i and j together conserving their projection on the
// constraint direction. cmcM is the constrained total the Jacobian refers to; the
// change of it is returned for accepted moves.
func (s *Sampler) pairMove(i, j int, f frame, cmcM, coneRad, kT float64, u draw) (float64, bool) {
	M := s.mesh.M
	old1, old2 := M.Data[i], M.Data[j]
	rot1, rot2 := f.to.Rotate(old1), f.to.Rotate(old2)

	new1 := coneMove(rot1, coneRad, u)
	new2 := r3.Vec{Y: rot2.Y + rot1.Y - new1.Y, Z: rot2.Z + rot1.Z - new1.Z}
	sq2 := new2.Y*new2.Y + new2.Z*new2.Z
	norm2 := r3.Norm2(old2)
	if sq2 >= norm2 {
		return 0, false
	}
	new2.X = math.Copysign(math.Sqrt(norm2-sq2), rot2.X)

	m1 := r3.Scale(r3.Norm(old1), r3.Unit(f.back.Rotate(new1)))
	m2 := r3.Scale(math.Sqrt(norm2), r3.Unit(f.back.Rotate(new2)))
	delta := r3.Dot(r3.Sub(r3.Add(m1, m2), r3.Add(old1, old2)), s.cmcN)
	cmcNew := cmcM + delta
	if cmcNew <= 0 {
		return 0, false
	}

	before := s.mesh.AtomisticEnergy(i) + s.mesh.AtomisticEnergy(j)
	M.Data[i], M.Data[j] = m1, m2
	after := s.mesh.AtomisticEnergy(i) + s.mesh.AtomisticEnergy(j)

	ratio := cmcNew / cmcM
	P := ratio * ratio * math.Abs(rot2.X) / math.Abs(new2.X) * math.Exp(-(after-before)/kT)
	if u() > P {
		M.Data[i], M.Data[j] = old1, old2
		return 0, false
	}
	return delta, true
}

// ---------------------------------------------------------------------------
// Serial sweeps

// shuffled prepares the index permutation consumed by the serial sweeps
func (s *Sampler) shuffled() []int {
	N := s.mesh.M.Dim()
	if len(s.indices) != N {
		s.indices = make([]int, N)
	}
	for idx := range s.indices {
		s.indices[idx] = idx
	}
	return s.indices
}

// pick removes a uniformly drawn entry from the first n of indices
func (s *Sampler) pick(indices []int, n int) int {
	r := s.rng.IntN(n)
	picked := indices[r]
	indices[r] = indices[n-1]
	return picked
}

func (s *Sampler) serialClassic() {
	M := s.mesh.M
	s.acceptanceRate = 0
	moves := M.NonEmptyCells()
	if moves == 0 {
		return
	}
	coneRad, kT := s.coneAngleDeg*math.Pi/180, s.kT()
	indices := s.shuffled()
	accepted := 0
	for n := len(indices); n > 0; n-- {
		idx := s.pick(indices, n)
		if M.IsNotEmpty(idx) && s.metropolis(idx, coneRad, kT, s.unit.Rand) {
			accepted++
		}
	}
	s.acceptanceRate = float64(accepted) / float64(moves)
}

func (s *Sampler) serialConstrained() {
	M := s.mesh.M
	s.acceptanceRate = 0
	moves := M.NonEmptyCells()
	s.cmcM = s.CMCMagnetization()
	if moves == 0 || s.cmcM <= 0 {
		return
	}
	coneRad, kT := s.coneAngleDeg*math.Pi/180, s.kT()
	f := newFrame(s.cmcN)
	indices := s.shuffled()
	accepted := 0
	for n := len(indices); n > 1; n -= 2 {
		i := s.pick(indices, n)
		j := s.pick(indices, n-1)
		if M.IsEmpty(i) || M.IsEmpty(j) {
			continue
		}
		// serial moves see the exact running total
		if delta, ok := s.pairMove(i, j, f, s.cmcM, coneRad, kT, s.unit.Rand); ok {
			s.cmcM += delta
			accepted += 2
		}
	}
	s.acceptanceRate = float64(accepted) / float64(moves)
}

// ---------------------------------------------------------------------------
// Red/black sweeps

// RedBlackIndices splits the cells of an n lattice into the two colours of a 3D
// checkerboard: red cells have i+j+k even. Each list is in increasing index order.
// The colours are race-free for updates reading nearest neighbours only when
// Colourable holds.
func RedBlackIndices(n grid.INT3) (reds, blacks []int) {
	plane := n.X * n.Y
	numReds := (n.Z/2)*(plane/2) + (n.Z-n.Z/2)*(plane/2+plane%2)
	numBlacks := (n.Z/2)*(plane/2+plane%2) + (n.Z-n.Z/2)*(plane/2)
	reds = make([]int, 0, numReds)
	blacks = make([]int, 0, numBlacks)
	for k := 0; k < n.Z; k++ {
		for j := 0; j < n.Y; j++ {
			for i := 0; i < n.X; i++ {
				idx := i + j*n.X + k*plane
				if (i+j+k)%2 == 0 {
					reds = append(reds, idx)
				} else {
					blacks = append(blacks, idx)
				}
			}
		}
	}
	return reds, blacks
}

// Colourable reports whether the RedBlackIndices colouring leaves no nearest
// neighbours sharing a colour under the periodic images pbc. A periodic axis with
// an odd cell count wraps a cell onto a neighbour of its own colour.
func Colourable(n, pbc grid.INT3) bool {
	for a := 0; a < 3; a++ {
		if pbc.Axis(a) > 0 && n.Axis(a) > 1 && n.Axis(a)%2 == 1 {
			return false
		}
	}
	return true
}

func (s *Sampler) colours() [2][]int {
	if s.reds == nil || s.rbN != s.mesh.M.N {
		s.rbN = s.mesh.M.N
		s.reds, s.blacks = RedBlackIndices(s.rbN)
	}
	return [2][]int{s.reds, s.blacks}
}

// pass runs fn over count work items split into partitions, each with its own
// generator seeded from the sampler's, and returns the number of accepted moves
func (s *Sampler) pass(count int, fn func(item int, u draw) int) int {
	if count == 0 {
		return 0
	}
	layout := partitions.New(count, partitions.Config{Workers: s.cfg.Workers})
	srcs := make([]rand.Source, layout.NumPartitions)
	for np := range srcs {
		srcs[np] = rand.NewPCG(s.rng.Uint64(), s.rng.Uint64())
	}
	return int(layout.Reduce(func(p *partitions.Partition) float64 {
		u := distuv.Uniform{Min: 0, Max: 1, Src: srcs[p.ID]}
		accepted := 0
		p.Each(func(item int) { accepted += fn(item, u.Rand) })
		return float64(accepted)
	}))
}

func (s *Sampler) parallelClassic() {
	M := s.mesh.M
	s.acceptanceRate = 0
	moves := M.NonEmptyCells()
	if moves == 0 {
		return
	}
	coneRad, kT := s.coneAngleDeg*math.Pi/180, s.kT()
	accepted := 0
	for _, cells := range s.colours() {
		accepted += s.pass(len(cells), func(item int, u draw) int {
			idx := cells[item]
			if M.IsNotEmpty(idx) && s.metropolis(idx, coneRad, kT, u) {
				return 1
			}
			return 0
		})
	}
	s.acceptanceRate = float64(accepted) / float64(moves)
}

// parallelConstrained pairs moments of the same colour. The constrained total is
// computed once per sweep and not updated by accepted moves; it fluctuates about
// a steady mean, so the Jacobian stays close to the exact one.
func (s *Sampler) parallelConstrained() {
	M := s.mesh.M
	s.acceptanceRate = 0
	moves := M.NonEmptyCells()
	cmcM := s.CMCMagnetization()
	s.cmcM = cmcM
	if moves == 0 || cmcM <= 0 {
		return
	}
	coneRad, kT := s.coneAngleDeg*math.Pi/180, s.kT()
	f := newFrame(s.cmcN)
	accepted := 0
	for _, cells := range s.colours() {
		order := append([]int(nil), cells...)
		s.rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		// an odd moment out stays put this sweep
		accepted += s.pass(len(order)/2, func(item int, u draw) int {
			i, j := order[2*item], order[2*item+1]
			if M.IsEmpty(i) || M.IsEmpty(j) {
				return 0
			}
			if _, ok := s.pairMove(i, j, f, cmcM, coneRad, kT, u); ok {
				return 2
			}
			return 0
		})
	}
	s.acceptanceRate = float64(accepted) / float64(moves)
}
