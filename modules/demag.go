package modules

import (
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/mesh"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/spatial/r3"
)

// DemagConfig configures the demagnetizing field. PBCImages sets the number of
// periodic images summed along each axis; zero leaves the axis open.
type DemagConfig struct {
	PBCImages grid.INT3
}

// convolution computes H = -N * M over a lattice with zero-padded FFTs
type convolution struct {
	n    grid.INT3
	p    [3]int
	size int
	kern [6][]complex128
	fft  [3]*fourier.CmplxFFT
	buf  [3][]complex128
	line [2][]complex128
}

type convKey struct {
	n   grid.INT3
	h   r3.Vec
	pbc grid.INT3
}

// images returns the displacements, in cells, that padded index i stands for
func images(i, n, p, pbc int) []int {
	if pbc > 0 {
		out := make([]int, 0, 2*pbc+1)
		for s := -pbc; s <= pbc; s++ {
			out = append(out, i+s*n)
		}
		return out
	}
	switch {
	case i < n:
		return []int{i}
	case i > n:
		return []int{i - p}
	}
	return nil
}

func newConvolution(k convKey) *convolution {
	c := &convolution{n: k.n}
	for a := 0; a < 3; a++ {
		n := k.n.Axis(a)
		switch {
		case k.pbc.Axis(a) > 0 || n == 1:
			c.p[a] = n
		default:
			c.p[a] = 2 * n
		}
		if c.p[a] > 1 {
			c.fft[a] = fourier.NewCmplxFFT(c.p[a])
		}
	}
	c.size = c.p[0] * c.p[1] * c.p[2]
	for q := range c.kern {
		c.kern[q] = make([]complex128, c.size)
	}
	for q := range c.buf {
		c.buf[q] = make([]complex128, c.size)
	}
	pmax := max(c.p[0], c.p[1], c.p[2])
	c.line = [2][]complex128{make([]complex128, pmax), make([]complex128, pmax)}

	for kk := 0; kk < c.p[2]; kk++ {
		zs := images(kk, k.n.Z, c.p[2], k.pbc.Z)
		for j := 0; j < c.p[1]; j++ {
			ys := images(j, k.n.Y, c.p[1], k.pbc.Y)
			for i := 0; i < c.p[0]; i++ {
				xs := images(i, k.n.X, c.p[0], k.pbc.X)
				var t tensor6
				for _, dz := range zs {
					for _, dy := range ys {
						for _, dx := range xs {
							d := r3.Vec{X: float64(dx) * k.h.X, Y: float64(dy) * k.h.Y, Z: float64(dz) * k.h.Z}
							nt := newellTensor(d, k.h)
							for q := range t {
								t[q] += nt[q]
							}
						}
					}
				}
				pi := c.index(i, j, kk)
				for q := range t {
					c.kern[q][pi] = complex(t[q], 0)
				}
			}
		}
	}
	for q := range c.kern {
		c.transform(c.kern[q], false)
	}
	return c
}

func (c *convolution) index(i, j, k int) int { return i + j*c.p[0] + k*c.p[0]*c.p[1] }

// transform runs the 3D FFT in place, one axis at a time
func (c *convolution) transform(data []complex128, inverse bool) {
	stride := [3]int{1, c.p[0], c.p[0] * c.p[1]}
	for a := 0; a < 3; a++ {
		if c.fft[a] == nil {
			continue
		}
		n := c.p[a]
		in, out := c.line[0][:n], c.line[1][:n]
		for start := 0; start < c.size; start++ {
			// start must be the first element of a line along a
			if (start/stride[a])%n != 0 {
				continue
			}
			for s := 0; s < n; s++ {
				in[s] = data[start+s*stride[a]]
			}
			if inverse {
				c.fft[a].Sequence(out, in)
			} else {
				c.fft[a].Coefficients(out, in)
			}
			for s := 0; s < n; s++ {
				data[start+s*stride[a]] = out[s]
			}
		}
	}
}

// apply convolves the input field and hands the demag field of every lattice cell to out
func (c *convolution) apply(l *grid.Lattice, in func(idx int) r3.Vec, out func(idx int, h r3.Vec)) {
	for q := range c.buf {
		clear(c.buf[q])
	}
	for idx := 0; idx < l.Dim(); idx++ {
		if l.IsEmpty(idx) {
			continue
		}
		co := l.Coords(idx)
		v := in(idx)
		pi := c.index(co.X, co.Y, co.Z)
		c.buf[0][pi] = complex(v.X, 0)
		c.buf[1][pi] = complex(v.Y, 0)
		c.buf[2][pi] = complex(v.Z, 0)
	}
	for q := range c.buf {
		c.transform(c.buf[q], false)
	}
	k := c.kern
	for i := 0; i < c.size; i++ {
		mx, my, mz := c.buf[0][i], c.buf[1][i], c.buf[2][i]
		c.buf[0][i] = -(k[0][i]*mx + k[3][i]*my + k[4][i]*mz)
		c.buf[1][i] = -(k[3][i]*mx + k[1][i]*my + k[5][i]*mz)
		c.buf[2][i] = -(k[4][i]*mx + k[5][i]*my + k[2][i]*mz)
	}
	scale := 1 / float64(c.size)
	for q := range c.buf {
		c.transform(c.buf[q], true)
	}
	for idx := 0; idx < l.Dim(); idx++ {
		if l.IsEmpty(idx) {
			continue
		}
		co := l.Coords(idx)
		pi := c.index(co.X, co.Y, co.Z)
		out(idx, r3.Vec{X: real(c.buf[0][pi]) * scale, Y: real(c.buf[1][pi]) * scale, Z: real(c.buf[2][pi]) * scale})
	}
}

// Demag is the demagnetizing field of the mesh, computed by FFT convolution with the
// Newell tensor. With evaluation speedup the field computed at the start of a step is
// cached and reused by later evaluations of the same step.
type Demag struct {
	mesh.Base
	cfg DemagConfig

	conv *convolution
	key  convKey

	// Hdemag caches the field; allocated with evaluation speedup on, and always on
	// atomistic meshes where single-moment energies read it
	Hdemag *grid.VEC3
	cached bool
	energy float64
}

// NewDemag creates the demagnetizing field module
func NewDemag(m *mesh.Mesh, cfg DemagConfig) *Demag {
	return &Demag{Base: mesh.Base{Mesh: m, ModKind: mesh.Demag}, cfg: cfg}
}

func (d *Demag) Initialize() error {
	m := d.Mesh
	if d.cfg.PBCImages != (grid.INT3{}) && m.M.PBC != d.cfg.PBCImages {
		m.M.SetPBC(d.cfg.PBCImages)
	}
	key := convKey{n: m.M.N, h: m.M.H, pbc: m.M.PBC}
	if d.conv == nil || d.key != key {
		d.conv = newConvolution(key)
		d.key = key
	}
	d.Hdemag = nil
	if d.keepsField() {
		d.Hdemag = grid.NewVEC3Like(m.M.Lattice)
	}
	d.cached = false
	d.SetInitialized(true)
	return nil
}

func (d *Demag) keepsField() bool {
	return d.Mesh.Type == mesh.Atomistic || (d.Mesh.Stepping != nil && d.Mesh.Stepping.EvalSpeedup)
}

func (d *Demag) UpdateConfiguration(cfg mesh.UpdateConfig) error {
	if cfg == mesh.UpdatePBC {
		// the mesh images win over the ones the module was created with
		d.cfg.PBCImages = d.Mesh.M.PBC
	}
	return reinit(d)
}

// Release clears the periodic boundaries the module imposed on the mesh
func (d *Demag) Release() {
	if d.Mesh.M.PBC != (grid.INT3{}) {
		d.Mesh.M.SetPBC(grid.INT3{})
	}
	d.cfg.PBCImages = grid.INT3{}
}

// SetPBC sets the periodic images of the mesh along each axis
func (d *Demag) SetPBC(images grid.INT3) error {
	d.cfg.PBCImages = images
	return d.Mesh.SetPBC(images)
}

// PBC returns the periodic images in use
func (d *Demag) PBC() grid.INT3 { return d.Mesh.M.PBC }

// input is the magnetization the convolution sees: sublattices are averaged and
// atomic moments become a magnetization of the cell
func (d *Demag) input() func(idx int) r3.Vec {
	m := d.Mesh
	switch {
	case m.M2 != nil:
		return func(idx int) r3.Vec { return r3.Scale(0.5, r3.Add(m.M.Data[idx], m.M2.Data[idx])) }
	case m.Type == mesh.Atomistic:
		s := MUB / m.CellVolume()
		return func(idx int) r3.Vec { return r3.Scale(s, m.M.Data[idx]) }
	}
	return func(idx int) r3.Vec { return m.M.Data[idx] }
}

// convolve adds the demag field into h (and h2) and returns the sum of input.H
func (d *Demag) convolve(h, h2 *grid.VEC3) float64 {
	in := d.input()
	sum := 0.0
	d.conv.apply(d.Mesh.M.Lattice, in, func(idx int, f r3.Vec) {
		h.Data[idx] = r3.Add(h.Data[idx], f)
		if h2 != nil {
			h2.Data[idx] = r3.Add(h2.Data[idx], f)
		}
		sum += r3.Dot(in(idx), f)
	})
	return sum
}

func (d *Demag) finish(sum float64) float64 {
	d.energy = normalize(sum, -MU0/2, d.Mesh.NonEmptyCells())
	return d.energy
}

func (d *Demag) UpdateField() float64 {
	m := d.Mesh
	if d.keepsField() != (d.Hdemag != nil) {
		if err := reinit(d); err != nil {
			return 0
		}
	}
	if d.Hdemag == nil {
		return d.finish(d.convolve(m.Heff, m.Heff2))
	}

	class := mesh.EvalComputeSave
	if m.Stepping != nil && m.Stepping.EvalSpeedup {
		class = m.Stepping.Class
	}
	if class != mesh.EvalReuse || !d.cached {
		if class != mesh.EvalComputeSave && m.Type != mesh.Atomistic {
			// intermediate evaluation: the saved field stays as it was, but no longer counts
			d.cached = false
			return d.finish(d.convolve(m.Heff, m.Heff2))
		}
		d.Hdemag.Zero()
		d.finish(d.convolve(d.Hdemag, nil))
		d.cached = true
	}
	for idx, f := range d.Hdemag.Data {
		if m.M.IsEmpty(idx) {
			continue
		}
		m.Heff.Data[idx] = r3.Add(m.Heff.Data[idx], f)
		if m.Heff2 != nil {
			m.Heff2.Data[idx] = r3.Add(m.Heff2.Data[idx], f)
		}
	}
	return d.energy
}

// Cached reports whether a saved field is available for reuse
func (d *Demag) Cached() bool { return d.cached }

// field returns the current demag field, reusing the saved one when valid
func (d *Demag) field() *grid.VEC3 {
	if d.Hdemag != nil && d.cached {
		return d.Hdemag
	}
	h := grid.NewVEC3Like(d.Mesh.M.Lattice)
	d.convolve(h, nil)
	return h
}

func (d *Demag) density() func(idx int) float64 {
	h := d.field()
	in := d.input()
	return func(idx int) float64 { return -MU0 / 2 * r3.Dot(in(idx), h.Data[idx]) }
}

func (d *Demag) GetEnergyDensity(rel grid.Rect) float64 {
	avg, _ := densityIn(d.Mesh.M.Lattice, rel, d.density())
	return avg
}

func (d *Demag) GetEnergyMax(rel grid.Rect) float64 {
	_, mx := densityIn(d.Mesh.M.Lattice, rel, d.density())
	return mx
}

// ComputeEnergyDensity writes the demag energy density of every cell into out
func (d *Demag) ComputeEnergyDensity(out *grid.Scalar) {
	fillDensity(d.Mesh.M.Lattice, out, d.density())
}

// AtomisticEnergy is the energy in J of moment idx in the last computed demag field
func (d *Demag) AtomisticEnergy(idx int) float64 {
	if d.Hdemag == nil || d.Mesh.M.IsEmpty(idx) {
		return 0
	}
	return -MUB_MU0 / 2 * r3.Dot(d.Mesh.M.Data[idx], d.Hdemag.Data[idx])
}
