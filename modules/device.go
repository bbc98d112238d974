package modules

import (
	"github.com/wangxisss/Boris2/faults"
	"github.com/wangxisss/Boris2/mesh"
	"github.com/wangxisss/Boris2/param"
	"github.com/wangxisss/Boris2/runner"
)

// deviceMirror runs one field kernel of a module on the mesh's device. Per-cell
// M.H values land in the scalar array edens and are reduced on the host.
type deviceMirror struct {
	runner *runner.Runner
	kernel string
	edens  string
	buf    []float64
}

func (d *deviceMirror) attach(m *mesh.Mesh, kernel, src string) error {
	d.detach()
	if m.Device == nil {
		return faults.New(m.Name, faults.DeviceUnavailable, "mesh is not in device mode")
	}
	if _, err := m.Device.BuildKernel(src, kernel); err != nil {
		return faults.Wrap(kernel, faults.DeviceUnavailable, err)
	}
	edens := kernel + "_edens"
	if _, ok := m.Device.GetArraySpec(edens); !ok {
		if err := m.Device.AllocateScalar(edens, m.M.Dim()); err != nil {
			return faults.Wrap(kernel, faults.OutOfGPUMemory, err)
		}
	}
	d.runner, d.kernel, d.edens = m.Device, kernel, edens
	d.buf = make([]float64, m.M.Dim())
	return nil
}

func (d *deviceMirror) detach() {
	d.runner = nil
	d.buf = nil
}

// active reports whether the mirror is bound to the mesh's current device
func (d *deviceMirror) active(m *mesh.Mesh) bool {
	return d.runner != nil && d.runner == m.Device
}

// run uploads the mesh, runs the kernel with the given trailing arguments, fetches
// Heff back and returns the sum of M.H over non-empty cells
func (d *deviceMirror) run(m *mesh.Mesh, args ...interface{}) (float64, error) {
	if err := m.DeviceSync(); err != nil {
		return 0, err
	}
	all := append([]interface{}{runner.Arg("M"), runner.Arg("Heff"), runner.Arg("flags"), runner.Arg(d.edens)}, args...)
	if err := d.runner.Run(d.kernel, all...); err != nil {
		return 0, faults.Wrap(d.kernel, faults.DeviceUnavailable, err)
	}
	if err := m.DeviceFetchField(); err != nil {
		return 0, faults.Wrap(d.kernel, faults.DeviceUnavailable, err)
	}
	if err := d.runner.ReadScalar(d.edens, d.buf); err != nil {
		return 0, faults.Wrap(d.kernel, faults.DeviceUnavailable, err)
	}
	sum := 0.0
	for idx, e := range d.buf {
		if m.M.IsNotEmpty(idx) {
			sum += e
		}
	}
	return sum, nil
}

// constant reports parameters the device kernels can take as a single value
func constant(ps ...*param.Scalar) bool {
	for _, p := range ps {
		if !p.IsUniform() || p.IsTempDependent() {
			return false
		}
	}
	return true
}

// Kernels index vectors as interleaved x, y, z reals and walk partitions with
// @outer, cells with @inner. Periodic neighbours wrap; the flags say whether a
// neighbour takes part.

const exchangeKernel = `
@kernel void exchange_field(const real_t *M, real_t *Heff, const flag_t *flags, real_t *edens,
                            const real_t Aconst, const real_t hx, const real_t hy, const real_t hz) {
	for (int part = 0; part < NPART; ++part; @outer) {
		for (int c = 0; c < KpartMax; ++c; @inner) {
			if (c < cell_start[part+1] - cell_start[part]) {
				const int_t idx = CELL(part, c);
				const flag_t f = flags[idx];
				edens[idx] = REAL_ZERO;
				if (f & NOTEMPTY) {
					const int_t pos[3] = {idx % NX, (idx / NX) % NY, idx / NXY};
					const int_t n[3] = {NX, NY, NZ};
					const int_t stride[3] = {1, NX, NXY};
					const flag_t fp[3] = {NPX, NPY, NPZ};
					const flag_t fn[3] = {NNX, NNY, NNZ};
					const flag_t fc[3] = {CMBNDX, CMBNDY, CMBNDZ};
					const real_t h[3] = {hx, hy, hz};
					real_t lap[3] = {REAL_ZERO, REAL_ZERO, REAL_ZERO};
					for (int a = 0; a < 3; ++a) {
						if (f & fc[a]) continue;
						const int_t ip = (pos[a] + 1 < n[a]) ? idx + stride[a] : idx - (n[a] - 1) * stride[a];
						const int_t in = (pos[a] > 0) ? idx - stride[a] : idx + (n[a] - 1) * stride[a];
						const real_t ih2 = REAL_ONE / (h[a] * h[a]);
						for (int q = 0; q < 3; ++q) {
							const real_t v = M[3*idx + q];
							real_t d = REAL_ZERO;
							if (f & fp[a]) d += M[3*ip + q] - v;
							if (f & fn[a]) d += M[3*in + q] - v;
							lap[q] += d * ih2;
						}
					}
					real_t e = REAL_ZERO;
					for (int q = 0; q < 3; ++q) {
						const real_t hq = Aconst * lap[q];
						Heff[3*idx + q] += hq;
						e += M[3*idx + q] * hq;
					}
					edens[idx] = e;
				}
			}
		}
	}
}
`

const zeemanKernel = `
@kernel void zeeman_field(const real_t *M, real_t *Heff, const flag_t *flags, real_t *edens,
                          const real_t Hx, const real_t Hy, const real_t Hz) {
	for (int part = 0; part < NPART; ++part; @outer) {
		for (int c = 0; c < KpartMax; ++c; @inner) {
			if (c < cell_start[part+1] - cell_start[part]) {
				const int_t idx = CELL(part, c);
				edens[idx] = REAL_ZERO;
				if (flags[idx] & NOTEMPTY) {
					Heff[3*idx] += Hx;
					Heff[3*idx + 1] += Hy;
					Heff[3*idx + 2] += Hz;
					edens[idx] = M[3*idx] * Hx + M[3*idx + 1] * Hy + M[3*idx + 2] * Hz;
				}
			}
		}
	}
}
`
