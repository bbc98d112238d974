package runner

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/wangxisss/Boris2/grid"
	"github.com/wangxisss/Boris2/partitions"
	"github.com/wangxisss/Boris2/runner/builder"
)

// Runner mirrors grids of one lattice on an OCCA device and runs partition-parallel
// kernels over them. Each partition maps to an @outer iteration and its cells to
// @inner iterations.
type Runner struct {
	*builder.Builder
	Device        *gocca.OCCADevice
	Kernels       map[string]*gocca.OCCAKernel
	PooledMemory  map[string]*gocca.OCCAMemory
	arrayMetadata map[string]builder.ArraySpec
}

// NewRunner creates a new Runner instance
func NewRunner(device *gocca.OCCADevice, Config builder.Config) (kr *Runner) {
	if device == nil {
		panic("device cannot be nil")
	}
	bld := builder.NewBuilder(Config)

	if bld.KpartMax > 1048576 { // 2^20 cells
		panic(fmt.Sprintf("KpartMax exceeds 2^20 (1048576), usually caused by too few partitions.\n"+
			"Found KpartMax=%d for partition sizes %v.", bld.KpartMax, bld.K))
	}

	kr = &Runner{
		Builder:       bld,
		Device:        device,
		Kernels:       make(map[string]*gocca.OCCAKernel),
		PooledMemory:  make(map[string]*gocca.OCCAMemory),
		arrayMetadata: make(map[string]builder.ArraySpec),
	}
	return
}

// ForLattice creates a Runner whose partitions follow the lattice's cell layout. The
// lattice dimensions and cell flags are available to kernels as preprocessor constants.
func ForLattice(device *gocca.OCCADevice, l *grid.Lattice, cfg builder.Config) *Runner {
	cfg.K = PartitionSizes(l.Layout)
	defines := LatticeDefines(l)
	for k, v := range cfg.Defines {
		defines[k] = v
	}
	cfg.Defines = defines
	return NewRunner(device, cfg)
}

// PartitionSizes returns the cell count of each partition; partitions must be contiguous
func PartitionSizes(layout *partitions.Layout) []int {
	k := make([]int, layout.NumPartitions)
	next := 0
	for i := range layout.Partitions {
		p := &layout.Partitions[i]
		if p.Start != next || p.End-p.Start != p.NumElements {
			panic(fmt.Sprintf("partition %d is not a contiguous block", p.ID))
		}
		k[i] = p.NumElements
		next = p.End
	}
	return k
}

// LatticeDefines returns the preprocessor constants describing l
func LatticeDefines(l *grid.Lattice) map[string]string {
	d := map[string]string{
		"NX":       fmt.Sprintf("%d", l.N.X),
		"NY":       fmt.Sprintf("%d", l.N.Y),
		"NZ":       fmt.Sprintf("%d", l.N.Z),
		"NXY":      fmt.Sprintf("%d", l.N.X*l.N.Y),
		"NOTEMPTY": fmt.Sprintf("%du", grid.NotEmpty),
	}
	names := []string{"NPX", "NNX", "NPY", "NNY", "NPZ", "NNZ"}
	for a := 0; a < 3; a++ {
		d[names[2*a]] = fmt.Sprintf("%du", grid.NeighbourFlag(a, true))
		d[names[2*a+1]] = fmt.Sprintf("%du", grid.NeighbourFlag(a, false))
	}
	d["CMBNDX"] = fmt.Sprintf("%du", grid.CMBNDX)
	d["CMBNDY"] = fmt.Sprintf("%du", grid.CMBNDY)
	d["CMBNDZ"] = fmt.Sprintf("%du", grid.CMBNDZ)
	return d
}

// BuildKernel compiles and registers a kernel with the program
func (kr *Runner) BuildKernel(kernelSource, kernelName string) (*gocca.OCCAKernel, error) {
	kr.GeneratePreamble()

	fullSource := kr.KernelPreamble + "\n" + kernelSource

	var kernel *gocca.OCCAKernel
	var err error

	if kr.Device.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, props)
	} else {
		kernel, err = kr.Device.BuildKernelFromString(fullSource, kernelName, nil)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", kernelName, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", kernelName)
	}
	if old, ok := kr.Kernels[kernelName]; ok {
		old.Free()
	}
	kr.Kernels[kernelName] = kernel
	return kernel, nil
}

// HasKernel reports whether kernelName has been built
func (kr *Runner) HasKernel(kernelName string) bool {
	_, ok := kr.Kernels[kernelName]
	return ok
}

// GetArraySpec returns the allocation record of a named array
func (kr *Runner) GetArraySpec(name string) (builder.ArraySpec, bool) {
	spec, ok := kr.arrayMetadata[name]
	return spec, ok
}

// GetMemory returns the device memory for a named array
func (kr *Runner) GetMemory(name string) *gocca.OCCAMemory {
	return kr.PooledMemory[name]
}

// Free releases all resources
func (kr *Runner) Free() {
	for _, kernel := range kr.Kernels {
		kernel.Free()
	}
	for _, mem := range kr.PooledMemory {
		mem.Free()
	}
	kr.Kernels = make(map[string]*gocca.OCCAKernel)
	kr.PooledMemory = make(map[string]*gocca.OCCAMemory)
	kr.arrayMetadata = make(map[string]builder.ArraySpec)
	kr.AllocatedArrays = nil
}
