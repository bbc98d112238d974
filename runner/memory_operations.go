package runner

import (
	"fmt"
	"unsafe"

	"github.com/wangxisss/Boris2/runner/builder"
	"gonum.org/v1/gonum/spatial/r3"
)

// allocate reserves device memory for spec, replacing a previous array of the same name
func (kr *Runner) allocate(spec builder.ArraySpec) error {
	if spec.Cells != kr.GetTotalElements() {
		return fmt.Errorf("array %s has %d cells, runner partitions cover %d",
			spec.Name, spec.Cells, kr.GetTotalElements())
	}
	if old, ok := kr.PooledMemory[spec.Name]; ok {
		old.Free()
	} else {
		kr.AllocatedArrays = append(kr.AllocatedArrays, spec)
	}
	mem := kr.Device.Malloc(spec.Bytes(), nil, nil)
	if mem == nil {
		return fmt.Errorf("device allocation of %d bytes for %s failed", spec.Bytes(), spec.Name)
	}
	kr.PooledMemory[spec.Name] = mem
	kr.arrayMetadata[spec.Name] = spec
	return nil
}

// AllocateVec3 reserves a vector grid of n cells stored as interleaved x, y, z reals
func (kr *Runner) AllocateVec3(name string, n int) error {
	return kr.allocate(builder.ArraySpec{Name: name, Cells: n, Components: 3, DataType: kr.FloatType})
}

// AllocateScalar reserves a scalar grid of n cells
func (kr *Runner) AllocateScalar(name string, n int) error {
	return kr.allocate(builder.ArraySpec{Name: name, Cells: n, Components: 1, DataType: kr.FloatType})
}

// AllocateFlags reserves a cell flag array of n cells
func (kr *Runner) AllocateFlags(name string, n int) error {
	return kr.allocate(builder.ArraySpec{Name: name, Cells: n, Components: 1, DataType: builder.UINT32})
}

func (kr *Runner) checked(name string, components, n int) (builder.ArraySpec, error) {
	spec, ok := kr.arrayMetadata[name]
	if !ok {
		return spec, fmt.Errorf("array %s not allocated", name)
	}
	if spec.Components != components || spec.Cells != n {
		return spec, fmt.Errorf("array %s holds %d x %d values, host has %d x %d",
			name, spec.Cells, spec.Components, n, components)
	}
	return spec, nil
}

// WriteVec3 copies host vectors to the device array name
func (kr *Runner) WriteVec3(name string, data []r3.Vec) error {
	spec, err := kr.checked(name, 3, len(data))
	if err != nil || len(data) == 0 {
		return err
	}
	mem := kr.PooledMemory[name]
	if spec.DataType == builder.Float64 {
		// r3.Vec is three packed float64 values
		mem.CopyFrom(unsafe.Pointer(&data[0]), spec.Bytes())
		return nil
	}
	buf := make([]float32, 3*len(data))
	for i, v := range data {
		buf[3*i], buf[3*i+1], buf[3*i+2] = float32(v.X), float32(v.Y), float32(v.Z)
	}
	mem.CopyFrom(unsafe.Pointer(&buf[0]), spec.Bytes())
	return nil
}

// ReadVec3 copies the device array name into host vectors
func (kr *Runner) ReadVec3(name string, data []r3.Vec) error {
	spec, err := kr.checked(name, 3, len(data))
	if err != nil || len(data) == 0 {
		return err
	}
	mem := kr.PooledMemory[name]
	if spec.DataType == builder.Float64 {
		mem.CopyTo(unsafe.Pointer(&data[0]), spec.Bytes())
		return nil
	}
	buf := make([]float32, 3*len(data))
	mem.CopyTo(unsafe.Pointer(&buf[0]), spec.Bytes())
	for i := range data {
		data[i] = r3.Vec{X: float64(buf[3*i]), Y: float64(buf[3*i+1]), Z: float64(buf[3*i+2])}
	}
	return nil
}

// WriteScalar copies host values to the device array name
func (kr *Runner) WriteScalar(name string, data []float64) error {
	spec, err := kr.checked(name, 1, len(data))
	if err != nil || len(data) == 0 {
		return err
	}
	mem := kr.PooledMemory[name]
	if spec.DataType == builder.Float64 {
		mem.CopyFrom(unsafe.Pointer(&data[0]), spec.Bytes())
		return nil
	}
	buf := make([]float32, len(data))
	for i, v := range data {
		buf[i] = float32(v)
	}
	mem.CopyFrom(unsafe.Pointer(&buf[0]), spec.Bytes())
	return nil
}

// ReadScalar copies the device array name into host values
func (kr *Runner) ReadScalar(name string, data []float64) error {
	spec, err := kr.checked(name, 1, len(data))
	if err != nil || len(data) == 0 {
		return err
	}
	mem := kr.PooledMemory[name]
	if spec.DataType == builder.Float64 {
		mem.CopyTo(unsafe.Pointer(&data[0]), spec.Bytes())
		return nil
	}
	buf := make([]float32, len(data))
	mem.CopyTo(unsafe.Pointer(&buf[0]), spec.Bytes())
	for i, v := range buf {
		data[i] = float64(v)
	}
	return nil
}

// WriteFlags copies cell flags to the device array name
func (kr *Runner) WriteFlags(name string, flags []uint32) error {
	spec, err := kr.checked(name, 1, len(flags))
	if err != nil || len(flags) == 0 {
		return err
	}
	if spec.DataType != builder.UINT32 {
		return fmt.Errorf("array %s is not a flag array", name)
	}
	kr.PooledMemory[name].CopyFrom(unsafe.Pointer(&flags[0]), spec.Bytes())
	return nil
}
