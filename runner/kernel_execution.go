package runner

import (
	"fmt"

	"github.com/notargets/gocca"
	"github.com/wangxisss/Boris2/runner/builder"
)

// Arg names a pooled array in a kernel argument list
type Arg string

// Run executes a built kernel. Arg values are resolved to pooled device arrays, float64
// values are converted to real_t and int values to int_t; anything else is passed
// through unchanged. The call waits for the device to finish.
func (kr *Runner) Run(kernelName string, args ...interface{}) error {
	kernel, exists := kr.Kernels[kernelName]
	if !exists {
		return fmt.Errorf("kernel %s not compiled - use BuildKernel first", kernelName)
	}
	kargs, err := kr.buildKernelArguments(args)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", kernelName, err)
	}
	if err := kernel.RunWithArgs(kargs...); err != nil {
		return fmt.Errorf("kernel execution failed: %w", err)
	}
	kr.Device.Finish()
	return nil
}

func (kr *Runner) buildKernelArguments(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case Arg:
			mem, ok := kr.PooledMemory[string(v)]
			if !ok {
				return nil, fmt.Errorf("memory for %s not found", v)
			}
			out = append(out, mem)
		case *gocca.OCCAMemory:
			out = append(out, v)
		case float64:
			out = append(out, kr.Real(v))
		case int:
			out = append(out, kr.Int(v))
		default:
			out = append(out, a)
		}
	}
	return out, nil
}

// Real converts v to the device real_t
func (kr *Runner) Real(v float64) interface{} {
	if kr.FloatType == builder.Float32 {
		return float32(v)
	}
	return v
}

// Int converts v to the device int_t
func (kr *Runner) Int(v int) interface{} {
	if kr.IntType == builder.INT32 {
		return int32(v)
	}
	return int64(v)
}
