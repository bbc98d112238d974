package utils

import (
	"fmt"

	"github.com/notargets/gocca"
)

var deviceProps = map[string]string{
	"OpenMP": `{"mode": "OpenMP"}`,
	"CUDA":   `{"mode": "CUDA", "device_id": 0}`,
	"Serial": `{"mode": "Serial"}`,
}

// CreateDevice creates a Device for the named OCCA mode (OpenMP, CUDA or Serial)
func CreateDevice(mode string) (*gocca.OCCADevice, error) {
	props, ok := deviceProps[mode]
	if !ok {
		return nil, fmt.Errorf("unknown device mode %q", mode)
	}
	device, err := gocca.NewDevice(props)
	if err != nil {
		return nil, fmt.Errorf("creating %s device: %w", mode, err)
	}
	return device, nil
}

// CreateTestDevice creates a Device for testing, preferring parallel backends
func CreateTestDevice() (*gocca.OCCADevice, error) {
	var lastErr error
	for _, mode := range []string{"OpenMP", "CUDA", "Serial"} {
		device, err := CreateDevice(mode)
		if err == nil {
			return device, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no OCCA backend available: %w", lastErr)
}
