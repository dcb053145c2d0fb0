// Package devices resolves the accelerators requested for training and describes the host CPU.
package devices

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

var (
	// ErrNoCUDA is returned when GPUs are requested from a binary built without the cuda tag.
	ErrNoCUDA = errors.New("devices: built without CUDA support")

	// ErrNotEnoughDevices is returned when fewer GPUs are present than requested.
	ErrNotEnoughDevices = errors.New("devices: not enough GPUs")

	// ErrInvalidCount is returned for a negative GPU count.
	ErrInvalidCount = errors.New("devices: invalid GPU count")
)

// Device is one resolved accelerator.
type Device struct {
	Index       int
	Name        string
	MemoryBytes int64
}

// CPUInfo describes the host processor.
type CPUInfo struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	AVX2          bool
	AVX512        bool
}

// CPU reports the host processor as seen by cpuid.
func CPU() CPUInfo {
	return CPUInfo{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		AVX512:        cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}
}

// Workers is the default number of goroutines for data-parallel work.
func Workers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Resolve returns the first gpus devices. Zero GPUs means CPU-only training
// and returns an empty slice.
func Resolve(gpus int) ([]Device, error) {
	if gpus < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, gpus)
	}
	if gpus == 0 {
		return nil, nil
	}
	found, err := discover()
	if err != nil {
		return nil, err
	}
	if len(found) < gpus {
		return nil, fmt.Errorf("%w: requested %d, found %d", ErrNotEnoughDevices, gpus, len(found))
	}
	return found[:gpus], nil
}

// Names lists device names, for logging.
func Names(ds []Device) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name
	}
	return names
}
