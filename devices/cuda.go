//go:build cuda

package devices

import (
	"fmt"

	"gorgonia.org/cu"
)

func discover() ([]Device, error) {
	count, err := cu.NumDevices()
	if err != nil {
		return nil, fmt.Errorf("devices: counting CUDA devices: %w", err)
	}
	found := make([]Device, 0, count)
	for d := 0; d < count; d++ {
		name, err := cu.Device(d).Name()
		if err != nil {
			return nil, fmt.Errorf("devices: naming CUDA device %d: %w", d, err)
		}
		mem, err := cu.Device(d).TotalMem()
		if err != nil {
			return nil, fmt.Errorf("devices: memory of CUDA device %d: %w", d, err)
		}
		found = append(found, Device{Index: d, Name: name, MemoryBytes: int64(mem)})
	}
	return found, nil
}
