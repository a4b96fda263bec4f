package resource

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Unit sizes used by HostCapacity.
const (
	BytesPerMemoryUnit = 1 << 20 // one memory unit is a MiB
	CPUUnitsPerCore    = 1000    // one cpu unit is a millicore
)

// HostCapacity sizes a capacity from the machine: total memory in MiB and
// logical cores in millicores. Slots are left unbounded.
func HostCapacity() (Capacity, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Capacity{}, fmt.Errorf("reading host memory: %w", err)
	}

	cores, err := cpu.Counts(true)
	if err != nil {
		return Capacity{}, fmt.Errorf("reading host cpu count: %w", err)
	}

	if cores < 1 {
		cores = 1
	}

	return Capacity{
		MemoryUnits: int64(vm.Total / BytesPerMemoryUnit),
		CPUUnits:    int64(cores) * CPUUnitsPerCore,
	}, nil
}

// Resolve fills zero memory or cpu with the host's capacity.
func Resolve(c Capacity) (Capacity, error) {
	if c.MemoryUnits > 0 && c.CPUUnits > 0 {
		return c, nil
	}

	host, err := HostCapacity()
	if err != nil {
		return c, err
	}

	if c.MemoryUnits <= 0 {
		c.MemoryUnits = host.MemoryUnits
	}

	if c.CPUUnits <= 0 {
		c.CPUUnits = host.CPUUnits
	}

	return c, nil
}
