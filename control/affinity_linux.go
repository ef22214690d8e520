//go:build linux

package control

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// availableCPUs returns the CPU ids in the process's current affinity
// mask, ascending. Worker k is pinned to the k-th entry, so the number of
// configured workers must not exceed len(availableCPUs()).
func availableCPUs() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("control: reading process CPU affinity: %w", err)
	}
	var cpus []int
	for cpu := 0; len(cpus) < set.Count(); cpu++ {
		if set.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("control: process affinity mask selects no CPUs")
	}
	return cpus, nil
}

// pinToCPU locks the calling goroutine to its current OS thread and
// restricts that thread to a single CPU. It must be called from the
// goroutine that will run the worker loop, before entering it.
func pinToCPU(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(unix.Gettid(), &set)
}
