// Package cpuinfo discovers which CPUs the process may run on. The allocator
// builds one per-CPU container for each online CPU and none for the others.
package cpuinfo

import "runtime"

// Online returns a mask of length n where true marks a CPU this process may
// run on. If the platform cannot tell, every CPU below n is reported online.
// At least one CPU is always reported online.
func Online(n int) []bool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	mask := make([]bool, n)
	if !affinity(mask) {
		for i := range mask {
			mask[i] = true
		}
	}
	for _, on := range mask {
		if on {
			return mask
		}
	}
	mask[0] = true
	return mask
}

// Count returns the number of true entries in mask.
func Count(mask []bool) int {
	n := 0
	for _, on := range mask {
		if on {
			n++
		}
	}
	return n
}
