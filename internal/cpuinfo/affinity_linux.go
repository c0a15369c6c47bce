//go:build linux

package cpuinfo

import "golang.org/x/sys/unix"

// affinity fills mask from the scheduler affinity of the calling thread.
func affinity(mask []bool) bool {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return false
	}
	for i := range mask {
		mask[i] = set.IsSet(i)
	}
	return true
}
