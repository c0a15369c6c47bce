//go:build !linux

package cpuinfo

func affinity([]bool) bool { return false }
