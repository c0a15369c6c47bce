package format

// AlignPage returns n aligned up to the next page boundary.
//
// Example:
//
//	AlignPage(1)    = 4096
//	AlignPage(4096) = 4096
//	AlignPage(4097) = 8192
func AlignPage(n int) int {
	return (n + PageMask) & ^PageMask
}

// AlignCacheLine returns n aligned up to the next cache line boundary.
func AlignCacheLine(n int) int {
	return (n + CacheLineMask) & ^CacheLineMask
}
